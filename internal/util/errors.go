package util

import "errors"

var (
	// ErrIngestionConflict marks a document whose file hash is already
	// stored; re-ingestion of that document is a no-op.
	ErrIngestionConflict = errors.New("document already ingested")

	ErrNoExtractableText = errors.New("no extractable text found in PDF")

	// ErrExtractorUnavailable covers embedding or entity extraction
	// failures. A single retrieval path degrades on it; the whole query
	// fails only when both paths hit it.
	ErrExtractorUnavailable = errors.New("embedding/entity extractor unavailable")

	// ErrIndexUnavailable fails the whole retrieval; there is no partial
	// result without the vector index.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrGenerationFailure fails the whole query; a draft-only answer is
	// never returned as final.
	ErrGenerationFailure = errors.New("answer generation failed")

	// ErrRecompilationFailure leaves the previously active prompt program
	// in place.
	ErrRecompilationFailure = errors.New("prompt program recompilation failed")
)
