package activities

import "docintel/internal/ingest"

type ListPDFsInput struct {
	InputDir string
}

type ListPDFsOutput struct {
	Paths []string
}

type ComputeFileHashInput struct {
	Path string
}

type ComputeFileHashOutput struct {
	FileHash string
}

type CheckDuplicateInput struct {
	FileHash string
}

type CheckDuplicateOutput struct {
	Duplicate bool
}

type UpsertDocumentInput struct {
	DocumentID string
	FileHash   string
	Filename   string
	Route      string
	Pages      int
	Status     string
	FailReason string
}

type RouteConversionInput struct {
	Path string
}

type RouteConversionOutput struct {
	Route      string
	HasTables  bool
	Confidence float64
}

type ConvertDocumentInput struct {
	Path  string
	Route string
}

type ConvertDocumentOutput struct {
	Pages []ingest.Page
}

// ChunkPayload carries one chunk through the pipeline before storage.
type ChunkPayload struct {
	ChunkID    string
	PageNumber int
	Text       string
}

type ChunkPagesInput struct {
	DocumentID   string
	Pages        []ingest.Page
	ChunkSize    int
	ChunkOverlap int
}

type ChunkPagesOutput struct {
	Chunks []ChunkPayload
}

type ExtractEntitiesInput struct {
	Chunks []ChunkPayload
}

type ExtractEntitiesOutput struct {
	// Entities is aligned by index with the input chunks.
	Entities     []map[string][]string
	ProviderName string
}

type EmbedChunksInput struct {
	Operation     string
	DocumentID    string
	Chunks        []ChunkPayload
	ProviderIndex int
}

type EmbedChunksOutput struct {
	Vectors      [][]float32
	ProviderName string
	Model        string
	// EmbeddingVersion identifies the vector space the chunks landed in.
	// It only equals the configured version when the primary provider
	// produced the vectors.
	EmbeddingVersion string
}

type InsertChunksInput struct {
	DocumentID       string
	FileHash         string
	Chunks           []ChunkPayload
	Entities         []map[string][]string
	Vectors          [][]float32
	EmbeddingVersion string
}

type WriteDocumentArtifactsInput struct {
	DocumentID string
	Metadata   map[string]any
	Chunks     []ChunkPayload
}

type WriteIngestSummaryInput struct {
	RunID   string
	Summary map[string]any
}
