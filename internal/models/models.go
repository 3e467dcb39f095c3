package models

import "time"

// Entity type keys used in Chunk.Entities and query extraction results.
// Values under each key are lowercase-normalized at extraction time.
const (
	EntityPerson       = "person"
	EntityLocation     = "location"
	EntityOrganization = "organization"
	EntityDate         = "date"
	EntityOther        = "other"
)

// Provenance tags for retrieved chunks.
const (
	SourceSemantic = "semantic"
	SourceEntity   = "entity"
	SourceBoth     = "semantic+entity"
)

// Document tracks the ingestion lifecycle of a single uploaded file.
// FileHash is unique at the document level: a file whose hash is already
// present is skipped entirely on re-ingestion.
type Document struct {
	DocumentID string    `json:"document_id"`
	FileHash   string    `json:"file_hash"`
	Filename   string    `json:"filename"`
	Route      string    `json:"route,omitempty"`
	Pages      int       `json:"pages"`
	Status     string    `json:"status"`
	FailReason string    `json:"fail_reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Chunk is a page-sized unit of a document, immutable once written.
type Chunk struct {
	ChunkID          string              `json:"chunk_id"`
	DocumentID       string              `json:"document_id"`
	FileHash         string              `json:"file_hash"`
	PageNumber       int                 `json:"page_number"`
	Text             string              `json:"text"`
	Embedding        []float32           `json:"embedding,omitempty"`
	Entities         map[string][]string `json:"entities,omitempty"`
	EmbeddingVersion string              `json:"embedding_version"`
	CreatedAt        time.Time           `json:"created_at"`
}

// RetrievedChunk is a Chunk annotated with its distance to the query
// embedding (lower is more similar) and the retrieval path(s) that found it.
type RetrievedChunk struct {
	Chunk
	Distance float64 `json:"distance"`
	Source   string  `json:"source"`
}

// AnswerRecord is created once per answered query and never mutated.
type AnswerRecord struct {
	AnswerID        string    `json:"answer_id"`
	Question        string    `json:"question"`
	DraftAnswer     string    `json:"draft_answer"`
	VerifiedAnswer  string    `json:"verified_answer"`
	ContextChunkIDs []string  `json:"context_chunk_ids"`
	ProgramVersion  string    `json:"program_version"`
	CreatedAt       time.Time `json:"created_at"`
}

// FeedbackRecord is one line of the append-only feedback log.
type FeedbackRecord struct {
	AnswerRecordID string    `json:"answer_record_id"`
	CorrectionText string    `json:"correction_text,omitempty"`
	Accepted       bool      `json:"accepted"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// TrainingSample is one labeled (question, context, answer) triple used by
// the offline prompt optimizer.
type TrainingSample struct {
	Question string   `json:"question"`
	Context  []string `json:"context"`
	Answer   string   `json:"answer"`
}
