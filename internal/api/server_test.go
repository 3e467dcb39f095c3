package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docintel/internal/config"
	"docintel/internal/feedback"
	"docintel/internal/models"
	"docintel/internal/reasoning"
	"docintel/internal/retrieval"
	"docintel/internal/util"
)

type stubRetriever struct {
	result retrieval.Result
	err    error
}

func (s *stubRetriever) Retrieve(ctx context.Context, query string) (retrieval.Result, error) {
	if s.err != nil {
		return retrieval.Result{}, s.err
	}
	res := s.result
	res.Query = query
	return res, nil
}

type stubGenerator struct {
	answer reasoning.Answer
	err    error
}

func (s *stubGenerator) Answer(ctx context.Context, question string, contextTexts []string) (reasoning.Answer, error) {
	if s.err != nil {
		return reasoning.Answer{}, s.err
	}
	return s.answer, nil
}

type stubOptimizer struct {
	program *reasoning.CompiledProgram
	err     error
}

func (s *stubOptimizer) Compile(ctx context.Context, trainset []models.TrainingSample) (*reasoning.CompiledProgram, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.program, nil
}

type memAnswerStore struct {
	inserted []models.AnswerRecord
}

func (m *memAnswerStore) InsertAnswer(ctx context.Context, rec models.AnswerRecord) error {
	m.inserted = append(m.inserted, rec)
	return nil
}

func (m *memAnswerStore) GetAnswersByIDs(ctx context.Context, ids []string) ([]models.AnswerRecord, error) {
	out := make([]models.AnswerRecord, 0)
	for _, id := range ids {
		for _, rec := range m.inserted {
			if rec.AnswerID == id {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

type memDocumentLister struct {
	docs []models.Document
}

func (m *memDocumentLister) ListDocuments(ctx context.Context) ([]models.Document, error) {
	return m.docs, nil
}

type memChunkStore struct {
	chunks map[string]models.Chunk
}

func (m *memChunkStore) GetByIDs(ctx context.Context, ids []string) ([]models.Chunk, error) {
	out := make([]models.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func newTestServer(t *testing.T) (*Server, *memAnswerStore) {
	t.Helper()
	dir := t.TempDir()
	answers := &memAnswerStore{}
	s := &Server{
		cfg: config.Config{
			FeedbackThreshold:   2,
			TrainingSamplesPath: filepath.Join(dir, "training_samples.json"),
		},
		retriever: &stubRetriever{result: retrieval.Result{
			Chunks: []models.RetrievedChunk{
				{Chunk: models.Chunk{ChunkID: "c1", DocumentID: "d1", PageNumber: 2, Text: "The late fee is $20."}, Distance: 0.12, Source: models.SourceSemantic},
			},
			SemanticCount: 1,
		}},
		generator: &stubGenerator{answer: reasoning.Answer{Draft: "draft", Verified: "The late fee is $20.", ProgramVersion: "baseline"}},
		optimizer: &stubOptimizer{program: &reasoning.CompiledProgram{Version: "compiled_v1", TrainedOn: 2, Score: 0.8}},
		cache:     reasoning.NewCache(reasoning.NewStore(filepath.Join(dir, "programs")), nil),
		feedback:  feedback.NewStore(filepath.Join(dir, "feedback.jsonl")),
		answers:   answers,
		documents: &memDocumentLister{},
		chunks:    &memChunkStore{chunks: map[string]models.Chunk{}},
	}
	return s, answers
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAskReturnsVerifiedAnswerAndRecordsIt(t *testing.T) {
	s, answers := newTestServer(t)
	rr := postJSON(t, s.Routes(), "/ask", map[string]string{"question": "What is the late fee?"})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		AnswerRecordID string   `json:"answer_record_id"`
		Answer         string   `json:"answer"`
		ProgramVersion string   `json:"program_version"`
		BelowMinimum   bool     `json:"below_minimum"`
		ContextUsed    []string `json:"context_used"`
		Citations      []struct {
			ChunkID string `json:"chunk_id"`
			Source  string `json:"source"`
		} `json:"citations"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AnswerRecordID)
	assert.Equal(t, "The late fee is $20.", resp.Answer)
	assert.Equal(t, "baseline", resp.ProgramVersion)
	// The full chunk texts travel with the answer, in retrieval order.
	assert.Equal(t, []string{"The late fee is $20."}, resp.ContextUsed)
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "c1", resp.Citations[0].ChunkID)

	require.Len(t, answers.inserted, 1)
	rec := answers.inserted[0]
	assert.Equal(t, resp.AnswerRecordID, rec.AnswerID)
	assert.Equal(t, "draft", rec.DraftAnswer)
	assert.Equal(t, []string{"c1"}, rec.ContextChunkIDs)
}

func TestAskEmptyQuestionIsBadRequest(t *testing.T) {
	s, _ := newTestServer(t)
	rr := postJSON(t, s.Routes(), "/ask", map[string]string{"question": "  "})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAskIndexUnavailableIs503(t *testing.T) {
	s, _ := newTestServer(t)
	s.retriever = &stubRetriever{err: fmt.Errorf("%w: search: dial tcp", util.ErrIndexUnavailable)}

	rr := postJSON(t, s.Routes(), "/ask", map[string]string{"question": "q"})
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "DI-RET-5030")
}

func TestAskGenerationFailureIs502(t *testing.T) {
	s, answers := newTestServer(t)
	s.generator = &stubGenerator{err: fmt.Errorf("%w: verify stage: boom", util.ErrGenerationFailure)}

	rr := postJSON(t, s.Routes(), "/ask", map[string]string{"question": "q"})
	require.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, rr.Body.String(), "DI-GEN-5020")
	// A failed query never leaves a partial answer record behind.
	assert.Empty(t, answers.inserted)
}

func TestRetrieveReportsPathCounts(t *testing.T) {
	s, _ := newTestServer(t)
	rr := postJSON(t, s.Routes(), "/retrieve", map[string]string{"query": "late fee"})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		SemanticCount int  `json:"semantic_count"`
		EntityCount   int  `json:"entity_count"`
		BelowMinimum  bool `json:"below_minimum"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.SemanticCount)
}

func TestFeedbackStatsThresholdIsAdvisory(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Routes()

	for i := 0; i < 3; i++ {
		rr := postJSON(t, h, "/feedback", map[string]any{
			"answer_record_id": fmt.Sprintf("a%d", i),
			"accepted":         true,
		})
		require.Equal(t, http.StatusAccepted, rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/feedback/stats", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		FeedbackSinceActive  int    `json:"feedback_since_active"`
		Threshold            int    `json:"threshold"`
		RecompileRecommended bool   `json:"recompile_recommended"`
		ProgramVersion       string `json:"program_version"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.FeedbackSinceActive)
	assert.True(t, resp.RecompileRecommended)
	// Crossing the threshold must not have swapped the program.
	assert.Equal(t, reasoning.BaselineVersion, resp.ProgramVersion)
}

func TestRecompileSwapsProgramOnSuccess(t *testing.T) {
	s, answers := newTestServer(t)
	answers.inserted = append(answers.inserted, models.AnswerRecord{
		AnswerID:        "a1",
		Question:        "What is the late fee?",
		VerifiedAnswer:  "It is $20.",
		ContextChunkIDs: []string{"c1"},
		CreatedAt:       time.Now().UTC(),
	})
	require.NoError(t, s.feedback.Append(models.FeedbackRecord{AnswerRecordID: "a1", Accepted: true}))

	rr := postJSON(t, s.Routes(), "/recompile", map[string]any{})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "compiled_v1", s.cache.Active().Version)
}

func TestRecompileFailureLeavesActiveProgram(t *testing.T) {
	s, _ := newTestServer(t)
	s.optimizer = &stubOptimizer{err: fmt.Errorf("%w: empty training set", util.ErrRecompilationFailure)}

	rr := postJSON(t, s.Routes(), "/recompile", map[string]any{})
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "DI-OPT-5001")
	assert.Equal(t, reasoning.BaselineVersion, s.cache.Active().Version)
}

func TestDocumentsLists(t *testing.T) {
	s, _ := newTestServer(t)
	s.documents = &memDocumentLister{docs: []models.Document{{DocumentID: "d1", Filename: "a.pdf", Status: "ingested"}}}

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "a.pdf")
}
