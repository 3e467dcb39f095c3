package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"docintel/internal/config"
	"docintel/internal/feedback"
	"docintel/internal/models"
	"docintel/internal/providers"
	"docintel/internal/reasoning"
	"docintel/internal/retrieval"
	"docintel/internal/storage"
	"docintel/internal/util"
	"docintel/internal/vector"
	"docintel/internal/workflows"
)

const citationSnippetRunes = 300

type queryRetriever interface {
	Retrieve(ctx context.Context, query string) (retrieval.Result, error)
}

type answerGenerator interface {
	Answer(ctx context.Context, question string, contextTexts []string) (reasoning.Answer, error)
}

type programCompiler interface {
	Compile(ctx context.Context, trainset []models.TrainingSample) (*reasoning.CompiledProgram, error)
}

type documentLister interface {
	ListDocuments(ctx context.Context) ([]models.Document, error)
}

type answerStore interface {
	InsertAnswer(ctx context.Context, rec models.AnswerRecord) error
	GetAnswersByIDs(ctx context.Context, ids []string) ([]models.AnswerRecord, error)
}

type Server struct {
	cfg       config.Config
	retriever queryRetriever
	generator answerGenerator
	optimizer programCompiler
	cache     *reasoning.Cache
	feedback  *feedback.Store
	answers   answerStore
	documents documentLister
	chunks    retrieval.ChunkStore
	temporal  tclient.Client
	log       *zap.Logger
}

func NewServer(cfg config.Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		panic(err)
	}
	pm, err := providers.NewManager(cfg)
	if err != nil {
		panic(err)
	}
	tc, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		panic(err)
	}

	chunkRepo := storage.NewChunkRepo(db)
	index := vector.NewPGIndex(db.Pool, cfg.EmbedVersion)
	retr := retrieval.NewRetriever(index, chunkRepo, pm.FirstEmbedProvider(), pm.FirstEntityProvider(), retrieval.Config{
		SemanticTopK:   cfg.SemanticTopK,
		ExpandTopK:     cfg.SemanticExpandTopK,
		TwoHop:         cfg.SemanticTwoHop,
		EntityPoolK:    cfg.EntityPoolK,
		EntityKeep:     cfg.EntityKeep,
		MinChunks:      cfg.MinChunks,
		MaxChunks:      cfg.MaxChunks,
		PathTimeout:    time.Duration(cfg.PathTimeoutSecs) * time.Second,
		EmbedDimension: cfg.EmbedDim,
	}, log)

	programStore := reasoning.NewStore(cfg.ProgramDir)
	cache := reasoning.NewCache(programStore, log)

	llm, llmRef := pm.LLMProviderByIndex(pm.PreferredLLMOrder()[0])
	log.Info("llm provider selected", zap.String("provider", llmRef.Name))

	return &Server{
		cfg:       cfg,
		retriever: retr,
		generator: reasoning.NewGenerator(llm, cache, log),
		optimizer: reasoning.NewOptimizer(llm, programStore, log),
		cache:     cache,
		feedback:  feedback.NewStore(cfg.FeedbackPath),
		answers:   storage.NewAnswerRepo(db),
		documents: storage.NewDocumentRepo(db),
		chunks:    chunkRepo,
		temporal:  tc,
		log:       log,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ask", s.handleAsk)
	mux.HandleFunc("/retrieve", s.handleRetrieve)
	mux.HandleFunc("/feedback", s.handleFeedback)
	mux.HandleFunc("/feedback/stats", s.handleFeedbackStats)
	mux.HandleFunc("/recompile", s.handleRecompile)
	mux.HandleFunc("/ingest", s.handleIngest)
	mux.HandleFunc("/ingest/progress", s.handleIngestProgress)
	mux.HandleFunc("/documents", s.handleDocuments)
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "program_version": s.cache.Active().Version})
}

type citation struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	PageNumber int     `json:"page_number"`
	Snippet    string  `json:"snippet"`
	Distance   float64 `json:"distance"`
	Source     string  `json:"source"`
}

func toCitations(chunks []models.RetrievedChunk) []citation {
	out := make([]citation, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, citation{
			ChunkID:    c.ChunkID,
			DocumentID: c.DocumentID,
			PageNumber: c.PageNumber,
			Snippet:    util.DisplaySnippet(c.Text, citationSnippetRunes),
			Distance:   c.Distance,
			Source:     c.Source,
		})
	}
	return out
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return
	}

	res, err := s.retriever.Retrieve(r.Context(), req.Question)
	if err != nil {
		writeErr(w, statusForError(err), err)
		return
	}
	contextTexts := make([]string, 0, len(res.Chunks))
	chunkIDs := make([]string, 0, len(res.Chunks))
	for _, c := range res.Chunks {
		contextTexts = append(contextTexts, c.Text)
		chunkIDs = append(chunkIDs, c.ChunkID)
	}

	ans, err := s.generator.Answer(r.Context(), req.Question, contextTexts)
	if err != nil {
		writeErr(w, statusForError(err), err)
		return
	}

	rec := models.AnswerRecord{
		AnswerID:        uuid.NewString(),
		Question:        req.Question,
		DraftAnswer:     ans.Draft,
		VerifiedAnswer:  ans.Verified,
		ContextChunkIDs: chunkIDs,
		ProgramVersion:  ans.ProgramVersion,
	}
	if err := s.answers.InsertAnswer(r.Context(), rec); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"answer_record_id": rec.AnswerID,
		"question":         req.Question,
		"answer":           ans.Verified,
		"program_version":  ans.ProgramVersion,
		"below_minimum":    res.BelowMinimum,
		"context_used":     contextTexts,
		"citations":        toCitations(res.Chunks),
	})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		Query     string `json:"query"`
		MaxChunks int    `json:"max_chunks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("query is required"))
		return
	}

	res, err := s.retriever.Retrieve(r.Context(), req.Query)
	if err != nil {
		writeErr(w, statusForError(err), err)
		return
	}
	if req.MaxChunks > 0 && len(res.Chunks) > req.MaxChunks {
		res.Chunks = res.Chunks[:req.MaxChunks]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":          res.Query,
		"semantic_count": res.SemanticCount,
		"entity_count":   res.EntityCount,
		"below_minimum":  res.BelowMinimum,
		"citations":      toCitations(res.Chunks),
	})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		AnswerRecordID string `json:"answer_record_id"`
		CorrectionText string `json:"correction_text"`
		Accepted       bool   `json:"accepted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if strings.TrimSpace(req.AnswerRecordID) == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("answer_record_id is required"))
		return
	}
	if err := s.feedback.Append(models.FeedbackRecord{
		AnswerRecordID: req.AnswerRecordID,
		CorrectionText: strings.TrimSpace(req.CorrectionText),
		Accepted:       req.Accepted,
		SubmittedAt:    time.Now().UTC(),
	}); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"recorded": true})
}

// handleFeedbackStats reports accumulated feedback volume against the
// recompilation threshold. Crossing the threshold is advisory only;
// recompilation always requires an explicit POST /recompile.
func (s *Server) handleFeedbackStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	active := s.cache.Active()
	count, err := s.feedback.CountSince(active.CreatedAt)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"program_version":       active.Version,
		"feedback_since_active": count,
		"threshold":             s.cfg.FeedbackThreshold,
		"recompile_recommended": count >= s.cfg.FeedbackThreshold,
	})
}

func (s *Server) handleRecompile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}

	trainset, err := s.assembleTrainset(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	program, err := s.optimizer.Compile(r.Context(), trainset)
	if err != nil {
		// The previously active program stays in place.
		writeErr(w, statusForError(err), err)
		return
	}
	s.cache.Swap(program)
	writeJSON(w, http.StatusOK, map[string]any{
		"program_version": program.Version,
		"trained_on":      program.TrainedOn,
		"score":           program.Score,
	})
}

// assembleTrainset merges the curated sample file with accepted
// feedback, resolving each feedback record back to its answer and
// context chunks.
func (s *Server) assembleTrainset(ctx context.Context) ([]models.TrainingSample, error) {
	curated, err := reasoning.LoadTrainingSamples(s.cfg.TrainingSamplesPath)
	if err != nil {
		return nil, err
	}
	accepted, err := s.feedback.Accepted()
	if err != nil {
		return nil, err
	}
	if len(accepted) == 0 {
		return curated, nil
	}

	ids := make([]string, 0, len(accepted))
	correction := make(map[string]string, len(accepted))
	for _, f := range accepted {
		ids = append(ids, f.AnswerRecordID)
		if f.CorrectionText != "" {
			correction[f.AnswerRecordID] = f.CorrectionText
		}
	}
	records, err := s.answers.GetAnswersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	derived := make([]models.TrainingSample, 0, len(records))
	for _, rec := range records {
		chunks, err := s.chunks.GetByIDs(ctx, rec.ContextChunkIDs)
		if err != nil {
			return nil, err
		}
		contextTexts := make([]string, 0, len(chunks))
		for _, c := range chunks {
			contextTexts = append(contextTexts, c.Text)
		}
		answer := rec.VerifiedAnswer
		if corrected, ok := correction[rec.AnswerID]; ok {
			answer = corrected
		}
		derived = append(derived, models.TrainingSample{
			Question: rec.Question,
			Context:  contextTexts,
			Answer:   answer,
		})
	}
	return reasoning.MergeSamples(curated, derived), nil
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		RunID    string `json:"run_id"`
		InputDir string `json:"input_dir"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if strings.TrimSpace(req.RunID) == "" {
		req.RunID = uuid.NewString()
	}
	if strings.TrimSpace(req.InputDir) == "" {
		req.InputDir = s.cfg.DataInRoot
	}

	wfID := "ingest-" + req.RunID
	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:                                       wfID,
		TaskQueue:                                s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.CorpusIngestWorkflow, workflows.CorpusIngestInput{
		RunID:                 req.RunID,
		InputDir:              req.InputDir,
		ChunkSize:             s.cfg.ChunkSize,
		ChunkOverlap:          s.cfg.ChunkOverlap,
		MaxConcurrentChildren: s.cfg.IngestMaxChildren,
	})
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":      req.RunID,
		"workflow_id": we.GetID(),
		"temporal_run": we.GetRunID(),
	})
}

func (s *Server) handleIngestProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	runID := strings.TrimSpace(r.URL.Query().Get("run_id"))
	if runID == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("run_id is required"))
		return
	}

	resp, err := s.temporal.QueryWorkflow(r.Context(), "ingest-"+runID, "", workflows.QueryGetProgress)
	if err != nil {
		// No live workflow to query; derive coarse progress from the DB.
		docs, dErr := s.documents.ListDocuments(r.Context())
		if dErr != nil {
			writeErr(w, http.StatusInternalServerError, dErr)
			return
		}
		per := make(map[string]string, len(docs))
		done, failed := 0, 0
		for _, d := range docs {
			per[d.Filename] = d.Status
			switch d.Status {
			case workflows.StatusIngested:
				done++
			case workflows.StatusFailed:
				failed++
			}
		}
		writeJSON(w, http.StatusOK, workflows.CorpusIngestProgress{
			RunID:       runID,
			Total:       len(docs),
			Done:        done,
			Failed:      failed,
			PerDocument: per,
		})
		return
	}
	var prog workflows.CorpusIngestProgress
	if err := resp.Get(&prog); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	docs, err := s.documents.ListDocuments(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// statusForError maps domain sentinels to HTTP statuses: unavailable
// retrieval dependencies are 503, generation failures 502.
func statusForError(err error) int {
	switch {
	case errors.Is(err, util.ErrIndexUnavailable), errors.Is(err, util.ErrExtractorUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, util.ErrGenerationFailure):
		return http.StatusBadGateway
	case errors.Is(err, util.ErrRecompilationFailure):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status == http.StatusServiceUnavailable:
		if strings.Contains(raw, "extractor") {
			return apiError{Code: "DI-RET-5031", Message: "Entity and embedding extraction are unavailable. Retry shortly."}
		}
		return apiError{Code: "DI-RET-5030", Message: "The vector index is unavailable. Retry shortly."}
	case status == http.StatusBadGateway:
		return apiError{Code: "DI-GEN-5020", Message: "Answer generation failed. No partial answer is available; retry the question."}
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{Code: "DI-DB-5001", Message: "Database schema is not initialized. Run migrations and retry."}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{Code: "DI-DB-5002", Message: "Database connection is unavailable. Check local services and retry."}
		case strings.Contains(raw, "recompilation"):
			return apiError{Code: "DI-OPT-5001", Message: "Prompt recompilation failed; the previous program remains active."}
		default:
			return apiError{Code: "DI-API-5000", Message: "Internal server error. Please retry or check service logs."}
		}
	case status == http.StatusBadRequest:
		msg := "Invalid request. Check inputs and retry."
		switch {
		case strings.Contains(raw, "question is required"):
			msg = "A question is required."
		case strings.Contains(raw, "query is required"):
			msg = "A query is required."
		case strings.Contains(raw, "answer_record_id is required"):
			msg = "answer_record_id is required."
		case strings.Contains(raw, "run_id is required"):
			msg = "run_id is required."
		case strings.Contains(raw, "invalid json"):
			msg = "Malformed JSON request body."
		}
		return apiError{Code: "DI-API-4001", Message: msg}
	case status == http.StatusNotFound:
		return apiError{Code: "DI-API-4004", Message: "Requested resource was not found."}
	case status == http.StatusConflict:
		return apiError{Code: "DI-API-4009", Message: "Operation conflicts with current state. Retry after checking status."}
	case status == http.StatusMethodNotAllowed:
		return apiError{Code: "DI-API-4005", Message: "This endpoint does not support the requested method."}
	default:
		return apiError{Code: "DI-API-4000", Message: "Request failed."}
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
