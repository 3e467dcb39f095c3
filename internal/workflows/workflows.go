package workflows

import (
	"path/filepath"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"docintel/internal/activities"
)

const (
	QueryGetProgress       = "GetProgress"
	QueryGetDocumentStatus = "GetDocumentStatus"

	StatusIngested = "ingested"
	StatusSkipped  = "skipped"
	StatusFailed   = "failed"
)

func CorpusIngestWorkflow(ctx workflow.Context, input CorpusIngestInput) (string, error) {
	progress := CorpusIngestProgress{
		RunID:         input.RunID,
		PerDocument:   map[string]string{},
		ChildWorkflow: map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (CorpusIngestProgress, error) {
		return progress, nil
	}); err != nil {
		return "", err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var listOut activities.ListPDFsOutput
	if err := workflow.ExecuteActivity(ctx, "ListPDFsActivity", activities.ListPDFsInput{InputDir: input.InputDir}).Get(ctx, &listOut); err != nil {
		return "", err
	}
	paths := listOut.Paths
	progress.Total = len(paths)

	maxChildren := input.MaxConcurrentChildren
	if maxChildren <= 0 {
		maxChildren = 3
	}

	for i := 0; i < len(paths); i += maxChildren {
		end := i + maxChildren
		if end > len(paths) {
			end = len(paths)
		}
		futures := make([]workflow.ChildWorkflowFuture, 0, end-i)
		childPaths := make([]string, 0, end-i)
		for _, path := range paths[i:end] {
			progress.PerDocument[path] = "processing"
			workflowID := "doc-" + sanitizeID(input.RunID) + "-" + sanitizeID(filepath.Base(path))
			childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{WorkflowID: workflowID})
			f := workflow.ExecuteChildWorkflow(childCtx, DocumentIngestWorkflow, DocumentIngestInput{
				RunID:        input.RunID,
				Path:         path,
				ChunkSize:    input.ChunkSize,
				ChunkOverlap: input.ChunkOverlap,
			})
			futures = append(futures, f)
			childPaths = append(childPaths, path)
			progress.ChildWorkflow[path] = workflowID
		}

		for idx, f := range futures {
			var childStatus string
			err := f.Get(ctx, &childStatus)
			path := childPaths[idx]
			if err != nil {
				progress.Failed++
				progress.PerDocument[path] = StatusFailed
				continue
			}
			switch childStatus {
			case StatusSkipped:
				progress.Skipped++
			case StatusFailed:
				progress.Failed++
			default:
				progress.Done++
			}
			progress.PerDocument[path] = childStatus
		}
	}

	_ = workflow.ExecuteActivity(ctx, "WriteIngestSummaryActivity", activities.WriteIngestSummaryInput{
		RunID: input.RunID,
		Summary: map[string]any{
			"run_id":              input.RunID,
			"total":               progress.Total,
			"done":                progress.Done,
			"skipped":             progress.Skipped,
			"failed":              progress.Failed,
			"per_document_status": progress.PerDocument,
			"generated_at":        workflow.Now(ctx),
		},
	}).Get(ctx, nil)

	return "completed", nil
}

func DocumentIngestWorkflow(ctx workflow.Context, input DocumentIngestInput) (string, error) {
	status := DocumentStatus{
		Path:        input.Path,
		CurrentStep: "init",
		Status:      "processing",
		Steps:       map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetDocumentStatus, func() (DocumentStatus, error) {
		return status, nil
	}); err != nil {
		return "", err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	filename := filepath.Base(input.Path)

	status.CurrentStep = "compute_hash"
	status.Steps[status.CurrentStep] = "processing"
	var hashOut activities.ComputeFileHashOutput
	if err := workflow.ExecuteActivity(ctx, "ComputeFileHashActivity", activities.ComputeFileHashInput{Path: input.Path}).Get(ctx, &hashOut); err != nil {
		return "", err
	}
	status.FileHash = hashOut.FileHash
	status.DocumentID = hashOut.FileHash
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "check_duplicate"
	status.Steps[status.CurrentStep] = "processing"
	var dupOut activities.CheckDuplicateOutput
	if err := workflow.ExecuteActivity(ctx, "CheckDuplicateActivity", activities.CheckDuplicateInput{FileHash: hashOut.FileHash}).Get(ctx, &dupOut); err != nil {
		return "", err
	}
	if dupOut.Duplicate {
		// Identical file already ingested; re-running is a no-op.
		status.Steps[status.CurrentStep] = "duplicate"
		status.CurrentStep = "done"
		status.Status = StatusSkipped
		return status.Status, nil
	}
	status.Steps[status.CurrentStep] = "done"

	_ = workflow.ExecuteActivity(ctx, "UpsertDocumentActivity", activities.UpsertDocumentInput{
		DocumentID: status.DocumentID,
		FileHash:   hashOut.FileHash,
		Filename:   filename,
		Status:     "processing",
	}).Get(ctx, nil)

	status.CurrentStep = "route_conversion"
	status.Steps[status.CurrentStep] = "processing"
	var routeOut activities.RouteConversionOutput
	if err := workflow.ExecuteActivity(ctx, "RouteConversionActivity", activities.RouteConversionInput{Path: input.Path}).Get(ctx, &routeOut); err != nil {
		return "", err
	}
	status.Route = routeOut.Route
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "convert"
	status.Steps[status.CurrentStep] = "processing"
	var convOut activities.ConvertDocumentOutput
	if err := workflow.ExecuteActivity(ctx, "ConvertDocumentActivity", activities.ConvertDocumentInput{Path: input.Path, Route: routeOut.Route}).Get(ctx, &convOut); err != nil {
		if isNoTextError(err) {
			status.Status = StatusFailed
			status.FailReason = "no extractable text found"
			status.Steps[status.CurrentStep] = "failed"
			_ = workflow.ExecuteActivity(ctx, "UpsertDocumentActivity", activities.UpsertDocumentInput{
				DocumentID: status.DocumentID,
				FileHash:   hashOut.FileHash,
				Filename:   filename,
				Route:      routeOut.Route,
				Status:     StatusFailed,
				FailReason: status.FailReason,
			}).Get(ctx, nil)
			return status.Status, nil
		}
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "chunk_pages"
	status.Steps[status.CurrentStep] = "processing"
	var chunkOut activities.ChunkPagesOutput
	if err := workflow.ExecuteActivity(ctx, "ChunkPagesActivity", activities.ChunkPagesInput{
		DocumentID:   status.DocumentID,
		Pages:        convOut.Pages,
		ChunkSize:    input.ChunkSize,
		ChunkOverlap: input.ChunkOverlap,
	}).Get(ctx, &chunkOut); err != nil {
		return "", err
	}
	status.ChunkCount = len(chunkOut.Chunks)
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "extract_entities"
	status.Steps[status.CurrentStep] = "processing"
	var entOut activities.ExtractEntitiesOutput
	if err := workflow.ExecuteActivity(ctx, "ExtractEntitiesActivity", activities.ExtractEntitiesInput{Chunks: chunkOut.Chunks}).Get(ctx, &entOut); err != nil {
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "embed_chunks"
	status.Steps[status.CurrentStep] = "processing"
	var embedOut activities.EmbedChunksOutput
	if err := workflow.ExecuteActivity(ctx, "EmbedChunksActivity", activities.EmbedChunksInput{
		Operation:     "chunk_embedding",
		DocumentID:    status.DocumentID,
		Chunks:        chunkOut.Chunks,
		ProviderIndex: -1,
	}).Get(ctx, &embedOut); err != nil {
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "insert_chunks"
	status.Steps[status.CurrentStep] = "processing"
	if err := workflow.ExecuteActivity(ctx, "InsertChunksActivity", activities.InsertChunksInput{
		DocumentID:       status.DocumentID,
		FileHash:         hashOut.FileHash,
		Chunks:           chunkOut.Chunks,
		Entities:         entOut.Entities,
		Vectors:          embedOut.Vectors,
		EmbeddingVersion: embedOut.EmbeddingVersion,
	}).Get(ctx, nil); err != nil {
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "write_artifacts"
	status.Steps[status.CurrentStep] = "processing"
	if err := workflow.ExecuteActivity(ctx, "WriteDocumentArtifactsActivity", activities.WriteDocumentArtifactsInput{
		DocumentID: status.DocumentID,
		Metadata: map[string]any{
			"document_id":    status.DocumentID,
			"filename":       filename,
			"route":          routeOut.Route,
			"pages":          len(convOut.Pages),
			"chunk_count":       len(chunkOut.Chunks),
			"embed_provider":    embedOut.ProviderName,
			"embedding_version": embedOut.EmbeddingVersion,
			"generated_at":      workflow.Now(ctx),
		},
		Chunks: chunkOut.Chunks,
	}).Get(ctx, nil); err != nil {
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "mark_ingested"
	status.Steps[status.CurrentStep] = "processing"
	if err := workflow.ExecuteActivity(ctx, "UpsertDocumentActivity", activities.UpsertDocumentInput{
		DocumentID: status.DocumentID,
		FileHash:   hashOut.FileHash,
		Filename:   filename,
		Route:      routeOut.Route,
		Pages:      len(convOut.Pages),
		Status:     StatusIngested,
	}).Get(ctx, nil); err != nil {
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"
	status.CurrentStep = "done"
	status.Status = StatusIngested
	return status.Status, nil
}

func isNoTextError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no extractable text")
}

func sanitizeID(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, ".", "-")
	s = strings.ReplaceAll(s, "/", "-")
	return s
}
