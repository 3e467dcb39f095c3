package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.ListPDFsActivity)
	w.RegisterActivity(a.ComputeFileHashActivity)
	w.RegisterActivity(a.CheckDuplicateActivity)
	w.RegisterActivity(a.UpsertDocumentActivity)
	w.RegisterActivity(a.RouteConversionActivity)
	w.RegisterActivity(a.ConvertDocumentActivity)
	w.RegisterActivity(a.ChunkPagesActivity)
	w.RegisterActivity(a.ExtractEntitiesActivity)
	w.RegisterActivity(a.EmbedChunksActivity)
	w.RegisterActivity(a.InsertChunksActivity)
	w.RegisterActivity(a.WriteDocumentArtifactsActivity)
	w.RegisterActivity(a.WriteIngestSummaryActivity)
}
