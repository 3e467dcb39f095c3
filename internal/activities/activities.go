package activities

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docintel/internal/config"
	"docintel/internal/ingest"
	"docintel/internal/models"
	"docintel/internal/providers"
	"docintel/internal/storage"
	"docintel/internal/util"
)

type Activities struct {
	cfg       config.Config
	docRepo   *storage.DocumentRepo
	chunkRepo *storage.ChunkRepo
	router    *ingest.Router
	plain     ingest.Converter
	vision    ingest.Converter
	providers *providers.Manager
	log       *zap.Logger
}

func New(cfg config.Config, db *storage.DB, log *zap.Logger) (*Activities, error) {
	pm, err := providers.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	var detector ingest.TableDetector
	if cfg.DetectorURL != "" {
		detector = ingest.NewHTTPDetector(cfg.DetectorURL)
	} else {
		// Without a detector service everything routes plain.
		detector = &ingest.StaticDetector{}
	}
	var vision ingest.Converter
	if cfg.ConverterURL != "" {
		vision = ingest.NewHTTPConverter(cfg.ConverterURL)
	} else {
		vision = ingest.PlainConverter{}
	}

	return &Activities{
		cfg:       cfg,
		docRepo:   storage.NewDocumentRepo(db),
		chunkRepo: storage.NewChunkRepo(db),
		router:    ingest.NewRouter(detector, cfg.TableConfThreshold, cfg.DetectorMaxPages),
		plain:     ingest.PlainConverter{},
		vision:    vision,
		providers: pm,
		log:       log,
	}, nil
}

func (a *Activities) ListPDFsActivity(ctx context.Context, in ListPDFsInput) (ListPDFsOutput, error) {
	_ = ctx
	entries, err := os.ReadDir(in.InputDir)
	if err != nil {
		return ListPDFsOutput{}, fmt.Errorf("read input dir: %w", err)
	}
	paths := make([]string, 0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".pdf") {
			paths = append(paths, util.SafeJoin(in.InputDir, e.Name()))
		}
	}
	sort.Strings(paths)
	return ListPDFsOutput{Paths: paths}, nil
}

func (a *Activities) ComputeFileHashActivity(ctx context.Context, in ComputeFileHashInput) (ComputeFileHashOutput, error) {
	_ = ctx
	hash, err := util.SHA256HexFromFile(in.Path)
	if err != nil {
		return ComputeFileHashOutput{}, err
	}
	return ComputeFileHashOutput{FileHash: hash}, nil
}

func (a *Activities) CheckDuplicateActivity(ctx context.Context, in CheckDuplicateInput) (CheckDuplicateOutput, error) {
	err := a.docRepo.EnsureNewDocument(ctx, in.FileHash)
	if errors.Is(err, util.ErrIngestionConflict) {
		return CheckDuplicateOutput{Duplicate: true}, nil
	}
	if err != nil {
		return CheckDuplicateOutput{}, err
	}
	return CheckDuplicateOutput{}, nil
}

func (a *Activities) UpsertDocumentActivity(ctx context.Context, in UpsertDocumentInput) error {
	return a.docRepo.UpsertDocument(ctx, models.Document{
		DocumentID: in.DocumentID,
		FileHash:   in.FileHash,
		Filename:   in.Filename,
		Route:      in.Route,
		Pages:      in.Pages,
		Status:     in.Status,
		FailReason: in.FailReason,
	})
}

func (a *Activities) RouteConversionActivity(ctx context.Context, in RouteConversionInput) (RouteConversionOutput, error) {
	route, det, err := a.router.Route(ctx, in.Path)
	if err != nil {
		// Detection failure is not fatal; the plain route still works.
		a.log.Warn("table detection failed", zap.String("path", in.Path), zap.Error(err))
	}
	return RouteConversionOutput{Route: route, HasTables: det.HasTables, Confidence: det.Confidence}, nil
}

func (a *Activities) ConvertDocumentActivity(ctx context.Context, in ConvertDocumentInput) (ConvertDocumentOutput, error) {
	conv := a.plain
	if in.Route == ingest.RouteVision {
		conv = a.vision
	}
	pages, err := conv.Convert(ctx, in.Path)
	if err != nil {
		return ConvertDocumentOutput{}, err
	}
	return ConvertDocumentOutput{Pages: pages}, nil
}

func (a *Activities) ChunkPagesActivity(ctx context.Context, in ChunkPagesInput) (ChunkPagesOutput, error) {
	_ = ctx
	out := ChunkPagesOutput{Chunks: make([]ChunkPayload, 0, len(in.Pages))}
	for _, page := range in.Pages {
		for _, text := range util.ChunkText(page.Text, in.ChunkSize, in.ChunkOverlap) {
			out.Chunks = append(out.Chunks, ChunkPayload{
				ChunkID:    uuid.NewString(),
				PageNumber: page.Number,
				Text:       text,
			})
		}
	}
	return out, nil
}

func (a *Activities) ExtractEntitiesActivity(ctx context.Context, in ExtractEntitiesInput) (ExtractEntitiesOutput, error) {
	extractor := a.providers.FirstEntityProvider()
	out := ExtractEntitiesOutput{Entities: make([]map[string][]string, len(in.Chunks))}
	for i, c := range in.Chunks {
		entities, info, err := extractor.ExtractEntities(ctx, providers.ExtractRequest{
			Operation: "chunk_entities",
			Text:      c.Text,
		})
		if err != nil {
			return ExtractEntitiesOutput{}, fmt.Errorf("extract entities for chunk %s: %w", c.ChunkID, err)
		}
		out.Entities[i] = entities
		out.ProviderName = info.Name
	}
	return out, nil
}

// EmbedChunksActivity embeds chunk texts, trying providers in preferred
// order and falling back on failure.
func (a *Activities) EmbedChunksActivity(ctx context.Context, in EmbedChunksInput) (EmbedChunksOutput, error) {
	texts := make([]string, 0, len(in.Chunks))
	for _, c := range in.Chunks {
		texts = append(texts, c.Text)
	}
	req := providers.EmbedRequest{Operation: in.Operation, Inputs: texts, Dimension: a.cfg.EmbedDim}

	order := a.providers.PreferredEmbedOrder()
	if in.ProviderIndex >= 0 && in.ProviderIndex < a.providers.EmbedCount() {
		order = append([]int{in.ProviderIndex}, order...)
	}
	var lastErr error
	for _, idx := range order {
		p, ref := a.providers.EmbedProviderByIndex(idx)
		vecs, info, err := p.Embed(ctx, req)
		if err != nil {
			lastErr = err
			a.log.Warn("embed provider failed",
				zap.String("provider", ref.Name),
				zap.String("error_type", string(providers.ClassifyError(err))),
				zap.Error(err))
			continue
		}
		if len(vecs) != len(texts) {
			lastErr = fmt.Errorf("provider %s returned %d vectors for %d inputs", ref.Name, len(vecs), len(texts))
			continue
		}
		return EmbedChunksOutput{
			Vectors:          vecs,
			ProviderName:     info.Name,
			Model:            info.Model,
			EmbeddingVersion: embedVersionFor(a.cfg.EmbedVersion, idx, ref.Name, info.Model),
		}, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no embedding providers configured")
	}
	return EmbedChunksOutput{}, fmt.Errorf("embed chunks: %w", lastErr)
}

// embedVersionFor stamps vectors with the configured version only when the
// primary provider produced them. A fallback provider embeds into a
// different vector space, so its output gets a provider-derived version
// that the search version filter never ranks against the primary space.
func embedVersionFor(configured string, providerIndex int, providerName, model string) string {
	if providerIndex == 0 {
		return configured
	}
	if model == "" {
		return providerName
	}
	return providerName + "/" + model
}

func (a *Activities) InsertChunksActivity(ctx context.Context, in InsertChunksInput) error {
	if len(in.Vectors) != len(in.Chunks) || len(in.Entities) != len(in.Chunks) {
		return fmt.Errorf("chunk payload misaligned: %d chunks, %d vectors, %d entity sets",
			len(in.Chunks), len(in.Vectors), len(in.Entities))
	}
	version := in.EmbeddingVersion
	if version == "" {
		version = a.cfg.EmbedVersion
	}
	records := make([]storage.ChunkRecord, 0, len(in.Chunks))
	for i, c := range in.Chunks {
		records = append(records, storage.ChunkRecord{
			ChunkID:          c.ChunkID,
			DocumentID:       in.DocumentID,
			FileHash:         in.FileHash,
			PageNumber:       c.PageNumber,
			Text:             util.SanitizeText(c.Text),
			Entities:         in.Entities[i],
			Embedding:        in.Vectors[i],
			EmbeddingVersion: version,
		})
	}
	return a.chunkRepo.InsertChunks(ctx, records)
}

func (a *Activities) WriteDocumentArtifactsActivity(ctx context.Context, in WriteDocumentArtifactsInput) error {
	_ = ctx
	base := filepath.Join(a.cfg.DataOutRoot, in.DocumentID)
	if err := util.WriteJSONAtomic(filepath.Join(base, "metadata.json"), in.Metadata); err != nil {
		return err
	}
	return util.WriteJSONAtomic(filepath.Join(base, "chunks.json"), in.Chunks)
}

func (a *Activities) WriteIngestSummaryActivity(ctx context.Context, in WriteIngestSummaryInput) error {
	_ = ctx
	path := filepath.Join(a.cfg.DataOutRoot, "runs", in.RunID, "summary.json")
	return util.WriteJSONAtomic(path, in.Summary)
}
