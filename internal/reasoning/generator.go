package reasoning

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"docintel/internal/providers"
	"docintel/internal/util"
)

// Answer is the result of one full reason-then-verify pass. The draft is
// kept for audit; only the verified text is user-facing.
type Answer struct {
	Draft          string `json:"draft"`
	Verified       string `json:"verified"`
	ProgramVersion string `json:"program_version"`
}

// Generator runs the two-stage pipeline. The stages are strictly
// sequential: verification always sees the completed draft, and a
// failure in either stage fails the whole query.
type Generator struct {
	llm   providers.LLMProvider
	cache *Cache
	log   *zap.Logger
}

func NewGenerator(llm providers.LLMProvider, cache *Cache, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{llm: llm, cache: cache, log: log}
}

func (g *Generator) Answer(ctx context.Context, question string, contextTexts []string) (Answer, error) {
	program := g.cache.Active()

	draft, err := g.generate(ctx, "reason", BuildReasonPrompt(program.Reason, question, contextTexts), contextTexts)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: reason stage: %v", util.ErrGenerationFailure, err)
	}

	verified, err := g.generate(ctx, "verify", BuildVerifyPrompt(program.Verify, question, contextTexts, draft), contextTexts)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: verify stage: %v", util.ErrGenerationFailure, err)
	}

	return Answer{Draft: draft, Verified: verified, ProgramVersion: program.Version}, nil
}

// generate runs one LLM call with a single retry on transient errors.
func (g *Generator) generate(ctx context.Context, operation, prompt string, contextTexts []string) (string, error) {
	req := providers.GenerateRequest{Operation: operation, Prompt: prompt, Context: contextTexts}

	resp, info, err := g.llm.Generate(ctx, req)
	if err != nil && providers.ClassifyError(err) == providers.ErrorTransient && ctx.Err() == nil {
		g.log.Warn("llm call retrying after transient error",
			zap.String("operation", operation), zap.String("provider", info.Name), zap.Error(err))
		resp, info, err = g.llm.Generate(ctx, req)
	}
	if err != nil {
		return "", fmt.Errorf("%s via %s: %w", operation, info.Name, err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("%s returned empty output", operation)
	}
	return text, nil
}
