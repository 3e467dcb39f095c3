package reasoning

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docintel/internal/providers"
	"docintel/internal/util"
)

type scriptedLLM struct {
	calls     []providers.GenerateRequest
	responses map[string]string
	errs      map[string][]error
}

func (s *scriptedLLM) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	s.calls = append(s.calls, req)
	if queue := s.errs[req.Operation]; len(queue) > 0 {
		err := queue[0]
		s.errs[req.Operation] = queue[1:]
		if err != nil {
			return providers.GenerateResponse{}, providers.ProviderInfo{Name: "scripted"}, err
		}
	}
	return providers.GenerateResponse{Text: s.responses[req.Operation]}, providers.ProviderInfo{Name: "scripted"}, nil
}

func newTestGenerator(t *testing.T, llm providers.LLMProvider) *Generator {
	t.Helper()
	return NewGenerator(llm, NewCache(NewStore(t.TempDir()), nil), nil)
}

func TestAnswerRunsReasonThenVerify(t *testing.T) {
	llm := &scriptedLLM{responses: map[string]string{"reason": "draft text", "verify": "verified text"}}
	g := newTestGenerator(t, llm)

	ans, err := g.Answer(context.Background(), "What is the fee?", []string{"The fee is $5."})
	require.NoError(t, err)
	assert.Equal(t, "draft text", ans.Draft)
	assert.Equal(t, "verified text", ans.Verified)
	assert.Equal(t, BaselineVersion, ans.ProgramVersion)

	require.Len(t, llm.calls, 2)
	assert.Equal(t, "reason", llm.calls[0].Operation)
	assert.Equal(t, "verify", llm.calls[1].Operation)
	// Verification sees the completed draft.
	assert.True(t, strings.Contains(llm.calls[1].Prompt, "draft text"))
}

func TestAnswerEmptyDraftFailsWholeQuery(t *testing.T) {
	llm := &scriptedLLM{responses: map[string]string{"reason": "   ", "verify": "verified"}}
	g := newTestGenerator(t, llm)

	_, err := g.Answer(context.Background(), "q", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrGenerationFailure)
	// The verify stage never runs when reasoning fails.
	require.Len(t, llm.calls, 1)
}

func TestAnswerVerifyFailureFailsWholeQuery(t *testing.T) {
	llm := &scriptedLLM{
		responses: map[string]string{"reason": "draft"},
		errs:      map[string][]error{"verify": {errors.New("model exploded")}},
	}
	g := newTestGenerator(t, llm)

	_, err := g.Answer(context.Background(), "q", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrGenerationFailure)
}

func TestAnswerRetriesOnceOnTransientError(t *testing.T) {
	llm := &scriptedLLM{
		responses: map[string]string{"reason": "draft", "verify": "verified"},
		errs:      map[string][]error{"reason": {errors.New("service unavailable")}},
	}
	g := newTestGenerator(t, llm)

	ans, err := g.Answer(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "verified", ans.Verified)
	// reason, reason retry, verify
	assert.Len(t, llm.calls, 3)
}

func TestAnswerDoesNotRetryPermanentErrors(t *testing.T) {
	llm := &scriptedLLM{
		responses: map[string]string{"reason": "draft", "verify": "verified"},
		errs:      map[string][]error{"reason": {errors.New("invalid api key")}},
	}
	g := newTestGenerator(t, llm)

	_, err := g.Answer(context.Background(), "q", nil)
	require.Error(t, err)
	assert.Len(t, llm.calls, 1)
}
