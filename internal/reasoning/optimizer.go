package reasoning

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"docintel/internal/models"
	"docintel/internal/providers"
	"docintel/internal/util"
)

const (
	maxEvalSamples = 20
	maxDemos       = 3
)

// Candidate instruction pools for the two stages. The optimizer scores
// every pairing on the training set and keeps the best.
var reasonInstructions = []string{
	Baseline().Reason.Instruction,
	"You are answering questions about a document corpus. Use only the numbered context passages. Think through the evidence step by step before stating the answer, and cite passage numbers like [C1].",
	"Read the context passages carefully and answer the question from them alone. If the passages disagree or are silent, say exactly what they do and do not support.",
}

var verifyInstructions = []string{
	Baseline().Verify.Instruction,
	"You are a fact checker. Compare every claim in the draft answer against the context passages. Drop unsupported claims, fix inaccurate ones, and output the corrected final answer only.",
	"Verify the draft against the context. Keep the answer concise, keep only claims a passage supports, and preserve passage citations.",
}

// Optimizer searches instruction pairings offline and persists the
// winner as a new immutable program version. It never touches the
// active cache; the caller decides when to swap.
type Optimizer struct {
	llm   providers.LLMProvider
	store *Store
	log   *zap.Logger
}

func NewOptimizer(llm providers.LLMProvider, store *Store, log *zap.Logger) *Optimizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Optimizer{llm: llm, store: store, log: log}
}

// Compile evaluates candidate programs on the training set, attaches
// bootstrapped demos, and saves the best as the next version. On any
// failure the previously active program is untouched.
func (o *Optimizer) Compile(ctx context.Context, trainset []models.TrainingSample) (*CompiledProgram, error) {
	if len(trainset) == 0 {
		return nil, fmt.Errorf("%w: empty training set", util.ErrRecompilationFailure)
	}
	eval := trainset
	if len(eval) > maxEvalSamples {
		eval = eval[:maxEvalSamples]
	}

	type scored struct {
		reason, verify string
		score          float64
	}
	best := scored{score: -1}
	for _, ri := range reasonInstructions {
		for _, vi := range verifyInstructions {
			s, err := o.scorePair(ctx, ri, vi, eval)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", util.ErrRecompilationFailure, err)
			}
			o.log.Debug("scored instruction pair", zap.Float64("score", s))
			if s > best.score {
				best = scored{reason: ri, verify: vi, score: s}
			}
		}
	}

	demos := bootstrapDemos(eval, maxDemos)
	program := &CompiledProgram{
		Reason:    StageConfig{Instruction: best.reason, Demos: demos},
		Verify:    StageConfig{Instruction: best.verify},
		TrainedOn: len(trainset),
		Score:     best.score,
		CreatedAt: time.Now().UTC(),
	}
	version, err := o.store.Save(program)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrRecompilationFailure, err)
	}
	o.log.Info("compiled prompt program",
		zap.String("version", version),
		zap.Float64("score", best.score),
		zap.Int("trained_on", len(trainset)))
	return program, nil
}

// scorePair runs the two-stage pipeline with the candidate instructions
// over the evaluation samples and averages the faithfulness metric.
func (o *Optimizer) scorePair(ctx context.Context, reasonInstr, verifyInstr string, eval []models.TrainingSample) (float64, error) {
	reason := StageConfig{Instruction: reasonInstr}
	verify := StageConfig{Instruction: verifyInstr}
	var total float64
	for _, s := range eval {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		draft, _, err := o.llm.Generate(ctx, providers.GenerateRequest{
			Operation: "reason",
			Prompt:    BuildReasonPrompt(reason, s.Question, s.Context),
			Context:   s.Context,
		})
		if err != nil {
			return 0, fmt.Errorf("reason candidate: %w", err)
		}
		final, _, err := o.llm.Generate(ctx, providers.GenerateRequest{
			Operation: "verify",
			Prompt:    BuildVerifyPrompt(verify, s.Question, s.Context, draft.Text),
			Context:   s.Context,
		})
		if err != nil {
			return 0, fmt.Errorf("verify candidate: %w", err)
		}
		total += Faithfulness(final.Text, s.Answer, s.Context)
	}
	return total / float64(len(eval)), nil
}

// Faithfulness scores a prediction by word overlap: recall of the gold
// answer's words, discounted for words grounded in neither the gold
// answer nor the context.
func Faithfulness(prediction, gold string, contextTexts []string) float64 {
	predWords := wordSet(prediction)
	goldWords := wordSet(gold)
	if len(predWords) == 0 || len(goldWords) == 0 {
		return 0
	}
	ctxWords := wordSet(strings.Join(contextTexts, " "))

	var hit int
	for w := range goldWords {
		if _, ok := predWords[w]; ok {
			hit++
		}
	}
	recall := float64(hit) / float64(len(goldWords))

	var grounded int
	for w := range predWords {
		_, inGold := goldWords[w]
		_, inCtx := ctxWords[w]
		if inGold || inCtx {
			grounded++
		}
	}
	precision := float64(grounded) / float64(len(predWords))

	if recall+precision == 0 {
		return 0
	}
	return 2 * recall * precision / (recall + precision)
}

func wordSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len(w) < 3 {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

// bootstrapDemos picks the samples with the richest context as worked
// examples for the reason stage.
func bootstrapDemos(samples []models.TrainingSample, n int) []Demo {
	sorted := make([]models.TrainingSample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Context) > len(sorted[j].Context)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	demos := make([]Demo, 0, len(sorted))
	for _, s := range sorted {
		demos = append(demos, Demo{Question: s.Question, Context: s.Context, Answer: s.Answer})
	}
	return demos
}

// LoadTrainingSamples reads the curated sample file. A missing file is
// an empty training set, not an error.
func LoadTrainingSamples(path string) ([]models.TrainingSample, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	var samples []models.TrainingSample
	if err := util.ReadJSON(path, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

// MergeSamples combines the curated set with feedback-derived samples,
// deduplicating by question. Later slices win so operator corrections
// override the original labels.
func MergeSamples(sets ...[]models.TrainingSample) []models.TrainingSample {
	byQuestion := make(map[string]int)
	out := make([]models.TrainingSample, 0)
	for _, set := range sets {
		for _, s := range set {
			key := strings.ToLower(strings.TrimSpace(s.Question))
			if key == "" {
				continue
			}
			if i, ok := byQuestion[key]; ok {
				out[i] = s
				continue
			}
			byQuestion[key] = len(out)
			out = append(out, s)
		}
	}
	return out
}
