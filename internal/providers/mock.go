package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// MockProvider is a deterministic offline stand-in for all three provider
// roles. Embeddings are stable per input, generation is templated per
// operation, and entity extraction is a regex heuristic. It exists so the
// full pipeline runs without network access.
type MockProvider struct {
	dim int
}

func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = 384
	}
	return &MockProvider{dim: dim}
}

func (m *MockProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	_ = ctx
	dim := req.Dimension
	if dim <= 0 {
		dim = m.dim
	}
	vectors := make([][]float32, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		vectors = append(vectors, deterministicVector(input, dim))
	}
	return vectors, ProviderInfo{Name: "mock", Model: fmt.Sprintf("mock-embed-%d", dim), Key: "mock"}, nil
}

func (m *MockProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	_ = ctx
	info := ProviderInfo{Name: "mock", Model: "mock-llm-v1", Key: "mock"}
	op := strings.ToLower(req.Operation)
	switch {
	case strings.Contains(op, "verify"):
		return GenerateResponse{Text: "Verified answer: the draft is consistent with the provided context."}, info, nil
	case strings.Contains(op, "reason"):
		b := strings.Builder{}
		b.WriteString("Draft answer grounded in retrieved evidence.")
		for i := range req.Context {
			b.WriteString(" [C")
			b.WriteString(strconv.Itoa(i + 1))
			b.WriteString("]")
		}
		return GenerateResponse{Text: b.String()}, info, nil
	case strings.Contains(op, "transcribe"):
		return GenerateResponse{Text: "| col | col |\n| --- | --- |\n| mock | table |"}, info, nil
	default:
		return GenerateResponse{Text: "Mock response."}, info, nil
	}
}

var (
	monthYearRe = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{4}\b`)
	yearRe      = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	allCapsRe   = regexp.MustCompile(`\b[A-Z][A-Z0-9&]{2,}\b`)
	titleRe     = regexp.MustCompile(`\b[A-Z][a-z]{2,}\b`)
)

// ExtractEntities applies a crude pattern heuristic: all-caps tokens become
// organizations, month+year and bare years become dates, other capitalized
// tokens land in "other". All values are lowercased, mirroring the
// normalization contract of real NER backends.
func (m *MockProvider) ExtractEntities(ctx context.Context, req ExtractRequest) (map[string][]string, ProviderInfo, error) {
	_ = ctx
	info := ProviderInfo{Name: "mock", Model: "mock-ner-v1", Key: "mock"}
	out := map[string][]string{}
	add := func(typ, val string) {
		val = strings.ToLower(strings.TrimSpace(val))
		if val == "" {
			return
		}
		for _, existing := range out[typ] {
			if existing == val {
				return
			}
		}
		out[typ] = append(out[typ], val)
	}
	text := req.Text
	for _, match := range monthYearRe.FindAllString(text, -1) {
		add("date", match)
	}
	stripped := monthYearRe.ReplaceAllString(text, "")
	for _, match := range yearRe.FindAllString(stripped, -1) {
		add("date", match)
	}
	for _, match := range allCapsRe.FindAllString(text, -1) {
		add("organization", match)
	}
	sentenceStarts := sentenceStartOffsets(text)
	for _, loc := range titleRe.FindAllStringIndex(text, -1) {
		if sentenceStarts[loc[0]] {
			continue
		}
		add("other", text[loc[0]:loc[1]])
	}
	return out, info, nil
}

func sentenceStartOffsets(text string) map[int]bool {
	starts := map[int]bool{}
	expectStart := true
	for i, r := range text {
		switch {
		case r == '.' || r == '!' || r == '?' || r == '\n':
			expectStart = true
		case r == ' ' || r == '\t' || r == '\r':
		default:
			if expectStart {
				starts[i] = true
				expectStart = false
			}
		}
	}
	return starts
}

func deterministicVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := []byte(input)
	if len(seed) == 0 {
		seed = []byte("empty")
	}
	for i := 0; i < dim; i++ {
		h := sha256.Sum256(append(seed, byte(i%251)))
		u := binary.BigEndian.Uint32(h[:4])
		v := float32(u%2000)/1000.0 - 1.0
		vec[i] = v
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(float64(sum)+1e-9))
	for i := range v {
		v[i] *= inv
	}
	return v
}
