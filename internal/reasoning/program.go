package reasoning

import "time"

// BaselineVersion names the built-in program used before any compiled
// artifact exists on disk.
const BaselineVersion = "baseline"

// Demo is one worked example attached to a stage prompt.
type Demo struct {
	Question string   `json:"question"`
	Context  []string `json:"context"`
	Answer   string   `json:"answer"`
}

// StageConfig holds the instruction and few-shot demos for one stage.
type StageConfig struct {
	Instruction string `json:"instruction"`
	Demos       []Demo `json:"demos,omitempty"`
}

// CompiledProgram is an immutable prompt-configuration artifact. A new
// compilation produces a new version; existing versions are never edited.
type CompiledProgram struct {
	Version   string      `json:"version"`
	Reason    StageConfig `json:"reason"`
	Verify    StageConfig `json:"verify"`
	TrainedOn int         `json:"trained_on"`
	Score     float64     `json:"score"`
	CreatedAt time.Time   `json:"created_at"`
}

// Baseline returns the hand-written program the service falls back to
// when no compiled artifact is available.
func Baseline() *CompiledProgram {
	return &CompiledProgram{
		Version: BaselineVersion,
		Reason: StageConfig{
			Instruction: "Answer the question using only the provided context passages. Reason step by step, cite which passages support each claim, and say so plainly when the context does not contain the answer.",
		},
		Verify: StageConfig{
			Instruction: "Check the draft answer against the context passages. Remove or correct any claim the context does not support, then produce the final verified answer.",
		},
	}
}
