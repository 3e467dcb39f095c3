package reasoning

import (
	"fmt"
	"strings"
)

// BuildReasonPrompt renders the first-stage prompt: instruction, demos,
// numbered context passages, then the question.
func BuildReasonPrompt(stage StageConfig, question string, contextTexts []string) string {
	var b strings.Builder
	b.WriteString(stage.Instruction)
	b.WriteString("\n")
	writeDemos(&b, stage.Demos)
	writeContext(&b, contextTexts)
	fmt.Fprintf(&b, "\nQuestion: %s\n", question)
	b.WriteString("Draft answer:")
	return b.String()
}

// BuildVerifyPrompt renders the second-stage prompt, which sees the
// same context plus the stage-one draft.
func BuildVerifyPrompt(stage StageConfig, question string, contextTexts []string, draft string) string {
	var b strings.Builder
	b.WriteString(stage.Instruction)
	b.WriteString("\n")
	writeDemos(&b, stage.Demos)
	writeContext(&b, contextTexts)
	fmt.Fprintf(&b, "\nQuestion: %s\n", question)
	fmt.Fprintf(&b, "\nDraft answer:\n%s\n", draft)
	b.WriteString("\nVerified answer:")
	return b.String()
}

func writeDemos(b *strings.Builder, demos []Demo) {
	for i, d := range demos {
		fmt.Fprintf(b, "\nExample %d:\n", i+1)
		for j, c := range d.Context {
			fmt.Fprintf(b, "[C%d] %s\n", j+1, c)
		}
		fmt.Fprintf(b, "Question: %s\nAnswer: %s\n", d.Question, d.Answer)
	}
}

func writeContext(b *strings.Builder, contextTexts []string) {
	b.WriteString("\nContext passages:\n")
	if len(contextTexts) == 0 {
		b.WriteString("(no passages retrieved)\n")
		return
	}
	for i, c := range contextTexts {
		fmt.Fprintf(b, "[C%d] %s\n", i+1, c)
	}
}
