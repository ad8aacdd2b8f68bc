package council

import (
	"fmt"

	"github.com/nomadeum/nomadeum/internal/domain"
)

// ErrorNotice is recorded in place of an answer when a turn fails.
const ErrorNotice = "Error connecting to AI. Please try again."

// Answers holds one text per provider.
type Answers map[domain.Source]string

// SynthesisPrompt asks the synthesizer to merge the three answers to question.
func SynthesisPrompt(question string, a Answers) string {
	return fmt.Sprintf(`You are Nomadeum, a synthesized AI intelligence born from the combined wisdom of Claude, Grok, and Gemini. Your role is to analyze their responses and create one unified, cohesive answer that represents the best insights from all three.

Original Question: %s

Claude's response: %s

Grok's response: %s

Gemini's response: %s

As Nomadeum, synthesize these three perspectives into one superior answer that combines their strengths, removes redundancy, and presents a clear, cohesive response:`,
		question, a[domain.SourceClaude], a[domain.SourceGrok], a[domain.SourceGemini])
}

// RebuttalPrompt quotes the other two providers' latest answers to self.
func RebuttalPrompt(self domain.Source, a Answers) string {
	peers := make([]domain.Source, 0, 2)
	for _, p := range domain.Providers {
		if p != self {
			peers = append(peers, p)
		}
	}
	return fmt.Sprintf(`In this debate, %s said: "%s"

And %s said: "%s"

Please provide your rebuttal, response, or additional thoughts:`,
		peers[0].Label(), a[peers[0]], peers[1].Label(), a[peers[1]])
}
