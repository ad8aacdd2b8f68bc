// Package domain contains core domain types for the Nomadeum chat service.
package domain

import "fmt"

// Source identifies who produced an assistant message.
type Source string

const (
	// SourceClaude is Provider-A.
	SourceClaude Source = "claude"
	// SourceGrok is Provider-B.
	SourceGrok Source = "grok"
	// SourceGemini is Provider-C.
	SourceGemini Source = "gemini"
	// SourceNomadeum marks the synthesized answer of unified mode.
	SourceNomadeum Source = "nomadeum"
	// SourceError marks the generic failure notice.
	SourceError Source = "error"
)

// Providers lists the three backends in their fixed fan-out order.
var Providers = []Source{SourceClaude, SourceGrok, SourceGemini}

// IsProvider reports whether s names one of the three backends.
func (s Source) IsProvider() bool {
	switch s {
	case SourceClaude, SourceGrok, SourceGemini:
		return true
	}
	return false
}

// Label returns the display name for the source.
func (s Source) Label() string {
	switch s {
	case SourceClaude:
		return "Claude"
	case SourceGrok:
		return "Grok"
	case SourceGemini:
		return "Gemini"
	case SourceNomadeum:
		return "Nomadeum"
	default:
		return ""
	}
}

// ParseProvider validates a provider name.
func ParseProvider(name string) (Source, error) {
	s := Source(name)
	if !s.IsProvider() {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return s, nil
}
