package domain

import "fmt"

// Mode selects how the three providers are combined for a turn.
type Mode string

const (
	// ModeUnified asks all providers and synthesizes one answer.
	ModeUnified Mode = "unified"
	// ModeDebate shows all three answers and allows rebuttal rounds.
	ModeDebate Mode = "debate"
	// ModeIndividual asks a single selected provider.
	ModeIndividual Mode = "individual"
)

// DefaultMode is the mode of a fresh conversation.
const DefaultMode = ModeUnified

// ParseMode validates a mode name.
func ParseMode(name string) (Mode, error) {
	switch m := Mode(name); m {
	case ModeUnified, ModeDebate, ModeIndividual:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, name)
}
