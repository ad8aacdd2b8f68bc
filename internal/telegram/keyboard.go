package telegram

import (
	"github.com/go-telegram/bot/models"

	"github.com/nomadeum/nomadeum/internal/domain"
)

// Callback data.
const (
	CallbackDebateContinue = "debate_continue"
	callbackModePrefix     = "mode_"
	callbackAIPrefix       = "ai_"
)

// InlineButton creates a single inline keyboard button.
func InlineButton(text, callbackData string) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{
		Text:         text,
		CallbackData: callbackData,
	}
}

// InlineKeyboard creates an inline keyboard from rows of buttons.
func InlineKeyboard(rows ...[]models.InlineKeyboardButton) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: rows,
	}
}

// ButtonRow creates a row of inline buttons.
func ButtonRow(buttons ...models.InlineKeyboardButton) []models.InlineKeyboardButton {
	return buttons
}

// DebateKeyboard offers another rebuttal round.
func DebateKeyboard() *models.InlineKeyboardMarkup {
	return InlineKeyboard(ButtonRow(InlineButton("Continue Debate →", CallbackDebateContinue)))
}

// ModeKeyboard lists the modes, marking the current one.
func ModeKeyboard(current domain.Mode) *models.InlineKeyboardMarkup {
	modes := []struct {
		mode  domain.Mode
		label string
	}{
		{domain.ModeUnified, "Unified"},
		{domain.ModeDebate, "Debate"},
		{domain.ModeIndividual, "Individual"},
	}
	row := make([]models.InlineKeyboardButton, 0, len(modes))
	for _, m := range modes {
		label := m.label
		if m.mode == current {
			label = "✅ " + label
		}
		row = append(row, InlineButton(label, callbackModePrefix+string(m.mode)))
	}
	return InlineKeyboard(row)
}

// AIKeyboard lists the providers for individual mode, marking the selected one.
func AIKeyboard(selected domain.Source) *models.InlineKeyboardMarkup {
	row := make([]models.InlineKeyboardButton, 0, len(domain.Providers))
	for _, p := range domain.Providers {
		label := p.Label()
		if p == selected {
			label = "✅ " + label
		}
		row = append(row, InlineButton(label, callbackAIPrefix+string(p)))
	}
	return InlineKeyboard(row)
}
