package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/nomadeum/nomadeum/internal/council"
	"github.com/nomadeum/nomadeum/internal/domain"
)

const sessionID = "default"

const welcomeText = `*Nomadeum* asks Claude, Grok and Gemini at once.

Modes:
• *Unified*: one answer synthesized from all three
• *Debate*: all three answers, then rebuttal rounds
• *Individual*: talk to a single AI

/mode to switch mode, /ai to pick the AI for individual mode, /reset to start over.`

// Handler routes Telegram updates to the chat service.
type Handler struct {
	svc *council.Service
}

// NewHandler creates a Telegram handler.
func NewHandler(svc *council.Service) *Handler {
	return &Handler{svc: svc}
}

// Key returns the conversation key of a Telegram chat.
func Key(chatID int64) domain.Key {
	return domain.Key{UserID: fmt.Sprintf("tg_%d", chatID), SessionID: sessionID}
}

// Register installs command and callback handlers on b.
func (h *Handler) Register(b *bot.Bot) {
	b.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, h.handleStart)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/mode", bot.MatchTypePrefix, h.handleMode)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/ai", bot.MatchTypePrefix, h.handleAI)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/reset", bot.MatchTypePrefix, h.handleReset)

	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, CallbackDebateContinue, bot.MatchTypeExact, h.handleDebateContinue)
	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, callbackModePrefix, bot.MatchTypePrefix, h.handleModeCallback)
	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, callbackAIPrefix, bot.MatchTypePrefix, h.handleAICallback)
}

// HandleText answers a plain text message according to the chat's mode.
func (h *Handler) HandleText(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || strings.HasPrefix(update.Message.Text, "/") {
		return
	}
	chatID := update.Message.Chat.ID

	stopTyping := StartTyping(ctx, b, chatID)
	defer stopTyping()

	h.runTurn(ctx, b, chatID, update.Message.Text)
}

func (h *Handler) handleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	state, err := h.svc.Conversation(ctx, Key(chatID))
	if err != nil {
		h.reportError(ctx, b, chatID, err)
		return
	}
	_ = SendLongMessage(ctx, b, chatID, welcomeText, ModeKeyboard(state.Conversation.Mode))
}

func (h *Handler) handleMode(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	arg := commandArg(update.Message.Text)
	if arg == "" {
		state, err := h.svc.Conversation(ctx, Key(chatID))
		if err != nil {
			h.reportError(ctx, b, chatID, err)
			return
		}
		_ = SendLongMessage(ctx, b, chatID, "Choose a mode:", ModeKeyboard(state.Conversation.Mode))
		return
	}
	h.setMode(ctx, b, chatID, domain.Mode(arg))
}

func (h *Handler) handleAI(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	arg := commandArg(update.Message.Text)
	if arg == "" {
		state, err := h.svc.Conversation(ctx, Key(chatID))
		if err != nil {
			h.reportError(ctx, b, chatID, err)
			return
		}
		_ = SendLongMessage(ctx, b, chatID, "Choose the AI for individual mode:", AIKeyboard(state.Conversation.SelectedAI))
		return
	}
	h.selectAI(ctx, b, chatID, domain.Source(arg))
}

func (h *Handler) handleReset(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	if err := h.svc.Reset(ctx, Key(chatID)); err != nil {
		h.reportError(ctx, b, chatID, err)
		return
	}
	_ = SendLongMessage(ctx, b, chatID, "Conversation cleared.", nil)
}

func (h *Handler) handleDebateContinue(ctx context.Context, b *bot.Bot, update *models.Update) {
	chatID, ok := callbackChat(update)
	if !ok {
		return
	}
	_, _ = b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: update.CallbackQuery.ID})

	stopTyping := StartTyping(ctx, b, chatID)
	defer stopTyping()

	h.continueDebate(ctx, b, chatID)
}

func (h *Handler) handleModeCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	chatID, ok := callbackChat(update)
	if !ok {
		return
	}
	_, _ = b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: update.CallbackQuery.ID})
	h.setMode(ctx, b, chatID, domain.Mode(strings.TrimPrefix(update.CallbackQuery.Data, callbackModePrefix)))
}

func (h *Handler) handleAICallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	chatID, ok := callbackChat(update)
	if !ok {
		return
	}
	_, _ = b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: update.CallbackQuery.ID})
	h.selectAI(ctx, b, chatID, domain.Source(strings.TrimPrefix(update.CallbackQuery.Data, callbackAIPrefix)))
}

func (h *Handler) setMode(ctx context.Context, s Sender, chatID int64, mode domain.Mode) {
	if _, err := domain.ParseMode(string(mode)); err != nil {
		_ = SendLongMessage(ctx, s, chatID, "Usage: /mode unified|debate|individual", nil)
		return
	}
	conv, err := h.svc.UpdateSettings(ctx, Key(chatID), council.Settings{Mode: mode})
	if err != nil {
		h.reportError(ctx, s, chatID, err)
		return
	}
	_ = SendLongMessage(ctx, s, chatID, fmt.Sprintf("Mode: *%s*", conv.Mode), nil)
}

func (h *Handler) selectAI(ctx context.Context, s Sender, chatID int64, source domain.Source) {
	if !source.IsProvider() {
		_ = SendLongMessage(ctx, s, chatID, "Usage: /ai claude|grok|gemini", nil)
		return
	}
	conv, err := h.svc.UpdateSettings(ctx, Key(chatID), council.Settings{SelectedAI: source})
	if err != nil {
		h.reportError(ctx, s, chatID, err)
		return
	}
	_ = SendLongMessage(ctx, s, chatID, fmt.Sprintf("Individual mode AI: *%s*", conv.SelectedAI.Label()), nil)
}

func (h *Handler) runTurn(ctx context.Context, s Sender, chatID int64, text string) {
	res, err := h.svc.Send(ctx, Key(chatID), council.SendRequest{Message: text}, nil)
	if err != nil {
		h.reportError(ctx, s, chatID, err)
		return
	}
	h.deliver(ctx, s, chatID, res)
}

func (h *Handler) continueDebate(ctx context.Context, s Sender, chatID int64) {
	res, err := h.svc.ContinueDebate(ctx, Key(chatID), nil)
	if err != nil {
		h.reportError(ctx, s, chatID, err)
		return
	}
	h.deliver(ctx, s, chatID, res)
}

// deliver sends the assistant messages of a turn, one Telegram message each.
func (h *Handler) deliver(ctx context.Context, s Sender, chatID int64, res *council.TurnResult) {
	var replies []domain.Message
	for _, m := range res.Messages {
		if m.Role == domain.RoleAssistant {
			replies = append(replies, m)
		}
	}

	for i, m := range replies {
		var markup models.ReplyMarkup
		if res.Conversation.DebateOpen && i == len(replies)-1 {
			markup = DebateKeyboard()
		}
		if err := SendReply(ctx, s, chatID, m, markup); err != nil {
			slog.Error("Failed to deliver reply", "error", err, "chat_id", chatID, "source", m.Source)
			return
		}
	}
}

func (h *Handler) reportError(ctx context.Context, s Sender, chatID int64, err error) {
	var text string
	switch {
	case errors.Is(err, domain.ErrBusy):
		text = "Still working on your previous message."
	case errors.Is(err, domain.ErrNoDebate):
		text = "There is no debate to continue."
	case errors.Is(err, domain.ErrEmptyMessage):
		text = "Please send some text."
	case errors.Is(err, domain.ErrProviderFailure):
		text = council.ErrorNotice
	default:
		slog.Error("Telegram request failed", "error", err, "chat_id", chatID)
		text = council.ErrorNotice
	}
	_ = SendLongMessage(ctx, s, chatID, text, nil)
}

// ReplyPart is one Telegram message of a reply, in Markdown and as plain text.
type ReplyPart struct {
	Markdown string
	Plain    string
}

// ReplyParts renders an assistant message with its bold provider label,
// split so every escaped part fits in one Telegram message.
func ReplyParts(m domain.Message) []ReplyPart {
	var header, plainHeader string
	if label := m.Source.Label(); label != "" {
		header = "*" + label + "*\n\n"
		plainHeader = label + "\n\n"
	}

	chunks := splitWeighted(m.Content, MaxMessageLen-utf8.RuneCountInString(header), escapedWidth)
	parts := make([]ReplyPart, len(chunks))
	for i, chunk := range chunks {
		parts[i] = ReplyPart{Markdown: escapeMarkdown(chunk), Plain: chunk}
	}
	parts[0].Markdown = header + parts[0].Markdown
	parts[0].Plain = plainHeader + parts[0].Plain
	return parts
}

// commandArg returns the first argument of a command like "/mode@bot debate".
func commandArg(text string) string {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return ""
	}
	return strings.ToLower(fields[1])
}

func callbackChat(update *models.Update) (int64, bool) {
	if update.CallbackQuery == nil || update.CallbackQuery.Message.Message == nil {
		return 0, false
	}
	return update.CallbackQuery.Message.Message.Chat.ID, true
}
