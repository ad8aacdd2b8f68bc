// Package telegram is the Telegram front-end of the chat service.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/nomadeum/nomadeum/internal/domain"
)

const MaxMessageLen = 4096

// Sender is the subset of *bot.Bot used to deliver replies.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// SendLongMessage sends text, splitting it into parts if needed. The reply
// markup is attached to the last part. Falls back to plain text if Markdown
// parsing fails.
func SendLongMessage(ctx context.Context, s Sender, chatID int64, text string, markup models.ReplyMarkup) error {
	parts := SplitMessage(text, MaxMessageLen)

	for i, part := range parts {
		var partMarkup models.ReplyMarkup
		if i == len(parts)-1 {
			partMarkup = markup
		}
		if err := sendPart(ctx, s, chatID, part, part, partMarkup); err != nil {
			return err
		}
	}

	return nil
}

// SendReply sends an assistant message under its bold provider label. The
// content is split before it is escaped, and the plain-text fallback carries
// the content as written.
func SendReply(ctx context.Context, s Sender, chatID int64, m domain.Message, markup models.ReplyMarkup) error {
	parts := ReplyParts(m)

	for i, part := range parts {
		var partMarkup models.ReplyMarkup
		if i == len(parts)-1 {
			partMarkup = markup
		}
		if err := sendPart(ctx, s, chatID, part.Markdown, part.Plain, partMarkup); err != nil {
			return err
		}
	}

	return nil
}

func sendPart(ctx context.Context, s Sender, chatID int64, markdown, plain string, markup models.ReplyMarkup) error {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      markdown,
		ParseMode: models.ParseModeMarkdownV1,
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}

	if _, err := s.SendMessage(ctx, params); err != nil {
		slog.Warn("markdown send failed, falling back to plain text", "error", err)
		params.ParseMode = ""
		params.Text = plain
		if _, err := s.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// SplitMessage splits text into parts of at most maxLen runes, preferring
// newline boundaries in the second half of each part.
func SplitMessage(text string, maxLen int) []string {
	return splitWeighted(text, maxLen, func(rune) int { return 1 })
}

// splitWeighted splits text so the summed width of every part stays within
// maxLen, preferring newline boundaries in the second half of each part.
func splitWeighted(text string, maxLen int, width func(rune) int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return []string{text}
	}

	var parts []string
	for len(runes) > 0 {
		used, end, lastNewline := 0, 0, -1
		for end < len(runes) {
			w := width(runes[end])
			if used+w > maxLen {
				break
			}
			if runes[end] == '\n' && used > maxLen/2 {
				lastNewline = end
			}
			used += w
			end++
		}
		if end == len(runes) {
			parts = append(parts, string(runes))
			break
		}
		if end == 0 {
			end = 1
		}

		splitAt := end
		if lastNewline >= 0 {
			splitAt = lastNewline + 1
		}
		parts = append(parts, string(runes[:splitAt]))
		runes = runes[splitAt:]
	}

	return parts
}

// StartTyping sends "typing..." every 4 seconds until the returned cancel function is called.
func StartTyping(ctx context.Context, b *bot.Bot, chatID int64) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(4 * time.Second)
		defer ticker.Stop()
		for {
			_, _ = b.SendChatAction(ctx, &bot.SendChatActionParams{
				ChatID: chatID,
				Action: models.ChatActionTyping,
			})
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return cancel
}

func escapedWidth(r rune) int {
	switch r {
	case '_', '*', '`', '[':
		return 2
	}
	return 1
}

// escapeMarkdown escapes the Markdown V1 control characters of provider output
// so labels stay the only formatting.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")
