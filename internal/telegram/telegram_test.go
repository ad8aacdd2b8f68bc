package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/nomadeum/nomadeum/internal/council"
	"github.com/nomadeum/nomadeum/internal/domain"
	"github.com/nomadeum/nomadeum/internal/provider"
	"github.com/nomadeum/nomadeum/internal/store"
)

type fakeSender struct {
	mu        sync.Mutex
	sent      []*bot.SendMessageParams
	failFirst int
}

func (f *fakeSender) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFirst > 0 {
		f.failFirst--
		return nil, errors.New("bad markdown")
	}
	p := *params
	f.sent = append(f.sent, &p)
	return &models.Message{}, nil
}

type echoCaller struct{}

func (echoCaller) Call(_ context.Context, req provider.Request) (string, error) {
	return string(req.Provider) + " thinks so", nil
}

func TestSplitMessage(t *testing.T) {
	if parts := SplitMessage("short", 10); len(parts) != 1 || parts[0] != "short" {
		t.Fatalf("unexpected parts: %q", parts)
	}

	text := strings.Repeat("é", 25)
	parts := SplitMessage(text, 10)
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	for _, p := range parts {
		if utf8.RuneCountInString(p) > 10 {
			t.Fatalf("part exceeds limit: %q", p)
		}
	}
	if strings.Join(parts, "") != text {
		t.Fatal("parts do not reassemble the original text")
	}
}

func TestSplitMessagePrefersNewline(t *testing.T) {
	text := "aaaaaaa\nbbbbbbbbbb"
	parts := SplitMessage(text, 10)
	if parts[0] != "aaaaaaa\n" {
		t.Fatalf("expected split after newline, got %q", parts[0])
	}
}

func TestSendLongMessageFallsBackToPlainText(t *testing.T) {
	s := &fakeSender{failFirst: 1}
	if err := SendLongMessage(context.Background(), s, 1, "*broken", DebateKeyboard()); err != nil {
		t.Fatalf("SendLongMessage failed: %v", err)
	}
	if len(s.sent) != 1 || s.sent[0].ParseMode != "" {
		t.Fatalf("expected a plain text retry, got %+v", s.sent)
	}
	if s.sent[0].ReplyMarkup == nil {
		t.Fatal("expected markup on the last part")
	}
}

func TestReplyParts(t *testing.T) {
	parts := ReplyParts(domain.Message{Source: domain.SourceGrok, Content: "use snake_case"})
	if len(parts) != 1 || parts[0].Markdown != "*Grok*\n\nuse snake\\_case" {
		t.Fatalf("unexpected parts: %+v", parts)
	}
	if parts[0].Plain != "Grok\n\nuse snake_case" {
		t.Fatalf("unexpected plain text: %q", parts[0].Plain)
	}

	parts = ReplyParts(domain.Message{Source: domain.SourceError, Content: council.ErrorNotice})
	if parts[0].Markdown != council.ErrorNotice {
		t.Fatalf("error notice should be unlabelled, got %q", parts[0].Markdown)
	}
}

func TestReplyPartsNeverCutInsideEscape(t *testing.T) {
	// The header takes 8 runes, so the escaped underscore no longer fits in the first part.
	content := strings.Repeat("a", MaxMessageLen-9) + "_b" + strings.Repeat("*", 3000)
	parts := ReplyParts(domain.Message{Source: domain.SourceGrok, Content: content})
	if len(parts) < 2 {
		t.Fatalf("expected several parts, got %d", len(parts))
	}

	var plain strings.Builder
	for i, p := range parts {
		if n := utf8.RuneCountInString(p.Markdown); n > MaxMessageLen {
			t.Fatalf("part %d has %d runes", i, n)
		}
		if strings.HasSuffix(p.Markdown, "\\") {
			t.Fatalf("part %d ends inside an escape", i)
		}
		plain.WriteString(p.Plain)
	}
	if !strings.HasPrefix(parts[1].Markdown, "\\_b") {
		t.Fatalf("expected the underscore to open the second part, got %q", parts[1].Markdown[:4])
	}
	if plain.String() != "Grok\n\n"+content {
		t.Fatal("plain parts do not reassemble the content")
	}
}

func TestSendReplyFallsBackToUnescapedText(t *testing.T) {
	s := &fakeSender{failFirst: 1}
	msg := domain.Message{Source: domain.SourceClaude, Content: "snake_case"}
	if err := SendReply(context.Background(), s, 1, msg, nil); err != nil {
		t.Fatalf("SendReply failed: %v", err)
	}
	if len(s.sent) != 1 || s.sent[0].ParseMode != "" || s.sent[0].Text != "Claude\n\nsnake_case" {
		t.Fatalf("unexpected fallback: %+v", s.sent)
	}
}

func TestCommandArg(t *testing.T) {
	tests := map[string]string{
		"/mode":                      "",
		"/mode debate":               "debate",
		"/mode@nomadeum_bot Unified": "unified",
		"/ai   grok  extra":          "grok",
	}
	for in, want := range tests {
		if got := commandArg(in); got != want {
			t.Errorf("commandArg(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestKeyboards(t *testing.T) {
	kb := DebateKeyboard()
	btn := kb.InlineKeyboard[0][0]
	if btn.Text != "Continue Debate →" || btn.CallbackData != CallbackDebateContinue {
		t.Fatalf("unexpected debate button: %+v", btn)
	}

	ai := AIKeyboard(domain.SourceGemini).InlineKeyboard[0]
	if len(ai) != 3 || ai[2].Text != "✅ Gemini" || ai[0].CallbackData != "ai_claude" {
		t.Fatalf("unexpected AI keyboard: %+v", ai)
	}

	modes := ModeKeyboard(domain.ModeUnified).InlineKeyboard[0]
	if modes[0].Text != "✅ Unified" || modes[1].CallbackData != "mode_debate" {
		t.Fatalf("unexpected mode keyboard: %+v", modes)
	}
}

func TestKeyIsPerChat(t *testing.T) {
	if got := Key(42); got.UserID != "tg_42" || got.SessionID != "default" {
		t.Fatalf("unexpected key: %+v", got)
	}
}

func TestDebateTurnDeliversLabelledRepliesWithButton(t *testing.T) {
	svc := council.NewService(echoCaller{}, store.NewMemory(), nil)
	h := NewHandler(svc)
	s := &fakeSender{}
	ctx := context.Background()

	h.setMode(ctx, s, 7, domain.ModeDebate)
	s.sent = nil

	h.runTurn(ctx, s, 7, "Is AI creative?")
	if len(s.sent) != 3 {
		t.Fatalf("expected 3 replies, got %d", len(s.sent))
	}
	for i, p := range domain.Providers {
		if !strings.HasPrefix(s.sent[i].Text, "*"+p.Label()+"*") {
			t.Fatalf("reply %d not labelled %s: %q", i, p.Label(), s.sent[i].Text)
		}
	}
	if s.sent[0].ReplyMarkup != nil || s.sent[2].ReplyMarkup == nil {
		t.Fatal("expected the continue button on the last reply only")
	}

	s.sent = nil
	h.continueDebate(ctx, s, 7)
	if len(s.sent) != 3 {
		t.Fatalf("expected 3 rebuttals, got %d", len(s.sent))
	}
}

func TestContinueWithoutDebateExplains(t *testing.T) {
	h := NewHandler(council.NewService(echoCaller{}, store.NewMemory(), nil))
	s := &fakeSender{}

	h.continueDebate(context.Background(), s, 9)
	if len(s.sent) != 1 || s.sent[0].Text != "There is no debate to continue." {
		t.Fatalf("unexpected replies: %+v", s.sent)
	}
}

func TestSelectAIRejectsUnknown(t *testing.T) {
	h := NewHandler(council.NewService(echoCaller{}, store.NewMemory(), nil))
	s := &fakeSender{}

	h.selectAI(context.Background(), s, 3, "nomadeum")
	if len(s.sent) != 1 || !strings.HasPrefix(s.sent[0].Text, "Usage: /ai") {
		t.Fatalf("unexpected replies: %+v", s.sent)
	}
}
