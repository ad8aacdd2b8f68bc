// Nomadeum Telegram bot
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-telegram/bot"

	"github.com/nomadeum/nomadeum/internal/config"
	"github.com/nomadeum/nomadeum/internal/council"
	"github.com/nomadeum/nomadeum/internal/provider"
	"github.com/nomadeum/nomadeum/internal/store"
	"github.com/nomadeum/nomadeum/internal/telegram"
	"github.com/nomadeum/nomadeum/internal/transcript"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.SlogLevel())

	if cfg.BotToken == "" {
		slog.Error("BOT_TOKEN is required")
		os.Exit(1)
	}

	// Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := store.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer func() { _ = repo.Close() }()

	transcripts, err := transcript.NewLogger(cfg.Transcript, logger)
	if err != nil {
		slog.Error("failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}
	defer func() { _ = transcripts.Close() }()

	svc := council.NewService(provider.NewClient(cfg.BackendURL, cfg.ProviderTimeout), repo, transcripts)
	h := telegram.NewHandler(svc)

	b, err := bot.New(cfg.BotToken,
		bot.WithMiddlewares(telegram.Recover(), telegram.Logging()),
		// Plain text that matches no command goes to the chat service.
		bot.WithDefaultHandler(h.HandleText),
	)
	if err != nil {
		slog.Error("failed to create bot", "error", err)
		os.Exit(1)
	}

	me, err := b.GetMe(ctx)
	if err != nil {
		slog.Error("failed to get bot info", "error", err)
		os.Exit(1)
	}

	h.Register(b)
	store.StartTTLWorker(ctx, repo, cfg.ConversationTTL, nil)

	slog.Info("starting bot", "username", me.Username, "id", me.ID)
	b.Start(ctx)

	slog.Info("bot stopped gracefully")
}
