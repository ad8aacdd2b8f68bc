package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/nomadeum/nomadeum/internal/domain"
	"github.com/nomadeum/nomadeum/internal/metrics"
)

const ttlWorkerInterval = 5 * time.Minute

// CleanupCallback is called for each conversation removed by the TTL worker.
type CleanupCallback func(key domain.Key)

// StartTTLWorker runs a background goroutine that periodically sweeps
// conversations idle for longer than ttl.
func StartTTLWorker(ctx context.Context, repo Repository, ttl time.Duration, onCleanup CleanupCallback) {
	if ttl <= 0 {
		slog.Info("TTL worker disabled", "ttl", ttl)
		return
	}

	ticker := time.NewTicker(ttlWorkerInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", ttlWorkerInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				SweepExpired(ctx, repo, ttl, onCleanup)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// SweepExpired deletes every expired conversation once and returns how many were removed.
func SweepExpired(ctx context.Context, repo Repository, ttl time.Duration, onCleanup CleanupCallback) int {
	expired, err := repo.GetExpiredConversations(ctx, ttl)
	if err != nil {
		slog.Error("TTL worker failed to get expired conversations", "error", err)
		return 0
	}

	if len(expired) == 0 {
		return 0
	}

	slog.Info("TTL worker found expired conversations", "count", len(expired))

	cleaned := 0
	for _, conv := range expired {
		if err := repo.DeleteConversation(ctx, conv.ID); err != nil {
			slog.Warn("TTL worker failed to delete conversation",
				"error", err,
				"conversation_id", conv.ID,
				"user_id", conv.UserID)
			continue
		}

		if onCleanup != nil {
			onCleanup(conv.Key())
		}
		cleaned++
	}

	metrics.ConversationsExpired.Add(float64(cleaned))
	slog.Info("TTL worker cleanup completed", "cleaned", cleaned)
	return cleaned
}
