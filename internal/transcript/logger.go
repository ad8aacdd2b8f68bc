// Package transcript writes chat transcripts as NDJSON, one file per user tab.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nomadeum/nomadeum/internal/config"
)

// Event is one transcript line.
type Event struct {
	Timestamp      string `json:"ts"`
	UserID         string `json:"user_id"`
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
	Mode           string `json:"mode,omitempty"`
	Role           string `json:"role"`
	Source         string `json:"ai_source,omitempty"`
	Content        string `json:"content"`
}

// Logger records transcript events. Log must not block the caller.
type Logger interface {
	Log(event Event)
	Close() error
}

type noopLogger struct{}

func (noopLogger) Log(Event)    {}
func (noopLogger) Close() error { return nil }

// Noop returns a Logger that discards everything.
func Noop() Logger { return noopLogger{} }

// FileLogger appends events to <dir>/<user>/<session>.ndjson from a background goroutine.
type FileLogger struct {
	dir    string
	queue  chan Event
	logger *slog.Logger

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewLogger creates a transcript logger. A disabled config yields Noop.
func NewLogger(cfg config.TranscriptConfig, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = 1000
	}
	l := &FileLogger{
		dir:    cfg.Dir,
		queue:  make(chan Event, size),
		logger: logger,
	}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log queues event. It is dropped when the queue is full.
func (l *FileLogger) Log(event Event) {
	defer func() {
		// Log after Close.
		if recover() != nil {
			l.logger.Debug("Transcript logger closed, dropping event", "user_id", event.UserID)
		}
	}()

	select {
	case l.queue <- event:
	default:
		l.logger.Warn("Transcript queue full, dropping event",
			"user_id", event.UserID,
			"session_id", event.SessionID,
			"queue_len", len(l.queue),
		)
	}
}

// Close flushes queued events and stops the writer.
func (l *FileLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.queue)
	})
	l.wg.Wait()
	return nil
}

func (l *FileLogger) run() {
	defer l.wg.Done()
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.logger.Warn("Failed to write transcript", "error", err, "user_id", event.UserID)
		}
	}
}

func (l *FileLogger) write(event Event) error {
	dir := filepath.Join(l.dir, safeName(event.UserID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	f, err := os.OpenFile(filepath.Join(dir, safeName(event.SessionID)+".ndjson"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// safeName keeps identifiers from escaping the transcript directory.
func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	if s == "" {
		return "unknown"
	}
	return s
}
