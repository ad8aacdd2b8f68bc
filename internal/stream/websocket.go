package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/nomadeum/nomadeum/internal/council"
	"github.com/nomadeum/nomadeum/internal/domain"
	"github.com/nomadeum/nomadeum/internal/identity"
	"github.com/nomadeum/nomadeum/internal/metrics"
)

const writeTimeout = 10 * time.Second

// ClientFrame is a message from the browser.
type ClientFrame struct {
	Type    string `json:"type"` // send, continue, reset, ping
	Mode    string `json:"mode,omitempty"`
	Target  string `json:"target,omitempty"`
	Message string `json:"message,omitempty"`
}

// ServerFrame is a message to the browser.
type ServerFrame struct {
	Type    string          `json:"type"` // thinking, provider_done, message, debate_open, error, pong
	Source  domain.Source   `json:"source,omitempty"`
	Message *domain.Message `json:"message,omitempty"`
	Open    *bool           `json:"open,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Limiter throttles chat turns per anonymous user.
type Limiter interface {
	Allow(key string) bool
}

// WebSocketHandler runs chat turns for a connected tab.
type WebSocketHandler struct {
	svc            *council.Service
	hub            *Hub
	limiter        Limiter
	allowedOrigins []string
	isDev          bool
}

// NewWebSocketHandler creates a new WebSocket handler. send and continue
// frames share the limiter with the REST chat routes; a nil limiter
// disables throttling.
func NewWebSocketHandler(svc *council.Service, hub *Hub, limiter Limiter, allowedOrigins []string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		svc:            svc,
		hub:            hub,
		limiter:        limiter,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

// connWriter serializes frames onto one connection.
type connWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *connWriter) send(f ServerFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		slog.Error("Failed to encode frame", "error", err, "type", f.Type)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write error", "error", err, "type", f.Type)
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := identity.KeyFromContext(r.Context())
	slog.Info("WebSocket connection request", "user_id", key.UserID, "session_id", key.SessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin checked above
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", key.UserID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", key.UserID)
		}
	}()

	h.hub.Register(key, ws)
	defer h.hub.Unregister(key, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := &connWriter{conn: ws}
	var turns sync.WaitGroup

	h.inputLoop(ctx, ws, out, key, &turns)
	cancel()
	turns.Wait()
	slog.Info("Chat stream ended", "user_id", key.UserID, "session_id", key.SessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Scheme+"://"+u.Host) {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, out *connWriter, key domain.Key, turns *sync.WaitGroup) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "user_id", key.UserID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", key.UserID)
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			out.send(ServerFrame{Type: "error", Error: "invalid frame"})
			continue
		}

		switch frame.Type {
		case "ping":
			out.send(ServerFrame{Type: "pong"})
		case "send", "continue", "reset":
			if frame.Type != "reset" && !h.allow(key) {
				out.send(ServerFrame{Type: "error", Error: "rate limit exceeded"})
				continue
			}
			// Turns run off the read loop so pings and busy rejections stay responsive.
			turns.Add(1)
			go func() {
				defer turns.Done()
				h.runFrame(ctx, out, key, frame)
			}()
		default:
			out.send(ServerFrame{Type: "error", Error: "unknown frame type"})
		}
	}
}

func (h *WebSocketHandler) allow(key domain.Key) bool {
	if h.limiter == nil || h.limiter.Allow(key.UserID) {
		return true
	}
	metrics.RateLimitHits.WithLabelValues("ws").Inc()
	slog.Warn("WebSocket turn rate limited", "user_id", key.UserID)
	return false
}

func (h *WebSocketHandler) runFrame(ctx context.Context, out *connWriter, key domain.Key, frame ClientFrame) {
	obs := council.ObserverFuncs{
		OnProvider: func(s domain.Source) {
			out.send(ServerFrame{Type: "provider_done", Source: s})
		},
		OnMessage: func(m domain.Message) {
			out.send(ServerFrame{Type: "message", Message: &m})
		},
	}

	var (
		res *council.TurnResult
		err error
	)
	switch frame.Type {
	case "send":
		out.send(ServerFrame{Type: "thinking"})
		res, err = h.svc.Send(ctx, key, council.SendRequest{
			Mode:    domain.Mode(strings.TrimSpace(frame.Mode)),
			Target:  domain.Source(strings.TrimSpace(frame.Target)),
			Message: frame.Message,
		}, obs)
	case "continue":
		out.send(ServerFrame{Type: "thinking"})
		res, err = h.svc.ContinueDebate(ctx, key, obs)
	case "reset":
		err = h.svc.Reset(ctx, key)
		if err == nil {
			out.send(debateFrame(false))
			return
		}
	}

	if err != nil {
		out.send(ServerFrame{Type: "error", Error: frameError(err)})
		if errors.Is(err, domain.ErrProviderFailure) {
			out.send(debateFrame(false))
		}
		return
	}
	out.send(debateFrame(res.Conversation.DebateOpen))
}

func debateFrame(open bool) ServerFrame {
	return ServerFrame{Type: "debate_open", Open: &open}
}

func frameError(err error) string {
	switch {
	case errors.Is(err, domain.ErrProviderFailure):
		return council.ErrorNotice
	case council.IsClientError(err), errors.Is(err, domain.ErrBusy), errors.Is(err, domain.ErrNoDebate):
		return err.Error()
	}
	slog.Error("Chat stream turn failed", "error", err)
	return "internal error"
}
