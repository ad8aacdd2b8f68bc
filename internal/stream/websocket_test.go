package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/nomadeum/nomadeum/internal/api"
	"github.com/nomadeum/nomadeum/internal/council"
	"github.com/nomadeum/nomadeum/internal/domain"
	"github.com/nomadeum/nomadeum/internal/identity"
	"github.com/nomadeum/nomadeum/internal/provider"
	"github.com/nomadeum/nomadeum/internal/store"
)

const testUser = "anon_0123456789abcdef0123456789abcdef"

type fakeCaller struct {
	err error
}

func (f fakeCaller) Call(_ context.Context, req provider.Request) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return string(req.Provider) + " reply", nil
}

func newStreamServer(t *testing.T, caller provider.Caller) (*httptest.Server, *Hub) {
	t.Helper()
	return newLimitedStreamServer(t, caller, nil)
}

func newLimitedStreamServer(t *testing.T, caller provider.Caller, limiter Limiter) (*httptest.Server, *Hub) {
	t.Helper()
	svc := council.NewService(caller, store.NewMemory(), nil)
	hub := NewHub()

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	r.Handle("/ws/chat", NewWebSocketHandler(svc, hub, limiter, nil, true))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header := http.Header{}
	header.Set("Cookie", identity.AnonCookieName+"="+testUser)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?session_id=tab-1"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, f ClientFrame) {
	t.Helper()
	data, _ := json.Marshal(f)
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

// readUntil collects frames up to and including the first of the given type.
func readUntil(t *testing.T, conn *websocket.Conn, frameType string) []ServerFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var frames []ServerFrame
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read failed after %d frames: %v", len(frames), err)
		}
		var f ServerFrame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("bad frame %q: %v", data, err)
		}
		frames = append(frames, f)
		if f.Type == frameType {
			return frames
		}
	}
}

func countType(frames []ServerFrame, frameType string) int {
	n := 0
	for _, f := range frames {
		if f.Type == frameType {
			n++
		}
	}
	return n
}

func TestStreamDebateTurn(t *testing.T) {
	srv, _ := newStreamServer(t, fakeCaller{})
	conn := dial(t, srv)

	write(t, conn, ClientFrame{Type: "send", Mode: "debate", Message: "Is AI creative?"})
	frames := readUntil(t, conn, "debate_open")

	if frames[0].Type != "thinking" {
		t.Fatalf("expected thinking first, got %q", frames[0].Type)
	}
	if got := countType(frames, "provider_done"); got != 3 {
		t.Fatalf("expected 3 provider_done frames, got %d", got)
	}

	var sources []domain.Source
	for _, f := range frames {
		if f.Type == "message" {
			sources = append(sources, f.Message.Source)
		}
	}
	want := []domain.Source{"", domain.SourceClaude, domain.SourceGrok, domain.SourceGemini}
	if len(sources) != len(want) {
		t.Fatalf("expected %d messages, got %v", len(want), sources)
	}
	for i := range want {
		if sources[i] != want[i] {
			t.Fatalf("message %d: expected %q, got %q", i, want[i], sources[i])
		}
	}

	last := frames[len(frames)-1]
	if last.Open == nil || !*last.Open {
		t.Fatal("expected debate to be open")
	}

	write(t, conn, ClientFrame{Type: "continue"})
	frames = readUntil(t, conn, "debate_open")
	if got := countType(frames, "message"); got != 3 {
		t.Fatalf("expected 3 rebuttals, got %d", got)
	}
}

func TestStreamContinueWithoutDebate(t *testing.T) {
	srv, _ := newStreamServer(t, fakeCaller{})
	conn := dial(t, srv)

	write(t, conn, ClientFrame{Type: "continue"})
	frames := readUntil(t, conn, "error")
	if last := frames[len(frames)-1]; last.Error != domain.ErrNoDebate.Error() {
		t.Fatalf("unexpected error frame: %+v", last)
	}
}

func TestStreamProviderFailure(t *testing.T) {
	srv, _ := newStreamServer(t, fakeCaller{err: errors.New("down")})
	conn := dial(t, srv)

	write(t, conn, ClientFrame{Type: "send", Message: "hi"})
	frames := readUntil(t, conn, "debate_open")

	var notice *domain.Message
	for _, f := range frames {
		if f.Type == "message" && f.Message.Source == domain.SourceError {
			notice = f.Message
		}
	}
	if notice == nil || notice.Content != council.ErrorNotice {
		t.Fatalf("expected error notice message, got %+v", frames)
	}
}

func TestStreamRateLimitsTurns(t *testing.T) {
	limiter := api.NewRateLimiter(1, time.Minute)
	t.Cleanup(limiter.Close)
	srv, _ := newLimitedStreamServer(t, fakeCaller{}, limiter)
	conn := dial(t, srv)

	write(t, conn, ClientFrame{Type: "send", Mode: "individual", Message: "first"})
	readUntil(t, conn, "debate_open")

	write(t, conn, ClientFrame{Type: "send", Mode: "individual", Message: "second"})
	frames := readUntil(t, conn, "error")
	if countType(frames, "thinking") != 0 || countType(frames, "message") != 0 {
		t.Fatalf("throttled frame should not start a turn: %+v", frames)
	}
	if got := frames[len(frames)-1].Error; got != "rate limit exceeded" {
		t.Fatalf("unexpected error %q", got)
	}

	write(t, conn, ClientFrame{Type: "continue"})
	frames = readUntil(t, conn, "error")
	if got := frames[len(frames)-1].Error; got != "rate limit exceeded" {
		t.Fatalf("continue should share the limit, got %q", got)
	}

	write(t, conn, ClientFrame{Type: "reset"})
	readUntil(t, conn, "debate_open")
}

func TestStreamRejectsUnknownFrame(t *testing.T) {
	srv, _ := newStreamServer(t, fakeCaller{})
	conn := dial(t, srv)

	write(t, conn, ClientFrame{Type: "dance"})
	frames := readUntil(t, conn, "error")
	if frames[len(frames)-1].Error != "unknown frame type" {
		t.Fatalf("unexpected frames: %+v", frames)
	}

	write(t, conn, ClientFrame{Type: "ping"})
	readUntil(t, conn, "pong")
}

func TestHubCloseConversationDisconnectsClient(t *testing.T) {
	srv, hub := newStreamServer(t, fakeCaller{})
	conn := dial(t, srv)

	key := domain.Key{UserID: testUser, SessionID: "tab-1"}
	deadline := time.Now().Add(2 * time.Second)
	for hub.GetActive(key) == nil {
		if time.Now().After(deadline) {
			t.Fatal("stream never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.CloseConversation(key)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("expected normal closure, got %v", err)
	}
	if hub.Count() != 0 {
		t.Fatalf("expected no active streams, got %d", hub.Count())
	}
}
