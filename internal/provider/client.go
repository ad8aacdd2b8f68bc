// Package provider talks to the remote chat backend that fronts the three
// AI providers.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/nomadeum/nomadeum/internal/domain"
	"github.com/nomadeum/nomadeum/internal/metrics"
)

const (
	maxResponseBytes = 4 << 20
	timestampLayout  = "3:04:05 PM"
)

var (
	// ErrRateLimited matches a 429 from the backend.
	ErrRateLimited = errors.New("rate limited by backend")
	// ErrUnavailable matches a 503 from the backend.
	ErrUnavailable = errors.New("backend unavailable")
	errNoResponse  = errors.New("backend returned no response field")
)

// Caller sends one message to one provider and returns its text answer.
type Caller interface {
	Call(ctx context.Context, req Request) (string, error)
}

// Request is a single provider call.
type Request struct {
	Provider     domain.Source
	Message      string
	SystemPrompt string
	History      []domain.Message
	Attachments  []domain.Attachment
}

// HistoryEntry is the wire form of a prior chat message.
type HistoryEntry struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	AISource  string `json:"aiSource,omitempty"`
}

type chatBody struct {
	Message             string         `json:"message"`
	SystemPrompt        string         `json:"systemPrompt,omitempty"`
	ConversationHistory []HistoryEntry `json:"conversationHistory"`
}

type chatResponse struct {
	Response *string `json:"response"`
}

// StatusError is returned for non-2xx backend responses.
type StatusError struct {
	Provider   domain.Source
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s backend returned %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Is maps well-known status codes onto sentinel errors.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrUnavailable:
		return e.StatusCode == http.StatusServiceUnavailable
	}
	return false
}

// Client is the HTTP implementation of Caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a backend client with a per-call timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Call posts the message to /api/chat/{provider}.
func (c *Client) Call(ctx context.Context, req Request) (string, error) {
	if !req.Provider.IsProvider() {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownProvider, req.Provider)
	}

	start := time.Now()
	text, err := c.call(ctx, req)
	metrics.ProviderLatency.WithLabelValues(string(req.Provider)).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ProviderCallsTotal.WithLabelValues(string(req.Provider), outcome).Inc()
	return text, err
}

func (c *Client) call(ctx context.Context, req Request) (string, error) {
	body, contentType, err := encodeRequest(req)
	if err != nil {
		return "", err
	}

	url := c.baseURL + "/api/chat/" + string(req.Provider)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json, multipart/form-data")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s request: %w", req.Provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read %s response: %w", req.Provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{
			Provider:   req.Provider,
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(raw)), 200),
		}
	}

	text, err := decodeResponse(resp.Header.Get("Content-Type"), raw)
	if err != nil {
		return "", fmt.Errorf("parse %s response: %w", req.Provider, err)
	}
	return text, nil
}

// EncodeHistory converts chat messages to their wire form.
func EncodeHistory(msgs []domain.Message) []HistoryEntry {
	entries := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, HistoryEntry{
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.CreatedAt.Format(timestampLayout),
			AISource:  string(m.Source),
		})
	}
	return entries
}

func encodeRequest(req Request) (io.Reader, string, error) {
	history := EncodeHistory(req.History)

	if len(req.Attachments) == 0 {
		payload, err := json.Marshal(chatBody{
			Message:             req.Message,
			SystemPrompt:        req.SystemPrompt,
			ConversationHistory: history,
		})
		if err != nil {
			return nil, "", fmt.Errorf("marshal request: %w", err)
		}
		return bytes.NewReader(payload), "application/json", nil
	}

	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, "", fmt.Errorf("marshal history: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := []struct{ name, value string }{
		{"message", req.Message},
		{"systemPrompt", req.SystemPrompt},
		{"conversationHistory", string(historyJSON)},
	}
	for _, f := range fields {
		if f.name == "systemPrompt" && f.value == "" {
			continue
		}
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f.name, err)
		}
	}
	for _, a := range req.Attachments {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, a.Name))
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create file part: %w", err)
		}
		if _, err := part.Write(a.Data); err != nil {
			return nil, "", fmt.Errorf("write file part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func decodeResponse(contentType string, raw []byte) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err == nil && strings.HasPrefix(mediaType, "multipart/") {
		return decodeMultipart(raw, params["boundary"])
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", err
	}
	if parsed.Response == nil {
		return "", errNoResponse
	}
	return *parsed.Response, nil
}

func decodeMultipart(raw []byte, boundary string) (string, error) {
	if boundary == "" {
		return "", errors.New("multipart response without boundary")
	}
	r := multipart.NewReader(bytes.NewReader(raw), boundary)
	for {
		part, err := r.NextPart()
		if errors.Is(err, io.EOF) {
			return "", errNoResponse
		}
		if err != nil {
			return "", err
		}
		if part.FormName() != "response" {
			continue
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
