package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/nomadeum/nomadeum/internal/council"
	"github.com/nomadeum/nomadeum/internal/domain"
	"github.com/nomadeum/nomadeum/internal/identity"
)

const maxMultipartMemory = 32 << 20

// ProviderInfo describes a selectable provider.
type ProviderInfo struct {
	ID    domain.Source `json:"id"`
	Label string        `json:"label"`
}

// SendMessageRequest is the JSON body of POST /api/chat/messages.
type SendMessageRequest struct {
	Message string `json:"message"`
	Mode    string `json:"mode,omitempty"`
	Target  string `json:"target,omitempty"`
}

// SettingsRequest is the body of PUT /api/chat/settings.
type SettingsRequest struct {
	Mode       string `json:"mode,omitempty"`
	SelectedAI string `json:"selectedAI,omitempty"`
}

// HandleProviders lists the providers in fan-out order.
func (h *Handler) HandleProviders(w http.ResponseWriter, _ *http.Request) {
	providers := h.svc.Providers()
	out := make([]ProviderInfo, 0, len(providers))
	for _, p := range providers {
		out = append(out, ProviderInfo{ID: p, Label: p.Label()})
	}
	JSON(w, http.StatusOK, out)
}

// HandleGetChat returns the tab's conversation and messages.
func (h *Handler) HandleGetChat(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.Conversation(r.Context(), identity.KeyFromContext(r.Context()))
	if err != nil {
		serviceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, state)
}

// HandleSettings changes the mode or the selected provider.
func (h *Handler) HandleSettings(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		decodeError(w, r, err)
		return
	}

	conv, err := h.svc.UpdateSettings(r.Context(), identity.KeyFromContext(r.Context()), council.Settings{
		Mode:       domain.Mode(strings.TrimSpace(req.Mode)),
		SelectedAI: domain.Source(strings.TrimSpace(req.SelectedAI)),
	})
	if err != nil {
		serviceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, conv)
}

// HandleSendMessage runs one chat turn. Provider failures are recorded in
// the conversation and reported with failed=true rather than an error status.
func (h *Handler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	req, err := parseSendRequest(r)
	if err != nil {
		decodeError(w, r, err)
		return
	}

	res, err := h.svc.Send(r.Context(), identity.KeyFromContext(r.Context()), req, nil)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// HandleContinueDebate runs one rebuttal round.
func (h *Handler) HandleContinueDebate(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ContinueDebate(r.Context(), identity.KeyFromContext(r.Context()), nil)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// HandleReset discards the tab's conversation.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Reset(r.Context(), identity.KeyFromContext(r.Context())); err != nil {
		serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseSendRequest(r *http.Request) (council.SendRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return parseMultipartSend(r)
	}

	var body SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return council.SendRequest{}, err
	}
	return council.SendRequest{
		Mode:    domain.Mode(strings.TrimSpace(body.Mode)),
		Target:  domain.Source(strings.TrimSpace(body.Target)),
		Message: body.Message,
	}, nil
}

func parseMultipartSend(r *http.Request) (council.SendRequest, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return council.SendRequest{}, err
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req := council.SendRequest{
		Mode:    domain.Mode(strings.TrimSpace(r.FormValue("mode"))),
		Target:  domain.Source(strings.TrimSpace(r.FormValue("target"))),
		Message: r.FormValue("message"),
	}
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			return council.SendRequest{}, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return council.SendRequest{}, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		req.Attachments = append(req.Attachments, domain.Attachment{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return req, nil
}

func decodeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		serviceError(w, r, err)
		return
	}
	Error(w, http.StatusBadRequest, "invalid request body")
}
