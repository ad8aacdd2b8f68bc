package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts the chat API. Identity middleware must already be applied.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/providers", h.HandleProviders)
	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/", h.HandleGetChat)
		r.Delete("/", h.HandleReset)
		r.Put("/settings", h.HandleSettings)

		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(h.limiter.Middleware("chat"))
			}
			r.Post("/messages", h.HandleSendMessage)
			r.Post("/debate/continue", h.HandleContinueDebate)
		})
	})
}

// RegisterHealth mounts the health endpoint outside identity handling.
func (h *Handler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Head("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
}
