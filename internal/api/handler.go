// Package api provides HTTP handlers for the Skywriter API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mofodox/skywriter/internal/posts"
	"github.com/mofodox/skywriter/internal/reaction"
	"github.com/mofodox/skywriter/internal/store"
)

// Handler serves the posts and reactions endpoints.
type Handler struct {
	repo    store.Repository
	toggler *reaction.Toggler
	posts   *posts.Service
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, toggler *reaction.Toggler, postsSvc *posts.Service) *Handler {
	return &Handler{
		repo:    repo,
		toggler: toggler,
		posts:   postsSvc,
	}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/posts", h.ListPosts)
		r.Post("/posts", h.CreatePost)
		r.Get("/posts/{postID}/reactions", h.GetReactions)
		r.Post("/posts/{postID}/reactions", h.ToggleReaction)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
