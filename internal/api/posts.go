package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mofodox/skywriter/internal/domain"
	"github.com/mofodox/skywriter/internal/identity"
	"github.com/mofodox/skywriter/internal/posts"
)

// GetMe returns the caller's anonymous session identity.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		Error(w, http.StatusUnauthorized, "no session")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"persistent": identity.IsValidSessionID(sessionID),
	})
}

// ListPosts returns posts newest-first, optionally filtered by category.
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	category := domain.Category(r.URL.Query().Get("category"))
	if category != "" && !category.IsValid() {
		Error(w, http.StatusBadRequest, "unknown category")
		return
	}

	list, err := h.repo.ListPosts(r.Context(), category)
	if err != nil {
		slog.Error("Failed to list posts", "category", category, "error", err)
		Error(w, http.StatusBadGateway, "failed to load posts")
		return
	}
	if list == nil {
		list = []domain.Post{}
	}

	JSON(w, http.StatusOK, list)
}

type createPostRequest struct {
	Content  string          `json:"content"`
	Category domain.Category `json:"category"`
}

// CreatePost creates a new post and announces it on the change feed.
func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	post, err := h.posts.Create(r.Context(), req.Content, req.Category)
	switch {
	case errors.Is(err, posts.ErrEmptyContent),
		errors.Is(err, posts.ErrContentTooLong),
		errors.Is(err, posts.ErrInvalidCategory):
		Error(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.Error("Failed to create post", "error", err)
		Error(w, http.StatusBadGateway, "failed to create post")
		return
	}

	JSON(w, http.StatusCreated, post)
}
