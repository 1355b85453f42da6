package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mofodox/skywriter/internal/domain"
	"github.com/mofodox/skywriter/internal/identity"
	"github.com/mofodox/skywriter/internal/reaction"
)

// GetReactions returns the reaction aggregate for a post, resolving
// "mine" against the caller's session. A read failure degrades to zero
// counts rather than blocking the feed.
func (h *Handler) GetReactions(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "postID")
	sessionID := identity.SessionIDFromContext(r.Context())

	JSON(w, http.StatusOK, h.aggregate(r, postID, sessionID))
}

type toggleRequest struct {
	Type domain.ReactionType `json:"type"`
}

// ToggleReaction applies one reaction toggle for the caller's session
// and returns the freshly recomputed aggregate. No count is adjusted
// speculatively: the response reflects a re-read of server truth after
// the write confirmed.
func (h *Handler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "postID")
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		Error(w, http.StatusUnauthorized, "no session")
		return
	}

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Type.IsValid() {
		Error(w, http.StatusBadRequest, "unknown reaction type")
		return
	}

	post, err := h.repo.GetPost(r.Context(), postID)
	if err != nil {
		slog.Error("Failed to load post for toggle", "post_id", postID, "error", err)
		Error(w, http.StatusBadGateway, "failed to load post")
		return
	}
	if post == nil {
		Error(w, http.StatusNotFound, "post not found")
		return
	}

	if _, err := h.toggler.Toggle(r.Context(), postID, sessionID, req.Type); err != nil {
		if errors.Is(err, reaction.ErrToggleInFlight) {
			Error(w, http.StatusConflict, "reaction toggle in progress")
			return
		}
		slog.Error("Failed to toggle reaction", "post_id", postID, "error", err)
		Error(w, http.StatusBadGateway, "failed to toggle reaction")
		return
	}

	JSON(w, http.StatusOK, h.aggregate(r, postID, sessionID))
}

// aggregate re-reads the full record set and recomputes, degrading to
// zero counts when the read fails ("no reactions yet").
func (h *Handler) aggregate(r *http.Request, postID, sessionID string) domain.ReactionAggregate {
	records, err := h.repo.ListReactions(r.Context(), postID)
	if err != nil {
		slog.Warn("Failed to list reactions, serving zero counts", "post_id", postID, "error", err)
		return domain.ZeroAggregate(postID)
	}
	return reaction.ComputeAggregate(postID, records, sessionID)
}
