// Package ws streams reaction aggregates and the post feed over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/mofodox/skywriter/internal/domain"
	"github.com/mofodox/skywriter/internal/feed"
	"github.com/mofodox/skywriter/internal/identity"
	"github.com/mofodox/skywriter/internal/posts"
	"github.com/mofodox/skywriter/internal/reaction"
	"github.com/mofodox/skywriter/internal/store"
)

// Handler upgrades realtime connections and wires each one to the
// change feed.
type Handler struct {
	repo          store.Repository
	bus           *feed.Bus
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new WebSocket handler.
func NewHandler(repo store.Repository, bus *feed.Bus, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		repo:          repo,
		bus:           bus,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsConn serializes writes to a single connection. Sinks push frames
// from their own goroutine while the read loop answers pings, so every
// write goes through the mutex.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(context.Background(), websocket.MessageText, data)
}

// clientMessage represents inbound WebSocket message structure.
type clientMessage struct {
	Type     string `json:"type"`
	Category string `json:"category,omitempty"`
}

type aggregateFrame struct {
	Type string `json:"type"`
	domain.ReactionAggregate
}

type feedFrame struct {
	Type string `json:"type"`
	posts.Snapshot
}

// ServeReactions streams the live reaction aggregate for one post.
// Every frame carries the full recomputed aggregate, never a delta, so
// duplicated or reordered change events cannot skew the counts.
func (h *Handler) ServeReactions(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	postID := r.URL.Query().Get("post_id")
	if postID == "" {
		http.Error(w, "post_id required", http.StatusBadRequest)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	post, err := h.repo.GetPost(r.Context(), postID)
	if err != nil {
		slog.Error("Failed to load post for reaction stream", "post_id", postID, "error", err)
		http.Error(w, "failed to load post", http.StatusBadGateway)
		return
	}
	if post == nil {
		http.Error(w, "post not found", http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "post_id", postID)
		return
	}
	conn := &wsConn{conn: ws}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "post_id", postID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	rec := reaction.NewReconciler(h.repo, h.bus, postID, sessionID, func(agg domain.ReactionAggregate) {
		if err := conn.writeJSON(aggregateFrame{Type: "aggregate", ReactionAggregate: agg}); err != nil {
			slog.Debug("Failed to write aggregate frame", "error", err, "post_id", postID)
			cancel()
		}
	})
	rec.Start(ctx)
	defer func() {
		cancel()
		rec.Stop()
	}()

	slog.Info("Reaction stream opened", "post_id", postID, "session_id", sessionID)
	h.readLoop(ctx, conn, nil)
	slog.Info("Reaction stream closed", "post_id", postID)
}

// ServeFeed streams category-filtered post snapshots. The client
// switches filters with {"type":"filter","category":"Rant"}; an empty
// or "All" category clears the filter.
func (h *Handler) ServeFeed(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err)
		return
	}
	conn := &wsConn{conn: ws}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	feedSync := posts.NewSynchronizer(h.repo.ListPosts, h.bus, func(snap posts.Snapshot) {
		if err := conn.writeJSON(feedFrame{Type: "feed", Snapshot: snap}); err != nil {
			slog.Debug("Failed to write feed frame", "error", err)
			cancel()
		}
	})
	feedSync.Start(ctx)
	defer func() {
		cancel()
		feedSync.Stop()
	}()
	if err := feedSync.SetFilter(ctx, ""); err != nil {
		slog.Warn("Initial feed fetch failed", "error", err)
	}

	slog.Info("Feed stream opened", "ip", r.RemoteAddr)
	h.readLoop(ctx, conn, func(msg clientMessage) {
		if msg.Type != "filter" {
			return
		}
		category, ok := ParseCategory(msg.Category)
		if !ok {
			if err := conn.writeJSON(map[string]string{"type": "error", "error": "unknown category"}); err != nil {
				slog.Debug("Failed to write error frame", "error", err)
			}
			return
		}
		if err := feedSync.SetFilter(ctx, category); err != nil {
			slog.Warn("Feed filter fetch failed", "category", category, "error", err)
		}
	})
	slog.Info("Feed stream closed")
}

// readLoop consumes inbound frames until the connection drops,
// answering pings and passing everything else to handle.
func (h *Handler) readLoop(ctx context.Context, conn *wsConn, handle func(clientMessage)) {
	for {
		_, message, err := conn.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client")
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			slog.Debug("Dropping malformed WebSocket message", "error", err)
			continue
		}

		if msg.Type == "ping" {
			if err := conn.writeJSON(map[string]string{"type": "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
			continue
		}
		if handle != nil {
			handle(msg)
		}
	}
}

// ParseCategory maps a client-supplied category string to a feed
// filter. Empty and "All" mean unfiltered.
func ParseCategory(raw string) (domain.Category, bool) {
	if raw == "" || raw == "All" {
		return "", true
	}
	category := domain.Category(raw)
	return category, category.IsValid()
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
