// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/mofodox/skywriter/internal/domain"
)

// Repository defines the interface for persisting posts and reactions.
type Repository interface {
	// CreatePost inserts a new post record.
	CreatePost(ctx context.Context, post *domain.Post) error

	// GetPost retrieves a post by ID. Returns (nil, nil) when no post exists.
	GetPost(ctx context.Context, postID string) (*domain.Post, error)

	// ListPosts retrieves posts ordered newest-first. An empty category
	// matches all posts.
	ListPosts(ctx context.Context, category domain.Category) ([]domain.Post, error)

	// InsertReaction inserts a new reaction record.
	InsertReaction(ctx context.Context, reaction *domain.Reaction) error

	// ListReactions retrieves all reaction records for a post in
	// creation order.
	ListReactions(ctx context.Context, postID string) ([]domain.Reaction, error)

	// ListSessionReactions retrieves the reaction records one session
	// holds on a post. The invariant says at most one, but transient
	// races can leave more; callers decide how to resolve that.
	ListSessionReactions(ctx context.Context, postID, sessionID string) ([]domain.Reaction, error)

	// DeleteSessionReactions removes every reaction record a session
	// holds on a post, returning how many were removed.
	DeleteSessionReactions(ctx context.Context, postID, sessionID string) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
