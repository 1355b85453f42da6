// Package posts provides post creation and the category-filtered feed
// synchronizer.
package posts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mofodox/skywriter/internal/domain"
	"github.com/mofodox/skywriter/internal/feed"
)

// Validation errors surfaced to the API layer.
var (
	ErrEmptyContent    = errors.New("post content is empty")
	ErrContentTooLong  = errors.New("post content is too long")
	ErrInvalidCategory = errors.New("unknown post category")
)

// Creator is the store surface needed for creating posts.
type Creator interface {
	CreatePost(ctx context.Context, post *domain.Post) error
}

// Service creates posts and announces them on the change feed.
type Service struct {
	store      Creator
	bus        *feed.Bus
	maxPostLen int
}

// NewService creates a post service. A nil bus disables publication.
func NewService(store Creator, bus *feed.Bus, maxPostLen int) *Service {
	return &Service{store: store, bus: bus, maxPostLen: maxPostLen}
}

// Create validates, persists, and announces a new post. The insert
// event goes out only after the write is confirmed.
func (s *Service) Create(ctx context.Context, content string, category domain.Category) (*domain.Post, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if s.maxPostLen > 0 && len(content) > s.maxPostLen {
		return nil, ErrContentTooLong
	}
	if !category.IsValid() {
		return nil, ErrInvalidCategory
	}

	post := &domain.Post{
		ID:        uuid.NewString(),
		Content:   content,
		Category:  category,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}

	if s.bus != nil {
		s.bus.Publish(feed.Event{
			Table: feed.TablePosts,
			Kind:  feed.KindInsert,
			New:   *post,
			Fields: map[string]string{
				"id":       post.ID,
				"category": string(post.Category),
			},
		})
	}

	return post, nil
}
