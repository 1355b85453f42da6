package posts

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mofodox/skywriter/internal/domain"
	"github.com/mofodox/skywriter/internal/feed"
)

// ListFunc fetches posts newest-first; an empty category matches all.
type ListFunc func(ctx context.Context, category domain.Category) ([]domain.Post, error)

// Snapshot is a copy of the synchronizer state handed to the sink.
type Snapshot struct {
	Filter  domain.Category `json:"filter,omitempty"`
	Posts   []domain.Post   `json:"posts"`
	Loading bool            `json:"loading"`
}

// SnapshotSink receives every state change. Sinks must return quickly
// and must not call back into the synchronizer.
type SnapshotSink func(Snapshot)

// Synchronizer maintains an ordered post list for the active category
// filter, merging inserts pushed over the change feed. New posts
// prepend only when they match the filter; everything else is dropped.
// The list is keyed by post ID and prepends de-duplicate, so the feed
// echo of a locally added post renders once.
type Synchronizer struct {
	list ListFunc
	bus  *feed.Bus
	sink SnapshotSink

	mu      sync.Mutex
	filter  domain.Category // "" = all
	posts   []domain.Post
	loading bool
	stopped bool
	sub     *feed.Subscription
	done    chan struct{}
}

// NewSynchronizer creates a feed synchronizer. It starts following the
// global post insert feed once Start is called; the initial filter is
// "all posts" until SetFilter changes it.
func NewSynchronizer(list ListFunc, bus *feed.Bus, sink SnapshotSink) *Synchronizer {
	return &Synchronizer{list: list, bus: bus, sink: sink}
}

// Start subscribes to the post feed and begins merging inserts. It
// does not fetch; call SetFilter for the initial load.
func (s *Synchronizer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopped || s.done != nil {
		s.mu.Unlock()
		return
	}
	s.sub = s.bus.Subscribe(feed.TablePosts, "", "")
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
}

// SetFilter activates a category filter: the current list is
// discarded and replaced by a fresh fetch. The fetch is tagged with
// the filter it was issued under; if the filter changed again before
// it completed, its results are discarded rather than applied to the
// newer filter's view.
func (s *Synchronizer) SetFilter(ctx context.Context, filter domain.Category) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.filter = filter
	s.posts = nil
	s.loading = true
	s.pushLocked()
	s.mu.Unlock()

	posts, err := s.list(ctx, filter)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.filter != filter {
		// Stale fetch: a newer filter owns the view now.
		return nil
	}
	s.loading = false
	if err != nil {
		slog.Warn("Post fetch failed", "filter", filter, "error", err)
		s.pushLocked()
		return err
	}
	s.posts = posts
	s.pushLocked()
	return nil
}

// AddPost prepends a locally created post without waiting for the feed
// echo; the echo is absorbed by the ID de-dup.
func (s *Synchronizer) AddPost(post domain.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.prependLocked(post)
}

// Snapshot returns a copy of the current state.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Synchronizer) snapshotLocked() Snapshot {
	posts := make([]domain.Post, len(s.posts))
	copy(posts, s.posts)
	return Snapshot{Filter: s.filter, Posts: posts, Loading: s.loading}
}

func (s *Synchronizer) pushLocked() {
	if s.sink != nil {
		s.sink(s.snapshotLocked())
	}
}

// prependLocked adds a post to the top when it matches the active
// filter and is not already present.
func (s *Synchronizer) prependLocked(post domain.Post) {
	if s.filter != "" && post.Category != s.filter {
		return
	}
	for _, existing := range s.posts {
		if existing.ID == post.ID {
			return
		}
	}
	s.posts = append([]domain.Post{post}, s.posts...)
	s.pushLocked()
}

func (s *Synchronizer) loop(ctx context.Context) {
	defer close(s.done)

	for {
		s.mu.Lock()
		sub := s.sub
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}

		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				if !s.resubscribe(ctx) {
					return
				}
				continue
			}
			if ev.Kind != feed.KindInsert {
				// Posts are immutable; only inserts matter.
				continue
			}
			post, ok := ev.New.(domain.Post)
			if !ok {
				slog.Warn("Post feed event without post payload", "kind", ev.Kind)
				continue
			}
			s.mu.Lock()
			if !s.stopped {
				s.prependLocked(post)
			}
			s.mu.Unlock()
		}
	}
}

// resubscribe replaces a dropped subscription and re-fetches under the
// current filter, since inserts were lost while the old one was
// closed. Returns false when the synchronizer is stopping.
func (s *Synchronizer) resubscribe(ctx context.Context) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	slog.Warn("Post feed subscription dropped, re-subscribing")
	s.sub = s.bus.Subscribe(feed.TablePosts, "", "")
	filter := s.filter
	s.mu.Unlock()

	if err := s.SetFilter(ctx, filter); err != nil {
		slog.Warn("Post re-fetch after subscription drop failed", "error", err)
	}
	return true
}

// Stop unsubscribes and waits for the merge loop to exit. After Stop
// returns the sink is never invoked again.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	sub := s.sub
	done := s.done
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if done != nil {
		<-done
	}
}
