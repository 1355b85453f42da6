package reaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mofodox/skywriter/internal/domain"
	"github.com/mofodox/skywriter/internal/feed"
)

// ErrToggleInFlight is returned when a toggle for the same (post,
// session) pair is already being applied. Callers should simply drop
// the request; the in-flight toggle resolves the state.
var ErrToggleInFlight = errors.New("reaction toggle already in flight")

// Store is the mutation surface the toggle engine needs.
type Store interface {
	ListSessionReactions(ctx context.Context, postID, sessionID string) ([]domain.Reaction, error)
	DeleteSessionReactions(ctx context.Context, postID, sessionID string) (int64, error)
	InsertReaction(ctx context.Context, reaction *domain.Reaction) error
}

// Toggler applies reaction toggles while upholding the at-most-one-
// reaction-per-session-per-post invariant.
//
// The store has no unique constraint backing the invariant, so every
// toggle clears the pair's records before writing new state: stray
// duplicates left by earlier races get swept up on the next successful
// toggle. No transaction spans the delete and the insert; the
// intermediate state may be briefly visible to concurrent readers, and
// the reconciliation loop converges them afterwards.
type Toggler struct {
	store Store
	bus   *feed.Bus

	// Per-(post, session) guard: a second toggle while one is in
	// flight is rejected instead of interleaving.
	inflight sync.Map
}

// NewToggler creates a toggle engine publishing change events to bus.
// A nil bus disables publication.
func NewToggler(store Store, bus *feed.Bus) *Toggler {
	return &Toggler{store: store, bus: bus}
}

// Toggle applies one requested reaction for a session on a post and
// returns the settled reaction type for the pair (ReactionNone after a
// toggle-off). On error the state is unknown; callers must re-fetch
// truth rather than assume the toggle had no effect.
func (t *Toggler) Toggle(ctx context.Context, postID, sessionID string, requested domain.ReactionType) (domain.ReactionType, error) {
	if !requested.IsValid() {
		return domain.ReactionNone, fmt.Errorf("unknown reaction type %q", requested)
	}
	if postID == "" || sessionID == "" {
		return domain.ReactionNone, fmt.Errorf("toggle requires post and session ids")
	}

	key := postID + ":" + sessionID
	lock, _ := t.inflight.LoadOrStore(key, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	if !mu.TryLock() {
		return domain.ReactionNone, ErrToggleInFlight
	}
	defer mu.Unlock()

	existing, err := t.store.ListSessionReactions(ctx, postID, sessionID)
	if err != nil {
		return domain.ReactionNone, fmt.Errorf("read current reaction: %w", err)
	}
	current := latest(existing)

	// Same type: toggle off. The delete clears duplicates too.
	if current != nil && current.Type == requested {
		if err := t.clear(ctx, postID, sessionID, current); err != nil {
			return domain.ReactionNone, err
		}
		return domain.ReactionNone, nil
	}

	// Different type or none yet: clear first even when the read saw
	// nothing, then insert the new record.
	if err := t.clear(ctx, postID, sessionID, current); err != nil {
		return domain.ReactionNone, err
	}

	rec := &domain.Reaction{
		ID:        uuid.NewString(),
		PostID:    postID,
		Type:      requested,
		SessionID: sessionID,
		CreatedAt: time.Now(),
	}
	if err := t.store.InsertReaction(ctx, rec); err != nil {
		return domain.ReactionNone, fmt.Errorf("insert reaction: %w", err)
	}
	t.publish(feed.Event{
		Table:  feed.TableReactions,
		Kind:   feed.KindInsert,
		New:    *rec,
		Fields: map[string]string{"post_id": postID},
	})

	return requested, nil
}

// clear removes every record the session holds on the post and
// publishes a delete event when anything was actually removed.
func (t *Toggler) clear(ctx context.Context, postID, sessionID string, current *domain.Reaction) error {
	deleted, err := t.store.DeleteSessionReactions(ctx, postID, sessionID)
	if err != nil {
		return fmt.Errorf("clear reactions: %w", err)
	}
	if deleted > 1 {
		slog.Warn("Cleared duplicate reactions for session",
			"post_id", postID, "session_id", sessionID, "deleted", deleted)
	}
	if deleted == 0 {
		return nil
	}

	ev := feed.Event{
		Table:  feed.TableReactions,
		Kind:   feed.KindDelete,
		Fields: map[string]string{"post_id": postID},
	}
	if current != nil {
		ev.Old = *current
	}
	t.publish(ev)
	return nil
}

func (t *Toggler) publish(ev feed.Event) {
	if t.bus != nil {
		t.bus.Publish(ev)
	}
}

// latest picks the record to treat as the session's current reaction:
// the most recently created, falling back to the later fetch position
// on equal timestamps.
func latest(records []domain.Reaction) *domain.Reaction {
	var pick *domain.Reaction
	for i := range records {
		rec := &records[i]
		if pick == nil || !rec.CreatedAt.Before(pick.CreatedAt) {
			pick = rec
		}
	}
	return pick
}
