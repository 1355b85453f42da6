package reaction

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mofodox/skywriter/internal/domain"
)

// fakeStore is an in-memory reaction record set with fault injection.
type fakeStore struct {
	mu        sync.Mutex
	reactions []domain.Reaction

	failList   bool
	failDelete bool
	failInsert bool

	// listGate, when set, blocks ListSessionReactions until released;
	// listEntered (buffered) observes that the read began.
	listGate    chan struct{}
	listEntered chan struct{}
}

var errStoreDown = errors.New("store unavailable")

func (f *fakeStore) ListReactions(_ context.Context, postID string) ([]domain.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList {
		return nil, errStoreDown
	}

	var out []domain.Reaction
	for _, rec := range f.reactions {
		if rec.PostID == postID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) ListSessionReactions(_ context.Context, postID, sessionID string) ([]domain.Reaction, error) {
	f.mu.Lock()
	gate := f.listGate
	entered := f.listEntered
	f.mu.Unlock()
	if gate != nil {
		if entered != nil {
			select {
			case entered <- struct{}{}:
			default:
			}
		}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList {
		return nil, errStoreDown
	}

	var out []domain.Reaction
	for _, rec := range f.reactions {
		if rec.PostID == postID && rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteSessionReactions(_ context.Context, postID, sessionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete {
		return 0, errStoreDown
	}

	var kept []domain.Reaction
	var deleted int64
	for _, rec := range f.reactions {
		if rec.PostID == postID && rec.SessionID == sessionID {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	f.reactions = kept
	return deleted, nil
}

func (f *fakeStore) InsertReaction(_ context.Context, reaction *domain.Reaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsert {
		return errStoreDown
	}
	f.reactions = append(f.reactions, *reaction)
	return nil
}

func (f *fakeStore) seed(postID, sessionID string, t domain.ReactionType, createdAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, domain.Reaction{
		ID:        "seed-" + postID + "-" + sessionID + "-" + string(t) + createdAt.String(),
		PostID:    postID,
		Type:      t,
		SessionID: sessionID,
		CreatedAt: createdAt,
	})
}

func (f *fakeStore) sessionRecords(postID, sessionID string) []domain.Reaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Reaction
	for _, rec := range f.reactions {
		if rec.PostID == postID && rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	return out
}
