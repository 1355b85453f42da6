package reaction

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mofodox/skywriter/internal/domain"
	"github.com/mofodox/skywriter/internal/feed"
)

// Source lists the full reaction record set for a post.
type Source interface {
	ListReactions(ctx context.Context, postID string) ([]domain.Reaction, error)
}

// AggregateSink receives every freshly computed aggregate. Sinks must
// return quickly and must not call back into the reconciler.
type AggregateSink func(domain.ReactionAggregate)

// Reconciler converges one post's reaction view to server truth. Every
// change feed event for the post, of any kind, triggers a full re-fetch
// and recompute; the event payload itself is never applied as a delta.
// That makes the loop idempotent under event duplication and
// reordering, which the feed explicitly does not rule out.
type Reconciler struct {
	source    Source
	bus       *feed.Bus
	postID    string
	sessionID string
	sink      AggregateSink

	mu       sync.Mutex
	stopped  bool
	sub      *feed.Subscription
	done     chan struct{}
	haveLast bool
	last     domain.ReactionAggregate
}

// NewReconciler creates a reconciler for one post, resolving "mine"
// against the given session.
func NewReconciler(source Source, bus *feed.Bus, postID, sessionID string, sink AggregateSink) *Reconciler {
	return &Reconciler{
		source:    source,
		bus:       bus,
		postID:    postID,
		sessionID: sessionID,
		sink:      sink,
	}
}

// Start fetches and delivers the initial aggregate, then follows the
// change feed until Stop or ctx cancellation. An initial fetch failure
// delivers zero counts ("no reactions yet") instead of blocking.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.stopped || r.done != nil {
		r.mu.Unlock()
		return
	}
	r.sub = r.bus.Subscribe(feed.TableReactions, "post_id", r.postID)
	r.done = make(chan struct{})
	r.mu.Unlock()

	r.Refresh(ctx)
	go r.loop(ctx)
}

// Refresh re-fetches the record set and delivers a fresh aggregate.
// Called internally on every feed event; callers use it after a local
// toggle settles. On fetch failure the last-known-good aggregate is
// kept (nothing delivered), except that a failure before any aggregate
// was ever delivered degrades to zero counts.
func (r *Reconciler) Refresh(ctx context.Context) {
	records, err := r.source.ListReactions(ctx, r.postID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	if err != nil {
		slog.Warn("Reaction re-fetch failed, keeping last-known-good",
			"post_id", r.postID, "error", err)
		if !r.haveLast {
			r.deliverLocked(domain.ZeroAggregate(r.postID))
		}
		return
	}

	r.deliverLocked(ComputeAggregate(r.postID, records, r.sessionID))
}

// deliverLocked records and delivers an aggregate. Holding the mutex
// across the sink call is what guarantees no delivery after Stop.
func (r *Reconciler) deliverLocked(agg domain.ReactionAggregate) {
	r.last = agg
	r.haveLast = true
	r.sink(agg)
}

// Last returns the most recently delivered aggregate, if any.
func (r *Reconciler) Last() (domain.ReactionAggregate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.haveLast
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)

	for {
		r.mu.Lock()
		sub := r.sub
		stopped := r.stopped
		r.mu.Unlock()
		if stopped {
			return
		}

		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.C:
			if !ok {
				if !r.resubscribe(ctx) {
					return
				}
				continue
			}
			// Drain whatever queued up; one recompute covers them all.
			drain(sub.C)
			r.Refresh(ctx)
		}
	}
}

// drain discards queued events. A closed channel stops the drain; the
// caller's next receive observes the closure and re-subscribes.
func drain(c <-chan feed.Event) {
	for {
		select {
		case _, ok := <-c:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// resubscribe replaces a dropped subscription and refreshes, since
// events were lost while the old one was closed. Returns false when
// the reconciler is stopping.
func (r *Reconciler) resubscribe(ctx context.Context) bool {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return false
	}
	slog.Warn("Reaction feed subscription dropped, re-subscribing", "post_id", r.postID)
	r.sub = r.bus.Subscribe(feed.TableReactions, "post_id", r.postID)
	r.mu.Unlock()

	r.Refresh(ctx)
	return true
}

// Stop unsubscribes and waits for the loop to exit. After Stop returns
// the sink is never invoked again, even by an in-flight Refresh.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	sub := r.sub
	done := r.done
	r.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if done != nil {
		<-done
	}
}
