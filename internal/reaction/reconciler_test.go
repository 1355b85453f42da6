package reaction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mofodox/skywriter/internal/domain"
	"github.com/mofodox/skywriter/internal/feed"
)

type aggregateRecorder struct {
	mu   sync.Mutex
	aggs []domain.ReactionAggregate
}

func (r *aggregateRecorder) sink(agg domain.ReactionAggregate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aggs = append(r.aggs, agg)
}

func (r *aggregateRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.aggs)
}

func (r *aggregateRecorder) latest() (domain.ReactionAggregate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.aggs) == 0 {
		return domain.ReactionAggregate{}, false
	}
	return r.aggs[len(r.aggs)-1], true
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal(msg)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestReconciler_InitialAggregate(t *testing.T) {
	store := &fakeStore{}
	store.seed("p1", "s2", domain.ReactionLove, time.Now())
	bus := feed.NewBus(8)

	rec := &aggregateRecorder{}
	r := NewReconciler(store, bus, "p1", "s1", rec.sink)
	r.Start(context.Background())
	defer r.Stop()

	agg, ok := rec.latest()
	if !ok {
		t.Fatal("Expected an initial aggregate")
	}
	if agg.Counts[domain.ReactionLove] != 1 {
		t.Errorf("Expected love=1, got %d", agg.Counts[domain.ReactionLove])
	}
	if agg.Mine != domain.ReactionNone {
		t.Errorf("Expected no current reaction for s1, got %q", agg.Mine)
	}
}

func TestReconciler_InitialFetchFailureDegradesToZero(t *testing.T) {
	store := &fakeStore{failList: true}
	bus := feed.NewBus(8)

	rec := &aggregateRecorder{}
	r := NewReconciler(store, bus, "p1", "s1", rec.sink)
	r.Start(context.Background())
	defer r.Stop()

	agg, ok := rec.latest()
	if !ok {
		t.Fatal("Expected a degraded zero aggregate")
	}
	for _, typ := range domain.ReactionTypes {
		if agg.Counts[typ] != 0 {
			t.Errorf("Expected zero %s count, got %d", typ, agg.Counts[typ])
		}
	}
}

func TestReconciler_EventTriggersRecompute(t *testing.T) {
	store := &fakeStore{}
	bus := feed.NewBus(8)

	rec := &aggregateRecorder{}
	r := NewReconciler(store, bus, "p1", "s1", rec.sink)
	r.Start(context.Background())
	defer r.Stop()

	// Another session reacts; the event is only a cue, the recompute
	// reads the store.
	store.seed("p1", "s2", domain.ReactionHug, time.Now())
	bus.Publish(feed.Event{
		Table:  feed.TableReactions,
		Kind:   feed.KindInsert,
		Fields: map[string]string{"post_id": "p1"},
	})

	waitFor(t, func() bool {
		agg, ok := rec.latest()
		return ok && agg.Counts[domain.ReactionHug] == 1
	}, "Aggregate never reflected the new reaction")
}

func TestReconciler_IgnoresOtherPosts(t *testing.T) {
	store := &fakeStore{}
	bus := feed.NewBus(8)

	rec := &aggregateRecorder{}
	r := NewReconciler(store, bus, "p1", "s1", rec.sink)
	r.Start(context.Background())
	defer r.Stop()

	before := rec.count()
	bus.Publish(feed.Event{
		Table:  feed.TableReactions,
		Kind:   feed.KindInsert,
		Fields: map[string]string{"post_id": "p2"},
	})

	time.Sleep(50 * time.Millisecond)
	if rec.count() != before {
		t.Error("Expected no recompute for another post's event")
	}
}

func TestReconciler_FetchFailureKeepsLastKnownGood(t *testing.T) {
	store := &fakeStore{}
	store.seed("p1", "s1", domain.ReactionLove, time.Now())
	bus := feed.NewBus(8)

	rec := &aggregateRecorder{}
	r := NewReconciler(store, bus, "p1", "s1", rec.sink)
	r.Start(context.Background())
	defer r.Stop()

	store.mu.Lock()
	store.failList = true
	store.mu.Unlock()

	bus.Publish(feed.Event{
		Table:  feed.TableReactions,
		Kind:   feed.KindDelete,
		Fields: map[string]string{"post_id": "p1"},
	})

	time.Sleep(50 * time.Millisecond)
	agg, ok := r.Last()
	if !ok {
		t.Fatal("Expected a last-known-good aggregate")
	}
	if agg.Counts[domain.ReactionLove] != 1 || agg.Mine != domain.ReactionLove {
		t.Errorf("Expected last-known-good aggregate preserved, got %+v", agg)
	}
}

func TestReconciler_NoDeliveryAfterStop(t *testing.T) {
	store := &fakeStore{}
	bus := feed.NewBus(8)

	rec := &aggregateRecorder{}
	r := NewReconciler(store, bus, "p1", "s1", rec.sink)
	r.Start(context.Background())
	r.Stop()

	before := rec.count()
	store.seed("p1", "s2", domain.ReactionLove, time.Now())
	bus.Publish(feed.Event{
		Table:  feed.TableReactions,
		Kind:   feed.KindInsert,
		Fields: map[string]string{"post_id": "p1"},
	})

	time.Sleep(50 * time.Millisecond)
	if rec.count() != before {
		t.Error("Expected no deliveries after Stop")
	}

	r.Stop() // idempotent
}

func TestReconciler_RefreshAfterToggle(t *testing.T) {
	store := &fakeStore{}
	bus := feed.NewBus(8)

	rec := &aggregateRecorder{}
	r := NewReconciler(store, bus, "p1", "s1", rec.sink)
	r.Start(context.Background())
	defer r.Stop()

	toggler := NewToggler(store, nil) // nil bus: no event echo, only Refresh
	if _, err := toggler.Toggle(context.Background(), "p1", "s1", domain.ReactionSupport); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	r.Refresh(context.Background())

	agg, ok := rec.latest()
	if !ok {
		t.Fatal("Expected an aggregate after refresh")
	}
	if agg.Counts[domain.ReactionSupport] != 1 || agg.Mine != domain.ReactionSupport {
		t.Errorf("Expected refreshed aggregate with support=1 mine=support, got %+v", agg)
	}
}

func TestReconciler_ResubscribesAfterDrop(t *testing.T) {
	store := &fakeStore{}
	bus := feed.NewBus(1)

	release := make(chan struct{})
	rec := &aggregateRecorder{}
	blockingSink := func(agg domain.ReactionAggregate) {
		rec.sink(agg)
		// Block the second delivery (the first feed-driven recompute)
		// so further events overflow the size-1 buffer and force a drop.
		if rec.count() == 2 {
			<-release
		}
	}

	r := NewReconciler(store, bus, "p1", "s1", blockingSink)
	r.Start(context.Background())
	defer r.Stop()

	publish := func() {
		bus.Publish(feed.Event{
			Table:  feed.TableReactions,
			Kind:   feed.KindInsert,
			Fields: map[string]string{"post_id": "p1"},
		})
	}

	publish() // consumed by the loop; its sink call blocks
	waitFor(t, func() bool { return rec.count() == 2 }, "Second delivery never started")
	publish() // fills the buffer
	publish() // overflows: the bus drops the subscription
	close(release)

	// After re-subscribing the reconciler must see fresh truth.
	store.seed("p1", "s2", domain.ReactionLove, time.Now())
	publish()

	waitFor(t, func() bool {
		agg, ok := rec.latest()
		return ok && agg.Counts[domain.ReactionLove] == 1
	}, "Reconciler never recovered after subscription drop")
}
