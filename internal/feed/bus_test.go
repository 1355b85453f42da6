package feed

import (
	"strconv"
	"testing"
	"time"
)

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := NewBus(4)
	sub := bus.Subscribe(TableReactions, "post_id", "p1")
	defer sub.Unsubscribe()

	bus.Publish(Event{
		Table:  TableReactions,
		Kind:   KindInsert,
		Fields: map[string]string{"post_id": "p1"},
	})

	select {
	case ev, ok := <-sub.C:
		if !ok {
			t.Fatal("Expected open channel")
		}
		if ev.Kind != KindInsert {
			t.Errorf("Expected insert event, got %q", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected event delivery")
	}
}

func TestBus_FilterScopesDelivery(t *testing.T) {
	bus := NewBus(4)
	sub := bus.Subscribe(TableReactions, "post_id", "p1")
	defer sub.Unsubscribe()

	// Different post: filtered out.
	bus.Publish(Event{
		Table:  TableReactions,
		Kind:   KindDelete,
		Fields: map[string]string{"post_id": "p2"},
	})
	// Different table: filtered out even with a matching field.
	bus.Publish(Event{
		Table:  TablePosts,
		Kind:   KindInsert,
		Fields: map[string]string{"post_id": "p1"},
	})

	select {
	case ev := <-sub.C:
		t.Fatalf("Expected no delivery, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_TableWideSubscription(t *testing.T) {
	bus := NewBus(4)
	sub := bus.Subscribe(TablePosts, "", "")
	defer sub.Unsubscribe()

	bus.Publish(Event{Table: TablePosts, Kind: KindInsert, Fields: map[string]string{"category": "Rant"}})

	select {
	case _, ok := <-sub.C:
		if !ok {
			t.Fatal("Expected open channel")
		}
	case <-time.After(time.Second):
		t.Fatal("Expected table-wide delivery")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(4)
	sub := bus.Subscribe(TablePosts, "", "")

	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	if _, ok := <-sub.C; ok {
		t.Error("Expected closed channel after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(Event{Table: TablePosts, Kind: KindInsert})
}

func TestBus_SlowConsumerDropped(t *testing.T) {
	bus := NewBus(2)
	sub := bus.Subscribe(TablePosts, "", "")

	for i := 0; i < 3; i++ {
		bus.Publish(Event{Table: TablePosts, Kind: KindInsert})
	}

	// Buffered events drain first, then the closure is observed.
	received := 0
	for range sub.C {
		received++
	}
	if received != 2 {
		t.Errorf("Expected 2 buffered events before drop, got %d", received)
	}

	// Unsubscribing a dropped handle must not panic.
	sub.Unsubscribe()
}

func TestBus_ConcurrentAccess(t *testing.T) {
	bus := NewBus(1)

	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(Event{Table: TableReactions, Kind: KindInsert, Fields: map[string]string{"post_id": "p" + strconv.Itoa(i)}})
		}
	}()

	go func() {
		for i := 0; i < 1000; i++ {
			sub := bus.Subscribe(TableReactions, "post_id", "p"+strconv.Itoa(i))
			sub.Unsubscribe()
		}
	}()

	time.Sleep(100 * time.Millisecond)
}
