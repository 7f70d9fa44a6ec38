package hub

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/conclave-mtg/conclave-api/internal/comm"
)

func TestGetOrCreateRoomSingleInstance(t *testing.T) {
	h := NewHub()
	gameID := uuid.New()

	const workers = 50
	rooms := make([]*Room, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			rooms[i] = h.GetOrCreateRoom(gameID)
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if rooms[i] != rooms[0] {
			t.Fatalf("racing callers got distinct rooms")
		}
	}
}

func TestPublishDeliversInOrder(t *testing.T) {
	h := NewHub()
	gameID := uuid.New()
	sub := h.Subscribe(gameID)

	const n = 10
	for i := 0; i < n; i++ {
		if err := h.Publish(gameID, comm.NewError(gameID, fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < n; i++ {
		select {
		case ev := <-sub.C:
			want := fmt.Sprintf(`{"message":"msg-%d"}`, i)
			if string(ev.Data) != want {
				t.Fatalf("event %d out of order: %s", i, ev.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
}

func TestPublishWithoutRoom(t *testing.T) {
	h := NewHub()
	if err := h.Publish(uuid.New(), comm.Event{}); err != ErrNoRoom {
		t.Fatalf("got %v, want ErrNoRoom", err)
	}
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	h := NewHub()
	gameID := uuid.New()
	lagging := h.Subscribe(gameID)
	healthy := h.Subscribe(gameID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Overflow the lagging subscriber's buffer without draining it.
		for i := 0; i < subscriberBuffer+10; i++ {
			h.Publish(gameID, comm.NewError(gameID, "flood"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	// Each subscriber kept the first buffer's worth; the overflow was dropped.
	if got := len(healthy.ch); got != subscriberBuffer {
		t.Errorf("buffer holds %d events, want %d", got, subscriberBuffer)
	}
	if got := len(lagging.ch); got != subscriberBuffer {
		t.Errorf("buffer holds %d events, want %d", got, subscriberBuffer)
	}

	// After draining, new events flow again.
	for len(lagging.ch) > 0 {
		<-lagging.C
	}
	h.Publish(gameID, comm.NewError(gameID, "after"))
	select {
	case ev := <-lagging.C:
		if string(ev.Data) != `{"message":"after"}` {
			t.Fatalf("unexpected event after drain: %s", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery after drain")
	}
}

func TestTeardownClosesSubscribers(t *testing.T) {
	h := NewHub()
	gameID := uuid.New()
	sub := h.Subscribe(gameID)

	h.Teardown(gameID)

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("received event instead of close")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed on teardown")
	}

	if _, ok := h.Room(gameID); ok {
		t.Fatal("room survived teardown")
	}
	// Idempotent.
	h.Teardown(gameID)
}

func TestSubscribeAfterTeardownIsClosed(t *testing.T) {
	h := NewHub()
	gameID := uuid.New()
	room := h.GetOrCreateRoom(gameID)
	h.Teardown(gameID)

	// Direct subscribe on the stale room pointer observes the closed state.
	sub := room.subscribe()
	if _, ok := <-sub.C; ok {
		t.Fatal("subscription on closed room not closed")
	}
}

func TestCancelDetaches(t *testing.T) {
	h := NewHub()
	gameID := uuid.New()
	a := h.Subscribe(gameID)
	b := h.Subscribe(gameID)

	if got := h.SubscriberCount(gameID); got != 2 {
		t.Fatalf("subscriber count = %d, want 2", got)
	}

	a.Cancel()
	if got := h.SubscriberCount(gameID); got != 1 {
		t.Fatalf("subscriber count after cancel = %d, want 1", got)
	}
	if _, ok := <-a.C; ok {
		t.Fatal("cancelled channel not closed")
	}
	a.Cancel() // no-op

	h.Publish(gameID, comm.NewError(gameID, "still here"))
	select {
	case ev := <-b.C:
		if string(ev.Data) != `{"message":"still here"}` {
			t.Fatalf("unexpected event: %s", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("remaining subscriber missed event")
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	h := NewHub()
	gameA, gameB := uuid.New(), uuid.New()
	subA := h.Subscribe(gameA)
	subB := h.Subscribe(gameB)

	h.Publish(gameA, comm.NewError(gameA, "for A"))

	select {
	case ev := <-subA.C:
		if ev.GameID != gameA {
			t.Fatalf("event routed to wrong game: %s", ev.GameID)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber A missed its event")
	}

	select {
	case ev := <-subB.C:
		t.Fatalf("room B leaked event %q", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}
