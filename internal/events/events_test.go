package events

import (
	"context"
	"sync"
	"testing"
	"time"
)

func receiveEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()

	timer := time.NewTimer(500 * time.Millisecond)
	defer timer.Stop()

	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed before receive")
		}
		return ev
	case <-timer.C:
		t.Fatal("timed out waiting for event")
	}

	return Event{}
}

func waitForClosed(t *testing.T, ch <-chan Event) {
	t.Helper()

	timer := time.NewTimer(500 * time.Millisecond)
	defer timer.Stop()

	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timer.C:
			t.Fatal("timed out waiting for channel close")
		}
	}
}

func TestNewBroker(t *testing.T) {
	b := NewBroker()
	if b == nil {
		t.Fatal("expected broker")
	}
	if b.subscribers == nil {
		t.Fatal("expected subscribers map")
	}
}

func TestSubscribe_Single(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, "research-1")

	b.mu.RLock()
	count := len(b.subscribers["research-1"])
	b.mu.RUnlock()
	if count != 1 {
		t.Fatalf("expected 1 subscriber, got %d", count)
	}

	cancel()
	waitForClosed(t, ch)

	b.mu.RLock()
	_, exists := b.subscribers["research-1"]
	b.mu.RUnlock()
	if exists {
		t.Fatal("subscriber not removed")
	}
}

func TestSubscribe_DifferentResearches(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1 := b.Subscribe(ctx, "research-1")
	ch2 := b.Subscribe(ctx, "research-2")

	b.Publish(Event{ResearchID: "research-2", Seq: 1, Type: TypeProgress})
	got := receiveEvent(t, ch2)
	if got.ResearchID != "research-2" {
		t.Fatalf("unexpected event: %+v", got)
	}

	select {
	case ev := <-ch1:
		t.Fatalf("unexpected event for other research: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	waitForClosed(t, ch1)
	waitForClosed(t, ch2)
}

func TestPublish_NoSubscribers(t *testing.T) {
	b := NewBroker()
	b.Publish(Event{ResearchID: "research-1"})
}

func TestPublish_SlowSubscriberKeepsEveryEventInOrder(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, "research-1")

	const total = 200
	done := make(chan struct{})
	go func() {
		for i := 1; i <= total; i++ {
			b.Publish(Event{ResearchID: "research-1", Seq: int64(i), State: &State{StepCount: i}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a subscriber that is not reading")
	}

	for i := 1; i <= total; i++ {
		ev := receiveEvent(t, ch)
		if ev.Seq != int64(i) {
			t.Fatalf("event %d arrived out of order with seq %d", i, ev.Seq)
		}
	}
}

func TestPublish_MultipleSubscribers(t *testing.T) {
	b := NewBroker()
	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel1()
	defer cancel2()

	ch1 := b.Subscribe(ctx1, "research-1")
	ch2 := b.Subscribe(ctx2, "research-1")

	b.Publish(Event{ResearchID: "research-1", Seq: 1, Type: "fanout"})

	if got := receiveEvent(t, ch1); got.Type != "fanout" {
		t.Fatalf("unexpected event: %+v", got)
	}
	if got := receiveEvent(t, ch2); got.Type != "fanout" {
		t.Fatalf("unexpected event: %+v", got)
	}

	cancel1()
	waitForClosed(t, ch1)
	b.Publish(Event{ResearchID: "research-1", Seq: 2})
	if got := receiveEvent(t, ch2); got.Seq != 2 {
		t.Fatalf("unexpected event after peer left: %+v", got)
	}
}

func TestBroker_ConcurrentSubscribeAndPublish(t *testing.T) {
	b := NewBroker()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			ch := b.Subscribe(ctx, "research-1")
			b.Publish(Event{ResearchID: "research-1", Seq: 1})
			cancel()
			waitForClosed(t, ch)
		}()
	}
	wg.Wait()
}

func TestIsTerminal(t *testing.T) {
	cases := map[string]bool{
		TypeCompleted: true,
		TypeError:     true,
		" Completed ": true,
		TypeProgress:  false,
		TypeStepError: false,
		"":            false,
	}
	for eventType, want := range cases {
		if got := IsTerminal(eventType); got != want {
			t.Fatalf("IsTerminal(%q) = %v, want %v", eventType, got, want)
		}
	}
}
