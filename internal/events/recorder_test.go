package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memorySink struct {
	mu     sync.Mutex
	seqs   map[string]int64
	events []Event
	seqErr error
	appErr error
}

func newMemorySink() *memorySink {
	return &memorySink{seqs: map[string]int64{}}
}

func (s *memorySink) NextSeq(_ context.Context, researchID string) (int64, error) {
	if s.seqErr != nil {
		return 0, s.seqErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs[researchID]++
	return s.seqs[researchID], nil
}

func (s *memorySink) AppendEvent(_ context.Context, event Event) error {
	if s.appErr != nil {
		return s.appErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func TestRecorder_AssignsSeqPersistsAndPublishes(t *testing.T) {
	sink := newMemorySink()
	broker := NewBroker()
	recorder := NewRecorder(sink, broker)
	recorder.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := broker.Subscribe(ctx, "research-1")

	got, err := recorder.Record(context.Background(), Event{ResearchID: "research-1", Type: " Progress ", Message: "Step 1"})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if got.Seq != 1 || got.Type != TypeProgress {
		t.Fatalf("unexpected event: %+v", got)
	}
	if got.Timestamp != "2024-01-02T03:04:05Z" {
		t.Fatalf("unexpected timestamp %q", got.Timestamp)
	}
	if len(sink.events) != 1 || sink.events[0].Seq != 1 {
		t.Fatalf("expected persisted event, got %+v", sink.events)
	}
	if ev := receiveEvent(t, ch); ev.Seq != 1 || ev.Message != "Step 1" {
		t.Fatalf("unexpected published event: %+v", ev)
	}
}

func TestRecorder_Validation(t *testing.T) {
	recorder := NewRecorder(newMemorySink(), NewBroker())
	if _, err := recorder.Record(context.Background(), Event{Type: TypeProgress}); err == nil {
		t.Fatal("expected missing research_id error")
	}
	if _, err := recorder.Record(context.Background(), Event{ResearchID: "r"}); err == nil {
		t.Fatal("expected missing type error")
	}
}

func TestRecorder_SinkErrorsSkipPublish(t *testing.T) {
	broker := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := broker.Subscribe(ctx, "research-1")

	sink := newMemorySink()
	sink.appErr = errors.New("disk full")
	recorder := NewRecorder(sink, broker)
	if err := recorder.Publish(context.Background(), Event{ResearchID: "research-1", Type: TypeProgress}); err == nil {
		t.Fatal("expected append error")
	}

	sink.appErr = nil
	sink.seqErr = errors.New("seq down")
	if err := recorder.Publish(context.Background(), Event{ResearchID: "research-1", Type: TypeProgress}); err == nil {
		t.Fatal("expected seq error")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected published event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecorder_ConcurrentPublishersKeepSeqOrder(t *testing.T) {
	sink := newMemorySink()
	broker := NewBroker()
	recorder := NewRecorder(sink, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := broker.Subscribe(ctx, "research-1")

	const total = 50
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = recorder.Publish(context.Background(), Event{ResearchID: "research-1", Type: TypeProgress})
		}()
	}
	wg.Wait()

	for i := 1; i <= total; i++ {
		if ev := receiveEvent(t, ch); ev.Seq != int64(i) {
			t.Fatalf("expected seq %d, got %d", i, ev.Seq)
		}
	}

	recorder.locks.mu.Lock()
	remaining := len(recorder.locks.locks)
	recorder.locks.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected lock table drained, got %d", remaining)
	}
}
