package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Sink persists events and hands out per-research sequence numbers.
type Sink interface {
	NextSeq(ctx context.Context, researchID string) (int64, error)
	AppendEvent(ctx context.Context, event Event) error
}

type Fanout interface {
	Publish(event Event)
}

// Recorder assigns a sequence number, persists the event and then fans it out.
// Calls for one research are serialised so subscribers see seq order.
type Recorder struct {
	sink   Sink
	fanout Fanout
	now    func() time.Time
	locks  keyedMutex
}

func NewRecorder(sink Sink, fanout Fanout) *Recorder {
	return &Recorder{
		sink:   sink,
		fanout: fanout,
		now:    time.Now,
		locks:  keyedMutex{locks: map[string]*refLock{}},
	}
}

func (r *Recorder) Record(ctx context.Context, event Event) (Event, error) {
	if event.ResearchID == "" {
		return Event{}, errors.New("event research_id is required")
	}
	event.Type = NormalizeType(event.Type)
	if event.Type == "" {
		return Event{}, errors.New("event type is required")
	}
	if event.Timestamp == "" {
		event.Timestamp = r.now().UTC().Format(time.RFC3339Nano)
	}

	unlock := r.locks.lock(event.ResearchID)
	defer unlock()

	if r.sink != nil {
		seq, err := r.sink.NextSeq(ctx, event.ResearchID)
		if err != nil {
			return Event{}, err
		}
		event.Seq = seq
		if err := r.sink.AppendEvent(ctx, event); err != nil {
			return Event{}, err
		}
	}
	if r.fanout != nil {
		r.fanout.Publish(event)
	}
	return event, nil
}

func (r *Recorder) Publish(ctx context.Context, event Event) error {
	_, err := r.Record(ctx, event)
	return err
}

type refLock struct {
	sync.Mutex
	refs int
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l := k.locks[key]
	if l == nil {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
