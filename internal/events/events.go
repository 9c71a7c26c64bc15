package events

import (
	"context"
	"strings"
	"sync"
)

const (
	TypeProgress  = "progress"
	TypeStepError = "step_error"
	TypeCompleted = "completed"
	TypeError     = "error"
)

// State is the agent snapshot attached to progress events.
type State struct {
	ResearchID        string   `json:"research_id"`
	StepCount         int      `json:"step_count"`
	MaxSteps          int      `json:"max_steps"`
	FindingsCount     int      `json:"findings_count"`
	VisitedURLsCount  int      `json:"visited_urls_count"`
	CompletedSubtasks []string `json:"completed_subtasks"`
	PendingSubtasks   []string `json:"pending_subtasks"`
	IsComplete        bool     `json:"is_complete"`
}

type Results struct {
	Status        string `json:"status"`
	StepsTaken    int    `json:"steps_taken"`
	FindingsCount int    `json:"findings_count"`
	Report        string `json:"report"`
}

type Event struct {
	ResearchID string   `json:"research_id"`
	Seq        int64    `json:"seq"`
	Type       string   `json:"type"`
	Timestamp  string   `json:"timestamp"`
	Message    string   `json:"message,omitempty"`
	State      *State   `json:"state,omitempty"`
	Results    *Results `json:"results,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func NormalizeType(eventType string) string {
	return strings.TrimSpace(strings.ToLower(eventType))
}

// IsTerminal reports whether the event type closes a progress stream.
func IsTerminal(eventType string) bool {
	switch NormalizeType(eventType) {
	case TypeCompleted, TypeError:
		return true
	default:
		return false
	}
}

// Broker fans events out to subscribers of a research. Every subscriber owns an
// unbounded queue drained by its own goroutine, so Publish never blocks and
// never drops or reorders events.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[*subscription]struct{}
}

type subscription struct {
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
}

func (s *subscription) push(event Event) {
	s.mu.Lock()
	s.queue = append(s.queue, event)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	event := s.queue[0]
	s.queue[0] = Event{}
	s.queue = s.queue[1:]
	return event, true
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[string]map[*subscription]struct{}{},
	}
}

func (b *Broker) Subscribe(ctx context.Context, researchID string) <-chan Event {
	sub := &subscription{notify: make(chan struct{}, 1)}
	out := make(chan Event)

	b.mu.Lock()
	if b.subscribers[researchID] == nil {
		b.subscribers[researchID] = map[*subscription]struct{}{}
	}
	b.subscribers[researchID][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer close(out)
		defer b.unsubscribe(researchID, sub)
		for {
			event, ok := sub.pop()
			if !ok {
				select {
				case <-sub.notify:
					continue
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (b *Broker) unsubscribe(researchID string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[researchID] == nil {
		return
	}
	delete(b.subscribers[researchID], sub)
	if len(b.subscribers[researchID]) == 0 {
		delete(b.subscribers, researchID)
	}
}

func (b *Broker) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers[event.ResearchID] {
		sub.push(event)
	}
}
