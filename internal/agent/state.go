package agent

import (
	"github.com/konard/RDmitryV-Trial-RDV/internal/events"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
	"github.com/konard/RDmitryV-Trial-RDV/internal/tools"
)

const (
	DefaultMaxSteps         = 20
	DefaultFailureThreshold = 3
)

// Brief is the research request a run works on.
type Brief struct {
	ResearchID         string
	RunID              string
	Title              string
	ProductDescription string
	Industry           string
	Region             string
	ResearchType       string
}

func BriefFromResearch(research store.Research, runID string) Brief {
	return Brief{
		ResearchID:         research.ID,
		RunID:              runID,
		Title:              research.Title,
		ProductDescription: research.ProductDescription,
		Industry:           research.Industry,
		Region:             research.Region,
		ResearchType:       research.ResearchType,
	}
}

type ToolInvocation struct {
	Step      int            `json:"step"`
	Action    string         `json:"action"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// Snapshot is the read-only view of a run handed to the decision policy.
type Snapshot struct {
	Brief               Brief
	StepCount           int
	MaxSteps            int
	CompletedSubtasks   []string
	PendingSubtasks     []string
	Findings            []store.Finding
	VisitedURLs         []string
	ConsecutiveFailures int
	History             []ToolInvocation
	Tools               []tools.Descriptor
}

// state is owned by exactly one Controller.Run call.
type state struct {
	brief               Brief
	stepCount           int
	maxSteps            int
	completed           []string
	pending             []string
	findings            []store.Finding
	visited             map[string]struct{}
	visitedOrder        []string
	isComplete          bool
	consecutiveFailures int
	invocations         []ToolInvocation
}

func newState(brief Brief, maxSteps int) *state {
	return &state{
		brief:    brief,
		maxSteps: maxSteps,
		visited:  map[string]struct{}{},
	}
}

func (s *state) visit(url string) {
	if url == "" {
		return
	}
	if _, ok := s.visited[url]; ok {
		return
	}
	s.visited[url] = struct{}{}
	s.visitedOrder = append(s.visitedOrder, url)
}

func (s *state) completeSubtask() {
	if len(s.pending) == 0 {
		return
	}
	s.completed = append(s.completed, s.pending[0])
	s.pending = s.pending[1:]
}

func (s *state) snapshot(descriptors []tools.Descriptor) Snapshot {
	findings := make([]store.Finding, len(s.findings))
	for i, finding := range s.findings {
		finding.Metadata = cloneMap(finding.Metadata)
		findings[i] = finding
	}
	snap := Snapshot{
		Brief:               s.brief,
		StepCount:           s.stepCount,
		MaxSteps:            s.maxSteps,
		CompletedSubtasks:   append([]string{}, s.completed...),
		PendingSubtasks:     append([]string{}, s.pending...),
		Findings:            findings,
		VisitedURLs:         append([]string{}, s.visitedOrder...),
		ConsecutiveFailures: s.consecutiveFailures,
		History:             append([]ToolInvocation{}, s.invocations...),
		Tools:               descriptors,
	}
	return snap
}

func (s *state) progress() *events.State {
	return &events.State{
		ResearchID:        s.brief.ResearchID,
		StepCount:         s.stepCount,
		MaxSteps:          s.maxSteps,
		FindingsCount:     len(s.findings),
		VisitedURLsCount:  len(s.visitedOrder),
		CompletedSubtasks: append([]string{}, s.completed...),
		PendingSubtasks:   append([]string{}, s.pending...),
		IsComplete:        s.isComplete,
	}
}

func cloneMap(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
