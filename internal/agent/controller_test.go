package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/konard/RDmitryV-Trial-RDV/internal/events"
	"github.com/konard/RDmitryV-Trial-RDV/internal/llm"
	"github.com/konard/RDmitryV-Trial-RDV/internal/sources"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store/memory"
	"github.com/konard/RDmitryV-Trial-RDV/internal/tools"
)

var testNow = time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)

type stubTool struct {
	name   string
	mu     sync.Mutex
	calls  int
	result func(call int, args map[string]any) tools.Result
}

func (s *stubTool) Name() string             { return s.name }
func (s *stubTool) Description() string      { return "stub " + s.name }
func (s *stubTool) Parameters() tools.Schema { return tools.Schema{"type": "object"} }

func (s *stubTool) Execute(ctx context.Context, run tools.RunContext, args map[string]any) tools.Result {
	s.mu.Lock()
	call := s.calls
	s.calls++
	s.mu.Unlock()
	if s.result == nil {
		return tools.Result{Success: true, Data: map[string]any{"call": call}}
	}
	return s.result(call, args)
}

func findingsTool(name string, perCall int) *stubTool {
	return &stubTool{name: name, result: func(call int, args map[string]any) tools.Result {
		findings := make([]tools.Finding, 0, perCall)
		for i := 0; i < perCall; i++ {
			findings = append(findings, tools.Finding{
				Category: "competitor",
				Title:    fmt.Sprintf("%s %d.%d", name, call, i),
				Content:  fmt.Sprintf("content %d.%d", call, i),
			})
		}
		return tools.Result{Success: true, Data: map[string]any{"count": perCall}, Findings: findings}
	}}
}

func failingTool(name string) *stubTool {
	return &stubTool{name: name, result: func(int, map[string]any) tools.Result {
		return tools.Failure("upstream unavailable")
	}}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, event := range p.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

func (p *recordingPublisher) last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type failingFindingStore struct{}

func (failingFindingStore) AddFinding(context.Context, store.Finding) error {
	return errors.New("disk full")
}

func newRegistry(t *testing.T, registered ...tools.Tool) *tools.Registry {
	t.Helper()
	registry, err := tools.NewRegistry(registered...)
	require.NoError(t, err)
	return registry
}

func testBrief() Brief {
	return Brief{
		ResearchID:         "research-1",
		RunID:              "run-1",
		Title:              "Coffee shops",
		ProductDescription: "specialty coffee",
		Industry:           "кофейни",
		Region:             "Москва",
		ResearchType:       "market",
	}
}

func testConfig(maxSteps int) Config {
	return Config{MaxSteps: maxSteps, FailureThreshold: 3, ToolTimeout: time.Second, MaxContentChars: 2000}
}

func newTestController(policy DecisionPolicy, executor ToolExecutor, maxSteps int, opts ...Option) *Controller {
	base := []Option{WithConfig(testConfig(maxSteps)), WithClock(func() time.Time { return testNow })}
	return NewController(policy, executor, append(base, opts...)...)
}

func sequentialIDs(t *testing.T) {
	t.Helper()
	previous := newFindingID
	counter := 0
	newFindingID = func() string {
		counter++
		return fmt.Sprintf("finding-%d", counter)
	}
	t.Cleanup(func() { newFindingID = previous })
}

func alwaysSearch() DecisionPolicy {
	return PolicyFunc(func(ctx context.Context, snapshot Snapshot) (Decision, error) {
		return Decision{Action: SearchWeb{Query: "рынок"}}, nil
	})
}

func TestRunStepCountIncrementsByOneAndStopsAtBudget(t *testing.T) {
	var observed []int
	policy := PolicyFunc(func(ctx context.Context, snapshot Snapshot) (Decision, error) {
		observed = append(observed, snapshot.StepCount)
		return Decision{Action: SearchWeb{Query: "рынок"}}, nil
	})
	publisher := &recordingPublisher{}
	controller := newTestController(policy, newRegistry(t, findingsTool(tools.SearchWeb, 1)), 5, WithPublisher(publisher))

	result := controller.Run(context.Background(), testBrief())

	require.Equal(t, store.RunMaxStepsReached, result.Status)
	require.Equal(t, 5, result.StepsTaken)
	require.Equal(t, 5, result.FindingsCount)
	require.Equal(t, []int{1, 2, 3, 4, 5}, observed)

	var reasoning []int
	for _, event := range publisher.ofType(events.TypeProgress) {
		require.LessOrEqual(t, event.State.StepCount, 5)
		if strings.HasSuffix(event.Message, "Reasoning...") {
			reasoning = append(reasoning, event.State.StepCount)
		}
	}
	require.Equal(t, []int{1, 2, 3, 4, 5}, reasoning)

	terminal := publisher.last()
	require.Equal(t, events.TypeCompleted, terminal.Type)
	require.Equal(t, store.RunMaxStepsReached, terminal.Results.Status)
	require.Equal(t, 5, terminal.Results.StepsTaken)
}

func TestRunSubscriberSeesNonDecreasingSteps(t *testing.T) {
	mem := memory.New()
	broker := events.NewBroker()
	recorder := events.NewRecorder(mem, broker)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream := broker.Subscribe(ctx, "research-1")

	policy := NewScriptedPolicy(
		Decision{Action: SearchWeb{Query: "one"}},
		Decision{Action: SearchCompanies{Industry: "кофейни"}},
		Decision{Action: SearchWeb{Query: "three"}},
		Decision{Action: GetStatistics{Metric: "gdp_growth", Region: "Russia"}},
	)
	policy.FinishWhenDone = true
	registry := newRegistry(t, findingsTool(tools.SearchWeb, 1), findingsTool(tools.SearchCompanies, 2))
	controller := newTestController(policy, registry, 10, WithPublisher(recorder))
	result := controller.Run(ctx, testBrief())
	require.Equal(t, store.RunCompleted, result.Status)

	lastStep := 0
	lastSeq := int64(0)
	for event := range stream {
		require.Greater(t, event.Seq, lastSeq)
		lastSeq = event.Seq
		require.NotNil(t, event.State)
		require.GreaterOrEqual(t, event.State.StepCount, lastStep)
		lastStep = event.State.StepCount
		if events.IsTerminal(event.Type) {
			break
		}
	}
	require.Equal(t, 5, lastStep)

	stored, err := mem.ListEvents(context.Background(), "research-1", 0)
	require.NoError(t, err)
	require.Equal(t, lastSeq, stored[len(stored)-1].Seq)
}

func TestRunIsDeterministicForIdenticalInputs(t *testing.T) {
	run := func() RunResult {
		sequentialIDs(t)
		policy := NewScriptedPolicy(
			Decision{Action: SearchWeb{Query: "кофе"}},
			Decision{Action: SearchCompanies{Industry: "кофейни"}},
			Decision{Action: ParseURL{URL: "https://example.ru"}},
		)
		policy.FinishWhenDone = true
		registry := newRegistry(t,
			findingsTool(tools.SearchWeb, 1),
			findingsTool(tools.SearchCompanies, 3),
			&stubTool{name: tools.ParseURL},
		)
		return newTestController(policy, registry, 10).Run(context.Background(), testBrief())
	}

	first := run()
	second := run()
	require.Equal(t, store.RunCompleted, first.Status)
	require.Len(t, first.Findings, 5)
	require.Equal(t, first.Findings, second.Findings)
	require.Equal(t, first.Invocations, second.Invocations)
	require.Equal(t, first.Report, second.Report)
}

func TestRunWithZeroMaxStepsEndsImmediately(t *testing.T) {
	policy := NewScriptedPolicy()
	publisher := &recordingPublisher{}
	controller := newTestController(policy, newRegistry(t), 0, WithPublisher(publisher))

	result := controller.Run(context.Background(), testBrief())

	require.Equal(t, store.RunMaxStepsReached, result.Status)
	require.Zero(t, result.StepsTaken)
	require.Zero(t, result.FindingsCount)
	require.Zero(t, policy.Calls())
	require.Len(t, publisher.events, 1)
	require.Equal(t, events.TypeCompleted, publisher.events[0].Type)
	require.NotEmpty(t, result.Report)
}

func TestRunUnknownActionIsRecoverable(t *testing.T) {
	calls := 0
	policy := PolicyFunc(func(ctx context.Context, snapshot Snapshot) (Decision, error) {
		calls++
		switch calls {
		case 1:
			return ParseDecision(`{"action": "launch_rocket"}`)
		case 2:
			return Decision{Action: SaveFinding{FindingType: "insight", Title: "t", Content: "c"}}, nil
		case 3:
			return Decision{Action: SearchWeb{Query: "ok"}}, nil
		default:
			return Decision{Action: Finish{}}, nil
		}
	})
	publisher := &recordingPublisher{}
	controller := newTestController(policy, newRegistry(t, findingsTool(tools.SearchWeb, 1)), 10, WithPublisher(publisher))

	result := controller.Run(context.Background(), testBrief())

	require.Equal(t, store.RunCompleted, result.Status)
	require.Equal(t, 4, result.StepsTaken)
	require.Equal(t, 1, result.FindingsCount)
	require.Len(t, result.Invocations, 3)
	require.Equal(t, "launch_rocket", result.Invocations[0].Action)
	require.False(t, result.Invocations[0].Success)
	require.Equal(t, "unknown action: launch_rocket", result.Invocations[0].Error)
	require.Equal(t, tools.SaveFinding, result.Invocations[1].Action)
	require.Equal(t, "unknown action: save_finding", result.Invocations[1].Error)
	require.True(t, result.Invocations[2].Success)
	require.Len(t, publisher.ofType(events.TypeStepError), 2)
}

type fiveResultSearcher struct{}

func (fiveResultSearcher) Search(ctx context.Context, query string, maxResults int) ([]sources.SearchResult, error) {
	results := make([]sources.SearchResult, 0, 5)
	for i := 1; i <= 5; i++ {
		results = append(results, sources.SearchResult{
			Title:   fmt.Sprintf("Result %d", i),
			URL:     fmt.Sprintf("https://site%d.ru/coffee", i),
			Snippet: "объём рынка кофеен",
		})
	}
	return results, nil
}

func (fiveResultSearcher) SearchNews(ctx context.Context, query string, maxResults int) ([]sources.SearchResult, error) {
	return nil, errors.New("news disabled")
}

func TestRunSearchWebObservationReachesNextPrompt(t *testing.T) {
	var secondPrompt string
	policy := PolicyFunc(func(ctx context.Context, snapshot Snapshot) (Decision, error) {
		if snapshot.StepCount == 1 {
			return Decision{Action: SearchWeb{Query: "кофейни Москва рынок", SearchType: "general"}}, nil
		}
		messages := BuildDecisionPrompt(snapshot)
		secondPrompt = messages[1].Content
		return Decision{Action: Finish{}}, nil
	})
	publisher := &recordingPublisher{}
	registry := newRegistry(t, tools.NewSearchWebTool(fiveResultSearcher{}))
	controller := newTestController(policy, registry, 10, WithPublisher(publisher))

	result := controller.Run(context.Background(), testBrief())

	require.Equal(t, store.RunCompleted, result.Status)
	require.Len(t, result.Findings, 1)
	finding := result.Findings[0]
	require.Equal(t, "market_stats", finding.Category)
	require.Equal(t, 1, finding.Step)
	require.Equal(t, "research-1", finding.ResearchID)
	require.Equal(t, "run-1", finding.RunID)
	require.EqualValues(t, 5, finding.Metadata["results_count"])

	var afterFirst *events.State
	for _, event := range publisher.ofType(events.TypeProgress) {
		if strings.Contains(event.Message, "search_web completed") {
			afterFirst = event.State
		}
	}
	require.NotNil(t, afterFirst)
	require.Equal(t, 1, afterFirst.StepCount)
	require.Equal(t, 1, afterFirst.FindingsCount)

	require.Contains(t, secondPrompt, "- Step: 2/10")
	require.Contains(t, secondPrompt, "- Findings collected: 1")
	require.Contains(t, secondPrompt, "[market_stats] Search results: кофейни Москва рынок")
}

func TestRunFinishAtStepThreeWithFourFindings(t *testing.T) {
	policy := NewScriptedPolicy(
		Decision{Action: SearchCompanies{Industry: "кофейни"}},
		Decision{Action: SearchWeb{Query: "тренды"}},
		Decision{Reasoning: "enough data", Action: Finish{}},
	)
	publisher := &recordingPublisher{}
	mem := memory.New()
	registry := newRegistry(t, findingsTool(tools.SearchCompanies, 3), findingsTool(tools.SearchWeb, 1))
	controller := newTestController(policy, registry, 20, WithPublisher(publisher), WithFindingStore(mem))

	result := controller.Run(context.Background(), testBrief())

	require.Equal(t, store.RunCompleted, result.Status)
	require.Equal(t, 3, result.StepsTaken)
	require.Equal(t, 4, result.FindingsCount)
	require.NotEmpty(t, result.Report)
	require.True(t, result.State.IsComplete)
	require.Len(t, result.State.CompletedSubtasks, 2)
	require.Len(t, result.State.PendingSubtasks, 3)

	persisted, err := mem.ListFindings(context.Background(), "research-1")
	require.NoError(t, err)
	require.Len(t, persisted, 4)

	terminal := publisher.last()
	require.Equal(t, events.TypeCompleted, terminal.Type)
	require.Equal(t, &events.Results{Status: store.RunCompleted, StepsTaken: 3, FindingsCount: 4, Report: result.Report}, terminal.Results)
}

func TestRunCancellationKeepsPartialFindings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	policy := PolicyFunc(func(_ context.Context, snapshot Snapshot) (Decision, error) {
		if snapshot.StepCount == 2 {
			cancel()
		}
		return Decision{Action: SearchWeb{Query: "рынок"}}, nil
	})
	publisher := &recordingPublisher{}
	mem := memory.New()
	controller := newTestController(policy, newRegistry(t, findingsTool(tools.SearchWeb, 1)), 10, WithPublisher(publisher), WithFindingStore(mem))

	result := controller.Run(ctx, testBrief())

	require.Equal(t, store.RunCancelled, result.Status)
	require.Equal(t, 2, result.StepsTaken)
	require.Equal(t, "cancelled", result.Error)

	persisted, err := mem.ListFindings(context.Background(), "research-1")
	require.NoError(t, err)
	require.Len(t, persisted, result.FindingsCount)
	require.NotZero(t, result.FindingsCount)

	terminal := publisher.last()
	require.Equal(t, events.TypeError, terminal.Type)
	require.Equal(t, "cancelled", terminal.Error)
	require.NotNil(t, terminal.Results)
	require.Equal(t, store.RunCancelled, terminal.Results.Status)
}

func TestRunFailsAfterConsecutiveFailures(t *testing.T) {
	publisher := &recordingPublisher{}
	controller := newTestController(alwaysSearch(), newRegistry(t, failingTool(tools.SearchWeb)), 10, WithPublisher(publisher))

	result := controller.Run(context.Background(), testBrief())

	require.Equal(t, store.RunFailed, result.Status)
	require.Equal(t, 3, result.StepsTaken)
	require.Contains(t, result.Error, "3 consecutive step failures")
	require.Len(t, publisher.ofType(events.TypeStepError), 3)
	require.Equal(t, events.TypeError, publisher.last().Type)
}

func TestRunSuccessResetsFailureCounter(t *testing.T) {
	policy := NewScriptedPolicy(
		Decision{Action: SearchWeb{Query: "a"}},
		Decision{Action: SearchWeb{Query: "b"}},
	).
		FailAt(0, errors.New("policy timeout")).
		FailAt(2, errors.New("policy timeout")).
		FailAt(3, errors.New("policy timeout")).
		FailAt(4, errors.New("policy timeout"))

	controller := newTestController(policy, newRegistry(t, findingsTool(tools.SearchWeb, 1)), 10)

	result := controller.Run(context.Background(), testBrief())

	require.Equal(t, store.RunFailed, result.Status)
	require.Equal(t, 5, result.StepsTaken)
	require.Equal(t, 1, result.FindingsCount)
}

func TestRunFatalPolicyErrorFailsImmediately(t *testing.T) {
	policy := NewScriptedPolicy().FailAt(0, fmt.Errorf("decide next action: %w", llm.ErrInvalidCredentials))
	controller := newTestController(policy, newRegistry(t), 10)

	result := controller.Run(context.Background(), testBrief())

	require.Equal(t, store.RunFailed, result.Status)
	require.Equal(t, 1, result.StepsTaken)
	require.Contains(t, result.Error, "credentials rejected")
	require.Equal(t, 1, policy.Calls())
}

func TestRunStorageFailureIsNotFatal(t *testing.T) {
	policy := NewScriptedPolicy(Decision{Action: SearchWeb{Query: "a"}}, Decision{Action: Finish{}})
	publisher := &recordingPublisher{}
	controller := newTestController(policy, newRegistry(t, findingsTool(tools.SearchWeb, 2)), 10,
		WithPublisher(publisher), WithFindingStore(failingFindingStore{}))

	result := controller.Run(context.Background(), testBrief())

	require.Equal(t, store.RunCompleted, result.Status)
	require.Equal(t, 2, result.FindingsCount)
	stepErrors := publisher.ofType(events.TypeStepError)
	require.Len(t, stepErrors, 2)
	require.Equal(t, "disk full", stepErrors[0].Error)
}

func TestRunDoesNotPersistFindingsTwice(t *testing.T) {
	mem := memory.New()
	policy := NewScriptedPolicy(
		Decision{Action: SaveFinding{FindingType: "insight", Title: "Demand", Content: "Спрос растёт"}},
		Decision{Action: Finish{}},
	)
	registry := newRegistry(t, tools.NewSaveFindingTool(mem, 2000))
	controller := newTestController(policy, registry, 10, WithFindingStore(mem))

	result := controller.Run(context.Background(), testBrief())

	require.Equal(t, store.RunCompleted, result.Status)
	persisted, err := mem.ListFindings(context.Background(), "research-1")
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	require.Equal(t, persisted[0].ID, result.Findings[0].ID)
}

func TestRunObservationFindingAndVisitedURLs(t *testing.T) {
	sequentialIDs(t)
	parse := &stubTool{name: tools.ParseURL, result: func(int, map[string]any) tools.Result {
		return tools.Result{Success: true, Data: map[string]any{"url": "https://rbc.ru/coffee"}}
	}}
	policy := NewScriptedPolicy(
		Decision{Action: ParseURL{URL: "https://rbc.ru/coffee"}},
		Decision{Action: ParseURL{URL: "https://rbc.ru/coffee"}},
		Decision{Action: Finish{}},
	)
	controller := newTestController(policy, newRegistry(t, parse), 10)

	result := controller.Run(context.Background(), testBrief())

	require.Equal(t, store.RunCompleted, result.Status)
	require.Equal(t, 1, result.State.VisitedURLsCount)
	require.Len(t, result.Findings, 2)
	require.Equal(t, observationCategory, result.Findings[0].Category)
	require.Equal(t, "parse_url result", result.Findings[0].Title)
	require.Equal(t, `{"url":"https://rbc.ru/coffee"}`, result.Findings[0].Content)
	require.Equal(t, "finding-1", result.Findings[0].ID)
}

func TestRunTruncatesFindingContent(t *testing.T) {
	long := &stubTool{name: tools.SearchWeb, result: func(int, map[string]any) tools.Result {
		return tools.Result{Success: true, Findings: []tools.Finding{{Category: "news", Title: "long", Content: strings.Repeat("я", 50)}}}
	}}
	policy := NewScriptedPolicy(Decision{Action: SearchWeb{Query: "a"}}, Decision{Action: Finish{}})
	cfg := testConfig(10)
	cfg.MaxContentChars = 10
	controller := NewController(policy, newRegistry(t, long), WithConfig(cfg))

	result := controller.Run(context.Background(), testBrief())

	require.Equal(t, tools.Truncate(strings.Repeat("я", 50), 10), result.Findings[0].Content)
	require.Len(t, []rune(result.Findings[0].Content), 10)
}

func TestRunToolTimeoutBoundsSlowTool(t *testing.T) {
	slow := &slowTool{}
	policy := alwaysSearch()
	cfg := testConfig(2)
	cfg.ToolTimeout = 20 * time.Millisecond
	controller := NewController(policy, newRegistry(t, slow), WithConfig(cfg))

	start := time.Now()
	result := controller.Run(context.Background(), testBrief())

	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, store.RunMaxStepsReached, result.Status)
	require.Zero(t, result.FindingsCount)
	require.Equal(t, context.DeadlineExceeded.Error(), result.Invocations[0].Error)
}

type slowTool struct{}

func (slowTool) Name() string             { return tools.SearchWeb }
func (slowTool) Description() string      { return "slow" }
func (slowTool) Parameters() tools.Schema { return tools.Schema{"type": "object"} }

func (slowTool) Execute(ctx context.Context, run tools.RunContext, args map[string]any) tools.Result {
	select {
	case <-ctx.Done():
		return tools.Result{Success: false, Error: ctx.Err().Error()}
	case <-time.After(5 * time.Second):
		return tools.Result{Success: true}
	}
}
