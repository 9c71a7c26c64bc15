package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/konard/RDmitryV-Trial-RDV/internal/events"
	"github.com/konard/RDmitryV-Trial-RDV/internal/llm"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
	"github.com/konard/RDmitryV-Trial-RDV/internal/tools"
)

var newFindingID = uuid.NewString

const (
	defaultToolTimeout     = 30 * time.Second
	defaultMaxContentChars = 2000
	observationCategory    = "observation"
)

// Publisher delivers progress events for a research.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type PublisherFunc func(ctx context.Context, event events.Event) error

func (f PublisherFunc) Publish(ctx context.Context, event events.Event) error {
	return f(ctx, event)
}

type FindingStore interface {
	AddFinding(ctx context.Context, finding store.Finding) error
}

// ToolExecutor is the part of tools.Registry the loop dispatches to.
type ToolExecutor interface {
	Has(name string) bool
	Schemas() []tools.Descriptor
	Execute(ctx context.Context, run tools.RunContext, name string, args map[string]any) tools.Result
}

type Config struct {
	MaxSteps         int
	FailureThreshold int
	StepDelay        time.Duration
	ToolTimeout      time.Duration
	PolicyTimeout    time.Duration
	MaxContentChars  int
}

func DefaultConfig() Config {
	return Config{
		MaxSteps:         DefaultMaxSteps,
		FailureThreshold: DefaultFailureThreshold,
		ToolTimeout:      defaultToolTimeout,
		MaxContentChars:  defaultMaxContentChars,
	}
}

type RunResult struct {
	Status        string
	StepsTaken    int
	FindingsCount int
	Report        string
	Findings      []store.Finding
	Invocations   []ToolInvocation
	State         *events.State
	Error         string
}

// Results is the terminal event payload of the run.
func (r RunResult) Results() *events.Results {
	return &events.Results{
		Status:        r.Status,
		StepsTaken:    r.StepsTaken,
		FindingsCount: r.FindingsCount,
		Report:        r.Report,
	}
}

type Controller struct {
	policy    DecisionPolicy
	tools     ToolExecutor
	planner   Planner
	reporter  Reporter
	publisher Publisher
	findings  FindingStore
	cfg       Config
	now       func() time.Time
}

type Option func(*Controller)

func WithPlanner(planner Planner) Option {
	return func(c *Controller) {
		if planner != nil {
			c.planner = planner
		}
	}
}

func WithReporter(reporter Reporter) Option {
	return func(c *Controller) {
		if reporter != nil {
			c.reporter = reporter
		}
	}
}

func WithPublisher(publisher Publisher) Option {
	return func(c *Controller) {
		c.publisher = publisher
	}
}

func WithFindingStore(findings FindingStore) Option {
	return func(c *Controller) {
		c.findings = findings
	}
}

func WithConfig(cfg Config) Option {
	return func(c *Controller) {
		c.cfg = cfg
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

func NewController(policy DecisionPolicy, executor ToolExecutor, opts ...Option) *Controller {
	c := &Controller{
		policy:   policy,
		tools:    executor,
		planner:  TemplatePlanner{},
		reporter: TemplateReporter{},
		cfg:      DefaultConfig(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.MaxSteps < 0 {
		c.cfg.MaxSteps = 0
	}
	if c.cfg.FailureThreshold <= 0 {
		c.cfg.FailureThreshold = DefaultFailureThreshold
	}
	if c.cfg.MaxContentChars <= 0 {
		c.cfg.MaxContentChars = defaultMaxContentChars
	}
	return c
}

func (c *Controller) Config() Config {
	return c.cfg
}

// Run drives one research run until finish, budget exhaustion, failure or
// cancellation. It always returns a result; partial findings stay persisted.
func (c *Controller) Run(ctx context.Context, brief Brief) RunResult {
	logger := log.With().Str("research_id", brief.ResearchID).Str("run_id", brief.RunID).Logger()
	st := newState(brief, c.cfg.MaxSteps)
	st.pending = c.planner.Plan(ctx, brief)
	descriptors := c.tools.Schemas()

	logger.Info().Int("max_steps", c.cfg.MaxSteps).Int("subtasks", len(st.pending)).Msg("agent_run_started")

	status, runErr := c.loop(ctx, st, descriptors, logger)

	if status == store.RunCompleted {
		st.isComplete = true
	}
	report := c.reporter.Report(ctx, brief, st.findings, RunSummary{
		Status:      status,
		StepsTaken:  st.stepCount,
		VisitedURLs: len(st.visitedOrder),
	})
	result := RunResult{
		Status:        status,
		StepsTaken:    st.stepCount,
		FindingsCount: len(st.findings),
		Report:        report,
		Findings:      st.findings,
		Invocations:   st.invocations,
		State:         st.progress(),
		Error:         runErr,
	}
	c.publishTerminal(ctx, result)

	logger.Info().
		Str("status", status).
		Int("steps_taken", result.StepsTaken).
		Int("findings", result.FindingsCount).
		Msg("agent_run_finished")
	return result
}

func (c *Controller) loop(ctx context.Context, st *state, descriptors []tools.Descriptor, logger zerolog.Logger) (string, string) {
	for {
		if ctx.Err() != nil {
			return store.RunCancelled, "cancelled"
		}
		if st.stepCount >= st.maxSteps {
			return store.RunMaxStepsReached, ""
		}
		st.stepCount++
		step := st.stepCount
		c.publish(ctx, events.Event{
			ResearchID: st.brief.ResearchID,
			Type:       events.TypeProgress,
			Message:    fmt.Sprintf("Step %d/%d: Reasoning...", step, st.maxSteps),
			State:      st.progress(),
		}, logger)

		decision, err := c.decide(ctx, st.snapshot(descriptors))
		if err != nil {
			if ctx.Err() != nil {
				return store.RunCancelled, "cancelled"
			}
			if llm.IsFatal(err) {
				logger.Error().Err(err).Int("step", step).Msg("agent_policy_fatal")
				return store.RunFailed, err.Error()
			}
			name := ""
			var unknown UnknownActionError
			if errors.As(err, &unknown) {
				name = unknown.Name
			}
			if c.stepFailed(ctx, st, step, name, nil, err.Error(), logger) {
				return store.RunFailed, failureMessage(st, err.Error())
			}
			c.sleepStep(ctx)
			continue
		}

		action := decision.Action
		if _, ok := action.(Finish); ok {
			logger.Info().Int("step", step).Str("reasoning", decision.Reasoning).Msg("agent_finish")
			return store.RunCompleted, ""
		}
		if !c.tools.Has(action.Name()) {
			message := UnknownActionError{Name: action.Name()}.Error()
			if c.stepFailed(ctx, st, step, action.Name(), action.Arguments(), message, logger) {
				return store.RunFailed, failureMessage(st, message)
			}
			c.sleepStep(ctx)
			continue
		}

		result := c.execute(ctx, st, step, action)
		if !result.Success {
			if ctx.Err() != nil {
				return store.RunCancelled, "cancelled"
			}
			if c.stepFailed(ctx, st, step, action.Name(), action.Arguments(), result.Error, logger) {
				return store.RunFailed, failureMessage(st, result.Error)
			}
			c.sleepStep(ctx)
			continue
		}

		c.observe(ctx, st, step, action, result, logger)
		c.publish(ctx, events.Event{
			ResearchID: st.brief.ResearchID,
			Type:       events.TypeProgress,
			Message:    fmt.Sprintf("Step %d/%d: %s completed", step, st.maxSteps, action.Name()),
			State:      st.progress(),
		}, logger)
		c.sleepStep(ctx)
	}
}

func (c *Controller) decide(ctx context.Context, snapshot Snapshot) (Decision, error) {
	callCtx := ctx
	if c.cfg.PolicyTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.PolicyTimeout)
		defer cancel()
	}
	decision, err := c.policy.NextAction(callCtx, snapshot)
	if err != nil {
		return Decision{}, err
	}
	if decision.Action == nil {
		return Decision{}, fmt.Errorf("%w: decision has no action", ErrMalformedDecision)
	}
	return decision, nil
}

func (c *Controller) execute(ctx context.Context, st *state, step int, action Action) tools.Result {
	callCtx := ctx
	if c.cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.ToolTimeout)
		defer cancel()
	}
	run := tools.RunContext{ResearchID: st.brief.ResearchID, RunID: st.brief.RunID, Step: step}
	return c.tools.Execute(callCtx, run, action.Name(), action.Arguments())
}

// observe folds a successful tool result into the run state.
func (c *Controller) observe(ctx context.Context, st *state, step int, action Action, result tools.Result, logger zerolog.Logger) {
	st.consecutiveFailures = 0
	st.invocations = append(st.invocations, ToolInvocation{
		Step:      step,
		Action:    action.Name(),
		Arguments: action.Arguments(),
		Success:   true,
		Data:      result.Data,
		Timestamp: c.timestamp(),
	})

	contributed := result.Findings
	if len(contributed) == 0 {
		contributed = []tools.Finding{observation(action, result)}
	}
	createdAt := c.timestamp()
	for _, item := range contributed {
		finding := store.Finding{
			ID:         item.ID,
			ResearchID: st.brief.ResearchID,
			RunID:      st.brief.RunID,
			Step:       step,
			Category:   item.Category,
			Title:      item.Title,
			Content:    tools.Truncate(item.Content, c.cfg.MaxContentChars),
			SourceURL:  item.SourceURL,
			Confidence: item.Confidence,
			Metadata:   cloneMap(item.Metadata),
			CreatedAt:  createdAt,
		}
		if finding.ID == "" {
			finding.ID = newFindingID()
		}
		st.findings = append(st.findings, finding)
		if item.Saved || c.findings == nil {
			continue
		}
		if err := c.findings.AddFinding(ctx, finding); err != nil {
			logger.Warn().Err(err).Int("step", step).Str("finding_id", finding.ID).Msg("agent_finding_persist_failed")
			c.publish(ctx, events.Event{
				ResearchID: st.brief.ResearchID,
				Type:       events.TypeStepError,
				Message:    fmt.Sprintf("Step %d/%d: finding not persisted", step, st.maxSteps),
				State:      st.progress(),
				Error:      err.Error(),
			}, logger)
		}
	}

	if action.Name() == tools.ParseURL {
		if url, ok := result.Data["url"].(string); ok {
			st.visit(url)
		} else if parse, ok := action.(ParseURL); ok {
			st.visit(parse.URL)
		}
	}
	st.completeSubtask()
	logger.Debug().Int("step", step).Str("action", action.Name()).Int("findings", len(contributed)).Msg("agent_step_observed")
}

// stepFailed records a recoverable failure and reports whether the run has
// reached the consecutive failure threshold.
func (c *Controller) stepFailed(ctx context.Context, st *state, step int, name string, args map[string]any, message string, logger zerolog.Logger) bool {
	st.consecutiveFailures++
	st.invocations = append(st.invocations, ToolInvocation{
		Step:      step,
		Action:    name,
		Arguments: args,
		Success:   false,
		Error:     message,
		Timestamp: c.timestamp(),
	})
	logger.Warn().Int("step", step).Str("action", name).Str("error", message).Int("consecutive_failures", st.consecutiveFailures).Msg("agent_step_failed")
	c.publish(ctx, events.Event{
		ResearchID: st.brief.ResearchID,
		Type:       events.TypeStepError,
		Message:    fmt.Sprintf("Step %d/%d: %s failed", step, st.maxSteps, defaultString(name, "decision")),
		State:      st.progress(),
		Error:      message,
	}, logger)
	return st.consecutiveFailures >= c.cfg.FailureThreshold
}

func failureMessage(st *state, last string) string {
	return fmt.Sprintf("%d consecutive step failures: %s", st.consecutiveFailures, last)
}

func (c *Controller) publishTerminal(ctx context.Context, result RunResult) {
	event := events.Event{
		ResearchID: result.State.ResearchID,
		State:      result.State,
		Results:    result.Results(),
	}
	switch result.Status {
	case store.RunCompleted, store.RunMaxStepsReached:
		event.Type = events.TypeCompleted
		event.Message = fmt.Sprintf("Research %s after %d steps", result.Status, result.StepsTaken)
	default:
		event.Type = events.TypeError
		event.Message = fmt.Sprintf("Research %s after %d steps", result.Status, result.StepsTaken)
		event.Error = result.Error
	}
	c.publish(context.WithoutCancel(ctx), event, log.With().Str("research_id", event.ResearchID).Logger())
}

func (c *Controller) publish(ctx context.Context, event events.Event, logger zerolog.Logger) {
	if c.publisher == nil {
		return
	}
	if event.Timestamp == "" {
		event.Timestamp = c.timestamp()
	}
	if err := c.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		logger.Warn().Err(err).Str("event_type", event.Type).Msg("agent_event_publish_failed")
	}
}

func (c *Controller) sleepStep(ctx context.Context) {
	if c.cfg.StepDelay <= 0 {
		return
	}
	timer := time.NewTimer(c.cfg.StepDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (c *Controller) timestamp() string {
	return c.now().UTC().Format(time.RFC3339Nano)
}

// observation summarises a tool result that contributed no explicit finding.
func observation(action Action, result tools.Result) tools.Finding {
	content := ""
	if len(result.Data) > 0 {
		if encoded, err := json.Marshal(result.Data); err == nil {
			content = string(encoded)
		}
	}
	return tools.Finding{
		Category: observationCategory,
		Title:    fmt.Sprintf("%s result", action.Name()),
		Content:  content,
		Metadata: map[string]any{"tool": action.Name(), "arguments": action.Arguments()},
	}
}
