package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
)

var (
	ErrResearchNotFound = errors.New("research not found")
	ErrAlreadyRunning   = errors.New("research already has an active run")
	ErrNoActiveRun      = errors.New("research has no active run")
)

var newRunID = uuid.NewString

// Runner starts a research run in the background and cancels it on request.
type Runner interface {
	Start(ctx context.Context, researchID string) (string, error)
	Cancel(ctx context.Context, researchID string) error
}

type RunStore interface {
	GetResearch(ctx context.Context, researchID string) (*store.Research, error)
	GetLatestAgentRun(ctx context.Context, researchID string) (*store.AgentRun, error)
	UpdateResearchStatus(ctx context.Context, researchID string, status string, updatedAt string) error
	CreateAgentRun(ctx context.Context, run store.AgentRun) error
	UpdateAgentRun(ctx context.Context, run store.AgentRun) error
}

type Verifier interface {
	VerifyResearch(ctx context.Context, researchID string) ([]store.VerificationRecord, error)
}

// Executor owns the persistence around one Controller.Run: the agent run
// row, the research status and the optional verification pass.
type Executor struct {
	store      RunStore
	controller *Controller
	verifier   Verifier
	now        func() time.Time
	prepareMu  sync.Mutex
}

func NewExecutor(st RunStore, controller *Controller, verifier Verifier) *Executor {
	return &Executor{store: st, controller: controller, verifier: verifier, now: time.Now}
}

// Prepare validates the research, records a running agent run and marks the
// research running. The returned brief carries the new run id.
func (e *Executor) Prepare(ctx context.Context, researchID string) (Brief, error) {
	e.prepareMu.Lock()
	defer e.prepareMu.Unlock()
	research, err := e.store.GetResearch(ctx, researchID)
	if err != nil {
		return Brief{}, err
	}
	if research == nil {
		return Brief{}, ErrResearchNotFound
	}
	if research.Status == store.ResearchRunning {
		return Brief{}, ErrAlreadyRunning
	}
	now := e.timestamp()
	runID := newRunID()
	if err := e.store.CreateAgentRun(ctx, store.AgentRun{
		ID:         runID,
		ResearchID: researchID,
		Status:     store.RunRunning,
		StartedAt:  now,
	}); err != nil {
		return Brief{}, fmt.Errorf("create agent run: %w", err)
	}
	if err := e.store.UpdateResearchStatus(ctx, researchID, store.ResearchRunning, now); err != nil {
		return Brief{}, fmt.Errorf("mark research running: %w", err)
	}
	return BriefFromResearch(*research, runID), nil
}

// Load rebuilds the brief of a prepared run.
func (e *Executor) Load(ctx context.Context, researchID string, runID string) (Brief, error) {
	research, err := e.store.GetResearch(ctx, researchID)
	if err != nil {
		return Brief{}, err
	}
	if research == nil {
		return Brief{}, ErrResearchNotFound
	}
	return BriefFromResearch(*research, runID), nil
}

// Execute runs the loop for a prepared brief and records its outcome.
func (e *Executor) Execute(ctx context.Context, brief Brief) (RunResult, error) {
	result := e.controller.Run(ctx, brief)
	if err := e.Complete(context.WithoutCancel(ctx), brief, result); err != nil {
		return result, err
	}
	return result, nil
}

// Complete stores the final run state, moves the research to its terminal
// status and verifies the findings of a successful run.
func (e *Executor) Complete(ctx context.Context, brief Brief, result RunResult) error {
	now := e.timestamp()
	if err := e.store.UpdateAgentRun(ctx, store.AgentRun{
		ID:            brief.RunID,
		ResearchID:    brief.ResearchID,
		Status:        result.Status,
		StepsTaken:    result.StepsTaken,
		FindingsCount: result.FindingsCount,
		Report:        result.Report,
		Error:         result.Error,
		FinalState:    result.State,
		CompletedAt:   now,
	}); err != nil {
		return fmt.Errorf("update agent run: %w", err)
	}
	if err := e.store.UpdateResearchStatus(ctx, brief.ResearchID, ResearchStatus(result.Status), now); err != nil {
		return fmt.Errorf("update research status: %w", err)
	}
	if e.verifier == nil || result.FindingsCount == 0 || ResearchStatus(result.Status) != store.ResearchCompleted {
		return nil
	}
	records, err := e.verifier.VerifyResearch(ctx, brief.ResearchID)
	if err != nil {
		log.Warn().Err(err).Str("research_id", brief.ResearchID).Msg("post_run_verification_failed")
		return nil
	}
	log.Info().Str("research_id", brief.ResearchID).Int("records", len(records)).Msg("post_run_verification_done")
	return nil
}

// Fail records a run that ended outside the loop, such as a crashed worker.
func (e *Executor) Fail(ctx context.Context, brief Brief, cause string) error {
	return e.Complete(ctx, brief, RunResult{
		Status: store.RunFailed,
		Error:  cause,
	})
}

// Abort ends a run that stopped outside the loop, such as a crashed worker
// or a workflow cancelled before the loop started. It reports false and
// changes nothing when the run is no longer the active run of its research.
func (e *Executor) Abort(ctx context.Context, brief Brief, status string, cause string) (bool, error) {
	run, err := e.store.GetLatestAgentRun(ctx, brief.ResearchID)
	if err != nil {
		return false, err
	}
	if run == nil || run.ID != brief.RunID || run.Status != store.RunRunning {
		return false, nil
	}
	if err := e.Complete(ctx, brief, RunResult{Status: status, Error: cause}); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Executor) timestamp() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

// ResearchStatus maps an agent run status onto the research lifecycle.
func ResearchStatus(runStatus string) string {
	switch runStatus {
	case store.RunCompleted, store.RunMaxStepsReached:
		return store.ResearchCompleted
	case store.RunCancelled:
		return store.ResearchCancelled
	case store.RunRunning:
		return store.ResearchRunning
	default:
		return store.ResearchFailed
	}
}

// LocalRunner executes runs on goroutines of the current process.
type LocalRunner struct {
	executor *Executor
	mu       sync.Mutex
	active   map[string]context.CancelFunc
	wg       sync.WaitGroup
}

func NewLocalRunner(executor *Executor) *LocalRunner {
	return &LocalRunner{executor: executor, active: map[string]context.CancelFunc{}}
}

func (r *LocalRunner) Start(ctx context.Context, researchID string) (string, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.mu.Lock()
	if _, running := r.active[researchID]; running {
		r.mu.Unlock()
		cancel()
		return "", ErrAlreadyRunning
	}
	r.active[researchID] = cancel
	r.mu.Unlock()

	brief, err := r.executor.Prepare(ctx, researchID)
	if err != nil {
		r.mu.Lock()
		delete(r.active, researchID)
		r.mu.Unlock()
		cancel()
		return "", err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.active, researchID)
			r.mu.Unlock()
			cancel()
		}()
		if _, err := r.executor.Execute(runCtx, brief); err != nil {
			log.Error().Err(err).Str("research_id", researchID).Str("run_id", brief.RunID).Msg("local_run_failed")
		}
	}()
	return brief.RunID, nil
}

func (r *LocalRunner) Cancel(_ context.Context, researchID string) error {
	r.mu.Lock()
	cancel, ok := r.active[researchID]
	r.mu.Unlock()
	if !ok {
		return ErrNoActiveRun
	}
	cancel()
	return nil
}

// Wait blocks until every started run has returned.
func (r *LocalRunner) Wait() {
	r.wg.Wait()
}
