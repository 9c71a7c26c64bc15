package workflows

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/konard/RDmitryV-Trial-RDV/internal/agent"
	"github.com/konard/RDmitryV-Trial-RDV/internal/events"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
)

var heartbeatInterval = 10 * time.Second

type RunAgentInput struct {
	ResearchID string
	RunID      string
}

type RunAgentOutput struct {
	Status        string `json:"status"`
	StepsTaken    int    `json:"steps_taken"`
	FindingsCount int    `json:"findings_count"`
}

type VerifyInput struct {
	ResearchID string
}

type VerifyOutput struct {
	Records int `json:"records"`
}

type RunFailureInput struct {
	ResearchID string
	RunID      string
	Status     string
	Error      string
}

// RunExecutor is the part of agent.Executor the worker needs.
type RunExecutor interface {
	Load(ctx context.Context, researchID string, runID string) (agent.Brief, error)
	Execute(ctx context.Context, brief agent.Brief) (agent.RunResult, error)
	Abort(ctx context.Context, brief agent.Brief, status string, cause string) (bool, error)
}

type ResearchActivities struct {
	runs      RunExecutor
	verifier  agent.Verifier
	publisher agent.Publisher
}

func NewResearchActivities(runs RunExecutor, verifier agent.Verifier, publisher agent.Publisher) *ResearchActivities {
	return &ResearchActivities{runs: runs, verifier: verifier, publisher: publisher}
}

// RunAgent executes the loop while heartbeating, so a workflow cancellation
// reaches the loop through the activity context.
func (a *ResearchActivities) RunAgent(ctx context.Context, input RunAgentInput) (RunAgentOutput, error) {
	if strings.TrimSpace(input.ResearchID) == "" || strings.TrimSpace(input.RunID) == "" {
		return RunAgentOutput{}, errors.New("research_id and run_id required")
	}
	brief, err := a.runs.Load(ctx, input.ResearchID, input.RunID)
	if err != nil {
		return RunAgentOutput{}, err
	}

	stop := startHeartbeat(ctx, heartbeatInterval)
	result, err := a.runs.Execute(ctx, brief)
	stop()
	if err != nil {
		return RunAgentOutput{}, err
	}
	return RunAgentOutput{
		Status:        result.Status,
		StepsTaken:    result.StepsTaken,
		FindingsCount: result.FindingsCount,
	}, nil
}

func (a *ResearchActivities) VerifyFindings(ctx context.Context, input VerifyInput) (VerifyOutput, error) {
	if strings.TrimSpace(input.ResearchID) == "" {
		return VerifyOutput{}, errors.New("research_id required")
	}
	if a.verifier == nil {
		return VerifyOutput{}, nil
	}
	records, err := a.verifier.VerifyResearch(ctx, input.ResearchID)
	if err != nil {
		return VerifyOutput{}, err
	}
	return VerifyOutput{Records: len(records)}, nil
}

// HandleRunFailure records a run that ended without the loop reporting it,
// as failed or cancelled, and emits its terminal event once.
func (a *ResearchActivities) HandleRunFailure(ctx context.Context, input RunFailureInput) error {
	if strings.TrimSpace(input.ResearchID) == "" {
		return errors.New("research_id required")
	}
	status := input.Status
	if status != store.RunCancelled {
		status = store.RunFailed
	}
	detail := strings.TrimSpace(input.Error)
	if detail == "" {
		detail = "unknown workflow activity error"
	}
	brief := agent.Brief{ResearchID: input.ResearchID, RunID: input.RunID}
	recorded, err := a.runs.Abort(ctx, brief, status, detail)
	if err != nil {
		return err
	}
	if !recorded || a.publisher == nil {
		return nil
	}
	return a.publisher.Publish(ctx, events.Event{
		ResearchID: input.ResearchID,
		Type:       events.TypeError,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Message:    "Research " + status,
		Error:      detail,
		Results:    &events.Results{Status: status},
	})
}

func startHeartbeat(ctx context.Context, interval time.Duration) func() {
	if !activity.IsActivity(ctx) {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
