package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"

	"github.com/konard/RDmitryV-Trial-RDV/internal/agent"
)

const DefaultTaskQueue = "research-runs"

// RunPreparer records a run before it is handed to the worker.
type RunPreparer interface {
	Prepare(ctx context.Context, researchID string) (agent.Brief, error)
	Fail(ctx context.Context, brief agent.Brief, cause string) error
}

// Service starts and cancels research workflows. It implements agent.Runner.
type Service struct {
	client    client.Client
	runs      RunPreparer
	taskQueue string
	verify    bool
}

func NewService(client client.Client, runs RunPreparer, taskQueue string, verify bool) *Service {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &Service{client: client, runs: runs, taskQueue: taskQueue, verify: verify}
}

func (s *Service) Start(ctx context.Context, researchID string) (string, error) {
	brief, err := s.runs.Prepare(ctx, researchID)
	if err != nil {
		return "", err
	}
	options := client.StartWorkflowOptions{
		ID:        workflowID(researchID),
		TaskQueue: s.taskQueue,
	}
	input := ResearchInput{ResearchID: researchID, RunID: brief.RunID, Verify: s.verify}
	if _, err := s.client.ExecuteWorkflow(ctx, options, ResearchWorkflow, input); err != nil {
		if failErr := s.runs.Fail(context.WithoutCancel(ctx), brief, "start workflow: "+err.Error()); failErr != nil {
			return "", fmt.Errorf("start workflow: %w (record failure: %v)", err, failErr)
		}
		return "", fmt.Errorf("start workflow: %w", err)
	}
	return brief.RunID, nil
}

func (s *Service) Cancel(ctx context.Context, researchID string) error {
	return s.client.CancelWorkflow(ctx, workflowID(researchID), "")
}

func workflowID(researchID string) string {
	return fmt.Sprintf("research:%s", researchID)
}
