package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"

	"github.com/konard/RDmitryV-Trial-RDV/internal/agent"
)

type stubPreparer struct {
	prepareErr error
	failed     []string
}

func (s *stubPreparer) Prepare(ctx context.Context, researchID string) (agent.Brief, error) {
	if s.prepareErr != nil {
		return agent.Brief{}, s.prepareErr
	}
	return agent.Brief{ResearchID: researchID, RunID: "run-" + researchID}, nil
}

func (s *stubPreparer) Fail(ctx context.Context, brief agent.Brief, cause string) error {
	s.failed = append(s.failed, brief.RunID+": "+cause)
	return nil
}

func TestNewServiceDefaultsTaskQueue(t *testing.T) {
	service := NewService(mocks.NewClient(t), &stubPreparer{}, "", true)
	if service.taskQueue != DefaultTaskQueue {
		t.Fatalf("expected default task queue, got %q", service.taskQueue)
	}
}

func TestServiceStart_Success(t *testing.T) {
	mockClient := mocks.NewClient(t)
	workflowRun := mocks.NewWorkflowRun(t)
	taskQueue := "research-runs-test"

	mockClient.On(
		"ExecuteWorkflow",
		mock.Anything,
		mock.MatchedBy(func(opts client.StartWorkflowOptions) bool {
			return opts.ID == "research:r1" && opts.TaskQueue == taskQueue
		}),
		mock.Anything,
		ResearchInput{ResearchID: "r1", RunID: "run-r1", Verify: true},
	).Return(workflowRun, nil)

	preparer := &stubPreparer{}
	service := NewService(mockClient, preparer, taskQueue, true)
	runID, err := service.Start(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, "run-r1", runID)
	require.Empty(t, preparer.failed)
}

func TestServiceStart_WorkflowErrorFailsRun(t *testing.T) {
	mockClient := mocks.NewClient(t)
	mockClient.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return((*mocks.WorkflowRun)(nil), errors.New("temporal unavailable"))

	preparer := &stubPreparer{}
	service := NewService(mockClient, preparer, "", false)
	_, err := service.Start(context.Background(), "r2")
	require.ErrorContains(t, err, "temporal unavailable")
	require.Equal(t, []string{"run-r2: start workflow: temporal unavailable"}, preparer.failed)
}

func TestServiceStart_PrepareError(t *testing.T) {
	service := NewService(mocks.NewClient(t), &stubPreparer{prepareErr: agent.ErrAlreadyRunning}, "", false)
	_, err := service.Start(context.Background(), "r3")
	require.ErrorIs(t, err, agent.ErrAlreadyRunning)
}

func TestServiceCancel(t *testing.T) {
	mockClient := mocks.NewClient(t)
	mockClient.On("CancelWorkflow", mock.Anything, "research:r4", "").Return(nil).Once()

	service := NewService(mockClient, &stubPreparer{}, "", false)
	require.NoError(t, service.Cancel(context.Background(), "r4"))
}

func TestServiceCancel_Error(t *testing.T) {
	mockClient := mocks.NewClient(t)
	mockClient.On("CancelWorkflow", mock.Anything, "research:r5", "").Return(errors.New("not found")).Once()

	service := NewService(mockClient, &stubPreparer{}, "", false)
	require.EqualError(t, service.Cancel(context.Background(), "r5"), "not found")
}
