package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
)

const (
	runAgentTimeout    = 2 * time.Hour
	heartbeatTimeout   = time.Minute
	verifyTimeout      = 20 * time.Minute
	failureHandlerWait = time.Minute
)

type ResearchInput struct {
	ResearchID string
	RunID      string
	Verify     bool
}

type ResearchResult struct {
	Status        string
	StepsTaken    int
	FindingsCount int
	Verified      int
}

// ResearchWorkflow runs the agent loop for one prepared run and then verifies
// the collected findings.
func ResearchWorkflow(ctx workflow.Context, input ResearchInput) (ResearchResult, error) {
	logger := workflow.GetLogger(ctx)

	agentCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: runAgentTimeout,
		HeartbeatTimeout:    heartbeatTimeout,
		WaitForCancellation: true,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var agentResult RunAgentOutput
	err := workflow.ExecuteActivity(agentCtx, "RunAgent", RunAgentInput{
		ResearchID: input.ResearchID,
		RunID:      input.RunID,
	}).Get(ctx, &agentResult)
	if err != nil {
		var canceled *temporal.CanceledError
		if errors.As(err, &canceled) || ctx.Err() != nil {
			logger.Info("research workflow cancelled", "research_id", input.ResearchID)
			cleanupCtx, _ := workflow.NewDisconnectedContext(ctx)
			recordRunEnd(cleanupCtx, RunFailureInput{
				ResearchID: input.ResearchID,
				RunID:      input.RunID,
				Status:     store.RunCancelled,
				Error:      "cancelled",
			})
			return ResearchResult{Status: store.RunCancelled}, nil
		}
		logger.Error("agent activity failed", "research_id", input.ResearchID, "error", err)
		recordRunEnd(ctx, RunFailureInput{
			ResearchID: input.ResearchID,
			RunID:      input.RunID,
			Status:     store.RunFailed,
			Error:      "agent: " + err.Error(),
		})
		return ResearchResult{Status: store.RunFailed}, nil
	}

	result := ResearchResult{
		Status:        agentResult.Status,
		StepsTaken:    agentResult.StepsTaken,
		FindingsCount: agentResult.FindingsCount,
	}
	if !input.Verify || agentResult.FindingsCount == 0 {
		return result, nil
	}
	if agentResult.Status != store.RunCompleted && agentResult.Status != store.RunMaxStepsReached {
		return result, nil
	}

	verifyCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: verifyTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 2,
		},
	})
	var verifyResult VerifyOutput
	if err := workflow.ExecuteActivity(verifyCtx, "VerifyFindings", VerifyInput{ResearchID: input.ResearchID}).Get(ctx, &verifyResult); err != nil {
		logger.Warn("verification activity failed", "research_id", input.ResearchID, "error", err)
		return result, nil
	}
	result.Verified = verifyResult.Records
	return result, nil
}

// recordRunEnd persists a run outcome the agent activity could not report.
func recordRunEnd(ctx workflow.Context, input RunFailureInput) {
	failureCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: failureHandlerWait,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})
	if err := workflow.ExecuteActivity(failureCtx, "HandleRunFailure", input).Get(failureCtx, nil); err != nil {
		workflow.GetLogger(ctx).Error("failed to persist run end", "research_id", input.ResearchID, "status", input.Status, "error", err)
	}
}
