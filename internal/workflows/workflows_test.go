package workflows

import (
	"context"
	"errors"
	"testing"

	"contribledger/internal/activities"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

func registerActivityName[T any](env *testsuite.TestWorkflowEnvironment, name string, fn T) {
	env.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

func registerStubs(env *testsuite.TestWorkflowEnvironment) {
	registerActivityName(env, "EvaluateContributionActivity", func(context.Context, activities.EvaluateInput) (activities.EvaluateOutput, error) {
		return activities.EvaluateOutput{}, nil
	})
	registerActivityName(env, "RegisterAllocationsActivity", func(context.Context, activities.RegisterInput) (activities.RegisterOutput, error) {
		return activities.RegisterOutput{}, nil
	})
	registerActivityName(env, "RefreshGraphActivity", func(context.Context, activities.RefreshGraphInput) (activities.RefreshGraphOutput, error) {
		return activities.RefreshGraphOutput{}, nil
	})
	registerActivityName(env, "ListPendingActivity", func(context.Context) (activities.ListPendingOutput, error) {
		return activities.ListPendingOutput{}, nil
	})
}

func qualified(id string) activities.EvaluateOutput {
	return activities.EvaluateOutput{SubmissionID: id, Status: "QUALIFIED", Qualified: true, Composite: "6502.500000000000000000", Funded: []string{"gold"}}
}

func TestEvaluateContributionWorkflowRegistersAndRefreshes(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(EvaluateContributionWorkflow)
	registerStubs(env)

	env.OnActivity("EvaluateContributionActivity", mock.Anything, activities.EvaluateInput{SubmissionID: "s1"}).Return(qualified("s1"), nil)
	env.OnActivity("RegisterAllocationsActivity", mock.Anything, activities.RegisterInput{SubmissionID: "s1"}).Return(activities.RegisterOutput{Certificate: "redis:certs:1-0"}, nil).Once()
	env.OnActivity("RefreshGraphActivity", mock.Anything, mock.Anything).Return(activities.RefreshGraphOutput{Nodes: 1}, nil).Once()

	env.ExecuteWorkflow(EvaluateContributionWorkflow, EvaluateContributionInput{SubmissionID: "s1", RefreshGraph: true})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out activities.EvaluateOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "redis:certs:1-0", out.Certificate)
	require.Equal(t, []string{"gold"}, out.Funded)
	env.AssertExpectations(t)
}

func TestEvaluateContributionWorkflowRegistrationFailureIsBestEffort(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(EvaluateContributionWorkflow)
	registerStubs(env)

	env.OnActivity("EvaluateContributionActivity", mock.Anything, mock.Anything).Return(qualified("s1"), nil)
	env.OnActivity("RegisterAllocationsActivity", mock.Anything, mock.Anything).
		Return(activities.RegisterOutput{}, temporal.NewNonRetryableApplicationError("registry down", "collaborator_unavailable", nil))

	env.ExecuteWorkflow(EvaluateContributionWorkflow, EvaluateContributionInput{SubmissionID: "s1"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out activities.EvaluateOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.True(t, out.Qualified)
	require.Empty(t, out.Certificate)

	val, err := env.QueryWorkflow(QueryGetEvaluationStatus)
	require.NoError(t, err)
	var progress EvaluationProgress
	require.NoError(t, val.Get(&progress))
	require.Equal(t, "failed", progress.Steps["register"])
	require.Equal(t, "qualified", progress.Status)
}

func TestEvaluateContributionWorkflowSkipsRegistrationWhenUnqualified(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(EvaluateContributionWorkflow)
	registerStubs(env)

	env.OnActivity("EvaluateContributionActivity", mock.Anything, mock.Anything).
		Return(activities.EvaluateOutput{SubmissionID: "s2", Status: "UNQUALIFIED", Reason: "exact duplicate", DuplicateOf: []string{"s1"}}, nil)

	env.ExecuteWorkflow(EvaluateContributionWorkflow, EvaluateContributionInput{SubmissionID: "s2"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertNotCalled(t, "RegisterAllocationsActivity", mock.Anything, mock.Anything)
}

func TestEvaluateContributionWorkflowFailsOnFinalError(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(EvaluateContributionWorkflow)
	registerStubs(env)

	env.OnActivity("EvaluateContributionActivity", mock.Anything, mock.Anything).
		Return(activities.EvaluateOutput{}, temporal.NewNonRetryableApplicationError("not found", "not_found", nil))

	env.ExecuteWorkflow(EvaluateContributionWorkflow, EvaluateContributionInput{SubmissionID: "missing"})
	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, "not_found", appErr.Type())
}

func TestBackfillWorkflowResumesAndRegisters(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(BackfillWorkflow)
	env.RegisterWorkflow(EvaluateContributionWorkflow)
	registerStubs(env)

	env.OnActivity("ListPendingActivity", mock.Anything).
		Return(activities.ListPendingOutput{Evaluations: []string{"s1", "s3"}, Registrations: []string{"s2"}}, nil)
	env.OnActivity("EvaluateContributionActivity", mock.Anything, activities.EvaluateInput{SubmissionID: "s1"}).
		Return(activities.EvaluateOutput{SubmissionID: "s1", Status: "UNQUALIFIED", Reason: "coherence below minimum"}, nil)
	env.OnActivity("EvaluateContributionActivity", mock.Anything, activities.EvaluateInput{SubmissionID: "s3"}).
		Return(activities.EvaluateOutput{}, temporal.NewNonRetryableApplicationError("bad", "invalid_input", nil))
	env.OnActivity("RegisterAllocationsActivity", mock.Anything, activities.RegisterInput{SubmissionID: "s2"}).
		Return(activities.RegisterOutput{Certificate: "local:s2"}, nil)

	env.ExecuteWorkflow(BackfillWorkflow, BackfillInput{})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var report BackfillReport
	require.NoError(t, env.GetWorkflowResult(&report))
	require.Equal(t, BackfillAll, report.Mode)
	require.Equal(t, 1, report.Resumed)
	require.Equal(t, 1, report.ResumeFailed)
	require.Equal(t, 1, report.Registered)
	require.Equal(t, "unqualified", report.PerSubmission["s1"])
	require.Equal(t, "resume_failed", report.PerSubmission["s3"])
	require.Equal(t, "registered", report.PerSubmission["s2"])
}

func TestBackfillWorkflowRegistrationsOnly(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(BackfillWorkflow)
	env.RegisterWorkflow(EvaluateContributionWorkflow)
	registerStubs(env)

	env.OnActivity("ListPendingActivity", mock.Anything).
		Return(activities.ListPendingOutput{Evaluations: []string{"s1"}, Registrations: []string{"s2"}}, nil)
	env.OnActivity("RegisterAllocationsActivity", mock.Anything, mock.Anything).
		Return(activities.RegisterOutput{}, temporal.NewNonRetryableApplicationError("down", "collaborator_unavailable", nil))

	env.ExecuteWorkflow(BackfillWorkflow, BackfillInput{Mode: "retry_registrations"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var report BackfillReport
	require.NoError(t, env.GetWorkflowResult(&report))
	require.Equal(t, 0, report.Resumed)
	require.Equal(t, 1, report.RegistrationFailed)
	env.AssertNotCalled(t, "EvaluateContributionActivity", mock.Anything, mock.Anything)
}

func TestEvaluationWorkflowIDIsSanitized(t *testing.T) {
	require.Equal(t, "evaluate-a_b-c", EvaluationWorkflowID(" a/b-c "))
}
