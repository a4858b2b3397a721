package workflows

import (
	"strings"
	"time"

	"contribledger/internal/activities"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	QueryGetEvaluationStatus = "GetEvaluationStatus"
	QueryGetBackfillProgress = "GetBackfillProgress"
)

const defaultEvaluateAttempts = 5

// EvaluationWorkflowID is the workflow id used for a submission, so a second
// start for the same submission is rejected while one is running.
func EvaluationWorkflowID(submissionID string) string {
	return "evaluate-" + sanitizeID(submissionID)
}

// EvaluateContributionWorkflow evaluates one contribution with retries,
// then registers its allocations and refreshes the overlap graph. Only the
// evaluation step can fail the workflow.
func EvaluateContributionWorkflow(ctx workflow.Context, input EvaluateContributionInput) (activities.EvaluateOutput, error) {
	progress := EvaluationProgress{
		SubmissionID: input.SubmissionID,
		CurrentStep:  "init",
		Status:       "processing",
		Steps:        map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetEvaluationStatus, func() (EvaluationProgress, error) {
		return progress, nil
	}); err != nil {
		return activities.EvaluateOutput{}, err
	}

	attempts := input.MaxAttempts
	if attempts <= 0 {
		attempts = defaultEvaluateAttempts
	}
	evalCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    attempts,
		},
	})
	sideCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	})

	progress.CurrentStep = "evaluate"
	progress.Steps[progress.CurrentStep] = "processing"
	var out activities.EvaluateOutput
	if err := workflow.ExecuteActivity(evalCtx, "EvaluateContributionActivity", activities.EvaluateInput{SubmissionID: input.SubmissionID}).Get(ctx, &out); err != nil {
		progress.Status = "failed"
		progress.Steps[progress.CurrentStep] = "failed"
		progress.FailReason = string(activities.ErrorKind(err))
		return activities.EvaluateOutput{}, err
	}
	progress.Steps[progress.CurrentStep] = "done"
	progress.Outcome = &out

	if out.Qualified && len(out.Funded) > 0 && out.Certificate == "" {
		progress.CurrentStep = "register"
		var reg activities.RegisterOutput
		if err := workflow.ExecuteActivity(sideCtx, "RegisterAllocationsActivity", activities.RegisterInput{SubmissionID: input.SubmissionID}).Get(ctx, &reg); err != nil {
			// The allocation stands; a backfill run retries registration.
			progress.Steps[progress.CurrentStep] = "failed"
			workflow.GetLogger(ctx).Warn("registration deferred", "submission_id", input.SubmissionID, "error", err)
		} else {
			progress.Steps[progress.CurrentStep] = "done"
			out.Certificate = reg.Certificate
		}
	}

	if input.RefreshGraph {
		progress.CurrentStep = "refresh_graph"
		if err := workflow.ExecuteActivity(sideCtx, "RefreshGraphActivity", activities.RefreshGraphInput{}).Get(ctx, nil); err != nil {
			progress.Steps[progress.CurrentStep] = "failed"
		} else {
			progress.Steps[progress.CurrentStep] = "done"
		}
	}

	progress.CurrentStep = "complete"
	progress.Status = strings.ToLower(out.Status)
	progress.Outcome = &out
	return out, nil
}

// BackfillWorkflow resumes evaluations stuck in EVALUATING and retries
// registrations that failed after allocation.
func BackfillWorkflow(ctx workflow.Context, input BackfillInput) (BackfillReport, error) {
	mode := strings.ToUpper(strings.TrimSpace(input.Mode))
	if mode == "" {
		mode = BackfillAll
	}
	report := BackfillReport{Mode: mode, PerSubmission: map[string]string{}}
	if err := workflow.SetQueryHandler(ctx, QueryGetBackfillProgress, func() (BackfillReport, error) {
		return report, nil
	}); err != nil {
		return report, err
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var pending activities.ListPendingOutput
	if err := workflow.ExecuteActivity(ctx, "ListPendingActivity").Get(ctx, &pending); err != nil {
		return report, err
	}

	if mode == BackfillAll || mode == BackfillEvaluations {
		maxChildren := input.MaxConcurrentChildren
		if maxChildren <= 0 {
			maxChildren = 3
		}
		ids := pending.Evaluations
		for i := 0; i < len(ids); i += maxChildren {
			end := i + maxChildren
			if end > len(ids) {
				end = len(ids)
			}
			futures := make([]workflow.ChildWorkflowFuture, 0, end-i)
			for _, id := range ids[i:end] {
				report.PerSubmission[id] = "resuming"
				childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{WorkflowID: "backfill-" + EvaluationWorkflowID(id)})
				futures = append(futures, workflow.ExecuteChildWorkflow(childCtx, EvaluateContributionWorkflow, EvaluateContributionInput{SubmissionID: id}))
			}
			for idx, f := range futures {
				id := ids[i+idx]
				var out activities.EvaluateOutput
				if err := f.Get(ctx, &out); err != nil {
					report.ResumeFailed++
					report.PerSubmission[id] = "resume_failed"
					continue
				}
				report.Resumed++
				report.PerSubmission[id] = strings.ToLower(out.Status)
			}
		}
	}

	if mode == BackfillAll || mode == BackfillRegistrations {
		for _, id := range pending.Registrations {
			var reg activities.RegisterOutput
			if err := workflow.ExecuteActivity(ctx, "RegisterAllocationsActivity", activities.RegisterInput{SubmissionID: id}).Get(ctx, &reg); err != nil {
				report.RegistrationFailed++
				report.PerSubmission[id] = "registration_failed"
				continue
			}
			report.Registered++
			report.PerSubmission[id] = "registered"
		}
	}

	if input.RefreshGraph {
		_ = workflow.ExecuteActivity(ctx, "RefreshGraphActivity", activities.RefreshGraphInput{}).Get(ctx, nil)
	}
	return report, nil
}

func sanitizeID(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
