package activities

import (
	"context"
	"errors"
	"fmt"

	"contribledger/internal/errs"
	"contribledger/internal/evaluation"
	"contribledger/internal/models"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

type Activities struct {
	orch      *evaluation.Orchestrator
	graphPath string
	log       zerolog.Logger
}

func New(orch *evaluation.Orchestrator, graphPath string, log zerolog.Logger) *Activities {
	return &Activities{
		orch:      orch,
		graphPath: graphPath,
		log:       log.With().Str("component", "activities").Logger(),
	}
}

// EvaluateContributionActivity drives a contribution to a terminal status.
// It dispatches on the stored status so a Temporal retry resumes where the
// previous attempt stopped: SUBMITTED starts an evaluation, EVALUATING
// resumes it, and a terminal contribution reports its recorded outcome.
func (a *Activities) EvaluateContributionActivity(ctx context.Context, in EvaluateInput) (EvaluateOutput, error) {
	c, err := a.orch.Archive().Get(in.SubmissionID)
	if err != nil {
		return EvaluateOutput{}, toApplicationError(err)
	}
	attempt := activity.GetInfo(ctx).Attempt
	log := a.log.With().Str("submission_id", in.SubmissionID).Int32("attempt", attempt).Logger()

	var res evaluation.Result
	switch {
	case c.Status.Terminal():
		log.Debug().Str("status", string(c.Status)).Msg("already terminal")
		return Summarize(c), nil
	case c.Status == models.StatusEvaluating:
		res, err = a.orch.Retry(ctx, in.SubmissionID)
	default:
		res, err = a.orch.Evaluate(ctx, in.SubmissionID)
	}
	if err != nil {
		log.Warn().Err(err).Msg("evaluation attempt failed")
		return EvaluateOutput{}, toApplicationError(err)
	}
	out := fromResult(res)
	out.Resumed = c.Status == models.StatusEvaluating
	return out, nil
}

func (a *Activities) RegisterAllocationsActivity(ctx context.Context, in RegisterInput) (RegisterOutput, error) {
	cert, err := a.orch.Register(ctx, in.SubmissionID)
	if err != nil {
		return RegisterOutput{}, toApplicationError(err)
	}
	return RegisterOutput{Certificate: cert}, nil
}

func (a *Activities) RefreshGraphActivity(ctx context.Context, in RefreshGraphInput) (RefreshGraphOutput, error) {
	path := in.Path
	if path == "" {
		path = a.graphPath
	}
	g, err := a.orch.RefreshGraph(ctx, path)
	if err != nil {
		return RefreshGraphOutput{}, fmt.Errorf("refresh graph: %w", err)
	}
	return RefreshGraphOutput{Nodes: len(g.Nodes), Edges: len(g.Edges)}, nil
}

// ListPendingActivity reports contributions that still need work: failed
// registrations and evaluations interrupted in EVALUATING.
func (a *Activities) ListPendingActivity(_ context.Context) (ListPendingOutput, error) {
	out := ListPendingOutput{
		Registrations: a.orch.PendingRegistrations(),
		Evaluations:   []string{},
	}
	if out.Registrations == nil {
		out.Registrations = []string{}
	}
	for _, c := range a.orch.Archive().ListByStatus(models.StatusEvaluating) {
		out.Evaluations = append(out.Evaluations, c.SubmissionID)
	}
	return out, nil
}

// toApplicationError maps the error taxonomy onto Temporal's retry model.
// The application error type is the errs.Kind so workflows can branch on it.
// InvalidState is retried because the activity dispatches on status; it only
// surfaces while another attempt still holds the submission.
func toApplicationError(err error) error {
	kind := errs.KindOf(err)
	if kind == "" {
		return err
	}
	if errs.Retryable(err) || kind == errs.KindInvalidState {
		return temporal.NewApplicationErrorWithCause(err.Error(), string(kind), err)
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), string(kind), err)
}

// ErrorKind extracts the errs.Kind carried by an activity failure.
func ErrorKind(err error) errs.Kind {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return errs.Kind(appErr.Type())
	}
	return errs.KindOf(err)
}

// Summarize reports the recorded outcome of a contribution.
func Summarize(c models.Contribution) EvaluateOutput {
	out := EvaluateOutput{
		SubmissionID: c.SubmissionID,
		Status:       string(c.Status),
		Qualified:    c.Status == models.StatusQualified,
	}
	out.Reason, _ = c.Metadata["reason"].(string)
	out.Composite, _ = c.Metadata["score"].(string)
	out.Certificate, _ = c.Metadata["certificate"].(string)
	out.DuplicateOf = stringList(c.Metadata["duplicate_of"])
	out.Funded = stringList(c.Metadata["funded_metals"])
	out.Unfunded = stringList(c.Metadata["unfunded_metals"])
	return out
}

func fromResult(res evaluation.Result) EvaluateOutput {
	out := EvaluateOutput{
		SubmissionID: res.SubmissionID,
		Status:       string(res.Status),
		Qualified:    res.Qualified,
		Reason:       res.Reason,
		DuplicateOf:  res.DuplicateOf,
		Certificate:  res.Certificate,
	}
	if res.Scores != nil {
		out.Composite = res.Scores.Composite.String()
	}
	for _, al := range res.Allocations {
		if al.Funded() {
			out.Funded = append(out.Funded, string(al.Metal))
		} else if al.Failure != nil {
			out.Unfunded = append(out.Unfunded, string(al.Metal)+": "+string(al.Failure.Kind))
		}
	}
	return out
}

// stringList normalizes metadata lists, which come back as []any after a
// reload from JSON.
func stringList(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
