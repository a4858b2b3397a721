// Package evaluation runs the submit, evaluate and allocate workflow on top
// of the archive, the overlap analyzer, the scoring collaborator and the
// ledger. It owns the contribution status state machine.
package evaluation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"contribledger/internal/archive"
	"contribledger/internal/errs"
	"contribledger/internal/ledger"
	"contribledger/internal/metrics"
	"contribledger/internal/models"
	"contribledger/internal/overlap"
	"contribledger/internal/registration"
	"contribledger/internal/scoring"
	"contribledger/internal/util"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"
)

const reasonExactDuplicate = "exact duplicate"

type Deps struct {
	Archive   *archive.Archive
	Analyzer  *overlap.Analyzer
	Scorer    scoring.Scorer
	Ledger    *ledger.Ledger
	Registrar registration.Registrar
	Metrics   *metrics.Metrics
	Log       zerolog.Logger
}

type Orchestrator struct {
	archive   *archive.Archive
	analyzer  *overlap.Analyzer
	scorer    scoring.Scorer
	ledger    *ledger.Ledger
	registrar registration.Registrar
	metrics   *metrics.Metrics
	log       zerolog.Logger
	cfg       Config

	// inflight holds submission ids with an evaluation running in this
	// process. The scoring call runs outside every lock; this claim keeps
	// a retry from racing the evaluation it resumes.
	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(d Deps, cfg Config) *Orchestrator {
	if d.Registrar == nil {
		d.Registrar = registration.Noop{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	return &Orchestrator{
		archive:   d.Archive,
		analyzer:  d.Analyzer,
		scorer:    d.Scorer,
		ledger:    d.Ledger,
		registrar: d.Registrar,
		metrics:   d.Metrics,
		log:       d.Log.With().Str("component", "orchestrator").Logger(),
		cfg:       cfg,
		inflight:  map[string]struct{}{},
	}
}

func (o *Orchestrator) Archive() *archive.Archive { return o.archive }

func (o *Orchestrator) Ledger() *ledger.Ledger { return o.ledger }

// Submit archives a contribution. It comes back SUBMITTED.
func (o *Orchestrator) Submit(ctx context.Context, in archive.NewContribution) (models.Contribution, error) {
	c, err := o.archive.Add(ctx, in)
	if err != nil {
		return models.Contribution{}, err
	}
	o.metrics.Submissions.Inc()
	return c, nil
}

// Evaluate moves a SUBMITTED contribution to EVALUATING and runs it to a
// terminal status. A scoring failure leaves it in EVALUATING and returns a
// retryable error; use Retry to resume.
func (o *Orchestrator) Evaluate(ctx context.Context, id string) (Result, error) {
	c, err := o.archive.Get(id)
	if err != nil {
		return Result{}, err
	}
	if c.Status.Terminal() {
		return Result{}, errs.New(errs.KindAlreadyEvaluated, "evaluate", id, string(c.Status), "terminal status is final")
	}
	if c.Status != models.StatusSubmitted {
		return Result{}, errs.New(errs.KindInvalidState, "evaluate", id, string(c.Status), "expected "+string(models.StatusSubmitted))
	}
	if !o.claim(id) {
		return Result{}, errs.New(errs.KindInvalidState, "evaluate", id, string(c.Status), "evaluation already in flight")
	}
	defer o.release(id)

	evaluating, expect := models.StatusEvaluating, models.StatusSubmitted
	c, err = o.archive.Update(ctx, id, archive.Patch{Status: &evaluating, Expect: &expect, Reason: "evaluation started"})
	if err != nil {
		if errs.KindOf(err) == errs.KindIllegalTransition {
			return Result{}, errs.New(errs.KindInvalidState, "evaluate", id, "", "lost status race")
		}
		return Result{}, err
	}
	return o.run(ctx, c)
}

// Retry resumes a contribution left in EVALUATING by a transient failure.
// Every step is re-run, including the exact-duplicate check; allocations
// already committed for this submission are reused, not repeated.
func (o *Orchestrator) Retry(ctx context.Context, id string) (Result, error) {
	if !o.claim(id) {
		return Result{}, errs.New(errs.KindInvalidState, "retry", id, string(models.StatusEvaluating), "evaluation already in flight")
	}
	defer o.release(id)

	c, err := o.archive.Get(id)
	if err != nil {
		return Result{}, err
	}
	if c.Status.Terminal() {
		return Result{}, errs.New(errs.KindAlreadyEvaluated, "retry", id, string(c.Status), "terminal status is final")
	}
	if c.Status != models.StatusEvaluating {
		return Result{}, errs.New(errs.KindInvalidState, "retry", id, string(c.Status), "expected "+string(models.StatusEvaluating))
	}
	o.log.Info().Str("submission_id", id).Msg("retrying evaluation")
	return o.run(ctx, c)
}

func (o *Orchestrator) claim(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[id]; busy {
		return false
	}
	o.inflight[id] = struct{}{}
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	delete(o.inflight, id)
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context, c models.Contribution) (Result, error) {
	log := o.log.With().Str("submission_id", c.SubmissionID).Logger()

	if dups := o.earlierDuplicates(c); len(dups) > 0 {
		return o.finishDuplicate(ctx, c, dups)
	}

	report, err := o.analyzer.RedundancyReport(ctx, c, o.archive.AllForRedundancyCheck())
	if err != nil {
		return Result{}, o.transient(ctx, c, errs.Wrap(errs.KindCollaboratorUnavailable, "redundancy_report", c.SubmissionID, err))
	}

	reply, err := o.scorer.Score(ctx, scoring.Request{
		SubmissionID:      c.SubmissionID,
		Title:             c.Title,
		Text:              c.Text,
		Context:           o.buildContext(c, report),
		RedundancySummary: report.Summary(),
	})
	if err != nil {
		if errs.KindOf(err) == "" {
			err = errs.Wrap(errs.KindCollaboratorUnavailable, "score", c.SubmissionID, err)
		}
		return Result{}, o.transient(ctx, c, err)
	}

	scores := &Scores{
		Coherence:  reply.Coherence,
		Density:    reply.Density,
		Redundancy: reply.Redundancy,
		Composite:  Composite(reply.Coherence, reply.Density, reply.Redundancy),
		Approved:   reply.Approved,
	}
	meta := scoreMetadata(scores, reply, report)

	if reason, ok := o.qualifies(scores); !ok {
		unqualified, expect := models.StatusUnqualified, models.StatusEvaluating
		meta["reason"] = reason
		if _, err := o.archive.Update(ctx, c.SubmissionID, archive.Patch{
			Status: &unqualified, Expect: &expect, Reason: reason, Metadata: meta,
		}); err != nil {
			return Result{}, err
		}
		o.metrics.Evaluations.WithLabelValues("unqualified").Inc()
		log.Info().Str("reason", reason).Str("score", scores.Composite.String()).Msg("contribution unqualified")
		return Result{
			SubmissionID: c.SubmissionID,
			Status:       models.StatusUnqualified,
			Reason:       reason,
			Scores:       scores,
			Awarded:      reply.Metals,
			Redundancy:   &report,
		}, nil
	}

	allocations, err := o.allocate(ctx, c, scores, reply.Metals)
	if err != nil {
		return Result{}, o.transient(ctx, c, err)
	}

	funded := make([]models.Metal, 0, len(allocations))
	unfunded := make([]string, 0)
	for _, a := range allocations {
		if a.Funded() {
			funded = append(funded, a.Metal)
		} else {
			unfunded = append(unfunded, string(a.Metal)+": "+string(a.Failure.Kind))
		}
	}
	metals := unionMetals(reply.Metals, funded)
	meta["funded_metals"] = metalStrings(funded)
	meta["unfunded_metals"] = unfunded
	meta["allocations"] = allocationSummaries(allocations)
	meta["density_recorded"] = o.ledger.DensityRecorded(c.SubmissionID)
	meta["evaluated_at"] = time.Now().UTC().Format(time.RFC3339)

	qualified, expect := models.StatusQualified, models.StatusEvaluating
	if _, err := o.archive.Update(ctx, c.SubmissionID, archive.Patch{
		Status: &qualified, Expect: &expect, Reason: "qualified", Metals: metals, Metadata: meta,
	}); err != nil {
		return Result{}, err
	}
	o.metrics.Evaluations.WithLabelValues("qualified").Inc()
	log.Info().Str("score", scores.Composite.String()).Int("funded", len(funded)).Int("awarded", len(reply.Metals)).Msg("contribution qualified")

	res := Result{
		SubmissionID: c.SubmissionID,
		Status:       models.StatusQualified,
		Qualified:    true,
		Scores:       scores,
		Awarded:      reply.Metals,
		Funded:       funded,
		Allocations:  allocations,
		Redundancy:   &report,
	}
	if len(funded) > 0 {
		// Registration is best-effort; the ledger already holds the allocation.
		if cert, err := o.Register(ctx, c.SubmissionID); err == nil {
			res.Certificate = cert
		}
	}
	return res, nil
}

// Composite is coherence × density × (10000 − redundancy) on the 0..10000
// scale, computed exactly.
func Composite(coherence, density, redundancy int64) sdkmath.LegacyDec {
	return sdkmath.LegacyNewDec(coherence).
		Mul(sdkmath.LegacyNewDec(density)).
		Mul(sdkmath.LegacyNewDec(scoring.Scale - redundancy)).
		QuoInt64(scoring.Scale * scoring.Scale)
}

func (o *Orchestrator) qualifies(s *Scores) (string, bool) {
	switch {
	case !s.Approved:
		return "not approved by scorer", false
	case s.Coherence < o.cfg.MinCoherence:
		return "coherence below minimum", false
	case s.Density < o.cfg.MinDensity:
		return "density below minimum", false
	case s.Redundancy > o.cfg.MaxRedundancy:
		return "redundancy above maximum", false
	default:
		return "", true
	}
}

// earlierDuplicates returns submissions archived before c with the same
// fingerprint, in any status.
func (o *Orchestrator) earlierDuplicates(c models.Contribution) []string {
	var out []string
	for _, id := range o.archive.FingerprintHistory(c.Fingerprint) {
		if id == c.SubmissionID {
			break
		}
		out = append(out, id)
	}
	return out
}

func (o *Orchestrator) finishDuplicate(ctx context.Context, c models.Contribution, dups []string) (Result, error) {
	unqualified, expect := models.StatusUnqualified, models.StatusEvaluating
	if _, err := o.archive.Update(ctx, c.SubmissionID, archive.Patch{
		Status:   &unqualified,
		Expect:   &expect,
		Reason:   reasonExactDuplicate,
		Metadata: map[string]any{"reason": reasonExactDuplicate, "duplicate_of": dups},
	}); err != nil {
		return Result{}, err
	}
	o.metrics.Evaluations.WithLabelValues("duplicate").Inc()
	o.log.Info().Str("submission_id", c.SubmissionID).Strs("duplicate_of", dups).Msg("exact duplicate rejected without scoring")
	return Result{
		SubmissionID: c.SubmissionID,
		Status:       models.StatusUnqualified,
		Reason:       reasonExactDuplicate,
		DuplicateOf:  dups,
	}, nil
}

// transient records the failure on the contribution, which stays in
// EVALUATING, and returns err unchanged.
func (o *Orchestrator) transient(ctx context.Context, c models.Contribution, err error) error {
	o.metrics.ScoringErrors.WithLabelValues(string(errs.KindOf(err))).Inc()
	o.log.Warn().Err(err).Str("submission_id", c.SubmissionID).Bool("retryable", errs.Retryable(err)).Msg("evaluation interrupted")
	if _, uerr := o.archive.Update(ctx, c.SubmissionID, archive.Patch{
		Metadata: map[string]any{"last_error": err.Error(), "last_error_at": time.Now().UTC().Format(time.RFC3339)},
	}); uerr != nil {
		o.log.Warn().Err(uerr).Str("submission_id", c.SubmissionID).Msg("could not record evaluation failure")
	}
	return err
}

// buildContext picks the most similar archive entries, then fills with the
// most recent ones, up to the configured cap.
func (o *Orchestrator) buildContext(c models.Contribution, report overlap.Report) []scoring.ContextEntry {
	limit := o.cfg.ContextEntries
	if limit <= 0 {
		return nil
	}
	out := make([]scoring.ContextEntry, 0, limit)
	seen := map[string]bool{c.SubmissionID: true}
	add := func(other models.Contribution, sim float64) {
		seen[other.SubmissionID] = true
		out = append(out, scoring.ContextEntry{
			SubmissionID: other.SubmissionID,
			Title:        other.Title,
			Status:       other.Status,
			Similarity:   sim,
			Snippet:      util.ContextSnippet(other.Text, c.Title+" "+c.Text, o.cfg.SnippetRunes),
		})
	}
	for _, e := range report.Top(limit) {
		other, err := o.archive.Get(e.SubmissionID)
		if err != nil {
			continue
		}
		add(other, e.Similarity)
	}
	all := o.archive.All()
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if !seen[all[i].SubmissionID] {
			add(all[i], 0)
		}
	}
	return out
}

// allocate funds each awarded metal independently. Metals already funded
// for this submission by an earlier interrupted run are reused.
func (o *Orchestrator) allocate(ctx context.Context, c models.Contribution, s *Scores, awarded []models.Metal) ([]Allocation, error) {
	prior := map[models.Metal]ledger.AllocationRecord{}
	for _, r := range o.ledger.AllocationsFor(c.SubmissionID) {
		prior[r.Metal] = r
	}

	out := make([]Allocation, 0, len(awarded))
	committed := len(prior) > 0
	for _, m := range awarded {
		if r, ok := prior[m]; ok {
			rec := r
			out = append(out, Allocation{Metal: m, Epoch: r.Epoch, Record: &rec})
			continue
		}
		epoch, ok := o.ledger.ResolveEpoch(s.Density)
		if !ok {
			out = append(out, Allocation{Metal: m, Failure: errs.New(errs.KindNoEligibleEpoch, "allocate", c.SubmissionID, "", "density below every epoch threshold")})
			o.metrics.Allocations.WithLabelValues("", string(m), string(errs.KindNoEligibleEpoch)).Inc()
			continue
		}
		outcome := o.ledger.CalculateAllocation(ledger.AllocationRequest{
			SubmissionID: c.SubmissionID,
			Contributor:  c.Contributor,
			Metal:        m,
			Epoch:        epoch,
			Score:        s.Composite,
		})
		a := Allocation{Metal: m, Epoch: epoch, Outcome: &outcome}
		if !outcome.OK() {
			a.Failure = outcome.Failure
			out = append(out, a)
			o.metrics.Allocations.WithLabelValues(epoch, string(m), string(outcome.Failure.Kind)).Inc()
			o.log.Info().Str("submission_id", c.SubmissionID).Str("metal", string(m)).Str("epoch", epoch).Str("kind", string(outcome.Failure.Kind)).Msg("metal awarded but not funded")
			continue
		}
		rec, err := o.ledger.CommitAllocation(ctx, outcome)
		if err != nil {
			var e *errs.Error
			if !errors.As(err, &e) || errs.Retryable(err) {
				return nil, err
			}
			a.Failure = e
			out = append(out, a)
			o.metrics.Allocations.WithLabelValues(epoch, string(m), string(e.Kind)).Inc()
			continue
		}
		committed = true
		a.Record = &rec
		out = append(out, a)
		o.metrics.Allocations.WithLabelValues(epoch, string(m), "committed").Inc()
		o.metrics.TokensIssued.WithLabelValues(epoch).Add(toFloat(rec.Reward))
		o.metrics.EpochBalance.WithLabelValues(epoch).Set(toFloat(rec.BalanceAfter))
	}

	if committed {
		// The ledger counts each submission once, so a retry after a
		// failed density save records it here without double counting.
		upd, err := o.ledger.RecordQualityDensity(ctx, c.SubmissionID, s.Density)
		if err != nil {
			return nil, err
		}
		if upd.Halvings > 0 {
			o.metrics.Halvings.Add(float64(upd.Halvings))
			o.metrics.EpochBalance.WithLabelValues(upd.Epoch).Set(toFloat(upd.Balance))
		}
	}
	return out, nil
}

// Register hands the committed allocations of a qualified contribution to
// the registrar and stores the certificate reference. Failures are logged
// and left for a later retry.
func (o *Orchestrator) Register(ctx context.Context, id string) (string, error) {
	c, err := o.archive.Get(id)
	if err != nil {
		return "", err
	}
	if cert, ok := c.Metadata["certificate"].(string); ok && cert != "" {
		return cert, nil
	}
	if c.Status != models.StatusQualified {
		return "", errs.New(errs.KindInvalidState, "register", id, string(c.Status), "only qualified contributions are registered")
	}
	records := o.ledger.AllocationsFor(id)
	if len(records) == 0 {
		return "", errs.New(errs.KindNotFound, "register", id, string(c.Status), "no committed allocations")
	}
	cert, err := o.registrar.Register(ctx, registration.Request{SubmissionID: id, Contributor: c.Contributor, Allocations: records})
	if err != nil {
		o.metrics.Registrations.WithLabelValues("failed").Inc()
		o.log.Warn().Err(err).Str("submission_id", id).Msg("registration failed; allocation stands")
		if _, uerr := o.archive.Update(ctx, id, archive.Patch{Metadata: map[string]any{"registration_pending": true}}); uerr != nil {
			o.log.Warn().Err(uerr).Str("submission_id", id).Msg("could not flag pending registration")
		}
		return "", err
	}
	o.metrics.Registrations.WithLabelValues("ok").Inc()
	if _, err := o.archive.Update(ctx, id, archive.Patch{Metadata: map[string]any{"certificate": cert, "registration_pending": false}}); err != nil {
		return "", err
	}
	return cert, nil
}

// PendingRegistrations lists qualified contributions whose registration
// failed earlier.
func (o *Orchestrator) PendingRegistrations() []string {
	var out []string
	for _, c := range o.archive.ListByStatus(models.StatusQualified) {
		if pending, _ := c.Metadata["registration_pending"].(bool); pending {
			out = append(out, c.SubmissionID)
		}
	}
	return out
}

// RefreshGraph rebuilds the overlap graph over the whole archive and writes
// it atomically to path.
func (o *Orchestrator) RefreshGraph(ctx context.Context, path string) (overlap.Graph, error) {
	g, err := o.analyzer.Graph(ctx, o.archive.All())
	if err != nil {
		return overlap.Graph{}, err
	}
	if path != "" {
		if err := util.WriteJSONAtomic(path, g); err != nil {
			return overlap.Graph{}, err
		}
	}
	o.log.Debug().Int("nodes", len(g.Nodes)).Int("edges", len(g.Edges)).Msg("graph refreshed")
	return g, nil
}

func scoreMetadata(s *Scores, reply scoring.Result, report overlap.Report) map[string]any {
	return map[string]any{
		"coherence":          s.Coherence,
		"density":            s.Density,
		"redundancy":         s.Redundancy,
		"score":              s.Composite.String(),
		"approved":           s.Approved,
		"justification":      reply.Justification,
		"awarded_metals":     metalStrings(reply.Metals),
		"scorer_provider":    reply.Provider,
		"scorer_model":       reply.Model,
		"defaulted_fields":   reply.Defaulted,
		"redundancy_summary": report.Summary(),
		"last_error":         "",
	}
}

func allocationSummaries(as []Allocation) []map[string]any {
	out := make([]map[string]any, 0, len(as))
	for _, a := range as {
		row := map[string]any{"metal": string(a.Metal), "epoch": a.Epoch}
		if a.Record != nil {
			row["reward"] = a.Record.Reward.String()
			row["sequence"] = a.Record.Sequence
		} else if a.Failure != nil {
			row["failure"] = string(a.Failure.Kind)
		}
		out = append(out, row)
	}
	return out
}

func unionMetals(a, b []models.Metal) []models.Metal {
	seen := map[models.Metal]bool{}
	out := make([]models.Metal, 0, len(a)+len(b))
	for _, m := range append(append([]models.Metal{}, a...), b...) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return metalRank(out[i]) < metalRank(out[j]) })
	return out
}

func metalRank(m models.Metal) int {
	for i, x := range models.AllMetals {
		if x == m {
			return i
		}
	}
	return len(models.AllMetals)
}

func metalStrings(ms []models.Metal) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, string(m))
	}
	return out
}

func toFloat(x sdkmath.Int) float64 {
	f, err := sdkmath.LegacyNewDecFromInt(x).Float64()
	if err != nil {
		return 0
	}
	return f
}
