// Package ledger holds the tokenomics state: per-epoch balances, the
// cumulative quality-density counter that drives halving, the allocation
// history and per-contributor totals.
//
// All amounts are integers (sdkmath.Int); scores are fixed-point decimals.
// Mutations go through a single writer and are persisted before they are
// acknowledged, so the sum committed against an epoch can never exceed its
// initial balance.
package ledger

import (
	"context"
	"sync"
	"time"

	"contribledger/internal/errs"
	"contribledger/internal/models"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"
)

// Store persists the full ledger state. Load reports found=false when no
// state has been written yet.
type Store interface {
	Load(ctx context.Context) (State, bool, error)
	Save(ctx context.Context, st State) error
}

type Ledger struct {
	cfg   Config
	store Store
	log   zerolog.Logger
	now   func() time.Time

	// writeMu linearizes every mutation including its store write. Writers
	// build the next state on a clone and swap it in under mu once saved.
	writeMu sync.Mutex
	mu      sync.RWMutex
	state   State
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Open loads the ledger or, when the store is empty, initializes it from cfg
// and persists that initial state.
func Open(ctx context.Context, store Store, cfg Config, log zerolog.Logger, opts ...Option) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Ledger{
		cfg:   cfg,
		store: store,
		log:   log.With().Str("component", "ledger").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(l)
	}
	st, found, err := store.Load(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "ledger_open", "", err)
	}
	if !found {
		st = newState(cfg, l.now())
		if err := store.Save(ctx, st); err != nil {
			return nil, errs.Wrap(errs.KindStorage, "ledger_init", "", err)
		}
		l.log.Info().Int("epochs", len(st.Epochs)).Msg("ledger initialized from configuration")
	} else {
		l.log.Info().Int64("allocations", st.AllocationCount).Int64("total_density", st.TotalDensity).Msg("ledger loaded")
	}
	st.ensureIndex()
	l.state = st
	return l, nil
}

// Inspect loads the persisted state without initializing or writing
// anything.
func Inspect(ctx context.Context, store Store) (State, error) {
	st, found, err := store.Load(ctx)
	if err != nil {
		return State{}, errs.Wrap(errs.KindStorage, "ledger_inspect", "", err)
	}
	if !found {
		return State{}, errs.New(errs.KindNotFound, "ledger_inspect", "", "", "no ledger state persisted")
	}
	return st, nil
}

// Snapshot returns a deep copy of the current state.
func (l *Ledger) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Clone()
}

func (l *Ledger) Multiplier(m models.Metal) int64 {
	return l.cfg.Multipliers[m]
}

// ResolveEpoch returns the epoch with the highest threshold the density
// satisfies. Ties go to the earlier (stricter) epoch.
func (l *Ledger) ResolveEpoch(density int64) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	best := -1
	for i, e := range l.state.Epochs {
		if e.Threshold > density {
			continue
		}
		if best < 0 || e.Threshold > l.state.Epochs[best].Threshold {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return l.state.Epochs[best].Name, true
}

type AllocationRequest struct {
	SubmissionID string
	Contributor  string
	Metal        models.Metal
	Epoch        string
	Score        sdkmath.LegacyDec
}

// Outcome is the result of CalculateAllocation. Exactly one of a usable
// reward (Failure == nil) or a Failure is present; tier and balance
// ineligibility are expected outcomes, not program errors.
type Outcome struct {
	SubmissionID string            `json:"submission_id"`
	Contributor  string            `json:"contributor"`
	Metal        models.Metal      `json:"metal"`
	Epoch        string            `json:"epoch"`
	Score        sdkmath.LegacyDec `json:"score"`
	Multiplier   int64             `json:"multiplier"`
	EpochBalance sdkmath.Int       `json:"epoch_balance"`
	BaseReward   sdkmath.Int       `json:"base_reward"`
	Reward       sdkmath.Int       `json:"reward"`
	Capped       bool              `json:"capped"`
	Failure      *errs.Error       `json:"failure,omitempty"`
}

func (o Outcome) OK() bool {
	return o.Failure == nil
}

// CalculateAllocation computes the reward for one metal against one epoch
// without committing it.
func (l *Ledger) CalculateAllocation(req AllocationRequest) Outcome {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.calculate(req)
}

// Must be called with mu held.
func (l *Ledger) calculate(req AllocationRequest) Outcome {
	out := Outcome{
		SubmissionID: req.SubmissionID,
		Contributor:  req.Contributor,
		Metal:        req.Metal,
		Epoch:        req.Epoch,
		Score:        req.Score,
		Multiplier:   l.cfg.Multipliers[req.Metal],
		EpochBalance: sdkmath.ZeroInt(),
		BaseReward:   sdkmath.ZeroInt(),
		Reward:       sdkmath.ZeroInt(),
	}
	ep, ok := l.state.epoch(req.Epoch)
	if !ok {
		out.Failure = errs.New(errs.KindNoEligibleEpoch, "calculate_allocation", req.SubmissionID, "", "unknown epoch "+req.Epoch)
		return out
	}
	out.EpochBalance = ep.Balance
	if req.Score.IsNil() || req.Score.IsNegative() || req.Score.GT(sdkmath.LegacyNewDec(ScoreScale)) {
		out.Failure = errs.New(errs.KindInvalidInput, "calculate_allocation", req.SubmissionID, "", "score out of range")
		return out
	}
	if !ep.eligible(req.Metal) {
		out.Failure = errs.New(errs.KindTierUnavailable, "calculate_allocation", req.SubmissionID, "", string(req.Metal)+" not eligible in "+ep.Name).
			With("epoch", ep.Name).With("metal", string(req.Metal))
		return out
	}
	if ep.Balance.IsZero() {
		out.Failure = errs.New(errs.KindInsufficientBalance, "calculate_allocation", req.SubmissionID, "", "epoch "+ep.Name+" is exhausted").
			With("epoch", ep.Name)
		return out
	}
	out.BaseReward, out.Reward, out.Capped = computeReward(req.Score, ep.Balance, out.Multiplier)
	return out
}

// computeReward returns baseReward = floor(score/10000 * balance) and
// reward = min(baseReward * multiplier, balance).
func computeReward(score sdkmath.LegacyDec, balance sdkmath.Int, multiplier int64) (sdkmath.Int, sdkmath.Int, bool) {
	base := sdkmath.LegacyNewDecFromInt(balance).Mul(score).QuoInt64(ScoreScale).TruncateInt()
	scaled := base.MulRaw(multiplier)
	if scaled.GT(balance) {
		return base, balance, true
	}
	return base, scaled, false
}

// CommitAllocation applies a calculated outcome: it decrements the epoch,
// appends an AllocationRecord and credits the contributor, then persists.
// The reward is re-capped against the balance at commit time, so concurrent
// commits can never overdraw an epoch.
func (l *Ledger) CommitAllocation(ctx context.Context, o Outcome) (AllocationRecord, error) {
	if !o.OK() {
		return AllocationRecord{}, o.Failure
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	next := l.state.Clone()
	ep, ok := next.epoch(o.Epoch)
	if !ok {
		return AllocationRecord{}, errs.New(errs.KindNoEligibleEpoch, "commit_allocation", o.SubmissionID, "", "unknown epoch "+o.Epoch)
	}
	if !ep.eligible(o.Metal) {
		return AllocationRecord{}, errs.New(errs.KindTierUnavailable, "commit_allocation", o.SubmissionID, "", string(o.Metal)+" not eligible in "+ep.Name)
	}
	if ep.Balance.IsZero() {
		return AllocationRecord{}, errs.New(errs.KindInsufficientBalance, "commit_allocation", o.SubmissionID, "", "epoch "+ep.Name+" is exhausted").With("epoch", ep.Name)
	}
	reward := sdkmath.MinInt(o.Reward, ep.Balance)
	now := l.now()
	rec := AllocationRecord{
		Sequence:      next.AllocationCount + 1,
		SubmissionID:  o.SubmissionID,
		Contributor:   o.Contributor,
		Metal:         o.Metal,
		Epoch:         ep.Name,
		Score:         o.Score,
		Multiplier:    o.Multiplier,
		Reward:        reward,
		BalanceBefore: ep.Balance,
		BalanceAfter:  ep.Balance.Sub(reward),
		Timestamp:     now,
	}
	ep.Balance = rec.BalanceAfter
	ep.Committed = ep.Committed.Add(reward)
	next.AllocationCount++
	next.Allocations = append(next.Allocations, rec)
	if limit := l.cfg.HistoryLimit; limit > 0 && len(next.Allocations) > limit {
		next.Allocations = append([]AllocationRecord{}, next.Allocations[len(next.Allocations)-limit:]...)
	}
	entry := next.Submissions[o.SubmissionID]
	entry.Records = append(entry.Records, rec)
	next.Submissions[o.SubmissionID] = entry
	bal, ok := next.ContributorBalances[o.Contributor]
	if !ok {
		bal = sdkmath.ZeroInt()
	}
	next.ContributorBalances[o.Contributor] = bal.Add(reward)
	next.UpdatedAt = now

	if err := l.persist(ctx, next); err != nil {
		return AllocationRecord{}, errs.Wrap(errs.KindStorage, "commit_allocation", o.SubmissionID, err)
	}
	l.log.Info().
		Str("submission_id", rec.SubmissionID).
		Str("epoch", rec.Epoch).
		Str("metal", string(rec.Metal)).
		Str("reward", rec.Reward.String()).
		Str("balance_after", rec.BalanceAfter.String()).
		Msg("allocation committed")
	return rec, nil
}

// persist saves next and only then makes it visible to readers. Must be
// called with writeMu held.
func (l *Ledger) persist(ctx context.Context, next State) error {
	if err := l.store.Save(ctx, next); err != nil {
		return err
	}
	l.mu.Lock()
	l.state = next
	l.mu.Unlock()
	return nil
}

// AllocationsFor returns every record committed for a submission, oldest
// first. It does not depend on the retained history window.
func (l *Ledger) AllocationsFor(submissionID string) []AllocationRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	recs := l.state.Submissions[submissionID].Records
	if len(recs) == 0 {
		return nil
	}
	return append([]AllocationRecord(nil), recs...)
}

type DensityUpdate struct {
	TotalDensity int64       `json:"total_density"`
	Halvings     int64       `json:"halvings"`
	Epoch        string      `json:"epoch,omitempty"`
	Balance      sdkmath.Int `json:"balance"`
	// AlreadyRecorded is set when the submission's density was counted by
	// an earlier call; nothing changed.
	AlreadyRecorded bool `json:"already_recorded,omitempty"`
}

// RecordQualityDensity adds a submission's density to the cumulative
// counter. Each interval boundary crossed halves the halving epoch's
// current remaining balance once. A submission is counted at most once; the
// marker is persisted in the same write as the counter.
func (l *Ledger) RecordQualityDensity(ctx context.Context, submissionID string, amount int64) (DensityUpdate, error) {
	if amount < 0 {
		return DensityUpdate{}, errs.New(errs.KindInvalidInput, "record_quality_density", submissionID, "", "density must be non-negative")
	}
	if submissionID == "" {
		return DensityUpdate{}, errs.New(errs.KindInvalidInput, "record_quality_density", "", "", "submission id is required")
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if l.state.Submissions[submissionID].DensityRecorded {
		return DensityUpdate{TotalDensity: l.state.TotalDensity, Balance: sdkmath.ZeroInt(), AlreadyRecorded: true}, nil
	}
	next := l.state.Clone()
	before := next.TotalDensity
	next.TotalDensity += amount
	upd := DensityUpdate{TotalDensity: next.TotalDensity, Balance: sdkmath.ZeroInt()}
	if ep, ok := next.halvingEpoch(); ok {
		crossings := next.TotalDensity/ep.HalvingInterval - before/ep.HalvingInterval
		for i := int64(0); i < crossings; i++ {
			half := ep.Balance.QuoRaw(2)
			ep.Halved = ep.Halved.Add(ep.Balance.Sub(half))
			ep.Balance = half
			ep.HalvingCount++
		}
		upd.Halvings = crossings
		upd.Epoch = ep.Name
		upd.Balance = ep.Balance
	}
	entry := next.Submissions[submissionID]
	entry.DensityRecorded = true
	next.Submissions[submissionID] = entry
	next.UpdatedAt = l.now()

	if err := l.persist(ctx, next); err != nil {
		return DensityUpdate{}, errs.Wrap(errs.KindStorage, "record_quality_density", submissionID, err)
	}
	if upd.Halvings > 0 {
		l.log.Info().Str("epoch", upd.Epoch).Int64("halvings", upd.Halvings).Str("balance", upd.Balance.String()).Int64("total_density", upd.TotalDensity).Msg("epoch balance halved")
	}
	return upd, nil
}

// DensityRecorded reports whether a submission's density has been counted.
func (l *Ledger) DensityRecorded(submissionID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Submissions[submissionID].DensityRecorded
}

type EpochInfo struct {
	Name            string         `json:"name"`
	InitialBalance  sdkmath.Int    `json:"initial_balance"`
	Balance         sdkmath.Int    `json:"balance"`
	Committed       sdkmath.Int    `json:"committed"`
	Threshold       int64          `json:"threshold"`
	Eligible        []models.Metal `json:"eligible"`
	HalvingInterval int64          `json:"halving_interval,omitempty"`
	HalvingCount    *int64         `json:"halving_count,omitempty"`
}

func (l *Ledger) EpochInfo(name string) (EpochInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ep, ok := l.state.epoch(name)
	if !ok {
		return EpochInfo{}, errs.New(errs.KindNotFound, "epoch_info", "", "", "unknown epoch "+name)
	}
	return epochInfo(*ep), nil
}

func (l *Ledger) Epochs() []EpochInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]EpochInfo, 0, len(l.state.Epochs))
	for _, e := range l.state.Epochs {
		out = append(out, epochInfo(e))
	}
	return out
}

func epochInfo(e EpochState) EpochInfo {
	info := EpochInfo{
		Name:           e.Name,
		InitialBalance: e.InitialBalance,
		Balance:        e.Balance,
		Committed:      e.Committed,
		Threshold:      e.Threshold,
		Eligible:       append([]models.Metal(nil), e.Eligible...),
	}
	if e.HalvingInterval > 0 {
		count := e.HalvingCount
		info.HalvingInterval = e.HalvingInterval
		info.HalvingCount = &count
	}
	return info
}

type Statistics struct {
	EpochBalances       map[string]sdkmath.Int `json:"epoch_balances"`
	TotalDensity        int64                  `json:"total_density"`
	ContributorBalances map[string]sdkmath.Int `json:"contributor_balances"`
	AllocationCount     int64                  `json:"allocation_count"`
	TotalAllocated      sdkmath.Int            `json:"total_allocated"`
}

func (l *Ledger) Statistics() Statistics {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return StatisticsOf(l.state)
}

// StatisticsOf summarizes a state; it also serves read-only inspection.
func StatisticsOf(st State) Statistics {
	stats := Statistics{
		EpochBalances:       make(map[string]sdkmath.Int, len(st.Epochs)),
		TotalDensity:        st.TotalDensity,
		ContributorBalances: make(map[string]sdkmath.Int, len(st.ContributorBalances)),
		AllocationCount:     st.AllocationCount,
		TotalAllocated:      sdkmath.ZeroInt(),
	}
	for _, e := range st.Epochs {
		stats.EpochBalances[e.Name] = e.Balance
		stats.TotalAllocated = stats.TotalAllocated.Add(e.Committed)
	}
	for k, v := range st.ContributorBalances {
		stats.ContributorBalances[k] = v
	}
	return stats
}
