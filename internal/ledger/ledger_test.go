package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"contribledger/internal/errs"
	"contribledger/internal/models"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// jsonStore keeps the encoded state so round-trips go through the same
// encoding the real backends use.
type jsonStore struct {
	mu    sync.Mutex
	raw   []byte
	saves int
	fail  error
}

func (s *jsonStore) Load(context.Context) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raw == nil {
		return State{}, false, nil
	}
	var st State
	if err := json.Unmarshal(s.raw, &st); err != nil {
		return State{}, false, err
	}
	return st, true, nil
}

func (s *jsonStore) Save(_ context.Context, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	s.raw = b
	s.saves++
	return nil
}

func fixedClock() time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
}

func openLedger(t *testing.T, store Store, cfg Config) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), store, cfg, zerolog.Nop(), WithClock(fixedClock))
	require.NoError(t, err)
	return l
}

func TestOpenInitializesAndPersistsDefaults(t *testing.T) {
	store := &jsonStore{}
	l := openLedger(t, store, DefaultConfig())
	require.Equal(t, 1, store.saves)

	info, err := l.EpochInfo("founder")
	require.NoError(t, err)
	require.Equal(t, "45000000000000", info.Balance.String())
	require.EqualValues(t, 8000, info.Threshold)
	require.NotNil(t, info.HalvingCount)
	require.Zero(t, *info.HalvingCount)

	pioneer, err := l.EpochInfo("pioneer")
	require.NoError(t, err)
	require.Nil(t, pioneer.HalvingCount)

	_, err = l.EpochInfo("nope")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestResolveEpochPicksHighestSatisfiedThreshold(t *testing.T) {
	l := openLedger(t, &jsonStore{}, DefaultConfig())
	cases := map[int64]string{
		9000: "founder",
		8000: "founder",
		7999: "pioneer",
		5000: "community",
		4000: "ecosystem",
	}
	for density, want := range cases {
		got, ok := l.ResolveEpoch(density)
		require.True(t, ok, "density %d", density)
		require.Equal(t, want, got, "density %d", density)
	}
	_, ok := l.ResolveEpoch(3999)
	require.False(t, ok)
}

func TestResolveEpochTieGoesToEarlierEpoch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Epochs[1].Threshold = cfg.Epochs[0].Threshold
	l := openLedger(t, &jsonStore{}, cfg)
	got, ok := l.ResolveEpoch(8500)
	require.True(t, ok)
	require.Equal(t, "founder", got)
}

func TestCalculateAllocationCapsAtEpochBalance(t *testing.T) {
	l := openLedger(t, &jsonStore{}, DefaultConfig())
	// 8500 * 9000 * 8500 / 10000^2
	score := sdkmath.LegacyMustNewDecFromStr("6502.5")
	out := l.CalculateAllocation(AllocationRequest{
		SubmissionID: "s1", Contributor: "alice", Metal: models.MetalGold, Epoch: "founder", Score: score,
	})
	require.True(t, out.OK())
	require.Equal(t, "29261250000000", out.BaseReward.String())
	require.Equal(t, "45000000000000", out.Reward.String())
	require.True(t, out.Capped)
	require.EqualValues(t, 1000, out.Multiplier)

	rec, err := l.CommitAllocation(context.Background(), out)
	require.NoError(t, err)
	require.Equal(t, "45000000000000", rec.BalanceBefore.String())
	require.True(t, rec.BalanceAfter.IsZero())
	require.EqualValues(t, 1, rec.Sequence)

	stats := l.Statistics()
	require.Equal(t, "45000000000000", stats.ContributorBalances["alice"].String())
	require.EqualValues(t, 1, stats.AllocationCount)
}

func TestCalculateAllocationUncapped(t *testing.T) {
	l := openLedger(t, &jsonStore{}, DefaultConfig())
	out := l.CalculateAllocation(AllocationRequest{
		SubmissionID: "s2", Contributor: "bob", Metal: models.MetalCopper, Epoch: "community",
		Score: sdkmath.LegacyNewDec(2500),
	})
	require.True(t, out.OK())
	require.False(t, out.Capped)
	require.Equal(t, "2812500000000", out.Reward.String())
}

func TestCalculateAllocationTierUnavailable(t *testing.T) {
	l := openLedger(t, &jsonStore{}, DefaultConfig())
	out := l.CalculateAllocation(AllocationRequest{
		SubmissionID: "s3", Metal: models.MetalSilver, Epoch: "founder", Score: sdkmath.LegacyNewDec(7000),
	})
	require.False(t, out.OK())
	require.ErrorIs(t, out.Failure, errs.ErrTierUnavailable)

	_, err := l.CommitAllocation(context.Background(), out)
	require.ErrorIs(t, err, errs.ErrTierUnavailable)
	require.EqualValues(t, 0, l.Statistics().AllocationCount)
}

func TestCalculateAllocationInsufficientOnlyWhenExhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Epochs[3].InitialBalance = sdkmath.NewInt(1)
	l := openLedger(t, &jsonStore{}, cfg)
	ctx := context.Background()

	out := l.CalculateAllocation(AllocationRequest{
		SubmissionID: "s4", Contributor: "c", Metal: models.MetalGold, Epoch: "ecosystem", Score: sdkmath.LegacyNewDec(10000),
	})
	require.True(t, out.OK())
	require.Equal(t, "1", out.Reward.String())
	_, err := l.CommitAllocation(ctx, out)
	require.NoError(t, err)

	out = l.CalculateAllocation(AllocationRequest{
		SubmissionID: "s5", Contributor: "c", Metal: models.MetalGold, Epoch: "ecosystem", Score: sdkmath.LegacyNewDec(10000),
	})
	require.ErrorIs(t, out.Failure, errs.ErrInsufficientBalance)
}

func TestConcurrentCommitsNeverOverdraw(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Epochs[0].InitialBalance = sdkmath.NewInt(1000)
	cfg.Multipliers[models.MetalGold] = 3
	l := openLedger(t, &jsonStore{}, cfg)
	ctx := context.Background()

	const n = 100
	outcomes := make([]Outcome, n)
	for i := range outcomes {
		outcomes[i] = l.CalculateAllocation(AllocationRequest{
			SubmissionID: "s", Contributor: "c", Metal: models.MetalGold, Epoch: "founder", Score: sdkmath.LegacyNewDec(100),
		})
		require.Equal(t, "30", outcomes[i].Reward.String())
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		total     = sdkmath.ZeroInt()
		exhausted int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(o Outcome) {
			defer wg.Done()
			rec, err := l.CommitAllocation(ctx, o)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				require.True(t, errors.Is(err, errs.ErrInsufficientBalance))
				exhausted++
				return
			}
			total = total.Add(rec.Reward)
		}(outcomes[i])
	}
	wg.Wait()

	require.Equal(t, "1000", total.String())
	info, err := l.EpochInfo("founder")
	require.NoError(t, err)
	require.True(t, info.Balance.IsZero())
	require.Equal(t, "1000", info.Committed.String())
	require.Equal(t, n-34, exhausted)
}

func TestHalvingOnBoundaryCrossing(t *testing.T) {
	l := openLedger(t, &jsonStore{}, DefaultConfig())
	ctx := context.Background()

	for _, id := range []string{"d1", "d2"} {
		upd, err := l.RecordQualityDensity(ctx, id, 400_000)
		require.NoError(t, err)
		require.Zero(t, upd.Halvings)
	}
	upd, err := l.RecordQualityDensity(ctx, "d3", 400_000)
	require.NoError(t, err)
	require.EqualValues(t, 1, upd.Halvings)
	require.EqualValues(t, 1_200_000, upd.TotalDensity)

	info, err := l.EpochInfo("founder")
	require.NoError(t, err)
	require.Equal(t, "22500000000000", info.Balance.String())
	require.EqualValues(t, 1, *info.HalvingCount)

	// Other epochs are unaffected.
	pioneer, err := l.EpochInfo("pioneer")
	require.NoError(t, err)
	require.Equal(t, "22500000000000", pioneer.Balance.String())
}

func TestHalvingUsesCurrentRemainingBalance(t *testing.T) {
	l := openLedger(t, &jsonStore{}, DefaultConfig())
	ctx := context.Background()

	out := l.CalculateAllocation(AllocationRequest{
		SubmissionID: "s1", Contributor: "a", Metal: models.MetalGold, Epoch: "founder", Score: sdkmath.LegacyNewDec(1),
	})
	require.True(t, out.OK())
	rec, err := l.CommitAllocation(ctx, out)
	require.NoError(t, err)

	_, err = l.RecordQualityDensity(ctx, "s1", 1_000_000)
	require.NoError(t, err)
	info, err := l.EpochInfo("founder")
	require.NoError(t, err)
	require.Equal(t, rec.BalanceAfter.QuoRaw(2).String(), info.Balance.String())
}

func TestPersistRoundTrip(t *testing.T) {
	store := &jsonStore{}
	ctx := context.Background()
	l := openLedger(t, store, DefaultConfig())

	// Gold takes 1000x, so a small score keeps it under the community cap
	// and leaves balance for the copper commit.
	for i, m := range []models.Metal{models.MetalGold, models.MetalCopper} {
		out := l.CalculateAllocation(AllocationRequest{
			SubmissionID: "s" + string(rune('a'+i)), Contributor: "alice", Metal: m, Epoch: "community", Score: sdkmath.LegacyNewDec(1),
		})
		require.True(t, out.OK())
		require.False(t, out.Capped)
		_, err := l.CommitAllocation(ctx, out)
		require.NoError(t, err)
	}
	_, err := l.RecordQualityDensity(ctx, "sa", 1_500_000)
	require.NoError(t, err)

	before, err := json.Marshal(l.Snapshot())
	require.NoError(t, err)

	reopened := openLedger(t, store, DefaultConfig())
	after, err := json.Marshal(reopened.Snapshot())
	require.NoError(t, err)
	require.JSONEq(t, string(before), string(after))

	statsBefore, err := json.Marshal(l.Statistics())
	require.NoError(t, err)
	statsAfter, err := json.Marshal(reopened.Statistics())
	require.NoError(t, err)
	require.JSONEq(t, string(statsBefore), string(statsAfter))

	inspected, err := Inspect(ctx, store)
	require.NoError(t, err)
	require.EqualValues(t, 2, inspected.AllocationCount)
	require.True(t, reopened.DensityRecorded("sa"))
	require.False(t, reopened.DensityRecorded("sb"))
	require.Len(t, reopened.AllocationsFor("sb"), 1)
}

func TestInspectDoesNotInitialize(t *testing.T) {
	store := &jsonStore{}
	_, err := Inspect(context.Background(), store)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Zero(t, store.saves)
}

func TestFailedSaveRollsBack(t *testing.T) {
	store := &jsonStore{}
	ctx := context.Background()
	l := openLedger(t, store, DefaultConfig())

	out := l.CalculateAllocation(AllocationRequest{
		SubmissionID: "s1", Contributor: "a", Metal: models.MetalGold, Epoch: "founder", Score: sdkmath.LegacyNewDec(5000),
	})
	store.fail = errors.New("disk full")
	_, err := l.CommitAllocation(ctx, out)
	require.ErrorIs(t, err, errs.ErrStorage)

	_, err = l.RecordQualityDensity(ctx, "s1", 2_000_000)
	require.ErrorIs(t, err, errs.ErrStorage)

	stats := l.Statistics()
	require.Zero(t, stats.AllocationCount)
	require.Zero(t, stats.TotalDensity)
	require.Equal(t, "45000000000000", stats.EpochBalances["founder"].String())
	require.Empty(t, l.AllocationsFor("s1"))
	require.False(t, l.DensityRecorded("s1"))
}

func TestHistoryRetentionIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryLimit = 3
	l := openLedger(t, &jsonStore{}, cfg)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		out := l.CalculateAllocation(AllocationRequest{
			SubmissionID: "s", Contributor: "a", Metal: models.MetalCopper, Epoch: "ecosystem", Score: sdkmath.LegacyNewDec(1),
		})
		_, err := l.CommitAllocation(ctx, out)
		require.NoError(t, err)
	}
	snap := l.Snapshot()
	require.Len(t, snap.Allocations, 3)
	require.EqualValues(t, 5, snap.AllocationCount)
	require.EqualValues(t, 3, snap.Allocations[0].Sequence)
}

func TestAllocationsForOutlivesHistoryWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryLimit = 1
	store := &jsonStore{}
	l := openLedger(t, store, cfg)
	ctx := context.Background()
	for _, id := range []string{"old", "new"} {
		out := l.CalculateAllocation(AllocationRequest{
			SubmissionID: id, Contributor: "a", Metal: models.MetalCopper, Epoch: "ecosystem", Score: sdkmath.LegacyNewDec(1),
		})
		_, err := l.CommitAllocation(ctx, out)
		require.NoError(t, err)
	}
	require.Len(t, l.Snapshot().Allocations, 1)

	recs := l.AllocationsFor("old")
	require.Len(t, recs, 1)
	require.EqualValues(t, 1, recs[0].Sequence)

	reopened := openLedger(t, store, cfg)
	require.Len(t, reopened.AllocationsFor("old"), 1)
}

func TestDensityRecordedOncePerSubmission(t *testing.T) {
	l := openLedger(t, &jsonStore{}, DefaultConfig())
	ctx := context.Background()

	upd, err := l.RecordQualityDensity(ctx, "s1", 9000)
	require.NoError(t, err)
	require.False(t, upd.AlreadyRecorded)

	upd, err = l.RecordQualityDensity(ctx, "s1", 9000)
	require.NoError(t, err)
	require.True(t, upd.AlreadyRecorded)
	require.EqualValues(t, 9000, upd.TotalDensity)
	require.EqualValues(t, 9000, l.Statistics().TotalDensity)

	_, err = l.RecordQualityDensity(ctx, "", 10)
	require.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestLegacyStateIndexesRetainedRecords(t *testing.T) {
	ctx := context.Background()
	store := &jsonStore{}
	l := openLedger(t, store, DefaultConfig())
	out := l.CalculateAllocation(AllocationRequest{
		SubmissionID: "s1", Contributor: "a", Metal: models.MetalCopper, Epoch: "ecosystem", Score: sdkmath.LegacyNewDec(1),
	})
	_, err := l.CommitAllocation(ctx, out)
	require.NoError(t, err)

	st := l.Snapshot()
	st.Submissions = nil
	require.NoError(t, store.Save(ctx, st))

	reopened := openLedger(t, store, DefaultConfig())
	require.Len(t, reopened.AllocationsFor("s1"), 1)
	require.True(t, reopened.DensityRecorded("s1"))
}

// gateStore blocks each Save until released, then returns fail.
type gateStore struct {
	jsonStore
	entered chan struct{}
	release chan error
}

func (s *gateStore) Save(ctx context.Context, st State) error {
	s.entered <- struct{}{}
	if err := <-s.release; err != nil {
		return err
	}
	return s.jsonStore.Save(ctx, st)
}

func TestReadersNeverSeeUnsavedState(t *testing.T) {
	ctx := context.Background()
	store := &gateStore{entered: make(chan struct{}, 1), release: make(chan error, 1)}
	store.release <- nil
	l := openLedger(t, store, DefaultConfig())
	<-store.entered

	out := l.CalculateAllocation(AllocationRequest{
		SubmissionID: "s1", Contributor: "a", Metal: models.MetalGold, Epoch: "founder", Score: sdkmath.LegacyNewDec(1),
	})
	require.True(t, out.OK())

	done := make(chan error, 1)
	go func() {
		_, err := l.CommitAllocation(ctx, out)
		done <- err
	}()
	<-store.entered

	// The save is in flight: readers still see the last persisted state.
	require.Equal(t, "45000000000000", l.Statistics().EpochBalances["founder"].String())
	info, err := l.EpochInfo("founder")
	require.NoError(t, err)
	require.Equal(t, "45000000000000", info.Balance.String())
	again := l.CalculateAllocation(AllocationRequest{
		SubmissionID: "s2", Contributor: "a", Metal: models.MetalGold, Epoch: "founder", Score: sdkmath.LegacyNewDec(1),
	})
	require.Equal(t, "45000000000000", again.EpochBalance.String())
	require.Empty(t, l.AllocationsFor("s1"))

	store.release <- errors.New("disk full")
	require.ErrorIs(t, <-done, errs.ErrStorage)
	require.Equal(t, "45000000000000", l.Statistics().EpochBalances["founder"].String())
	require.Zero(t, l.Statistics().AllocationCount)
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Epochs[1].HalvingInterval = 10
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Epochs[2].Threshold = 10001
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	delete(cfg.Multipliers, models.MetalCopper)
	require.Error(t, cfg.Validate())
}
