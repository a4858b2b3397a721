package leveldb

import (
	"context"
	"testing"

	"contribledger/internal/ledger"
	"contribledger/internal/models"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"
)

func TestArchiveAndLedgerSurviveReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := Open(dir)
	require.NoError(t, err)
	as := db.ArchiveStore()
	require.NoError(t, as.Put(ctx, models.Contribution{SubmissionID: "a", Status: models.StatusSubmitted}))
	require.NoError(t, as.Put(ctx, models.Contribution{SubmissionID: "b", Status: models.StatusSubmitted}))
	require.NoError(t, as.Put(ctx, models.Contribution{SubmissionID: "a", Status: models.StatusEvaluating}))

	ls := db.LedgerStore()
	_, found, err := ls.Load(ctx)
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, ls.Save(ctx, ledger.State{
		TotalDensity:        7,
		ContributorBalances: map[string]sdkmath.Int{"x": sdkmath.NewInt(5)},
	}))
	require.NoError(t, db.Close())

	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()

	all, err := db.ArchiveStore().LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	byID := map[string]models.Status{}
	for _, c := range all {
		byID[c.SubmissionID] = c.Status
	}
	require.Equal(t, models.StatusEvaluating, byID["a"])
	require.Equal(t, models.StatusSubmitted, byID["b"])

	st, found, err := db.LedgerStore().Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 7, st.TotalDensity)
	require.Equal(t, "5", st.ContributorBalances["x"].String())
}

func TestClosedDBRejectsWrites(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.ErrorIs(t, db.ArchiveStore().Put(context.Background(), models.Contribution{SubmissionID: "a"}), ErrShutdown)
	require.NoError(t, db.Close())
}
