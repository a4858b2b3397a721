package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"contribledger/internal/ledger"

	"github.com/jackc/pgx/v5"
)

// LedgerRepo keeps the full ledger state in a single row and mirrors every
// allocation record into ledger_allocations, which is never truncated.
type LedgerRepo struct {
	db *DB
}

func NewLedgerRepo(db *DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

func (r *LedgerRepo) Load(ctx context.Context) (ledger.State, bool, error) {
	var doc []byte
	err := r.db.Pool.QueryRow(ctx, `SELECT doc FROM ledger_state WHERE id = 1`).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.State{}, false, nil
	}
	if err != nil {
		return ledger.State{}, false, fmt.Errorf("load ledger: %w", err)
	}
	var st ledger.State
	if err := json.Unmarshal(doc, &st); err != nil {
		return ledger.State{}, false, fmt.Errorf("decode ledger: %w", err)
	}
	return st, true, nil
}

func (r *LedgerRepo) Save(ctx context.Context, st ledger.State) error {
	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx save ledger: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `
INSERT INTO ledger_state (id, doc, updated_at) VALUES (1, $1, $2)
ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`, doc, st.UpdatedAt); err != nil {
		return fmt.Errorf("upsert ledger state: %w", err)
	}

	batch := &pgx.Batch{}
	for _, a := range st.Allocations {
		batch.Queue(`
INSERT INTO ledger_allocations (sequence, submission_id, contributor, metal, epoch, reward, balance_after, committed_at)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8)
ON CONFLICT (sequence) DO NOTHING`,
			a.Sequence, a.SubmissionID, a.Contributor, string(a.Metal), a.Epoch, a.Reward.String(), a.BalanceAfter.String(), a.Timestamp)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("mirror allocations: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}
