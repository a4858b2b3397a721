package postgres

import (
	"context"
	"fmt"

	"contribledger/internal/scoring"
)

type ScoringAuditRepo struct {
	db *DB
}

func NewScoringAuditRepo(db *DB) *ScoringAuditRepo {
	return &ScoringAuditRepo{db: db}
}

// Record satisfies scoring.Auditor.
func (r *ScoringAuditRepo) Record(ctx context.Context, rec scoring.CallRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO scoring_calls(submission_id, provider_name, model, status, error_type)
VALUES ($1, $2, $3, $4, NULLIF($5,''))`,
		rec.SubmissionID, rec.ProviderName, rec.Model, rec.Status, rec.ErrorType)
	if err != nil {
		return fmt.Errorf("insert scoring call: %w", err)
	}
	return nil
}
