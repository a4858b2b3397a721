package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"contribledger/internal/models"
)

// ArchiveRepo stores each contribution as a JSONB document with the indexed
// columns denormalized alongside it.
type ArchiveRepo struct {
	db *DB
}

func NewArchiveRepo(db *DB) *ArchiveRepo {
	return &ArchiveRepo{db: db}
}

func (r *ArchiveRepo) Put(ctx context.Context, c models.Contribution) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode contribution: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
INSERT INTO contributions (submission_id, contributor, status, fingerprint, doc, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (submission_id)
DO UPDATE SET
  status = EXCLUDED.status,
  doc = EXCLUDED.doc,
  updated_at = EXCLUDED.updated_at`,
		c.SubmissionID, c.Contributor, string(c.Status), c.Fingerprint, doc, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert contribution %s: %w", c.SubmissionID, err)
	}
	return nil
}

func (r *ArchiveRepo) LoadAll(ctx context.Context) ([]models.Contribution, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT doc FROM contributions ORDER BY created_at ASC, submission_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	defer rows.Close()

	out := make([]models.Contribution, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		var c models.Contribution
		if err := json.Unmarshal(doc, &c); err != nil {
			return nil, fmt.Errorf("decode contribution: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contributions: %w", err)
	}
	return out, nil
}
