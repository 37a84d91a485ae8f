package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/loan-engine/lending"
)

// =============================================================================
// BATCH RUNS (lending.BatchRunStore interface)
// =============================================================================

// SaveBatchRun inserts or updates a run record.
func (s *Store) SaveBatchRun(ctx context.Context, run lending.BatchRun) error {
	defer s.writeLock()()

	var completedAt sql.NullString
	if run.CompletedAt != nil {
		completedAt = sql.NullString{String: run.CompletedAt.UTC().Format(timestampLayout), Valid: true}
	}

	_, err := s.conn().exec(ctx, `
		INSERT INTO batch_runs (id, as_of, status, processed, skipped, accrued, reclassified,
			failed, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			processed = excluded.processed,
			skipped = excluded.skipped,
			accrued = excluded.accrued,
			reclassified = excluded.reclassified,
			failed = excluded.failed,
			error = excluded.error,
			completed_at = excluded.completed_at
	`,
		run.ID, run.AsOf.String(), string(run.Status), run.Processed, run.Skipped, run.Accrued,
		run.Reclassified, run.Failed, nullString(run.Error),
		run.StartedAt.UTC().Format(timestampLayout), completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save batch run %s: %w", run.ID, err)
	}
	return nil
}

// ListBatchRuns returns runs newest first. limit <= 0 means all.
func (s *Store) ListBatchRuns(ctx context.Context, limit int) ([]lending.BatchRun, error) {
	defer s.readLock()()

	query := `
		SELECT id, as_of, status, processed, skipped, accrued, reclassified, failed,
		       error, started_at, completed_at
		FROM batch_runs
		ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn().query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []lending.BatchRun
	for rows.Next() {
		var (
			run                     lending.BatchRun
			asOf, status, startedAt string
			runErr, completedAt     sql.NullString
		)
		if err := rows.Scan(&run.ID, &asOf, &status, &run.Processed, &run.Skipped, &run.Accrued,
			&run.Reclassified, &run.Failed, &runErr, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		if run.AsOf, err = lending.ParseDate(asOf); err != nil {
			return nil, err
		}
		run.Status = lending.BatchRunStatus(status)
		run.Error = runErr.String
		run.StartedAt, _ = time.Parse(timestampLayout, startedAt)
		if completedAt.Valid {
			t, _ := time.Parse(timestampLayout, completedAt.String)
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// POLICY STORAGE
// =============================================================================

// PolicyRecord is a stored provisioning policy document.
type PolicyRecord struct {
	ID         string
	Name       string
	ConfigJSON string
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SavePolicy stores a policy document, replacing any record with the same ID.
func (s *Store) SavePolicy(ctx context.Context, p PolicyRecord) error {
	defer s.writeLock()()

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.conn().exec(ctx, `
		INSERT INTO policies (id, name, config_json, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			config_json = excluded.config_json,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, p.ID, p.Name, p.ConfigJSON, p.Version,
		p.CreatedAt.Format(timestampLayout), p.UpdatedAt.Format(timestampLayout))
	if err != nil {
		return fmt.Errorf("failed to save policy %s: %w", p.ID, err)
	}
	return nil
}

// GetPolicy retrieves a policy by ID. Returns nil, nil when absent.
func (s *Store) GetPolicy(ctx context.Context, id string) (*PolicyRecord, error) {
	defer s.readLock()()
	return scanPolicy(s.conn().queryRow(ctx, `
		SELECT id, name, config_json, version, created_at, updated_at
		FROM policies WHERE id = ?
	`, id))
}

// LatestPolicy returns the most recently updated policy, or nil, nil.
func (s *Store) LatestPolicy(ctx context.Context) (*PolicyRecord, error) {
	defer s.readLock()()
	return scanPolicy(s.conn().queryRow(ctx, `
		SELECT id, name, config_json, version, created_at, updated_at
		FROM policies ORDER BY updated_at DESC, id LIMIT 1
	`))
}

// ListPolicies returns every stored policy by name.
func (s *Store) ListPolicies(ctx context.Context) ([]PolicyRecord, error) {
	defer s.readLock()()

	rows, err := s.conn().query(ctx, `
		SELECT id, name, config_json, version, created_at, updated_at
		FROM policies ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []PolicyRecord
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

func scanPolicy(sc scanner) (*PolicyRecord, error) {
	var (
		p                    PolicyRecord
		createdAt, updatedAt string
	)
	err := sc.Scan(&p.ID, &p.Name, &p.ConfigJSON, &p.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt, _ = time.Parse(timestampLayout, createdAt)
	p.UpdatedAt, _ = time.Parse(timestampLayout, updatedAt)
	return &p, nil
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// Reset clears all loan data. Stored policies are kept.
func (s *Store) Reset(ctx context.Context) error {
	defer s.writeLock()()

	tables := []string{
		"classification_records",
		"repayment_transactions",
		"installments",
		"loans",
		"batch_runs",
	}
	return s.withTx(ctx, func(tx lending.Store) error {
		c := tx.(*conn)
		for _, table := range tables {
			if _, err := c.exec(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
}
