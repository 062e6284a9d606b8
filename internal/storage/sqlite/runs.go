package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/legisync/backend/internal/storage/models"
	"github.com/legisync/backend/pkg/logger"
)

func (c *Client) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, status, started_at) VALUES (?, ?, ?)`,
		run.ID, string(run.Status), run.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create sync run: %w", err)
	}

	logger.Info("Sync run created", zap.String("run_id", run.ID))
	return nil
}

// FinalizeSyncRun writes the terminal status and final counters. It is
// called exactly once per run.
func (c *Client) FinalizeSyncRun(ctx context.Context, run *models.SyncRun) error {
	var completedAt interface{}
	if run.CompletedAt != nil {
		completedAt = run.CompletedAt.Unix()
	}

	_, err := c.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, completed_at = ?, new_bills = ?, bills_updated = ?,
			bills_analyzed = ?, amendments_tracked = ?, error_count = ?, error_samples = ?
		 WHERE id = ?`,
		string(run.Status),
		completedAt,
		run.NewBills,
		run.BillsUpdated,
		run.BillsAnalyzed,
		run.AmendmentsTracked,
		run.ErrorCount,
		run.ErrorSamples,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize sync run: %w", err)
	}

	return nil
}

// InsertSyncError appends one audit record to the run's error ledger.
// Error records are never mutated.
func (c *Client) InsertSyncError(ctx context.Context, e *models.SyncError) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO sync_errors (run_id, occurred_at, category, message, stack_trace) VALUES (?, ?, ?, ?, ?)`,
		e.RunID, e.OccurredAt.Unix(), string(e.Category), e.Message, e.StackTrace,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync error: %w", err)
	}
	return nil
}

func (c *Client) GetSyncRun(ctx context.Context, id string) (*models.SyncRun, error) {
	query := `
		SELECT id, status, started_at, completed_at, new_bills, bills_updated, bills_analyzed,
			amendments_tracked, error_count, error_samples
		FROM sync_runs WHERE id = ?
	`

	var r models.SyncRun
	var status string
	var startedAt int64
	var completedAt sql.NullInt64
	var samples sql.NullString

	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&r.ID, &status, &startedAt, &completedAt, &r.NewBills, &r.BillsUpdated,
		&r.BillsAnalyzed, &r.AmendmentsTracked, &r.ErrorCount, &samples,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync run: %w", err)
	}

	r.Status = models.RunStatus(status)
	r.StartedAt = time.Unix(startedAt, 0)
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		r.CompletedAt = &t
	}
	r.ErrorSamples = samples.String

	return &r, nil
}

func (c *Client) ListSyncRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	query := `
		SELECT id, status, started_at, completed_at, new_bills, bills_updated, bills_analyzed,
			amendments_tracked, error_count, error_samples
		FROM sync_runs ORDER BY started_at DESC LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var r models.SyncRun
		var status string
		var startedAt int64
		var completedAt sql.NullInt64
		var samples sql.NullString

		err := rows.Scan(&r.ID, &status, &startedAt, &completedAt, &r.NewBills, &r.BillsUpdated,
			&r.BillsAnalyzed, &r.AmendmentsTracked, &r.ErrorCount, &samples)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Status = models.RunStatus(status)
		r.StartedAt = time.Unix(startedAt, 0)
		if completedAt.Valid {
			t := time.Unix(completedAt.Int64, 0)
			r.CompletedAt = &t
		}
		r.ErrorSamples = samples.String
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

func (c *Client) GetSyncErrors(ctx context.Context, runID string) ([]models.SyncError, error) {
	query := `SELECT id, run_id, occurred_at, category, message, stack_trace FROM sync_errors WHERE run_id = ? ORDER BY occurred_at ASC`

	rows, err := c.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync errors: %w", err)
	}
	defer rows.Close()

	var errs []models.SyncError
	for rows.Next() {
		var e models.SyncError
		var category string
		var occurredAt int64
		var stack sql.NullString

		if err := rows.Scan(&e.ID, &e.RunID, &occurredAt, &category, &e.Message, &stack); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		e.Category = models.ErrorCategory(category)
		e.OccurredAt = time.Unix(occurredAt, 0)
		e.StackTrace = stack.String
		errs = append(errs, e)
	}

	return errs, rows.Err()
}
