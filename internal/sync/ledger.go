package sync

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/legisync/backend/internal/metrics"
	"github.com/legisync/backend/internal/storage/models"
	"github.com/legisync/backend/pkg/logger"
)

// RunStore is the slice of the store the ledger writes to.
type RunStore interface {
	CreateSyncRun(ctx context.Context, run *models.SyncRun) error
	FinalizeSyncRun(ctx context.Context, run *models.SyncRun) error
	InsertSyncError(ctx context.Context, e *models.SyncError) error
}

// Ledger accumulates counters and errors for one sync run. Every error is
// appended to the sync_errors audit table; at most MaxErrorSamples
// messages are additionally kept verbatim on the run record itself.
type Ledger struct {
	store RunStore
	run   *models.SyncRun

	mu          sync.Mutex
	samples     []string
	interrupted bool
}

// NewLedger creates the run record with status in-progress.
func NewLedger(ctx context.Context, store RunStore) (*Ledger, error) {
	run := &models.SyncRun{
		ID:        uuid.NewString(),
		Status:    models.RunStatusInProgress,
		StartedAt: time.Now(),
	}

	if err := store.CreateSyncRun(ctx, run); err != nil {
		return nil, err
	}

	return &Ledger{store: store, run: run}, nil
}

func (l *Ledger) RunID() string {
	return l.run.ID
}

// RecordError appends an audit record and keeps a bounded sample on the
// run. Failures writing the audit row are logged but never escalate; the
// ledger must not turn a per-record error into a run abort.
func (l *Ledger) RecordError(ctx context.Context, category models.ErrorCategory, err error) {
	l.mu.Lock()
	l.run.ErrorCount++
	if len(l.samples) < models.MaxErrorSamples {
		l.samples = append(l.samples, err.Error())
	}
	l.mu.Unlock()

	metrics.SyncErrors.WithLabelValues(string(category)).Inc()

	logger.Error("Sync error recorded",
		zap.String("run_id", l.run.ID),
		zap.String("category", string(category)),
		zap.Error(err),
	)

	record := &models.SyncError{
		RunID:      l.run.ID,
		OccurredAt: time.Now(),
		Category:   category,
		Message:    err.Error(),
		StackTrace: string(debug.Stack()),
	}
	if storeErr := l.store.InsertSyncError(ctx, record); storeErr != nil {
		logger.Warn("Failed to persist sync error", zap.Error(storeErr))
	}
}

func (l *Ledger) AddNewBill() {
	l.mu.Lock()
	l.run.NewBills++
	l.mu.Unlock()
	metrics.BillsSynced.WithLabelValues("new").Inc()
}

func (l *Ledger) AddUpdatedBill() {
	l.mu.Lock()
	l.run.BillsUpdated++
	l.mu.Unlock()
	metrics.BillsSynced.WithLabelValues("updated").Inc()
}

func (l *Ledger) AddAnalyzed() {
	l.mu.Lock()
	l.run.BillsAnalyzed++
	l.mu.Unlock()
	metrics.BillsAnalyzed.Inc()
}

func (l *Ledger) AddAmendments(n int) {
	l.mu.Lock()
	l.run.AmendmentsTracked += n
	l.mu.Unlock()
	metrics.AmendmentsTracked.Add(float64(n))
}

// MarkInterrupted notes that the run stopped early on a shutdown signal.
// An interrupted run finalizes as partial even with zero errors.
func (l *Ledger) MarkInterrupted() {
	l.mu.Lock()
	l.interrupted = true
	l.mu.Unlock()
}

// Finalize writes the terminal status exactly once: completed when no
// errors were recorded, partial when per-record errors occurred (or the
// run was interrupted) but the run reached the end, failed when the run
// aborted.
func (l *Ledger) Finalize(ctx context.Context, aborted bool) *models.SyncRun {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.run.CompletedAt = &now

	switch {
	case aborted:
		l.run.Status = models.RunStatusFailed
	case l.run.ErrorCount > 0 || l.interrupted:
		l.run.Status = models.RunStatusPartial
	default:
		l.run.Status = models.RunStatusCompleted
	}

	if data, err := json.Marshal(l.samples); err == nil {
		l.run.ErrorSamples = string(data)
	}

	if err := l.store.FinalizeSyncRun(ctx, l.run); err != nil {
		logger.Error("Failed to finalize sync run", zap.String("run_id", l.run.ID), zap.Error(err))
	}

	metrics.SyncRunsTotal.WithLabelValues(string(l.run.Status)).Inc()
	metrics.SyncRunDuration.Observe(now.Sub(l.run.StartedAt).Seconds())

	runCopy := *l.run
	return &runCopy
}

// Summary is the final per-run summary for external consumers (logging,
// alerting); this core emits it and sends nothing itself.
func (l *Ledger) Summary() models.RunSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	return models.RunSummary{
		RunID:             l.run.ID,
		Status:            l.run.Status,
		NewBills:          l.run.NewBills,
		BillsUpdated:      l.run.BillsUpdated,
		BillsAnalyzed:     l.run.BillsAnalyzed,
		AmendmentsTracked: l.run.AmendmentsTracked,
		ErrorCount:        l.run.ErrorCount,
	}
}
