package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/legisync/backend/internal/analysis"
	"github.com/legisync/backend/internal/legis"
	"github.com/legisync/backend/internal/metrics"
	"github.com/legisync/backend/internal/storage/models"
	"github.com/legisync/backend/internal/storage/sqlite"
	"github.com/legisync/backend/pkg/logger"
)

// Store is the versioned-store surface the orchestrator drives. Writes
// are serialized by the single-worker discipline: jurisdictions, sessions,
// and bills are processed sequentially within one run, which makes the
// upsert guarantee hold without database-level locking.
type Store interface {
	RunStore
	RawPayloadStore
	Healthy(ctx context.Context) error
	StoredHashes(ctx context.Context, source, sessionKey string) (map[string]string, error)
	BillsNeedingAnalysis(ctx context.Context) ([]int64, error)
	UpsertBill(ctx context.Context, bill *models.Bill) (*models.Bill, bool, error)
	AppendOrUpdateText(ctx context.Context, billID int64, note, url string, content []byte) (*models.TextVersion, error)
	ReplaceSponsors(ctx context.Context, billID int64, sponsors []models.Sponsor) error
}

// Orchestrator is the top-level control loop for one sync run.
type Orchestrator struct {
	source        legis.Source
	sourceName    string
	store         Store
	tracker       *AmendmentTracker
	analyzer      *analysis.Orchestrator
	jurisdictions []string
}

func NewOrchestrator(source legis.Source, sourceName string, store Store, tracker *AmendmentTracker, analyzer *analysis.Orchestrator, jurisdictions []string) *Orchestrator {
	return &Orchestrator{
		source:        source,
		sourceName:    sourceName,
		store:         store,
		tracker:       tracker,
		analyzer:      analyzer,
		jurisdictions: jurisdictions,
	}
}

// Run executes one full synchronization: per-jurisdiction sessions, change
// detection, per-bill fetch and store, then the analysis batch. Per-record
// failures are recorded and skipped; only a lost storage connection aborts
// the run as failed. A canceled context finishes the current bill, stops,
// and finalizes the run as partial.
func (o *Orchestrator) Run(ctx context.Context) (*models.SyncRun, error) {
	ledger, err := NewLedger(ctx, o.store)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync run: %w", err)
	}

	logger.Info("Sync run starting",
		zap.String("run_id", ledger.RunID()),
		zap.Strings("jurisdictions", o.jurisdictions),
	)

	var analysisWorklist []int64
	aborted := false

loop:
	for _, jurisdiction := range o.jurisdictions {
		if ctx.Err() != nil {
			ledger.MarkInterrupted()
			break
		}

		sessions, err := o.source.ListSessions(ctx, jurisdiction)
		if err != nil {
			ledger.RecordError(ctx, models.ErrCategorySession,
				fmt.Errorf("jurisdiction %s: %w", jurisdiction, err))
			continue
		}

		now := time.Now()
		for _, session := range sessions {
			if ctx.Err() != nil {
				ledger.MarkInterrupted()
				break loop
			}
			if !session.Active(now) {
				continue
			}

			ids, err := o.sessionWorklist(ctx, session.ID)
			if err != nil {
				ledger.RecordError(ctx, models.ErrCategoryManifest,
					fmt.Errorf("session %s: %w", session.ID, err))
				if o.connLost(ctx, err) {
					aborted = true
					break loop
				}
				continue
			}

			logger.Info("Session worklist built",
				zap.String("jurisdiction", jurisdiction),
				zap.String("session", session.ID),
				zap.Int("bills", len(ids)),
			)
			metrics.WorklistSize.Observe(float64(len(ids)))

			for _, billID := range ids {
				if ctx.Err() != nil {
					ledger.MarkInterrupted()
					break loop
				}

				storedID, err := o.syncBill(ctx, ledger, session.ID, billID)
				if err != nil {
					if o.connLost(ctx, err) {
						aborted = true
						break loop
					}
					continue
				}
				analysisWorklist = append(analysisWorklist, storedID)
			}
		}
	}

	// Bills whose sync committed in an earlier run but whose analysis
	// failed or was cut short carry no hash delta anymore; the store scan
	// keeps them eligible until an analysis of the current content lands.
	if !aborted && ctx.Err() == nil {
		pending, err := o.store.BillsNeedingAnalysis(ctx)
		if err != nil {
			ledger.RecordError(ctx, models.ErrCategoryStore,
				fmt.Errorf("pending-analysis scan: %w", err))
		} else {
			analysisWorklist = mergeWorklist(analysisWorklist, pending)
		}
	}

	if !aborted && len(analysisWorklist) > 0 {
		o.analyzer.AnalyzeBatch(ctx, ledger, analysisWorklist)
	}

	// Finalize on a fresh context: after a shutdown signal the run ctx is
	// already canceled, and the terminal status must still be written.
	run := ledger.Finalize(context.Background(), aborted)
	summary := ledger.Summary()

	logger.Info("Sync run finished",
		zap.String("run_id", summary.RunID),
		zap.String("status", string(summary.Status)),
		zap.Int("new_bills", summary.NewBills),
		zap.Int("bills_updated", summary.BillsUpdated),
		zap.Int("bills_analyzed", summary.BillsAnalyzed),
		zap.Int("amendments_tracked", summary.AmendmentsTracked),
		zap.Int("error_count", summary.ErrorCount),
	)

	return run, nil
}

// sessionWorklist fetches the remote manifest and runs change detection
// against the stored hashes for the session.
func (o *Orchestrator) sessionWorklist(ctx context.Context, sessionID string) ([]string, error) {
	manifest, err := o.source.GetManifest(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}

	stored, err := o.store.StoredHashes(ctx, o.sourceName, sessionID)
	if err != nil {
		return nil, err
	}

	return DetectChanges(manifest, stored), nil
}

// syncBill fetches one full record and commits it: bill metadata with the
// new change hash, text versions, sponsors, amendments. Each bill commits
// before the next is touched, so a later failure can never lose an
// already-written record.
func (o *Orchestrator) syncBill(ctx context.Context, ledger *Ledger, sessionID, billID string) (int64, error) {
	record, err := o.source.GetBill(ctx, billID)
	if err != nil {
		wrapped := fmt.Errorf("bill %s: %w", billID, err)
		ledger.RecordError(ctx, models.ErrCategoryBillFetch, wrapped)
		return 0, wrapped
	}

	if record.SessionKey == "" {
		record.SessionKey = sessionID
	}
	if record.BillNumber == "" {
		record.BillNumber = billID
	}

	bill := &models.Bill{
		Source:      o.sourceName,
		SessionKey:  record.SessionKey,
		BillNumber:  record.BillNumber,
		Title:       record.Title,
		Description: record.Description,
		Status:      models.ParseBillStatus(record.Status),
		ChangeHash:  record.ChangeHash,
		RawPayload:  string(record.Raw),
	}

	stored, created, err := o.store.UpsertBill(ctx, bill)
	if err != nil {
		wrapped := fmt.Errorf("bill %s: %w", billID, err)
		ledger.RecordError(ctx, models.ErrCategoryStore, wrapped)
		return 0, wrapped
	}

	if created {
		ledger.AddNewBill()
	} else {
		ledger.AddUpdatedBill()
	}

	for _, doc := range record.Texts {
		if len(doc.Content) == 0 {
			continue
		}
		if _, err := o.store.AppendOrUpdateText(ctx, stored.ID, doc.Note, doc.URL, doc.Content); err != nil {
			wrapped := fmt.Errorf("bill %s text: %w", billID, err)
			ledger.RecordError(ctx, models.ErrCategoryStore, wrapped)
			return 0, wrapped
		}
	}

	sponsors := make([]models.Sponsor, 0, len(record.Sponsors))
	for _, s := range record.Sponsors {
		sponsors = append(sponsors, models.Sponsor{
			BillID:   stored.ID,
			Name:     s.Name,
			Role:     s.Role,
			Party:    s.Party,
			District: s.District,
			Primary:  s.Primary,
		})
	}
	if err := o.store.ReplaceSponsors(ctx, stored.ID, sponsors); err != nil {
		wrapped := fmt.Errorf("bill %s sponsors: %w", billID, err)
		ledger.RecordError(ctx, models.ErrCategoryStore, wrapped)
		return 0, wrapped
	}

	if len(record.Amendments) > 0 {
		processed := o.tracker.Track(ctx, stored.ID, record.Amendments)
		ledger.AddAmendments(processed)
	}

	return stored.ID, nil
}

// mergeWorklist appends the ids from extra that ids does not already
// contain, preserving order.
func mergeWorklist(ids, extra []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	for _, id := range extra {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// connLost reports whether the error, or the store's current health,
// indicates the storage connection is unusable. That is the only error
// class that aborts a whole run.
func (o *Orchestrator) connLost(ctx context.Context, err error) bool {
	if errors.Is(err, sqlite.ErrConnLost) {
		return true
	}
	return o.store.Healthy(ctx) != nil
}

// ReanalyzeBill is the on-demand entry point for a single stored bill. It
// bypasses change detection and always re-runs the analysis step.
func (o *Orchestrator) ReanalyzeBill(ctx context.Context, billID int64) error {
	return o.analyzer.AnalyzeBill(ctx, billID)
}
