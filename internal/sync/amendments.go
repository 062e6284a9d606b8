package sync

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/legisync/backend/internal/legis"
	"github.com/legisync/backend/internal/storage/models"
	"github.com/legisync/backend/pkg/logger"
)

// AmendmentStore is the dedicated amendment capability. It may be absent
// at startup, in which case every amendment goes through the degraded
// raw-payload path.
type AmendmentStore interface {
	UpsertAmendment(ctx context.Context, am *models.Amendment) error
}

// RawPayloadStore backs the degraded path: amendment identifiers are
// embedded in the bill's raw capture under an "amendments" list.
type RawPayloadStore interface {
	GetBillRawPayload(ctx context.Context, billID int64) (string, error)
	UpdateBillRawPayload(ctx context.Context, billID int64, rawPayload string) error
}

// AmendmentTracker reconciles amendment sub-records against a parent bill.
// The dedicated-vs-degraded choice is made once at construction, not per
// call; a per-amendment failure of the dedicated store still falls back to
// the degraded path for that amendment only.
type AmendmentTracker struct {
	dedicated AmendmentStore
	raw       RawPayloadStore
}

func NewAmendmentTracker(dedicated AmendmentStore, raw RawPayloadStore) *AmendmentTracker {
	return &AmendmentTracker{dedicated: dedicated, raw: raw}
}

// Track processes the bill's amendment list and returns the number
// processed (not the number newly added). Individual failures are logged
// and never abort the batch.
func (t *AmendmentTracker) Track(ctx context.Context, billID int64, amendments []legis.Amendment) int {
	processed := 0

	for _, am := range amendments {
		if am.AmendmentID == "" {
			logger.Warn("Skipping amendment without identifier", zap.Int64("bill_id", billID))
			continue
		}

		if t.dedicated != nil {
			err := t.dedicated.UpsertAmendment(ctx, toModel(billID, am))
			if err == nil {
				processed++
				continue
			}
			logger.Warn("Dedicated amendment store failed, using degraded path",
				zap.Int64("bill_id", billID),
				zap.String("amendment_id", am.AmendmentID),
				zap.Error(err),
			)
		}

		if err := t.trackDegraded(ctx, billID, am.AmendmentID); err != nil {
			logger.Warn("Degraded amendment tracking failed",
				zap.Int64("bill_id", billID),
				zap.String("amendment_id", am.AmendmentID),
				zap.Error(err),
			)
			continue
		}
		processed++
	}

	return processed
}

// trackDegraded appends the amendment identifier to the bill's raw-payload
// "amendments" list, deduplicated by identifier. Missing or malformed raw
// data defaults to an empty payload.
func (t *AmendmentTracker) trackDegraded(ctx context.Context, billID int64, amendmentID string) error {
	raw, err := t.raw.GetBillRawPayload(ctx, billID)
	if err != nil {
		return err
	}

	payload := map[string]json.RawMessage{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			logger.Warn("Malformed raw payload, resetting amendment list",
				zap.Int64("bill_id", billID),
				zap.Error(err),
			)
			payload = map[string]json.RawMessage{}
		}
	}

	var ids []string
	if existing, ok := payload["amendments"]; ok {
		if err := json.Unmarshal(existing, &ids); err != nil {
			ids = nil
		}
	}

	for _, id := range ids {
		if id == amendmentID {
			return nil
		}
	}
	ids = append(ids, amendmentID)

	encoded, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	payload["amendments"] = encoded

	updated, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return t.raw.UpdateBillRawPayload(ctx, billID, string(updated))
}

func toModel(billID int64, am legis.Amendment) *models.Amendment {
	status := models.AmendmentProposed
	if am.Adopted {
		status = models.AmendmentAdopted
	}

	return &models.Amendment{
		BillID:      billID,
		AmendmentID: am.AmendmentID,
		Status:      status,
		Date:        am.Date,
		Title:       am.Title,
		Description: am.Description,
		ChangeHash:  am.ChangeHash,
	}
}
