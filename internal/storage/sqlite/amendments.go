package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/legisync/backend/internal/storage/models"
)

// UpsertAmendment updates an amendment identified by (bill_id,
// amendment_id), inserting it when unseen. The adoption status is one-way:
// a row that already reached adopted never moves back to proposed.
func (c *Client) UpsertAmendment(ctx context.Context, am *models.Amendment) error {
	now := time.Now().Unix()

	query := `
		INSERT INTO amendments (bill_id, amendment_id, status, date, title, description, change_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bill_id, amendment_id) DO UPDATE SET
			status = CASE WHEN amendments.status = 'adopted' THEN 'adopted' ELSE excluded.status END,
			date = excluded.date,
			title = excluded.title,
			description = excluded.description,
			change_hash = excluded.change_hash,
			updated_at = excluded.updated_at
	`

	_, err := c.db.ExecContext(ctx, query,
		am.BillID,
		am.AmendmentID,
		string(am.Status),
		am.Date,
		am.Title,
		am.Description,
		am.ChangeHash,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert amendment %s: %w", am.AmendmentID, err)
	}

	return nil
}

func (c *Client) GetAmendments(ctx context.Context, billID int64) ([]models.Amendment, error) {
	query := `
		SELECT id, bill_id, amendment_id, status, date, title, description, change_hash, created_at, updated_at
		FROM amendments WHERE bill_id = ?
	`

	rows, err := c.db.QueryContext(ctx, query, billID)
	if err != nil {
		return nil, fmt.Errorf("failed to get amendments: %w", err)
	}
	defer rows.Close()

	var amendments []models.Amendment
	for rows.Next() {
		var a models.Amendment
		var status string
		var date, title, description, changeHash sql.NullString
		var createdAt, updatedAt int64

		err := rows.Scan(&a.ID, &a.BillID, &a.AmendmentID, &status, &date, &title, &description, &changeHash, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		a.Status = models.AmendmentStatus(status)
		a.Date = date.String
		a.Title = title.String
		a.Description = description.String
		a.ChangeHash = changeHash.String
		a.CreatedAt = time.Unix(createdAt, 0)
		a.UpdatedAt = time.Unix(updatedAt, 0)
		amendments = append(amendments, a)
	}

	return amendments, rows.Err()
}
