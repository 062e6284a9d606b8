package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/legisync/backend/internal/storage/models"
	"github.com/legisync/backend/pkg/logger"
	"github.com/legisync/backend/pkg/utils"
)

// UpsertBill locates an existing row by the (source, session_key,
// bill_number) natural key. If found, mutable fields are overwritten in
// place and updated_at is bumped; otherwise a new row is inserted. The
// returned flag reports whether this call inserted the row. Timestamps
// are second-granularity, so the flag, not a created/updated comparison,
// is the classification signal. The pre-check is safe under the
// single-writer discipline; the ON CONFLICT clause still guards the
// natural key.
func (c *Client) UpsertBill(ctx context.Context, bill *models.Bill) (*models.Bill, bool, error) {
	var existingID int64
	err := c.db.QueryRowContext(ctx,
		`SELECT id FROM bills WHERE source = ? AND session_key = ? AND bill_number = ?`,
		bill.Source, bill.SessionKey, bill.BillNumber,
	).Scan(&existingID)
	inserted := err == sql.ErrNoRows
	if err != nil && err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to look up bill %s: %w", bill.BillNumber, err)
	}

	now := time.Now().Unix()

	query := `
		INSERT INTO bills (source, session_key, bill_number, title, description, status, change_hash, raw_payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, session_key, bill_number) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			change_hash = excluded.change_hash,
			raw_payload = excluded.raw_payload,
			updated_at = excluded.updated_at
	`

	_, err = c.db.ExecContext(ctx, query,
		bill.Source,
		bill.SessionKey,
		bill.BillNumber,
		bill.Title,
		bill.Description,
		string(bill.Status),
		bill.ChangeHash,
		bill.RawPayload,
		now,
		now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert bill %s: %w", bill.BillNumber, err)
	}

	stored, err := c.GetBillByKey(ctx, bill.Source, bill.SessionKey, bill.BillNumber)
	if err != nil {
		return nil, false, err
	}

	logger.Debug("Bill upserted",
		zap.Int64("bill_id", stored.ID),
		zap.String("bill_number", stored.BillNumber),
		zap.String("session", stored.SessionKey),
		zap.Bool("inserted", inserted),
	)

	return stored, inserted, nil
}

func (c *Client) GetBillByKey(ctx context.Context, source, sessionKey, billNumber string) (*models.Bill, error) {
	query := `
		SELECT id, source, session_key, bill_number, title, description, status, change_hash, raw_payload, created_at, updated_at
		FROM bills WHERE source = ? AND session_key = ? AND bill_number = ?
	`
	return c.scanBill(c.db.QueryRowContext(ctx, query, source, sessionKey, billNumber))
}

func (c *Client) GetBill(ctx context.Context, id int64) (*models.Bill, error) {
	query := `
		SELECT id, source, session_key, bill_number, title, description, status, change_hash, raw_payload, created_at, updated_at
		FROM bills WHERE id = ?
	`
	return c.scanBill(c.db.QueryRowContext(ctx, query, id))
}

func (c *Client) scanBill(row *sql.Row) (*models.Bill, error) {
	var b models.Bill
	var status string
	var description, rawPayload sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&b.ID,
		&b.Source,
		&b.SessionKey,
		&b.BillNumber,
		&b.Title,
		&description,
		&status,
		&b.ChangeHash,
		&rawPayload,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get bill: %w", err)
	}

	b.Description = description.String
	b.RawPayload = rawPayload.String
	b.Status = models.BillStatus(status)
	b.CreatedAt = time.Unix(createdAt, 0)
	b.UpdatedAt = time.Unix(updatedAt, 0)

	return &b, nil
}

// StoredHashes returns the change hash for every bill stored under the
// given source and session, keyed by bill number. This is the local side
// of change detection.
func (c *Client) StoredHashes(ctx context.Context, source, sessionKey string) (map[string]string, error) {
	query := `SELECT bill_number, change_hash FROM bills WHERE source = ? AND session_key = ?`

	rows, err := c.db.QueryContext(ctx, query, source, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get stored hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var number, hash string
		if err := rows.Scan(&number, &hash); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		hashes[number] = hash
	}

	return hashes, rows.Err()
}

// AppendOrUpdateText writes one text document against the bill's version
// chain. The binary flag, content type, and byte length are computed here
// at write time, never trusted from the caller.
//
// When the content hash matches the current head version, only the head's
// descriptive fields are refreshed. When it differs, a new version with
// version_num = head+1 is appended. Versions below the head are never
// touched.
func (c *Client) AppendOrUpdateText(ctx context.Context, billID int64, note, url string, content []byte) (*models.TextVersion, error) {
	contentHash := utils.HashBytes(content)
	contentType := http.DetectContentType(content)
	isBinary := !utf8.Valid(content)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var headID int64
	var headVersion int
	var headHash string
	err = tx.QueryRowContext(ctx,
		`SELECT id, version_num, content_hash FROM bill_texts WHERE bill_id = ? ORDER BY version_num DESC LIMIT 1`,
		billID,
	).Scan(&headID, &headVersion, &headHash)

	switch {
	case err == sql.ErrNoRows:
		headVersion = 0
	case err != nil:
		return nil, fmt.Errorf("failed to query head text version: %w", err)
	}

	now := time.Now()
	version := &models.TextVersion{
		BillID:      billID,
		Note:        note,
		URL:         url,
		Content:     content,
		IsBinary:    isBinary,
		ContentType: contentType,
		ByteLen:     len(content),
		ContentHash: contentHash,
		CreatedAt:   now,
	}

	if headVersion > 0 && headHash == contentHash {
		// Cosmetic refresh of an already-known version.
		_, err = tx.ExecContext(ctx,
			`UPDATE bill_texts SET note = ?, url = ?, content_type = ? WHERE id = ?`,
			note, url, contentType, headID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update text version: %w", err)
		}
		version.ID = headID
		version.VersionNum = headVersion
	} else {
		version.VersionNum = headVersion + 1
		res, err := tx.ExecContext(ctx,
			`INSERT INTO bill_texts (bill_id, version_num, note, url, content, is_binary, content_type, byte_len, content_hash, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			billID, version.VersionNum, note, url, content, boolToInt(isBinary), contentType, len(content), contentHash, now.Unix(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert text version: %w", err)
		}
		version.ID, _ = res.LastInsertId()
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit text version: %w", err)
	}

	logger.Debug("Bill text written",
		zap.Int64("bill_id", billID),
		zap.Int("version", version.VersionNum),
		zap.Bool("is_binary", isBinary),
		zap.Int("bytes", len(content)),
	)

	return version, nil
}

func (c *Client) GetLatestText(ctx context.Context, billID int64) (*models.TextVersion, error) {
	query := `
		SELECT id, bill_id, version_num, note, url, content, is_binary, content_type, byte_len, content_hash, created_at
		FROM bill_texts WHERE bill_id = ? ORDER BY version_num DESC LIMIT 1
	`

	var v models.TextVersion
	var note, url, contentType sql.NullString
	var isBinary int
	var createdAt int64

	err := c.db.QueryRowContext(ctx, query, billID).Scan(
		&v.ID, &v.BillID, &v.VersionNum, &note, &url, &v.Content,
		&isBinary, &contentType, &v.ByteLen, &v.ContentHash, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest text: %w", err)
	}

	v.Note = note.String
	v.URL = url.String
	v.ContentType = contentType.String
	v.IsBinary = isBinary != 0
	v.CreatedAt = time.Unix(createdAt, 0)

	return &v, nil
}

func (c *Client) ListTextVersions(ctx context.Context, billID int64) ([]models.TextVersion, error) {
	query := `
		SELECT id, bill_id, version_num, content_hash, is_binary, content_type, byte_len, created_at
		FROM bill_texts WHERE bill_id = ? ORDER BY version_num ASC
	`

	rows, err := c.db.QueryContext(ctx, query, billID)
	if err != nil {
		return nil, fmt.Errorf("failed to list text versions: %w", err)
	}
	defer rows.Close()

	var versions []models.TextVersion
	for rows.Next() {
		var v models.TextVersion
		var isBinary int
		var contentType sql.NullString
		var createdAt int64
		if err := rows.Scan(&v.ID, &v.BillID, &v.VersionNum, &v.ContentHash, &isBinary, &contentType, &v.ByteLen, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		v.IsBinary = isBinary != 0
		v.ContentType = contentType.String
		v.CreatedAt = time.Unix(createdAt, 0)
		versions = append(versions, v)
	}

	return versions, rows.Err()
}

// ReplaceSponsors atomically replaces the bill's sponsor list. Partial
// sponsor lists are never visible to readers.
func (c *Client) ReplaceSponsors(ctx context.Context, billID int64, sponsors []models.Sponsor) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `DELETE FROM sponsors WHERE bill_id = ?`, billID)
	if err != nil {
		return fmt.Errorf("failed to delete sponsors: %w", err)
	}

	for _, s := range sponsors {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sponsors (bill_id, name, role, party, district, is_primary) VALUES (?, ?, ?, ?, ?, ?)`,
			billID, s.Name, s.Role, s.Party, s.District, boolToInt(s.Primary),
		)
		if err != nil {
			return fmt.Errorf("failed to insert sponsor %s: %w", s.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sponsors: %w", err)
	}

	return nil
}

func (c *Client) GetSponsors(ctx context.Context, billID int64) ([]models.Sponsor, error) {
	query := `SELECT id, bill_id, name, role, party, district, is_primary FROM sponsors WHERE bill_id = ?`

	rows, err := c.db.QueryContext(ctx, query, billID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sponsors: %w", err)
	}
	defer rows.Close()

	var sponsors []models.Sponsor
	for rows.Next() {
		var s models.Sponsor
		var role, party, district sql.NullString
		var isPrimary int
		if err := rows.Scan(&s.ID, &s.BillID, &s.Name, &role, &party, &district, &isPrimary); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		s.Role = role.String
		s.Party = party.String
		s.District = district.String
		s.Primary = isPrimary != 0
		sponsors = append(sponsors, s)
	}

	return sponsors, rows.Err()
}

// GetBillRawPayload and UpdateBillRawPayload back the degraded amendment
// path, which embeds amendment entries in the bill's raw capture.
func (c *Client) GetBillRawPayload(ctx context.Context, billID int64) (string, error) {
	var raw sql.NullString
	err := c.db.QueryRowContext(ctx, `SELECT raw_payload FROM bills WHERE id = ?`, billID).Scan(&raw)
	if err != nil {
		return "", fmt.Errorf("failed to get raw payload: %w", err)
	}
	return raw.String, nil
}

func (c *Client) UpdateBillRawPayload(ctx context.Context, billID int64, rawPayload string) error {
	_, err := c.db.ExecContext(ctx, `UPDATE bills SET raw_payload = ? WHERE id = ?`, rawPayload, billID)
	if err != nil {
		return fmt.Errorf("failed to update raw payload: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
