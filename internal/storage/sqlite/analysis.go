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

// AppendAnalysis inserts a new analysis row for the bill. The version is
// one greater than the current maximum (1 when none exist) and
// previous_version_id links back to the prior head. Existing rows are
// never updated; history is append-only.
func (c *Client) AppendAnalysis(ctx context.Context, a *models.Analysis) (*models.Analysis, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var prevID int64
	var prevVersion int
	err = tx.QueryRowContext(ctx,
		`SELECT id, analysis_version FROM analyses WHERE bill_id = ? ORDER BY analysis_version DESC LIMIT 1`,
		a.BillID,
	).Scan(&prevID, &prevVersion)

	switch {
	case err == sql.ErrNoRows:
		a.AnalysisVersion = 1
		a.PreviousVersionID = nil
	case err != nil:
		return nil, fmt.Errorf("failed to query analysis head: %w", err)
	default:
		a.AnalysisVersion = prevVersion + 1
		a.PreviousVersionID = &prevID
	}

	a.CreatedAt = time.Now()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO analyses (bill_id, analysis_version, previous_version_id, summary, key_points, impacts,
			recommended_actions, immediate_actions, resource_needs, impact_category, impact_level, model, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.BillID,
		a.AnalysisVersion,
		a.PreviousVersionID,
		a.Summary,
		a.KeyPoints,
		a.Impacts,
		a.RecommendedAction,
		a.ImmediateActions,
		a.ResourceNeeds,
		string(a.ImpactCategory),
		string(a.ImpactLevel),
		a.Model,
		a.Confidence,
		a.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert analysis: %w", err)
	}

	a.ID, _ = res.LastInsertId()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit analysis: %w", err)
	}

	logger.Info("Analysis appended",
		zap.Int64("bill_id", a.BillID),
		zap.Int("version", a.AnalysisVersion),
		zap.String("model", a.Model),
	)

	return a, nil
}

// BillsNeedingAnalysis returns the ids of bills whose latest analysis is
// missing or predates the bill's last sync. A bill whose analysis failed
// in an earlier run stays eligible here even though its change hash no
// longer differs from the manifest.
func (c *Client) BillsNeedingAnalysis(ctx context.Context) ([]int64, error) {
	query := `
		SELECT b.id
		FROM bills b
		LEFT JOIN (
			SELECT bill_id, MAX(created_at) AS analyzed_at FROM analyses GROUP BY bill_id
		) a ON a.bill_id = b.id
		WHERE a.bill_id IS NULL OR a.analyzed_at < b.updated_at
		ORDER BY b.id ASC
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills needing analysis: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (c *Client) GetLatestAnalysis(ctx context.Context, billID int64) (*models.Analysis, error) {
	query := `
		SELECT id, bill_id, analysis_version, previous_version_id, summary, key_points, impacts,
			recommended_actions, immediate_actions, resource_needs, impact_category, impact_level, model, confidence, created_at
		FROM analyses WHERE bill_id = ? ORDER BY analysis_version DESC LIMIT 1
	`

	a, err := c.scanAnalysis(c.db.QueryRowContext(ctx, query, billID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (c *Client) ListAnalyses(ctx context.Context, billID int64) ([]models.Analysis, error) {
	query := `
		SELECT id, bill_id, analysis_version, previous_version_id, summary, key_points, impacts,
			recommended_actions, immediate_actions, resource_needs, impact_category, impact_level, model, confidence, created_at
		FROM analyses WHERE bill_id = ? ORDER BY analysis_version ASC
	`

	rows, err := c.db.QueryContext(ctx, query, billID)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	var analyses []models.Analysis
	for rows.Next() {
		a, err := c.scanAnalysisRows(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, *a)
	}

	return analyses, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (c *Client) scanAnalysis(row *sql.Row) (*models.Analysis, error) {
	a, err := scanAnalysisFrom(row)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	return a, nil
}

func (c *Client) scanAnalysisRows(rows *sql.Rows) (*models.Analysis, error) {
	a, err := scanAnalysisFrom(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan analysis row: %w", err)
	}
	return a, nil
}

func scanAnalysisFrom(row rowScanner) (*models.Analysis, error) {
	var a models.Analysis
	var prevID sql.NullInt64
	var summary, keyPoints, impacts, recommended, immediate, resources sql.NullString
	var category, level, model sql.NullString
	var confidence sql.NullFloat64
	var createdAt int64

	err := row.Scan(
		&a.ID, &a.BillID, &a.AnalysisVersion, &prevID, &summary, &keyPoints, &impacts,
		&recommended, &immediate, &resources, &category, &level, &model, &confidence, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if prevID.Valid {
		a.PreviousVersionID = &prevID.Int64
	}
	a.Summary = summary.String
	a.KeyPoints = keyPoints.String
	a.Impacts = impacts.String
	a.RecommendedAction = recommended.String
	a.ImmediateActions = immediate.String
	a.ResourceNeeds = resources.String
	a.ImpactCategory = models.ImpactCategory(category.String)
	a.ImpactLevel = models.ImpactLevel(level.String)
	a.Model = model.String
	if confidence.Valid {
		a.Confidence = &confidence.Float64
	}
	a.CreatedAt = time.Unix(createdAt, 0)

	return &a, nil
}

// ReplaceImpactRatings deletes every existing rating for the bill and
// inserts the new set in one transaction. Ratings are a snapshot of the
// latest analysis, not history.
func (c *Client) ReplaceImpactRatings(ctx context.Context, billID int64, ratings []models.ImpactRating) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `DELETE FROM impact_ratings WHERE bill_id = ?`, billID)
	if err != nil {
		return fmt.Errorf("failed to delete impact ratings: %w", err)
	}

	now := time.Now().Unix()
	for _, r := range ratings {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO impact_ratings (bill_id, analysis_id, category, level, description, affected_entities,
				confidence, ai_generated, reviewed_by, is_primary, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			billID, r.AnalysisID, string(r.Category), string(r.Level), r.Description, r.AffectedEntities,
			r.Confidence, boolToInt(r.AIGenerated), r.ReviewedBy, boolToInt(r.IsPrimary), now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert impact rating: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit impact ratings: %w", err)
	}

	logger.Debug("Impact ratings replaced",
		zap.Int64("bill_id", billID),
		zap.Int("count", len(ratings)),
	)

	return nil
}

func (c *Client) GetImpactRatings(ctx context.Context, billID int64) ([]models.ImpactRating, error) {
	query := `
		SELECT id, bill_id, analysis_id, category, level, description, affected_entities,
			confidence, ai_generated, reviewed_by, is_primary, created_at
		FROM impact_ratings WHERE bill_id = ?
	`

	rows, err := c.db.QueryContext(ctx, query, billID)
	if err != nil {
		return nil, fmt.Errorf("failed to get impact ratings: %w", err)
	}
	defer rows.Close()

	var ratings []models.ImpactRating
	for rows.Next() {
		var r models.ImpactRating
		var description, entities, reviewedBy sql.NullString
		var confidence sql.NullFloat64
		var aiGenerated, isPrimary int
		var createdAt int64

		err := rows.Scan(&r.ID, &r.BillID, &r.AnalysisID, &r.Category, &r.Level, &description,
			&entities, &confidence, &aiGenerated, &reviewedBy, &isPrimary, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Description = description.String
		r.AffectedEntities = entities.String
		r.Confidence = confidence.Float64
		r.AIGenerated = aiGenerated != 0
		r.ReviewedBy = reviewedBy.String
		r.IsPrimary = isPrimary != 0
		r.CreatedAt = time.Unix(createdAt, 0)
		ratings = append(ratings, r)
	}

	return ratings, rows.Err()
}
