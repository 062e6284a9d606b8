package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/legisync/backend/internal/legis"
	"github.com/legisync/backend/internal/metrics"
	"github.com/legisync/backend/internal/storage/models"
	"github.com/legisync/backend/pkg/logger"
)

// Analyzer produces a structured analysis document for one bill text.
type Analyzer interface {
	Analyze(ctx context.Context, title, billText string) (*Document, error)
}

// Store is the slice of the versioned store the orchestrator needs.
type Store interface {
	GetBill(ctx context.Context, id int64) (*models.Bill, error)
	GetLatestText(ctx context.Context, billID int64) (*models.TextVersion, error)
	AppendAnalysis(ctx context.Context, a *models.Analysis) (*models.Analysis, error)
	ReplaceImpactRatings(ctx context.Context, billID int64, ratings []models.ImpactRating) error
}

// Cache holds analysis documents keyed by the bill's change hash, so an
// unchanged bill re-queued across runs does not hit the model again. A nil
// Cache disables caching.
type Cache interface {
	GetAnalysis(ctx context.Context, changeHash string) (*Document, bool, error)
	SetAnalysis(ctx context.Context, changeHash string, doc *Document) error
}

// Recorder receives per-bill outcomes; the sync run ledger implements it.
type Recorder interface {
	RecordError(ctx context.Context, category models.ErrorCategory, err error)
	AddAnalyzed()
	MarkInterrupted()
}

// Orchestrator drives the external analysis step for each changed bill and
// persists a new analysis version plus derived impact ratings. A failure
// analyzing one bill never aborts the batch.
type Orchestrator struct {
	store    Store
	analyzer Analyzer
	cache    Cache
}

func NewOrchestrator(store Store, analyzer Analyzer, cache Cache) *Orchestrator {
	return &Orchestrator{
		store:    store,
		analyzer: analyzer,
		cache:    cache,
	}
}

// AnalyzeBatch processes the worklist collected during the current run.
func (o *Orchestrator) AnalyzeBatch(ctx context.Context, recorder Recorder, billIDs []int64) {
	logger.Info("Analysis batch starting", zap.Int("bills", len(billIDs)))

	for _, billID := range billIDs {
		select {
		case <-ctx.Done():
			// Stopping mid-batch leaves bills unanalyzed; the run must
			// finalize as partial, not completed.
			logger.Warn("Analysis batch interrupted", zap.Int64("bill_id", billID))
			recorder.MarkInterrupted()
			return
		default:
		}

		if err := o.AnalyzeBill(ctx, billID); err != nil {
			recorder.RecordError(ctx, models.ErrCategoryAnalysis,
				fmt.Errorf("bill %d: %w", billID, err))
			continue
		}
		recorder.AddAnalyzed()
	}
}

// AnalyzeBill runs the full analyze-append-derive cycle for one bill. It
// is also the on-demand re-analysis entry point, which bypasses change
// detection entirely.
func (o *Orchestrator) AnalyzeBill(ctx context.Context, billID int64) error {
	bill, err := o.store.GetBill(ctx, billID)
	if err != nil {
		return fmt.Errorf("failed to load bill: %w", err)
	}

	input := bill.Description
	latest, err := o.store.GetLatestText(ctx, billID)
	if err != nil {
		return fmt.Errorf("failed to load latest text: %w", err)
	}
	if latest != nil && !latest.IsBinary && len(latest.Content) > 0 {
		// HTML documents are normalized to plain text before prompting;
		// the stored version keeps the raw bytes.
		if text := legis.PlainText(latest.Content, latest.ContentType); text != "" {
			input = text
		}
	}
	if input == "" {
		return fmt.Errorf("bill has no analyzable text")
	}

	doc, err := o.analyzedDocument(ctx, bill, input)
	if err != nil {
		return err
	}

	stored, err := o.appendAnalysis(ctx, billID, doc)
	if err != nil {
		return fmt.Errorf("failed to append analysis: %w", err)
	}

	ratings := o.deriveRatings(billID, stored.ID, doc)
	if err := o.store.ReplaceImpactRatings(ctx, billID, ratings); err != nil {
		return fmt.Errorf("failed to replace impact ratings: %w", err)
	}

	logger.Info("Bill analyzed",
		zap.Int64("bill_id", billID),
		zap.Int("analysis_version", stored.AnalysisVersion),
		zap.Int("ratings", len(ratings)),
	)

	return nil
}

// analyzedDocument serves from the change-hash cache when possible. A
// cache hit still produces a new analysis version; only the external call
// is skipped.
func (o *Orchestrator) analyzedDocument(ctx context.Context, bill *models.Bill, input string) (*Document, error) {
	if o.cache != nil && bill.ChangeHash != "" {
		doc, found, err := o.cache.GetAnalysis(ctx, bill.ChangeHash)
		if err != nil {
			logger.Warn("Analysis cache lookup failed", zap.Error(err))
		} else if found {
			metrics.AnalysisCacheHits.Inc()
			return doc, nil
		}
		metrics.AnalysisCacheMisses.Inc()
	}

	doc, err := o.analyzer.Analyze(ctx, bill.Title, input)
	if err != nil {
		return nil, err
	}

	if o.cache != nil && bill.ChangeHash != "" {
		if err := o.cache.SetAnalysis(ctx, bill.ChangeHash, doc); err != nil {
			logger.Warn("Analysis cache store failed", zap.Error(err))
		}
	}

	return doc, nil
}

func (o *Orchestrator) appendAnalysis(ctx context.Context, billID int64, doc *Document) (*models.Analysis, error) {
	category, _ := models.ParseImpactCategory(doc.ImpactCategory)
	level, _ := models.ParseImpactLevel(doc.ImpactLevel)

	a := &models.Analysis{
		BillID:            billID,
		Summary:           doc.Summary,
		KeyPoints:         marshalJSON(doc.KeyPoints),
		Impacts:           marshalJSON(doc.Impacts),
		RecommendedAction: marshalJSON(doc.RecommendedActions),
		ImmediateActions:  marshalJSON(doc.ImmediateActions),
		ResourceNeeds:     marshalJSON(doc.ResourceNeeds),
		ImpactCategory:    category,
		ImpactLevel:       level,
		Model:             doc.Model,
		Confidence:        doc.Confidence,
	}

	return o.store.AppendAnalysis(ctx, a)
}

// deriveRatings builds the impact-rating snapshot from the structured
// payload: one rating per mappable category with data, plus a primary
// rating from the overall impact summary when present. Unmappable
// category or level strings skip that single rating with a warning.
func (o *Orchestrator) deriveRatings(billID, analysisID int64, doc *Document) []models.ImpactRating {
	var ratings []models.ImpactRating

	for rawCategory, detail := range doc.Impacts {
		if detail.Description == "" && detail.Level == "" {
			continue
		}

		category, ok := models.ParseImpactCategory(rawCategory)
		if !ok {
			logger.Warn("Skipping rating with unmappable impact category",
				zap.Int64("bill_id", billID),
				zap.String("category", rawCategory),
			)
			continue
		}

		level, ok := models.ParseImpactLevel(detail.Level)
		if !ok {
			logger.Warn("Skipping rating with unmappable impact level",
				zap.Int64("bill_id", billID),
				zap.String("category", rawCategory),
				zap.String("level", detail.Level),
			)
			continue
		}

		ratings = append(ratings, models.ImpactRating{
			BillID:           billID,
			AnalysisID:       analysisID,
			Category:         category,
			Level:            level,
			Description:      detail.Description,
			AffectedEntities: marshalJSON(detail.AffectedEntities),
			Confidence:       detail.Confidence,
			AIGenerated:      true,
		})
	}

	if doc.OverallImpact != nil {
		category, catOK := models.ParseImpactCategory(doc.OverallImpact.Category)
		level, lvlOK := models.ParseImpactLevel(doc.OverallImpact.Level)
		if catOK && lvlOK {
			ratings = append(ratings, models.ImpactRating{
				BillID:      billID,
				AnalysisID:  analysisID,
				Category:    category,
				Level:       level,
				Description: doc.OverallImpact.Description,
				AIGenerated: true,
				IsPrimary:   true,
			})
		} else {
			logger.Warn("Skipping primary rating with unmappable overall impact",
				zap.Int64("bill_id", billID),
				zap.String("category", doc.OverallImpact.Category),
				zap.String("level", doc.OverallImpact.Level),
			)
		}
	}

	return ratings
}

func marshalJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}
