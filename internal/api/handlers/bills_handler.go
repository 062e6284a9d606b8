package handlers

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/legisync/backend/internal/storage/sqlite"
	"github.com/legisync/backend/internal/sync"
	"github.com/legisync/backend/pkg/logger"
)

type BillsHandler struct {
	store        *sqlite.Client
	orchestrator *sync.Orchestrator
}

func NewBillsHandler(store *sqlite.Client, orchestrator *sync.Orchestrator) *BillsHandler {
	return &BillsHandler{
		store:        store,
		orchestrator: orchestrator,
	}
}

func (h *BillsHandler) GetBill(c *fiber.Ctx) error {
	billID, err := parseBillID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid bill id",
		})
	}

	bill, err := h.store.GetBill(c.Context(), billID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Bill not found",
		})
	}

	sponsors, err := h.store.GetSponsors(c.Context(), billID)
	if err != nil {
		logger.Error("Failed to get sponsors", zap.Int64("bill_id", billID), zap.Error(err))
	}

	versions, err := h.store.ListTextVersions(c.Context(), billID)
	if err != nil {
		logger.Error("Failed to list text versions", zap.Int64("bill_id", billID), zap.Error(err))
	}

	return c.JSON(fiber.Map{
		"bill":          bill,
		"sponsors":      sponsors,
		"text_versions": versions,
	})
}

func (h *BillsHandler) GetAnalysis(c *fiber.Ctx) error {
	billID, err := parseBillID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid bill id",
		})
	}

	analysis, err := h.store.GetLatestAnalysis(c.Context(), billID)
	if err != nil {
		logger.Error("Failed to get analysis", zap.Int64("bill_id", billID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load analysis",
		})
	}
	if analysis == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No analysis for this bill",
		})
	}

	ratings, err := h.store.GetImpactRatings(c.Context(), billID)
	if err != nil {
		logger.Error("Failed to get impact ratings", zap.Int64("bill_id", billID), zap.Error(err))
	}

	return c.JSON(fiber.Map{
		"analysis":       analysis,
		"impact_ratings": ratings,
	})
}

// Reanalyze triggers on-demand re-analysis for one bill, bypassing change
// detection. The work runs in the background; the handler returns 202.
func (h *BillsHandler) Reanalyze(c *fiber.Ctx) error {
	billID, err := parseBillID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid bill id",
		})
	}

	if _, err := h.store.GetBill(c.Context(), billID); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Bill not found",
		})
	}

	go func() {
		if err := h.orchestrator.ReanalyzeBill(context.Background(), billID); err != nil {
			logger.Error("On-demand re-analysis failed", zap.Int64("bill_id", billID), zap.Error(err))
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":  "accepted",
		"bill_id": billID,
	})
}

func parseBillID(c *fiber.Ctx) (int64, error) {
	return strconv.ParseInt(c.Params("id"), 10, 64)
}
