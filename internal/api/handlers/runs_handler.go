package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/legisync/backend/internal/storage/sqlite"
	"github.com/legisync/backend/pkg/logger"
)

type RunsHandler struct {
	store *sqlite.Client
}

func NewRunsHandler(store *sqlite.Client) *RunsHandler {
	return &RunsHandler{store: store}
}

func (h *RunsHandler) ListRuns(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	runs, err := h.store.ListSyncRuns(c.Context(), limit)
	if err != nil {
		logger.Error("Failed to list sync runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list runs",
		})
	}

	return c.JSON(fiber.Map{
		"runs": runs,
	})
}

func (h *RunsHandler) GetRun(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Run id is required",
		})
	}

	run, err := h.store.GetSyncRun(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Run not found",
		})
	}

	syncErrors, err := h.store.GetSyncErrors(c.Context(), id)
	if err != nil {
		logger.Error("Failed to get sync errors", zap.String("run_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load run errors",
		})
	}

	return c.JSON(fiber.Map{
		"run":    run,
		"errors": syncErrors,
	})
}
