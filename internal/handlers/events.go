package handlers

import (
	"errors"
	"strconv"

	"flowsync/internal/models"
	"flowsync/internal/services"
	"flowsync/internal/store"

	"github.com/gofiber/fiber/v2"
)

// EventHandler handles push-event ingestion and inspection endpoints
type EventHandler struct {
	linkingService *services.LinkingService
	contextStore   store.ContextStore
}

// NewEventHandler creates a new event handler
func NewEventHandler(linkingService *services.LinkingService, contextStore store.ContextStore) *EventHandler {
	return &EventHandler{
		linkingService: linkingService,
		contextStore:   contextStore,
	}
}

// HandlePush ingests one push event and links it into a context record.
// POST /api/v1/events/push
func (h *EventHandler) HandlePush(c *fiber.Ctx) error {
	var event models.PushEvent
	if err := c.BodyParser(&event); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	result, err := h.linkingService.HandlePush(c.Context(), &event)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Push processing failed: " + err.Error(),
		})
	}

	status := fiber.StatusCreated
	if result.Outcome == services.PushOutcomeDuplicate {
		status = fiber.StatusOK
	}

	return c.Status(status).JSON(fiber.Map{
		"outcome": result.Outcome,
		"record":  result.Record,
	})
}

// ListFailedEvents returns pushes whose extraction output was rejected.
// GET /api/v1/events/failed?projectId=...&limit=20
func (h *EventHandler) ListFailedEvents(c *fiber.Ctx) error {
	projectID := c.Query("projectId")
	if projectID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "projectId query parameter is required",
		})
	}

	limit := parseLimit(c, 20)
	events, err := h.contextStore.ListFailedEvents(c.Context(), projectID, int64(limit))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list failed events",
		})
	}

	return c.JSON(fiber.Map{
		"failed_events": events,
		"count":         len(events),
	})
}

func parseLimit(c *fiber.Ctx, fallback int) int {
	limit, err := strconv.Atoi(c.Query("limit", ""))
	if err != nil || limit < 1 {
		return fallback
	}
	if limit > 100 {
		return 100
	}
	return limit
}
