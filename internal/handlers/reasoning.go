package handlers

import (
	"errors"
	"time"

	"flowsync/internal/models"
	"flowsync/internal/services"

	"github.com/gofiber/fiber/v2"
)

// ReasoningHandler handles agent-reasoning submission endpoints
type ReasoningHandler struct {
	linkingService *services.LinkingService
}

// NewReasoningHandler creates a new reasoning handler
func NewReasoningHandler(linkingService *services.LinkingService) *ReasoningHandler {
	return &ReasoningHandler{linkingService: linkingService}
}

// SubmitReasoning attaches reasoning to its push record, or parks it as an
// uncommitted record when no push has arrived yet.
// POST /api/v1/reasoning
func (h *ReasoningHandler) SubmitReasoning(c *fiber.Ctx) error {
	var submission models.ReasoningSubmission
	if err := c.BodyParser(&submission); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	// The agent layer may omit the timestamp; submission time is now.
	if submission.SubmittedAt.IsZero() {
		submission.SubmittedAt = time.Now().UTC()
	}

	result, err := h.linkingService.HandleReasoning(c.Context(), &submission)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Reasoning processing failed: " + err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status": result.Status,
		"record": result.Record,
	})
}
