package handlers

import (
	"flowsync/internal/services"

	"github.com/gofiber/fiber/v2"
)

// SearchHandler handles semantic search endpoints
type SearchHandler struct {
	searchService *services.SearchService
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(searchService *services.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

type searchRequest struct {
	ProjectID string `json:"project_id"`
	Branch    string `json:"branch"`
	Query     string `json:"query"`
	Limit     int    `json:"limit"`
}

// Search ranks a branch's context against a natural-language query and
// returns a grounded answer.
// POST /api/v1/search
func (h *SearchHandler) Search(c *fiber.Ctx) error {
	var req searchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.ProjectID == "" || req.Branch == "" || req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "project_id, branch and query are required",
		})
	}

	result, err := h.searchService.Search(c.Context(), req.ProjectID, req.Branch, req.Query, req.Limit)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Search failed: " + err.Error(),
		})
	}

	if result.InsufficientInfo {
		return c.JSON(fiber.Map{
			"query":             result.Query,
			"insufficient_info": true,
			"message":           "No grounded answer available for this branch yet. Link some pushes first, or broaden the branch.",
		})
	}

	return c.JSON(result)
}
