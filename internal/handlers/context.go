package handlers

import (
	"errors"
	"time"

	"flowsync/internal/services"
	"flowsync/internal/store"

	"github.com/gofiber/fiber/v2"
)

// ContextHandler handles branch-context resolution and traceability endpoints
type ContextHandler struct {
	resolver     *services.BranchResolverService
	contextStore store.ContextStore
}

// NewContextHandler creates a new context handler
func NewContextHandler(resolver *services.BranchResolverService, contextStore store.ContextStore) *ContextHandler {
	return &ContextHandler{
		resolver:     resolver,
		contextStore: contextStore,
	}
}

// Resolve returns the effective context set for a branch.
// GET /api/v1/context?projectId=...&branch=...&limit=10&includeStale=false
func (h *ContextHandler) Resolve(c *fiber.Ctx) error {
	projectID := c.Query("projectId")
	branch := c.Query("branch")
	if projectID == "" || branch == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "projectId and branch query parameters are required",
		})
	}

	limit := parseLimit(c, services.DefaultResolveLimit)
	includeStale := c.Query("includeStale", "false") == "true"

	result, err := h.resolver.Resolve(c.Context(), projectID, branch, int64(limit), includeStale)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to resolve branch context",
		})
	}

	return c.JSON(result)
}

// FeatureState returns the combined current-feature-state view for a branch.
// GET /api/v1/context/feature-state?projectId=...&branch=...
func (h *ContextHandler) FeatureState(c *fiber.Ctx) error {
	projectID := c.Query("projectId")
	branch := c.Query("branch")
	if projectID == "" || branch == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "projectId and branch query parameters are required",
		})
	}

	resolved, err := h.resolver.Resolve(c.Context(), projectID, branch, 0, false)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to resolve branch context",
		})
	}

	return c.JSON(fiber.Map{
		"branch":   branch,
		"features": h.resolver.FeatureState(resolved),
	})
}

// GetRecord returns one context record by id for traceability drill-down.
// GET /api/v1/context/records/:contextId?projectId=...
func (h *ContextHandler) GetRecord(c *fiber.Ctx) error {
	projectID := c.Query("projectId")
	contextID := c.Params("contextId")
	if projectID == "" || contextID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "projectId and contextId are required",
		})
	}

	record, err := h.contextStore.FindByContextID(c.Context(), projectID, contextID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Context record not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load context record",
		})
	}

	return c.JSON(record)
}

// mergeRequest is the body of a branch-merge notification.
type mergeRequest struct {
	ProjectID    string    `json:"project_id"`
	SourceBranch string    `json:"source_branch"`
	TargetBranch string    `json:"target_branch"`
	MergedAt     time.Time `json:"merged_at"`
}

// BranchMerged tags a source branch's records as merged into the target.
// POST /api/v1/branches/merge
func (h *ContextHandler) BranchMerged(c *fiber.Ctx) error {
	var req mergeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.ProjectID == "" || req.SourceBranch == "" || req.TargetBranch == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "project_id, source_branch and target_branch are required",
		})
	}
	if req.MergedAt.IsZero() {
		req.MergedAt = time.Now().UTC()
	}

	tagged, err := h.resolver.OnBranchMerged(c.Context(), req.ProjectID, req.SourceBranch, req.TargetBranch, req.MergedAt)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process branch merge",
		})
	}

	return c.JSON(fiber.Map{
		"tagged_records": tagged,
	})
}

// Stats returns record counts by lifecycle status for a project.
// GET /api/v1/context/stats?projectId=...
func (h *ContextHandler) Stats(c *fiber.Ctx) error {
	projectID := c.Query("projectId")
	if projectID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "projectId query parameter is required",
		})
	}

	counts, err := h.contextStore.CountByStatus(c.Context(), projectID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute stats",
		})
	}

	var total int64
	for _, n := range counts {
		total += n
	}

	return c.JSON(fiber.Map{
		"project_id": projectID,
		"by_status":  counts,
		"total":      total,
	})
}
