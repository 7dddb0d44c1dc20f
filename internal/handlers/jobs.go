package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/services"
)

// JobsHandler exposes the retention automaton to an external scheduler.
// Each trigger is re-entrant safe and independent of the others.
type JobsHandler struct {
	retention *services.RetentionService
}

// NewJobsHandler constructs JobsHandler.
func NewJobsHandler(retention *services.RetentionService) *JobsHandler {
	return &JobsHandler{retention: retention}
}

// AbandonedCleanup runs the abandoned-checkout notify/delete pass.
func (h *JobsHandler) AbandonedCleanup(c *fiber.Ctx) error {
	summary := h.retention.RunAbandonedCleanup(c.Context())
	return c.JSON(fiber.Map{"success": true, "data": summary})
}

// DeferredErasure runs the deferred legal-retention notify/delete pass.
func (h *JobsHandler) DeferredErasure(c *fiber.Ctx) error {
	summary := h.retention.RunDeferredErasure(c.Context())
	return c.JSON(fiber.Map{"success": true, "data": summary})
}
