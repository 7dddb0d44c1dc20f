package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/services"
)

// PrivacyHandler serves right-to-erasure requests.
type PrivacyHandler struct {
	erasure *services.ErasureService
}

// NewPrivacyHandler constructs PrivacyHandler.
func NewPrivacyHandler(erasure *services.ErasureService) *PrivacyHandler {
	return &PrivacyHandler{erasure: erasure}
}

type erasureRequest struct {
	Email string `json:"email"`
}

// RequestErasure anonymizes a guest's data immediately, or defers behind
// statutory tax retention when paid orders are still inside the window.
func (h *PrivacyHandler) RequestErasure(c *fiber.Ctx) error {
	var req erasureRequest
	if err := c.BodyParser(&req); err != nil || req.Email == "" {
		return fiber.NewError(fiber.StatusBadRequest, "email is required")
	}

	outcome, err := h.erasure.RequestErasure(c.Context(), req.Email)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": outcome})
}
