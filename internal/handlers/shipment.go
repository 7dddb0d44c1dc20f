package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/storefront/internal/services"
)

// ShipmentHandler exposes the admin-triggered shipment assignment. The
// call is synchronous including retry backoff; it never sits on a
// buyer-facing path.
type ShipmentHandler struct {
	shipments *services.ShipmentService
}

// NewShipmentHandler constructs ShipmentHandler.
func NewShipmentHandler(shipments *services.ShipmentService) *ShipmentHandler {
	return &ShipmentHandler{shipments: shipments}
}

// Assign books the carrier shipment for a confirmed order and drives AWB
// assignment, label, pickup and manifest.
func (h *ShipmentHandler) Assign(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	result, err := h.shipments.Assign(c.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return fiber.NewError(fiber.StatusNotFound, "order not found")
		case errors.Is(err, services.ErrOrderNotConfirmed):
			return fiber.NewError(fiber.StatusBadRequest, "order is not confirmed")
		case errors.Is(err, services.ErrManifestFailed):
			// The shipment and label exist; only the batch paperwork
			// failed. Tell the operator exactly that.
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"success": false,
				"error":   "manifest generation failed, shipment and label are in place",
				"data":    result,
			})
		default:
			return err
		}
	}

	return c.JSON(fiber.Map{"success": true, "data": result})
}
