package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/storefront/internal/services"
)

// PaymentHandler exposes the two payment-confirmation triggers: the
// buyer's browser callback and the gateway webhook.
type PaymentHandler struct {
	razorpay *services.RazorpayService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(razorpay *services.RazorpayService) *PaymentHandler {
	return &PaymentHandler{razorpay: razorpay}
}

type confirmPaymentRequest struct {
	OrderID           string `json:"order_id"`
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

// Confirm handles the synchronous client callback after checkout.
func (h *PaymentHandler) Confirm(c *fiber.Ctx) error {
	var req confirmPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid order_id")
	}

	result, err := h.razorpay.ConfirmPayment(c.Context(), orderID, services.PaymentProof{
		GatewayOrderID: req.RazorpayOrderID,
		PaymentID:      req.RazorpayPaymentID,
		Signature:      req.RazorpaySignature,
	}, c.IP())
	if err != nil {
		if errors.Is(err, services.ErrInvalidSignature) {
			return fiber.NewError(fiber.StatusBadRequest, "signature verification failed")
		}
		if errors.Is(err, services.ErrOrderNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"order_id": result.OrderID,
			"status":   result.Status,
		},
	})
}

// Webhook handles the asynchronous gateway push. The signature is
// verified against the raw body bytes; parsing happens only afterwards.
// Internal processing errors still return 200 so the gateway does not
// retry-storm us — only a bad signature gets a 400.
func (h *PaymentHandler) Webhook(c *fiber.Ctx) error {
	body := c.Body()
	signature := c.Get("X-Razorpay-Signature")

	result, err := h.razorpay.ProcessWebhook(c.Context(), body, signature, c.IP())
	if err != nil {
		if errors.Is(err, services.ErrInvalidSignature) {
			return fiber.NewError(fiber.StatusBadRequest, "signature verification failed")
		}
		log.Printf("[Payment] Webhook processing failed: %v", err)
		return c.JSON(fiber.Map{"success": true})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"status": result.Status},
	})
}
