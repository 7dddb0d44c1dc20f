package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/services"
	"github.com/example/storefront/internal/store"
	"github.com/example/storefront/internal/utils"
)

const (
	otpTTL         = 10 * time.Minute
	otpMaxAttempts = 5
	otpLockWindow  = 15 * time.Minute
)

// OrderStore is the slice of the order store the guest surface uses.
type OrderStore interface {
	Create(ctx context.Context, order *models.Order) error
	GetByIDAndEmail(ctx context.Context, id uuid.UUID, email string) (*models.Order, error)
	Transition(ctx context.Context, id uuid.UUID, from store.TransitionFrom, update store.TransitionUpdate) (int64, error)
	IncrementOTPAttempts(ctx context.Context, id uuid.UUID) (int, error)
}

// OrderHandler manages the guest order surface.
type OrderHandler struct {
	orders OrderStore
	mailer services.Mailer
	abuse  *services.AbuseService
	rates  *services.ShiprocketClient

	gatewayKeyID  string
	pickupPincode string
	flatShipping  float64
}

// NewOrderHandler constructs OrderHandler.
func NewOrderHandler(orders OrderStore, mailer services.Mailer, abuse *services.AbuseService, rates *services.ShiprocketClient, gatewayKeyID, pickupPincode string, flatShipping float64) *OrderHandler {
	return &OrderHandler{
		orders:        orders,
		mailer:        mailer,
		abuse:         abuse,
		rates:         rates,
		gatewayKeyID:  gatewayKeyID,
		pickupPincode: pickupPincode,
		flatShipping:  flatShipping,
	}
}

type orderItemRequest struct {
	ProductSKU   string  `json:"product_sku"`
	ProductName  string  `json:"product_name"`
	Quantity     int     `json:"quantity"`
	UnitPrice    float64 `json:"unit_price"`
	UnitWeightKG float64 `json:"unit_weight_kg"`
	LengthCM     float64 `json:"length_cm"`
	WidthCM      float64 `json:"width_cm"`
	HeightCM     float64 `json:"height_cm"`
}

type addressRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Country string `json:"country"`
}

type createOrderRequest struct {
	GuestEmail string             `json:"guest_email"`
	GuestPhone string             `json:"guest_phone"`
	Currency   string             `json:"currency"`
	Shipping   addressRequest     `json:"shipping_address"`
	Billing    *addressRequest    `json:"billing_address"`
	Items      []orderItemRequest `json:"items"`
}

// CreateOrder handles guest checkout: the order starts CHECKED_OUT with
// payment initiated, address snapshots copied in.
func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	var req createOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if req.GuestEmail == "" || len(req.Items) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "guest_email and items are required")
	}

	billing := req.Billing
	if billing == nil {
		billing = &req.Shipping
	}

	order := models.Order{
		OrderNumber:   generateOrderNumber(),
		GuestEmail:    req.GuestEmail,
		GuestPhone:    req.GuestPhone,
		OrderStatus:   models.OrderStatusCheckedOut,
		PaymentStatus: models.PaymentStatusInitiated,
		Currency:      req.Currency,

		ShippingName:    req.Shipping.Name,
		ShippingAddress: req.Shipping.Address,
		ShippingCity:    req.Shipping.City,
		ShippingState:   req.Shipping.State,
		ShippingPincode: req.Shipping.Pincode,
		ShippingCountry: req.Shipping.Country,
		BillingName:     billing.Name,
		BillingAddress:  billing.Address,
		BillingCity:     billing.City,
		BillingState:    billing.State,
		BillingPincode:  billing.Pincode,
		BillingCountry:  billing.Country,
	}
	if order.Currency == "" {
		order.Currency = "INR"
	}

	var subtotal, weight float64
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "item quantity must be positive")
		}
		lineTotal := item.UnitPrice * float64(item.Quantity)
		subtotal += lineTotal
		weight += item.UnitWeightKG * float64(item.Quantity)

		order.Items = append(order.Items, models.OrderItem{
			ProductSKU:   item.ProductSKU,
			ProductName:  item.ProductName,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			LineTotal:    lineTotal,
			UnitWeightKG: item.UnitWeightKG,
			LengthCM:     item.LengthCM,
			WidthCM:      item.WidthCM,
			HeightCM:     item.HeightCM,
		})
	}

	order.Subtotal = subtotal
	order.ShippingFee = h.quoteShipping(c, req.Shipping.Pincode, weight)
	order.TotalAmount = subtotal + order.ShippingFee

	if err := h.orders.Create(c.Context(), &order); err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"id":             order.ID,
			"order_number":   order.OrderNumber,
			"order_status":   order.OrderStatus,
			"payment_status": order.PaymentStatus,
			"shipping_fee":   order.ShippingFee,
			"total":          order.TotalAmount,
			"currency":       order.Currency,
			// The storefront opens the gateway checkout widget with this.
			"gateway_key_id": h.gatewayKeyID,
		},
	})
}

func (h *OrderHandler) quoteShipping(c *fiber.Ctx, deliveryPincode string, weight float64) float64 {
	if h.rates == nil || deliveryPincode == "" {
		return h.flatShipping
	}
	rate, err := h.rates.GetShippingRate(c.Context(), h.pickupPincode, deliveryPincode, weight)
	if err != nil {
		log.Printf("[Order] Rate fetch failed, using flat fee: %v", err)
		return h.flatShipping
	}
	return rate
}

// GetOrder returns a single order when the supplied email matches. A
// wrong email and a nonexistent order produce the same response so the
// endpoint cannot be used to probe which emails exist.
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	email := c.Query("email")
	if email == "" {
		return fiber.NewError(fiber.StatusBadRequest, "email is required")
	}

	order, err := h.orders.GetByIDAndEmail(c.Context(), id, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": order})
}

type otpRequest struct {
	Email string `json:"email"`
}

type otpConfirmRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// RequestCancellation emails a one-time password gating order
// cancellation.
func (h *OrderHandler) RequestCancellation(c *fiber.Ctx) error {
	return h.requestOTP(c, []string{models.OrderStatusConfirmed, models.OrderStatusPickedUp}, "cancellation")
}

// ConfirmCancellation verifies the OTP and moves the order to CANCELLED.
func (h *OrderHandler) ConfirmCancellation(c *fiber.Ctx) error {
	return h.confirmOTP(c, []string{models.OrderStatusConfirmed, models.OrderStatusPickedUp}, models.OrderStatusCancelled)
}

// RequestReturn emails a one-time password gating a return of a delivered
// order.
func (h *OrderHandler) RequestReturn(c *fiber.Ctx) error {
	return h.requestOTP(c, []string{models.OrderStatusDelivered}, "return")
}

// ConfirmReturn verifies the OTP and moves the order to RETURN_REQUESTED.
func (h *OrderHandler) ConfirmReturn(c *fiber.Ctx) error {
	return h.confirmOTP(c, []string{models.OrderStatusDelivered}, models.OrderStatusReturnRequested)
}

func (h *OrderHandler) requestOTP(c *fiber.Ctx, allowedStatuses []string, action string) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var req otpRequest
	if err := c.BodyParser(&req); err != nil || req.Email == "" {
		return fiber.NewError(fiber.StatusBadRequest, "email is required")
	}

	order, err := h.orders.GetByIDAndEmail(c.Context(), id, req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return err
	}

	if !statusIn(order.OrderStatus, allowedStatuses) {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("order does not allow %s", action))
	}

	code, err := utils.GenerateOTP()
	if err != nil {
		return err
	}
	hash, err := utils.HashPassword(code)
	if err != nil {
		return err
	}

	expiry := time.Now().Add(otpTTL)
	attempts := 0
	status := models.CancellationStatusRequested
	if _, err := h.orders.Transition(c.Context(), id,
		store.TransitionFrom{OrderStatuses: allowedStatuses},
		store.TransitionUpdate{
			OTPHash:            &hash,
			OTPExpiresAt:       &expiry,
			OTPAttempts:        &attempts,
			CancellationStatus: &status,
		}); err != nil {
		return err
	}

	subject := fmt.Sprintf("Confirm your %s for order %s", action, order.OrderNumber)
	body := fmt.Sprintf("<p>Your verification code is <b>%s</b>. It expires in 10 minutes.</p>", code)
	if err := h.mailer.Send(c.Context(), order.GuestEmail, subject, body); err != nil {
		log.Printf("[Order] OTP email for order %s failed: %v", id, err)
		return fiber.NewError(fiber.StatusInternalServerError, "could not send verification code")
	}

	return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"otp_sent": true}})
}

func (h *OrderHandler) confirmOTP(c *fiber.Ctx, allowedStatuses []string, targetStatus string) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var req otpConfirmRequest
	if err := c.BodyParser(&req); err != nil || req.Email == "" || req.OTP == "" {
		return fiber.NewError(fiber.StatusBadRequest, "email and otp are required")
	}

	order, err := h.orders.GetByIDAndEmail(c.Context(), id, req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return err
	}

	now := time.Now()
	if order.OTPLockedUntil != nil && order.OTPLockedUntil.After(now) {
		return fiber.NewError(fiber.StatusTooManyRequests, "too many attempts, try again later")
	}
	if order.OTPHash == "" || order.OTPExpiresAt == nil || order.OTPExpiresAt.Before(now) {
		return fiber.NewError(fiber.StatusBadRequest, "verification code expired")
	}

	if !utils.CheckPassword(order.OTPHash, req.OTP) {
		// The counter is incremented in SQL so racing submissions each
		// observe a distinct value and the threshold holds.
		attempts, err := h.orders.IncrementOTPAttempts(c.Context(), id)
		if err != nil {
			return err
		}
		if attempts >= otpMaxAttempts {
			lockedUntil := now.Add(otpLockWindow)
			if _, err := h.orders.Transition(c.Context(), id, store.TransitionFrom{},
				store.TransitionUpdate{OTPLockedUntil: &lockedUntil}); err != nil {
				return err
			}
			if h.abuse != nil {
				if err := h.abuse.RecordOffense(c.Context(), c.IP(), models.IncidentOTPLockout); err != nil {
					log.Printf("[Order] Failed to record OTP lockout offense: %v", err)
				}
			}
		}
		return fiber.NewError(fiber.StatusBadRequest, "invalid verification code")
	}

	status := models.CancellationStatusConfirmed
	rows, err := h.orders.Transition(c.Context(), id,
		store.TransitionFrom{OrderStatuses: allowedStatuses},
		store.TransitionUpdate{
			OrderStatus:        &targetStatus,
			CancellationStatus: &status,
		})
	if err != nil {
		return err
	}
	if rows == 0 {
		return fiber.NewError(fiber.StatusConflict, "order state changed, request a new code")
	}

	return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"order_status": targetStatus}})
}

func statusIn(status string, allowed []string) bool {
	for _, s := range allowed {
		if s == status {
			return true
		}
	}
	return false
}

func generateOrderNumber() string {
	return fmt.Sprintf("#%d", time.Now().UnixNano()%1000000000)
}
