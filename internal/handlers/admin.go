package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/storefront/internal/config"
	"github.com/example/storefront/internal/middleware"
	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/services"
	"github.com/example/storefront/internal/store"
	"github.com/example/storefront/internal/utils"
)

// Forward-only admin transitions along the commerce lifecycle.
var statusAdvances = map[string][]string{
	models.OrderStatusPickedUp:  {models.OrderStatusConfirmed},
	models.OrderStatusDelivered: {models.OrderStatusPickedUp},
}

// AdminHandler serves the operator surface.
type AdminHandler struct {
	cfg    *config.Config
	orders *store.OrderStore
	blocks *store.BlockStore
	abuse  *services.AbuseService
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(cfg *config.Config, orders *store.OrderStore, blocks *store.BlockStore, abuse *services.AbuseService) *AdminHandler {
	return &AdminHandler{cfg: cfg, orders: orders, blocks: blocks, abuse: abuse}
}

type adminLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login issues an admin JWT against the configured credential.
func (h *AdminHandler) Login(c *fiber.Ctx) error {
	var req adminLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if h.cfg.AdminEmail == "" || req.Email != h.cfg.AdminEmail ||
		!utils.CheckPassword(h.cfg.AdminPasswordHash, req.Password) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}

	token, err := utils.GenerateToken(h.cfg.JWTSecret, req.Email, "admin", h.cfg.TokenExpires)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"token": token}})
}

// ListOrders returns orders for the operator, filterable by status.
func (h *AdminHandler) ListOrders(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)

	orders, total, err := h.orders.List(c.Context(), c.Query("status"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    orders,
		"pagination": fiber.Map{
			"current_page":   pg.Page,
			"items_per_page": pg.Limit,
			"total_items":    total,
		},
	})
}

type advanceStatusRequest struct {
	Status string `json:"status"`
}

// AdvanceStatus moves an order one step forward along the lifecycle. The
// conditional transition rejects anything but the allowed prior state, so
// stale or repeated calls cannot move an order backwards.
func (h *AdminHandler) AdvanceStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var req advanceStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	from, ok := statusAdvances[req.Status]
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, "unsupported target status")
	}

	rows, err := h.orders.Transition(c.Context(), id,
		store.TransitionFrom{OrderStatuses: from},
		store.TransitionUpdate{OrderStatus: &req.Status})
	if err != nil {
		return err
	}
	if rows == 0 {
		return fiber.NewError(fiber.StatusConflict, "order is not in a state that allows this change")
	}

	return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"order_status": req.Status}})
}

// ListBlocks returns the abuse block records.
func (h *AdminHandler) ListBlocks(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)

	records, total, err := h.blocks.List(c.Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    records,
		"pagination": fiber.Map{
			"current_page":   pg.Page,
			"items_per_page": pg.Limit,
			"total_items":    total,
		},
	})
}

type unblockRequest struct {
	IP   string `json:"ip"`
	Note string `json:"note"`
}

// Unblock lifts a block by admin override.
func (h *AdminHandler) Unblock(c *fiber.Ctx) error {
	var req unblockRequest
	if err := c.BodyParser(&req); err != nil || req.IP == "" {
		return fiber.NewError(fiber.StatusBadRequest, "ip is required")
	}

	admin, _ := middleware.GetCurrentAdmin(c)
	if err := h.abuse.Unblock(c.Context(), req.IP, admin, req.Note); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true})
}
