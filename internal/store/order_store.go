package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/storefront/internal/models"
)

var (
	// ErrEmptyUpdate is returned when a transition carries no columns.
	ErrEmptyUpdate = errors.New("transition update has no columns")
)

// OrderStore persists the order aggregate. All concurrent mutation is
// funneled through Transition: a single conditional UPDATE whose WHERE
// clause encodes the allowed prior states. No in-process locking exists;
// multiple server instances race safely at the database.
type OrderStore struct {
	db *gorm.DB
}

func NewOrderStore(db *gorm.DB) *OrderStore {
	return &OrderStore{db: db}
}

// TransitionFrom is the set of prior states a transition may fire from.
// Empty slices leave that column unconstrained.
type TransitionFrom struct {
	PaymentStatuses []string
	OrderStatuses   []string
}

// TransitionUpdate is the explicit allow-list of columns a transition may
// mutate. Nil fields are left untouched.
type TransitionUpdate struct {
	OrderStatus      *string
	PaymentStatus    *string
	ShiprocketStatus *string

	GatewayOrderID *string
	PaymentID      *string
	PaidAt         *time.Time
	TaxableAmount  *float64
	TaxAmount      *float64

	ShipmentID        *string
	CarrierOrderID    *string
	AWBCode           *string
	LabelURL          *string
	ManifestURL       *string
	PickupScheduledAt *time.Time

	OTPHash            *string
	OTPExpiresAt       *time.Time
	OTPAttempts        *int
	OTPLockedUntil     *time.Time
	CancellationStatus *string
}

func (u TransitionUpdate) columns() map[string]any {
	cols := map[string]any{}
	set := func(name string, v any, ok bool) {
		if ok {
			cols[name] = v
		}
	}
	set("order_status", deref(u.OrderStatus), u.OrderStatus != nil)
	set("payment_status", deref(u.PaymentStatus), u.PaymentStatus != nil)
	set("shiprocket_status", deref(u.ShiprocketStatus), u.ShiprocketStatus != nil)
	set("gateway_order_id", deref(u.GatewayOrderID), u.GatewayOrderID != nil)
	set("payment_id", deref(u.PaymentID), u.PaymentID != nil)
	set("paid_at", u.PaidAt, u.PaidAt != nil)
	set("taxable_amount", derefF(u.TaxableAmount), u.TaxableAmount != nil)
	set("tax_amount", derefF(u.TaxAmount), u.TaxAmount != nil)
	set("shipment_id", deref(u.ShipmentID), u.ShipmentID != nil)
	set("carrier_order_id", deref(u.CarrierOrderID), u.CarrierOrderID != nil)
	set("awb_code", deref(u.AWBCode), u.AWBCode != nil)
	set("label_url", deref(u.LabelURL), u.LabelURL != nil)
	set("manifest_url", deref(u.ManifestURL), u.ManifestURL != nil)
	set("pickup_scheduled_at", u.PickupScheduledAt, u.PickupScheduledAt != nil)
	set("otp_hash", deref(u.OTPHash), u.OTPHash != nil)
	set("otp_expires_at", u.OTPExpiresAt, u.OTPExpiresAt != nil)
	set("otp_attempts", derefI(u.OTPAttempts), u.OTPAttempts != nil)
	set("otp_locked_until", u.OTPLockedUntil, u.OTPLockedUntil != nil)
	set("cancellation_status", deref(u.CancellationStatus), u.CancellationStatus != nil)
	return cols
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefF(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func derefI(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}

// Create persists a new order with its line items.
func (s *OrderStore) Create(ctx context.Context, order *models.Order) error {
	return s.db.WithContext(ctx).Create(order).Error
}

// GetByID loads an order with its items.
func (s *OrderStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).Preload("Items").
		First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// GetByIDAndEmail loads an order only when the guest email matches. A
// mismatch surfaces the same not-found error as a missing order.
func (s *OrderStore) GetByIDAndEmail(ctx context.Context, id uuid.UUID, email string) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).Preload("Items").
		First(&order, "id = ? AND guest_email = ?", id, email).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// Transition performs the conditional state update. Zero rows affected is
// not an error: callers must interpret it against a fresh read.
func (s *OrderStore) Transition(ctx context.Context, id uuid.UUID, from TransitionFrom, update TransitionUpdate) (int64, error) {
	cols := update.columns()
	if len(cols) == 0 {
		return 0, ErrEmptyUpdate
	}

	query := s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id)
	if len(from.PaymentStatuses) > 0 {
		query = query.Where("payment_status IN ?", from.PaymentStatuses)
	}
	if len(from.OrderStatuses) > 0 {
		query = query.Where("order_status IN ?", from.OrderStatuses)
	}

	res := query.Updates(cols)
	return res.RowsAffected, res.Error
}

// IncrementOTPAttempts bumps the attempt counter atomically in SQL and
// returns the new value. Concurrent wrong-code submissions each observe
// a distinct count, so the lockout threshold cannot be dodged by racing.
func (s *OrderStore) IncrementOTPAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var order models.Order
	res := s.db.WithContext(ctx).Model(&order).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "otp_attempts"}}}).
		Where("id = ?", id).
		Update("otp_attempts", gorm.Expr("otp_attempts + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	return order.OTPAttempts, nil
}

// List returns orders for the admin surface, newest first.
func (s *OrderStore) List(ctx context.Context, status string, limit, offset int) ([]models.Order, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Order{})
	if status != "" {
		query = query.Where("order_status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []models.Order
	if err := query.Preload("Items").
		Order("created_at desc").
		Limit(limit).Offset(offset).
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}
