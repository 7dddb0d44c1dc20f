package models

import (
	"time"

	"github.com/google/uuid"
)

// Order lifecycle statuses.
const (
	OrderStatusCheckedOut      = "CHECKED_OUT"
	OrderStatusConfirmed       = "CONFIRMED"
	OrderStatusPickedUp        = "PICKED_UP"
	OrderStatusDelivered       = "DELIVERED"
	OrderStatusCancelled       = "CANCELLED"
	OrderStatusReturnRequested = "RETURN_REQUESTED"
)

// Payment statuses. Transitions are one-way: initiated -> paid, or
// initiated -> failed, never reversed.
const (
	PaymentStatusInitiated = "initiated"
	PaymentStatusPaid      = "paid"
	PaymentStatusFailed    = "failed"
)

// Carrier-facing sub-states persisted in ShiprocketStatus.
const (
	ShiprocketStatusCreated     = "SHIPMENT_CREATED"
	ShiprocketStatusAWBPending  = "AWB_PENDING"
	ShiprocketStatusAWBAssigned = "AWB_ASSIGNED"
)

// Cancellation flow statuses.
const (
	CancellationStatusRequested = "requested"
	CancellationStatusConfirmed = "confirmed"
)

type Order struct {
	BaseModel
	OrderNumber string `gorm:"uniqueIndex" json:"order_number"`

	GuestEmail string `gorm:"index" json:"guest_email"`
	GuestPhone string `json:"guest_phone"`

	OrderStatus      string `gorm:"index" json:"order_status"`
	PaymentStatus    string `gorm:"index" json:"payment_status"`
	ShiprocketStatus string `json:"shiprocket_status"`

	Subtotal    float64 `json:"subtotal"`
	ShippingFee float64 `json:"shipping_fee"`
	TotalAmount float64 `json:"total_amount"`
	Currency    string  `json:"currency"`

	// Tax breakdown attached on payment confirmation.
	TaxableAmount float64 `json:"taxable_amount"`
	TaxAmount     float64 `json:"tax_amount"`

	// Address snapshots copied at checkout time, not live references.
	ShippingName    string `json:"shipping_name"`
	ShippingAddress string `json:"shipping_address"`
	ShippingCity    string `json:"shipping_city"`
	ShippingState   string `json:"shipping_state"`
	ShippingPincode string `json:"shipping_pincode"`
	ShippingCountry string `json:"shipping_country"`

	BillingName    string `json:"billing_name"`
	BillingAddress string `json:"billing_address"`
	BillingCity    string `json:"billing_city"`
	BillingState   string `json:"billing_state"`
	BillingPincode string `json:"billing_pincode"`
	BillingCountry string `json:"billing_country"`

	// Operator-supplied package dimensions; nil until set.
	PackageLengthCM *float64 `json:"package_length_cm"`
	PackageWidthCM  *float64 `json:"package_width_cm"`
	PackageHeightCM *float64 `json:"package_height_cm"`
	PackageWeightKG *float64 `json:"package_weight_kg"`

	// Payment gateway linkage.
	GatewayOrderID string     `gorm:"index" json:"gateway_order_id"`
	PaymentID      string     `json:"payment_id"`
	PaidAt         *time.Time `json:"paid_at"`

	// Carrier linkage, empty until the shipment is booked.
	ShipmentID        string     `gorm:"index" json:"shipment_id"`
	CarrierOrderID    string     `json:"carrier_order_id"`
	AWBCode           string     `json:"awb_code"`
	LabelURL          string     `json:"label_url"`
	ManifestURL       string     `json:"manifest_url"`
	PickupScheduledAt *time.Time `json:"pickup_scheduled_at"`

	// One-time-password gate for cancellation/return requests.
	OTPHash            string     `json:"-"`
	OTPExpiresAt       *time.Time `json:"-"`
	OTPAttempts        int        `json:"-"`
	OTPLockedUntil     *time.Time `json:"-"`
	CancellationStatus string     `json:"cancellation_status"`

	// Retention bookkeeping for the abandoned-checkout cleanup.
	CleanupNoticeSent   bool       `gorm:"index" json:"cleanup_notice_sent"`
	CleanupNoticeSentAt *time.Time `json:"cleanup_notice_sent_at"`

	Items []OrderItem `gorm:"constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

type OrderItem struct {
	BaseModel
	OrderID     uuid.UUID `gorm:"type:uuid;index" json:"order_id"`
	ProductSKU  string    `json:"product_sku"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
	UnitPrice   float64   `json:"unit_price"`
	LineTotal   float64   `json:"line_total"`

	// Per-unit shipping metrics used to derive package dimensions.
	UnitWeightKG float64 `json:"unit_weight_kg"`
	LengthCM     float64 `json:"length_cm"`
	WidthCM      float64 `json:"width_cm"`
	HeightCM     float64 `json:"height_cm"`
}
