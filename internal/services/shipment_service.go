package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/store"
)

var (
	// ErrOrderNotConfirmed rejects shipment assignment before payment.
	ErrOrderNotConfirmed = errors.New("order is not in a confirmed state")
	// ErrManifestFailed marks the case where the shipment and label exist
	// but the batch paperwork does not.
	ErrManifestFailed = errors.New("manifest generation failed")
)

// Carrier is the slice of the carrier client the engine drives.
type Carrier interface {
	CreateShipment(ctx context.Context, req CreateShipmentRequest) (*Shipment, error)
	AssignAWB(ctx context.Context, shipmentID string) (string, error)
	GenerateLabel(ctx context.Context, shipmentID string) (string, error)
	SchedulePickup(ctx context.Context, shipmentID string) (*time.Time, error)
	GenerateManifest(ctx context.Context, shipmentID string) (string, error)
}

// ShipmentStore is the slice of the order store the engine needs.
type ShipmentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Transition(ctx context.Context, id uuid.UUID, from store.TransitionFrom, update store.TransitionUpdate) (int64, error)
}

// PackageMetrics is the resolved parcel geometry for a booking.
type PackageMetrics struct {
	LengthCM float64
	WidthCM  float64
	HeightCM float64
	WeightKG float64
}

// DefaultBox is the configured fallback for multi-item orders without
// operator-supplied dimensions.
type DefaultBox struct {
	LengthCM float64
	WidthCM  float64
	HeightCM float64
}

// AssignmentResult reports how far a shipment assignment got.
type AssignmentResult struct {
	ShipmentID string
	AWBCode    string
	LabelURL   string
	// AWBPending is set when retries were exhausted and the order was
	// parked for a later attempt against the same shipment.
	AWBPending bool
}

// ShipmentService books confirmed orders with the carrier. Assignment is
// synchronous, including retry backoff: it is only invoked from the admin
// surface, never a buyer-facing path.
type ShipmentService struct {
	orders  ShipmentStore
	carrier Carrier

	maxAttempts int
	baseDelay   time.Duration
	defaultBox  DefaultBox

	// sleep is overridable in tests.
	sleep func(time.Duration)
}

func NewShipmentService(orders ShipmentStore, carrier Carrier, maxAttempts int, baseDelay time.Duration, defaultBox DefaultBox) *ShipmentService {
	return &ShipmentService{
		orders:      orders,
		carrier:     carrier,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		defaultBox:  defaultBox,
		sleep:       time.Sleep,
	}
}

// ResolvePackageMetrics applies the three-tier fallback: operator
// dimensions win; a single-line order derives from its item; otherwise
// weights are summed into the configured default box.
func (s *ShipmentService) ResolvePackageMetrics(order *models.Order) PackageMetrics {
	if order.PackageLengthCM != nil && order.PackageWidthCM != nil &&
		order.PackageHeightCM != nil && order.PackageWeightKG != nil {
		return PackageMetrics{
			LengthCM: *order.PackageLengthCM,
			WidthCM:  *order.PackageWidthCM,
			HeightCM: *order.PackageHeightCM,
			WeightKG: *order.PackageWeightKG,
		}
	}

	if len(order.Items) == 1 {
		item := order.Items[0]
		return PackageMetrics{
			LengthCM: item.LengthCM,
			WidthCM:  item.WidthCM,
			HeightCM: item.HeightCM,
			WeightKG: item.UnitWeightKG * float64(item.Quantity),
		}
	}

	// Multi-item orders have no well-defined bounding box without
	// operator input; sum the weights and take the default box.
	var weight float64
	for _, item := range order.Items {
		weight += item.UnitWeightKG * float64(item.Quantity)
	}
	return PackageMetrics{
		LengthCM: s.defaultBox.LengthCM,
		WidthCM:  s.defaultBox.WidthCM,
		HeightCM: s.defaultBox.HeightCM,
		WeightKG: weight,
	}
}

// Assign books the shipment and drives AWB assignment, label, pickup and
// manifest. Every downstream step is idempotent against already-stored
// linkage, so a later invocation resumes instead of re-booking.
func (s *ShipmentService) Assign(ctx context.Context, orderID uuid.UUID) (*AssignmentResult, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.OrderStatus != models.OrderStatusConfirmed {
		return nil, ErrOrderNotConfirmed
	}

	shipmentID := order.ShipmentID
	if shipmentID == "" {
		shipment, err := s.createShipment(ctx, order)
		if err != nil {
			return nil, fmt.Errorf("create shipment: %w", err)
		}
		shipmentID = shipment.ShipmentID

		status := models.ShiprocketStatusCreated
		if _, err := s.orders.Transition(ctx, orderID, store.TransitionFrom{},
			store.TransitionUpdate{
				ShipmentID:       &shipment.ShipmentID,
				CarrierOrderID:   &shipment.CarrierOrderID,
				ShiprocketStatus: &status,
			}); err != nil {
			// The booking exists; losing its id would force a duplicate
			// on retry.
			log.Printf("[CRITICAL] [Shipment] shipment %s created for order %s but linkage write failed: %v", shipmentID, orderID, err)
			return nil, err
		}
	}

	awb := order.AWBCode
	if awb == "" {
		awb, err = s.assignAWBWithRetry(ctx, shipmentID)
		if err != nil {
			// Exhausted. Park the order in an explicit pending sub-state;
			// a later run reuses the stored shipment id instead of
			// booking again.
			pending := models.ShiprocketStatusAWBPending
			if _, perr := s.orders.Transition(ctx, orderID, store.TransitionFrom{},
				store.TransitionUpdate{ShiprocketStatus: &pending}); perr != nil {
				log.Printf("[Shipment] Failed to park order %s as AWB pending: %v", orderID, perr)
			}
			log.Printf("[Shipment] AWB assignment exhausted for order %s (shipment %s): %v", orderID, shipmentID, err)
			return &AssignmentResult{ShipmentID: shipmentID, AWBPending: true}, nil
		}

		assigned := models.ShiprocketStatusAWBAssigned
		if _, err := s.orders.Transition(ctx, orderID, store.TransitionFrom{},
			store.TransitionUpdate{
				AWBCode:          &awb,
				ShiprocketStatus: &assigned,
			}); err != nil {
			return nil, fmt.Errorf("persist AWB: %w", err)
		}
	}

	result := &AssignmentResult{ShipmentID: shipmentID, AWBCode: awb}

	labelURL := order.LabelURL
	if labelURL == "" {
		labelURL, err = s.carrier.GenerateLabel(ctx, shipmentID)
		if err != nil {
			return nil, fmt.Errorf("generate label: %w", err)
		}
		if _, err := s.orders.Transition(ctx, orderID, store.TransitionFrom{},
			store.TransitionUpdate{LabelURL: &labelURL}); err != nil {
			return nil, fmt.Errorf("persist label URL: %w", err)
		}
	}
	result.LabelURL = labelURL

	// Pickup scheduling is best effort and never blocks the manifest.
	if order.PickupScheduledAt == nil {
		if pickupAt, err := s.carrier.SchedulePickup(ctx, shipmentID); err != nil {
			log.Printf("[Shipment] Pickup scheduling failed for order %s: %v", orderID, err)
		} else if _, err := s.orders.Transition(ctx, orderID, store.TransitionFrom{},
			store.TransitionUpdate{PickupScheduledAt: pickupAt}); err != nil {
			log.Printf("[Shipment] Failed to persist pickup time for order %s: %v", orderID, err)
		}
	}

	if order.ManifestURL == "" {
		manifestURL, err := s.carrier.GenerateManifest(ctx, shipmentID)
		if err != nil {
			// The shipment and label exist; only the batch paperwork is
			// missing. Report that distinctly.
			return result, fmt.Errorf("%w: %v", ErrManifestFailed, err)
		}
		if _, err := s.orders.Transition(ctx, orderID, store.TransitionFrom{},
			store.TransitionUpdate{ManifestURL: &manifestURL}); err != nil {
			return result, fmt.Errorf("%w: persist: %v", ErrManifestFailed, err)
		}
	}

	return result, nil
}

func (s *ShipmentService) createShipment(ctx context.Context, order *models.Order) (*Shipment, error) {
	metrics := s.ResolvePackageMetrics(order)

	items := make([]ShipmentItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, ShipmentItem{
			Name:         item.ProductName,
			SKU:          item.ProductSKU,
			Units:        item.Quantity,
			SellingPrice: item.UnitPrice,
		})
	}

	return s.carrier.CreateShipment(ctx, CreateShipmentRequest{
		OrderNumber:       order.OrderNumber,
		OrderDate:         order.CreatedAt.Format("2006-01-02 15:04"),
		BillingName:       order.BillingName,
		BillingAddress:    order.BillingAddress,
		BillingCity:       order.BillingCity,
		BillingState:      order.BillingState,
		BillingPincode:    order.BillingPincode,
		BillingCountry:    order.BillingCountry,
		BillingEmail:      order.GuestEmail,
		BillingPhone:      order.GuestPhone,
		ShippingIsBilling: true,
		Items:             items,
		PaymentMethod:     "Prepaid",
		SubTotal:          order.Subtotal,
		LengthCM:          metrics.LengthCM,
		WidthCM:           metrics.WidthCM,
		HeightCM:          metrics.HeightCM,
		WeightKG:          metrics.WeightKG,
	})
}

// assignAWBWithRetry retries AWB assignment with linearly increasing
// backoff. Only the assignment call repeats; the shipment itself is never
// re-created.
func (s *ShipmentService) assignAWBWithRetry(ctx context.Context, shipmentID string) (string, error) {
	policy := RetryPolicy{
		MaxAttempts: s.maxAttempts,
		Backoff:     LinearBackoff(s.baseDelay),
		Sleep:       s.sleep,
	}

	var awb string
	err := policy.Do("AWB assignment", func() error {
		code, err := s.carrier.AssignAWB(ctx, shipmentID)
		if err != nil {
			return err
		}
		awb = code
		return nil
	})
	return awb, err
}
