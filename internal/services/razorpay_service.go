package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/store"
)

var (
	// ErrInvalidSignature rejects a proof whose HMAC does not match.
	ErrInvalidSignature = errors.New("invalid payment signature")
	// ErrOrderNotFound is returned for unknown order ids.
	ErrOrderNotFound = errors.New("order not found")
)

// Confirmation outcomes.
const (
	ConfirmApplied          = "confirmed"
	ConfirmAlreadyProcessed = "already_processed"
	ConfirmReconciliation   = "reconciliation_pending"
)

// PaymentProof is a client- or webhook-submitted claim that a payment was
// captured by the gateway.
type PaymentProof struct {
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

// ConfirmResult reports how a confirmation attempt resolved. Every
// non-error outcome is a success from the buyer's point of view.
type ConfirmResult struct {
	Status  string
	OrderID uuid.UUID
}

// ConfirmationStore is the slice of the order store the confirmation
// engine needs.
type ConfirmationStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Transition(ctx context.Context, id uuid.UUID, from store.TransitionFrom, update store.TransitionUpdate) (int64, error)
}

// SecurityReporter receives signature-verification failures.
type SecurityReporter interface {
	RecordOffense(ctx context.Context, ip, incident string) error
}

// RazorpayService verifies payment proofs and applies the idempotent
// payment confirmation. Two independent triggers call into it: the
// buyer's browser callback and the gateway webhook. The conditional
// transition at the store is the only thing keeping them from
// double-applying.
type RazorpayService struct {
	orders        ConfirmationStore
	mailer        Mailer
	security      SecurityReporter
	keySecret     string
	webhookSecret string
	taxRate       float64
	now           func() time.Time
}

func NewRazorpayService(orders ConfirmationStore, mailer Mailer, security SecurityReporter, keySecret, webhookSecret string, taxRatePercent float64) *RazorpayService {
	return &RazorpayService{
		orders:        orders,
		mailer:        mailer,
		security:      security,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		taxRate:       taxRatePercent,
		now:           time.Now,
	}
}

// VerifyPaymentSignature checks the callback proof: HMAC-SHA256 over
// "<gateway_order_id>|<payment_id>" with the key secret, constant-time
// compared.
func (s *RazorpayService) VerifyPaymentSignature(proof PaymentProof) bool {
	mac := hmac.New(sha256.New, []byte(s.keySecret))
	fmt.Fprintf(mac, "%s|%s", proof.GatewayOrderID, proof.PaymentID)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(proof.Signature))
}

// VerifyWebhookSignature checks the webhook HMAC over the raw,
// unparsed body bytes. Re-serializing the JSON first would break it.
func (s *RazorpayService) VerifyWebhookSignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ConfirmPayment handles the synchronous client callback path.
func (s *RazorpayService) ConfirmPayment(ctx context.Context, orderID uuid.UUID, proof PaymentProof, sourceIP string) (*ConfirmResult, error) {
	if !s.VerifyPaymentSignature(proof) {
		s.reportSignatureFailure(ctx, sourceIP)
		return nil, ErrInvalidSignature
	}
	return s.applyConfirmation(ctx, orderID, proof.GatewayOrderID, proof.PaymentID)
}

type webhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Notes   struct {
					OrderID string `json:"order_id"`
				} `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ProcessWebhook handles the asynchronous gateway path. The body must be
// the exact bytes received on the wire.
func (s *RazorpayService) ProcessWebhook(ctx context.Context, body []byte, signature, sourceIP string) (*ConfirmResult, error) {
	if !s.VerifyWebhookSignature(body, signature) {
		s.reportSignatureFailure(ctx, sourceIP)
		return nil, ErrInvalidSignature
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse webhook payload: %w", err)
	}

	if payload.Event != "payment.captured" {
		log.Printf("[Razorpay] Ignoring webhook event %q", payload.Event)
		return &ConfirmResult{Status: ConfirmAlreadyProcessed}, nil
	}

	entity := payload.Payload.Payment.Entity
	orderID, err := uuid.Parse(entity.Notes.OrderID)
	if err != nil {
		return nil, fmt.Errorf("webhook carries no usable order reference: %w", err)
	}

	return s.applyConfirmation(ctx, orderID, entity.OrderID, entity.ID)
}

// applyConfirmation performs the idempotent conditional transition. Both
// trigger paths land here after their own signature check.
func (s *RazorpayService) applyConfirmation(ctx context.Context, orderID uuid.UUID, gatewayOrderID, paymentID string) (*ConfirmResult, error) {
	paidAt := s.now()
	paid := models.PaymentStatusPaid
	confirmed := models.OrderStatusConfirmed

	rows, err := s.orders.Transition(ctx, orderID,
		store.TransitionFrom{PaymentStatuses: []string{models.PaymentStatusInitiated}},
		store.TransitionUpdate{
			PaymentStatus:  &paid,
			OrderStatus:    &confirmed,
			GatewayOrderID: &gatewayOrderID,
			PaymentID:      &paymentID,
			PaidAt:         &paidAt,
		})
	if err != nil {
		// The money has moved but the local write failed. Never show the
		// buyer a failure page here: retrying the payment would charge
		// twice. Escalate for manual reconciliation instead.
		log.Printf("[CRITICAL] [Razorpay] payment %s captured for order %s but state write failed: %v", paymentID, orderID, err)
		return &ConfirmResult{Status: ConfirmReconciliation, OrderID: orderID}, nil
	}

	if rows == 0 {
		// Lost the race, or the order does not exist. A fresh read tells
		// which.
		order, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrOrderNotFound
			}
			return nil, err
		}
		if order.PaymentStatus == models.PaymentStatusPaid {
			return &ConfirmResult{Status: ConfirmAlreadyProcessed, OrderID: orderID}, nil
		}
		return nil, ErrOrderNotFound
	}

	// First apply only: attach the tax breakdown and queue the
	// confirmation email. The duplicate path above skips both.
	s.attachTaxBreakdown(ctx, orderID)
	s.notifyConfirmation(orderID)

	return &ConfirmResult{Status: ConfirmApplied, OrderID: orderID}, nil
}

func (s *RazorpayService) attachTaxBreakdown(ctx context.Context, orderID uuid.UUID) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		log.Printf("[Razorpay] Failed to load order %s for tax breakdown: %v", orderID, err)
		return
	}

	taxable, tax := SplitTaxInclusive(order.TotalAmount, s.taxRate)
	if _, err := s.orders.Transition(ctx, orderID, store.TransitionFrom{},
		store.TransitionUpdate{TaxableAmount: &taxable, TaxAmount: &tax}); err != nil {
		log.Printf("[Razorpay] Failed to attach tax breakdown for order %s: %v", orderID, err)
	}
}

func (s *RazorpayService) notifyConfirmation(orderID uuid.UUID) {
	if s.mailer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		order, err := s.orders.GetByID(ctx, orderID)
		if err != nil || order.GuestEmail == "" {
			return
		}
		subject := fmt.Sprintf("Order %s confirmed", order.OrderNumber)
		body := fmt.Sprintf("<p>Your payment of %.2f %s was received. Order <b>%s</b> is confirmed.</p>",
			order.TotalAmount, order.Currency, order.OrderNumber)
		if err := s.mailer.Send(ctx, order.GuestEmail, subject, body); err != nil {
			log.Printf("[Razorpay] Confirmation email for order %s failed: %v", orderID, err)
		}
	}()
}

func (s *RazorpayService) reportSignatureFailure(ctx context.Context, sourceIP string) {
	log.Printf("[Razorpay] Signature verification failed from %s", sourceIP)
	if s.security == nil || sourceIP == "" {
		return
	}
	if err := s.security.RecordOffense(ctx, sourceIP, models.IncidentSignatureFailure); err != nil {
		log.Printf("[Razorpay] Failed to record offense for %s: %v", sourceIP, err)
	}
}

// SplitTaxInclusive decomposes a tax-inclusive total into taxable value
// and tax at the given percent rate, rounded to paise.
func SplitTaxInclusive(total, ratePercent float64) (taxable, tax float64) {
	if ratePercent <= 0 {
		return total, 0
	}
	taxable = math.Round(total/(1+ratePercent/100)*100) / 100
	tax = math.Round((total-taxable)*100) / 100
	return taxable, tax
}
