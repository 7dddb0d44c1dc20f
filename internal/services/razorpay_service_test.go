package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/storefront/internal/models"
)

const (
	testKeySecret     = "key-secret"
	testWebhookSecret = "webhook-secret"
)

func signProof(gatewayOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(testKeySecret))
	fmt.Fprintf(mac, "%s|%s", gatewayOrderID, paymentID)
	return hex.EncodeToString(mac.Sum(nil))
}

func signWebhook(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func initiatedOrder() *models.Order {
	order := &models.Order{
		OrderNumber:   "#1001",
		GuestEmail:    "guest@example.com",
		OrderStatus:   models.OrderStatusCheckedOut,
		PaymentStatus: models.PaymentStatusInitiated,
		TotalAmount:   1180,
		Currency:      "INR",
	}
	order.ID = uuid.New()
	return order
}

func newTestRazorpay(orders ConfirmationStore, mailer Mailer) *RazorpayService {
	return NewRazorpayService(orders, mailer, nil, testKeySecret, testWebhookSecret, 18)
}

func TestConfirmPayment_AppliesOnce(t *testing.T) {
	order := initiatedOrder()
	orders := newFakeOrders(order)
	mailer := &mockMailer{}
	svc := newTestRazorpay(orders, mailer)

	proof := PaymentProof{
		GatewayOrderID: "order_G1",
		PaymentID:      "pay_P1",
		Signature:      signProof("order_G1", "pay_P1"),
	}

	result, err := svc.ConfirmPayment(context.Background(), order.ID, proof, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, ConfirmApplied, result.Status)

	stored, err := orders.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, models.OrderStatusConfirmed, stored.OrderStatus)
	assert.Equal(t, "pay_P1", stored.PaymentID)
	require.NotNil(t, stored.PaidAt)

	// Tax breakdown is attached on first apply.
	assert.InDelta(t, 1000, stored.TaxableAmount, 0.01)
	assert.InDelta(t, 180, stored.TaxAmount, 0.01)

	assert.Eventually(t, func() bool { return mailer.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestConfirmPayment_DuplicateIsSuccessWithoutSideEffects(t *testing.T) {
	order := initiatedOrder()
	orders := newFakeOrders(order)
	mailer := &mockMailer{}
	svc := newTestRazorpay(orders, mailer)

	proof := PaymentProof{
		GatewayOrderID: "order_G1",
		PaymentID:      "pay_P1",
		Signature:      signProof("order_G1", "pay_P1"),
	}

	first, err := svc.ConfirmPayment(context.Background(), order.ID, proof, "")
	require.NoError(t, err)
	assert.Equal(t, ConfirmApplied, first.Status)

	second, err := svc.ConfirmPayment(context.Background(), order.ID, proof, "")
	require.NoError(t, err)
	assert.Equal(t, ConfirmAlreadyProcessed, second.Status)

	// Exactly one confirmation email across both calls.
	assert.Eventually(t, func() bool { return mailer.count() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, mailer.count())
}

func TestConfirmPayment_CallbackAndWebhookRace(t *testing.T) {
	order := initiatedOrder()
	orders := newFakeOrders(order)
	mailer := &mockMailer{}
	svc := newTestRazorpay(orders, mailer)

	proof := PaymentProof{
		GatewayOrderID: "order_G1",
		PaymentID:      "pay_P1",
		Signature:      signProof("order_G1", "pay_P1"),
	}

	body := []byte(fmt.Sprintf(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_P1","order_id":"order_G1","notes":{"order_id":"%s"}}}}}`, order.ID))

	// Both triggers fire in parallel; the conditional transition lets
	// exactly one of them through.
	var wg sync.WaitGroup
	results := make([]*ConfirmResult, 2)
	errs := make([]error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], errs[0] = svc.ConfirmPayment(context.Background(), order.ID, proof, "")
	}()
	go func() {
		defer wg.Done()
		results[1], errs[1] = svc.ProcessWebhook(context.Background(), body, signWebhook(body), "")
	}()
	wg.Wait()

	applied, duplicate := 0, 0
	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i])
		switch results[i].Status {
		case ConfirmApplied:
			applied++
		case ConfirmAlreadyProcessed:
			duplicate++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, duplicate)

	stored, err := orders.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)

	// One apply, one confirmation email.
	assert.Eventually(t, func() bool { return mailer.count() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, mailer.count())
}

func TestConfirmPayment_BadSignatureDoesNotTouchOrder(t *testing.T) {
	order := initiatedOrder()
	orders := newFakeOrders(order)
	svc := newTestRazorpay(orders, &mockMailer{})

	_, err := svc.ConfirmPayment(context.Background(), order.ID, PaymentProof{
		GatewayOrderID: "order_G1",
		PaymentID:      "pay_P1",
		Signature:      "deadbeef",
	}, "203.0.113.9")

	assert.ErrorIs(t, err, ErrInvalidSignature)

	stored, err := orders.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusInitiated, stored.PaymentStatus)
}

func TestConfirmPayment_UnknownOrder(t *testing.T) {
	orders := newFakeOrders()
	svc := newTestRazorpay(orders, &mockMailer{})

	_, err := svc.ConfirmPayment(context.Background(), uuid.New(), PaymentProof{
		GatewayOrderID: "order_G1",
		PaymentID:      "pay_P1",
		Signature:      signProof("order_G1", "pay_P1"),
	}, "")

	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestConfirmPayment_WriteFailureAfterCaptureIsSuccess(t *testing.T) {
	order := initiatedOrder()
	orders := newFakeOrders(order)
	orders.transitionErr = errors.New("connection reset")
	svc := newTestRazorpay(orders, &mockMailer{})

	result, err := svc.ConfirmPayment(context.Background(), order.ID, PaymentProof{
		GatewayOrderID: "order_G1",
		PaymentID:      "pay_P1",
		Signature:      signProof("order_G1", "pay_P1"),
	}, "")

	// The money has moved; the buyer must never see a failure here.
	require.NoError(t, err)
	assert.Equal(t, ConfirmReconciliation, result.Status)
}

func TestProcessWebhook_BadSignatureRejectedBeforeParsing(t *testing.T) {
	svc := newTestRazorpay(newFakeOrders(), &mockMailer{})

	body := []byte(`{"event":"payment.captured"`)
	_, err := svc.ProcessWebhook(context.Background(), body, "bogus", "")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestProcessWebhook_IgnoresOtherEvents(t *testing.T) {
	svc := newTestRazorpay(newFakeOrders(), &mockMailer{})

	body := []byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_P1"}}}}`)
	result, err := svc.ProcessWebhook(context.Background(), body, signWebhook(body), "")
	require.NoError(t, err)
	assert.Equal(t, ConfirmAlreadyProcessed, result.Status)
}

func TestSplitTaxInclusive(t *testing.T) {
	taxable, tax := SplitTaxInclusive(1180, 18)
	assert.InDelta(t, 1000, taxable, 0.01)
	assert.InDelta(t, 180, tax, 0.01)

	taxable, tax = SplitTaxInclusive(500, 0)
	assert.Equal(t, 500.0, taxable)
	assert.Equal(t, 0.0, tax)
}
