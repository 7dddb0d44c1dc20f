package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/storefront/internal/models"
)

const taxRetention = 8 * 365 * 24 * time.Hour

func paidOrderFor(email string, paidAt time.Time) *models.Order {
	order := &models.Order{
		OrderNumber:   "#500",
		GuestEmail:    email,
		GuestPhone:    "+911234567890",
		OrderStatus:   models.OrderStatusDelivered,
		PaymentStatus: models.PaymentStatusPaid,
		PaidAt:        &paidAt,
	}
	order.ID = uuid.New()
	return order
}

func newTestErasure(orders ErasureOrders, ledger ErasureLedger, audit Auditor, at time.Time) *ErasureService {
	svc := NewErasureService(orders, ledger, audit, taxRetention)
	svc.now = func() time.Time { return at }
	return svc
}

func TestRequestErasure_PaidOrderInsideRetentionDefers(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	paidAt := now.Add(-365 * 24 * time.Hour)
	orders := newFakeOrders(paidOrderFor("keep@example.com", paidAt))
	ledger := newFakeLedger()
	audit := &mockAuditor{}
	svc := newTestErasure(orders, ledger, audit, now)

	outcome, err := svc.RequestErasure(context.Background(), "keep@example.com")
	require.NoError(t, err)
	assert.True(t, outcome.Deferred)
	require.NotNil(t, outcome.RetentionEndDate)
	assert.Equal(t, paidAt.Add(taxRetention), *outcome.RetentionEndDate)

	assert.Equal(t, 1, ledger.created)
	assert.Equal(t, 1, audit.count("deferred"))
	// Nothing was touched yet; the automaton acts when retention lapses.
	assert.Empty(t, orders.anonymized)
}

func TestRequestErasure_RetentionLapsedAnonymizesImmediately(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	paidAt := now.Add(-9 * 365 * 24 * time.Hour)
	order := paidOrderFor("old@example.com", paidAt)
	orders := newFakeOrders(order)
	ledger := newFakeLedger()
	audit := &mockAuditor{}
	svc := newTestErasure(orders, ledger, audit, now)

	outcome, err := svc.RequestErasure(context.Background(), "old@example.com")
	require.NoError(t, err)
	assert.False(t, outcome.Deferred)
	assert.Equal(t, int64(1), outcome.AnonymizedOrders)
	assert.Equal(t, 0, ledger.created)
	assert.Equal(t, 1, audit.count("anonymize"))

	stored, err := orders.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.GuestEmail)
	assert.Empty(t, stored.GuestPhone)
}

func TestRequestErasure_NoPaidOrdersAnonymizesImmediately(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	unpaid := &models.Order{
		OrderNumber:   "#501",
		GuestEmail:    "browser@example.com",
		OrderStatus:   models.OrderStatusCheckedOut,
		PaymentStatus: models.PaymentStatusInitiated,
	}
	unpaid.ID = uuid.New()

	orders := newFakeOrders(unpaid)
	svc := newTestErasure(orders, newFakeLedger(), &mockAuditor{}, now)

	outcome, err := svc.RequestErasure(context.Background(), "browser@example.com")
	require.NoError(t, err)
	assert.False(t, outcome.Deferred)
	assert.Equal(t, int64(1), outcome.AnonymizedOrders)
}

func TestRequestErasure_ConcurrentRequestsShareOneLedgerEntry(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	paidAt := now.Add(-365 * 24 * time.Hour)
	orders := newFakeOrders(paidOrderFor("keep@example.com", paidAt))
	ledger := newFakeLedger()
	svc := newTestErasure(orders, ledger, &mockAuditor{}, now)

	var wg sync.WaitGroup
	outcomes := make([]*ErasureOutcome, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = svc.RequestErasure(context.Background(), "keep@example.com")
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i])
		assert.True(t, outcomes[i].Deferred)
	}

	// One pending ledger row, so the automaton later sends one statutory
	// notice and runs one completion pass.
	assert.Equal(t, 1, ledger.created)
	assert.Len(t, ledger.requests, 1)
}

func TestRequestErasure_UnknownEmailStillSucceeds(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc := newTestErasure(newFakeOrders(), newFakeLedger(), &mockAuditor{}, now)

	outcome, err := svc.RequestErasure(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, outcome.Deferred)
	assert.Equal(t, int64(0), outcome.AnonymizedOrders)
}
