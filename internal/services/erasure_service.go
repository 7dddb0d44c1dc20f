package services

import (
	"context"
	"fmt"
	"time"

	"github.com/example/storefront/internal/models"
)

// ErasureOrders is the order-store slice for erasure requests.
type ErasureOrders interface {
	LatestPaidAt(ctx context.Context, email string) (*time.Time, error)
	AnonymizeByEmail(ctx context.Context, email string) (int64, error)
}

// ErasureLedger records erasures that must wait out statutory retention.
type ErasureLedger interface {
	Create(ctx context.Context, email string, retentionEnd time.Time) (*models.DeletionRequest, error)
}

// ErasureOutcome tells the requester whether erasure happened now or was
// deferred behind tax retention.
type ErasureOutcome struct {
	Deferred         bool       `json:"deferred"`
	AnonymizedOrders int64      `json:"anonymized_orders,omitempty"`
	RetentionEndDate *time.Time `json:"retention_end_date,omitempty"`
}

// ErasureService handles user-initiated right-to-erasure requests. Guests
// with paid orders inside mandatory tax retention get a deferred ledger
// entry the retention automaton completes later; everyone else is
// anonymized in place immediately.
type ErasureService struct {
	orders    ErasureOrders
	ledger    ErasureLedger
	audit     Auditor
	retention time.Duration
	now       func() time.Time
}

func NewErasureService(orders ErasureOrders, ledger ErasureLedger, audit Auditor, retention time.Duration) *ErasureService {
	return &ErasureService{
		orders:    orders,
		ledger:    ledger,
		audit:     audit,
		retention: retention,
		now:       time.Now,
	}
}

// RequestErasure resolves one erasure request.
func (s *ErasureService) RequestErasure(ctx context.Context, email string) (*ErasureOutcome, error) {
	latestPaid, err := s.orders.LatestPaidAt(ctx, email)
	if err != nil {
		return nil, err
	}

	if latestPaid != nil {
		retentionEnd := latestPaid.Add(s.retention)
		if retentionEnd.After(s.now()) {
			request, err := s.ledger.Create(ctx, email, retentionEnd)
			if err != nil {
				return nil, err
			}
			if err := s.audit.Append(ctx, "deletion_requests", "deferred", 1,
				fmt.Sprintf("erasure deferred until %s for request %s", retentionEnd.Format("2006-01-02"), request.ID),
				"erasure-request"); err != nil {
				return nil, err
			}
			return &ErasureOutcome{Deferred: true, RetentionEndDate: &request.RetentionEndDate}, nil
		}
	}

	rows, err := s.orders.AnonymizeByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := s.audit.Append(ctx, "orders", "anonymize", rows,
		"immediate erasure, no order within statutory retention", "erasure-request"); err != nil {
		return nil, err
	}

	return &ErasureOutcome{AnonymizedOrders: rows}, nil
}
