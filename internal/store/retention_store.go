package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/storefront/internal/models"
)

// Retention-facing queries. Eligibility predicates live in SQL so that
// concurrent scheduler runs resolve at the database, the same way order
// transitions do.

// ListAbandonedForNotice returns checked-out, unpaid orders created on or
// before the cutoff that have not yet received a cleanup notice.
func (s *OrderStore) ListAbandonedForNotice(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.WithContext(ctx).
		Where("order_status = ?", models.OrderStatusCheckedOut).
		Where("payment_status <> ?", models.PaymentStatusPaid).
		Where("created_at <= ?", cutoff).
		Where("cleanup_notice_sent = ?", false).
		Order("guest_email, created_at").
		Find(&orders).Error
	return orders, err
}

// MarkCleanupNoticeSent flags orders as notified. The notice_sent
// predicate makes re-entrant scheduler runs a no-op for already-flagged
// rows.
func (s *OrderStore) MarkCleanupNoticeSent(ctx context.Context, ids []uuid.UUID, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id IN ?", ids).
		Where("cleanup_notice_sent = ?", false).
		Updates(map[string]any{
			"cleanup_notice_sent":    true,
			"cleanup_notice_sent_at": at,
		})
	return res.RowsAffected, res.Error
}

// ListAbandonedForDeletion returns notified abandoned orders whose grace
// period has elapsed (notice sent on or before noticeCutoff) and that are
// old enough (created on or before ageCutoff).
func (s *OrderStore) ListAbandonedForDeletion(ctx context.Context, noticeCutoff, ageCutoff time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.WithContext(ctx).
		Where("order_status = ?", models.OrderStatusCheckedOut).
		Where("payment_status <> ?", models.PaymentStatusPaid).
		Where("cleanup_notice_sent = ?", true).
		Where("cleanup_notice_sent_at <= ?", noticeCutoff).
		Where("created_at <= ?", ageCutoff).
		Find(&orders).Error
	return orders, err
}

// Delete hard-deletes an order and its line items.
func (s *OrderStore) Delete(ctx context.Context, id uuid.UUID) (int64, error) {
	var rows int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", id).Delete(&models.OrderItem{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Order{})
		if res.Error != nil {
			return res.Error
		}
		rows = res.RowsAffected
		return nil
	})
	return rows, err
}

// DeleteByEmail hard-deletes every order of a guest, items included.
// Used when a deferred erasure completes.
func (s *OrderStore) DeleteByEmail(ctx context.Context, email string) (int64, error) {
	var rows int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uuid.UUID
		if err := tx.Model(&models.Order{}).
			Where("guest_email = ?", email).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("order_id IN ?", ids).Delete(&models.OrderItem{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&models.Order{})
		if res.Error != nil {
			return res.Error
		}
		rows = res.RowsAffected
		return nil
	})
	return rows, err
}

// AnonymizeByEmail blanks guest PII in place for orders that must be
// retained. The commerce facts stay for tax records.
func (s *OrderStore) AnonymizeByEmail(ctx context.Context, email string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("guest_email = ?", email).
		Updates(map[string]any{
			"guest_email":      "",
			"guest_phone":      "",
			"shipping_name":    "",
			"shipping_address": "",
			"billing_name":     "",
			"billing_address":  "",
		})
	return res.RowsAffected, res.Error
}

// LatestPaidAt returns the most recent payment timestamp for a guest, or
// nil when no paid order exists.
func (s *OrderStore) LatestPaidAt(ctx context.Context, email string) (*time.Time, error) {
	var order models.Order
	err := s.db.WithContext(ctx).
		Where("guest_email = ? AND payment_status = ?", email, models.PaymentStatusPaid).
		Order("paid_at desc").
		First(&order).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return order.PaidAt, nil
}
