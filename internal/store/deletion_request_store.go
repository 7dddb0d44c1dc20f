package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/storefront/internal/models"
)

// DeletionRequestStore persists the deferred-erasure ledger.
type DeletionRequestStore struct {
	db *gorm.DB
}

func NewDeletionRequestStore(db *gorm.DB) *DeletionRequestStore {
	return &DeletionRequestStore{db: db}
}

// Create records a deferred erasure. An existing pending request for the
// same email is reused, with the retention end pushed out if needed. A
// partial unique index on (guest_email) where status is pending backs
// this up: when two requests race past the initial read, the second
// insert fails with a duplicate key and falls back to the winner's row.
func (s *DeletionRequestStore) Create(ctx context.Context, email string, retentionEnd time.Time) (*models.DeletionRequest, error) {
	if existing, err := s.getPending(ctx, email); err != nil {
		return nil, err
	} else if existing != nil {
		return s.extendRetention(ctx, existing, retentionEnd)
	}

	request := models.DeletionRequest{
		GuestEmail:       email,
		Status:           models.DeletionStatusDeferredLegal,
		RetentionEndDate: retentionEnd,
	}
	if err := s.db.WithContext(ctx).Create(&request).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, rerr := s.getPending(ctx, email)
			if rerr != nil {
				return nil, rerr
			}
			if existing == nil {
				return nil, err
			}
			return s.extendRetention(ctx, existing, retentionEnd)
		}
		return nil, err
	}
	return &request, nil
}

func (s *DeletionRequestStore) getPending(ctx context.Context, email string) (*models.DeletionRequest, error) {
	var existing models.DeletionRequest
	err := s.db.WithContext(ctx).
		Where("guest_email = ? AND status = ?", email, models.DeletionStatusDeferredLegal).
		First(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &existing, nil
}

func (s *DeletionRequestStore) extendRetention(ctx context.Context, existing *models.DeletionRequest, retentionEnd time.Time) (*models.DeletionRequest, error) {
	if retentionEnd.After(existing.RetentionEndDate) {
		if err := s.db.WithContext(ctx).Model(existing).
			Update("retention_end_date", retentionEnd).Error; err != nil {
			return nil, err
		}
		existing.RetentionEndDate = retentionEnd
	}
	return existing, nil
}

// ListDueForNotice returns pending requests whose retention end falls on
// or before the window cutoff and that have not been notified yet.
func (s *DeletionRequestStore) ListDueForNotice(ctx context.Context, windowCutoff time.Time) ([]models.DeletionRequest, error) {
	var requests []models.DeletionRequest
	err := s.db.WithContext(ctx).
		Where("status = ?", models.DeletionStatusDeferredLegal).
		Where("retention_end_date <= ?", windowCutoff).
		Where("deferred_erasure_notified = ?", false).
		Find(&requests).Error
	return requests, err
}

// MarkNotified flags a request as notified, conditional on the flag still
// being clear so concurrent runs cannot double-send.
func (s *DeletionRequestStore) MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.DeletionRequest{}).
		Where("id = ?", id).
		Where("deferred_erasure_notified = ?", false).
		Updates(map[string]any{
			"deferred_erasure_notified":    true,
			"deferred_erasure_notified_at": at,
		})
	return res.RowsAffected, res.Error
}

// ListDueForCompletion returns notified requests whose grace period has
// elapsed and whose retention end has passed.
func (s *DeletionRequestStore) ListDueForCompletion(ctx context.Context, now, noticeCutoff time.Time) ([]models.DeletionRequest, error) {
	var requests []models.DeletionRequest
	err := s.db.WithContext(ctx).
		Where("status = ?", models.DeletionStatusDeferredLegal).
		Where("deferred_erasure_notified = ?", true).
		Where("deferred_erasure_notified_at <= ?", noticeCutoff).
		Where("retention_end_date <= ?", now).
		Find(&requests).Error
	return requests, err
}

// Complete marks a request done, conditional on it still being pending.
func (s *DeletionRequestStore) Complete(ctx context.Context, id uuid.UUID, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.DeletionRequest{}).
		Where("id = ?", id).
		Where("status = ?", models.DeletionStatusDeferredLegal).
		Updates(map[string]any{
			"status":       models.DeletionStatusCompleted,
			"completed_at": at,
		})
	return res.RowsAffected, res.Error
}
