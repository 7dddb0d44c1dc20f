package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/example/storefront/internal/models"
)

// AuditStore appends to the compliance audit trail. Entries are only
// ever inserted.
type AuditStore struct {
	db *gorm.DB
}

func NewAuditStore(db *gorm.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Append records one audited operation.
func (s *AuditStore) Append(ctx context.Context, table, operation string, rows int64, reason, actor string) error {
	entry := models.AuditLog{
		Table:     table,
		Operation: operation,
		RowCount:  rows,
		Reason:    reason,
		Actor:     actor,
	}
	return s.db.WithContext(ctx).Create(&entry).Error
}
