package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/example/storefront/internal/models"
)

// BlockStore persists per-IP offense records for the abuse engine.
type BlockStore struct {
	db *gorm.DB
}

func NewBlockStore(db *gorm.DB) *BlockStore {
	return &BlockStore{db: db}
}

// Get returns the block record for an IP, or nil when none exists.
func (s *BlockStore) Get(ctx context.Context, ip string) (*models.BlockRecord, error) {
	var record models.BlockRecord
	err := s.db.WithContext(ctx).Where("ip = ?", ip).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// Save creates or updates a block record.
func (s *BlockStore) Save(ctx context.Context, record *models.BlockRecord) error {
	return s.db.WithContext(ctx).Save(record).Error
}

// List returns block records for the admin surface, newest offense first.
func (s *BlockStore) List(ctx context.Context, limit, offset int) ([]models.BlockRecord, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.BlockRecord{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []models.BlockRecord
	if err := query.Order("last_offense_at desc").
		Limit(limit).Offset(offset).
		Find(&records).Error; err != nil {
		return nil, 0, err
	}

	return records, total, nil
}
