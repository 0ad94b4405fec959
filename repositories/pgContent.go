package repositories

import (
	"context"
	"time"

	"signage-fleet/db"
	"signage-fleet/entities"

	"gorm.io/gorm"
)

type contentPgRepository struct {
	db db.Database
}

func NewContentPgRepository(database db.Database) ContentRepository {
	return &contentPgRepository{db: database}
}

func (r *contentPgRepository) Create(ctx context.Context, item *entities.ContentItem) error {
	return translate(r.db.GetDB().WithContext(ctx).Create(item).Error)
}

func (r *contentPgRepository) GetByID(ctx context.Context, id string) (*entities.ContentItem, error) {
	var item entities.ContentItem
	if err := r.db.GetDB().WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

func (r *contentPgRepository) GetByDeviceID(ctx context.Context, deviceID string) ([]entities.ContentItem, error) {
	var items []entities.ContentItem
	err := r.db.GetDB().WithContext(ctx).Where("device_id = ?", deviceID).Order("created_at DESC").Find(&items).Error
	return items, translate(err)
}

// ActiveForDevice narrows on device and enabled flag in SQL and applies the
// activation window in Go so the boundaries are exact on every driver.
func (r *contentPgRepository) ActiveForDevice(ctx context.Context, deviceID string, now time.Time) ([]entities.ContentItem, error) {
	var items []entities.ContentItem
	err := r.db.GetDB().WithContext(ctx).
		Where("device_id = ? AND enabled = ?", deviceID, true).
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, translate(err)
	}
	active := items[:0]
	for _, it := range items {
		if it.EligibleAt(now) {
			active = append(active, it)
		}
	}
	return active, nil
}

func (r *contentPgRepository) RecordPlayback(ctx context.Context, id string, at time.Time) error {
	res := r.db.GetDB().WithContext(ctx).Model(&entities.ContentItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"play_count":     gorm.Expr("play_count + ?", 1),
			"last_played_at": at,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
