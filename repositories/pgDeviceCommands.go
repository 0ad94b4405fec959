package repositories

import (
	"context"

	"signage-fleet/db"
	"signage-fleet/entities"
)

type commandPgRepository struct {
	db db.Database
}

func NewCommandPgRepository(database db.Database) CommandRepository {
	return &commandPgRepository{db: database}
}

func (r *commandPgRepository) Append(ctx context.Context, rec *entities.CommandRecord) error {
	return translate(r.db.GetDB().WithContext(ctx).Create(rec).Error)
}

func (r *commandPgRepository) GetByDeviceID(ctx context.Context, deviceID string, limit int) ([]entities.CommandRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	var recs []entities.CommandRecord
	err := r.db.GetDB().WithContext(ctx).Where("device_id = ?", deviceID).
		Order("issued_at DESC").Limit(limit).Find(&recs).Error
	return recs, translate(err)
}
