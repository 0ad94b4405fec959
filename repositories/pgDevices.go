package repositories

import (
	"context"
	"time"

	"signage-fleet/db"
	"signage-fleet/entities"
)

type devicePgRepository struct {
	db db.Database
}

func NewDevicePgRepository(database db.Database) DeviceRepository {
	return &devicePgRepository{db: database}
}

func (r *devicePgRepository) Create(ctx context.Context, device *entities.Device) error {
	device.Revision = 1
	device.UpdatedAt = device.RegisteredAt
	return translate(r.db.GetDB().WithContext(ctx).Create(device).Error)
}

func (r *devicePgRepository) GetByID(ctx context.Context, deviceID string) (*entities.Device, error) {
	var device entities.Device
	err := r.db.GetDB().WithContext(ctx).Where("device_id = ?", deviceID).First(&device).Error
	if err != nil {
		return nil, translate(err)
	}
	return &device, nil
}

func (r *devicePgRepository) GetAll(ctx context.Context) ([]entities.Device, error) {
	var devices []entities.Device
	err := r.db.GetDB().WithContext(ctx).Order("device_id ASC").Find(&devices).Error
	return devices, translate(err)
}

func (r *devicePgRepository) CompareAndSwap(ctx context.Context, next *entities.Device, expected int64) error {
	now := time.Now().UTC()
	res := r.db.GetDB().WithContext(ctx).Model(&entities.Device{}).
		Where("device_id = ? AND revision = ?", next.DeviceID, expected).
		Updates(map[string]interface{}{
			"name":                next.Name,
			"location":            next.Location,
			"ip_address":          next.IPAddress,
			"software_version":    next.SoftwareVersion,
			"system_info":         next.SystemInfo,
			"declared_state":      next.DeclaredState,
			"playback_state":      next.PlaybackState,
			"playback_content_id": next.PlaybackContentID,
			"target_version":      next.TargetVersion,
			"last_seen_at":        next.LastSeenAt,
			"last_sync_at":        next.LastSyncAt,
			"revision":            expected + 1,
			"updated_at":          now,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, next.DeviceID); err != nil {
			return err
		}
		return ErrRevisionConflict
	}
	next.Revision = expected + 1
	next.UpdatedAt = now
	return nil
}
