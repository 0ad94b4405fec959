package repositories

import (
	"context"
	"errors"
	"time"

	"signage-fleet/entities"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicate        = errors.New("record already exists")
	ErrRevisionConflict = errors.New("revision conflict")
)

type DeviceRepository interface {
	Create(ctx context.Context, device *entities.Device) error
	GetByID(ctx context.Context, deviceID string) (*entities.Device, error)
	GetAll(ctx context.Context) ([]entities.Device, error)
	// CompareAndSwap persists next only if the stored revision still equals
	// expected; on success next.Revision is advanced.
	CompareAndSwap(ctx context.Context, next *entities.Device, expected int64) error
}

type ContentRepository interface {
	Create(ctx context.Context, item *entities.ContentItem) error
	GetByID(ctx context.Context, id string) (*entities.ContentItem, error)
	GetByDeviceID(ctx context.Context, deviceID string) ([]entities.ContentItem, error)
	// ActiveForDevice returns the items eligible for deviceID at now, unordered.
	ActiveForDevice(ctx context.Context, deviceID string, now time.Time) ([]entities.ContentItem, error)
	RecordPlayback(ctx context.Context, id string, at time.Time) error
}

type CommandRepository interface {
	Append(ctx context.Context, rec *entities.CommandRecord) error
	GetByDeviceID(ctx context.Context, deviceID string, limit int) ([]entities.CommandRecord, error)
}
