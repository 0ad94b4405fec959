package usecases

import (
	"context"
	"fmt"
	"strings"

	"signage-fleet/entities"
	"signage-fleet/repositories"
)

// ContentUseCase is the minimal admin surface feeding the content store.
type ContentUseCase struct {
	registry *RegistryUseCase
	repo     repositories.ContentRepository
}

func NewContentUseCase(registry *RegistryUseCase, repo repositories.ContentRepository) *ContentUseCase {
	return &ContentUseCase{registry: registry, repo: repo}
}

// CreateContent assigns a new content item to an existing device.
func (uc *ContentUseCase) CreateContent(ctx context.Context, item *entities.ContentItem) error {
	if strings.TrimSpace(item.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidArgument)
	}
	if !item.Type.Valid() {
		return fmt.Errorf("%w: type must be video, image or audio", ErrInvalidArgument)
	}
	if item.ActiveFrom.IsZero() {
		return fmt.Errorf("%w: active_from is required", ErrInvalidArgument)
	}
	if item.ActiveUntil != nil && !item.ActiveUntil.After(item.ActiveFrom) {
		return fmt.Errorf("%w: active_until must be after active_from", ErrInvalidArgument)
	}
	if item.DurationSeconds < 0 {
		return fmt.Errorf("%w: duration_seconds must not be negative", ErrInvalidArgument)
	}
	if _, err := uc.registry.Get(ctx, item.DeviceID); err != nil {
		return err
	}

	item.ActiveFrom = item.ActiveFrom.UTC()
	if item.ActiveUntil != nil {
		until := item.ActiveUntil.UTC()
		item.ActiveUntil = &until
	}
	item.PlayCount = 0
	item.LastPlayedAt = nil
	if err := uc.repo.Create(ctx, item); err != nil {
		return transient("create content", err)
	}
	return nil
}

// ContentForDevice lists every item assigned to the device, eligible or not.
func (uc *ContentUseCase) ContentForDevice(ctx context.Context, deviceID string) ([]entities.ContentItem, error) {
	if _, err := uc.registry.Get(ctx, deviceID); err != nil {
		return nil, err
	}
	items, err := uc.repo.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, transient("list content", err)
	}
	return items, nil
}
