package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"signage-fleet/cache"
	"signage-fleet/entities"
	"signage-fleet/events"
	"signage-fleet/liveness"
	"signage-fleet/metrics"
	"signage-fleet/repositories"

	"github.com/rs/zerolog"
)

const (
	maxCASAttempts = 5
	maxDeviceIDLen = 128
)

// Heartbeat is one liveness observation reported by a device.
type Heartbeat struct {
	IP              string
	SoftwareVersion string
	SystemInfo      string
	// ReportedState is optional; empty means the device did not announce a state.
	ReportedState entities.DeclaredState
	ObservedAt    time.Time
	// Sync marks a full content sync, which also advances LastSyncAt.
	Sync bool
}

// RegistryUseCase is the authoritative record of every known device.
type RegistryUseCase struct {
	repo    repositories.DeviceRepository
	cache   *cache.DeviceCache
	tracker *liveness.Tracker
	events  events.Publisher
	lg      zerolog.Logger
}

func NewRegistryUseCase(repo repositories.DeviceRepository, dc *cache.DeviceCache, tracker *liveness.Tracker, pub events.Publisher, lg zerolog.Logger) *RegistryUseCase {
	if pub == nil {
		pub = events.Nop{}
	}
	return &RegistryUseCase{
		repo:    repo,
		cache:   dc,
		tracker: tracker,
		events:  pub,
		lg:      lg.With().Str("component", "registry").Logger(),
	}
}

func (uc *RegistryUseCase) Tracker() *liveness.Tracker { return uc.tracker }

// Connectivity derives the effective connectivity of d at now.
func (uc *RegistryUseCase) Connectivity(d *entities.Device, now time.Time) entities.Connectivity {
	return uc.tracker.Of(d, now)
}

// Register creates a device in state ONLINE. It fails with ErrAlreadyExists
// when the id is taken.
func (uc *RegistryUseCase) Register(ctx context.Context, deviceID string, meta entities.DeviceMetadata, now time.Time) (*entities.Device, error) {
	deviceID, err := normalizeDeviceID(deviceID)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(meta.Name)
	if name == "" {
		name = deviceID
	}

	d := &entities.Device{
		DeviceID:      deviceID,
		Name:          name,
		Location:      strings.TrimSpace(meta.Location),
		DeclaredState: entities.StateOnline,
		PlaybackState: entities.PlaybackStopped,
		RegisteredAt:  now.UTC(),
	}
	if err := uc.repo.Create(ctx, d); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, fmt.Errorf("%w: device %s", ErrAlreadyExists, deviceID)
		}
		return nil, transient("register device", err)
	}
	uc.cache.Put(*d)
	uc.lg.Info().Str("device_id", deviceID).Str("name", name).Msg("device registered")

	uc.publish(ctx, events.Event{Kind: events.KindDeviceRegistered, DeviceID: deviceID, Timestamp: d.RegisteredAt})
	return d, nil
}

// Get returns the device, served from cache when possible.
func (uc *RegistryUseCase) Get(ctx context.Context, deviceID string) (*entities.Device, error) {
	if d, ok := uc.cache.Get(deviceID); ok {
		return &d, nil
	}
	return uc.load(ctx, deviceID)
}

// List returns every device ordered by id.
func (uc *RegistryUseCase) List(ctx context.Context) ([]entities.Device, error) {
	devices, err := uc.repo.GetAll(ctx)
	if err != nil {
		return nil, transient("list devices", err)
	}
	return devices, nil
}

// RecordHeartbeat applies hb if it is newer than the last applied
// observation. An out-of-order heartbeat is discarded and reported with
// applied=false; it is not an error.
func (uc *RegistryUseCase) RecordHeartbeat(ctx context.Context, deviceID string, hb Heartbeat) (d *entities.Device, applied bool, err error) {
	observed := hb.ObservedAt.UTC().Truncate(time.Microsecond)

	d, err = uc.mutate(ctx, deviceID, func(d *entities.Device) (bool, error) {
		if !observed.After(d.LastSeenAt) {
			return false, ErrStaleWrite
		}
		applyHeartbeat(d, hb, observed)
		return true, nil
	})
	if errors.Is(err, ErrStaleWrite) {
		metrics.Heartbeats.WithLabelValues("stale").Inc()
		uc.lg.Debug().Str("device_id", deviceID).
			Time("observed_at", observed).Time("last_seen_at", d.LastSeenAt).
			Msg("discarding out-of-order heartbeat")
		return d, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	metrics.Heartbeats.WithLabelValues("applied").Inc()
	return d, true, nil
}

// applyHeartbeat advances the liveness clock and metadata, then resolves the
// declared state.
func applyHeartbeat(d *entities.Device, hb Heartbeat, observed time.Time) {
	d.LastSeenAt = observed
	if hb.Sync {
		d.LastSyncAt = observed
	}
	if hb.IP != "" {
		d.IPAddress = hb.IP
	}
	if hb.SoftwareVersion != "" {
		d.SoftwareVersion = hb.SoftwareVersion
	}
	if hb.SystemInfo != "" {
		d.SystemInfo = hb.SystemInfo
	}

	if d.DeclaredState == entities.StateRetired {
		return
	}
	switch {
	case hb.ReportedState != "":
		if d.DeclaredState == entities.StateUpdating && hb.ReportedState != entities.StateUpdating {
			d.TargetVersion = ""
		}
		d.DeclaredState = hb.ReportedState
	case d.DeclaredState == entities.StateUpdating && d.TargetVersion != "" && d.SoftwareVersion == d.TargetVersion:
		d.DeclaredState = entities.StateOnline
		d.TargetVersion = ""
	case d.DeclaredState == entities.StateOffline:
		d.DeclaredState = entities.StateOnline
	}
}

// SetDeclaredState records the nominal state of a device; last write wins.
func (uc *RegistryUseCase) SetDeclaredState(ctx context.Context, deviceID string, state entities.DeclaredState) (*entities.Device, error) {
	if !state.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", ErrInvalidArgument, state)
	}
	return uc.mutate(ctx, deviceID, func(d *entities.Device) (bool, error) {
		if d.DeclaredState == state {
			return false, nil
		}
		d.DeclaredState = state
		return true, nil
	})
}

// Retire moves the device to the terminal RETIRED state. Content assignments
// keep referencing it; physical deletion is an administrative matter.
func (uc *RegistryUseCase) Retire(ctx context.Context, deviceID string) (*entities.Device, error) {
	d, err := uc.SetDeclaredState(ctx, deviceID, entities.StateRetired)
	if err == nil {
		uc.lg.Info().Str("device_id", deviceID).Msg("device retired")
	}
	return d, err
}

// UpdateMetadata edits the admin-managed identity fields.
func (uc *RegistryUseCase) UpdateMetadata(ctx context.Context, deviceID string, meta entities.DeviceMetadata) (*entities.Device, error) {
	return uc.mutate(ctx, deviceID, func(d *entities.Device) (bool, error) {
		changed := false
		if n := strings.TrimSpace(meta.Name); n != "" && n != d.Name {
			d.Name = n
			changed = true
		}
		if l := strings.TrimSpace(meta.Location); l != "" && l != d.Location {
			d.Location = l
			changed = true
		}
		return changed, nil
	})
}

// mutate reads the committed record, lets fn edit a copy and writes it back
// with a compare-and-set on the revision, retrying when another writer got
// there first. If fn returns an error the current record is returned with it.
func (uc *RegistryUseCase) mutate(ctx context.Context, deviceID string, fn func(d *entities.Device) (bool, error)) (*entities.Device, error) {
	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		cur, err := uc.load(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		next := *cur
		changed, err := fn(&next)
		if err != nil {
			return cur, err
		}
		if !changed {
			return cur, nil
		}

		err = uc.repo.CompareAndSwap(ctx, &next, cur.Revision)
		switch {
		case err == nil:
			uc.cache.Put(next)
			return &next, nil
		case errors.Is(err, repositories.ErrRevisionConflict):
			uc.lg.Debug().Str("device_id", deviceID).Int("attempt", attempt).Msg("revision conflict, retrying")
			continue
		case errors.Is(err, repositories.ErrNotFound):
			uc.cache.Invalidate(deviceID)
			return nil, fmt.Errorf("%w: device %s", ErrNotFound, deviceID)
		default:
			uc.cache.Invalidate(deviceID)
			return nil, transient("update device", err)
		}
	}
	uc.cache.Invalidate(deviceID)
	return nil, fmt.Errorf("update device %s: %w: too many concurrent updates", deviceID, ErrTransient)
}

// load reads the committed record from the store and refreshes the cache.
func (uc *RegistryUseCase) load(ctx context.Context, deviceID string) (*entities.Device, error) {
	d, err := uc.repo.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			uc.cache.Invalidate(deviceID)
			return nil, fmt.Errorf("%w: device %s", ErrNotFound, deviceID)
		}
		return nil, transient("load device", err)
	}
	uc.cache.Put(*d)
	return d, nil
}

func (uc *RegistryUseCase) publish(ctx context.Context, ev events.Event) {
	if err := uc.events.Publish(ctx, ev); err != nil {
		uc.lg.Warn().Err(err).Str("device_id", ev.DeviceID).Str("kind", string(ev.Kind)).Msg("event publish failed")
	}
}

func normalizeDeviceID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: device id is required", ErrInvalidArgument)
	}
	if len(id) > maxDeviceIDLen {
		return "", fmt.Errorf("%w: device id longer than %d bytes", ErrInvalidArgument, maxDeviceIDLen)
	}
	return id, nil
}
