package usecases

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"signage-fleet/entities"
	"signage-fleet/metrics"
	"signage-fleet/repositories"

	"github.com/rs/zerolog"
)

// Report is the network metadata a device sends with every poll.
type Report struct {
	IP              string
	SoftwareVersion string
	SystemInfo      string
	State           entities.DeclaredState
}

// DesiredState is what the server wants the device to be doing. Commands
// reach devices only through this, on their next poll.
type DesiredState struct {
	DeclaredState     entities.DeclaredState `json:"declared_state"`
	PlaybackState     entities.PlaybackState `json:"playback_state"`
	PlaybackContentID string                 `json:"playback_content_id,omitempty"`
	TargetVersion     string                 `json:"target_version,omitempty"`
}

func desiredOf(d *entities.Device) DesiredState {
	return DesiredState{
		DeclaredState:     d.DeclaredState,
		PlaybackState:     d.PlaybackState,
		PlaybackContentID: d.PlaybackContentID,
		TargetVersion:     d.TargetVersion,
	}
}

type SyncResult struct {
	DeviceID         string                 `json:"device_id"`
	Content          []entities.ContentItem `json:"content"`
	Desired          DesiredState           `json:"desired"`
	Connectivity     entities.Connectivity  `json:"connectivity"`
	HeartbeatApplied bool                   `json:"heartbeat_applied"`
	ServerTime       time.Time              `json:"server_time"`
}

// StatusSummary is the lightweight echo returned to a heartbeat.
type StatusSummary struct {
	DeviceID         string                 `json:"device_id"`
	DeclaredState    entities.DeclaredState `json:"declared_state"`
	Connectivity     entities.Connectivity  `json:"connectivity"`
	Desired          DesiredState           `json:"desired"`
	HeartbeatApplied bool                   `json:"heartbeat_applied"`
	LastSeenAt       time.Time              `json:"last_seen_at"`
	ServerTime       time.Time              `json:"server_time"`
}

// SyncUseCase is the entry point device agents call on every poll.
type SyncUseCase struct {
	registry *RegistryUseCase
	content  repositories.ContentRepository
	strict   bool
	lg       zerolog.Logger
}

// NewSyncUseCase wires the sync handler. With strict set, polls from unknown
// devices fail with ErrUnknownDevice; otherwise the device is auto-registered.
func NewSyncUseCase(registry *RegistryUseCase, content repositories.ContentRepository, strict bool, lg zerolog.Logger) *SyncUseCase {
	return &SyncUseCase{
		registry: registry,
		content:  content,
		strict:   strict,
		lg:       lg.With().Str("component", "sync").Logger(),
	}
}

// Sync records a heartbeat and returns the device's eligible content as of
// now, in playlist order. Repeating it with the same now returns the same
// list and changes nothing.
func (uc *SyncUseCase) Sync(ctx context.Context, deviceID string, r Report, now time.Time) (*SyncResult, error) {
	d, applied, err := uc.beat(ctx, deviceID, r, now, true)
	if err != nil {
		uc.countSync(err)
		return nil, err
	}

	var items []entities.ContentItem
	if d.DeclaredState != entities.StateRetired {
		items, err = uc.content.ActiveForDevice(ctx, d.DeviceID, now)
		if err != nil {
			metrics.SyncRequests.WithLabelValues("error").Inc()
			return nil, transient("load active content", err)
		}
		SortPlaylist(items)
	}
	if items == nil {
		items = []entities.ContentItem{}
	}

	metrics.SyncRequests.WithLabelValues("ok").Inc()
	return &SyncResult{
		DeviceID:         d.DeviceID,
		Content:          items,
		Desired:          desiredOf(d),
		Connectivity:     uc.registry.Connectivity(d, now),
		HeartbeatApplied: applied,
		ServerTime:       now.UTC(),
	}, nil
}

// Heartbeat records liveness only, for pings between full syncs.
func (uc *SyncUseCase) Heartbeat(ctx context.Context, deviceID string, r Report, now time.Time) (*StatusSummary, error) {
	d, applied, err := uc.beat(ctx, deviceID, r, now, false)
	if err != nil {
		return nil, err
	}
	return &StatusSummary{
		DeviceID:         d.DeviceID,
		DeclaredState:    d.DeclaredState,
		Connectivity:     uc.registry.Connectivity(d, now),
		Desired:          desiredOf(d),
		HeartbeatApplied: applied,
		LastSeenAt:       d.LastSeenAt,
		ServerTime:       now.UTC(),
	}, nil
}

// ReportPlayback counts one playback of contentID. Retries may double count;
// play counts are an engagement metric, not a billing input. When deviceID
// is given the content must be assigned to that device.
func (uc *SyncUseCase) ReportPlayback(ctx context.Context, contentID, deviceID string, now time.Time) error {
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		return fmt.Errorf("%w: content id is required", ErrInvalidArgument)
	}
	if deviceID != "" {
		item, err := uc.content.GetByID(ctx, contentID)
		if err != nil {
			return contentErr(contentID, err)
		}
		if item.DeviceID != deviceID {
			return fmt.Errorf("%w: content %s is not assigned to device %s", ErrNotFound, contentID, deviceID)
		}
	}
	if err := uc.content.RecordPlayback(ctx, contentID, now.UTC()); err != nil {
		return contentErr(contentID, err)
	}
	metrics.PlaybackReports.Inc()
	return nil
}

func (uc *SyncUseCase) beat(ctx context.Context, deviceID string, r Report, now time.Time, sync bool) (*entities.Device, bool, error) {
	deviceID, err := normalizeDeviceID(deviceID)
	if err != nil {
		return nil, false, err
	}
	if r.State != "" && (!r.State.Valid() || r.State == entities.StateRetired) {
		return nil, false, fmt.Errorf("%w: device cannot report state %q", ErrInvalidArgument, r.State)
	}
	if err := uc.resolve(ctx, deviceID, now); err != nil {
		return nil, false, err
	}
	return uc.registry.RecordHeartbeat(ctx, deviceID, Heartbeat{
		IP:              r.IP,
		SoftwareVersion: r.SoftwareVersion,
		SystemInfo:      r.SystemInfo,
		ReportedState:   r.State,
		ObservedAt:      now,
		Sync:            sync,
	})
}

// resolve makes sure the device exists, auto-registering it unless strict.
func (uc *SyncUseCase) resolve(ctx context.Context, deviceID string, now time.Time) error {
	_, err := uc.registry.Get(ctx, deviceID)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return err
	}
	if uc.strict {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	_, err = uc.registry.Register(ctx, deviceID, entities.DeviceMetadata{}, now)
	if errors.Is(err, ErrAlreadyExists) {
		// another poll from the same device registered it first
		return nil
	}
	if err == nil {
		uc.lg.Info().Str("device_id", deviceID).Msg("auto-registered device on first poll")
	}
	return err
}

func (uc *SyncUseCase) countSync(err error) {
	if errors.Is(err, ErrUnknownDevice) {
		metrics.SyncRequests.WithLabelValues("unknown_device").Inc()
		return
	}
	metrics.SyncRequests.WithLabelValues("error").Inc()
}

// SortPlaylist orders items by priority (highest first), then activation
// start, then id, so a given snapshot always yields the same playlist.
func SortPlaylist(items []entities.ContentItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.ActiveFrom.Equal(b.ActiveFrom) {
			return a.ActiveFrom.Before(b.ActiveFrom)
		}
		return a.ID < b.ID
	})
}

func contentErr(contentID string, err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("%w: content %s", ErrNotFound, contentID)
	}
	return transient("content store", err)
}
