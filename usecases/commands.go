package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signage-fleet/entities"
	"signage-fleet/events"
	"signage-fleet/metrics"
	"signage-fleet/repositories"

	"github.com/rs/zerolog"
)

// Delivery describes when a dispatched command takes effect. Devices pull;
// nothing is executed on the device at dispatch time.
const Delivery = "applied by the device on its next poll"

const defaultHistoryLimit = 20

// CommandResult acknowledges that the intended state was recorded. It does
// not confirm device-side execution.
type CommandResult struct {
	CommandID      string                 `json:"command_id"`
	DeviceID       string                 `json:"device_id"`
	CommandType    entities.CommandType   `json:"command_type"`
	Acknowledgment string                 `json:"acknowledgment"`
	IssuedAt       time.Time              `json:"issued_at"`
	PreviousState  entities.DeclaredState `json:"previous_state"`
	ResultingState entities.DeclaredState `json:"resulting_state"`
	Desired        DesiredState           `json:"desired"`
	Connectivity   entities.Connectivity  `json:"connectivity"`
	NoOp           bool                   `json:"no_op"`
	Delivery       string                 `json:"delivery"`
}

type CommandsUseCase struct {
	registry *RegistryUseCase
	repo     repositories.CommandRepository
	content  repositories.ContentRepository
	events   events.Publisher
	lg       zerolog.Logger
}

func NewCommandsUseCase(registry *RegistryUseCase, r repositories.CommandRepository, content repositories.ContentRepository, pub events.Publisher, lg zerolog.Logger) *CommandsUseCase {
	if pub == nil {
		pub = events.Nop{}
	}
	return &CommandsUseCase{
		registry: registry,
		repo:     r,
		content:  content,
		events:   pub,
		lg:       lg.With().Str("component", "commands").Logger(),
	}
}

// Dispatch validates cmd against the device's declared state and records the
// resulting intended state. Commands against unreachable devices are accepted;
// the connectivity at issue time is reported in the result.
func (uc *CommandsUseCase) Dispatch(ctx context.Context, deviceID string, cmd entities.Command, now time.Time) (*CommandResult, error) {
	if cmd == nil {
		return nil, fmt.Errorf("%w: command is required", ErrInvalidCommand)
	}
	deviceID, err := normalizeDeviceID(deviceID)
	if err != nil {
		return nil, err
	}
	ct := cmd.Type()

	if _, err := uc.registry.Get(ctx, deviceID); err != nil {
		uc.countDispatch(ct, err)
		return nil, err
	}
	if play, ok := cmd.(entities.PlayCommand); ok {
		if err := uc.checkContent(ctx, deviceID, play.ContentID); err != nil {
			uc.countDispatch(ct, err)
			return nil, err
		}
	}

	var previous entities.DeclaredState
	noop := false
	d, err := uc.registry.mutate(ctx, deviceID, func(d *entities.Device) (bool, error) {
		previous = d.DeclaredState
		changed, err := applyCommand(d, cmd)
		noop = !changed
		return changed, err
	})
	if err != nil {
		uc.countDispatch(ct, err)
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrInvalidCommand) {
			uc.lg.Info().Str("device_id", deviceID).Str("command", string(ct)).
				Str("declared_state", string(previous)).Err(err).Msg("command rejected")
		}
		return nil, err
	}

	conn := uc.registry.Connectivity(d, now)
	rec := &entities.CommandRecord{
		DeviceID:       d.DeviceID,
		CommandType:    ct,
		Params:         cmd.Params(),
		PreviousState:  previous,
		ResultingState: d.DeclaredState,
		Connectivity:   conn,
		Acknowledgment: acknowledgment(ct, d, conn),
		NoOp:           noop,
		IssuedAt:       now.UTC(),
	}
	if err := uc.repo.Append(ctx, rec); err != nil {
		// the intended state is committed; retrying the command is safe
		uc.countDispatch(ct, err)
		return nil, transient("append command log", err)
	}

	uc.lg.Info().Str("device_id", d.DeviceID).Str("command", string(ct)).
		Str("from", string(previous)).Str("to", string(d.DeclaredState)).
		Str("connectivity", string(conn)).Bool("no_op", noop).Msg("command recorded")
	outcome := "accepted"
	if noop {
		outcome = "noop"
	}
	metrics.CommandsDispatched.WithLabelValues(string(ct), outcome).Inc()

	if !noop {
		uc.publish(ctx, events.Event{
			Kind:      events.KindCommandDispatched,
			DeviceID:  d.DeviceID,
			Timestamp: rec.IssuedAt,
			Data: map[string]any{
				"command_id":      rec.ID,
				"command_type":    ct,
				"resulting_state": d.DeclaredState,
				"desired":         desiredOf(d),
			},
		})
	}

	return &CommandResult{
		CommandID:      rec.ID,
		DeviceID:       d.DeviceID,
		CommandType:    ct,
		Acknowledgment: rec.Acknowledgment,
		IssuedAt:       rec.IssuedAt,
		PreviousState:  previous,
		ResultingState: d.DeclaredState,
		Desired:        desiredOf(d),
		Connectivity:   conn,
		NoOp:           noop,
		Delivery:       Delivery,
	}, nil
}

// History lists the command log of a device, newest first.
func (uc *CommandsUseCase) History(ctx context.Context, deviceID string, limit int) ([]entities.CommandRecord, error) {
	if _, err := uc.registry.Get(ctx, deviceID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	recs, err := uc.repo.GetByDeviceID(ctx, deviceID, limit)
	if err != nil {
		return nil, transient("load command log", err)
	}
	return recs, nil
}

func (uc *CommandsUseCase) checkContent(ctx context.Context, deviceID, contentID string) error {
	item, err := uc.content.GetByID(ctx, contentID)
	if errors.Is(err, repositories.ErrNotFound) || (err == nil && item.DeviceID != deviceID) {
		return fmt.Errorf("%w: content %s is not assigned to device %s", ErrInvalidCommand, contentID, deviceID)
	}
	if err != nil {
		return transient("load content", err)
	}
	return nil
}

// applyCommand edits d according to the declared-state machine and reports
// whether anything changed.
//
//	ONLINE    PLAY/PAUSE/STOP -> ONLINE, RESTART -> REBOOTING, UPDATE_SOFTWARE -> UPDATING
//	REBOOTING RESTART -> no-op, anything else invalid
//	UPDATING  UPDATE_SOFTWARE to the same target -> no-op, anything else invalid
//	OFFLINE, RETIRED: invalid
func applyCommand(d *entities.Device, cmd entities.Command) (bool, error) {
	state := d.DeclaredState
	invalid := func() (bool, error) {
		return false, fmt.Errorf("%w: %s not allowed while device %s is %s", ErrInvalidTransition, cmd.Type(), d.DeviceID, state)
	}

	switch c := cmd.(type) {
	case entities.PlayCommand:
		if state != entities.StateOnline {
			return invalid()
		}
		if d.PlaybackState == entities.PlaybackPlaying && d.PlaybackContentID == c.ContentID {
			return false, nil
		}
		d.PlaybackState = entities.PlaybackPlaying
		d.PlaybackContentID = c.ContentID
		return true, nil

	case entities.PauseCommand:
		if state != entities.StateOnline {
			return invalid()
		}
		if d.PlaybackState != entities.PlaybackPlaying {
			return false, nil
		}
		d.PlaybackState = entities.PlaybackPaused
		return true, nil

	case entities.StopCommand:
		if state != entities.StateOnline {
			return invalid()
		}
		if d.PlaybackState == entities.PlaybackStopped && d.PlaybackContentID == "" {
			return false, nil
		}
		d.PlaybackState = entities.PlaybackStopped
		d.PlaybackContentID = ""
		return true, nil

	case entities.RestartCommand:
		switch state {
		case entities.StateOnline:
			d.DeclaredState = entities.StateRebooting
			return true, nil
		case entities.StateRebooting:
			return false, nil
		}
		return invalid()

	case entities.UpdateSoftwareCommand:
		switch state {
		case entities.StateOnline:
			if c.TargetVersion == d.SoftwareVersion {
				return false, fmt.Errorf("%w: device %s already runs %s", ErrInvalidCommand, d.DeviceID, c.TargetVersion)
			}
			d.DeclaredState = entities.StateUpdating
			d.TargetVersion = c.TargetVersion
			return true, nil
		case entities.StateUpdating:
			if c.TargetVersion == d.TargetVersion {
				return false, nil
			}
		}
		return invalid()
	}
	return false, fmt.Errorf("%w: unsupported command %T", ErrInvalidCommand, cmd)
}

func acknowledgment(ct entities.CommandType, d *entities.Device, conn entities.Connectivity) string {
	ack := fmt.Sprintf("%s recorded for %s: declared state %s", ct, d.DeviceID, d.DeclaredState)
	switch ct {
	case entities.CommandPlay, entities.CommandPause, entities.CommandStop:
		ack += fmt.Sprintf(", playback %s", d.PlaybackState)
		if d.PlaybackContentID != "" {
			ack += fmt.Sprintf(" (content %s)", d.PlaybackContentID)
		}
	case entities.CommandUpdateSoftware:
		ack += fmt.Sprintf(", target version %s", d.TargetVersion)
	}
	ack += "; " + Delivery
	if conn == entities.ConnectivityDead {
		ack += " (device is not polling; it will pick this up when it reconnects)"
	}
	return ack
}

func (uc *CommandsUseCase) countDispatch(ct entities.CommandType, err error) {
	result := "error"
	switch {
	case errors.Is(err, ErrInvalidTransition):
		result = "invalid_transition"
	case errors.Is(err, ErrInvalidCommand):
		result = "invalid_command"
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	}
	metrics.CommandsDispatched.WithLabelValues(string(ct), result).Inc()
}

func (uc *CommandsUseCase) publish(ctx context.Context, ev events.Event) {
	if err := uc.events.Publish(ctx, ev); err != nil {
		uc.lg.Warn().Err(err).Str("device_id", ev.DeviceID).Msg("command event publish failed")
	}
}
