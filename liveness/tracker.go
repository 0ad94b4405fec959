package liveness

import (
	"fmt"
	"time"

	"signage-fleet/entities"
)

// Tracker derives effective connectivity from a device's last-seen time.
// It holds no state besides its thresholds.
type Tracker struct {
	staleAfter time.Duration
	deadAfter  time.Duration
}

// New returns a Tracker; staleAfter must be positive and below deadAfter.
func New(staleAfter, deadAfter time.Duration) (*Tracker, error) {
	if staleAfter <= 0 {
		return nil, fmt.Errorf("liveness: staleAfter must be positive, got %s", staleAfter)
	}
	if staleAfter >= deadAfter {
		return nil, fmt.Errorf("liveness: staleAfter (%s) must be below deadAfter (%s)", staleAfter, deadAfter)
	}
	return &Tracker{staleAfter: staleAfter, deadAfter: deadAfter}, nil
}

// FromPollInterval uses 3x and 6x the device polling interval.
func FromPollInterval(poll time.Duration) (*Tracker, error) {
	return New(3*poll, 6*poll)
}

func (t *Tracker) StaleAfter() time.Duration { return t.staleAfter }
func (t *Tracker) DeadAfter() time.Duration  { return t.deadAfter }

// Evaluate classifies a device last seen at lastSeen, as of now.
// A device that was never seen is DEAD.
func (t *Tracker) Evaluate(lastSeen, now time.Time) entities.Connectivity {
	if lastSeen.IsZero() {
		return entities.ConnectivityDead
	}
	age := now.Sub(lastSeen)
	switch {
	case age <= t.staleAfter:
		return entities.ConnectivityLive
	case age <= t.deadAfter:
		return entities.ConnectivityStale
	default:
		return entities.ConnectivityDead
	}
}

// Of is Evaluate applied to a device record.
func (t *Tracker) Of(d *entities.Device, now time.Time) entities.Connectivity {
	return t.Evaluate(d.LastSeenAt, now)
}
