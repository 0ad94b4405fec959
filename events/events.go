// Package events fans out fleet events (command dispatched, device
// registered, device went dead) to interested transports.
package events

import (
	"context"
	"errors"
	"time"
)

type Kind string

const (
	KindCommandDispatched Kind = "command"
	KindDeviceRegistered  Kind = "registered"
	KindConnectivity      Kind = "connectivity"
)

// Event is a fleet notification. Consumers must treat it as a hint: the
// authoritative state is always what the device observes on its next sync.
type Event struct {
	Kind      Kind           `json:"kind"`
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
