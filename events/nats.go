package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSPublisher publishes events on <prefix>.<deviceID>.<kind>.
type NATSPublisher struct {
	nc     *natsgo.Conn
	prefix string
	lg     zerolog.Logger
}

func NewNATSPublisher(url, prefix string, lg zerolog.Logger) (*NATSPublisher, error) {
	nc, err := natsgo.Connect(url,
		natsgo.Name("signage-fleet"),
		natsgo.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSPublisher{nc: nc, prefix: prefix, lg: lg.With().Str("adapter", "nats").Logger()}, nil
}

// Subject returns the subject an event is published on. The device id is
// escaped so it always occupies exactly one token.
func Subject(prefix string, ev Event) string {
	return fmt.Sprintf("%s.%s.%s", prefix, subjectToken(ev.DeviceID), ev.Kind)
}

// subjectToken percent-encodes the bytes NATS treats as separators or
// wildcards. '%' is encoded too so distinct ids never collide.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '.', c == '*', c == '>', c == '%', c <= ' ', c == 0x7f:
			fmt.Fprintf(&b, "%%%02X", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	subject := Subject(p.prefix, ev)
	if err := p.nc.Publish(subject, b); err != nil {
		p.lg.Warn().Err(err).Str("subject", subject).Msg("publish failed")
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

func (p *NATSPublisher) Close() { _ = p.nc.Drain() }
