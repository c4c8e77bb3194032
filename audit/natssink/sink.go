// Package natssink publishes goSession audit events to NATS.
package natssink

import (
	"context"
	"encoding/json"

	goSession "github.com/MrEthical07/goSession"
	natspkg "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultSubject is the subject root. Events go to <root>.<event_type>.
const DefaultSubject = "gosession.audit"

// Publisher is the part of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*natspkg.Conn)(nil)

// Sink is a goSession.AuditSink. Publish errors are logged and dropped so a
// broker outage never blocks the audit dispatcher.
type Sink struct {
	pub     Publisher
	subject string
	log     zerolog.Logger
}

func New(pub Publisher, subject string, log zerolog.Logger) *Sink {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Sink{
		pub:     pub,
		subject: subject,
		log:     log.With().Str("component", "natssink").Logger(),
	}
}

// Connect dials url and returns a sink on the new connection. The caller
// owns the returned connection.
func Connect(url, subject string, log zerolog.Logger) (*Sink, *natspkg.Conn, error) {
	nc, err := natspkg.Connect(url, natspkg.Name("gosession-audit"))
	if err != nil {
		return nil, nil, err
	}
	return New(nc, subject, log), nc, nil
}

func (s *Sink) Emit(_ context.Context, event goSession.AuditEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", event.EventType).Msg("encode audit event")
		return
	}
	if err := s.pub.Publish(s.subject+"."+event.EventType, data); err != nil {
		s.log.Warn().Err(err).Str("event_id", event.ID).Msg("publish audit event")
	}
}

var _ goSession.AuditSink = (*Sink)(nil)
