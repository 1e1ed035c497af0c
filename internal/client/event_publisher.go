package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-gl-closing/internal/logger"
	"github.com/pesio-ai/be-gl-closing/internal/service"
)

// EventPublisher broadcasts domain events on events.closing.<event>.
// Delivery is observational; failures are logged and dropped.
type EventPublisher struct {
	pub    Publisher
	source string
	log    *logger.Logger
	now    func() time.Time
}

// Event is the envelope of a domain event.
type Event struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Source     string                 `json:"source"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data"`
}

// NewEventPublisher creates an EventPublisher tagged with source.
func NewEventPublisher(pub Publisher, source string, log *logger.Logger) *EventPublisher {
	return &EventPublisher{pub: pub, source: source, log: log, now: time.Now}
}

// Publish implements service.EventPublisher.
func (p *EventPublisher) Publish(ctx context.Context, event string, payload service.Payload) {
	if p == nil || p.pub == nil {
		return
	}

	ev := Event{
		ID:         uuid.NewString(),
		Type:       event,
		Source:     p.source,
		OccurredAt: p.now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn().Err(err).Str("event", event).Msg("event: failed to marshal")
		return
	}

	subject := "events.closing." + event
	if err := p.pub.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("event: failed to publish (non-fatal)")
		return
	}
	p.log.Debug().Str("subject", subject).Str("event_id", ev.ID).Msg("event: published")
}
