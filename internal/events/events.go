// Package events publishes domain events to a RabbitMQ topic exchange.
package events

import (
	"context"
	"time"

	"archboard/api/internal/metrics"
	"archboard/api/internal/util"

	"go.uber.org/zap"
)

const ExchangeName = "archboard.events"

// Routing keys.
const (
	DecisionPublished        = "decision.published"
	DecisionApproved         = "decision.approved"
	DecisionChangesRequested = "decision.changes_requested"
	DecisionQuestion         = "decision.question"
	TemplateApplied          = "template.applied"
	MilestoneOverdue         = "milestone.overdue"
)

// Event is the JSON body of every message.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"projectId,omitempty"`
	ActorID    string         `json:"actorId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       map[string]any `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards events; it is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Bus stamps, publishes and accounts for events. Publish failures are logged
// and counted, never returned: events must not fail the write that caused
// them.
type Bus struct {
	pub     Publisher
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewBus(pub Publisher, logger *zap.Logger) *Bus {
	if pub == nil {
		pub = Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{pub: pub, logger: logger.Named("events"), timeout: 5 * time.Second, now: time.Now}
}

func (b *Bus) Emit(ctx context.Context, routingKey, projectID, actorID string, data map[string]any) {
	if b == nil {
		return
	}
	ev := Event{
		ID:         util.NewID("evt"),
		Type:       routingKey,
		ProjectID:  projectID,
		ActorID:    actorID,
		OccurredAt: b.now().UTC(),
		Data:       data,
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()

	err := b.pub.Publish(ctx, ev)
	metrics.RecordEvent(routingKey, err)
	if err != nil {
		b.logger.Warn("publish event failed",
			zap.String("routing_key", routingKey),
			zap.String("event_id", ev.ID),
			zap.Error(err))
	}
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	return b.pub.Close()
}
