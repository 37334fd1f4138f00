package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/brycehammond/allowance-sub012/internal/infrastructure/kafka"
	"github.com/google/uuid"
)

const Topic = "ledger-events"

type EventType string

const (
	AllowancePaid         EventType = "allowance_paid"
	AutoTransferCompleted EventType = "auto_transfer_completed"
	MilestoneAchieved     EventType = "milestone_achieved"
	GoalCompleted         EventType = "goal_completed"
	ChallengeCompleted    EventType = "challenge_completed"
	ChallengeFailed       EventType = "challenge_failed"
	GiftApproved          EventType = "gift_approved"
)

// Event is one domain occurrence for the notification subsystem. Delivery is
// best-effort: the ledger commit has already happened when an event is
// published.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"event_type"`
	ChildID    int64          `json:"child_id"`
	GoalID     int64          `json:"goal_id,omitempty"`
	Amount     int64          `json:"amount,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Detail     map[string]any `json:"detail,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// KafkaPublisher sends events to the ledger-events topic. Failures are logged
// and swallowed: the engine must not fail when the notification layer is
// unavailable.
type KafkaPublisher struct {
	producer kafka.KafkaProducer
}

func NewKafkaPublisher(producer kafka.KafkaProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal event", "event_type", event.Type, "error", err)
		return
	}
	if err := p.producer.Send(ctx, Topic, event.ChildID, payload); err != nil {
		slog.Error("failed to publish event", "event_type", event.Type, "child_id", event.ChildID, "error", err)
	}
}

// NopPublisher discards events; used where no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
