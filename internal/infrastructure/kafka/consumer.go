package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Notifier is the seam for the external delivery subsystem (push/email/
// real-time). The in-tree implementation only logs; real delivery lives
// outside the engine.
type Notifier interface {
	Notify(ctx context.Context, eventType string, childID int64, detail map[string]any) error
}

type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, eventType string, childID int64, detail map[string]any) error {
	slog.Info("notification", "event_type", eventType, "child_id", childID, "detail", detail)
	return nil
}

// Consumer feeds ledger events to the notifier. A bad message or a notifier
// failure is logged and skipped; the feed never blocks ledger writes.
type Consumer struct {
	reader   *kafka.Reader
	notifier Notifier
}

func NewConsumer(brokers []string, topic, groupID string, notifier Notifier) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		notifier: notifier,
	}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		var event struct {
			ID         string         `json:"id"`
			Type       string         `json:"event_type"`
			ChildID    int64          `json:"child_id"`
			OccurredAt time.Time      `json:"occurred_at"`
			Detail     map[string]any `json:"detail"`
		}
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			slog.Error("failed to unmarshal ledger event", "error", err)
			continue
		}

		if err := c.notifier.Notify(ctx, event.Type, event.ChildID, event.Detail); err != nil {
			slog.Error("notification delivery failed", "event_id", event.ID, "event_type", event.Type, "error", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
