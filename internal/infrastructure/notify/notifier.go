package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/litapp/billing-service/internal/infrastructure/kafka"
)

// Notifier delivers user-facing messages. Delivery is best-effort: failures
// are logged and never escalated to the caller.
type Notifier interface {
	NotifyUser(ctx context.Context, userID int64, message string) error
}

// KafkaNotifier publishes notifications onto a topic the messaging service
// consumes.
type KafkaNotifier struct {
	producer kafka.KafkaProducer
	topic    string
}

func NewKafkaNotifier(producer kafka.KafkaProducer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

func (n *KafkaNotifier) NotifyUser(ctx context.Context, userID int64, message string) error {
	event := map[string]interface{}{
		"event_type": "user_notification",
		"user_id":    userID,
		"message":    message,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
	value, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal notification", "user_id", userID, "error", err)
		return nil
	}
	if err := n.producer.Send(ctx, n.topic, fmt.Sprintf("%d", userID), value); err != nil {
		slog.Error("failed to send notification", "user_id", userID, "error", err)
	}
	return nil
}
