package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/litapp/billing-service/internal/models"
	"github.com/segmentio/kafka-go"
)

// BillingTrigger is the slice of the billing service the consumer drives.
type BillingTrigger interface {
	EndCall(ctx context.Context, callID string) (*models.BillingResult, error)
	Tip(ctx context.Context, fromUserID, toUserID, stars int64, tipType models.TransactionType, battleID, livePartyID string) error
	AwardBattleReward(ctx context.Context, userID, stars int64, battleID string) error
}

type Consumer struct {
	reader  *kafka.Reader
	billing BillingTrigger
}

func NewConsumer(brokers []string, topic, groupID string, billing BillingTrigger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		billing: billing,
	}
}

// Consume drains billable events produced by the call and live-party
// services. Events that fail to parse are logged and skipped; the billing
// entry points themselves are idempotent, so redelivery is safe.
func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		slog.Info("Kafka message received", "topic", msg.Topic, "key", string(msg.Key))

		var event struct {
			EventType   string `json:"event_type"`
			CallID      string `json:"call_id,omitempty"`
			FromUserID  int64  `json:"from_user_id,omitempty"`
			ToUserID    int64  `json:"to_user_id,omitempty"`
			UserID      int64  `json:"user_id,omitempty"`
			Stars       int64  `json:"stars,omitempty"`
			BattleID    string `json:"battle_id,omitempty"`
			LivePartyID string `json:"live_party_id,omitempty"`
		}
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			slog.Error("failed to unmarshal billing event", "error", err)
			continue
		}

		switch event.EventType {
		case "call_ended":
			if event.CallID == "" {
				slog.Error("invalid call_ended event: missing call_id")
				continue
			}
			if _, err := c.billing.EndCall(ctx, event.CallID); err != nil {
				slog.Error("failed to bill ended call", "call_id", event.CallID, "error", err)
				continue
			}

		case "battle_tip":
			if err := c.billing.Tip(ctx, event.FromUserID, event.ToUserID, event.Stars, models.TypeBattleTip, event.BattleID, ""); err != nil {
				slog.Error("failed to process battle tip", "from_user_id", event.FromUserID, "error", err)
				continue
			}

		case "liveparty_tip":
			if err := c.billing.Tip(ctx, event.FromUserID, event.ToUserID, event.Stars, models.TypeLivePartyTip, "", event.LivePartyID); err != nil {
				slog.Error("failed to process live party tip", "from_user_id", event.FromUserID, "error", err)
				continue
			}

		case "battle_reward":
			if err := c.billing.AwardBattleReward(ctx, event.UserID, event.Stars, event.BattleID); err != nil {
				slog.Error("failed to award battle reward", "user_id", event.UserID, "error", err)
				continue
			}

		default:
			slog.Error("unknown billing event type", "type", event.EventType)
			continue
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
