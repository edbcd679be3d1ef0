// Package events publishes campaign lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/sells-group/leadscore/internal/model"
)

// Type names a lifecycle event.
type Type string

const (
	CampaignCreated   Type = "campaign.created"
	CampaignCompleted Type = "campaign.completed"
	CampaignFailed    Type = "campaign.failed"
	CampaignDeleted   Type = "campaign.deleted"
)

// Event is one lifecycle change. Campaign is nil for deletions.
type Event struct {
	Type       Type            `json:"type"`
	CampaignID string          `json:"campaign_id"`
	Campaign   *model.Campaign `json:"campaign,omitempty"`
	Actor      string          `json:"actor,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// New builds an event stamped with the current time.
func New(t Type, campaignID string, c *model.Campaign, actor string) Event {
	return Event{Type: t, CampaignID: campaignID, Campaign: c, Actor: actor, OccurredAt: time.Now().UTC()}
}

// Publisher delivers lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to a single topic, keyed by campaign
// id so that one campaign's events stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		topic: topic,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "events: marshal")
	}

	msg := kafka.Message{
		Key:   []byte(ev.CampaignID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return eris.Wrapf(err, "events: write %s to %s", ev.Type, p.topic)
	}

	zap.L().Debug("events: published",
		zap.String("type", string(ev.Type)),
		zap.String("campaign_id", ev.CampaignID),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return eris.Wrap(p.writer.Close(), "events: close writer")
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// FromBrokers returns a Kafka publisher, or Nop when brokers is empty.
func FromBrokers(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return Nop{}
	}
	return NewKafkaPublisher(brokers, topic)
}
