package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"payout-core/pkg/logging"

	"github.com/IBM/sarama"
)

// EventPublisher emits transaction lifecycle events to Kafka for
// downstream consumers (analytics, payout scheduling). Publishing is
// best-effort: a broker outage must never fail a charge.
type EventPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewEventPublisher connects a synchronous producer. An empty broker
// list returns a disabled publisher whose Publish is a no-op.
func NewEventPublisher(brokers, topic string) (*EventPublisher, error) {
	if brokers == "" {
		logging.Infof("Kafka brokers not configured, event publishing disabled")
		return &EventPublisher{topic: topic}, nil
	}

	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return &EventPublisher{producer: producer, topic: topic}, nil
}

type lifecycleEvent struct {
	Type          string      `json:"type"`
	TransactionID string      `json:"transaction_id"`
	OccurredAt    string      `json:"occurred_at"`
	Data          interface{} `json:"data,omitempty"`
}

// Publish emits one lifecycle event, keyed by transaction id so events
// for the same transaction stay ordered within a partition.
func (p *EventPublisher) Publish(eventType, transactionID string, data interface{}) {
	if p == nil || p.producer == nil {
		return
	}

	ev := lifecycleEvent{
		Type:          eventType,
		TransactionID: transactionID,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339),
		Data:          data,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		logging.Errorf("Failed to marshal lifecycle event: %v", err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(transactionID),
		Value: sarama.ByteEncoder(b),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		logging.Errorf("Failed to publish %s for %s: %v", eventType, transactionID, err)
	}
}

// Close shuts the producer down
func (p *EventPublisher) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
