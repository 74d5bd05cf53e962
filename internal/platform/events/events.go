package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TypeReservationNotified = "reservation.notified"
	TypeFineAssessed        = "fine.assessed"
	TypeLoanIssued          = "loan.issued"
	TypeLoanReturned        = "loan.returned"
)

// Event is the envelope written to the library topic. Key is used as the
// Kafka partition key (the book id for circulation events).
type Event struct {
	Type       string         `json:"type"`
	Key        string         `json:"key"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

type kafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
	}
	return &kafkaPublisher{writer: w}
}

// toMessage wraps the JSON envelope keyed by ev.Key, with the event type
// copied into a header so consumers can filter without decoding.
func toMessage(ev Event) (kafka.Message, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.Key),
		Value: body,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	}, nil
}

func (p *kafkaPublisher) Publish(ctx context.Context, ev Event) error {
	msg, err := toMessage(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Type, err)
	}
	return nil
}

func (p *kafkaPublisher) Close() error { return p.writer.Close() }

// LogPublisher only logs events. Used when kafka is disabled.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, ev Event) error {
	log.Printf("[INFO] event %s key=%s payload=%v", ev.Type, ev.Key, ev.Payload)
	return nil
}

func (LogPublisher) Close() error { return nil }
