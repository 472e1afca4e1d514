package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/jcmexdev/campus-market/internal/core/domain"
)

// KafkaSink forwards events to Kafka, one topic per event name, so
// downstream consumers (notifications, leaderboards) subscribe to exactly
// the transitions they care about. Send errors are logged and dropped;
// the originating transition is already committed.
type KafkaSink struct {
	producer sarama.SyncProducer
}

func NewKafkaSink(brokers []string) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &KafkaSink{producer: producer}, nil
}

func (s *KafkaSink) Attach(bus *Bus) {
	bus.Subscribe("*", s.handle)
}

func (s *KafkaSink) handle(ctx context.Context, event domain.Event) {
	raw, err := json.Marshal(envelope{Name: event.Name, At: event.At.UTC().Format(time.RFC3339Nano), Payload: event.Payload})
	if err != nil {
		slog.ErrorContext(ctx, "kafka sink: marshal event", "event", event.Name, "error", err)
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: event.Name,
		Value: sarama.ByteEncoder(raw),
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		slog.ErrorContext(ctx, "kafka sink: send", "event", event.Name, "error", err)
	}
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
