package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fgeck/sshsource/internal/models"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
)

// MessageWriter wraps kafka.Writer for mocking.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes updates as JSON messages keyed by source name. Writes go
// through a circuit breaker so an unreachable broker fails fast instead of
// holding up every poll.
type Kafka struct {
	writer  MessageWriter
	breaker *gobreaker.CircuitBreaker
	topic   string
	logger  zerolog.Logger
}

// NewKafka creates a Kafka publisher for cfg.
func NewKafka(logger zerolog.Logger, cfg models.KafkaConfig) *Kafka {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaWithWriter(logger, writer, cfg.Topic)
}

// NewKafkaWithWriter creates a Kafka publisher with a custom writer (for testing).
func NewKafkaWithWriter(logger zerolog.Logger, writer MessageWriter, topic string) *Kafka {
	k := &Kafka{
		writer: writer,
		topic:  topic,
		logger: logger,
	}

	k.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-publisher",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			k.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return k
}

// Publish writes update to the topic.
func (k *Kafka) Publish(ctx context.Context, update models.Update) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(update.Source),
		Value: payload,
		Time:  update.Time,
		Headers: []kafka.Header{
			{Key: "update_id", Value: []byte(update.ID)},
			{Key: "kind", Value: []byte(update.Kind)},
		},
	}

	_, err = k.breaker.Execute(func() (any, error) {
		return nil, k.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("kafka publisher unavailable: %w", err)
		}
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			k.logger.Error().Str("topic", k.topic).Msg("kafka topic does not exist")
		}
		return fmt.Errorf("failed to write update to kafka: %w", err)
	}

	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
