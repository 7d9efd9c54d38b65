package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/providers"
)

// KafkaConfig configures the Kafka transition log
type KafkaConfig struct {
	Brokers    []string
	Topic      string
	GroupID    string
	RetryDelay time.Duration
}

// KafkaTransitionLog implements TransitionLog on a Kafka topic. Messages are
// keyed by record id so one record's transitions stay on one partition.
type KafkaTransitionLog struct {
	writer *kafka.Writer
	cfg    KafkaConfig
	reader *kafka.Reader
}

// NewKafkaTransitionLog creates the writer; the reader is created on Consume
func NewKafkaTransitionLog(cfg KafkaConfig) *KafkaTransitionLog {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &KafkaTransitionLog{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// Append writes the event synchronously
func (l *KafkaTransitionLog) Append(ctx context.Context, event *entities.ScanEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.RecordID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := l.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}
	return nil
}

// Consume fetches messages for the group and commits each only after the
// handler succeeds. A failing message is retried in place.
func (l *KafkaTransitionLog) Consume(ctx context.Context, handler providers.TransitionHandler) error {
	l.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  l.cfg.Brokers,
		Topic:    l.cfg.Topic,
		GroupID:  l.cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			return fmt.Errorf("could not fetch transition: %w", err)
		}

		var event entities.ScanEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("Dropping malformed transition message")
		} else {
			for {
				err := handler(ctx, &event)
				if err == nil {
					break
				}
				log.Warn().Err(err).Str("event_id", event.ID).Int64("offset", msg.Offset).Msg("Transition handler failed, retrying")
				if !sleepCtx(ctx, l.cfg.RetryDelay) {
					return ctx.Err()
				}
			}
		}

		if err := l.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to commit offset %d: %w", msg.Offset, err)
		}
	}
}

// Close closes the writer and any reader
func (l *KafkaTransitionLog) Close() error {
	var errs []error
	if err := l.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	if l.reader != nil {
		if err := l.reader.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
