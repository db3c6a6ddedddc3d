package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	Compression  string
}

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Producer publishes link events. Messages are keyed by source reference so the events of one
// source stay ordered within a partition.
type Producer struct {
	writer writer
	logger ectologger.Logger
	topic  string
}

func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}
	return newProducer(w, cfg.Topic, logger)
}

func newProducer(w writer, topic string, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: w,
		logger: logger,
		topic:  topic,
	}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishLinkEvents writes events in one batch.
func (p *Producer) PublishLinkEvents(ctx context.Context, events []models.LinkEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishLinkEvents")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	messages, err := linkEventMessages(ctx, events)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		metrics.RecordKafkaPublish(p.topic, "error", time.Since(start).Seconds())
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"batch_size": len(events),
		}).Error("Failed to publish link events")
		return err
	}
	metrics.RecordKafkaPublish(p.topic, "success", time.Since(start).Seconds())

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size": len(events),
	}).Debug("Published link events")
	return nil
}

func linkEventMessages(ctx context.Context, events []models.LinkEvent) ([]kafka.Message, error) {
	traceparent := tracing.GetTraceParent(ctx)

	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		if event.OccurredAt.IsZero() {
			event.OccurredAt = time.Now().UTC()
		}
		data, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("failed to encode link event: %w", err)
		}

		headers := []kafka.Header{
			{Key: HeaderEventType, Value: []byte(event.Type)},
			{Key: HeaderSchema, Value: []byte(schemaVersion)},
		}
		if traceparent != "" {
			headers = append(headers, kafka.Header{Key: HeaderTraceParent, Value: []byte(traceparent)})
		}
		messages[i] = kafka.Message{
			Key:     []byte(event.Source.String()),
			Value:   data,
			Headers: headers,
		}
	}
	return messages, nil
}
