package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// MessageHandler processes one message. Returning a PermanentError commits the message anyway.
type MessageHandler func(ctx context.Context, msg *IncomingMessage) error

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	// MaxAttempts bounds handler calls per message before it is left uncommitted.
	MaxAttempts int
	RetryDelay  time.Duration
}

// Consumer reads a topic in a consumer group and commits each message after its handler succeeds.
type Consumer struct {
	reader  reader
	topic   string
	logger  ectologger.Logger
	handler MessageHandler
	cfg     ConsumerConfig
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

func NewConsumer(cfg ConsumerConfig, logger ectologger.Logger, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(r, cfg, logger, handler)
}

func newConsumer(r reader, cfg ConsumerConfig, logger ectologger.Logger, handler MessageHandler) *Consumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	return &Consumer{
		reader:  r,
		topic:   cfg.Topic,
		logger:  logger,
		handler: handler,
		cfg:     cfg,
	}
}

// Start begins consuming in a background goroutine.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic": c.topic,
		"group": c.cfg.ConsumerGroup,
	}).Info("Kafka consumer started")
	return nil
}

// Stop cancels the loop, waits for the in-flight message and closes the reader.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.WithContext(ctx).Info("Consumer loop stopping")
				return
			}
			c.logger.WithContext(ctx).WithError(err).Error("Failed to fetch message")
			continue
		}
		c.processMessage(ctx, msg)
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) {
	incoming := newIncomingMessage(msg)
	ctx = tracing.ExtractTraceParent(ctx, incoming.TraceParent())
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.processMessage")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	err := c.handle(ctx, incoming)
	var permanent *PermanentError
	switch {
	case err == nil:
		metrics.RecordKafkaConsume(c.topic, "success")
	case errors.As(err, &permanent):
		log.WithError(err).Warn("Dropping message that cannot be processed")
		metrics.RecordKafkaConsume(c.topic, "dropped")
	default:
		// left uncommitted so the group redelivers it after a restart or rebalance
		log.WithError(err).Error("Failed to process message (not committing)")
		metrics.RecordKafkaConsume(c.topic, "error")
		return
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.WithError(err).Error("Failed to commit message")
	}
}

func (c *Consumer) handle(ctx context.Context, msg *IncomingMessage) error {
	var err error
	delay := c.cfg.RetryDelay
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		err = c.handler(ctx, msg)
		var permanent *PermanentError
		if err == nil || errors.As(err, &permanent) || attempt == c.cfg.MaxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
