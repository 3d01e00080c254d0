package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/synaptica-ai/curator/pkg/common/config"
	"github.com/synaptica-ai/curator/pkg/common/logger"
	"github.com/synaptica-ai/curator/pkg/common/models"
	"github.com/synaptica-ai/curator/pkg/gateway/httpclient"
)

const (
	defaultHandlerAttempts = 5
	defaultHandlerBackoff  = 200 * time.Millisecond
)

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type eventPublisher interface {
	Publish(ctx context.Context, event models.Event) error
}

type Consumer struct {
	reader   messageReader
	dlq      eventPublisher
	attempts int
	backoff  time.Duration
}

type EventHandler func(ctx context.Context, event models.Event) error

func NewConsumer(topic string, groupID string) *Consumer {
	cfg := config.Load()
	if groupID == "" {
		groupID = cfg.KafkaGroupID
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	return newConsumer(reader)
}

func newConsumer(reader messageReader) *Consumer {
	return &Consumer{
		reader:   reader,
		attempts: defaultHandlerAttempts,
		backoff:  defaultHandlerBackoff,
	}
}

// WithDeadLetter routes events whose handler keeps failing to the given
// producer and commits them instead of retrying forever.
func (c *Consumer) WithDeadLetter(p *Producer) *Consumer {
	if p != nil {
		c.dlq = p
	}
	return c
}

// WithRetry sets how often a failing handler is retried, and the initial
// backoff, before the event goes to the dead-letter topic.
func (c *Consumer) WithRetry(attempts int, backoff time.Duration) *Consumer {
	if attempts > 0 {
		c.attempts = attempts
	}
	if backoff > 0 {
		c.backoff = backoff
	}
	return c
}

// Consume handles messages in offset order. A message is committed only
// after its handler succeeded or it was parked on the dead-letter topic, and
// the next message is not fetched before then.
func (c *Consumer) Consume(ctx context.Context, handler EventHandler) error {
	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			logger.Log.WithError(err).Error("Failed to fetch message")
			continue
		}

		var event models.Event
		if err := json.Unmarshal(message.Value, &event); err != nil {
			logger.Log.WithError(err).Error("Failed to unmarshal event")
			c.commit(ctx, message)
			continue
		}

		if err := c.process(ctx, handler, event); err != nil {
			return err
		}
		c.commit(ctx, message)
	}
}

// process returns nil once event is handled or dead-lettered, and an error
// only when ctx ends.
func (c *Consumer) process(ctx context.Context, handler EventHandler, event models.Event) error {
	for {
		err := httpclient.Retry(ctx, c.attempts, c.backoff, func() error {
			return handler(ctx, event)
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		entry := logger.Log.WithError(err).WithFields(map[string]interface{}{
			"event_id":   event.ID,
			"event_type": event.Type,
			"attempts":   c.attempts,
		})
		if c.dlq != nil {
			dlqErr := c.dlq.Publish(ctx, event)
			if dlqErr == nil {
				entry.Error("Failed to process event, sent to dead-letter topic")
				return nil
			}
			entry = entry.WithField("dlq_error", dlqErr.Error())
		}
		entry.Error("Failed to process event, retrying")

		select {
		case <-time.After(c.backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Consumer) commit(ctx context.Context, message kafka.Message) {
	if err := c.reader.CommitMessages(ctx, message); err != nil {
		logger.Log.WithError(err).Error("Failed to commit message")
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
