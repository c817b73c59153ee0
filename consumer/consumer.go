// Package consumer reads JSON events from Kafka in batches.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	kafka "github.com/segmentio/kafka-go"
)

// Reader is the subset of *kafka.Reader used by BatchConsumer.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler processes one decoded batch.
type Handler[E any] func(ctx context.Context, batch []E) error

const (
	DefaultBatchSize = 100
	DefaultBatchWait = time.Second
)

type options struct {
	batchSize int
	batchWait time.Duration
	logger    zerolog.Logger
}

type Option func(*options)

// WithBatchSize caps the number of messages per batch.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithBatchWait bounds how long a started batch waits for more messages.
func WithBatchWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.batchWait = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// BatchConsumer delivers messages at least once. Offsets are committed
// only after the handler accepted the batch.
type BatchConsumer[E any] struct {
	reader Reader
	handle Handler[E]
	options
}

func New[E any](r Reader, h Handler[E], opts ...Option) *BatchConsumer[E] {
	o := options{
		batchSize: DefaultBatchSize,
		batchWait: DefaultBatchWait,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &BatchConsumer[E]{reader: r, handle: h, options: o}
}

// Run consumes until ctx is done, which is not an error. A handler or
// commit failure stops the consumer without committing the batch so that
// it is delivered again after a restart.
func (c *BatchConsumer[E]) Run(ctx context.Context) error {
	for {
		msgs, err := c.fetchBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch messages: %w", err)
		}
		if err := c.process(ctx, msgs); err != nil {
			return err
		}
	}
}

func (c *BatchConsumer[E]) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	msgs := []kafka.Message{first}

	waitCtx, cancel := context.WithTimeout(ctx, c.batchWait)
	defer cancel()

	for len(msgs) < c.batchSize {
		m, err := c.reader.FetchMessage(waitCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (c *BatchConsumer[E]) process(ctx context.Context, msgs []kafka.Message) error {
	batch := make([]E, 0, len(msgs))
	for _, m := range msgs {
		var ev E
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			c.logger.Warn().Err(err).
				Str("topic", m.Topic).
				Int("partition", m.Partition).
				Int64("offset", m.Offset).
				Msg("skipping undecodable message")
			continue
		}
		batch = append(batch, ev)
	}

	if len(batch) > 0 {
		if err := c.handle(ctx, batch); err != nil {
			return fmt.Errorf("handle batch of %d events: %w", len(batch), err)
		}
	}

	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("commit %d messages: %w", len(msgs), err)
	}
	c.logger.Debug().Int("messages", len(msgs)).Int("events", len(batch)).Msg("batch committed")
	return nil
}

// Close closes the reader.
func (c *BatchConsumer[E]) Close() error {
	return c.reader.Close()
}

// NewKafkaReader returns a consumer group reader that never commits on its
// own.
func NewKafkaReader(brokers []string, groupID, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
}
