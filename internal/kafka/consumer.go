package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"

	"github.com/segmentio/kafka-go"
)

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

const (
	minReadBackoff = time.Second
	maxReadBackoff = 30 * time.Second
)

type Consumer struct {
	reader MessageReader
	logger *logger.Logger

	// MinBackoff and MaxBackoff bound the wait after a failed read.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// NewConsumer creates a consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, logger: log, MinBackoff: minReadBackoff, MaxBackoff: maxReadBackoff}
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(reader MessageReader, log *logger.Logger) *Consumer {
	return &Consumer{reader: reader, logger: log, MinBackoff: minReadBackoff, MaxBackoff: maxReadBackoff}
}

// Start reads availability events until ctx is cancelled. Undecodable
// messages are logged and skipped. Read errors are retried with a
// doubling backoff.
func (c *Consumer) Start(ctx context.Context, handler func(models.AvailabilityEvent)) error {
	c.logger.Info("KAFKA", "Availability consumer started")

	backoff := c.MinBackoff
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("KAFKA", fmt.Sprintf("Error reading message, retrying in %s: %v", backoff, err))
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			backoff = c.nextBackoff(backoff)
			continue
		}
		backoff = c.MinBackoff

		var event models.AvailabilityEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.Warn("KAFKA", fmt.Sprintf("Failed to unmarshal message at offset %d: %v", msg.Offset, err))
			continue
		}

		c.logger.LogKafka("RECEIVE", msg.Topic, fmt.Sprintf("%s entry #%d", event.Action, event.EntryID))
		handler(event)
	}
}

func (c *Consumer) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next <= 0 {
		next = minReadBackoff
	}
	if c.MaxBackoff > 0 && next > c.MaxBackoff {
		next = c.MaxBackoff
	}
	return next
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Close gracefully shuts down the reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
