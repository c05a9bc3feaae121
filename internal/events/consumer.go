package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/fjod/atomic-storefront/pkg/logger"
)

const DefaultGroupID = "storefront-events-tail"

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer follows the order topic and hands every order_placed event to a
// callback. Malformed messages and other event types are skipped.
type Consumer struct {
	reader messageReader
	log    *logrus.Entry
}

// NewConsumer tails topic as a member of groupID. Empty values pick the
// package defaults.
func NewConsumer(brokers []string, topic, groupID string, log *logrus.Entry) *Consumer {
	if topic == "" {
		topic = DefaultTopic
	}
	if groupID == "" {
		groupID = DefaultGroupID
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(reader, log)
}

func newConsumer(reader messageReader, log *logrus.Entry) *Consumer {
	if log == nil {
		log = logger.Discard()
	}
	return &Consumer{reader: reader, log: log}
}

// Run blocks until ctx is done or handle fails. Read errors are logged and
// the loop continues.
func (c *Consumer) Run(ctx context.Context, handle func(context.Context, OrderPlaced) error) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.processMessage(ctx, handle); err != nil {
			return err
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) processMessage(ctx context.Context, handle func(context.Context, OrderPlaced) error) error {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil
		}
		c.log.WithError(err).Warn("error reading message")
		return nil
	}

	if t := eventType(m); t != "" && t != EventTypeOrderPlaced {
		return nil
	}

	var event OrderPlaced
	if err := json.Unmarshal(m.Value, &event); err != nil {
		c.log.WithError(err).WithField("offset", m.Offset).Warn("error parsing message")
		return nil
	}
	if event.OrderID == "" {
		c.log.WithField("offset", m.Offset).Warn("order event without order_id")
		return nil
	}

	if err := handle(ctx, event); err != nil {
		return fmt.Errorf("handling order %s: %w", event.OrderID, err)
	}
	return nil
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}
