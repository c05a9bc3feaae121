package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/fjod/atomic-storefront/internal/domain"
	"github.com/fjod/atomic-storefront/pkg/logger"
)

const (
	DefaultTopic         = "storefront-orders"
	EventTypeOrderPlaced = "order_placed"

	// publishBatchTimeout flushes single events right away instead of
	// waiting for the writer's one second batch window.
	publishBatchTimeout = 10 * time.Millisecond
)

// Publisher announces committed orders. Delivery is best effort.
type Publisher interface {
	PublishOrderPlaced(ctx context.Context, order domain.Order) error
	Close() error
}

// OrderPlaced is the event payload.
type OrderPlaced struct {
	OrderID    string                `json:"order_id"`
	Items      []domain.CartItem     `json:"items"`
	ItemCount  int                   `json:"item_count"`
	Delivery   domain.DeliveryMethod `json:"delivery_method"`
	Payment    domain.PaymentMethod  `json:"payment_method"`
	FinalTotal float64               `json:"final_total"`
	Currency   string                `json:"currency"`
	PlacedAt   time.Time             `json:"placed_at"`
}

// NewOrderPlaced builds the event for a committed order.
func NewOrderPlaced(order domain.Order, currency string) OrderPlaced {
	count := 0
	for _, it := range order.Items {
		count += it.Quantity
	}
	return OrderPlaced{
		OrderID:    order.ID,
		Items:      order.Items,
		ItemCount:  count,
		Delivery:   order.DeliveryInfo.Method,
		Payment:    order.PaymentInfo.Method,
		FinalTotal: order.FinalTotal,
		Currency:   currency,
		PlacedAt:   order.Date,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes order events keyed by order id.
type KafkaPublisher struct {
	writer   messageWriter
	currency string
}

// NewKafkaPublisher targets topic, DefaultTopic when empty.
func NewKafkaPublisher(brokers []string, topic, currency string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           publishBatchTimeout,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w, currency: currency}
}

func (p *KafkaPublisher) PublishOrderPlaced(ctx context.Context, order domain.Order) error {
	payload, err := json.Marshal(NewOrderPlaced(order, p.currency))
	if err != nil {
		return fmt.Errorf("failed to marshal order event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(order.ID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventTypeOrderPlaced)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish order event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	log      *logrus.Entry
	currency string
}

// NewLogPublisher logs events through log. A nil log discards them.
func NewLogPublisher(log *logrus.Entry, currency string) *LogPublisher {
	if log == nil {
		log = logger.Discard()
	}
	return &LogPublisher{log: log, currency: currency}
}

func (p *LogPublisher) PublishOrderPlaced(ctx context.Context, order domain.Order) error {
	ev := NewOrderPlaced(order, p.currency)
	logger.FromContext(ctx, p.log).WithFields(logrus.Fields{
		"event_type":  EventTypeOrderPlaced,
		"order_id":    ev.OrderID,
		"item_count":  ev.ItemCount,
		"final_total": ev.FinalTotal,
	}).Info("order placed")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
