// Package event publishes commerce domain events to Kafka. Publishing is
// fire-and-log: a broker outage never fails the operation that produced the
// event.
package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/feldrin/BookstoreGo/internal/domain"
	pkgkafka "github.com/feldrin/BookstoreGo/pkg/kafka"
)

// Kafka topic constants for commerce domain events.
const (
	TopicOrderPaid      = "commerce.order.paid"
	TopicOrderCancelled = "commerce.order.cancelled"
	TopicOrderRefunded  = "commerce.order.refunded"
	TopicDownloadIssued = "commerce.download.issued"
)

// Aggregate type constants.
const (
	AggregateTypeOrder    = "order"
	AggregateTypeDownload = "download_link"
)

// Source identifier for events originating from this service.
const SourceCommerce = "commerce-service"

// Publisher is the event-publishing seam injected into services.
type Publisher interface {
	PublishOrderPaid(ctx context.Context, order *domain.Order) error
	PublishOrderCancelled(ctx context.Context, order *domain.Order, reason string) error
	PublishOrderRefunded(ctx context.Context, order *domain.Order, refundID string) error
	PublishDownloadIssued(ctx context.Context, link *domain.DownloadLink) error
}

// OrderPaidData is the payload for an order.paid event. The notification
// consumer uses it to send the purchase confirmation email.
type OrderPaidData struct {
	OrderID       string `json:"order_id"`
	UserID        string `json:"user_id"`
	CustomerEmail string `json:"customer_email"`
	Total         int64  `json:"total"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"payment_method"`
	ItemCount     int    `json:"item_count"`
}

// OrderCancelledData is the payload for an order.cancelled event.
type OrderCancelledData struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Reason  string `json:"reason,omitempty"`
}

// OrderRefundedData is the payload for an order.refunded event.
type OrderRefundedData struct {
	OrderID  string `json:"order_id"`
	UserID   string `json:"user_id"`
	RefundID string `json:"refund_id,omitempty"`
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
}

// DownloadIssuedData is the payload for a download.issued event.
type DownloadIssuedData struct {
	LinkID    string `json:"link_id"`
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	UserID    string `json:"user_id"`
}

// Producer publishes commerce domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishOrderPaid publishes an order.paid event.
func (p *Producer) PublishOrderPaid(ctx context.Context, order *domain.Order) error {
	data := OrderPaidData{
		OrderID:       order.ID,
		UserID:        order.UserID,
		CustomerEmail: order.CustomerEmail,
		Total:         order.Total,
		Currency:      order.Currency,
		PaymentMethod: order.PaymentMethod,
		ItemCount:     len(order.Items),
	}
	return p.publish(ctx, TopicOrderPaid, order.ID, AggregateTypeOrder, data)
}

// PublishOrderCancelled publishes an order.cancelled event.
func (p *Producer) PublishOrderCancelled(ctx context.Context, order *domain.Order, reason string) error {
	data := OrderCancelledData{
		OrderID: order.ID,
		UserID:  order.UserID,
		Reason:  reason,
	}
	return p.publish(ctx, TopicOrderCancelled, order.ID, AggregateTypeOrder, data)
}

// PublishOrderRefunded publishes an order.refunded event.
func (p *Producer) PublishOrderRefunded(ctx context.Context, order *domain.Order, refundID string) error {
	data := OrderRefundedData{
		OrderID:  order.ID,
		UserID:   order.UserID,
		RefundID: refundID,
		Total:    order.Total,
		Currency: order.Currency,
	}
	return p.publish(ctx, TopicOrderRefunded, order.ID, AggregateTypeOrder, data)
}

// PublishDownloadIssued publishes a download.issued event.
func (p *Producer) PublishDownloadIssued(ctx context.Context, link *domain.DownloadLink) error {
	data := DownloadIssuedData{
		LinkID:    link.ID,
		OrderID:   link.OrderID,
		ProductID: link.ProductID,
		UserID:    link.UserID,
	}
	return p.publish(ctx, TopicDownloadIssued, link.ID, AggregateTypeDownload, data)
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	evt, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceCommerce, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published domain event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}

// NopPublisher discards events. It backs tests and the local development
// mode where no broker is running.
type NopPublisher struct{}

func (NopPublisher) PublishOrderPaid(context.Context, *domain.Order) error { return nil }

func (NopPublisher) PublishOrderCancelled(context.Context, *domain.Order, string) error { return nil }

func (NopPublisher) PublishOrderRefunded(context.Context, *domain.Order, string) error { return nil }

func (NopPublisher) PublishDownloadIssued(context.Context, *domain.DownloadLink) error { return nil }
