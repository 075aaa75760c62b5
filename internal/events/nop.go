package events

import (
	"context"

	"go.uber.org/zap"
)

// NopPublisher logs events at debug level and drops them. It stands in for
// RabbitMQ when EVENTS_ENABLED is false.
type NopPublisher struct {
	log *zap.Logger
}

// NewNopPublisher creates a publisher that never talks to a broker
func NewNopPublisher(log *zap.Logger) *NopPublisher {
	return &NopPublisher{log: log}
}

func (p *NopPublisher) PublishBookCreated(ctx context.Context, isbn, title string, itemCount int) error {
	p.log.Debug("Event dropped", zap.String("event_type", EventTypeBookCreated), zap.String("isbn", isbn))
	return nil
}

func (p *NopPublisher) PublishCartCheckedOut(ctx context.Context, username string, isbns []string) error {
	p.log.Debug("Event dropped", zap.String("event_type", EventTypeCartCheckedOut), zap.String("username", username))
	return nil
}

func (p *NopPublisher) PublishBooksReturned(ctx context.Context, uniqueID string, isbns []string) error {
	p.log.Debug("Event dropped", zap.String("event_type", EventTypeBooksReturned), zap.String("unique_id", uniqueID))
	return nil
}

func (p *NopPublisher) PublishUserRegistered(ctx context.Context, username, uniqueID string) error {
	p.log.Debug("Event dropped", zap.String("event_type", EventTypeUserRegistered), zap.String("username", username))
	return nil
}

// IsHealthy is always true; there is no connection to lose
func (p *NopPublisher) IsHealthy() bool {
	return true
}

func (p *NopPublisher) Close() error {
	return nil
}
