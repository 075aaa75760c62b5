package library

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bookstore/library/internal/events"
)

const publishTimeout = 10 * time.Second

// EventPublisher emits domain events after successful mutations
type EventPublisher interface {
	PublishBookCreated(ctx context.Context, isbn, title string, itemCount int) error
	PublishCartCheckedOut(ctx context.Context, username string, isbns []string) error
	PublishBooksReturned(ctx context.Context, uniqueID string, isbns []string) error
	PublishUserRegistered(ctx context.Context, username, uniqueID string) error
}

// publishAsync runs fn in the background so a slow or absent broker never
// fails the request. The request's correlation id is carried over.
func publishAsync(ctx context.Context, log *zap.Logger, eventType string, fn func(ctx context.Context) error) {
	correlationID := events.CorrelationID(ctx)

	go func() {
		eventCtx, cancel := context.WithTimeout(events.WithCorrelationID(context.Background(), correlationID), publishTimeout)
		defer cancel()

		if err := fn(eventCtx); err != nil {
			log.Error("Failed to publish event",
				zap.String("event_type", eventType),
				zap.Error(err),
			)
		}
	}()
}
