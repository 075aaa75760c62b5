package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	exchangeName = "library.events"
	exchangeType = "topic"

	// Event types
	EventTypeBookCreated    = "book.created"
	EventTypeCartCheckedOut = "cart.checked_out"
	EventTypeBooksReturned  = "books.returned"
	EventTypeUserRegistered = "user.registered"

	eventVersion = "1.0.0"

	// Retry configuration
	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
	confirmTimeout = 5 * time.Second

	// confirmBuffer absorbs confirms that arrive after their publish gave up
	// waiting, so the connection reader never blocks on the listener.
	confirmBuffer = 64
)

var (
	errNotAcked       = errors.New("event not acknowledged")
	errConfirmTimeout = errors.New("confirmation timeout")
	errConfirmsClosed = errors.New("confirmation channel closed")
)

// confirmChannel is the part of *amqp.Channel the publisher needs
type confirmChannel interface {
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher handles event publishing to RabbitMQ. Publishes are serialized:
// each one waits for its own broker confirm before the next goes out.
type Publisher struct {
	conn        *amqp.Connection
	channel     confirmChannel
	log         *zap.Logger
	confirmWait time.Duration

	mu       sync.Mutex
	confirms chan amqp.Confirmation
	tag      uint64
}

// Event represents a domain event
type Event struct {
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type"`
	EventVersion  string                 `json:"event_version"`
	Timestamp     string                 `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
}

// NewPublisher creates a new event publisher
func NewPublisher(url string, log *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		exchangeName,
		exchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Enable publisher confirms
	if err := channel.Confirm(false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	log.Info("Connected to RabbitMQ", zap.String("exchange", exchangeName))

	return newPublisher(conn, channel, log), nil
}

// newPublisher registers the channel's single confirm listener
func newPublisher(conn *amqp.Connection, channel confirmChannel, log *zap.Logger) *Publisher {
	return &Publisher{
		conn:        conn,
		channel:     channel,
		log:         log,
		confirmWait: confirmTimeout,
		confirms:    channel.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer)),
	}
}

// PublishBookCreated publishes a book created event
func (p *Publisher) PublishBookCreated(ctx context.Context, isbn, title string, itemCount int) error {
	event := newEvent(ctx, EventTypeBookCreated, map[string]interface{}{
		"isbn":       isbn,
		"title":      title,
		"item_count": itemCount,
	})
	return p.publishWithRetry(ctx, EventTypeBookCreated, event)
}

// PublishCartCheckedOut publishes the ISBNs a user just borrowed
func (p *Publisher) PublishCartCheckedOut(ctx context.Context, username string, isbns []string) error {
	event := newEvent(ctx, EventTypeCartCheckedOut, map[string]interface{}{
		"username": username,
		"isbns":    isbns,
	})
	return p.publishWithRetry(ctx, EventTypeCartCheckedOut, event)
}

// PublishBooksReturned publishes the ISBNs a user handed back
func (p *Publisher) PublishBooksReturned(ctx context.Context, uniqueID string, isbns []string) error {
	event := newEvent(ctx, EventTypeBooksReturned, map[string]interface{}{
		"unique_id": uniqueID,
		"isbns":     isbns,
	})
	return p.publishWithRetry(ctx, EventTypeBooksReturned, event)
}

// PublishUserRegistered publishes a new account
func (p *Publisher) PublishUserRegistered(ctx context.Context, username, uniqueID string) error {
	event := newEvent(ctx, EventTypeUserRegistered, map[string]interface{}{
		"username":  username,
		"unique_id": uniqueID,
	})
	return p.publishWithRetry(ctx, EventTypeUserRegistered, event)
}

func newEvent(ctx context.Context, eventType string, payload map[string]interface{}) Event {
	return Event{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		CorrelationID: CorrelationID(ctx),
		Payload:       payload,
	}
}

// publishWithRetry publishes an event with exponential backoff retry
func (p *Publisher) publishWithRetry(ctx context.Context, routingKey string, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		p.log.Error("Failed to marshal event", zap.Error(err))
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	backoff := initialBackoff
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
		}

		err := p.publishOnce(ctx, routingKey, event, body)
		if err == nil {
			p.log.Info("Event published",
				zap.String("event_id", event.EventID),
				zap.String("event_type", event.EventType),
				zap.String("routing_key", routingKey),
			)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		p.log.Warn("Failed to publish event, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	p.log.Error("Failed to publish event after retries",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.Int("attempts", maxRetries),
		zap.Error(lastErr),
	)
	return fmt.Errorf("failed to publish event after %d attempts: %w", maxRetries, lastErr)
}

// publishOnce sends one message and waits for the broker to confirm it.
// Delivery tags count successful publishes on the channel, so confirms with
// an older tag belong to attempts that already timed out and are skipped.
func (p *Publisher) publishOnce(ctx context.Context, routingKey string, event Event, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.channel.PublishWithContext(
		ctx,
		exchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			Timestamp:     time.Now(),
			MessageId:     event.EventID,
			CorrelationId: event.CorrelationID,
			Body:          body,
			Headers: amqp.Table{
				"event_type":    event.EventType,
				"event_version": event.EventVersion,
			},
		},
	)
	if err != nil {
		return err
	}
	p.tag++
	tag := p.tag

	timeout := time.NewTimer(p.confirmWait)
	defer timeout.Stop()

	for {
		select {
		case confirm, ok := <-p.confirms:
			if !ok {
				return errConfirmsClosed
			}
			if confirm.DeliveryTag < tag {
				continue
			}
			if !confirm.Ack {
				return errNotAcked
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return errConfirmTimeout
		}
	}
}

// IsHealthy checks if the publisher connection is healthy
func (p *Publisher) IsHealthy() bool {
	return p.conn != nil && !p.conn.IsClosed()
}

// Close closes the publisher connection
func (p *Publisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.Error("Failed to close channel", zap.Error(err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.log.Error("Failed to close connection", zap.Error(err))
			return err
		}
	}
	p.log.Info("Publisher closed")
	return nil
}
