// Package bus provides the event bus used to decouple the task engine,
// agent lifecycle, and gateway coordinator.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
)

// Event is a message on the bus. Data is a flat map so payloads survive
// JSON transport over NATS unchanged.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent builds an event with a fresh id and UTC timestamp.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler processes a delivered event.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is an active listener on a subject pattern.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus abstracts the transport. Subjects use NATS conventions:
// dot-separated tokens with "*" (one token) and ">" (rest) wildcards.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler EventHandler) (Subscription, error)
	QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error)
	Close()
	IsConnected() bool
}

// Provide returns a NATS-backed bus when url is set, otherwise the
// in-process bus.
func Provide(url string, log *logger.Logger) (EventBus, error) {
	if url == "" {
		return NewMemoryEventBus(log), nil
	}
	return NewNATSEventBus(url, log)
}
