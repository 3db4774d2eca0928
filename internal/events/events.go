// Package events publishes processing milestones so other services and idle schedulers can react.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Routing keys
const (
	JobEnqueued         = "job.enqueued"
	ExtractionCompleted = "extraction.completed"
	ValidationCompleted = "validation.completed"
	GoldenCompleted     = "golden.completed"
)

// Event is the JSON body of every published message.
type Event struct {
	Type          string         `json:"type"`
	ApplicationID string         `json:"application_id"`
	JobID         string         `json:"job_id,omitempty"`
	DocumentID    string         `json:"document_id,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Broker is the subset of the RabbitMQ client used for publishing.
type Broker interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// BrokerPublisher sends events to a topic exchange keyed by event type.
type BrokerPublisher struct {
	broker Broker
	logger *slog.Logger
}

// NewBrokerPublisher wraps a broker client.
func NewBrokerPublisher(broker Broker, logger *slog.Logger) *BrokerPublisher {
	return &BrokerPublisher{broker: broker, logger: logger.With("component", "events")}
}

// Publish marshals ev and publishes it with ev.Type as routing key.
func (p *BrokerPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.broker.PublishWithRetry(ctx, ev.Type, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", ev.Type, err)
	}

	p.logger.Debug("Event published",
		slog.String("type", ev.Type),
		slog.String("application_id", ev.ApplicationID),
	)
	return nil
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types lists recorded event types in publish order.
func (r *Recorder) Types() []string {
	evs := r.Events()
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}
