package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cuongbtq/mortgage-recon/internal/events"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ListenWakeups turns job.enqueued deliveries into immediate polls until ctx is done or the
// delivery channel closes. Polling stays the source of truth, so a missed message only delays work.
func (s *Scheduler) ListenWakeups(ctx context.Context, deliveries <-chan amqp.Delivery) {
	s.logger.Info("Wake-up listener started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Wake-up listener stopped - context canceled")
			return
		case <-s.stopChan:
			s.logger.Info("Wake-up listener stopped - scheduler stopping")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				s.logger.Warn("RabbitMQ delivery channel closed")
				return
			}
			s.handleDelivery(delivery)
		}
	}
}

func (s *Scheduler) handleDelivery(delivery amqp.Delivery) {
	var ev events.Event
	if err := json.Unmarshal(delivery.Body, &ev); err != nil {
		s.logger.Error("Failed to parse message JSON",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		// Malformed messages go to the dead-letter exchange
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			s.logger.Error("Failed to NACK malformed message",
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	if ev.Type != events.JobEnqueued {
		_ = delivery.Ack(false)
		return
	}

	if _, err := uuid.Parse(ev.JobID); err != nil {
		s.logger.Error("Invalid job_id format - not a UUID",
			slog.String("job_id", ev.JobID),
			slog.String("error", err.Error()),
		)
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			s.logger.Error("Failed to NACK message with invalid job_id",
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	if err := delivery.Ack(false); err != nil {
		s.logger.Warn("Failed to ACK wake-up message",
			slog.String("job_id", ev.JobID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Debug("Wake-up received",
		slog.String("job_id", ev.JobID),
		slog.String("application_id", ev.ApplicationID),
	)
	s.Wake()
}
