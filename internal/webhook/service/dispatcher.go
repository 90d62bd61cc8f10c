package service

import (
	"context"
	"time"

	"github.com/pedrohperalta/openclaw-mission-control/internal/events"
	"github.com/pedrohperalta/openclaw-mission-control/internal/webhook/models"
)

// RunDispatcher drains the delivery queue until ctx is cancelled. Each
// item pauses for the configured throttle, then notifies the board
// lead; failures requeue with a capped attempt count.
func (s *Service) RunDispatcher(ctx context.Context) error {
	throttle := s.cfg.DispatchThrottle
	maxAttempts := s.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	for {
		delivery, err := s.queue.Dequeue(ctx)
		if err != nil {
			return err
		}
		if throttle > 0 {
			select {
			case <-time.After(throttle):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := s.NotifyLead(ctx, delivery); err != nil {
			delivery.Attempts++
			if delivery.Attempts >= maxAttempts {
				s.log.WithError(err).WithBoardID(delivery.BoardID).
					Warn("webhook delivery dropped after max attempts")
				continue
			}
			if !s.queue.Enqueue(delivery) {
				s.log.WithBoardID(delivery.BoardID).Warn("requeue failed, delivery dropped")
			}
		}
	}
}

// Reconcile rescues payloads that never produced a dispatch-success
// event, re-enqueueing them for the worker. It scans payloads received
// between the retention window and a short grace period, so in-flight
// deliveries are not duplicated.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	grace := s.cfg.DispatchThrottle + time.Minute
	cutoff := time.Now().UTC().Add(-s.cfg.ReconcileAfter)
	payloads, err := s.webhooks.PayloadsReceivedSince(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	rescued := 0
	for _, payload := range payloads {
		if time.Since(payload.ReceivedAt) < grace {
			continue
		}
		dispatched, err := s.activity.HasEventForPayload(ctx, events.WebhookDispatchSuccess, payload.ID)
		if err != nil {
			return rescued, err
		}
		if dispatched {
			continue
		}
		delivery := &models.Delivery{
			BoardID:    payload.BoardID,
			WebhookID:  payload.WebhookID,
			PayloadID:  payload.ID,
			ReceivedAt: payload.ReceivedAt,
		}
		if s.queue.Enqueue(delivery) {
			rescued++
		}
	}
	return rescued, nil
}

// RunReconciler runs Reconcile on a fixed interval until ctx is done.
func (s *Service) RunReconciler(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rescued, err := s.Reconcile(ctx)
			if err != nil {
				s.log.WithError(err).Warn("webhook reconciliation failed")
				continue
			}
			if rescued > 0 {
				s.log.Infof("webhook reconciliation rescued %d deliveries", rescued)
			}
		}
	}
}
