package payment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Service provides payment status lookups and replacement payments
type Service struct {
	gateway Gateway
	storage Storage
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	inflight map[string]*retryCall
}

type retryCall struct {
	done    chan struct{}
	waiters int
	newID   string
	err     error
}

// NewService creates a new payment service
func NewService(gateway Gateway, storage Storage, now func() time.Time, logger *slog.Logger) *Service {
	return &Service{
		gateway:  gateway,
		storage:  storage,
		logger:   logger,
		now:      now,
		inflight: make(map[string]*retryCall),
	}
}

// FetchStatus loads the current snapshot from the backend and journals it.
// A journal failure is logged and does not fail the fetch.
func (s *Service) FetchStatus(ctx context.Context, paymentID string) (*Snapshot, error) {
	snapshot, err := s.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", paymentID, err)
	}
	if snapshot.PaymentID != paymentID {
		return nil, fmt.Errorf("get payment %s: backend answered for %s", paymentID, snapshot.PaymentID)
	}
	snapshot.FetchedAt = s.now()

	if err := s.storage.SaveSnapshot(ctx, *snapshot); err != nil {
		s.logger.Warn("Failed to journal payment snapshot",
			"payment_id", paymentID,
			"status", snapshot.Status,
			"error", err)
	}

	return snapshot, nil
}

// LastKnown returns the last journaled snapshot, or nil when none exists
func (s *Service) LastKnown(ctx context.Context, paymentID string) (*Snapshot, error) {
	snapshot, err := s.storage.GetSnapshot(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("get journaled snapshot %s: %w", paymentID, err)
	}
	return snapshot, nil
}

// Retry asks the backend for a replacement payment on behalf of bearerToken.
// Every call reaches the backend; only identical requests already in flight
// share one backend call.
func (s *Service) Retry(ctx context.Context, paymentID, bearerToken string) (string, error) {
	key := paymentID + "\x00" + bearerToken

	s.mu.Lock()
	if c, ok := s.inflight[key]; ok {
		c.waiters++
		s.mu.Unlock()
		select {
		case <-c.done:
			return c.newID, c.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	c := &retryCall{done: make(chan struct{})}
	s.inflight[key] = c
	s.mu.Unlock()

	c.newID, c.err = s.retry(ctx, paymentID, bearerToken)

	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
	close(c.done)

	return c.newID, c.err
}

func (s *Service) retry(ctx context.Context, paymentID, bearerToken string) (string, error) {
	s.logger.Info("Requesting replacement payment", "payment_id", paymentID)

	newID, err := s.gateway.RetryPayment(ctx, paymentID, bearerToken)
	if err != nil {
		return "", fmt.Errorf("retry payment %s: %w", paymentID, err)
	}

	previous, err := s.storage.GetRetryLink(ctx, paymentID)
	if err != nil {
		s.logger.Warn("Failed to look up retry lineage", "payment_id", paymentID, "error", err)
	} else if previous != nil && previous.NewPaymentID != newID {
		s.logger.Info("Payment replaced again",
			"payment_id", paymentID,
			"previous_payment_id", previous.NewPaymentID)
	}

	link := RetryLink{OldPaymentID: paymentID, NewPaymentID: newID, CreatedAt: s.now()}
	if err := s.storage.CreateRetryLink(ctx, link); err != nil {
		s.logger.Warn("Failed to record retry lineage",
			"payment_id", paymentID,
			"new_payment_id", newID,
			"error", err)
	}

	s.logger.Info("Replacement payment created", "payment_id", paymentID, "new_payment_id", newID)
	return newID, nil
}
