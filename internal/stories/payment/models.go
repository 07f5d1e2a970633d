package payment

import (
	"errors"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transition is expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s belongs to the closed status set.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusProcessing || s.IsTerminal()
}

// Rank orders statuses along the only allowed direction of travel.
func (s Status) Rank() int {
	switch {
	case s == StatusPending:
		return 0
	case s == StatusProcessing:
		return 1
	case s.IsTerminal():
		return 2
	default:
		return -1
	}
}

var ErrNotFound = errors.New("payment not found")

// RetryError is returned when the backend refuses to create a replacement payment.
// Message is the user facing text sent by the backend, possibly empty.
type RetryError struct {
	StatusCode int
	Message    string
}

func (e *RetryError) Error() string {
	if e.Message == "" {
		return "retry rejected"
	}
	return "retry rejected: " + e.Message
}

type Crypto struct {
	Currency              string
	Network               string
	Amount                string
	PaymentAddress        string
	PaymentURI            string
	TransactionHash       string
	BlockchainURL         string
	Confirmations         int
	RequiredConfirmations int
	MinConfirmations      int
}

type Payable struct {
	Name     string
	Interval string
}

// Snapshot is a point-in-time payment status record. It is replaced wholesale
// on every update and never mutated after construction.
type Snapshot struct {
	PaymentID   string
	Status      Status
	ExpiresAt   *time.Time
	AmountCents int64
	Currency    string
	Crypto      *Crypto
	Payable     *Payable
	UpdatedAt   time.Time
	FetchedAt   time.Time
}

func (s *Snapshot) confirmations() int {
	if s.Crypto == nil {
		return 0
	}
	return s.Crypto.Confirmations
}

// Supersedes reports whether s may replace prev for the same payment.
// Statuses only move forward, a terminal status is final, confirmations never
// go down and an update older than prev (by server time) is ignored.
func (s *Snapshot) Supersedes(prev *Snapshot) bool {
	if prev == nil {
		return true
	}
	if s.PaymentID != prev.PaymentID {
		return false
	}
	if s.Status.Rank() < prev.Status.Rank() {
		return false
	}
	if prev.Status.IsTerminal() && s.Status != prev.Status {
		return false
	}
	if s.Status == prev.Status && s.confirmations() < prev.confirmations() {
		return false
	}
	if !s.UpdatedAt.IsZero() && !prev.UpdatedAt.IsZero() && s.UpdatedAt.Before(prev.UpdatedAt) {
		return false
	}
	return true
}

// AccessGranted is true once the subscriber may use the purchase: on completion,
// or while processing once the minimum confirmations are in.
func (s *Snapshot) AccessGranted() bool {
	if s.Status == StatusCompleted {
		return true
	}
	if s.Status != StatusProcessing || s.Crypto == nil {
		return false
	}
	return s.Crypto.MinConfirmations > 0 && s.Crypto.Confirmations >= s.Crypto.MinConfirmations
}

// ConfirmationProgress returns confirmations against finality in percent, 0..100.
func (s *Snapshot) ConfirmationProgress() int {
	if s.Crypto == nil || s.Crypto.RequiredConfirmations <= 0 {
		return 0
	}
	p := s.Crypto.Confirmations * 100 / s.Crypto.RequiredConfirmations
	if p > 100 {
		return 100
	}
	return p
}

// RetryLink records that a replacement payment was created for an expired one.
type RetryLink struct {
	OldPaymentID string
	NewPaymentID string
	CreatedAt    time.Time
}
