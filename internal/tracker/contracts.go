package tracker

import (
	"context"
	"time"

	"paytrack/internal/stories/payment"
)

type (
	// StatusSource fetches and remembers payment snapshots
	StatusSource interface {
		FetchStatus(ctx context.Context, paymentID string) (*payment.Snapshot, error)
		LastKnown(ctx context.Context, paymentID string) (*payment.Snapshot, error)
	}

	// Retrier creates a replacement payment
	Retrier interface {
		Retry(ctx context.Context, paymentID, bearerToken string) (string, error)
	}

	// PushSubscriber delivers snapshots published on the payment channel
	PushSubscriber interface {
		Subscribe(
			ctx context.Context,
			paymentID string,
			onUpdate func(*payment.Snapshot),
			onError func(error),
		) (func() error, error)
	}

	// Notifier is told once when a session sees a payment settle
	Notifier interface {
		PaymentSettled(ctx context.Context, s *payment.Snapshot) error
	}

	// Localizer resolves user facing messages
	Localizer interface {
		Get(lang, key string, params map[string]interface{}) string
	}

	// Clock owns every timer a session starts
	Clock interface {
		Now() time.Time
		// Every runs fn each d until cancel is called. The first run is after d.
		Every(d time.Duration, fn func()) (cancel func(), err error)
		// AfterFunc runs fn once after d unless stop is called first.
		AfterFunc(d time.Duration, fn func()) (stop func() bool)
	}
)

// ClipboardPort writes text to the user's clipboard.
type ClipboardPort interface {
	WriteText(ctx context.Context, text string) error
}

// VisibilityPort reports whether the page is in the background.
type VisibilityPort interface {
	Hidden() bool
	// NextHidden is closed the next time the page becomes hidden.
	NextHidden() <-chan struct{}
}

// Navigator moves the page elsewhere.
type Navigator interface {
	Open(uri string) error
	NavigateToPayment(paymentID string) error
}

// Client is the page a session drives. Render must not block.
type Client interface {
	ClipboardPort
	VisibilityPort
	Navigator
	Render(View)
}
