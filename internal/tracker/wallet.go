package tracker

import (
	"context"
	"log/slog"
	"time"

	"paytrack/internal/metrics"
)

// WalletOutcome tells how a deep link attempt ended.
type WalletOutcome string

const (
	// WalletHandled means the page went to the background, so a wallet app
	// most likely took over.
	WalletHandled WalletOutcome = "handled"
	// WalletFallback means nothing took over and the link was copied instead.
	WalletFallback WalletOutcome = "fallback"
	WalletCanceled WalletOutcome = "canceled"
)

// WalletOpener follows a wallet deep link and falls back to the clipboard when
// the page is still visible after a grace period. Page visibility is only a
// proxy for the wallet opening: without a hidden signal it assumes it did not.
type WalletOpener struct {
	navigator  Navigator
	visibility VisibilityPort
	copies     *CopyHelper
	clock      Clock
	grace      time.Duration
	metrics    *metrics.Tracker
	logger     *slog.Logger
}

func NewWalletOpener(
	navigator Navigator,
	visibility VisibilityPort,
	copies *CopyHelper,
	clock Clock,
	grace time.Duration,
	m *metrics.Tracker,
	logger *slog.Logger,
) *WalletOpener {
	return &WalletOpener{
		navigator:  navigator,
		visibility: visibility,
		copies:     copies,
		clock:      clock,
		grace:      grace,
		metrics:    m,
		logger:     logger,
	}
}

// Open blocks until the race between the hidden signal and the grace timer is decided.
func (w *WalletOpener) Open(ctx context.Context, uri string) WalletOutcome {
	outcome := w.open(ctx, uri)
	w.metrics.WalletOutcomes.WithLabelValues(string(outcome)).Inc()
	w.logger.Debug("Wallet link attempt finished", "outcome", outcome)
	return outcome
}

func (w *WalletOpener) open(ctx context.Context, uri string) WalletOutcome {
	// listen before navigating so an immediate hide is not missed
	hidden := w.visibility.NextHidden()

	if err := w.navigator.Open(uri); err != nil {
		w.logger.Warn("Wallet link navigation failed", "error", err)
		return w.fallback(ctx, uri)
	}

	expired := make(chan struct{})
	stop := w.clock.AfterFunc(w.grace, func() { close(expired) })
	defer stop()

	select {
	case <-hidden:
		return WalletHandled
	case <-expired:
		// a hide that raced the timer still counts
		select {
		case <-hidden:
			return WalletHandled
		default:
		}
		if w.visibility.Hidden() {
			return WalletHandled
		}
		return w.fallback(ctx, uri)
	case <-ctx.Done():
		return WalletCanceled
	}
}

func (w *WalletOpener) fallback(ctx context.Context, uri string) WalletOutcome {
	w.copies.Copy(ctx, CopyURI, uri)
	return WalletFallback
}
