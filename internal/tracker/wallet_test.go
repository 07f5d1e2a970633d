package tracker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paytrack/internal/metrics"
)

const walletURI = "bitcoin:bc1qexample?amount=0.001"

func newTestWallet(client *fakeClient, clock *fakeClock) *WalletOpener {
	m := metrics.New(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	copies := NewCopyHelper(client, clock, 2*time.Second, nil, m, logger)
	return NewWalletOpener(client, client, copies, clock, time.Second, m, logger)
}

func openAsync(ctx context.Context, w *WalletOpener) <-chan WalletOutcome {
	out := make(chan WalletOutcome, 1)
	go func() { out <- w.Open(ctx, walletURI) }()
	return out
}

func TestWalletOpenerHandledWhenPageHides(t *testing.T) {
	clock := newFakeClock()
	client := &fakeClient{}
	w := newTestWallet(client, clock)

	out := openAsync(context.Background(), w)
	require.Eventually(t, func() bool { return clock.OneShot() == 1 }, time.Second, time.Millisecond)

	client.SetHidden(true)
	assert.Equal(t, WalletHandled, <-out)
	assert.Equal(t, []string{walletURI}, client.opened)

	clock.Advance(time.Second)
	assert.Empty(t, client.Clipboard())
}

func TestWalletOpenerFallsBackWhenStillVisible(t *testing.T) {
	clock := newFakeClock()
	client := &fakeClient{}
	w := newTestWallet(client, clock)

	out := openAsync(context.Background(), w)
	require.Eventually(t, func() bool { return clock.OneShot() == 1 }, time.Second, time.Millisecond)

	clock.Advance(999 * time.Millisecond)
	select {
	case o := <-out:
		t.Fatalf("decided before the grace period: %s", o)
	default:
	}

	clock.Advance(time.Millisecond)
	assert.Equal(t, WalletFallback, <-out)
	assert.Equal(t, []string{walletURI}, client.Clipboard())
}

func TestWalletOpenerHiddenAtDeadline(t *testing.T) {
	clock := newFakeClock()
	client := &fakeClient{}
	w := newTestWallet(client, clock)

	out := openAsync(context.Background(), w)
	require.Eventually(t, func() bool { return clock.OneShot() == 1 }, time.Second, time.Millisecond)

	// hidden state reported without a transition event
	client.mu.Lock()
	client.hidden = true
	client.mu.Unlock()

	clock.Advance(time.Second)
	assert.Equal(t, WalletHandled, <-out)
	assert.Empty(t, client.Clipboard())
}

func TestWalletOpenerCanceled(t *testing.T) {
	clock := newFakeClock()
	client := &fakeClient{}
	w := newTestWallet(client, clock)

	ctx, cancel := context.WithCancel(context.Background())
	out := openAsync(ctx, w)
	require.Eventually(t, func() bool { return clock.OneShot() == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.Equal(t, WalletCanceled, <-out)
	assert.Zero(t, clock.Pending())
	assert.Empty(t, client.Clipboard())
}
