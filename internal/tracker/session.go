package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"paytrack/internal/metrics"
	"paytrack/internal/stories/payment"
)

var (
	ErrRetryInFlight = errors.New("retry already in flight")
	ErrSessionClosed = errors.New("session closed")
	ErrUnknownKind   = errors.New("unknown copy kind")
	ErrNothingToCopy = errors.New("nothing to copy")
)

// Settings are the timings of a tracking session.
type Settings struct {
	PollInterval          time.Duration
	TickInterval          time.Duration
	EarlyRetryWindow      time.Duration
	CopyResetAfter        time.Duration
	WalletFallbackAfter   time.Duration
	StopPollingOnTerminal bool
}

// Deps are shared by every session of a Manager.
type Deps struct {
	Source    StatusSource
	Retrier   Retrier
	Push      PushSubscriber // optional
	Notifier  Notifier       // optional
	Localizer Localizer
	Clock     Clock
	Metrics   *metrics.Tracker
	Logger    *slog.Logger
}

// Session tracks one payment for one open page. It owns the active snapshot,
// the poll and countdown timers, the copy indicators and the push
// subscription, and tears all of them down on Close.
type Session struct {
	id        string
	paymentID string
	lang      string
	client    Client
	deps      Deps
	settings  Settings
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	copies *CopyHelper
	wallet *WalletOpener

	mu          sync.Mutex
	machine     *Machine
	gen         uint64
	closed      bool
	settled     bool
	lastSeen    time.Time
	cancelPoll  func()
	cancelTick  func()
	unsubscribe func() error
}

func newSession(id, paymentID, lang string, client Client, deps Deps, settings Settings) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        id,
		paymentID: paymentID,
		lang:      lang,
		client:    client,
		deps:      deps,
		settings:  settings,
		logger:    deps.Logger.With("session_id", id, "payment_id", paymentID),
		ctx:       ctx,
		cancel:    cancel,
		machine:   NewMachine(paymentID, settings.EarlyRetryWindow),
		lastSeen:  deps.Clock.Now(),
	}

	gen := s.gen
	s.copies = NewCopyHelper(client, deps.Clock, settings.CopyResetAfter,
		func() { s.mutate(gen, func(*Machine) bool { return true }) },
		deps.Metrics, s.logger)
	s.wallet = NewWalletOpener(client, client, s.copies, deps.Clock,
		settings.WalletFallbackAfter, deps.Metrics, s.logger)

	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) PaymentID() string {
	return s.paymentID
}

func (s *Session) Lang() string {
	return s.lang
}

// Client returns the page this session drives.
func (s *Session) Client() Client {
	return s.client
}

// Start seeds the session with the last journaled snapshot, subscribes to the
// push channel, polls once and schedules the timers.
func (s *Session) Start(ctx context.Context) error {
	gen := s.generation()

	last, err := s.deps.Source.LastKnown(ctx, s.paymentID)
	if err != nil {
		s.logger.Warn("Failed to load last known snapshot", "error", err)
	}
	if last != nil {
		s.mutate(gen, func(m *Machine) bool {
			// a payment that had settled before this page opened is not news
			s.settled = last.Status.IsTerminal()
			return s.applyLocked(m, last)
		})
	}

	if s.deps.Push != nil {
		unsubscribe, err := s.deps.Push.Subscribe(s.ctx, s.paymentID,
			func(snap *payment.Snapshot) { s.onPush(gen, snap) },
			func(err error) { s.logger.Warn("Push channel error", "error", err) })
		if err != nil {
			// polling alone keeps the page correct
			s.logger.Warn("Failed to subscribe to push channel", "error", err)
		} else {
			s.mu.Lock()
			closed := s.closed
			if !closed {
				s.unsubscribe = unsubscribe
			}
			s.mu.Unlock()
			if closed {
				_ = unsubscribe()
				return ErrSessionClosed
			}
		}
	}

	s.poll(gen)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen {
		return ErrSessionClosed
	}
	if s.settings.StopPollingOnTerminal && s.machine.Terminal() {
		return nil
	}
	cancel, err := s.deps.Clock.Every(s.settings.PollInterval, func() { s.poll(gen) })
	if err != nil {
		return fmt.Errorf("schedule poll: %w", err)
	}
	s.cancelPoll = cancel
	return nil
}

func (s *Session) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Session) alive(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && gen == s.gen
}

// mutate runs fn against the machine unless the session moved past gen, keeps
// the timers in line with the new state and renders when fn reports a change.
// It returns false when the update was discarded.
func (s *Session) mutate(gen uint64, fn func(m *Machine) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || gen != s.gen {
		return false
	}
	if !fn(s.machine) {
		return true
	}
	s.syncTimersLocked(gen)
	s.client.Render(s.viewLocked())
	return true
}

func (s *Session) syncTimersLocked(gen uint64) {
	if s.machine.Counting() {
		if s.cancelTick == nil {
			cancel, err := s.deps.Clock.Every(s.settings.TickInterval, func() { s.tick(gen) })
			if err != nil {
				s.logger.Error("Failed to schedule countdown", "error", err)
			} else {
				s.cancelTick = cancel
			}
		}
	} else if s.cancelTick != nil {
		s.cancelTick()
		s.cancelTick = nil
	}

	if s.settings.StopPollingOnTerminal && s.machine.Terminal() && s.cancelPoll != nil {
		s.cancelPoll()
		s.cancelPoll = nil
		s.logger.Debug("Payment settled, polling stopped", "status", s.machine.Snapshot().Status)
	}
}

// applyLocked feeds snap into the machine and ticks at once so the countdown
// never shows a value from the previous snapshot.
func (s *Session) applyLocked(m *Machine, snap *payment.Snapshot) bool {
	if !m.Apply(snap) {
		return false
	}
	if m.Counting() {
		s.observeTick(m.Tick(s.deps.Clock.Now()))
	}
	if snap.Status.IsTerminal() && !s.settled {
		s.settled = true
		s.deps.Metrics.SettledPayments.WithLabelValues(string(snap.Status)).Inc()
		s.notify(snap)
	}
	return true
}

func (s *Session) observeTick(tr Transition) {
	if tr.OpenExpiredModal {
		s.deps.Metrics.ExpiredModals.Inc()
		s.logger.Info("Payment expired, retry offered")
	}
}

func (s *Session) notify(snap *payment.Snapshot) {
	if s.deps.Notifier == nil {
		return
	}
	if snap.Status != payment.StatusCompleted && snap.Status != payment.StatusFailed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.deps.Notifier.PaymentSettled(context.WithoutCancel(s.ctx), snap); err != nil {
			s.logger.Warn("Failed to send settlement notification", "error", err)
		}
	}()
}

func (s *Session) poll(gen uint64) {
	if !s.alive(gen) {
		return
	}

	snap, err := s.deps.Source.FetchStatus(s.ctx, s.paymentID)
	if err != nil {
		if !s.alive(gen) {
			return
		}
		s.deps.Metrics.Polls.WithLabelValues("error").Inc()
		s.logger.Warn("Failed to poll payment status", "error", err)

		key := "tracker.errors.load_failed"
		if errors.Is(err, payment.ErrNotFound) {
			key = "tracker.errors.not_found"
		}
		msg := s.deps.Localizer.Get(s.lang, key, nil)
		s.mutate(gen, func(m *Machine) bool {
			m.SetLoadError(msg)
			return true
		})
		return
	}

	s.deps.Metrics.Polls.WithLabelValues("ok").Inc()
	s.mutate(gen, func(m *Machine) bool { return s.applyLocked(m, snap) })
}

func (s *Session) onPush(gen uint64, snap *payment.Snapshot) {
	accepted := false
	s.mutate(gen, func(m *Machine) bool {
		accepted = s.applyLocked(m, snap)
		return accepted
	})

	outcome := "stale"
	if accepted {
		outcome = "applied"
	}
	s.deps.Metrics.PushUpdates.WithLabelValues(outcome).Inc()
}

func (s *Session) tick(gen uint64) {
	now := s.deps.Clock.Now()
	s.mutate(gen, func(m *Machine) bool {
		s.observeTick(m.Tick(now))
		return true
	})
}

// Retry asks for a replacement payment. Only one request may be in flight;
// the modal and the early retry button both land here. On failure the
// message is shown inside the modal, which stays open.
func (s *Session) Retry(ctx context.Context, bearerToken string) (string, error) {
	gen := s.generation()

	started := false
	if !s.mutate(gen, func(m *Machine) bool {
		started = m.BeginRetry()
		return started
	}) {
		return "", ErrSessionClosed
	}
	if !started {
		return "", ErrRetryInFlight
	}

	newID, err := s.deps.Retrier.Retry(ctx, s.paymentID, bearerToken)
	if err != nil {
		s.deps.Metrics.Retries.WithLabelValues("error").Inc()
		s.logger.Warn("Retry failed", "error", err)

		msg := s.retryMessage(err)
		s.mutate(gen, func(m *Machine) bool {
			m.EndRetry(msg)
			return true
		})
		return "", err
	}

	s.deps.Metrics.Retries.WithLabelValues("ok").Inc()
	s.logger.Info("Replacement payment created", "new_payment_id", newID)
	return newID, nil
}

func (s *Session) retryMessage(err error) string {
	var rerr *payment.RetryError
	if errors.As(err, &rerr) && rerr.Message != "" {
		return rerr.Message
	}
	return s.deps.Localizer.Get(s.lang, "tracker.errors.retry_failed", nil)
}

// DismissModal closes the expired modal for good.
func (s *Session) DismissModal() error {
	if !s.mutate(s.generation(), func(m *Machine) bool {
		m.DismissModal()
		return true
	}) {
		return ErrSessionClosed
	}
	return nil
}

// Copy puts the payment detail of kind on the clipboard. A clipboard failure
// is not an error: the indicator just stays down.
func (s *Session) Copy(ctx context.Context, kind CopyKind) error {
	if !kind.Valid() {
		return ErrUnknownKind
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	text := copyText(s.machine.Snapshot(), kind)
	s.mu.Unlock()

	if text == "" {
		return ErrNothingToCopy
	}

	// a pending write ends with the session
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.copies.Copy(ctx, kind, text)
	return nil
}

// OpenWallet follows the payment URI in the background, falling back to a
// clipboard copy when no wallet picks it up.
func (s *Session) OpenWallet() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	uri := copyText(s.machine.Snapshot(), CopyURI)
	s.wg.Add(1)
	s.mu.Unlock()

	if uri == "" {
		s.wg.Done()
		return ErrNothingToCopy
	}

	go func() {
		defer s.wg.Done()
		s.wallet.Open(s.ctx, uri)
	}()
	return nil
}

func copyText(snap *payment.Snapshot, kind CopyKind) string {
	if snap == nil {
		return ""
	}
	c := snap.Crypto
	switch kind {
	case CopyAmount:
		if c != nil && c.Amount != "" {
			return c.Amount
		}
		return formatMinor(snap.AmountCents)
	case CopyAddress:
		if c != nil {
			return c.PaymentAddress
		}
	case CopyURI:
		if c != nil {
			return c.PaymentURI
		}
	case CopyHash:
		if c != nil {
			return c.TransactionHash
		}
	}
	return ""
}

func formatMinor(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	frac := strconv.FormatInt(cents%100, 10)
	if len(frac) == 1 {
		frac = "0" + frac
	}
	return sign + strconv.FormatInt(cents/100, 10) + "." + frac
}

// View returns the current page state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	v := s.machine.View()
	v.Copied = s.copies.Indicators()
	return v
}

// Touch records client activity.
func (s *Session) Touch() {
	now := s.deps.Clock.Now()
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops every timer and the push subscription. Results of requests
// still in flight are discarded when they arrive.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	if s.cancelPoll != nil {
		s.cancelPoll()
		s.cancelPoll = nil
	}
	if s.cancelTick != nil {
		s.cancelTick()
		s.cancelTick = nil
	}
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	s.cancel()
	s.copies.Stop()
	if unsubscribe != nil {
		if err := unsubscribe(); err != nil {
			s.logger.Warn("Failed to unsubscribe from push channel", "error", err)
		}
	}
	s.wg.Wait()
	s.logger.Debug("Session closed")
}
