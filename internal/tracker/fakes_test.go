package tracker

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"paytrack/internal/metrics"
	"paytrack/internal/stories/payment"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock runs timers synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers map[int]*fakeTimer
}

type fakeTimer struct {
	id    int
	at    time.Time
	every time.Duration
	fn    func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: baseTime, timers: make(map[int]*fakeTimer)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) add(d, every time.Duration, fn func()) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.timers[c.nextID] = &fakeTimer{id: c.nextID, at: c.now.Add(d), every: every, fn: fn}
	return c.nextID
}

func (c *fakeClock) remove(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.timers[id]
	delete(c.timers, id)
	return ok
}

func (c *fakeClock) Every(d time.Duration, fn func()) (func(), error) {
	id := c.add(d, d, fn)
	return func() { c.remove(id) }, nil
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) func() bool {
	id := c.add(d, 0, fn)
	return func() bool { return c.remove(id) }
}

// Advance moves time forward, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			break
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at.Equal(due[j].at) {
				return due[i].id < due[j].id
			}
			return due[i].at.Before(due[j].at)
		})
		t := due[0]
		c.now = t.at
		if t.every > 0 {
			t.at = t.at.Add(t.every)
		} else {
			delete(c.timers, t.id)
		}
		c.mu.Unlock()
		t.fn()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) OneShot() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.every == 0 {
			n++
		}
	}
	return n
}

func (c *fakeClock) Repeating() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.every > 0 {
			n++
		}
	}
	return n
}

type fakeSource struct {
	mu      sync.Mutex
	snap    *payment.Snapshot
	err     error
	last    *payment.Snapshot
	calls   int
	gate    chan struct{}
	entered chan struct{}
}

func (s *fakeSource) set(snap *payment.Snapshot, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap, s.err = snap, err
}

// hold makes the next fetches block until the returned release is called.
func (s *fakeSource) hold() (entered <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	s.entered = make(chan struct{}, 1)
	gate := s.gate
	return s.entered, func() { close(gate) }
}

func (s *fakeSource) FetchStatus(_ context.Context, _ string) (*payment.Snapshot, error) {
	s.mu.Lock()
	s.calls++
	gate, entered := s.gate, s.entered
	s.mu.Unlock()

	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, s.err
}

func (s *fakeSource) LastKnown(_ context.Context, _ string) (*payment.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, nil
}

func (s *fakeSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeRetrier struct {
	mu      sync.Mutex
	newID   string
	err     error
	calls   int
	started chan struct{}
	release chan struct{}
}

func (r *fakeRetrier) Retry(_ context.Context, _, _ string) (string, error) {
	r.mu.Lock()
	r.calls++
	started, release := r.started, r.release
	r.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newID, r.err
}

func (r *fakeRetrier) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakePush struct {
	mu           sync.Mutex
	handlers     map[string]func(*payment.Snapshot)
	unsubscribed []string
}

func (p *fakePush) Subscribe(
	_ context.Context,
	paymentID string,
	onUpdate func(*payment.Snapshot),
	_ func(error),
) (func() error, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handlers == nil {
		p.handlers = make(map[string]func(*payment.Snapshot))
	}
	p.handlers[paymentID] = onUpdate
	return func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers, paymentID)
		p.unsubscribed = append(p.unsubscribed, paymentID)
		return nil
	}, nil
}

func (p *fakePush) publish(s *payment.Snapshot) bool {
	p.mu.Lock()
	h := p.handlers[s.PaymentID]
	p.mu.Unlock()
	if h == nil {
		return false
	}
	h(s)
	return true
}

func (p *fakePush) Subscribed(paymentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.handlers[paymentID]
	return ok
}

type fakeNotifier struct {
	mu      sync.Mutex
	settled []*payment.Snapshot
}

func (n *fakeNotifier) PaymentSettled(_ context.Context, s *payment.Snapshot) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.settled = append(n.settled, s)
	return nil
}

func (n *fakeNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.settled)
}

type keyLocalizer struct{}

func (keyLocalizer) Get(_, key string, _ map[string]interface{}) string {
	return key
}

type fakeClient struct {
	mu        sync.Mutex
	views     []View
	clipboard []string
	clipErr   error
	opened    []string
	navigated []string
	hidden    bool
	hiddenCh  chan struct{}
}

func (c *fakeClient) WriteText(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clipErr != nil {
		return c.clipErr
	}
	c.clipboard = append(c.clipboard, text)
	return nil
}

func (c *fakeClient) Hidden() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hidden
}

func (c *fakeClient) NextHidden() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hiddenCh == nil {
		c.hiddenCh = make(chan struct{})
	}
	return c.hiddenCh
}

func (c *fakeClient) SetHidden(hidden bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hidden = hidden
	if hidden && c.hiddenCh != nil {
		close(c.hiddenCh)
		c.hiddenCh = nil
	}
}

func (c *fakeClient) Open(uri string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = append(c.opened, uri)
	return nil
}

func (c *fakeClient) NavigateToPayment(paymentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.navigated = append(c.navigated, paymentID)
	return nil
}

func (c *fakeClient) Render(v View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views = append(c.views, v)
}

func (c *fakeClient) LastView() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.views) == 0 {
		return View{}
	}
	return c.views[len(c.views)-1]
}

func (c *fakeClient) RenderCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.views)
}

func (c *fakeClient) Clipboard() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.clipboard...)
}

func (c *fakeClient) Navigated() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.navigated...)
}

type harness struct {
	clock    *fakeClock
	source   *fakeSource
	retrier  *fakeRetrier
	push     *fakePush
	notifier *fakeNotifier
	deps     Deps
	settings Settings
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		clock:    newFakeClock(),
		source:   &fakeSource{},
		retrier:  &fakeRetrier{},
		push:     &fakePush{},
		notifier: &fakeNotifier{},
	}
	h.deps = Deps{
		Source:    h.source,
		Retrier:   h.retrier,
		Push:      h.push,
		Notifier:  h.notifier,
		Localizer: keyLocalizer{},
		Clock:     h.clock,
		Metrics:   metrics.New(prometheus.NewRegistry()),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	h.settings = Settings{
		PollInterval:          5 * time.Second,
		TickInterval:          time.Second,
		EarlyRetryWindow:      120 * time.Second,
		CopyResetAfter:        2 * time.Second,
		WalletFallbackAfter:   time.Second,
		StopPollingOnTerminal: true,
	}
	return h
}

func (h *harness) manager() *Manager {
	return NewManager(h.deps, h.settings)
}

func pending(id string, expiresIn time.Duration) *payment.Snapshot {
	exp := baseTime.Add(expiresIn)
	return &payment.Snapshot{
		PaymentID:   id,
		Status:      payment.StatusPending,
		ExpiresAt:   &exp,
		AmountCents: 1999,
		Currency:    "USD",
		Crypto: &payment.Crypto{
			Currency:              "USDT",
			Network:               "TRC20",
			Amount:                "19.99",
			PaymentAddress:        "TXaddr",
			PaymentURI:            "tron:TXaddr?amount=19.99",
			RequiredConfirmations: 20,
			MinConfirmations:      1,
		},
	}
}

func withStatus(s *payment.Snapshot, status payment.Status) *payment.Snapshot {
	c := *s
	c.Status = status
	return &c
}
