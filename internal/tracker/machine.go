package tracker

import (
	"fmt"
	"time"

	"paytrack/internal/stories/payment"
)

// Phase of the expiry countdown.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseCountingDown Phase = "counting_down"
	PhaseNearExpiry   Phase = "near_expiry"
	PhaseExpired      Phase = "expired"
)

// ViewKind selects which screen the page renders.
type ViewKind string

const (
	ViewLoading    ViewKind = "loading"
	ViewPending    ViewKind = "pending"
	ViewProcessing ViewKind = "processing"
	ViewCompleted  ViewKind = "completed"
	ViewTerminal   ViewKind = "terminal"
)

const expiredCountdown = "00:00:00"

// Transition is the outcome of a single countdown tick.
type Transition struct {
	Phase            Phase
	Countdown        string
	ShowEarlyRetry   bool
	OpenExpiredModal bool
}

// View is everything the page needs to render one payment.
type View struct {
	PaymentID        string
	Kind             ViewKind
	Snapshot         *payment.Snapshot
	Phase            Phase
	Countdown        string
	ShowEarlyRetry   bool
	ExpiredModalOpen bool
	Retrying         bool
	RetryError       string
	LoadError        string
	Copied           map[CopyKind]bool
}

// Machine is the payment status state machine of one tracking session.
// It performs no I/O and is not safe for concurrent use.
type Machine struct {
	paymentID        string
	earlyRetryWindow time.Duration

	snapshot *payment.Snapshot

	phase          Phase
	countdown      string
	showEarlyRetry bool
	modalOpen      bool
	modalShown     bool

	retrying   bool
	retryError string
	loadError  string
}

func NewMachine(paymentID string, earlyRetryWindow time.Duration) *Machine {
	return &Machine{
		paymentID:        paymentID,
		earlyRetryWindow: earlyRetryWindow,
		phase:            PhaseIdle,
	}
}

func (m *Machine) PaymentID() string {
	return m.paymentID
}

// Snapshot returns the active snapshot, nil while loading.
func (m *Machine) Snapshot() *payment.Snapshot {
	return m.snapshot
}

// Apply replaces the active snapshot when s supersedes it and reports whether
// it did. Snapshots of other payments are never merged in.
func (m *Machine) Apply(s *payment.Snapshot) bool {
	if s == nil || s.PaymentID != m.paymentID {
		return false
	}
	if !s.Supersedes(m.snapshot) {
		return false
	}

	m.snapshot = s
	m.loadError = ""

	if !m.Counting() {
		m.phase = PhaseIdle
		m.countdown = ""
		m.showEarlyRetry = false
	}
	if s.Status != payment.StatusPending {
		m.modalOpen = false
	}
	return true
}

// Counting reports whether the expiry countdown applies to the active snapshot.
func (m *Machine) Counting() bool {
	return m.snapshot != nil &&
		m.snapshot.Status == payment.StatusPending &&
		m.snapshot.ExpiresAt != nil
}

// Terminal reports whether the active snapshot is in a terminal status.
func (m *Machine) Terminal() bool {
	return m.snapshot != nil && m.snapshot.Status.IsTerminal()
}

// Tick recomputes the countdown for now. The expired modal is opened by the
// first tick at or past expiry and never again for this payment.
func (m *Machine) Tick(now time.Time) Transition {
	if !m.Counting() {
		m.phase = PhaseIdle
		m.countdown = ""
		m.showEarlyRetry = false
		return Transition{Phase: PhaseIdle}
	}

	remaining := m.snapshot.ExpiresAt.Sub(now) / time.Second
	var open bool

	switch {
	case remaining <= 0:
		m.phase = PhaseExpired
		m.countdown = expiredCountdown
		m.showEarlyRetry = false
		if !m.modalShown {
			m.modalShown = true
			m.modalOpen = true
			open = true
		}
	case remaining <= m.earlyRetryWindow/time.Second:
		m.phase = PhaseNearExpiry
		m.countdown = FormatCountdown(remaining * time.Second)
		m.showEarlyRetry = true
	default:
		m.phase = PhaseCountingDown
		m.countdown = FormatCountdown(remaining * time.Second)
		m.showEarlyRetry = false
	}

	return Transition{
		Phase:            m.phase,
		Countdown:        m.countdown,
		ShowEarlyRetry:   m.showEarlyRetry,
		OpenExpiredModal: open,
	}
}

// DismissModal closes the expired modal. It will not be reopened.
func (m *Machine) DismissModal() {
	m.modalOpen = false
}

// BeginRetry marks a retry as in flight. It returns false when one already is.
func (m *Machine) BeginRetry() bool {
	if m.retrying {
		return false
	}
	m.retrying = true
	m.retryError = ""
	return true
}

// EndRetry clears the in-flight flag after a failed retry. The modal and the
// expired state are left untouched so the user can try again.
func (m *Machine) EndRetry(message string) {
	m.retrying = false
	m.retryError = message
}

func (m *Machine) Retrying() bool {
	return m.retrying
}

// SetLoadError records a failed refresh. The last good snapshot stays active.
func (m *Machine) SetLoadError(message string) {
	m.loadError = message
}

func (m *Machine) View() View {
	v := View{
		PaymentID:  m.paymentID,
		Kind:       kindOf(m.snapshot),
		Snapshot:   m.snapshot,
		Phase:      PhaseIdle,
		Retrying:   m.retrying,
		RetryError: m.retryError,
		LoadError:  m.loadError,
	}

	// a non-pending status renders without any countdown leftovers
	if v.Kind == ViewPending {
		v.Phase = m.phase
		v.Countdown = m.countdown
		v.ShowEarlyRetry = m.showEarlyRetry
		v.ExpiredModalOpen = m.modalOpen
	}
	return v
}

func kindOf(s *payment.Snapshot) ViewKind {
	if s == nil {
		return ViewLoading
	}
	switch s.Status {
	case payment.StatusPending:
		return ViewPending
	case payment.StatusProcessing:
		return ViewProcessing
	case payment.StatusCompleted:
		return ViewCompleted
	default:
		return ViewTerminal
	}
}

// FormatCountdown renders d as zero padded HH:MM:SS, truncated to whole seconds.
func FormatCountdown(d time.Duration) string {
	if d <= 0 {
		return expiredCountdown
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
}
