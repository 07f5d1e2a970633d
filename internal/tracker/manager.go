package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyPaymentID  = errors.New("empty payment id")
)

// Manager keeps the open tracking sessions.
type Manager struct {
	deps     Deps
	settings Settings
	logger   *slog.Logger
	newID    func() string

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(deps Deps, settings Settings) *Manager {
	return &Manager{
		deps:     deps,
		settings: settings,
		logger:   deps.Logger.With("component", "tracker"),
		newID:    uuid.NewString,
		sessions: make(map[string]*Session),
	}
}

// Open starts tracking paymentID for a freshly opened page.
func (m *Manager) Open(ctx context.Context, paymentID string, client Client, lang string) (*Session, error) {
	if paymentID == "" {
		return nil, ErrEmptyPaymentID
	}

	deps := m.deps
	deps.Logger = m.logger
	s := newSession(m.newID(), paymentID, lang, client, deps, m.settings)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	m.deps.Metrics.ActiveSessions.Inc()

	if err := s.Start(ctx); err != nil {
		m.Close(s.ID())
		return nil, fmt.Errorf("start session: %w", err)
	}

	m.logger.Info("Tracking session opened", "session_id", s.ID(), "payment_id", paymentID)
	return s, nil
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close tears the session down. Closing an unknown session is a no-op.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if !ok {
		return
	}
	s.Close()
	m.deps.Metrics.ActiveSessions.Dec()
	m.logger.Debug("Tracking session closed", "session_id", sessionID, "payment_id", s.PaymentID())
}

// Retry replaces the session's payment. The old session is torn down before
// the page is sent to the new payment so nothing bound to the old id fires
// after navigation.
func (m *Manager) Retry(ctx context.Context, sessionID, bearerToken string) (string, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return "", err
	}

	newID, err := s.Retry(ctx, bearerToken)
	if err != nil {
		return "", err
	}

	m.Close(sessionID)
	if err := s.client.NavigateToPayment(newID); err != nil {
		m.logger.Warn("Failed to navigate to replacement payment",
			"session_id", sessionID,
			"new_payment_id", newID,
			"error", err)
	}
	return newID, nil
}

// CloseIdle closes sessions without client activity for longer than idle.
func (m *Manager) CloseIdle(idle time.Duration) int {
	cutoff := m.deps.Clock.Now().Add(-idle)

	m.mu.RLock()
	stale := lo.Filter(lo.Values(m.sessions), func(s *Session, _ int) bool {
		return s.LastSeen().Before(cutoff)
	})
	m.mu.RUnlock()

	for _, s := range stale {
		m.Close(s.ID())
	}
	return len(stale)
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	ids := lo.Keys(m.sessions)
	m.mu.RUnlock()

	for _, id := range ids {
		m.Close(id)
	}
	m.logger.Info("All tracking sessions closed", "count", len(ids))
}
