package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"paytrack/internal/metrics"
)

// CopyKind names a copyable payment detail. Each kind has its own indicator.
type CopyKind string

const (
	CopyAmount  CopyKind = "amount"
	CopyAddress CopyKind = "address"
	CopyURI     CopyKind = "uri"
	CopyHash    CopyKind = "hash"
)

var CopyKinds = []CopyKind{CopyAmount, CopyAddress, CopyURI, CopyHash}

func (k CopyKind) Valid() bool {
	switch k {
	case CopyAmount, CopyAddress, CopyURI, CopyHash:
		return true
	default:
		return false
	}
}

// CopyHelper writes to the clipboard and keeps a "copied" indicator per kind
// that resets on its own after resetAfter.
type CopyHelper struct {
	clipboard  ClipboardPort
	clock      Clock
	resetAfter time.Duration
	onChange   func()
	metrics    *metrics.Tracker
	logger     *slog.Logger

	mu      sync.Mutex
	seq     map[CopyKind]uint64
	copied  map[CopyKind]bool
	resets  map[CopyKind]func() bool
	stopped bool
}

func NewCopyHelper(
	clipboard ClipboardPort,
	clock Clock,
	resetAfter time.Duration,
	onChange func(),
	m *metrics.Tracker,
	logger *slog.Logger,
) *CopyHelper {
	if onChange == nil {
		onChange = func() {}
	}
	return &CopyHelper{
		clipboard:  clipboard,
		clock:      clock,
		resetAfter: resetAfter,
		onChange:   onChange,
		metrics:    m,
		logger:     logger,
		seq:        make(map[CopyKind]uint64),
		copied:     make(map[CopyKind]bool),
		resets:     make(map[CopyKind]func() bool),
	}
}

// Copy writes text and raises the indicator of kind. A clipboard failure is
// only logged and leaves the indicator down; the result reports success.
func (h *CopyHelper) Copy(ctx context.Context, kind CopyKind, text string) bool {
	if err := h.clipboard.WriteText(ctx, text); err != nil {
		h.logger.Warn("Clipboard write failed", "kind", kind, "error", err)
		h.metrics.Copies.WithLabelValues(string(kind), "error").Inc()
		return false
	}
	h.metrics.Copies.WithLabelValues(string(kind), "ok").Inc()

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return true
	}
	h.seq[kind]++
	n := h.seq[kind]
	h.copied[kind] = true
	if stop := h.resets[kind]; stop != nil {
		stop()
	}
	h.resets[kind] = h.clock.AfterFunc(h.resetAfter, func() { h.reset(kind, n) })
	h.mu.Unlock()

	h.onChange()
	return true
}

// reset lowers the indicator unless kind was copied again since seq n.
func (h *CopyHelper) reset(kind CopyKind, n uint64) {
	h.mu.Lock()
	if h.stopped || h.seq[kind] != n {
		h.mu.Unlock()
		return
	}
	h.copied[kind] = false
	delete(h.resets, kind)
	h.mu.Unlock()

	h.onChange()
}

func (h *CopyHelper) Copied(kind CopyKind) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.copied[kind]
}

// Indicators returns the state of every kind.
func (h *CopyHelper) Indicators() map[CopyKind]bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[CopyKind]bool, len(CopyKinds))
	for _, k := range CopyKinds {
		out[k] = h.copied[k]
	}
	return out
}

// Stop cancels pending resets. Later copies still write but no longer flip indicators.
func (h *CopyHelper) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopped = true
	for kind, stop := range h.resets {
		stop()
		delete(h.resets, kind)
	}
}
