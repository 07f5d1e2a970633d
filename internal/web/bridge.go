package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"paytrack/internal/tracker"
)

var (
	// ErrBridgeBusy is returned when the page is not draining instructions.
	ErrBridgeBusy = errors.New("page instruction queue is full")

	ErrClipboardRejected = errors.New("page could not write to the clipboard")
	ErrClipboardTimeout  = errors.New("page did not report the clipboard write")
)

const (
	instructionBuffer   = 16
	clipboardAckTimeout = 5 * time.Second
)

// clipboardRequest is the payload of a "clipboard" instruction. The page
// answers with the outcome under ID.
type clipboardRequest struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Instruction is a command the page script executes.
type Instruction struct {
	Event string
	Data  string
}

// Bridge is the server side stand-in for one open page. Session output is
// queued here and drained by the page's event stream, and page reports
// (visibility) are fed back in.
type Bridge struct {
	logger     *slog.Logger
	ackTimeout time.Duration

	instructions chan Instruction
	updates      chan struct{}

	mu       sync.Mutex
	latest   tracker.View
	rendered bool
	hidden   bool
	hiddenCh chan struct{}
	acks     map[string]chan bool
}

var _ tracker.Client = (*Bridge)(nil)

func NewBridge(logger *slog.Logger) *Bridge {
	return &Bridge{
		logger:       logger,
		ackTimeout:   clipboardAckTimeout,
		instructions: make(chan Instruction, instructionBuffer),
		updates:      make(chan struct{}, 1),
		acks:         make(map[string]chan bool),
	}
}

func (b *Bridge) enqueue(ins Instruction) error {
	select {
	case b.instructions <- ins:
		return nil
	default:
		b.logger.Warn("Dropping page instruction", "event", ins.Event)
		return ErrBridgeBusy
	}
}

// WriteText asks the page to copy text and waits until it reports the outcome.
// Only a confirmed write returns nil.
func (b *Bridge) WriteText(ctx context.Context, text string) error {
	req := clipboardRequest{ID: uuid.NewString(), Text: text}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode clipboard request: %w", err)
	}

	ack := make(chan bool, 1)
	b.mu.Lock()
	b.acks[req.ID] = ack
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.acks, req.ID)
		b.mu.Unlock()
	}()

	if err := b.enqueue(Instruction{Event: "clipboard", Data: string(payload)}); err != nil {
		return err
	}

	timer := time.NewTimer(b.ackTimeout)
	defer timer.Stop()

	select {
	case ok := <-ack:
		if !ok {
			return ErrClipboardRejected
		}
		return nil
	case <-timer.C:
		return ErrClipboardTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClipboardResult records the page's outcome for a clipboard request. It
// returns false when no write with that id is waiting.
func (b *Bridge) ClipboardResult(id string, ok bool) bool {
	b.mu.Lock()
	ack, found := b.acks[id]
	if found {
		delete(b.acks, id)
	}
	b.mu.Unlock()

	if found {
		ack <- ok
	}
	return found
}

func (b *Bridge) Open(uri string) error {
	return b.enqueue(Instruction{Event: "open", Data: uri})
}

func (b *Bridge) NavigateToPayment(paymentID string) error {
	return b.enqueue(Instruction{Event: "navigate", Data: paymentPath(paymentID)})
}

// Render keeps only the newest view; the stream renders whatever is latest.
func (b *Bridge) Render(v tracker.View) {
	b.mu.Lock()
	b.latest = v
	b.rendered = true
	b.mu.Unlock()

	select {
	case b.updates <- struct{}{}:
	default:
	}
}

// Latest returns the newest rendered view, false before the first render.
func (b *Bridge) Latest() (tracker.View, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.rendered
}

func (b *Bridge) Updates() <-chan struct{} {
	return b.updates
}

func (b *Bridge) Instructions() <-chan Instruction {
	return b.instructions
}

func (b *Bridge) Hidden() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hidden
}

func (b *Bridge) NextHidden() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hiddenCh == nil {
		b.hiddenCh = make(chan struct{})
	}
	return b.hiddenCh
}

// SetHidden records a visibility change reported by the page.
func (b *Bridge) SetHidden(hidden bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.hidden = hidden
	if hidden && b.hiddenCh != nil {
		close(b.hiddenCh)
		b.hiddenCh = nil
	}
}

func paymentPath(paymentID string) string {
	return "/pay/" + url.PathEscape(paymentID)
}
