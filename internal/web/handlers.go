package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"

	"paytrack/internal/stories/payment"
	"paytrack/internal/tracker"
)

const maxRequestBody = 4 << 10

type Handler struct {
	tracker   Tracker
	localizer Localizer
	render    *renderer
	heartbeat time.Duration
	logger    *slog.Logger
}

type Options struct {
	PlansURL  string
	Heartbeat time.Duration
}

func NewHandler(t Tracker, localizer Localizer, opts Options, logger *slog.Logger) (*Handler, error) {
	r, err := newRenderer(localizer, opts.PlansURL)
	if err != nil {
		return nil, err
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	return &Handler{
		tracker:   t,
		localizer: localizer,
		render:    r,
		heartbeat: opts.Heartbeat,
		logger:    logger,
	}, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

type retryResponse struct {
	PaymentID string `json:"payment_id"`
	URL       string `json:"url"`
}

type visibilityRequest struct {
	Hidden bool `json:"hidden"`
}

type clipboardResultRequest struct {
	OK bool `json:"ok"`
}

type cryptoResponse struct {
	Currency              string `json:"currency"`
	Network               string `json:"network"`
	Amount                string `json:"amount"`
	PaymentAddress        string `json:"payment_address"`
	PaymentURI            string `json:"payment_uri,omitempty"`
	TransactionHash       string `json:"transaction_hash,omitempty"`
	BlockchainURL         string `json:"blockchain_url,omitempty"`
	Confirmations         int    `json:"confirmations"`
	RequiredConfirmations int    `json:"required_confirmations"`
	MinConfirmations      int    `json:"min_confirmations"`
}

type stateResponse struct {
	SessionID            string          `json:"session_id"`
	PaymentID            string          `json:"payment_id"`
	View                 string          `json:"view"`
	Status               string          `json:"status,omitempty"`
	AmountCents          int64           `json:"amount_cents,omitempty"`
	Currency             string          `json:"currency,omitempty"`
	Crypto               *cryptoResponse `json:"crypto,omitempty"`
	Phase                string          `json:"phase"`
	Countdown            string          `json:"countdown,omitempty"`
	ShowEarlyRetry       bool            `json:"show_early_retry"`
	ExpiredModalOpen     bool            `json:"expired_modal_open"`
	Retrying             bool            `json:"retrying"`
	RetryError           string          `json:"retry_error,omitempty"`
	LoadError            string          `json:"load_error,omitempty"`
	AccessGranted        bool            `json:"access_granted"`
	ConfirmationProgress int             `json:"confirmation_progress"`
	Copied               map[string]bool `json:"copied"`
}

func newStateResponse(sessionID string, v tracker.View) stateResponse {
	resp := stateResponse{
		SessionID:        sessionID,
		PaymentID:        v.PaymentID,
		View:             string(v.Kind),
		Phase:            string(v.Phase),
		Countdown:        v.Countdown,
		ShowEarlyRetry:   v.ShowEarlyRetry,
		ExpiredModalOpen: v.ExpiredModalOpen,
		Retrying:         v.Retrying,
		RetryError:       v.RetryError,
		LoadError:        v.LoadError,
		Copied:           make(map[string]bool, len(v.Copied)),
	}
	for k, copied := range v.Copied {
		resp.Copied[string(k)] = copied
	}

	s := v.Snapshot
	if s == nil {
		return resp
	}
	resp.Status = string(s.Status)
	resp.AmountCents = s.AmountCents
	resp.Currency = s.Currency
	resp.AccessGranted = s.AccessGranted()
	resp.ConfirmationProgress = s.ConfirmationProgress()
	if c := s.Crypto; c != nil {
		resp.Crypto = &cryptoResponse{
			Currency:              c.Currency,
			Network:               c.Network,
			Amount:                c.Amount,
			PaymentAddress:        c.PaymentAddress,
			PaymentURI:            c.PaymentURI,
			TransactionHash:       c.TransactionHash,
			BlockchainURL:         c.BlockchainURL,
			Confirmations:         c.Confirmations,
			RequiredConfirmations: c.RequiredConfirmations,
			MinConfirmations:      c.MinConfirmations,
		}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// lang prefers an explicit ?lang= over Accept-Language.
func (h *Handler) lang(r *http.Request) string {
	if l := strings.ToLower(r.URL.Query().Get("lang")); l != "" && h.localizer.Supported(l) {
		return l
	}
	return h.localizer.Match(r.Header.Get("Accept-Language"))
}

// session resolves {sessionID} and records client activity.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*tracker.Session, bool) {
	s, err := h.tracker.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	s.Touch()
	return s, true
}

func bridgeOf(s *tracker.Session) (*Bridge, bool) {
	b, ok := s.Client().(*Bridge)
	return b, ok
}

// page opens a tracking session and renders it.
func (h *Handler) page(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")
	lang := h.lang(r)

	bridge := NewBridge(h.logger.With("payment_id", paymentID))
	s, err := h.tracker.Open(r.Context(), paymentID, bridge, lang)
	if err != nil {
		h.logger.Error("Failed to open tracking session", "payment_id", paymentID, "error", err)
		http.Error(w, h.localizer.Get(lang, "tracker.errors.load_failed", nil), http.StatusInternalServerError)
		return
	}

	body, err := h.render.Page(s.ID(), lang, s.View())
	if err != nil {
		h.logger.Error("Failed to render page", "session_id", s.ID(), "error", err)
		h.tracker.Close(s.ID())
		http.Error(w, h.localizer.Get(lang, "tracker.errors.load_failed", nil), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(body)
}

func (h *Handler) state(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(s.ID(), s.View()))
}

func (h *Handler) retry(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	newID, err := h.tracker.Retry(r.Context(), s.ID(), token)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, retryResponse{PaymentID: newID, URL: paymentPath(newID)})
	case errors.Is(err, tracker.ErrRetryInFlight):
		writeError(w, http.StatusConflict, "retry already in progress")
	case errors.Is(err, tracker.ErrSessionClosed), errors.Is(err, tracker.ErrSessionNotFound):
		writeError(w, http.StatusGone, "session closed")
	default:
		// the page shows the localized message through its state
		status := http.StatusBadGateway
		var rerr *payment.RetryError
		if errors.As(err, &rerr) && rerr.StatusCode >= 400 && rerr.StatusCode < 500 {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, s.View().RetryError)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}

func (h *Handler) dismissModal(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.DismissModal(); err != nil {
		writeError(w, http.StatusGone, "session closed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) copy(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	err := s.Copy(r.Context(), tracker.CopyKind(chi.URLParam(r, "kind")))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, tracker.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, "unknown copy kind")
	case errors.Is(err, tracker.ErrNothingToCopy):
		writeError(w, http.StatusConflict, "nothing to copy")
	default:
		writeError(w, http.StatusGone, "session closed")
	}
}

// clipboardResult receives the page's outcome for a clipboard instruction.
func (h *Handler) clipboardResult(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req clipboardResultRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	b, ok := bridgeOf(s)
	if !ok || !b.ClipboardResult(chi.URLParam(r, "requestID"), req.OK) {
		writeError(w, http.StatusNotFound, "no pending clipboard write")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) openWallet(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	err := s.OpenWallet()
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, tracker.ErrNothingToCopy):
		writeError(w, http.StatusConflict, "no wallet link for this payment")
	default:
		writeError(w, http.StatusGone, "session closed")
	}
}

func (h *Handler) visibility(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req visibilityRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if b, ok := bridgeOf(s); ok {
		b.SetHidden(req.Hidden)
	}
	w.WriteHeader(http.StatusNoContent)
}

// close handles page unload. Unknown sessions are fine: the beacon may race the reaper.
func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	h.tracker.Close(chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}
