package web

import (
	"bytes"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"sync"

	"github.com/skip2/go-qrcode"

	"paytrack/internal/stories/payment"
	"paytrack/internal/tracker"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

const qrSize = 256

type copyButton struct {
	Kind  string
	Label string
}

type pageData struct {
	Lang          string
	SessionID     string
	Kind          string
	View          tracker.View
	T             func(key string, kv ...interface{}) string
	Copy          map[string]copyButton
	QR            template.URL
	Amount        string
	Progress      int
	AccessGranted bool
	PlanName      string
	TerminalKey   string
	PlansURL      string
}

// renderer turns views into HTML. QR images are cached per payment URI.
type renderer struct {
	tmpl      *template.Template
	localizer Localizer
	plansURL  string

	mu      sync.Mutex
	qrCache map[string]template.URL
}

func newRenderer(localizer Localizer, plansURL string) (*renderer, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &renderer{
		tmpl:      tmpl,
		localizer: localizer,
		plansURL:  plansURL,
		qrCache:   make(map[string]template.URL),
	}, nil
}

func (r *renderer) data(sessionID, lang string, v tracker.View) (*pageData, error) {
	t := func(key string, kv ...interface{}) string {
		var params map[string]interface{}
		if len(kv) > 0 {
			params = make(map[string]interface{}, len(kv)/2)
			for i := 0; i+1 < len(kv); i += 2 {
				params[fmt.Sprint(kv[i])] = kv[i+1]
			}
		}
		return r.localizer.Get(lang, key, params)
	}

	d := &pageData{
		Lang:      lang,
		SessionID: sessionID,
		Kind:      string(v.Kind),
		View:      v,
		T:         t,
		Copy:      make(map[string]copyButton, len(tracker.CopyKinds)),
		PlansURL:  r.plansURL,
	}
	for _, k := range tracker.CopyKinds {
		label := t("copy.copy")
		if v.Copied[k] {
			label = t("copy.copied")
		}
		d.Copy[string(k)] = copyButton{Kind: string(k), Label: label}
	}

	s := v.Snapshot
	if s == nil {
		return d, nil
	}

	d.Amount = formatAmount(s)
	d.Progress = s.ConfirmationProgress()
	d.AccessGranted = s.AccessGranted()
	if s.Payable != nil {
		d.PlanName = s.Payable.Name
	}
	d.TerminalKey = "terminal." + string(s.Status)

	if v.Kind == tracker.ViewPending && s.Crypto != nil {
		content := s.Crypto.PaymentURI
		if content == "" {
			content = s.Crypto.PaymentAddress
		}
		if content != "" {
			qr, err := r.qr(content)
			if err != nil {
				return nil, err
			}
			d.QR = qr
		}
	}
	return d, nil
}

func (r *renderer) qr(content string) (template.URL, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.qrCache[content]; ok {
		return u, nil
	}

	png, err := qrcode.Encode(content, qrcode.Medium, qrSize)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	u := template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png))

	// sessions come and go; keep the cache bounded by dropping it wholesale
	if len(r.qrCache) >= 1024 {
		r.qrCache = make(map[string]template.URL)
	}
	r.qrCache[content] = u
	return u, nil
}

// Page renders the full document.
func (r *renderer) Page(sessionID, lang string, v tracker.View) ([]byte, error) {
	return r.execute("page", sessionID, lang, v)
}

// Fragment renders the tracker body streamed on every state change.
func (r *renderer) Fragment(sessionID, lang string, v tracker.View) ([]byte, error) {
	return r.execute("tracker", sessionID, lang, v)
}

func (r *renderer) execute(name, sessionID, lang string, v tracker.View) ([]byte, error) {
	d, err := r.data(sessionID, lang, v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, d); err != nil {
		return nil, fmt.Errorf("execute %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func formatAmount(s *payment.Snapshot) string {
	sign := ""
	cents := s.AmountCents
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, s.Currency)
}
