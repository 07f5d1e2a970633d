package web

import (
	"context"

	"paytrack/internal/tracker"
)

type (
	// Tracker opens and drives tracking sessions
	Tracker interface {
		Open(ctx context.Context, paymentID string, client tracker.Client, lang string) (*tracker.Session, error)
		Get(sessionID string) (*tracker.Session, error)
		Close(sessionID string)
		Retry(ctx context.Context, sessionID, bearerToken string) (string, error)
	}

	// Localizer resolves page texts
	Localizer interface {
		Get(lang, key string, params map[string]interface{}) string
		Match(acceptLanguage string) string
		Supported(lang string) bool
	}
)
