package web

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
)

// NewRouter mounts the payment page and its session endpoints.
func NewRouter(h *Handler, logger *slog.Logger) (http.Handler, error) {
	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(recoveryMiddleware(logger))
	r.Use(loggingMiddleware(logger))

	r.Get("/pay/{paymentID}", h.page)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.state)
		r.Get("/state", h.state)
		r.Delete("/", h.close)
		r.Get("/events", h.events)
		r.Post("/retry", h.retry)
		r.Post("/modal/dismiss", h.dismissModal)
		r.Post("/copy/{kind}", h.copy)
		r.Post("/clipboard/{requestID}", h.clipboardResult)
		r.Post("/wallet", h.openWallet)
		r.Post("/visibility", h.visibility)
		r.Post("/close", h.close)
	})

	return r, nil
}
