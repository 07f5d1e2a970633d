package environment

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pkg/errors"

	"paytrack/internal/config"
	"paytrack/internal/web"
)

type Servers struct {
	HTTP struct {
		Observability *http.Server
		Web           *http.Server
	}
}

func newServers(ctx context.Context, cfg config.Config, logger *slog.Logger, clients *Clients, services *Services) (*Servers, error) {
	var servers Servers

	webLogger := logger.With("component", "web")
	handler, err := web.NewHandler(services.Tracker, services.Localization, web.Options{
		PlansURL:  cfg.Tracker.PlansURL,
		Heartbeat: cfg.Web.EventHeartbeat,
	}, webLogger)
	if err != nil {
		return nil, errors.Wrap(err, "web handler")
	}
	router, err := web.NewRouter(handler, webLogger)
	if err != nil {
		return nil, errors.Wrap(err, "web router")
	}

	servers.HTTP.Web = &http.Server{
		Handler:           router,
		Addr:              cfg.Web.ADDR(),
		ReadTimeout:       cfg.Web.ReadTimeout,
		WriteTimeout:      cfg.Web.WriteTimeout,
		IdleTimeout:       cfg.Web.IdleTimeout,
		ReadHeaderTimeout: cfg.Web.ReadTimeout,
	}
	servers.HTTP.Observability = initObservability(ctx, logger.WithGroup("http"), clients, cfg)

	return &servers, nil
}
