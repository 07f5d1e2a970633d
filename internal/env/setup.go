package environment

import (
	"context"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"

	"paytrack/internal/config"
)

type closer func()

type Env struct {
	Config   *config.Config
	Logger   *slog.Logger
	Servers  *Servers
	Clients  *Clients
	Services *Services

	// Closers run in reverse order on shutdown.
	Closers []closer
}

func Setup(ctx context.Context) (*Env, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg config.Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, errors.Wrap(err, "env processing")
	}

	logger := initLogger(cfg)

	clients, closers, err := newClients(ctx, cfg, logger)
	if err != nil {
		return nil, errors.Wrap(err, "newClients")
	}

	services, err := newServices(ctx, clients, &cfg, logger)
	if err != nil {
		runClosers(closers)
		return nil, errors.Wrap(err, "newServices")
	}

	servers, err := newServers(ctx, cfg, logger, clients, services)
	if err != nil {
		runClosers(closers)
		return nil, errors.Wrap(err, "newServers")
	}

	return &Env{
		Config:   &cfg,
		Logger:   logger,
		Servers:  servers,
		Clients:  clients,
		Services: services,
		Closers:  closers,
	}, nil
}

// Close releases clients in reverse order of creation.
func (e *Env) Close() {
	runClosers(e.Closers)
}

func runClosers(closers []closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
