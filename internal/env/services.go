package environment

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"paytrack/internal/config"
	"paytrack/internal/infra/telegram"
	"paytrack/internal/localization"
	"paytrack/internal/metrics"
	"paytrack/internal/storage"
	"paytrack/internal/stories/payment"
	"paytrack/internal/tracker"
	"paytrack/internal/workers"
	"paytrack/internal/workers/sessionreaper"
)

type Services struct {
	Payments     *payment.Service
	Localization *localization.Service
	Metrics      *metrics.Tracker
	Clock        *tracker.CronClock
	Tracker      *tracker.Manager
	Workers      *workers.Manager
}

func newServices(_ context.Context, clients *Clients, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	var s Services

	storageImpl := storage.New(clients.SQLiteDB.DB)

	s.Payments = payment.NewService(clients.Checkout, storageImpl, time.Now, logger.With("component", "payments"))

	loc, err := localization.NewService(cfg.Tracker.DefaultLanguage)
	if err != nil {
		return nil, errors.Wrap(err, "localization")
	}
	s.Localization = loc

	s.Metrics = metrics.New(prometheus.DefaultRegisterer)
	s.Clock = tracker.NewCronClock(logger.With("component", "clock"))

	deps := tracker.Deps{
		Source:    s.Payments,
		Retrier:   s.Payments,
		Localizer: loc,
		Clock:     s.Clock,
		Metrics:   s.Metrics,
		Logger:    logger,
	}
	if clients.PubSub != nil {
		deps.Push = clients.PubSub
	}

	if cfg.Telegram.BotToken != "" {
		notifier, err := telegram.NewClient(cfg.Telegram.BotToken, telegram.Options{
			OpsChatID: cfg.Telegram.OpsChatID,
			Lang:      cfg.Tracker.DefaultLanguage,
			RPS:       cfg.Telegram.RateLimit.RPS,
			Burst:     cfg.Telegram.RateLimit.Burst,
		}, loc, logger.With("component", "telegram"))
		if err != nil {
			return nil, errors.Wrap(err, "telegram notifier")
		}
		deps.Notifier = notifier
	} else {
		logger.Info("TELEGRAM_BOT_TOKEN not set, ops notifications disabled")
	}

	s.Tracker = tracker.NewManager(deps, tracker.Settings{
		PollInterval:          cfg.Tracker.PollInterval,
		TickInterval:          cfg.Tracker.TickInterval,
		EarlyRetryWindow:      cfg.Tracker.EarlyRetryWindow,
		CopyResetAfter:        cfg.Tracker.CopyResetAfter,
		WalletFallbackAfter:   cfg.Tracker.WalletFallbackAfter,
		StopPollingOnTerminal: cfg.Tracker.StopPollingOnTerminal,
	})

	s.Workers = workers.NewManager(logger.With("component", "workers"),
		sessionreaper.NewWorker(s.Tracker, cfg.Tracker.SessionIdleTimeout, logger.With("worker", "session-reaper")),
	)

	return &s, nil
}
