package sessionreaper

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const schedule = "@every 1m"

// Worker closes sessions of pages that were closed without the unload beacon.
type Worker struct {
	sessions Sessions
	idle     time.Duration
	logger   *slog.Logger
	cron     *cron.Cron
}

func NewWorker(sessions Sessions, idle time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		sessions: sessions,
		idle:     idle,
		logger:   logger,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

func (w *Worker) Name() string {
	return "session-reaper"
}

func (w *Worker) Start() error {
	if w.idle <= 0 {
		w.logger.Info("Session idle timeout disabled, skipping session reaper")
		return nil
	}

	_, err := w.cron.AddFunc(schedule, func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Panic in session reaper", "panic", r)
			}
		}()
		w.run()
	})
	if err != nil {
		return fmt.Errorf("failed to schedule session reaper: %w", err)
	}

	w.cron.Start()
	w.logger.Info("Session reaper started", "schedule", schedule, "idle_timeout", w.idle)
	return nil
}

func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
}

func (w *Worker) run() {
	closed := w.sessions.CloseIdle(w.idle)
	if closed == 0 {
		return
	}
	w.logger.Info("Closed idle sessions", "closed", closed, "remaining", w.sessions.Count())
}
