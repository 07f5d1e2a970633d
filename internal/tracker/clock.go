package tracker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// CronClock schedules repeating session timers on a shared cron instance.
type CronClock struct {
	cron *cron.Cron
}

func NewCronClock(logger *slog.Logger) *CronClock {
	l := cronLogger{logger: logger}
	return &CronClock{
		cron: cron.New(
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
	}
}

func (c *CronClock) Start() {
	c.cron.Start()
}

// Stop halts scheduling and waits for running jobs.
func (c *CronClock) Stop() {
	<-c.cron.Stop().Done()
}

func (c *CronClock) Now() time.Time {
	return time.Now()
}

func (c *CronClock) Every(d time.Duration, fn func()) (func(), error) {
	id, err := c.cron.AddFunc(fmt.Sprintf("@every %s", d), fn)
	if err != nil {
		return nil, fmt.Errorf("schedule every %s: %w", d, err)
	}
	return func() { c.cron.Remove(id) }, nil
}

func (c *CronClock) AfterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

type cronLogger struct {
	logger *slog.Logger
}

// Info is dropped: cron reports every wake up of every session entry there.
func (l cronLogger) Info(string, ...interface{}) {}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
