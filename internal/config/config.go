package config

import (
	"fmt"
	"time"
)

type Config struct {
	Env              string                  `env:"ENV,default=local"`
	Logger           LoggerConfig            `env:",prefix=LOGGER_"`
	Observability    ObservabilityHTTPConfig `env:",prefix=OBSERVABILITY_"`
	Web              WebHTTPConfig           `env:",prefix=WEB_"`
	ShutdownDuration time.Duration           `env:"SHUTDOWN_DURATION,default=30s"`
	DB               SQLiteConfig            `env:",prefix=DB_"`
	Checkout         HTTPClientConfig        `env:",prefix=CHECKOUT_"`
	Redis            RedisConfig             `env:",prefix=REDIS_"`
	Telegram         TelegramConfig          `env:",prefix=TELEGRAM_"`
	Tracker          TrackerConfig           `env:",prefix=TRACKER_"`
}

// TelegramConfig configures optional ops notifications. Empty token disables them.
type TelegramConfig struct {
	BotToken  string `env:"BOT_TOKEN"`
	OpsChatID int64  `env:"OPS_CHAT_ID"`
	RateLimit struct {
		Burst int     `env:"BURST,default=1"`
		RPS   float64 `env:"RPS,default=1.0"`
	} `env:",prefix=RATE_LIMIT_"`
}

// HTTPClientConfig configures the checkout backend client.
type HTTPClientConfig struct {
	Scheme    string        `env:"SCHEME,default=http"`
	Host      string        `env:"HOST,default=127.0.0.1"`
	Port      uint16        `env:"PORT,default=9000"`
	BasePath  string        `env:"BASE_PATH,default=/api/v1"`
	Timeout   time.Duration `env:"TIMEOUT,default=10s"`
	RateLimit struct {
		Burst int     `env:"BURST,default=5"`
		RPS   float64 `env:"RPS,default=20.0"`
	} `env:",prefix=RATE_LIMIT_"`
}

func (c HTTPClientConfig) ADDR() string {
	return fmt.Sprintf("%s://%s:%d%s", c.Scheme, c.Host, c.Port, c.BasePath)
}

// RedisConfig configures the push channel. Empty address disables push updates.
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB,default=0"`
}

func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type TrackerConfig struct {
	PollInterval          time.Duration `env:"POLL_INTERVAL,default=5s"`
	TickInterval          time.Duration `env:"TICK_INTERVAL,default=1s"`
	EarlyRetryWindow      time.Duration `env:"EARLY_RETRY_WINDOW,default=120s"`
	CopyResetAfter        time.Duration `env:"COPY_RESET_AFTER,default=2s"`
	WalletFallbackAfter   time.Duration `env:"WALLET_FALLBACK_AFTER,default=1s"`
	StopPollingOnTerminal bool          `env:"STOP_POLLING_ON_TERMINAL,default=true"`
	SessionIdleTimeout    time.Duration `env:"SESSION_IDLE_TIMEOUT,default=10m"`
	DefaultLanguage       string        `env:"DEFAULT_LANGUAGE,default=en"`
	PlansURL              string        `env:"PLANS_URL,default=/plans"`
}

type LoggerConfig struct {
	Level string `env:"LEVEL,default=debug"`
}

type ObservabilityHTTPConfig struct {
	Host         string        `env:"HOST,default=127.0.0.1"`
	Port         uint16        `env:"PORT,default=8383"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=1m"`
}

func (a ObservabilityHTTPConfig) ADDR() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// WebHTTPConfig configures the tracking page server. WriteTimeout stays zero
// by default because the event stream is long-lived.
type WebHTTPConfig struct {
	Host         string        `env:"HOST,default=0.0.0.0"`
	Port         uint16        `env:"PORT,default=8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=15s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=0s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=2m"`

	// EventHeartbeat keeps idle event streams open through proxies.
	EventHeartbeat time.Duration `env:"EVENT_HEARTBEAT,default=15s"`
}

func (a WebHTTPConfig) ADDR() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type SQLiteConfig struct {
	Path         string `env:"PATH,default=./data/paytrack.db"`
	MaxOpenConns int    `env:"MAX_OPEN_CONNS,default=25"`
	MaxIdleConns int    `env:"MAX_IDLE_CONNS,default=5"`
	MaxLifetime  string `env:"MAX_LIFETIME,default=5m"`
}
