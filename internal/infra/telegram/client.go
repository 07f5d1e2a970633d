package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"paytrack/internal/stories/payment"
)

type (
	botAPI interface {
		Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	}

	// Localizer renders notification texts
	Localizer interface {
		Get(lang, key string, params map[string]interface{}) string
	}
)

type Options struct {
	OpsChatID int64
	Lang      string
	RPS       float64
	Burst     int
}

// Client sends settlement notifications to the ops chat.
type Client struct {
	api       botAPI
	opsChatID int64
	lang      string
	localizer Localizer
	limiter   *rate.Limiter
	logger    *slog.Logger
}

func NewClient(token string, opts Options, localizer Localizer, logger *slog.Logger) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	logger.Info("Telegram notifier authorized", "bot", bot.Self.UserName)
	return newClient(bot, opts, localizer, logger), nil
}

func newClient(api botAPI, opts Options, localizer Localizer, logger *slog.Logger) *Client {
	if opts.RPS <= 0 {
		opts.RPS = 1
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Client{
		api:       api,
		opsChatID: opts.OpsChatID,
		lang:      opts.Lang,
		localizer: localizer,
		limiter:   rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		logger:    logger,
	}
}

// PaymentSettled posts the final status of a payment to the ops chat.
func (c *Client) PaymentSettled(ctx context.Context, s *payment.Snapshot) error {
	text := c.localizer.Get(c.lang, "notify."+string(s.Status), c.params(s))
	return c.SendMessage(ctx, c.opsChatID, text)
}

func (c *Client) params(s *payment.Snapshot) map[string]interface{} {
	amount, currency := formatMinor(s.AmountCents), s.Currency
	if s.Crypto != nil && s.Crypto.Amount != "" {
		amount, currency = s.Crypto.Amount, s.Crypto.Currency
	}
	plan := ""
	if s.Payable != nil && s.Payable.Name != "" {
		plan = " (" + s.Payable.Name + ")"
	}
	return map[string]interface{}{
		"payment_id": s.PaymentID,
		"amount":     amount,
		"currency":   currency,
		"plan":       plan,
	}
}

// SendMessage sends text with rate limiting.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiting: %w", err)
	}

	if _, err := c.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		c.logger.Error("Failed to send telegram message",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()))
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func formatMinor(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
