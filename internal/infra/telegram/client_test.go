package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"paytrack/internal/stories/payment"
)

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

// echoLocalizer renders the key followed by the params.
type echoLocalizer struct{}

func (echoLocalizer) Get(lang, key string, params map[string]interface{}) string {
	return lang + ":" + key + " " + params["payment_id"].(string) + " " +
		params["amount"].(string) + " " + params["currency"].(string) + params["plan"].(string)
}

func TestPaymentSettled(t *testing.T) {
	tests := []struct {
		name string
		snap *payment.Snapshot
		want string
	}{
		{
			name: "crypto amount",
			snap: &payment.Snapshot{
				PaymentID:   "pay_1",
				Status:      payment.StatusCompleted,
				AmountCents: 1999,
				Currency:    "USD",
				Crypto:      &payment.Crypto{Amount: "19.99", Currency: "USDT"},
				Payable:     &payment.Payable{Name: "Pro"},
			},
			want: "en:notify.completed pay_1 19.99 USDT (Pro)",
		},
		{
			name: "fiat amount",
			snap: &payment.Snapshot{
				PaymentID:   "pay_2",
				Status:      payment.StatusFailed,
				AmountCents: 500,
				Currency:    "USD",
			},
			want: "en:notify.failed pay_2 5.00 USD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot := &fakeBot{}
			c := newClient(bot, Options{OpsChatID: 42, Lang: "en", RPS: 100, Burst: 1},
				echoLocalizer{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

			if err := c.PaymentSettled(context.Background(), tt.snap); err != nil {
				t.Fatalf("PaymentSettled() error = %v", err)
			}
			if len(bot.sent) != 1 {
				t.Fatalf("sent %d messages, want 1", len(bot.sent))
			}
			if bot.sent[0].ChatID != 42 {
				t.Errorf("chat id = %d, want 42", bot.sent[0].ChatID)
			}
			if bot.sent[0].Text != tt.want {
				t.Errorf("text = %q, want %q", bot.sent[0].Text, tt.want)
			}
		})
	}
}

func TestSendMessageErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c := newClient(&fakeBot{err: errors.New("forbidden")}, Options{}, echoLocalizer{}, logger)
	err := c.SendMessage(context.Background(), 1, "hi")
	if err == nil || !strings.Contains(err.Error(), "forbidden") {
		t.Fatalf("SendMessage() error = %v, want send failure", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c = newClient(&fakeBot{}, Options{}, echoLocalizer{}, logger)
	if err := c.SendMessage(ctx, 1, "hi"); err == nil {
		t.Fatal("SendMessage() with canceled context succeeded")
	}
}
