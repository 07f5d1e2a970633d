package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"paytrack/internal/stories/payment"
)

const channelPrefix = "payments."

// ChannelName returns the private push channel for a payment.
func ChannelName(paymentID string) string {
	return channelPrefix + paymentID
}

type Options struct {
	Addr     string
	Password string
	DB       int
}

// Client carries payment snapshots over redis pub/sub
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewClient connects to redis and verifies the connection
func NewClient(ctx context.Context, opts Options, logger *slog.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{rdb: rdb, logger: logger}, nil
}

// Subscribe listens on payments.{id} until the returned function is called.
// Malformed payloads are reported through onError and skipped.
func (c *Client) Subscribe(
	ctx context.Context,
	paymentID string,
	onUpdate func(*payment.Snapshot),
	onError func(error),
) (func() error, error) {
	channel := ChannelName(paymentID)
	ps := c.rdb.Subscribe(ctx, channel)

	// wait for the subscription confirmation so that no message published after
	// Subscribe returns can be missed
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			if err := dispatch(paymentID, []byte(msg.Payload), onUpdate); err != nil {
				c.logger.Warn("Dropping push message", "channel", channel, "error", err)
				if onError != nil {
					onError(err)
				}
			}
		}
	}()

	c.logger.Debug("Subscribed to push channel", "channel", channel)

	var once sync.Once
	var closeErr error
	return func() error {
		once.Do(func() {
			closeErr = ps.Close()
			<-done
			c.logger.Debug("Unsubscribed from push channel", "channel", channel)
		})
		return closeErr
	}, nil
}

// Publish sends a snapshot to every subscriber of its payment.
func (c *Client) Publish(ctx context.Context, s *payment.Snapshot) error {
	if err := c.rdb.Publish(ctx, ChannelName(s.PaymentID), payment.EncodeSnapshot(s)).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", s.PaymentID, err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func dispatch(paymentID string, payload []byte, onUpdate func(*payment.Snapshot)) error {
	s, err := payment.DecodeSnapshot(payload)
	if err != nil {
		return err
	}
	if s.PaymentID != paymentID {
		return fmt.Errorf("snapshot for %s on channel of %s", s.PaymentID, paymentID)
	}
	onUpdate(s)
	return nil
}
