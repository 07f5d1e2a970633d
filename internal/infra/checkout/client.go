package checkout

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"paytrack/internal/stories/payment"
)

const maxBodySize = 1 << 20

// Client wraps the checkout backend REST API
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	tracer  trace.Tracer
	logger  *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithRateLimit caps outgoing requests per second
func WithRateLimit(rps float64, burst int) Option {
	return func(cl *Client) {
		if rps <= 0 {
			cl.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		cl.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a new checkout backend client
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid checkout base url %q: %w", baseURL, err)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Inf, 0),
		tracer:  otel.Tracer("paytrack/checkout"),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// GetPayment fetches the current payment snapshot
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*payment.Snapshot, error) {
	ctx, span := c.tracer.Start(ctx, "checkout.GetPayment",
		trace.WithAttributes(attribute.String("payment.id", paymentID)))
	defer span.End()

	status, body, err := c.do(ctx, http.MethodGet, c.paymentPath(paymentID), "", nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", status))

	switch {
	case status == http.StatusNotFound:
		return nil, payment.ErrNotFound
	case status < 200 || status > 299:
		err := errors.Errorf("get payment: unexpected status %d: %s", status, decodeMessage(body))
		span.SetStatus(codes.Error, "unexpected status")
		return nil, err
	}

	snapshot, err := payment.DecodeSnapshot(body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, errors.Wrap(err, "get payment")
	}

	span.SetAttributes(attribute.String("payment.status", string(snapshot.Status)))
	return snapshot, nil
}

// RetryPayment asks the backend to create a replacement payment
func (c *Client) RetryPayment(ctx context.Context, paymentID, bearerToken string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "checkout.RetryPayment",
		trace.WithAttributes(attribute.String("payment.id", paymentID)))
	defer span.End()

	status, body, err := c.do(ctx, http.MethodPost, c.paymentPath(paymentID)+"/retry", bearerToken, []byte("{}"))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return "", err
	}
	span.SetAttributes(attribute.Int("http.status_code", status))

	if status < 200 || status > 299 {
		span.SetStatus(codes.Error, "retry rejected")
		return "", &payment.RetryError{StatusCode: status, Message: decodeMessage(body)}
	}

	newID, err := decodeRetry(body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return "", errors.Wrap(err, "retry payment")
	}

	c.logger.Info("Replacement payment issued by backend", "payment_id", paymentID, "new_payment_id", newID)
	return newID, nil
}

func (c *Client) paymentPath(paymentID string) string {
	return c.baseURL + "/checkout/payments/" + url.PathEscape(paymentID)
}

func (c *Client) do(ctx context.Context, method, target, bearerToken string, payload []byte) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, errors.Wrap(err, "rate limiting")
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return 0, nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, nil, errors.Wrap(err, "read body")
	}

	c.logger.Debug("Checkout backend responded",
		"method", method,
		"url", target,
		"status", resp.StatusCode)

	return resp.StatusCode, body, nil
}

// decodeRetry reads {"payment_id": "..."}, optionally inside a data envelope.
func decodeRetry(body []byte) (string, error) {
	var id string
	var walk func(d *jx.Decoder, root bool) error
	walk = func(d *jx.Decoder, root bool) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			switch {
			case key == "payment_id":
				v, err := d.Str()
				if err != nil {
					return errors.Wrap(err, "payment_id")
				}
				id = v
				return nil
			case key == "data" && root && d.Next() == jx.Object:
				return walk(d, false)
			default:
				return d.Skip()
			}
		})
	}
	if err := walk(jx.DecodeBytes(body), true); err != nil {
		return "", err
	}
	if id == "" {
		return "", errors.New("missing payment_id")
	}
	return id, nil
}

// decodeMessage extracts {"message": "..."} from an error body; anything else yields "".
func decodeMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var msg string
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "message" || d.Next() != jx.String {
			return d.Skip()
		}
		v, err := d.Str()
		if err != nil {
			return err
		}
		msg = v
		return nil
	})
	if err != nil {
		return ""
	}
	return strings.TrimSpace(msg)
}
