// Package push delivers Web Push messages signed with VAPID credentials.
package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/jwalitptl/peoli-api/pkg/circuitbreaker"
	"github.com/jwalitptl/peoli-api/pkg/logger"
)

// ErrNotConfigured is reported for every attempt when VAPID keys are missing
var ErrNotConfigured = errors.New("push credentials are not configured")

type Outcome int

const (
	// Success means the push service accepted the message
	Success Outcome = iota
	// Gone means the push service no longer knows the endpoint
	Gone
	// Failed covers every other response, transport errors and timeouts
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Gone:
		return "gone"
	}
	return "failed"
}

// Subscription is the browser-provided endpoint and key material.
type Subscription struct {
	Endpoint string
	P256dh   string
	Auth     string
}

type Result struct {
	Outcome    Outcome
	StatusCode int
	Err        error
}

type Sender interface {
	Send(ctx context.Context, sub Subscription, payload []byte) Result
}

// Config is built once at startup and handed to NewWebPushSender.
type Config struct {
	Subject         string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// TTL in seconds the push service keeps an undelivered message
	TTL             int
	Urgency         string
	BreakerFailures int
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
}

func (c Config) Enabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// Classify maps a push service response status onto an Outcome.
func Classify(statusCode int) Outcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return Success
	case statusCode == http.StatusGone, statusCode == http.StatusNotFound:
		return Gone
	}
	return Failed
}

// StatusError is an unexpected push service response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("push service responded %d: %s", e.StatusCode, e.Body)
}

// hostFailure reports whether err says something about the push service as
// a whole rather than about one subscription. Key decoding and encryption
// errors never reach the network, and a deadline belongs to the attempt.
func hostFailure(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// the http client wraps dial, TLS and connection errors in *url.Error
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

type WebPushSender struct {
	cfg      Config
	client   *http.Client
	breakers *circuitbreaker.Group
	logger   *logger.Logger
}

func NewWebPushSender(cfg Config, log *logger.Logger) *WebPushSender {
	if log == nil {
		log = logger.Nop()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 20
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	if !cfg.Enabled() {
		log.Warn("VAPID keys missing, push delivery disabled")
	}

	return &WebPushSender{
		cfg:    cfg,
		client: client,
		breakers: circuitbreaker.NewGroup(circuitbreaker.Settings{
			Name:        "push",
			MaxFailures: cfg.BreakerFailures,
			Timeout:     cfg.BreakerCooldown,
			IsFailure:   hostFailure,
		}),
		logger: log,
	}
}

func (s *WebPushSender) PublicKey() string {
	return s.cfg.VAPIDPublicKey
}

// Send performs one delivery attempt. The caller bounds it with ctx.
func (s *WebPushSender) Send(ctx context.Context, sub Subscription, payload []byte) Result {
	if !s.cfg.Enabled() {
		return Result{Outcome: Failed, Err: ErrNotConfigured}
	}

	u, err := url.Parse(sub.Endpoint)
	if err != nil || u.Host == "" {
		return Result{Outcome: Failed, Err: fmt.Errorf("invalid endpoint: %w", err)}
	}

	var result Result
	err = s.breakers.Get(u.Host).Execute(func() error {
		result = s.send(ctx, sub, payload)
		return result.Err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return Result{Outcome: Failed, Err: fmt.Errorf("%s: %w", u.Host, err)}
	}
	return result
}

func (s *WebPushSender) send(ctx context.Context, sub Subscription, payload []byte) Result {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.cfg.Subject,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             s.cfg.TTL,
		Urgency:         webpush.Urgency(s.cfg.Urgency),
	})
	if err != nil {
		return Result{Outcome: Failed, Err: err}
	}
	defer resp.Body.Close()

	outcome := Classify(resp.StatusCode)
	if outcome != Failed {
		return Result{Outcome: outcome, StatusCode: resp.StatusCode}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return Result{
		Outcome:    Failed,
		StatusCode: resp.StatusCode,
		Err:        &StatusError{StatusCode: resp.StatusCode, Body: string(body)},
	}
}
