package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"imessage-undeleter/internal/tracker"
)

const (
	defaultWebhookTimeout = 10 * time.Second

	// breaker opens after this many consecutive failed deliveries
	webhookTripAfter = 5
	webhookCooldown  = 30 * time.Second
)

// WebhookOptions configures a WebhookSink. Zero values select defaults.
type WebhookOptions struct {
	AuthToken  string
	Timeout    time.Duration
	PingOnInit bool

	Client *http.Client
	IDs    tracker.IDGenerator
	Clock  tracker.Clock
}

// WebhookSink POSTs each record as JSON. A circuit breaker stops hammering
// an endpoint that keeps failing; while it is open deliveries fail fast.
type WebhookSink struct {
	name    string
	url     string
	opts    WebhookOptions
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  tracker.Logger
}

var _ tracker.Sink = (*WebhookSink)(nil)

func NewWebhookSink(name, url string, opts WebhookOptions, logger tracker.Logger) *WebhookSink {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultWebhookTimeout
	}
	if opts.IDs == nil {
		opts.IDs = tracker.UUIDGenerator{}
	}
	if opts.Clock == nil {
		opts.Clock = tracker.RealClock{}
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	s := &WebhookSink{
		name:   name,
		url:    url,
		opts:   opts,
		client: client,
		logger: tracker.WithComponent(logger, "webhook"),
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     webhookCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= webhookTripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("circuit breaker state changed", "sink", name, "from", from.String(), "to", to.String())
		},
	})
	return s
}

func (s *WebhookSink) Name() string { return s.name }

// Initialize sends a test payload when PingOnInit is set, so an unreachable
// endpoint excludes the sink up front.
func (s *WebhookSink) Initialize(ctx context.Context) error {
	if !s.opts.PingOnInit {
		return nil
	}
	payload := map[string]any{
		"test":      true,
		"timestamp": s.opts.Clock.Now().Unix(),
	}
	if err := s.post(ctx, payload); err != nil {
		return fmt.Errorf("webhook test failed: %w", err)
	}
	return nil
}

func (s *WebhookSink) Deliver(ctx context.Context, rec *tracker.DeletionRecord) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.post(ctx, rec)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return deliverError(s.name, rec, fmt.Errorf("endpoint suspended after repeated failures: %w", err))
	}
	if err != nil {
		return deliverError(s.name, rec, err)
	}
	return nil
}

func (s *WebhookSink) Finalize(ctx context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *WebhookSink) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "imessage-undeleter")
	req.Header.Set("X-Delivery-ID", s.opts.IDs.New())
	if s.opts.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.AuthToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
