// Package web delivers W3C Web Push notifications signed with VAPID keys.
// Its device tokens are the JSON encoding of a browser PushSubscription.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// Name is the registry key of this backend.
const Name = "webpush"

const defaultTTL = 60

type Config struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
	Icon            string
	Timeout         time.Duration
}

// Configured reports whether both VAPID keys are present.
func (c Config) Configured() bool {
	return c.PublicKey != "" && c.PrivateKey != ""
}

type Dispatcher struct {
	cfg        Config
	logger     *slog.Logger
	httpClient webpush.HTTPClient
}

func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	return NewDispatcherWithClient(cfg, &http.Client{Timeout: cfg.Timeout}, logger)
}

// NewDispatcherWithClient lets tests point the dispatcher at a fake push service.
func NewDispatcherWithClient(cfg Config, client webpush.HTTPClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:        cfg,
		httpClient: client,
		logger:     logger.With("component", "WebPushDispatcher"),
	}
}

func (d *Dispatcher) Name() string { return Name }

// Send posts one encrypted message per subscription; Web Push has no multicast.
func (d *Dispatcher) Send(ctx context.Context, tokens []string, msg dispatch.Message) dispatch.DeliveryResult {
	var result dispatch.DeliveryResult
	if len(tokens) == 0 {
		return result
	}

	payloadBytes, err := buildPayload(msg, d.cfg.Icon)
	if err != nil {
		d.logger.Error("Failed to marshal web push payload", "err", err)
		for _, t := range tokens {
			result.FailureCount++
			result.FailedTokens = append(result.FailedTokens, t)
		}
		return result
	}

	opts := d.options(msg)
	for _, token := range tokens {
		if d.sendOne(ctx, token, payloadBytes, opts) {
			result.SuccessCount++
			continue
		}
		result.FailureCount++
		result.FailedTokens = append(result.FailedTokens, token)
	}
	return result
}

func (d *Dispatcher) sendOne(ctx context.Context, token string, payloadBytes []byte, opts *webpush.Options) bool {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil || sub.Endpoint == "" {
		d.logger.Warn("Token is not a web push subscription", "err", err)
		return false
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, &sub, opts)
	if err != nil {
		d.logger.Error("WebPush transport error",
			"endpoint", sub.Endpoint,
			"err", &dispatch.TransportError{Provider: Name, Tokens: 1, Err: err})
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK, http.StatusAccepted:
		return true
	case http.StatusGone, http.StatusNotFound:
		d.logger.Debug("WebPush subscription expired", "endpoint", sub.Endpoint, "status", resp.StatusCode)
	default:
		d.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
	}
	return false
}

func (d *Dispatcher) options(msg dispatch.Message) *webpush.Options {
	ttl := defaultTTL
	if msg.TTL > 0 {
		ttl = int(msg.TTL.Seconds())
	}
	urgency := webpush.UrgencyNormal
	if msg.Priority == dispatch.PriorityHigh {
		urgency = webpush.UrgencyHigh
	}
	return &webpush.Options{
		Subscriber:      d.cfg.SubscriberEmail,
		VAPIDPublicKey:  d.cfg.PublicKey,
		VAPIDPrivateKey: d.cfg.PrivateKey,
		TTL:             ttl,
		Urgency:         urgency,
		HTTPClient:      d.httpClient,
	}
}

func buildPayload(msg dispatch.Message, icon string) ([]byte, error) {
	notification := map[string]any{
		"title": msg.Title,
		"body":  msg.Body,
	}
	if icon != "" {
		notification["icon"] = icon
	}
	if msg.Image != "" {
		notification["image"] = msg.Image
	}
	if msg.Badge != nil {
		notification["badge_count"] = *msg.Badge
	}
	if msg.Sound != "" {
		notification["sound"] = msg.Sound
	}
	b, err := json.Marshal(map[string]any{
		"notification": notification,
		"data":         msg.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return b, nil
}
