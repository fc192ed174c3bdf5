// Package apns provides the direct Apple Push Notification Service backend.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// Name is the registry key of this backend.
const Name = "apns"

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

type Dispatcher struct {
	client APNSClient
	topic  string // The App Bundle ID
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	Production   bool
	Timeout      time.Duration
}

// Configured reports whether every credential is present.
func (c Config) Configured() bool {
	return c.KeyID != "" && c.TeamID != "" && c.BundleID != "" && c.P8KeyContent != ""
}

// NewDispatcher creates a configured APNS dispatcher.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}

	return NewDispatcherWithClient(client, cfg.BundleID, logger), nil
}

// NewDispatcherWithClient wires an already built client.
func NewDispatcherWithClient(client APNSClient, topic string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSDispatcher"),
	}
}

func (d *Dispatcher) Name() string { return Name }

// Send pushes to each token in turn.
// Note: the APNs HTTP/2 API is unary (one request per token); there is no multicast endpoint.
func (d *Dispatcher) Send(ctx context.Context, tokens []string, msg dispatch.Message) dispatch.DeliveryResult {
	var result dispatch.DeliveryResult
	if len(tokens) == 0 {
		return result
	}

	builder := d.buildPayload(msg)
	priority := apns2.PriorityLow
	if msg.Priority == dispatch.PriorityHigh {
		priority = apns2.PriorityHigh
	}
	var expiration time.Time
	if msg.TTL > 0 {
		expiration = time.Now().Add(msg.TTL)
	}

	for i, deviceToken := range tokens {
		if err := ctx.Err(); err != nil {
			// Budget exhausted: the rest of the batch is reported as failed.
			d.logger.Error("APNs send aborted",
				"err", &dispatch.TransportError{Provider: Name, Tokens: len(tokens) - i, Err: err})
			for _, rest := range tokens[i:] {
				result.FailureCount++
				result.FailedTokens = append(result.FailedTokens, rest)
			}
			return result
		}

		res, err := d.client.Push(&apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       d.topic,
			Payload:     builder,
			Priority:    priority,
			Expiration:  expiration,
		})
		if err != nil {
			d.logger.Error("APNs transport failed",
				"err", &dispatch.TransportError{Provider: Name, Tokens: 1, Err: err})
			result.FailureCount++
			result.FailedTokens = append(result.FailedTokens, deviceToken)
			continue
		}

		if res.Sent() {
			result.SuccessCount++
			continue
		}
		result.FailureCount++
		result.FailedTokens = append(result.FailedTokens, deviceToken)
		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			d.logger.Debug("APNs token rejected", "reason", res.Reason)
		default:
			// Configuration problems (TopicDisallowed, PayloadEmpty) rather than dead tokens.
			d.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		}
	}
	return result
}

func (d *Dispatcher) buildPayload(msg dispatch.Message) *payload.Payload {
	builder := payload.NewPayload().
		AlertTitle(msg.Title).
		AlertBody(msg.Body)
	if msg.Sound != "" {
		builder.Sound(msg.Sound)
	}
	if msg.Badge != nil {
		builder.Badge(*msg.Badge)
	}
	if msg.Image != "" {
		builder.MutableContent().Custom("image", msg.Image)
	}
	for k, v := range msg.Data {
		builder.Custom(k, v)
	}
	return builder
}
