// Package expo is an alternate push backend speaking the Expo push API.
package expo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	exposdk "github.com/oliveroneill/exponent-server-sdk-golang/sdk"

	"github.com/tinywideclouds/go-push-dispatch/internal/platform"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// Name is the registry key of this backend.
const Name = "expo"

// MaxBatch is the Expo limit on messages per request.
const MaxBatch = 100

type Config struct {
	AccessToken string
	// Host overrides the SDK default host.
	Host    string
	Timeout time.Duration
}

// Configured reports whether an access token was supplied.
func (c Config) Configured() bool { return c.AccessToken != "" }

// PushClient defines the subset of the Expo SDK client we use.
// *exposdk.PushClient satisfies it; tests substitute a mock.
type PushClient interface {
	PublishMultiple(messages []exposdk.PushMessage) ([]exposdk.PushResponse, error)
}

type Dispatcher struct {
	client PushClient
	logger *slog.Logger
}

func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	client := exposdk.NewPushClient(&exposdk.ClientConfig{
		Host:        cfg.Host,
		AccessToken: cfg.AccessToken,
		HTTPClient:  &http.Client{Timeout: cfg.Timeout},
	})
	return NewDispatcherWithClient(client, logger)
}

// NewDispatcherWithClient accepts any PushClient (used by tests).
func NewDispatcherWithClient(client PushClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger.With("component", "ExpoDispatcher"),
	}
}

func (d *Dispatcher) Name() string { return Name }

func (d *Dispatcher) Send(ctx context.Context, tokens []string, msg dispatch.Message) dispatch.DeliveryResult {
	var result dispatch.DeliveryResult
	for _, batch := range platform.Chunk(tokens, MaxBatch) {
		if err := ctx.Err(); err != nil {
			d.logger.Error("Expo batch abandoned",
				"err", &dispatch.TransportError{Provider: Name, Tokens: len(batch), Err: err})
			result.Merge(platform.FailAll(batch))
			continue
		}
		result.Merge(d.sendBatch(batch, msg))
	}
	return result
}

func (d *Dispatcher) sendBatch(batch []string, msg dispatch.Message) dispatch.DeliveryResult {
	var result dispatch.DeliveryResult

	// Tokens the SDK cannot parse never leave the process.
	var sendable []string
	for _, token := range batch {
		if _, err := exposdk.NewExponentPushToken(token); err != nil {
			result.FailureCount++
			result.FailedTokens = append(result.FailedTokens, token)
			d.logger.Debug("Expo token malformed", "err", err)
			continue
		}
		sendable = append(sendable, token)
	}
	if len(sendable) == 0 {
		return result
	}

	responses, err := d.client.PublishMultiple(buildMessages(sendable, msg))
	if err == nil && len(responses) != len(sendable) {
		err = fmt.Errorf("expected %d tickets, got %d", len(sendable), len(responses))
	}
	if err != nil {
		d.logger.Error("Expo batch failed",
			"err", &dispatch.TransportError{Provider: Name, Tokens: len(sendable), Err: err})
		result.Merge(platform.FailAll(sendable))
		return result
	}

	for i, resp := range responses {
		if err := resp.ValidateResponse(); err != nil {
			result.FailureCount++
			result.FailedTokens = append(result.FailedTokens, sendable[i])
			var unregistered *exposdk.DeviceNotRegisteredError
			d.logger.Debug("Expo rejected token",
				"unregistered", errors.As(err, &unregistered),
				"err", err,
			)
			continue
		}
		result.SuccessCount++
	}
	if result.FailureCount > 0 {
		d.logger.Warn("Expo partial delivery failure",
			"err", &dispatch.PartialDeliveryError{Provider: Name, Failed: result.FailedTokens})
	}
	return result
}

func buildMessages(tokens []string, msg dispatch.Message) []exposdk.PushMessage {
	priority := exposdk.NormalPriority
	if msg.Priority == dispatch.PriorityHigh {
		priority = exposdk.HighPriority
	}
	badge := 0
	if msg.Badge != nil {
		badge = *msg.Badge
	}
	msgs := make([]exposdk.PushMessage, len(tokens))
	for i, token := range tokens {
		msgs[i] = exposdk.PushMessage{
			To:         []exposdk.ExponentPushToken{exposdk.ExponentPushToken(token)},
			Title:      msg.Title,
			Body:       msg.Body,
			Data:       msg.Data,
			Sound:      msg.Sound,
			Badge:      badge,
			TTLSeconds: int(msg.TTL.Seconds()),
			Priority:   priority,
		}
	}
	return msgs
}
