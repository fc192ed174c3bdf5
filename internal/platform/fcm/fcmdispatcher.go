// Package fcm is the primary multicast push backend, built on Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// Name is the registry key of this backend.
const Name = "fcm"

// MaxMulticast is the FCM limit on tokens per multicast message.
const MaxMulticast = 500

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it; tests substitute a mock.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Dispatcher struct {
	client MessagingClient
	icon   string
	logger *slog.Logger
}

// NewDispatcher accepts the concrete client but stores it as the interface.
func NewDispatcher(client MessagingClient, webIcon string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		icon:   webIcon,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

func (d *Dispatcher) Name() string { return Name }

// Send fans the message out in multicast batches. Whole-batch errors mark
// every token of that batch as failed; per-token errors mark only that token.
func (d *Dispatcher) Send(ctx context.Context, tokens []string, msg dispatch.Message) dispatch.DeliveryResult {
	var result dispatch.DeliveryResult
	for _, batch := range platform.Chunk(tokens, MaxMulticast) {
		result.Merge(d.sendBatch(ctx, batch, msg))
	}
	return result
}

func (d *Dispatcher) sendBatch(ctx context.Context, batch []string, msg dispatch.Message) dispatch.DeliveryResult {
	br, err := d.client.SendEachForMulticast(ctx, d.buildMessage(batch, msg))
	if err != nil {
		d.logger.Error("FCM batch failed",
			"err", &dispatch.TransportError{Provider: Name, Tokens: len(batch), Err: err},
			"invalid_argument", messaging.IsInvalidArgument(err),
		)
		return platform.FailAll(batch)
	}

	if len(br.Responses) != len(batch) {
		d.logger.Error("FCM returned mismatched responses",
			"err", &dispatch.TransportError{Provider: Name, Tokens: len(batch),
				Err: fmt.Errorf("expected %d responses, got %d", len(batch), len(br.Responses))})
		return platform.FailAll(batch)
	}

	var result dispatch.DeliveryResult
	for idx, resp := range br.Responses {
		if resp.Success {
			result.SuccessCount++
			continue
		}
		result.FailureCount++
		result.FailedTokens = append(result.FailedTokens, batch[idx])
		d.logger.Debug("FCM rejected token",
			"unregistered", messaging.IsUnregistered(resp.Error),
			"err", resp.Error,
		)
	}
	if result.FailureCount > 0 {
		d.logger.Warn("FCM partial delivery failure",
			"err", &dispatch.PartialDeliveryError{Provider: Name, Failed: result.FailedTokens},
			"success", result.SuccessCount,
		)
	}
	return result
}

func (d *Dispatcher) buildMessage(tokens []string, msg dispatch.Message) *messaging.MulticastMessage {
	androidPriority, apnsPriority := "normal", "5"
	if msg.Priority == dispatch.PriorityHigh {
		androidPriority, apnsPriority = "high", "10"
	}

	android := &messaging.AndroidConfig{
		Priority: androidPriority,
		Notification: &messaging.AndroidNotification{
			Sound:    msg.Sound,
			ImageURL: msg.Image,
		},
	}
	apnsHeaders := map[string]string{"apns-priority": apnsPriority}
	webHeaders := map[string]string{}
	if msg.TTL > 0 {
		ttl := msg.TTL
		android.TTL = &ttl
		apnsHeaders["apns-expiration"] = strconv.FormatInt(time.Now().Add(msg.TTL).Unix(), 10)
		webHeaders["TTL"] = strconv.Itoa(int(msg.TTL.Seconds()))
	}

	return &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   msg.Data,
		Notification: &messaging.Notification{
			Title:    msg.Title,
			Body:     msg.Body,
			ImageURL: msg.Image,
		},
		Android: android,
		APNS: &messaging.APNSConfig{
			Headers: apnsHeaders,
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Badge:          msg.Badge,
					Sound:          msg.Sound,
					MutableContent: msg.Image != "",
				},
			},
			FCMOptions: &messaging.APNSFCMOptions{ImageURL: msg.Image},
		},
		Webpush: &messaging.WebpushConfig{
			Headers: webHeaders,
			Notification: &messaging.WebpushNotification{
				Title: msg.Title,
				Body:  msg.Body,
				Icon:  d.icon,
				Image: msg.Image,
			},
		},
	}
}
