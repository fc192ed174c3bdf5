// Package onesignal is an alternate push backend speaking the OneSignal REST API.
package onesignal

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	onesignalsdk "github.com/OneSignal/onesignal-go-api/v2"

	"github.com/tinywideclouds/go-push-dispatch/internal/platform"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// Name is the registry key of this backend.
const Name = "onesignal"

const (
	DefaultEndpoint = "https://api.onesignal.com"
	// MaxBatch is the number of player ids sent per request.
	MaxBatch = 2000
)

type Config struct {
	AppID  string
	APIKey string
	// Endpoint is the API base URL.
	Endpoint string
	Timeout  time.Duration
}

// Configured reports whether app id and REST key are both present.
func (c Config) Configured() bool { return c.AppID != "" && c.APIKey != "" }

// NotificationClient is the one OneSignal call this backend makes.
type NotificationClient interface {
	CreateNotification(ctx context.Context, n onesignalsdk.Notification) (*onesignalsdk.CreateNotificationSuccessResponse, error)
}

// apiClient adapts the generated SDK client to NotificationClient.
type apiClient struct {
	api    *onesignalsdk.APIClient
	apiKey string
}

func newAPIClient(cfg Config) *apiClient {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	sdkCfg := onesignalsdk.NewConfiguration()
	sdkCfg.Servers = onesignalsdk.ServerConfigurations{{URL: endpoint}}
	sdkCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &apiClient{api: onesignalsdk.NewAPIClient(sdkCfg), apiKey: cfg.APIKey}
}

func (c *apiClient) CreateNotification(ctx context.Context, n onesignalsdk.Notification) (*onesignalsdk.CreateNotificationSuccessResponse, error) {
	authCtx := context.WithValue(ctx, onesignalsdk.AppAuth, c.apiKey)
	resp, _, err := c.api.DefaultApi.CreateNotification(authCtx).Notification(n).Execute()
	return resp, err
}

type Dispatcher struct {
	appID  string
	client NotificationClient
	logger *slog.Logger
}

func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	return NewDispatcherWithClient(newAPIClient(cfg), cfg.AppID, logger)
}

// NewDispatcherWithClient accepts any NotificationClient (used by tests).
func NewDispatcherWithClient(client NotificationClient, appID string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		appID:  appID,
		client: client,
		logger: logger.With("component", "OneSignalDispatcher"),
	}
}

func (d *Dispatcher) Name() string { return Name }

func (d *Dispatcher) Send(ctx context.Context, tokens []string, msg dispatch.Message) dispatch.DeliveryResult {
	var result dispatch.DeliveryResult
	for _, batch := range platform.Chunk(tokens, MaxBatch) {
		result.Merge(d.sendBatch(ctx, batch, msg))
	}
	return result
}

func (d *Dispatcher) sendBatch(ctx context.Context, batch []string, msg dispatch.Message) dispatch.DeliveryResult {
	resp, err := d.client.CreateNotification(ctx, d.buildNotification(batch, msg))
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		d.logger.Error("OneSignal batch failed",
			"err", &dispatch.TransportError{Provider: Name, Tokens: len(batch), Err: err})
		return platform.FailAll(batch)
	}

	rejected, err := rejectedIDs(resp)
	if err != nil {
		d.logger.Error("OneSignal rejected batch",
			"err", &dispatch.TransportError{Provider: Name, Tokens: len(batch), Err: err})
		return platform.FailAll(batch)
	}

	var result dispatch.DeliveryResult
	for _, token := range batch {
		if _, bad := rejected[token]; bad {
			result.FailureCount++
			result.FailedTokens = append(result.FailedTokens, token)
			continue
		}
		result.SuccessCount++
	}
	if result.FailureCount > 0 {
		d.logger.Warn("OneSignal partial delivery failure",
			"err", &dispatch.PartialDeliveryError{Provider: Name, Failed: result.FailedTokens},
			"notification_id", resp.GetId())
	}
	return result
}

// rejectedIDs returns the per-id rejections, or an error when the whole
// request was refused (errors given as a list of messages and no id).
func rejectedIDs(resp *onesignalsdk.CreateNotificationSuccessResponse) (map[string]struct{}, error) {
	rejected := map[string]struct{}{}
	if resp.Errors == nil {
		return rejected, nil
	}
	if msgs := resp.Errors.ArrayOfString; msgs != nil && len(*msgs) > 0 && resp.GetId() == "" {
		return nil, errors.New((*msgs)[0])
	}
	if ids := resp.Errors.InvalidIdentifierError; ids != nil {
		for _, id := range ids.InvalidPlayerIds {
			rejected[id] = struct{}{}
		}
	}
	return rejected, nil
}

func (d *Dispatcher) buildNotification(batch []string, msg dispatch.Message) onesignalsdk.Notification {
	body := msg.Body
	if body == "" {
		// OneSignal refuses notifications without contents.
		body = msg.Title
	}
	priority := int32(5)
	if msg.Priority == dispatch.PriorityHigh {
		priority = 10
	}

	n := onesignalsdk.NewNotification(d.appID)
	n.SetIncludePlayerIds(batch)
	n.SetHeadings(onesignalsdk.StringMap{En: onesignalsdk.PtrString(msg.Title)})
	n.SetContents(onesignalsdk.StringMap{En: onesignalsdk.PtrString(body)})
	n.SetPriority(priority)
	if len(msg.Data) > 0 {
		data := make(map[string]interface{}, len(msg.Data))
		for k, v := range msg.Data {
			data[k] = v
		}
		n.SetData(data)
	}
	if msg.TTL > 0 {
		n.SetTtl(int32(msg.TTL.Seconds()))
	}
	if msg.Sound != "" {
		n.SetIosSound(msg.Sound)
		n.SetAndroidSound(msg.Sound)
	}
	if msg.Image != "" {
		n.SetBigPicture(msg.Image)
		n.SetIosAttachments(map[string]interface{}{"image": msg.Image})
	}
	if msg.Badge != nil {
		n.SetIosBadgeType("SetTo")
		n.SetIosBadgeCount(int32(*msg.Badge))
	}
	return *n
}
