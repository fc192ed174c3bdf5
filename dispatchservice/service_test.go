package dispatchservice_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-dispatch/dispatchservice"
	"github.com/tinywideclouds/go-push-dispatch/dispatchservice/config"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform"
	"github.com/tinywideclouds/go-push-dispatch/internal/storage/memory"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noopAuth(h http.Handler) http.Handler { return h }

// recordingAdapter accepts every token.
type recordingAdapter struct {
	mu     sync.Mutex
	tokens [][]string
}

func (r *recordingAdapter) Name() string { return "fcm" }

func (r *recordingAdapter) Send(_ context.Context, tokens []string, _ dispatch.Message) dispatch.DeliveryResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, tokens)
	return dispatch.DeliveryResult{SuccessCount: len(tokens)}
}

func (r *recordingAdapter) calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens
}

func testConfig() *config.Config {
	return &config.Config{
		ProjectID:  "test",
		ListenAddr: ":0",
		Dispatch: config.DispatchConfig{
			Provider:        "fcm",
			Concurrency:     2,
			ProviderTimeout: time.Second,
		},
	}
}

func TestService_InProcessDispatch(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	users := memory.NewUserStore(dispatch.User{ID: "U", PushEnabled: true})
	notes := memory.NewNotificationStore()
	adapter := &recordingAdapter{}
	providers := platform.NewRegistry(logger)
	providers.Register(adapter)
	reg := prometheus.NewRegistry()

	svc, err := dispatchservice.New(testConfig(), dispatchservice.Dependencies{
		Users:         users,
		Notifications: notes,
		Providers:     providers,
		Metrics:       reg,
	}, noopAuth, logger)
	require.NoError(t, err)

	require.NoError(t, svc.Devices().Register(ctx, "U", "a", "ios"))
	require.NoError(t, svc.Devices().Register(ctx, "U", "b", "android"))
	require.NoError(t, svc.Devices().Register(ctx, "U", "a", "ios"))

	summary, err := svc.Coordinator().SendToUser(ctx, "U", dispatch.Message{Title: "X", Body: "Y"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RecipientsTargeted)
	assert.Equal(t, 1, summary.PushEligible)
	assert.Equal(t, 2, summary.Delivered)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, [][]string{{"a", "b"}}, adapter.calls())
	assert.Len(t, notes.All(), 1)

	t.Run("Metrics endpoint exposes provider counters", func(t *testing.T) {
		w := httptest.NewRecorder()
		svc.Mux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `push_provider_send_total{provider="fcm"} 1`)
		assert.Contains(t, w.Body.String(), `push_provider_tokens_total{provider="fcm",result="success"} 2`)
	})
}

func TestService_UnconfiguredProviderStillWritesRecords(t *testing.T) {
	logger := newTestLogger()
	users := memory.NewUserStore(dispatch.User{ID: "U", PushEnabled: true, Tokens: []string{"a"}})
	notes := memory.NewNotificationStore()

	cfg := testConfig()
	cfg.Dispatch.Provider = "expo"

	svc, err := dispatchservice.New(cfg, dispatchservice.Dependencies{
		Users:         users,
		Notifications: notes,
		Providers:     platform.NewRegistry(logger),
	}, noopAuth, logger)
	require.NoError(t, err)

	summary, err := svc.Coordinator().SendToAll(context.Background(), dispatch.Message{Title: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Delivered)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, summary.RecordsWritten)
	require.Len(t, summary.Recipients, 1)
	assert.Equal(t, dispatch.PushSkipped, summary.Recipients[0].Push)
}

func TestNewProviderRegistry(t *testing.T) {
	logger := newTestLogger()

	t.Run("Registers configured backends only", func(t *testing.T) {
		cfg := testConfig()
		cfg.Expo.AccessToken = "tok"
		cfg.OneSignal.AppID = "app"
		cfg.OneSignal.APIKey = "key"

		reg, err := dispatchservice.NewProviderRegistry(cfg, nil, logger)
		require.NoError(t, err)
		assert.Equal(t, []string{"expo", "onesignal"}, reg.Names())
		assert.Equal(t, "noop", reg.Resolve("fcm").Name())
	})

	t.Run("Bad APNs key fails startup", func(t *testing.T) {
		cfg := testConfig()
		cfg.APNS.KeyID = "k"
		cfg.APNS.TeamID = "t"
		cfg.APNS.BundleID = "com.example"
		cfg.APNS.P8KeyContent = "not a key"

		_, err := dispatchservice.NewProviderRegistry(cfg, nil, logger)
		assert.Error(t, err)
	})
}
