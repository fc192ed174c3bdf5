// Package dispatchservice assembles the push dispatch service: HTTP routes
// for device registration and the notification centre, the optional Pub/Sub
// ingestion pipeline, and the in-process dispatch coordinator.
package dispatchservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hashicorp/go-multierror"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-dispatch/dispatchservice/config"
	"github.com/tinywideclouds/go-push-dispatch/internal/api"
	"github.com/tinywideclouds/go-push-dispatch/internal/devices"
	"github.com/tinywideclouds/go-push-dispatch/internal/dispatcher"
	"github.com/tinywideclouds/go-push-dispatch/internal/pipeline"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/metrics"
	"github.com/tinywideclouds/go-push-dispatch/internal/recipients"
	"github.com/tinywideclouds/go-push-dispatch/internal/records"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// Dependencies are the externally constructed ports the service runs on.
type Dependencies struct {
	Users         dispatch.UserStore
	Notifications dispatch.NotificationStore
	Providers     *platform.Registry
	// Consumer feeds the ingestion pipeline. Nil disables ingestion.
	Consumer messagepipeline.MessageConsumer
	// Metrics receives the provider collectors and backs GET /metrics.
	Metrics *prometheus.Registry
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[pipeline.DispatchRequest]
	devices         *devices.Registry
	coordinator     *dispatcher.Coordinator
	logger          *slog.Logger
}

// New assembles the service.
func New(
	cfg *config.Config,
	deps Dependencies,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Core components
	if deps.Metrics == nil {
		deps.Metrics = prometheus.NewRegistry()
	}
	provider, err := metrics.NewProvider(deps.Providers.Resolve(cfg.Dispatch.Provider), deps.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to register provider metrics: %w", err)
	}
	deviceRegistry := devices.NewRegistry(deps.Users, logger)
	coordinator := dispatcher.NewCoordinator(
		recipients.NewResolver(deps.Users, logger),
		deviceRegistry,
		provider,
		records.NewWriter(deps.Notifications, cfg.Dispatch.Concurrency, logger),
		dispatcher.Config{
			Concurrency:     cfg.Dispatch.Concurrency,
			ProviderTimeout: cfg.Dispatch.ProviderTimeout,
		},
		logger,
	)
	logger.Info("Dispatch coordinator ready", "provider", provider.Name(), "available", deps.Providers.Names())

	// 3. Pipeline
	var streamingService *messagepipeline.StreamingService[pipeline.DispatchRequest]
	if deps.Consumer != nil {
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			deps.Consumer,
			pipeline.DispatchRequestTransformer,
			pipeline.NewProcessor(coordinator, logger),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 4. API
	tokenAPI := api.NewTokenAPI(deviceRegistry, logger)
	notificationsAPI := api.NewNotificationsAPI(deps.Notifications, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	handle("POST /api/v1/devices/register", tokenAPI.RegisterDevice)
	handle("POST /api/v1/devices/unregister", tokenAPI.UnregisterDevice)
	handle("PUT /api/v1/preferences/push", tokenAPI.SetPushPreference)
	handle("GET /api/v1/notifications", notificationsAPI.List)
	handle("POST /api/v1/notifications/{id}/read", notificationsAPI.MarkRead)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		devices:         deviceRegistry,
		coordinator:     coordinator,
		logger:          logger,
	}, nil
}

// Coordinator exposes the dispatch API to in-process collaborators.
func (w *Wrapper) Coordinator() *dispatcher.Coordinator { return w.coordinator }

// Devices exposes the token registry to in-process collaborators.
func (w *Wrapper) Devices() *devices.Registry { return w.devices }

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Core processing pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	} else {
		w.logger.Info("No subscription configured, ingestion pipeline disabled")
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var result *multierror.Error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			result = multierror.Append(result, fmt.Errorf("pipeline: %w", err))
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		result = multierror.Append(result, fmt.Errorf("http server: %w", err))
	}
	w.logger.Info("Service shutdown complete.")
	return result.ErrorOrNil()
}
