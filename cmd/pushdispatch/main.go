package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	firebase "firebase.google.com/go/v4"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-dispatch/dispatchservice"
	"github.com/tinywideclouds/go-push-dispatch/dispatchservice/config"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-dispatch/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-dispatch/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-dispatch/internal/storage/memory"
	pgStore "github.com/tinywideclouds/go-push-dispatch/internal/storage/postgres"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-dispatch")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("Service exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		return fmt.Errorf("failed to unmarshal embedded yaml config: %w", err)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		return fmt.Errorf("yaml config: %w", err)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// --- Storage ---
	users, notifications, closeStorage, err := newStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer redisClient.Close()
		users = cache.NewCachedUserStore(users, redisClient, cfg.Redis.TTL, logger)
		logger.Info("UserStore upgraded", "type", "redis_cached_"+cfg.Storage.Driver)
	}

	// --- Push Providers ---
	var fcmClient fcm.MessagingClient
	if cfg.FCM.Enabled {
		var opts []option.ClientOption
		if cfg.FCM.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.FCM.CredentialsFile))
		}
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
		if err != nil {
			return fmt.Errorf("failed to initialize Firebase App: %w", err)
		}
		messagingClient, err := fbApp.Messaging(ctx)
		if err != nil {
			return fmt.Errorf("failed to create FCM messaging client: %w", err)
		}
		fcmClient = messagingClient
	}
	providers, err := dispatchservice.NewProviderRegistry(cfg, fcmClient, logger)
	if err != nil {
		return err
	}

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		return fmt.Errorf("JWT discovery failed: %w", err)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		return fmt.Errorf("auth middleware: %w", err)
	}

	// --- Consumer ---
	var consumer messagepipeline.MessageConsumer
	if cfg.PipelineEnabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("PubSub client failed: %w", err)
		}
		defer psClient.Close()
		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	service, err := dispatchservice.New(cfg, dispatchservice.Dependencies{
		Users:         users,
		Notifications: notifications,
		Providers:     providers,
		Consumer:      consumer,
		Metrics:       reg,
	}, authMiddleware, logger)
	if err != nil {
		return fmt.Errorf("service creation failed: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting service...", "addr", cfg.ListenAddr)
		errChan <- service.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return service.Shutdown(shutdownCtx)
}

func newStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatch.UserStore, dispatch.NotificationStore, func(), error) {
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		logger.Warn("Using in-memory storage, state is lost on restart")
		return memory.NewUserStore(), memory.NewNotificationStore(), func() {}, nil

	case config.StoragePostgres:
		db, err := pgStore.Open(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("postgres open failed: %w", err)
		}
		if cfg.Storage.AutoMigrate {
			if err := pgStore.Migrate(ctx, db); err != nil {
				return nil, nil, nil, fmt.Errorf("postgres migrate failed: %w", err)
			}
		}
		closer := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		logger.Info("Storage initialized", "type", "postgres")
		return pgStore.NewUserStore(db), pgStore.NewNotificationStore(db), closer, nil

	default:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("firestore client failed: %w", err)
		}
		logger.Info("Storage initialized", "type", "firestore")
		return fsStore.NewUserStore(fsClient), fsStore.NewNotificationStore(fsClient), func() { _ = fsClient.Close() }, nil
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topic := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topic,
		AckDeadlineSeconds: 10,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: durationpb.New(5 * time.Second),
			MaximumBackoff: durationpb.New(5 * time.Minute),
		},
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}

	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			return nil, fmt.Errorf("could not create subscription %s: %w", sub, err)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

func convertPubsub(project, id, kind string) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, kind, id)
}
