package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-dispatch/internal/platform/apns"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/expo"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/onesignal"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/web"
)

const (
	StorageMemory    = "memory"
	StorageFirestore = "firestore"
	StoragePostgres  = "postgres"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type StorageConfig struct {
	Driver      string
	PostgresDSN string
	// AutoMigrate runs the GORM migrations at startup (postgres only).
	AutoMigrate bool
}

type DispatchConfig struct {
	// Provider names the backend resolved from the registry at startup.
	Provider        string
	Concurrency     int
	ProviderTimeout time.Duration
}

type FCMConfig struct {
	Enabled         bool
	CredentialsFile string
	WebIcon         string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Dispatch   DispatchConfig

	FCM       FCMConfig
	APNS      apns.Config
	Vapid     web.Config
	Expo      expo.Config
	OneSignal onesignal.Config

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// PipelineEnabled reports whether Pub/Sub ingestion should run.
func (c *Config) PipelineEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "TOPIC_ID", "source", "env")
		cfg.TopicID = val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// Storage Overrides
	if val := os.Getenv("STORAGE_DRIVER"); val != "" {
		logger.Debug("Overriding config value", "key", "STORAGE_DRIVER", "source", "env")
		cfg.Storage.Driver = strings.ToLower(val)
	}
	if val := os.Getenv("POSTGRES_DSN"); val != "" {
		logger.Debug("Overriding config value", "key", "POSTGRES_DSN", "source", "env")
		cfg.Storage.PostgresDSN = val
	}

	// Dispatch Overrides
	if val := os.Getenv("PUSH_PROVIDER"); val != "" {
		logger.Debug("Overriding config value", "key", "PUSH_PROVIDER", "source", "env")
		cfg.Dispatch.Provider = strings.ToLower(val)
	}
	if val := os.Getenv("DISPATCH_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Dispatch.Concurrency = n
		}
	}
	if val := os.Getenv("PROVIDER_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid PROVIDER_TIMEOUT %q: %w", val, err)
		}
		cfg.Dispatch.ProviderTimeout = d
	}

	// Provider credentials
	if val := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); val != "" && cfg.FCM.CredentialsFile == "" {
		cfg.FCM.CredentialsFile = val
	}
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_P8_KEY", "source", "env")
		cfg.APNS.P8KeyContent = val
	}
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Vapid.SubscriberEmail = val
	}
	if val := os.Getenv("EXPO_ACCESS_TOKEN"); val != "" {
		cfg.Expo.AccessToken = val
	}
	if val := os.Getenv("ONESIGNAL_APP_ID"); val != "" {
		cfg.OneSignal.AppID = val
	}
	if val := os.Getenv("ONESIGNAL_API_KEY"); val != "" {
		cfg.OneSignal.APIKey = val
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}

	switch cfg.Storage.Driver {
	case "":
		cfg.Storage.Driver = StorageFirestore
	case StorageMemory, StorageFirestore:
	case StoragePostgres:
		if cfg.Storage.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres_dsn is required for the postgres storage driver")
		}
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if cfg.Dispatch.Provider == "" {
		cfg.Dispatch.Provider = "fcm"
	}
	if cfg.Dispatch.Concurrency <= 0 {
		cfg.Dispatch.Concurrency = 8
	}
	if cfg.Dispatch.ProviderTimeout <= 0 {
		cfg.Dispatch.ProviderTimeout = 30 * time.Second
	}
	// Every HTTP-based backend shares the dispatch-level timeout.
	cfg.APNS.Timeout = cfg.Dispatch.ProviderTimeout
	cfg.Vapid.Timeout = cfg.Dispatch.ProviderTimeout
	cfg.Expo.Timeout = cfg.Dispatch.ProviderTimeout
	cfg.OneSignal.Timeout = cfg.Dispatch.ProviderTimeout

	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 24 * time.Hour
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
