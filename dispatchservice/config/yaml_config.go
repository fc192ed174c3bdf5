package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-dispatch/internal/platform/apns"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/expo"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/onesignal"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/web"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	TTL      string `yaml:"ttl"`
}

type YamlStorageConfig struct {
	Driver      string `yaml:"driver"`
	PostgresDSN string `yaml:"postgres_dsn"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type YamlDispatchConfig struct {
	Provider        string `yaml:"provider"`
	Concurrency     int    `yaml:"concurrency"`
	ProviderTimeout string `yaml:"provider_timeout"`
}

type YamlFCMConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	WebIcon         string `yaml:"web_icon"`
}

type YamlAPNSConfig struct {
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	BundleID   string `yaml:"bundle_id"`
	P8Key      string `yaml:"p8_key"`
	Production bool   `yaml:"production"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
	Icon            string `yaml:"icon"`
}

type YamlExpoConfig struct {
	AccessToken string `yaml:"access_token"`
	Host        string `yaml:"host"`
}

type YamlOneSignalConfig struct {
	AppID    string `yaml:"app_id"`
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string              `yaml:"project_id"`
	ListenAddr             string              `yaml:"listen_addr"`
	TopicID                string              `yaml:"topic_id"`
	SubscriptionID         string              `yaml:"subscription_id"`
	SubscriptionDLQTopicID string              `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int                 `yaml:"num_pipeline_workers"`
	CorsConfig             YamlCorsConfig      `yaml:"cors"`
	RedisConfig            YamlRedisConfig     `yaml:"redis"`
	StorageConfig          YamlStorageConfig   `yaml:"storage"`
	DispatchConfig         YamlDispatchConfig  `yaml:"dispatch"`
	FCMConfig              YamlFCMConfig       `yaml:"fcm"`
	APNSConfig             YamlAPNSConfig      `yaml:"apns"`
	VapidConfig            YamlVapidConfig     `yaml:"vapid"`
	ExpoConfig             YamlExpoConfig      `yaml:"expo"`
	OneSignalConfig        YamlOneSignalConfig `yaml:"onesignal"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	providerTimeout, err := parseDuration("dispatch.provider_timeout", baseCfg.DispatchConfig.ProviderTimeout)
	if err != nil {
		return nil, err
	}
	redisTTL, err := parseDuration("redis.ttl", baseCfg.RedisConfig.TTL)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTL:      redisTTL,
		},
		Storage: StorageConfig{
			Driver:      strings.ToLower(baseCfg.StorageConfig.Driver),
			PostgresDSN: baseCfg.StorageConfig.PostgresDSN,
			AutoMigrate: baseCfg.StorageConfig.AutoMigrate,
		},
		Dispatch: DispatchConfig{
			Provider:        strings.ToLower(baseCfg.DispatchConfig.Provider),
			Concurrency:     baseCfg.DispatchConfig.Concurrency,
			ProviderTimeout: providerTimeout,
		},
		FCM: FCMConfig{
			Enabled:         baseCfg.FCMConfig.Enabled,
			CredentialsFile: baseCfg.FCMConfig.CredentialsFile,
			WebIcon:         baseCfg.FCMConfig.WebIcon,
		},
		APNS: apns.Config{
			KeyID:        baseCfg.APNSConfig.KeyID,
			TeamID:       baseCfg.APNSConfig.TeamID,
			BundleID:     baseCfg.APNSConfig.BundleID,
			P8KeyContent: baseCfg.APNSConfig.P8Key,
			Production:   baseCfg.APNSConfig.Production,
		},
		Vapid: web.Config{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
			Icon:            baseCfg.VapidConfig.Icon,
		},
		Expo: expo.Config{
			AccessToken: baseCfg.ExpoConfig.AccessToken,
			Host:        baseCfg.ExpoConfig.Host,
		},
		OneSignal: onesignal.Config{
			AppID:    baseCfg.OneSignalConfig.AppID,
			APIKey:   baseCfg.OneSignalConfig.APIKey,
			Endpoint: baseCfg.OneSignalConfig.Endpoint,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"storage", cfg.Storage.Driver,
		"provider", cfg.Dispatch.Provider,
	)

	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
