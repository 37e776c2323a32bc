package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
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

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlFCMConfig struct {
	ServerKey string `yaml:"server_key"`
	Endpoint  string `yaml:"endpoint"`
	Timeout   string `yaml:"timeout"`
}

type YamlFirebaseConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
}

type YamlAPNSConfig struct {
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	BundleID   string `yaml:"bundle_id"`
	P8KeyFile  string `yaml:"p8_key_file"`
	Production bool   `yaml:"production"`
}

type YamlStorageConfig struct {
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type YamlDispatchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type YamlPayloadConfig struct {
	BaseURL     string `yaml:"base_url"`
	DefaultIcon string `yaml:"default_icon"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string             `yaml:"project_id"`
	ListenAddr             string             `yaml:"listen_addr"`
	TopicID                string             `yaml:"topic_id"`
	SubscriptionID         string             `yaml:"subscription_id"`
	SubscriptionDLQTopicID string             `yaml:"subscription_dlq_topic_id"`
	CorsConfig             YamlCorsConfig     `yaml:"cors"`
	RedisConfig            YamlRedisConfig    `yaml:"redis"`
	VapidConfig            YamlVapidConfig    `yaml:"vapid"`
	FCMConfig              YamlFCMConfig      `yaml:"fcm"`
	FirebaseConfig         YamlFirebaseConfig `yaml:"firebase"`
	APNSConfig             YamlAPNSConfig     `yaml:"apns"`
	StorageConfig          YamlStorageConfig  `yaml:"storage"`
	DispatchConfig         YamlDispatchConfig `yaml:"dispatch"`
	PayloadConfig          YamlPayloadConfig  `yaml:"payload"`
	NumPipelineWorkers     int                `yaml:"num_pipeline_workers"`
}

func parseOptionalDuration(field, val string) (time.Duration, error) {
	if val == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, val, err)
	}
	return d, nil
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	fcmTimeout, err := parseOptionalDuration("fcm.timeout", baseCfg.FCMConfig.Timeout)
	if err != nil {
		return nil, err
	}
	redisTTL, err := parseOptionalDuration("redis.ttl", baseCfg.RedisConfig.TTL)
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
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		FCM: FCMConfig{
			ServerKey: baseCfg.FCMConfig.ServerKey,
			Endpoint:  baseCfg.FCMConfig.Endpoint,
			Timeout:   fcmTimeout,
		},
		Firebase: FirebaseConfig{
			Enabled:         baseCfg.FirebaseConfig.Enabled,
			CredentialsFile: baseCfg.FirebaseConfig.CredentialsFile,
		},
		APNS: APNSConfig{
			KeyID:      baseCfg.APNSConfig.KeyID,
			TeamID:     baseCfg.APNSConfig.TeamID,
			BundleID:   baseCfg.APNSConfig.BundleID,
			P8KeyFile:  baseCfg.APNSConfig.P8KeyFile,
			Production: baseCfg.APNSConfig.Production,
		},
		Storage: StorageConfig{
			Backend:     baseCfg.StorageConfig.Backend,
			PostgresDSN: baseCfg.StorageConfig.PostgresDSN,
		},
		Dispatch: DispatchConfig{
			Concurrency: baseCfg.DispatchConfig.Concurrency,
		},
		Payload: PayloadConfig{
			BaseURL:     baseCfg.PayloadConfig.BaseURL,
			DefaultIcon: baseCfg.PayloadConfig.DefaultIcon,
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
		"storage_backend", cfg.Storage.Backend,
	)

	return cfg, nil
}
