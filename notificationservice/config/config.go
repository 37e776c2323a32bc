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
)

// Token store backends.
const (
	StorageFirestore = "firestore"
	StoragePostgres  = "postgres"
	StorageMemory    = "memory"
)

const (
	defaultListenAddr = ":8080"
	defaultRedisTTL   = 24 * time.Hour
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

// FCMConfig is the legacy server-key gateway. An empty ServerKey is valid: the
// channel then skips every dispatch.
type FCMConfig struct {
	ServerKey string
	Endpoint  string
	Timeout   time.Duration
}

// FirebaseConfig switches the FCM channel to the Admin SDK (HTTP v1).
type FirebaseConfig struct {
	Enabled         bool
	CredentialsFile string
}

type APNSConfig struct {
	KeyID      string
	TeamID     string
	BundleID   string
	P8KeyFile  string
	Production bool
}

// Enabled reports whether enough is configured to build an APNs client.
func (c APNSConfig) Enabled() bool {
	return c.KeyID != "" && c.TeamID != "" && c.BundleID != "" && c.P8KeyFile != ""
}

type StorageConfig struct {
	Backend     string
	PostgresDSN string
}

type DispatchConfig struct {
	// Concurrency bounds parallel sends per dispatch call; 0 uses the engine default.
	Concurrency int
}

type PayloadConfig struct {
	BaseURL     string
	DefaultIcon string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Vapid      VapidConfig
	FCM        FCMConfig
	Firebase   FirebaseConfig
	APNS       APNSConfig
	Storage    StorageConfig
	Dispatch   DispatchConfig
	Payload    PayloadConfig

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
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
	if val := os.Getenv("REDIS_TTL"); val != "" {
		ttl, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_TTL %q: %w", val, err)
		}
		cfg.Redis.TTL = ttl
	}

	// VAPID Overrides
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

	// FCM / Firebase Overrides
	if val := os.Getenv("FCM_SERVER_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_SERVER_KEY", "source", "env")
		cfg.FCM.ServerKey = val
	}
	if val := os.Getenv("FCM_ENDPOINT"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_ENDPOINT", "source", "env")
		cfg.FCM.Endpoint = val
	}
	if val := os.Getenv("FCM_TIMEOUT"); val != "" {
		timeout, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid FCM_TIMEOUT %q: %w", val, err)
		}
		cfg.FCM.Timeout = timeout
	}
	if val := os.Getenv("FIREBASE_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Firebase.Enabled = enabled
	}
	if val := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); val != "" {
		cfg.Firebase.CredentialsFile = val
	}

	// APNs Overrides
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY_FILE"); val != "" {
		cfg.APNS.P8KeyFile = val
	}
	if val := os.Getenv("APNS_PRODUCTION"); val != "" {
		production, _ := strconv.ParseBool(val)
		cfg.APNS.Production = production
	}

	// Storage Overrides
	if val := os.Getenv("STORAGE_BACKEND"); val != "" {
		logger.Debug("Overriding config value", "key", "STORAGE_BACKEND", "source", "env")
		cfg.Storage.Backend = val
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "DATABASE_URL", "source", "env")
		cfg.Storage.PostgresDSN = val
	}

	// Dispatch & Payload Overrides
	if val := os.Getenv("DISPATCH_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Dispatch.Concurrency = n
		}
	}
	if val := os.Getenv("APP_BASE_URL"); val != "" {
		cfg.Payload.BaseURL = val
	}
	if val := os.Getenv("DEFAULT_ICON"); val != "" {
		cfg.Payload.DefaultIcon = val
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
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = defaultRedisTTL
	}

	switch cfg.Storage.Backend {
	case "":
		cfg.Storage.Backend = StorageFirestore
	case StorageFirestore, StorageMemory:
	case StoragePostgres:
		if cfg.Storage.PostgresDSN == "" {
			return nil, fmt.Errorf("storage.postgres_dsn is required for the postgres backend (or DATABASE_URL env var)")
		}
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	if cfg.Dispatch.Concurrency < 0 {
		return nil, fmt.Errorf("dispatch.concurrency must not be negative")
	}

	// A missing FCM server key is not an error: the channel skips at dispatch time.
	if cfg.FCM.ServerKey == "" && !cfg.Firebase.Enabled {
		logger.Warn("No FCM credential configured; mobile pushes will be skipped")
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
