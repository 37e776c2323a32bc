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
	"github.com/joho/godotenv"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-streetart-push/internal/engine"
	"github.com/tinywideclouds/go-streetart-push/internal/payload"
	"github.com/tinywideclouds/go-streetart-push/internal/platform/apns"
	"github.com/tinywideclouds/go-streetart-push/internal/platform/fcm"
	"github.com/tinywideclouds/go-streetart-push/internal/platform/web"

	"github.com/tinywideclouds/go-streetart-push/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-streetart-push/internal/storage/firestore"
	"github.com/tinywideclouds/go-streetart-push/internal/storage/memory"
	"github.com/tinywideclouds/go-streetart-push/internal/storage/postgres"
	"github.com/tinywideclouds/go-streetart-push/pkg/dispatch"

	"github.com/tinywideclouds/go-streetart-push/notificationservice"
	"github.com/tinywideclouds/go-streetart-push/notificationservice/config"

	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-streetart-push")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Failed to map yaml config", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	// --- Token Store (Decorated) ---
	tokenStore, closeStore, err := newTokenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Token store failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		tokenStore = cache.NewCachedTokenStore(tokenStore, redisClient, cfg.Redis.TTL, logger)
		logger.Info("TokenStore upgraded", "type", "redis_cached_"+cfg.Storage.Backend)
	}

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		logger.Error("JWT discovery failed", "identity_url", identityURL, "err", err)
		os.Exit(1)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		logger.Error("Auth middleware failed", "err", err)
		os.Exit(1)
	}

	// --- Channels ---
	gateways, err := newGateways(ctx, cfg, logger)
	if err != nil {
		logger.Error("Gateway setup failed", "err", err)
		os.Exit(1)
	}
	dispatchers := make([]dispatch.Dispatcher, 0, len(gateways))
	for _, g := range gateways {
		dispatchers = append(dispatchers, engine.New(g, tokenStore, logger, engine.WithConcurrency(cfg.Dispatch.Concurrency)))
		logger.Info("Channel registered", "platform", g.Platform(), "configured", g.Configured())
	}

	builder, err := payload.NewBuilder(payload.Config{
		BaseURL:     cfg.Payload.BaseURL,
		DefaultIcon: cfg.Payload.DefaultIcon,
	})
	if err != nil {
		logger.Error("Payload builder failed", "err", err)
		os.Exit(1)
	}

	// --- Consumer & Service ---
	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		logger.Error("Consumer setup failed", "err", err)
		os.Exit(1)
	}

	service, err := notificationservice.New(
		cfg,
		consumer,
		builder,
		dispatchers,
		tokenStore,
		authMiddleware,
		logger,
	)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := service.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown failed", "err", err)
		}
	}()

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func newTokenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatch.TokenStore, func(), error) {
	switch cfg.Storage.Backend {
	case config.StoragePostgres:
		db, err := postgres.Open(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		store := postgres.NewTokenStore(db)
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		logger.Info("TokenStore initialized", "type", "postgres")
		return store, func() { _ = db.Close() }, nil

	case config.StorageMemory:
		logger.Warn("TokenStore initialized", "type", "memory", "note", "tokens are lost on restart")
		return memory.NewTokenStore(), func() {}, nil

	default:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client failed: %w", err)
		}
		logger.Info("TokenStore initialized", "type", "firestore")
		return fsStore.NewFirestoreStore(fsClient), func() { _ = fsClient.Close() }, nil
	}
}

// newGateways builds one gateway per platform. Gateways without credentials are
// still registered; their channel reports not_configured per dispatch.
func newGateways(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]dispatch.Gateway, error) {
	var gateways []dispatch.Gateway

	// A. Mobile (FCM): Admin SDK when enabled, otherwise the legacy server-key endpoint
	if cfg.Firebase.Enabled {
		var opts []option.ClientOption
		if cfg.Firebase.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
		}
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Firebase App: %w", err)
		}
		fcmMessaging, err := fbApp.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
		}
		gateways = append(gateways, fcm.NewDispatcher(fcmMessaging, logger))
	} else {
		gateways = append(gateways, fcm.NewLegacyGateway(fcm.LegacyConfig{
			ServerKey: cfg.FCM.ServerKey,
			Endpoint:  cfg.FCM.Endpoint,
			Timeout:   cfg.FCM.Timeout,
		}, logger))
	}

	// B. Web (VAPID)
	if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
		logger.Warn("VAPID keys missing in configuration. Web Push will be skipped.")
	}
	gateways = append(gateways, web.NewDispatcher(cfg.Vapid, logger))

	// C. iOS (APNs), only when a signing key is configured
	if cfg.APNS.Enabled() {
		keyContent, err := os.ReadFile(cfg.APNS.P8KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read APNs key file: %w", err)
		}
		apnsDispatcher, err := apns.NewDispatcher(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: string(keyContent),
			Production:   cfg.APNS.Production,
		}, logger)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, apnsDispatcher)
	}

	return gateways, nil
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")
	dlt := convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlt,
			MaxDeliveryAttempts: 5,
		},
		EnableMessageOrdering: false,
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub %s: %w", sub, err)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
