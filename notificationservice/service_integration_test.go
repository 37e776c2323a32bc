//go:build integration

package notificationservice_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-platform/pkg/net/v1"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tinywideclouds/go-streetart-push/internal/engine"
	"github.com/tinywideclouds/go-streetart-push/internal/payload"
	fsStore "github.com/tinywideclouds/go-streetart-push/internal/storage/firestore"
	"github.com/tinywideclouds/go-streetart-push/notificationservice"
	"github.com/tinywideclouds/go-streetart-push/notificationservice/config"
	"github.com/tinywideclouds/go-streetart-push/pkg/dispatch"
	"github.com/tinywideclouds/go-streetart-push/pkg/push"
)

// --- Fakes ---

type sentPush struct {
	Token        string
	Notification push.Notification
}

// recordingGateway accepts every token except those listed in unregistered.
type recordingGateway struct {
	mu           sync.Mutex
	platform     string
	sent         []sentPush
	unregistered map[string]bool
}

func newRecordingGateway(platform string, unregistered ...string) *recordingGateway {
	g := &recordingGateway{platform: platform, unregistered: make(map[string]bool)}
	for _, t := range unregistered {
		g.unregistered[t] = true
	}
	return g
}

func (g *recordingGateway) Platform() string { return g.platform }
func (g *recordingGateway) Configured() bool { return true }
func (g *recordingGateway) Send(_ context.Context, token string, n push.Notification) (*push.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sentPush{Token: token, Notification: n})
	if g.unregistered[token] {
		return &push.SendResult{Failure: 1, ErrorCode: push.ErrorNotRegistered}, nil
	}
	return &push.SendResult{Success: 1, MessageID: "msg-" + uuid.NewString()}, nil
}

func (g *recordingGateway) Sent() []sentPush {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentPush(nil), g.sent...)
}

// headerAuth stands in for the JWKS middleware: the caller is taken from a header.
func headerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-Test-User")
		if userID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(middleware.ContextWithUserID(r.Context(), userID)))
	})
}

// --- TEST ---

func TestNotificationService_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projectID := "test-project-integ"

	// 1. Emulators
	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { psClient.Close() })

	fsConn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	fsClient, err := firestore.NewClient(ctx, projectID, fsConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { fsClient.Close() })

	// 2. Token Store (Firestore Implementation)
	tokenStore := fsStore.NewFirestoreStore(fsClient)

	builder, err := payload.NewBuilder(payload.Config{BaseURL: "https://streetart.example"})
	require.NoError(t, err)

	t.Run("Full Lifecycle: Register -> Event -> Dispatch -> Deactivate", func(t *testing.T) {
		// Arrange
		topicID := "push-success-" + uuid.NewString()
		subID := topicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, topicID, subID)

		liveToken := "android-live-" + uuid.NewString()
		deadToken := "android-dead-" + uuid.NewString()
		fcmGateway := newRecordingGateway(push.PlatformFCM, deadToken)
		dispatchers := []dispatch.Dispatcher{engine.New(fcmGateway, tokenStore, logger)}

		consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(subID)
		consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
		require.NoError(t, err)

		svc, err := notificationservice.New(
			&config.Config{ListenAddr: ":0", NumPipelineWorkers: 2},
			consumer,
			builder,
			dispatchers,
			tokenStore,
			headerAuth,
			logger,
		)
		require.NoError(t, err)

		svcCtx, svcCancel := context.WithCancel(ctx)
		defer svcCancel()
		go func() { svc.Start(svcCtx) }()
		t.Cleanup(func() { svc.Shutdown(context.Background()) })

		// Step A: Register both devices through the API
		userURN, _ := urn.Parse("urn:sm:user:integ-" + uuid.NewString())
		for _, tok := range []string{liveToken, deadToken} {
			body, _ := json.Marshal(map[string]any{"token": tok, "platform": push.PlatformFCM})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/devices", bytes.NewReader(body))
			req.Header.Set("X-Test-User", userURN.String())
			rec := httptest.NewRecorder()
			svc.Mux().ServeHTTP(rec, req)
			require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
		}

		// Step B: Publish a social event
		ev := payload.Event{
			ID:           uuid.NewString(),
			Type:         payload.EventArtworkLiked,
			RecipientID:  userURN.String(),
			ActorName:    "Banksy",
			SubjectID:    "art-1",
			SubjectTitle: "Girl with Balloon",
		}
		data, _ := json.Marshal(ev)
		_, err = psClient.Publisher(topicID).Publish(ctx, &pubsub.Message{Data: data}).Get(ctx)
		require.NoError(t, err)

		// Assert: both tokens attempted with the rendered notification
		require.Eventually(t, func() bool {
			return len(fcmGateway.Sent()) == 2
		}, 15*time.Second, 100*time.Millisecond)

		for _, s := range fcmGateway.Sent() {
			assert.Equal(t, "Banksy liked your artwork \"Girl with Balloon\"", s.Notification.Body)
			assert.Equal(t, "https://streetart.example/artworks/art-1", s.Notification.ClickAction)
		}

		// Assert: the unregistered token was deactivated in Firestore
		require.Eventually(t, func() bool {
			active, err := tokenStore.ListActiveTokens(ctx, userURN, push.PlatformFCM)
			return err == nil && len(active) == 1 && active[0].Token == liveToken
		}, 10*time.Second, 200*time.Millisecond)

		// Step C: The device list never exposes full tokens
		req := httptest.NewRequest(http.MethodGet, "/api/v1/devices?platform=fcm", nil)
		req.Header.Set("X-Test-User", userURN.String())
		rec := httptest.NewRecorder()
		svc.Mux().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), liveToken)
	})

	t.Run("Unauthenticated registration is rejected", func(t *testing.T) {
		topicID := "push-auth-" + uuid.NewString()
		subID := topicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, topicID, subID)

		consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(subID)
		consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
		require.NoError(t, err)

		svc, err := notificationservice.New(
			&config.Config{ListenAddr: ":0", NumPipelineWorkers: 1},
			consumer, builder, nil, tokenStore, headerAuth, logger,
		)
		require.NoError(t, err)

		body := bytes.NewReader([]byte(`{"token":"t","platform":"fcm"}`))
		rec := httptest.NewRecorder()
		svc.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/devices", body))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func createPubsubResources(t *testing.T, ctx context.Context, client *pubsub.Client, projectID, topicID, subID string) {
	t.Helper()
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.TopicAdminClient.DeleteTopic(context.Background(), &pubsubpb.DeleteTopicRequest{Topic: topicName})
	})

	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
	sub := &pubsubpb.Subscription{
		Name:               subName,
		Topic:              topicName,
		AckDeadlineSeconds: 10,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	}
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.SubscriptionAdminClient.DeleteSubscription(context.Background(), &pubsubpb.DeleteSubscriptionRequest{Subscription: subName})
	})
}
