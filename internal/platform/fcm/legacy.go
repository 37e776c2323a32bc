package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-streetart-push/pkg/push"
)

const (
	DefaultLegacyEndpoint = "https://fcm.googleapis.com/fcm/send"
	defaultLegacyTimeout  = 10 * time.Second
	maxErrorBody          = 4 << 10
)

// LegacyConfig holds the server-key credentials of the FCM legacy HTTP API.
type LegacyConfig struct {
	ServerKey string
	Endpoint  string
	Timeout   time.Duration
}

// LegacyGateway posts one request per token to the FCM legacy HTTP endpoint.
type LegacyGateway struct {
	serverKey string
	endpoint  string
	client    *http.Client
	logger    *slog.Logger
}

func NewLegacyGateway(cfg LegacyConfig, logger *slog.Logger) *LegacyGateway {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultLegacyEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultLegacyTimeout
	}
	return &LegacyGateway{
		serverKey: cfg.ServerKey,
		endpoint:  cfg.Endpoint,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    logger.With("component", "FCMLegacyGateway"),
	}
}

func (g *LegacyGateway) Platform() string { return push.PlatformFCM }

func (g *LegacyGateway) Configured() bool { return g.serverKey != "" }

type legacyNotification struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	Icon        string `json:"icon,omitempty"`
	ClickAction string `json:"click_action,omitempty"`
	Sound       string `json:"sound"`
}

type legacyRequest struct {
	To               string             `json:"to"`
	Notification     legacyNotification `json:"notification"`
	Data             map[string]any     `json:"data"`
	Priority         string             `json:"priority"`
	ContentAvailable bool               `json:"content_available"`
}

// legacyResponse mirrors the downstream JSON. Every field is optional.
type legacyResponse struct {
	MulticastID int64 `json:"multicast_id"`
	Success     *int  `json:"success"`
	Failure     *int  `json:"failure"`
	Results     []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

func (r *legacyResponse) toSendResult() *push.SendResult {
	res := &push.SendResult{}
	if r.Success != nil {
		res.Success = *r.Success
	}
	if r.Failure != nil {
		res.Failure = *r.Failure
	}
	// One token per request, so only the first result is meaningful.
	if len(r.Results) > 0 {
		res.MessageID = r.Results[0].MessageID
		if res.Failure > 0 {
			res.ErrorCode = r.Results[0].Error
		}
	}
	return res
}

func (g *LegacyGateway) Send(ctx context.Context, token string, n push.Notification) (*push.SendResult, error) {
	body, err := json.Marshal(legacyRequest{
		To: token,
		Notification: legacyNotification{
			Title:       n.Title,
			Body:        n.Body,
			Icon:        n.Icon,
			ClickAction: n.ClickAction,
			Sound:       n.SoundOrDefault(),
		},
		Data:             n.DataOrEmpty(),
		Priority:         "high",
		ContentAvailable: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fcm request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build fcm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+g.serverKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fcm transport failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &push.StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var decoded legacyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && !errors.Is(err, io.EOF) {
		// FCM accepted the request; without a readable body there is no per-token verdict.
		g.logger.Warn("Unparseable fcm response body, assuming accepted", "status", resp.StatusCode, "err", err)
		return &push.SendResult{Success: 1}, nil
	}
	return decoded.toSendResult(), nil
}
