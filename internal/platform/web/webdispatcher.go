// Package web delivers Web Push (VAPID) notifications to browser subscriptions.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-streetart-push/notificationservice/config"
	"github.com/tinywideclouds/go-streetart-push/pkg/push"
)

const (
	defaultTTL     = 60
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
)

// Dispatcher sends to one browser subscription per call. The stored token is the
// subscription JSON the browser produced ({"endpoint":..., "keys":{...}}).
type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	logger     *slog.Logger
	httpClient *http.Client
}

func NewDispatcher(cfg config.VapidConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (d *Dispatcher) Platform() string { return push.PlatformWeb }

func (d *Dispatcher) Configured() bool {
	return d.publicKey != "" && d.privateKey != ""
}

type webPayload struct {
	Notification webNotification `json:"notification"`
	Data         map[string]any  `json:"data"`
}

type webNotification struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	Icon        string `json:"icon,omitempty"`
	ClickAction string `json:"click_action,omitempty"`
	Sound       string `json:"sound"`
}

func (d *Dispatcher) Send(ctx context.Context, token string, n push.Notification) (*push.SendResult, error) {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil || sub.Endpoint == "" {
		// A token that is not a subscription can never be delivered.
		return &push.SendResult{Failure: 1, ErrorCode: push.ErrorInvalidRegistration}, nil
	}

	body, err := json.Marshal(webPayload{
		Notification: webNotification{
			Title:       n.Title,
			Body:        n.Body,
			Icon:        n.Icon,
			ClickAction: n.ClickAction,
			Sound:       n.SoundOrDefault(),
		},
		Data: n.DataOrEmpty(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal web push payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &sub, &webpush.Options{
		Subscriber:      d.subscriber,
		VAPIDPublicKey:  d.publicKey,
		VAPIDPrivateKey: d.privateKey,
		TTL:             defaultTTL,
		Urgency:         webpush.UrgencyHigh,
		HTTPClient:      d.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("web push transport failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &push.SendResult{Success: 1, MessageID: resp.Header.Get("Location")}, nil
	case resp.StatusCode == http.StatusGone, resp.StatusCode == http.StatusNotFound:
		// 410 Gone / 404 Not Found -> the subscription has expired.
		return &push.SendResult{Failure: 1, ErrorCode: push.ErrorNotRegistered}, nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, &push.StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
}
