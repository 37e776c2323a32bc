// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-streetart-push/pkg/push"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Dispatcher struct {
	client APNSClient
	topic  string // The App Bundle ID
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	Production   bool
}

// NewDispatcher creates a configured APNS dispatcher.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tokenSource)
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return newDispatcher(client, cfg.BundleID, logger), nil
}

func newDispatcher(client APNSClient, topic string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSDispatcher"),
	}
}

func (d *Dispatcher) Platform() string { return push.PlatformAPNS }

func (d *Dispatcher) Configured() bool { return d.client != nil && d.topic != "" }

// Send pushes to a single device token. APNs is unary over HTTP/2; there is no
// multicast endpoint.
func (d *Dispatcher) Send(ctx context.Context, deviceToken string, n push.Notification) (*push.SendResult, error) {
	builder := payload.NewPayload().
		AlertTitle(n.Title).
		AlertBody(n.Body).
		Sound(n.SoundOrDefault()).
		ContentAvailable()
	if n.ClickAction != "" {
		builder.Category(n.ClickAction)
	}
	for k, v := range n.DataOrEmpty() {
		builder.Custom(k, v)
	}

	res, err := d.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       d.topic,
		Priority:    apns2.PriorityHigh,
		Payload:     builder,
	})
	if err != nil {
		return nil, fmt.Errorf("apns transport failed: %w", err)
	}

	if res.Sent() {
		return &push.SendResult{Success: 1, MessageID: res.ApnsID}, nil
	}

	// Throttling and server errors are about APNs, not the token.
	if res.StatusCode >= http.StatusInternalServerError || res.StatusCode == http.StatusTooManyRequests {
		return nil, &push.StatusError{StatusCode: res.StatusCode, Body: res.Reason}
	}

	// See: https://developer.apple.com/documentation/usernotifications/handling-notification-responses-from-apns
	switch res.Reason {
	case apns2.ReasonBadDeviceToken:
		return &push.SendResult{Failure: 1, ErrorCode: push.ErrorInvalidRegistration}, nil
	case apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return &push.SendResult{Failure: 1, ErrorCode: push.ErrorNotRegistered}, nil
	}
	// TopicDisallowed, PayloadEmpty etc. point at our configuration, not the token.
	d.logger.Debug("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
	return &push.SendResult{Failure: 1, ErrorCode: res.Reason}, nil
}
