// Package fcm provides the gateways for Firebase Cloud Messaging: the legacy
// server-key HTTP endpoint and the Firebase Admin SDK (HTTP v1).
package fcm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-streetart-push/pkg/push"
)

// ErrorInvalidArgument is reported when FCM rejects the message itself rather
// than the registration token.
const ErrorInvalidArgument = "InvalidArgument"

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// Dispatcher sends through the Firebase Admin SDK, one message per token.
type Dispatcher struct {
	client MessagingClient
	logger *slog.Logger
}

// NewDispatcher accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewDispatcher(client MessagingClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

func (d *Dispatcher) Platform() string { return push.PlatformFCM }

func (d *Dispatcher) Configured() bool { return d.client != nil }

func (d *Dispatcher) Send(ctx context.Context, token string, n push.Notification) (*push.SendResult, error) {
	msg := buildMessage(token, n)

	id, err := d.client.Send(ctx, msg)
	if err != nil {
		// The SDK reports per-token rejections as errors; map the fatal ones onto
		// the gateway codes the engine understands.
		switch {
		case messaging.IsUnregistered(err):
			return &push.SendResult{Failure: 1, ErrorCode: push.ErrorNotRegistered}, nil
		case messaging.IsInvalidArgument(err) && namesRegistrationToken(err):
			return &push.SendResult{Failure: 1, ErrorCode: push.ErrorInvalidRegistration}, nil
		case messaging.IsInvalidArgument(err):
			// Payload problems (reserved data keys, oversized message) say nothing
			// about the token.
			return &push.SendResult{Failure: 1, ErrorCode: ErrorInvalidArgument}, nil
		}
		return nil, fmt.Errorf("fcm transport failed: %w", err)
	}
	return &push.SendResult{MessageID: id, Success: 1}, nil
}

// namesRegistrationToken reports whether an INVALID_ARGUMENT error is about the
// token. The SDK's error text is the server message, e.g. "The registration token
// is not a valid FCM registration token".
func namesRegistrationToken(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "registration token")
}

func buildMessage(token string, n push.Notification) *messaging.Message {
	sound := n.SoundOrDefault()
	msg := &messaging.Message{
		Token: token,
		Data:  n.StringData(),
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Icon:        n.Icon,
				ClickAction: n.ClickAction,
				Sound:       sound,
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ContentAvailable: true,
					Sound:            sound,
				},
			},
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: n.Title,
				Body:  n.Body,
				Icon:  n.Icon,
			},
		},
	}
	// FCM only accepts HTTPS links for web clicks.
	if strings.HasPrefix(n.ClickAction, "https://") {
		msg.Webpush.FCMOptions = &messaging.WebpushFCMOptions{Link: n.ClickAction}
	}
	return msg
}
