package dispatch

import (
	"context"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-streetart-push/pkg/push"
)

// Gateway sends a notification to a single device token on one platform
// (the legacy FCM endpoint, Firebase HTTP v1, Web Push, APNs).
type Gateway interface {
	// Platform is the token platform tag this gateway serves.
	Platform() string
	// Configured reports whether the gateway credentials are present.
	Configured() bool
	// Send performs one delivery attempt. A non-nil error is a transport failure;
	// gateway-reported per-token failures come back in the SendResult.
	Send(ctx context.Context, token string, n push.Notification) (*push.SendResult, error)
}

// TokenLister is anything that can list a user's active tokens for one platform.
type TokenLister interface {
	ListActiveTokens(ctx context.Context, user urn.URN, platform string) ([]push.DeviceToken, error)
}

// TokenDeactivator marks a token inactive. Deactivating an inactive or unknown
// token must succeed.
type TokenDeactivator interface {
	Deactivate(ctx context.Context, token string) error
}

// TokenRegistrar adds or re-activates a device token.
type TokenRegistrar interface {
	RegisterToken(ctx context.Context, token push.DeviceToken) error
}

// TokenStore defines the contract for managing user device tokens.
type TokenStore interface {
	TokenRegistrar
	TokenLister
	TokenDeactivator
}

// Dispatcher delivers a notification to every active device of a user on one platform.
type Dispatcher interface {
	Platform() string
	Dispatch(ctx context.Context, recipient string, n push.Notification) (*push.Summary, error)
}
