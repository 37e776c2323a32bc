// Package push contains the domain models shared by the dispatch engine, the
// platform gateways and the token stores.
package push

import (
	"errors"
	"fmt"
	"time"
)

// Platform tags. A token is only dispatched to by the channel with the same tag.
const (
	PlatformFCM  = "fcm"
	PlatformWeb  = "web"
	PlatformAPNS = "apns"
)

// DefaultSound is the sound directive sent when a notification does not name one.
const DefaultSound = "default"

// Gateway error codes that mean the token will never succeed again.
const (
	ErrorInvalidRegistration = "InvalidRegistration"
	ErrorNotRegistered       = "NotRegistered"
)

var (
	ErrInvalidNotification = errors.New("invalid notification")
	ErrMissingTitle        = fmt.Errorf("%w: title is required", ErrInvalidNotification)
	ErrMissingBody         = fmt.Errorf("%w: body is required", ErrInvalidNotification)
	ErrMissingRecipient    = errors.New("recipient is required")
	ErrUnknownPlatform     = errors.New("unknown platform")
)

// IsValidPlatform reports whether p is one of the supported platform tags.
func IsValidPlatform(p string) bool {
	switch p {
	case PlatformFCM, PlatformWeb, PlatformAPNS:
		return true
	default:
		return false
	}
}

// IsPermanentFailure reports whether a gateway error code means the token is dead.
func IsPermanentFailure(code string) bool {
	switch code {
	case ErrorInvalidRegistration, ErrorNotRegistered:
		return true
	default:
		return false
	}
}

// DeviceToken is one registered app instance of a user.
type DeviceToken struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Notification is the platform-neutral message handed to the engine.
type Notification struct {
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Icon        string         `json:"icon,omitempty"`
	ClickAction string         `json:"click_action,omitempty"`
	Sound       string         `json:"sound,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// Validate checks the fields a caller must always supply.
func (n Notification) Validate() error {
	if n.Title == "" {
		return ErrMissingTitle
	}
	if n.Body == "" {
		return ErrMissingBody
	}
	return nil
}

// SoundOrDefault returns the configured sound, falling back to DefaultSound.
func (n Notification) SoundOrDefault() string {
	if n.Sound == "" {
		return DefaultSound
	}
	return n.Sound
}

// DataOrEmpty never returns nil so gateways always encode an object.
func (n Notification) DataOrEmpty() map[string]any {
	if n.Data == nil {
		return map[string]any{}
	}
	return n.Data
}

// StringData flattens Data for gateways that only accept string values.
func (n Notification) StringData() map[string]string {
	out := make(map[string]string, len(n.Data))
	for k, v := range n.Data {
		if v == nil {
			out[k] = ""
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

// SendResult is what a gateway reports for a single token after a 2xx response.
type SendResult struct {
	MessageID string
	Success   int
	Failure   int
	// ErrorCode is the first per-token error the gateway reported, if any.
	ErrorCode string
}

// StatusError is returned by gateways when the push service answers outside 2xx.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Body)
}
