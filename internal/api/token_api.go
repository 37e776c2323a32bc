package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"log/slog"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-streetart-push/pkg/dispatch"
	"github.com/tinywideclouds/go-streetart-push/pkg/push"
)

type TokenAPI struct {
	Store  dispatch.TokenStore
	Logger *slog.Logger
}

func NewTokenAPI(store dispatch.TokenStore, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		Store:  store,
		Logger: logger.With("component", "TokenAPI"),
	}
}

// RegisterRequest carries a device token. Mobile tokens are JSON strings; a web
// token may be sent as the browser's PushSubscription object.
type RegisterRequest struct {
	Token    json.RawMessage `json:"token"`
	Platform string          `json:"platform"`
}

type DeactivateRequest struct {
	Token json.RawMessage `json:"token"`
}

type DeviceResponse struct {
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	UpdatedAt time.Time `json:"updated_at"`
}

var errMissingToken = errors.New("missing token")

// normalizeToken turns the raw token field into the string the store keys on.
func normalizeToken(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errMissingToken
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		if s == "" {
			return "", errMissingToken
		}
		return s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// validWebSubscription checks the fields the Web Push encryption needs.
func validWebSubscription(token string) bool {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil {
		return false
	}
	return sub.Endpoint != "" && sub.Keys.P256dh != "" && sub.Keys.Auth != ""
}

func (api *TokenAPI) caller(w http.ResponseWriter, r *http.Request) (urn.URN, bool) {
	var none urn.URN
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return none, false
	}
	userURN, err := urn.Parse(userID)
	if err == nil && userURN.IsZero() {
		err = errors.New("empty user id")
	}
	if err != nil {
		api.Logger.Warn("Caller identity is not a valid URN", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return none, false
	}
	return userURN, true
}

// RegisterDevice handles POST /api/v1/devices.
func (api *TokenAPI) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userURN, ok := api.caller(w, r)
	if !ok {
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !push.IsValidPlatform(req.Platform) {
		response.WriteJSONError(w, http.StatusBadRequest, "unknown platform")
		return
	}
	token, err := normalizeToken(req.Token)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}
	if req.Platform == push.PlatformWeb && !validWebSubscription(token) {
		api.Logger.Warn("RegisterDevice: Validation failed", "reason", "incomplete subscription")
		response.WriteJSONError(w, http.StatusBadRequest, "incomplete subscription object")
		return
	}

	err = api.Store.RegisterToken(ctx, push.DeviceToken{
		UserID:   userURN.String(),
		Token:    token,
		Platform: req.Platform,
		Active:   true,
	})
	if err != nil {
		api.Logger.Error("failed to register device", "platform", req.Platform, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("RegisterDevice: Device registered", "user", userURN, "platform", req.Platform, "token", push.RedactToken(token))

	w.WriteHeader(http.StatusNoContent)
}

// DeactivateDevice handles POST /api/v1/devices/deactivate. It is idempotent.
func (api *TokenAPI) DeactivateDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userURN, ok := api.caller(w, r)
	if !ok {
		return
	}

	var req DeactivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	token, err := normalizeToken(req.Token)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	if err := api.Store.Deactivate(ctx, token); err != nil {
		api.Logger.Warn("failed to deactivate device", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to deactivate device")
		return
	}
	api.Logger.Info("DeactivateDevice: Device deactivated", "user", userURN, "token", push.RedactToken(token))

	w.WriteHeader(http.StatusNoContent)
}

// ListDevices handles GET /api/v1/devices?platform=. Tokens are returned redacted.
func (api *TokenAPI) ListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userURN, ok := api.caller(w, r)
	if !ok {
		return
	}

	platforms := []string{push.PlatformFCM, push.PlatformWeb, push.PlatformAPNS}
	if p := r.URL.Query().Get("platform"); p != "" {
		if !push.IsValidPlatform(p) {
			response.WriteJSONError(w, http.StatusBadRequest, "unknown platform")
			return
		}
		platforms = []string{p}
	}

	devices := make([]DeviceResponse, 0)
	for _, p := range platforms {
		tokens, err := api.Store.ListActiveTokens(ctx, userURN, p)
		if err != nil {
			api.Logger.Error("failed to list devices", "platform", p, "err", err)
			response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
			return
		}
		for _, t := range tokens {
			devices = append(devices, DeviceResponse{
				Token:     push.RedactToken(t.Token),
				Platform:  t.Platform,
				UpdatedAt: t.UpdatedAt,
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(devices); err != nil {
		api.Logger.Warn("failed to write device list", "err", err)
	}
}
