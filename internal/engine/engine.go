// Package engine delivers one notification to every active device of a user on a
// single platform, and deactivates tokens the gateway reports as permanently invalid.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-streetart-push/pkg/dispatch"
	"github.com/tinywideclouds/go-streetart-push/pkg/push"
)

// DefaultConcurrency is the number of tokens sent to in parallel per dispatch call.
const DefaultConcurrency = 4

var errEmptyRecipient = errors.New("recipient is empty")

// TokenSource is the part of the token store the engine borrows.
type TokenSource interface {
	dispatch.TokenLister
	dispatch.TokenDeactivator
}

type Engine struct {
	gateway     dispatch.Gateway
	tokens      TokenSource
	concurrency int
	logger      *slog.Logger
}

type Option func(*Engine)

// WithConcurrency bounds the parallel sends of one dispatch call. 1 sends sequentially.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func New(gateway dispatch.Gateway, tokens TokenSource, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		gateway:     gateway,
		tokens:      tokens,
		concurrency: DefaultConcurrency,
		logger:      logger.With("component", "DispatchEngine", "platform", gateway.Platform()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Platform is the token platform this engine dispatches to.
func (e *Engine) Platform() string {
	return e.gateway.Platform()
}

// Dispatch sends n to every active token of recipient on this engine's platform.
//
// Only a malformed notification is returned as an error, and it is returned before
// any token is looked up. Every delivery problem is logged and reported in the
// Summary instead, so callers never fail because a push could not be delivered.
func (e *Engine) Dispatch(ctx context.Context, recipient string, n push.Notification) (*push.Summary, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	summary := &push.Summary{Recipient: recipient, Platform: e.Platform()}

	user, err := resolveRecipient(recipient)
	if err != nil {
		e.logger.Warn("Cannot resolve notification recipient; skipping", "recipient", recipient, "err", err)
		summary.Outcome = push.OutcomeInvalidRecipient
		return summary, nil
	}
	log := e.logger.With("recipient", user.String())

	if !e.gateway.Configured() {
		log.Warn("Push gateway credentials are not configured; skipping dispatch")
		summary.Outcome = push.OutcomeNotConfigured
		return summary, nil
	}

	tokens, err := e.tokens.ListActiveTokens(ctx, user, e.Platform())
	if err != nil {
		log.Error("Failed to fetch device tokens", "err", err)
		summary.Outcome = push.OutcomeStoreUnavailable
		return summary, nil
	}
	if len(tokens) == 0 {
		log.Info("No active devices registered for user")
		summary.Outcome = push.OutcomeNoTokens
		return summary, nil
	}

	summary.Outcome = push.OutcomeDispatched
	summary.Results = make([]push.DispatchResult, len(tokens))

	// Each goroutine owns exactly one slot of Results.
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, t := range tokens {
		g.Go(func() error {
			summary.Results[i] = e.sendOne(ctx, log, t.Token, n)
			return nil
		})
	}
	_ = g.Wait()

	log.Info("Dispatch finished", "tokens", len(tokens), "receipt", summary.Receipt())
	return summary, nil
}

// resolveRecipient accepts a user URN or a bare user id, which urn.Parse
// upgrades to urn:sm:user:<id>. Empty input and non-user entities are rejected.
func resolveRecipient(recipient string) (urn.URN, error) {
	user, err := urn.Parse(recipient)
	if err != nil {
		return urn.URN{}, err
	}
	if user.IsZero() {
		return urn.URN{}, errEmptyRecipient
	}
	if user.EntityType() != urn.EntityTypeUser {
		return urn.URN{}, fmt.Errorf("recipient %q is a %s, not a user", recipient, user.EntityType())
	}
	return user, nil
}

func (e *Engine) sendOne(ctx context.Context, log *slog.Logger, token string, n push.Notification) push.DispatchResult {
	redacted := push.RedactToken(token)
	result := push.DispatchResult{Token: redacted}
	log = log.With("token", redacted)

	res, err := e.gateway.Send(ctx, token, n)
	if err != nil {
		result.TransportError = err.Error()
		var statusErr *push.StatusError
		if errors.As(err, &statusErr) {
			log.Error("Push gateway rejected request", "status", statusErr.StatusCode, "body", statusErr.Body)
		} else {
			log.Error("Push transport failed", "err", err)
		}
		return result
	}

	result.Success = res.Success
	result.Failure = res.Failure
	result.ErrorCode = res.ErrorCode

	if res.Failure == 0 {
		log.Info("Push delivered", "message_id", res.MessageID)
		return result
	}

	if !push.IsPermanentFailure(res.ErrorCode) {
		log.Warn("Push gateway reported delivery failure", "error_code", res.ErrorCode)
		return result
	}

	if err := e.tokens.Deactivate(ctx, token); err != nil {
		log.Warn("Failed to deactivate invalid token", "error_code", res.ErrorCode, "err", err)
		return result
	}
	result.Deactivated = true
	log.Info("Deactivated invalid token", "error_code", res.ErrorCode)
	return result
}
