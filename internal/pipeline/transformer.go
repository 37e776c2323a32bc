// Package pipeline contains the core message processing components for the service.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-streetart-push/internal/payload"
	"github.com/tinywideclouds/go-streetart-push/pkg/push"
)

// DispatchRequest is a rendered notification waiting to be fanned out.
type DispatchRequest struct {
	EventID      string
	RecipientID  string
	Notification push.Notification
	// Platforms restricts delivery; empty means every configured channel.
	Platforms []string
}

// NewEventTransformer returns a dataflow Transformer that unmarshals a platform
// event and renders it into a DispatchRequest.
//
// Any message that cannot become a valid notification is skipped with an error so
// the StreamingService can handle the Nack/DLQ logic.
func NewEventTransformer(builder *payload.Builder) func(context.Context, *messagepipeline.Message) (*DispatchRequest, bool, error) {
	return func(_ context.Context, msg *messagepipeline.Message) (*DispatchRequest, bool, error) {
		var ev payload.Event
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return nil, true, fmt.Errorf("failed to unmarshal event from message %s: %w", msg.ID, err)
		}

		for _, p := range ev.Platforms {
			if !push.IsValidPlatform(p) {
				return nil, true, fmt.Errorf("event in message %s: %w: %q", msg.ID, push.ErrUnknownPlatform, p)
			}
		}

		n, err := builder.Build(ev)
		if err != nil {
			return nil, true, fmt.Errorf("failed to build notification from message %s: %w", msg.ID, err)
		}

		eventID := ev.ID
		if eventID == "" {
			eventID = msg.ID
		}

		return &DispatchRequest{
			EventID:      eventID,
			RecipientID:  ev.RecipientID,
			Notification: n,
			Platforms:    ev.Platforms,
		}, false, nil
	}
}
