package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-streetart-push/pkg/dispatch"
)

// NewProcessor creates the logic that handles the "Fan-Out": one Dispatch per
// platform channel.
//
// Delivery problems never fail the message; each channel logs and reports them in
// its summary. Only a notification the channels refuse outright is returned.
func NewProcessor(
	dispatchers []dispatch.Dispatcher,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[DispatchRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *DispatchRequest) error {
		procLogger := logger.With(
			"recipient_id", request.RecipientID,
			"event_id", request.EventID,
			"pubsub_msg_id", original.ID,
		)

		var errs []error
		attempted := 0
		for _, d := range dispatchers {
			if len(request.Platforms) > 0 && !slices.Contains(request.Platforms, d.Platform()) {
				continue
			}
			attempted++

			summary, err := d.Dispatch(ctx, request.RecipientID, request.Notification)
			if err != nil {
				procLogger.Error("Channel refused notification", "platform", d.Platform(), "err", err)
				errs = append(errs, err)
				continue
			}
			procLogger.Info("Channel dispatched",
				"platform", d.Platform(),
				"outcome", summary.Outcome,
				"receipt", summary.Receipt(),
			)
		}

		if attempted == 0 {
			procLogger.Info("No configured channel matches requested platforms; dropping notification.", "platforms", request.Platforms)
		}

		return errors.Join(errs...)
	}
}
