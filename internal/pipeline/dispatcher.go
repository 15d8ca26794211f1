package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"event-pipeline/internal/metrics"
	"event-pipeline/internal/model"
	"event-pipeline/internal/util"
)

// ErrSinkDelivery marks a publish failure on a destination with a redelivery
// contract. The dispatcher escalates it; the consumer retries the whole
// message. Failures on other destinations are logged and absorbed.
var ErrSinkDelivery = errors.New("sink delivery failed")

// Sink is one fan-out destination. Handle receives the original operation so
// each destination applies its own operation semantics (append-only sinks
// ignore deletes, keyed sinks overwrite on update).
type Sink interface {
	Name() string
	Handle(ctx context.Context, op model.Operation, ev *model.EnrichedEvent) error
}

// Dispatcher routes an assembled event to the destination set configured for
// its tool. Destinations are attempted independently: one failing sink never
// prevents the others, and only ErrSinkDelivery failures escalate.
type Dispatcher struct {
	routes map[model.ToolType][]Sink
}

func NewDispatcher(routes map[model.ToolType][]Sink) *Dispatcher {
	return &Dispatcher{routes: routes}
}

// Dispatch fans the event out to every configured destination.
//
// The returned error is non-nil only when a destination with a redelivery
// contract failed; by then every other destination has already been
// attempted, so a redelivered message re-runs all sinks and relies on
// their idempotency on tool_event_id.
func (d *Dispatcher) Dispatch(ctx context.Context, op model.Operation, ev *model.EnrichedEvent) error {
	sinks, ok := d.routes[ev.Tool]
	if !ok || len(sinks) == 0 {
		util.Warn("No destinations configured for tool",
			zap.String("tool", string(ev.Tool)),
			zap.String("tool_event_id", ev.ToolEventID))
		return nil
	}

	var deliveryErr error
	for _, sink := range sinks {
		err := sink.Handle(ctx, op, ev)
		if err == nil {
			continue
		}

		metrics.SinkFailures.WithLabelValues(sink.Name()).Inc()

		if errors.Is(err, ErrSinkDelivery) {
			util.Error("Sink delivery failure, escalating for redelivery",
				zap.String("sink", sink.Name()),
				zap.String("tool_event_id", ev.ToolEventID),
				zap.Error(err))
			deliveryErr = fmt.Errorf("sink %s: %w", sink.Name(), err)
			continue
		}

		// Lost for this destination only; the event is still delivered
		// everywhere else.
		util.Error("Sink write failed, continuing with remaining destinations",
			zap.String("sink", sink.Name()),
			zap.String("tool_event_id", ev.ToolEventID),
			zap.Error(err))
	}

	return deliveryErr
}
