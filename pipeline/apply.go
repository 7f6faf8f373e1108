package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gwerrors "github.com/covgateway/gateway/errors"

	"github.com/covgateway/gateway/decode"
	"github.com/covgateway/gateway/eventstream"
	"github.com/covgateway/gateway/metric"
	"github.com/covgateway/gateway/registry"
)

// applyDispatcher is the on_event handler shared by every subscription's
// consumer: decode, apply to the registry, and translate the result into
// the ack/nak outcome the consumer needs. Cursor advance happens inside
// Consumer.resolve, after this returns Processed, so a crash between ack
// and cursor persistence cannot lose an event (redelivery is safe because
// every apply_* call is idempotent).
type applyDispatcher struct {
	subscriptionID string
	offset         uint32
	registry       *registry.Registry
	metrics        *metric.Metrics
	logger         *slog.Logger
}

func newApplyDispatcher(subscriptionID string, offset uint32, reg *registry.Registry, metrics *metric.Metrics, logger *slog.Logger) *applyDispatcher {
	return &applyDispatcher{
		subscriptionID: subscriptionID,
		offset:         offset,
		registry:       reg,
		metrics:        metrics,
		logger:         logger.With("component", "pipeline", "subscription", subscriptionID),
	}
}

// onEvent implements eventstream.OnEvent.
func (d *applyDispatcher) onEvent(ctx context.Context, ev eventstream.RawEvent) eventstream.Outcome {
	start := time.Now()

	env, err := decode.Decode(ev.Payload)
	if err != nil {
		d.logger.Warn("decode failed, skipping event", "stream_position", ev.StreamPosition, "error", err)
		if d.metrics != nil {
			d.metrics.RecordMessageProcessed("unknown", "skipped")
			d.metrics.RecordError("decoder", "invalid")
		}
		return eventstream.Processed()
	}

	messageType := string(env.Type)
	if d.metrics != nil {
		d.metrics.RecordMessageReceived(messageType)
	}

	applyErr := d.apply(ctx, env, ev.StreamPosition)

	if d.metrics != nil {
		d.metrics.RecordProcessingDuration(messageType, time.Since(start))
	}

	if applyErr == nil {
		if d.metrics != nil {
			d.metrics.RecordMessageProcessed(messageType, "applied")
		}
		return eventstream.Processed()
	}

	switch gwerrors.Classify(applyErr) {
	case gwerrors.ErrorInvalid:
		d.logger.Warn("apply rejected event as invalid, skipping", "stream_position", ev.StreamPosition, "error", applyErr)
		if d.metrics != nil {
			d.metrics.RecordMessageProcessed(messageType, "skipped")
			d.metrics.RecordError("registry", "invalid")
		}
		return eventstream.Processed()
	case gwerrors.ErrorFatal:
		d.logger.Error("apply failed fatally, parking event", "stream_position", ev.StreamPosition, "error", applyErr)
		if d.metrics != nil {
			d.metrics.RecordMessageProcessed(messageType, "skipped")
			d.metrics.RecordError("registry", "fatal")
		}
		return eventstream.Failed(eventstream.ActionPark)
	default:
		d.logger.Warn("apply failed transiently, will retry", "stream_position", ev.StreamPosition, "error", applyErr)
		if d.metrics != nil {
			d.metrics.RecordMessageProcessed(messageType, "retried")
			d.metrics.RecordError("registry", "transient")
		}
		return eventstream.Failed(eventstream.ActionRetry)
	}
}

func (d *applyDispatcher) apply(ctx context.Context, env *decode.Envelope, streamPosition uint64) error {
	switch body := env.Body.(type) {
	case *decode.ObjectDefinition:
		return d.registry.ApplyDefinition(ctx, body, d.offset)
	case *decode.ValueUpdate:
		return d.registry.ApplyValue(ctx, body, d.offset, streamPosition, env.HasStreamPosition)
	case *decode.ObjectDelete:
		return d.registry.ApplyDelete(ctx, body, d.offset)
	case *decode.DeviceConfig:
		return d.registry.ApplyDeviceConfig(ctx, body)
	default:
		return gwerrors.WrapInvalid(errors.New("unrecognized envelope body type"), "decoder", "apply", "dispatch")
	}
}

// onError implements eventstream.OnError: it only logs. The consumer's own
// reconnect/backoff loop drives recovery.
func (d *applyDispatcher) onError(err error) {
	d.logger.Error("transport error", "error", err)
	if d.metrics != nil {
		d.metrics.RecordError("consumer", gwerrors.Classify(err).String())
	}
}

// onStatus implements eventstream.OnStatus.
func (d *applyDispatcher) onStatus(state eventstream.State) {
	d.logger.Info("subscription state changed", "state", state.String())
}
