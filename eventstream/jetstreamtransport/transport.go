// Package jetstreamtransport implements eventstream.Transport as a
// durable NATS JetStream pull consumer with an explicit ack policy,
// built directly against the jetstream package rather than
// natsclient.Client.ConsumeStream (which auto-acks and so cannot carry
// the retry/skip/park distinction the consumer needs).
package jetstreamtransport

import (
	"context"
	"fmt"

	"github.com/covgateway/gateway/errors"
	"github.com/covgateway/gateway/eventstream"
	"github.com/covgateway/gateway/natsclient"
	"github.com/nats-io/nats.go/jetstream"
)

// Transport is a durable JetStream pull-consumer binding for one
// subscription.
type Transport struct {
	client     *natsclient.Client
	streamName string
	durable    string
	maxDeliver int

	consumer jetstream.Consumer
	pending  map[uint64]jetstream.Msg
}

// New constructs a JetStream transport. durable names the durable
// consumer (typically the subscription id); maxDeliver bounds
// redelivery attempts before the server itself would otherwise retry
// forever (0 uses the server default).
func New(client *natsclient.Client, streamName, durable string, maxDeliver int) *Transport {
	return &Transport{
		client:     client,
		streamName: streamName,
		durable:    durable,
		maxDeliver: maxDeliver,
		pending:    make(map[uint64]jetstream.Msg),
	}
}

var _ eventstream.Transport = (*Transport)(nil)

func (t *Transport) ResolveStartPosition(ctx context.Context, startFrom eventstream.StartFrom, startPosition uint64) (uint64, error) {
	switch startFrom {
	case eventstream.StartPosition:
		return startPosition, nil
	case eventstream.StartBegin:
		return 0, nil
	case eventstream.StartEnd:
		stream, err := t.client.GetStream(ctx, t.streamName)
		if err != nil {
			return 0, errors.WrapTransient(err, "jetstreamtransport", "ResolveStartPosition", "get stream info")
		}
		info, err := stream.Info(ctx)
		if err != nil {
			return 0, errors.WrapTransient(err, "jetstreamtransport", "ResolveStartPosition", "read stream state")
		}
		return info.State.LastSeq, nil
	default:
		return 0, fmt.Errorf("unknown start_from %d", startFrom)
	}
}

func (t *Transport) Reconnect(ctx context.Context) error {
	js, err := t.client.JetStream()
	if err != nil {
		return errors.WrapTransient(err, "jetstreamtransport", "Reconnect", "acquire jetstream context")
	}

	cfg := jetstream.ConsumerConfig{
		Durable:       t.durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
	if t.maxDeliver > 0 {
		cfg.MaxDeliver = t.maxDeliver
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, t.streamName, cfg)
	if err != nil {
		return errors.WrapTransient(err, "jetstreamtransport", "Reconnect", "create or attach durable consumer")
	}
	t.consumer = consumer
	return nil
}

func (t *Transport) FetchBatch(ctx context.Context, after uint64, limit int) ([]eventstream.RawEvent, error) {
	if t.consumer == nil {
		return nil, errors.WrapFatal(fmt.Errorf("not connected"), "jetstreamtransport", "FetchBatch", "check connection state")
	}

	batch, err := t.consumer.Fetch(limit, jetstream.FetchMaxWait(t.client.PingInterval()))
	if err != nil {
		return nil, errors.WrapTransient(err, "jetstreamtransport", "FetchBatch", "pull next batch")
	}

	var events []eventstream.RawEvent
	for msg := range batch.Messages() {
		meta, err := msg.Metadata()
		if err != nil {
			continue
		}
		seq := meta.Sequence.Stream
		if seq <= after {
			// Already-seen redelivery from before a reconnect; ack it
			// away so the consumer doesn't see it twice.
			_ = msg.Ack()
			continue
		}
		t.pending[seq] = msg
		events = append(events, eventstream.RawEvent{StreamPosition: seq, Payload: msg.Data()})
	}
	if err := batch.Error(); err != nil {
		return nil, errors.WrapTransient(err, "jetstreamtransport", "FetchBatch", "drain batch")
	}
	return events, nil
}

func (t *Transport) Ack(_ context.Context, ev eventstream.RawEvent) error {
	msg, ok := t.pending[ev.StreamPosition]
	if !ok {
		return nil
	}
	delete(t.pending, ev.StreamPosition)
	if err := msg.Ack(); err != nil {
		return errors.WrapTransient(err, "jetstreamtransport", "Ack", "ack message")
	}
	return nil
}

func (t *Transport) Nak(_ context.Context, ev eventstream.RawEvent, action eventstream.NakAction) error {
	msg, ok := t.pending[ev.StreamPosition]
	if !ok {
		return nil
	}
	delete(t.pending, ev.StreamPosition)

	switch action {
	case eventstream.ActionRetry:
		if err := msg.Nak(); err != nil {
			return errors.WrapTransient(err, "jetstreamtransport", "Nak", "request redelivery")
		}
	case eventstream.ActionSkip:
		if err := msg.Term(); err != nil {
			return errors.WrapTransient(err, "jetstreamtransport", "Nak", "terminate message")
		}
	case eventstream.ActionPark:
		// No dead-letter facility is configured for this consumer;
		// terminating still stops redelivery, matching skip, but the
		// event is lost rather than routed anywhere durable.
		if err := msg.Term(); err != nil {
			return errors.WrapTransient(err, "jetstreamtransport", "Nak", "terminate parked message")
		}
	}
	return nil
}

// PersistCursor is a no-op: JetStream's own ack already advances the
// durable consumer's delivered sequence.
func (t *Transport) PersistCursor(context.Context, string, uint64) error {
	return nil
}

func (t *Transport) Close(context.Context) error {
	t.consumer = nil
	return nil
}
