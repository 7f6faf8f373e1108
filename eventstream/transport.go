package eventstream

import (
	"context"
	"time"
)

// StartFrom selects where a subscription begins reading when it has no
// cached cursor.
type StartFrom int

const (
	StartBegin StartFrom = iota
	StartEnd
	StartPosition
)

// NakAction is the backend action requested for a failed event. It must
// reach the transport rather than being collapsed to a single policy.
type NakAction int

const (
	ActionRetry NakAction = iota
	ActionSkip
	ActionPark
)

func (a NakAction) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionSkip:
		return "skip"
	case ActionPark:
		return "park"
	default:
		return "unknown"
	}
}

// ConsumerConfig configures one subscription.
type ConsumerConfig struct {
	SubscriptionID       string
	StreamName           string
	GroupName            string
	StartFrom            StartFrom
	StartPosition        uint64
	ObjectInstanceOffset uint32

	BatchSize             int
	BaseDelay             time.Duration
	MaxDelay              time.Duration
	MaxReconnectAttempts  int // negative means unlimited
	PollInterval          time.Duration
}

// RawEvent is one undecoded event delivered by a transport, in stream
// order within its subscription.
type RawEvent struct {
	StreamPosition uint64
	Payload        []byte
}

// Transport is the abstract collaborator the consumer drives: fetch the
// next batch since a cursor, persist the cursor, and emit
// acknowledgement. jetstreamtransport and longpolltransport are the two
// concrete bindings.
type Transport interface {
	// ResolveStartPosition translates a StartFrom/StartPosition pair
	// into a concrete cursor value (the position of the last event the
	// consumer should treat as already delivered). Called once, before
	// the first Reconnect.
	ResolveStartPosition(ctx context.Context, startFrom StartFrom, startPosition uint64) (uint64, error)

	// Reconnect (re-)establishes whatever connection state the
	// transport needs. It is called once before the first fetch and
	// again after any fetch/ack error, so it doubles as "connect".
	Reconnect(ctx context.Context) error

	// FetchBatch returns up to limit events with StreamPosition > after,
	// in increasing order. An empty, nil-error result means "caught up".
	FetchBatch(ctx context.Context, after uint64, limit int) ([]RawEvent, error)

	Ack(ctx context.Context, ev RawEvent) error
	Nak(ctx context.Context, ev RawEvent, action NakAction) error

	// PersistCursor durably records that subscriptionID has consumed
	// through position, independent of Ack (a long-poll transport has
	// no broker-side cursor of its own; a JetStream transport's ack
	// already advances it, and can treat this as a no-op).
	PersistCursor(ctx context.Context, subscriptionID string, position uint64) error

	Close(ctx context.Context) error
}
