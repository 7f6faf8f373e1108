package eventstream

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// OutcomeKind is what on_event decided about one delivered event.
type OutcomeKind int

const (
	OutcomeProcessed OutcomeKind = iota
	OutcomeFailed
)

// Outcome is on_event's verdict on one event.
type Outcome struct {
	Kind   OutcomeKind
	Action NakAction // meaningful only when Kind == OutcomeFailed
}

// Processed is the outcome that acks an event.
func Processed() Outcome { return Outcome{Kind: OutcomeProcessed} }

// Failed is the outcome that naks an event with the given action. The
// action must reach the transport; callers should not collapse every
// failure to ActionRetry.
func Failed(action NakAction) Outcome { return Outcome{Kind: OutcomeFailed, Action: action} }

// OnEvent is invoked synchronously per event on the subscription's
// delivery loop; the next event is not fetched until it returns. This
// is the consumer's sole backpressure mechanism.
type OnEvent func(ctx context.Context, ev RawEvent) Outcome

// OnError reports a transport-level error (fetch/ack/reconnect failure).
type OnError func(err error)

// OnStatus reports every state transition.
type OnStatus func(state State)

// CursorStore durably records a subscription's consumed position in the
// gateway's own cache, independent of whatever cursor bookkeeping the
// transport does on its own side (JetStream's ack-advanced sequence, or a
// long-poll backend's remote PUT). This is the write side of C1's
// put_cursor operation: what a restarted supervisor reads back via
// Cache.GetCursor before building a consumer.
type CursorStore interface {
	PutCursor(ctx context.Context, subscriptionID string, position uint64) error
}

// Option configures a Consumer at construction time.
type Option func(*Consumer)

// WithCursorStore sets the gateway-side cursor store resolve persists to
// before acking, per put_cursor-then-ack. Omitting it means resolve keeps
// no gateway-side record of progress beyond whatever the transport itself
// persists.
func WithCursorStore(store CursorStore) Option {
	return func(c *Consumer) { c.cursorStore = store }
}

// Handle represents one active subscription.
type Handle struct {
	consumer *Consumer
}

// Unsubscribe stops the subscription's delivery loop and waits for it
// to exit.
func (h *Handle) Unsubscribe() {
	h.consumer.stop()
}

// State returns the subscription's current connection state.
func (h *Handle) State() State {
	return h.consumer.state()
}

// Consumer drives one subscription's delivery loop against a Transport.
// Two distinct backends (jetstreamtransport, longpolltransport) share
// this same loop, reconnect policy, and ack/nak semantics.
type Consumer struct {
	transport Transport
	config    ConsumerConfig
	logger    *slog.Logger

	onEvent  OnEvent
	onError  OnError
	onStatus OnStatus

	cursorStore CursorStore

	st       atomic.Int32
	cursor   atomic.Uint64
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New constructs a consumer for config over transport. logger may be
// nil. Call Subscribe to start the delivery loop.
func New(transport Transport, config ConsumerConfig, onEvent OnEvent, onError OnError, onStatus OnStatus, logger *slog.Logger, opts ...Option) *Consumer {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 500 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Consumer{
		transport: transport,
		config:    config,
		logger:    logger.With("component", "eventstream", "subscription", config.SubscriptionID),
		onEvent:   onEvent,
		onError:   onError,
		onStatus:  onStatus,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Consumer) state() State {
	return State(c.st.Load())
}

func (c *Consumer) setState(s State) {
	c.st.Store(int32(s))
	if c.onStatus != nil {
		c.onStatus(s)
	}
}

// Subscribe starts the delivery loop in its own goroutine and returns a
// handle for Unsubscribe.
func (c *Consumer) Subscribe(ctx context.Context) *Handle {
	go c.run(ctx)
	return &Handle{consumer: c}
}

func (c *Consumer) stop() {
	c.stopOnce.Do(func() {
		c.setState(StateStopping)
		close(c.stopCh)
	})
	<-c.doneCh
}

func (c *Consumer) stopRequested() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.doneCh)
	defer c.setState(StateStopped)

	if start, err := c.transport.ResolveStartPosition(ctx, c.config.StartFrom, c.config.StartPosition); err != nil {
		if c.onError != nil {
			c.onError(err)
		}
		return
	} else {
		c.cursor.Store(start)
	}

	attempts := 0
	for {
		if c.stopRequested() {
			return
		}

		c.setState(StateConnecting)
		if err := c.transport.Reconnect(ctx); err != nil {
			if c.onError != nil {
				c.onError(err)
			}
			attempts++
			if c.config.MaxReconnectAttempts >= 0 && attempts > c.config.MaxReconnectAttempts {
				return
			}
			c.setState(StateReconnecting)
			if c.sleepBackoff(attempts) {
				return
			}
			continue
		}
		attempts = 0
		c.setState(StateReady)

		if c.deliverUntilError(ctx) {
			return
		}

		// deliverUntilError returned because of a transport error;
		// fall through to reconnect.
		c.setState(StateReconnecting)
	}
}

// sleepBackoff sleeps base_delay*2^(attempts-1) capped at max_delay, where
// attempts already counts the failure just seen (so the first retry waits
// base_delay), or returns true immediately if a stop was requested during
// the sleep.
func (c *Consumer) sleepBackoff(attempts int) (stopped bool) {
	delay := time.Duration(float64(c.config.BaseDelay) * math.Pow(2, float64(attempts-1)))
	if delay > c.config.MaxDelay {
		delay = c.config.MaxDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-c.stopCh:
		return true
	case <-timer.C:
		return false
	}
}

// deliverUntilError runs the fetch/deliver loop until a stop is
// requested (returns true) or a transport error occurs (returns false,
// signaling the caller to reconnect).
func (c *Consumer) deliverUntilError(ctx context.Context) bool {
	for {
		if c.stopRequested() {
			return true
		}

		c.setState(StateDelivering)
		batch, err := c.transport.FetchBatch(ctx, c.cursor.Load(), c.config.BatchSize)
		if err != nil {
			if c.onError != nil {
				c.onError(err)
			}
			return false
		}

		if len(batch) == 0 {
			c.setState(StateReady)
			if c.sleepPoll() {
				return true
			}
			continue
		}

		for _, ev := range batch {
			if c.stopRequested() {
				return true
			}
			if !c.deliverOne(ctx, ev) {
				return false
			}
		}
	}
}

func (c *Consumer) sleepPoll() (stopped bool) {
	timer := time.NewTimer(c.config.PollInterval)
	defer timer.Stop()
	select {
	case <-c.stopCh:
		return true
	case <-timer.C:
		return false
	}
}

// deliverOne hands one event to onEvent and resolves its outcome.
// Returns false if a transport error occurred acknowledging it, which
// sends the loop back to reconnect without advancing the cursor.
func (c *Consumer) deliverOne(ctx context.Context, ev RawEvent) bool {
	outcome := c.onEvent(ctx, ev)

	switch outcome.Kind {
	case OutcomeProcessed:
		return c.resolve(ctx, ev, true)
	default:
		switch outcome.Action {
		case ActionRetry:
			if err := c.transport.Nak(ctx, ev, ActionRetry); err != nil {
				if c.onError != nil {
					c.onError(err)
				}
				return false
			}
			// cursor does not advance: redelivery is expected.
			return true
		default: // skip or park both resolve the event and move on
			if err := c.transport.Nak(ctx, ev, outcome.Action); err != nil {
				if c.onError != nil {
					c.onError(err)
				}
				return false
			}
			return c.resolve(ctx, ev, false)
		}
	}
}

// resolve durably records progress, then acks. The gateway's own cache
// record (put_cursor) is written before the transport ack so a crash
// between the two leaves, at worst, an event redelivered into an
// idempotent apply path — never a gap where the cache thinks less was
// consumed than the transport already discarded.
func (c *Consumer) resolve(ctx context.Context, ev RawEvent, ack bool) bool {
	if c.cursorStore != nil {
		if err := c.cursorStore.PutCursor(ctx, c.config.SubscriptionID, ev.StreamPosition); err != nil {
			if c.onError != nil {
				c.onError(err)
			}
			return false
		}
	}
	if ack {
		if err := c.transport.Ack(ctx, ev); err != nil {
			if c.onError != nil {
				c.onError(err)
			}
			return false
		}
	}
	if err := c.transport.PersistCursor(ctx, c.config.SubscriptionID, ev.StreamPosition); err != nil {
		if c.onError != nil {
			c.onError(err)
		}
		return false
	}
	c.cursor.Store(ev.StreamPosition)
	return true
}
