package cov

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/covgateway/gateway/bacnetobj"
	"github.com/covgateway/gateway/metric"
	"github.com/covgateway/gateway/pkg/worker"
)

// DefaultMaxSubscriptions is the default manager capacity (§4.5).
const DefaultMaxSubscriptions = 100

type fanoutJob struct {
	notification bacnetobj.Notification
}

// Broadcaster receives every applied value change independent of BACnet
// COV subscriptions, feeding an out-of-band push channel (e.g. a
// websocket) rather than a BACnet subscriber. Unlike per-subscriber
// notification, a broadcast fires once per value change regardless of
// how many (if any) BACnet subscribers exist for the object.
type Broadcaster interface {
	Broadcast(key bacnetobj.ObjectKey, value bacnetobj.Value, flags bacnetobj.StatusFlags)
}

// Manager is the per-object COV subscriber table.
type Manager struct {
	mu               sync.Mutex
	subs             map[Identity]*Subscription
	byObject         map[bacnetobj.ObjectKey]map[Identity]struct{}
	maxSubscriptions int

	layer       bacnetobj.ObjectLayer
	pool        *worker.Pool[fanoutJob]
	metrics     *metric.Metrics
	logger      *slog.Logger
	broadcaster Broadcaster

	now func() int64
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithMaxSubscriptions overrides DefaultMaxSubscriptions.
func WithMaxSubscriptions(n int) Option {
	return func(m *Manager) { m.maxSubscriptions = n }
}

// WithMetricsRegistry wires the COV-specific counters into registry. The
// fanout worker pool is not given the registry, so the pool's own
// Prometheus metrics are not exported.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(m *Manager) {
		if registry == nil {
			return
		}
		m.metrics = registry.CoreMetrics()
	}
}

// WithBroadcaster wires an out-of-band push channel that receives every
// notified value change alongside (not instead of) BACnet fanout.
func WithBroadcaster(b Broadcaster) Option {
	return func(m *Manager) { m.broadcaster = b }
}

// New constructs a COV manager. layer is the external BACnet object
// layer notifications are sent through; fanoutWorkers/fanoutQueue size
// the worker pool (§4.5/§5's COV ticker runs on the supervisor's own
// goroutine and is unaffected by fanout concurrency).
func New(layer bacnetobj.ObjectLayer, fanoutWorkers, fanoutQueue int, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := &Manager{
		subs:             make(map[Identity]*Subscription),
		byObject:         make(map[bacnetobj.ObjectKey]map[Identity]struct{}),
		maxSubscriptions: DefaultMaxSubscriptions,
		layer:            layer,
		logger:           logger.With("component", "cov"),
		now:              func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(m)
	}
	m.pool = worker.NewPool(fanoutWorkers, fanoutQueue, m.sendNotification)
	return m
}

// Start brings up the fanout worker pool.
func (m *Manager) Start(ctx context.Context) error {
	return m.pool.Start(ctx)
}

// Stop drains and stops the fanout worker pool.
func (m *Manager) Stop(timeout time.Duration) error {
	return m.pool.Stop(timeout)
}

func (m *Manager) sendNotification(ctx context.Context, job fanoutJob) error {
	err := m.layer.SendCOVNotification(ctx, job.notification)
	if m.metrics != nil {
		if err != nil {
			m.metrics.RecordCOVNotification("failed")
		} else {
			m.metrics.RecordCOVNotification("sent")
		}
	}
	if err != nil {
		m.logger.Warn("cov notification send failed",
			"object", job.notification.Key.String(),
			"subscriberProcess", job.notification.SubscriberProcess,
			"error", err)
	}
	return err
}

// Subscribe implements C5's subscribe operation. renewed reports
// whether id already existed.
func (m *Manager) Subscribe(id Identity, confirmed bool, lifetimeSeconds uint32, covIncrementOverride *float64) (renewed bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.subs[id]; ok {
		existing.Confirmed = confirmed
		existing.LifetimeSecondsRemaining = lifetimeSeconds
		existing.CovIncrementOverride = covIncrementOverride
		return true, nil
	}

	if len(m.subs) >= m.maxSubscriptions {
		return false, ErrCapacityExceeded
	}

	sub := &Subscription{
		Identity:                 id,
		Confirmed:                confirmed,
		LifetimeSecondsRemaining: lifetimeSeconds,
		CovIncrementOverride:     covIncrementOverride,
		CreatedAt:                now,
	}
	m.subs[id] = sub
	if m.byObject[id.Object] == nil {
		m.byObject[id.Object] = make(map[Identity]struct{})
	}
	m.byObject[id.Object][id] = struct{}{}

	if m.metrics != nil {
		m.metrics.SetCOVSubscriptions(len(m.subs))
	}
	return false, nil
}

// Cancel implements C5's cancel operation. found reports whether id
// existed.
func (m *Manager) Cancel(id Identity) (found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(id)
}

func (m *Manager) removeLocked(id Identity) bool {
	if _, ok := m.subs[id]; !ok {
		return false
	}
	delete(m.subs, id)
	if byID, ok := m.byObject[id.Object]; ok {
		delete(byID, id)
		if len(byID) == 0 {
			delete(m.byObject, id.Object)
		}
	}
	if m.metrics != nil {
		m.metrics.SetCOVSubscriptions(len(m.subs))
	}
	return true
}

// Notify implements C5's notify operation: it composes one notification
// per live subscriber of key and submits it to the fanout pool. A full
// queue drops the job (logged, and counted in the pool's Stats) rather than
// blocking the registry's apply path.
func (m *Manager) Notify(ctx context.Context, key bacnetobj.ObjectKey, value bacnetobj.Value, flags bacnetobj.StatusFlags, priority uint8) {
	m.mu.Lock()
	subIDs := m.byObject[key]
	jobs := make([]fanoutJob, 0, len(subIDs))
	now := m.now()
	for id := range subIDs {
		sub := m.subs[id]
		sub.LastNotifiedAt = now
		jobs = append(jobs, fanoutJob{notification: bacnetobj.Notification{
			Key:               key,
			Value:             value,
			StatusFlags:       flags,
			SubscriberProcess: id.SubscriberProcessID,
			SubscriberAddress: id.SubscriberAddress,
			Confirmed:         sub.Confirmed,
			TimeRemaining:     sub.LifetimeSecondsRemaining,
		}})
	}
	m.mu.Unlock()

	for _, job := range jobs {
		if err := m.pool.Submit(job); err != nil {
			m.logger.Warn("cov fanout queue full, notification dropped",
				"object", key.String(), "error", err)
		}
	}

	if m.broadcaster != nil {
		m.broadcaster.Broadcast(key, value, flags)
	}
}

// Tick implements C5's tick operation: subscriptions created with
// lifetimeSeconds=0 are indefinite and never decremented; others expire
// when their remaining lifetime would drop to or below zero.
func (m *Manager) Tick(elapsed uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []Identity
	for id, sub := range m.subs {
		if sub.Indefinite() {
			continue
		}
		if sub.LifetimeSecondsRemaining <= elapsed {
			expired = append(expired, id)
			continue
		}
		sub.LifetimeSecondsRemaining -= elapsed
	}
	for _, id := range expired {
		m.removeLocked(id)
	}
}

// ListForObject implements C5's list_for_object operation.
func (m *Manager) ListForObject(key bacnetobj.ObjectKey) []Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.byObject[key]
	out := make([]Subscription, 0, len(ids))
	for id := range ids {
		out = append(out, *m.subs[id])
	}
	return out
}

// CancelAllForObject removes every subscription for key, used by the
// registry on apply_delete. It satisfies registry.Notifier.
func (m *Manager) CancelAllForObject(key bacnetobj.ObjectKey) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.byObject[key]
	toRemove := make([]Identity, 0, len(ids))
	for id := range ids {
		toRemove = append(toRemove, id)
	}
	for _, id := range toRemove {
		m.removeLocked(id)
	}
}

// Count returns the number of live subscriptions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
