package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/covgateway/gateway/component"
	"github.com/covgateway/gateway/cov"
	"github.com/covgateway/gateway/eventstream"
	"github.com/covgateway/gateway/registry"
)

// covManagerComponent adapts *cov.Manager to component.LifecycleComponent
// so it can be registered on the ComponentManager alongside the cache,
// the object layer, and every event consumer.
type covManagerComponent struct {
	mgr *cov.Manager
}

func newCOVManagerComponent(mgr *cov.Manager) *covManagerComponent {
	return &covManagerComponent{mgr: mgr}
}

var _ component.LifecycleComponent = (*covManagerComponent)(nil)

func (c *covManagerComponent) Initialize() error                  { return nil }
func (c *covManagerComponent) Start(ctx context.Context) error    { return c.mgr.Start(ctx) }
func (c *covManagerComponent) Stop(timeout time.Duration) error   { return c.mgr.Stop(timeout) }

func (c *covManagerComponent) Meta() component.Metadata {
	return component.Metadata{
		Name:        "cov-manager",
		Type:        "cov",
		Description: "Per-object COV subscriber table and fanout pool",
		Version:     "1.0.0",
	}
}

func (c *covManagerComponent) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{}
}

func (c *covManagerComponent) Health() component.HealthStatus {
	return component.HealthStatus{Healthy: true, LastCheck: time.Now()}
}

func (c *covManagerComponent) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{LastActivity: time.Now()}
}

// covTickerComponent runs cov.Manager.Tick on a fixed interval (§4.5's
// tick operation), implemented as its own lifecycle component so the
// manager can start and stop it like anything else in the pipeline.
type covTickerComponent struct {
	mgr      *cov.Manager
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	doneCh chan struct{}
	ticks  atomic.Int64
}

func newCOVTickerComponent(mgr *cov.Manager, interval time.Duration, logger *slog.Logger) *covTickerComponent {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &covTickerComponent{mgr: mgr, interval: interval, logger: logger.With("component", "cov-ticker")}
}

var _ component.LifecycleComponent = (*covTickerComponent)(nil)

func (t *covTickerComponent) Initialize() error { return nil }

func (t *covTickerComponent) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.doneCh = make(chan struct{})

	go func() {
		defer close(t.doneCh)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		elapsed := uint32(t.interval / time.Second)
		if elapsed == 0 {
			elapsed = 1
		}
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				t.mgr.Tick(elapsed)
				t.ticks.Add(1)
			}
		}
	}()
	return nil
}

func (t *covTickerComponent) Stop(timeout time.Duration) error {
	if t.cancel == nil {
		return nil
	}
	t.cancel()
	select {
	case <-t.doneCh:
	case <-time.After(timeout):
	}
	return nil
}

func (t *covTickerComponent) Meta() component.Metadata {
	return component.Metadata{
		Name:        "cov-ticker",
		Type:        "cov",
		Description: "Periodic subscription-lifetime tick",
		Version:     "1.0.0",
	}
}

func (t *covTickerComponent) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"intervalSeconds": {Type: "int", Description: "Tick interval in seconds", Default: 1},
		},
	}
}

func (t *covTickerComponent) Health() component.HealthStatus {
	return component.HealthStatus{Healthy: t.doneCh != nil, LastCheck: time.Now()}
}

func (t *covTickerComponent) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{LastActivity: time.Now()}
}

// loadFromCacheComponent runs the registry's load_from_cache operation
// exactly once, during Start, before any event consumer can begin
// delivering. It has no Stop-time behavior of its own.
type loadFromCacheComponent struct {
	reg    *registry.Registry
	loaded atomic.Bool
	err    error
}

func newLoadFromCacheComponent(reg *registry.Registry) *loadFromCacheComponent {
	return &loadFromCacheComponent{reg: reg}
}

var _ component.LifecycleComponent = (*loadFromCacheComponent)(nil)

func (l *loadFromCacheComponent) Initialize() error { return nil }

func (l *loadFromCacheComponent) Start(ctx context.Context) error {
	if err := l.reg.LoadFromCache(ctx); err != nil {
		l.err = err
		return err
	}
	l.loaded.Store(true)
	return nil
}

func (l *loadFromCacheComponent) Stop(time.Duration) error { return nil }

func (l *loadFromCacheComponent) Meta() component.Metadata {
	return component.Metadata{
		Name:        "registry-cache-load",
		Type:        "registry",
		Description: "One-shot load of the object table from the cache mirror",
		Version:     "1.0.0",
	}
}

func (l *loadFromCacheComponent) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{}
}

func (l *loadFromCacheComponent) Health() component.HealthStatus {
	healthy := l.loaded.Load()
	status := component.HealthStatus{Healthy: healthy, LastCheck: time.Now()}
	if l.err != nil {
		status.LastError = l.err.Error()
		status.ErrorCount = 1
	}
	return status
}

func (l *loadFromCacheComponent) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{}
}

// consumerComponent adapts one subscription's *eventstream.Consumer to
// component.LifecycleComponent: Start subscribes, Stop unsubscribes and
// waits for the delivery loop to exit.
type consumerComponent struct {
	name     string
	consumer *eventstream.Consumer
	handle   *eventstream.Handle

	startedAt atomic.Value // time.Time
}

func newConsumerComponent(name string, consumer *eventstream.Consumer) *consumerComponent {
	return &consumerComponent{name: name, consumer: consumer}
}

var _ component.LifecycleComponent = (*consumerComponent)(nil)

func (c *consumerComponent) Initialize() error { return nil }

func (c *consumerComponent) Start(ctx context.Context) error {
	c.handle = c.consumer.Subscribe(ctx)
	c.startedAt.Store(time.Now())
	return nil
}

func (c *consumerComponent) Stop(time.Duration) error {
	if c.handle != nil {
		c.handle.Unsubscribe()
	}
	return nil
}

func (c *consumerComponent) Meta() component.Metadata {
	return component.Metadata{
		Name:        "consumer-" + c.name,
		Type:        "consumer",
		Description: "Durable event-stream subscription " + c.name,
		Version:     "1.0.0",
	}
}

func (c *consumerComponent) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{}
}

func (c *consumerComponent) Health() component.HealthStatus {
	var uptime time.Duration
	if v := c.startedAt.Load(); v != nil {
		uptime = time.Since(v.(time.Time))
	}
	state := eventstream.StateDisconnected
	if c.handle != nil {
		state = c.handle.State()
	}
	healthy := state != eventstream.StateStopped && state != eventstream.StateDisconnected
	return component.HealthStatus{Healthy: healthy, LastCheck: time.Now(), Uptime: uptime}
}

func (c *consumerComponent) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{LastActivity: time.Now()}
}
