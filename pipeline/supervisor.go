package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/covgateway/gateway/bacnetobj"
	"github.com/covgateway/gateway/cache"
	"github.com/covgateway/gateway/config"
	"github.com/covgateway/gateway/cov"
	"github.com/covgateway/gateway/covpush"
	"github.com/covgateway/gateway/errors"
	"github.com/covgateway/gateway/eventstream"
	"github.com/covgateway/gateway/eventstream/jetstreamtransport"
	"github.com/covgateway/gateway/eventstream/longpolltransport"
	"github.com/covgateway/gateway/metric"
	"github.com/covgateway/gateway/natsclient"
	"github.com/covgateway/gateway/registry"
)

// covFanoutWorkers and covFanoutQueue size the COV notification worker
// pool (§4.5's fanout, C13). These are fixed rather than configurable
// because a single building's subscriber count never approaches a scale
// where tuning them matters.
const (
	covFanoutWorkers = 4
	covFanoutQueue   = 256
	covTickInterval  = time.Second
)

// Supervisor is the Pipeline Supervisor (C6): it reads a Config, builds
// every component the gateway needs, and registers them with a
// ComponentManager (C7) in the order spec.md's startup sequence requires.
// Start and Stop simply delegate to the manager, which is what gives the
// shutdown sequence its ordering guarantee.
type Supervisor struct {
	cfg    *config.Config
	logger *slog.Logger

	client   *natsclient.Client
	manager  *ComponentManager
	registry *metric.MetricsRegistry
	reg      *registry.Registry
	covMgr   *cov.Manager
	layer    *bacnetobj.LocalLayer
	cache    *cache.Cache
	pushHub  *covpush.Hub
}

// NewSupervisor constructs every component named by cfg but does not
// start anything; call Start to bring the pipeline up. The only failure
// mode at this stage is an invalid NATS client option.
func NewSupervisor(cfg *config.Config, logger *slog.Logger) (*Supervisor, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "supervisor")

	metricsRegistry := metric.NewMetricsRegistry()

	natsURL := fmt.Sprintf("nats://%s:%d", cfg.Cache.Host, cfg.Cache.Port)
	clientOpts := []natsclient.ClientOption{
		natsclient.WithMetrics(metricsRegistry),
		natsclient.WithTimeout(time.Duration(cfg.Cache.ConnectionTimeoutMs) * time.Millisecond),
	}
	if cfg.Cache.Password != "" {
		clientOpts = append(clientOpts, natsclient.WithToken(cfg.Cache.Password))
	}
	client, err := natsclient.NewClient(natsURL, clientOpts...)
	if err != nil {
		return nil, errors.WrapFatal(err, "Supervisor", "NewSupervisor", "construct nats client")
	}

	layer := bacnetobj.NewLocalLayer(cfg.Server.DeviceInstance, cfg.Server.DeviceName, logger)
	cacheMirror := cache.New(client, cfg.Cache.KeyPrefix, logger)
	pushHub := covpush.NewHub(logger)
	covMgr := cov.New(layer, covFanoutWorkers, covFanoutQueue, logger,
		cov.WithMaxSubscriptions(cfg.Server.MaxCovSubscriptions),
		cov.WithMetricsRegistry(metricsRegistry),
		cov.WithBroadcaster(pushHub))
	reg := registry.New(layer, cacheMirror, covMgr, metricsRegistry.CoreMetrics(), logger)

	return &Supervisor{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		manager:  NewComponentManager(logger),
		registry: metricsRegistry,
		reg:      reg,
		covMgr:   covMgr,
		layer:    layer,
		cache:    cacheMirror,
		pushHub:  pushHub,
	}, nil
}

// MetricsRegistry returns the Prometheus registry backing every
// component's counters, for the HTTP surface to serve at /metrics.
func (s *Supervisor) MetricsRegistry() *metric.MetricsRegistry { return s.registry }

// Registry returns the object registry, for the HTTP surface's /status.
func (s *Supervisor) Registry() *registry.Registry { return s.reg }

// ComponentManager returns the underlying manager, for the HTTP surface's
// /status and health aggregation.
func (s *Supervisor) ComponentManager() *ComponentManager { return s.manager }

// PushHub returns the websocket broadcast hub, for the HTTP surface to
// serve the /ws/cov endpoint from.
func (s *Supervisor) PushHub() *covpush.Hub { return s.pushHub }

// Start connects the NATS client, registers every component in startup
// order, and starts them. Layer must start before the cache's
// load-from-cache step because CreateOrUpdateObject refuses calls before
// the object layer is marked started.
func (s *Supervisor) Start(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.Cache.ConnectionTimeoutMs)*time.Millisecond)
	defer cancel()
	if err := s.client.Connect(connectCtx); err != nil {
		return errors.WrapFatal(err, "Supervisor", "Start", "connect cache client")
	}

	if err := s.manager.Register("cache", s.cache); err != nil {
		return err
	}
	if err := s.manager.Register("bacnet-object-layer", s.layer); err != nil {
		return err
	}
	if err := s.manager.Register("registry-cache-load", newLoadFromCacheComponent(s.reg)); err != nil {
		return err
	}
	if err := s.manager.Register("cov-manager", newCOVManagerComponent(s.covMgr)); err != nil {
		return err
	}

	cursors := s.resolveCursors(ctx, s.cfg.Devices)
	for _, dev := range s.cfg.Devices {
		if !dev.Enabled {
			continue
		}
		consumer, err := s.buildConsumer(dev, cursors[dev.SubscriptionID])
		if err != nil {
			return errors.WrapFatal(err, "Supervisor", "Start", fmt.Sprintf("build consumer %q", dev.SubscriptionID))
		}
		if err := s.manager.Register("consumer-"+dev.SubscriptionID, newConsumerComponent(dev.SubscriptionID, consumer)); err != nil {
			return err
		}
	}

	if err := s.manager.Register("cov-ticker", newCOVTickerComponent(s.covMgr, covTickInterval, s.logger)); err != nil {
		return err
	}

	return s.manager.Start(ctx)
}

// Stop stops every component in reverse registration order and closes
// the underlying NATS connection last.
func (s *Supervisor) Stop(timeout time.Duration) error {
	stopErr := s.manager.Stop(timeout)

	closeCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.client.Close(closeCtx); err != nil {
		s.logger.Warn("error closing cache client", "error", err)
	}
	return stopErr
}

// cachedCursor is the outcome of one device's start-cursor lookup.
type cachedCursor struct {
	position uint64
	found    bool
}

// resolveCursors reads every enabled device's cached cursor concurrently:
// each lookup is an independent NATS KV round trip, so fetching them one
// at a time would serialize network latency across every configured
// device for no reason. A lookup failure degrades to "no cached cursor"
// for that device rather than aborting startup.
func (s *Supervisor) resolveCursors(ctx context.Context, devices []config.DeviceConfig) map[string]cachedCursor {
	results := make(map[string]cachedCursor, len(devices))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, dev := range devices {
		if !dev.Enabled {
			continue
		}
		dev := dev
		g.Go(func() error {
			pos, ok, err := s.cache.GetCursor(gctx, dev.SubscriptionID)
			if err != nil {
				s.logger.Warn("failed to read cached cursor, using configured start_from",
					"subscription", dev.SubscriptionID, "error", err)
				return nil
			}
			mu.Lock()
			results[dev.SubscriptionID] = cachedCursor{position: pos, found: ok}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // every goroutine already swallows its own error
	return results
}

// buildConsumer resolves dev's start cursor (cached position takes
// priority over the configured start_from, per spec.md §4.6 step 4) and
// wires a consumer over whichever Transport binding dev.Transport names:
// jetstreamtransport for a NATS-reachable event store (the default), or
// longpolltransport for an operator without a NATS client available to
// the event-store side (§4.2).
func (s *Supervisor) buildConsumer(dev config.DeviceConfig, cursor cachedCursor) (*eventstream.Consumer, error) {
	startFrom := eventstream.StartBegin
	switch dev.StartFrom {
	case config.StartFromEnd:
		startFrom = eventstream.StartEnd
	case config.StartFromPosition:
		startFrom = eventstream.StartPosition
	}
	startPosition := dev.StartPosition

	if cursor.found {
		startFrom = eventstream.StartPosition
		startPosition = cursor.position
	}

	var transport eventstream.Transport
	switch dev.Transport {
	case config.TransportLongPoll:
		transport = longpolltransport.New(dev.LongPollURL, dev.StreamName, http.DefaultClient)
	default:
		transport = jetstreamtransport.New(s.client, dev.StreamName, dev.SubscriptionID, 0)
	}

	consumerCfg := eventstream.ConsumerConfig{
		SubscriptionID:       dev.SubscriptionID,
		StreamName:           dev.StreamName,
		GroupName:            dev.GroupName,
		StartFrom:            startFrom,
		StartPosition:        startPosition,
		ObjectInstanceOffset: dev.ObjectInstanceOffset,
	}

	dispatcher := newApplyDispatcher(dev.SubscriptionID, dev.ObjectInstanceOffset, s.reg, s.registry.CoreMetrics(), s.logger)
	consumer := eventstream.New(transport, consumerCfg, dispatcher.onEvent, dispatcher.onError, dispatcher.onStatus, s.logger,
		eventstream.WithCursorStore(s.cache))
	return consumer, nil
}
