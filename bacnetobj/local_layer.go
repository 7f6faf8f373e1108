package bacnetobj

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/covgateway/gateway/component"
	"github.com/covgateway/gateway/errors"
)

// LocalLayer is a reference ObjectLayer that stands in for a real BACnet
// datalink. It tracks exactly the state a real layer would (exposed
// objects, notification counts) but never opens a socket. It exists so
// the rest of the gateway can be built and exercised without a BACnet
// stack library in this environment.
type LocalLayer struct {
	deviceInstance uint32
	deviceName     string
	logger         *slog.Logger

	mu      sync.RWMutex
	objects map[ObjectKey]ObjectDescriptor
	started bool

	notificationsSent atomic.Int64
	sendFailures      atomic.Int64
	lastActivity      atomic.Value // time.Time
}

var (
	_ ObjectLayer               = (*LocalLayer)(nil)
	_ component.Discoverable    = (*LocalLayer)(nil)
	_ component.LifecycleComponent = (*LocalLayer)(nil)
)

// NewLocalLayer creates a reference object layer for the given device
// identity. logger may be nil, in which case a discard logger is used.
func NewLocalLayer(deviceInstance uint32, deviceName string, logger *slog.Logger) *LocalLayer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LocalLayer{
		deviceInstance: deviceInstance,
		deviceName:     deviceName,
		logger:         logger.With("component", "bacnetobj"),
		objects:        make(map[ObjectKey]ObjectDescriptor),
	}
}

// Initialize does no I/O; the object table is ready as soon as the value
// is constructed.
func (l *LocalLayer) Initialize() error {
	return nil
}

// Start marks the layer as accepting object operations.
func (l *LocalLayer) Start(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = true
	l.lastActivity.Store(time.Now())
	l.logger.Info("bacnet object layer started",
		"deviceInstance", l.deviceInstance, "deviceName", l.deviceName)
	return nil
}

// Stop clears the exposed object table.
func (l *LocalLayer) Stop(_ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = false
	l.objects = make(map[ObjectKey]ObjectDescriptor)
	return nil
}

// CreateOrUpdateObject implements ObjectLayer.
func (l *LocalLayer) CreateOrUpdateObject(_ context.Context, desc ObjectDescriptor) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return errors.WrapInvalid(fmt.Errorf("layer not started"),
			"LocalLayer", "CreateOrUpdateObject", "check lifecycle state")
	}
	l.objects[desc.Key] = desc
	l.lastActivity.Store(time.Now())
	return nil
}

// DeleteObject implements ObjectLayer.
func (l *LocalLayer) DeleteObject(_ context.Context, key ObjectKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.objects, key)
	l.lastActivity.Store(time.Now())
	return nil
}

// SendCOVNotification implements ObjectLayer. The reference layer always
// succeeds unless it has not been started; a real datalink would fail
// per-subscriber on network errors, address resolution, or a full send
// queue, and callers must be able to tolerate that.
func (l *LocalLayer) SendCOVNotification(_ context.Context, n Notification) error {
	l.mu.RLock()
	started := l.started
	l.mu.RUnlock()

	if !started {
		l.sendFailures.Add(1)
		return errors.WrapTransient(fmt.Errorf("layer not started"),
			"LocalLayer", "SendCOVNotification", "check lifecycle state")
	}

	l.notificationsSent.Add(1)
	l.lastActivity.Store(time.Now())
	l.logger.Debug("cov notification sent",
		"object", n.Key.String(),
		"subscriberProcess", n.SubscriberProcess,
		"subscriberAddress", n.SubscriberAddress,
		"confirmed", n.Confirmed)
	return nil
}

// ObjectCount returns the number of objects currently exposed.
func (l *LocalLayer) ObjectCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.objects)
}

// Meta implements component.Discoverable.
func (l *LocalLayer) Meta() component.Metadata {
	return component.Metadata{
		Name:        "bacnet-object-layer",
		Type:        "transport",
		Description: "Reference BACnet object layer standing in for a real datalink",
		Version:     "1.0.0",
	}
}

// ConfigSchema implements component.Discoverable.
func (l *LocalLayer) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"deviceInstance": {Type: "int", Description: "BACnet device object instance number"},
			"deviceName":     {Type: "string", Description: "BACnet device object name"},
		},
		Required: []string{"deviceInstance", "deviceName"},
	}
}

// Health implements component.Discoverable.
func (l *LocalLayer) Health() component.HealthStatus {
	l.mu.RLock()
	started := l.started
	l.mu.RUnlock()

	var lastAct time.Time
	if v := l.lastActivity.Load(); v != nil {
		lastAct = v.(time.Time)
	}

	return component.HealthStatus{
		Healthy:    started,
		LastCheck:  time.Now(),
		ErrorCount: int(l.sendFailures.Load()),
		Uptime:     time.Since(lastAct),
	}
}

// DataFlow implements component.Discoverable.
func (l *LocalLayer) DataFlow() component.FlowMetrics {
	var lastAct time.Time
	if v := l.lastActivity.Load(); v != nil {
		lastAct = v.(time.Time)
	}
	return component.FlowMetrics{
		LastActivity: lastAct,
	}
}
