package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/covgateway/gateway/component"
)

// managedComponent pairs a registered component with the lifecycle
// interface it was registered under, if any.
type managedComponent struct {
	name      string
	comp      component.Discoverable
	lifecycle component.LifecycleComponent // nil if comp has no lifecycle
	state     component.State
	lastErr   error
}

// ComponentManager is a generic Initialize/Start/Stop component registry
// (C7). Components are registered once, in the order the caller wants
// them started; Start runs Initialize/Start on each in registration
// order and Stop runs Stop in reverse order. Unlike a dynamic registry
// with runtime reconfiguration, this manager's membership is fixed once
// Start has been called.
type ComponentManager struct {
	mu         sync.RWMutex
	components []*managedComponent
	byName     map[string]*managedComponent
	started    bool
	logger     *slog.Logger
}

// NewComponentManager constructs an empty manager. logger may be nil.
func NewComponentManager(logger *slog.Logger) *ComponentManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ComponentManager{
		byName: make(map[string]*managedComponent),
		logger: logger.With("component", "pipeline"),
	}
}

// Register adds comp under name, in startup order. comp need not
// implement component.LifecycleComponent; components without a
// lifecycle are tracked for health/status reporting only. Register must
// not be called after Start.
func (cm *ComponentManager) Register(name string, comp component.Discoverable) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.started {
		return fmt.Errorf("pipeline: cannot register %q after Start", name)
	}
	if _, exists := cm.byName[name]; exists {
		return fmt.Errorf("pipeline: component %q already registered", name)
	}

	mc := &managedComponent{name: name, comp: comp, state: component.StateCreated}
	if lc, ok := component.AsLifecycleComponent(comp); ok {
		mc.lifecycle = lc
	}
	cm.components = append(cm.components, mc)
	cm.byName[name] = mc
	return nil
}

// Start initializes and starts every registered component in
// registration order, stopping at the first failure. Components already
// started are left running; the caller is expected to call Stop to
// unwind them on a startup failure.
func (cm *ComponentManager) Start(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.started {
		return nil
	}

	for _, mc := range cm.components {
		if mc.lifecycle == nil {
			mc.state = component.StateStarted
			continue
		}

		cm.logger.Info("starting component", "name", mc.name)
		if err := mc.lifecycle.Initialize(); err != nil {
			mc.state = component.StateFailed
			mc.lastErr = err
			return fmt.Errorf("initialize %q: %w", mc.name, err)
		}
		mc.state = component.StateInitialized

		if err := mc.lifecycle.Start(ctx); err != nil {
			mc.state = component.StateFailed
			mc.lastErr = err
			return fmt.Errorf("start %q: %w", mc.name, err)
		}
		mc.state = component.StateStarted
	}

	cm.started = true
	return nil
}

// Stop stops every started component in reverse registration order.
// Every component is given a chance to stop regardless of earlier
// failures; all resulting errors are joined.
func (cm *ComponentManager) Stop(timeout time.Duration) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var errs []error
	for i := len(cm.components) - 1; i >= 0; i-- {
		mc := cm.components[i]
		if mc.lifecycle == nil || mc.state != component.StateStarted {
			continue
		}

		cm.logger.Info("stopping component", "name", mc.name)
		if err := mc.lifecycle.Stop(timeout); err != nil {
			mc.lastErr = err
			mc.state = component.StateFailed
			errs = append(errs, fmt.Errorf("stop %q: %w", mc.name, err))
			continue
		}
		mc.state = component.StateStopped
	}

	cm.started = false
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("pipeline: %d component(s) failed to stop: %v", len(errs), errs)
}

// ComponentStatus combines a component's lifecycle state with its
// self-reported health and flow metrics, for the /status HTTP surface.
type ComponentStatus struct {
	Name     string                 `json:"name"`
	State    string                 `json:"state"`
	Health   component.HealthStatus `json:"health"`
	DataFlow component.FlowMetrics  `json:"data_flow"`
}

// Status returns the combined state/health/flow snapshot of every
// registered component, in registration order.
func (cm *ComponentManager) Status() []ComponentStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out := make([]ComponentStatus, 0, len(cm.components))
	for _, mc := range cm.components {
		out = append(out, ComponentStatus{
			Name:     mc.name,
			State:    mc.state.String(),
			Health:   mc.comp.Health(),
			DataFlow: mc.comp.DataFlow(),
		})
	}
	return out
}

// Health returns every registered component's self-reported health,
// keyed by name.
func (cm *ComponentManager) Health() map[string]component.HealthStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out := make(map[string]component.HealthStatus, len(cm.components))
	for _, mc := range cm.components {
		out[mc.name] = mc.comp.Health()
	}
	return out
}
