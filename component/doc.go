// Package component defines the shared interfaces used by every wired
// piece of the gateway pipeline: cache mirror, event consumer, object
// registry, and COV manager.
//
// # Overview
//
// Unlike a plugin system with dynamic factories and a central registry,
// the gateway wires a fixed set of components explicitly in main(). Each
// component implements Discoverable for introspection (name, config
// shape, health, throughput) and, where it has a running lifecycle,
// LifecycleComponent for startup/shutdown ordering.
//
// # Discoverable
//
//	type Discoverable interface {
//		Meta() Metadata
//		ConfigSchema() ConfigSchema
//		Health() HealthStatus
//		DataFlow() FlowMetrics
//	}
//
// Meta identifies the component for logs and the status endpoint.
// ConfigSchema documents the properties a component accepts, primarily
// for the JSON config's self-documentation. Health and DataFlow feed the
// per-component entries reported by the /health and /status endpoints.
//
// # LifecycleComponent
//
//	type LifecycleComponent interface {
//		Discoverable
//		Initialize() error
//		Start(ctx context.Context) error
//		Stop(timeout time.Duration) error
//	}
//
// Initialize does setup that can fail before anything is started
// (parsing config, opening a socket). Start runs with the context it
// receives rather than one it stores, so cancellation always originates
// from the caller. Stop takes a timeout for graceful shutdown; a
// component that cannot stop in time should force-close and return an
// error rather than block indefinitely.
//
// ManagedComponent is the bookkeeping struct the pipeline supervisor
// uses to track each component's current State, its individually
// cancellable child context, and the order it was started in (so
// shutdown can proceed in reverse).
package component
