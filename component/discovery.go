// Package component defines the Discoverable and LifecycleComponent
// interfaces shared by every wired component of the gateway pipeline.
package component

import (
	"time"
)

// Discoverable defines the interface for components that can be inspected
// by the management layer: identity, configuration shape, health, and
// throughput. Every pipeline component (cache mirror, event consumer,
// registry, COV manager) implements this alongside LifecycleComponent.
type Discoverable interface {
	// Meta returns basic component information.
	Meta() Metadata

	// ConfigSchema returns the configuration schema for this component.
	ConfigSchema() ConfigSchema

	// Health returns current health status.
	Health() HealthStatus

	// DataFlow returns current data flow metrics.
	DataFlow() FlowMetrics
}

// Metadata describes what a component is.
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "consumer", "registry", "storage", "cov", "transport"
	Description string `json:"description"`
	Version     string `json:"version"`
}

// ConfigSchema describes the configuration parameters for a component.
type ConfigSchema struct {
	Properties map[string]PropertySchema `json:"properties"`
	Required   []string                  `json:"required"`
}

// PropertySchema describes a single configuration property.
type PropertySchema struct {
	Type        string   `json:"type"` // "string", "int", "bool", "float", "enum", "array", "object"
	Description string   `json:"description"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Minimum     *int     `json:"minimum,omitempty"`
	Maximum     *int     `json:"maximum,omitempty"`
}

// HealthStatus describes the current health state of a component.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// FlowMetrics describes the current data flow through a component.
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messages_per_second"`
	BytesPerSecond    float64   `json:"bytes_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	LastActivity      time.Time `json:"last_activity"`
}
