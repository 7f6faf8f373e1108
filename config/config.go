// Package config loads and validates the gateway's structured configuration
// document: server identity, secure/legacy transport, event-store and cache
// connection settings, the configured device subscriptions, logging, and the
// health/metrics HTTP surface.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/covgateway/gateway/pkg/security"
)

// Config represents the complete gateway configuration document.
type Config struct {
	Version         string                `json:"version"`
	Server          ServerConfig          `json:"server"`
	SecureTransport SecureTransportConfig `json:"secure-transport"`
	LegacyTransport LegacyTransportConfig `json:"legacy-transport"`
	EventStore      EventStoreConfig      `json:"event-store"`
	Cache           CacheConfig           `json:"cache"`
	Devices         []DeviceConfig        `json:"devices"`
	Logging         LoggingConfig         `json:"logging"`
	Health          HealthConfig          `json:"health"`
}

// ServerConfig describes the local BACnet device presence this gateway
// projects onto the network.
type ServerConfig struct {
	DeviceInstance             uint32 `json:"deviceInstance"`
	DeviceName                 string `json:"deviceName"`
	DeviceDescription          string `json:"deviceDescription,omitempty"`
	VendorID                   uint16 `json:"vendorId"`
	VendorName                 string `json:"vendorName,omitempty"`
	ModelName                  string `json:"modelName,omitempty"`
	ApplicationSoftwareVersion string `json:"applicationSoftwareVersion,omitempty"`
	Location                   string `json:"location,omitempty"`
	CovLifetime                uint32 `json:"covLifetime"`
	MaxCovSubscriptions        int    `json:"maxCovSubscriptions"`
}

// SecureTransportConfig describes the BACnet/SC secure hub connection,
// including optional ACME-provisioned certificate material.
type SecureTransportConfig struct {
	Enabled            bool                  `json:"enabled"`
	HubURI             string                `json:"hubUri,omitempty"`
	FailoverHubURI     string                `json:"failoverHubUri,omitempty"`
	CertificateFile    string                `json:"certificateFile,omitempty"`
	PrivateKeyFile     string                `json:"privateKeyFile,omitempty"`
	CACertificateFile  string                `json:"caCertificateFile,omitempty"`
	HubFunctionEnabled bool                  `json:"hubFunctionEnabled"`
	ACME               security.ACMEConfig   `json:"acme,omitempty"`
}

// LegacyTransportConfig describes the classic BACnet/IP datalink, kept
// available alongside (or instead of) the secure transport.
type LegacyTransportConfig struct {
	Port             int    `json:"port"`
	Interface        string `json:"interface,omitempty"`
	BroadcastAddress string `json:"broadcastAddress,omitempty"`
}

// EventStoreConfig describes the connection to the upstream event-store
// server from which measurement events are consumed.
type EventStoreConfig struct {
	ConnectionString     string `json:"connectionString"`
	TLSEnabled           bool   `json:"tlsEnabled"`
	TLSVerifyCert        bool   `json:"tlsVerifyCert"`
	TLSCaFile            string `json:"tlsCaFile,omitempty"`
	ReconnectDelayMs     int    `json:"reconnectDelayMs"`
	MaxReconnectAttempts int    `json:"maxReconnectAttempts"` // -1 = unbounded
}

// CacheConfig describes the connection to the key-value cache mirror.
type CacheConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	Password            string `json:"password,omitempty"`
	Database            int    `json:"database"`
	KeyPrefix           string `json:"keyPrefix"`
	ConnectionTimeoutMs int    `json:"connectionTimeoutMs"`
	CommandTimeoutMs    int    `json:"commandTimeoutMs"`
}

// StartFrom enumerates where a device subscription should resume from
// when no cached cursor is available.
type StartFrom string

const (
	StartFromBegin    StartFrom = "begin"
	StartFromEnd      StartFrom = "end"
	StartFromPosition StartFrom = "position"
)

// TransportKind selects which eventstream.Transport binding a device
// subscription is consumed through.
type TransportKind string

const (
	TransportJetStream TransportKind = "jetstream"
	TransportLongPoll  TransportKind = "longpoll"
)

// DeviceConfig describes one configured event-stream subscription and the
// object-instance offset it projects into.
type DeviceConfig struct {
	SubscriptionID       string        `json:"subscriptionId"`
	StreamName           string        `json:"streamName"`
	GroupName            string        `json:"groupName"`
	StartFrom            StartFrom     `json:"startFrom"`
	StartPosition        uint64        `json:"startPosition,omitempty"`
	ObjectInstanceOffset uint32        `json:"objectInstanceOffset"`
	Enabled              bool          `json:"enabled"`
	Transport            TransportKind `json:"transport,omitempty"`
	LongPollURL          string        `json:"longPollUrl,omitempty"`
}

// LogLevel enumerates the recognized logging levels.
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
	LogLevelOff   LogLevel = "off"
)

// LogFormat enumerates the recognized log line encodings.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// LoggingConfig describes the logging sink's behavior.
type LoggingConfig struct {
	Level          LogLevel  `json:"level"`
	Outputs        int       `json:"outputs"` // bitmask: 1=stdout, 2=file, 4=syslog
	Format         LogFormat `json:"format"`
	File           string    `json:"file,omitempty"`
	MaxFileSize    int64     `json:"max_file_size,omitempty"`
	MaxBackupFiles int       `json:"max_backup_files,omitempty"`
	SyslogFacility string    `json:"syslog_facility,omitempty"`
	Colorize       bool      `json:"colorize,omitempty"`
}

const (
	LogOutputStdout = 1 << iota
	LogOutputFile
	LogOutputSyslog
)

// HealthConfig describes the health/metrics/status HTTP surface.
type HealthConfig struct {
	Port        int             `json:"port"`
	BindAddress string          `json:"bindAddress"`
	TLS         security.Config `json:"tls,omitempty"`
}

// SafeConfig provides thread-safe access to a live configuration, matching
// the pattern components use to read a consistent snapshot without pinning
// the write lock across a load/reload cycle.
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig wraps cfg (or an empty Config if nil) for concurrent access.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone returns a deep copy of the configuration via JSON round-trip.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// Validate checks structural and cross-field invariants that a JSON schema
// alone cannot express: uniqueness, range checks against BACnet limits, and
// the objectInstanceOffset overflow rule from the design notes.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.DeviceInstance > maxBACnetInstance {
		errs = append(errs, fmt.Errorf("server.deviceInstance %d exceeds max instance %d", c.Server.DeviceInstance, maxBACnetInstance))
	}
	if c.Server.DeviceName == "" {
		errs = append(errs, errors.New("server.deviceName is required"))
	}

	if c.SecureTransport.Enabled {
		if c.SecureTransport.HubURI == "" && !c.SecureTransport.ACME.Enabled {
			errs = append(errs, errors.New("secure-transport.hubUri is required when secure-transport is enabled"))
		}
		if !c.SecureTransport.ACME.Enabled {
			if c.SecureTransport.CertificateFile == "" {
				errs = append(errs, errors.New("secure-transport.certificateFile is required unless acme is enabled"))
			}
			if c.SecureTransport.PrivateKeyFile == "" {
				errs = append(errs, errors.New("secure-transport.privateKeyFile is required unless acme is enabled"))
			}
		}
	}

	if c.LegacyTransport.Port == 0 {
		c.LegacyTransport.Port = 47808
	}

	if c.EventStore.ConnectionString == "" {
		errs = append(errs, errors.New("event-store.connectionString is required"))
	}
	if c.EventStore.MaxReconnectAttempts < -1 {
		errs = append(errs, errors.New("event-store.maxReconnectAttempts must be -1 or >= 0"))
	}

	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "bacnet:"
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.SubscriptionID == "" {
			errs = append(errs, fmt.Errorf("devices[%d].subscriptionId is required", i))
			continue
		}
		if seen[d.SubscriptionID] {
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate subscriptionId %q", i, d.SubscriptionID))
		}
		seen[d.SubscriptionID] = true

		if d.StreamName == "" {
			errs = append(errs, fmt.Errorf("devices[%d].streamName is required", i))
		}
		switch d.StartFrom {
		case StartFromBegin, StartFromEnd, StartFromPosition, "":
		default:
			errs = append(errs, fmt.Errorf("devices[%d].startFrom %q is not one of begin|end|position", i, d.StartFrom))
		}

		switch d.Transport {
		case TransportJetStream, "":
		case TransportLongPoll:
			if d.LongPollURL == "" {
				errs = append(errs, fmt.Errorf("devices[%d].longPollUrl is required when transport is longpoll", i))
			}
		default:
			errs = append(errs, fmt.Errorf("devices[%d].transport %q is not one of jetstream|longpoll", i, d.Transport))
		}

		// Open Question resolution: reject configs whose offset plus the
		// largest valid BACnet instance would overflow uint32.
		if d.ObjectInstanceOffset > 0 {
			remaining := ^uint32(0) - d.ObjectInstanceOffset
			if remaining < maxBACnetInstance {
				errs = append(errs, fmt.Errorf(
					"devices[%d].objectInstanceOffset %d overflows uint32 when combined with max instance %d",
					i, d.ObjectInstanceOffset, maxBACnetInstance))
			}
		}
	}

	switch c.Logging.Level {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal, LogLevelOff, "":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not recognized", c.Logging.Level))
	}
	switch c.Logging.Format {
	case LogFormatText, LogFormatJSON, "":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not recognized", c.Logging.Format))
	}

	if c.Health.Port == 0 {
		c.Health.Port = 9090
	}
	if c.Health.BindAddress == "" {
		c.Health.BindAddress = "0.0.0.0"
	}
	if c.Health.TLS.TLS.Server.Enabled {
		if c.Health.TLS.TLS.Server.CertFile == "" || c.Health.TLS.TLS.Server.KeyFile == "" {
			errs = append(errs, errors.New("health.tls.server requires cert_file and key_file when enabled"))
		}
	}

	return errors.Join(errs...)
}

// maxBACnetInstance is the largest valid BACnet object instance number
// (22 bits, per the standard's object identifier encoding).
const maxBACnetInstance uint32 = 0x3FFFFF

// Defaults returns a Config populated with the gateway's baseline defaults;
// Load layers a config file's contents on top of this.
func Defaults() *Config {
	return &Config{
		Version: "1.0.0",
		Server: ServerConfig{
			VendorID:            0,
			CovLifetime:         3600,
			MaxCovSubscriptions: 100,
		},
		LegacyTransport: LegacyTransportConfig{
			Port: 47808,
		},
		EventStore: EventStoreConfig{
			ReconnectDelayMs:     1000,
			MaxReconnectAttempts: -1,
		},
		Cache: CacheConfig{
			KeyPrefix:           "bacnet:",
			ConnectionTimeoutMs: 5000,
			CommandTimeoutMs:    2000,
		},
		Logging: LoggingConfig{
			Level:   LogLevelInfo,
			Outputs: LogOutputStdout,
			Format:  LogFormatJSON,
		},
		Health: HealthConfig{
			Port:        9090,
			BindAddress: "0.0.0.0",
		},
	}
}

// Load reads, schema-validates, and unmarshals the configuration document at
// path, layering it on top of Defaults(), applies environment overrides, and
// runs cross-field Validate().
func Load(path string) (*Config, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}
	if err := ValidateSchema(data); err != nil {
		return nil, fmt.Errorf("config schema validation failed: %w", err)
	}

	cfg := Defaults()
	var overlay map[string]any
	if err := json.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	merged := deepMergeInto(cfg, overlay)

	applyEnvOverrides(merged)

	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// deepMergeInto marshals base to a map, deep-merges overlay on top, and
// unmarshals the result back into a Config.
func deepMergeInto(base *Config, overlay map[string]any) *Config {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	merged := deepMergeMaps(baseMap, overlay)
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return base
	}

	var out Config
	if err := json.Unmarshal(mergedJSON, &out); err != nil {
		return base
	}
	return &out
}

func deepMergeMaps(base, overlay map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range overlay {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overlayMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overlayMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides layers GATEWAY_-prefixed environment variables on top of
// the file-loaded configuration, matching the ambient framework's
// env-override precedence (env wins over file, file wins over defaults).
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("GATEWAY_EVENT_STORE_CONNECTION_STRING"); val != "" {
		cfg.EventStore.ConnectionString = val
	}
	if val := os.Getenv("GATEWAY_CACHE_HOST"); val != "" {
		cfg.Cache.Host = val
	}
	if val := os.Getenv("GATEWAY_CACHE_PASSWORD"); val != "" {
		cfg.Cache.Password = val
	}
	if val := os.Getenv("GATEWAY_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = LogLevel(strings.ToLower(val))
	}
	if val := os.Getenv("GATEWAY_HEALTH_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Health.Port = port
		}
	}
}

// String returns an indented JSON representation of the config, useful for
// startup logging.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
