package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/covgateway/gateway/bacnetobj"
	"github.com/covgateway/gateway/component"
	"github.com/covgateway/gateway/errors"
	"github.com/covgateway/gateway/natsclient"
	"github.com/covgateway/gateway/registry"
	"github.com/nats-io/nats.go/jetstream"
)

// BucketName is the JetStream KV bucket the cache mirror creates or
// attaches to.
const BucketName = "covgateway_objects"

// Cache is a registry.Mirror implementation over NATS JetStream KV. A
// single bucket holds every object record, the objects index, the
// per-subscription cursor map, and the device record, keyed per the
// cache key layout; the value-change signal is a best-effort core NATS
// publish rather than a KV write.
type Cache struct {
	client *natsclient.Client
	kv     *natsclient.KVStore
	prefix string
	logger *slog.Logger

	// indexMu serializes read-modify-write of the objects:index
	// snapshot. The index has no native set type in JetStream KV, so a
	// single process-wide mutex stands in for the CAS loop that would
	// otherwise be needed.
	indexMu sync.Mutex

	ready        atomic.Bool
	lastActivity atomic.Value // time.Time
	errorCount   atomic.Int64
}

var (
	_ registry.Mirror              = (*Cache)(nil)
	_ component.Discoverable       = (*Cache)(nil)
	_ component.LifecycleComponent = (*Cache)(nil)
)

// New constructs a cache mirror over client. The bucket is created (or
// attached to, if it already exists) on Initialize. prefix defaults to
// DefaultKeyPrefix when empty.
func New(client *natsclient.Client, prefix string, logger *slog.Logger) *Cache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Cache{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "cache"),
	}
}

func (c *Cache) Initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bucket, err := c.client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      BucketName,
		Description: "BACnet presence gateway object and subscription state",
	})
	if err != nil {
		return errors.WrapFatal(err, "Cache", "Initialize", "create or attach KV bucket")
	}
	c.kv = c.client.NewKVStore(bucket)
	return nil
}

func (c *Cache) Start(_ context.Context) error {
	c.ready.Store(true)
	c.touch()
	return nil
}

func (c *Cache) Stop(_ time.Duration) error {
	c.ready.Store(false)
	return nil
}

func (c *Cache) touch() {
	c.lastActivity.Store(time.Now())
}

func (c *Cache) classify(err error, method string) error {
	if err == nil {
		return nil
	}
	c.errorCount.Add(1)
	if natsclient.IsKVNotFoundError(err) {
		return err
	}
	return errors.WrapTransient(err, "Cache", method, "kv operation")
}

// PutObject implements registry.Mirror.
func (c *Cache) PutObject(ctx context.Context, record registry.ObjectRecord) error {
	data, err := marshalObjectRecord(record)
	if err != nil {
		return errors.WrapFatal(err, "Cache", "PutObject", "marshal record")
	}
	if _, err := c.kv.Put(ctx, c.objectKey(record.Key), data); err != nil {
		return c.classify(err, "PutObject")
	}
	if err := c.updateIndex(ctx, func(members []string) []string {
		return addToIndex(members, indexEntry(record.Key))
	}); err != nil {
		return c.classify(err, "PutObject")
	}
	c.touch()
	return nil
}

// updateIndex reads the objects:index snapshot, applies mutate, and
// writes the result back, all under indexMu.
func (c *Cache) updateIndex(ctx context.Context, mutate func([]string) []string) error {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	var members []string
	entry, err := c.kv.Get(ctx, c.indexKey())
	switch {
	case err == nil:
		members, err = decodeIndex(entry.Value)
		if err != nil {
			return errors.WrapFatal(err, "Cache", "updateIndex", "decode index snapshot")
		}
	case natsclient.IsKVNotFoundError(err):
		members = nil
	default:
		return err
	}

	members = mutate(members)

	data, err := encodeIndex(members)
	if err != nil {
		return errors.WrapFatal(err, "Cache", "updateIndex", "encode index snapshot")
	}
	_, err = c.kv.Put(ctx, c.indexKey(), data)
	return err
}

// GetObject implements registry.Mirror.
func (c *Cache) GetObject(ctx context.Context, key bacnetobj.ObjectKey) (registry.ObjectRecord, bool, error) {
	entry, err := c.kv.Get(ctx, c.objectKey(key))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return registry.ObjectRecord{}, false, nil
		}
		return registry.ObjectRecord{}, false, c.classify(err, "GetObject")
	}
	rec, err := unmarshalObjectRecord(entry.Value)
	if err != nil {
		return registry.ObjectRecord{}, false, errors.WrapFatal(err, "Cache", "GetObject", "unmarshal record")
	}
	return rec, true, nil
}

// DeleteObject implements registry.Mirror.
func (c *Cache) DeleteObject(ctx context.Context, key bacnetobj.ObjectKey) error {
	if err := c.kv.Delete(ctx, c.objectKey(key)); err != nil && !natsclient.IsKVNotFoundError(err) {
		return c.classify(err, "DeleteObject")
	}
	entry := indexEntry(key)
	if err := c.updateIndex(ctx, func(members []string) []string {
		return removeFromIndex(members, entry)
	}); err != nil {
		return c.classify(err, "DeleteObject")
	}
	c.touch()
	return nil
}

// IterateObjects implements registry.Mirror, walking the objects index
// and fetching each member in turn. A member present in the index but
// since removed directly (which should not happen through this type's
// own API) is skipped rather than treated as an error.
func (c *Cache) IterateObjects(ctx context.Context, fn func(registry.ObjectRecord) error) error {
	entry, err := c.kv.Get(ctx, c.indexKey())
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil
		}
		return c.classify(err, "IterateObjects")
	}

	members, err := decodeIndex(entry.Value)
	if err != nil {
		return errors.WrapFatal(err, "Cache", "IterateObjects", "unmarshal index")
	}

	for _, member := range members {
		objType, instance, ok := parseIndexEntry(member)
		if !ok {
			continue
		}
		rec, found, err := c.GetObject(ctx, bacnetobj.ObjectKey{Type: objType, Instance: instance})
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// PutCursor implements registry.Mirror. Each subscription gets its own
// key (§6's cache key layout) rather than sharing one hash-style
// document, so concurrent consumers never contend on the same key.
func (c *Cache) PutCursor(ctx context.Context, subscriptionID string, position uint64) error {
	data := []byte(strconv.FormatUint(position, 10))
	if _, err := c.kv.Put(ctx, c.cursorKey(subscriptionID), data); err != nil {
		return c.classify(err, "PutCursor")
	}
	c.touch()
	return nil
}

// GetCursor implements registry.Mirror.
func (c *Cache) GetCursor(ctx context.Context, subscriptionID string) (uint64, bool, error) {
	entry, err := c.kv.Get(ctx, c.cursorKey(subscriptionID))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return 0, false, nil
		}
		return 0, false, c.classify(err, "GetCursor")
	}
	pos, err := strconv.ParseUint(string(entry.Value), 10, 64)
	if err != nil {
		return 0, false, errors.WrapFatal(err, "Cache", "GetCursor", "parse cursor position")
	}
	return pos, true, nil
}

// PutDeviceConfig implements registry.Mirror.
func (c *Cache) PutDeviceConfig(ctx context.Context, device registry.DeviceRecord) error {
	data, err := marshalDeviceRecord(device)
	if err != nil {
		return errors.WrapFatal(err, "Cache", "PutDeviceConfig", "marshal device record")
	}
	if _, err := c.kv.Put(ctx, c.deviceKey(), data); err != nil {
		return c.classify(err, "PutDeviceConfig")
	}
	c.touch()
	return nil
}

// GetDeviceConfig implements registry.Mirror.
func (c *Cache) GetDeviceConfig(ctx context.Context) (registry.DeviceRecord, bool, error) {
	entry, err := c.kv.Get(ctx, c.deviceKey())
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return registry.DeviceRecord{}, false, nil
		}
		return registry.DeviceRecord{}, false, c.classify(err, "GetDeviceConfig")
	}
	dev, err := unmarshalDeviceRecord(entry.Value)
	if err != nil {
		return registry.DeviceRecord{}, false, errors.WrapFatal(err, "Cache", "GetDeviceConfig", "unmarshal device record")
	}
	return dev, true, nil
}

// PublishChange implements registry.Mirror. Failure here is never
// fatal to the caller's apply path; callers log it and move on.
func (c *Cache) PublishChange(ctx context.Context, key bacnetobj.ObjectKey) error {
	if err := c.client.Publish(ctx, c.changeSubject(), []byte(indexEntry(key))); err != nil {
		return errors.WrapTransient(err, "Cache", "PublishChange", "publish value_change event")
	}
	return nil
}

func (c *Cache) Meta() component.Metadata {
	return component.Metadata{
		Name:        "cache-mirror",
		Type:        "storage",
		Description: fmt.Sprintf("NATS JetStream KV mirror of object and subscription state (bucket %s)", BucketName),
		Version:     "1.0.0",
	}
}

func (c *Cache) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"keyPrefix": {Type: "string", Description: "Prefix applied to every cache key", Default: DefaultKeyPrefix},
		},
	}
}

func (c *Cache) Health() component.HealthStatus {
	var lastAct time.Time
	if v := c.lastActivity.Load(); v != nil {
		lastAct = v.(time.Time)
	}
	return component.HealthStatus{
		Healthy:    c.ready.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(c.errorCount.Load()),
		Uptime:     time.Since(lastAct),
	}
}

func (c *Cache) DataFlow() component.FlowMetrics {
	var lastAct time.Time
	if v := c.lastActivity.Load(); v != nil {
		lastAct = v.(time.Time)
	}
	return component.FlowMetrics{LastActivity: lastAct}
}
