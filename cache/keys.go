package cache

import (
	"fmt"

	"github.com/covgateway/gateway/bacnetobj"
)

// DefaultKeyPrefix matches spec.md's cache key layout's "bacnet:" prefix.
const DefaultKeyPrefix = "bacnet:"

// Key naming follows the cache key layout literally: colons are legal
// NATS subject-token characters (only '.', '*', '>' and whitespace are
// reserved), so the same key string doubles as the KV key and, for
// value_change, the publish subject.
func (c *Cache) objectKey(key bacnetobj.ObjectKey) string {
	return fmt.Sprintf("%sobject:%s:%d", c.prefix, key.Type, key.Instance)
}

func (c *Cache) indexKey() string {
	return c.prefix + "objects:index"
}

func (c *Cache) cursorKey(subscriptionID string) string {
	return fmt.Sprintf("%sstream:positions:%s", c.prefix, subscriptionID)
}

func (c *Cache) deviceKey() string {
	return c.prefix + "device:config"
}

func (c *Cache) changeSubject() string {
	return c.prefix + "events:value_change"
}

func indexEntry(key bacnetobj.ObjectKey) string {
	return fmt.Sprintf("%s:%d", key.Type, key.Instance)
}
