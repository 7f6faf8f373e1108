// Package cache implements the cache-mirror contract (registry.Mirror)
// over NATS JetStream: a KV bucket for object records, one key per
// subscription cursor, and the device record, plus best-effort pub/sub
// for the value-change signal.
//
// NATS JetStream KV has no native hash or set type, so the spec-level
// "hash" primitive (the objects index) is modeled as a single structured
// JSON document, read and rewritten with plain Get/Put while holding a
// process-local mutex (indexMu). Cursors don't need that treatment: each subscription owns
// its own key (cursorKey), so concurrent consumers never contend on a
// shared document the way index updates do.
package cache
