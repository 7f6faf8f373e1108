// Package decode parses event-store payloads into one of four typed
// messages (ObjectDefinition, ValueUpdate, ObjectDelete, DeviceConfig).
//
// Decoding is strict about the fields each message type requires and
// tolerant of schema evolution: unknown fields are ignored, and optional
// fields fall back to documented defaults rather than failing. Every
// rejection is a *FieldError wrapped with the errors package's
// WrapInvalid, so it classifies as ErrorInvalid and the pipeline can
// treat it uniformly as "skip this event, count it, move on" without a
// type switch at the call site.
package decode
