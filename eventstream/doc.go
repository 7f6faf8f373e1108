// Package eventstream implements the durable event consumer: a
// transport-agnostic delivery loop with reconnect/backoff, ordered
// per-subscription delivery, and ack/nak semantics that reach the
// backend rather than being hard-coded to "retry".
//
// The delivery loop is written once against the small Transport
// interface; jetstreamtransport and longpolltransport each supply a
// concrete binding so a deployment can run against a real NATS
// JetStream stream or, where no streaming client is available to the
// event-store operator, an HTTP long-poll endpoint.
package eventstream
