// Package cov implements the per-object Change-of-Value subscriber
// table: subscribe/renew, cancel, lifetime expiry, and notification
// fanout to the external BACnet object layer.
//
// Fanout runs through a pkg/worker pool so that a slow or unreachable
// subscriber never blocks the registry's apply path; Notify only
// enqueues one job per live subscriber and returns.
package cov
