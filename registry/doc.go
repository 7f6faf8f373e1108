// Package registry holds the in-memory authoritative table of BACnet
// objects: present value, metadata, and status flags for every object
// the gateway currently exposes.
//
// The registry performs Change-of-Value delta detection and drives the
// external BACnet object layer and the COV manager. It depends only on
// narrow interfaces for the cache mirror (Mirror) and the notifier
// (Notifier) so it can be built and tested without either collaborator
// running.
//
// Every ApplyXxx method runs under a single mutex (see SPEC_FULL's
// resolution of the reader/writer question): the registry is written
// far more than it is read, and the critical section already includes a
// synchronous cache round-trip, so a plain sync.Mutex is both simpler
// and no slower than a RWMutex would be in practice.
package registry
