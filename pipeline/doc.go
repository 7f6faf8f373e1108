// Package pipeline wires the gateway's components together and drives
// their startup and shutdown order.
//
// ComponentManager is a generic Initialize/Start/Stop registry: callers
// register components in the order they must start, and the manager
// starts them in that order and stops them in reverse, collecting
// per-component errors rather than failing the whole sequence on one
// component's shutdown error. Supervisor is the thin driver built on
// top of it that knows the gateway's actual wiring: connect the cache,
// bring up the BACnet object layer, load the registry from the cache,
// start the COV manager, start one event consumer per configured
// subscription, and start the COV lifetime ticker, in that order, then
// reverse it on shutdown.
package pipeline
