// Package bacnetobj defines the object model shared by the decoder, the
// registry, and the COV manager, and the interface the gateway expects
// from a BACnet wire codec and datalink.
//
// The datalink itself is an external collaborator: a real deployment
// links a library that owns the actual BACnet/IP socket, device object,
// and COV-notification encoding. This package defines only the contract
// (ObjectLayer) and ships a local reference implementation
// (LocalLayer) that tracks the same state a real layer would without
// touching a network, so the rest of the gateway can be built and
// tested against a concrete type.
package bacnetobj
