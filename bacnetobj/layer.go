package bacnetobj

import (
	"context"
	"time"
)

// ObjectDescriptor is the subset of an object record the registry hands to
// the object layer when creating or refreshing a BACnet object. It is a
// separate type from registry.ObjectRecord (which the registry package
// owns) so that this package has no dependency on the registry.
type ObjectDescriptor struct {
	Key           ObjectKey
	Name          string
	Description   string
	Value         Value
	Units         uint16
	UnitsText     string
	CovIncrement  float64
	MinValue      *float64
	MaxValue      *float64
	StateTexts    []string
	InactiveText  string
	ActiveText    string
	StatusFlags   StatusFlags
	Reliability   uint8
	EventState    uint8
}

// Notification is what the COV manager asks the object layer to deliver
// to one subscriber.
type Notification struct {
	Key               ObjectKey
	Value             Value
	StatusFlags       StatusFlags
	SubscriberProcess uint32
	SubscriberAddress string
	Confirmed         bool
	TimeRemaining     uint32
}

// ObjectLayer is the external collaborator: a BACnet wire codec and
// datalink exposing object lifecycle and COV-send primitives. The real
// implementation owns a BACnet/IP socket and the device object; this
// package supplies only the contract plus a local stand-in.
type ObjectLayer interface {
	// CreateOrUpdateObject creates the object if absent, or updates its
	// exposed attributes (name, units, present value) if present.
	CreateOrUpdateObject(ctx context.Context, desc ObjectDescriptor) error

	// DeleteObject removes an object from the device's exposed object list.
	DeleteObject(ctx context.Context, key ObjectKey) error

	// SendCOVNotification delivers one COV notification. Send failures are
	// per-subscriber and never abort the caller's fanout loop.
	SendCOVNotification(ctx context.Context, n Notification) error

	// Start brings up the datalink and device object; Stop tears it down,
	// waiting up to timeout for in-flight sends to finish.
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}
