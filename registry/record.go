package registry

import "github.com/covgateway/gateway/bacnetobj"

// ObjectRecord is the authoritative in-memory state for one BACnet
// object. The cache mirror stores a serialized copy of the same fields
// under the object's cache key.
type ObjectRecord struct {
	Key bacnetobj.ObjectKey

	Name        string
	Description string

	ValueKind    bacnetobj.ValueKind
	PresentValue bacnetobj.Value

	Units     uint16
	UnitsText string

	CovIncrement float64
	MinValue     *float64
	MaxValue     *float64

	StateTexts   []string
	InactiveText string
	ActiveText   string

	StatusFlags bacnetobj.StatusFlags
	Reliability uint8
	EventState  uint8

	SourceID       string
	LastUpdate     int64 // wall-clock seconds
	StreamPosition uint64

	// HasStreamPosition distinguishes "no position recorded yet" from a
	// genuine first-applied position of 0; StreamPosition alone can't
	// carry that distinction since 0 is a valid stream position.
	HasStreamPosition bool

	// LastNotifiedValue is the present value at which the most recent
	// COV notification was emitted, initialized to PresentValue on
	// creation and updated atomically with PresentValue thereafter.
	LastNotifiedValue bacnetobj.Value
}

// StateCount reports the number of valid multi-state present-value
// codes, derived from StateTexts. Objects with no configured state
// texts accept any value; no range check is applied to them.
func (r *ObjectRecord) StateCount() int {
	return len(r.StateTexts)
}

// Clone returns a deep-enough copy for safe use outside the registry
// lock (StateTexts is copied; pointers to Min/MaxValue are shared since
// both are treated as immutable after apply_definition).
func (r ObjectRecord) Clone() ObjectRecord {
	if r.StateTexts != nil {
		cp := make([]string, len(r.StateTexts))
		copy(cp, r.StateTexts)
		r.StateTexts = cp
	}
	return r
}

// DeviceRecord holds the device-wide attributes set by DeviceConfig
// messages.
type DeviceRecord struct {
	DeviceInstance             uint32
	DeviceName                 string
	DeviceDescription          string
	VendorID                   uint16
	VendorName                 string
	ModelName                  string
	ApplicationSoftwareVersion string
	Location                   string
	CovLifetime                uint32
	MaxCovSubscriptions        int
}
