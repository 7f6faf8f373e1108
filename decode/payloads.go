package decode

import "github.com/covgateway/gateway/bacnetobj"

// MessageType discriminates the four payload shapes a decoded envelope
// can carry.
type MessageType string

const (
	MessageTypeObjectDefinition MessageType = "ObjectDefinition"
	MessageTypeValueUpdate      MessageType = "ValueUpdate"
	MessageTypeObjectDelete     MessageType = "ObjectDelete"
	MessageTypeDeviceConfig     MessageType = "DeviceConfig"
)

// defaultUnits is the BACnet units code meaning "no units".
const defaultUnits uint16 = 95

// ObjectDefinition creates or refreshes an object's metadata.
type ObjectDefinition struct {
	ObjectType       bacnetobj.Type
	ObjectInstance   uint32
	ObjectName       string
	PresentValueType string
	ValueKind        bacnetobj.ValueKind
	Description      string
	Units            uint16
	UnitsText        string
	CovIncrement     float64
	MinPresentValue  *float64
	MaxPresentValue  *float64
	StateTexts       []string
	InactiveText     string
	ActiveText       string
	PriorityArray    bool
	InitialValue     *bacnetobj.Value
}

// ValueUpdate carries a new present value for an existing object.
type ValueUpdate struct {
	ObjectType      bacnetobj.Type
	ObjectInstance  uint32
	ValueKind       bacnetobj.ValueKind
	PresentValue    bacnetobj.Value
	Quality         string
	StatusFlags     *bacnetobj.StatusFlags
	Priority        *uint8
	SourceTimestamp int64 // ms since epoch UTC, 0 if absent
	Reliability     *uint8
	EventState      *uint8
}

// ObjectDelete removes an object.
type ObjectDelete struct {
	ObjectType     bacnetobj.Type
	ObjectInstance uint32
	Reason         string
}

// DeviceConfig updates the device record. Every field is optional; a nil
// field leaves the corresponding device attribute untouched.
type DeviceConfig struct {
	DeviceInstance             *uint32
	DeviceName                 *string
	DeviceDescription          *string
	VendorID                   *uint16
	VendorName                 *string
	ModelName                  *string
	ApplicationSoftwareVersion *string
	Location                   *string
	CovLifetime                *uint32
	MaxCovSubscriptions        *int
}

// Envelope is the decoded result: the common fields every message
// carries, plus a Body holding one of *ObjectDefinition, *ValueUpdate,
// *ObjectDelete, or *DeviceConfig depending on Type.
type Envelope struct {
	Type              MessageType
	SourceID          string
	Timestamp         int64 // ms since epoch UTC, 0 if absent
	CorrelationID     string
	StreamPosition    uint64
	HasStreamPosition bool
	Body              any
}
