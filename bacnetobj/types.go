package bacnetobj

import "fmt"

// Type is a BACnet object type. Only the nine categories the gateway
// projects onto are enumerated; values match the standard's object-type
// codes so they can be used directly in COV notifications.
type Type uint16

const (
	AnalogInput      Type = 0
	AnalogOutput     Type = 1
	AnalogValue      Type = 2
	BinaryInput      Type = 3
	BinaryOutput     Type = 4
	BinaryValue      Type = 5
	MultiStateInput  Type = 13
	MultiStateOutput Type = 14
	MultiStateValue  Type = 19
)

// typeNames maps the wire string used in event payloads to the enum.
var typeNames = map[string]Type{
	"analog-input":       AnalogInput,
	"analog-output":      AnalogOutput,
	"analog-value":       AnalogValue,
	"binary-input":       BinaryInput,
	"binary-output":      BinaryOutput,
	"binary-value":       BinaryValue,
	"multi-state-input":  MultiStateInput,
	"multi-state-output": MultiStateOutput,
	"multi-state-value":  MultiStateValue,
}

// ParseType maps an event payload's objectType string to Type.
func ParseType(s string) (Type, bool) {
	t, ok := typeNames[s]
	return t, ok
}

// IsBinary reports whether t is one of the binary object types.
func (t Type) IsBinary() bool {
	return t == BinaryInput || t == BinaryOutput || t == BinaryValue
}

// IsMultiState reports whether t is one of the multi-state object types.
func (t Type) IsMultiState() bool {
	return t == MultiStateInput || t == MultiStateOutput || t == MultiStateValue
}

// IsAnalog reports whether t is one of the analog object types.
func (t Type) IsAnalog() bool {
	return t == AnalogInput || t == AnalogOutput || t == AnalogValue
}

func (t Type) String() string {
	for name, v := range typeNames {
		if v == t {
			return name
		}
	}
	return fmt.Sprintf("type(%d)", uint16(t))
}

// ObjectKey identifies an object within the registry.
type ObjectKey struct {
	Type     Type
	Instance uint32
}

func (k ObjectKey) String() string {
	return fmt.Sprintf("%s:%d", k.Type, k.Instance)
}

// ValueKind discriminates the variant carried by Value.
type ValueKind int

const (
	KindReal ValueKind = iota
	KindUnsigned
	KindSigned
	KindBoolean
	KindEnumerated
)

func (k ValueKind) String() string {
	switch k {
	case KindReal:
		return "real"
	case KindUnsigned:
		return "unsigned"
	case KindSigned:
		return "signed"
	case KindBoolean:
		return "boolean"
	case KindEnumerated:
		return "enumerated"
	default:
		return "unknown"
	}
}

// ValueKindForType derives the value kind that a binary or multi-state
// object always carries, regardless of what a message claims.
func ValueKindForType(t Type) (ValueKind, bool) {
	switch {
	case t.IsBinary():
		return KindBoolean, true
	case t.IsMultiState():
		return KindUnsigned, true
	default:
		return 0, false
	}
}

// Value is a tagged union over the five present-value representations
// a BACnet object can carry. Only the field matching Kind is meaningful.
type Value struct {
	Kind       ValueKind
	Real       float64
	Unsigned   uint32
	Signed     int32
	Boolean    bool
	Enumerated uint32
}

// Numeric returns the value as a float64 for delta comparison, for the
// four kinds the COV delta rule treats as numeric. The second return is
// false for Boolean, which is compared by identity instead.
func (v Value) Numeric() (float64, bool) {
	switch v.Kind {
	case KindReal:
		return v.Real, true
	case KindUnsigned:
		return float64(v.Unsigned), true
	case KindSigned:
		return float64(v.Signed), true
	case KindEnumerated:
		return float64(v.Enumerated), true
	default:
		return 0, false
	}
}

// Equal compares two values of the same kind for exact equality.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindReal:
		return v.Real == other.Real
	case KindUnsigned:
		return v.Unsigned == other.Unsigned
	case KindSigned:
		return v.Signed == other.Signed
	case KindBoolean:
		return v.Boolean == other.Boolean
	case KindEnumerated:
		return v.Enumerated == other.Enumerated
	default:
		return false
	}
}

// StatusFlags is the four-boolean BACnet status-flags tuple.
type StatusFlags struct {
	InAlarm     bool `json:"inAlarm"`
	Fault       bool `json:"fault"`
	Overridden  bool `json:"overridden"`
	OutOfService bool `json:"outOfService"`
}

// Equal compares two status-flags tuples.
func (f StatusFlags) Equal(other StatusFlags) bool {
	return f == other
}
