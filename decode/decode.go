package decode

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/covgateway/gateway/bacnetobj"
	"github.com/covgateway/gateway/pkg/timestamp"
)

type wireEnvelope struct {
	MessageType    *string         `json:"messageType"`
	SourceID       *string         `json:"sourceId"`
	Payload        json.RawMessage `json:"payload"`
	Timestamp      *string         `json:"timestamp"`
	CorrelationID  string          `json:"correlationId"`
	StreamPosition *uint64         `json:"streamPosition"`
}

// Decode parses one event-store payload into a typed Envelope. Every
// rejection is a gwerrors.ClassifiedError of class ErrorInvalid wrapping
// a *FieldError; callers never need to distinguish malformed JSON from a
// failed structural rule, only whether decoding succeeded.
func Decode(raw []byte) (*Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fieldErr(ErrInvalidJSON, "", err)
	}

	if wire.MessageType == nil || *wire.MessageType == "" {
		return nil, fieldErr(ErrMissingField, "messageType", fmt.Errorf("required"))
	}
	if wire.SourceID == nil || *wire.SourceID == "" {
		return nil, fieldErr(ErrMissingField, "sourceId", fmt.Errorf("required"))
	}
	if len(wire.Payload) == 0 {
		return nil, fieldErr(ErrMissingField, "payload", fmt.Errorf("required"))
	}

	env := &Envelope{
		Type:          MessageType(*wire.MessageType),
		SourceID:      *wire.SourceID,
		CorrelationID: wire.CorrelationID,
	}

	if wire.Timestamp != nil && *wire.Timestamp != "" {
		ms, err := parseTimestamp(*wire.Timestamp)
		if err != nil {
			return nil, fieldErr(ErrInvalidValue, "timestamp", err)
		}
		env.Timestamp = ms
	}

	if wire.StreamPosition != nil {
		env.StreamPosition = *wire.StreamPosition
		env.HasStreamPosition = true
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(wire.Payload, &payload); err != nil {
		return nil, fieldErr(ErrInvalidType, "payload", err)
	}

	var err error
	switch env.Type {
	case MessageTypeObjectDefinition:
		env.Body, err = decodeObjectDefinition(payload)
	case MessageTypeValueUpdate:
		env.Body, err = decodeValueUpdate(payload)
	case MessageTypeObjectDelete:
		env.Body, err = decodeObjectDelete(payload)
	case MessageTypeDeviceConfig:
		env.Body, err = decodeDeviceConfig(payload)
	default:
		return nil, fieldErr(ErrUnknownMessageType, "messageType", fmt.Errorf("%q", env.Type))
	}
	if err != nil {
		return nil, err
	}
	return env, nil
}

// parseTimestamp accepts ISO-8601 with or without fractional seconds and
// with Z or an explicit UTC offset, converting to UTC milliseconds. Go's
// RFC3339 layout parses fractional seconds transparently; -00:00 parses
// to the same instant as Z.
func parseTimestamp(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, err
	}
	return timestamp.ToUnixMs(t.UTC()), nil
}

func requireField(payload map[string]json.RawMessage, field string) (json.RawMessage, error) {
	raw, ok := payload[field]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil, fieldErr(ErrMissingField, field, fmt.Errorf("required"))
	}
	return raw, nil
}

func decodeObjectType(payload map[string]json.RawMessage) (bacnetobj.Type, error) {
	raw, err := requireField(payload, "objectType")
	if err != nil {
		return 0, err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fieldErr(ErrInvalidType, "objectType", err)
	}
	t, ok := bacnetobj.ParseType(s)
	if !ok {
		return 0, fieldErr(ErrInvalidValue, "objectType", fmt.Errorf("unrecognized object type %q", s))
	}
	return t, nil
}

func decodeObjectInstance(payload map[string]json.RawMessage) (uint32, error) {
	raw, err := requireField(payload, "objectInstance")
	if err != nil {
		return 0, err
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fieldErr(ErrInvalidType, "objectInstance", err)
	}
	if n < 0 {
		return 0, fieldErr(ErrInvalidValue, "objectInstance", fmt.Errorf("must be non-negative"))
	}
	return uint32(n), nil
}

func decodeObjectDefinition(payload map[string]json.RawMessage) (*ObjectDefinition, error) {
	objType, err := decodeObjectType(payload)
	if err != nil {
		return nil, err
	}
	instance, err := decodeObjectInstance(payload)
	if err != nil {
		return nil, err
	}

	nameRaw, err := requireField(payload, "objectName")
	if err != nil {
		return nil, err
	}
	var name string
	if err := json.Unmarshal(nameRaw, &name); err != nil {
		return nil, fieldErr(ErrInvalidType, "objectName", err)
	}
	if len(name) > 255 {
		return nil, fieldErr(ErrInvalidValue, "objectName", fmt.Errorf("exceeds 255 bytes"))
	}

	pvtRaw, err := requireField(payload, "presentValueType")
	if err != nil {
		return nil, err
	}
	var pvt string
	if err := json.Unmarshal(pvtRaw, &pvt); err != nil {
		return nil, fieldErr(ErrInvalidType, "presentValueType", err)
	}

	kind, err := valueKindForDefinition(objType, pvt)
	if err != nil {
		return nil, err
	}

	def := &ObjectDefinition{
		ObjectType:       objType,
		ObjectInstance:   instance,
		ObjectName:       name,
		PresentValueType: pvt,
		ValueKind:        kind,
		Units:            defaultUnits,
		InactiveText:     "Inactive",
		ActiveText:       "Active",
	}

	if raw, ok := payload["description"]; ok {
		if err := json.Unmarshal(raw, &def.Description); err != nil {
			return nil, fieldErr(ErrInvalidType, "description", err)
		}
		if len(def.Description) > 511 {
			return nil, fieldErr(ErrInvalidValue, "description", fmt.Errorf("exceeds 511 bytes"))
		}
	}
	if raw, ok := payload["units"]; ok {
		if err := json.Unmarshal(raw, &def.Units); err != nil {
			return nil, fieldErr(ErrInvalidType, "units", err)
		}
	}
	if raw, ok := payload["unitsText"]; ok {
		if err := json.Unmarshal(raw, &def.UnitsText); err != nil {
			return nil, fieldErr(ErrInvalidType, "unitsText", err)
		}
	}
	if raw, ok := payload["covIncrement"]; ok {
		if err := json.Unmarshal(raw, &def.CovIncrement); err != nil {
			return nil, fieldErr(ErrInvalidType, "covIncrement", err)
		}
		if def.CovIncrement < 0 {
			return nil, fieldErr(ErrInvalidValue, "covIncrement", fmt.Errorf("must be non-negative"))
		}
	}
	if raw, ok := payload["minPresentValue"]; ok {
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fieldErr(ErrInvalidType, "minPresentValue", err)
		}
		def.MinPresentValue = &v
	}
	if raw, ok := payload["maxPresentValue"]; ok {
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fieldErr(ErrInvalidType, "maxPresentValue", err)
		}
		def.MaxPresentValue = &v
	}
	if raw, ok := payload["stateTexts"]; ok {
		if err := json.Unmarshal(raw, &def.StateTexts); err != nil {
			return nil, fieldErr(ErrInvalidType, "stateTexts", err)
		}
		if len(def.StateTexts) > 16 {
			return nil, fieldErr(ErrInvalidValue, "stateTexts", fmt.Errorf("at most 16 entries"))
		}
	}
	if raw, ok := payload["inactiveText"]; ok {
		if err := json.Unmarshal(raw, &def.InactiveText); err != nil {
			return nil, fieldErr(ErrInvalidType, "inactiveText", err)
		}
	}
	if raw, ok := payload["activeText"]; ok {
		if err := json.Unmarshal(raw, &def.ActiveText); err != nil {
			return nil, fieldErr(ErrInvalidType, "activeText", err)
		}
	}
	if raw, ok := payload["priorityArray"]; ok {
		if err := json.Unmarshal(raw, &def.PriorityArray); err != nil {
			return nil, fieldErr(ErrInvalidType, "priorityArray", err)
		}
	}
	if raw, ok := payload["initialValue"]; ok {
		v, err := decodeValueJSON(raw, kind, "initialValue")
		if err != nil {
			return nil, err
		}
		def.InitialValue = &v
	}

	return def, nil
}

// valueKindForDefinition applies the per-message-type kind derivation
// rule: binary and multi-state objects always carry the kind implied by
// their object type; analog/value objects carry whatever
// presentValueType names.
func valueKindForDefinition(objType bacnetobj.Type, presentValueType string) (bacnetobj.ValueKind, error) {
	if kind, ok := bacnetobj.ValueKindForType(objType); ok {
		return kind, nil
	}
	switch presentValueType {
	case "real":
		return bacnetobj.KindReal, nil
	case "unsigned":
		return bacnetobj.KindUnsigned, nil
	case "signed":
		return bacnetobj.KindSigned, nil
	case "boolean":
		return bacnetobj.KindBoolean, nil
	case "enumerated":
		return bacnetobj.KindEnumerated, nil
	default:
		return 0, fieldErr(ErrInvalidValue, "presentValueType", fmt.Errorf("unrecognized %q", presentValueType))
	}
}

func decodeValueUpdate(payload map[string]json.RawMessage) (*ValueUpdate, error) {
	objType, err := decodeObjectType(payload)
	if err != nil {
		return nil, err
	}
	instance, err := decodeObjectInstance(payload)
	if err != nil {
		return nil, err
	}

	kind := valueKindForObjectType(objType)

	pvRaw, err := requireField(payload, "presentValue")
	if err != nil {
		return nil, err
	}
	value, err := decodeValueJSON(pvRaw, kind, "presentValue")
	if err != nil {
		return nil, err
	}

	vu := &ValueUpdate{
		ObjectType:     objType,
		ObjectInstance: instance,
		ValueKind:      kind,
		PresentValue:   value,
	}

	if raw, ok := payload["quality"]; ok {
		if err := json.Unmarshal(raw, &vu.Quality); err != nil {
			return nil, fieldErr(ErrInvalidType, "quality", err)
		}
	}
	if raw, ok := payload["statusFlags"]; ok {
		var sf bacnetobj.StatusFlags
		if err := json.Unmarshal(raw, &sf); err != nil {
			return nil, fieldErr(ErrInvalidType, "statusFlags", err)
		}
		vu.StatusFlags = &sf
	}
	if raw, ok := payload["priority"]; ok {
		var p int
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fieldErr(ErrInvalidType, "priority", err)
		}
		if p < 0 || p > 16 {
			return nil, fieldErr(ErrInvalidValue, "priority", fmt.Errorf("must be in [0,16]"))
		}
		v := uint8(p)
		vu.Priority = &v
	}
	if raw, ok := payload["sourceTimestamp"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fieldErr(ErrInvalidType, "sourceTimestamp", err)
		}
		ms, err := parseTimestamp(s)
		if err != nil {
			return nil, fieldErr(ErrInvalidValue, "sourceTimestamp", err)
		}
		vu.SourceTimestamp = ms
	}
	if raw, ok := payload["reliability"]; ok {
		var r int
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fieldErr(ErrInvalidType, "reliability", err)
		}
		v := uint8(r)
		vu.Reliability = &v
	}
	if raw, ok := payload["eventState"]; ok {
		var e int
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fieldErr(ErrInvalidType, "eventState", err)
		}
		v := uint8(e)
		vu.EventState = &v
	}

	return vu, nil
}

// valueKindForObjectType is the ValueUpdate kind-derivation rule:
// binary objects carry boolean, multi-state carry unsigned, everything
// else (analog and generic value objects) carries real.
func valueKindForObjectType(t bacnetobj.Type) bacnetobj.ValueKind {
	if kind, ok := bacnetobj.ValueKindForType(t); ok {
		return kind
	}
	return bacnetobj.KindReal
}

func decodeValueJSON(raw json.RawMessage, kind bacnetobj.ValueKind, field string) (bacnetobj.Value, error) {
	switch kind {
	case bacnetobj.KindReal:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return bacnetobj.Value{}, fieldErr(ErrInvalidType, field, err)
		}
		return bacnetobj.Value{Kind: bacnetobj.KindReal, Real: f}, nil
	case bacnetobj.KindUnsigned:
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return bacnetobj.Value{}, fieldErr(ErrInvalidType, field, err)
		}
		if n < 0 {
			return bacnetobj.Value{}, fieldErr(ErrInvalidValue, field, fmt.Errorf("must be non-negative"))
		}
		return bacnetobj.Value{Kind: bacnetobj.KindUnsigned, Unsigned: uint32(n)}, nil
	case bacnetobj.KindSigned:
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return bacnetobj.Value{}, fieldErr(ErrInvalidType, field, err)
		}
		return bacnetobj.Value{Kind: bacnetobj.KindSigned, Signed: int32(n)}, nil
	case bacnetobj.KindBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return bacnetobj.Value{}, fieldErr(ErrInvalidType, field, err)
		}
		return bacnetobj.Value{Kind: bacnetobj.KindBoolean, Boolean: b}, nil
	case bacnetobj.KindEnumerated:
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return bacnetobj.Value{}, fieldErr(ErrInvalidType, field, err)
		}
		if n < 0 {
			return bacnetobj.Value{}, fieldErr(ErrInvalidValue, field, fmt.Errorf("must be non-negative"))
		}
		return bacnetobj.Value{Kind: bacnetobj.KindEnumerated, Enumerated: uint32(n)}, nil
	default:
		return bacnetobj.Value{}, fieldErr(ErrInvalidValue, field, fmt.Errorf("unresolvable value kind"))
	}
}

func decodeObjectDelete(payload map[string]json.RawMessage) (*ObjectDelete, error) {
	objType, err := decodeObjectType(payload)
	if err != nil {
		return nil, err
	}
	instance, err := decodeObjectInstance(payload)
	if err != nil {
		return nil, err
	}
	del := &ObjectDelete{ObjectType: objType, ObjectInstance: instance}
	if raw, ok := payload["reason"]; ok {
		if err := json.Unmarshal(raw, &del.Reason); err != nil {
			return nil, fieldErr(ErrInvalidType, "reason", err)
		}
	}
	return del, nil
}

func decodeDeviceConfig(payload map[string]json.RawMessage) (*DeviceConfig, error) {
	cfg := &DeviceConfig{}

	if raw, ok := payload["deviceInstance"]; ok {
		var v uint32
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fieldErr(ErrInvalidType, "deviceInstance", err)
		}
		cfg.DeviceInstance = &v
	}
	if raw, ok := payload["deviceName"]; ok {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fieldErr(ErrInvalidType, "deviceName", err)
		}
		cfg.DeviceName = &v
	}
	if raw, ok := payload["deviceDescription"]; ok {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fieldErr(ErrInvalidType, "deviceDescription", err)
		}
		cfg.DeviceDescription = &v
	}
	if raw, ok := payload["vendorId"]; ok {
		var v uint16
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fieldErr(ErrInvalidType, "vendorId", err)
		}
		cfg.VendorID = &v
	}
	if raw, ok := payload["vendorName"]; ok {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fieldErr(ErrInvalidType, "vendorName", err)
		}
		cfg.VendorName = &v
	}
	if raw, ok := payload["modelName"]; ok {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fieldErr(ErrInvalidType, "modelName", err)
		}
		cfg.ModelName = &v
	}
	if raw, ok := payload["applicationSoftwareVersion"]; ok {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fieldErr(ErrInvalidType, "applicationSoftwareVersion", err)
		}
		cfg.ApplicationSoftwareVersion = &v
	}
	if raw, ok := payload["location"]; ok {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fieldErr(ErrInvalidType, "location", err)
		}
		cfg.Location = &v
	}
	if raw, ok := payload["covLifetime"]; ok {
		var v uint32
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fieldErr(ErrInvalidType, "covLifetime", err)
		}
		cfg.CovLifetime = &v
	}
	if raw, ok := payload["maxCovSubscriptions"]; ok {
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fieldErr(ErrInvalidType, "maxCovSubscriptions", err)
		}
		cfg.MaxCovSubscriptions = &v
	}

	return cfg, nil
}
