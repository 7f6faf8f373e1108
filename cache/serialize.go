package cache

import (
	"encoding/json"
	"fmt"

	"github.com/covgateway/gateway/bacnetobj"
	"github.com/covgateway/gateway/registry"
)

// wireValue is Value's JSON-friendly shape. Every field round-trips
// regardless of kind, matching the present-value wire format decode
// uses on the ingest side.
type wireValue struct {
	Kind       string  `json:"kind"`
	Real       float64 `json:"real,omitempty"`
	Unsigned   uint32  `json:"unsigned,omitempty"`
	Signed     int32   `json:"signed,omitempty"`
	Boolean    bool    `json:"boolean,omitempty"`
	Enumerated uint32  `json:"enumerated,omitempty"`
}

func toWireValue(v bacnetobj.Value) wireValue {
	return wireValue{
		Kind:       v.Kind.String(),
		Real:       v.Real,
		Unsigned:   v.Unsigned,
		Signed:     v.Signed,
		Boolean:    v.Boolean,
		Enumerated: v.Enumerated,
	}
}

var valueKindsByName = map[string]bacnetobj.ValueKind{
	"real":       bacnetobj.KindReal,
	"unsigned":   bacnetobj.KindUnsigned,
	"signed":     bacnetobj.KindSigned,
	"boolean":    bacnetobj.KindBoolean,
	"enumerated": bacnetobj.KindEnumerated,
}

func fromWireValue(w wireValue) (bacnetobj.Value, error) {
	kind, ok := valueKindsByName[w.Kind]
	if !ok {
		return bacnetobj.Value{}, fmt.Errorf("unknown value kind %q", w.Kind)
	}
	return bacnetobj.Value{
		Kind:       kind,
		Real:       w.Real,
		Unsigned:   w.Unsigned,
		Signed:     w.Signed,
		Boolean:    w.Boolean,
		Enumerated: w.Enumerated,
	}, nil
}

type wireStatusFlags struct {
	InAlarm      bool `json:"inAlarm"`
	Fault        bool `json:"fault"`
	Overridden   bool `json:"overridden"`
	OutOfService bool `json:"outOfService"`
}

// wireObjectRecord is the JSON document stored under each object key.
type wireObjectRecord struct {
	ObjectType     string  `json:"objectType"`
	ObjectInstance uint32  `json:"objectInstance"`
	Name           string  `json:"name"`
	Description    string  `json:"description,omitempty"`
	ValueKind      string  `json:"valueKind"`
	PresentValue   wireValue `json:"presentValue"`

	Units     uint16 `json:"units"`
	UnitsText string `json:"unitsText,omitempty"`

	CovIncrement float64  `json:"covIncrement"`
	MinValue     *float64 `json:"minValue,omitempty"`
	MaxValue     *float64 `json:"maxValue,omitempty"`

	StateTexts   []string `json:"stateTexts,omitempty"`
	InactiveText string   `json:"inactiveText,omitempty"`
	ActiveText   string   `json:"activeText,omitempty"`

	StatusFlags wireStatusFlags `json:"statusFlags"`
	Reliability uint8           `json:"reliability,omitempty"`
	EventState  uint8           `json:"eventState,omitempty"`

	SourceID          string `json:"sourceId,omitempty"`
	LastUpdate        int64  `json:"lastUpdate"`
	StreamPosition    uint64 `json:"streamPosition"`
	HasStreamPosition bool   `json:"hasStreamPosition"`

	LastNotifiedValue wireValue `json:"lastNotifiedValue"`
}

func marshalObjectRecord(rec registry.ObjectRecord) ([]byte, error) {
	w := wireObjectRecord{
		ObjectType:     rec.Key.Type.String(),
		ObjectInstance: rec.Key.Instance,
		Name:           rec.Name,
		Description:    rec.Description,
		ValueKind:      rec.ValueKind.String(),
		PresentValue:   toWireValue(rec.PresentValue),
		Units:          rec.Units,
		UnitsText:      rec.UnitsText,
		CovIncrement:   rec.CovIncrement,
		MinValue:       rec.MinValue,
		MaxValue:       rec.MaxValue,
		StateTexts:     rec.StateTexts,
		InactiveText:   rec.InactiveText,
		ActiveText:     rec.ActiveText,
		StatusFlags: wireStatusFlags{
			InAlarm:      rec.StatusFlags.InAlarm,
			Fault:        rec.StatusFlags.Fault,
			Overridden:   rec.StatusFlags.Overridden,
			OutOfService: rec.StatusFlags.OutOfService,
		},
		Reliability:       rec.Reliability,
		EventState:        rec.EventState,
		SourceID:          rec.SourceID,
		LastUpdate:        rec.LastUpdate,
		StreamPosition:    rec.StreamPosition,
		HasStreamPosition: rec.HasStreamPosition,
		LastNotifiedValue: toWireValue(rec.LastNotifiedValue),
	}
	return json.Marshal(w)
}

func unmarshalObjectRecord(data []byte) (registry.ObjectRecord, error) {
	var w wireObjectRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return registry.ObjectRecord{}, err
	}
	objType, ok := bacnetobj.ParseType(w.ObjectType)
	if !ok {
		return registry.ObjectRecord{}, fmt.Errorf("unknown object type %q", w.ObjectType)
	}
	valueKind, ok := valueKindsByName[w.ValueKind]
	if !ok {
		return registry.ObjectRecord{}, fmt.Errorf("unknown value kind %q", w.ValueKind)
	}
	presentValue, err := fromWireValue(w.PresentValue)
	if err != nil {
		return registry.ObjectRecord{}, err
	}
	lastNotified, err := fromWireValue(w.LastNotifiedValue)
	if err != nil {
		return registry.ObjectRecord{}, err
	}
	return registry.ObjectRecord{
		Key:          bacnetobj.ObjectKey{Type: objType, Instance: w.ObjectInstance},
		Name:         w.Name,
		Description:  w.Description,
		ValueKind:    valueKind,
		PresentValue: presentValue,
		Units:        w.Units,
		UnitsText:    w.UnitsText,
		CovIncrement: w.CovIncrement,
		MinValue:     w.MinValue,
		MaxValue:     w.MaxValue,
		StateTexts:   w.StateTexts,
		InactiveText: w.InactiveText,
		ActiveText:   w.ActiveText,
		StatusFlags: bacnetobj.StatusFlags{
			InAlarm:      w.StatusFlags.InAlarm,
			Fault:        w.StatusFlags.Fault,
			Overridden:   w.StatusFlags.Overridden,
			OutOfService: w.StatusFlags.OutOfService,
		},
		Reliability:       w.Reliability,
		EventState:        w.EventState,
		SourceID:          w.SourceID,
		LastUpdate:        w.LastUpdate,
		StreamPosition:    w.StreamPosition,
		HasStreamPosition: w.HasStreamPosition,
		LastNotifiedValue: lastNotified,
	}, nil
}

type wireDeviceRecord struct {
	DeviceInstance             uint32 `json:"deviceInstance"`
	DeviceName                 string `json:"deviceName"`
	DeviceDescription          string `json:"deviceDescription,omitempty"`
	VendorID                   uint16 `json:"vendorId,omitempty"`
	VendorName                 string `json:"vendorName,omitempty"`
	ModelName                  string `json:"modelName,omitempty"`
	ApplicationSoftwareVersion string `json:"applicationSoftwareVersion,omitempty"`
	Location                   string `json:"location,omitempty"`
	CovLifetime                uint32 `json:"covLifetime,omitempty"`
	MaxCovSubscriptions        int    `json:"maxCovSubscriptions,omitempty"`
}

func marshalDeviceRecord(d registry.DeviceRecord) ([]byte, error) {
	return json.Marshal(wireDeviceRecord{
		DeviceInstance:             d.DeviceInstance,
		DeviceName:                 d.DeviceName,
		DeviceDescription:          d.DeviceDescription,
		VendorID:                   d.VendorID,
		VendorName:                 d.VendorName,
		ModelName:                  d.ModelName,
		ApplicationSoftwareVersion: d.ApplicationSoftwareVersion,
		Location:                   d.Location,
		CovLifetime:                d.CovLifetime,
		MaxCovSubscriptions:        d.MaxCovSubscriptions,
	})
}

func unmarshalDeviceRecord(data []byte) (registry.DeviceRecord, error) {
	var w wireDeviceRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return registry.DeviceRecord{}, err
	}
	return registry.DeviceRecord{
		DeviceInstance:             w.DeviceInstance,
		DeviceName:                 w.DeviceName,
		DeviceDescription:          w.DeviceDescription,
		VendorID:                   w.VendorID,
		VendorName:                 w.VendorName,
		ModelName:                  w.ModelName,
		ApplicationSoftwareVersion: w.ApplicationSoftwareVersion,
		Location:                   w.Location,
		CovLifetime:                w.CovLifetime,
		MaxCovSubscriptions:        w.MaxCovSubscriptions,
	}, nil
}
