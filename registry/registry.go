package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/covgateway/gateway/bacnetobj"
	"github.com/covgateway/gateway/decode"
	gwerrors "github.com/covgateway/gateway/errors"
	"github.com/covgateway/gateway/metric"
)

// Registry is the in-memory authoritative table of BACnet objects. All
// exported methods acquire the same mutex; SPEC_FULL resolves the
// reader/writer question in favor of a plain sync.Mutex with the cache
// write kept inside the critical section (§5, option (a)).
type Registry struct {
	mu      sync.Mutex
	objects map[bacnetobj.ObjectKey]*ObjectRecord
	device  DeviceRecord

	layer    bacnetobj.ObjectLayer
	mirror   Mirror
	notifier Notifier
	metrics  *metric.Metrics
	logger   *slog.Logger

	now func() int64
}

// New constructs an empty registry. metrics may be nil.
func New(layer bacnetobj.ObjectLayer, mirror Mirror, notifier Notifier, metrics *metric.Metrics, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		objects:  make(map[bacnetobj.ObjectKey]*ObjectRecord),
		layer:    layer,
		mirror:   mirror,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.With("component", "registry"),
		now:      defaultNowSeconds,
	}
}

func defaultNowSeconds() int64 {
	return time.Now().Unix()
}

// Get returns a snapshot of the object at key, if present.
func (r *Registry) Get(key bacnetobj.ObjectKey) (ObjectRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.objects[key]
	if !ok {
		return ObjectRecord{}, false
	}
	return rec.Clone(), true
}

// Count returns the number of objects currently registered.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.objects)
}

// offsetInstance computes objectInstance+offset, rejecting overflow.
// Config-load validation (§8) is expected to have already ruled this
// out for every configured subscription; this check is defense in
// depth against a subscription reconfigured without restart.
func offsetInstance(instance, offset uint32) (uint32, error) {
	sum := uint64(instance) + uint64(offset)
	if sum > 0xFFFFFFFF {
		return 0, gwerrors.WrapInvalid(fmt.Errorf("%w: instance %d + offset %d overflows uint32", ErrCapacityInvalid, instance, offset), "registry", "Apply", "offset_overflow")
	}
	return uint32(sum), nil
}

// ApplyDefinition implements C4's apply_definition operation.
func (r *Registry) ApplyDefinition(ctx context.Context, def *decode.ObjectDefinition, offset uint32) error {
	instance, err := offsetInstance(def.ObjectInstance, offset)
	if err != nil {
		return err
	}
	key := bacnetobj.ObjectKey{Type: def.ObjectType, Instance: instance}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, existed := r.objects[key]
	if existed {
		if rec.ValueKind != def.ValueKind {
			return kindMismatch(key)
		}
		rec.Name = def.ObjectName
		rec.Description = def.Description
		rec.Units = def.Units
		rec.UnitsText = def.UnitsText
		rec.CovIncrement = def.CovIncrement
		rec.MinValue = def.MinPresentValue
		rec.MaxValue = def.MaxPresentValue
		rec.StateTexts = def.StateTexts
		rec.InactiveText = def.InactiveText
		rec.ActiveText = def.ActiveText
		// Present value is left untouched on an update.
	} else {
		rec = &ObjectRecord{
			Key:          key,
			Name:         def.ObjectName,
			Description:  def.Description,
			ValueKind:    def.ValueKind,
			PresentValue: bacnetobj.Value{Kind: def.ValueKind},
			Units:        def.Units,
			UnitsText:    def.UnitsText,
			CovIncrement: def.CovIncrement,
			MinValue:     def.MinPresentValue,
			MaxValue:     def.MaxPresentValue,
			StateTexts:   def.StateTexts,
			InactiveText: def.InactiveText,
			ActiveText:   def.ActiveText,
		}
		if def.InitialValue != nil {
			rec.PresentValue = *def.InitialValue
		}
		rec.LastNotifiedValue = rec.PresentValue
		r.objects[key] = rec
	}

	if r.mirror != nil {
		if err := r.mirror.PutObject(ctx, rec.Clone()); err != nil {
			return err
		}
	}

	if r.layer != nil {
		desc := descriptorFor(rec)
		if err := r.layer.CreateOrUpdateObject(ctx, desc); err != nil {
			r.logger.Warn("bacnet layer object create/update failed", "object", key.String(), "error", err)
		}
	}

	if r.metrics != nil {
		r.metrics.SetRegistryObjects(len(r.objects))
	}
	return nil
}

// ApplyValue implements C4's apply_value operation, including the COV
// delta rule (§4.4) and the memory→cache→COV ordering.
func (r *Registry) ApplyValue(ctx context.Context, upd *decode.ValueUpdate, offset uint32, streamPosition uint64, hasStreamPosition bool) error {
	instance, err := offsetInstance(upd.ObjectInstance, offset)
	if err != nil {
		return err
	}
	key := bacnetobj.ObjectKey{Type: upd.ObjectType, Instance: instance}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.objects[key]
	if !ok {
		return notFound(key)
	}
	if rec.ValueKind != upd.ValueKind {
		return kindMismatch(key)
	}

	// Monotonicity/idempotence: a redelivered or stale event is a no-op.
	// rec.HasStreamPosition (not a zero-valued StreamPosition) is what
	// distinguishes "nothing recorded yet" from a genuine first position
	// of 0, which is itself a valid stream position.
	if hasStreamPosition && rec.HasStreamPosition && streamPosition <= rec.StreamPosition {
		return nil
	}

	newValue := upd.PresentValue
	if rec.ValueKind == bacnetobj.KindUnsigned && rec.StateCount() > 0 {
		if newValue.Unsigned < 1 || int(newValue.Unsigned) > rec.StateCount() {
			return outOfRange(key, fmt.Sprintf("presentValue %d outside [1,%d]", newValue.Unsigned, rec.StateCount()))
		}
	}
	if v, ok := newValue.Numeric(); ok {
		if rec.MinValue != nil && v < *rec.MinValue {
			v = *rec.MinValue
			newValue = clampedNumeric(newValue, v)
		}
		if rec.MaxValue != nil && v > *rec.MaxValue {
			v = *rec.MaxValue
			newValue = clampedNumeric(newValue, v)
		}
	}

	prevNotified := rec.LastNotifiedValue
	prevFlags := rec.StatusFlags
	newFlags := prevFlags
	if upd.StatusFlags != nil {
		newFlags = *upd.StatusFlags
	}

	notify := covDelta(rec.CovIncrement, prevNotified, newValue) || !prevFlags.Equal(newFlags)

	rec.PresentValue = newValue
	rec.StatusFlags = newFlags
	if upd.Reliability != nil {
		rec.Reliability = *upd.Reliability
	}
	if upd.EventState != nil {
		rec.EventState = *upd.EventState
	}
	rec.LastUpdate = r.now()
	if hasStreamPosition {
		rec.StreamPosition = streamPosition
		rec.HasStreamPosition = true
	}
	if notify {
		rec.LastNotifiedValue = newValue
	}

	if r.mirror != nil {
		if err := r.mirror.PutObject(ctx, rec.Clone()); err != nil {
			return err
		}
	}

	if notify && r.notifier != nil {
		priority := uint8(0)
		if upd.Priority != nil {
			priority = *upd.Priority
		}
		r.notifier.Notify(ctx, key, newValue, newFlags, priority)
	}

	if r.mirror != nil {
		if err := r.mirror.PublishChange(ctx, key); err != nil {
			r.logger.Debug("publish_change failed", "object", key.String(), "error", err)
		}
	}

	return nil
}

// clampedNumeric rewrites v's numeric field to clamped while preserving Kind.
func clampedNumeric(v bacnetobj.Value, clamped float64) bacnetobj.Value {
	switch v.Kind {
	case bacnetobj.KindReal:
		v.Real = clamped
	case bacnetobj.KindUnsigned:
		v.Unsigned = uint32(clamped)
	case bacnetobj.KindSigned:
		v.Signed = int32(clamped)
	case bacnetobj.KindEnumerated:
		v.Enumerated = uint32(clamped)
	}
	return v
}

// covDelta implements the §4.4 COV delta rule.
func covDelta(covIncrement float64, prev, next bacnetobj.Value) bool {
	if next.Kind == bacnetobj.KindBoolean {
		return next.Boolean != prev.Boolean
	}
	nv, ok1 := next.Numeric()
	pv, ok2 := prev.Numeric()
	if !ok1 || !ok2 {
		return !next.Equal(prev)
	}
	delta := nv - pv
	if delta < 0 {
		delta = -delta
	}
	if covIncrement > 0 {
		return delta >= covIncrement
	}
	return nv != pv
}

// ApplyDelete implements C4's apply_delete operation.
func (r *Registry) ApplyDelete(ctx context.Context, del *decode.ObjectDelete, offset uint32) error {
	instance, err := offsetInstance(del.ObjectInstance, offset)
	if err != nil {
		return err
	}
	key := bacnetobj.ObjectKey{Type: del.ObjectType, Instance: instance}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.objects, key)

	var firstErr error
	if r.layer != nil {
		if err := r.layer.DeleteObject(ctx, key); err != nil {
			r.logger.Warn("bacnet layer object delete failed", "object", key.String(), "error", err)
		}
	}
	if r.mirror != nil {
		if err := r.mirror.DeleteObject(ctx, key); err != nil {
			firstErr = err
		}
	}
	if r.notifier != nil {
		r.notifier.CancelAllForObject(key)
	}
	if r.metrics != nil {
		r.metrics.SetRegistryObjects(len(r.objects))
	}
	return firstErr
}

// ApplyDeviceConfig implements C4's apply_device_config operation.
func (r *Registry) ApplyDeviceConfig(ctx context.Context, cfg *decode.DeviceConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg.DeviceInstance != nil {
		r.device.DeviceInstance = *cfg.DeviceInstance
	}
	if cfg.DeviceName != nil {
		r.device.DeviceName = *cfg.DeviceName
	}
	if cfg.DeviceDescription != nil {
		r.device.DeviceDescription = *cfg.DeviceDescription
	}
	if cfg.VendorID != nil {
		r.device.VendorID = *cfg.VendorID
	}
	if cfg.VendorName != nil {
		r.device.VendorName = *cfg.VendorName
	}
	if cfg.ModelName != nil {
		r.device.ModelName = *cfg.ModelName
	}
	if cfg.ApplicationSoftwareVersion != nil {
		r.device.ApplicationSoftwareVersion = *cfg.ApplicationSoftwareVersion
	}
	if cfg.Location != nil {
		r.device.Location = *cfg.Location
	}
	if cfg.CovLifetime != nil {
		r.device.CovLifetime = *cfg.CovLifetime
	}
	if cfg.MaxCovSubscriptions != nil {
		r.device.MaxCovSubscriptions = *cfg.MaxCovSubscriptions
	}

	if r.mirror != nil {
		return r.mirror.PutDeviceConfig(ctx, r.device)
	}
	return nil
}

// LoadFromCache implements C4's load_from_cache operation, run once at
// startup before any subscription begins delivering events.
func (r *Registry) LoadFromCache(ctx context.Context) error {
	if r.mirror == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if device, ok, err := r.mirror.GetDeviceConfig(ctx); err != nil {
		return err
	} else if ok {
		r.device = device
	}

	return r.mirror.IterateObjects(ctx, func(rec ObjectRecord) error {
		stored := rec
		r.objects[stored.Key] = &stored
		if r.layer != nil {
			if err := r.layer.CreateOrUpdateObject(ctx, descriptorFor(&stored)); err != nil {
				r.logger.Warn("bacnet layer object recreate failed on load", "object", stored.Key.String(), "error", err)
			}
		}
		return nil
	})
}

func descriptorFor(rec *ObjectRecord) bacnetobj.ObjectDescriptor {
	return bacnetobj.ObjectDescriptor{
		Key:          rec.Key,
		Name:         rec.Name,
		Description:  rec.Description,
		Value:        rec.PresentValue,
		Units:        rec.Units,
		UnitsText:    rec.UnitsText,
		CovIncrement: rec.CovIncrement,
		MinValue:     rec.MinValue,
		MaxValue:     rec.MaxValue,
		StateTexts:   rec.StateTexts,
		InactiveText: rec.InactiveText,
		ActiveText:   rec.ActiveText,
		StatusFlags:  rec.StatusFlags,
		Reliability:  rec.Reliability,
		EventState:   rec.EventState,
	}
}
