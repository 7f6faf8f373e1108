package registry

import (
	"context"
	"testing"

	"github.com/covgateway/gateway/bacnetobj"
	"github.com/covgateway/gateway/decode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMirror struct {
	objects map[bacnetobj.ObjectKey]ObjectRecord
	cursors map[string]uint64
	device  DeviceRecord
	deleted []bacnetobj.ObjectKey
	changes []bacnetobj.ObjectKey
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{
		objects: make(map[bacnetobj.ObjectKey]ObjectRecord),
		cursors: make(map[string]uint64),
	}
}

func (f *fakeMirror) PutObject(_ context.Context, record ObjectRecord) error {
	f.objects[record.Key] = record
	return nil
}

func (f *fakeMirror) GetObject(_ context.Context, key bacnetobj.ObjectKey) (ObjectRecord, bool, error) {
	rec, ok := f.objects[key]
	return rec, ok, nil
}

func (f *fakeMirror) DeleteObject(_ context.Context, key bacnetobj.ObjectKey) error {
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeMirror) IterateObjects(_ context.Context, fn func(ObjectRecord) error) error {
	for _, rec := range f.objects {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeMirror) PutCursor(_ context.Context, subscriptionID string, position uint64) error {
	f.cursors[subscriptionID] = position
	return nil
}

func (f *fakeMirror) GetCursor(_ context.Context, subscriptionID string) (uint64, bool, error) {
	pos, ok := f.cursors[subscriptionID]
	return pos, ok, nil
}

func (f *fakeMirror) PutDeviceConfig(_ context.Context, device DeviceRecord) error {
	f.device = device
	return nil
}

func (f *fakeMirror) GetDeviceConfig(_ context.Context) (DeviceRecord, bool, error) {
	return f.device, f.device != (DeviceRecord{}), nil
}

func (f *fakeMirror) PublishChange(_ context.Context, key bacnetobj.ObjectKey) error {
	f.changes = append(f.changes, key)
	return nil
}

type fakeNotifier struct {
	notifications int
	lastValue     bacnetobj.Value
	canceled      []bacnetobj.ObjectKey
}

func (f *fakeNotifier) Notify(_ context.Context, _ bacnetobj.ObjectKey, value bacnetobj.Value, _ bacnetobj.StatusFlags, _ uint8) {
	f.notifications++
	f.lastValue = value
}

func (f *fakeNotifier) CancelAllForObject(key bacnetobj.ObjectKey) {
	f.canceled = append(f.canceled, key)
}

func newTestRegistry() (*Registry, *fakeMirror, *fakeNotifier) {
	mirror := newFakeMirror()
	notifier := &fakeNotifier{}
	return New(nil, mirror, notifier, nil, nil), mirror, notifier
}

func mustDecode(t *testing.T, raw string) *decode.Envelope {
	t.Helper()
	env, err := decode.Decode([]byte(raw))
	require.NoError(t, err)
	return env
}

func TestCreateThenUpdate(t *testing.T) {
	reg, mirror, notifier := newTestRegistry()
	ctx := context.Background()

	def := mustDecode(t, `{"messageType":"ObjectDefinition","sourceId":"s1","payload":{"objectType":"analog-input","objectInstance":1,"objectName":"T","presentValueType":"real","covIncrement":0.5,"initialValue":20.0}}`).Body.(*decode.ObjectDefinition)
	require.NoError(t, reg.ApplyDefinition(ctx, def, 0))

	upd := mustDecode(t, `{"messageType":"ValueUpdate","sourceId":"s1","payload":{"objectType":"analog-input","objectInstance":1,"presentValue":20.4}}`).Body.(*decode.ValueUpdate)
	require.NoError(t, reg.ApplyValue(ctx, upd, 0, 11, true))

	key := bacnetobj.ObjectKey{Type: bacnetobj.AnalogInput, Instance: 1}
	rec, ok := reg.Get(key)
	require.True(t, ok)
	assert.Equal(t, 20.4, rec.PresentValue.Real)
	assert.Equal(t, uint64(11), rec.StreamPosition)
	assert.Equal(t, 0, notifier.notifications, "delta below covIncrement must not notify")

	mirrored, ok, _ := mirror.GetObject(ctx, key)
	require.True(t, ok)
	assert.Equal(t, uint64(11), mirrored.StreamPosition)
}

func TestCOVTrigger(t *testing.T) {
	reg, _, notifier := newTestRegistry()
	ctx := context.Background()

	def := mustDecode(t, `{"messageType":"ObjectDefinition","sourceId":"s1","payload":{"objectType":"analog-input","objectInstance":1,"objectName":"T","presentValueType":"real","covIncrement":0.5,"initialValue":20.0}}`).Body.(*decode.ObjectDefinition)
	require.NoError(t, reg.ApplyDefinition(ctx, def, 0))

	upd1 := mustDecode(t, `{"messageType":"ValueUpdate","sourceId":"s1","payload":{"objectType":"analog-input","objectInstance":1,"presentValue":20.4}}`).Body.(*decode.ValueUpdate)
	require.NoError(t, reg.ApplyValue(ctx, upd1, 0, 11, true))

	upd2 := mustDecode(t, `{"messageType":"ValueUpdate","sourceId":"s1","payload":{"objectType":"analog-input","objectInstance":1,"presentValue":20.6}}`).Body.(*decode.ValueUpdate)
	require.NoError(t, reg.ApplyValue(ctx, upd2, 0, 12, true))

	assert.Equal(t, 1, notifier.notifications)
	assert.Equal(t, 20.6, notifier.lastValue.Real)

	key := bacnetobj.ObjectKey{Type: bacnetobj.AnalogInput, Instance: 1}
	rec, _ := reg.Get(key)
	assert.Equal(t, 20.6, rec.LastNotifiedValue.Real)
}

func TestDuplicateAfterReconnectIsNoOp(t *testing.T) {
	reg, _, notifier := newTestRegistry()
	ctx := context.Background()

	def := mustDecode(t, `{"messageType":"ObjectDefinition","sourceId":"s1","payload":{"objectType":"analog-input","objectInstance":1,"objectName":"T","presentValueType":"real","covIncrement":0.5,"initialValue":20.0}}`).Body.(*decode.ObjectDefinition)
	require.NoError(t, reg.ApplyDefinition(ctx, def, 0))

	upd := mustDecode(t, `{"messageType":"ValueUpdate","sourceId":"s1","payload":{"objectType":"analog-input","objectInstance":1,"presentValue":20.6}}`).Body.(*decode.ValueUpdate)
	require.NoError(t, reg.ApplyValue(ctx, upd, 0, 12, true))
	assert.Equal(t, 1, notifier.notifications)

	// Redelivered with the same stream position must not re-notify.
	require.NoError(t, reg.ApplyValue(ctx, upd, 0, 12, true))
	assert.Equal(t, 1, notifier.notifications)

	key := bacnetobj.ObjectKey{Type: bacnetobj.AnalogInput, Instance: 1}
	rec, _ := reg.Get(key)
	assert.Equal(t, uint64(12), rec.StreamPosition)
}

func TestDuplicateAtStreamPositionZeroIsNoOp(t *testing.T) {
	reg, _, notifier := newTestRegistry()
	ctx := context.Background()

	def := mustDecode(t, `{"messageType":"ObjectDefinition","sourceId":"s1","payload":{"objectType":"analog-input","objectInstance":1,"objectName":"T","presentValueType":"real","covIncrement":0.5,"initialValue":20.0}}`).Body.(*decode.ObjectDefinition)
	require.NoError(t, reg.ApplyDefinition(ctx, def, 0))

	// The very first applied event legitimately carries stream position 0.
	upd := mustDecode(t, `{"messageType":"ValueUpdate","sourceId":"s1","payload":{"objectType":"analog-input","objectInstance":1,"presentValue":20.6}}`).Body.(*decode.ValueUpdate)
	require.NoError(t, reg.ApplyValue(ctx, upd, 0, 0, true))
	assert.Equal(t, 1, notifier.notifications)

	key := bacnetobj.ObjectKey{Type: bacnetobj.AnalogInput, Instance: 1}
	rec, _ := reg.Get(key)
	assert.True(t, rec.HasStreamPosition)
	assert.Equal(t, uint64(0), rec.StreamPosition)

	// A redelivery of that same position-0 event must be recognized as
	// already applied, not reprocessed as if no position were recorded.
	require.NoError(t, reg.ApplyValue(ctx, upd, 0, 0, true))
	assert.Equal(t, 1, notifier.notifications, "redelivered position 0 must not re-notify")
}

func TestDeleteCancelsSubscriptions(t *testing.T) {
	reg, mirror, notifier := newTestRegistry()
	ctx := context.Background()

	def := mustDecode(t, `{"messageType":"ObjectDefinition","sourceId":"s1","payload":{"objectType":"analog-input","objectInstance":1,"objectName":"T","presentValueType":"real"}}`).Body.(*decode.ObjectDefinition)
	require.NoError(t, reg.ApplyDefinition(ctx, def, 0))

	del := mustDecode(t, `{"messageType":"ObjectDelete","sourceId":"s1","payload":{"objectType":"analog-input","objectInstance":1}}`).Body.(*decode.ObjectDelete)
	require.NoError(t, reg.ApplyDelete(ctx, del, 0))

	key := bacnetobj.ObjectKey{Type: bacnetobj.AnalogInput, Instance: 1}
	_, ok := reg.Get(key)
	assert.False(t, ok)
	_, ok, _ = mirror.GetObject(ctx, key)
	assert.False(t, ok)
	require.Len(t, notifier.canceled, 1)
	assert.Equal(t, key, notifier.canceled[0])
}

func TestOffsetAppliesToInstance(t *testing.T) {
	reg, mirror, _ := newTestRegistry()
	ctx := context.Background()

	def := mustDecode(t, `{"messageType":"ObjectDefinition","sourceId":"s1","payload":{"objectType":"analog-input","objectInstance":5,"objectName":"T","presentValueType":"real"}}`).Body.(*decode.ObjectDefinition)
	require.NoError(t, reg.ApplyDefinition(ctx, def, 1000))

	key := bacnetobj.ObjectKey{Type: bacnetobj.AnalogInput, Instance: 1005}
	_, ok := reg.Get(key)
	assert.True(t, ok)
	_, ok, _ = mirror.GetObject(ctx, key)
	assert.True(t, ok)
}

func TestApplyValueNotFoundRejected(t *testing.T) {
	reg, _, _ := newTestRegistry()
	upd := mustDecode(t, `{"messageType":"ValueUpdate","sourceId":"s1","payload":{"objectType":"analog-input","objectInstance":1,"presentValue":1.0}}`).Body.(*decode.ValueUpdate)
	err := reg.ApplyValue(context.Background(), upd, 0, 1, true)
	require.Error(t, err)
}

func TestMultiStateOutOfRangeRejected(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	def := mustDecode(t, `{"messageType":"ObjectDefinition","sourceId":"s1","payload":{"objectType":"multi-state-value","objectInstance":1,"objectName":"Mode","presentValueType":"unsigned","stateTexts":["Off","On","Auto"]}}`).Body.(*decode.ObjectDefinition)
	require.NoError(t, reg.ApplyDefinition(ctx, def, 0))

	upd := mustDecode(t, `{"messageType":"ValueUpdate","sourceId":"s1","payload":{"objectType":"multi-state-value","objectInstance":1,"presentValue":5}}`).Body.(*decode.ValueUpdate)
	err := reg.ApplyValue(ctx, upd, 0, 2, true)
	require.Error(t, err)
}

func TestBooleanDeltaAlwaysNotifies(t *testing.T) {
	reg, _, notifier := newTestRegistry()
	ctx := context.Background()

	def := mustDecode(t, `{"messageType":"ObjectDefinition","sourceId":"s1","payload":{"objectType":"binary-input","objectInstance":1,"objectName":"Door","presentValueType":"real"}}`).Body.(*decode.ObjectDefinition)
	require.NoError(t, reg.ApplyDefinition(ctx, def, 0))

	upd := mustDecode(t, `{"messageType":"ValueUpdate","sourceId":"s1","payload":{"objectType":"binary-input","objectInstance":1,"presentValue":true}}`).Body.(*decode.ValueUpdate)
	require.NoError(t, reg.ApplyValue(ctx, upd, 0, 2, true))
	assert.Equal(t, 1, notifier.notifications)
}

func TestApplyDeviceConfig(t *testing.T) {
	reg, mirror, _ := newTestRegistry()
	ctx := context.Background()

	cfg := mustDecode(t, `{"messageType":"DeviceConfig","sourceId":"s1","payload":{"deviceName":"Gateway1","covLifetime":300}}`).Body.(*decode.DeviceConfig)
	require.NoError(t, reg.ApplyDeviceConfig(ctx, cfg))

	assert.Equal(t, "Gateway1", mirror.device.DeviceName)
	assert.Equal(t, uint32(300), mirror.device.CovLifetime)
}
