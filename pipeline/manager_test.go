package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covgateway/gateway/component"
)

type fakeComponent struct {
	name        string
	startErr    error
	stopErr     error
	initErr     error
	started     bool
	stopped     bool
	startOrder  *[]string
	stopOrder   *[]string
}

func (f *fakeComponent) Initialize() error { return f.initErr }

func (f *fakeComponent) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	if f.startOrder != nil {
		*f.startOrder = append(*f.startOrder, f.name)
	}
	return nil
}

func (f *fakeComponent) Stop(time.Duration) error {
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = true
	if f.stopOrder != nil {
		*f.stopOrder = append(*f.stopOrder, f.name)
	}
	return nil
}

func (f *fakeComponent) Meta() component.Metadata { return component.Metadata{Name: f.name} }
func (f *fakeComponent) ConfigSchema() component.ConfigSchema { return component.ConfigSchema{} }
func (f *fakeComponent) Health() component.HealthStatus {
	return component.HealthStatus{Healthy: f.started && !f.stopped}
}
func (f *fakeComponent) DataFlow() component.FlowMetrics { return component.FlowMetrics{} }

func TestComponentManager_StartsInRegistrationOrder(t *testing.T) {
	var order []string
	cm := NewComponentManager(nil)
	require.NoError(t, cm.Register("a", &fakeComponent{name: "a", startOrder: &order}))
	require.NoError(t, cm.Register("b", &fakeComponent{name: "b", startOrder: &order}))
	require.NoError(t, cm.Register("c", &fakeComponent{name: "c", startOrder: &order}))

	require.NoError(t, cm.Start(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestComponentManager_StopsInReverseOrder(t *testing.T) {
	var order []string
	cm := NewComponentManager(nil)
	require.NoError(t, cm.Register("a", &fakeComponent{name: "a", stopOrder: &order}))
	require.NoError(t, cm.Register("b", &fakeComponent{name: "b", stopOrder: &order}))
	require.NoError(t, cm.Register("c", &fakeComponent{name: "c", stopOrder: &order}))

	require.NoError(t, cm.Start(context.Background()))
	require.NoError(t, cm.Stop(time.Second))
	assert.Equal(t, []string{"c", "b", "a"}, order)
}

func TestComponentManager_RejectsDuplicateNames(t *testing.T) {
	cm := NewComponentManager(nil)
	require.NoError(t, cm.Register("a", &fakeComponent{name: "a"}))
	err := cm.Register("a", &fakeComponent{name: "a"})
	assert.Error(t, err)
}

func TestComponentManager_RejectsRegisterAfterStart(t *testing.T) {
	cm := NewComponentManager(nil)
	require.NoError(t, cm.Start(context.Background()))
	err := cm.Register("late", &fakeComponent{name: "late"})
	assert.Error(t, err)
}

func TestComponentManager_StartFailureStopsAtFirstError(t *testing.T) {
	var order []string
	cm := NewComponentManager(nil)
	require.NoError(t, cm.Register("a", &fakeComponent{name: "a", startOrder: &order}))
	require.NoError(t, cm.Register("b", &fakeComponent{name: "b", startErr: assertErr, startOrder: &order}))
	require.NoError(t, cm.Register("c", &fakeComponent{name: "c", startOrder: &order}))

	err := cm.Start(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []string{"a"}, order)
}

func TestComponentManager_Status(t *testing.T) {
	cm := NewComponentManager(nil)
	require.NoError(t, cm.Register("a", &fakeComponent{name: "a"}))
	require.NoError(t, cm.Start(context.Background()))

	statuses := cm.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, "a", statuses[0].Name)
	assert.True(t, statuses[0].Health.Healthy)
}

var assertErr = &startFailure{}

type startFailure struct{}

func (*startFailure) Error() string { return "start failed" }
