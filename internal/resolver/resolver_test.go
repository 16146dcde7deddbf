package resolver

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphinit/internal/capability"
	"graphinit/internal/component"
)

type fakeStarter struct {
	started []component.ID
	stopped []component.ID
	startFn func(comp *component.Component) error
}

func (f *fakeStarter) Start(comp *component.Component) error {
	f.started = append(f.started, comp.ID)
	if f.startFn != nil {
		return f.startFn(comp)
	}
	comp.State = component.StateActive
	return nil
}

func (f *fakeStarter) Stop(comp *component.Component, sig syscall.Signal) error {
	f.stopped = append(f.stopped, comp.ID)
	return nil
}

func newComp(id component.ID, name string, requires, provides []string) *component.Component {
	return &component.Component{
		ID: id,
		Declaration: component.Declaration{
			Name: name, Binary: "/bin/" + name, Kind: component.KindService,
			Requires: requires, Provides: provides,
		},
		Runtime: component.Runtime{State: component.StateInactive},
	}
}

func TestInactiveWithRequirementsMetStarts(t *testing.T) {
	caps := capability.New()
	caps.Register("a.up", 1)
	starter := &fakeStarter{}
	r := New(caps, starter)

	b := newComp(2, "b", []string{"a.up"}, []string{"b.up"})
	changed := r.Resolve([]*component.Component{b}, time.Now())
	assert.True(t, changed)
	assert.Equal(t, []component.ID{2}, starter.started)
}

func TestInactiveWithRequirementsUnmetDoesNothing(t *testing.T) {
	caps := capability.New()
	starter := &fakeStarter{}
	r := New(caps, starter)

	b := newComp(2, "b", []string{"a.up"}, nil)
	changed := r.Resolve([]*component.Component{b}, time.Now())
	assert.False(t, changed)
	assert.Empty(t, starter.started)
}

func TestReadyWaitLosesRequirementsFails(t *testing.T) {
	caps := capability.New()
	starter := &fakeStarter{}
	r := New(caps, starter)

	b := newComp(2, "b", []string{"a.up"}, nil)
	b.State = component.StateReadyWait
	b.PID = 1234

	changed := r.Resolve([]*component.Component{b}, time.Now())
	assert.True(t, changed)
	assert.Equal(t, component.StateFailed, b.State)
	assert.Equal(t, []component.ID{2}, starter.stopped)
}

func TestActiveLosesRequirementsWithdrawsCapabilities(t *testing.T) {
	caps := capability.New()
	caps.Register("b.up", 2)
	starter := &fakeStarter{}
	r := New(caps, starter)

	b := newComp(2, "b", []string{"a.up"}, []string{"b.up"})
	b.State = component.StateActive

	changed := r.Resolve([]*component.Component{b}, time.Now())
	assert.True(t, changed)
	assert.Equal(t, component.StateFailed, b.State)
	assert.False(t, caps.Active("b.up"))
}

func TestFailedRecoversAfterCooldown(t *testing.T) {
	caps := capability.New()
	starter := &fakeStarter{}
	r := New(caps, starter)

	b := newComp(2, "b", nil, nil)
	b.State = component.StateFailed
	b.LastRestart = time.Now().Add(-10 * time.Second)

	changed := r.Resolve([]*component.Component{b}, time.Now())
	assert.True(t, changed)
	assert.Equal(t, component.StateInactive, b.State)
}

func TestFailedStaysDuringCooldown(t *testing.T) {
	caps := capability.New()
	starter := &fakeStarter{}
	r := New(caps, starter)

	b := newComp(2, "b", nil, nil)
	b.State = component.StateFailed
	b.LastRestart = time.Now()

	changed := r.Resolve([]*component.Component{b}, time.Now())
	assert.False(t, changed)
	assert.Equal(t, component.StateFailed, b.State)
}

func TestKernelComponentNeverResolved(t *testing.T) {
	caps := capability.New()
	starter := &fakeStarter{}
	r := New(caps, starter)

	kernel := newComp(0, component.KernelComponentName, nil, nil)
	changed := r.Resolve([]*component.Component{kernel}, time.Now())
	assert.False(t, changed)
	assert.Empty(t, starter.started)
}

func TestResolveFullConvergesChain(t *testing.T) {
	caps := capability.New()
	starter := &fakeStarter{startFn: func(comp *component.Component) error {
		comp.State = component.StateActive
		for _, name := range comp.Provides {
			caps.Register(name, comp.ID)
		}
		return nil
	}}
	r := New(caps, starter)

	a := newComp(1, "a", nil, []string{"a.up"})
	b := newComp(2, "b", []string{"a.up"}, []string{"b.up"})
	c := newComp(3, "c", []string{"b.up"}, []string{"c.up"})

	comps := []*component.Component{a, b, c}
	r.ResolveFull(comps, time.Now())

	assert.Equal(t, component.StateActive, a.State)
	assert.Equal(t, component.StateActive, b.State)
	assert.Equal(t, component.StateActive, c.State)
}

func TestResolveFullLogsWithoutInfiniteLoop(t *testing.T) {
	caps := capability.New()
	calls := 0
	starter := &fakeStarter{startFn: func(comp *component.Component) error {
		calls++
		comp.State = component.StateInactive // never actually starts, forcing repeated attempts
		return nil
	}}
	r := New(caps, starter)
	caps.Register("x", 99)

	a := newComp(1, "a", []string{"x"}, nil)
	require.NotPanics(t, func() { r.ResolveFull([]*component.Component{a}, time.Now()) })
	assert.LessOrEqual(t, calls, 2*1+1)
}
