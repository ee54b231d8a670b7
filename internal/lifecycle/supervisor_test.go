package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeComponent struct {
	name     string
	rec      *recorder
	startErr error
	stopErr  error
	block    chan struct{}
	hangStop bool
}

func (c *fakeComponent) Name() string { return c.name }

func (c *fakeComponent) Start(ctx context.Context) error {
	c.rec.add("start:" + c.name)
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.startErr
}

func (c *fakeComponent) Stop(ctx context.Context) error {
	c.rec.add("stop:" + c.name)
	if c.hangStop {
		<-ctx.Done()
		return ctx.Err()
	}
	return c.stopErr
}

type reloadingComponent struct {
	fakeComponent
	reloadErr error
	reloads   atomic.Int32
}

func (c *reloadingComponent) Reload(context.Context) error {
	c.reloads.Add(1)
	return c.reloadErr
}

type statsComponent struct {
	fakeComponent
	stats    any
	statsErr error
}

func (c *statsComponent) Stats(context.Context) (any, error) {
	return c.stats, c.statsErr
}

func TestNewRejectsDuplicateNames(t *testing.T) {
	rec := &recorder{}
	_, err := New([]Component{&fakeComponent{name: "a", rec: rec}, &fakeComponent{name: "a", rec: rec}})
	require.ErrorContains(t, err, "duplicate component")

	_, err = New([]Component{&fakeComponent{name: " ", rec: rec}})
	require.Error(t, err)
}

func TestSupervisorStartsInOrderAndStopsInReverse(t *testing.T) {
	rec := &recorder{}
	sup, err := New([]Component{
		&fakeComponent{name: "pool", rec: rec},
		&fakeComponent{name: "auth", rec: rec},
		&fakeComponent{name: "sender", rec: rec},
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sup.Start(ctx))
	status := sup.GetStatus(ctx)
	assert.True(t, status.Running)
	assert.NotEmpty(t, status.RunID)
	for _, component := range status.Components {
		assert.Equal(t, StateRunning, component.State, component.Name)
	}

	require.NoError(t, sup.Stop(ctx))
	require.NoError(t, sup.Stop(ctx))

	assert.Equal(t, []string{
		"start:pool", "start:auth", "start:sender",
		"stop:sender", "stop:auth", "stop:pool",
	}, rec.list())
	assert.False(t, sup.GetStatus(ctx).Running)
}

func TestSupervisorStartFailureRollsBack(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	sup, err := New([]Component{
		&fakeComponent{name: "P", rec: rec},
		&fakeComponent{name: "A", rec: rec, startErr: boom},
		&fakeComponent{name: "S", rec: rec},
	})
	require.NoError(t, err)
	ctx := context.Background()

	err = sup.Start(ctx)
	var startErr *DependencyStartError
	require.ErrorAs(t, err, &startErr)
	assert.Equal(t, "A", startErr.Component)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, []string{"start:P", "start:A", "stop:P"}, rec.list())

	state, err := sup.State("P")
	require.NoError(t, err)
	assert.Equal(t, StateStopped, state)
	state, err = sup.State("A")
	require.NoError(t, err)
	assert.Equal(t, StateError, state)
	state, err = sup.State("S")
	require.NoError(t, err)
	assert.Equal(t, StateStopped, state)

	status := sup.GetStatus(ctx)
	assert.False(t, status.Running)
	assert.Equal(t, "boom", status.Components[1].LastError)

	require.NoError(t, sup.Stop(ctx))
}

func TestSupervisorStartIsNotReentrant(t *testing.T) {
	rec := &recorder{}
	release := make(chan struct{})
	sup, err := New([]Component{&fakeComponent{name: "slow", rec: rec, block: release}})
	require.NoError(t, err)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- sup.Start(ctx) }()

	require.Eventually(t, func() bool { return len(rec.list()) == 1 }, time.Second, time.Millisecond)
	require.ErrorIs(t, sup.Start(ctx), ErrAlreadyStarting)

	close(release)
	require.NoError(t, <-done)
	require.NoError(t, sup.Stop(ctx))
}

func TestSupervisorStopIsBestEffort(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	sup, err := New([]Component{
		&fakeComponent{name: "a", rec: rec},
		&fakeComponent{name: "b", rec: rec, stopErr: boom},
		&fakeComponent{name: "c", rec: rec},
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sup.Start(ctx))
	err = sup.Stop(ctx)

	var componentErr *ComponentError
	require.ErrorAs(t, err, &componentErr)
	assert.Equal(t, "b", componentErr.Component)
	assert.Equal(t, "stop", componentErr.Op)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}, rec.list())

	state, _ := sup.State("b")
	assert.Equal(t, StateError, state)
}

func TestSupervisorStopGraceTimeout(t *testing.T) {
	rec := &recorder{}
	sup, err := New([]Component{
		&fakeComponent{name: "a", rec: rec},
		&fakeComponent{name: "stuck", rec: rec, hangStop: true},
	}, WithStopGrace(20*time.Millisecond))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sup.Start(ctx))
	err = sup.Stop(ctx)
	require.Error(t, err)

	state, _ := sup.State("a")
	assert.Equal(t, StateStopped, state)
	state, _ = sup.State("stuck")
	assert.Equal(t, StateError, state)
}

func TestSupervisorRestartComponent(t *testing.T) {
	rec := &recorder{}
	sup, err := New([]Component{
		&fakeComponent{name: "a", rec: rec},
		&fakeComponent{name: "b", rec: rec},
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.ErrorIs(t, sup.RestartComponent(ctx, "missing"), ErrComponentNotFound)

	require.NoError(t, sup.Start(ctx))
	require.NoError(t, sup.RestartComponent(ctx, "b"))
	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "start:b"}, rec.list())

	state, _ := sup.State("b")
	assert.Equal(t, StateRunning, state)
	require.NoError(t, sup.Stop(ctx))
}

func TestSupervisorRestartPropagatesStartError(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	flaky := &fakeComponent{name: "flaky", rec: rec}
	sup, err := New([]Component{flaky})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sup.Start(ctx))
	flaky.startErr = boom

	err = sup.RestartComponent(ctx, "flaky")
	assert.Equal(t, boom, err)

	state, _ := sup.State("flaky")
	assert.Equal(t, StateError, state)

	flaky.startErr = nil
	require.NoError(t, sup.RestartComponent(ctx, "flaky"))
	require.NoError(t, sup.Stop(ctx))
}

func TestSupervisorOnConfigChangedBroadcasts(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	first := &reloadingComponent{fakeComponent: fakeComponent{name: "first", rec: rec}, reloadErr: boom}
	plain := &fakeComponent{name: "plain", rec: rec}
	second := &reloadingComponent{fakeComponent: fakeComponent{name: "second", rec: rec}}

	sup, err := New([]Component{first, plain, second})
	require.NoError(t, err)

	err = sup.OnConfigChanged(context.Background())
	var componentErr *ComponentError
	require.ErrorAs(t, err, &componentErr)
	assert.Equal(t, "first", componentErr.Component)
	assert.Equal(t, "reload", componentErr.Op)

	assert.Equal(t, int32(1), first.reloads.Load())
	assert.Equal(t, int32(1), second.reloads.Load())
}

func TestSupervisorGetStatusCollectsStatsErrors(t *testing.T) {
	rec := &recorder{}
	good := &statsComponent{fakeComponent: fakeComponent{name: "good", rec: rec}, stats: map[string]int{"slots": 2}}
	bad := &statsComponent{fakeComponent: fakeComponent{name: "bad", rec: rec}, statsErr: errors.New("unavailable")}

	sup, err := New([]Component{good, bad})
	require.NoError(t, err)

	status := sup.GetStatus(context.Background())
	require.Len(t, status.Components, 2)
	assert.Equal(t, map[string]int{"slots": 2}, status.Components[0].Stats)
	assert.Nil(t, status.Components[1].Stats)
	assert.Equal(t, []string{"bad: unavailable"}, status.Errors)
}

func TestStateTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from State
		to   State
		ok   bool
	}{
		{StateStopped, StateStarting, true},
		{StateStarting, StateRunning, true},
		{StateStarting, StateError, true},
		{StateRunning, StateStopping, true},
		{StateStopping, StateStopped, true},
		{StateStopping, StateError, true},
		{StateError, StateStarting, true},
		{StateStopped, StateRunning, false},
		{StateRunning, StateStopped, false},
		{StateRunning, StateError, false},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}
