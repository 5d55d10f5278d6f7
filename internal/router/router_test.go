package router

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyflect/keyflect/internal/clock"
	"github.com/keyflect/keyflect/internal/config"
	"github.com/keyflect/keyflect/internal/keycodes"
	"github.com/keyflect/keyflect/internal/resolver"
)

type fakeSink struct {
	batches [][]resolver.ResolvedEvent
}

func (f *fakeSink) Write(events []resolver.ResolvedEvent) error {
	f.batches = append(f.batches, events)
	return nil
}

func (f *fakeSink) Close() error { return nil }

func testResolved() *config.Resolved {
	return &config.Resolved{
		DefaultHRMTerm: 150 * time.Millisecond,
		Profiles: map[string]*resolver.Profile{
			"test-keyboard": {
				DeviceName: "test-keyboard",
				Bindings: map[keycodes.Code]resolver.Binding{
					keycodes.A: {Kind: resolver.BindingDualFunction, Tap: keycodes.A, Hold: keycodes.LeftCtrl},
				},
				Layers:         map[string]*resolver.Layer{},
				DefaultHRMTerm: 150 * time.Millisecond,
			},
		},
	}
}

func TestRouterDropsEventsForUnknownDevice(t *testing.T) {
	sink := &fakeSink{}
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	r := New(testResolved(), clk, sink, nil, slog.Default())

	err := r.HandleEvent("nonexistent", resolver.RawEvent{Key: keycodes.A, Value: resolver.Down, At: clk.Now()})
	require.NoError(t, err)
	assert.Empty(t, sink.batches)
}

func TestRouterRoutesEventToMatchingProfile(t *testing.T) {
	sink := &fakeSink{}
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	r := New(testResolved(), clk, sink, nil, slog.Default())

	err := r.HandleEvent("test-keyboard", resolver.RawEvent{Key: keycodes.A, Value: resolver.Down, At: clk.Now()})
	require.NoError(t, err)
	assert.Empty(t, sink.batches, "dual-function Down produces no output yet")

	clk.Advance(10 * time.Millisecond)
	err = r.HandleEvent("test-keyboard", resolver.RawEvent{Key: keycodes.A, Value: resolver.Up, At: clk.Now()})
	require.NoError(t, err)
	require.Len(t, sink.batches, 1)
	assert.Equal(t, []resolver.ResolvedEvent{
		{Key: keycodes.A, Value: resolver.Down},
		{Key: keycodes.A, Value: resolver.Up},
	}, sink.batches[0])
}

func TestRouterHandleTimerCommitsHold(t *testing.T) {
	sink := &fakeSink{}
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	r := New(testResolved(), clk, sink, nil, slog.Default())

	err := r.HandleEvent("test-keyboard", resolver.RawEvent{Key: keycodes.A, Value: resolver.Down, At: clk.Now()})
	require.NoError(t, err)

	clk.Advance(150 * time.Millisecond)
	var fired []TimerFired
	select {
	case t := <-r.Timers():
		fired = append(fired, t)
	default:
	}
	require.Len(t, fired, 1)
	require.Equal(t, "test-keyboard", fired[0].DeviceID)

	err = r.HandleTimer(fired[0])
	require.NoError(t, err)
	require.Len(t, sink.batches, 1)
	assert.Equal(t, []resolver.ResolvedEvent{{Key: keycodes.LeftCtrl, Value: resolver.Down}}, sink.batches[0])
}

func TestRouterShutdownCommitsPendingKeyAsTap(t *testing.T) {
	sink := &fakeSink{}
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	r := New(testResolved(), clk, sink, nil, slog.Default())

	err := r.HandleEvent("test-keyboard", resolver.RawEvent{Key: keycodes.A, Value: resolver.Down, At: clk.Now()})
	require.NoError(t, err)

	require.NoError(t, r.Shutdown())
	require.NotEmpty(t, sink.batches)
	assert.Contains(t, sink.batches[len(sink.batches)-1], resolver.ResolvedEvent{Key: keycodes.A, Value: resolver.Down})
}
