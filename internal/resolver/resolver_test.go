package resolver

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyflect/keyflect/internal/clock"
	"github.com/keyflect/keyflect/internal/keycodes"
)

const defaultTerm = 150 * time.Millisecond

// firingClock records the notify callbacks of a SimulatedClock; drain feeds
// them into the resolver's OnTimeout, in the order they fired.
type firingClock struct {
	*clock.SimulatedClock
	fired []clock.TimerID
}

func newFiringClock(start time.Time) *firingClock {
	return &firingClock{SimulatedClock: clock.NewSimulatedClock(start)}
}

func (f *firingClock) notify(id clock.TimerID) {
	f.fired = append(f.fired, id)
}

func (f *firingClock) drain(r *Resolver) []ResolvedEvent {
	var events []ResolvedEvent
	pending := f.fired
	f.fired = nil
	for _, id := range pending {
		events = append(events, r.OnTimeout(id)...)
	}
	return events
}

func homeRowProfile() *Profile {
	hrmTerm := defaultTerm
	return &Profile{
		DeviceName: "test",
		Bindings: map[keycodes.Code]Binding{
			keycodes.A: {Kind: BindingDualFunction, Tap: keycodes.A, Hold: keycodes.LeftCtrl, HRM: false, HRMTerm: &hrmTerm},
			keycodes.S: {Kind: BindingDualFunction, Tap: keycodes.S, Hold: keycodes.LeftShift, HRM: true, HRMTerm: &hrmTerm},
			keycodes.D: {Kind: BindingDualFunction, Tap: keycodes.D, Hold: keycodes.LeftMeta, HRM: true, HRMTerm: &hrmTerm},
			keycodes.Space: {Kind: BindingLayerHold, Layer: "nav"},
		},
		Layers: map[string]*Layer{
			"nav": {
				Name:    "nav",
				Trigger: keycodes.Space,
				Mapping: map[keycodes.Code]keycodes.Code{
					keycodes.J: keycodes.Left,
					keycodes.K: keycodes.Down,
					keycodes.L: keycodes.Right,
				},
			},
		},
		DefaultHRMTerm: defaultTerm,
	}
}

func newTestResolver(t0 time.Time) (*Resolver, *firingClock) {
	fc := newFiringClock(t0)
	r := New(homeRowProfile(), fc, fc.notify)
	return r, fc
}

func at(base time.Time, ms int) time.Time {
	return base.Add(time.Duration(ms) * time.Millisecond)
}

// Scenario 1: pure tap — Down(A)@0, Up(A)@40, well under hrm_term.
func TestPureTap(t *testing.T) {
	r, fc := newTestResolver(time.Unix(0, 0))
	t0 := fc.Now()

	events, err := r.OnEvent(RawEvent{Key: keycodes.A, Value: Down, At: at(t0, 0)})
	require.NoError(t, err)
	assert.Empty(t, events)

	fc.Advance(40 * time.Millisecond)
	events, err = r.OnEvent(RawEvent{Key: keycodes.A, Value: Up, At: fc.Now()})
	require.NoError(t, err)
	assert.Equal(t, []ResolvedEvent{
		{Key: keycodes.A, Value: Down},
		{Key: keycodes.A, Value: Up},
	}, events)
	assert.Empty(t, fc.drain(r))
}

// Scenario 2: pure hold via timeout — Down(A)@0, nothing else until hrm_term
// elapses, then physical Up(A) arrives afterward.
func TestPureHoldByTimeout(t *testing.T) {
	r, fc := newTestResolver(time.Unix(0, 0))
	_, err := r.OnEvent(RawEvent{Key: keycodes.A, Value: Down, At: fc.Now()})
	require.NoError(t, err)

	fc.Advance(defaultTerm)
	events := fc.drain(r)
	assert.Equal(t, []ResolvedEvent{{Key: keycodes.LeftCtrl, Value: Down}}, events)

	fc.Advance(20 * time.Millisecond)
	events, err = r.OnEvent(RawEvent{Key: keycodes.A, Value: Up, At: fc.Now()})
	require.NoError(t, err)
	assert.Equal(t, []ResolvedEvent{{Key: keycodes.LeftCtrl, Value: Up}}, events)
}

// Scenario 3: non-HRM overlap commits immediately on the other key's
// release, with no wait for hrm_term — A has HRM:false.
func TestOverlapCommitsNonHRMKeyImmediately(t *testing.T) {
	r, fc := newTestResolver(time.Unix(0, 0))
	t0 := fc.Now()

	_, err := r.OnEvent(RawEvent{Key: keycodes.A, Value: Down, At: t0})
	require.NoError(t, err)

	fc.Advance(10 * time.Millisecond)
	events, err := r.OnEvent(RawEvent{Key: keycodes.K, Value: Down, At: fc.Now()})
	require.NoError(t, err)
	assert.Empty(t, events, "queued while A is pending")

	fc.Advance(50 * time.Millisecond) // total 60ms, well under hrm_term, but A is not HRM
	events, err = r.OnEvent(RawEvent{Key: keycodes.K, Value: Up, At: fc.Now()})
	require.NoError(t, err)
	assert.Equal(t, []ResolvedEvent{
		{Key: keycodes.LeftCtrl, Value: Down},
		{Key: keycodes.K, Value: Down},
		{Key: keycodes.K, Value: Up},
	}, events)

	fc.Advance(20 * time.Millisecond)
	events, err = r.OnEvent(RawEvent{Key: keycodes.A, Value: Up, At: fc.Now()})
	require.NoError(t, err)
	assert.Equal(t, []ResolvedEvent{{Key: keycodes.LeftCtrl, Value: Up}}, events)
	assert.Empty(t, fc.drain(r))
}

// Scenario 4: HRM fast roll — S is HRM:true, the other key releases well
// before hrm_term elapses, so S resolves as Tap instead of Hold.
func TestHRMFastRollResolvesTap(t *testing.T) {
	r, fc := newTestResolver(time.Unix(0, 0))
	t0 := fc.Now()

	_, err := r.OnEvent(RawEvent{Key: keycodes.S, Value: Down, At: t0})
	require.NoError(t, err)

	fc.Advance(10 * time.Millisecond)
	_, err = r.OnEvent(RawEvent{Key: keycodes.K, Value: Down, At: fc.Now()})
	require.NoError(t, err)

	fc.Advance(60 * time.Millisecond) // total 70ms < 150ms hrm_term
	events, err := r.OnEvent(RawEvent{Key: keycodes.K, Value: Up, At: fc.Now()})
	require.NoError(t, err)
	assert.Equal(t, []ResolvedEvent{
		{Key: keycodes.S, Value: Down},
		{Key: keycodes.S, Value: Up},
		{Key: keycodes.K, Value: Down},
		{Key: keycodes.K, Value: Up},
	}, events)

	events, err = r.OnEvent(RawEvent{Key: keycodes.S, Value: Up, At: fc.Now()})
	require.NoError(t, err)
	assert.Empty(t, events, "S already fully flushed as Tap, its physical release is a no-op")
}

// Scenario 5: HRM true hold — D is HRM:true, the other key is still down
// when hrm_term elapses, so D commits Hold via timeout, and the other key's
// Down is flushed immediately (it is still physically held).
func TestHRMTrueHoldViaTimeout(t *testing.T) {
	r, fc := newTestResolver(time.Unix(0, 0))
	t0 := fc.Now()

	_, err := r.OnEvent(RawEvent{Key: keycodes.D, Value: Down, At: t0})
	require.NoError(t, err)

	fc.Advance(10 * time.Millisecond)
	_, err = r.OnEvent(RawEvent{Key: keycodes.J, Value: Down, At: fc.Now()})
	require.NoError(t, err)

	fc.Advance(defaultTerm - 10*time.Millisecond)
	events := fc.drain(r)
	assert.Equal(t, []ResolvedEvent{
		{Key: keycodes.LeftMeta, Value: Down},
		{Key: keycodes.J, Value: Down},
	}, events)

	fc.Advance(30 * time.Millisecond)
	events, err = r.OnEvent(RawEvent{Key: keycodes.J, Value: Up, At: fc.Now()})
	require.NoError(t, err)
	assert.Equal(t, []ResolvedEvent{{Key: keycodes.J, Value: Up}}, events)

	events, err = r.OnEvent(RawEvent{Key: keycodes.D, Value: Up, At: fc.Now()})
	require.NoError(t, err)
	assert.Equal(t, []ResolvedEvent{{Key: keycodes.LeftMeta, Value: Up}}, events)
}

// Scenario 6: a layer-held key remaps another key with no timing involved.
func TestLayerRemap(t *testing.T) {
	r, fc := newTestResolver(time.Unix(0, 0))

	events, err := r.OnEvent(RawEvent{Key: keycodes.Space, Value: Down, At: fc.Now()})
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = r.OnEvent(RawEvent{Key: keycodes.J, Value: Down, At: fc.Now()})
	require.NoError(t, err)
	assert.Equal(t, []ResolvedEvent{{Key: keycodes.Left, Value: Down}}, events)

	events, err = r.OnEvent(RawEvent{Key: keycodes.J, Value: Up, At: fc.Now()})
	require.NoError(t, err)
	assert.Equal(t, []ResolvedEvent{{Key: keycodes.Left, Value: Up}}, events)

	events, err = r.OnEvent(RawEvent{Key: keycodes.Space, Value: Up, At: fc.Now()})
	require.NoError(t, err)
	assert.Empty(t, events, "layer triggers never emit on their own release")
}

func TestLayerTriggerNeverRemappedByItsOwnLayer(t *testing.T) {
	profile := homeRowProfile()
	profile.Layers["nav"].Mapping[keycodes.Space] = keycodes.Enter
	r := New(profile, clock.NewSimulatedClock(time.Unix(0, 0)), func(clock.TimerID) {})

	events, err := r.OnEvent(RawEvent{Key: keycodes.Space, Value: Down})
	require.NoError(t, err)
	assert.Empty(t, events, "space activates its own layer, not a remap onto itself")
}

func TestPlainPassthroughForUnconfiguredKey(t *testing.T) {
	r, fc := newTestResolver(time.Unix(0, 0))

	events, err := r.OnEvent(RawEvent{Key: keycodes.Q, Value: Down, At: fc.Now()})
	require.NoError(t, err)
	assert.Equal(t, []ResolvedEvent{{Key: keycodes.Q, Value: Down}}, events)

	events, err = r.OnEvent(RawEvent{Key: keycodes.Q, Value: Repeat})
	require.NoError(t, err)
	assert.Equal(t, []ResolvedEvent{{Key: keycodes.Q, Value: Repeat}}, events)

	events, err = r.OnEvent(RawEvent{Key: keycodes.Q, Value: Up, At: fc.Now()})
	require.NoError(t, err)
	assert.Equal(t, []ResolvedEvent{{Key: keycodes.Q, Value: Up}}, events)
}

func TestRepeatDroppedWhilePending(t *testing.T) {
	r, fc := newTestResolver(time.Unix(0, 0))
	_, err := r.OnEvent(RawEvent{Key: keycodes.A, Value: Down, At: fc.Now()})
	require.NoError(t, err)

	events, err := r.OnEvent(RawEvent{Key: keycodes.A, Value: Repeat})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRepeatDroppedForDecidedHold(t *testing.T) {
	r, fc := newTestResolver(time.Unix(0, 0))
	_, err := r.OnEvent(RawEvent{Key: keycodes.A, Value: Down, At: fc.Now()})
	require.NoError(t, err)
	fc.Advance(defaultTerm)
	events := fc.drain(r)
	require.Equal(t, []ResolvedEvent{{Key: keycodes.LeftCtrl, Value: Down}}, events)

	events, err = r.OnEvent(RawEvent{Key: keycodes.A, Value: Repeat})
	require.NoError(t, err)
	assert.Empty(t, events, "a held dual-function modifier never auto-repeats")
}

func TestUpForUntrackedKeyIsUnexpectedState(t *testing.T) {
	r, _ := newTestResolver(time.Unix(0, 0))
	_, err := r.OnEvent(RawEvent{Key: keycodes.Z, Value: Up})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedState))
}

func TestDoubleDownIsUnexpectedState(t *testing.T) {
	r, fc := newTestResolver(time.Unix(0, 0))
	_, err := r.OnEvent(RawEvent{Key: keycodes.Q, Value: Down, At: fc.Now()})
	require.NoError(t, err)
	_, err = r.OnEvent(RawEvent{Key: keycodes.Q, Value: Down, At: fc.Now()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedState))
}

// Two simultaneously-pending HRM keys commit independently in FIFO order
// (Open Question 1's decision) — releasing the later-pressed key first
// should not disturb the earlier one's own gate evaluation.
func TestTwoPendingKeysResolveIndependently(t *testing.T) {
	r, fc := newTestResolver(time.Unix(0, 0))
	t0 := fc.Now()

	_, err := r.OnEvent(RawEvent{Key: keycodes.S, Value: Down, At: t0})
	require.NoError(t, err)
	fc.Advance(5 * time.Millisecond)
	_, err = r.OnEvent(RawEvent{Key: keycodes.D, Value: Down, At: fc.Now()})
	require.NoError(t, err)

	fc.Advance(10 * time.Millisecond)
	events, err := r.OnEvent(RawEvent{Key: keycodes.J, Value: Down, At: fc.Now()})
	require.NoError(t, err)
	assert.Empty(t, events)

	fc.Advance(20 * time.Millisecond) // S at 35ms, D at 30ms since their own down — both well under hrm_term
	events, err = r.OnEvent(RawEvent{Key: keycodes.J, Value: Up, At: fc.Now()})
	require.NoError(t, err)

	// Both S and D resolve as Tap (fast roll), in FIFO pending order (S
	// first), and J's own press/release is flushed once, attached to
	// whichever pending key actually triggered on its release — the first
	// one encountered in FIFO order.
	assert.Equal(t, []ResolvedEvent{
		{Key: keycodes.S, Value: Down},
		{Key: keycodes.S, Value: Up},
		{Key: keycodes.J, Value: Down},
		{Key: keycodes.J, Value: Up},
		{Key: keycodes.D, Value: Down},
		{Key: keycodes.D, Value: Up},
	}, events)
}

func TestResetCommitsPendingAndReleasesHeld(t *testing.T) {
	r, fc := newTestResolver(time.Unix(0, 0))
	_, err := r.OnEvent(RawEvent{Key: keycodes.A, Value: Down, At: fc.Now()})
	require.NoError(t, err)
	fc.Advance(defaultTerm)
	heldEvents := fc.drain(r)
	require.Equal(t, []ResolvedEvent{{Key: keycodes.LeftCtrl, Value: Down}}, heldEvents)

	_, err = r.OnEvent(RawEvent{Key: keycodes.S, Value: Down, At: fc.Now()})
	require.NoError(t, err)

	events := r.Reset()
	assert.Contains(t, events, ResolvedEvent{Key: keycodes.S, Value: Down})
	assert.Contains(t, events, ResolvedEvent{Key: keycodes.S, Value: Up})
	assert.Contains(t, events, ResolvedEvent{Key: keycodes.LeftCtrl, Value: Up})

	_, err = r.OnEvent(RawEvent{Key: keycodes.A, Value: Down, At: fc.Now()})
	assert.NoError(t, err, "resolver state was fully cleared")
}
