// Package resolver implements the key-event state machine described as
// the core of the system: it resolves ambiguous dual-function and
// home-row-mod keypresses into concrete tap/hold decisions, tracks layer
// activation, and emits a sequence of resolved output events for a single
// physical device.
package resolver

import (
	"errors"
	"fmt"
	"time"

	"github.com/keyflect/keyflect/internal/clock"
	"github.com/keyflect/keyflect/internal/keycodes"
)

// KeyValue is the kind of a key event.
type KeyValue int

const (
	Down KeyValue = iota
	Up
	Repeat
)

func (v KeyValue) String() string {
	switch v {
	case Down:
		return "down"
	case Up:
		return "up"
	case Repeat:
		return "repeat"
	default:
		return "invalid"
	}
}

// RawEvent is a single physical key event from the Event Source Adapter.
type RawEvent struct {
	Key   keycodes.Code
	Value KeyValue
	At    time.Time
}

// ResolvedEvent is an output event produced by the resolver, in the order
// it should be written to the virtual keyboard.
type ResolvedEvent struct {
	Key   keycodes.Code
	Value KeyValue
}

// BindingKind distinguishes the three binding variants of §3.
type BindingKind int

const (
	BindingPlain BindingKind = iota
	BindingDualFunction
	BindingLayerHold
)

// Binding describes what a physical key does. The zero value of a Binding
// not present in a Profile's map is treated as an absent binding, i.e.
// Plain(key) — pass through unchanged.
type Binding struct {
	Kind BindingKind

	// Tap is used by BindingPlain (the key to emit) and by
	// BindingDualFunction (the tap-resolved key).
	Tap keycodes.Code

	// Hold, HRM and HRMTerm are meaningful only for BindingDualFunction.
	Hold    keycodes.Code
	HRM     bool
	HRMTerm *time.Duration // nil means "use the profile/global default"

	// Layer is the layer name, meaningful only for BindingLayerHold.
	Layer string
}

// Layer is a named remap table plus the trigger key that activates it.
type Layer struct {
	Name    string
	Trigger keycodes.Code
	Mapping map[keycodes.Code]keycodes.Code
}

// Profile is a single keyboard's resolved key-behavior table.
type Profile struct {
	DeviceName     string
	Bindings       map[keycodes.Code]Binding
	Layers         map[string]*Layer
	DefaultHRMTerm time.Duration
}

// ErrUnexpectedState is returned when an incoming event violates the
// resolver's state invariants (§7 UnexpectedState) — for example an Up or
// Repeat for a physical key the resolver never saw go Down. The caller is
// expected to log the state and reset the resolver for that device (§5).
var ErrUnexpectedState = errors.New("resolver: unexpected state")

func unexpectedStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnexpectedState, fmt.Sprintf(format, args...))
}

type decision int

const (
	decisionTap decision = iota
	decisionHold
)

type subsequentKind int

const (
	subsequentPlain subsequentKind = iota
	subsequentNestedDF
)

// subsequentEntry records a key J that went Down while some earlier
// dual-function key K was Pending (§4.2.4 case 2). The same entry pointer
// is shared across every currently-pending key's subsequent list so that
// whichever pending key resolves the overlap first flushes it exactly
// once, and a later pending key observing an already-flushed entry is a
// no-op.
type subsequentEntry struct {
	key          keycodes.Code
	kind         subsequentKind
	resolvedCode keycodes.Code // meaningful for subsequentPlain only
	flushed      bool
}

// pendingKey is the resolver-internal undecided state of §3.
type pendingKey struct {
	key        keycodes.Code
	downAt     time.Time
	binding    Binding
	timerID    clock.TimerID
	subsequent []*subsequentEntry
}

// heldEntry records, for a physical key currently mapped to output, which
// output code its eventual Up must match, and whether Repeat events for it
// should be forwarded (true only for an ordinary Plain binding or a layer
// remap — both emitted "as Plain" per §4.2.1 — never for a dual-function
// Hold, per the Open Question decision in DESIGN.md).
type heldEntry struct {
	code  keycodes.Code
	plain bool
}
