// Package output is the Output Adapter of §4.4: it consumes resolved
// events and writes them to the virtual keyboard, preserving order.
package output

import (
	"fmt"
	"log/slog"

	"github.com/bendahl/uinput"

	"github.com/keyflect/keyflect/internal/resolver"
)

// Sink is what a Router writes resolved events to. The NoEmit sink and the
// virtual keyboard are interchangeable (§4.2.6): the resolver's decision
// stream is identical either way.
type Sink interface {
	Write(events []resolver.ResolvedEvent) error
	Close() error
}

// VirtualKeyboard is the uinput-backed Sink used outside no_emit mode.
type VirtualKeyboard struct {
	keyboard uinput.Keyboard
	logger   *slog.Logger
}

// NewVirtualKeyboard creates the one virtual keyboard device the daemon
// advertises. bendahl/uinput registers a standard full keyboard key set
// rather than a caller-chosen subset, which is a superset of whatever
// union of KeyCodes appears in the loaded config — satisfying §4.4 without
// needing per-binding key registration.
func NewVirtualKeyboard(logger *slog.Logger) (*VirtualKeyboard, error) {
	kb, err := uinput.CreateKeyboard("/dev/uinput", []byte("keyflect-virtual"))
	if err != nil {
		return nil, fmt.Errorf("creating virtual keyboard: %w", err)
	}
	return &VirtualKeyboard{keyboard: kb, logger: logger}, nil
}

// Write emits events in order, one uinput call per event. KeyUp/KeyDown in
// bendahl/uinput each trigger their own SYN_REPORT, so output ordering
// within a batch is preserved without a separate manual flush step.
func (vk *VirtualKeyboard) Write(events []resolver.ResolvedEvent) error {
	for _, ev := range events {
		code := int(ev.Key)
		var err error
		switch ev.Value {
		case resolver.Down:
			err = vk.keyboard.KeyDown(code)
		case resolver.Up:
			err = vk.keyboard.KeyUp(code)
		case resolver.Repeat:
			// The kernel resumes auto-repeat from a held KeyDown; sending
			// another KeyDown for an already-down key is how uinput
			// signals a repeat, matching a real keyboard's behavior.
			err = vk.keyboard.KeyDown(code)
		}
		if err != nil {
			return fmt.Errorf("writing %v %v: %w", ev.Key, ev.Value, err)
		}
	}
	return nil
}

// Close releases the virtual keyboard device.
func (vk *VirtualKeyboard) Close() error {
	return vk.keyboard.Close()
}

// NoEmitSink discards every event. Used when config.no_emit is true: the
// resolver still computes the full decision stream, but nothing reaches a
// virtual device (§4.2.6) — for dry runs and for tests that only care
// about what the resolver decided, not about uinput.
type NoEmitSink struct{}

func (NoEmitSink) Write(events []resolver.ResolvedEvent) error { return nil }
func (NoEmitSink) Close() error                                { return nil }
