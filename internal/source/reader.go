package source

import (
	"context"
	"fmt"
	"os"

	evdev "github.com/holoplot/go-evdev"

	"github.com/keyflect/keyflect/internal/clock"
	"github.com/keyflect/keyflect/internal/keycodes"
	"github.com/keyflect/keyflect/internal/resolver"
)

// Read runs d's blocking read loop until ctx is cancelled or the device
// errors, sending one resolver.RawEvent per EV_KEY event onto out. Non-key
// events (sync, misc, LED) are dropped here, matching §4.3: the resolver
// only ever sees key events. The event timestamp is taken from clk rather
// than the kernel's own timestamp, so a RawEvent's instant is always
// comparable against the same Clock the resolver schedules timeouts
// against (§4.5).
func Read(ctx context.Context, d *Device, clk clock.Clock, out chan<- resolver.RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ev, err := d.dev.ReadOne()
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("device disconnected: %s", d.path)
			}
			return fmt.Errorf("reading event from %s: %w", d.path, err)
		}

		if ev.Type != evdev.EV_KEY {
			continue
		}

		value, ok := keyValue(ev.Value)
		if !ok {
			continue
		}

		raw := resolver.RawEvent{
			Key:   keycodes.Code(ev.Code),
			Value: value,
			At:    clk.Now(),
		}

		select {
		case out <- raw:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func keyValue(v int32) (resolver.KeyValue, bool) {
	switch v {
	case 0:
		return resolver.Up, true
	case 1:
		return resolver.Down, true
	case 2:
		return resolver.Repeat, true
	default:
		return 0, false
	}
}
