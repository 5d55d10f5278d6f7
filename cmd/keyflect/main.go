// Command keyflect is a dual-function and home-row-mod key remapper for
// Linux: it grabs configured keyboards via evdev, resolves each physical
// key event through a per-device state machine, and replays the result on
// a virtual uinput keyboard.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "keyflect:", err)
		os.Exit(1)
	}
}
