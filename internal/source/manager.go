// Package source is the Event Source Adapter of §4.3: it enumerates,
// exclusively grabs, and reads physical keyboards, producing a stream of
// resolver.RawEvent for the Router.
package source

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	evdev "github.com/holoplot/go-evdev"
)

// Device is one opened physical keyboard.
type Device struct {
	path string
	dev  *evdev.InputDevice
	name string
}

func (d *Device) Path() string { return d.path }
func (d *Device) Name() string { return d.name }

// Manager discovers and owns the lifetime of physical keyboard devices.
type Manager struct {
	mu      sync.Mutex
	devices map[string]*Device
	logger  *slog.Logger
}

// NewManager constructs a Manager that logs discovery and grab/release
// events through logger.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		devices: make(map[string]*Device),
		logger:  logger,
	}
}

// Discover globs /dev/input/event* and returns every device that looks
// like a keyboard. A device that cannot be opened is logged at debug level
// and skipped — per §7 DeviceUnavailable, one bad device must not prevent
// others from being used.
func (m *Manager) Discover() ([]*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matches, err := filepath.Glob("/dev/input/event*")
	if err != nil {
		return nil, fmt.Errorf("globbing input devices: %w", err)
	}

	var found []*Device
	for _, path := range matches {
		dev, err := evdev.Open(path)
		if err != nil {
			m.logger.Debug("cannot open device", "path", path, "error", err)
			continue
		}

		name, err := dev.Name()
		if err != nil {
			dev.Close()
			continue
		}

		if !isKeyboard(dev) {
			dev.Close()
			continue
		}
		if strings.Contains(strings.ToLower(name), "keyflect") {
			// Skip the virtual device we create ourselves.
			dev.Close()
			continue
		}

		d := &Device{path: path, dev: dev, name: name}
		m.devices[path] = d
		found = append(found, d)
		m.logger.Info("found keyboard", "name", name, "path", path)
	}

	return found, nil
}

func isKeyboard(dev *evdev.InputDevice) bool {
	for _, t := range dev.CapableTypes() {
		if t != evdev.EV_KEY {
			continue
		}
		for _, code := range dev.CapableEvents(evdev.EV_KEY) {
			if code >= 30 && code <= 52 { // KEY_A..KEY_DOT, a reasonable letter-key probe
				return true
			}
		}
	}
	return false
}

// Grab takes exclusive control of d so its raw events stop reaching the
// rest of the system (§4.3).
func (m *Manager) Grab(d *Device) error {
	if err := d.dev.Grab(); err != nil {
		return fmt.Errorf("grabbing device %s: %w", d.path, err)
	}
	m.logger.Info("grabbed device", "name", d.name)
	return nil
}

// Release ungrabs d, returning its events to the rest of the system.
func (m *Manager) Release(d *Device) error {
	if err := d.dev.Ungrab(); err != nil {
		return fmt.Errorf("releasing device %s: %w", d.path, err)
	}
	m.logger.Info("released device", "name", d.name)
	return nil
}

// Close closes every discovered device.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		d.dev.Close()
	}
	m.devices = make(map[string]*Device)
}
