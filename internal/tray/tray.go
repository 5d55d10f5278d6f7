// Package tray provides system tray integration using fyne.io/systray: a
// no_emit (dry-run) toggle, the list of profiles currently attached to a
// keyboard, and Quit. None of this feeds back into the resolver's
// decisions — it is read-only/administrative chrome around the daemon.
package tray

import (
	"log/slog"
	"time"

	"fyne.io/systray"
)

// Tray represents the system tray icon and menu.
type Tray struct {
	logger *slog.Logger

	// Callbacks
	onToggleNoEmit func(noEmit bool)
	onQuit         func()

	// State
	noEmit       bool
	profileNames []string

	// Menu items for updates
	noEmitItem *systray.MenuItem
}

// Config holds tray configuration.
type Config struct {
	NoEmit         bool
	ProfileNames   []string
	OnToggleNoEmit func(noEmit bool)
	OnQuit         func()
	Logger         *slog.Logger
}

// New creates a new system tray icon.
func New(cfg Config) *Tray {
	return &Tray{
		noEmit:         cfg.NoEmit,
		profileNames:   cfg.ProfileNames,
		onToggleNoEmit: cfg.OnToggleNoEmit,
		onQuit:         cfg.OnQuit,
		logger:         cfg.Logger,
	}
}

// Run starts the system tray. This blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// onReady is called when systray is ready. keyflect ships no icon asset,
// so the tray identifies itself by title and tooltip alone.
func (t *Tray) onReady() {
	systray.SetTitle("Keyflect")
	t.updateTooltip()

	t.noEmitItem = systray.AddMenuItem(t.noEmitLabel(), "Toggle dry-run (no_emit) mode")

	systray.AddSeparator()

	profilesHeader := systray.AddMenuItem("Profiles", "Keyboards with an active profile")
	profilesHeader.Disable()
	for _, name := range t.profileNames {
		item := systray.AddMenuItem("  "+name, name)
		item.Disable()
	}

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Exit keyflect")

	go t.handleClicks(quitItem)
}

// handleClicks processes menu item clicks.
func (t *Tray) handleClicks(quitItem *systray.MenuItem) {
	for {
		select {
		case <-t.noEmitItem.ClickedCh:
			t.toggleNoEmit()

		case <-quitItem.ClickedCh:
			if t.onQuit != nil {
				t.onQuit()
			}
			systray.Quit()
			return

		default:
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// toggleNoEmit flips the dry-run state and notifies the daemon.
func (t *Tray) toggleNoEmit() {
	t.noEmit = !t.noEmit
	t.noEmitItem.SetTitle(t.noEmitLabel())
	t.updateTooltip()
	t.logger.Info("no_emit toggled", "no_emit", t.noEmit)

	if t.onToggleNoEmit != nil {
		t.onToggleNoEmit(t.noEmit)
	}
}

func (t *Tray) noEmitLabel() string {
	if t.noEmit {
		return "✓ Dry run (no_emit)"
	}
	return "  Dry run (no_emit)"
}

// updateTooltip updates the tray tooltip.
func (t *Tray) updateTooltip() {
	status := "live"
	if t.noEmit {
		status = "dry run"
	}
	systray.SetTooltip("Keyflect: " + status)
}

// onExit is called when systray is exiting.
func (t *Tray) onExit() {
	t.logger.Info("tray exiting")
}

// Quit stops the system tray.
func (t *Tray) Quit() {
	systray.Quit()
}

// SetNoEmit sets the dry-run state from outside (e.g. a config reload),
// keeping the menu label and tooltip in sync.
func (t *Tray) SetNoEmit(noEmit bool) {
	t.noEmit = noEmit
	if t.noEmitItem != nil {
		t.noEmitItem.SetTitle(t.noEmitLabel())
	}
	t.updateTooltip()
}
