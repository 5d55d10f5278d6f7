package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/keyflect/keyflect/internal/clock"
	"github.com/keyflect/keyflect/internal/config"
	"github.com/keyflect/keyflect/internal/metrics"
	"github.com/keyflect/keyflect/internal/output"
	"github.com/keyflect/keyflect/internal/resolver"
	"github.com/keyflect/keyflect/internal/router"
	"github.com/keyflect/keyflect/internal/source"
	"github.com/keyflect/keyflect/internal/tray"
)

// deviceEvent tags a raw key event with the device it came from, so every
// device's events can be merged onto one channel and drained, together with
// the router's timer channel, by a single dispatch loop — the
// single-threaded cooperative event loop of §5, now shared across every
// attached device instead of just one.
type deviceEvent struct {
	deviceID string
	ev       resolver.RawEvent
}

func runDaemon(ctx context.Context, flags *rootFlags) error {
	logger := newLogger(flags.logLevel)
	logger.Info("keyflect starting", "version", version)

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolved, err := config.Build(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var recorder metrics.Recorder = metrics.Noop{}
	if flags.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		prom := metrics.NewPrometheus(reg)
		recorder = prom
		srv := metrics.Serve(flags.metricsAddr, reg)
		defer srv.Shutdown(context.Background())
		logger.Info("serving metrics", "addr", flags.metricsAddr)
	}

	var sink output.Sink
	if resolved.NoEmit {
		sink = output.NoEmitSink{}
		logger.Info("no_emit enabled, running as a dry run")
	} else {
		vkb, err := output.NewVirtualKeyboard(logger)
		if err != nil {
			return fmt.Errorf("creating virtual keyboard (need /dev/uinput access): %w", err)
		}
		defer vkb.Close()
		sink = vkb
	}

	clk := clock.NewSystemClock()
	rtr := router.New(resolved, clk, sink, recorder, logger)

	devManager := source.NewManager(logger)
	defer devManager.Close()

	devices, err := devManager.Discover()
	if err != nil {
		return fmt.Errorf("discovering keyboards: %w", err)
	}
	if len(devices) == 0 {
		return fmt.Errorf("no keyboards found")
	}

	var grabbed []*source.Device
	for _, d := range devices {
		if _, ok := resolved.Profiles[d.Name()]; !ok {
			logger.Debug("no profile configured for device, leaving ungrabbed", "name", d.Name())
			continue
		}
		if err := devManager.Grab(d); err != nil {
			logger.Error("failed to grab device", "name", d.Name(), "error", err)
			continue
		}
		grabbed = append(grabbed, d)
	}
	if len(grabbed) == 0 {
		return fmt.Errorf("no configured keyboard could be grabbed")
	}
	defer func() {
		for _, d := range grabbed {
			if err := devManager.Release(d); err != nil {
				logger.Warn("failed to release device", "name", d.Name(), "error", err)
			}
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	merged := make(chan deviceEvent, 256)
	for _, d := range grabbed {
		go pumpDevice(ctx, d, clk, merged, logger)
	}
	go dispatch(ctx, rtr, merged, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if flags.noTray {
		logger.Info("running without system tray, press Ctrl+C to quit")
		<-sigChan
	} else {
		profileNames := make([]string, 0, len(grabbed))
		for _, d := range grabbed {
			profileNames = append(profileNames, d.Name())
		}

		trayIcon := tray.New(tray.Config{
			NoEmit:       resolved.NoEmit,
			ProfileNames: profileNames,
			OnToggleNoEmit: func(noEmit bool) {
				rtr.SetNoEmit(noEmit)
			},
			OnQuit: func() {
				logger.Info("shutting down...")
				cancel()
			},
			Logger: logger,
		})

		go func() {
			<-sigChan
			logger.Info("shutting down...")
			trayIcon.Quit()
		}()

		trayIcon.Run()
	}

	cancel()
	err = rtr.Shutdown()
	logger.Info("keyflect stopped")
	return err
}

// pumpDevice reads d's raw events and tags each one with d's name before
// forwarding it onto the shared merged channel.
func pumpDevice(ctx context.Context, d *source.Device, clk clock.Clock, merged chan<- deviceEvent, logger *slog.Logger) {
	raw := make(chan resolver.RawEvent, 32)
	go func() {
		if err := source.Read(ctx, d, clk, raw); err != nil && ctx.Err() == nil {
			logger.Error("device read loop stopped", "device", d.Name(), "error", err)
		}
		close(raw)
	}()

	for {
		select {
		case ev, ok := <-raw:
			if !ok {
				return
			}
			select {
			case merged <- deviceEvent{deviceID: d.Name(), ev: ev}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// dispatch is the only goroutine that calls the Router's HandleEvent and
// HandleTimer while the daemon runs: every device's events and every
// device's fired timers pass through here, one at a time, matching the
// single-threaded-per-resolver discipline the router and resolver packages
// assume.
func dispatch(ctx context.Context, rtr *router.Router, merged <-chan deviceEvent, logger *slog.Logger) {
	for {
		select {
		case de := <-merged:
			if err := rtr.HandleEvent(de.deviceID, de.ev); err != nil {
				logger.Error("error handling event", "device", de.deviceID, "error", err)
			}
		case t := <-rtr.Timers():
			if err := rtr.HandleTimer(t); err != nil {
				logger.Error("error handling timer", "device", t.DeviceID, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
