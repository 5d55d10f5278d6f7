// Package router implements §4.1: it owns the active configuration, maps
// each physical device to its Resolver, and forwards events and resolved
// output between the Event Source Adapter, the per-device resolvers, and
// the Output Adapter.
package router

import (
	"log/slog"
	"sync"
	"time"

	"github.com/keyflect/keyflect/internal/clock"
	"github.com/keyflect/keyflect/internal/config"
	"github.com/keyflect/keyflect/internal/metrics"
	"github.com/keyflect/keyflect/internal/output"
	"github.com/keyflect/keyflect/internal/resolver"
)

// TimerFired is a timeout event, tagged with the device it belongs to, as
// described in §4.1 ("The Router also forwards timer-fired events,
// identified by {device_id, timer_id}").
type TimerFired struct {
	DeviceID string
	TimerID  clock.TimerID
}

// Router dispatches events from many devices to one Resolver each and
// writes every Resolver's output to a single Sink.
type Router struct {
	mu        sync.Mutex
	resolved  *config.Resolved
	clk       clock.Clock
	sink      output.Sink
	logger    *slog.Logger
	recorder  metrics.Recorder
	resolvers map[string]*resolver.Resolver
	timers    chan TimerFired
}

// New constructs a Router. Its Timers channel is where devices' scheduled
// timeouts are posted; callers must pump it into HandleTimer on the
// same goroutine that calls HandleEvent for that device, preserving the
// single-threaded-per-device discipline of §5.
func New(resolved *config.Resolved, clk clock.Clock, sink output.Sink, recorder metrics.Recorder, logger *slog.Logger) *Router {
	return &Router{
		resolved:  resolved,
		clk:       clk,
		sink:      sink,
		logger:    logger,
		recorder:  recorder,
		resolvers: make(map[string]*resolver.Resolver),
		timers:    make(chan TimerFired, 64),
	}
}

// Timers returns the channel a device's scheduled timeouts are delivered
// on, tagged with the owning device ID.
func (r *Router) Timers() <-chan TimerFired {
	return r.timers
}

// SetNoEmit flips dry-run mode at runtime, e.g. from the tray's toggle. The
// resolver keeps computing the full decision stream either way; this only
// changes whether flush forwards it to the sink.
func (r *Router) SetNoEmit(noEmit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved.NoEmit = noEmit
}

// resolverFor returns the Resolver for deviceID, creating one lazily from
// the matching Profile on first use. Unknown devices (no matching Profile)
// return nil, false — the caller should defensively drop the event, since
// the Event Source Adapter should not have forwarded it in the first place
// (§4.1).
func (r *Router) resolverFor(deviceID string) (*resolver.Resolver, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res, ok := r.resolvers[deviceID]; ok {
		return res, true
	}

	profile, ok := r.resolved.Profiles[deviceID]
	if !ok {
		return nil, false
	}

	res := resolver.New(profile, r.clk, func(id clock.TimerID) {
		r.timers <- TimerFired{DeviceID: deviceID, TimerID: id}
	})
	r.wireMetrics(deviceID, res)
	r.resolvers[deviceID] = res
	return res, true
}

// wireMetrics hooks a freshly constructed Resolver's observability
// callbacks to the Router's Recorder. The resolver package stays free of
// any metrics dependency (DESIGN.md); it only reports plain decision data,
// and the Router is what turns that into Prometheus calls.
func (r *Router) wireMetrics(deviceID string, res *resolver.Resolver) {
	if r.recorder == nil {
		return
	}
	res.OnCommit = func(hold, hrmForced bool, pending time.Duration) {
		if hold {
			r.recorder.HoldCommitted(deviceID)
		} else {
			r.recorder.TapCommitted(deviceID)
		}
		if hrmForced {
			r.recorder.HRMForcedTap(deviceID)
		}
		r.recorder.PendingResolutionLatency(deviceID, pending.Seconds())
	}
	res.OnLayer = func(layer string) {
		r.recorder.LayerActivated(deviceID, layer)
	}
}

// HandleEvent routes a single raw event for deviceID through its Resolver
// and flushes the resulting output. An ErrUnexpectedState error is
// recovered per §7: the event is logged, the device's Resolver is reset,
// and the synthetic releases Reset produces are flushed.
func (r *Router) HandleEvent(deviceID string, ev resolver.RawEvent) error {
	res, ok := r.resolverFor(deviceID)
	if !ok {
		r.logger.Debug("dropping event for unconfigured device", "device", deviceID)
		return nil
	}

	events, err := res.OnEvent(ev)
	if err != nil {
		r.logger.Warn("resolver hit unexpected state, resetting", "device", deviceID, "key", ev.Key, "value", ev.Value, "error", err)
		recovery := res.Reset()
		return r.flush(deviceID, recovery)
	}

	return r.flush(deviceID, events)
}

// HandleTimer delivers a previously scheduled timeout to its device's
// Resolver and flushes the resulting output.
func (r *Router) HandleTimer(t TimerFired) error {
	res, ok := r.resolverFor(t.DeviceID)
	if !ok {
		return nil
	}
	events := res.OnTimeout(t.TimerID)
	return r.flush(t.DeviceID, events)
}

// Shutdown resets every active resolver (committing Pending keys as Tap
// and releasing every held key, per §5's cancellation discipline) and
// flushes the resulting events before closing the sink.
func (r *Router) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for deviceID, res := range r.resolvers {
		if err := r.flush(deviceID, res.Reset()); err != nil {
			r.logger.Warn("flush during shutdown failed", "device", deviceID, "error", err)
		}
	}
	return r.sink.Close()
}

func (r *Router) flush(deviceID string, events []resolver.ResolvedEvent) error {
	if len(events) == 0 || r.resolved.NoEmit {
		return nil
	}
	return r.sink.Write(events)
}
