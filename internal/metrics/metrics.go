// Package metrics exposes a narrow Recorder interface for the domain
// events the router cares about, backed by Prometheus. The resolver
// package itself never imports this package (see DESIGN.md) — the router
// calls Recorder from the OnCommit and OnLayer hooks it sets on each
// Resolver.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what internal/router drives. A no-op implementation is
// trivial to provide for tests that don't care about metrics.
type Recorder interface {
	TapCommitted(device string)
	HoldCommitted(device string)
	HRMForcedTap(device string)
	LayerActivated(device, layer string)
	PendingResolutionLatency(device string, seconds float64)
}

// Prometheus is the production Recorder.
type Prometheus struct {
	taps       *prometheus.CounterVec
	holds      *prometheus.CounterVec
	hrmForced  *prometheus.CounterVec
	layers     *prometheus.CounterVec
	resolution *prometheus.HistogramVec
}

// NewPrometheus registers keyflect's metrics against reg and returns a
// Recorder backed by them.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		taps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyflect",
			Name:      "taps_committed_total",
			Help:      "Dual-function keys resolved as Tap.",
		}, []string{"device"}),
		holds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyflect",
			Name:      "holds_committed_total",
			Help:      "Dual-function keys resolved as Hold.",
		}, []string{"device"}),
		hrmForced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyflect",
			Name:      "hrm_forced_taps_total",
			Help:      "Home-row-mod keys forced to Tap by the HRM gate on a fast roll.",
		}, []string{"device"}),
		layers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyflect",
			Name:      "layer_activations_total",
			Help:      "Layer activations by layer name.",
		}, []string{"device", "layer"}),
		resolution: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "keyflect",
			Name:      "pending_resolution_seconds",
			Help:      "Time a dual-function key spent Pending before it committed.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.15, 0.2, 0.3, 0.5, 1},
		}, []string{"device"}),
	}
	reg.MustRegister(p.taps, p.holds, p.hrmForced, p.layers, p.resolution)
	return p
}

func (p *Prometheus) TapCommitted(device string)  { p.taps.WithLabelValues(device).Inc() }
func (p *Prometheus) HoldCommitted(device string) { p.holds.WithLabelValues(device).Inc() }
func (p *Prometheus) HRMForcedTap(device string)  { p.hrmForced.WithLabelValues(device).Inc() }
func (p *Prometheus) LayerActivated(device, layer string) {
	p.layers.WithLabelValues(device, layer).Inc()
}
func (p *Prometheus) PendingResolutionLatency(device string, seconds float64) {
	p.resolution.WithLabelValues(device).Observe(seconds)
}

// Noop discards every recorded event; used when --metrics-addr is unset.
type Noop struct{}

func (Noop) TapCommitted(string)                      {}
func (Noop) HoldCommitted(string)                     {}
func (Noop) HRMForcedTap(string)                      {}
func (Noop) LayerActivated(string, string)             {}
func (Noop) PendingResolutionLatency(string, float64) {}

// Serve starts a /metrics HTTP listener on addr, in its own goroutine, and
// returns the *http.Server so the caller can Shutdown it. gatherer is
// normally the same registry that was passed to NewPrometheus, passed
// explicitly to keep this package test-friendly.
func Serve(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go srv.ListenAndServe()
	return srv
}
