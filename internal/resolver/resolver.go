package resolver

import (
	"time"

	"github.com/keyflect/keyflect/internal/clock"
	"github.com/keyflect/keyflect/internal/keycodes"
)

// Resolver is the per-device key-event state machine. It is not safe for
// concurrent use: callers (internal/router) serialize all events for a
// single device through one Resolver, matching the single-threaded
// cooperative event loop described in §5.
type Resolver struct {
	profile *Profile
	clk     clock.Clock
	notify  func(clock.TimerID)

	pending      map[keycodes.Code]*pendingKey
	pendingOrder []keycodes.Code
	queued       map[keycodes.Code]*subsequentEntry
	held         map[keycodes.Code]heldEntry

	// settledTap holds a key that committed as Tap while someone else's
	// release resolved it (or while Reset cancelled it) — its own output
	// has already been fully flushed, but the physical key is still down
	// and its eventual physical Up must be swallowed rather than treated
	// as untracked (§4.2.4 case 3's worked example: "S↑@80 ... is a no-op").
	settledTap map[keycodes.Code]struct{}

	layerStack     []keycodes.Code // trigger codes, most-recently-pushed last
	layerByTrigger map[keycodes.Code]string

	timerToKey map[clock.TimerID]keycodes.Code

	// OnCommit and OnLayer are optional observability hooks, nil by
	// default. internal/router wires them to internal/metrics.Recorder
	// after construction, keeping this package free of any metrics
	// dependency (see DESIGN.md).
	OnCommit func(hold, hrmForced bool, pending time.Duration)
	OnLayer  func(layer string)
}

// New constructs a Resolver for one device's Profile. notify is called
// whenever a timeout the Resolver scheduled fires; the caller is responsible for
// delivering the TimerID back into OnTimeout on the same goroutine that
// drives OnEvent, typically by posting it onto the device's event channel.
func New(profile *Profile, clk clock.Clock, notify func(clock.TimerID)) *Resolver {
	return &Resolver{
		profile:        profile,
		clk:            clk,
		notify:         notify,
		pending:        make(map[keycodes.Code]*pendingKey),
		queued:         make(map[keycodes.Code]*subsequentEntry),
		held:           make(map[keycodes.Code]heldEntry),
		settledTap:     make(map[keycodes.Code]struct{}),
		layerByTrigger: make(map[keycodes.Code]string),
		timerToKey:     make(map[clock.TimerID]keycodes.Code),
	}
}

// OnEvent processes one physical key event and returns the output events it
// produces, in order. An error wrapping ErrUnexpectedState means the caller
// should log the event and call Reset for this device (§5, §7).
func (r *Resolver) OnEvent(ev RawEvent) ([]ResolvedEvent, error) {
	switch ev.Value {
	case Down:
		return r.onDown(ev.Key, ev.At)
	case Up:
		return r.onUp(ev.Key, ev.At)
	case Repeat:
		return r.onRepeat(ev.Key)
	default:
		return nil, unexpectedStatef("unknown key value %v for key %v", ev.Value, ev.Key)
	}
}

// OnTimeout delivers a previously scheduled timeout. A TimerID that no
// longer maps to a pending key (already committed by another path, or
// belonging to a different, already-reset device generation) is a silent
// no-op — this is the expected outcome of a Cancel racing a Schedule fire.
func (r *Resolver) OnTimeout(id clock.TimerID) []ResolvedEvent {
	key, ok := r.timerToKey[id]
	if !ok {
		return nil
	}
	pk, ok := r.pending[key]
	if !ok {
		return nil
	}
	events := r.commitPending(pk, decisionHold, 0, false, r.clk.Now(), false)
	r.removePending(key)
	return events
}

// Reset commits every Pending key as Tap and releases every currently-held
// output key with a synthetic Up, matching the cancellation discipline of
// §5: a device being released or a device whose resolver hit
// ErrUnexpectedState must never leave a stuck modifier on the virtual
// keyboard.
func (r *Resolver) Reset() []ResolvedEvent {
	var events []ResolvedEvent

	now := r.clk.Now()
	for _, key := range append([]keycodes.Code(nil), r.pendingOrder...) {
		pk := r.pending[key]
		events = append(events, r.commitPending(pk, decisionTap, 0, false, now, false)...)
		r.clk.Cancel(pk.timerID)
		r.settledTap[key] = struct{}{}
	}
	for _, h := range r.held {
		events = append(events, ResolvedEvent{Key: h.code, Value: Up})
	}

	r.pending = make(map[keycodes.Code]*pendingKey)
	r.pendingOrder = nil
	r.queued = make(map[keycodes.Code]*subsequentEntry)
	r.held = make(map[keycodes.Code]heldEntry)
	r.layerStack = nil
	r.layerByTrigger = make(map[keycodes.Code]string)
	r.timerToKey = make(map[clock.TimerID]keycodes.Code)

	return events
}

// downPlanKind is the outcome of resolving a key's binding for a Down event.
type downPlanKind int

const (
	planPlain downPlanKind = iota
	planLayerRemap
	planDualFunction
	planLayerHold
)

type downPlan struct {
	kind      downPlanKind
	code      keycodes.Code // planPlain, planLayerRemap
	df        Binding       // planDualFunction
	layerName string        // planLayerHold
}

// resolveDown implements §4.2.1's lookup order: a key's own LayerHold
// binding always wins (a layer trigger is never remapped by another
// layer); otherwise the most-recently-activated layer whose mapping
// contains the key wins; otherwise the key's own Plain/DualFunction
// binding; otherwise Plain(key) for an unconfigured key.
func (r *Resolver) resolveDown(key keycodes.Code) downPlan {
	if b, ok := r.profile.Bindings[key]; ok && b.Kind == BindingLayerHold {
		return downPlan{kind: planLayerHold, layerName: b.Layer}
	}

	for i := len(r.layerStack) - 1; i >= 0; i-- {
		trigger := r.layerStack[i]
		layer := r.profile.Layers[r.layerByTrigger[trigger]]
		if layer == nil {
			continue
		}
		if target, ok := layer.Mapping[key]; ok {
			return downPlan{kind: planLayerRemap, code: target}
		}
	}

	if b, ok := r.profile.Bindings[key]; ok {
		if b.Kind == BindingDualFunction {
			return downPlan{kind: planDualFunction, df: b}
		}
		return downPlan{kind: planPlain, code: b.Tap}
	}

	return downPlan{kind: planPlain, code: key}
}

func (r *Resolver) isTracked(key keycodes.Code) bool {
	if _, ok := r.pending[key]; ok {
		return true
	}
	if _, ok := r.held[key]; ok {
		return true
	}
	if _, ok := r.layerByTrigger[key]; ok {
		return true
	}
	if e, ok := r.queued[key]; ok && !e.flushed {
		return true
	}
	if _, ok := r.settledTap[key]; ok {
		return true
	}
	return false
}

func (r *Resolver) onDown(key keycodes.Code, at time.Time) ([]ResolvedEvent, error) {
	if r.isTracked(key) {
		return nil, unexpectedStatef("down for already-tracked key %v", key)
	}

	plan := r.resolveDown(key)
	switch plan.kind {
	case planLayerHold:
		r.pushLayer(key, plan.layerName)
		return nil, nil

	case planDualFunction:
		for _, k := range r.pendingOrder {
			pk := r.pending[k]
			pk.subsequent = append(pk.subsequent, &subsequentEntry{key: key, kind: subsequentNestedDF})
		}
		term := r.effectiveTerm(plan.df)
		pk := &pendingKey{key: key, downAt: at, binding: plan.df}
		id := r.clk.Schedule(term, func(firedID clock.TimerID) { r.notify(firedID) })
		pk.timerID = id
		r.pending[key] = pk
		r.pendingOrder = append(r.pendingOrder, key)
		r.timerToKey[id] = key
		return nil, nil

	default: // planPlain, planLayerRemap — both emitted "as Plain"
		if len(r.pendingOrder) > 0 {
			r.queueSubsequent(key, plan.code)
			return nil, nil
		}
		r.held[key] = heldEntry{code: plan.code, plain: true}
		return []ResolvedEvent{{Key: plan.code, Value: Down}}, nil
	}
}

func (r *Resolver) onUp(key keycodes.Code, at time.Time) ([]ResolvedEvent, error) {
	// A layer trigger's own release pops its layer and emits nothing,
	// regardless of its position in the stack (§4.2.3).
	if _, ok := r.layerByTrigger[key]; ok {
		r.popLayer(key)
		return nil, nil
	}

	// Case 1 (§4.2.4): the pending key's own release, before any other
	// resolving condition fired, always commits it as Tap.
	if pk, ok := r.pending[key]; ok {
		events := r.commitPending(pk, decisionTap, 0, false, at, false)
		r.removePending(key)
		events = append(events, r.resolveOverlapForOthers(key, at)...)
		return events, nil
	}

	// Case 2/3 (§4.2.4): key was queued as a subsequent press under one or
	// more still-pending keys and has not yet been flushed — its release
	// is the overlap-completing event for each of them.
	if e, ok := r.queued[key]; ok && !e.flushed {
		events := r.resolveOverlapForOthers(key, at)
		delete(r.queued, key)
		return events, nil
	}

	if h, ok := r.held[key]; ok {
		delete(r.held, key)
		return []ResolvedEvent{{Key: h.code, Value: Up}}, nil
	}

	// The key already committed as Tap through another key's overlap
	// release (or through Reset) while its own physical release was still
	// outstanding. Its output is already fully flushed; this Up is a no-op
	// (§4.2.4 case 3's worked example: "S↑@80 input is a no-op").
	if _, ok := r.settledTap[key]; ok {
		delete(r.settledTap, key)
		return nil, nil
	}

	return nil, unexpectedStatef("up for untracked key %v", key)
}

// resolveOverlapForOthers evaluates every still-pending key's HRM gate
// against releasedKey's release instant, for every pending key that
// witnessed releasedKey go Down while it was itself Pending. It commits
// each such pending key (Tap if it is an HRM key whose hrm_term has not yet
// elapsed, Hold otherwise) and removes it.
func (r *Resolver) resolveOverlapForOthers(releasedKey keycodes.Code, at time.Time) []ResolvedEvent {
	var events []ResolvedEvent

	for _, k := range append([]keycodes.Code(nil), r.pendingOrder...) {
		pk, ok := r.pending[k]
		if !ok {
			continue
		}
		if !pk.witnessed(releasedKey) {
			continue
		}

		dec := decisionHold
		forced := false
		if pk.binding.HRM {
			term := r.effectiveTerm(pk.binding)
			if at.Sub(pk.downAt) < term {
				dec = decisionTap
				forced = true
			}
		}

		events = append(events, r.commitPending(pk, dec, releasedKey, true, at, forced)...)
		r.removePending(k)
		if dec == decisionTap {
			r.settledTap[k] = struct{}{}
		}
	}

	return events
}

// witnessed reports whether key was seen going Down while pk was Pending.
// It ignores e.flushed: a release can be the overlap-ending trigger for
// several independently-pending keys at once (e.g. two stacked home-row
// mods released by the same later key), and each commits on its own HRM
// gate even though only the first to run replays the released key's
// output pair.
func (pk *pendingKey) witnessed(key keycodes.Code) bool {
	for _, e := range pk.subsequent {
		if e.key == key {
			return true
		}
	}
	return false
}

// commitPending decides pk's output (Tap or Hold), then flushes every
// not-yet-flushed "plain" subsequent entry in arrival order: each gets its
// queued Down, immediately followed by its Up if it is the entry that
// triggered this commit (it has already physically released), or else
// registered in the held table to await its own later Up (§4.2.4 cases
// 3/4). Nested dual-function witnesses are never flushed here — they
// resolve independently through their own PendingKey. at is the commit
// instant, used only to report how long pk sat Pending; forced marks a Tap
// that the HRM gate specifically chose over a Hold, as opposed to a plain
// release or a cancellation.
func (r *Resolver) commitPending(pk *pendingKey, dec decision, triggerKey keycodes.Code, hasTrigger bool, at time.Time, forced bool) []ResolvedEvent {
	var events []ResolvedEvent

	switch dec {
	case decisionTap:
		events = append(events,
			ResolvedEvent{Key: pk.binding.Tap, Value: Down},
			ResolvedEvent{Key: pk.binding.Tap, Value: Up},
		)
	case decisionHold:
		events = append(events, ResolvedEvent{Key: pk.binding.Hold, Value: Down})
		r.held[pk.key] = heldEntry{code: pk.binding.Hold, plain: false}
	}

	if r.OnCommit != nil {
		r.OnCommit(dec == decisionHold, forced, at.Sub(pk.downAt))
	}

	for _, e := range pk.subsequent {
		if e.kind != subsequentPlain || e.flushed {
			continue
		}
		events = append(events, ResolvedEvent{Key: e.resolvedCode, Value: Down})
		e.flushed = true
		if hasTrigger && e.key == triggerKey {
			events = append(events, ResolvedEvent{Key: e.resolvedCode, Value: Up})
		} else {
			r.held[e.key] = heldEntry{code: e.resolvedCode, plain: true}
		}
	}

	return events
}

func (r *Resolver) queueSubsequent(key, resolvedCode keycodes.Code) {
	entry := &subsequentEntry{key: key, kind: subsequentPlain, resolvedCode: resolvedCode}
	for _, k := range r.pendingOrder {
		pk := r.pending[k]
		pk.subsequent = append(pk.subsequent, entry)
	}
	r.queued[key] = entry
}

func (r *Resolver) removePending(key keycodes.Code) {
	pk, ok := r.pending[key]
	if !ok {
		return
	}
	r.clk.Cancel(pk.timerID)
	delete(r.timerToKey, pk.timerID)
	delete(r.pending, key)
	for i, k := range r.pendingOrder {
		if k == key {
			r.pendingOrder = append(r.pendingOrder[:i], r.pendingOrder[i+1:]...)
			break
		}
	}
}

func (r *Resolver) onRepeat(key keycodes.Code) ([]ResolvedEvent, error) {
	if _, ok := r.pending[key]; ok {
		return nil, nil
	}
	if _, ok := r.layerByTrigger[key]; ok {
		return nil, nil
	}
	if e, ok := r.queued[key]; ok && !e.flushed {
		return nil, nil
	}
	if h, ok := r.held[key]; ok {
		if h.plain {
			return []ResolvedEvent{{Key: h.code, Value: Repeat}}, nil
		}
		return nil, nil
	}
	if _, ok := r.settledTap[key]; ok {
		return nil, nil
	}
	return nil, unexpectedStatef("repeat for untracked key %v", key)
}

func (r *Resolver) pushLayer(trigger keycodes.Code, layerName string) {
	r.layerStack = append(r.layerStack, trigger)
	r.layerByTrigger[trigger] = layerName
	if r.OnLayer != nil {
		r.OnLayer(layerName)
	}
}

func (r *Resolver) popLayer(trigger keycodes.Code) {
	delete(r.layerByTrigger, trigger)
	for i, t := range r.layerStack {
		if t == trigger {
			r.layerStack = append(r.layerStack[:i], r.layerStack[i+1:]...)
			break
		}
	}
}

func (r *Resolver) effectiveTerm(b Binding) time.Duration {
	if b.HRMTerm != nil {
		return *b.HRMTerm
	}
	return r.profile.DefaultHRMTerm
}
