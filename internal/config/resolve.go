package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/keyflect/keyflect/internal/keycodes"
	"github.com/keyflect/keyflect/internal/resolver"
)

// ErrInvalid is the ConfigInvalid error kind of §7: an unknown KeyCode
// name, a missing required field, or malformed YAML. It is fatal at
// startup and is wrapped (via fmt.Errorf %w or errors.Join) rather than
// returned bare, so callers can errors.Is against it.
var ErrInvalid = errors.New("config: invalid")

// Resolved is the fully validated, in-memory form of a Config: what the
// router actually consumes.
type Resolved struct {
	NoEmit         bool
	DefaultHRMTerm time.Duration
	Profiles       map[string]*resolver.Profile
}

// Build validates cfg and resolves every KeyCode name against the static
// table, producing the Profile set the router hands to one Resolver per
// device. All validation errors found are reported together via
// errors.Join, so `keyflect validate` surfaces every problem in one pass
// instead of one-at-a-time.
func Build(cfg *Config) (*Resolved, error) {
	var problems []error

	defaultTerm := time.Duration(defaultHRMTermMS) * time.Millisecond
	if cfg.HRMTerm != nil {
		if *cfg.HRMTerm <= 0 {
			problems = append(problems, fmt.Errorf("%w: top-level hrm_term must be positive, got %d", ErrInvalid, *cfg.HRMTerm))
		} else {
			defaultTerm = time.Duration(*cfg.HRMTerm) * time.Millisecond
		}
	}

	layers, layerProblems := buildLayers(cfg.Layers)
	problems = append(problems, layerProblems...)

	profiles := make(map[string]*resolver.Profile, len(cfg.Keyboards))
	for device, bindingSpecs := range cfg.Keyboards {
		bindings, bindingProblems := buildBindings(device, bindingSpecs, layers)
		problems = append(problems, bindingProblems...)
		profiles[device] = &resolver.Profile{
			DeviceName:     device,
			Bindings:       bindings,
			Layers:         layers,
			DefaultHRMTerm: defaultTerm,
		}
	}

	if len(problems) > 0 {
		return nil, errors.Join(problems...)
	}

	return &Resolved{
		NoEmit:         cfg.NoEmit,
		DefaultHRMTerm: defaultTerm,
		Profiles:       profiles,
	}, nil
}

func buildLayers(specs map[string]LayerSpec) (map[string]*resolver.Layer, []error) {
	var problems []error
	layers := make(map[string]*resolver.Layer, len(specs))

	for name, triggers := range specs {
		if len(triggers) != 1 {
			problems = append(problems, fmt.Errorf("%w: layer %q must have exactly one trigger key, found %d", ErrInvalid, name, len(triggers)))
			continue
		}
		for triggerName, mappingSpec := range triggers {
			trigger, ok := keycodes.Lookup(triggerName)
			if !ok {
				problems = append(problems, fmt.Errorf("%w: layer %q: unknown trigger key %q", ErrInvalid, name, triggerName))
				continue
			}
			mapping := make(map[keycodes.Code]keycodes.Code, len(mappingSpec))
			for sourceName, targetName := range mappingSpec {
				source, ok := keycodes.Lookup(sourceName)
				if !ok {
					problems = append(problems, fmt.Errorf("%w: layer %q: unknown source key %q", ErrInvalid, name, sourceName))
					continue
				}
				target, ok := keycodes.Lookup(targetName)
				if !ok {
					problems = append(problems, fmt.Errorf("%w: layer %q: unknown target key %q", ErrInvalid, name, targetName))
					continue
				}
				mapping[source] = target
			}
			layers[name] = &resolver.Layer{Name: name, Trigger: trigger, Mapping: mapping}
		}
	}

	return layers, problems
}

func buildBindings(device string, specs map[string]BindingSpec, layers map[string]*resolver.Layer) (map[keycodes.Code]resolver.Binding, []error) {
	var problems []error
	bindings := make(map[keycodes.Code]resolver.Binding, len(specs))

	// A key is a layer trigger if some layer names it; those keys get a
	// LayerHold binding synthesized here rather than a plain/dual-function
	// one taken from the spec entry, since layer activation is expressed
	// by appearing as a layers: entry's trigger, not by a keyboards: entry.
	triggerLayer := make(map[string]string)
	for name, layer := range layers {
		triggerLayer[keycodes.Name(layer.Trigger)] = name
	}

	for keyName, spec := range specs {
		key, ok := keycodes.Lookup(keyName)
		if !ok {
			problems = append(problems, fmt.Errorf("%w: keyboard %q: unknown key %q", ErrInvalid, device, keyName))
			continue
		}

		if spec.Tap == "" && spec.Hold == "" {
			problems = append(problems, fmt.Errorf("%w: keyboard %q key %q: binding has neither tap nor hold", ErrInvalid, device, keyName))
			continue
		}

		var tap keycodes.Code
		if spec.Tap != "" {
			t, ok := keycodes.Lookup(spec.Tap)
			if !ok {
				problems = append(problems, fmt.Errorf("%w: keyboard %q key %q: unknown tap key %q", ErrInvalid, device, keyName, spec.Tap))
				continue
			}
			tap = t
		}

		if spec.Hold == "" {
			bindings[key] = resolver.Binding{Kind: resolver.BindingPlain, Tap: tap}
			continue
		}

		hold, ok := keycodes.Lookup(spec.Hold)
		if !ok {
			problems = append(problems, fmt.Errorf("%w: keyboard %q key %q: unknown hold key %q", ErrInvalid, device, keyName, spec.Hold))
			continue
		}
		if spec.Tap == "" {
			problems = append(problems, fmt.Errorf("%w: keyboard %q key %q: hold requires tap", ErrInvalid, device, keyName))
			continue
		}

		binding := resolver.Binding{Kind: resolver.BindingDualFunction, Tap: tap, Hold: hold, HRM: spec.HRM}
		if spec.HRMTerm != nil {
			if *spec.HRMTerm <= 0 {
				problems = append(problems, fmt.Errorf("%w: keyboard %q key %q: hrm_term must be positive", ErrInvalid, device, keyName))
			} else {
				term := time.Duration(*spec.HRMTerm) * time.Millisecond
				binding.HRMTerm = &term
			}
		}
		bindings[key] = binding
	}

	for triggerName, layerName := range triggerLayer {
		trigger, ok := keycodes.Lookup(triggerName)
		if !ok {
			continue // already reported by buildLayers
		}
		bindings[trigger] = resolver.Binding{Kind: resolver.BindingLayerHold, Layer: layerName}
	}

	return bindings, problems
}
