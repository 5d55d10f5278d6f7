package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyflect/keyflect/internal/keycodes"
	"github.com/keyflect/keyflect/internal/resolver"
)

func sampleConfig() *Config {
	hrmTerm := 150
	return &Config{
		NoEmit:  false,
		HRMTerm: &hrmTerm,
		Keyboards: map[string]map[string]BindingSpec{
			"AT Translated Set 2 keyboard": {
				"a": {Tap: "a", Hold: "KEY_LEFTCTRL"},
				"s": {Tap: "s", Hold: "leftshift", HRM: true},
			},
		},
		Layers: map[string]LayerSpec{
			"navigation": {
				"rightalt": {"v": "up"},
			},
		},
	}
}

func TestBuildResolvesDualFunctionAndLayer(t *testing.T) {
	resolved, err := Build(sampleConfig())
	require.NoError(t, err)

	profile := resolved.Profiles["AT Translated Set 2 keyboard"]
	require.NotNil(t, profile)

	a := profile.Bindings[keycodes.A]
	assert.Equal(t, resolver.BindingDualFunction, a.Kind)
	assert.Equal(t, keycodes.A, a.Tap)
	assert.Equal(t, keycodes.LeftCtrl, a.Hold)
	assert.False(t, a.HRM)

	s := profile.Bindings[keycodes.S]
	assert.True(t, s.HRM)

	rightAlt := profile.Bindings[keycodes.RightAlt]
	assert.Equal(t, resolver.BindingLayerHold, rightAlt.Kind)
	assert.Equal(t, "navigation", rightAlt.Layer)

	nav := profile.Layers["navigation"]
	require.NotNil(t, nav)
	assert.Equal(t, keycodes.Up, nav.Mapping[keycodes.V])
}

func TestBuildRejectsUnknownKeyName(t *testing.T) {
	cfg := sampleConfig()
	cfg.Keyboards["AT Translated Set 2 keyboard"]["not_a_key"] = BindingSpec{Tap: "not_a_key"}

	_, err := Build(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestBuildRejectsHoldWithoutTap(t *testing.T) {
	cfg := sampleConfig()
	cfg.Keyboards["AT Translated Set 2 keyboard"]["d"] = BindingSpec{Hold: "leftmeta"}

	_, err := Build(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestBuildUsesGlobalHRMTermWhenUnset(t *testing.T) {
	cfg := sampleConfig()
	cfg.HRMTerm = nil

	resolved, err := Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, 200, int(resolved.DefaultHRMTerm.Milliseconds()))
}

func TestBuildIsIdempotent(t *testing.T) {
	cfg := sampleConfig()
	first, err := Build(cfg)
	require.NoError(t, err)
	second, err := Build(cfg)
	require.NoError(t, err)

	assert.Equal(t, first.Profiles["AT Translated Set 2 keyboard"].Bindings, second.Profiles["AT Translated Set 2 keyboard"].Bindings)
}
