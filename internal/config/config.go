// Package config loads the YAML configuration described in spec §6 and
// resolves it into the in-memory tables the router and resolver consume.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const appName = "keyflect"

// defaultHRMTermMS is the hrm_term fallback when the config omits it.
const defaultHRMTermMS = 200

// BindingSpec is one entry of a keyboard's binding map. Tap is required
// for both Plain and DualFunction bindings; Hold's presence is what turns
// a binding into DualFunction.
type BindingSpec struct {
	Tap     string `yaml:"tap"`
	Hold    string `yaml:"hold,omitempty"`
	HRM     bool   `yaml:"hrm,omitempty"`
	HRMTerm *int   `yaml:"hrm_term,omitempty"`
}

// LayerSpec maps a trigger key name to its remap table (source -> target
// key name), per §6's `layers: mapping layer_name -> mapping trigger ->
// mapping source -> target`.
type LayerSpec map[string]map[string]string

// Config is the raw, unvalidated on-disk schema.
type Config struct {
	NoEmit    bool                              `yaml:"no_emit"`
	HRMTerm   *int                              `yaml:"hrm_term"`
	Keyboards map[string]map[string]BindingSpec `yaml:"keyboards"`
	Layers    map[string]LayerSpec              `yaml:"layers"`

	// Dir is the directory the config file was loaded from, not part of
	// the YAML schema itself.
	Dir string `yaml:"-"`
}

// Load reads the config from path, or from the standard search locations
// if path is empty, mirroring the search order an XDG-aware daemon on
// Linux uses: an explicit path, the invoking user's config directory (with
// SUDO_USER awareness for a daemon commonly started via sudo), then the
// system-wide config directory.
func Load(path string) (*Config, error) {
	var searchPaths []string
	if path != "" {
		searchPaths = append(searchPaths, path)
	}

	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		searchPaths = append(searchPaths, filepath.Join("/home", sudoUser, ".config", appName, "config.yml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", appName, "config.yml"))
	}
	searchPaths = append(searchPaths, filepath.Join("/etc", appName, "config.yml"))

	var data []byte
	var loadedPath string
	for _, candidate := range searchPaths {
		b, err := os.ReadFile(candidate)
		if err != nil {
			continue
		}
		data, loadedPath = b, candidate
		break
	}
	if loadedPath == "" {
		return nil, fmt.Errorf("%w: no config file found (tried %v)", ErrInvalid, searchPaths)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalid, loadedPath, err)
	}
	cfg.Dir = filepath.Dir(loadedPath)

	return cfg, nil
}

// LoadFile is Load's single-path variant, used by the validate subcommand:
// no search-path fallback, just this file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalid, path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalid, path, err)
	}
	cfg.Dir = filepath.Dir(path)
	return cfg, nil
}
