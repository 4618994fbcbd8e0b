package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/gemini-kit/gk/pkg/paths"
)

// EnvPrefix is the prefix of environment overrides (GK_SESSION_MAX_DEPTH).
const EnvPrefix = "GK"

// Layer names in precedence order.
const (
	LayerDefault = "default"
	LayerGlobal  = "global"
	LayerLocal   = "local"
	LayerEnv     = "env"
)

var layerExtensions = []string{".yaml", ".yml", ".json", ".toml"}

// Layer is one source of configuration values.
type Layer struct {
	Name   string
	Path   string
	Values map[string]any
}

// LoadOptions selects where the global and local layers are read from.
type LoadOptions struct {
	// StateDir holds the global config file. Defaults to paths.StateDir().
	StateDir string
	// ProjectRoot holds the local .gk/config file. Empty skips the local layer.
	ProjectRoot string
}

// Loaded is the result of a cascade.
type Loaded struct {
	Config *Config
	Layers []Layer
	Merged map[string]any

	v *viper.Viper
}

// Load reads every layer and merges them in precedence order.
func Load(opts LoadOptions) (*Loaded, error) {
	stateDir := opts.StateDir
	if stateDir == "" {
		dir, err := paths.StateDir()
		if err != nil {
			return nil, err
		}
		stateDir = dir
	}

	layers := []Layer{{Name: LayerDefault, Values: Defaults()}}

	if path := FindLayerFile(stateDir); path != "" {
		values, err := readLayerFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read global config")
		}
		layers = append(layers, Layer{Name: LayerGlobal, Path: path, Values: values})
	}

	if opts.ProjectRoot != "" {
		if path := FindLayerFile(paths.LocalDir(opts.ProjectRoot)); path != "" {
			values, err := readLayerFile(path)
			if err != nil {
				return nil, errors.Wrap(err, "failed to read local config")
			}
			layers = append(layers, Layer{Name: LayerLocal, Path: path, Values: values})
		}
	}

	merged := map[string]any{}
	for _, layer := range layers {
		merged = MergeMaps(merged, layer.Values)
	}

	v := newEnvViper()
	if err := v.MergeConfigMap(merged); err != nil {
		return nil, errors.Wrap(err, "failed to merge configuration layers")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal configuration")
	}
	if cfg.StateDir == "" {
		cfg.StateDir = stateDir
	}

	return &Loaded{
		Config: &cfg,
		Layers: layers,
		Merged: merged,
		v:      v,
	}, nil
}

// Get returns the effective value of a dotted key, environment included.
func (l *Loaded) Get(key string) (any, bool) {
	if !l.v.IsSet(key) {
		return nil, false
	}
	return l.v.Get(key), true
}

// Origin reports which layer supplied the effective value of key.
func (l *Loaded) Origin(key string) string {
	if _, ok := os.LookupEnv(EnvVar(key)); ok {
		return LayerEnv
	}
	for i := len(l.Layers) - 1; i >= 0; i-- {
		if _, ok := Lookup(l.Layers[i].Values, key); ok {
			return l.Layers[i].Name
		}
	}
	return ""
}

// Layer returns the named layer, if it was loaded.
func (l *Loaded) Layer(name string) (Layer, bool) {
	for _, layer := range l.Layers {
		if layer.Name == name {
			return layer, true
		}
	}
	return Layer{}, false
}

// EnvVar returns the environment variable overriding a dotted key.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// FindLayerFile returns the first config.{yaml,yml,json,toml} in dir.
func FindLayerFile(dir string) string {
	for _, ext := range layerExtensions {
		path := filepath.Join(dir, "config"+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// DefaultLayerPath returns where a new layer file is created in dir.
func DefaultLayerPath(dir string) string {
	if existing := FindLayerFile(dir); existing != "" {
		return existing
	}
	return filepath.Join(dir, "config.yaml")
}

func readLayerFile(path string) (map[string]any, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return v.AllSettings(), nil
}

func newEnvViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}
