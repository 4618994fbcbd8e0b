package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aymanbagabas/go-udiff"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Edit is a pending change to a single layer file.
type Edit struct {
	Path   string
	Key    string
	Value  any
	Before []byte
	After  []byte
}

// PlanSet prepares setting key to the parsed raw value in the layer file at
// path. The file does not need to exist yet.
func PlanSet(path, key, raw string) (*Edit, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("config key must not be empty")
	}

	before, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	values := map[string]any{}
	if len(before) > 0 {
		values, err = readLayerFile(path)
		if err != nil {
			return nil, err
		}
	}

	value := ParseValue(raw)
	SetPath(values, key, value)

	after, err := encodeLayer(path, values)
	if err != nil {
		return nil, err
	}

	return &Edit{
		Path:   path,
		Key:    key,
		Value:  value,
		Before: before,
		After:  after,
	}, nil
}

// Diff renders the edit as a unified diff.
func (e *Edit) Diff() string {
	return udiff.Unified(e.Path+" (current)", e.Path+" (updated)", string(e.Before), string(e.After))
}

// Apply writes the updated layer file, replacing it atomically.
func (e *Edit) Apply() error {
	if err := os.MkdirAll(filepath.Dir(e.Path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	tmp := e.Path + ".tmp"
	if err := os.WriteFile(tmp, e.After, 0o644); err != nil {
		return errors.Wrap(err, "failed to write temporary config file")
	}
	if err := os.Rename(tmp, e.Path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "failed to replace config file")
	}
	return nil
}

// ParseValue infers a typed value from its command-line spelling:
// booleans, integers, floats, and bracketed comma lists; anything else stays
// a string.
func ParseValue(raw string) any {
	trimmed := strings.TrimSpace(raw)

	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		inner := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
		list := []any{}
		if inner == "" {
			return list
		}
		for _, item := range strings.Split(inner, ",") {
			list = append(list, ParseValue(strings.Trim(strings.TrimSpace(item), `"'`)))
		}
		return list
	}

	if b, err := strconv.ParseBool(trimmed); err == nil && (trimmed == "true" || trimmed == "false") {
		return b
	}
	if i, err := strconv.Atoi(trimmed); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	return raw
}

func encodeLayer(path string, values map[string]any) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := json.MarshalIndent(values, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode JSON config")
		}
		return append(data, '\n'), nil
	case ".toml":
		data, err := toml.Marshal(values)
		return data, errors.Wrap(err, "failed to encode TOML config")
	default:
		data, err := yaml.Marshal(values)
		return data, errors.Wrap(err, "failed to encode YAML config")
	}
}
