package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Backend supplies config values by dotted key, e.g. "server.port".
type Backend interface {
	GetString(key string) (string, bool, error)
	GetInt(key string) (int, bool, error)
}

// fileBackend reads a flat JSON object of dotted keys. A missing file is
// an empty backend, not an error.
type fileBackend struct {
	values map[string]any
	err    error
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{values: map[string]any{}}
	if path == "" {
		return b
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return b
	}
	if err != nil {
		b.err = fmt.Errorf("reading config file %s: %w", path, err)
		return b
	}
	if err := json.Unmarshal(data, &b.values); err != nil {
		b.err = fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return b
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	if b.err != nil {
		return "", false, b.err
	}
	v, ok := b.values[key]
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, fmt.Errorf("config key %s is not a string", key)
	}
	return s, true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	if b.err != nil {
		return 0, false, b.err
	}
	v, ok := b.values[key]
	if !ok {
		return 0, false, nil
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false, fmt.Errorf("config key %s is not a number", key)
	}
	return int(f), true, nil
}
