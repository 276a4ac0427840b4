// Package config loads YAML configuration files. Values may reference
// environment variables with ${VAR} syntax; they are expanded before
// decoding.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Validator lets a configuration type reject bad values during Load.
type Validator interface {
	Validate() error
}

// Load reads filename into target. When target implements Validator, the
// decoded value is validated before Load returns.
func Load[T any](filename string, target *T) error {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read config %s: %w", filename, err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), target); err != nil {
		return fmt.Errorf("parse config %s: %w", filename, err)
	}
	if v, ok := any(target).(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}
	return nil
}

// LoadIfExists loads filename when it is present. A missing file leaves
// target untouched and is not an error; loaded reports which case applied.
func LoadIfExists[T any](filename string, target *T) (loaded bool, err error) {
	if _, err := os.Stat(filename); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return true, Load(filename, target)
}
