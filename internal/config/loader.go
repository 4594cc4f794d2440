// Package config loads the pipeline configuration from disk, applying the
// per-section defaults and validation defined in pkg/config.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	pkgconfig "github.com/geyserpipe/geyserpipe/pkg/config"
)

// unmarshalers maps a config file extension to its decoder. All formats go
// through the same bytes-in path so defaulting and validation cannot diverge
// between them.
var unmarshalers = map[string]func([]byte, any) error{
	".yaml": yaml.Unmarshal,
	".yml":  yaml.Unmarshal,
	".json": json.Unmarshal,
	".toml": toml.Unmarshal,
}

// LoadFromFile loads, defaults and validates a configuration file, picking
// the format from the file extension (.yaml, .yml, .json or .toml).
func LoadFromFile(path string) (*pkgconfig.Config, error) {
	unmarshal, ok := unmarshalers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("unsupported config file format %q (supported: .yaml, .yml, .json, .toml)",
			filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return LoadFromBytes(data, unmarshal)
}

// LoadFromBytes decodes raw configuration with the given unmarshaller, then
// applies defaults and validates the result.
func LoadFromBytes(data []byte, unmarshal func([]byte, any) error) (*pkgconfig.Config, error) {
	var cfg pkgconfig.Config
	if err := unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
