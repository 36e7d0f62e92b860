// Package config loads amplify settings from a .amplify.yaml file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unbound-force/amplify/internal/style"
)

// FileName is the configuration file looked up in the target
// directory.
const FileName = ".amplify.yaml"

// AmplifyConfig holds every tunable of a run.
type AmplifyConfig struct {
	Trace    TraceConfig    `yaml:"trace"`
	Generate GenerateConfig `yaml:"generate"`
	Prune    PruneConfig    `yaml:"prune"`
	Style    StyleConfig    `yaml:"style"`
}

// TraceConfig locates and shapes the trace logs.
type TraceConfig struct {
	// LogDir is the trace log directory. Empty means search upward
	// from the target directory for log/info.
	LogDir string `yaml:"log_dir,omitempty"`

	// Compress writes zstd-compressed logs.
	Compress bool `yaml:"compress"`
}

// GenerateConfig controls candidate generation.
type GenerateConfig struct {
	// Cap is the most calls sampled per method.
	Cap int `yaml:"cap"`

	// Seed seeds the sampler. Zero picks a time-based seed.
	Seed uint64 `yaml:"seed"`

	// Allowlist holds import path prefixes whose calls make a method
	// body eligible for inlining.
	Allowlist []string `yaml:"allowlist"`
}

// PruneConfig bounds test execution.
type PruneConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	BuildTimeout time.Duration `yaml:"build_timeout"`
	Runs         int           `yaml:"runs"`
}

// StyleConfig overrides idiom detection.
type StyleConfig struct {
	// Idiom forces an assertion idiom. Empty means detect.
	Idiom string `yaml:"idiom,omitempty"`
}

// DefaultConfig returns the settings used when no file is present.
func DefaultConfig() *AmplifyConfig {
	return &AmplifyConfig{
		Generate: GenerateConfig{Cap: 50},
		Prune: PruneConfig{
			Timeout:      10 * time.Second,
			BuildTimeout: 5 * time.Minute,
			Runs:         3,
		},
	}
}

// Load reads path over the defaults. An empty path or a missing file
// yields DefaultConfig. Unknown keys are rejected.
func Load(path string) (*AmplifyConfig, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Find returns the config file in dir, or "" when there is none.
func Find(dir string) string {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// Validate reports the first setting out of range.
func (c *AmplifyConfig) Validate() error {
	switch {
	case c.Generate.Cap < 1:
		return fmt.Errorf("invalid sample cap %d: must be at least 1", c.Generate.Cap)
	case c.Prune.Runs < 1:
		return fmt.Errorf("invalid observation runs %d: must be at least 1", c.Prune.Runs)
	case c.Prune.Timeout <= 0:
		return fmt.Errorf("invalid test timeout %s: must be positive", c.Prune.Timeout)
	case c.Prune.BuildTimeout <= 0:
		return fmt.Errorf("invalid build timeout %s: must be positive", c.Prune.BuildTimeout)
	}
	if c.Style.Idiom != "" {
		if _, err := style.ParseKind(c.Style.Idiom); err != nil {
			return err
		}
	}
	return nil
}

// Idiom returns the configured idiom, or false when detection should
// decide.
func (c *AmplifyConfig) Idiom() (style.Kind, bool) {
	if c.Style.Idiom == "" {
		return "", false
	}
	k, err := style.ParseKind(c.Style.Idiom)
	return k, err == nil
}

// Write encodes c as YAML.
func (c *AmplifyConfig) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}
