package translate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config carries the tunable translation parameters.
type Config struct {
	// MaxBlockInsns bounds how many guest instructions one block may
	// translate before a synthetic return is appended.
	MaxBlockInsns int `yaml:"max_block_insns"`

	// BufferCap bounds the per-block code buffer, in bytes.
	BufferCap int `yaml:"buffer_cap"`

	// AbortOnUnknown makes an unrecognized instruction abort the whole
	// block instead of ending it with an exit at the faulting PC.
	AbortOnUnknown bool `yaml:"abort_on_unknown"`

	// EnableChaining records chainable exit sites so the cache may patch
	// block-to-block jumps.
	EnableChaining bool `yaml:"enable_chaining"`
}

// DefaultConfig returns the standard translation parameters.
func DefaultConfig() Config {
	return Config{
		MaxBlockInsns:  64,
		BufferCap:      16 * 1024,
		AbortOnUnknown: false,
		EnableChaining: true,
	}
}

// LoadConfig reads a YAML config file, applying defaults for any field
// the file leaves unset.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects parameter combinations the translator cannot honor.
func (c Config) Validate() error {
	if c.MaxBlockInsns < 1 {
		return fmt.Errorf("config: max_block_insns must be >= 1, got %d",
			c.MaxBlockInsns)
	}
	if c.BufferCap < 256 {
		return fmt.Errorf("config: buffer_cap must be >= 256, got %d",
			c.BufferCap)
	}
	return nil
}
