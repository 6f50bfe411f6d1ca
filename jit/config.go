package jit

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config tunes the compiler. It is usually loaded from a jit.toml file.
type Config struct {
	// Workers bounds concurrent compilations in CompileAll and the
	// background queue.
	Workers int `toml:"workers"`

	// SpecializeGlobals lets the builder speculate on global bindings
	// behind patchpoints.
	SpecializeGlobals bool `toml:"specialize-globals"`

	// SpecializeCalls enables static calls through function slots.
	SpecializeCalls bool `toml:"specialize-calls"`

	// Builtins names the globals known to hold builtin functions.
	Builtins []string `toml:"builtins"`

	Profile ProfileConfig `toml:"profile"`
	Dump    DumpConfig    `toml:"dump"`
	Code    CodeConfig    `toml:"code"`

	// CodeCache is the path of the compiled-artifact database; empty
	// disables it.
	CodeCache string `toml:"code-cache"`
}

// ProfileConfig sets when a unit counts as hot.
type ProfileConfig struct {
	HotThreshold uint64 `toml:"hot-threshold"`
	QueueSize    int    `toml:"queue-size"`
}

// DumpConfig selects debug output.
type DumpConfig struct {
	HIR   bool `toml:"hir"`
	LIR   bool `toml:"lir"`
	Color bool `toml:"color"`
}

// CodeConfig places the executable region that holds patchpoints and
// deopt exits.
type CodeConfig struct {
	Base uint64 `toml:"base"`
	Size int    `toml:"size"`
}

// DefaultConfig returns the settings used for missing keys.
func DefaultConfig() Config {
	return Config{
		Workers:           4,
		SpecializeGlobals: true,
		SpecializeCalls:   true,
		Builtins:          []string{"len", "type", "isinstance", "abs"},
		Profile: ProfileConfig{
			HotThreshold: 1000,
			QueueSize:    100,
		},
		Code: CodeConfig{
			Base: 0x10000000,
			Size: 1 << 20,
		},
	}
}

// ParseConfig decodes TOML over the defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("jit: parse config: %w", err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return Config{}, fmt.Errorf("jit: unknown config key %q", undec[0].String())
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a TOML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("jit: cannot read %s: %w", path, err)
	}
	return ParseConfig(data)
}

func (c *Config) validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("jit: workers must be positive, got %d", c.Workers)
	case c.Code.Base%8 != 0:
		return fmt.Errorf("jit: code base %#x is not 8-byte aligned", c.Code.Base)
	case c.Code.Size <= 0:
		return fmt.Errorf("jit: code size must be positive")
	}
	return nil
}

func (c *Config) builtinSet() map[string]bool {
	m := make(map[string]bool, len(c.Builtins))
	for _, b := range c.Builtins {
		m[b] = true
	}
	return m
}
