package jit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseConfigAppliesDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
workers = 2
builtins = ["len"]

[dump]
lir = true
`))
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Workers)
	require.Equal(t, []string{"len"}, cfg.Builtins)
	require.True(t, cfg.Dump.LIR)
	require.False(t, cfg.Dump.HIR)
	require.Equal(t, DefaultConfig().Profile, cfg.Profile)
	require.Equal(t, DefaultConfig().Code, cfg.Code)
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax", "workers = "},
		{"unknown key", "wrokers = 2"},
		{"no workers", "workers = 0"},
		{"misaligned code", "[code]\nbase = 0x1004"},
		{"empty code", "[code]\nsize = 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.src))
			require.Error(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jit.toml")
	require.NoError(t, os.WriteFile(path, []byte("workers = 3\n"), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Workers)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
