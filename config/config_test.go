package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ozanh/evie"
	. "github.com/ozanh/evie/config"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644)
	require.NoError(t, err)
}

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.Equal(t, evie.DefaultInitialThreshold, c.GC.InitialThreshold)
	require.Equal(t, evie.DefaultGrowthFactor, c.GC.GrowthFactor)
	require.Equal(t, 0, c.GC.MaxBytes)
	require.False(t, c.GC.Stress)
	require.Equal(t, evie.DefaultMaxFrames, c.VM.MaxFrames)
	require.Empty(t, c.Path)

	var trace bytes.Buffer
	copts := c.CompilerOptions(&trace)
	require.Nil(t, copts.Trace)
	require.Nil(t, copts.HeapOptions.Trace)
	require.Nil(t, c.VMOptions(&trace).Trace)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[gc]
initial-threshold = 4096
max-bytes = 65536
stress = true
trace = true

[vm]
trace = true

[compiler]
trace = true
`)
	c, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, 4096, c.GC.InitialThreshold)
	require.Equal(t, evie.DefaultGrowthFactor, c.GC.GrowthFactor)
	require.Equal(t, 65536, c.GC.MaxBytes)
	require.True(t, c.GC.Stress)
	require.True(t, c.VM.Trace)
	require.Equal(t, evie.DefaultMaxFrames, c.VM.MaxFrames)
	require.True(t, c.Compiler.Trace)
	require.False(t, c.Compiler.TraceParser)
	require.Equal(t, filepath.Join(dir, FileName), c.Path)

	var trace bytes.Buffer
	copts := c.CompilerOptions(&trace)
	require.Equal(t, evie.HeapOptions{
		InitialThreshold: 4096,
		GrowthFactor:     evie.DefaultGrowthFactor,
		MaxBytes:         65536,
		Stress:           true,
		Trace:            &trace,
	}, copts.HeapOptions)
	require.True(t, copts.TraceCompiler)
	require.Same(t, &trace, copts.Trace)
	vopts := c.VMOptions(&trace)
	require.Equal(t, evie.DefaultMaxFrames, vopts.MaxFrames)
	require.Same(t, &trace, vopts.Trace)

	// the options build a working pipeline
	_, err = evie.Interpret([]byte(`var a = 1;`), copts, vopts)
	require.NoError(t, err)
	require.Contains(t, trace.String(), "== script ==")
	require.Contains(t, trace.String(), "-- gc begin")
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	require.Error(t, err)

	writeConfig(t, dir, `[gc`)
	_, err = Load(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse error")

	writeConfig(t, dir, "[gc]\nthreshold = 1\n")
	_, err = Load(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown keys")
	require.Contains(t, err.Error(), "gc.threshold")

	writeConfig(t, dir, "[vm]\nmax-frames = 0\n")
	_, err = Load(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "vm.max-frames must be positive")

	writeConfig(t, dir, "[gc]\ngrowth-factor = 1\n")
	_, err = Load(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "gc.growth-factor")

	writeConfig(t, dir, "[gc]\nmax-bytes = -1\n")
	_, err = Load(dir)
	require.Error(t, err)

	writeConfig(t, dir, "[gc]\nstress = \"yes\"\n")
	_, err = Load(dir)
	require.Error(t, err)
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	writeConfig(t, root, "[vm]\nmax-frames = 16\n")
	c, err := FindAndLoad(nested)
	require.NoError(t, err)
	require.Equal(t, 16, c.VM.MaxFrames)
	require.Equal(t, filepath.Join(root, FileName), c.Path)

	// nearest file wins
	writeConfig(t, filepath.Join(root, "a"), "[vm]\nmax-frames = 32\n")
	c, err = FindAndLoad(nested)
	require.NoError(t, err)
	require.Equal(t, 32, c.VM.MaxFrames)
}
