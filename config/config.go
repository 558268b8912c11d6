// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

// Package config handles evie.toml runtime configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/ozanh/evie"
)

// FileName is the name of the configuration file.
const FileName = "evie.toml"

// Config represents an evie.toml configuration.
type Config struct {
	GC       GC       `toml:"gc"`
	VM       VM       `toml:"vm"`
	Compiler Compiler `toml:"compiler"`

	// Path is the loaded file, empty for the defaults.
	Path string `toml:"-"`
}

// GC configures the garbage collector.
type GC struct {
	InitialThreshold int  `toml:"initial-threshold"`
	GrowthFactor     int  `toml:"growth-factor"`
	MaxBytes         int  `toml:"max-bytes"`
	Stress           bool `toml:"stress"`
	Trace            bool `toml:"trace"`
}

// VM configures the virtual machine.
type VM struct {
	MaxFrames int  `toml:"max-frames"`
	Trace     bool `toml:"trace"`
}

// Compiler configures compiler tracing.
type Compiler struct {
	Trace       bool `toml:"trace"`
	TraceParser bool `toml:"trace-parser"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		GC: GC{
			InitialThreshold: evie.DefaultInitialThreshold,
			GrowthFactor:     evie.DefaultGrowthFactor,
		},
		VM: VM{
			MaxFrames: evie.DefaultMaxFrames,
		},
	}
}

// Load parses the evie.toml file in the given directory. Keys missing in the
// file keep their default values.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the configuration file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}

	c.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find an evie.toml file, then loads
// and returns it. Default() is returned if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.GC.InitialThreshold <= 0:
		return errors.New("gc.initial-threshold must be positive")
	case c.GC.GrowthFactor < 2:
		return errors.New("gc.growth-factor must be at least 2")
	case c.GC.MaxBytes < 0:
		return errors.New("gc.max-bytes must not be negative")
	case c.VM.MaxFrames <= 0:
		return errors.New("vm.max-frames must be positive")
	}
	return nil
}

// HeapOptions returns the heap options. GC summaries are written to trace if
// gc.trace is set.
func (c *Config) HeapOptions(trace io.Writer) evie.HeapOptions {
	opts := evie.HeapOptions{
		InitialThreshold: c.GC.InitialThreshold,
		GrowthFactor:     c.GC.GrowthFactor,
		MaxBytes:         c.GC.MaxBytes,
		Stress:           c.GC.Stress,
	}
	if c.GC.Trace {
		opts.Trace = trace
	}
	return opts
}

// CompilerOptions returns the compiler options with a new heap configuration.
func (c *Config) CompilerOptions(trace io.Writer) evie.CompilerOptions {
	opts := evie.CompilerOptions{
		HeapOptions:   c.HeapOptions(trace),
		TraceCompiler: c.Compiler.Trace,
		TraceParser:   c.Compiler.TraceParser,
	}
	if opts.TraceCompiler || opts.TraceParser {
		opts.Trace = trace
	}
	return opts
}

// VMOptions returns the VM options.
func (c *Config) VMOptions(trace io.Writer) evie.VMOptions {
	opts := evie.VMOptions{MaxFrames: c.VM.MaxFrames}
	if c.VM.Trace {
		opts.Trace = trace
	}
	return opts
}
