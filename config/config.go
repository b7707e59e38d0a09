// Package config loads bpfprobe configuration.
//
// The embedded default.toml is decoded first and a config file, when
// present, is decoded over it. Keys absent from the file keep their
// defaults. Command-line flags and BPFPROBE_LOG are applied later by
// the CLI.
//
// A missing file is not an error. A file that exists but cannot be
// read or decoded is.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed default.toml
var defaultTOML string

// DefaultPath is read when no path is given.
const DefaultPath = "/etc/bpfprobe/bpfprobe.toml"

// Config is the decoded configuration.
type Config struct {
	Logging LoggingConfig `toml:"logging"`
	Paths   PathsConfig   `toml:"paths"`
	Symbols SymbolsConfig `toml:"symbols"`
	Attach  AttachConfig  `toml:"attach"`
}

// LoggingConfig is the config file's contribution to the log spec.
type LoggingConfig struct {
	// Level is a full level spec such as "warn,providers=debug".
	Level string `toml:"level"`
	// Format is "text" or "json".
	Format string `toml:"format"`
	// Components adds per-component levels to Level.
	Components map[string]string `toml:"components"`
}

// Spec merges Level and Components into one level spec. Components
// override any override already present in Level.
func (c *LoggingConfig) Spec() string {
	if len(c.Components) == 0 {
		return c.Level
	}
	parts := []string{}
	if c.Level != "" {
		parts = append(parts, c.Level)
	}
	for _, name := range slices.Sorted(maps.Keys(c.Components)) {
		parts = append(parts, name+"="+c.Components[name])
	}
	return strings.Join(parts, ",")
}

// PathsConfig locates the kernel interfaces bpfprobe reads.
type PathsConfig struct {
	Tracefs    string `toml:"tracefs"`
	Procfs     string `toml:"procfs"`
	BTF        string `toml:"btf"`
	BPFFS      string `toml:"bpffs"`
	OnlineCPUs string `toml:"online_cpus"`
}

// SymbolsConfig sizes the ELF symbol cache.
type SymbolsConfig struct {
	// CacheSize is the number of binaries whose symbol tables are kept.
	CacheSize int `toml:"cache_size"`
}

// AttachConfig tunes the attach orchestrator and program runs.
type AttachConfig struct {
	// PreferMulti batches multi-capable points into one kernel call.
	PreferMulti     bool   `toml:"prefer_multi"`
	BenchmarkRepeat uint32 `toml:"benchmark_repeat"`
	SelfTestRepeat  uint32 `toml:"self_test_repeat"`
}

// Default returns the embedded defaults.
func Default() Config {
	var cfg Config
	if _, err := toml.Decode(defaultTOML, &cfg); err != nil {
		panic(fmt.Sprintf("embedded default.toml: %v", err))
	}
	return cfg
}

// Load decodes the file at path over the defaults. An empty path means
// DefaultPath.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("parse config file %s: unknown key %q", path, undecoded[0].String())
	}
	return cfg, cfg.Validate()
}

// Validate checks values the decoder cannot.
func (c *Config) Validate() error {
	var errs []error
	for name, p := range map[string]string{
		"paths.tracefs":     c.Paths.Tracefs,
		"paths.procfs":      c.Paths.Procfs,
		"paths.btf":         c.Paths.BTF,
		"paths.bpffs":       c.Paths.BPFFS,
		"paths.online_cpus": c.Paths.OnlineCPUs,
	} {
		if !filepath.IsAbs(p) {
			errs = append(errs, fmt.Errorf("%s must be an absolute path, got %q", name, p))
		}
	}
	if c.Symbols.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("symbols.cache_size must be positive, got %d", c.Symbols.CacheSize))
	}
	if c.Attach.BenchmarkRepeat == 0 {
		errs = append(errs, errors.New("attach.benchmark_repeat must be positive"))
	}
	if c.Attach.SelfTestRepeat == 0 {
		errs = append(errs, errors.New("attach.self_test_repeat must be positive"))
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}
