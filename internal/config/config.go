// Package config implements spec.md §6's `create(config) -> Engine`
// surface: a functional-options-built Config plus the handful of
// environment variable overrides the spec reserves for an optional host
// (installation prefix, version tag, target triple), none of which the
// core itself reads — they are stored on Config for a host to read;
// pkg/gab does not read them either.
//
// Grounded on the teacher's `runtime/parser/options.go` ParserOpt
// pattern: an unexported config struct, a closure-typed Option, and
// `With*` constructors applied in New.
package config

import (
	"log/slog"
	"os"
	"time"
)

// ResourceEntry is one module-resolution rule in spec.md §6's resource
// table: a `use("name")` call matching Prefix/Suffix is handed to Loader,
// gated by ExistencePredicate.
type ResourceEntry struct {
	Prefix             string
	Suffix             string
	Loader             func(name string) ([]byte, error)
	ExistencePredicate func(name string) bool

	// Schema is an optional JSON Schema document describing the shape a
	// module matching this entry must export (its `[ok, …]`/`[err,
	// reason]` result record, converted to JSON before validation). Left
	// nil, `use()` accepts whatever a module returns unchecked.
	Schema []byte
}

// Config is the engine configuration spec.md §6's `create` accepts.
type Config struct {
	WorkerCount      int
	BusyWaitInterval time.Duration
	ModuleRoots      []string
	Resources        []ResourceEntry
	Preload          []string
	ErrorRingSize    int
	Logger           *slog.Logger

	// InstallPrefix/VersionTag/TargetTriple are the three host-supplied
	// environment values spec.md §6 names ("read by the optional host,
	// not the core"); the core never branches on them.
	InstallPrefix string
	VersionTag    string
	TargetTriple  string
}

// Option mutates a Config under construction.
type Option func(*Config)

// WithWorkerCount sets the scheduler's worker pool size (default 8,
// spec.md §4.7).
func WithWorkerCount(n int) Option {
	return func(c *Config) { c.WorkerCount = n }
}

// WithBusyWaitInterval sets Config.BusyWaitInterval. The engine does not
// pass it to the scheduler: an idle worker always waits a fixed 50ms
// (internal/fiber's idleWait) on the work channel before looping again.
func WithBusyWaitInterval(d time.Duration) Option {
	return func(c *Config) { c.BusyWaitInterval = d }
}

// WithModuleRoot appends a module resolution root.
func WithModuleRoot(root string) Option {
	return func(c *Config) { c.ModuleRoots = append(c.ModuleRoots, root) }
}

// WithResource registers one `use()` resolution rule.
func WithResource(entry ResourceEntry) Option {
	return func(c *Config) { c.Resources = append(c.Resources, entry) }
}

// WithPreload appends a module name to load eagerly at engine startup.
func WithPreload(name string) Option {
	return func(c *Config) { c.Preload = append(c.Preload, name) }
}

// WithErrorRingSize sets the capacity of the engine's recent-error ring
// (the supplemented diag.Ring, SPEC_FULL.md §3).
func WithErrorRingSize(n int) Option {
	return func(c *Config) { c.ErrorRingSize = n }
}

// WithLogger threads a logger into every engine component, matching the
// ambient logging rule carried from `runtime/lexer/lexer.go`.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

const (
	defaultWorkerCount      = 8
	defaultBusyWaitInterval = 50 * time.Millisecond
	defaultErrorRingSize    = 32
)

// New builds a Config from defaults, the given options, and then any
// matching environment variable overrides (env wins, matching a host
// overriding an embedder's compiled-in defaults at deploy time).
func New(opts ...Option) *Config {
	c := &Config{
		WorkerCount:      defaultWorkerCount,
		BusyWaitInterval: defaultBusyWaitInterval,
		ErrorRingSize:    defaultErrorRingSize,
		Logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.applyEnv()
	return c
}

// applyEnv reads the three host environment variables spec.md §6 names.
func (c *Config) applyEnv() {
	if v := os.Getenv("GAB_PREFIX"); v != "" {
		c.InstallPrefix = v
	}
	if v := os.Getenv("GAB_VERSION"); v != "" {
		c.VersionTag = v
	}
	if v := os.Getenv("GAB_TARGET"); v != "" {
		c.TargetTriple = v
	}
}
