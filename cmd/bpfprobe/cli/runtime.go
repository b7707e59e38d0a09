package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/frobware/go-bpfprobe/attachpoint"
	"github.com/frobware/go-bpfprobe/bpffs"
	"github.com/frobware/go-bpfprobe/btf"
	"github.com/frobware/go-bpfprobe/config"
	kernelebpf "github.com/frobware/go-bpfprobe/interpreter/ebpf"
	"github.com/frobware/go-bpfprobe/metrics"
	"github.com/frobware/go-bpfprobe/procs"
	"github.com/frobware/go-bpfprobe/providers"
	"github.com/frobware/go-bpfprobe/registry"
	"github.com/frobware/go-bpfprobe/symbols"
	"github.com/frobware/go-bpfprobe/tracefs"
)

// Runtime is everything a command needs to resolve and attach probes,
// wired from the config file.
type Runtime struct {
	Config   config.Config
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Registry *registry.Registry
	Attacher *providers.Attacher
	BTF      *btf.Lookup
	Host     attachpoint.Host
}

// NewRuntime loads the config and builds a Runtime from it.
func (c *CLI) NewRuntime() (*Runtime, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := c.Logger(cfg)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	component := func(name string) *slog.Logger {
		return logger.With("component", name)
	}

	lookup := btf.New(os.DirFS(cfg.Paths.BTF), btf.WithLogger(component("btf")))
	inspector, err := procs.New(cfg.Paths.Procfs, procs.WithLogger(component("procs")))
	if err != nil {
		return nil, err
	}
	cache, err := symbols.NewCache(cfg.Symbols.CacheSize, symbols.WithLogger(component("symbols")))
	if err != nil {
		return nil, err
	}
	kernel := kernelebpf.New(
		kernelebpf.WithLogger(component("kernel")),
		kernelebpf.WithCPUList(cfg.Paths.OnlineCPUs),
		kernelebpf.WithBPFFS(bpffs.Root(cfg.Paths.BPFFS)),
	)

	env := providers.NewEnv(kernel,
		providers.WithTracepoints(tracefs.New(os.DirFS(cfg.Paths.Tracefs), tracefs.WithLogger(component("tracefs")))),
		providers.WithSymbols(cache),
		providers.WithProcesses(inspector),
		providers.WithLogger(component("providers")),
		providers.WithMetrics(m),
		providers.WithRepeats(cfg.Attach.BenchmarkRepeat, cfg.Attach.SelfTestRepeat),
	)
	r, err := registry.Default(env, registry.WithLogger(logger), registry.WithMetrics(m))
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Config:   cfg,
		Logger:   component("cli"),
		Metrics:  m,
		Gatherer: reg,
		Registry: r,
		Attacher: providers.NewAttacher(
			providers.WithAttachLogger(component("attach")),
			providers.WithAttachMetrics(m),
			providers.WithBatching(cfg.Attach.PreferMulti),
		),
		BTF:  lookup,
		Host: newHost(inspector, lookup),
	}, nil
}

// Parser returns an attach point parser bound to this runtime.
func (r *Runtime) Parser(params []string, pid int, listing bool) *attachpoint.Parser {
	return attachpoint.New(r.Registry,
		attachpoint.WithParams(params...),
		attachpoint.WithPid(pid),
		attachpoint.WithListing(listing),
		attachpoint.WithHost(r.Host),
		attachpoint.WithMultiAttach(r.Config.Attach.PreferMulti, r.Config.Attach.PreferMulti),
		attachpoint.WithLogger(r.Logger.With("component", "parser")),
		attachpoint.WithMetrics(r.Metrics),
	)
}
