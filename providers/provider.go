// Package providers implements one Provider per probe technology and
// the orchestration that attaches a resolved point set all or nothing.
package providers

import (
	"fmt"
	"log/slog"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/btf"

	"github.com/frobware/go-bpfprobe"
	"github.com/frobware/go-bpfprobe/interpreter"
	"github.com/frobware/go-bpfprobe/metrics"
	"github.com/frobware/go-bpfprobe/symbols"
)

// Provider is one probe technology. Providers are immutable after
// construction apart from internal inventory caches.
type Provider interface {
	Name() string
	Aliases() []string

	// Parse expands glob, the target after the provider prefix, into
	// concrete attach points. It never attaches anything. A literal
	// glob that matches nothing is a ParseError; a wildcard glob that
	// matches nothing is not.
	Parse(glob string, btf bpfprobe.BtfLookup, pid int) ([]bpfprobe.AttachPoint, error)

	// AttachSingle attaches exactly one point.
	AttachSingle(point bpfprobe.AttachPoint, prog bpfprobe.Program, pid int) ([]*bpfprobe.AttachedProbe, error)
	// AttachMulti attaches points with as few kernel calls as the
	// technology allows. An empty input succeeds with no probes.
	AttachMulti(points []bpfprobe.AttachPoint, prog bpfprobe.Program, pid int) ([]*bpfprobe.AttachedProbe, error)
	// RunSingle executes prog synchronously for a point whose action
	// is not ActionAttach.
	RunSingle(point bpfprobe.AttachPoint, prog bpfprobe.Program) error
}

// Tracepoints is the tracefs inventory.
type Tracepoints interface {
	AvailableEvents() ([]string, error)
	ContextType(kernel bpfprobe.Types, category, event string) (btf.Type, error)
}

// Symbols is the ELF inventory of user binaries.
type Symbols interface {
	Table(path string) (*symbols.Table, error)
	USDT(path string) ([]symbols.Note, error)
}

// Processes maps pids and binary globs to paths.
type Processes interface {
	MappedPaths(pid int) ([]string, error)
	ResolveBinaryPath(glob string, pid int) ([]string, error)
}

const (
	// DefaultBenchmarkRepeat is how many times a bench program runs.
	DefaultBenchmarkRepeat = 1_000_000
	// DefaultSpecialRepeat is how many times begin, end and self
	// programs run.
	DefaultSpecialRepeat = 1
)

// Env carries the collaborators every provider resolves and attaches
// with.
type Env struct {
	Kernel      interpreter.KernelOperations
	Tracepoints Tracepoints
	Symbols     Symbols
	Processes   Processes
	Logger      *slog.Logger
	Metrics     *metrics.Metrics

	BenchmarkRepeat uint32
	SpecialRepeat   uint32
}

// EnvOption configures an Env.
type EnvOption func(*Env)

// WithTracepoints sets the tracefs inventory.
func WithTracepoints(t Tracepoints) EnvOption {
	return func(e *Env) { e.Tracepoints = t }
}

// WithSymbols sets the ELF inventory.
func WithSymbols(s Symbols) EnvOption {
	return func(e *Env) { e.Symbols = s }
}

// WithProcesses sets the process inspector.
func WithProcesses(p Processes) EnvOption {
	return func(e *Env) { e.Processes = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EnvOption {
	return func(e *Env) { e.Logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) EnvOption {
	return func(e *Env) { e.Metrics = m }
}

// WithRepeats sets how many times bench and special programs run. A
// zero leaves the default.
func WithRepeats(benchmark, special uint32) EnvOption {
	return func(e *Env) {
		if benchmark != 0 {
			e.BenchmarkRepeat = benchmark
		}
		if special != 0 {
			e.SpecialRepeat = special
		}
	}
}

// NewEnv returns an Env attaching through kernel.
func NewEnv(kernel interpreter.KernelOperations, opts ...EnvOption) *Env {
	e := &Env{
		Kernel:          kernel,
		Logger:          slog.Default(),
		BenchmarkRepeat: DefaultBenchmarkRepeat,
		SpecialRepeat:   DefaultSpecialRepeat,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// base supplies identity, error helpers and the unsupported defaults.
// Providers embed it and override what they support.
type base struct {
	id  bpfprobe.ProviderIdentity
	env *Env
}

func newBase(env *Env, name string, aliases ...string) base {
	return base{id: bpfprobe.ProviderIdentity{Name: name, Aliases: aliases}, env: env}
}

func (b base) Name() string      { return b.id.Name }
func (b base) Aliases() []string { return b.id.Aliases }

// Identity returns the provider's name and aliases.
func (b base) Identity() bpfprobe.ProviderIdentity { return b.id }

func (b base) AttachSingle(bpfprobe.AttachPoint, bpfprobe.Program, int) ([]*bpfprobe.AttachedProbe, error) {
	return nil, bpfprobe.SystemError{Message: "single attach not supported"}
}

func (b base) AttachMulti(points []bpfprobe.AttachPoint, _ bpfprobe.Program, _ int) ([]*bpfprobe.AttachedProbe, error) {
	if len(points) == 0 {
		return nil, nil
	}
	return nil, bpfprobe.SystemError{Message: "multi attach not supported"}
}

func (b base) RunSingle(bpfprobe.AttachPoint, bpfprobe.Program) error {
	return bpfprobe.SystemError{Message: "run not supported"}
}

func (b base) logger() *slog.Logger {
	return b.env.Logger.With("provider", b.id.Name)
}

func (b base) parseError(target, format string, args ...any) error {
	return bpfprobe.ParseError{Provider: b.id.Name, Target: target, Detail: fmt.Sprintf(format, args...)}
}

func (b base) attachError(point bpfprobe.AttachPoint, detail string, err error) error {
	return bpfprobe.AttachError{Provider: b.id.Name, Point: point, Detail: detail, Err: err}
}

// probe takes ownership of link on behalf of points.
func (b base) probe(link bpfprobe.Link, points ...bpfprobe.AttachPoint) *bpfprobe.AttachedProbe {
	return bpfprobe.NewAttachedProbe(observedLink{Link: link, provider: b.id.Name, metrics: b.env.Metrics}, points...)
}

// observedLink counts detaches.
type observedLink struct {
	bpfprobe.Link
	provider string
	metrics  *metrics.Metrics
}

func (l observedLink) Close() error {
	err := l.Link.Close()
	if err == nil {
		l.metrics.ObserveDetached(l.provider)
	}
	return err
}

// object returns the loaded program behind prog, if any.
func object(prog bpfprobe.Program) *ebpf.Program {
	if prog == nil {
		return nil
	}
	return prog.Object()
}
