package providers

import (
	"github.com/frobware/go-bpfprobe"
)

type specialProvider struct {
	base
	kind bpfprobe.SpecialKind
}

// NewBegin returns the provider for programs run before any probe is
// attached.
func NewBegin(env *Env) Provider {
	return &specialProvider{base: newBase(env, "begin"), kind: bpfprobe.SpecialBegin}
}

// NewEnd returns the provider for programs run after every probe is
// detached.
func NewEnd(env *Env) Provider {
	return &specialProvider{base: newBase(env, "end"), kind: bpfprobe.SpecialEnd}
}

// NewSelf returns the provider for programs the driver runs on demand.
func NewSelf(env *Env) Provider {
	return &specialProvider{base: newBase(env, "self"), kind: bpfprobe.SpecialSelf}
}

// Parse always yields one point labelled with glob.
func (p *specialProvider) Parse(glob string, _ bpfprobe.BtfLookup, _ int) ([]bpfprobe.AttachPoint, error) {
	return []bpfprobe.AttachPoint{bpfprobe.SpecialPoint{Kind: p.kind, Label: glob}}, nil
}

func (p *specialProvider) RunSingle(point bpfprobe.AttachPoint, prog bpfprobe.Program) error {
	if _, ok := point.(bpfprobe.SpecialPoint); !ok {
		return p.attachError(point, "not a special attach point", nil)
	}
	if _, err := p.env.Kernel.RunProgram(object(prog), p.env.SpecialRepeat); err != nil {
		return bpfprobe.NewSystemError("failed to run program", err)
	}
	p.logger().Debug("ran", "point", point.Name(), "repeat", p.env.SpecialRepeat)
	return nil
}

type benchProvider struct {
	base
}

// NewBench returns the provider for named benchmarks.
func NewBench(env *Env) Provider {
	return &benchProvider{base: newBase(env, "bench")}
}

func (p *benchProvider) Parse(glob string, _ bpfprobe.BtfLookup, _ int) ([]bpfprobe.AttachPoint, error) {
	if glob == "" {
		return nil, p.parseError(glob, "benchmark requires a name")
	}
	return []bpfprobe.AttachPoint{bpfprobe.BenchmarkPoint{Label: glob}}, nil
}

func (p *benchProvider) RunSingle(point bpfprobe.AttachPoint, prog bpfprobe.Program) error {
	if _, ok := point.(bpfprobe.BenchmarkPoint); !ok {
		return p.attachError(point, "not a benchmark attach point", nil)
	}
	if _, err := p.env.Kernel.RunProgram(object(prog), p.env.BenchmarkRepeat); err != nil {
		return bpfprobe.NewSystemError("failed to run benchmark", err)
	}
	p.logger().Debug("ran", "point", point.Name(), "repeat", p.env.BenchmarkRepeat)
	return nil
}
