package providers

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/frobware/go-bpfprobe"
	"github.com/frobware/go-bpfprobe/attachpoint"
	"github.com/frobware/go-bpfprobe/kernel"
	"github.com/frobware/go-bpfprobe/wildcard"
)

type fentryProvider struct {
	base
	ret bool
}

// NewFentry returns the fentry provider.
func NewFentry(env *Env) Provider {
	return &fentryProvider{base: newBase(env, "fentry", "f", "kfunc")}
}

// NewFexit returns the fexit provider.
func NewFexit(env *Env) Provider {
	return &fentryProvider{base: newBase(env, "fexit", "fr", "kretfunc"), ret: true}
}

// Parse accepts "func", "module:func", "bpf:prog" and "bpf:id:prog".
// A bare func is looked up in vmlinux and then in every module.
func (p *fentryProvider) Parse(glob string, btf bpfprobe.BtfLookup, _ int) ([]bpfprobe.AttachPoint, error) {
	target, fn, hasTarget := strings.Cut(glob, ":")
	if !hasTarget {
		target, fn = "", glob
	}
	if target == "bpf" {
		return p.parseBPF(glob, fn)
	}
	if strings.Contains(fn, ":") {
		return nil, p.parseError(glob, "invalid fentry format")
	}
	if wildcard.HasWildcard(target) {
		return nil, p.parseError(glob, "wildcards not supported for target")
	}

	modules := []string{target}
	if target == "" {
		all, err := btf.ListModules()
		if err != nil {
			return nil, err
		}
		modules = all
	}

	var points []bpfprobe.AttachPoint
	for _, module := range modules {
		types, err := btf.KernelBTF(module)
		if err != nil {
			if target == "" {
				p.logger().Debug("skipping module", "module", module, "error", err)
				continue
			}
			return nil, err
		}
		for _, name := range matchFunctions(types, fn) {
			points = append(points, bpfprobe.FentryPoint{Return: p.ret, Module: module, Func: name})
		}
	}
	if len(points) == 0 && !wildcard.HasWildcard(fn) {
		return nil, p.parseError(glob, "function not found in btf")
	}
	return points, nil
}

// parseBPF matches loaded BPF programs by name, by id, or by "id:name".
func (p *fentryProvider) parseBPF(glob, fn string) ([]bpfprobe.AttachPoint, error) {
	var progs []kernel.Program
	for prog, err := range p.env.Kernel.Programs(context.Background()) {
		if err != nil {
			return nil, bpfprobe.NewSystemError("list bpf programs", err)
		}
		progs = append(progs, prog)
	}

	var (
		match   func(kernel.Program) bool
		literal = !wildcard.HasWildcard(fn)
	)
	switch id, err := attachpoint.ParseUint(fn); {
	case !literal || strings.Contains(fn, ":"):
		pattern := wildcard.Tokens(fn)
		match = func(prog kernel.Program) bool {
			return pattern.Match(prog.Name) || pattern.Match(prog.Symbol())
		}
	case err == nil:
		match = func(prog kernel.Program) bool { return uint64(prog.ID) == id }
	default:
		match = func(prog kernel.Program) bool { return prog.Name == fn }
	}

	var points []bpfprobe.AttachPoint
	for _, prog := range progs {
		if match(prog) {
			points = append(points, bpfprobe.FentryPoint{Return: p.ret, Module: "bpf", Func: prog.Symbol(), ProgID: prog.ID})
		}
	}
	if len(points) == 0 && literal {
		return nil, p.parseError(glob, "bpf program not found")
	}
	return points, nil
}

func (p *fentryProvider) AttachSingle(point bpfprobe.AttachPoint, prog bpfprobe.Program, _ int) ([]*bpfprobe.AttachedProbe, error) {
	if _, ok := point.(bpfprobe.FentryPoint); !ok {
		return nil, p.attachError(point, "not an fentry attach point", nil)
	}
	link, err := p.env.Kernel.AttachTracing(object(prog))
	if err != nil {
		detail := "failed to attach fentry to function"
		if p.ret {
			detail = "failed to attach fexit to function"
		}
		return nil, p.attachError(point, detail, err)
	}
	p.logger().Debug("attached", "point", point.Name())
	return []*bpfprobe.AttachedProbe{p.probe(link, point)}, nil
}

// iterPrefix marks the kernel functions that define BPF iterators.
const iterPrefix = "bpf_iter__"

type iterProvider struct {
	base

	mu    sync.Mutex
	iters []string
}

// NewIter returns the iter provider.
func NewIter(env *Env) Provider {
	return &iterProvider{base: newBase(env, "iter", "it")}
}

// Parse accepts "name" and "name:pin".
func (p *iterProvider) Parse(glob string, btf bpfprobe.BtfLookup, _ int) ([]bpfprobe.AttachPoint, error) {
	name, pin, _ := strings.Cut(glob, ":")
	iters, err := p.available(btf)
	if err != nil {
		return nil, err
	}

	var points []bpfprobe.AttachPoint
	if wildcard.HasWildcard(name) {
		pattern := wildcard.Tokens(name)
		for _, it := range iters {
			if pattern.Match(it) {
				points = append(points, bpfprobe.IterPoint{Iter: it, Pin: pin})
			}
		}
		return points, nil
	}
	if _, found := slices.BinarySearch(iters, name); !found {
		return nil, p.parseError(glob, "iter function not found")
	}
	return []bpfprobe.AttachPoint{bpfprobe.IterPoint{Iter: name, Pin: pin}}, nil
}

// available returns the sorted iterator names, reading vmlinux BTF
// once.
func (p *iterProvider) available(btf bpfprobe.BtfLookup) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.iters != nil {
		return p.iters, nil
	}
	types, err := btf.KernelBTF("vmlinux")
	if err != nil {
		return nil, err
	}
	iters := []string{}
	for fn := range types.Functions() {
		if name, ok := strings.CutPrefix(fn, iterPrefix); ok && name != "" {
			iters = append(iters, name)
		}
	}
	slices.Sort(iters)
	p.iters = iters
	return iters, nil
}

func (p *iterProvider) AttachSingle(point bpfprobe.AttachPoint, prog bpfprobe.Program, _ int) ([]*bpfprobe.AttachedProbe, error) {
	it, ok := point.(bpfprobe.IterPoint)
	if !ok {
		return nil, p.attachError(point, "not an iter attach point", nil)
	}
	link, err := p.env.Kernel.AttachIter(object(prog), it.Pin)
	if err != nil {
		return nil, p.attachError(point, "failed to attach iter", err)
	}
	p.logger().Debug("attached", "point", point.Name(), "pin", it.Pin)
	return []*bpfprobe.AttachedProbe{p.probe(link, point)}, nil
}
