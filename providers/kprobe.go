package providers

import (
	"strings"

	"github.com/frobware/go-bpfprobe"
	"github.com/frobware/go-bpfprobe/attachpoint"
	"github.com/frobware/go-bpfprobe/wildcard"
)

type kprobeProvider struct {
	base
	kind bpfprobe.KprobeKind
}

// NewKprobe returns the kprobe provider.
func NewKprobe(env *Env) Provider {
	return &kprobeProvider{base: newBase(env, "kprobe", "k"), kind: bpfprobe.KprobeEntry}
}

// NewKretprobe returns the kretprobe provider.
func NewKretprobe(env *Env) Provider {
	return &kprobeProvider{base: newBase(env, "kretprobe", "kr"), kind: bpfprobe.KprobeReturn}
}

// NewKsession returns the ksession provider. Session probes fire on
// both entry and return and can only be attached in batches.
func NewKsession(env *Env) Provider {
	return &kprobeProvider{base: newBase(env, "ksession", "ks"), kind: bpfprobe.KprobeSession}
}

func (p *kprobeProvider) Parse(glob string, btf bpfprobe.BtfLookup, _ int) ([]bpfprobe.AttachPoint, error) {
	parts := strings.Split(glob, ":")
	if len(parts) > 2 {
		return nil, p.parseError(glob, "invalid kprobe format")
	}
	target := "vmlinux"
	fn := parts[len(parts)-1]
	if len(parts) == 2 && parts[0] != "" {
		target = parts[0]
	}

	var offset uint64
	if name, off, ok := strings.Cut(fn, "+"); ok {
		switch p.kind {
		case bpfprobe.KprobeReturn:
			return nil, p.parseError(glob, "kretprobes cannot use offsets")
		case bpfprobe.KprobeSession:
			return nil, p.parseError(glob, "ksession probes cannot use offsets")
		}
		v, err := attachpoint.ParseUint(off)
		if err != nil {
			return nil, p.parseError(glob, "invalid offset: %s", off)
		}
		fn, offset = name, v
	}

	modules, err := matchModules(btf, target)
	if err != nil {
		return nil, err
	}

	var points []bpfprobe.AttachPoint
	for _, module := range modules {
		types, err := btf.KernelBTF(module)
		if err != nil {
			return nil, err
		}
		for _, name := range matchFunctions(types, fn) {
			points = append(points, bpfprobe.KprobePoint{Kind: p.kind, Module: module, Func: name, Offset: offset})
		}
	}
	if len(points) == 0 && !wildcard.HasWildcard(fn) {
		return nil, p.parseError(fn, "function not found")
	}
	return points, nil
}

func (p *kprobeProvider) AttachSingle(point bpfprobe.AttachPoint, prog bpfprobe.Program, _ int) ([]*bpfprobe.AttachedProbe, error) {
	kp, ok := point.(bpfprobe.KprobePoint)
	if !ok {
		return nil, p.attachError(point, "not a kprobe attach point", nil)
	}
	if p.kind == bpfprobe.KprobeSession {
		return nil, p.attachError(point, "ksession probes require multi-attach mode", nil)
	}
	link, err := p.env.Kernel.AttachKprobe(object(prog), kp.Func, kp.Offset, p.kind == bpfprobe.KprobeReturn)
	if err != nil {
		return nil, p.attachError(point, "failed to attach kprobe", err)
	}
	p.logger().Debug("attached", "point", point.Name())
	return []*bpfprobe.AttachedProbe{p.probe(link, point)}, nil
}

func (p *kprobeProvider) AttachMulti(points []bpfprobe.AttachPoint, prog bpfprobe.Program, _ int) ([]*bpfprobe.AttachedProbe, error) {
	if len(points) == 0 {
		return nil, nil
	}
	syms := make([]string, 0, len(points))
	for _, point := range points {
		kp, ok := point.(bpfprobe.KprobePoint)
		if !ok {
			return nil, p.attachError(point, "not a kprobe attach point", nil)
		}
		syms = append(syms, kp.Func)
	}

	var (
		link bpfprobe.Link
		err  error
	)
	if p.kind == bpfprobe.KprobeSession {
		link, err = p.env.Kernel.AttachKprobeSession(object(prog), syms)
		if err != nil {
			return nil, p.attachError(points[0], "failed to attach ksession probe", err)
		}
	} else {
		link, err = p.env.Kernel.AttachKprobeMulti(object(prog), syms, p.kind == bpfprobe.KprobeReturn)
		if err != nil {
			return nil, p.attachError(points[0], "failed to attach multi kprobe", err)
		}
	}
	p.logger().Debug("attached", "count", len(points))
	return []*bpfprobe.AttachedProbe{p.probe(link, points...)}, nil
}

// matchModules returns the kernel modules target names: vmlinux, every
// module matching a wildcard, or the literal module.
func matchModules(btf bpfprobe.BtfLookup, target string) ([]string, error) {
	switch {
	case target == "" || target == "vmlinux":
		return []string{"vmlinux"}, nil
	case wildcard.HasWildcard(target):
		all, err := btf.ListModules()
		if err != nil {
			return nil, err
		}
		pattern := wildcard.Tokens(target)
		var out []string
		for _, m := range all {
			if pattern.Match(m) {
				out = append(out, m)
			}
		}
		return out, nil
	default:
		return []string{target}, nil
	}
}

// matchFunctions returns the functions in types matching fn, which is
// either a wildcard or a literal name checked directly.
func matchFunctions(types bpfprobe.Types, fn string) []string {
	if !wildcard.HasWildcard(fn) {
		if _, ok := types.LookupFunc(fn); ok {
			return []string{fn}
		}
		return nil
	}
	pattern := wildcard.Tokens(fn)
	var out []string
	for name := range types.Functions() {
		if pattern.Match(name) {
			out = append(out, name)
		}
	}
	return out
}
