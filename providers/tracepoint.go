package providers

import (
	"slices"
	"strings"
	"sync"

	"github.com/frobware/go-bpfprobe"
	"github.com/frobware/go-bpfprobe/wildcard"
)

type tracepointProvider struct {
	base
}

// NewTracepoint returns the tracepoint provider.
func NewTracepoint(env *Env) Provider {
	return &tracepointProvider{base: newBase(env, "tracepoint", "t")}
}

// Parse matches "category:event" against the tracefs event list.
func (p *tracepointProvider) Parse(glob string, _ bpfprobe.BtfLookup, _ int) ([]bpfprobe.AttachPoint, error) {
	events, err := p.env.Tracepoints.AvailableEvents()
	if err != nil {
		return nil, err
	}

	var matched []string
	if wildcard.HasWildcard(glob) {
		pattern := wildcard.Tokens(glob)
		for _, ev := range events {
			if pattern.Match(ev) {
				matched = append(matched, ev)
			}
		}
	} else if slices.Contains(events, glob) {
		matched = []string{glob}
	}

	points := make([]bpfprobe.AttachPoint, 0, len(matched))
	for _, ev := range matched {
		category, event, ok := strings.Cut(ev, ":")
		if !ok {
			return nil, p.parseError(glob, "invalid tracepoint format")
		}
		points = append(points, bpfprobe.TracepointPoint{Category: category, Event: event})
	}
	if len(points) == 0 && !wildcard.HasWildcard(glob) {
		return nil, p.parseError(glob, "tracepoint not found")
	}
	return points, nil
}

func (p *tracepointProvider) AttachSingle(point bpfprobe.AttachPoint, prog bpfprobe.Program, _ int) ([]*bpfprobe.AttachedProbe, error) {
	tp, ok := point.(bpfprobe.TracepointPoint)
	if !ok {
		return nil, p.attachError(point, "not a tracepoint attach point", nil)
	}
	link, err := p.env.Kernel.AttachTracepoint(object(prog), tp.Category, tp.Event)
	if err != nil {
		return nil, p.attachError(point, "failed to attach tracepoint", err)
	}
	p.logger().Debug("attached", "point", point.Name())
	return []*bpfprobe.AttachedProbe{p.probe(link, point)}, nil
}

// rawTracepointPrefix marks the typedefs the kernel emits for every
// raw tracepoint.
const rawTracepointPrefix = "btf_trace_"

type rawTracepointProvider struct {
	base

	mu     sync.Mutex
	events map[string][]string
}

// NewRawTracepoint returns the rawtracepoint provider.
func NewRawTracepoint(env *Env) Provider {
	return &rawTracepointProvider{
		base:   newBase(env, "rawtracepoint", "rt"),
		events: make(map[string][]string),
	}
}

// Parse accepts "module:event" and "event". Without a module, or with a
// module wildcard, every module with BTF is searched; a literal event is
// taken from the first module that defines it.
func (p *rawTracepointProvider) Parse(glob string, btf bpfprobe.BtfLookup, _ int) ([]bpfprobe.AttachPoint, error) {
	parts := strings.Split(glob, ":")
	var target, event string
	switch len(parts) {
	case 1:
		target, event = "*", parts[0]
	case 2:
		target, event = parts[0], parts[1]
	default:
		return nil, p.parseError(glob, "invalid rawtracepoint format")
	}

	modules, err := matchModules(btf, target)
	if err != nil {
		return nil, err
	}
	literal := !wildcard.HasWildcard(event)
	pattern := wildcard.Tokens(event)

	var points []bpfprobe.AttachPoint
	for _, module := range modules {
		names, err := p.moduleEvents(btf, module)
		if err != nil {
			if target == "*" {
				p.logger().Debug("skipping module", "module", module, "error", err)
				continue
			}
			return nil, err
		}
		if literal {
			if _, found := slices.BinarySearch(names, event); found {
				points = append(points, bpfprobe.RawTracepointPoint{Module: module, Event: event})
				break
			}
			continue
		}
		for _, name := range names {
			if pattern.Match(name) {
				points = append(points, bpfprobe.RawTracepointPoint{Module: module, Event: name})
			}
		}
	}
	if len(points) == 0 && literal {
		return nil, p.parseError(glob, "raw tracepoint not found")
	}
	return points, nil
}

// moduleEvents returns the sorted raw tracepoint names of module,
// reading its BTF once.
func (p *rawTracepointProvider) moduleEvents(btf bpfprobe.BtfLookup, module string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if names, ok := p.events[module]; ok {
		return names, nil
	}
	types, err := btf.KernelBTF(module)
	if err != nil {
		return nil, err
	}
	var names []string
	for td := range types.Typedefs() {
		if name, ok := strings.CutPrefix(td, rawTracepointPrefix); ok && name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	p.events[module] = names
	return names, nil
}

func (p *rawTracepointProvider) AttachSingle(point bpfprobe.AttachPoint, prog bpfprobe.Program, _ int) ([]*bpfprobe.AttachedProbe, error) {
	rt, ok := point.(bpfprobe.RawTracepointPoint)
	if !ok {
		return nil, p.attachError(point, "not a raw tracepoint attach point", nil)
	}
	link, err := p.env.Kernel.AttachRawTracepoint(object(prog), rt.Event)
	if err != nil {
		return nil, p.attachError(point, "failed to attach raw tracepoint", err)
	}
	p.logger().Debug("attached", "point", point.Name())
	return []*bpfprobe.AttachedProbe{p.probe(link, point)}, nil
}
