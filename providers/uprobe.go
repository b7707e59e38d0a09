package providers

import (
	"slices"
	"strings"

	"github.com/frobware/go-bpfprobe"
	"github.com/frobware/go-bpfprobe/attachpoint"
	"github.com/frobware/go-bpfprobe/interpreter"
	"github.com/frobware/go-bpfprobe/symbols"
	"github.com/frobware/go-bpfprobe/wildcard"
)

type uprobeProvider struct {
	base
	ret bool
}

// NewUprobe returns the uprobe provider.
func NewUprobe(env *Env) Provider {
	return &uprobeProvider{base: newBase(env, "uprobe", "u")}
}

// NewUretprobe returns the uretprobe provider.
func NewUretprobe(env *Env) Provider {
	return &uprobeProvider{base: newBase(env, "uretprobe", "ur"), ret: true}
}

// Parse accepts "binary:func[+off]", "binary:lang:func" and
// "binary:address".
func (p *uprobeProvider) Parse(glob string, _ bpfprobe.BtfLookup, pid int) ([]bpfprobe.AttachPoint, error) {
	target, fn, ok := strings.Cut(glob, ":")
	if !ok || fn == "" {
		return nil, p.parseError(glob, "invalid uprobe format")
	}
	// C++ and Rust names contain "::", so only a known language is
	// split off the function.
	var demangle bool
	if lang, name, ok := strings.Cut(fn, ":"); ok && attachpoint.IsSupportedLang(lang) {
		fn, demangle = name, true
	}

	var offset, address uint64
	if name, off, ok := strings.Cut(fn, "+"); ok {
		if p.ret {
			return nil, p.parseError(glob, "uretprobes cannot use offsets")
		}
		v, err := attachpoint.ParseUint(off)
		if err != nil {
			return nil, p.parseError(glob, "invalid offset: %s", off)
		}
		fn, offset = name, v
	} else if v, err := attachpoint.ParseUint(fn); err == nil {
		address = v
	}

	if address != 0 {
		if wildcard.HasWildcard(target) {
			return nil, p.parseError(glob, "cannot use wildcards with absolute address")
		}
		bins, err := p.binaries(target, pid)
		if err != nil || len(bins) == 0 {
			return nil, p.parseError(glob, "binary not found")
		}
		return []bpfprobe.AttachPoint{bpfprobe.UprobePoint{Return: p.ret, Binary: bins[0], Address: address}}, nil
	}

	bins, err := p.binaries(target, pid)
	if err != nil {
		return nil, err
	}
	if len(bins) == 0 && !wildcard.HasWildcard(target) {
		return nil, p.parseError(glob, "binary not found")
	}

	m := newSymbolMatcher(fn, demangle)
	var points []bpfprobe.AttachPoint
	for _, bin := range bins {
		table, err := p.env.Symbols.Table(bin)
		if err != nil {
			if !wildcard.HasWildcard(target) {
				return nil, p.parseError(glob, "%v", err)
			}
			p.logger().Debug("skipping binary", "path", bin, "error", err)
			continue
		}
		for _, name := range m.match(table) {
			points = append(points, bpfprobe.UprobePoint{Return: p.ret, Binary: bin, Func: name, Offset: offset})
		}
	}
	if len(points) == 0 && !wildcard.HasWildcard(glob) {
		return nil, p.parseError(glob, "function not found")
	}
	return points, nil
}

// binaries resolves a binary target to paths. "*" with a pid means
// every file the process maps.
func (p *uprobeProvider) binaries(target string, pid int) ([]string, error) {
	return resolveBinaries(p.env.Processes, target, pid)
}

func resolveBinaries(procs Processes, target string, pid int) ([]string, error) {
	switch {
	case target == "*" && pid > 0:
		return procs.MappedPaths(pid)
	case wildcard.HasWildcard(target) || !strings.Contains(target, "/"):
		return procs.ResolveBinaryPath(target, pid)
	default:
		return []string{target}, nil
	}
}

// symbolMatcher matches a function glob against raw and, for C++ and
// Rust, demangled symbol names.
type symbolMatcher struct {
	literal  string
	pattern  wildcard.Pattern
	wild     bool
	demangle bool
	truncate bool
}

func newSymbolMatcher(fn string, demangle bool) symbolMatcher {
	m := symbolMatcher{
		literal:  fn,
		pattern:  wildcard.Tokens(fn),
		wild:     wildcard.HasWildcard(fn),
		demangle: demangle,
	}
	// Without a parameter list in the glob, "ns::f" should match
	// "ns::f(int)".
	m.truncate = demangle && !slices.ContainsFunc(m.pattern.Tokens, func(t string) bool {
		return strings.Contains(t, "(")
	})
	return m
}

func (m symbolMatcher) match(table *symbols.Table) []string {
	if !m.wild && !m.demangle {
		if _, ok := table.Lookup(m.literal); ok {
			return []string{m.literal}
		}
		return nil
	}
	var out []string
	for _, sym := range table.Symbols() {
		if strings.Contains(sym.Name, ".part.") {
			// Compiler-split fragments cannot be probed.
			continue
		}
		if m.pattern.Match(sym.Name) || m.matchDemangled(sym.Name) {
			out = append(out, sym.Name)
		}
	}
	return out
}

func (m symbolMatcher) matchDemangled(name string) bool {
	if !m.demangle || !symbols.HasMangledSignature(name) {
		return false
	}
	d, ok := symbols.Demangle(name)
	if !ok {
		return false
	}
	if m.truncate {
		d = symbols.EraseParameterList(d)
	}
	return m.pattern.Match(d)
}

func (p *uprobeProvider) AttachSingle(point bpfprobe.AttachPoint, prog bpfprobe.Program, pid int) ([]*bpfprobe.AttachedProbe, error) {
	up, ok := point.(bpfprobe.UprobePoint)
	if !ok {
		return nil, p.attachError(point, "not a uprobe attach point", nil)
	}
	link, err := p.env.Kernel.AttachUprobe(object(prog), interpreter.UprobeTarget{
		Binary:  up.Binary,
		Symbol:  up.Func,
		Address: up.Address,
		Offset:  up.Offset,
		Pid:     pid,
	}, p.ret)
	if err != nil {
		return nil, p.attachError(point, "failed to attach uprobe", err)
	}
	p.logger().Debug("attached", "point", point.Name())
	return []*bpfprobe.AttachedProbe{p.probe(link, point)}, nil
}

// AttachMulti creates one uprobe-multi link per binary, in the order
// binaries first appear in points.
func (p *uprobeProvider) AttachMulti(points []bpfprobe.AttachPoint, prog bpfprobe.Program, pid int) ([]*bpfprobe.AttachedProbe, error) {
	if len(points) == 0 {
		return nil, nil
	}
	var order []string
	groups := make(map[string][]bpfprobe.AttachPoint)
	for _, point := range points {
		up, ok := point.(bpfprobe.UprobePoint)
		if !ok {
			return nil, p.attachError(point, "not a uprobe attach point", nil)
		}
		if _, seen := groups[up.Binary]; !seen {
			order = append(order, up.Binary)
		}
		groups[up.Binary] = append(groups[up.Binary], point)
	}

	var (
		result []*bpfprobe.AttachedProbe
		undo   undoStack
	)
	for _, bin := range order {
		group := groups[bin]
		syms := make([]string, len(group))
		for i, point := range group {
			syms[i] = point.(bpfprobe.UprobePoint).Func
		}
		link, err := p.env.Kernel.AttachUprobeMulti(object(prog), bin, syms, pid, p.ret)
		if err != nil {
			if rbErr := undo.rollback(p.logger()); rbErr != nil {
				p.logger().Error("rollback after failed uprobe-multi", "error", rbErr)
			}
			return nil, p.attachError(group[0], "failed to attach multi uprobe", err)
		}
		probe := p.probe(link, group...)
		undo.push(probe.Close)
		result = append(result, probe)
	}
	p.logger().Debug("attached", "count", len(points), "binaries", len(order))
	return result, nil
}
