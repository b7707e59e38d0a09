package bpfprobe

import (
	"fmt"
	"strconv"

	"github.com/cilium/ebpf"
)

// Action classifies when the driver runs a probe.
type Action int

const (
	// ActionAttach probes fire from a kernel hook.
	ActionAttach Action = iota
	// ActionPre probes run once before any other probe is attached.
	ActionPre
	// ActionOnce probes run once, synchronously.
	ActionOnce
	// ActionPost probes run once after every probe is detached.
	ActionPost
	// ActionManual probes run when the driver decides.
	ActionManual
)

func (a Action) String() string {
	switch a {
	case ActionPre:
		return "pre"
	case ActionOnce:
		return "once"
	case ActionPost:
		return "post"
	case ActionManual:
		return "manual"
	default:
		return "attach"
	}
}

// AttachPoint is one fully resolved, glob-free instrumentable
// location. The set of implementations is closed: every variant is
// declared in this file and consumers switch on the concrete type.
type AttachPoint interface {
	// Name is the canonical target name within the provider.
	Name() string
	Action() Action
	ProgramType() ebpf.ProgramType
	// CanMultiAttach reports whether the point can be batched into a
	// single kernel call with its siblings.
	CanMultiAttach() bool

	attachPoint()
}

// KprobeKind selects entry, return or session semantics.
type KprobeKind int

const (
	KprobeEntry KprobeKind = iota
	KprobeReturn
	KprobeSession
)

// KprobePoint is a kernel function entry, return or session probe.
type KprobePoint struct {
	Kind   KprobeKind
	Module string
	Func   string
	Offset uint64
}

func (p KprobePoint) Name() string {
	name := p.Func
	if !isVmlinux(p.Module) {
		name = p.Module + ":" + name
	}
	if p.Offset != 0 {
		name += "+" + strconv.FormatUint(p.Offset, 10)
	}
	return name
}

func (KprobePoint) Action() Action                { return ActionAttach }
func (KprobePoint) ProgramType() ebpf.ProgramType { return ebpf.Kprobe }
func (p KprobePoint) CanMultiAttach() bool        { return p.Offset == 0 && isVmlinux(p.Module) }
func (KprobePoint) attachPoint()                  {}

// UprobePoint is a user-space function entry or return probe.
type UprobePoint struct {
	Return bool
	Binary string
	Func   string
	Offset uint64
	// Address is an absolute address in Binary; Func is empty when set.
	Address uint64
}

func (p UprobePoint) Name() string {
	fn := p.Func
	if fn == "" && p.Address != 0 {
		fn = strconv.FormatUint(p.Address, 10)
	}
	name := p.Binary + ":" + fn
	if p.Offset != 0 {
		name += "+" + strconv.FormatUint(p.Offset, 10)
	}
	return name
}

func (UprobePoint) Action() Action                { return ActionAttach }
func (UprobePoint) ProgramType() ebpf.ProgramType { return ebpf.Kprobe }
func (p UprobePoint) CanMultiAttach() bool        { return p.Address == 0 && p.Offset == 0 }
func (UprobePoint) attachPoint()                  {}

// USDTLocation is one site of a statically defined probe inside a
// binary, as recorded in its ELF notes.
type USDTLocation struct {
	// Offset is the file offset of the probe instruction.
	Offset uint64
	// Semaphore is the file offset of the reference counter, or zero.
	Semaphore uint64
}

// USDTPoint is a user statically defined tracing probe.
type USDTPoint struct {
	Binary    string
	Namespace string
	Probe     string
	Locations []USDTLocation
}

func (p USDTPoint) Name() string {
	if p.Namespace == "" {
		return p.Binary + ":" + p.Probe
	}
	return p.Binary + ":" + p.Namespace + ":" + p.Probe
}

func (USDTPoint) Action() Action                { return ActionAttach }
func (USDTPoint) ProgramType() ebpf.ProgramType { return ebpf.Kprobe }
func (USDTPoint) CanMultiAttach() bool          { return false }
func (USDTPoint) attachPoint()                  {}

// TracepointPoint is a static kernel tracepoint.
type TracepointPoint struct {
	Category string
	Event    string
}

func (p TracepointPoint) Name() string {
	if p.Category == "" {
		return p.Event
	}
	return p.Category + ":" + p.Event
}

func (TracepointPoint) Action() Action                { return ActionAttach }
func (TracepointPoint) ProgramType() ebpf.ProgramType { return ebpf.TracePoint }
func (TracepointPoint) CanMultiAttach() bool          { return false }
func (TracepointPoint) attachPoint()                  {}

// RawTracepointPoint is a raw kernel tracepoint.
type RawTracepointPoint struct {
	Module string
	Event  string
}

func (p RawTracepointPoint) Name() string {
	if isVmlinux(p.Module) {
		return p.Event
	}
	return p.Module + ":" + p.Event
}

func (RawTracepointPoint) Action() Action                { return ActionAttach }
func (RawTracepointPoint) ProgramType() ebpf.ProgramType { return ebpf.RawTracepoint }
func (RawTracepointPoint) CanMultiAttach() bool          { return false }
func (RawTracepointPoint) attachPoint()                  {}

// FentryPoint is a BTF-typed fentry or fexit trampoline. Module "bpf"
// targets a loaded BPF program, in which case Func is "id:name".
type FentryPoint struct {
	Return bool
	Module string
	Func   string
	ProgID uint32
}

func (p FentryPoint) Name() string {
	if isVmlinux(p.Module) {
		return p.Func
	}
	return p.Module + ":" + p.Func
}

func (FentryPoint) Action() Action                { return ActionAttach }
func (FentryPoint) ProgramType() ebpf.ProgramType { return ebpf.Tracing }
func (FentryPoint) CanMultiAttach() bool          { return false }
func (FentryPoint) attachPoint()                  {}

// IterPoint is a BPF iterator.
type IterPoint struct {
	Iter string
	Pin  string
}

func (p IterPoint) Name() string                 { return p.Iter }
func (IterPoint) Action() Action                { return ActionAttach }
func (IterPoint) ProgramType() ebpf.ProgramType { return ebpf.Tracing }
func (IterPoint) CanMultiAttach() bool          { return false }
func (IterPoint) attachPoint()                  {}

// PerfPoint is a software or hardware perf counter.
type PerfPoint struct {
	Event  string
	Type   uint32
	Config uint64
	// Count is the sample period: one event every Count occurrences.
	Count uint64
	// UserCount is set when Count came from the spec rather than the
	// event's default.
	UserCount bool
}

func (p PerfPoint) Name() string {
	if p.UserCount {
		return p.Event + ":" + strconv.FormatUint(p.Count, 10)
	}
	return p.Event
}

func (PerfPoint) Action() Action                { return ActionAttach }
func (PerfPoint) ProgramType() ebpf.ProgramType { return ebpf.PerfEvent }
func (PerfPoint) CanMultiAttach() bool          { return false }
func (PerfPoint) attachPoint()                  {}

// ProfilePoint samples on every CPU by frequency or period. Exactly
// one of Hz and PeriodNS is non-zero.
type ProfilePoint struct {
	Hz       uint64
	PeriodNS uint64
}

func (p ProfilePoint) Name() string {
	if p.Hz != 0 {
		return "hz:" + strconv.FormatUint(p.Hz, 10)
	}
	unit, scale := durationUnit(p.PeriodNS)
	return unit + ":" + strconv.FormatUint(p.PeriodNS/scale, 10)
}

func (ProfilePoint) Action() Action                { return ActionAttach }
func (ProfilePoint) ProgramType() ebpf.ProgramType { return ebpf.PerfEvent }
func (ProfilePoint) CanMultiAttach() bool          { return false }
func (ProfilePoint) attachPoint()                  {}

// IntervalPoint fires on one CPU at a fixed period.
type IntervalPoint struct {
	PeriodNS uint64
}

func (p IntervalPoint) Name() string {
	unit, scale := durationUnit(p.PeriodNS)
	return strconv.FormatUint(p.PeriodNS/scale, 10) + unit
}

func (IntervalPoint) Action() Action                { return ActionAttach }
func (IntervalPoint) ProgramType() ebpf.ProgramType { return ebpf.PerfEvent }
func (IntervalPoint) CanMultiAttach() bool          { return false }
func (IntervalPoint) attachPoint()                  {}

// WatchpointPoint is a hardware breakpoint on a memory range. Either
// Address is set, or Func and Arg name a function argument whose value
// is the address at runtime.
type WatchpointPoint struct {
	Binary  string
	Address uint64
	Func    string
	Arg     uint64
	Length  uint64
	Mode    string
	Async   bool
}

func (p WatchpointPoint) Name() string {
	where := fmt.Sprintf("0x%x", p.Address)
	if p.Func != "" {
		where = fmt.Sprintf("%s+arg%d", p.Func, p.Arg)
	}
	return fmt.Sprintf("%s:%d:%s", where, p.Length, p.Mode)
}

func (WatchpointPoint) Action() Action                { return ActionAttach }
func (WatchpointPoint) ProgramType() ebpf.ProgramType { return ebpf.PerfEvent }
func (WatchpointPoint) CanMultiAttach() bool          { return false }
func (WatchpointPoint) attachPoint()                  {}

// SpecialKind distinguishes the begin, end and self probes.
type SpecialKind int

const (
	SpecialBegin SpecialKind = iota
	SpecialEnd
	SpecialSelf
)

func (k SpecialKind) String() string {
	switch k {
	case SpecialEnd:
		return "end"
	case SpecialSelf:
		return "self"
	default:
		return "begin"
	}
}

// SpecialPoint is a begin, end or self probe. These are never attached;
// the driver runs them with RunSingle.
type SpecialPoint struct {
	Kind  SpecialKind
	Label string
}

func (p SpecialPoint) Name() string {
	if p.Label == "" {
		return p.Kind.String()
	}
	return p.Label
}

func (p SpecialPoint) Action() Action {
	switch p.Kind {
	case SpecialEnd:
		return ActionPost
	case SpecialSelf:
		return ActionManual
	default:
		return ActionPre
	}
}

func (SpecialPoint) ProgramType() ebpf.ProgramType { return ebpf.XDP }
func (SpecialPoint) CanMultiAttach() bool          { return false }
func (SpecialPoint) attachPoint()                  {}

// BenchmarkPoint is a named benchmark run synchronously many times.
type BenchmarkPoint struct {
	Label string
}

func (p BenchmarkPoint) Name() string                 { return p.Label }
func (BenchmarkPoint) Action() Action                { return ActionOnce }
func (BenchmarkPoint) ProgramType() ebpf.ProgramType { return ebpf.XDP }
func (BenchmarkPoint) CanMultiAttach() bool          { return false }
func (BenchmarkPoint) attachPoint()                  {}

func isVmlinux(module string) bool {
	return module == "" || module == "vmlinux"
}

// durationUnit picks the largest unit that divides ns exactly.
func durationUnit(ns uint64) (string, uint64) {
	switch {
	case ns >= 1_000_000_000 && ns%1_000_000_000 == 0:
		return "s", 1_000_000_000
	case ns >= 1_000_000 && ns%1_000_000 == 0:
		return "ms", 1_000_000
	case ns >= 1_000 && ns%1_000 == 0:
		return "us", 1_000
	default:
		return "ns", 1
	}
}
