package providers

import (
	"strings"

	"golang.org/x/sys/unix"

	"github.com/frobware/go-bpfprobe"
	"github.com/frobware/go-bpfprobe/attachpoint"
	"github.com/frobware/go-bpfprobe/interpreter"
)

// Breakpoint types from linux/hw_breakpoint.h.
const (
	hwBreakpointR uint32 = 1
	hwBreakpointW uint32 = 2
	hwBreakpointX uint32 = 4
)

type watchpointProvider struct {
	base
	async bool
}

// NewWatchpoint returns the provider for hardware watchpoints.
func NewWatchpoint(env *Env) Provider {
	return &watchpointProvider{base: newBase(env, "watchpoint", "w")}
}

// NewAsyncWatchpoint returns the watchpoint provider whose probes do
// not stop the traced task.
func NewAsyncWatchpoint(env *Env) Provider {
	return &watchpointProvider{base: newBase(env, "asyncwatchpoint", "aw"), async: true}
}

// Parse accepts "[binary:]where:len:mode" where where is an address or
// "func+argN".
func (p *watchpointProvider) Parse(glob string, _ bpfprobe.BtfLookup, _ int) ([]bpfprobe.AttachPoint, error) {
	parts := strings.Split(glob, ":")
	var binary string
	switch len(parts) {
	case 3:
	case 4:
		binary, parts = parts[0], parts[1:]
	default:
		return nil, p.parseError(glob, "invalid watchpoint format")
	}

	point := bpfprobe.WatchpointPoint{Binary: binary, Async: p.async}
	where := parts[0]
	if fn, arg, ok := strings.Cut(where, "+"); ok {
		n, err := attachpoint.ParseUint(strings.TrimPrefix(arg, "arg"))
		if fn == "" || !strings.HasPrefix(arg, "arg") || err != nil {
			return nil, p.parseError(glob, "invalid function argument: %s", where)
		}
		point.Func, point.Arg = fn, n
	} else {
		addr, err := attachpoint.ParseUint(where)
		if err != nil {
			return nil, p.parseError(glob, "invalid address: %s", where)
		}
		point.Address = addr
	}

	length, err := attachpoint.ParseUint(parts[1])
	if err != nil {
		return nil, p.parseError(glob, "invalid length: %s", parts[1])
	}
	switch length {
	case 1, 2, 4, 8:
	default:
		return nil, p.parseError(glob, "invalid length: %d, must be 1, 2, 4 or 8", length)
	}
	point.Length = length

	if _, ok := breakpointType(parts[2]); !ok {
		return nil, p.parseError(glob, "invalid mode: %s", parts[2])
	}
	point.Mode = parts[2]
	return []bpfprobe.AttachPoint{point}, nil
}

// breakpointType maps a mode made of r, w and x to the breakpoint
// type. x cannot be combined with r or w, and no letter may repeat.
func breakpointType(mode string) (uint32, bool) {
	if mode == "" {
		return 0, false
	}
	var bp uint32
	for _, c := range mode {
		var bit uint32
		switch c {
		case 'r':
			bit = hwBreakpointR
		case 'w':
			bit = hwBreakpointW
		case 'x':
			bit = hwBreakpointX
		default:
			return 0, false
		}
		if bp&bit != 0 {
			return 0, false
		}
		bp |= bit
	}
	if bp&hwBreakpointX != 0 && bp != hwBreakpointX {
		return 0, false
	}
	return bp, true
}

// AttachSingle installs a breakpoint on an absolute address in pid.
// Watchpoints on a function argument are armed by the driver at
// runtime once the argument's value is known.
func (p *watchpointProvider) AttachSingle(point bpfprobe.AttachPoint, prog bpfprobe.Program, pid int) ([]*bpfprobe.AttachedProbe, error) {
	wp, ok := point.(bpfprobe.WatchpointPoint)
	if !ok {
		return nil, p.attachError(point, "not a watchpoint attach point", nil)
	}
	if wp.Func != "" {
		return nil, p.attachError(point, "function argument watchpoints are armed at runtime", nil)
	}
	if pid <= 0 {
		return nil, p.attachError(point, "watchpoints require a pid", nil)
	}
	bp, _ := breakpointType(wp.Mode)
	event := interpreter.PerfEvent{
		Type:           unix.PERF_TYPE_BREAKPOINT,
		SamplePeriod:   1,
		BreakpointType: bp,
		BreakpointAddr: wp.Address,
		BreakpointLen:  wp.Length,
	}
	link, err := p.env.Kernel.AttachPerfEvent(object(prog), event, pid, -1)
	if err != nil {
		return nil, p.attachError(point, "failed to attach watchpoint", err)
	}
	p.logger().Debug("attached", "point", point.Name(), "pid", pid)
	return []*bpfprobe.AttachedProbe{p.probe(link, point)}, nil
}
