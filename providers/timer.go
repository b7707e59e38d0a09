package providers

import (
	"math"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/frobware/go-bpfprobe"
	"github.com/frobware/go-bpfprobe/attachpoint"
	"github.com/frobware/go-bpfprobe/interpreter"
	"github.com/frobware/go-bpfprobe/wildcard"
)

// timeUnits maps a period unit to nanoseconds.
var timeUnits = map[string]uint64{
	"s":  1_000_000_000,
	"ms": 1_000_000,
	"us": 1_000,
	"ns": 1,
}

// scale multiplies value by the unit's nanoseconds, reporting overflow.
func scale(value uint64, unit string) (uint64, bool) {
	ns := timeUnits[unit]
	if value > math.MaxUint64/ns {
		return 0, false
	}
	return value * ns, true
}

type profileProvider struct {
	base
}

// NewProfile returns the provider that samples every CPU.
func NewProfile(env *Env) Provider {
	return &profileProvider{base: newBase(env, "profile", "p")}
}

// Parse accepts "hz:N" and "unit:N" with unit one of s, ms, us or ns.
// A wildcard glob is a listing query and yields nothing.
func (p *profileProvider) Parse(glob string, _ bpfprobe.BtfLookup, _ int) ([]bpfprobe.AttachPoint, error) {
	if wildcard.HasWildcard(glob) {
		return nil, nil
	}
	unit, rate, ok := strings.Cut(glob, ":")
	if !ok || strings.Contains(rate, ":") {
		return nil, p.parseError(glob, "invalid profile format")
	}
	n, err := attachpoint.ParseUint(rate)
	if err != nil || n == 0 {
		return nil, p.parseError(glob, "invalid rate value")
	}
	if unit == "hz" {
		return []bpfprobe.AttachPoint{bpfprobe.ProfilePoint{Hz: n}}, nil
	}
	if _, known := timeUnits[unit]; !known {
		return nil, p.parseError(glob, "invalid unit")
	}
	ns, ok := scale(n, unit)
	if !ok {
		return nil, p.parseError(glob, "overflow in rate value")
	}
	return []bpfprobe.AttachPoint{bpfprobe.ProfilePoint{PeriodNS: ns}}, nil
}

func (p *profileProvider) AttachSingle(point bpfprobe.AttachPoint, prog bpfprobe.Program, pid int) ([]*bpfprobe.AttachedProbe, error) {
	pp, ok := point.(bpfprobe.ProfilePoint)
	if !ok {
		return nil, p.attachError(point, "not a profile attach point", nil)
	}
	event := interpreter.PerfEvent{
		Type:         unix.PERF_TYPE_SOFTWARE,
		Config:       unix.PERF_COUNT_SW_CPU_CLOCK,
		SampleFreq:   pp.Hz,
		SamplePeriod: pp.PeriodNS,
	}
	return p.attachPerCPU(point, event, prog, pid, "failed to attach profile")
}

type intervalProvider struct {
	base
}

// NewInterval returns the provider for a periodic timer on one CPU.
func NewInterval(env *Env) Provider {
	return &intervalProvider{base: newBase(env, "interval", "i")}
}

// Parse accepts "unit:N" and "N", the latter in nanoseconds. A
// wildcard glob is a listing query and yields nothing.
func (p *intervalProvider) Parse(glob string, _ bpfprobe.BtfLookup, _ int) ([]bpfprobe.AttachPoint, error) {
	if wildcard.HasWildcard(glob) {
		return nil, nil
	}
	unit, value := "ns", glob
	switch parts := strings.Split(glob, ":"); len(parts) {
	case 1:
	case 2:
		unit, value = parts[0], parts[1]
		if _, known := timeUnits[unit]; !known {
			return nil, p.parseError(glob, "invalid interval unit")
		}
	default:
		return nil, p.parseError(glob, "invalid interval format")
	}
	n, err := attachpoint.ParseUint(value)
	if err != nil || n == 0 {
		return nil, p.parseError(glob, "invalid interval value")
	}
	ns, ok := scale(n, unit)
	if !ok {
		return nil, p.parseError(glob, "overflow in interval value")
	}
	return []bpfprobe.AttachPoint{bpfprobe.IntervalPoint{PeriodNS: ns}}, nil
}

// AttachSingle opens the timer on the first online CPU for every
// process.
func (p *intervalProvider) AttachSingle(point bpfprobe.AttachPoint, prog bpfprobe.Program, _ int) ([]*bpfprobe.AttachedProbe, error) {
	ip, ok := point.(bpfprobe.IntervalPoint)
	if !ok {
		return nil, p.attachError(point, "not an interval attach point", nil)
	}
	cpus, err := p.env.Kernel.OnlineCPUs()
	if err != nil {
		return nil, bpfprobe.NewSystemError("failed to list online cpus", err)
	}
	if len(cpus) == 0 {
		return nil, p.attachError(point, "no online cpus", nil)
	}
	event := interpreter.PerfEvent{
		Type:         unix.PERF_TYPE_SOFTWARE,
		Config:       unix.PERF_COUNT_SW_CPU_CLOCK,
		SamplePeriod: ip.PeriodNS,
	}
	return p.attachCPUs(point, event, prog, cpus[:1], "failed to attach interval")
}
