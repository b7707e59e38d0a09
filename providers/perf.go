package providers

import (
	"strings"

	"golang.org/x/sys/unix"

	"github.com/frobware/go-bpfprobe"
	"github.com/frobware/go-bpfprobe/attachpoint"
	"github.com/frobware/go-bpfprobe/interpreter"
	"github.com/frobware/go-bpfprobe/wildcard"
)

// perfEvent is one named software or hardware counter. Count is the
// default sample period.
type perfEvent struct {
	path   string
	alias  string
	config uint64
	count  uint64
}

var softwareEvents = []perfEvent{
	{path: "alignment-faults", config: unix.PERF_COUNT_SW_ALIGNMENT_FAULTS, count: 1},
	{path: "bpf-output", config: unix.PERF_COUNT_SW_BPF_OUTPUT, count: 1},
	{path: "context-switches", alias: "cs", config: unix.PERF_COUNT_SW_CONTEXT_SWITCHES, count: 1000},
	{path: "cpu-clock", alias: "cpu", config: unix.PERF_COUNT_SW_CPU_CLOCK, count: 1000000},
	{path: "cpu-migrations", config: unix.PERF_COUNT_SW_CPU_MIGRATIONS, count: 1},
	{path: "dummy", config: unix.PERF_COUNT_SW_DUMMY, count: 1},
	{path: "emulation-faults", config: unix.PERF_COUNT_SW_EMULATION_FAULTS, count: 1},
	{path: "major-faults", config: unix.PERF_COUNT_SW_PAGE_FAULTS_MAJ, count: 1},
	{path: "minor-faults", config: unix.PERF_COUNT_SW_PAGE_FAULTS_MIN, count: 100},
	{path: "page-faults", alias: "faults", config: unix.PERF_COUNT_SW_PAGE_FAULTS, count: 100},
	{path: "task-clock", config: unix.PERF_COUNT_SW_TASK_CLOCK, count: 1},
}

var hardwareEvents = []perfEvent{
	{path: "backend-stalls", config: unix.PERF_COUNT_HW_STALLED_CYCLES_BACKEND, count: 1000000},
	{path: "branch-instructions", alias: "branches", config: unix.PERF_COUNT_HW_BRANCH_INSTRUCTIONS, count: 100000},
	{path: "branch-misses", config: unix.PERF_COUNT_HW_BRANCH_MISSES, count: 100000},
	{path: "bus-cycles", config: unix.PERF_COUNT_HW_BUS_CYCLES, count: 100000},
	{path: "cache-misses", config: unix.PERF_COUNT_HW_CACHE_MISSES, count: 1000000},
	{path: "cache-references", config: unix.PERF_COUNT_HW_CACHE_REFERENCES, count: 1000000},
	{path: "cpu-cycles", alias: "cycles", config: unix.PERF_COUNT_HW_CPU_CYCLES, count: 1000000},
	{path: "frontend-stalls", config: unix.PERF_COUNT_HW_STALLED_CYCLES_FRONTEND, count: 1000000},
	{path: "instructions", config: unix.PERF_COUNT_HW_INSTRUCTIONS, count: 1000000},
	{path: "ref-cycles", config: unix.PERF_COUNT_HW_REF_CPU_CYCLES, count: 1000000},
}

type perfProvider struct {
	base
	perfType uint32
	events   []perfEvent
}

// NewSoftware returns the provider for kernel software counters.
func NewSoftware(env *Env) Provider {
	return &perfProvider{base: newBase(env, "software", "s"), perfType: unix.PERF_TYPE_SOFTWARE, events: softwareEvents}
}

// NewHardware returns the provider for CPU hardware counters.
func NewHardware(env *Env) Provider {
	return &perfProvider{base: newBase(env, "hardware", "h"), perfType: unix.PERF_TYPE_HARDWARE, events: hardwareEvents}
}

// Parse accepts "event" and "event:count". A wildcard event lists the
// table and is matched against both names.
func (p *perfProvider) Parse(glob string, _ bpfprobe.BtfLookup, _ int) ([]bpfprobe.AttachPoint, error) {
	name, countStr, hasCount := strings.Cut(glob, ":")

	var (
		count     uint64
		userCount = hasCount && countStr != "" && countStr != "*"
	)
	if userCount {
		n, err := attachpoint.ParseUint(countStr)
		if err != nil || n == 0 {
			return nil, p.parseError(glob, "invalid count: %s", countStr)
		}
		count = n
	}

	point := func(ev perfEvent) bpfprobe.PerfPoint {
		pp := bpfprobe.PerfPoint{Event: ev.path, Type: p.perfType, Config: ev.config, Count: ev.count}
		if userCount {
			pp.Count, pp.UserCount = count, true
		}
		return pp
	}

	if wildcard.HasWildcard(name) {
		pattern := wildcard.Tokens(name)
		var points []bpfprobe.AttachPoint
		for _, ev := range p.events {
			if pattern.Match(ev.path) || (ev.alias != "" && pattern.Match(ev.alias)) {
				points = append(points, point(ev))
			}
		}
		return points, nil
	}
	for _, ev := range p.events {
		if name == ev.path || (ev.alias != "" && name == ev.alias) {
			return []bpfprobe.AttachPoint{point(ev)}, nil
		}
	}
	return nil, p.parseError(glob, "unknown perf event")
}

func (p *perfProvider) AttachSingle(point bpfprobe.AttachPoint, prog bpfprobe.Program, pid int) ([]*bpfprobe.AttachedProbe, error) {
	pp, ok := point.(bpfprobe.PerfPoint)
	if !ok {
		return nil, p.attachError(point, "not a perf attach point", nil)
	}
	event := interpreter.PerfEvent{Type: pp.Type, Config: pp.Config, SamplePeriod: pp.Count}
	return p.attachPerCPU(point, event, prog, pid, "failed to attach perf event")
}

// attachPerCPU opens event once for pid on any CPU, or once per online
// CPU when pid is unset. Either every event attaches or none stay
// open.
func (b base) attachPerCPU(point bpfprobe.AttachPoint, event interpreter.PerfEvent, prog bpfprobe.Program, pid int, detail string) ([]*bpfprobe.AttachedProbe, error) {
	if pid > 0 {
		link, err := b.env.Kernel.AttachPerfEvent(object(prog), event, pid, -1)
		if err != nil {
			return nil, b.attachError(point, detail, err)
		}
		b.logger().Debug("attached", "point", point.Name(), "pid", pid)
		return []*bpfprobe.AttachedProbe{b.probe(link, point)}, nil
	}

	cpus, err := b.env.Kernel.OnlineCPUs()
	if err != nil {
		return nil, bpfprobe.NewSystemError("failed to list online cpus", err)
	}
	return b.attachCPUs(point, event, prog, cpus, detail)
}

// attachCPUs opens event on each of cpus, rolling back on failure.
func (b base) attachCPUs(point bpfprobe.AttachPoint, event interpreter.PerfEvent, prog bpfprobe.Program, cpus []int, detail string) ([]*bpfprobe.AttachedProbe, error) {
	var (
		undo   undoStack
		probes []*bpfprobe.AttachedProbe
	)
	for _, cpu := range cpus {
		link, err := b.env.Kernel.AttachPerfEvent(object(prog), event, -1, cpu)
		if err != nil {
			if rbErr := undo.rollback(b.logger()); rbErr != nil {
				b.logger().Error("rollback after failed perf event attach", "error", rbErr)
			}
			return nil, b.attachError(point, detail, err)
		}
		probe := b.probe(link, point)
		undo.push(probe.Close)
		probes = append(probes, probe)
	}
	b.logger().Debug("attached", "point", point.Name(), "cpus", len(cpus))
	return probes, nil
}
