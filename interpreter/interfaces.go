// Package interpreter contains the interface through which providers
// mutate kernel state. Implementations of KernelOperations are the
// only code that creates BPF links.
package interpreter

import (
	"context"
	"iter"

	"github.com/cilium/ebpf"

	"github.com/frobware/go-bpfprobe"
	"github.com/frobware/go-bpfprobe/kernel"
)

// UprobeTarget locates one user-space probe site.
type UprobeTarget struct {
	Binary string
	// Symbol is resolved in Binary unless Address is set.
	Symbol string
	// Address is a file offset overriding Symbol.
	Address uint64
	Offset  uint64
	// RefCtrOffset is the file offset of a USDT semaphore, or zero.
	RefCtrOffset uint64
	// Pid restricts the probe to one process; <= 0 means all.
	Pid int
}

// PerfEvent describes a perf_event_open request.
type PerfEvent struct {
	Type   uint32
	Config uint64
	// Exactly one of SamplePeriod and SampleFreq is non-zero.
	SamplePeriod uint64
	SampleFreq   uint64
	// Breakpoint fields, used when Type is PERF_TYPE_BREAKPOINT.
	BreakpointType uint32
	BreakpointAddr uint64
	BreakpointLen  uint64
}

// KernelOperations creates kernel attachments for loaded programs.
// Returned links are owned by the caller.
type KernelOperations interface {
	AttachKprobe(prog *ebpf.Program, symbol string, offset uint64, ret bool) (bpfprobe.Link, error)
	AttachKprobeMulti(prog *ebpf.Program, symbols []string, ret bool) (bpfprobe.Link, error)
	AttachKprobeSession(prog *ebpf.Program, symbols []string) (bpfprobe.Link, error)

	AttachUprobe(prog *ebpf.Program, target UprobeTarget, ret bool) (bpfprobe.Link, error)
	AttachUprobeMulti(prog *ebpf.Program, binary string, symbols []string, pid int, ret bool) (bpfprobe.Link, error)

	AttachTracepoint(prog *ebpf.Program, group, name string) (bpfprobe.Link, error)
	AttachRawTracepoint(prog *ebpf.Program, name string) (bpfprobe.Link, error)
	// AttachTracing attaches an fentry or fexit program to the target
	// it was loaded against.
	AttachTracing(prog *ebpf.Program) (bpfprobe.Link, error)
	// AttachIter creates an iterator link and pins it at pin when pin
	// is non-empty.
	AttachIter(prog *ebpf.Program, pin string) (bpfprobe.Link, error)
	// AttachPerfEvent opens a perf event on (pid, cpu) and attaches
	// prog to it. Closing the link closes the perf event.
	AttachPerfEvent(prog *ebpf.Program, event PerfEvent, pid, cpu int) (bpfprobe.Link, error)

	// RunProgram executes prog repeat times via BPF_PROG_TEST_RUN and
	// returns its return value.
	RunProgram(prog *ebpf.Program, repeat uint32) (uint32, error)

	// Programs iterates BPF programs loaded in the kernel.
	Programs(ctx context.Context) iter.Seq2[kernel.Program, error]
	// OnlineCPUs lists the CPUs perf events can be opened on.
	OnlineCPUs() ([]int, error)
}
