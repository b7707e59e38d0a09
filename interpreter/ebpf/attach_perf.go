package ebpf

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"golang.org/x/sys/unix"

	"github.com/frobware/go-bpfprobe"
	"github.com/frobware/go-bpfprobe/interpreter"
)

// AttachPerfEvent opens a perf event and attaches prog to it, with a
// bpf_link where the kernel supports one and the legacy ioctl
// otherwise.
func (k *kernelAdapter) AttachPerfEvent(prog *ebpf.Program, event interpreter.PerfEvent, pid, cpu int) (bpfprobe.Link, error) {
	k.logger.Debug("AttachPerfEvent called",
		"type", event.Type,
		"config", event.Config,
		"period", event.SamplePeriod,
		"freq", event.SampleFreq,
		"pid", pid,
		"cpu", cpu)

	attr := unix.PerfEventAttr{
		Type:    event.Type,
		Config:  event.Config,
		Bp_type: event.BreakpointType,
		Ext1:    event.BreakpointAddr,
		Ext2:    event.BreakpointLen,
	}
	attr.Size = uint32(unsafe.Sizeof(attr))
	if event.SampleFreq != 0 {
		attr.Sample = event.SampleFreq
		attr.Bits |= unix.PerfBitFreq
	} else {
		attr.Sample = event.SamplePeriod
	}

	if pid <= 0 {
		pid = -1
	}
	fd, err := unix.PerfEventOpen(&attr, pid, cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return nil, bpfprobe.NewSystemError(fmt.Sprintf("perf_event_open type=%d config=%d pid=%d cpu=%d", event.Type, event.Config, pid, cpu), err)
	}

	raw, err := link.AttachRawLink(link.RawLinkOptions{
		Target:  fd,
		Program: prog,
		Attach:  ebpf.AttachPerfEvent,
	})
	if err == nil {
		return &perfEventLink{fd: fd, link: raw}, nil
	}
	k.logger.Debug("perf event bpf_link unavailable, using ioctl", "error", err)

	if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_SET_BPF, prog.FD()); err != nil {
		unix.Close(fd)
		return nil, bpfprobe.NewSystemError("PERF_EVENT_IOC_SET_BPF", err)
	}
	if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
		unix.Close(fd)
		return nil, bpfprobe.NewSystemError("PERF_EVENT_IOC_ENABLE", err)
	}
	return &perfEventLink{fd: fd}, nil
}

// perfEventLink owns a perf event fd and, when the kernel supports it,
// the bpf_link attaching a program to it.
type perfEventLink struct {
	fd   int
	link link.Link
}

func (l *perfEventLink) Close() error {
	var errs []error
	if l.link != nil {
		if err := l.link.Close(); err != nil {
			errs = append(errs, err)
		}
	} else if err := unix.IoctlSetInt(l.fd, unix.PERF_EVENT_IOC_DISABLE, 0); err != nil {
		errs = append(errs, err)
	}
	if err := unix.Close(l.fd); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
