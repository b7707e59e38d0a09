package ebpf

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"

	"github.com/frobware/go-bpfprobe"
	"github.com/frobware/go-bpfprobe/interpreter"
)

// AttachUprobe attaches prog to one user-space location. A set Address
// bypasses symbol lookup in the binary.
func (k *kernelAdapter) AttachUprobe(prog *ebpf.Program, target interpreter.UprobeTarget, ret bool) (bpfprobe.Link, error) {
	k.logger.Debug("AttachUprobe called",
		"binary", target.Binary,
		"symbol", target.Symbol,
		"address", target.Address,
		"offset", target.Offset,
		"ref_ctr_offset", target.RefCtrOffset,
		"pid", target.Pid,
		"retprobe", ret)

	ex, err := link.OpenExecutable(target.Binary)
	if err != nil {
		return nil, fmt.Errorf("open executable %s: %w", target.Binary, err)
	}

	opts := &link.UprobeOptions{
		Address:      target.Address,
		Offset:       target.Offset,
		RefCtrOffset: target.RefCtrOffset,
	}
	if target.Pid > 0 {
		opts.PID = target.Pid
	}

	var lnk link.Link
	if ret {
		lnk, err = ex.Uretprobe(target.Symbol, prog, opts)
	} else {
		lnk, err = ex.Uprobe(target.Symbol, prog, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("attach uprobe to %s in %s: %w", target.Symbol, target.Binary, err)
	}
	return lnk, nil
}

// AttachUprobeMulti attaches prog to every symbol in binary with one
// uprobe-multi link.
func (k *kernelAdapter) AttachUprobeMulti(prog *ebpf.Program, binary string, symbols []string, pid int, ret bool) (bpfprobe.Link, error) {
	k.logger.Debug("AttachUprobeMulti called", "binary", binary, "count", len(symbols), "pid", pid, "retprobe", ret)

	ex, err := link.OpenExecutable(binary)
	if err != nil {
		return nil, fmt.Errorf("open executable %s: %w", binary, err)
	}

	opts := &link.UprobeMultiOptions{}
	if pid > 0 {
		opts.PID = uint32(pid)
	}

	var lnk link.Link
	if ret {
		lnk, err = ex.UretprobeMulti(symbols, prog, opts)
	} else {
		lnk, err = ex.UprobeMulti(symbols, prog, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("attach uprobe-multi to %d symbols in %s: %w", len(symbols), binary, err)
	}
	return lnk, nil
}
