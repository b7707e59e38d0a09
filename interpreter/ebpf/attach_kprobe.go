package ebpf

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"

	"github.com/frobware/go-bpfprobe"
)

// AttachKprobe attaches prog to a kernel function.
// If ret is true, attaches as a kretprobe instead of kprobe.
func (k *kernelAdapter) AttachKprobe(prog *ebpf.Program, symbol string, offset uint64, ret bool) (bpfprobe.Link, error) {
	k.logger.Debug("AttachKprobe called", "symbol", symbol, "offset", offset, "retprobe", ret)

	opts := &link.KprobeOptions{Offset: offset}
	var (
		lnk link.Link
		err error
	)
	if ret {
		lnk, err = link.Kretprobe(symbol, prog, opts)
	} else {
		lnk, err = link.Kprobe(symbol, prog, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("attach kprobe to %s: %w", symbol, err)
	}
	return lnk, nil
}

// AttachKprobeMulti attaches prog to every symbol with one kprobe-multi
// link.
func (k *kernelAdapter) AttachKprobeMulti(prog *ebpf.Program, symbols []string, ret bool) (bpfprobe.Link, error) {
	k.logger.Debug("AttachKprobeMulti called", "count", len(symbols), "retprobe", ret)

	opts := link.KprobeMultiOptions{Symbols: symbols}
	var (
		lnk link.Link
		err error
	)
	if ret {
		lnk, err = link.KretprobeMulti(prog, opts)
	} else {
		lnk, err = link.KprobeMulti(prog, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("attach kprobe-multi to %d symbols: %w", len(symbols), err)
	}
	return lnk, nil
}

// AttachKprobeSession attaches prog as a kprobe session: one program
// invocation on entry and one on return per call.
func (k *kernelAdapter) AttachKprobeSession(prog *ebpf.Program, symbols []string) (bpfprobe.Link, error) {
	k.logger.Debug("AttachKprobeSession called", "count", len(symbols))

	lnk, err := link.KprobeMulti(prog, link.KprobeMultiOptions{
		Symbols: symbols,
		Session: true,
	})
	if err != nil {
		return nil, fmt.Errorf("attach kprobe session to %d symbols: %w", len(symbols), err)
	}
	return lnk, nil
}
