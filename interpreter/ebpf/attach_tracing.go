package ebpf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"

	"github.com/frobware/go-bpfprobe"
)

// AttachTracepoint attaches prog to a tracepoint.
func (k *kernelAdapter) AttachTracepoint(prog *ebpf.Program, group, name string) (bpfprobe.Link, error) {
	k.logger.Debug("AttachTracepoint called", "group", group, "name", name)

	lnk, err := link.Tracepoint(group, name, prog, nil)
	if err != nil {
		return nil, fmt.Errorf("attach to tracepoint %s:%s: %w", group, name, err)
	}
	return lnk, nil
}

// AttachRawTracepoint attaches prog to a raw tracepoint.
func (k *kernelAdapter) AttachRawTracepoint(prog *ebpf.Program, name string) (bpfprobe.Link, error) {
	k.logger.Debug("AttachRawTracepoint called", "name", name)

	lnk, err := link.AttachRawTracepoint(link.RawTracepointOptions{
		Name:    name,
		Program: prog,
	})
	if err != nil {
		return nil, fmt.Errorf("attach to raw tracepoint %s: %w", name, err)
	}
	return lnk, nil
}

// AttachTracing attaches an fentry or fexit program. The target
// function was fixed when the program was loaded.
func (k *kernelAdapter) AttachTracing(prog *ebpf.Program) (bpfprobe.Link, error) {
	k.logger.Debug("AttachTracing called", "program", prog.String())

	lnk, err := link.AttachTracing(link.TracingOptions{Program: prog})
	if err != nil {
		return nil, fmt.Errorf("attach tracing program: %w", err)
	}
	return lnk, nil
}

// AttachIter creates an iterator link. A non-empty pin is resolved
// against the bpffs root and the link pinned there, so that reading the
// pin runs the iterator.
func (k *kernelAdapter) AttachIter(prog *ebpf.Program, pin string) (bpfprobe.Link, error) {
	k.logger.Debug("AttachIter called", "pin", pin)

	var path string
	if pin != "" {
		var err error
		if path, err = k.bpffs.PinPath(pin); err != nil {
			return nil, err
		}
		if k.bpffs.Exists(path) {
			return nil, fmt.Errorf("pin %s already exists", path)
		}
	}

	it, err := link.AttachIter(link.IterOptions{Program: prog})
	if err != nil {
		return nil, fmt.Errorf("attach iterator: %w", err)
	}
	if path == "" {
		return it, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		it.Close()
		return nil, fmt.Errorf("create iterator pin directory: %w", err)
	}
	if err := it.Pin(path); err != nil {
		it.Close()
		return nil, fmt.Errorf("pin iterator to %s: %w", path, err)
	}
	return pinnedLink{Link: it, pin: path}, nil
}

// pinnedLink removes its pin when closed.
type pinnedLink struct {
	link.Link
	pin string
}

func (l pinnedLink) Close() error {
	if l.pin != "" {
		if err := l.Link.Unpin(); err != nil {
			l.Link.Close()
			return fmt.Errorf("unpin %s: %w", l.pin, err)
		}
	}
	return l.Link.Close()
}
