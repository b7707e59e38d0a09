package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/cilium/ebpf"

	"github.com/frobware/go-bpfprobe"
)

// loader loads one named program from a collection spec. Programs for
// most points are loaded once and shared. Tracing programs bind their
// target at load time, so fentry, fexit and iter points each get their
// own copy. Every copy shares the collection's maps.
type loader struct {
	logger  *slog.Logger
	spec    *ebpf.CollectionSpec
	program string

	maps    *ebpf.Collection
	shared  *ebpf.Program
	colls   []*ebpf.Collection
	targets []*ebpf.Program
}

func newLoader(spec *ebpf.CollectionSpec, program string, logger *slog.Logger) (*loader, error) {
	if _, ok := spec.Programs[program]; !ok {
		return nil, fmt.Errorf("program %q not found in object (have %s)", program, strings.Join(programNames(spec), ", "))
	}

	mapsOnly := spec.Copy()
	mapsOnly.Programs = nil
	coll, err := ebpf.NewCollection(mapsOnly)
	if err != nil {
		return nil, fmt.Errorf("create maps: %w", err)
	}
	return &loader{logger: logger, spec: spec, program: program, maps: coll}, nil
}

func programNames(spec *ebpf.CollectionSpec) []string {
	return slices.Sorted(maps.Keys(spec.Programs))
}

// load creates a program from a copy of the named spec after applying
// adjust to it.
func (l *loader) load(adjust func(*ebpf.ProgramSpec) error) (*ebpf.Program, error) {
	spec := l.spec.Copy()
	ps := spec.Programs[l.program]
	spec.Programs = map[string]*ebpf.ProgramSpec{l.program: ps}
	if adjust != nil {
		if err := adjust(ps); err != nil {
			return nil, err
		}
	}

	coll, err := ebpf.NewCollectionWithOptions(spec, ebpf.CollectionOptions{MapReplacements: l.maps.Maps})
	if err != nil {
		return nil, fmt.Errorf("load program %s: %w", l.program, err)
	}
	l.colls = append(l.colls, coll)
	l.logger.Debug("loaded program", "program", l.program, "type", ps.Type, "attach_to", ps.AttachTo)
	return coll.Programs[l.program], nil
}

// For returns the program to attach at point.
func (l *loader) For(point bpfprobe.AttachPoint) (bpfprobe.Program, error) {
	switch pt := point.(type) {
	case bpfprobe.FentryPoint:
		prog, err := l.load(func(ps *ebpf.ProgramSpec) error { return l.tracing(ps, pt) })
		if err != nil {
			return nil, err
		}
		return bpfprobe.NewProgram(prog), nil
	case bpfprobe.IterPoint:
		prog, err := l.load(func(ps *ebpf.ProgramSpec) error {
			ps.Type = ebpf.Tracing
			ps.AttachType = ebpf.AttachTraceIter
			ps.AttachTo = pt.Iter
			return nil
		})
		if err != nil {
			return nil, err
		}
		return bpfprobe.NewProgram(prog), nil
	}

	if l.shared == nil {
		prog, err := l.load(nil)
		if err != nil {
			return nil, err
		}
		l.shared = prog
	}
	return bpfprobe.NewProgram(l.shared), nil
}

// PerPoint reports whether point needs its own program.
func (l *loader) PerPoint(point bpfprobe.AttachPoint) bool {
	switch point.(type) {
	case bpfprobe.FentryPoint, bpfprobe.IterPoint:
		return true
	}
	return false
}

func (l *loader) tracing(ps *ebpf.ProgramSpec, pt bpfprobe.FentryPoint) error {
	ps.Type = ebpf.Tracing
	ps.AttachType = ebpf.AttachTraceFEntry
	if pt.Return {
		ps.AttachType = ebpf.AttachTraceFExit
	}
	ps.AttachTo = pt.Func
	if pt.Module != "bpf" {
		return nil
	}

	// A bpf target is named id:name; the kernel wants the function
	// name and a handle on the target program.
	_, name, _ := strings.Cut(pt.Func, ":")
	target, err := ebpf.NewProgramFromID(ebpf.ProgramID(pt.ProgID))
	if err != nil {
		return bpfprobe.NewSystemError(fmt.Sprintf("open bpf program %d", pt.ProgID), err)
	}
	l.targets = append(l.targets, target)
	ps.AttachTo = name
	ps.AttachTarget = target
	return nil
}

// Close releases every program and map this loader created.
func (l *loader) Close() error {
	for i := len(l.colls) - 1; i >= 0; i-- {
		l.colls[i].Close()
	}
	var errs []error
	for _, t := range l.targets {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.maps.Close()
	return errors.Join(errs...)
}
