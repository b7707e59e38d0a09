package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/cilium/ebpf"
	cbtf "github.com/cilium/ebpf/btf"

	"github.com/frobware/go-bpfprobe"
	"github.com/frobware/go-bpfprobe/btf"
	"github.com/frobware/go-bpfprobe/interpreter"
	"github.com/frobware/go-bpfprobe/kernel"
	"github.com/frobware/go-bpfprobe/symbols"
)

// kernelOp records an operation performed on the fake kernel.
type kernelOp struct {
	Op      string // "kprobe", "kprobe-multi", "uprobe", "perf", "detach", ...
	Targets []string
	Pid     int
	CPU     int
	Event   interpreter.PerfEvent
	Repeat  uint32
	ID      uint32
}

// fakeKernel implements interpreter.KernelOperations without syscalls.
type fakeKernel struct {
	mu     sync.Mutex
	nextID uint32
	ops    []kernelOp
	open   map[uint32]bool

	// Error injection.
	failOn    map[string]error // fail every call of an op
	failOnNth map[string]int   // fail the Nth call of an op, counting from 1
	calls     map[string]int
	failClose map[uint32]error

	programs []kernel.Program
	cpus     []int
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{
		nextID:    100,
		open:      make(map[uint32]bool),
		failOn:    make(map[string]error),
		failOnNth: make(map[string]int),
		calls:     make(map[string]int),
		failClose: make(map[uint32]error),
		cpus:      []int{0, 1},
	}
}

// Operations returns a copy of recorded operations.
func (f *fakeKernel) Operations() []kernelOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kernelOp(nil), f.ops...)
}

// OpsOf returns recorded operations named op.
func (f *fakeKernel) OpsOf(op string) []kernelOp {
	var out []kernelOp
	for _, o := range f.Operations() {
		if o.Op == op {
			out = append(out, o)
		}
	}
	return out
}

// OpenLinks counts links attached and not yet closed.
func (f *fakeKernel) OpenLinks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open)
}

// attach records op and returns a link or the injected error.
func (f *fakeKernel) attach(op kernelOp) (bpfprobe.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op.Op]++
	if err := f.failOn[op.Op]; err != nil {
		return nil, err
	}
	if n := f.failOnNth[op.Op]; n != 0 && f.calls[op.Op] == n {
		return nil, fmt.Errorf("injected failure on %s call %d", op.Op, n)
	}
	f.nextID++
	op.ID = f.nextID
	f.ops = append(f.ops, op)
	f.open[op.ID] = true
	return &fakeLink{kernel: f, id: op.ID}, nil
}

func (f *fakeKernel) detach(id uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failClose[id]; err != nil {
		return err
	}
	if !f.open[id] {
		return errors.New("link already closed")
	}
	delete(f.open, id)
	f.ops = append(f.ops, kernelOp{Op: "detach", ID: id})
	return nil
}

type fakeLink struct {
	kernel *fakeKernel
	id     uint32
}

func (l *fakeLink) Close() error { return l.kernel.detach(l.id) }

func (f *fakeKernel) AttachKprobe(_ *ebpf.Program, symbol string, _ uint64, ret bool) (bpfprobe.Link, error) {
	op := "kprobe"
	if ret {
		op = "kretprobe"
	}
	return f.attach(kernelOp{Op: op, Targets: []string{symbol}})
}

func (f *fakeKernel) AttachKprobeMulti(_ *ebpf.Program, symbols []string, _ bool) (bpfprobe.Link, error) {
	return f.attach(kernelOp{Op: "kprobe-multi", Targets: symbols})
}

func (f *fakeKernel) AttachKprobeSession(_ *ebpf.Program, symbols []string) (bpfprobe.Link, error) {
	return f.attach(kernelOp{Op: "kprobe-session", Targets: symbols})
}

func (f *fakeKernel) AttachUprobe(_ *ebpf.Program, target interpreter.UprobeTarget, _ bool) (bpfprobe.Link, error) {
	name := target.Binary + ":" + target.Symbol
	if target.Symbol == "" {
		name = fmt.Sprintf("%s:0x%x", target.Binary, target.Address)
	}
	return f.attach(kernelOp{Op: "uprobe", Targets: []string{name}, Pid: target.Pid})
}

func (f *fakeKernel) AttachUprobeMulti(_ *ebpf.Program, binary string, symbols []string, pid int, _ bool) (bpfprobe.Link, error) {
	targets := make([]string, len(symbols))
	for i, s := range symbols {
		targets[i] = binary + ":" + s
	}
	return f.attach(kernelOp{Op: "uprobe-multi", Targets: targets, Pid: pid})
}

func (f *fakeKernel) AttachTracepoint(_ *ebpf.Program, group, name string) (bpfprobe.Link, error) {
	return f.attach(kernelOp{Op: "tracepoint", Targets: []string{group + ":" + name}})
}

func (f *fakeKernel) AttachRawTracepoint(_ *ebpf.Program, name string) (bpfprobe.Link, error) {
	return f.attach(kernelOp{Op: "rawtracepoint", Targets: []string{name}})
}

func (f *fakeKernel) AttachTracing(*ebpf.Program) (bpfprobe.Link, error) {
	return f.attach(kernelOp{Op: "tracing"})
}

func (f *fakeKernel) AttachIter(_ *ebpf.Program, pin string) (bpfprobe.Link, error) {
	return f.attach(kernelOp{Op: "iter", Targets: []string{pin}})
}

func (f *fakeKernel) AttachPerfEvent(_ *ebpf.Program, event interpreter.PerfEvent, pid, cpu int) (bpfprobe.Link, error) {
	return f.attach(kernelOp{Op: "perf", Event: event, Pid: pid, CPU: cpu})
}

func (f *fakeKernel) RunProgram(_ *ebpf.Program, repeat uint32) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["run"]++
	if err := f.failOn["run"]; err != nil {
		return 0, err
	}
	f.ops = append(f.ops, kernelOp{Op: "run", Repeat: repeat})
	return 0, nil
}

func (f *fakeKernel) Programs(context.Context) iter.Seq2[kernel.Program, error] {
	return func(yield func(kernel.Program, error) bool) {
		if err := f.failOn["programs"]; err != nil {
			yield(kernel.Program{}, err)
			return
		}
		for _, p := range f.programs {
			if !yield(p, nil) {
				return
			}
		}
	}
}

func (f *fakeKernel) OnlineCPUs() ([]int, error) {
	if err := f.failOn["cpus"]; err != nil {
		return nil, err
	}
	return f.cpus, nil
}

var _ interpreter.KernelOperations = (*fakeKernel)(nil)

// fakeBTF serves per-module function lists.
type fakeBTF struct {
	modules map[string]*btf.Types
	order   []string
	err     error
}

// newFakeBTF builds a lookup from "module" to function names. vmlinux
// is always listed first.
func newFakeBTF(funcs map[string][]string, extra ...cbtf.Type) *fakeBTF {
	f := &fakeBTF{modules: make(map[string]*btf.Types)}
	if _, ok := funcs["vmlinux"]; ok {
		f.order = append(f.order, "vmlinux")
	}
	for module, names := range funcs {
		types := make([]cbtf.Type, 0, len(names))
		for _, n := range names {
			types = append(types, &cbtf.Func{Name: n, Type: &cbtf.FuncProto{Return: &cbtf.Void{}}})
		}
		if module == "vmlinux" {
			types = append(types, extra...)
		} else {
			f.order = append(f.order, module)
		}
		f.modules[module] = btf.FromTypes(types...)
	}
	// Map iteration order is random; keep modules after vmlinux sorted.
	if len(f.order) > 1 {
		rest := f.order
		if rest[0] == "vmlinux" {
			rest = rest[1:]
		}
		slices.Sort(rest)
	}
	return f
}

func (f *fakeBTF) KernelBTF(module string) (bpfprobe.Types, error) {
	if f.err != nil {
		return nil, f.err
	}
	if module == "" {
		module = "vmlinux"
	}
	t, ok := f.modules[module]
	if !ok {
		return nil, bpfprobe.NewSystemError("no btf for module "+module, nil)
	}
	return t, nil
}

func (f *fakeBTF) ListModules() ([]string, error) { return f.order, f.err }

func (f *fakeBTF) UserBTF(string) (bpfprobe.Types, error) {
	return nil, errors.New("no user btf")
}

// fakeTracepoints is a fixed tracefs inventory.
type fakeTracepoints struct {
	events []string
}

func (f fakeTracepoints) AvailableEvents() ([]string, error) { return f.events, nil }

func (f fakeTracepoints) ContextType(_ bpfprobe.Types, category, event string) (cbtf.Type, error) {
	return &cbtf.Struct{Name: category + "_" + event}, nil
}

// fakeSymbols serves symbol tables and USDT notes per path.
type fakeSymbols struct {
	tables map[string][]string
	notes  map[string][]symbols.Note
}

func (f fakeSymbols) Table(path string) (*symbols.Table, error) {
	names, ok := f.tables[path]
	if !ok {
		return nil, fmt.Errorf("%s: no such file", path)
	}
	syms := make([]symbols.Symbol, len(names))
	for i, n := range names {
		syms[i] = symbols.Symbol{Name: n, Value: uint64(0x1000 + i*0x10)}
	}
	return symbols.NewTable(path, syms), nil
}

func (f fakeSymbols) USDT(path string) ([]symbols.Note, error) {
	notes, ok := f.notes[path]
	if !ok {
		return nil, fmt.Errorf("%s: no such file", path)
	}
	return notes, nil
}

// fakeProcesses resolves names against a fixed set of paths.
type fakeProcesses struct {
	paths  []string
	mapped map[int][]string
}

func (f fakeProcesses) MappedPaths(pid int) ([]string, error) {
	paths, ok := f.mapped[pid]
	if !ok {
		return nil, fmt.Errorf("no such process %d", pid)
	}
	return paths, nil
}

func (f fakeProcesses) ResolveBinaryPath(glob string, _ int) ([]string, error) {
	var out []string
	for _, p := range f.paths {
		base := p[strings.LastIndexByte(p, '/')+1:]
		if glob == base || glob == p || (strings.HasSuffix(glob, "*") && strings.HasPrefix(p, strings.TrimSuffix(glob, "*"))) {
			out = append(out, p)
		}
	}
	return out, nil
}

// testEnv wires a fake kernel and inventories into an Env.
type testEnv struct {
	*Env
	kernel *fakeKernel
}

func newTestEnv(opts ...EnvOption) testEnv {
	k := newFakeKernel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]EnvOption{WithLogger(logger)}, opts...)
	return testEnv{Env: NewEnv(k, opts...), kernel: k}
}

// names returns each point's Name.
func names(points []bpfprobe.AttachPoint) []string {
	out := make([]string, len(points))
	for i, p := range points {
		out[i] = p.Name()
	}
	return out
}
