// Package ebpf provides kernel operations using cilium/ebpf.
package ebpf

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"

	"github.com/cilium/ebpf"

	"github.com/frobware/go-bpfprobe/bpffs"
	"github.com/frobware/go-bpfprobe/interpreter"
	"github.com/frobware/go-bpfprobe/kernel"
	"github.com/frobware/go-bpfprobe/procs"
)

// kernelAdapter is the cilium/ebpf backed KernelOperations.
type kernelAdapter struct {
	logger  *slog.Logger
	cpuList string
	bpffs   bpffs.Root
}

// Option configures a kernelAdapter.
type Option func(*kernelAdapter)

// WithLogger sets the logger for kernel operations.
func WithLogger(logger *slog.Logger) Option {
	return func(k *kernelAdapter) {
		k.logger = logger
	}
}

// WithCPUList overrides the sysfs file listing online CPUs.
func WithCPUList(path string) Option {
	return func(k *kernelAdapter) {
		k.cpuList = path
	}
}

// WithBPFFS sets the bpffs mount that relative iterator pins are
// placed under.
func WithBPFFS(root bpffs.Root) Option {
	return func(k *kernelAdapter) {
		k.bpffs = root
	}
}

// New creates a new kernel adapter.
func New(opts ...Option) interpreter.KernelOperations {
	k := &kernelAdapter{
		logger:  slog.Default(),
		cpuList: "/sys/devices/system/cpu/online",
		bpffs:   bpffs.DefaultRoot,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Programs walks the kernel's program id space. A program unloaded
// between reading its id and opening it is skipped.
func (k *kernelAdapter) Programs(ctx context.Context) iter.Seq2[kernel.Program, error] {
	return func(yield func(kernel.Program, error) bool) {
		for id := ebpf.ProgramID(0); ; {
			if err := ctx.Err(); err != nil {
				yield(kernel.Program{}, err)
				return
			}
			next, err := ebpf.ProgramGetNextID(id)
			if err != nil {
				return
			}
			id = next

			kp, err := k.program(id)
			if errors.Is(err, os.ErrNotExist) {
				k.logger.Debug("program gone", "id", id)
				continue
			}
			if !yield(kp, err) {
				return
			}
		}
	}
}

func (k *kernelAdapter) program(id ebpf.ProgramID) (kernel.Program, error) {
	prog, err := ebpf.NewProgramFromID(id)
	if err != nil {
		return kernel.Program{}, err
	}
	defer prog.Close()
	info, err := prog.Info()
	if err != nil {
		return kernel.Program{}, fmt.Errorf("program %d info: %w", id, err)
	}
	return kernel.Program{ID: uint32(id), Name: info.Name, Type: info.Type.String()}, nil
}

// RunProgram executes prog through BPF_PROG_TEST_RUN. The input is a
// zeroed Ethernet header, the smallest packet XDP and skb programs
// accept.
func (k *kernelAdapter) RunProgram(prog *ebpf.Program, repeat uint32) (uint32, error) {
	ret, err := prog.Run(&ebpf.RunOptions{
		Data:   make([]byte, 14),
		Repeat: repeat,
	})
	if err != nil {
		return 0, fmt.Errorf("test run: %w", err)
	}
	k.logger.Debug("program run", "repeat", repeat, "ret", ret)
	return ret, nil
}

// OnlineCPUs lists the CPUs the kernel reports as online.
func (k *kernelAdapter) OnlineCPUs() ([]int, error) {
	return procs.ReadCPUList(k.cpuList)
}
