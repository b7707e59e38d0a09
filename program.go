package bpfprobe

import "github.com/cilium/ebpf"

// Program is a loaded BPF program handle as seen by providers. It is
// borrowed for the duration of an attach call.
type Program interface {
	FD() int
	Object() *ebpf.Program
}

type loadedProgram struct {
	prog *ebpf.Program
}

// NewProgram wraps a loaded cilium/ebpf program.
func NewProgram(prog *ebpf.Program) Program {
	return loadedProgram{prog: prog}
}

func (p loadedProgram) FD() int {
	if p.prog == nil {
		return -1
	}
	return p.prog.FD()
}

func (p loadedProgram) Object() *ebpf.Program { return p.prog }
