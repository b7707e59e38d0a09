package cli

import (
	"github.com/frobware/go-bpfprobe/attachpoint"
)

// processInfo answers pid and shared library questions.
type processInfo interface {
	PidExe(pid int) (string, error)
	ResolveLibrary(name string, pid int) (string, bool)
}

// funcModules finds the kernel modules defining a function.
type funcModules interface {
	FuncModules(fn string) []string
}

// host joins the process inspector and the BTF lookup into the system
// oracle the parser consults.
type host struct {
	procs processInfo
	btf   funcModules
}

var _ attachpoint.Host = host{}

func newHost(procs processInfo, btf funcModules) host {
	return host{procs: procs, btf: btf}
}

func (h host) PidExe(pid int) (string, error) {
	return h.procs.PidExe(pid)
}

func (h host) ResolveLibrary(name string, pid int) (string, bool) {
	return h.procs.ResolveLibrary(name, pid)
}

func (h host) FuncModules(fn string) []string {
	return h.btf.FuncModules(fn)
}
