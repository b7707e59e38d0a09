package bpfprobe

import (
	"iter"

	"github.com/cilium/ebpf/btf"
)

// Types is a queryable view over one BTF blob.
type Types interface {
	// Functions yields every function name in the blob.
	Functions() iter.Seq[string]
	// Typedefs yields every typedef name in the blob.
	Typedefs() iter.Seq[string]
	LookupFunc(name string) (*btf.Func, bool)
	LookupType(name string) (btf.Type, bool)
}

// BtfLookup resolves BTF for the kernel, its modules and user binaries.
type BtfLookup interface {
	// KernelBTF returns types for module; "" and "vmlinux" select the
	// kernel image.
	KernelBTF(module string) (Types, error)
	// ListModules returns the names of loaded modules that carry BTF.
	ListModules() ([]string, error)
	// UserBTF returns types embedded in the binary at path.
	UserBTF(path string) (Types, error)
}
