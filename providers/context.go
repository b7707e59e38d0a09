package providers

import (
	"github.com/cilium/ebpf/btf"

	"github.com/frobware/go-bpfprobe"
)

// ContextType returns the BTF type of the context a program attached
// at point receives: the tracepoint record, the fentry argument list
// or the fexit return type. Points without a typed context yield void.
func ContextType(point bpfprobe.AttachPoint, kernel bpfprobe.Types, tps Tracepoints) (btf.Type, error) {
	switch p := point.(type) {
	case bpfprobe.TracepointPoint:
		if tps == nil {
			return nil, bpfprobe.SystemError{Message: "no tracefs inventory available"}
		}
		return tps.ContextType(kernel, p.Category, p.Event)
	case bpfprobe.FentryPoint:
		if p.Module == "bpf" {
			return nil, bpfprobe.SystemError{Message: "no context type for bpf program target " + p.Func}
		}
		fn, ok := kernel.LookupFunc(p.Func)
		if !ok {
			return nil, bpfprobe.SystemError{Message: "function " + p.Func + " not found in btf"}
		}
		proto, ok := fn.Type.(*btf.FuncProto)
		if !ok {
			return nil, bpfprobe.SystemError{Message: "function " + p.Func + " has no prototype"}
		}
		if p.Return {
			return proto.Return, nil
		}
		return proto, nil
	default:
		return &btf.Void{}, nil
	}
}
