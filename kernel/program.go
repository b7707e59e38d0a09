// Package kernel holds read-only views of BPF objects already loaded
// in the kernel.
package kernel

import "strconv"

// Program is a BPF program observed through BPF_PROG_GET_NEXT_ID.
type Program struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
	// Type is the program type as the kernel reports it, for example
	// "Tracing" or "XDP".
	Type string `json:"type"`
}

// Symbol is the "id:name" form fentry and fexit use to name a BPF
// program target.
func (p Program) Symbol() string {
	return strconv.FormatUint(uint64(p.ID), 10) + ":" + p.Name
}
