package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/frobware/go-bpfprobe"
)

func TestSpecGlob(t *testing.T) {
	tests := []struct {
		spec bpfprobe.AttachSpec
		want string
	}{
		{bpfprobe.AttachSpec{Provider: "kprobe", Func: "vfs_read"}, "vfs_read"},
		{bpfprobe.AttachSpec{Provider: "kprobe", Target: "nf_tables", Func: "nft_*", Offset: 0}, "nf_tables:nft_*"},
		{bpfprobe.AttachSpec{Provider: "kprobe", Func: "vfs_read", Offset: 16}, "vfs_read+16"},
		{bpfprobe.AttachSpec{Provider: "uprobe", Target: "/bin/sh", Func: "main", Offset: 4}, "/bin/sh:main+4"},
		{bpfprobe.AttachSpec{Provider: "uprobe", Target: "/bin/sh", Address: 0x1234}, "/bin/sh:0x1234"},
		{bpfprobe.AttachSpec{Provider: "uprobe", Target: "/lib/x.so", Lang: "cpp", Func: "ns::f"}, "/lib/x.so:cpp:ns::f"},
		{bpfprobe.AttachSpec{Provider: "uprobe", Target: "/bin/sh", Lang: "c", Func: "main"}, "/bin/sh:main"},
		{bpfprobe.AttachSpec{Provider: "usdt", Target: "/bin/app", Func: "start"}, "/bin/app:start"},
		{bpfprobe.AttachSpec{Provider: "usdt", Target: "/bin/app", Namespace: "app", Func: "start"}, "/bin/app:app:start"},
		{bpfprobe.AttachSpec{Provider: "tracepoint", Target: "sched", Func: "sched_switch"}, "sched:sched_switch"},
		{bpfprobe.AttachSpec{Provider: "rawtracepoint", Target: "*", Func: "sched_switch"}, "sched_switch"},
		{bpfprobe.AttachSpec{Provider: "rawtracepoint", Target: "kvm", Func: "kvm_exit"}, "kvm:kvm_exit"},
		{bpfprobe.AttachSpec{Provider: "fentry", Target: "*", Func: "vfs_*"}, "vfs_*"},
		{bpfprobe.AttachSpec{Provider: "fexit", Target: "xfs", Func: "xfs_iread"}, "xfs:xfs_iread"},
		{bpfprobe.AttachSpec{Provider: "fentry", Target: "bpf", Func: "prog"}, "bpf:prog"},
		{bpfprobe.AttachSpec{Provider: "fentry", Target: "bpf", Address: 12, Func: "prog"}, "bpf:12:prog"},
		{bpfprobe.AttachSpec{Provider: "iter", Func: "task", Pin: "/sys/fs/bpf/t"}, "task:/sys/fs/bpf/t"},
		{bpfprobe.AttachSpec{Provider: "profile", Target: "hz", Freq: 99}, "hz:99"},
		{bpfprobe.AttachSpec{Provider: "profile", Target: "hz"}, "hz:*"},
		{bpfprobe.AttachSpec{Provider: "interval", Target: "*"}, "*"},
		{bpfprobe.AttachSpec{Provider: "software", Target: "cs", Freq: 10}, "cs:10"},
		{bpfprobe.AttachSpec{Provider: "hardware", Target: "cycles"}, "cycles"},
		{bpfprobe.AttachSpec{Provider: "watchpoint", Address: 0x1000, Len: 8, Mode: "w"}, "0x1000:8:w"},
		{bpfprobe.AttachSpec{Provider: "asyncwatchpoint", Target: "/bin/app", Func: "inc", Address: 1, Len: 4, Mode: "rw"}, "/bin/app:inc+arg1:4:rw"},
		{bpfprobe.AttachSpec{Provider: "self", Target: "signal", Func: "SIGUSR1"}, "signal:SIGUSR1"},
		{bpfprobe.AttachSpec{Provider: "bench", Target: "fast"}, "fast"},
		{bpfprobe.AttachSpec{Provider: "begin"}, ""},
		{bpfprobe.AttachSpec{Provider: "custom", Parts: []string{"custom", "a", "b"}}, "a:b"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, SpecGlob(&tt.spec))
		})
	}
}
