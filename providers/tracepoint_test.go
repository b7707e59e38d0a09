package providers

import (
	"testing"

	cbtf "github.com/cilium/ebpf/btf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-bpfprobe"
)

func tracepointEnv() testEnv {
	return newTestEnv(WithTracepoints(fakeTracepoints{events: []string{
		"sched:sched_switch",
		"sched:sched_wakeup",
		"syscalls:sys_enter_openat",
		"syscalls:sys_exit_openat",
	}}))
}

func TestTracepoint_Parse(t *testing.T) {
	env := tracepointEnv()
	p := NewTracepoint(env.Env)

	points, err := p.Parse("sched:sched_switch", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []bpfprobe.AttachPoint{bpfprobe.TracepointPoint{Category: "sched", Event: "sched_switch"}}, points)

	points, err = p.Parse("*:*openat", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"syscalls:sys_enter_openat", "syscalls:sys_exit_openat"}, names(points))

	points, err = p.Parse("net:*", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, points)

	_, err = p.Parse("sched:nope", nil, 0)
	var pe bpfprobe.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "tracepoint not found", pe.Detail)
}

func TestTracepoint_Attach(t *testing.T) {
	env := tracepointEnv()
	probes, err := NewTracepoint(env.Env).AttachSingle(bpfprobe.TracepointPoint{Category: "sched", Event: "sched_switch"}, nil, 0)
	require.NoError(t, err)
	require.Len(t, probes, 1)
	assert.Equal(t, []string{"sched:sched_switch"}, env.kernel.OpsOf("tracepoint")[0].Targets)
}

func rawTracepointBTF() *fakeBTF {
	return newFakeBTF(map[string][]string{
		"vmlinux": {"vfs_read"},
		"kvm":     {"kvm_vcpu_run"},
	}, &cbtf.Typedef{Name: "btf_trace_sched_switch", Type: &cbtf.Void{}},
		&cbtf.Typedef{Name: "btf_trace_sched_wakeup", Type: &cbtf.Void{}})
}

func TestRawTracepoint_Parse(t *testing.T) {
	env := newTestEnv()
	p := NewRawTracepoint(env.Env)
	lookup := rawTracepointBTF()

	points, err := p.Parse("sched_switch", lookup, 0)
	require.NoError(t, err)
	assert.Equal(t, []bpfprobe.AttachPoint{bpfprobe.RawTracepointPoint{Module: "vmlinux", Event: "sched_switch"}}, points)

	points, err = p.Parse("vmlinux:sched_*", lookup, 0)
	require.NoError(t, err)
	assert.Len(t, points, 2)

	_, err = p.Parse("kvm:sched_switch", lookup, 0)
	var pe bpfprobe.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "raw tracepoint not found", pe.Detail)
}
