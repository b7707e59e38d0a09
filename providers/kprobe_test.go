package providers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-bpfprobe"
)

func kernelBTF() *fakeBTF {
	return newFakeBTF(map[string][]string{
		"vmlinux":   {"vfs_read", "vfs_write", "vfs_open", "do_sys_open"},
		"nf_tables": {"nft_do_chain", "nft_lookup"},
		"xfs":       {"xfs_file_read_iter"},
	})
}

func TestKprobe_ParseLiteral(t *testing.T) {
	env := newTestEnv()
	points, err := NewKprobe(env.Env).Parse("vfs_read", kernelBTF(), 0)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, bpfprobe.KprobePoint{Kind: bpfprobe.KprobeEntry, Module: "vmlinux", Func: "vfs_read"}, points[0])
	assert.True(t, points[0].CanMultiAttach())
}

func TestKprobe_ParseWildcard(t *testing.T) {
	env := newTestEnv()
	points, err := NewKprobe(env.Env).Parse("vfs_*", kernelBTF(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"vfs_open", "vfs_read", "vfs_write"}, names(points))
}

func TestKprobe_ParseModuleWildcard(t *testing.T) {
	env := newTestEnv()
	points, err := NewKprobe(env.Env).Parse("nf_*:nft_*", kernelBTF(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"nf_tables:nft_do_chain", "nf_tables:nft_lookup"}, names(points))
	for _, p := range points {
		assert.False(t, p.CanMultiAttach(), "module functions cannot be batched")
	}
}

func TestKprobe_ParseOffset(t *testing.T) {
	env := newTestEnv()
	points, err := NewKprobe(env.Env).Parse("vfs_read+0x10", kernelBTF(), 0)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "vfs_read+16", points[0].Name())
	assert.False(t, points[0].CanMultiAttach())
}

func TestKprobe_ParseErrors(t *testing.T) {
	env := newTestEnv()
	tests := []struct {
		name     string
		provider Provider
		glob     string
		detail   string
	}{
		{"missing function", NewKprobe(env.Env), "no_such_func", "function not found"},
		{"kretprobe offset", NewKretprobe(env.Env), "vfs_read+8", "kretprobes cannot use offsets"},
		{"ksession offset", NewKsession(env.Env), "vfs_read+8", "ksession probes cannot use offsets"},
		{"bad offset", NewKprobe(env.Env), "vfs_read+zz", "invalid offset: zz"},
		{"too many parts", NewKprobe(env.Env), "a:b:c", "invalid kprobe format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.provider.Parse(tt.glob, kernelBTF(), 0)
			var pe bpfprobe.ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.detail, pe.Detail)
		})
	}
}

func TestKprobe_WildcardNoMatchIsEmpty(t *testing.T) {
	env := newTestEnv()
	points, err := NewKprobe(env.Env).Parse("zzz_*", kernelBTF(), 0)
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestKprobe_AttachMultiOneLink(t *testing.T) {
	env := newTestEnv()
	p := NewKprobe(env.Env)
	points, err := p.Parse("vfs_*", kernelBTF(), 0)
	require.NoError(t, err)

	probes, err := p.AttachMulti(points, nil, 0)
	require.NoError(t, err)
	require.Len(t, probes, 1)
	assert.Len(t, probes[0].Points(), 3)

	ops := env.kernel.OpsOf("kprobe-multi")
	require.Len(t, ops, 1)
	assert.Equal(t, []string{"vfs_open", "vfs_read", "vfs_write"}, ops[0].Targets)

	require.NoError(t, bpfprobe.CloseAll(probes))
	assert.Zero(t, env.kernel.OpenLinks())
}

func TestKsession_RequiresMulti(t *testing.T) {
	env := newTestEnv()
	p := NewKsession(env.Env)
	points, err := p.Parse("vfs_read", kernelBTF(), 0)
	require.NoError(t, err)

	_, err = p.AttachSingle(points[0], nil, 0)
	var ae bpfprobe.AttachError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "ksession probes require multi-attach mode", ae.Detail)

	probes, err := p.AttachMulti(points, nil, 0)
	require.NoError(t, err)
	assert.Len(t, probes, 1)
	assert.Len(t, env.kernel.OpsOf("kprobe-session"), 1)
}

func TestKprobe_AttachSingleError(t *testing.T) {
	env := newTestEnv()
	env.kernel.failOn["kprobe"] = errors.New("EPERM")
	p := NewKprobe(env.Env)

	_, err := p.AttachSingle(bpfprobe.KprobePoint{Func: "vfs_read"}, nil, 0)
	var ae bpfprobe.AttachError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "kprobe", ae.Provider)
	assert.ErrorContains(t, err, "EPERM")
}
