package btf

import (
	"errors"
	"slices"
	"testing"
	"testing/fstest"

	cbtf "github.com/cilium/ebpf/btf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-bpfprobe"
)

func testTypes() *Types {
	proto := &cbtf.FuncProto{Return: &cbtf.Int{Name: "int", Size: 4}}
	return FromTypes(
		&cbtf.Func{Name: "vfs_read", Type: proto},
		&cbtf.Func{Name: "vfs_write", Type: proto},
		&cbtf.Func{Name: "bpf_iter__task", Type: proto},
		&cbtf.Typedef{Name: "btf_trace_sched_switch", Type: &cbtf.Pointer{Target: proto}},
		&cbtf.Struct{Name: "task_struct"},
		&cbtf.Int{Name: ""},
		// Duplicate names keep the first definition.
		&cbtf.Func{Name: "vfs_read", Type: &cbtf.FuncProto{}},
	)
}

func TestTypes_Index(t *testing.T) {
	types := testTypes()

	assert.Equal(t, []string{"bpf_iter__task", "vfs_read", "vfs_write"}, slices.Collect(types.Functions()))
	assert.Equal(t, []string{"btf_trace_sched_switch"}, slices.Collect(types.Typedefs()))

	fn, ok := types.LookupFunc("vfs_read")
	require.True(t, ok)
	assert.NotNil(t, fn.Type.(*cbtf.FuncProto).Return)

	_, ok = types.LookupFunc("task_struct")
	assert.False(t, ok)

	typ, ok := types.LookupType("task_struct")
	require.True(t, ok)
	assert.IsType(t, &cbtf.Struct{}, typ)
}

func TestNewTypes_PropagatesError(t *testing.T) {
	boom := errors.New("truncated")
	_, err := NewTypes(func(yield func(cbtf.Type, error) bool) {
		yield(nil, boom)
	})
	assert.ErrorIs(t, err, boom)
}

func TestLookup_ListModules(t *testing.T) {
	sysfs := fstest.MapFS{
		"vmlinux":   {Data: []byte{}},
		"nf_tables": {Data: []byte{}},
		"xfs":       {Data: []byte{}},
	}
	l := New(sysfs)
	mods, err := l.ListModules()
	require.NoError(t, err)
	assert.Equal(t, []string{"vmlinux", "nf_tables", "xfs"}, mods)
}

func TestLookup_LoadErrorIsSystemError(t *testing.T) {
	fail := errors.New("no BTF")
	l := New(fstest.MapFS{}, WithLoaders(
		func() (*cbtf.Spec, error) { return nil, fail },
		func(string) (*cbtf.Spec, error) { return nil, fail },
		func(string) (*cbtf.Spec, error) { return nil, fail },
	))

	_, err := l.KernelBTF("")
	var se bpfprobe.SystemError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Message, "vmlinux")
	assert.ErrorIs(t, err, fail)

	_, err = l.KernelBTF("xfs")
	assert.ErrorIs(t, err, fail)

	_, err = l.UserBTF("/bin/true")
	assert.ErrorIs(t, err, fail)
}

func TestLookup_FuncModulesSkipsUnloadable(t *testing.T) {
	l := New(fstest.MapFS{"vmlinux": {}, "xfs": {}}, WithLoaders(
		func() (*cbtf.Spec, error) { return nil, errors.New("no vmlinux") },
		func(string) (*cbtf.Spec, error) { return nil, errors.New("no module") },
		nil,
	))
	assert.Empty(t, l.FuncModules("vfs_read"))
}
