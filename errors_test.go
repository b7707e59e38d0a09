package bpfprobe

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseError(t *testing.T) {
	err := fmt.Errorf("resolve: %w", ParseError{Provider: "kprobe", Target: "nosuch", Detail: "function not found"})
	var pe ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "parse error for provider kprobe given target nosuch: function not found", pe.Error())
}

func TestAttachError(t *testing.T) {
	cause := syscall.EPERM
	err := AttachError{Provider: "kprobe", Point: KprobePoint{Func: "vfs_read"}, Detail: "failed to attach", Err: cause}
	assert.Equal(t, "attach error for kprobe:vfs_read: failed to attach: "+cause.Error(), err.Error())
	assert.ErrorIs(t, err, syscall.EPERM)

	assert.Equal(t, "attach error for kprobe:<none>: no point", AttachError{Provider: "kprobe", Detail: "no point"}.Error())
}

func TestProviderConflict(t *testing.T) {
	err := ProviderConflict{
		Existing: ProviderIdentity{Name: "kprobe", Aliases: []string{"k"}},
		Rejected: ProviderIdentity{Name: "kretprobe"},
	}
	assert.Equal(t, "provider name conflict: kprobe is already registered (aliases: k); kretprobe (no aliases) rejected", err.Error())
}

func TestSystemError(t *testing.T) {
	wrapped := fmt.Errorf("perf_event_open: %w", syscall.EACCES)
	err := NewSystemError("open perf event", wrapped)
	assert.Equal(t, syscall.EACCES, err.Errno)
	assert.ErrorIs(t, err, syscall.EACCES)
	assert.Equal(t, "open perf event: perf_event_open: "+syscall.EACCES.Error(), err.Error())

	bare := SystemError{Message: "no cpus"}
	assert.Equal(t, "no cpus", bare.Error())
	assert.Nil(t, bare.Unwrap())

	errnoOnly := SystemError{Message: "ioctl", Errno: syscall.EINVAL}
	assert.True(t, errors.Is(errnoOnly, syscall.EINVAL))
}
