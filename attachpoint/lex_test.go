package attachpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLex(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		params []string
		want   []string
	}{
		{"single", "begin", nil, []string{"begin"}},
		{"two parts", "kprobe:vfs_read", nil, []string{"kprobe", "vfs_read"}},
		{"trailing colon", "kprobe:", nil, []string{"kprobe", ""}},
		{"quoted colon", `uprobe:"/tmp/a:b":main`, nil, []string{"uprobe", "/tmp/a:b", "main"}},
		{"escape in quotes", `uprobe:"/tmp/a\"b":main`, nil, []string{"uprobe", `/tmp/a"b`, "main"}},
		{"backslash outside quotes", `t:a\b:c`, nil, []string{"t", `a\b`, "c"}},
		{"param", "kprobe:$1", []string{"vfs_read"}, []string{"kprobe", "vfs_read"}},
		{"param with structure", "uprobe:$1", []string{"/bin/sh:main"}, []string{"uprobe", "/bin/sh", "main"}},
		{"param followed by text", "kprobe:$1_iter", []string{"vfs_read"}, []string{"kprobe", "vfs_read_iter"}},
		{"missing param", "kprobe:$2", []string{"x"}, []string{"kprobe", ""}},
		{"param in quotes is literal", `uprobe:"$1":main`, []string{"x"}, []string{"uprobe", "$1", "main"}},
		{"nested param", "kprobe:$1", []string{"$2", "inner"}, []string{"kprobe", "inner"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Lex(tt.raw, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLex_Errors(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr string
	}{
		{"kprobe:$0", "invalid trailing character for positional param: 0"},
		{"kprobe:$x", "invalid trailing character for positional param: x"},
		{"kprobe:$", "positional parameter is not valid"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, err := Lex(tt.raw, []string{"a"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLex_SelfReferenceTerminates(t *testing.T) {
	_, err := Lex("kprobe:$1", []string{"$1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "substitutions")
}

func TestParseUint(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"0", 0},
		{"16", 16},
		{"0x10", 16},
		{"0X1f", 31},
		{"010", 8},
		{"0b101", 5},
		{"1_000", 1000},
		{"5e3", 5000},
		{"1e0", 1},
		{"10u", 10},
		{"10ULL", 10},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUint(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "main", "0x", "12abc", "10e", "12e1", "1e17", "-1", "l"} {
		t.Run("bad/"+bad, func(t *testing.T) {
			_, err := ParseUint(bad)
			assert.Error(t, err)
		})
	}
}

func TestParseInt(t *testing.T) {
	v, err := ParseInt("-0x10")
	require.NoError(t, err)
	assert.Equal(t, int64(-16), v)

	v, err = ParseInt("+7")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	_, err = ParseInt("0xffffffffffffffff")
	assert.Error(t, err)
}
