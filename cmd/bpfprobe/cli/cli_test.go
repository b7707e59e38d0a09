package cli_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-bpfprobe/cmd/bpfprobe/cli"
)

func newParser(t *testing.T, c *cli.CLI) *kong.Kong {
	t.Helper()
	parser, err := kong.New(c, append(cli.KongOptions(), kong.Exit(func(int) { t.Fatal("unexpected exit") }))...)
	require.NoError(t, err)
	return parser
}

func TestKong_ParseCommandFlags(t *testing.T) {
	var c cli.CLI
	_, err := newParser(t, &c).Parse([]string{
		"parse", "-P", "vfs_read", "--param", "a,b", "--pid", "17", "-o", "json", "kprobe:$1", "tracepoint:sched:*",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"vfs_read", "a,b"}, c.Parse.Params, "params are not split on commas")
	assert.Equal(t, 17, c.Parse.Pid.Value)
	assert.Equal(t, cli.OutputFormatJSON, c.Parse.Output)
	assert.Equal(t, []string{"kprobe:$1", "tracepoint:sched:*"}, c.Parse.Specs)
}

func TestKong_AttachRequiresObject(t *testing.T) {
	var c cli.CLI
	_, err := newParser(t, &c).Parse([]string{"attach", "--program", "p", "kprobe:vfs_read"})
	require.Error(t, err)

	obj := filepath.Join(t.TempDir(), "probe.o")
	require.NoError(t, os.WriteFile(obj, nil, 0o644))
	_, err = newParser(t, &c).Parse([]string{"attach", "--object", obj, "--program", "p", "--metrics-addr", ":0", "kprobe:vfs_read"})
	require.NoError(t, err)
	assert.Equal(t, obj, c.Attach.Object.Path)
	assert.Equal(t, ":0", c.Attach.MetricsAddr)
}

func TestKong_RejectsBadPid(t *testing.T) {
	var c cli.CLI
	_, err := newParser(t, &c).Parse([]string{"list", "--pid", "zero"})
	require.Error(t, err)
}

func TestKong_LogFromEnvironment(t *testing.T) {
	t.Setenv("BPFPROBE_LOG", "debug,providers=trace")
	var c cli.CLI
	_, err := newParser(t, &c).Parse([]string{"providers"})
	require.NoError(t, err)
	assert.Equal(t, "debug,providers=trace", c.Log)
}

// runCommand parses and runs args against a config file that does not
// exist, so built-in defaults apply.
func runCommand(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	c := cli.CLI{Out: &out}
	args = append([]string{"--config", filepath.Join(t.TempDir(), "none.toml"), "--log", "error"}, args...)
	ctx, err := newParser(t, &c).Parse(args)
	require.NoError(t, err)
	require.NoError(t, ctx.Run(&c))
	return out.String()
}

func TestProvidersCommand(t *testing.T) {
	out := runCommand(t, "providers")
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "kprobe")
	assert.Contains(t, out, "fentry           f,kfunc")

	var views []struct {
		Name    string   `json:"name"`
		Aliases []string `json:"aliases"`
	}
	require.NoError(t, json.Unmarshal([]byte(runCommand(t, "providers", "-o", "json")), &views))
	require.Len(t, views, 21)
	assert.Equal(t, "bench", views[0].Name)
}

func TestParseCommand(t *testing.T) {
	out := runCommand(t, "parse", "-P", "vfs_read", "k:$1", "kretprobe:nf_tables:nft_*")
	assert.Contains(t, out, "kprobe")
	assert.Contains(t, out, "vfs_read")
	assert.Contains(t, out, "nf_tables:nft_*")

	var specs []struct {
		Provider string `json:"provider"`
		Func     string `json:"func"`
	}
	require.NoError(t, json.Unmarshal([]byte(runCommand(t, "parse", "-o", "json", "BEGIN", "kprobe:vfs_open")), &specs))
	require.Len(t, specs, 2)
	assert.Equal(t, "begin", specs[0].Provider)
	assert.Equal(t, "vfs_open", specs[1].Func)
}

func TestParseCommand_ReportsInvalidSpec(t *testing.T) {
	var c cli.CLI
	ctx, err := newParser(t, &c).Parse([]string{"--config", filepath.Join(t.TempDir(), "none.toml"), "parse", "nosuchprobe:foo"})
	require.NoError(t, err)
	err = ctx.Run(&c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid probe type: nosuchprobe")
}
