// Package cli is the kong command line of bpfprobe.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"

	"github.com/alecthomas/kong"

	"github.com/frobware/go-bpfprobe/config"
	"github.com/frobware/go-bpfprobe/logging"
)

// CLI is the root command.
type CLI struct {
	Config string `name:"config" help:"Config file path." default:"${default_config_path}" type:"path"`
	Log    string `name:"log" help:"Log spec, e.g. 'warn,providers=debug'." env:"BPFPROBE_LOG"`

	Parse     ParseCmd     `cmd:"" help:"Parse attach point specs and print the skeletons."`
	List      ListCmd      `cmd:"" help:"List the attach points matching a probe glob."`
	Providers ProvidersCmd `cmd:"" help:"List the registered providers and their aliases."`
	Attach    AttachCmd    `cmd:"" help:"Attach a program from an object file until interrupted."`

	// Out receives command output. Nil means os.Stdout.
	Out io.Writer `kong:"-"`
}

// KongOptions returns the parser configuration for CLI.
func KongOptions() []kong.Option {
	return []kong.Option{
		kong.Name("bpfprobe"),
		kong.Description("Resolve and attach BPF probes from tracing-script attach point specs."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.TypeMapper(reflect.TypeOf(Pid{}), pidMapper()),
		kong.TypeMapper(reflect.TypeOf(ObjectPath{}), objectPathMapper()),
		kong.Vars{
			"default_config_path": config.DefaultPath,
		},
	}
}

// LoadConfig reads the config file named by --config.
func (c *CLI) LoadConfig() (config.Config, error) {
	return config.Load(c.Config)
}

// Logger builds the command logger. --log and BPFPROBE_LOG arrive in
// the same flag; the config file supplies the fallback.
func (c *CLI) Logger(cfg config.Config) (*slog.Logger, error) {
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Options{
		CLISpec:    c.Log,
		ConfigSpec: cfg.Logging.Spec(),
		Format:     format,
		Output:     os.Stderr,
	})
}

func (c *CLI) out() io.Writer {
	if c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

// WriteOut writes b to Out. A short write without an error is reported
// as io.ErrShortWrite.
func (c *CLI) WriteOut(b []byte) error {
	n, err := c.out().Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return io.ErrShortWrite
	}
	return nil
}

// PrintOut writes s to Out.
func (c *CLI) PrintOut(s string) error {
	return c.WriteOut([]byte(s))
}

// PrintOutf formats to Out.
func (c *CLI) PrintOutf(format string, args ...any) error {
	return c.PrintOut(fmt.Sprintf(format, args...))
}
