package cli

import (
	"github.com/frobware/go-bpfprobe"
)

// ParseCmd runs the attach point parser without touching the kernel.
type ParseCmd struct {
	OutputFlags
	Specs   []string `arg:"" name:"spec" help:"Attach point specs, e.g. kprobe:vfs_read."`
	Params  []string `name:"param" short:"P" sep:"none" help:"Positional parameter for $1, $2, ... (repeatable)."`
	Pid     Pid      `name:"pid" short:"p" help:"Target process."`
	Listing bool     `name:"listing" help:"Parse as for listing, which relaxes wildcard rules."`
}

// Run executes the parse command.
func (c *ParseCmd) Run(cli *CLI) error {
	rt, err := cli.NewRuntime()
	if err != nil {
		return err
	}

	specs := make([]*bpfprobe.AttachSpec, 0, len(c.Specs))
	for _, raw := range c.Specs {
		specs = append(specs, bpfprobe.NewAttachSpec(raw, false))
	}
	parsed, err := rt.Parser(c.Params, c.Pid.Value, c.Listing).ParseAll(specs)
	if err != nil {
		return err
	}

	out, err := FormatSpecs(parsed, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(out)
}
