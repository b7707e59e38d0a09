package cli

import (
	"strings"
)

// ListCmd lists attach points, like a probe listing in a tracing tool.
type ListCmd struct {
	OutputFlags
	Spec string `arg:"" optional:"" name:"spec" help:"provider-glob[:target-glob], e.g. 'kprobe:vfs_*'. Defaults to everything."`
	Pid  Pid    `name:"pid" short:"p" help:"Restrict user-space providers to this process."`
}

// splitListSpec separates the provider glob from the target glob. A
// missing part matches everything.
func splitListSpec(spec string) (providerGlob, targetGlob string) {
	providerGlob, targetGlob, _ = strings.Cut(strings.TrimSpace(spec), ":")
	if providerGlob == "" {
		providerGlob = "*"
	}
	if targetGlob == "" {
		targetGlob = "*"
	}
	return providerGlob, targetGlob
}

// Run executes the list command.
func (c *ListCmd) Run(cli *CLI) error {
	rt, err := cli.NewRuntime()
	if err != nil {
		return err
	}

	providerGlob, targetGlob := splitListSpec(c.Spec)
	matches, err := rt.Registry.GetAllMatching(providerGlob, targetGlob, rt.BTF, c.Pid.Value)
	if err != nil {
		return err
	}

	out, err := FormatMatches(matches, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(out)
}
