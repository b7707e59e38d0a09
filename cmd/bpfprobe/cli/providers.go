package cli

// ProvidersCmd prints the provider registry.
type ProvidersCmd struct {
	OutputFlags
}

// Run executes the providers command.
func (c *ProvidersCmd) Run(cli *CLI) error {
	rt, err := cli.NewRuntime()
	if err != nil {
		return err
	}
	out, err := FormatProviders(rt.Registry.Providers(), &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(out)
}
