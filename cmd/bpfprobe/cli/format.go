package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/frobware/go-bpfprobe"
	"github.com/frobware/go-bpfprobe/providers"
	"github.com/frobware/go-bpfprobe/registry"
)

// OutputFormat selects how results are printed.
type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
)

// OutputFlags provides the -o flag.
type OutputFlags struct {
	Output OutputFormat `short:"o" help:"Output format: table or json." enum:"table,json" default:"table"`
}

func marshalJSON(v any) (string, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(out) + "\n", nil
}

// FormatSpecs renders parsed skeletons.
func FormatSpecs(specs []*bpfprobe.AttachSpec, flags *OutputFlags) (string, error) {
	if flags.Output == OutputFormatJSON {
		return marshalJSON(specs)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %-10s %-40s %s\n", "PROVIDER", "EXPANSION", "TARGET", "RAW")
	for _, s := range specs {
		target := providers.SpecGlob(s)
		if target == "" {
			target = "-"
		}
		if s.UserProvidedName != "" {
			target += " (" + s.UserProvidedName + ")"
		}
		fmt.Fprintf(&b, "%-16s %-10s %-40s %s\n", s.Provider, s.Expansion, target, s.Raw)
	}
	return b.String(), nil
}

type providerView struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
}

// FormatProviders renders the registry in registration order.
func FormatProviders(ps []providers.Provider, flags *OutputFlags) (string, error) {
	views := make([]providerView, 0, len(ps))
	for _, p := range ps {
		views = append(views, providerView{Name: p.Name(), Aliases: p.Aliases()})
	}
	if flags.Output == OutputFormatJSON {
		return marshalJSON(views)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %s\n", "NAME", "ALIASES")
	for _, v := range views {
		aliases := strings.Join(v.Aliases, ",")
		if aliases == "" {
			aliases = "-"
		}
		fmt.Fprintf(&b, "%-16s %s\n", v.Name, aliases)
	}
	return b.String(), nil
}

type pointView struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`
	Action   string `json:"action"`
	Multi    bool   `json:"multi"`
}

// FormatMatches renders provider:name lines, one per attach point.
func FormatMatches(matches []registry.Match, flags *OutputFlags) (string, error) {
	var views []pointView
	for _, m := range matches {
		for _, pt := range m.Points {
			views = append(views, pointView{
				Provider: m.Provider.Name(),
				Name:     pt.Name(),
				Action:   pt.Action().String(),
				Multi:    pt.CanMultiAttach(),
			})
		}
	}
	if flags.Output == OutputFormatJSON {
		if views == nil {
			views = []pointView{}
		}
		return marshalJSON(views)
	}
	var b strings.Builder
	for _, v := range views {
		fmt.Fprintf(&b, "%s:%s\n", v.Provider, v.Name)
	}
	return b.String(), nil
}
