// Package registry owns the provider instances and resolves provider
// names, aliases and provider-type globs against them.
package registry

import (
	"errors"
	"log/slog"
	"maps"
	"slices"

	"github.com/frobware/go-bpfprobe"
	"github.com/frobware/go-bpfprobe/attachpoint"
	"github.com/frobware/go-bpfprobe/metrics"
	"github.com/frobware/go-bpfprobe/providers"
	"github.com/frobware/go-bpfprobe/wildcard"
)

// Probe types considered when a provider glob is expanded by the
// parser. Listing queries use the entry kinds only.
var (
	kernelListing    = []string{"kprobe", "tracepoint", "software", "hardware", "fentry", "iter", "rawtracepoint"}
	userspaceListing = []string{"uprobe", "usdt"}
	kernelReturns    = []string{"kretprobe", "fexit"}
	userspaceReturns = []string{"uretprobe"}
)

// Registry maps names and aliases to providers. It is built once and
// read-only afterwards.
type Registry struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	// providers owns every instance in registration order; byName and
	// byAlias index into it.
	providers []providers.Provider
	byName    map[string]int
	byAlias   map[string]int
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger:  slog.Default(),
		byName:  make(map[string]int),
		byAlias: make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// Default returns a registry holding every built-in provider.
func Default(env *providers.Env, opts ...Option) (*Registry, error) {
	factories := []func(*providers.Env) providers.Provider{
		providers.NewBench,
		providers.NewFentry,
		providers.NewFexit,
		providers.NewIter,
		providers.NewRawTracepoint,
		providers.NewTracepoint,
		providers.NewKprobe,
		providers.NewKretprobe,
		providers.NewKsession,
		providers.NewUprobe,
		providers.NewUretprobe,
		providers.NewBegin,
		providers.NewEnd,
		providers.NewSelf,
		providers.NewInterval,
		providers.NewProfile,
		providers.NewSoftware,
		providers.NewHardware,
		providers.NewUSDT,
		providers.NewWatchpoint,
		providers.NewAsyncWatchpoint,
	}
	r := New(opts...)
	for _, factory := range factories {
		if err := r.Add(factory(env)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func identity(p providers.Provider) bpfprobe.ProviderIdentity {
	return bpfprobe.ProviderIdentity{Name: p.Name(), Aliases: p.Aliases()}
}

// Add registers p. If its name or any alias is already taken the
// registry is left unchanged and a ProviderConflict naming the
// existing owner is returned.
func (r *Registry) Add(p providers.Provider) error {
	for _, name := range append([]string{p.Name()}, p.Aliases()...) {
		if existing, ok := r.Lookup(name); ok {
			return bpfprobe.ProviderConflict{Existing: identity(existing), Rejected: identity(p)}
		}
	}
	i := len(r.providers)
	r.providers = append(r.providers, p)
	r.byName[p.Name()] = i
	for _, alias := range p.Aliases() {
		r.byAlias[alias] = i
	}
	r.logger.Debug("registered provider", "provider", p.Name(), "aliases", p.Aliases())
	return nil
}

// Lookup finds a provider by canonical name, then by alias.
func (r *Registry) Lookup(name string) (providers.Provider, bool) {
	if i, ok := r.byName[name]; ok {
		return r.providers[i], true
	}
	if i, ok := r.byAlias[name]; ok {
		return r.providers[i], true
	}
	return nil, false
}

// Providers returns every provider in registration order.
func (r *Registry) Providers() []providers.Provider {
	return slices.Clone(r.providers)
}

// Canonical maps a name or alias to the canonical provider name.
func (r *Registry) Canonical(name string) (string, bool) {
	p, ok := r.Lookup(name)
	if !ok {
		return "", false
	}
	return p.Name(), true
}

// Expand returns the sorted registered probe types matching query. A
// bare query lists the entry kinds only; otherwise the return kinds
// are included too so that "k*probe" yields kprobe and kretprobe.
func (r *Registry) Expand(query string, userspace, bare bool) []string {
	set, returns := kernelListing, kernelReturns
	if userspace {
		set, returns = userspaceListing, userspaceReturns
	}
	if !bare {
		set = append(slices.Clone(set), returns...)
	}
	pattern := wildcard.Tokens(query)
	var out []string
	for _, name := range set {
		if _, registered := r.byName[name]; registered && pattern.Match(name) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

var _ attachpoint.ProbeTypes = (*Registry)(nil)

// Match is one provider's points from GetAllMatching.
type Match struct {
	Provider providers.Provider
	Points   []bpfprobe.AttachPoint
}

// GetAllMatching parses targetGlob with every provider whose name or
// alias matches providerGlob. Each provider is queried once. A
// ParseError means the provider has no matches and is skipped; any
// other error is returned.
func (r *Registry) GetAllMatching(providerGlob, targetGlob string, btf bpfprobe.BtfLookup, pid int) ([]Match, error) {
	pattern := wildcard.Tokens(providerGlob)
	var selected []int
	for _, index := range []map[string]int{r.byName, r.byAlias} {
		for _, name := range slices.Sorted(maps.Keys(index)) {
			if i := index[name]; pattern.Match(name) && !slices.Contains(selected, i) {
				selected = append(selected, i)
			}
		}
	}

	var out []Match
	for _, i := range selected {
		p := r.providers[i]
		points, err := p.Parse(targetGlob, btf, pid)
		if err != nil {
			var pe bpfprobe.ParseError
			if errors.As(err, &pe) {
				r.logger.Debug("provider has no matches", "provider", p.Name(), "target", targetGlob, "error", err)
				continue
			}
			return nil, err
		}
		r.metrics.ObserveResolved(p.Name(), len(points))
		out = append(out, Match{Provider: p, Points: points})
	}
	return out, nil
}

// Resolve expands one parsed skeleton into attach points with the
// provider it names.
func (r *Registry) Resolve(spec *bpfprobe.AttachSpec, btf bpfprobe.BtfLookup, pid int) (providers.Provider, []bpfprobe.AttachPoint, error) {
	p, ok := r.Lookup(spec.Provider)
	if !ok {
		return nil, nil, bpfprobe.ParseError{Provider: spec.Provider, Target: spec.Raw, Detail: "unknown provider"}
	}
	glob := providers.SpecGlob(spec)
	points, err := p.Parse(glob, btf, pid)
	if err != nil {
		return nil, nil, err
	}
	r.metrics.ObserveResolved(p.Name(), len(points))
	r.logger.Debug("resolved", "provider", p.Name(), "glob", glob, "count", len(points))
	return p, points, nil
}
