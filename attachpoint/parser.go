// Package attachpoint turns raw attach point strings into structured
// skeletons.
//
// Parsing is two-phase. Lex splits the string into parts and
// substitutes positional parameters. Parser then resolves the provider
// type, expanding a provider glob into sibling specs when it matches
// more than one type, and runs the per-type argument parser that fills
// in the skeleton's fields.
package attachpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/frobware/go-bpfprobe"
	"github.com/frobware/go-bpfprobe/metrics"
	"github.com/frobware/go-bpfprobe/wildcard"
)

// State is the outcome of parsing one spec.
type State int

const (
	// StateOK means the skeleton's fields are populated.
	StateOK State = iota
	// StateInvalid is fatal for the spec; the error carries the
	// diagnostic.
	StateInvalid
	// StateSkip drops a sibling produced by provider-type expansion
	// whose arity does not fit its type.
	StateSkip
	// StateNewSpecs replaces the spec with the returned siblings.
	StateNewSpecs
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "invalid"
	case StateSkip:
		return "skip"
	case StateNewSpecs:
		return "new_specs"
	default:
		return "ok"
	}
}

// ProbeTypes is the provider-name inventory the parser resolves
// against.
type ProbeTypes interface {
	// Canonical maps a provider name or alias to its canonical name.
	Canonical(name string) (string, bool)
	// Expand returns the sorted canonical names matching query. The
	// userspace set is used when userspace is set, the kernel set
	// otherwise. A bare query is a single-part listing request and
	// selects the listing subset.
	Expand(query string, userspace, bare bool) []string
}

// Host answers the questions per-type parsers ask about the running
// system. A nil Host answers every question negatively.
type Host interface {
	// PidExe returns the executable path of pid, as seen from its
	// mount namespace.
	PidExe(pid int) (string, error)
	// ResolveLibrary finds the path of shared library lib<name>,
	// preferring libraries mapped by pid when pid > 0.
	ResolveLibrary(name string, pid int) (string, bool)
	// FuncModules returns the kernel modules whose BTF defines fn.
	FuncModules(fn string) []string
}

// Parser parses attach point specs. Its configuration is fixed at
// construction; a Parser may be reused for any number of specs.
type Parser struct {
	types       ProbeTypes
	host        Host
	params      []string
	pid         int
	listing     bool
	kprobeMulti bool
	uprobeMulti bool
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures a Parser.
type Option func(*Parser)

// WithParams sets the positional parameters referenced as $1, $2, ...
func WithParams(params ...string) Option {
	return func(p *Parser) { p.params = params }
}

// WithPid sets the target process. A pid <= 0 means none.
func WithPid(pid int) Option {
	return func(p *Parser) { p.pid = pid }
}

// WithListing enables listing mode, which relaxes wildcard
// restrictions that only apply when attaching.
func WithListing(listing bool) Option {
	return func(p *Parser) { p.listing = listing }
}

// WithHost sets the system oracle used by per-type parsers.
func WithHost(h Host) Option {
	return func(p *Parser) { p.host = h }
}

// WithMultiAttach declares whether kprobe-multi and uprobe-multi are
// available. Both default to true.
func WithMultiAttach(kprobe, uprobe bool) Option {
	return func(p *Parser) {
		p.kprobeMulti = kprobe
		p.uprobeMulti = uprobe
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Parser) { p.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Parser) { p.metrics = m }
}

// New returns a Parser resolving provider names against types.
func New(types ProbeTypes, opts ...Option) *Parser {
	p := &Parser{
		types:       types,
		kprobeMulti: true,
		uprobeMulti: true,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse parses one spec in place. On StateNewSpecs the returned
// siblings replace spec and must themselves be parsed. The error is
// non-nil exactly when the state is StateInvalid.
func (p *Parser) Parse(spec *bpfprobe.AttachSpec) (State, []*bpfprobe.AttachSpec, error) {
	st, siblings, err := p.parse(spec)
	p.metrics.ObserveParse(st.String())
	if st == StateSkip {
		p.logger.Debug("skipping attach point", "spec", spec.Raw)
	}
	return st, siblings, err
}

func (p *Parser) parse(spec *bpfprobe.AttachSpec) (State, []*bpfprobe.AttachSpec, error) {
	parts, err := Lex(spec.Raw, p.params)
	if err != nil {
		return StateInvalid, nil, p.errorf(spec, "%v", err)
	}
	if len(parts) == 0 {
		return StateInvalid, nil, p.errorf(spec, "Invalid attachpoint definition")
	}

	front := parts[0]
	if front == "" {
		// An empty spec, typically a trailing comma in the probe list.
		spec.Provider = ""
		spec.Parts = parts
		return StateOK, nil, nil
	}

	if pos := strings.IndexByte(front, '='); pos >= 0 && pos != len(front)-1 {
		spec.UserProvidedName = front[:pos]
		front = front[pos+1:]
		parts[0] = front
	}

	var probeTypes []string
	if wildcard.HasWildcard(front) {
		query := front
		bare := len(parts) == 1
		if bare {
			query = "*"
		}
		userspace := p.pid > 0 || (len(parts) >= 2 && strings.Contains(parts[1], "/"))
		probeTypes = p.types.Expand(query, userspace, bare)
		if len(probeTypes) == 0 {
			return StateInvalid, nil, p.errorf(spec, "No probe type matched for %s", front)
		}
	} else {
		probeTypes = []string{front}
	}

	if len(probeTypes) > 1 {
		rest := front
		if len(parts) > 1 {
			rest = erasePrefix(spec.Raw)
		}
		siblings := make([]*bpfprobe.AttachSpec, 0, len(probeTypes))
		for _, pt := range probeTypes {
			sib := bpfprobe.NewAttachSpec(pt+":"+rest, true)
			sib.UserProvidedName = spec.UserProvidedName
			siblings = append(siblings, sib)
		}
		return StateNewSpecs, siblings, nil
	}

	provider, ok := p.canonical(probeTypes[0])
	if !ok {
		return StateInvalid, nil, p.errorf(spec, "Invalid probe type: %s", probeTypes[0])
	}
	spec.Provider = provider
	parts[0] = provider

	r := &run{p: p, spec: spec, parts: parts}
	st, err := r.dispatch()
	spec.Parts = r.parts
	return st, nil, err
}

// canonical maps a name or alias to its canonical provider name,
// falling back to a case-insensitive match so that BEGIN resolves to
// begin.
func (p *Parser) canonical(name string) (string, bool) {
	if c, ok := p.types.Canonical(name); ok {
		return c, true
	}
	return p.types.Canonical(strings.ToLower(name))
}

// ParseAll parses every spec, expanding provider-type globs and
// dropping skipped siblings and empty specs. Invalid specs do not stop
// the others; their errors are joined. The result is empty only if an
// error is returned.
func (p *Parser) ParseAll(specs []*bpfprobe.AttachSpec) ([]*bpfprobe.AttachSpec, error) {
	var (
		out  []*bpfprobe.AttachSpec
		errs []error
	)
	queue := append([]*bpfprobe.AttachSpec(nil), specs...)
	for len(queue) > 0 {
		spec := queue[0]
		queue = queue[1:]

		st, siblings, err := p.Parse(spec)
		switch st {
		case StateInvalid:
			errs = append(errs, err)
		case StateNewSpecs:
			queue = append(queue, siblings...)
		case StateOK:
			if spec.Provider != "" {
				out = append(out, spec)
			}
		}
	}
	if len(errs) > 0 {
		return out, errors.Join(errs...)
	}
	if len(out) == 0 {
		return nil, errors.New("no attach points for probe")
	}
	return out, nil
}

func (p *Parser) errorf(spec *bpfprobe.AttachSpec, format string, args ...any) error {
	provider := spec.Provider
	if provider == "" {
		provider = "<unknown>"
	}
	return bpfprobe.ParseError{
		Provider: provider,
		Target:   spec.Raw,
		Detail:   fmt.Sprintf(format, args...),
	}
}

// erasePrefix drops everything up to and including the first ':'.
func erasePrefix(s string) string {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return ""
	}
	return s[i+1:]
}
