package attachpoint

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/frobware/go-bpfprobe"
	"github.com/frobware/go-bpfprobe/wildcard"
)

// demangleLangs are the language hints accepted in a uprobe spec.
var demangleLangs = map[string]bool{
	"cpp":  true,
	"cxx":  true,
	"c++":  true,
	"rust": true,
}

// IsSupportedLang reports whether lang is a recognised uprobe language
// hint.
func IsSupportedLang(lang string) bool {
	return demangleLangs[lang]
}

// run is the state of parsing one spec. parts may be normalised by the
// per-type parser before fields are assigned.
type run struct {
	p     *Parser
	spec  *bpfprobe.AttachSpec
	parts []string
}

func (r *run) dispatch() (State, error) {
	switch r.spec.Provider {
	case "begin", "end":
		return r.special()
	case "self":
		return r.self()
	case "bench":
		return r.bench()
	case "kprobe":
		return r.kprobe(true)
	case "kretprobe", "ksession":
		return r.kprobe(false)
	case "uprobe":
		return r.uprobe(true)
	case "uretprobe":
		return r.uprobe(false)
	case "usdt":
		return r.usdt()
	case "tracepoint":
		return r.tracepoint()
	case "profile", "interval":
		return r.frequency()
	case "software", "hardware":
		return r.counter()
	case "watchpoint":
		return r.watchpoint(false)
	case "asyncwatchpoint":
		return r.watchpoint(true)
	case "fentry", "fexit":
		return r.fentry()
	case "iter":
		return r.iter()
	case "rawtracepoint":
		return r.rawTracepoint()
	default:
		return r.invalid("Invalid probe type: %s", r.spec.Provider)
	}
}

func (r *run) invalid(format string, args ...any) (State, error) {
	return StateInvalid, r.p.errorf(r.spec, format, args...)
}

// skipOr returns StateSkip for siblings of a provider-type expansion
// and the argument count error otherwise.
func (r *run) skipOr(expected ...int) (State, error) {
	if r.spec.IgnoreInvalid {
		return StateSkip, nil
	}
	return r.argCount(expected...)
}

func (r *run) argCount(expected ...int) (State, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s probe type requires %d", r.spec.Provider, expected[0])
	if len(expected) > 1 {
		fmt.Fprintf(&b, " or %d", expected[1])
	}
	// The provider itself is not an argument.
	fmt.Fprintf(&b, " arguments, found %d", len(r.parts)-1)
	return r.invalid("%s", b.String())
}

// splitOffset splits "func+off". The error is the user-facing
// diagnostic for a malformed or forbidden suffix.
func splitOffset(s string, allow bool) (fn string, off uint64, err error) {
	n := strings.Count(s, "+")
	if n == 0 {
		return s, 0, nil
	}
	if !allow {
		return "", 0, errors.New("Offset not allowed")
	}
	if n != 1 {
		return "", 0, errors.New("Cannot take more than one offset")
	}
	fn, offStr, _ := strings.Cut(s, "+")
	if fn == "" || offStr == "" {
		return "", 0, errors.New("Invalid offset")
	}
	off, perr := ParseUint(offStr)
	if perr != nil {
		return "", 0, fmt.Errorf("Invalid offset: %v", perr)
	}
	return fn, off, nil
}

func (r *run) special() (State, error) {
	if len(r.parts) == 2 && r.parts[1] == "*" {
		r.parts = r.parts[:1]
	}
	if len(r.parts) != 1 {
		return r.argCount(0)
	}
	return StateOK, nil
}

func (r *run) self() (State, error) {
	if len(r.parts) != 3 {
		return r.argCount(2)
	}
	r.spec.Target = r.parts[1]
	r.spec.Func = r.parts[2]
	return StateOK, nil
}

func (r *run) bench() (State, error) {
	if len(r.parts) != 2 {
		return r.argCount(1)
	}
	r.spec.Target = r.parts[1]
	return StateOK, nil
}

func (r *run) kprobe(allowOffset bool) (State, error) {
	n := len(r.parts)
	if n != 2 && n != 3 {
		return r.skipOr(1, 2)
	}

	funcIdx := 1
	if n == 3 {
		r.spec.Target = r.parts[1]
		funcIdx = 2
	}

	fn, off, err := splitOffset(r.parts[funcIdx], allowOffset)
	if err != nil {
		return r.invalid("%v", err)
	}
	r.spec.Func = fn
	r.spec.Offset = off

	// kprobe-multi cannot express module:function, so a module
	// always means full expansion.
	switch {
	case wildcard.HasWildcard(r.spec.Target):
		r.spec.Expansion = bpfprobe.ExpansionFull
	case wildcard.HasWildcard(r.spec.Func):
		if r.spec.Target == "" && r.p.kprobeMulti {
			r.spec.Expansion = bpfprobe.ExpansionMulti
		} else {
			r.spec.Expansion = bpfprobe.ExpansionFull
		}
	}
	return StateOK, nil
}

func (r *run) uprobe(allowOffset bool) (State, error) {
	if r.p.pid > 0 && (len(r.parts) == 2 || (len(r.parts) == 3 && IsSupportedLang(r.parts[1]))) {
		// With a pid the binary may be omitted.
		r.parts = slices.Insert(r.parts, 1, "")
		if r.p.host != nil {
			if exe, err := r.p.host.PidExe(r.p.pid); err == nil {
				r.parts[1] = exe
			}
		}
	}

	n := len(r.parts)
	if n != 3 && n != 4 {
		return r.skipOr(2, 3)
	}
	if n == 4 {
		r.spec.Lang = r.parts[2]
	}

	r.spec.Target = ""
	bin := r.parts[1]
	if !wildcard.HasWildcard(bin) && strings.HasPrefix(bin, "lib") && r.p.host != nil {
		if path, ok := r.p.host.ResolveLibrary(bin[3:], r.p.pid); ok {
			r.spec.Target = path
		}
	}
	if r.spec.Target == "" {
		r.spec.Target = bin
	}

	fn := r.parts[n-1]
	if strings.Contains(fn, "+") {
		f, off, err := splitOffset(fn, allowOffset)
		if err != nil {
			return r.invalid("%v", err)
		}
		r.spec.Func = f
		r.spec.Offset = off
	} else if addr, err := ParseUint(fn); err == nil {
		if wildcard.HasWildcard(r.spec.Target) {
			return r.invalid("Cannot use wildcards with absolute address")
		}
		r.spec.Address = addr
	} else {
		r.spec.Func = fn
	}

	// C++ overloads mean a plain name can match several symbols.
	if wildcard.HasWildcard(r.spec.Func) || wildcard.HasWildcard(r.spec.Target) || r.spec.Lang == "cpp" {
		if r.p.uprobeMulti {
			r.spec.Expansion = bpfprobe.ExpansionMulti
		} else {
			r.spec.Expansion = bpfprobe.ExpansionFull
		}
	}
	return StateOK, nil
}

func (r *run) usdt() (State, error) {
	if r.p.pid > 0 && len(r.parts) == 2 {
		r.parts = []string{r.parts[0], "", r.parts[1]}
	}
	switch len(r.parts) {
	case 3:
		r.spec.Target = r.parts[1]
		r.spec.Func = r.parts[2]
	case 4:
		r.spec.Target = r.parts[1]
		r.spec.Namespace = r.parts[2]
		r.spec.Func = r.parts[3]
	default:
		return r.skipOr(2, 3)
	}

	// Arguments are read per location, so USDT probes always expand.
	if wildcard.HasWildcard(r.spec.Target) || wildcard.HasWildcard(r.spec.Namespace) ||
		r.spec.Namespace == "" || wildcard.HasWildcard(r.spec.Func) || r.p.pid > 0 {
		r.spec.Expansion = bpfprobe.ExpansionFull
	}
	return StateOK, nil
}

func (r *run) tracepoint() (State, error) {
	// "tracepoint:*foo*" lists events named like foo in any category.
	if len(r.parts) == 2 && wildcard.HasWildcard(r.parts[1]) {
		r.parts = []string{r.parts[0], "*", r.parts[1]}
	}
	if len(r.parts) != 3 {
		return r.skipOr(2)
	}
	r.spec.Target = r.parts[1]
	r.spec.Func = r.parts[2]
	if strings.Contains(r.spec.Target, "*") || strings.Contains(r.spec.Func, "*") {
		r.spec.Expansion = bpfprobe.ExpansionFull
	}
	return StateOK, nil
}

// frequency parses profile and interval specs: "unit:rate", a bare
// nanosecond count, or a wildcard for listing.
func (r *run) frequency() (State, error) {
	if len(r.parts) == 2 {
		if wildcard.HasWildcard(r.parts[1]) {
			r.spec.Target = r.parts[1]
			r.spec.Freq = 0
			return StateOK, nil
		}
		ns, err := ParseUint(r.parts[1])
		if err != nil {
			return r.invalid("Invalid rate of %s probe: %v", r.spec.Provider, err)
		}
		if ns < 1000 {
			return r.invalid("Invalid rate of %s probe. Minimum is 1000 or 1us. Found: %d nanoseconds", r.spec.Provider, ns)
		}
		r.spec.Target = "us"
		r.spec.Freq = ns / 1000
		return StateOK, nil
	}
	if len(r.parts) != 3 {
		return r.argCount(1, 2)
	}
	r.spec.Target = r.parts[1]
	if wildcard.HasWildcard(r.parts[2]) {
		r.spec.Freq = 0
		return StateOK, nil
	}
	rate, err := ParseUint(r.parts[2])
	if err != nil {
		return r.invalid("Invalid rate of %s probe: %v", r.spec.Provider, err)
	}
	r.spec.Freq = rate
	return StateOK, nil
}

// counter parses software and hardware specs: "event[:count]".
func (r *run) counter() (State, error) {
	if len(r.parts) != 2 && len(r.parts) != 3 {
		return r.skipOr(1, 2)
	}
	r.spec.Target = r.parts[1]
	if len(r.parts) == 3 && r.parts[2] != "*" {
		count, err := ParseUint(r.parts[2])
		if err != nil {
			return r.invalid("Invalid count for %s probe: %v", r.spec.Provider, err)
		}
		r.spec.Freq = count
	}
	return StateOK, nil
}

func (r *run) watchpoint(async bool) (State, error) {
	if len(r.parts) != 4 {
		return r.argCount(3)
	}

	where := r.parts[1]
	if !strings.Contains(where, "+") {
		addr, err := ParseUint(where)
		if err != nil {
			return r.invalid("Invalid function/address argument")
		}
		r.spec.Address = addr
	} else {
		fn, arg, _ := strings.Cut(where, "+")
		if fn == "" || arg == "" || strings.Contains(arg, "+") {
			return r.invalid("Invalid function/address argument")
		}
		r.spec.Func = fn
		if strings.Contains(fn, "*") {
			r.spec.Expansion = bpfprobe.ExpansionFull
		}
		if len(arg) <= 3 || !strings.HasPrefix(arg, "arg") {
			return r.invalid("Invalid function argument")
		}
		n, err := ParseUint(arg[3:])
		if err != nil {
			return r.invalid("Invalid function argument")
		}
		r.spec.Address = n
	}

	length, err := ParseUint(r.parts[2])
	if err != nil {
		return r.invalid("Invalid length argument")
	}
	r.spec.Len = length

	if r.p.pid > 0 && r.p.host != nil {
		if exe, err := r.p.host.PidExe(r.p.pid); err == nil {
			r.spec.Target = exe
		}
	}
	r.spec.Mode = r.parts[3]
	r.spec.Async = async
	return StateOK, nil
}

func (r *run) fentry() (State, error) {
	n := len(r.parts)
	if n < 2 || n > 4 {
		return r.skipOr(1, 3)
	}

	if r.parts[1] == "bpf" {
		r.spec.Target = "bpf"
		switch n {
		case 2:
			return r.invalid("the 'bpf' variant of this probe requires a bpf program name and optional bpf program id")
		case 3:
			r.spec.Func = r.parts[2]
		case 4:
			r.spec.Func = r.parts[3]
			if r.parts[2] != "*" {
				id, err := ParseUint(r.parts[2])
				if err != nil {
					return r.invalid("bpf program id must be a number or '*'")
				}
				r.spec.Address = id
			}
		}
		r.fullIfWildcard()
		return StateOK, nil
	}

	switch n {
	case 4:
		return r.invalid("Only the 'bpf' variant of this probe supports 4 arguments")
	case 3:
		r.spec.Target = r.parts[1]
		r.spec.Func = r.parts[2]
	case 2:
		r.spec.Func = r.parts[1]
		if strings.Contains(r.spec.Func, "*") {
			r.spec.Target = "*"
			break
		}
		var mods []string
		if r.p.host != nil {
			mods = r.p.host.FuncModules(r.spec.Func)
		}
		switch {
		case len(mods) == 1:
			r.spec.Target = mods[0]
		case len(mods) > 1 && r.p.listing:
			r.spec.Target = "*"
		case len(mods) > 1:
			return r.invalid("ambiguous attach point, please specify module containing the function '%s'", r.spec.Func)
		}
	}
	r.fullIfWildcard()
	return StateOK, nil
}

func (r *run) fullIfWildcard() {
	if strings.Contains(r.spec.Func, "*") || strings.Contains(r.spec.Target, "*") {
		r.spec.Expansion = bpfprobe.ExpansionFull
	}
}

func (r *run) iter() (State, error) {
	if len(r.parts) != 2 && len(r.parts) != 3 {
		if r.spec.IgnoreInvalid {
			return StateSkip, nil
		}
		return r.invalid("%s probe type takes 2 arguments (1 optional)", r.spec.Provider)
	}
	if strings.Contains(r.parts[1], "*") {
		if !r.p.listing {
			if r.spec.IgnoreInvalid {
				return StateSkip, nil
			}
			return r.invalid("%s probe type does not support wildcards", r.spec.Provider)
		}
		r.spec.Expansion = bpfprobe.ExpansionFull
	}
	r.spec.Func = r.parts[1]
	if len(r.parts) == 3 {
		r.spec.Pin = r.parts[2]
	}
	return StateOK, nil
}

func (r *run) rawTracepoint() (State, error) {
	switch len(r.parts) {
	case 2:
		// Without a module the event may live in any of them.
		r.spec.Target = "*"
		r.spec.Func = r.parts[1]
	case 3:
		r.spec.Target = r.parts[1]
		r.spec.Func = r.parts[2]
	default:
		return r.skipOr(1, 2)
	}
	if wildcard.HasWildcard(r.spec.Func) || wildcard.HasWildcard(r.spec.Target) {
		r.spec.Expansion = bpfprobe.ExpansionFull
	}
	return StateOK, nil
}
