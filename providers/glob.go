package providers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/frobware/go-bpfprobe"
	"github.com/frobware/go-bpfprobe/attachpoint"
	"github.com/frobware/go-bpfprobe/wildcard"
)

// SpecGlob renders the provider-relative glob a provider's Parse
// expects from a parsed skeleton's structured fields. Providers the
// renderer does not know receive the normalised parts verbatim.
func SpecGlob(spec *bpfprobe.AttachSpec) string {
	switch spec.Provider {
	case "kprobe", "kretprobe", "ksession":
		return joinNonEmpty(spec.Target, withOffset(spec.Func, spec.Offset))
	case "uprobe", "uretprobe":
		fn := withOffset(spec.Func, spec.Offset)
		if spec.Func == "" {
			fn = fmt.Sprintf("0x%x", spec.Address)
		}
		lang := spec.Lang
		if !attachpoint.IsSupportedLang(lang) {
			lang = ""
		}
		return joinNonEmpty(spec.Target, lang, fn)
	case "usdt":
		return spec.Target + ":" + joinNonEmpty(spec.Namespace, spec.Func)
	case "tracepoint", "self":
		return spec.Target + ":" + spec.Func
	case "rawtracepoint":
		return joinNonEmpty(anyModule(spec.Target), spec.Func)
	case "fentry", "fexit":
		if spec.Target == "bpf" {
			if spec.Address != 0 {
				return "bpf:" + strconv.FormatUint(spec.Address, 10) + ":" + spec.Func
			}
			return "bpf:" + spec.Func
		}
		return joinNonEmpty(anyModule(spec.Target), spec.Func)
	case "iter":
		return joinNonEmpty(spec.Func, spec.Pin)
	case "profile", "interval":
		if spec.Freq == 0 {
			if wildcard.HasWildcard(spec.Target) {
				return spec.Target
			}
			return spec.Target + ":*"
		}
		return spec.Target + ":" + strconv.FormatUint(spec.Freq, 10)
	case "software", "hardware":
		if spec.Freq == 0 {
			return spec.Target
		}
		return spec.Target + ":" + strconv.FormatUint(spec.Freq, 10)
	case "watchpoint", "asyncwatchpoint":
		where := fmt.Sprintf("0x%x", spec.Address)
		if spec.Func != "" {
			where = fmt.Sprintf("%s+arg%d", spec.Func, spec.Address)
		}
		return joinNonEmpty(spec.Target, where, strconv.FormatUint(spec.Len, 10), spec.Mode)
	case "bench":
		return spec.Target
	case "begin", "end":
		return ""
	default:
		return spec.Glob()
	}
}

func withOffset(fn string, off uint64) string {
	if off == 0 {
		return fn
	}
	return fn + "+" + strconv.FormatUint(off, 10)
}

// anyModule drops a target that stands for every module.
func anyModule(target string) string {
	if target == "*" {
		return ""
	}
	return target
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ":")
}
