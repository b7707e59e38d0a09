package bpfprobe

import "strings"

// Expansion describes how a skeleton with wildcards is expected to be
// expanded by the surrounding driver.
type Expansion int

const (
	// ExpansionNone means the skeleton names a single target.
	ExpansionNone Expansion = iota
	// ExpansionFull means every match is attached on its own.
	ExpansionFull
	// ExpansionMulti means matches can be batched into one kernel call.
	ExpansionMulti
)

func (e Expansion) String() string {
	switch e {
	case ExpansionFull:
		return "full"
	case ExpansionMulti:
		return "multi"
	default:
		return "none"
	}
}

// AttachSpec is the pre-resolution skeleton of one attach point as
// written in a tracing script. The parser fills it in place; providers
// only read it.
type AttachSpec struct {
	// Raw is the spec string as written, before lexing.
	Raw string `json:"raw"`
	// Parts holds the lexed colon-separated parts after parameter
	// substitution and per-type normalisation. Parts[0] is the
	// provider as written.
	Parts []string `json:"parts,omitempty"`

	Provider  string `json:"provider"`
	Target    string `json:"target,omitempty"`
	Namespace string `json:"ns,omitempty"`
	Func      string `json:"func,omitempty"`
	Lang      string `json:"lang,omitempty"`
	Pin       string `json:"pin,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Offset    uint64 `json:"offset,omitempty"`
	Freq      uint64 `json:"freq,omitempty"`
	Len       uint64 `json:"len,omitempty"`
	Async     bool   `json:"async,omitempty"`

	// Address is an absolute address, a bpf program id for fentry
	// "bpf" targets, or N for a func+argN watchpoint.
	Address uint64 `json:"address,omitempty"`

	Expansion        Expansion `json:"expansion"`
	UserProvidedName string    `json:"user_provided_name,omitempty"`
	// IgnoreInvalid is set on siblings produced by provider-type
	// wildcard expansion. Arity mismatches on such specs are skipped
	// rather than reported.
	IgnoreInvalid bool `json:"ignore_invalid,omitempty"`
}

// NewAttachSpec returns a skeleton for the raw input.
func NewAttachSpec(raw string, ignoreInvalid bool) *AttachSpec {
	return &AttachSpec{Raw: raw, IgnoreInvalid: ignoreInvalid}
}

// Glob returns the provider-relative target string handed to a
// provider's Parse: everything after the provider part.
func (s *AttachSpec) Glob() string {
	if len(s.Parts) < 2 {
		return ""
	}
	return strings.Join(s.Parts[1:], ":")
}

// String renders the normalised spec as provider:glob.
func (s *AttachSpec) String() string {
	if g := s.Glob(); g != "" {
		return s.Provider + ":" + g
	}
	return s.Provider
}
