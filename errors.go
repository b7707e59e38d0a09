package bpfprobe

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// ParseError is returned when a target glob or literal cannot be
// resolved by a provider: a missing file, a missing symbol or a
// malformed argument list. It is recoverable; resolution of other
// attach points continues.
type ParseError struct {
	Provider string
	Target   string
	Detail   string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("parse error for provider %s given target %s: %s", e.Provider, e.Target, e.Detail)
}

// AttachError is returned when a point resolved successfully but the
// kernel refused to create the link. Point is retained for
// diagnostics.
type AttachError struct {
	Provider string
	Point    AttachPoint
	Detail   string
	Err      error
}

func (e AttachError) Error() string {
	name := "<none>"
	if e.Point != nil {
		name = e.Point.Name()
	}
	msg := fmt.Sprintf("attach error for %s:%s: %s", e.Provider, name, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e AttachError) Unwrap() error { return e.Err }

// ProviderIdentity is the immutable name and alias set of a provider.
type ProviderIdentity struct {
	Name    string
	Aliases []string
}

func (id ProviderIdentity) describe() string {
	if len(id.Aliases) == 0 {
		return "no aliases"
	}
	return "aliases: " + strings.Join(id.Aliases, ", ")
}

// ProviderConflict is returned when two providers claim the same name
// or alias. Existing is the provider already registered; Rejected is
// the one that failed to register.
type ProviderConflict struct {
	Existing ProviderIdentity
	Rejected ProviderIdentity
}

func (e ProviderConflict) Error() string {
	return fmt.Sprintf("provider name conflict: %s is already registered (%s); %s (%s) rejected",
		e.Existing.Name, e.Existing.describe(), e.Rejected.Name, e.Rejected.describe())
}

// SystemError is a generic OS or library failure where a more
// specific kind is not warranted.
type SystemError struct {
	Message string
	Errno   syscall.Errno
	Err     error
}

// NewSystemError wraps err, extracting its errno when one is present.
func NewSystemError(message string, err error) SystemError {
	se := SystemError{Message: message, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		se.Errno = errno
	}
	return se
}

func (e SystemError) Error() string {
	switch {
	case e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Errno != 0:
		return e.Message + ": " + e.Errno.Error()
	default:
		return e.Message
	}
}

func (e SystemError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	if e.Errno != 0 {
		return e.Errno
	}
	return nil
}
