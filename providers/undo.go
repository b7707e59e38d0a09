package providers

import (
	"errors"
	"log/slog"

	"github.com/frobware/go-bpfprobe"
)

// undoStack accumulates the probes attached so far by a multi-step
// attach. On failure they are closed in reverse order, which detaches
// them from the kernel.
type undoStack []func() error

// push appends a rollback closure to the stack.
func (u *undoStack) push(fn func() error) {
	*u = append(*u, fn)
}

// pushProbes registers every probe for closing on rollback.
func (u *undoStack) pushProbes(probes []*bpfprobe.AttachedProbe) {
	for _, p := range probes {
		u.push(p.Close)
	}
}

// rollback executes all closures in reverse order, logging and
// collecting any errors. Returns nil if every closure succeeds.
func (u undoStack) rollback(logger *slog.Logger) error {
	var errs []error
	for i := len(u) - 1; i >= 0; i-- {
		if err := u[i](); err != nil {
			logger.Error("rollback step failed", "step", i, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
