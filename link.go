package bpfprobe

import (
	"errors"
	"sync"
)

// Link is a live kernel attachment. Closing it detaches the program.
type Link interface {
	Close() error
}

// AttachedProbe owns one kernel attachment and remembers the points it
// covers. A multi-attach link covers several points. Close is
// idempotent: the kernel object is released at most once.
type AttachedProbe struct {
	link   Link
	points []AttachPoint

	once sync.Once
	err  error
}

// NewAttachedProbe takes ownership of link.
func NewAttachedProbe(link Link, points ...AttachPoint) *AttachedProbe {
	return &AttachedProbe{link: link, points: points}
}

// Points returns the attach points covered by this probe.
func (p *AttachedProbe) Points() []AttachPoint {
	return p.points
}

// Close detaches the probe. Subsequent calls return the first result.
func (p *AttachedProbe) Close() error {
	p.once.Do(func() {
		if p.link != nil {
			p.err = p.link.Close()
		}
	})
	return p.err
}

// CloseAll closes probes in reverse order of attachment and joins any
// errors.
func CloseAll(probes []*AttachedProbe) error {
	var errs []error
	for i := len(probes) - 1; i >= 0; i-- {
		if probes[i] == nil {
			continue
		}
		if err := probes[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
