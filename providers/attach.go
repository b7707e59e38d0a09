package providers

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frobware/go-bpfprobe"
	"github.com/frobware/go-bpfprobe/metrics"
)

// Attacher attaches resolved point sets for one provider at a time.
type Attacher struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	multi   bool
}

// AttacherOption configures an Attacher.
type AttacherOption func(*Attacher)

// WithAttachLogger sets the logger.
func WithAttachLogger(l *slog.Logger) AttacherOption {
	return func(a *Attacher) { a.logger = l }
}

// WithAttachMetrics sets the metrics sink.
func WithAttachMetrics(m *metrics.Metrics) AttacherOption {
	return func(a *Attacher) { a.metrics = m }
}

// WithBatching enables or disables batch attachment. When disabled
// every point is attached with AttachSingle.
func WithBatching(enabled bool) AttacherOption {
	return func(a *Attacher) { a.multi = enabled }
}

// NewAttacher returns an Attacher with batching enabled.
func NewAttacher(opts ...AttacherOption) *Attacher {
	a := &Attacher{logger: slog.Default(), multi: true}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Attach attaches points with p. Batchable points go through one
// AttachMulti call first, then the rest are attached one by one. If any
// step fails every probe attached so far is closed and only the error
// is returned; on success the caller owns every returned probe.
func (a *Attacher) Attach(p Provider, points []bpfprobe.AttachPoint, prog bpfprobe.Program, pid int) ([]*bpfprobe.AttachedProbe, error) {
	if len(points) == 0 {
		return nil, nil
	}
	name := p.Name()
	logger := a.logger.With("provider", name)
	start := time.Now()

	var multi, single []bpfprobe.AttachPoint
	for _, point := range points {
		if a.multi && point.CanMultiAttach() {
			multi = append(multi, point)
		} else {
			single = append(single, point)
		}
	}
	logger.Debug("attaching", "multi", len(multi), "single", len(single), "pid", pid)

	var result []*bpfprobe.AttachedProbe
	if len(multi) > 0 {
		var err error
		result, err = p.AttachMulti(multi, prog, pid)
		if err != nil {
			a.metrics.ObserveAttachFailure(name, "multi")
			logger.Debug("multi attach failed", "count", len(multi), "error", err)
			return nil, err
		}
	}

	var undo undoStack
	undo.pushProbes(result)

	for _, point := range single {
		probes, err := p.AttachSingle(point, prog, pid)
		if err != nil {
			a.metrics.ObserveAttachFailure(name, "single")
			logger.Debug("single attach failed", "point", point.Name(), "error", err)
			a.metrics.ObserveRollback(name)
			if rbErr := undo.rollback(logger); rbErr != nil {
				return nil, errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
			return nil, err
		}
		undo.pushProbes(probes)
		result = append(result, probes...)
	}

	a.metrics.ObserveAttached(name, "multi", len(multi))
	a.metrics.ObserveAttached(name, "single", len(single))
	a.metrics.ObserveAttachDuration(name, time.Since(start))
	logger.Debug("attached", "points", len(points), "probes", len(result))
	return result, nil
}

// Run executes prog for point with p.
func (a *Attacher) Run(p Provider, point bpfprobe.AttachPoint, prog bpfprobe.Program) error {
	a.logger.Debug("running", "provider", p.Name(), "point", point.Name(), "action", point.Action())
	return p.RunSingle(point, prog)
}
