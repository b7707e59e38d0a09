package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/frobware/go-bpfprobe"
	"github.com/frobware/go-bpfprobe/providers"
)

// AttachCmd loads one program and attaches it at every resolved point
// until interrupted.
type AttachCmd struct {
	Object      ObjectPath `name:"object" required:"" help:"BPF ELF object file."`
	Program     string     `name:"program" required:"" help:"Program name within the object."`
	Specs       []string   `arg:"" name:"spec" help:"Attach point specs."`
	Params      []string   `name:"param" short:"P" sep:"none" help:"Positional parameter for $1, $2, ... (repeatable)."`
	Pid         Pid        `name:"pid" short:"p" help:"Target process."`
	MetricsAddr string     `name:"metrics-addr" help:"Serve Prometheus metrics on this address, e.g. :9090."`
}

// Run executes the attach command.
func (c *AttachCmd) Run(cli *CLI, ctx context.Context) error {
	rt, err := cli.NewRuntime()
	if err != nil {
		return err
	}

	plans, err := resolvePlans(rt, c.Specs, c.Params, c.Pid.Value)
	if err != nil {
		return err
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		return fmt.Errorf("remove memlock rlimit: %w", err)
	}
	collSpec, err := ebpf.LoadCollectionSpec(c.Object.Path)
	if err != nil {
		return fmt.Errorf("load object %s: %w", c.Object.Path, err)
	}
	ld, err := newLoader(collSpec, c.Program, rt.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := ld.Close(); err != nil {
			rt.Logger.Warn("failed to release programs", "error", err)
		}
	}()

	s := newSession(rt.Attacher, ld, c.Pid.Value, rt.Logger)
	if err := s.start(plans); err != nil {
		return err
	}

	if c.MetricsAddr != "" {
		stop, err := serveMetrics(c.MetricsAddr, rt.Gatherer, rt.Logger)
		if err != nil {
			return errors.Join(err, s.stop(plans))
		}
		defer stop()
	}

	if err := cli.PrintOutf("Attached %d probes. Interrupt to detach.\n", s.count()); err != nil {
		return errors.Join(err, s.stop(plans))
	}
	<-ctx.Done()
	rt.Logger.Info("detaching", "probes", s.count())
	return s.stop(plans)
}

// plan is one provider and the points it resolved.
type plan struct {
	provider providers.Provider
	points   []bpfprobe.AttachPoint
}

// resolvePlans parses raw specs and resolves each through its provider.
func resolvePlans(rt *Runtime, raw, params []string, pid int) ([]plan, error) {
	specs := make([]*bpfprobe.AttachSpec, 0, len(raw))
	for _, r := range raw {
		specs = append(specs, bpfprobe.NewAttachSpec(r, false))
	}
	parsed, err := rt.Parser(params, pid, false).ParseAll(specs)
	if err != nil {
		return nil, err
	}

	var (
		plans []plan
		total int
	)
	for _, spec := range parsed {
		p, points, err := rt.Registry.Resolve(spec, rt.BTF, pid)
		if err != nil {
			return nil, err
		}
		if len(points) == 0 {
			rt.Logger.Debug("spec matched nothing", "spec", spec.Raw)
			continue
		}
		plans = append(plans, plan{provider: p, points: points})
		total += len(points)
	}
	if total == 0 {
		return nil, errors.New("no attach points matched")
	}
	return plans, nil
}

// programSource hands out the program for each point.
type programSource interface {
	For(point bpfprobe.AttachPoint) (bpfprobe.Program, error)
	PerPoint(point bpfprobe.AttachPoint) bool
}

// session attaches a set of plans and tears them down. Pre points run
// before anything is attached, post points after everything is
// detached.
type session struct {
	attacher *providers.Attacher
	programs programSource
	pid      int
	logger   *slog.Logger
	probes   []*bpfprobe.AttachedProbe
}

func newSession(a *providers.Attacher, programs programSource, pid int, logger *slog.Logger) *session {
	return &session{attacher: a, programs: programs, pid: pid, logger: logger}
}

func (s *session) count() int { return len(s.probes) }

// start runs pre points, attaches every attach point, then runs once
// and manual points. On failure everything attached so far is closed.
func (s *session) start(plans []plan) error {
	if err := s.run(plans, bpfprobe.ActionPre); err != nil {
		return err
	}
	for _, pl := range plans {
		if err := s.attach(pl); err != nil {
			return errors.Join(err, s.detach())
		}
	}
	for _, action := range []bpfprobe.Action{bpfprobe.ActionOnce, bpfprobe.ActionManual} {
		if err := s.run(plans, action); err != nil {
			return errors.Join(err, s.detach())
		}
	}
	return nil
}

// stop detaches every probe and then runs post points.
func (s *session) stop(plans []plan) error {
	return errors.Join(s.detach(), s.run(plans, bpfprobe.ActionPost))
}

func (s *session) detach() error {
	err := bpfprobe.CloseAll(s.probes)
	s.probes = nil
	return err
}

func (s *session) attach(pl plan) error {
	var shared []bpfprobe.AttachPoint
	for _, pt := range pl.points {
		if pt.Action() != bpfprobe.ActionAttach {
			continue
		}
		if !s.programs.PerPoint(pt) {
			shared = append(shared, pt)
			continue
		}
		prog, err := s.programs.For(pt)
		if err != nil {
			return err
		}
		probes, err := s.attacher.Attach(pl.provider, []bpfprobe.AttachPoint{pt}, prog, s.pid)
		if err != nil {
			return err
		}
		s.probes = append(s.probes, probes...)
	}
	if len(shared) == 0 {
		return nil
	}

	prog, err := s.programs.For(shared[0])
	if err != nil {
		return err
	}
	probes, err := s.attacher.Attach(pl.provider, shared, prog, s.pid)
	if err != nil {
		return err
	}
	s.probes = append(s.probes, probes...)
	return nil
}

func (s *session) run(plans []plan, action bpfprobe.Action) error {
	for _, pl := range plans {
		for _, pt := range pl.points {
			if pt.Action() != action {
				continue
			}
			prog, err := s.programs.For(pt)
			if err != nil {
				return err
			}
			if err := s.attacher.Run(pl.provider, pt, prog); err != nil {
				return err
			}
		}
	}
	return nil
}

// serveMetrics exposes g on addr until the returned stop is called.
func serveMetrics(addr string, g prometheus.Gatherer, logger *slog.Logger) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}, nil
}
