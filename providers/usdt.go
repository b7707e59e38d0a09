package providers

import (
	"strings"

	"github.com/frobware/go-bpfprobe"
	"github.com/frobware/go-bpfprobe/interpreter"
	"github.com/frobware/go-bpfprobe/wildcard"
)

type usdtProvider struct {
	base
}

// NewUSDT returns the usdt provider.
func NewUSDT(env *Env) Provider {
	return &usdtProvider{base: newBase(env, "usdt", "U")}
}

// Parse accepts "binary:probe" and "binary:namespace:probe". Every
// site of a probe in one binary becomes one point.
func (p *usdtProvider) Parse(glob string, _ bpfprobe.BtfLookup, pid int) ([]bpfprobe.AttachPoint, error) {
	parts := strings.Split(glob, ":")
	var target, ns, probe string
	switch len(parts) {
	case 2:
		target, probe = parts[0], parts[1]
	case 3:
		target, ns, probe = parts[0], parts[1], parts[2]
	default:
		return nil, p.parseError(glob, "invalid usdt format")
	}

	bins, err := resolveBinaries(p.env.Processes, target, pid)
	if err != nil {
		return nil, err
	}
	if len(bins) == 0 && !wildcard.HasWildcard(target) {
		return nil, p.parseError(glob, "binary not found")
	}

	nsPattern := wildcard.Tokens(ns)
	probePattern := wildcard.Tokens(probe)
	var points []bpfprobe.AttachPoint
	for _, bin := range bins {
		notes, err := p.env.Symbols.USDT(bin)
		if err != nil {
			if !wildcard.HasWildcard(target) {
				return nil, p.parseError(glob, "%v", err)
			}
			p.logger().Debug("skipping binary", "path", bin, "error", err)
			continue
		}

		var order []bpfprobe.USDTPoint
		index := make(map[[2]string]int)
		for _, n := range notes {
			if ns != "" && !nsPattern.Match(n.Provider) {
				continue
			}
			if !probePattern.Match(n.Name) {
				continue
			}
			key := [2]string{n.Provider, n.Name}
			i, ok := index[key]
			if !ok {
				i = len(order)
				index[key] = i
				order = append(order, bpfprobe.USDTPoint{Binary: bin, Namespace: n.Provider, Probe: n.Name})
			}
			order[i].Locations = append(order[i].Locations, n.Location)
		}
		for _, point := range order {
			points = append(points, point)
		}
	}
	if len(points) == 0 && !wildcard.HasWildcard(glob) {
		return nil, p.parseError(glob, "usdt probe not found")
	}
	return points, nil
}

// AttachSingle attaches every site of the probe. The result holds one
// probe per site.
func (p *usdtProvider) AttachSingle(point bpfprobe.AttachPoint, prog bpfprobe.Program, pid int) ([]*bpfprobe.AttachedProbe, error) {
	up, ok := point.(bpfprobe.USDTPoint)
	if !ok {
		return nil, p.attachError(point, "not a usdt attach point", nil)
	}
	if len(up.Locations) == 0 {
		return nil, p.attachError(point, "usdt probe has no locations", nil)
	}

	var (
		result []*bpfprobe.AttachedProbe
		undo   undoStack
	)
	for _, loc := range up.Locations {
		link, err := p.env.Kernel.AttachUprobe(object(prog), interpreter.UprobeTarget{
			Binary:       up.Binary,
			Address:      loc.Offset,
			RefCtrOffset: loc.Semaphore,
			Pid:          pid,
		}, false)
		if err != nil {
			if rbErr := undo.rollback(p.logger()); rbErr != nil {
				p.logger().Error("rollback after failed usdt attach", "error", rbErr)
			}
			return nil, p.attachError(point, "failed to attach USDT probe", err)
		}
		probe := p.probe(link, point)
		undo.push(probe.Close)
		result = append(result, probe)
	}
	p.logger().Debug("attached", "point", point.Name(), "locations", len(result))
	return result, nil
}
