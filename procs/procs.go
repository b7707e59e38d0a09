// Package procs answers questions about running processes and the
// binaries they map. It reads procfs through prometheus/procfs.
package procs

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"

	"github.com/frobware/go-bpfprobe"
	"github.com/frobware/go-bpfprobe/wildcard"
)

// DefaultLibraryDirs are searched for shared libraries when no pid is
// given.
var DefaultLibraryDirs = []string{
	"/lib64",
	"/usr/lib64",
	"/lib",
	"/usr/lib",
	"/lib/x86_64-linux-gnu",
	"/usr/lib/x86_64-linux-gnu",
	"/lib/aarch64-linux-gnu",
	"/usr/lib/aarch64-linux-gnu",
}

// Inspector resolves pids and binary names to paths.
type Inspector struct {
	logger  *slog.Logger
	fs      procfs.FS
	libDirs []string
	path    string
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Inspector) { i.logger = l }
}

// WithLibraryDirs replaces DefaultLibraryDirs.
func WithLibraryDirs(dirs ...string) Option {
	return func(i *Inspector) { i.libDirs = dirs }
}

// WithSearchPath replaces $PATH for bare binary names.
func WithSearchPath(path string) Option {
	return func(i *Inspector) { i.path = path }
}

// New returns an Inspector reading procfs mounted at mountPoint.
func New(mountPoint string, opts ...Option) (*Inspector, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, bpfprobe.NewSystemError("open procfs", err)
	}
	i := &Inspector{
		logger:  slog.Default(),
		fs:      fs,
		libDirs: DefaultLibraryDirs,
		path:    os.Getenv("PATH"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// PidExe returns the executable of pid.
func (i *Inspector) PidExe(pid int) (string, error) {
	p, err := i.fs.Proc(pid)
	if err != nil {
		return "", bpfprobe.NewSystemError(fmt.Sprintf("no such process %d", pid), err)
	}
	exe, err := p.Executable()
	if err != nil {
		return "", bpfprobe.NewSystemError(fmt.Sprintf("read executable of %d", pid), err)
	}
	return exe, nil
}

// MappedPaths returns the distinct file paths mapped into pid, in the
// order they first appear.
func (i *Inspector) MappedPaths(pid int) ([]string, error) {
	p, err := i.fs.Proc(pid)
	if err != nil {
		return nil, bpfprobe.NewSystemError(fmt.Sprintf("no such process %d", pid), err)
	}
	maps, err := p.ProcMaps()
	if err != nil {
		return nil, bpfprobe.NewSystemError(fmt.Sprintf("read maps of %d", pid), err)
	}
	var paths []string
	seen := make(map[string]struct{})
	for _, m := range maps {
		if !strings.HasPrefix(m.Pathname, "/") {
			// Anonymous, [heap], [vdso] and friends.
			continue
		}
		if _, ok := seen[m.Pathname]; ok {
			continue
		}
		seen[m.Pathname] = struct{}{}
		paths = append(paths, m.Pathname)
	}
	return paths, nil
}

// AllPids lists every running process.
func (i *Inspector) AllPids() ([]int, error) {
	all, err := i.fs.AllProcs()
	if err != nil {
		return nil, bpfprobe.NewSystemError("list processes", err)
	}
	pids := make([]int, 0, len(all))
	for _, p := range all {
		pids = append(pids, p.PID)
	}
	return pids, nil
}

// ResolveBinaryPath expands a binary glob to existing paths. With a
// pid only files mapped into that process are candidates. A name
// without a slash is looked up in the search path.
func (i *Inspector) ResolveBinaryPath(glob string, pid int) ([]string, error) {
	if pid > 0 {
		mapped, err := i.MappedPaths(pid)
		if err != nil {
			return nil, err
		}
		if glob == "" {
			exe, err := i.PidExe(pid)
			if err != nil {
				return nil, err
			}
			return []string{exe}, nil
		}
		var out []string
		pattern := wildcard.Tokens(glob)
		for _, path := range mapped {
			if pattern.Match(path) || (!strings.Contains(glob, "/") && pattern.Match(filepath.Base(path))) {
				out = append(out, path)
			}
		}
		return out, nil
	}

	if !strings.Contains(glob, "/") {
		return i.searchPath(glob), nil
	}
	matches, err := filepath.Glob(glob)
	if err != nil {
		return nil, fmt.Errorf("bad binary pattern %q: %w", glob, err)
	}
	var out []string
	for _, m := range matches {
		if isRegular(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (i *Inspector) searchPath(name string) []string {
	var out []string
	for _, dir := range filepath.SplitList(i.path) {
		if dir == "" {
			continue
		}
		matches, err := filepath.Glob(filepath.Join(dir, name))
		if err != nil {
			return nil
		}
		for _, m := range matches {
			if isRegular(m) && !slices.Contains(out, m) {
				out = append(out, m)
			}
		}
		if len(out) > 0 && !wildcard.HasWildcard(name) {
			break
		}
	}
	return out
}

// ResolveLibrary finds lib<name>.so. Libraries mapped by pid are
// preferred; otherwise the library directories are searched in order.
func (i *Inspector) ResolveLibrary(name string, pid int) (string, bool) {
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	base := "lib" + name + ".so"
	if pid > 0 {
		if mapped, err := i.MappedPaths(pid); err == nil {
			for _, path := range mapped {
				if isSharedObject(filepath.Base(path), base) {
					return path, true
				}
			}
		}
	}
	for _, dir := range i.libDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if isSharedObject(e.Name(), base) {
				path := filepath.Join(dir, e.Name())
				i.logger.Debug("resolved library", "name", name, "path", path)
				return path, true
			}
		}
	}
	return "", false
}

// isSharedObject matches base exactly or base followed by a version
// suffix such as ".6" or ".1.2.3".
func isSharedObject(file, base string) bool {
	if file == base {
		return true
	}
	rest, ok := strings.CutPrefix(file, base+".")
	if !ok {
		return false
	}
	for _, part := range strings.Split(rest, ".") {
		if _, err := strconv.Atoi(part); err != nil {
			return false
		}
	}
	return true
}

func isRegular(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
