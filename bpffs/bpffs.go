// Package bpffs locates the BPF filesystem and turns iterator pin names
// into paths on it.
package bpffs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultRoot is where bpffs is normally mounted.
	DefaultRoot Root = "/sys/fs/bpf"
	// DefaultMountInfoPath lists the mounts of the calling process.
	DefaultMountInfoPath = "/proc/self/mountinfo"

	maxMountInfoLine = 1024 * 1024
)

// ErrOutsideRoot is returned for pins that escape the bpffs root.
var ErrOutsideRoot = errors.New("pin path is outside the bpf filesystem")

// Root is a bpffs mount point.
type Root string

func (r Root) String() string { return string(r) }

// PinPath resolves an iterator pin. A relative pin is placed under the
// root; an absolute pin must already lie within it.
func (r Root) PinPath(pin string) (string, error) {
	if pin == "" {
		return "", errors.New("empty pin path")
	}
	root := filepath.Clean(string(r))
	path := filepath.Clean(pin)
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, pin)
	}
	return path, nil
}

// Exists reports whether something is already pinned at path.
func (r Root) Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// IsMounted reports whether bpffs is mounted at mountPoint according
// to the mountinfo file at mountInfoPath.
func IsMounted(mountInfoPath string, mountPoint Root) (bool, error) {
	f, err := os.Open(mountInfoPath)
	if err != nil {
		return false, fmt.Errorf("opening mountinfo: %w", err)
	}
	defer f.Close()
	return scanMountInfo(f, filepath.Clean(string(mountPoint)))
}

// scanMountInfo looks for a bpf mount at mountPoint. Lines look like
//
//	30 22 0:27 / /sys/fs/bpf rw,nosuid shared:9 - bpf bpf rw,mode=700
//
// The number of optional fields before " - " varies, so the separator
// is searched for rather than counted.
func scanMountInfo(r io.Reader, mountPoint string) (bool, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxMountInfoLine)
	for sc.Scan() {
		head, tail, ok := strings.Cut(sc.Text(), " - ")
		if !ok {
			continue
		}
		fields := strings.Fields(head)
		fstype := strings.Fields(tail)
		if len(fields) < 5 || len(fstype) == 0 {
			continue
		}
		if fields[4] == mountPoint && fstype[0] == "bpf" {
			return true, nil
		}
	}
	if err := sc.Err(); err != nil {
		return false, fmt.Errorf("reading mountinfo: %w", err)
	}
	return false, nil
}
