package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Pid is a target process id. The zero value means no process.
type Pid struct {
	Value int
}

// ParsePid accepts a positive decimal process id.
func ParsePid(s string) (Pid, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Pid{}, fmt.Errorf("pid cannot be empty")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Pid{}, fmt.Errorf("invalid pid %q: %w", s, err)
	}
	if n <= 0 {
		return Pid{}, fmt.Errorf("invalid pid %q: must be positive", s)
	}
	return Pid{Value: n}, nil
}

// ObjectPath is a BPF ELF object file that exists.
type ObjectPath struct {
	Path string
}

// ParseObjectPath checks that s names a regular file.
func ParseObjectPath(s string) (ObjectPath, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ObjectPath{}, fmt.Errorf("object path cannot be empty")
	}
	info, err := os.Stat(s)
	if os.IsNotExist(err) {
		return ObjectPath{}, fmt.Errorf("object file %q does not exist", s)
	}
	if err != nil {
		return ObjectPath{}, fmt.Errorf("cannot access object file %q: %w", s, err)
	}
	if info.IsDir() {
		return ObjectPath{}, fmt.Errorf("object path %q is a directory, not a file", s)
	}
	return ObjectPath{Path: s}, nil
}
