// Package tracefs reads the kernel's tracing filesystem: the list of
// available tracepoints and the layout of each event record.
package tracefs

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/frobware/go-bpfprobe"
)

// DefaultPaths are the usual tracefs mount points, newest first.
var DefaultPaths = []string{"/sys/kernel/tracing", "/sys/kernel/debug/tracing"}

// FS reads tracefs. The event list is read once and cached.
type FS struct {
	logger *slog.Logger
	fsys   fs.FS

	once   sync.Once
	events []string
	err    error
}

// Option configures an FS.
type Option func(*FS)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *FS) { t.logger = l }
}

// New returns an FS reading from fsys, which is rooted at the tracefs
// mount point.
func New(fsys fs.FS, opts ...Option) *FS {
	t := &FS{logger: slog.Default(), fsys: fsys}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AvailableEvents returns every "category:event" tracepoint, sorted.
func (t *FS) AvailableEvents() ([]string, error) {
	t.once.Do(func() {
		data, err := fs.ReadFile(t.fsys, "available_events")
		if err != nil {
			t.err = bpfprobe.NewSystemError("unable to open tracefs events file", err)
			return
		}
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				t.events = append(t.events, line)
			}
		}
		slices.Sort(t.events)
		t.events = slices.Compact(t.events)
		t.logger.Debug("read tracepoints", "count", len(t.events))
	})
	return t.events, t.err
}

// HasEvent reports whether category:event exists.
func (t *FS) HasEvent(category, event string) (bool, error) {
	events, err := t.AvailableEvents()
	if err != nil {
		return false, err
	}
	_, found := slices.BinarySearch(events, category+":"+event)
	return found, nil
}

// Field is one field of an event record.
type Field struct {
	// Type is the C declaration type, e.g. "unsigned long" or
	// "__data_loc char[]".
	Type   string
	Name   string
	Offset int
	Size   int
	Signed bool
}

// Format is the parsed format file of one event.
type Format struct {
	Name   string
	ID     int
	Fields []Field
}

// EventFormat reads events/<category>/<event>/format.
func (t *FS) EventFormat(category, event string) (*Format, error) {
	name := path.Join("events", category, event, "format")
	data, err := fs.ReadFile(t.fsys, name)
	if err != nil {
		return nil, bpfprobe.NewSystemError("unable to open format file: "+name, err)
	}
	f, err := ParseFormat(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return f, nil
}

// ParseFormat parses the contents of an event format file. Lines that
// are not field, name or ID declarations are ignored.
func ParseFormat(data []byte) (*Format, error) {
	f := &Format{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "name:"):
			f.Name = strings.TrimSpace(strings.TrimPrefix(line, "name:"))
		case strings.HasPrefix(line, "ID:"):
			id, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "ID:")))
			if err != nil {
				return nil, fmt.Errorf("bad event id: %w", err)
			}
			f.ID = id
		case strings.HasPrefix(line, "field:"):
			field, ok, err := parseField(line)
			if err != nil {
				return nil, err
			}
			if ok {
				f.Fields = append(f.Fields, field)
			}
		}
	}
	return f, sc.Err()
}

// parseField parses
//
//	field:unsigned int prev_pid;	offset:12;	size:4;	signed:0;
func parseField(line string) (Field, bool, error) {
	var field Field
	var decl string
	var haveOff, haveSz bool
	for _, kv := range strings.Split(line, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(kv), ":")
		if !ok {
			continue
		}
		var err error
		switch k {
		case "field":
			decl = v
		case "offset":
			field.Offset, err = strconv.Atoi(v)
			haveOff = true
		case "size":
			field.Size, err = strconv.Atoi(v)
			haveSz = true
		case "signed":
			field.Signed = v == "1"
		}
		if err != nil {
			return Field{}, false, fmt.Errorf("bad field %q: %w", line, err)
		}
	}
	sp := strings.LastIndexByte(decl, ' ')
	if sp < 0 || !haveOff || !haveSz {
		return Field{}, false, nil
	}
	field.Type = strings.TrimSpace(decl[:sp])
	field.Name = decl[sp+1:]
	return field, true, nil
}
