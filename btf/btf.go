// Package btf implements bpfprobe.BtfLookup over cilium/ebpf/btf.
//
// Kernel and module specs are loaded lazily and cached for the life of
// the Lookup. Module names come from the sysfs BTF directory.
package btf

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"slices"
	"sync"

	cbtf "github.com/cilium/ebpf/btf"

	"github.com/frobware/go-bpfprobe"
)

// Types indexes one BTF blob by name.
type Types struct {
	funcs    map[string]*cbtf.Func
	named    map[string]cbtf.Type
	typedefs []string
	order    []string
}

var _ bpfprobe.Types = (*Types)(nil)

// NewTypes indexes every named type yielded by seq. The first type
// seen for a name wins.
func NewTypes(seq iter.Seq2[cbtf.Type, error]) (*Types, error) {
	t := &Types{
		funcs: make(map[string]*cbtf.Func),
		named: make(map[string]cbtf.Type),
	}
	for typ, err := range seq {
		if err != nil {
			return nil, err
		}
		t.add(typ)
	}
	slices.Sort(t.order)
	slices.Sort(t.typedefs)
	return t, nil
}

// FromTypes indexes a fixed list of types.
func FromTypes(types ...cbtf.Type) *Types {
	t, _ := NewTypes(func(yield func(cbtf.Type, error) bool) {
		for _, typ := range types {
			if !yield(typ, nil) {
				return
			}
		}
	})
	return t
}

func (t *Types) add(typ cbtf.Type) {
	name := typ.TypeName()
	if name == "" {
		return
	}
	switch v := typ.(type) {
	case *cbtf.Func:
		if _, ok := t.funcs[name]; !ok {
			t.funcs[name] = v
			t.order = append(t.order, name)
		}
	case *cbtf.Typedef:
		if _, ok := t.named[name]; !ok {
			t.typedefs = append(t.typedefs, name)
		}
	}
	if _, ok := t.named[name]; !ok {
		t.named[name] = typ
	}
}

// Functions yields function names in sorted order.
func (t *Types) Functions() iter.Seq[string] {
	return slices.Values(t.order)
}

// Typedefs yields typedef names in sorted order.
func (t *Types) Typedefs() iter.Seq[string] {
	return slices.Values(t.typedefs)
}

// LookupFunc returns the function named name.
func (t *Types) LookupFunc(name string) (*cbtf.Func, bool) {
	fn, ok := t.funcs[name]
	return fn, ok
}

// LookupType returns the first type named name of any kind.
func (t *Types) LookupType(name string) (cbtf.Type, bool) {
	typ, ok := t.named[name]
	return typ, ok
}

// Lookup resolves kernel, module and user BTF.
type Lookup struct {
	logger *slog.Logger
	sysfs  fs.FS

	loadKernel func() (*cbtf.Spec, error)
	loadModule func(string) (*cbtf.Spec, error)
	loadFile   func(string) (*cbtf.Spec, error)

	mu    sync.Mutex
	cache map[string]*Types
}

var _ bpfprobe.BtfLookup = (*Lookup)(nil)

// Option configures a Lookup.
type Option func(*Lookup)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Lookup) { b.logger = l }
}

// WithLoaders replaces the spec loaders, for tests.
func WithLoaders(kernel func() (*cbtf.Spec, error), module func(string) (*cbtf.Spec, error), file func(string) (*cbtf.Spec, error)) Option {
	return func(b *Lookup) {
		if kernel != nil {
			b.loadKernel = kernel
		}
		if module != nil {
			b.loadModule = module
		}
		if file != nil {
			b.loadFile = file
		}
	}
}

// New returns a Lookup listing modules from sysfs, which is rooted at
// the kernel's BTF directory (normally /sys/kernel/btf).
func New(sysfs fs.FS, opts ...Option) *Lookup {
	b := &Lookup{
		logger:     slog.Default(),
		sysfs:      sysfs,
		loadKernel: cbtf.LoadKernelSpec,
		loadModule: cbtf.LoadKernelModuleSpec,
		loadFile:   cbtf.LoadSpec,
		cache:      make(map[string]*Types),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// KernelBTF returns the types of module, or of the kernel image when
// module is "" or "vmlinux".
func (b *Lookup) KernelBTF(module string) (bpfprobe.Types, error) {
	if module == "" {
		module = "vmlinux"
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.cache[module]; ok {
		return t, nil
	}

	var (
		spec *cbtf.Spec
		err  error
	)
	if module == "vmlinux" {
		spec, err = b.loadKernel()
	} else {
		spec, err = b.loadModule(module)
	}
	if err != nil {
		return nil, bpfprobe.NewSystemError(fmt.Sprintf("load BTF for %s", module), err)
	}
	t, err := NewTypes(spec.All())
	if err != nil {
		return nil, bpfprobe.NewSystemError(fmt.Sprintf("index BTF for %s", module), err)
	}
	b.logger.Debug("loaded kernel BTF", "module", module)
	b.cache[module] = t
	return t, nil
}

// ListModules returns vmlinux followed by every module with BTF, in
// directory order.
func (b *Lookup) ListModules() ([]string, error) {
	entries, err := fs.ReadDir(b.sysfs, ".")
	if err != nil {
		return nil, bpfprobe.NewSystemError("list BTF modules", err)
	}
	mods := []string{"vmlinux"}
	for _, e := range entries {
		if e.Name() == "vmlinux" {
			continue
		}
		mods = append(mods, e.Name())
	}
	return mods, nil
}

// UserBTF returns the types embedded in the ELF file at path.
func (b *Lookup) UserBTF(path string) (bpfprobe.Types, error) {
	spec, err := b.loadFile(path)
	if err != nil {
		return nil, bpfprobe.NewSystemError(fmt.Sprintf("load BTF from %s", path), err)
	}
	return NewTypes(spec.All())
}

// FuncModules returns the modules, vmlinux included, whose BTF defines
// fn. Modules whose BTF cannot be loaded are skipped.
func (b *Lookup) FuncModules(fn string) []string {
	mods, err := b.ListModules()
	if err != nil {
		b.logger.Debug("cannot list modules", "error", err)
		return nil
	}
	var out []string
	for _, mod := range mods {
		t, err := b.KernelBTF(mod)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				b.logger.Debug("skipping module", "module", mod, "error", err)
			}
			continue
		}
		if _, ok := t.LookupFunc(fn); ok {
			out = append(out, mod)
		}
	}
	return out
}
