// Package symbols reads function symbols and USDT notes from ELF
// binaries.
package symbols

import (
	"debug/elf"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Symbol is one function symbol.
type Symbol struct {
	Name string
	// Value is the symbol's virtual address.
	Value uint64
	Size  uint64
}

// Table holds the function symbols of one binary, sorted by name.
type Table struct {
	Path    string
	symbols []Symbol
	byName  map[string]int
}

// Load reads the static and dynamic function symbols of the ELF file
// at path. A binary with neither table yields an empty Table.
func Load(path string) (*Table, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return fromFile(path, f)
}

func fromFile(path string, f *elf.File) (*Table, error) {
	var all []elf.Symbol
	for _, read := range []func() ([]elf.Symbol, error){f.Symbols, f.DynamicSymbols} {
		syms, err := read()
		if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
			return nil, fmt.Errorf("read symbols of %s: %w", path, err)
		}
		all = append(all, syms...)
	}
	return NewTable(path, funcSymbols(all)), nil
}

func funcSymbols(all []elf.Symbol) []Symbol {
	var out []Symbol
	for _, s := range all {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC && elf.ST_TYPE(s.Info) != elf.STT_GNU_IFUNC {
			continue
		}
		if s.Value == 0 || s.Name == "" {
			// Undefined imports.
			continue
		}
		// Versioned dynamic names such as memcpy@@GLIBC_2.14.
		name, _, _ := strings.Cut(s.Name, "@")
		out = append(out, Symbol{Name: name, Value: s.Value, Size: s.Size})
	}
	return out
}

// NewTable builds a table from syms. The first symbol seen for a name
// wins.
func NewTable(path string, syms []Symbol) *Table {
	t := &Table{Path: path, byName: make(map[string]int, len(syms))}
	for _, s := range syms {
		if _, ok := t.byName[s.Name]; ok {
			continue
		}
		t.byName[s.Name] = 0
		t.symbols = append(t.symbols, s)
	}
	slices.SortFunc(t.symbols, func(a, b Symbol) int { return strings.Compare(a.Name, b.Name) })
	for i, s := range t.symbols {
		t.byName[s.Name] = i
	}
	return t
}

// Symbols returns every function symbol, sorted by name.
func (t *Table) Symbols() []Symbol {
	return t.symbols
}

// Lookup returns the symbol called name.
func (t *Table) Lookup(name string) (Symbol, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Symbol{}, false
	}
	return t.symbols[i], true
}

// Len is the number of symbols.
func (t *Table) Len() int {
	return len(t.symbols)
}
