package tracefs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cilium/ebpf/btf"

	"github.com/frobware/go-bpfprobe"
)

// ContextType returns a pointer to a struct describing the record of
// category:event, with field types taken from kernel where possible.
// Gaps between fields are filled with one-byte __pad_N members.
func (t *FS) ContextType(kernel bpfprobe.Types, category, event string) (btf.Type, error) {
	f, err := t.EventFormat(category, event)
	if err != nil {
		return nil, err
	}
	return f.Struct(kernel)
}

// Struct builds the context struct for f.
func (f *Format) Struct(kernel bpfprobe.Types) (*btf.Pointer, error) {
	char := lookupInt(kernel, "char", 1, true)

	var (
		members []btf.Member
		last    int
		size    int
	)
	for _, field := range f.Fields {
		if field.Offset != 0 && last != 0 {
			for off := last; off < field.Offset; off++ {
				members = append(members, btf.Member{
					Name:   "__pad_" + strconv.Itoa(off),
					Type:   char,
					Offset: btf.Bits(off * 8),
				})
			}
		}
		last = field.Offset + field.Size
		size = max(size, last)

		name, typ, err := fieldType(kernel, field)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		members = append(members, btf.Member{
			Name:   name,
			Type:   typ,
			Offset: btf.Bits(field.Offset * 8),
		})
	}
	return &btf.Pointer{Target: &btf.Struct{
		Name:    "__tracepoint",
		Size:    uint32(size),
		Members: members,
	}}, nil
}

func fieldType(kernel bpfprobe.Types, field Field) (string, btf.Type, error) {
	decl := field.Type
	name := field.Name

	dataLoc := false
	if rest, ok := strings.CutPrefix(decl, "__data_loc "); ok {
		dataLoc = true
		decl = strings.TrimSuffix(strings.TrimSpace(rest), "[]")
	}

	pointers := 0
	for strings.HasSuffix(decl, "*") {
		pointers++
		decl = strings.TrimSpace(strings.TrimSuffix(decl, "*"))
	}

	nelems := 0
	if open := strings.IndexByte(name, '['); open >= 0 {
		if end := strings.IndexByte(name[open:], ']'); end > 0 {
			if n, err := strconv.Atoi(name[open+1 : open+end]); err == nil {
				nelems = n
			}
			name = strings.TrimSpace(name[:open])
		}
	}

	elemSize := field.Size
	switch {
	case pointers > 0 || dataLoc:
		elemSize = 1
		if !strings.Contains(decl, "char") {
			elemSize = 8
		}
	case nelems > 0:
		elemSize = field.Size / nelems
	}

	typ, err := baseType(kernel, decl, elemSize, field.Signed)
	if err != nil {
		return "", nil, err
	}
	for range pointers {
		typ = &btf.Pointer{Target: typ}
	}
	if nelems > 0 {
		typ = &btf.Array{Index: lookupInt(kernel, "int", 4, true), Type: typ, Nelems: uint32(nelems)}
	}
	if dataLoc {
		typ = &btf.Pointer{Target: typ}
	}
	return name, typ, nil
}

func baseType(kernel bpfprobe.Types, decl string, size int, signed bool) (btf.Type, error) {
	for _, kind := range []string{"struct ", "union ", "enum "} {
		tag, ok := strings.CutPrefix(decl, kind)
		if !ok {
			continue
		}
		if kernel != nil {
			if typ, ok := kernel.LookupType(tag); ok && matchesKind(typ, kind) {
				return typ, nil
			}
		}
		return nil, fmt.Errorf("type %q not found in kernel BTF", decl)
	}
	if kernel != nil {
		if typ, ok := kernel.LookupType(decl); ok {
			switch typ.(type) {
			case *btf.Typedef, *btf.Int:
				return typ, nil
			}
		}
	}
	// Format files spell integers the C way ("unsigned short") while
	// BTF uses the compiler's names ("short unsigned int").
	return &btf.Int{Name: decl, Size: uint32(size), Encoding: intEncoding(signed)}, nil
}

func matchesKind(typ btf.Type, kind string) bool {
	switch typ.(type) {
	case *btf.Struct:
		return kind == "struct "
	case *btf.Union:
		return kind == "union "
	case *btf.Enum:
		return kind == "enum "
	}
	return false
}

func lookupInt(kernel bpfprobe.Types, name string, size int, signed bool) btf.Type {
	if kernel != nil {
		if typ, ok := kernel.LookupType(name); ok {
			if _, isInt := typ.(*btf.Int); isInt {
				return typ
			}
		}
	}
	return &btf.Int{Name: name, Size: uint32(size), Encoding: intEncoding(signed)}
}

func intEncoding(signed bool) btf.IntEncoding {
	if signed {
		return btf.Signed
	}
	return btf.Unsigned
}
