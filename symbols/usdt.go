package symbols

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/frobware/go-bpfprobe"
)

const (
	stapsdtSection = ".note.stapsdt"
	stapsdtBase    = ".stapsdt.base"
	stapsdtOwner   = "stapsdt"
	stapsdtType    = 3
)

// Note is one USDT probe site recorded in a binary.
type Note struct {
	Provider string
	Name     string
	Args     string
	// PC, Base and Semaphore are virtual addresses as recorded.
	PC        uint64
	Base      uint64
	Semaphore uint64
	// Location is the site translated to file offsets.
	Location bpfprobe.USDTLocation
}

// ReadUSDT returns the USDT notes of the ELF file at path. A binary
// without a .note.stapsdt section has no notes.
func ReadUSDT(path string) ([]Note, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sec := f.Section(stapsdtSection)
	if sec == nil {
		return nil, nil
	}
	data, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("read %s of %s: %w", stapsdtSection, path, err)
	}
	notes, err := parseNotes(data, f.ByteOrder, f.Class == elf.ELFCLASS64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var baseAddr uint64
	if b := f.Section(stapsdtBase); b != nil {
		baseAddr = b.Addr
	}
	for i := range notes {
		n := &notes[i]
		pc := n.PC
		if baseAddr != 0 && n.Base != 0 {
			// Account for prelinking moving the binary.
			pc = pc + baseAddr - n.Base
		}
		off, ok := fileOffset(f.Progs, pc)
		if !ok {
			return nil, fmt.Errorf("%s: usdt %s:%s at 0x%x is outside any loadable segment", path, n.Provider, n.Name, pc)
		}
		n.Location.Offset = off
		if n.Semaphore != 0 {
			if sem, ok := sectionOffset(f.Sections, n.Semaphore); ok {
				n.Location.Semaphore = sem
			}
		}
	}
	return notes, nil
}

var errTruncatedNote = errors.New("truncated stapsdt note")

// parseNotes decodes a .note.stapsdt section. Each note carries three
// addresses followed by the provider, name and argument strings.
func parseNotes(data []byte, order binary.ByteOrder, is64 bool) ([]Note, error) {
	addrSize := 4
	if is64 {
		addrSize = 8
	}
	var notes []Note
	for len(data) > 0 {
		if len(data) < 12 {
			return nil, errTruncatedNote
		}
		namesz := int(order.Uint32(data[0:4]))
		descsz := int(order.Uint32(data[4:8]))
		typ := order.Uint32(data[8:12])
		data = data[12:]

		nameEnd := align4(namesz)
		descEnd := nameEnd + align4(descsz)
		if nameEnd > len(data) || nameEnd+descsz > len(data) {
			return nil, errTruncatedNote
		}
		owner := string(bytes.TrimRight(data[:namesz], "\x00"))
		desc := data[nameEnd : nameEnd+descsz]
		if descEnd > len(data) {
			descEnd = len(data)
		}
		data = data[descEnd:]

		if owner != stapsdtOwner || typ != stapsdtType {
			continue
		}
		if len(desc) < 3*addrSize {
			return nil, errTruncatedNote
		}
		addr := func(i int) uint64 {
			b := desc[i*addrSize:]
			if is64 {
				return order.Uint64(b)
			}
			return uint64(order.Uint32(b))
		}
		strs := bytes.SplitN(desc[3*addrSize:], []byte{0}, 4)
		if len(strs) < 3 {
			return nil, errTruncatedNote
		}
		notes = append(notes, Note{
			PC:        addr(0),
			Base:      addr(1),
			Semaphore: addr(2),
			Provider:  string(strs[0]),
			Name:      string(strs[1]),
			Args:      string(strs[2]),
		})
	}
	return notes, nil
}

func align4(n int) int {
	return (n + 3) &^ 3
}

func fileOffset(progs []*elf.Prog, addr uint64) (uint64, bool) {
	for _, p := range progs {
		if p.Type != elf.PT_LOAD || p.Flags&elf.PF_X == 0 {
			continue
		}
		if addr >= p.Vaddr && addr < p.Vaddr+p.Memsz {
			return addr - p.Vaddr + p.Off, true
		}
	}
	return 0, false
}

func sectionOffset(sections []*elf.Section, addr uint64) (uint64, bool) {
	for _, s := range sections {
		if s.Addr == 0 || s.Type == elf.SHT_NOBITS {
			continue
		}
		if addr >= s.Addr && addr < s.Addr+s.Size {
			return addr - s.Addr + s.Offset, true
		}
	}
	return 0, false
}
