package symbols

import (
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_TestBinary(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	table, err := Load(exe)
	require.NoError(t, err)
	sym, ok := table.Lookup("runtime.main")
	require.True(t, ok, "test binary should carry runtime.main")
	assert.NotZero(t, sym.Value)

	names := table.Symbols()
	for i := 1; i < len(names); i++ {
		assert.LessOrEqual(t, names[i-1].Name, names[i].Name)
	}
}

func TestLoad_NotELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestFuncSymbols(t *testing.T) {
	fn := elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC)
	obj := elf.ST_INFO(elf.STB_GLOBAL, elf.STT_OBJECT)
	got := funcSymbols([]elf.Symbol{
		{Name: "main", Info: fn, Value: 0x1000, Size: 10},
		{Name: "memcpy@@GLIBC_2.14", Info: fn, Value: 0x2000},
		{Name: "printf", Info: fn, Value: 0},
		{Name: "environ", Info: obj, Value: 0x3000},
	})
	assert.Equal(t, []Symbol{
		{Name: "main", Value: 0x1000, Size: 10},
		{Name: "memcpy", Value: 0x2000},
	}, got)
}

func TestNewTable_FirstWins(t *testing.T) {
	table := NewTable("/bin/x", []Symbol{
		{Name: "zeta", Value: 3},
		{Name: "alpha", Value: 1},
		{Name: "zeta", Value: 9},
	})
	assert.Equal(t, 2, table.Len())
	assert.Equal(t, "alpha", table.Symbols()[0].Name)
	s, ok := table.Lookup("zeta")
	require.True(t, ok)
	assert.Equal(t, uint64(3), s.Value)
}

func TestDemangle(t *testing.T) {
	s, ok := Demangle("_ZN3foo3barEi")
	require.True(t, ok)
	assert.Equal(t, "foo::bar(int)", s)

	_, ok = Demangle("main")
	assert.False(t, ok)
	_, ok = Demangle("_Z1")
	assert.False(t, ok)

	assert.True(t, HasMangledSignature("____Z3foov"))
	assert.False(t, HasMangledSignature("_foo"))
}

func TestEraseParameterList(t *testing.T) {
	tests := map[string]string{
		"foo::bar(int)":                          "foo::bar",
		"foo::bar(std::pair<int, int>) const":    "foo::bar",
		"f(void (*)(int))":                       "f",
		"(anonymous namespace)::g(int)":          "(anonymous namespace)::g",
		"plain":                                  "plain",
		"unbalanced)":                            "unbalanced)",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, EraseParameterList(in))
		})
	}
}

func note(order binary.ByteOrder, owner string, typ uint32, desc []byte) []byte {
	name := append([]byte(owner), 0)
	buf := make([]byte, 12)
	order.PutUint32(buf[0:], uint32(len(name)))
	order.PutUint32(buf[4:], uint32(len(desc)))
	order.PutUint32(buf[8:], typ)
	buf = append(buf, name...)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	buf = append(buf, desc...)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}

func stapsdtDesc(order binary.ByteOrder, pc, base, sem uint64, strs ...string) []byte {
	desc := make([]byte, 24)
	order.PutUint64(desc[0:], pc)
	order.PutUint64(desc[8:], base)
	order.PutUint64(desc[16:], sem)
	for _, s := range strs {
		desc = append(desc, s...)
		desc = append(desc, 0)
	}
	return desc
}

func TestParseNotes(t *testing.T) {
	le := binary.LittleEndian
	var data []byte
	data = append(data, note(le, "stapsdt", 3, stapsdtDesc(le, 0x1130, 0x2004, 0x4010, "myapp", "probe1", "-4@%edi"))...)
	data = append(data, note(le, "GNU", 3, []byte{1, 2, 3, 4})...)
	data = append(data, note(le, "stapsdt", 3, stapsdtDesc(le, 0x1200, 0x2004, 0, "myapp", "probe2", ""))...)

	notes, err := parseNotes(data, le, true)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, Note{PC: 0x1130, Base: 0x2004, Semaphore: 0x4010, Provider: "myapp", Name: "probe1", Args: "-4@%edi"}, notes[0])
	assert.Equal(t, "probe2", notes[1].Name)
	assert.Zero(t, notes[1].Semaphore)

	_, err = parseNotes(data[:len(data)-8], le, true)
	assert.ErrorIs(t, err, errTruncatedNote)
}

func TestOffsets(t *testing.T) {
	progs := []*elf.Prog{
		{ProgHeader: elf.ProgHeader{Type: elf.PT_LOAD, Flags: elf.PF_R, Vaddr: 0, Off: 0, Memsz: 0x1000}},
		{ProgHeader: elf.ProgHeader{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X, Vaddr: 0x401000, Off: 0x1000, Memsz: 0x2000}},
	}
	off, ok := fileOffset(progs, 0x401130)
	require.True(t, ok)
	assert.Equal(t, uint64(0x1130), off)
	_, ok = fileOffset(progs, 0x500)
	assert.False(t, ok)

	sections := []*elf.Section{
		{SectionHeader: elf.SectionHeader{Name: ".probes", Type: elf.SHT_PROGBITS, Addr: 0x404010, Offset: 0x3010, Size: 8}},
		{SectionHeader: elf.SectionHeader{Name: ".bss", Type: elf.SHT_NOBITS, Addr: 0x405000, Offset: 0x4000, Size: 64}},
	}
	sem, ok := sectionOffset(sections, 0x404012)
	require.True(t, ok)
	assert.Equal(t, uint64(0x3012), sem)
	_, ok = sectionOffset(sections, 0x405008)
	assert.False(t, ok)
}

func TestReadUSDT_NoSection(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)
	notes, err := ReadUSDT(exe)
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bin")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o755))

	c, err := NewCache(2)
	require.NoError(t, err)
	loads, usdtReads := 0, 0
	c.load = func(p string) (*Table, error) {
		loads++
		return NewTable(p, []Symbol{{Name: "main", Value: 1}}), nil
	}
	c.readUSDT = func(string) ([]Note, error) {
		usdtReads++
		return nil, nil
	}

	for range 3 {
		table, err := c.Table(path)
		require.NoError(t, err)
		assert.Equal(t, 1, table.Len())
		_, err = c.USDT(path)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, loads)
	assert.Equal(t, 1, usdtReads)
	assert.Equal(t, 1, c.Len())

	// A rewritten binary is a new key.
	require.NoError(t, os.WriteFile(path, []byte("version2"), 0o755))
	_, err = c.Table(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)

	_, err = c.Table(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
