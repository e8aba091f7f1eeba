// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

package elfkit

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allVariants = []Variant{ELF32LE, ELF32BE, ELF64LE, ELF64BE}

func TestProbe(t *testing.T) {
	t.Run("not ELF", func(t *testing.T) {
		_, err := Probe([]byte("MZ\x90\x00"))
		assert.ErrorIs(t, err, ErrNotELF)
		_, err = Probe(nil)
		assert.ErrorIs(t, err, ErrNotELF)
	})

	t.Run("invalid class", func(t *testing.T) {
		data := []byte{0x7f, 'E', 'L', 'F', 3, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0}
		_, err := Probe(data)
		assert.ErrorContains(t, err, "invalid file class")
	})

	t.Run("invalid encoding", func(t *testing.T) {
		data := []byte{0x7f, 'E', 'L', 'F', 2, 3, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0}
		_, err := Probe(data)
		assert.ErrorContains(t, err, "invalid data encoding")
	})

	t.Run("round trip", func(t *testing.T) {
		for _, v := range allVariants {
			b := NewBuilder(v, elf.ET_REL, elf.EM_X86_64)
			image, err := b.Bytes()
			require.NoError(t, err)
			got, err := Probe(image)
			require.NoError(t, err)
			assert.Equal(t, v, got)
		}
	})
}

func TestGetString(t *testing.T) {
	table := []byte("\x00foo\x00bar\x00")

	s, ok := GetString(table, 1)
	assert.True(t, ok)
	assert.Equal(t, "foo", s)

	s, ok = GetString(table, 5)
	assert.True(t, ok)
	assert.Equal(t, "bar", s)

	s, ok = GetString(table, 0)
	assert.True(t, ok)
	assert.Empty(t, s)

	_, ok = GetString(table, uint32(len(table)))
	assert.False(t, ok)

	_, ok = GetString([]byte("unterminated"), 0)
	assert.False(t, ok)
}

func TestVariant(t *testing.T) {
	assert.True(t, ELF64LE.Is64())
	assert.True(t, ELF64BE.Is64())
	assert.False(t, ELF32LE.Is64())
	assert.False(t, ELF32BE.Is64())
	assert.Equal(t, "elf64-le", ELF64LE.String())
	assert.Equal(t, "elf32-be", ELF32BE.String())
}

func TestBuilderRoundTrip(t *testing.T) {
	for _, v := range allVariants {
		t.Run(v.String(), func(t *testing.T) {
			b := NewBuilder(v, elf.ET_REL, elf.EM_AARCH64)

			text := b.AddSection(".text", elf.SHT_PROGBITS)
			text.Flags = uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR)
			text.Addralign = 16
			text.Data = []byte{0xc3, 0x90, 0x90, 0x90}

			bss := b.AddSection(".bss", elf.SHT_NOBITS)
			bss.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)

			sym := b.AddSymbol("main")
			sym.SetBindingAndType(elf.STB_GLOBAL, elf.STT_FUNC)
			sym.Shndx = uint16(text.Index)
			sym.Size = 4

			image, err := b.Bytes()
			require.NoError(t, err)

			f, err := NewFile(image)
			require.NoError(t, err)
			assert.Equal(t, v, f.Variant())
			assert.Equal(t, elf.ET_REL, f.Type())
			assert.Equal(t, elf.EM_AARCH64, f.Machine())

			// Null section, .text, .bss, .symtab, .strtab, .shstrtab.
			sections := f.Sections()
			require.Len(t, sections, 6)
			assert.Equal(t, ".text", sections[1].Name)
			assert.Equal(t, elf.SHT_PROGBITS, sections[1].Type)
			assert.Equal(t, uint64(16), sections[1].Addralign)
			assert.Equal(t, ".bss", sections[2].Name)

			data, err := f.SectionData(&sections[1])
			require.NoError(t, err)
			assert.Equal(t, []byte{0xc3, 0x90, 0x90, 0x90}, data)

			// NOBITS sections occupy no file space.
			data, err = f.SectionData(&sections[2])
			require.NoError(t, err)
			assert.Nil(t, data)

			symtab := &sections[3]
			require.Equal(t, elf.SHT_SYMTAB, symtab.Type)
			syms, err := f.GlobalSymbols(symtab)
			require.NoError(t, err)
			require.Len(t, syms, 1)

			strtab, err := f.StringTableForSymtab(symtab)
			require.NoError(t, err)
			name, ok := GetString(strtab, syms[0].NameOff)
			require.True(t, ok)
			assert.Equal(t, "main", name)
			assert.Equal(t, elf.STB_GLOBAL, syms[0].Binding())
			assert.Equal(t, elf.STT_FUNC, syms[0].Type())
			assert.Equal(t, uint16(text.Index), syms[0].Shndx)
			assert.Equal(t, uint64(4), syms[0].Size)
		})
	}
}

func TestSectionIndex(t *testing.T) {
	f := &File{}
	sym := &Sym{Shndx: 3}
	idx, err := f.SectionIndex(sym, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), idx)

	// Reserved indices other than SHN_XINDEX map to the null section.
	sym = &Sym{Shndx: uint16(elf.SHN_ABS)}
	idx, err = f.SectionIndex(sym, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), idx)

	// SHN_XINDEX without an extended index table is a hard error.
	sym = &Sym{Shndx: uint16(elf.SHN_XINDEX)}
	_, err = f.SectionIndex(sym, 0, nil)
	assert.Error(t, err)

	idx, err = f.SectionIndex(sym, 1, []uint32{0, 70000})
	require.NoError(t, err)
	assert.Equal(t, uint32(70000), idx)
}

func TestNewFileRejectsTruncated(t *testing.T) {
	b := NewBuilder(ELF64LE, elf.ET_REL, elf.EM_X86_64)
	image, err := b.Bytes()
	require.NoError(t, err)

	for _, cut := range []int{17, 52, len(image) - 1} {
		_, err := NewFile(image[:cut])
		assert.Error(t, err, "cut at %d", cut)
	}
}
