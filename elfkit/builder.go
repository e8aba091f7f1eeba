// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

package elfkit // import "github.com/glink-ld/glink/elfkit"

import (
	"debug/elf"
	"fmt"
)

// Builder serializes a minimal relocatable ELF image in one of the four
// format variants. It exists to wrap raw data blobs into ordinary objects
// and to synthesize fixtures in tests: sections and symbols are added, then
// Bytes lays the image out and encodes it.
//
// The emitted section order is: the null section, user sections in the order
// added, then .symtab, .strtab and .shstrtab.
type Builder struct {
	variant  Variant
	typ      elf.Type
	machine  elf.Machine
	sections []*BuilderSection
	symbols  []*BuilderSymbol
}

// BuilderSection is a section being assembled. Fields may be mutated freely
// until Bytes is called. Index is the section's final index in the emitted
// image.
type BuilderSection struct {
	Name      string
	Type      elf.SectionType
	Flags     uint64
	Addralign uint64
	Entsize   uint64
	Link      uint32
	Info      uint32
	Data      []byte
	Index     int
}

// BuilderSymbol is a symbol table entry being assembled.
type BuilderSymbol struct {
	Name  string
	Info  uint8
	Other uint8
	Shndx uint16
	Value uint64
	Size  uint64
}

// SetBindingAndType fills the symbol info byte.
func (s *BuilderSymbol) SetBindingAndType(bind elf.SymBind, typ elf.SymType) {
	s.Info = uint8(bind)<<4 | uint8(typ)&0xf
}

// NewBuilder returns a builder for an image of the given variant, file type
// and machine.
func NewBuilder(v Variant, typ elf.Type, machine elf.Machine) *Builder {
	return &Builder{variant: v, typ: typ, machine: machine}
}

// AddSection appends a section and returns it for further setup.
func (b *Builder) AddSection(name string, typ elf.SectionType) *BuilderSection {
	sec := &BuilderSection{
		Name:      name,
		Type:      typ,
		Addralign: 1,
		Index:     len(b.sections) + 1,
	}
	b.sections = append(b.sections, sec)
	return sec
}

// AddSymbol appends a global symbol table entry and returns it for further
// setup.
func (b *Builder) AddSymbol(name string) *BuilderSymbol {
	sym := &BuilderSymbol{Name: name}
	b.symbols = append(b.symbols, sym)
	return sym
}

// SymtabIndex returns the section index the emitted .symtab will have. It is
// needed when a user section (such as SHT_GROUP) must link to the symbol
// table before layout.
func (b *Builder) SymtabIndex() uint32 {
	return uint32(len(b.sections) + 1)
}

type stringTable struct {
	data []byte
	offs map[string]uint32
}

func newStringTable() *stringTable {
	return &stringTable{data: []byte{0}, offs: map[string]uint32{"": 0}}
}

func (st *stringTable) add(s string) uint32 {
	if off, ok := st.offs[s]; ok {
		return off
	}
	off := uint32(len(st.data))
	st.data = append(st.data, s...)
	st.data = append(st.data, 0)
	st.offs[s] = off
	return off
}

// Bytes lays out the image and returns the encoded bytes.
func (b *Builder) Bytes() ([]byte, error) {
	bo := b.variant.ByteOrder()
	is64 := b.variant.Is64()

	ehdrSize, shdrSize := ehdrSize32, shdrSize32
	if is64 {
		ehdrSize, shdrSize = ehdrSize64, shdrSize64
	}
	symSize := SymSize(b.variant)

	shstrtab := newStringTable()
	strtab := newStringTable()

	type outSection struct {
		BuilderSection
		nameOff uint32
		off     uint64
	}

	secs := make([]*outSection, 0, len(b.sections)+4)
	secs = append(secs, &outSection{}) // null section
	for _, s := range b.sections {
		secs = append(secs, &outSection{BuilderSection: *s, nameOff: shstrtab.add(s.Name)})
	}

	// Encode the symbol table: a null entry, then the caller's symbols.
	symData := make([]byte, symSize*(len(b.symbols)+1))
	for i, sym := range b.symbols {
		nameOff := strtab.add(sym.Name)
		buf := symData[(i+1)*symSize:]
		if is64 {
			bo.PutUint32(buf[0:], nameOff)
			buf[4] = sym.Info
			buf[5] = sym.Other
			bo.PutUint16(buf[6:], sym.Shndx)
			bo.PutUint64(buf[8:], sym.Value)
			bo.PutUint64(buf[16:], sym.Size)
		} else {
			bo.PutUint32(buf[0:], nameOff)
			bo.PutUint32(buf[4:], uint32(sym.Value))
			bo.PutUint32(buf[8:], uint32(sym.Size))
			buf[12] = sym.Info
			buf[13] = sym.Other
			bo.PutUint16(buf[14:], sym.Shndx)
		}
	}

	strtabIndex := uint32(len(secs) + 1)
	secs = append(secs, &outSection{
		BuilderSection: BuilderSection{
			Name:      ".symtab",
			Type:      elf.SHT_SYMTAB,
			Addralign: 8,
			Entsize:   uint64(symSize),
			Link:      strtabIndex,
			Info:      1, // only the null entry is local
			Data:      symData,
		},
		nameOff: shstrtab.add(".symtab"),
	})
	secs = append(secs, &outSection{
		BuilderSection: BuilderSection{
			Name:      ".strtab",
			Type:      elf.SHT_STRTAB,
			Addralign: 1,
			Data:      strtab.data,
		},
		nameOff: shstrtab.add(".strtab"),
	})
	shstrtabIndex := len(secs)
	secs = append(secs, &outSection{
		BuilderSection: BuilderSection{
			Name:      ".shstrtab",
			Type:      elf.SHT_STRTAB,
			Addralign: 1,
			Data:      shstrtab.data,
		},
		nameOff: shstrtab.add(".shstrtab"),
	})
	// Adding ".shstrtab" may have grown the table after we snapshot it, so
	// re-point the data now that all names are interned.
	secs[shstrtabIndex].Data = shstrtab.data

	if len(secs) >= int(elf.SHN_LORESERVE) {
		return nil, fmt.Errorf("too many sections: %d", len(secs))
	}

	// Lay out section contents after the file header.
	cursor := uint64(ehdrSize)
	for _, s := range secs[1:] {
		if s.Type == elf.SHT_NOBITS {
			s.off = 0
			continue
		}
		align := s.Addralign
		if align == 0 {
			align = 1
		}
		cursor = (cursor + align - 1) &^ (align - 1)
		s.off = cursor
		cursor += uint64(len(s.Data))
	}
	shoff := (cursor + 7) &^ 7
	total := shoff + uint64(len(secs)*shdrSize)

	out := make([]byte, total)

	// File header.
	copy(out, elfMagic)
	if is64 {
		out[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	} else {
		out[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	}
	if b.variant == ELF32BE || b.variant == ELF64BE {
		out[elf.EI_DATA] = byte(elf.ELFDATA2MSB)
	} else {
		out[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	}
	out[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	bo.PutUint16(out[16:], uint16(b.typ))
	bo.PutUint16(out[18:], uint16(b.machine))
	bo.PutUint32(out[20:], uint32(elf.EV_CURRENT))
	if is64 {
		bo.PutUint64(out[40:], shoff)
		bo.PutUint16(out[52:], uint16(ehdrSize))
		bo.PutUint16(out[58:], uint16(shdrSize))
		bo.PutUint16(out[60:], uint16(len(secs)))
		bo.PutUint16(out[62:], uint16(shstrtabIndex))
	} else {
		bo.PutUint32(out[32:], uint32(shoff))
		bo.PutUint16(out[40:], uint16(ehdrSize))
		bo.PutUint16(out[46:], uint16(shdrSize))
		bo.PutUint16(out[48:], uint16(len(secs)))
		bo.PutUint16(out[50:], uint16(shstrtabIndex))
	}

	// Section contents.
	for _, s := range secs[1:] {
		if s.Type != elf.SHT_NOBITS && len(s.Data) > 0 {
			copy(out[s.off:], s.Data)
		}
	}

	// Section header table.
	for i, s := range secs {
		buf := out[shoff+uint64(i*shdrSize):]
		size := uint64(len(s.Data))
		if i == 0 {
			size = 0
		}
		if is64 {
			bo.PutUint32(buf[0:], s.nameOff)
			bo.PutUint32(buf[4:], uint32(s.Type))
			bo.PutUint64(buf[8:], s.Flags)
			bo.PutUint64(buf[24:], s.off)
			bo.PutUint64(buf[32:], size)
			bo.PutUint32(buf[40:], s.Link)
			bo.PutUint32(buf[44:], s.Info)
			bo.PutUint64(buf[48:], s.Addralign)
			bo.PutUint64(buf[56:], s.Entsize)
		} else {
			bo.PutUint32(buf[0:], s.nameOff)
			bo.PutUint32(buf[4:], uint32(s.Type))
			bo.PutUint32(buf[8:], uint32(s.Flags))
			bo.PutUint32(buf[16:], uint32(s.off))
			bo.PutUint32(buf[20:], uint32(size))
			bo.PutUint32(buf[24:], s.Link)
			bo.PutUint32(buf[28:], s.Info)
			bo.PutUint32(buf[32:], uint32(s.Addralign))
			bo.PutUint32(buf[36:], uint32(s.Entsize))
		}
	}

	return out, nil
}
