// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

package elfkit // import "github.com/glink-ld/glink/elfkit"

import (
	"debug/elf"
	"fmt"
)

// Header sizes and fixed structure sizes per variant.
const (
	ehdrSize32 = 52
	ehdrSize64 = 64
	shdrSize32 = 40
	shdrSize64 = 64
	symSize32  = 16
	symSize64  = 24
	dynSize32  = 8
	dynSize64  = 16
)

// SectionHeader is the variant-independent in-memory form of an ELF section
// header. Index is the position in the section header table; it doubles as
// the section's identity for the rest of the link.
type SectionHeader struct {
	Name      string
	NameOff   uint32
	Type      elf.SectionType
	Flags     uint64
	Addr      uint64
	Off       uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
	Index     int
}

// Sym is the variant-independent in-memory form of an ELF symbol table entry.
type Sym struct {
	NameOff uint32
	Info    uint8
	Other   uint8
	Shndx   uint16
	Value   uint64
	Size    uint64
}

// Binding returns the symbol binding encoded in the info byte.
func (s *Sym) Binding() elf.SymBind { return elf.ST_BIND(s.Info) }

// Type returns the symbol type encoded in the info byte.
func (s *Sym) Type() elf.SymType { return elf.ST_TYPE(s.Info) }

// Visibility returns the symbol visibility encoded in the other byte.
func (s *Sym) Visibility() elf.SymVis { return elf.ST_VISIBILITY(s.Other) }

// Dyn is a dynamic-section entry.
type Dyn struct {
	Tag elf.DynTag
	Val uint64
}

// File decodes one ELF image. It borrows data for its lifetime and performs
// no copies except where decoding requires byte-order conversion.
type File struct {
	data     []byte
	variant  Variant
	typ      elf.Type
	machine  elf.Machine
	sections []SectionHeader
	shstrtab []byte
}

// NewFile probes data and decodes the file and section headers. The section
// name string table is resolved eagerly so that section names are available
// for classification without further lookups.
func NewFile(data []byte) (*File, error) {
	variant, err := Probe(data)
	if err != nil {
		return nil, err
	}
	f := &File{data: data, variant: variant}

	bo := variant.ByteOrder()
	ehdrSize := ehdrSize32
	if variant.Is64() {
		ehdrSize = ehdrSize64
	}
	if len(data) < ehdrSize {
		return nil, fmt.Errorf("truncated ELF header: %d bytes", len(data))
	}

	f.typ = elf.Type(bo.Uint16(data[16:]))
	f.machine = elf.Machine(bo.Uint16(data[18:]))

	var shoff uint64
	var shentsize, shnum, shstrndx int
	if variant.Is64() {
		shoff = bo.Uint64(data[40:])
		shentsize = int(bo.Uint16(data[58:]))
		shnum = int(bo.Uint16(data[60:]))
		shstrndx = int(bo.Uint16(data[62:]))
	} else {
		shoff = uint64(bo.Uint32(data[32:]))
		shentsize = int(bo.Uint16(data[46:]))
		shnum = int(bo.Uint16(data[48:]))
		shstrndx = int(bo.Uint16(data[50:]))
	}

	if shoff == 0 {
		return f, nil
	}

	wantEntsize := shdrSize32
	if variant.Is64() {
		wantEntsize = shdrSize64
	}
	if shentsize != wantEntsize {
		return nil, fmt.Errorf("invalid e_shentsize: %d", shentsize)
	}

	// With extended section numbering the real counts live in section 0.
	if shnum == 0 || shstrndx == int(elf.SHN_XINDEX) {
		if shoff+uint64(wantEntsize) > uint64(len(data)) {
			return nil, fmt.Errorf("section header table out of range: offset %#x", shoff)
		}
		sh0 := f.decodeShdr(shoff, 0)
		if shnum == 0 {
			shnum = int(sh0.Size)
		}
		if shstrndx == int(elf.SHN_XINDEX) {
			shstrndx = int(sh0.Link)
		}
	}

	if shoff+uint64(shnum)*uint64(wantEntsize) > uint64(len(data)) {
		return nil, fmt.Errorf("section header table out of range: offset %#x, %d entries",
			shoff, shnum)
	}

	f.sections = make([]SectionHeader, shnum)
	for i := 0; i < shnum; i++ {
		f.sections[i] = f.decodeShdr(shoff+uint64(i)*uint64(wantEntsize), i)
	}

	if shstrndx != 0 {
		if shstrndx >= shnum {
			return nil, fmt.Errorf("invalid section string table index: %d/%d",
				shstrndx, shnum)
		}
		strtab, err := f.SectionData(&f.sections[shstrndx])
		if err != nil {
			return nil, err
		}
		f.shstrtab = strtab
		for i := range f.sections {
			sh := &f.sections[i]
			name, ok := GetString(strtab, sh.NameOff)
			if !ok {
				return nil, fmt.Errorf("bad section name index: section %d, index %d/%d",
					i, sh.NameOff, len(strtab))
			}
			sh.Name = name
		}
	}

	return f, nil
}

func (f *File) decodeShdr(off uint64, index int) SectionHeader {
	bo := f.variant.ByteOrder()
	b := f.data[off:]
	if f.variant.Is64() {
		return SectionHeader{
			NameOff:   bo.Uint32(b[0:]),
			Type:      elf.SectionType(bo.Uint32(b[4:])),
			Flags:     bo.Uint64(b[8:]),
			Addr:      bo.Uint64(b[16:]),
			Off:       bo.Uint64(b[24:]),
			Size:      bo.Uint64(b[32:]),
			Link:      bo.Uint32(b[40:]),
			Info:      bo.Uint32(b[44:]),
			Addralign: bo.Uint64(b[48:]),
			Entsize:   bo.Uint64(b[56:]),
			Index:     index,
		}
	}
	return SectionHeader{
		NameOff:   bo.Uint32(b[0:]),
		Type:      elf.SectionType(bo.Uint32(b[4:])),
		Flags:     uint64(bo.Uint32(b[8:])),
		Addr:      uint64(bo.Uint32(b[12:])),
		Off:       uint64(bo.Uint32(b[16:])),
		Size:      uint64(bo.Uint32(b[20:])),
		Link:      bo.Uint32(b[24:]),
		Info:      bo.Uint32(b[28:]),
		Addralign: uint64(bo.Uint32(b[32:])),
		Entsize:   uint64(bo.Uint32(b[36:])),
		Index:     index,
	}
}

// Variant returns the probed format variant.
func (f *File) Variant() Variant { return f.variant }

// Type returns the ELF file type.
func (f *File) Type() elf.Type { return f.typ }

// Machine returns the target machine code.
func (f *File) Machine() elf.Machine { return f.machine }

// Sections returns the decoded section headers in file order. The slice
// index equals the ELF section index.
func (f *File) Sections() []SectionHeader { return f.sections }

// Section returns the header at the given index.
func (f *File) Section(index uint32) (*SectionHeader, error) {
	if int64(index) >= int64(len(f.sections)) {
		return nil, fmt.Errorf("invalid section index: %d", index)
	}
	return &f.sections[index], nil
}

// SectionData returns the raw byte content of a section. SHT_NOBITS sections
// have no file content and yield nil.
func (f *File) SectionData(sh *SectionHeader) ([]byte, error) {
	if sh.Type == elf.SHT_NOBITS {
		return nil, nil
	}
	end := sh.Off + sh.Size
	if end < sh.Off || end > uint64(len(f.data)) {
		return nil, fmt.Errorf("section %q content out of range: offset %#x, size %#x",
			sh.Name, sh.Off, sh.Size)
	}
	return f.data[sh.Off:end], nil
}

// SymSize returns the on-disk symbol entry size for the variant.
func SymSize(v Variant) int {
	if v.Is64() {
		return symSize64
	}
	return symSize32
}

// Symbols decodes all entries of the given symbol table section, including
// locals.
func (f *File) Symbols(sh *SectionHeader) ([]Sym, error) {
	data, err := f.SectionData(sh)
	if err != nil {
		return nil, err
	}
	size := SymSize(f.variant)
	if len(data)%size != 0 {
		return nil, fmt.Errorf("symbol table %q size %d is not a multiple of %d",
			sh.Name, len(data), size)
	}
	bo := f.variant.ByteOrder()
	syms := make([]Sym, len(data)/size)
	for i := range syms {
		b := data[i*size:]
		if f.variant.Is64() {
			syms[i] = Sym{
				NameOff: bo.Uint32(b[0:]),
				Info:    b[4],
				Other:   b[5],
				Shndx:   bo.Uint16(b[6:]),
				Value:   bo.Uint64(b[8:]),
				Size:    bo.Uint64(b[16:]),
			}
		} else {
			syms[i] = Sym{
				NameOff: bo.Uint32(b[0:]),
				Value:   uint64(bo.Uint32(b[4:])),
				Size:    uint64(bo.Uint32(b[8:])),
				Info:    b[12],
				Other:   b[13],
				Shndx:   bo.Uint16(b[14:]),
			}
		}
	}
	return syms, nil
}

// GlobalSymbols decodes the non-local slice of a symbol table. The first
// non-local index is taken from the section's sh_info field; a value past
// the actual symbol count is a format error.
func (f *File) GlobalSymbols(sh *SectionHeader) ([]Sym, error) {
	syms, err := f.Symbols(sh)
	if err != nil {
		return nil, err
	}
	first := int64(sh.Info)
	if first > int64(len(syms)) {
		return nil, fmt.Errorf("invalid sh_info in symbol table: %d/%d", first, len(syms))
	}
	return syms[first:], nil
}

// StringTableForSymtab returns the content of the string table linked from
// the given symbol table section.
func (f *File) StringTableForSymtab(sh *SectionHeader) ([]byte, error) {
	strsh, err := f.Section(sh.Link)
	if err != nil {
		return nil, err
	}
	if strsh.Type != elf.SHT_STRTAB {
		return nil, fmt.Errorf("invalid string table link in section %q: %d", sh.Name, sh.Link)
	}
	return f.SectionData(strsh)
}

// SHNDXTable decodes a SHT_SYMTAB_SHNDX extended-index section into a slice
// parallel to the symbol table it accompanies.
func (f *File) SHNDXTable(sh *SectionHeader) ([]uint32, error) {
	data, err := f.SectionData(sh)
	if err != nil {
		return nil, err
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("SHT_SYMTAB_SHNDX section size %d is not a multiple of 4", len(data))
	}
	bo := f.variant.ByteOrder()
	out := make([]uint32, len(data)/4)
	for i := range out {
		out[i] = bo.Uint32(data[i*4:])
	}
	return out, nil
}

// SectionIndex resolves the section index a symbol refers to. SHN_XINDEX is
// resolved through the extended-index table; other reserved values index no
// real section and yield 0. Reserved values are never clamped into the
// ordinary range.
func (f *File) SectionIndex(sym *Sym, symIdx int, shndx []uint32) (uint32, error) {
	if sym.Shndx == uint16(elf.SHN_XINDEX) {
		if symIdx >= len(shndx) {
			return 0, fmt.Errorf("symbol %d needs SHT_SYMTAB_SHNDX entry but table has %d",
				symIdx, len(shndx))
		}
		return shndx[symIdx], nil
	}
	if sym.Shndx >= uint16(elf.SHN_LORESERVE) {
		return 0, nil
	}
	return uint32(sym.Shndx), nil
}

// DynEntries decodes a SHT_DYNAMIC section.
func (f *File) DynEntries(sh *SectionHeader) ([]Dyn, error) {
	data, err := f.SectionData(sh)
	if err != nil {
		return nil, err
	}
	size := dynSize32
	if f.variant.Is64() {
		size = dynSize64
	}
	bo := f.variant.ByteOrder()
	out := make([]Dyn, 0, len(data)/size)
	for i := 0; i+size <= len(data); i += size {
		var d Dyn
		if f.variant.Is64() {
			d.Tag = elf.DynTag(bo.Uint64(data[i:]))
			d.Val = bo.Uint64(data[i+8:])
		} else {
			d.Tag = elf.DynTag(bo.Uint32(data[i:]))
			d.Val = uint64(bo.Uint32(data[i+4:]))
		}
		out = append(out, d)
	}
	return out, nil
}

// Uint32Slice decodes a section's content as an array of 32-bit words, used
// for SHT_GROUP entries.
func (f *File) Uint32Slice(sh *SectionHeader) ([]uint32, error) {
	data, err := f.SectionData(sh)
	if err != nil {
		return nil, err
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("section %q size %d is not a multiple of 4", sh.Name, len(data))
	}
	bo := f.variant.ByteOrder()
	out := make([]uint32, len(data)/4)
	for i := range out {
		out[i] = bo.Uint32(data[i*4:])
	}
	return out, nil
}
