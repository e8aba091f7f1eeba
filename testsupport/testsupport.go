// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

// Package testsupport synthesizes linker inputs in memory so package tests
// need no checked-in binaries: relocatable objects, shared objects with
// version definitions, archives and bitcode containers.
package testsupport // import "github.com/glink-ld/glink/testsupport"

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glink-ld/glink/elfkit"
)

// MachineFor returns a plausible machine for a format variant, for fixtures
// that do not care which architecture they pretend to be.
func MachineFor(v elfkit.Variant) elf.Machine {
	switch v {
	case elfkit.ELF32LE:
		return elf.EM_386
	case elfkit.ELF32BE:
		return elf.EM_PPC
	case elfkit.ELF64BE:
		return elf.EM_S390
	default:
		return elf.EM_X86_64
	}
}

// ObjectBuilder assembles a relocatable object, tracking symbol indices so
// section groups can reference their signature symbol.
type ObjectBuilder struct {
	B *elfkit.Builder

	variant elfkit.Variant
	nsyms   uint32
}

// NewObject returns a builder for an ET_REL fixture.
func NewObject(v elfkit.Variant) *ObjectBuilder {
	return &ObjectBuilder{
		B:       elfkit.NewBuilder(v, elf.ET_REL, MachineFor(v)),
		variant: v,
	}
}

// Progbits adds a SHT_PROGBITS section with the given flags and data.
func (o *ObjectBuilder) Progbits(name string, flags uint64, data []byte) *elfkit.BuilderSection {
	sec := o.B.AddSection(name, elf.SHT_PROGBITS)
	sec.Flags = flags
	sec.Data = data
	return sec
}

// MergeStrings adds a mergeable NUL-terminated string section.
func (o *ObjectBuilder) MergeStrings(name string, strs ...string) *elfkit.BuilderSection {
	var data []byte
	for _, s := range strs {
		data = append(data, s...)
		data = append(data, 0)
	}
	sec := o.B.AddSection(name, elf.SHT_PROGBITS)
	sec.Flags = uint64(elf.SHF_ALLOC | elf.SHF_MERGE | elf.SHF_STRINGS)
	sec.Entsize = 1
	sec.Data = data
	return sec
}

// Symbol adds a symbol and returns it with its final symbol table index.
func (o *ObjectBuilder) Symbol(name string, bind elf.SymBind, typ elf.SymType,
	shndx uint16) (*elfkit.BuilderSymbol, uint32) {
	sym := o.B.AddSymbol(name)
	sym.SetBindingAndType(bind, typ)
	sym.Shndx = shndx
	o.nsyms++
	return sym, o.nsyms
}

// ComdatGroup adds a SHT_GROUP section whose signature is the symbol at
// sigIndex and whose members are the given section indices.
func (o *ObjectBuilder) ComdatGroup(sigIndex uint32, members ...int) *elfkit.BuilderSection {
	buf := make([]byte, 4*(1+len(members)))
	bo := o.variant.ByteOrder()
	bo.PutUint32(buf, 1) // GRP_COMDAT
	for i, m := range members {
		bo.PutUint32(buf[4*(i+1):], uint32(m))
	}
	sec := o.B.AddSection(".group", elf.SHT_GROUP)
	sec.Link = o.B.SymtabIndex()
	sec.Info = sigIndex
	sec.Entsize = 4
	sec.Data = buf
	return sec
}

// Bytes encodes the object.
func (o *ObjectBuilder) Bytes() ([]byte, error) { return o.B.Bytes() }

// DynSym is one exported or imported dynamic symbol of a shared fixture.
type DynSym struct {
	Name   string
	Bind   elf.SymBind
	Type   elf.SymType
	Shndx  uint16
	Value  uint64
	Size   uint64
	Versym uint16
}

// VerdefSpec is one version definition of a shared fixture.
type VerdefSpec struct {
	Index uint16
	Flags uint16
	Name  string
}

// SharedBuilder assembles an ET_DYN image with .dynsym, .dynstr, .dynamic
// and optionally .gnu.version and .gnu.version_d sections.
type SharedBuilder struct {
	Variant elfkit.Variant
	SoName  string
	Syms    []DynSym
	Verdefs []VerdefSpec
}

type rawStrtab struct {
	data []byte
	offs map[string]uint32
}

func newRawStrtab() *rawStrtab {
	return &rawStrtab{data: []byte{0}, offs: map[string]uint32{"": 0}}
}

func (st *rawStrtab) add(s string) uint32 {
	if off, ok := st.offs[s]; ok {
		return off
	}
	off := uint32(len(st.data))
	st.data = append(st.data, s...)
	st.data = append(st.data, 0)
	st.offs[s] = off
	return off
}

// Bytes encodes the shared object.
func (s *SharedBuilder) Bytes() ([]byte, error) {
	v := s.Variant
	if v == elfkit.VariantNone {
		v = elfkit.ELF64LE
	}
	bo := v.ByteOrder()
	symSize := elfkit.SymSize(v)

	dynstr := newRawStrtab()

	// .dynsym with the null entry at index 0.
	dynsym := make([]byte, symSize*(1+len(s.Syms)))
	for i, ds := range s.Syms {
		nameOff := dynstr.add(ds.Name)
		rec := dynsym[symSize*(i+1):]
		info := uint8(ds.Bind)<<4 | uint8(ds.Type)&0xf
		if v.Is64() {
			bo.PutUint32(rec, nameOff)
			rec[4] = info
			bo.PutUint16(rec[6:], ds.Shndx)
			bo.PutUint64(rec[8:], ds.Value)
			bo.PutUint64(rec[16:], ds.Size)
		} else {
			bo.PutUint32(rec, nameOff)
			bo.PutUint32(rec[4:], uint32(ds.Value))
			bo.PutUint32(rec[8:], uint32(ds.Size))
			rec[12] = info
			bo.PutUint16(rec[14:], ds.Shndx)
		}
	}

	// .gnu.version parallels .dynsym.
	versym := make([]byte, 2*(1+len(s.Syms)))
	for i, ds := range s.Syms {
		bo.PutUint16(versym[2*(i+1):], ds.Versym)
	}

	// .gnu.version_d: chained records, each with one aux name record.
	var verdef []byte
	for i, vd := range s.Verdefs {
		rec := make([]byte, 28)
		bo.PutUint16(rec, 1) // vd_version
		bo.PutUint16(rec[2:], vd.Flags)
		bo.PutUint16(rec[4:], vd.Index)
		bo.PutUint16(rec[6:], 1)   // vd_cnt
		bo.PutUint32(rec[12:], 20) // vd_aux
		next := uint32(28)
		if i == len(s.Verdefs)-1 {
			next = 0
		}
		bo.PutUint32(rec[16:], next)
		bo.PutUint32(rec[20:], dynstr.add(vd.Name)) // vda_name
		verdef = append(verdef, rec...)
	}

	// .dynamic: DT_SONAME then DT_NULL.
	var dynamic bytes.Buffer
	putDyn := func(tag, val uint64) {
		if v.Is64() {
			var rec [16]byte
			bo.PutUint64(rec[:], tag)
			bo.PutUint64(rec[8:], val)
			dynamic.Write(rec[:])
		} else {
			var rec [8]byte
			bo.PutUint32(rec[:], uint32(tag))
			bo.PutUint32(rec[4:], uint32(val))
			dynamic.Write(rec[:])
		}
	}
	if s.SoName != "" {
		putDyn(uint64(elf.DT_SONAME), uint64(dynstr.add(s.SoName)))
	}
	putDyn(uint64(elf.DT_NULL), 0)

	b := elfkit.NewBuilder(v, elf.ET_DYN, MachineFor(v))

	dynstrSec := b.AddSection(".dynstr", elf.SHT_STRTAB)
	dynstrSec.Data = dynstr.data

	dynsymSec := b.AddSection(".dynsym", elf.SHT_DYNSYM)
	dynsymSec.Data = dynsym
	dynsymSec.Entsize = uint64(symSize)
	dynsymSec.Link = uint32(dynstrSec.Index)
	dynsymSec.Info = 1

	if len(s.Verdefs) > 0 {
		versymSec := b.AddSection(".gnu.version", elf.SHT_GNU_VERSYM)
		versymSec.Data = versym
		versymSec.Entsize = 2
		versymSec.Link = uint32(dynsymSec.Index)

		verdefSec := b.AddSection(".gnu.version_d", elf.SHT_GNU_VERDEF)
		verdefSec.Data = verdef
		verdefSec.Link = uint32(dynstrSec.Index)
		verdefSec.Info = uint32(len(s.Verdefs))
	}

	dynamicSec := b.AddSection(".dynamic", elf.SHT_DYNAMIC)
	dynamicSec.Data = dynamic.Bytes()
	dynamicSec.Link = uint32(dynstrSec.Index)
	if v.Is64() {
		dynamicSec.Entsize = 16
	} else {
		dynamicSec.Entsize = 8
	}

	return b.Bytes()
}

// ArchiveMember is one object of an archive fixture, with the names its
// symbol index should advertise for it.
type ArchiveMember struct {
	Name string
	Data []byte
	Syms []string
}

// Archive encodes a System V archive with a symbol index and, when any
// member name exceeds the inline field, a long-name table.
func Archive(members ...ArchiveMember) []byte {
	return encodeArchive("!<arch>\n", members, false)
}

// ThinArchive writes each member's data into dir and encodes a thin archive
// referencing the files by name.
func ThinArchive(dir string, members ...ArchiveMember) ([]byte, error) {
	for _, m := range members {
		if err := os.WriteFile(filepath.Join(dir, m.Name), m.Data, 0o600); err != nil {
			return nil, err
		}
	}
	return encodeArchive("!<thin>\n", members, true), nil
}

func encodeArchive(magic string, members []ArchiveMember, thin bool) []byte {
	// Long-name table for members whose "name/" form exceeds 16 bytes.
	// Thin archive member names always live there.
	var longNames bytes.Buffer
	nameField := make([]string, len(members))
	for i, m := range members {
		inline := m.Name + "/"
		if thin || len(inline) > 16 {
			nameField[i] = fmt.Sprintf("/%d", longNames.Len())
			longNames.WriteString(m.Name)
			if !thin {
				longNames.WriteString("/")
			}
			longNames.WriteString("\n")
		} else {
			nameField[i] = inline
		}
	}

	// The index stores absolute header offsets, so lay out sizes first.
	var symNames bytes.Buffer
	nsyms := 0
	for _, m := range members {
		for _, s := range m.Syms {
			symNames.WriteString(s)
			symNames.WriteByte(0)
			nsyms++
		}
	}
	indexSize := 4 + 4*nsyms + symNames.Len()

	off := len(magic) + 60 + indexSize
	if off%2 != 0 {
		off++
	}
	if longNames.Len() > 0 {
		off += 60 + longNames.Len()
		if off%2 != 0 {
			off++
		}
	}
	memberOff := make([]int, len(members))
	for i, m := range members {
		memberOff[i] = off
		off += 60
		if !thin {
			off += len(m.Data)
			if off%2 != 0 {
				off++
			}
		}
	}

	var out bytes.Buffer
	out.WriteString(magic)

	hdr := func(name string, size int) {
		fmt.Fprintf(&out, "%-16s%-12s%-6s%-6s%-8s%-10d`\n", name, "0", "0", "0", "0", size)
	}
	pad := func() {
		if out.Len()%2 != 0 {
			out.WriteByte('\n')
		}
	}

	hdr("/", indexSize)
	var cnt [4]byte
	binary.BigEndian.PutUint32(cnt[:], uint32(nsyms))
	out.Write(cnt[:])
	for i, m := range members {
		var offBytes [4]byte
		binary.BigEndian.PutUint32(offBytes[:], uint32(memberOff[i]))
		for range m.Syms {
			out.Write(offBytes[:])
		}
	}
	out.Write(symNames.Bytes())
	pad()

	if longNames.Len() > 0 {
		hdr("//", longNames.Len())
		out.Write(longNames.Bytes())
		pad()
	}

	for i, m := range members {
		size := len(m.Data)
		if thin {
			size = 0
		}
		hdr(nameField[i], size)
		if !thin {
			out.Write(m.Data)
			pad()
		}
	}
	return out.Bytes()
}

// BitcodeSym describes one entry of a bitcode fixture's symbol table.
type BitcodeSym struct {
	Name   string
	Comdat string
	Weak   bool
	Undef  bool
	Common bool
	TLS    bool
	Vis    uint8
	Size   uint64
	Align  uint32
}

// Bitcode encodes a bitcode container fixture: the raw magic, a filler
// body, the symbol table and its footer.
func Bitcode(v elfkit.Variant, syms ...BitcodeSym) []byte {
	var out bytes.Buffer
	out.Write([]byte{'B', 'C', 0xC0, 0xDE})
	out.Write(make([]byte, 12)) // stand-in IR body

	tableOff := out.Len()
	out.WriteByte(byte(v))
	le := binary.LittleEndian
	var u16 [2]byte
	var u32 [4]byte
	var u64 [8]byte
	le.PutUint16(u16[:], uint16(MachineFor(v)))
	out.Write(u16[:])
	le.PutUint32(u32[:], uint32(len(syms)))
	out.Write(u32[:])

	putStr := func(s string) {
		le.PutUint16(u16[:], uint16(len(s)))
		out.Write(u16[:])
		out.WriteString(s)
	}
	for _, s := range syms {
		var flags byte
		if s.Weak {
			flags |= 1 << 0
		}
		if s.Undef {
			flags |= 1 << 1
		}
		if s.Common {
			flags |= 1 << 2
		}
		if s.TLS {
			flags |= 1 << 3
		}
		out.WriteByte(flags)
		out.WriteByte(s.Vis)
		putStr(s.Name)
		putStr(s.Comdat)
		if s.Common {
			le.PutUint64(u64[:], s.Size)
			out.Write(u64[:])
			le.PutUint32(u32[:], s.Align)
			out.Write(u32[:])
		}
	}

	le.PutUint32(u32[:], uint32(tableOff))
	out.Write(u32[:])
	le.PutUint32(u32[:], 1)
	out.Write(u32[:])
	out.WriteString("GIRS")
	return out.Bytes()
}
