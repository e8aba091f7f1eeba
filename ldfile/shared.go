// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

package ldfile // import "github.com/glink-ld/glink/ldfile"

import (
	"debug/elf"
	"path/filepath"

	"github.com/glink-ld/glink/elfkit"
)

// Version-index namespace of the .gnu.version section.
const (
	verNdxLocal  = 0
	verNdxGlobal = 1
	versymHidden = 0x8000
)

// Verdef is one version definition of a shared library. Index is the
// identifier symbols refer to through the version-symbol array; index 0 is
// the unversioned base slot and never carries a definition.
type Verdef struct {
	Index uint16
	Flags uint16
	Hash  uint32
	Name  string
}

// SharedFile is a dynamic shared-object input. Parsing is two-phase:
// ParseSoName is cheap and yields the externally visible name, so callers
// can short-circuit duplicate DSOs before ParseRest does the symbol work.
type SharedFile struct {
	File

	ef         *elfkit.File
	dynsymSec  *elfkit.SectionHeader
	dynamicSec *elfkit.SectionHeader
	versymSec  *elfkit.SectionHeader
	verdefSec  *elfkit.SectionHeader
	shndxTable []uint32
	stringTab  []byte

	// SoName is the canonical runtime name; defaults to the filename.
	SoName string

	// Undefs are names this DSO needs resolved by other inputs.
	Undefs []string

	// Verdefs maps version identifiers to definitions; unassigned
	// identifiers are nil. Length is at least 1 (the base slot).
	Verdefs []*Verdef

	// AsNeeded records the --as-needed state latched at open time.
	AsNeeded bool
}

// NewSharedFile decodes the headers of a shared object.
func NewSharedFile(name string, data []byte, asNeeded bool) (*SharedFile, error) {
	s := &SharedFile{
		File:     File{kind: SharedKind, Name: name, Data: data},
		AsNeeded: asNeeded,
	}
	ef, err := elfkit.NewFile(data)
	if err != nil {
		return nil, s.wrapError(err)
	}
	s.ef = ef
	s.Variant = ef.Variant()
	s.Machine = ef.Machine()
	return s, nil
}

// ParseSoName scans the section headers once, records the tables full
// parsing needs, and determines the SONAME.
func (s *SharedFile) ParseSoName() error {
	sections := s.ef.Sections()
	for i := range sections {
		sec := &sections[i]
		switch sec.Type {
		case elf.SHT_DYNSYM:
			s.dynsymSec = sec
		case elf.SHT_DYNAMIC:
			s.dynamicSec = sec
		case elf.SHT_SYMTAB_SHNDX:
			shndx, err := s.ef.SHNDXTable(sec)
			if err != nil {
				return s.wrapError(err)
			}
			s.shndxTable = shndx
		case elf.SHT_GNU_VERSYM:
			s.versymSec = sec
		case elf.SHT_GNU_VERDEF:
			s.verdefSec = sec
		}
	}

	if s.dynsymSec != nil {
		strtab, err := s.ef.StringTableForSymtab(s.dynsymSec)
		if err != nil {
			return s.wrapError(err)
		}
		s.stringTab = strtab
	}

	// DSOs are identified by soname. Most carry a DT_SONAME tag; when it
	// is missing the filename serves as the default.
	s.SoName = filepath.Base(s.Name)

	if s.dynamicSec == nil {
		return nil
	}
	dyns, err := s.ef.DynEntries(s.dynamicSec)
	if err != nil {
		return s.wrapError(err)
	}
	for _, d := range dyns {
		if d.Tag != elf.DT_SONAME {
			continue
		}
		name, ok := elfkit.GetString(s.stringTab, uint32(d.Val))
		if !ok || d.Val >= uint64(len(s.stringTab)) {
			return s.errorf("invalid DT_SONAME entry")
		}
		s.SoName = name
		return nil
	}
	return nil
}

// parseVerdefs builds the version-identifier table by following the chain
// of verdef records. The table always has at least the base slot; version
// identifiers that are not definitions stay nil.
func (s *SharedFile) parseVerdefs() error {
	s.Verdefs = make([]*Verdef, 1)
	if s.versymSec == nil || s.verdefSec == nil {
		// Without both a versym and a verdef section the DSO defines no
		// symbol versions.
		return nil
	}

	data, err := s.ef.SectionData(s.verdefSec)
	if err != nil {
		return s.wrapError(err)
	}
	bo := s.Variant.ByteOrder()

	// Both bfd and gold assign verdef identifiers sequentially from 1, so
	// sh_info is a good capacity prediction.
	count := int(s.verdefSec.Info)
	s.Verdefs = make([]*Verdef, count+1)

	off := 0
	for i := 0; i < count; i++ {
		// Verdef record: version, flags, ndx, cnt, hash, aux, next.
		if off < 0 || off+20 > len(data) {
			return s.errorf("invalid version definition chain")
		}
		v := &Verdef{
			Flags: bo.Uint16(data[off+2:]),
			Index: bo.Uint16(data[off+4:]),
			Hash:  bo.Uint32(data[off+8:]),
		}
		auxOff := off + int(bo.Uint32(data[off+12:]))
		if auxOff < 0 || auxOff+8 > len(data) {
			return s.errorf("invalid version definition aux record")
		}
		name, ok := elfkit.GetString(s.stringTab, bo.Uint32(data[auxOff:]))
		if !ok {
			return s.errorf("invalid version definition name")
		}
		v.Name = name

		index := int(v.Index)
		if index >= len(s.Verdefs) {
			grown := make([]*Verdef, index+1)
			copy(grown, s.Verdefs)
			s.Verdefs = grown
		}
		s.Verdefs[index] = v

		next := int(bo.Uint32(data[off+16:]))
		if next == 0 && i != count-1 {
			return s.errorf("invalid version definition chain")
		}
		off += next
	}
	return nil
}

// ParseRest fully parses the shared object. Must be called after
// ParseSoName.
func (s *SharedFile) ParseRest(lk *Link) error {
	if err := s.parseVerdefs(); err != nil {
		return err
	}
	if s.dynsymSec == nil {
		return nil
	}

	syms, err := s.ef.GlobalSymbols(s.dynsymSec)
	if err != nil {
		return s.wrapError(err)
	}

	// The version-symbol array parallels the full dynamic symbol table;
	// slice it to the globals to walk in lock-step. An absent array means
	// every symbol is globally visible and unversioned.
	var versym []uint16
	if s.versymSec != nil && s.verdefSec != nil {
		data, err := s.ef.SectionData(s.versymSec)
		if err != nil {
			return s.wrapError(err)
		}
		bo := s.Variant.ByteOrder()
		first := int(s.dynsymSec.Info)
		if (first+len(syms))*2 > len(data) {
			return s.errorf("invalid .gnu.version section size")
		}
		versym = make([]uint16, len(syms))
		for i := range versym {
			versym[i] = bo.Uint16(data[(first+i)*2:])
		}
	}

	for i := range syms {
		sym := &syms[i]
		name, ok := elfkit.GetString(s.stringTab, sym.NameOff)
		if !ok {
			return s.errorf("invalid dynamic symbol name offset: %d", sym.NameOff)
		}

		if sym.Shndx == uint16(elf.SHN_UNDEF) {
			s.Undefs = append(s.Undefs, name)
			continue
		}

		versymIndex := uint16(verNdxGlobal)
		if versym != nil {
			versymIndex = versym[i]
			// Local-version and hidden symbols are not part of the
			// externally visible set.
			if versymIndex == verNdxLocal || versymIndex&versymHidden != 0 {
				continue
			}
		}

		var verdef *Verdef
		if versymIndex != verNdxGlobal {
			if int(versymIndex) >= len(s.Verdefs) {
				return s.errorf("invalid version index for symbol %q: %d", name, versymIndex)
			}
			verdef = s.Verdefs[versymIndex]
		}

		lk.Resolver.AddShared(name, sym.Value, sym.Size, sym.Type(), verdef,
			s.AsNeeded, &s.File)
	}
	return nil
}
