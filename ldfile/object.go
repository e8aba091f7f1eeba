// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

package ldfile // import "github.com/glink-ld/glink/ldfile"

import (
	"debug/elf"
	"strings"

	"github.com/glink-ld/glink/elfkit"
)

// Section types not covered by debug/elf's constants.
const (
	shtARMAttributes elf.SectionType = 0x70000003
	shtMipsReginfo   elf.SectionType = 0x70000006
	shtMipsOptions   elf.SectionType = 0x7000000d
)

// stbGnuUnique is the GNU extension binding for uniqued C++ definitions.
const stbGnuUnique elf.SymBind = 10

// shfExclude marks sections excluded from the link by the producer.
const shfExclude uint64 = 0x80000000

const grpComdat = 0x1

// LocalSymbol is a file-private symbol. Locals are recorded against their
// defining file and never submitted to the resolver; undefined locals are
// still kept so relocations can target them by index.
type LocalSymbol struct {
	Name    string
	Value   uint64
	Size    uint64
	Type    elf.SymType
	Section Section
}

// ObjectFile is a parsed relocatable object.
type ObjectFile struct {
	File

	ef          *elfkit.File
	symtabSec   *elfkit.SectionHeader
	shndxTable  []uint32
	stringTable []byte

	// Sections is parallel to the ELF section header table. A nil entry
	// is a section that does not become linkable content (string tables,
	// dropped relocation carriers); Discarded entries are terminal.
	Sections []Section

	Locals  []LocalSymbol
	Globals []Ref

	MipsReginfo  *ArchSection
	MipsOptions  *ArchSection
	MipsAbiFlags *ArchSection
}

// NewObjectFile decodes the headers of a relocatable object. archiveName is
// empty for standalone objects.
func NewObjectFile(name, archiveName string, data []byte) (*ObjectFile, error) {
	o := &ObjectFile{
		File: File{
			kind:        ObjectKind,
			Name:        name,
			ArchiveName: archiveName,
			Data:        data,
		},
	}
	ef, err := elfkit.NewFile(data)
	if err != nil {
		return nil, o.wrapError(err)
	}
	o.ef = ef
	o.Variant = ef.Variant()
	o.Machine = ef.Machine()
	return o, nil
}

// Parse reads the section and symbol tables and submits every non-local
// symbol to the link's resolver.
func (o *ObjectFile) Parse(lk *Link) error {
	if err := o.initializeSections(lk); err != nil {
		return err
	}
	return o.initializeSymbols(lk)
}

// shtGroupSignature returns the dedup signature of a section group: the
// name of the symbol the group header references.
func (o *ObjectFile) shtGroupSignature(sec *elfkit.SectionHeader) (string, error) {
	symtab, err := o.ef.Section(sec.Link)
	if err != nil {
		return "", o.wrapError(err)
	}
	syms, err := o.ef.Symbols(symtab)
	if err != nil {
		return "", o.wrapError(err)
	}
	if int64(sec.Info) >= int64(len(syms)) {
		return "", o.errorf("invalid symbol index in group section %q: %d", sec.Name, sec.Info)
	}
	strtab, err := o.ef.StringTableForSymtab(symtab)
	if err != nil {
		return "", o.wrapError(err)
	}
	name, ok := elfkit.GetString(strtab, syms[sec.Info].NameOff)
	if !ok {
		return "", o.errorf("invalid signature name in group section %q", sec.Name)
	}
	return name, nil
}

// shtGroupEntries returns the member section indexes of a group section.
// Only the comdat dedup mode is supported.
func (o *ObjectFile) shtGroupEntries(sec *elfkit.SectionHeader) ([]uint32, error) {
	entries, err := o.ef.Uint32Slice(sec)
	if err != nil {
		return nil, o.wrapError(err)
	}
	if len(entries) == 0 || entries[0] != grpComdat {
		return nil, o.errorf("unsupported SHT_GROUP format")
	}
	return entries[1:], nil
}

func (o *ObjectFile) initializeSections(lk *Link) error {
	sections := o.ef.Sections()
	o.Sections = make([]Section, len(sections))
	for i := range sections {
		sec := &sections[i]
		if o.Sections[i] == Discarded {
			continue
		}
		if sec.Flags&shfExclude != 0 {
			o.Sections[i] = Discarded
			continue
		}

		switch sec.Type {
		case elf.SHT_GROUP:
			o.Sections[i] = Discarded
			entries, err := o.shtGroupEntries(sec)
			if err != nil {
				return err
			}
			signature, err := o.shtGroupSignature(sec)
			if err != nil {
				return err
			}
			// Member indexes are validated before the signature is
			// claimed, so a malformed group errors whether it wins
			// or loses.
			for _, secIndex := range entries {
				if int64(secIndex) >= int64(len(o.Sections)) {
					return o.errorf("invalid section index in group: %d", secIndex)
				}
			}
			if lk.ClaimComdat(signature) {
				continue
			}
			// A group with an already-claimed signature loses:
			// every member section is discarded.
			for _, secIndex := range entries {
				o.Sections[secIndex] = Discarded
			}
		case elf.SHT_SYMTAB:
			o.symtabSec = sec
		case elf.SHT_SYMTAB_SHNDX:
			shndx, err := o.ef.SHNDXTable(sec)
			if err != nil {
				return o.wrapError(err)
			}
			o.shndxTable = shndx
		case elf.SHT_STRTAB, elf.SHT_NULL:
			// Not linkable content.
		default:
			s, err := o.createInputSection(lk, sec)
			if err != nil {
				return err
			}
			o.Sections[i] = s
		}
	}
	return nil
}

// relocTarget resolves the section a relocation section applies to. A
// Discarded target means the relocations go away with it; that happens for
// groups whose relocation sections were not listed as group members.
func (o *ObjectFile) relocTarget(sec *elfkit.SectionHeader) (Section, error) {
	idx := sec.Info
	if int64(idx) >= int64(len(o.Sections)) {
		return nil, o.errorf("invalid relocated section index: %d", idx)
	}
	target := o.Sections[idx]
	if target == Discarded {
		return Discarded, nil
	}
	if target == nil {
		return nil, o.errorf("unsupported relocation reference")
	}
	return target, nil
}

func (o *ObjectFile) createInputSection(lk *Link, sec *elfkit.SectionHeader) (Section, error) {
	name := sec.Name

	switch sec.Type {
	case shtARMAttributes:
		// ARM meta-data section. Attributes are ignored; they could be
		// used to reason about object compatibility.
		return Discarded, nil
	case shtMipsReginfo:
		s := &ArchSection{InputSection: InputSection{File: o, Name: name, Hdr: sec},
			ArchKind: ArchMipsReginfo}
		o.MipsReginfo = s
		return s, nil
	case shtMipsOptions:
		s := &ArchSection{InputSection: InputSection{File: o, Name: name, Hdr: sec},
			ArchKind: ArchMipsOptions}
		o.MipsOptions = s
		return s, nil
	case elf.SHT_MIPS_ABIFLAGS:
		s := &ArchSection{InputSection: InputSection{File: o, Name: name, Hdr: sec},
			ArchKind: ArchMipsAbiFlags}
		o.MipsAbiFlags = s
		return s, nil
	case elf.SHT_REL, elf.SHT_RELA:
		// In relocatable mode relocation sections are copied through
		// instead of being interpreted.
		if lk.Config.Relocatable {
			return &InputSection{File: o, Name: name, Hdr: sec}, nil
		}
		target, err := o.relocTarget(sec)
		if err != nil {
			return nil, err
		}
		if target == Discarded {
			return nil, nil
		}
		switch t := target.(type) {
		case *EhFrameSection:
			if t.Reloc != nil {
				return nil, o.errorf(
					"multiple relocation sections to .eh_frame are not supported")
			}
			t.Reloc = sec
			return nil, nil
		case *MergeSection:
			return nil, o.errorf("relocations pointing to SHF_MERGE are not supported")
		case *ArchSection:
			return nil, o.errorf("unsupported relocation reference")
		case *InputSection:
			t.Relocs = append(t.Relocs, sec)
			return nil, nil
		}
		return nil, o.errorf("unsupported relocation reference")
	}

	// .note.GNU-stack only controls the output's stack-executable flag,
	// which is a link-wide policy decision, so its content is ignored.
	if name == ".note.GNU-stack" {
		return Discarded, nil
	}

	if name == ".note.GNU-split-stack" {
		return nil, o.errorf("objects using splitstacks are not supported")
	}

	if lk.Config.Strip != StripNone && strings.HasPrefix(name, ".debug") {
		return Discarded, nil
	}

	// Exception frames are merged across inputs by a dedicated pass, so
	// they get their own wrapper. In relocatable mode they pass through.
	if name == ".eh_frame" && !lk.Config.Relocatable {
		return &EhFrameSection{InputSection: InputSection{File: o, Name: name, Hdr: sec}}, nil
	}

	merge, err := o.shouldMerge(lk, sec)
	if err != nil {
		return nil, err
	}
	if merge {
		s := &MergeSection{InputSection: InputSection{File: o, Name: name, Hdr: sec}}
		data, err := s.Data()
		if err != nil {
			return nil, err
		}
		stringsFlag := sec.Flags&uint64(elf.SHF_STRINGS) != 0
		s.Pieces, err = splitPieces(data, sec.Entsize, stringsFlag)
		if err != nil {
			return nil, o.errorf("section %q: %v", name, err)
		}
		return s, nil
	}
	return &InputSection{File: o, Name: name, Hdr: sec}, nil
}

// shouldMerge decides whether a section is eligible for content merging.
func (o *ObjectFile) shouldMerge(lk *Link, sec *elfkit.SectionHeader) (bool, error) {
	// Merging is skipped entirely at -O0: the link gets faster and the
	// output just gets bigger.
	if lk.Config.Optimize == 0 {
		return false, nil
	}

	flags := sec.Flags
	if flags&uint64(elf.SHF_MERGE) == 0 {
		return false, nil
	}
	if flags&uint64(elf.SHF_WRITE) != 0 {
		return false, o.errorf("writable SHF_MERGE section is not supported")
	}

	// Some producers emit string-mergeable sections with sh_entsize 0;
	// accept them as plain sections rather than being picky.
	entSize := sec.Entsize
	if entSize == 0 {
		return false, nil
	}
	if sec.Size%entSize != 0 {
		return false, o.errorf("SHF_MERGE section size must be a multiple of sh_entsize")
	}

	// A mergeable section with size 0 has nothing to merge, and a string
	// section of size 0 does not even end with a NUL.
	if sec.Size == 0 {
		return false, nil
	}

	// Without SHF_STRINGS an alignment larger than the entry size would
	// need padding after every entry; the producer should have set a
	// larger sh_entsize instead.
	if flags&uint64(elf.SHF_STRINGS) != 0 {
		return true, nil
	}
	return sec.Addralign <= entSize, nil
}

// sectionForSymbol resolves the section a symbol is defined against. May
// return nil (no real section: absolute, or a symbol against a
// non-materialized section type) or Discarded.
func (o *ObjectFile) sectionForSymbol(sym *elfkit.Sym, symIdx int) (Section, error) {
	index, err := o.ef.SectionIndex(sym, symIdx, o.shndxTable)
	if err != nil {
		return nil, o.wrapError(err)
	}
	if index == 0 {
		return nil, nil
	}
	if int64(index) >= int64(len(o.Sections)) {
		return nil, o.errorf("invalid section index: %d", index)
	}
	// Broken assemblers have been seen associating STT_SECTION symbols
	// with symtab/strtab sections; those have no linkable section and a
	// nil result is fine.
	return o.Sections[index], nil
}

func (o *ObjectFile) initializeSymbols(lk *Link) error {
	if o.symtabSec == nil {
		return nil
	}
	strtab, err := o.ef.StringTableForSymtab(o.symtabSec)
	if err != nil {
		return o.wrapError(err)
	}
	o.stringTable = strtab

	syms, err := o.ef.Symbols(o.symtabSec)
	if err != nil {
		return o.wrapError(err)
	}

	for i := range syms {
		if i == 0 {
			continue // null symbol
		}
		sym := &syms[i]
		sec, err := o.sectionForSymbol(sym, i)
		if err != nil {
			return err
		}

		if sym.Binding() == elf.STB_LOCAL {
			// Locals stay private to this file. Undefined locals are
			// recorded too: relocations may target them by index.
			name, _ := elfkit.GetString(o.stringTable, sym.NameOff)
			o.Locals = append(o.Locals, LocalSymbol{
				Name:    name,
				Value:   sym.Value,
				Size:    sym.Size,
				Type:    sym.Type(),
				Section: sec,
			})
			continue
		}

		name, ok := elfkit.GetString(o.stringTable, sym.NameOff)
		if !ok {
			return o.errorf("invalid symbol name offset: %d", sym.NameOff)
		}

		var ref Ref
		switch elf.SectionIndex(sym.Shndx) {
		case elf.SHN_UNDEF:
			ref = lk.Resolver.AddUndefined(name, sym.Binding(), sym.Visibility(),
				sym.Type(), &o.File)
		case elf.SHN_COMMON:
			// For commons st_value carries the declared alignment.
			ref = lk.Resolver.AddCommon(name, sym.Size, sym.Value, sym.Binding(),
				sym.Visibility(), &o.File)
		default:
			switch sym.Binding() {
			case elf.STB_GLOBAL, elf.STB_WEAK, stbGnuUnique:
			default:
				return o.errorf("unexpected binding: %d", sym.Binding())
			}
			if sec == Discarded {
				// The defining section lost comdat dedup, so the
				// definition's storage no longer exists.
				ref = lk.Resolver.AddUndefined(name, sym.Binding(), sym.Visibility(),
					sym.Type(), &o.File)
			} else {
				ref = lk.Resolver.AddRegular(name, sym.Binding(), sym.Visibility(),
					sym.Type(), sym.Value, sym.Size, sec, &o.File)
			}
		}
		o.Globals = append(o.Globals, ref)
	}
	return nil
}
