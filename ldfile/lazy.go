// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

package ldfile // import "github.com/glink-ld/glink/ldfile"

import (
	"debug/elf"
	"sync/atomic"

	"github.com/glink-ld/glink/elfkit"
)

// LazyObjectFile is an object added between --start-lib and --end-lib: it
// behaves like an archive member, contributing nothing until one of its
// defined names is needed. The backing buffer is handed out at most once.
type LazyObjectFile struct {
	File

	taken atomic.Bool
}

// NewLazyObjectFile wraps an object or bitcode buffer without parsing it.
func NewLazyObjectFile(name, archiveName string, data []byte) *LazyObjectFile {
	return &LazyObjectFile{
		File: File{kind: LazyObjectKind, Name: name, ArchiveName: archiveName, Data: data},
	}
}

// Parse submits the file's defined global names as lazy definitions. Only
// the symbol table is touched; sections are not interpreted.
func (lz *LazyObjectFile) Parse(lk *Link) error {
	names, err := lz.definedNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		lk.Resolver.AddLazyObject(name, lz)
	}
	return nil
}

func (lz *LazyObjectFile) definedNames() ([]string, error) {
	if IsBitcode(lz.Data) {
		bc, err := NewBitcodeFile(lz.Name, lz.ArchiveName, lz.Data)
		if err != nil {
			return nil, err
		}
		var names []string
		for i := range bc.symbols {
			if !bc.symbols[i].undef {
				names = append(names, bc.symbols[i].name)
			}
		}
		return names, nil
	}

	ef, err := elfkit.NewFile(lz.Data)
	if err != nil {
		return nil, lz.wrapError(err)
	}
	sections := ef.Sections()
	for i := range sections {
		sec := &sections[i]
		if sec.Type != elf.SHT_SYMTAB {
			continue
		}
		strtab, err := ef.StringTableForSymtab(sec)
		if err != nil {
			return nil, lz.wrapError(err)
		}
		syms, err := ef.GlobalSymbols(sec)
		if err != nil {
			return nil, lz.wrapError(err)
		}
		var names []string
		for j := range syms {
			if syms[j].Shndx == uint16(elf.SHN_UNDEF) {
				continue
			}
			name, ok := elfkit.GetString(strtab, syms[j].NameOff)
			if !ok {
				return nil, lz.errorf("invalid symbol name offset: %d", syms[j].NameOff)
			}
			names = append(names, name)
		}
		return names, nil
	}
	return nil, nil
}

// Buffer returns the backing bytes on the first call and nil afterwards, so
// concurrent demand for several of the file's symbols extracts it once.
func (lz *LazyObjectFile) Buffer() []byte {
	if lz.taken.CompareAndSwap(false, true) {
		return lz.Data
	}
	return nil
}
