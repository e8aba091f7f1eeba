// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

package ldfile // import "github.com/glink-ld/glink/ldfile"

import (
	"debug/elf"
	"encoding/binary"

	"github.com/glink-ld/glink/elfkit"
)

// Bitcode containers start with the raw magic or the offset-carrying
// wrapper header used by some toolchains.
const bitcodeWrapperMagic = 0x0B17C0DE

// IsBitcode reports whether data is an LLVM bitcode container.
func IsBitcode(data []byte) bool {
	if len(data) >= 4 && data[0] == 'B' && data[1] == 'C' &&
		data[2] == 0xC0 && data[3] == 0xDE {
		return true
	}
	return len(data) >= 4 &&
		binary.LittleEndian.Uint32(data) == bitcodeWrapperMagic
}

// The compiler driver appends a flat IR symbol table to each bitcode
// container so the linker can resolve symbols without loading IR. Footer
// (last 12 bytes): u32le table offset, u32le version, "GIRS". Table: u8
// variant, u16le machine, u32le count, then per symbol: u8 flags, u8
// visibility, u16le name length, name, u16le comdat length, comdat, and for
// commons u64le size plus u32le alignment.
const (
	girsMagic      = "GIRS"
	girsVersion    = 1
	girsFooterSize = 12

	girsWeak   = 1 << 0
	girsUndef  = 1 << 1
	girsCommon = 1 << 2
	girsTLS    = 1 << 3
)

type bitcodeSymbol struct {
	name       string
	comdat     string
	bind       elf.SymBind
	vis        elf.SymVis
	tls        bool
	undef      bool
	common     bool
	commonSize uint64
	commonAlgn uint32
}

// BitcodeFile is an LLVM bitcode input. Only the appended symbol table is
// decoded; IR compilation belongs to a later pipeline stage.
type BitcodeFile struct {
	File

	symbols []bitcodeSymbol

	// KeptComdats records, per comdat name in this file, whether this file
	// won the link-wide claim. Later stages prune losers' bodies with it.
	KeptComdats map[string]bool
}

// NewBitcodeFile decodes the symbol-table trailer of a bitcode container.
func NewBitcodeFile(name, archiveName string, data []byte) (*BitcodeFile, error) {
	b := &BitcodeFile{
		File: File{kind: BitcodeKind, Name: name, ArchiveName: archiveName, Data: data},
	}
	if !IsBitcode(data) {
		return nil, b.errorf("not a bitcode file")
	}
	if err := b.parseSymbolTable(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *BitcodeFile) parseSymbolTable() error {
	data := b.Data
	if len(data) < girsFooterSize {
		return b.errorf("bitcode file carries no symbol table")
	}
	footer := data[len(data)-girsFooterSize:]
	if string(footer[8:12]) != girsMagic {
		return b.errorf("bitcode file carries no symbol table")
	}
	if v := binary.LittleEndian.Uint32(footer[4:]); v != girsVersion {
		return b.errorf("unsupported bitcode symbol table version: %d", v)
	}
	off := int(binary.LittleEndian.Uint32(footer))
	if off < 0 || off+7 > len(data)-girsFooterSize {
		return b.errorf("invalid bitcode symbol table offset")
	}

	b.Variant = elfkit.Variant(data[off])
	if b.Variant < elfkit.ELF32LE || b.Variant > elfkit.ELF64BE {
		return b.errorf("invalid bitcode symbol table target")
	}
	b.Machine = elf.Machine(binary.LittleEndian.Uint16(data[off+1:]))
	count := binary.LittleEndian.Uint32(data[off+3:])
	off += 7

	readString := func() (string, bool) {
		if off+2 > len(data) {
			return "", false
		}
		n := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
		if off+n > len(data) {
			return "", false
		}
		s := string(data[off : off+n])
		off += n
		return s, true
	}

	b.symbols = make([]bitcodeSymbol, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+2 > len(data) {
			return b.errorf("truncated bitcode symbol table")
		}
		flags := data[off]
		visRaw := data[off+1]
		off += 2

		sym := bitcodeSymbol{
			bind:   elf.STB_GLOBAL,
			tls:    flags&girsTLS != 0,
			undef:  flags&girsUndef != 0,
			common: flags&girsCommon != 0,
		}
		if flags&girsWeak != 0 {
			sym.bind = elf.STB_WEAK
		}
		switch visRaw {
		case 0:
			sym.vis = elf.STV_DEFAULT
		case 1:
			sym.vis = elf.STV_HIDDEN
		case 2:
			sym.vis = elf.STV_PROTECTED
		default:
			return b.errorf("invalid bitcode symbol visibility: %d", visRaw)
		}

		var ok bool
		if sym.name, ok = readString(); !ok {
			return b.errorf("truncated bitcode symbol table")
		}
		if sym.comdat, ok = readString(); !ok {
			return b.errorf("truncated bitcode symbol table")
		}
		if sym.common {
			if off+12 > len(data) {
				return b.errorf("truncated bitcode symbol table")
			}
			sym.commonSize = binary.LittleEndian.Uint64(data[off:])
			sym.commonAlgn = binary.LittleEndian.Uint32(data[off+8:])
			off += 12
		}
		b.symbols = append(b.symbols, sym)
	}
	return nil
}

func (b *BitcodeFile) symType(sym *bitcodeSymbol) elf.SymType {
	if sym.tls {
		return elf.STT_TLS
	}
	return elf.STT_NOTYPE
}

// Parse claims this file's comdats against the link-wide signature set,
// then submits every symbol. Definitions inside a lost comdat degrade to
// undefined references, exactly as members of a duplicate ELF section group
// do.
func (b *BitcodeFile) Parse(lk *Link) error {
	b.KeptComdats = map[string]bool{}
	for i := range b.symbols {
		c := b.symbols[i].comdat
		if c == "" {
			continue
		}
		if _, claimed := b.KeptComdats[c]; !claimed {
			b.KeptComdats[c] = lk.ClaimComdat(c)
		}
	}

	for i := range b.symbols {
		sym := &b.symbols[i]
		typ := b.symType(sym)
		switch {
		case sym.undef:
			lk.Resolver.AddUndefined(sym.name, elf.STB_GLOBAL, sym.vis, typ, &b.File)
		case sym.comdat != "" && !b.KeptComdats[sym.comdat]:
			lk.Resolver.AddUndefined(sym.name, sym.bind, sym.vis, typ, &b.File)
		case sym.common:
			lk.Resolver.AddCommon(sym.name, sym.commonSize, uint64(sym.commonAlgn),
				sym.bind, sym.vis, &b.File)
		default:
			lk.Resolver.AddBitcode(sym.name, sym.bind, sym.vis, typ, &b.File)
		}
	}
	return nil
}
