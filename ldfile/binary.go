// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

package ldfile // import "github.com/glink-ld/glink/ldfile"

import (
	"debug/elf"

	"github.com/glink-ld/glink/elfkit"
)

// mangleSymbolPath turns an input path into the identifier fragment of the
// synthesized start/end/size symbols.
func mangleSymbolPath(path string) string {
	out := []byte(path)
	for i, c := range out {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			out[i] = '_'
		}
	}
	return string(out)
}

// NewBinaryFile wraps a raw data blob (--format=binary input) into a
// relocatable object carrying one .data section and the conventional
// _binary_<path>_start, _end and _size symbols, then ingests it through the
// regular object path. The blob keeps no format of its own, so the target
// variant and machine come from the link configuration.
func NewBinaryFile(lk *Link, name string, data []byte) (*ObjectFile, error) {
	b := elfkit.NewBuilder(lk.Config.Variant, elf.ET_REL, lk.Config.Machine)

	sec := b.AddSection(".data", elf.SHT_PROGBITS)
	sec.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	sec.Addralign = 8
	sec.Data = data

	prefix := "_binary_" + mangleSymbolPath(name)

	start := b.AddSymbol(prefix + "_start")
	start.SetBindingAndType(elf.STB_GLOBAL, elf.STT_OBJECT)
	start.Shndx = uint16(sec.Index)

	end := b.AddSymbol(prefix + "_end")
	end.SetBindingAndType(elf.STB_GLOBAL, elf.STT_OBJECT)
	end.Shndx = uint16(sec.Index)
	end.Value = uint64(len(data))

	size := b.AddSymbol(prefix + "_size")
	size.SetBindingAndType(elf.STB_GLOBAL, elf.STT_OBJECT)
	size.Shndx = uint16(elf.SHN_ABS)
	size.Value = uint64(len(data))

	image, err := b.Bytes()
	if err != nil {
		return nil, (&File{kind: BinaryKind, Name: name}).wrapError(err)
	}
	obj, err := NewObjectFile(name, "", image)
	if err != nil {
		return nil, err
	}
	return obj, nil
}
