// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

// Package elfkit implements decoding of ELF images independently of
// debug/elf's reader. The decoder is parameterized over the four on-disk
// layouts (32/64 bit, little/big endian), borrows the caller's byte buffer,
// and bounds-checks every table access instead of trusting file-declared
// sizes. A small writer for synthesizing relocatable objects is also
// provided.
//
// The Executable and Linking Format (ELF) specification is available at:
//
//	https://refspecs.linuxfoundation.org/elf/elf.pdf
package elfkit // import "github.com/glink-ld/glink/elfkit"

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotELF is returned by Probe when the buffer does not carry the ELF magic.
var ErrNotELF = errors.New("not an ELF file")

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// Variant selects one of the four recognized on-disk ELF layouts. It is
// probed once per file and determines the integer widths and byte order used
// for every structure read afterwards.
type Variant uint8

const (
	VariantNone Variant = iota
	ELF32LE
	ELF32BE
	ELF64LE
	ELF64BE
)

// Is64 reports whether the variant uses 64-bit file structures.
func (v Variant) Is64() bool {
	return v == ELF64LE || v == ELF64BE
}

// ByteOrder returns the byte order used by the variant.
func (v Variant) ByteOrder() binary.ByteOrder {
	if v == ELF32BE || v == ELF64BE {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (v Variant) String() string {
	switch v {
	case ELF32LE:
		return "elf32-le"
	case ELF32BE:
		return "elf32-be"
	case ELF64LE:
		return "elf64-le"
	case ELF64BE:
		return "elf64-be"
	default:
		return "none"
	}
}

// Probe inspects the ident bytes of data and returns the format variant.
// Buffers without the ELF magic yield ErrNotELF so that callers can fall
// back to bitcode or raw-binary handling. A recognized magic with a class or
// data-encoding byte outside the two valid values for each field is a format
// error: parsing must not continue speculatively.
func Probe(data []byte) (Variant, error) {
	if len(data) < elf.EI_NIDENT || !bytes.Equal(data[:4], elfMagic) {
		return VariantNone, ErrNotELF
	}

	var is64 bool
	switch elf.Class(data[elf.EI_CLASS]) {
	case elf.ELFCLASS32:
		is64 = false
	case elf.ELFCLASS64:
		is64 = true
	default:
		return VariantNone, fmt.Errorf("invalid file class: %#x", data[elf.EI_CLASS])
	}

	var be bool
	switch elf.Data(data[elf.EI_DATA]) {
	case elf.ELFDATA2LSB:
		be = false
	case elf.ELFDATA2MSB:
		be = true
	default:
		return VariantNone, fmt.Errorf("invalid data encoding: %#x", data[elf.EI_DATA])
	}

	switch {
	case is64 && be:
		return ELF64BE, nil
	case is64:
		return ELF64LE, nil
	case be:
		return ELF32BE, nil
	default:
		return ELF32LE, nil
	}
}

// GetString extracts a NUL-terminated string from an ELF string table. The
// second return value is false if start is outside the table or the string
// is not terminated within it.
func GetString(table []byte, start uint32) (string, bool) {
	if int64(start) >= int64(len(table)) {
		return "", false
	}
	slen := bytes.IndexByte(table[start:], 0)
	if slen < 0 {
		return "", false
	}
	return string(table[start : int(start)+slen]), true
}
