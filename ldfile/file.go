// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

package ldfile // import "github.com/glink-ld/glink/ldfile"

import (
	"debug/elf"

	"github.com/glink-ld/glink/elfkit"
)

// Kind tags the closed set of input file variants.
type Kind uint8

const (
	ObjectKind Kind = iota
	SharedKind
	ArchiveKind
	BitcodeKind
	LazyObjectKind
	BinaryKind
)

func (k Kind) String() string {
	switch k {
	case ObjectKind:
		return "object"
	case SharedKind:
		return "shared"
	case ArchiveKind:
		return "archive"
	case BitcodeKind:
		return "bitcode"
	case LazyObjectKind:
		return "lazy-object"
	case BinaryKind:
		return "binary"
	default:
		return "unknown"
	}
}

// File is the base of every input: it owns the raw backing buffer for its
// lifetime and carries the identity used in diagnostics. Concrete input
// types embed it.
type File struct {
	kind Kind

	// Name is the path the input was discovered under; for archive
	// members it is the member name and ArchiveName the enclosing
	// archive.
	Name        string
	ArchiveName string

	// Data is the immutable backing buffer. An archive member's Data
	// aliases the archive's buffer; no copy is made at extraction.
	Data []byte

	Variant elfkit.Variant
	Machine elf.Machine

	releaseFn func() error
}

// Kind returns the input's kind tag.
func (f *File) Kind() Kind { return f.kind }

// DisplayName returns the diagnostic name of the file, qualified as
// "archive(member)" for archive members.
func (f *File) DisplayName() string { return DisplayName(f) }

func (f *File) release() error {
	if f.releaseFn == nil {
		return nil
	}
	fn := f.releaseFn
	f.releaseFn = nil
	return fn()
}

// DisplayName returns "(internal)", "foo.a(bar.o)" or "baz.o".
func DisplayName(f *File) string {
	if f == nil {
		return "(internal)"
	}
	if f.ArchiveName != "" {
		return f.ArchiveName + "(" + f.Name + ")"
	}
	return f.Name
}
