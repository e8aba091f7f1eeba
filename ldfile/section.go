// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

package ldfile // import "github.com/glink-ld/glink/ldfile"

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"

	"github.com/glink-ld/glink/elfkit"
)

// Section is the closed set of linkable section variants. Concrete types
// are *InputSection, *MergeSection, *EhFrameSection and *ArchSection; the
// Discarded sentinel marks sections removed from the link. Use sites match
// exhaustively on these.
type Section interface {
	isSection()
}

type discardedSection struct{}

func (*discardedSection) isSection() {}

// Discarded is the terminal state of a section excluded from the link, by
// comdat deduplication or by classification. A discarded section is never
// reconsidered and contributes no symbols or bytes downstream.
var Discarded Section = &discardedSection{}

// InputSection is an ordinary content section of an object file. Relocation
// sections targeting it are attached here instead of becoming independent
// sections.
type InputSection struct {
	File   *ObjectFile
	Name   string
	Hdr    *elfkit.SectionHeader
	Relocs []*elfkit.SectionHeader
}

func (*InputSection) isSection() {}

// Data returns the section's content. SHF_COMPRESSED payloads are
// transparently decompressed (zlib and zstd compression headers are
// supported).
func (s *InputSection) Data() ([]byte, error) {
	raw, err := s.File.ef.SectionData(s.Hdr)
	if err != nil {
		return nil, s.File.wrapError(err)
	}
	if s.Hdr.Flags&uint64(elf.SHF_COMPRESSED) == 0 {
		return raw, nil
	}
	out, err := decompress(s.File.Variant, raw)
	if err != nil {
		return nil, s.File.errorf("section %q: %v", s.Name, err)
	}
	return out, nil
}

// decompress strips the ELF compression header and inflates the payload.
func decompress(v elfkit.Variant, raw []byte) ([]byte, error) {
	bo := v.ByteOrder()
	var chType uint32
	var size uint64
	var payload []byte
	if v.Is64() {
		if len(raw) < 24 {
			return nil, fmt.Errorf("truncated compression header: %d bytes", len(raw))
		}
		chType = bo.Uint32(raw[0:])
		size = bo.Uint64(raw[8:])
		payload = raw[24:]
	} else {
		if len(raw) < 12 {
			return nil, fmt.Errorf("truncated compression header: %d bytes", len(raw))
		}
		chType = bo.Uint32(raw[0:])
		size = uint64(bo.Uint32(raw[4:]))
		payload = raw[12:]
	}

	var out []byte
	switch elf.CompressionType(chType) {
	case elf.COMPRESS_ZLIB:
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("bad zlib stream: %w", err)
		}
		defer zr.Close()
		out, err = io.ReadAll(io.LimitReader(zr, int64(size)))
		if err != nil {
			return nil, fmt.Errorf("bad zlib stream: %w", err)
		}
	case elf.COMPRESS_ZSTD:
		zr, err := zstd.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("bad zstd stream: %w", err)
		}
		defer zr.Close()
		out, err = io.ReadAll(io.LimitReader(zr, int64(size)))
		if err != nil {
			return nil, fmt.Errorf("bad zstd stream: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported compression type %d", chType)
	}
	if uint64(len(out)) != size {
		return nil, fmt.Errorf("decompressed size %d does not match header size %d",
			len(out), size)
	}
	return out, nil
}

// Piece is one unit of a mergeable section's content, hashed for
// content-based deduplication downstream.
type Piece struct {
	Off  uint64
	Size uint64
	Hash uint64
}

// MergeSection is a section eligible for content-based merging. Its content
// is split into pieces at ingest; the output-side dedup happens in a later
// pass.
type MergeSection struct {
	InputSection
	Pieces []Piece
}

// EhFrameSection wraps an exception-handling frame table. Per-input frame
// tables are merged by a later pass; at most one relocation section may
// target it.
type EhFrameSection struct {
	InputSection
	Reloc *elfkit.SectionHeader
}

// ArchKind distinguishes the captured architecture-metadata sections.
type ArchKind uint8

const (
	ArchMipsReginfo ArchKind = iota
	ArchMipsOptions
	ArchMipsAbiFlags
)

// ArchSection captures architecture-metadata content that is consumed by
// the target backend rather than linked as ordinary section bytes.
type ArchSection struct {
	InputSection
	ArchKind ArchKind
}

// splitPieces cuts a mergeable section's content into pieces: fixed-size
// records, or NUL-terminated strings when the section is string-flagged.
func splitPieces(data []byte, entSize uint64, strings bool) ([]Piece, error) {
	var pieces []Piece
	if !strings {
		for off := uint64(0); off < uint64(len(data)); off += entSize {
			piece := data[off : off+entSize]
			pieces = append(pieces, Piece{Off: off, Size: entSize, Hash: xxh3.Hash(piece)})
		}
		return pieces, nil
	}

	// String sections hold entSize-wide characters; an entry ends at the
	// first all-zero character.
	for off := uint64(0); off < uint64(len(data)); {
		end := off
		for {
			if end+entSize > uint64(len(data)) {
				return nil, fmt.Errorf("string is not null terminated")
			}
			if isZero(data[end : end+entSize]) {
				break
			}
			end += entSize
		}
		size := end + entSize - off
		pieces = append(pieces, Piece{Off: off, Size: size, Hash: xxh3.Hash(data[off : off+size])})
		off += size
	}
	return pieces, nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
