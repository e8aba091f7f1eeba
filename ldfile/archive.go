// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

package ldfile // import "github.com/glink-ld/glink/ldfile"

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const (
	arMagic     = "!<arch>\n"
	arThinMagic = "!<thin>\n"
	arHdrSize   = 60
)

// ArchiveSymbol is one entry of an archive's symbol index: a defined name
// and the file offset of the member header that defines it.
type ArchiveSymbol struct {
	Name   string
	Offset uint64
}

// Member is a file extracted from an archive.
type Member struct {
	Name string
	Data []byte
}

// ArchiveFile is a static library. Only the symbol index is read up front;
// members are extracted on demand through GetMember, each at most once per
// link regardless of how many index entries point at it.
type ArchiveFile struct {
	File

	thin      bool
	longNames []byte
	symbols   []ArchiveSymbol

	mu   sync.Mutex
	seen map[uint64]struct{}
}

// IsArchive reports whether data starts with an ar magic.
func IsArchive(data []byte) bool {
	return len(data) >= len(arMagic) &&
		(string(data[:len(arMagic)]) == arMagic ||
			string(data[:len(arThinMagic)]) == arThinMagic)
}

// NewArchiveFile reads the archive's symbol index and long-name table.
func NewArchiveFile(name string, data []byte) (*ArchiveFile, error) {
	a := &ArchiveFile{
		File: File{kind: ArchiveKind, Name: name, Data: data},
		seen: map[uint64]struct{}{},
	}
	switch {
	case bytes.HasPrefix(data, []byte(arThinMagic)):
		a.thin = true
	case bytes.HasPrefix(data, []byte(arMagic)):
	default:
		return nil, a.errorf("not an archive")
	}

	// The symbol index and the long-name table are special members at the
	// front of the archive, before any object member.
	off := uint64(len(arMagic))
	for off+arHdrSize <= uint64(len(data)) {
		name, size, err := a.parseMemberHeader(off)
		if err != nil {
			return nil, err
		}
		body := off + arHdrSize
		switch name {
		case "/":
			if err := a.parseSymbolIndex(data[body : body+size]); err != nil {
				return nil, err
			}
		case "//":
			a.longNames = data[body : body+size]
		default:
			return a, nil
		}
		off = body + size
		if off%2 != 0 {
			off++
		}
	}
	return a, nil
}

// parseMemberHeader decodes the 60-byte header at off and returns the raw
// name field and the member size, validated against the archive bounds.
func (a *ArchiveFile) parseMemberHeader(off uint64) (string, uint64, error) {
	hdr := a.Data[off : off+arHdrSize]
	if string(hdr[58:60]) != "`\n" {
		return "", 0, a.errorf("invalid archive member header at offset %d", off)
	}
	size, err := strconv.ParseUint(strings.TrimRight(string(hdr[48:58]), " "), 10, 64)
	if err != nil {
		return "", 0, a.errorf("invalid archive member size at offset %d", off)
	}
	name := strings.TrimRight(string(hdr[0:16]), " ")
	// Thin archives store no member bodies except for the index and the
	// long-name table themselves.
	if a.thin && name != "/" && name != "//" {
		size = 0
	}
	if off+arHdrSize+size > uint64(len(a.Data)) {
		return "", 0, a.errorf("archive member at offset %d extends past end of file", off)
	}
	return name, size, nil
}

// parseSymbolIndex decodes the System V index: a big-endian count, count
// big-endian member offsets, then the defined names back to back.
func (a *ArchiveFile) parseSymbolIndex(data []byte) error {
	if len(data) < 4 {
		return a.errorf("truncated archive symbol index")
	}
	count := binary.BigEndian.Uint32(data)
	names := 4 + 4*uint64(count)
	if names > uint64(len(data)) {
		return a.errorf("truncated archive symbol index")
	}
	strs := data[names:]
	a.symbols = make([]ArchiveSymbol, 0, count)
	for i := uint64(0); i < uint64(count); i++ {
		end := bytes.IndexByte(strs, 0)
		if end < 0 {
			return a.errorf("unterminated name in archive symbol index")
		}
		a.symbols = append(a.symbols, ArchiveSymbol{
			Name:   string(strs[:end]),
			Offset: uint64(binary.BigEndian.Uint32(data[4+4*i:])),
		})
		strs = strs[end+1:]
	}
	return nil
}

// Empty reports whether the archive's symbol index has no entries.
func (a *ArchiveFile) Empty() bool { return len(a.symbols) == 0 }

// Parse submits every index entry to the resolver as a lazy definition.
func (a *ArchiveFile) Parse(lk *Link) error {
	for _, sym := range a.symbols {
		lk.Resolver.AddLazyArchive(sym.Name, sym, a)
	}
	return nil
}

// memberName resolves the header name field: "name/" inline, or "/off"
// pointing into the long-name table.
func (a *ArchiveFile) memberName(raw string) (string, error) {
	if strings.HasPrefix(raw, "/") && len(raw) > 1 {
		off, err := strconv.ParseUint(raw[1:], 10, 64)
		if err != nil || off >= uint64(len(a.longNames)) {
			return "", a.errorf("invalid long member name %q", raw)
		}
		rest := a.longNames[off:]
		if end := bytes.IndexByte(rest, '\n'); end >= 0 {
			rest = rest[:end]
		}
		return strings.TrimSuffix(strings.TrimRight(string(rest), " "), "/"), nil
	}
	return strings.TrimSuffix(raw, "/"), nil
}

// GetMember extracts the member a symbol index entry points at. The second
// and later requests for the same member return nil without error, so the
// caller fetches each object exactly once no matter how many of its symbols
// turn out to be needed.
func (a *ArchiveFile) GetMember(lk *Link, sym ArchiveSymbol) (*Member, error) {
	a.mu.Lock()
	_, dup := a.seen[sym.Offset]
	a.seen[sym.Offset] = struct{}{}
	a.mu.Unlock()
	if dup {
		return nil, nil
	}

	if sym.Offset+arHdrSize > uint64(len(a.Data)) {
		return nil, a.errorf("invalid symbol index offset: %d", sym.Offset)
	}
	raw, size, err := a.parseMemberHeader(sym.Offset)
	if err != nil {
		return nil, err
	}
	name, err := a.memberName(raw)
	if err != nil {
		return nil, err
	}

	if a.thin {
		// A thin archive member is a reference to a file on disk, stored
		// relative to the archive's own directory.
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(a.Name), name)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, a.wrapError(err)
		}
		if lk.Collector != nil {
			lk.Collector.Append(name, content)
		}
		return &Member{Name: name, Data: content}, nil
	}

	body := sym.Offset + arHdrSize
	return &Member{Name: name, Data: a.Data[body : body+size]}, nil
}
