// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

package ldfile // import "github.com/glink-ld/glink/ldfile"

import (
	"debug/elf"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/glink-ld/glink/elfkit"
	"github.com/glink-ld/glink/internal/log"
)

// ReadInput maps a file read-only and registers the mapping with the link
// for teardown. Mapping keeps archive member extraction copy-free; when the
// platform refuses (pipes, zero-length files) the file is read into memory
// instead.
func ReadInput(lk *Link, path string) ([]byte, error) {
	data, release, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	holder := &File{Name: path, Data: data, releaseFn: release}
	lk.register(holder)
	return data, nil
}

func mapFile(path string) ([]byte, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if st.Size() > 0 {
		data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()),
			unix.PROT_READ, unix.MAP_PRIVATE)
		if err == nil {
			return data, func() error { return unix.Munmap(data) }, nil
		}
		log.Debugf("mmap %s failed (%v), falling back to read", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return data, nil, nil
}

// sharedObject reports whether an ELF buffer has type ET_DYN.
func sharedObject(data []byte) bool {
	v, err := elfkit.Probe(data)
	if err != nil || len(data) < 18 {
		return false
	}
	return elf.Type(v.ByteOrder().Uint16(data[16:])) == elf.ET_DYN
}

// AddFile classifies and ingests one input buffer. inLib marks inputs
// between --start-lib and --end-lib, which are ingested lazily like archive
// members. Shared objects seen twice under one soname are skipped on the
// second sighting.
func AddFile(lk *Link, path string, data []byte, inLib bool) error {
	switch {
	case IsArchive(data):
		a, err := NewArchiveFile(path, data)
		if err != nil {
			return err
		}
		if a.Empty() {
			log.Debugf("%s: archive has no symbol index, ignoring", path)
			return nil
		}
		return a.Parse(lk)

	case sharedObject(data):
		if inLib {
			return fmt.Errorf("%s: shared objects cannot appear in --start-lib", path)
		}
		s, err := NewSharedFile(path, data, lk.Config.AsNeeded)
		if err != nil {
			return err
		}
		if err := s.ParseSoName(); err != nil {
			return err
		}
		if !lk.claimSoName(s.SoName) {
			log.Debugf("%s: duplicate soname %q, skipping", path, s.SoName)
			return nil
		}
		lk.adoptTarget(s.Machine, s.Variant)
		return s.ParseRest(lk)

	case inLib:
		return NewLazyObjectFile(path, "", data).Parse(lk)

	default:
		return ingestObject(lk, path, "", data)
	}
}

// AddBinaryFile ingests a raw blob as a synthesized object.
func AddBinaryFile(lk *Link, path string, data []byte) error {
	obj, err := NewBinaryFile(lk, path, data)
	if err != nil {
		return err
	}
	return obj.Parse(lk)
}

// ingestObject parses a standalone object or bitcode buffer eagerly.
func ingestObject(lk *Link, name, archiveName string, data []byte) error {
	if IsBitcode(data) {
		bc, err := NewBitcodeFile(name, archiveName, data)
		if err != nil {
			return err
		}
		lk.adoptTarget(bc.Machine, bc.Variant)
		return bc.Parse(lk)
	}
	obj, err := NewObjectFile(name, archiveName, data)
	if err != nil {
		return err
	}
	lk.adoptTarget(obj.Machine, obj.Variant)
	return obj.Parse(lk)
}

// LoadArchiveSymbol extracts and ingests the archive member defining sym.
// Requests after the first for the same member are no-ops.
func (lk *Link) LoadArchiveSymbol(sym ArchiveSymbol, a *ArchiveFile) error {
	member, err := a.GetMember(lk, sym)
	if err != nil || member == nil {
		return err
	}
	log.Debugf("extracting %s(%s) for %s", a.Name, member.Name, sym.Name)
	return ingestObject(lk, member.Name, a.Name, member.Data)
}

// LoadLazyObject ingests a lazy object's buffer. Requests after the first
// are no-ops.
func (lk *Link) LoadLazyObject(lz *LazyObjectFile) error {
	buf := lz.Buffer()
	if buf == nil {
		return nil
	}
	log.Debugf("loading lazy object %s", DisplayName(&lz.File))
	return ingestObject(lk, lz.Name, lz.ArchiveName, buf)
}
