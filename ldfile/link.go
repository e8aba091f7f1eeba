// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

// Package ldfile is the input-ingestion front end of the linker. It decodes
// relocatable objects, shared objects, archives, bitcode containers and raw
// binary blobs into a uniform section/symbol model and submits each symbol
// to the link's resolver. Parsing is demand-driven for archive members and
// lazy objects: their full decode happens only when the resolver asks for a
// definition they carry.
package ldfile // import "github.com/glink-ld/glink/ldfile"

import (
	"debug/elf"
	"fmt"
	"sync"

	"github.com/glink-ld/glink/elfkit"
	"github.com/glink-ld/glink/xsync"
)

// StripPolicy controls which sections are dropped at ingest.
type StripPolicy uint8

const (
	StripNone StripPolicy = iota
	StripDebug
	StripAll
)

// Config carries the link-wide options the ingestion front end consumes.
// It is passed explicitly inside the Link context, never read from ambient
// state.
type Config struct {
	// Optimize gates section merging; 0 disables it.
	Optimize int
	// Relocatable suppresses relocation interpretation and eh-frame
	// special casing for -r style outputs.
	Relocatable bool
	// Strip drops .debug* sections at ingest when not StripNone.
	Strip StripPolicy
	// AsNeeded is the current state of the --as-needed toggle; it is
	// latched into each shared file at open time.
	AsNeeded bool
	// Machine is the target machine for synthesized objects. Zero means
	// "adopt from the first input".
	Machine elf.Machine
	// Variant is the format variant for synthesized objects.
	Variant elfkit.Variant
}

// Ref is the canonical symbol handle the resolver returns for an insertion
// request. Later pipeline stages use it to resolve relocations.
type Ref interface {
	SymbolName() string
}

// Resolver adjudicates conflicting definitions across files. The ingestion
// front end never mutates cross-file resolution state itself; it only calls
// these insertion operations.
type Resolver interface {
	AddUndefined(name string, bind elf.SymBind, vis elf.SymVis, typ elf.SymType,
		file *File) Ref
	AddCommon(name string, size, align uint64, bind elf.SymBind, vis elf.SymVis,
		file *File) Ref
	AddRegular(name string, bind elf.SymBind, vis elf.SymVis, typ elf.SymType,
		value, size uint64, sec Section, file *File) Ref
	AddShared(name string, value, size uint64, typ elf.SymType, verdef *Verdef,
		asNeeded bool, file *File) Ref
	AddBitcode(name string, bind elf.SymBind, vis elf.SymVis, typ elf.SymType,
		file *File) Ref
	AddLazyArchive(name string, sym ArchiveSymbol, file *ArchiveFile) Ref
	AddLazyObject(name string, file *LazyObjectFile) Ref
}

// ArchiveCollector receives the content of thin-archive members as they are
// extracted, for input-reproduction packaging.
type ArchiveCollector interface {
	Append(relPath string, content []byte)
}

// Link is the shared context of one link job: the configuration, the
// resolver, the comdat-signature dedup set and the file pool. The dedup set
// is first-writer-wins and serialized, so files may be ingested from
// multiple goroutines as long as the resolver itself is safe.
type Link struct {
	Config    Config
	Resolver  Resolver
	Collector ArchiveCollector

	comdatGroups xsync.RWMutex[map[string]struct{}]

	mu      sync.Mutex
	pool    []*File
	sonames map[string]struct{}
}

// NewLink returns a fresh link context.
func NewLink(cfg Config, resolver Resolver) *Link {
	if cfg.Variant == elfkit.VariantNone {
		cfg.Variant = elfkit.ELF64LE
	}
	return &Link{
		Config:       cfg,
		Resolver:     resolver,
		comdatGroups: xsync.NewRWMutex(map[string]struct{}{}),
		sonames:      map[string]struct{}{},
	}
}

// claimSoName records a shared object's soname and reports whether it is
// new to the link. A DSO seen twice under the same soname is ingested only
// once.
func (lk *Link) claimSoName(soname string) bool {
	lk.mu.Lock()
	defer lk.mu.Unlock()
	if _, ok := lk.sonames[soname]; ok {
		return false
	}
	lk.sonames[soname] = struct{}{}
	return true
}

// adoptTarget latches the machine and variant of the first input so later
// synthesized objects match it.
func (lk *Link) adoptTarget(machine elf.Machine, v elfkit.Variant) {
	lk.mu.Lock()
	defer lk.mu.Unlock()
	if lk.Config.Machine == elf.EM_NONE && machine != elf.EM_NONE {
		lk.Config.Machine = machine
		if v != elfkit.VariantNone {
			lk.Config.Variant = v
		}
	}
}

// ClaimComdat records a comdat-group signature and reports whether the
// caller is the first file in the link to introduce it. ELF section groups
// and bitcode comdats share this namespace.
func (lk *Link) ClaimComdat(signature string) bool {
	groups := lk.comdatGroups.WLock()
	defer lk.comdatGroups.WUnlock(&groups)
	if _, ok := (*groups)[signature]; ok {
		return false
	}
	(*groups)[signature] = struct{}{}
	return true
}

// register adds a file to the teardown pool.
func (lk *Link) register(f *File) {
	lk.mu.Lock()
	lk.pool = append(lk.pool, f)
	lk.mu.Unlock()
}

// Close releases all files in reverse creation order, so that files created
// from other files (objects extracted from archives) are released before
// the file owning their backing bytes.
func (lk *Link) Close() error {
	lk.mu.Lock()
	pool := lk.pool
	lk.pool = nil
	lk.mu.Unlock()

	var firstErr error
	for i := len(pool) - 1; i >= 0; i-- {
		if err := pool[i].release(); firstErr == nil && err != nil {
			firstErr = err
		}
	}
	return firstErr
}

// FileError qualifies an error with the display name of the input it was
// detected in. All ingest errors are fatal for the link: no partial
// recovery is attempted mid-file.
type FileError struct {
	File *File
	Err  error
}

func (e *FileError) Error() string {
	return DisplayName(e.File) + ": " + e.Err.Error()
}

func (e *FileError) Unwrap() error { return e.Err }

func (f *File) errorf(format string, args ...any) error {
	return &FileError{File: f, Err: fmt.Errorf(format, args...)}
}

func (f *File) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*FileError); ok {
		return err
	}
	return &FileError{File: f, Err: err}
}
