// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

// Package symtab provides the symbol table the driver links against: a
// serialized resolver that adjudicates definitions by strength and
// materializes archive members and lazy objects on demand.
package symtab // import "github.com/glink-ld/glink/symtab"

import (
	"debug/elf"
	"fmt"
	"sync"

	"github.com/glink-ld/glink/internal/log"
	"github.com/glink-ld/glink/ldfile"
)

// state orders symbol entries by strength. Higher states displace lower
// ones; ties consult the binding.
type state uint8

const (
	stateUndefined state = iota
	stateLazy
	stateShared
	stateCommon
	stateDefined
)

func (s state) String() string {
	switch s {
	case stateUndefined:
		return "undefined"
	case stateLazy:
		return "lazy"
	case stateShared:
		return "shared"
	case stateCommon:
		return "common"
	case stateDefined:
		return "defined"
	default:
		return "unknown"
	}
}

// Symbol is one named entry. Its fields reflect the strongest insertion
// seen so far and may change until ingestion finishes; the pointer itself
// is stable and is what Resolver calls return as the canonical handle.
type Symbol struct {
	Name string

	state state
	Bind  elf.SymBind
	Vis   elf.SymVis
	Type  elf.SymType
	File  *ldfile.File

	// Defined and shared symbols.
	Value   uint64
	Size    uint64
	Section ldfile.Section
	Verdef  *ldfile.Verdef

	// Common symbols.
	CommonAlign uint64

	// Lazy symbols.
	lazyArchive *ldfile.ArchiveFile
	lazySym     ldfile.ArchiveSymbol
	lazyObject  *ldfile.LazyObjectFile
}

// SymbolName returns the entry's name.
func (s *Symbol) SymbolName() string { return s.Name }

// IsUndefined reports whether no definition of any strength arrived.
func (s *Symbol) IsUndefined() bool { return s.state == stateUndefined }

// IsLazy reports whether the entry is an unfetched archive or lazy-object
// definition.
func (s *Symbol) IsLazy() bool { return s.state == stateLazy }

// IsShared reports whether the winning definition came from a DSO.
func (s *Symbol) IsShared() bool { return s.state == stateShared }

// IsCommon reports whether the entry is a tentative common definition.
func (s *Symbol) IsCommon() bool { return s.state == stateCommon }

// IsDefined reports whether a regular or bitcode definition won.
func (s *Symbol) IsDefined() bool { return s.state == stateDefined }

// Table implements ldfile.Resolver. All insertion operations serialize on
// one mutex; extraction of lazy inputs is deferred until the mutex is
// released so re-entrant insertions from the extracted file cannot
// deadlock.
type Table struct {
	mu      sync.Mutex
	lk      *ldfile.Link
	symbols map[string]*Symbol
	order   []*Symbol

	pending []func(*ldfile.Link) error
	drain   bool

	err error
}

// New returns an empty table. Bind must be called before ingestion starts.
func New() *Table {
	return &Table{symbols: map[string]*Symbol{}}
}

// Bind attaches the link context used to materialize lazy inputs.
func (t *Table) Bind(lk *ldfile.Link) { t.lk = lk }

// Err returns the first error raised by a deferred extraction.
func (t *Table) Err() error { return t.err }

// Len returns the number of distinct names seen.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.symbols)
}

// Lookup returns the entry for name, or nil.
func (t *Table) Lookup(name string) *Symbol {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.symbols[name]
}

// Undefined returns the entries that remained undefined with a non-weak
// binding, in first-seen order. Callers report them after ingestion.
func (t *Table) Undefined() []*Symbol {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Symbol
	for _, s := range t.order {
		if s.state == stateUndefined && s.Bind != elf.STB_WEAK {
			out = append(out, s)
		}
	}
	return out
}

// Symbols returns all entries in first-seen order.
func (t *Table) Symbols() []*Symbol {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Symbol(nil), t.order...)
}

func (t *Table) insert(name string) *Symbol {
	s, ok := t.symbols[name]
	if !ok {
		s = &Symbol{Name: name, Bind: elf.STB_WEAK}
		t.symbols[name] = s
		t.order = append(t.order, s)
	}
	return s
}

// runPending drains the deferred extraction queue. Only the outermost
// insertion drains; extractions triggered while draining are appended to
// the same queue and picked up by the loop.
func (t *Table) runPending() {
	t.mu.Lock()
	if t.drain {
		t.mu.Unlock()
		return
	}
	t.drain = true
	for len(t.pending) > 0 {
		job := t.pending[0]
		t.pending = t.pending[1:]
		t.mu.Unlock()
		if err := job(t.lk); err != nil {
			t.mu.Lock()
			if t.err == nil {
				t.err = err
			}
			t.mu.Unlock()
		}
		t.mu.Lock()
	}
	t.drain = false
	t.mu.Unlock()
}

// fetch queues the extraction backing a lazy entry and downgrades the entry
// to undefined until the extracted file redefines it.
func (t *Table) fetch(s *Symbol, bind elf.SymBind) {
	archive, sym, object := s.lazyArchive, s.lazySym, s.lazyObject
	s.state = stateUndefined
	s.Bind = bind
	s.lazyArchive = nil
	s.lazyObject = nil
	if archive != nil {
		t.pending = append(t.pending, func(lk *ldfile.Link) error {
			return lk.LoadArchiveSymbol(sym, archive)
		})
	} else if object != nil {
		t.pending = append(t.pending, func(lk *ldfile.Link) error {
			return lk.LoadLazyObject(object)
		})
	}
}

// AddUndefined records a reference. A non-weak reference to a lazy entry
// triggers its extraction.
func (t *Table) AddUndefined(name string, bind elf.SymBind, vis elf.SymVis,
	typ elf.SymType, file *ldfile.File) ldfile.Ref {
	t.mu.Lock()
	s := t.insert(name)
	switch s.state {
	case stateUndefined:
		if bind != elf.STB_WEAK {
			s.Bind = bind
		}
		if s.File == nil {
			s.File = file
			s.Vis = vis
			s.Type = typ
		}
	case stateLazy:
		if bind != elf.STB_WEAK {
			t.fetch(s, bind)
		}
	}
	t.mu.Unlock()
	t.runPending()
	return s
}

// AddCommon records a tentative definition. Among commons the larger size
// wins; alignment is the maximum seen.
func (t *Table) AddCommon(name string, size, align uint64, bind elf.SymBind,
	vis elf.SymVis, file *ldfile.File) ldfile.Ref {
	t.mu.Lock()
	s := t.insert(name)
	switch {
	case s.state < stateCommon:
		s.state = stateCommon
		s.Bind = bind
		s.Vis = vis
		s.Type = elf.STT_OBJECT
		s.File = file
		s.Value = 0
		s.Size = size
		s.Section = nil
		s.Verdef = nil
		s.CommonAlign = align
	case s.state == stateCommon:
		if size > s.Size {
			s.Size = size
			s.File = file
		}
		if align > s.CommonAlign {
			s.CommonAlign = align
		}
	}
	t.mu.Unlock()
	return s
}

func (t *Table) define(s *Symbol, bind elf.SymBind, vis elf.SymVis,
	typ elf.SymType, value, size uint64, sec ldfile.Section, file *ldfile.File) {
	s.state = stateDefined
	s.Bind = bind
	s.Vis = vis
	s.Type = typ
	s.File = file
	s.Value = value
	s.Size = size
	s.Section = sec
	s.Verdef = nil
	s.CommonAlign = 0
}

// AddRegular records a definition backed by a section. The first non-weak
// definition wins; later non-weak duplicates are reported and ignored.
func (t *Table) AddRegular(name string, bind elf.SymBind, vis elf.SymVis,
	typ elf.SymType, value, size uint64, sec ldfile.Section,
	file *ldfile.File) ldfile.Ref {
	t.mu.Lock()
	s := t.insert(name)
	switch {
	case s.state < stateDefined:
		t.define(s, bind, vis, typ, value, size, sec, file)
	case s.Bind == elf.STB_WEAK && bind != elf.STB_WEAK:
		t.define(s, bind, vis, typ, value, size, sec, file)
	case s.Bind != elf.STB_WEAK && bind != elf.STB_WEAK:
		prev := ldfile.DisplayName(s.File)
		t.mu.Unlock()
		log.Warnf("duplicate symbol %q in %s, first defined in %s",
			name, ldfile.DisplayName(file), prev)
		return s
	}
	t.mu.Unlock()
	return s
}

// AddShared records a definition exported by a DSO.
func (t *Table) AddShared(name string, value, size uint64, typ elf.SymType,
	verdef *ldfile.Verdef, asNeeded bool, file *ldfile.File) ldfile.Ref {
	t.mu.Lock()
	s := t.insert(name)
	if s.state < stateShared {
		s.state = stateShared
		s.Bind = elf.STB_GLOBAL
		s.Vis = elf.STV_DEFAULT
		s.Type = typ
		s.File = file
		s.Value = value
		s.Size = size
		s.Section = nil
		s.Verdef = verdef
	}
	t.mu.Unlock()
	return s
}

// AddBitcode records a definition carried by a bitcode file.
func (t *Table) AddBitcode(name string, bind elf.SymBind, vis elf.SymVis,
	typ elf.SymType, file *ldfile.File) ldfile.Ref {
	return t.AddRegular(name, bind, vis, typ, 0, 0, nil, file)
}

// AddLazyArchive records an unfetched archive definition. A pending
// non-weak reference extracts the member immediately.
func (t *Table) AddLazyArchive(name string, sym ldfile.ArchiveSymbol,
	file *ldfile.ArchiveFile) ldfile.Ref {
	t.mu.Lock()
	s := t.insert(name)
	if s.state == stateUndefined {
		if s.Bind != elf.STB_WEAK && s.File != nil {
			s.lazyArchive = file
			s.lazySym = sym
			t.fetch(s, s.Bind)
		} else {
			s.state = stateLazy
			s.lazyArchive = file
			s.lazySym = sym
		}
	}
	t.mu.Unlock()
	t.runPending()
	return s
}

// AddLazyObject records an unfetched lazy-object definition.
func (t *Table) AddLazyObject(name string, file *ldfile.LazyObjectFile) ldfile.Ref {
	t.mu.Lock()
	s := t.insert(name)
	if s.state == stateUndefined {
		if s.Bind != elf.STB_WEAK && s.File != nil {
			s.lazyObject = file
			t.fetch(s, s.Bind)
		} else {
			s.state = stateLazy
			s.lazyObject = file
		}
	}
	t.mu.Unlock()
	t.runPending()
	return s
}

// ReportUndefined returns an error naming each non-weak reference that
// never found a definition, or nil.
func (t *Table) ReportUndefined() error {
	var firstErr error
	for _, s := range t.Undefined() {
		err := fmt.Errorf("undefined symbol: %s, referenced by %s",
			s.DisplayName(), ldfile.DisplayName(s.File))
		log.Errorf("%v", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
