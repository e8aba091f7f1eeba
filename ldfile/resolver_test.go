// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

package ldfile

import (
	"debug/elf"
)

// symCall records one resolver insertion for assertions.
type symCall struct {
	op       string
	name     string
	bind     elf.SymBind
	vis      elf.SymVis
	typ      elf.SymType
	value    uint64
	size     uint64
	align    uint64
	sec      Section
	file     *File
	verdef   *Verdef
	asNeeded bool
	archive  *ArchiveFile
	arSym    ArchiveSymbol
	lazy     *LazyObjectFile
}

type fakeRef string

func (r fakeRef) SymbolName() string { return string(r) }

// recorder is a Resolver that records every insertion verbatim.
type recorder struct {
	calls []symCall
}

func (r *recorder) AddUndefined(name string, bind elf.SymBind, vis elf.SymVis,
	typ elf.SymType, file *File) Ref {
	r.calls = append(r.calls, symCall{op: "undefined", name: name, bind: bind,
		vis: vis, typ: typ, file: file})
	return fakeRef(name)
}

func (r *recorder) AddCommon(name string, size, align uint64, bind elf.SymBind,
	vis elf.SymVis, file *File) Ref {
	r.calls = append(r.calls, symCall{op: "common", name: name, size: size,
		align: align, bind: bind, vis: vis, file: file})
	return fakeRef(name)
}

func (r *recorder) AddRegular(name string, bind elf.SymBind, vis elf.SymVis,
	typ elf.SymType, value, size uint64, sec Section, file *File) Ref {
	r.calls = append(r.calls, symCall{op: "regular", name: name, bind: bind,
		vis: vis, typ: typ, value: value, size: size, sec: sec, file: file})
	return fakeRef(name)
}

func (r *recorder) AddShared(name string, value, size uint64, typ elf.SymType,
	verdef *Verdef, asNeeded bool, file *File) Ref {
	r.calls = append(r.calls, symCall{op: "shared", name: name, value: value,
		size: size, typ: typ, verdef: verdef, asNeeded: asNeeded, file: file})
	return fakeRef(name)
}

func (r *recorder) AddBitcode(name string, bind elf.SymBind, vis elf.SymVis,
	typ elf.SymType, file *File) Ref {
	r.calls = append(r.calls, symCall{op: "bitcode", name: name, bind: bind,
		vis: vis, typ: typ, file: file})
	return fakeRef(name)
}

func (r *recorder) AddLazyArchive(name string, sym ArchiveSymbol, file *ArchiveFile) Ref {
	r.calls = append(r.calls, symCall{op: "lazy-archive", name: name, arSym: sym,
		archive: file})
	return fakeRef(name)
}

func (r *recorder) AddLazyObject(name string, file *LazyObjectFile) Ref {
	r.calls = append(r.calls, symCall{op: "lazy-object", name: name, lazy: file})
	return fakeRef(name)
}

// byOp returns the recorded calls with the given operation.
func (r *recorder) byOp(op string) []symCall {
	var out []symCall
	for _, c := range r.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

// find returns the single call for name, or a zero call.
func (r *recorder) find(name string) (symCall, bool) {
	for _, c := range r.calls {
		if c.name == name {
			return c, true
		}
	}
	return symCall{}, false
}
