// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

package ldfile

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glink-ld/glink/elfkit"
	"github.com/glink-ld/glink/testsupport"
)

func TestIsBitcode(t *testing.T) {
	assert.True(t, IsBitcode([]byte{'B', 'C', 0xC0, 0xDE, 0}))
	// Wrapper header stores the magic as a little endian word.
	assert.True(t, IsBitcode([]byte{0xDE, 0xC0, 0x17, 0x0B, 0, 0, 0, 0}))
	assert.False(t, IsBitcode([]byte{'B', 'C', 0xC0}))
	assert.False(t, IsBitcode([]byte("!<arch>\n")))
}

func TestBitcodeSymbols(t *testing.T) {
	data := testsupport.Bitcode(elfkit.ELF64LE,
		testsupport.BitcodeSym{Name: "strong_def"},
		testsupport.BitcodeSym{Name: "weak_def", Weak: true},
		testsupport.BitcodeSym{Name: "hidden_def", Vis: 1},
		testsupport.BitcodeSym{Name: "tls_var", TLS: true},
		testsupport.BitcodeSym{Name: "extern_ref", Undef: true},
		testsupport.BitcodeSym{Name: "tentative", Common: true, Size: 64, Align: 16},
	)

	bc, err := NewBitcodeFile("mod.bc", "", data)
	require.NoError(t, err)
	assert.Equal(t, elfkit.ELF64LE, bc.Variant)

	lk, rec := newTestLink(Config{Optimize: 1})
	require.NoError(t, bc.Parse(lk))

	c, ok := rec.find("strong_def")
	require.True(t, ok)
	assert.Equal(t, "bitcode", c.op)
	assert.Equal(t, elf.STB_GLOBAL, c.bind)
	assert.Equal(t, elf.STV_DEFAULT, c.vis)
	assert.Equal(t, elf.STT_NOTYPE, c.typ)

	c, _ = rec.find("weak_def")
	assert.Equal(t, elf.STB_WEAK, c.bind)

	c, _ = rec.find("hidden_def")
	assert.Equal(t, elf.STV_HIDDEN, c.vis)

	c, _ = rec.find("tls_var")
	assert.Equal(t, elf.STT_TLS, c.typ)

	c, _ = rec.find("extern_ref")
	assert.Equal(t, "undefined", c.op)

	c, _ = rec.find("tentative")
	assert.Equal(t, "common", c.op)
	assert.Equal(t, uint64(64), c.size)
	assert.Equal(t, uint64(16), c.align)
}

func TestBitcodeComdats(t *testing.T) {
	build := func() []byte {
		return testsupport.Bitcode(elfkit.ELF64LE,
			testsupport.BitcodeSym{Name: "inline_fn", Weak: true, Comdat: "inline_fn"},
			testsupport.BitcodeSym{Name: "plain"},
		)
	}

	lk, rec := newTestLink(Config{Optimize: 1})

	first, err := NewBitcodeFile("a.bc", "", build())
	require.NoError(t, err)
	require.NoError(t, first.Parse(lk))
	second, err := NewBitcodeFile("b.bc", "", build())
	require.NoError(t, err)
	require.NoError(t, second.Parse(lk))

	assert.True(t, first.KeptComdats["inline_fn"])
	assert.False(t, second.KeptComdats["inline_fn"])

	// First sighting defines; the loser degrades to undefined.
	bitcodes := rec.byOp("bitcode")
	names := make([]string, len(bitcodes))
	for i, c := range bitcodes {
		names[i] = c.name
	}
	assert.Equal(t, []string{"inline_fn", "plain", "plain"}, names)

	undefs := rec.byOp("undefined")
	require.Len(t, undefs, 1)
	assert.Equal(t, "inline_fn", undefs[0].name)
}

func TestBitcodeComdatSharedWithElfGroups(t *testing.T) {
	lk, rec := newTestLink(Config{Optimize: 1})
	require.True(t, lk.ClaimComdat("inline_fn"))

	bc, err := NewBitcodeFile("c.bc", "", testsupport.Bitcode(elfkit.ELF64LE,
		testsupport.BitcodeSym{Name: "inline_fn", Weak: true, Comdat: "inline_fn"},
	))
	require.NoError(t, err)
	require.NoError(t, bc.Parse(lk))

	assert.False(t, bc.KeptComdats["inline_fn"])
	assert.Len(t, rec.byOp("undefined"), 1)
}

func TestBitcodeWithoutSymbolTable(t *testing.T) {
	_, err := NewBitcodeFile("raw.bc", "", []byte{'B', 'C', 0xC0, 0xDE, 1, 2, 3, 4})
	assert.ErrorContains(t, err, "carries no symbol table")
}

func TestBitcodeTruncatedTable(t *testing.T) {
	data := testsupport.Bitcode(elfkit.ELF64LE,
		testsupport.BitcodeSym{Name: "f"},
	)
	// Chop one byte out of the middle, keeping the footer intact.
	mangled := append([]byte{}, data[:len(data)-13]...)
	mangled = append(mangled, data[len(data)-12:]...)
	_, err := NewBitcodeFile("t.bc", "", mangled)
	assert.Error(t, err)
}
