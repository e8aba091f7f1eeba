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

func buildShared(t *testing.T, sb *testsupport.SharedBuilder) []byte {
	t.Helper()
	data, err := sb.Bytes()
	require.NoError(t, err)
	return data
}

func TestSharedSoName(t *testing.T) {
	t.Run("from DT_SONAME", func(t *testing.T) {
		data := buildShared(t, &testsupport.SharedBuilder{SoName: "libfoo.so.1"})
		s, err := NewSharedFile("/usr/lib/libfoo.so.1.2.3", data, false)
		require.NoError(t, err)
		require.NoError(t, s.ParseSoName())
		assert.Equal(t, "libfoo.so.1", s.SoName)
	})

	t.Run("defaults to filename", func(t *testing.T) {
		data := buildShared(t, &testsupport.SharedBuilder{})
		s, err := NewSharedFile("/usr/lib/libbar.so", data, false)
		require.NoError(t, err)
		require.NoError(t, s.ParseSoName())
		assert.Equal(t, "libbar.so", s.SoName)
	})
}

func TestSharedSymbols(t *testing.T) {
	sb := &testsupport.SharedBuilder{
		SoName: "libv.so.1",
		Verdefs: []testsupport.VerdefSpec{
			{Index: 2, Name: "V_1.0"},
			{Index: 3, Name: "V_2.0"},
		},
		Syms: []testsupport.DynSym{
			{Name: "plain", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC,
				Shndx: 1, Value: 0x100, Size: 8, Versym: 1},
			{Name: "versioned", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC,
				Shndx: 1, Value: 0x200, Size: 16, Versym: 2},
			{Name: "hidden_version", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC,
				Shndx: 1, Value: 0x300, Versym: 3 | 0x8000},
			{Name: "local_version", Bind: elf.STB_GLOBAL, Type: elf.STT_OBJECT,
				Shndx: 1, Value: 0x400, Versym: 0},
			{Name: "needed_func", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC,
				Shndx: 0, Versym: 1},
		},
	}
	data := buildShared(t, sb)

	s, err := NewSharedFile("libv.so.1", data, true)
	require.NoError(t, err)
	require.NoError(t, s.ParseSoName())

	lk, rec := newTestLink(Config{})
	require.NoError(t, s.ParseRest(lk))

	// Undefined dynamic symbols are the DSO's own imports.
	assert.Equal(t, []string{"needed_func"}, s.Undefs)

	shareds := rec.byOp("shared")
	require.Len(t, shareds, 2)

	plain, ok := rec.find("plain")
	require.True(t, ok)
	assert.Nil(t, plain.verdef)
	assert.Equal(t, uint64(0x100), plain.value)
	assert.Equal(t, uint64(8), plain.size)
	assert.True(t, plain.asNeeded)

	versioned, ok := rec.find("versioned")
	require.True(t, ok)
	require.NotNil(t, versioned.verdef)
	assert.Equal(t, "V_1.0", versioned.verdef.Name)
	assert.Equal(t, uint16(2), versioned.verdef.Index)

	// Hidden and local-version symbols are not externally visible.
	_, ok = rec.find("hidden_version")
	assert.False(t, ok)
	_, ok = rec.find("local_version")
	assert.False(t, ok)
}

func TestSharedVerdefTable(t *testing.T) {
	sb := &testsupport.SharedBuilder{
		SoName:  "libv.so",
		Verdefs: []testsupport.VerdefSpec{{Index: 2, Name: "REL_A"}},
		Syms: []testsupport.DynSym{
			{Name: "f", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Shndx: 1, Versym: 2},
		},
	}
	s, err := NewSharedFile("libv.so", buildShared(t, sb), false)
	require.NoError(t, err)
	require.NoError(t, s.ParseSoName())
	lk, _ := newTestLink(Config{})
	require.NoError(t, s.ParseRest(lk))

	require.GreaterOrEqual(t, len(s.Verdefs), 3)
	assert.Nil(t, s.Verdefs[0])
	require.NotNil(t, s.Verdefs[2])
	assert.Equal(t, "REL_A", s.Verdefs[2].Name)
}

func TestSharedInvalidVersionIndex(t *testing.T) {
	sb := &testsupport.SharedBuilder{
		SoName:  "libv.so",
		Verdefs: []testsupport.VerdefSpec{{Index: 2, Name: "V"}},
		Syms: []testsupport.DynSym{
			{Name: "f", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Shndx: 1, Versym: 9},
		},
	}
	s, err := NewSharedFile("libv.so", buildShared(t, sb), false)
	require.NoError(t, err)
	require.NoError(t, s.ParseSoName())
	lk, _ := newTestLink(Config{})
	assert.ErrorContains(t, s.ParseRest(lk), "invalid version index")
}

func TestSharedWithoutVersions(t *testing.T) {
	sb := &testsupport.SharedBuilder{
		SoName: "libnv.so",
		Syms: []testsupport.DynSym{
			{Name: "f", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Shndx: 1},
			{Name: "g", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Shndx: 1},
		},
	}
	s, err := NewSharedFile("libnv.so", buildShared(t, sb), false)
	require.NoError(t, err)
	require.NoError(t, s.ParseSoName())
	lk, rec := newTestLink(Config{})
	require.NoError(t, s.ParseRest(lk))

	assert.Len(t, rec.byOp("shared"), 2)
	f, _ := rec.find("f")
	assert.Nil(t, f.verdef)
}

func TestSharedVariants(t *testing.T) {
	for _, v := range []elfkit.Variant{elfkit.ELF32LE, elfkit.ELF32BE,
		elfkit.ELF64LE, elfkit.ELF64BE} {
		t.Run(v.String(), func(t *testing.T) {
			sb := &testsupport.SharedBuilder{
				Variant: v,
				SoName:  "libx.so.9",
				Syms: []testsupport.DynSym{
					{Name: "sym", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC,
						Shndx: 1, Value: 0x42, Size: 7},
				},
			}
			s, err := NewSharedFile("libx.so.9.0", buildShared(t, sb), false)
			require.NoError(t, err)
			require.NoError(t, s.ParseSoName())
			assert.Equal(t, "libx.so.9", s.SoName)

			lk, rec := newTestLink(Config{})
			require.NoError(t, s.ParseRest(lk))
			c, ok := rec.find("sym")
			require.True(t, ok)
			assert.Equal(t, uint64(0x42), c.value)
			assert.Equal(t, uint64(7), c.size)
		})
	}
}
