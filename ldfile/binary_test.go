// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

package ldfile

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glink-ld/glink/elfkit"
)

func TestMangleSymbolPath(t *testing.T) {
	assert.Equal(t, "assets_logo_png", mangleSymbolPath("assets/logo.png"))
	assert.Equal(t, "blob_1_bin", mangleSymbolPath("blob-1.bin"))
	assert.Equal(t, "plain", mangleSymbolPath("plain"))
}

func TestBinaryFileSynthesis(t *testing.T) {
	blob := []byte("raw payload bytes")
	lk, rec := newTestLink(Config{
		Optimize: 1,
		Machine:  elf.EM_X86_64,
		Variant:  elfkit.ELF64LE,
	})

	obj, err := NewBinaryFile(lk, "assets/logo.png", blob)
	require.NoError(t, err)
	require.NoError(t, obj.Parse(lk))

	// Exactly one .data section of blob length plus the three markers.
	var data *InputSection
	for _, sec := range obj.Sections {
		if is, ok := sec.(*InputSection); ok && is.Name == ".data" {
			data = is
		}
	}
	require.NotNil(t, data)
	content, err := data.Data()
	require.NoError(t, err)
	assert.Equal(t, blob, content)

	require.Len(t, rec.byOp("regular"), 3)

	start, ok := rec.find("_binary_assets_logo_png_start")
	require.True(t, ok)
	assert.Equal(t, uint64(0), start.value)
	assert.Equal(t, elf.STB_GLOBAL, start.bind)
	assert.Equal(t, elf.STT_OBJECT, start.typ)
	assert.Same(t, data, start.sec)

	end, ok := rec.find("_binary_assets_logo_png_end")
	require.True(t, ok)
	assert.Equal(t, uint64(len(blob)), end.value)
	assert.Same(t, data, end.sec)

	// The size marker is absolute: it names no section.
	size, ok := rec.find("_binary_assets_logo_png_size")
	require.True(t, ok)
	assert.Equal(t, uint64(len(blob)), size.value)
	assert.Nil(t, size.sec)
}

func TestBinaryFileRoundTripLengths(t *testing.T) {
	for _, n := range []int{0, 1, 7, 4096} {
		lk, rec := newTestLink(Config{
			Optimize: 1,
			Machine:  elf.EM_AARCH64,
			Variant:  elfkit.ELF64LE,
		})
		blob := make([]byte, n)
		for i := range blob {
			blob[i] = byte(i)
		}
		obj, err := NewBinaryFile(lk, "blob", blob)
		require.NoError(t, err)
		require.NoError(t, obj.Parse(lk))

		size, ok := rec.find("_binary_blob_size")
		require.True(t, ok, "n=%d", n)
		assert.Equal(t, uint64(n), size.value, "n=%d", n)
	}
}
