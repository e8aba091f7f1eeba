// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

package ldfile

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glink-ld/glink/elfkit"
	"github.com/glink-ld/glink/testsupport"
)

func zlibCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func zstdCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	zw, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	return zw.EncodeAll(data, nil)
}

// compressedSection prefixes payload with an ELF compression header.
func compressedSection(v elfkit.Variant, chType uint32, size uint64, payload []byte) []byte {
	bo := v.ByteOrder()
	if v.Is64() {
		out := make([]byte, 24)
		bo.PutUint32(out, chType)
		bo.PutUint64(out[8:], size)
		return append(out, payload...)
	}
	out := make([]byte, 12)
	bo.PutUint32(out, chType)
	bo.PutUint32(out[4:], uint32(size))
	return append(out, payload...)
}

func TestDecompress(t *testing.T) {
	original := bytes.Repeat([]byte("debug line data "), 64)

	for _, v := range []elfkit.Variant{elfkit.ELF32LE, elfkit.ELF64LE, elfkit.ELF64BE} {
		t.Run(v.String(), func(t *testing.T) {
			zlibRaw := compressedSection(v, uint32(elf.COMPRESS_ZLIB),
				uint64(len(original)), zlibCompress(t, original))
			out, err := decompress(v, zlibRaw)
			require.NoError(t, err)
			assert.Equal(t, original, out)

			zstdRaw := compressedSection(v, uint32(elf.COMPRESS_ZSTD),
				uint64(len(original)), zstdCompress(t, original))
			out, err = decompress(v, zstdRaw)
			require.NoError(t, err)
			assert.Equal(t, original, out)
		})
	}

	t.Run("unsupported type", func(t *testing.T) {
		raw := compressedSection(elfkit.ELF64LE, 42, 4, []byte{0, 0, 0, 0})
		_, err := decompress(elfkit.ELF64LE, raw)
		assert.ErrorContains(t, err, "unsupported compression type")
	})

	t.Run("size mismatch", func(t *testing.T) {
		raw := compressedSection(elfkit.ELF64LE, uint32(elf.COMPRESS_ZLIB),
			uint64(len(original)+1), zlibCompress(t, original))
		_, err := decompress(elfkit.ELF64LE, raw)
		assert.ErrorContains(t, err, "does not match header size")
	})

	t.Run("truncated header", func(t *testing.T) {
		_, err := decompress(elfkit.ELF64LE, make([]byte, 10))
		assert.ErrorContains(t, err, "truncated compression header")
	})
}

func TestCompressedSectionData(t *testing.T) {
	original := bytes.Repeat([]byte("abbrev"), 100)
	raw := compressedSection(elfkit.ELF64LE, uint32(elf.COMPRESS_ZLIB),
		uint64(len(original)), zlibCompress(t, original))

	b := testsupport.NewObject(elfkit.ELF64LE)
	sec := b.Progbits(".debug_abbrev", uint64(elf.SHF_COMPRESSED), raw)
	sec.Addralign = 8

	lk, _ := newTestLink(Config{Optimize: 1})
	o := parseObject(t, lk, b)

	is, ok := sectionByName(t, o, ".debug_abbrev").(*InputSection)
	require.True(t, ok)
	data, err := is.Data()
	require.NoError(t, err)
	assert.Equal(t, original, data)
}

func TestSplitPieces(t *testing.T) {
	t.Run("fixed size records", func(t *testing.T) {
		data := []byte{1, 2, 3, 4, 1, 2, 3, 4, 9, 9, 9, 9}
		pieces, err := splitPieces(data, 4, false)
		require.NoError(t, err)
		require.Len(t, pieces, 3)
		assert.Equal(t, uint64(4), pieces[1].Off)
		// Identical records hash identically for downstream dedup.
		assert.Equal(t, pieces[0].Hash, pieces[1].Hash)
		assert.NotEqual(t, pieces[0].Hash, pieces[2].Hash)
	})

	t.Run("strings", func(t *testing.T) {
		pieces, err := splitPieces([]byte("ab\x00c\x00\x00"), 1, true)
		require.NoError(t, err)
		require.Len(t, pieces, 3)
		assert.Equal(t, uint64(0), pieces[0].Off)
		assert.Equal(t, uint64(3), pieces[0].Size)
		assert.Equal(t, uint64(3), pieces[1].Off)
		assert.Equal(t, uint64(2), pieces[1].Size)
		assert.Equal(t, uint64(5), pieces[2].Off)
		assert.Equal(t, uint64(1), pieces[2].Size)
	})

	t.Run("wide strings", func(t *testing.T) {
		// Two UTF-16 style entries: "a" and "".
		data := []byte{'a', 0, 0, 0, 0, 0}
		pieces, err := splitPieces(data, 2, true)
		require.NoError(t, err)
		require.Len(t, pieces, 2)
		assert.Equal(t, uint64(4), pieces[0].Size)
		assert.Equal(t, uint64(2), pieces[1].Size)
	})

	t.Run("unterminated string", func(t *testing.T) {
		_, err := splitPieces([]byte("abc"), 1, true)
		assert.ErrorContains(t, err, "string is not null terminated")
	})

	t.Run("empty", func(t *testing.T) {
		pieces, err := splitPieces(nil, 4, false)
		require.NoError(t, err)
		assert.Empty(t, pieces)
	})
}
