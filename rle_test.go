/* SPDX-License-Identifier: Apache-2.0
 *
 * Copyright 2023 Damian Peckett <damian@peckett>.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package hfa

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackCountWidths(t *testing.T) {
	// Boundaries ported straight from HFACompress::makeCount: the top two
	// bits of the first byte select 1/2/3/4 bytes at 0x40/0x4000/0x400000.
	cases := []struct {
		count uint32
		want  []byte
	}{
		{0, []byte{0x00}},
		{0x3f, []byte{0x3f}},
		{0x40, []byte{0x40, 0x40}},
		{4096, []byte{0x50, 0x00}},
		{0x3fff, []byte{0x7f, 0xff}},
		{0x4000, []byte{0x80, 0x40, 0x00}},
	}
	for _, c := range cases {
		got := packCount(c.count, nil)
		assert.Equal(t, c.want, got, "count %d", c.count)

		v, width := unpackCount(got)
		assert.Equal(t, c.count, v)
		assert.Equal(t, len(c.want), width)
	}
}

func TestRLEEncodeUniformBlock(t *testing.T) {
	data := make([]byte, 64*64)
	for i := range data {
		data[i] = 42
	}

	out, ok := rleEncode(data, 8)
	require.True(t, ok)

	min := binary.LittleEndian.Uint32(out[0:4])
	numRuns := int32(binary.LittleEndian.Uint32(out[4:8]))
	dataOffset := binary.LittleEndian.Uint32(out[8:12])
	numBits := out[12]

	assert.Equal(t, uint32(42), min)
	assert.Equal(t, int32(1), numRuns)
	assert.Equal(t, byte(8), numBits)

	// A run of 4096 falls in makeCount's [0x40, 0x4000) bracket, so it
	// packs to 2 bytes, not the 3-byte form spec §8 scenario 2 describes;
	// that worked example does not arithmetically agree with the encoding
	// rule spec §4.6.3 itself specifies (and which HFACompress::makeCount
	// implements) — see DESIGN.md.
	counts := out[rleHeaderSize:dataOffset]
	assert.Equal(t, []byte{0x50, 0x00}, counts)
	assert.Equal(t, []byte{0x00}, out[dataOffset:]) // 42 - 42

	decoded, err := rleDecode(out, 8, 64*64)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestRLEEncodeAlternatingTooLargeStaysUncompressed(t *testing.T) {
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i % 2)
	}

	_, ok := rleEncode(data, 8)
	assert.False(t, ok, "4096 single-pixel runs must not compress smaller than the raw block")
}

func TestRLERoundTripSubByteWidths(t *testing.T) {
	for _, bits := range []int{1, 2, 4} {
		blockCount := 256
		data := make([]byte, (blockCount*bits+7)/8)
		for i := 0; i < blockCount; i++ {
			setPixelAt(data, i, bits, uint32(i/64)%(1<<uint(bits))) // runs of 64 equal pixels
		}

		out, ok := rleEncode(data, bits)
		require.True(t, ok, "bits=%d", bits)

		decoded, err := rleDecode(out, bits, blockCount)
		require.NoError(t, err)
		assert.Equal(t, data, decoded, "bits=%d", bits)
	}
}

func TestRLEDecodeReducedPrecisionAllEqual(t *testing.T) {
	stream := make([]byte, rleHeaderSize)
	binary.LittleEndian.PutUint32(stream[0:4], 7) // min
	binary.LittleEndian.PutUint32(stream[4:8], uint32(int32(-1)))
	binary.LittleEndian.PutUint32(stream[8:12], rleHeaderSize)
	stream[12] = 0 // num_bits == 0: every pixel equals min

	decoded, err := rleDecode(stream, 8, 16)
	require.NoError(t, err)
	for _, b := range decoded {
		assert.Equal(t, byte(7), b)
	}
}

func TestRLEDecodeClampsOverrunningLastRun(t *testing.T) {
	var counts, values []byte
	counts = packCount(10, counts) // ten pixels claimed, but maxPixels below is 4
	values = packValue(values, 0, 8)

	stream := make([]byte, rleHeaderSize+len(counts)+len(values))
	binary.LittleEndian.PutUint32(stream[0:4], 5) // min
	binary.LittleEndian.PutUint32(stream[4:8], 1)
	dataOffset := rleHeaderSize + len(counts)
	binary.LittleEndian.PutUint32(stream[8:12], uint32(dataOffset))
	stream[12] = 8
	copy(stream[rleHeaderSize:dataOffset], counts)
	copy(stream[dataOffset:], values)

	decoded, err := rleDecode(stream, 8, 4)
	require.NoError(t, err)
	assert.Len(t, decoded, 4)
	for _, b := range decoded {
		assert.Equal(t, byte(5), b)
	}
}

func TestRLEDecodeBadCompressionOnNegativeRunLength(t *testing.T) {
	stream := make([]byte, rleHeaderSize)
	binary.LittleEndian.PutUint32(stream[4:8], uint32(int32(-2)))

	_, err := rleDecode(stream, 8, 16)
	assert.ErrorIs(t, err, ErrBadCompression)
}

func TestRLEDecodeBadCompressionOnUnsupportedBitWidth(t *testing.T) {
	stream := make([]byte, rleHeaderSize)

	_, err := rleDecode(stream, 3, 16)
	assert.ErrorIs(t, err, ErrBadCompression)
}
