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
	"fmt"
	"io"
	"math"
	"os"
	"unsafe"
)

// isBigEndianHost detects host byte order at runtime rather than trusting
// a build constraint, so a single binary behaves correctly when cross
// compiled for either architecture family.
func isBigEndianHost() bool {
	var x uint16 = 1
	return *(*byte)(unsafe.Pointer(&x)) == 0
}

// onBigEndianHost is true when running on a big-endian architecture. The
// container format itself is always little-endian on disk; this only
// governs whether pixel buffers need swapping at I/O time.
var onBigEndianHost = isBigEndianHost()

// offsetReader reads from a fixed offset in a file, advancing on each call.
type offsetReader struct {
	f      *os.File
	offset int64
}

func newOffsetReader(f *os.File, offset int64) *offsetReader {
	return &offsetReader{f: f, offset: offset}
}

func (r *offsetReader) Read(p []byte) (int, error) {
	n, err := r.f.ReadAt(p, r.offset)
	r.offset += int64(n)
	return n, err
}

// offsetWriter writes to a fixed offset in a file, advancing on each call.
type offsetWriter struct {
	f      *os.File
	offset int64
}

func newOffsetWriter(f *os.File, offset int64) *offsetWriter {
	return &offsetWriter{f: f, offset: offset}
}

func (w *offsetWriter) Write(p []byte) (int, error) {
	n, err := w.f.WriteAt(p, w.offset)
	w.offset += int64(n)
	return n, err
}

func readUint16(f *os.File, offset int64) (uint16, error) {
	var buf [2]byte
	if _, err := f.ReadAt(buf[:], offset); err != nil {
		return 0, fmt.Errorf("%w: read uint16 at %d: %v", ErrIOFailed, offset, err)
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func writeUint16(f *os.File, offset int64, v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	if _, err := f.WriteAt(buf[:], offset); err != nil {
		return fmt.Errorf("%w: write uint16 at %d: %v", ErrIOFailed, offset, err)
	}
	return nil
}

func readUint32(f *os.File, offset int64) (uint32, error) {
	var buf [4]byte
	if _, err := f.ReadAt(buf[:], offset); err != nil {
		return 0, fmt.Errorf("%w: read uint32 at %d: %v", ErrIOFailed, offset, err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeUint32(f *os.File, offset int64, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	if _, err := f.WriteAt(buf[:], offset); err != nil {
		return fmt.Errorf("%w: write uint32 at %d: %v", ErrIOFailed, offset, err)
	}
	return nil
}

func readUint64(f *os.File, offset int64) (uint64, error) {
	var buf [8]byte
	if _, err := f.ReadAt(buf[:], offset); err != nil {
		return 0, fmt.Errorf("%w: read uint64 at %d: %v", ErrIOFailed, offset, err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func writeUint64(f *os.File, offset int64, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	if _, err := f.WriteAt(buf[:], offset); err != nil {
		return fmt.Errorf("%w: write uint64 at %d: %v", ErrIOFailed, offset, err)
	}
	return nil
}

// getFloat32 and getFloat64 decode little-endian IEEE-754 values out of an
// in-memory buffer (used by the Field Engine, which operates on node
// payloads already read into memory rather than directly on the file).
func getFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func putFloat32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

func getFloat64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func putFloat64(b []byte, v float64) {
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
}

// swapPixels byte-swaps an in-memory array of fixed-width pixels in place.
// It is a no-op on little-endian hosts, since the on-disk form is always
// little-endian (spec §4.1, §6). itemBytes must be 1, 2, 4, 8 or 16; an
// 8-byte item is reversed as one value, and a 16-byte item (complex128) is
// swapped as two independent 8-byte halves.
func swapPixels(buf []byte, itemBytes int) {
	if !onBigEndianHost || itemBytes <= 1 {
		return
	}

	switch itemBytes {
	case 2, 4, 8:
		for off := 0; off+itemBytes <= len(buf); off += itemBytes {
			reverseBytes(buf[off : off+itemBytes])
		}
	case 16:
		// complex128: two 8-byte halves, each swapped independently.
		for off := 0; off+16 <= len(buf); off += 16 {
			reverseBytes(buf[off : off+8])
			reverseBytes(buf[off+8 : off+16])
		}
	default:
		panic(fmt.Sprintf("swapPixels: unsupported item width %d", itemBytes))
	}
}

// swapComplexHalves swaps the two 4-byte halves of a complex64, or the two
// 8-byte halves of a complex128, as required by the byte layer's pair-swap
// rule for complex fields.
func swapComplexHalves(buf []byte, halfBytes int) {
	if !onBigEndianHost {
		return
	}
	reverseBytes(buf[:halfBytes])
	reverseBytes(buf[halfBytes : 2*halfBytes])
}

func reverseBytes(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

var _ io.Reader = (*offsetReader)(nil)
var _ io.Writer = (*offsetWriter)(nil)
