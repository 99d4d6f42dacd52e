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
	"os"
	"path/filepath"
	"strconv"
)

// Tile flag bits, mirroring HFABand's BFLG_VALID / BFLG_COMPRESSED.
const (
	blockFlagValid      = 1 << 0
	blockFlagCompressed = 1 << 1
)

// Tile is the per-layer tile index and codec (spec §4.6.1, §4.6.2): it
// turns (column, row) block coordinates into file offsets and transparently
// RLE-decodes compressed blocks. Grounded on HFABand's LoadBlockInfo /
// LoadExternalBlockInfo / GetRasterBlock / SetRasterBlock / ReAllocBlock.
type Tile struct {
	tree     *Tree
	dms      handle
	readOnly bool

	blockWidth, blockHeight       int
	blocksPerRow, blocksPerColumn int
	pixelType                     PixelType
	bits                          int

	loaded     bool
	blockStart []int64
	blockSize  []int
	blockFlag  []byte

	external bool

	extFile              *os.File
	extBlockSize         int64
	extDataOffset        int64
	extLayerStackCount   int
	extLayerStackIndex   int
	extValidFlagsOffset  int64
	extBytesPerRow       int
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// layerGeometry reads the fields every Eimg_Layer / Eimg_Layer_SubSample
// shares (spec §4.6, §6).
func layerGeometry(tr *Tree, layer handle) (width, height, blockWidth, blockHeight int, pt PixelType, err error) {
	if width, err = tr.Int(layer, ":width"); err != nil {
		return
	}
	if height, err = tr.Int(layer, ":height"); err != nil {
		return
	}
	if blockWidth, err = tr.Int(layer, ":blockWidth"); err != nil {
		return
	}
	if blockHeight, err = tr.Int(layer, ":blockHeight"); err != nil {
		return
	}
	var pixelOrdinal int
	if pixelOrdinal, err = tr.Int(layer, ":pixelType"); err != nil {
		return
	}
	pt = PixelType(pixelOrdinal)
	return
}

// bigIntPair combines a 2-element int32 array field into a 64-bit value, the
// representation ImgExternalRaster's layerStackValidFlagsOffset /
// layerStackDataOffset use (GDAL's GetBigIntField: low word at index 0, high
// word at index 1).
func bigIntPair(tr *Tree, h handle, name string) (int64, error) {
	lo, err := tr.Int(h, ":"+name+"[0]")
	if err != nil {
		return 0, err
	}
	hi, err := tr.Int(h, ":"+name+"[1]")
	if err != nil {
		return 0, err
	}
	return int64(uint32(lo)) | int64(uint32(hi))<<32, nil
}

// NewInlineTile builds a Tile backed by the layer's own RasterDMS child
// (spec §4.6.1). The block index is materialised lazily, on first
// ReadTile/WriteTile call.
func NewInlineTile(tree *Tree, layer handle, readOnly bool) (*Tile, error) {
	width, height, bw, bh, pt, err := layerGeometry(tree, layer)
	if err != nil {
		return nil, err
	}
	bits, err := pixelBits(pt)
	if err != nil {
		return nil, err
	}

	dms, _, err := tree.Find(layer, "RasterDMS")
	if err != nil {
		return nil, err
	}

	return &Tile{
		tree:            tree,
		dms:             dms,
		readOnly:        readOnly,
		blockWidth:      bw,
		blockHeight:     bh,
		blocksPerRow:    ceilDiv(width, bw),
		blocksPerColumn: ceilDiv(height, bh),
		pixelType:       pt,
		bits:            bits,
	}, nil
}

// NewExternalTile builds a Tile backed by the layer's ExternalRasterDMS
// child, opening the referenced spill (.ige) file relative to dir, which
// should be the directory containing the main .img file (spec §4.6.2,
// §4.7).
func NewExternalTile(tree *Tree, layer handle, readOnly bool, dir string) (*Tile, error) {
	width, height, bw, bh, pt, err := layerGeometry(tree, layer)
	if err != nil {
		return nil, err
	}
	bits, err := pixelBits(pt)
	if err != nil {
		return nil, err
	}

	dms, _, err := tree.Find(layer, "ExternalRasterDMS")
	if err != nil {
		return nil, err
	}

	fileName, err := tree.String(dms, ":fileName.string")
	if err != nil {
		return nil, err
	}
	layerStackCount, err := tree.Int(dms, ":layerStackCount")
	if err != nil {
		return nil, err
	}
	layerStackIndex, err := tree.Int(dms, ":layerStackIndex")
	if err != nil {
		return nil, err
	}
	validFlagsOffset, err := bigIntPair(tree, dms, "layerStackValidFlagsOffset")
	if err != nil {
		return nil, err
	}
	dataOffset, err := bigIntPair(tree, dms, "layerStackDataOffset")
	if err != nil {
		return nil, err
	}

	mode := os.O_RDONLY
	if !readOnly {
		mode = os.O_RDWR
	}
	f, err := os.OpenFile(filepath.Join(dir, fileName), mode, 0644)
	if err != nil {
		return nil, errorf(ErrIOFailed, "open spill file %q: %v", fileName, err)
	}

	var header [len(spillMagic)]byte
	if _, err := f.ReadAt(header[:], 0); err != nil {
		f.Close()
		return nil, errorf(ErrTruncated, "spill file %q: read magic: %v", fileName, err)
	}
	if string(header[:]) != spillMagic {
		f.Close()
		return nil, errorf(ErrDictionaryMalformed, "spill file %q: bad magic", fileName)
	}

	blocksPerRow := ceilDiv(width, bw)

	return &Tile{
		tree:                tree,
		dms:                 dms,
		readOnly:            readOnly,
		blockWidth:          bw,
		blockHeight:         bh,
		blocksPerRow:        blocksPerRow,
		blocksPerColumn:     ceilDiv(height, bh),
		pixelType:           pt,
		bits:                bits,
		external:            true,
		extFile:             f,
		extBlockSize:        int64((bw*bh*bits + 7) / 8),
		extDataOffset:       dataOffset,
		extLayerStackCount:  layerStackCount,
		extLayerStackIndex:  layerStackIndex,
		extValidFlagsOffset: validFlagsOffset,
		extBytesPerRow:      ceilDiv(blocksPerRow, 8),
	}, nil
}

// Close releases the spill file handle, if any. A Tile over the inline form
// owns no resources of its own.
func (tl *Tile) Close() error {
	if tl.extFile != nil {
		return tl.extFile.Close()
	}
	return nil
}

func (tl *Tile) blockCount() int {
	return tl.blocksPerRow * tl.blocksPerColumn
}

func (tl *Tile) blockBytes() int {
	return (tl.blockWidth*tl.blockHeight*tl.bits + 7) / 8
}

// loadBlockInfo materialises the per-block offset/size/flag arrays on first
// use, per spec §4.6.1's "built on first access" rule.
func (tl *Tile) loadBlockInfo() error {
	if tl.loaded {
		return nil
	}

	n := tl.blockCount()
	tl.blockFlag = make([]byte, n)

	if tl.external {
		// Validity lives in a bitmap inside the spill file, not per-block
		// metadata; read it once into the same blockFlag array the inline
		// form uses. External blocks are never compressed (ExternalRaster's
		// ImgExternalRaster type carries no per-block compressionType field).
		nBytes := tl.extBytesPerRow*tl.blocksPerColumn + 20
		bitmap := make([]byte, nBytes)
		if _, err := tl.extFile.ReadAt(bitmap, tl.extValidFlagsOffset); err != nil {
			return errorf(ErrIOFailed, "read validity bitmap: %v", err)
		}
		for row := 0; row < tl.blocksPerColumn; row++ {
			for col := 0; col < tl.blocksPerRow; col++ {
				bit := row*tl.extBytesPerRow*8 + col + 160
				if bitmap[bit/8]&(1<<uint(bit%8)) != 0 {
					tl.blockFlag[row*tl.blocksPerRow+col] = blockFlagValid
				}
			}
		}
		tl.loaded = true
		return nil
	}

	tl.blockStart = make([]int64, n)
	tl.blockSize = make([]int, n)

	for i := 0; i < n; i++ {
		offset, err := tl.tree.Int(tl.dms, fieldIndex("blockinfo", i, "offset"))
		if err != nil {
			return err
		}
		size, err := tl.tree.Int(tl.dms, fieldIndex("blockinfo", i, "size"))
		if err != nil {
			return err
		}
		logValid, err := tl.tree.Int(tl.dms, fieldIndex("blockinfo", i, "logvalid"))
		if err != nil {
			return err
		}
		compressionType, err := tl.tree.Int(tl.dms, fieldIndex("blockinfo", i, "compressionType"))
		if err != nil {
			return err
		}

		tl.blockStart[i] = int64(offset)
		tl.blockSize[i] = size

		var flag byte
		if logValid != 0 {
			flag |= blockFlagValid
		}
		if compressionType != 0 {
			flag |= blockFlagCompressed
		}
		tl.blockFlag[i] = flag
	}

	tl.loaded = true
	return nil
}

// fieldIndex builds a ":field[i].sub" path addressing one element of a
// pointer-array field directly on an already-resolved node handle (the
// leading colon pivots straight to the Field Engine, per splitFieldPivot).
func fieldIndex(field string, i int, sub string) string {
	return ":" + field + "[" + strconv.Itoa(i) + "]." + sub
}

// blockOffset returns the file this block lives in and its byte offset,
// for the already-loaded block index iBlock.
func (tl *Tile) blockOffset(iBlock int) (*os.File, int64, int) {
	if tl.external {
		off := tl.extDataOffset + tl.extBlockSize*int64(iBlock*tl.extLayerStackCount) +
			int64(tl.extLayerStackIndex)*tl.extBlockSize
		return tl.extFile, off, int(tl.extBlockSize)
	}
	return tl.tree.f, tl.blockStart[iBlock], tl.blockSize[iBlock]
}

// ReadTile reads one (col, row) raster block into buf, which must be sized
// for blockWidth*blockHeight pixels at this layer's pixel type (spec
// §4.6.1 step 1-4, §4.6.2 for the external case).
func (tl *Tile) ReadTile(col, row int, buf []byte) error {
	if err := tl.loadBlockInfo(); err != nil {
		return err
	}

	iBlock := row*tl.blocksPerRow + col
	if iBlock < 0 || iBlock >= tl.blockCount() {
		return errorf(ErrOutOfRange, "block (%d,%d) out of range", col, row)
	}

	zero := func() error {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}

	if tl.blockFlag[iBlock]&blockFlagValid == 0 {
		return zero()
	}

	f, offset, size := tl.blockOffset(iBlock)

	readFailed := func(err error) error {
		if !tl.readOnly {
			return zero()
		}
		return errorf(ErrIOFailed, "read block %d: %v", iBlock, err)
	}

	if tl.blockFlag[iBlock]&blockFlagCompressed != 0 {
		cdata := make([]byte, size)
		if _, err := f.ReadAt(cdata, offset); err != nil {
			return readFailed(err)
		}
		decoded, err := rleDecode(cdata, tl.bits, tl.blockWidth*tl.blockHeight)
		if err != nil {
			return err
		}
		copy(buf, decoded)
		return nil
	}

	if _, err := f.ReadAt(buf[:tl.blockBytes()], offset); err != nil {
		return readFailed(err)
	}

	if onBigEndianHost {
		tl.swapPixelBuffer(buf)
	}
	return nil
}

// swapPixelBuffer applies the MSB-host pixel swap appropriate to this
// layer's pixel type (spec §4.1).
func (tl *Tile) swapPixelBuffer(buf []byte) {
	switch tl.pixelType {
	case PixelS16, PixelU16:
		swapPixels(buf, 2)
	case PixelS32, PixelU32, PixelF32:
		swapPixels(buf, 4)
	case PixelF64:
		swapPixels(buf, 8)
	case PixelC64:
		swapPixels(buf, 4)
	case PixelC128:
		swapPixels(buf, 8)
	}
}

// WriteTile writes one (col, row) raster block from buf, per spec §4.6.1's
// write algorithm: try RLE compression first, falling back to uncompressed
// storage; reuse the existing slot when it is already big enough, else
// allocate a fresh one (ReAllocBlock's "interim measure", since the Space
// Allocator carries no free list, spec §4.5).
//
// External tiles (spec §4.6.2) are never compressed: their fixed-size
// slots are reserved up front by the spill file layout, so there is no
// growth/reallocation step, and validity is decided when that space is
// reserved rather than per write.
func (tl *Tile) WriteTile(col, row int, buf []byte) error {
	if err := tl.loadBlockInfo(); err != nil {
		return err
	}

	iBlock := row*tl.blocksPerRow + col
	if iBlock < 0 || iBlock >= tl.blockCount() {
		return errorf(ErrOutOfRange, "block (%d,%d) out of range", col, row)
	}

	flag := tl.blockFlag[iBlock]
	if flag&blockFlagValid == 0 && flag&blockFlagCompressed == 0 {
		return errorf(ErrUnsupported, "write to invalid uncompressed tile %d", iBlock)
	}

	if onBigEndianHost {
		tl.swapPixelBuffer(buf)
		defer tl.swapPixelBuffer(buf)
	}

	if tl.external {
		_, offset, _ := tl.blockOffset(iBlock)
		if _, err := tl.extFile.WriteAt(buf[:tl.blockBytes()], offset); err != nil {
			return errorf(ErrIOFailed, "write block %d: %v", iBlock, err)
		}
		return nil
	}

	if flag&blockFlagCompressed != 0 {
		if encoded, ok := rleEncode(buf, tl.bits); ok {
			if err := tl.reallocBlock(iBlock, len(encoded)); err != nil {
				return err
			}
			_, offset, _ := tl.blockOffset(iBlock)
			if _, err := tl.tree.f.WriteAt(encoded, offset); err != nil {
				return errorf(ErrIOFailed, "write compressed block %d: %v", iBlock, err)
			}
			return tl.markValid(iBlock)
		}

		// Didn't compress smaller: fall back to uncompressed storage and
		// flip the per-block compressionType flag, per ReAllocBlock's
		// "actually made the block bigger" branch.
		tl.blockFlag[iBlock] &^= blockFlagCompressed
		if err := tl.tree.SetInt(tl.dms, fieldIndex("blockinfo", iBlock, "compressionType"), 0); err != nil {
			return err
		}
	}

	if err := tl.reallocBlock(iBlock, tl.blockBytes()); err != nil {
		return err
	}
	_, offset, _ := tl.blockOffset(iBlock)
	if _, err := tl.tree.f.WriteAt(buf[:tl.blockBytes()], offset); err != nil {
		return errorf(ErrIOFailed, "write block %d: %v", iBlock, err)
	}

	return tl.markValid(iBlock)
}

// reallocBlock gives block iBlock a region of at least size bytes, reusing
// its current slot when that's already big enough, else allocating a fresh
// one at the end of the file. Mirrors HFABand::ReAllocBlock, including its
// comment about lacking a free list: freed slots are never reclaimed.
func (tl *Tile) reallocBlock(iBlock, size int) error {
	if tl.blockStart[iBlock] != 0 && size <= tl.blockSize[iBlock] {
		tl.blockSize[iBlock] = size
		return nil
	}

	tl.blockStart[iBlock] = tl.tree.alloc.allocate(int64(size))
	tl.blockSize[iBlock] = size

	if err := tl.tree.SetInt(tl.dms, fieldIndex("blockinfo", iBlock, "offset"), int(tl.blockStart[iBlock])); err != nil {
		return err
	}
	return tl.tree.SetInt(tl.dms, fieldIndex("blockinfo", iBlock, "size"), size)
}

// markValid flips the block's valid flag, both in memory and in the
// RasterDMS entry, the first time a previously-invalid block is written.
func (tl *Tile) markValid(iBlock int) error {
	if tl.blockFlag[iBlock]&blockFlagValid != 0 {
		return nil
	}
	if err := tl.tree.SetString(tl.dms, fieldIndex("blockinfo", iBlock, "logvalid"), "true"); err != nil {
		return err
	}
	tl.blockFlag[iBlock] |= blockFlagValid
	return nil
}
