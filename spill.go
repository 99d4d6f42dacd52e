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
	"io"
	"os"
)

// spillStackPrefixSize is the fixed 23-byte header written ahead of every
// stack's validity/data sections (spec §4.7): marker(1) + layerCount(4) +
// width(4) + height(4) + blockSize(4) + blockSize again(4) + marker(1) +
// marker(1).
const spillStackPrefixSize = 1 + 4 + 4 + 4 + 4 + 4 + 1 + 1

// spillLayerHeaderSize is the 20-byte prefix ahead of each layer's validity
// bitmap: five little-endian int32 words, per spec §4.7.
const spillLayerHeaderSize = 20

// openOrCreateSpill opens path for read-write, creating it and writing the
// magic header if it doesn't already exist. Mirrors HFACreateSpillStack's
// open-or-create step.
func openOrCreateSpill(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err == nil {
		return f, nil
	}
	if !os.IsNotExist(err) {
		return nil, errorf(ErrIOFailed, "open spill file %q: %v", path, err)
	}

	f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errorf(ErrIOFailed, "create spill file %q: %v", path, err)
	}
	if _, err := f.Write([]byte(spillMagic)); err != nil {
		f.Close()
		return nil, errorf(ErrIOFailed, "write spill magic %q: %v", path, err)
	}
	return f, nil
}

// CreateSpillStack appends a new layer stack to the spill (.ige) file at
// path, creating the file first if it doesn't exist, and reports the
// validFlagsOffset/dataOffset pair every layer in the stack records in its
// ImgExternalRaster node (spec §4.7). Grounded on HFACreateSpillStack:
// stack prefix, one validity section per layer (all blocks default valid,
// with any trailing padding bits in a row's last byte cleared), then a
// sparse reservation of the tile data region.
func CreateSpillStack(path string, width, height, blockWidth, blockHeight, bits, layerCount int) (validFlagsOffset, dataOffset int64, err error) {
	f, err := openOrCreateSpill(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, 0, errorf(ErrIOFailed, "seek spill file %q: %v", path, err)
	}

	blocksPerRow := ceilDiv(width, blockWidth)
	blocksPerColumn := ceilDiv(height, blockHeight)
	bytesPerRow := ceilDiv(blocksPerRow, 8)
	blockMapSize := bytesPerRow * blocksPerColumn
	blockSize := (blockWidth*blockHeight*bits + 7) / 8

	prefix := make([]byte, 0, spillStackPrefixSize)
	prefix = append(prefix, 0x01)
	prefix = appendLE32(prefix, uint32(layerCount))
	prefix = appendLE32(prefix, uint32(width))
	prefix = appendLE32(prefix, uint32(height))
	prefix = appendLE32(prefix, uint32(blockSize))
	prefix = appendLE32(prefix, uint32(blockSize))
	prefix = append(prefix, 0x03, 0x00)

	if _, err := f.Write(prefix); err != nil {
		return 0, 0, errorf(ErrIOFailed, "write stack prefix %q: %v", path, err)
	}

	validFlagsOffset = end + int64(len(prefix))

	blockMap := make([]byte, blockMapSize)
	for i := range blockMap {
		blockMap[i] = 0xff
	}
	if remainder := blocksPerRow % 8; remainder != 0 {
		mask := byte(1<<uint(remainder) - 1)
		for row := bytesPerRow - 1; row < blockMapSize; row += bytesPerRow {
			blockMap[row] = mask
		}
	}

	layerHeader := make([]byte, 0, spillLayerHeaderSize)
	layerHeader = appendLE32(layerHeader, 1)
	layerHeader = appendLE32(layerHeader, 0)
	layerHeader = appendLE32(layerHeader, uint32(blocksPerColumn))
	layerHeader = appendLE32(layerHeader, uint32(blocksPerRow))
	layerHeader = appendLE32(layerHeader, 0x30000)

	for i := 0; i < layerCount; i++ {
		if _, err := f.Write(layerHeader); err != nil {
			return 0, 0, errorf(ErrIOFailed, "write layer validity header %q: %v", path, err)
		}
		if _, err := f.Write(blockMap); err != nil {
			return 0, 0, errorf(ErrIOFailed, "write layer validity bitmap %q: %v", path, err)
		}
	}

	dataOffset, err = f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, 0, errorf(ErrIOFailed, "seek spill file %q: %v", path, err)
	}

	tileDataSize := int64(blockSize) * int64(blocksPerRow) * int64(blocksPerColumn) * int64(layerCount)
	if tileDataSize > 0 {
		if _, err := f.WriteAt([]byte{0}, dataOffset+tileDataSize-1); err != nil {
			return 0, 0, errorf(ErrIOFailed, "extend spill file %q to full size: %v", path, err)
		}
	}

	return validFlagsOffset, dataOffset, nil
}

func appendLE32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}
