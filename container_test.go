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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateThenOpenRoundTripsTile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.img")

	c, err := Create(path)
	require.NoError(t, err)

	layer := newInlineLayer(t, c.Tree(), c.Root(), 64, 64, 64, 64, PixelU8)
	tile, err := NewInlineTile(c.Tree(), layer, false)
	require.NoError(t, err)

	data := make([]byte, 64*64)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, tile.WriteTile(0, 0, data))

	require.NoError(t, c.Close())

	c2, err := Open(path, true)
	require.NoError(t, err)
	defer c2.Close()

	layers, err := rasterLayers(c2.Tree(), c2.Root())
	require.NoError(t, err)
	require.Len(t, layers, 1)

	tile2, err := NewInlineTile(c2.Tree(), layers[0], true)
	require.NoError(t, err)

	got := make([]byte, 64*64)
	require.NoError(t, tile2.ReadTile(0, 0, got))
	assert.Equal(t, data, got)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.img")
	require.NoError(t, os.WriteFile(path, []byte("not an hfa file at all, padded out"), 0o644))

	_, err := Open(path, true)
	assert.ErrorIs(t, err, ErrDictionaryMalformed)
}

func TestFlushIsNoOpWhenClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.img")

	c, err := Create(path)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Flush())

	info, err := os.Stat(path)
	require.NoError(t, err)
	sizeAfterCreate := info.Size()

	require.NoError(t, c.Flush())

	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, sizeAfterCreate, info.Size())
}

func TestFlushPatchesRootPointerOnMove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.img")

	c, err := Create(path)
	require.NoError(t, err)

	newInlineLayer(t, c.Tree(), c.Root(), 32, 32, 32, 32, PixelU8)

	require.NoError(t, c.Flush())

	rootPos, err := readUint32(c.f, rootPosFieldOffset)
	require.NoError(t, err)
	assert.NotZero(t, rootPos, "root must be placed on disk after flush")

	require.NoError(t, c.Close())

	c2, err := Open(path, true)
	require.NoError(t, err)
	defer c2.Close()

	layers, err := rasterLayers(c2.Tree(), c2.Root())
	require.NoError(t, err)
	assert.Len(t, layers, 1)
}

func TestCreateDependentReusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.img")

	c, err := Create(path)
	require.NoError(t, err)
	defer c.Close()

	dep, err := c.CreateDependent()
	require.NoError(t, err)

	df, _, err := dep.Tree().Find(dep.Root(), "DependentFile")
	require.NoError(t, err)

	name, err := dep.Tree().String(df, ":dependent.string")
	require.NoError(t, err)
	assert.Equal(t, "scene.img", name)

	require.NoError(t, dep.Close())

	dep2, err := c.CreateDependent()
	require.NoError(t, err)
	defer dep2.Close()

	assert.Equal(t, dependentPath(path), dep2.Path())
}

func TestDeleteRemovesMainAndSpillFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scene.img")

	c, err := Create(path)
	require.NoError(t, err)

	layer, err := c.Tree().NewChild(c.Root(), "Band1", "Eimg_Layer")
	require.NoError(t, err)
	require.NoError(t, c.Tree().SetInt(layer, ":width", 64))
	require.NoError(t, c.Tree().SetInt(layer, ":height", 64))
	require.NoError(t, c.Tree().SetInt(layer, ":blockWidth", 64))
	require.NoError(t, c.Tree().SetInt(layer, ":blockHeight", 64))
	require.NoError(t, c.Tree().SetInt(layer, ":pixelType", int(PixelU8)))

	spillPath := filepath.Join(dir, "scene.ige")
	validFlagsOffset, dataOffset, err := CreateSpillStack(spillPath, 64, 64, 64, 64, 8, 1)
	require.NoError(t, err)

	ext, err := c.Tree().NewChild(layer, "ExternalRasterDMS", "ImgExternalRaster")
	require.NoError(t, err)
	require.NoError(t, c.Tree().SetString(ext, ":fileName.string", "scene.ige"))
	require.NoError(t, setBigIntPair(c.Tree(), ext, "layerStackValidFlagsOffset", validFlagsOffset))
	require.NoError(t, setBigIntPair(c.Tree(), ext, "layerStackDataOffset", dataOffset))
	require.NoError(t, c.Tree().SetInt(ext, ":layerStackCount", 1))
	require.NoError(t, c.Tree().SetInt(ext, ":layerStackIndex", 0))

	require.NoError(t, c.Close())

	if _, err := os.Stat(spillPath); err != nil {
		t.Fatalf("expected spill file to exist before delete: %v", err)
	}

	require.NoError(t, Delete(path))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(spillPath)
	assert.True(t, os.IsNotExist(err), "spill file should be removed along with the main file")
}
