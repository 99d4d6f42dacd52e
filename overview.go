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
	"errors"
	"fmt"
	"path/filepath"
)

// overviewBlockSize is the fixed tile size IMAGINE always uses for
// overviews, regardless of the source layer's own block size (spec
// §4.6.4).
const overviewBlockSize = 64

// largeRasterThreshold is the projected end-of-file size, in bytes, past
// which a new overview is forced into external (spill) storage rather than
// the main file (spec §4.6.4). Ported from HFABand::CreateOverview's
// literal 2000000000.0 check.
const largeRasterThreshold = 2_000_000_000

// CreateOverview allocates an Eimg_Layer_SubSample layer for sourceLayer at
// integer downsample factor f, links it into sourceLayer's RRDNamesList,
// and returns a Tile over it ready for the caller to fill with subsampled
// pixel data. Downsampling itself is out of scope (spec.md's Non-goals);
// this only creates and links the overview node.
//
// mainPath is the path of the container's main .img file, used both to
// derive the spill file's path (same directory, .ige extension) when the
// large-raster heuristic fires, and to build the RRDNamesList entry's
// "<filename>(:<layername>:_ss_<f>_)" name.
func CreateOverview(tree *Tree, sourceLayer handle, sourceLayerName string, f int, mainPath string) (handle, *Tile, error) {
	width, height, _, _, pt, err := layerGeometry(tree, sourceLayer)
	if err != nil {
		return 0, nil, err
	}
	bits, err := pixelBits(pt)
	if err != nil {
		return 0, nil, err
	}

	oWidth := ceilDiv(width, f)
	oHeight := ceilDiv(height, f)

	estimatedBytes := float64(oWidth) * float64(oHeight) * float64(bits) / 8
	external := float64(tree.alloc.size())+estimatedBytes > largeRasterThreshold

	overviewName := fmt.Sprintf("_ss_%d_", f)
	layer, err := tree.NewChild(sourceLayer, overviewName, "Eimg_Layer_SubSample")
	if err != nil {
		return 0, nil, err
	}
	if err := tree.SetInt(layer, ":width", oWidth); err != nil {
		return 0, nil, err
	}
	if err := tree.SetInt(layer, ":height", oHeight); err != nil {
		return 0, nil, err
	}
	if err := tree.SetInt(layer, ":blockWidth", overviewBlockSize); err != nil {
		return 0, nil, err
	}
	if err := tree.SetInt(layer, ":blockHeight", overviewBlockSize); err != nil {
		return 0, nil, err
	}
	if err := tree.SetInt(layer, ":pixelType", int(pt)); err != nil {
		return 0, nil, err
	}
	if err := tree.SetString(layer, ":layerType", "athematic"); err != nil {
		return 0, nil, err
	}

	var tile *Tile
	if external {
		dir := filepath.Dir(mainPath)
		spillName := spillFilename(mainPath)
		validFlagsOffset, dataOffset, err := CreateSpillStack(
			filepath.Join(dir, spillName), oWidth, oHeight,
			overviewBlockSize, overviewBlockSize, bits, 1)
		if err != nil {
			return 0, nil, err
		}

		ext, err := tree.NewChild(layer, "ExternalRasterDMS", "ImgExternalRaster")
		if err != nil {
			return 0, nil, err
		}
		if err := tree.SetString(ext, ":fileName.string", spillName); err != nil {
			return 0, nil, err
		}
		if err := setBigIntPair(tree, ext, "layerStackValidFlagsOffset", validFlagsOffset); err != nil {
			return 0, nil, err
		}
		if err := setBigIntPair(tree, ext, "layerStackDataOffset", dataOffset); err != nil {
			return 0, nil, err
		}
		if err := tree.SetInt(ext, ":layerStackCount", 1); err != nil {
			return 0, nil, err
		}
		if err := tree.SetInt(ext, ":layerStackIndex", 0); err != nil {
			return 0, nil, err
		}

		tile, err = NewExternalTile(tree, layer, false, dir)
		if err != nil {
			return 0, nil, err
		}
	} else {
		dms, err := tree.NewChild(layer, "RasterDMS", "Edms_State")
		if err != nil {
			return 0, nil, err
		}

		blocksPerRow := ceilDiv(oWidth, overviewBlockSize)
		blocksPerColumn := ceilDiv(oHeight, overviewBlockSize)
		n := blocksPerRow * blocksPerColumn
		blockBytes := (overviewBlockSize*overviewBlockSize*bits + 7) / 8

		if err := tree.SetInt(dms, ":numvirtualblocks", n); err != nil {
			return 0, nil, err
		}
		if err := tree.SetInt(dms, ":numobjectsperblock", overviewBlockSize*overviewBlockSize); err != nil {
			return 0, nil, err
		}
		if err := tree.SetInt(dms, ":nextobjectnum", overviewBlockSize*overviewBlockSize*n); err != nil {
			return 0, nil, err
		}
		if err := tree.SetString(dms, ":compressionType", "no compression"); err != nil {
			return 0, nil, err
		}

		// An overview is always created uncompressed, with every block's
		// space reserved and marked valid up front (HFACreateLayer's
		// bCreateCompressed==FALSE path); the caller fills in real pixel
		// data afterward via Tile.WriteTile.
		for i := 0; i < n; i++ {
			offset := tree.alloc.allocate(int64(blockBytes))
			if err := tree.SetInt(dms, fieldIndex("blockinfo", i, "offset"), int(offset)); err != nil {
				return 0, nil, err
			}
			if err := tree.SetInt(dms, fieldIndex("blockinfo", i, "size"), blockBytes); err != nil {
				return 0, nil, err
			}
			if err := tree.SetString(dms, fieldIndex("blockinfo", i, "logvalid"), "true"); err != nil {
				return 0, nil, err
			}
			if err := tree.SetInt(dms, fieldIndex("blockinfo", i, "compressionType"), 0); err != nil {
				return 0, nil, err
			}
		}

		tile, err = NewInlineTile(tree, layer, false)
		if err != nil {
			return 0, nil, err
		}
	}

	if err := addRRDName(tree, sourceLayer, sourceLayerName, mainPath, f); err != nil {
		return 0, nil, err
	}

	return layer, tile, nil
}

// setBigIntPair is bigIntPair's write counterpart, splitting a 64-bit value
// back into the low/high 32-bit words ImgExternalRaster's 2:L fields use.
func setBigIntPair(tr *Tree, h handle, name string, v int64) error {
	if err := tr.SetInt(h, ":"+name+"[0]", int(uint32(v))); err != nil {
		return err
	}
	return tr.SetInt(h, ":"+name+"[1]", int(uint32(v>>32)))
}

// spillFilename derives the .ige sibling name for a main .img path, per
// spec §4.7.
func spillFilename(mainPath string) string {
	base := filepath.Base(mainPath)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)] + ".ige"
}

// addRRDName creates sourceLayer's RRDNamesList child if it doesn't already
// exist, then appends an entry naming the new overview, per
// HFABand::CreateOverview's "%s(:%s:_ss_%d_)" format.
func addRRDName(tree *Tree, sourceLayer handle, sourceLayerName, mainPath string, f int) error {
	rrd, _, err := tree.Find(sourceLayer, "RRDNamesList")
	if errors.Is(err, ErrNotFound) {
		rrd, err = tree.NewChild(sourceLayer, "RRDNamesList", "Eimg_RRDNamesList")
		if err != nil {
			return err
		}
		if err := tree.SetString(rrd, ":algorithm.string", "IMAGINE 2X2 Resampling"); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	iNext, err := tree.FieldCount(rrd, ":nameList")
	if errors.Is(err, ErrNotFound) {
		// The payload ends before nameList's position, so the list has
		// no entries yet.
		iNext = 0
	} else if err != nil {
		return err
	}

	name := fmt.Sprintf("%s(:%s:_ss_%d_)", mainPath, sourceLayerName, f)
	return tree.SetString(rrd, fieldIndex("nameList", iNext, "string"), name)
}
