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
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const (
	// headerInfoRecordSize is the file-info record's on-disk size: version
	// (4) + free list (4, reserved) + root pointer (4) + entry header
	// length (2) + dictionary pointer (4), per spec §3.
	headerInfoRecordSize = 4 + 4 + 4 + 2 + 4

	// defaultDictionaryPointer is where a freshly created file's dictionary
	// text always starts: right after the file-info record.
	defaultDictionaryPointer = fileInfoPointer + headerInfoRecordSize

	// rootPosFieldOffset is the root-node pointer's absolute file offset,
	// patched on every flush that moves the root.
	rootPosFieldOffset = fileInfoPointer + 8

	headerInitialVersion = 1
)

// Container is one open HFA/.img file: the underlying file handle, its node
// tree, and the bookkeeping needed to flush and close it.
type Container struct {
	mu       sync.RWMutex
	f        *os.File
	path     string
	readOnly bool
	tree     *Tree
}

// Tree returns the container's node tree, for callers building layers,
// tiles and overviews on top of it.
func (c *Container) Tree() *Tree { return c.tree }

// Root returns the container's root node handle.
func (c *Container) Root() handle { return c.tree.Root() }

// Path returns the path the container was opened or created from.
func (c *Container) Path() string { return c.path }

// writeNewHeader lays out a brand new file's magic, file-info record and
// default dictionary text, locked in at offset 38 exactly as
// HFACreateLL writes it (nDictionaryPtr = 38). The root pointer is written
// as 0; the root node itself is created afterward, unplaced, and is only
// patched in on the first flush — the same state HFACreateLL leaves a
// freshly created file in.
func writeNewHeader(f *os.File) error {
	if _, err := f.WriteAt([]byte(Magic), 0); err != nil {
		return errorf(ErrIOFailed, "write magic: %v", err)
	}
	if err := writeUint32(f, 16, uint32(fileInfoPointer)); err != nil {
		return err
	}

	base := int64(fileInfoPointer)
	if err := writeUint32(f, base, headerInitialVersion); err != nil {
		return err
	}
	if err := writeUint32(f, base+4, 0); err != nil { // free list, reserved
		return err
	}
	if err := writeUint32(f, base+8, 0); err != nil { // root pos, patched on first flush
		return err
	}
	if err := writeUint16(f, base+12, entryHeaderLength); err != nil {
		return err
	}
	if err := writeUint32(f, base+14, defaultDictionaryPointer); err != nil {
		return err
	}

	dictBytes := append([]byte(defaultDictionaryText), 0)
	if _, err := f.WriteAt(dictBytes, defaultDictionaryPointer); err != nil {
		return errorf(ErrIOFailed, "write dictionary: %v", err)
	}
	return nil
}

// Create writes a new HFA file at path: magic, header, the embedded
// default dictionary, and an empty, unplaced root node, all in one pass
// rather than writing then reopening. The root is deliberately left
// unplaced until the first flush, so a round trip through Open here would
// just re-derive the same in-memory state this function already has.
func Create(path string) (*Container, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errorf(ErrIOFailed, "create %q: %v", path, err)
	}

	if err := writeNewHeader(f); err != nil {
		f.Close()
		return nil, err
	}

	dict, err := ParseDictionary(defaultDictionaryText)
	if err != nil {
		f.Close()
		return nil, err
	}

	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, errorf(ErrIOFailed, "seek %q: %v", path, err)
	}

	tree := NewTree(dict, newAllocator(end), f)
	if _, err := tree.NewRoot(); err != nil {
		f.Close()
		return nil, err
	}

	return &Container{f: f, path: path, tree: tree}, nil
}

// readDictionaryText reads the dictionary text starting at offset,
// growing the read buffer until the ",.\x00" terminator is found.
// Mirrors HFAGetDictionary's byte-at-a-time scan, batched into chunks
// since Go's ReadAt has no per-byte-call equivalent worth paying for.
func readDictionaryText(f *os.File, offset int64) (string, error) {
	const chunk = 1024
	terminator := []byte(dictionaryTerminator)

	buf := make([]byte, 0, chunk)
	tmp := make([]byte, chunk)
	for {
		n, err := f.ReadAt(tmp, offset+int64(len(buf)))
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if i := bytes.Index(buf, terminator); i >= 0 {
			return string(buf[:i+2]), nil // keep the ",." the parser expects
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", errorf(ErrDictionaryMalformed, "dictionary text has no terminator")
			}
			return "", errorf(ErrIOFailed, "read dictionary text: %v", err)
		}
	}
}

// Open opens an existing HFA file, verifying its magic, parsing its
// header and dictionary, and wiring up the node tree rooted at the
// header's stored root pointer. Scanning root's children for raster
// layer nodes (per spec §4.8) is left to callers, via rasterLayers.
func Open(path string, readOnly bool) (*Container, error) {
	var f *os.File
	var err error
	if readOnly {
		f, err = os.OpenFile(path, os.O_RDONLY, 0o444)
	} else {
		f, err = os.OpenFile(path, os.O_RDWR, 0o644)
	}
	if err != nil {
		return nil, errorf(ErrIOFailed, "open %q: %v", path, err)
	}

	var magic [16]byte
	if _, err := f.ReadAt(magic[:], 0); err != nil {
		f.Close()
		return nil, errorf(ErrIOFailed, "read magic %q: %v", path, err)
	}
	if string(magic[:]) != Magic {
		f.Close()
		return nil, errorf(ErrDictionaryMalformed, "%q: bad magic", path)
	}

	headerPos, err := readUint32(f, 16)
	if err != nil {
		f.Close()
		return nil, err
	}
	base := int64(headerPos)

	rootPos, err := readUint32(f, base+8)
	if err != nil {
		f.Close()
		return nil, err
	}

	entryHeaderLen, err := readUint16(f, base+12)
	if err != nil {
		f.Close()
		return nil, err
	}
	if int(entryHeaderLen) != entryHeaderLength {
		f.Close()
		return nil, errorf(ErrDictionaryMalformed, "%q: unsupported entry header length %d", path, entryHeaderLen)
	}

	dictPos, err := readUint32(f, base+14)
	if err != nil {
		f.Close()
		return nil, err
	}

	dictText, err := readDictionaryText(f, int64(dictPos))
	if err != nil {
		f.Close()
		return nil, err
	}

	dict, err := ParseDictionary(dictText)
	if err != nil {
		f.Close()
		return nil, err
	}

	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, errorf(ErrIOFailed, "seek %q: %v", path, err)
	}

	tree := NewTree(dict, newAllocator(end), f)
	tree.SetRoot(handle(int32(rootPos)))

	return &Container{f: f, path: path, readOnly: readOnly, tree: tree}, nil
}

// flushLocked flushes the tree and, if the root moved, patches the
// header's root pointer. A no-op if nothing is dirty, since Tree.Flush
// already reports that case without doing any work.
func (c *Container) flushLocked() error {
	newRoot, moved, err := c.tree.Flush()
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}
	return writeUint32(c.f, rootPosFieldOffset, uint32(int32(newRoot)))
}

// Flush writes every dirty node to disk and patches the root pointer if it
// moved. A no-op on a read-only container or a clean tree.
func (c *Container) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readOnly {
		return nil
	}
	return c.flushLocked()
}

// Close flushes (if writable and dirty) and releases the file handle.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.readOnly {
		if err := c.flushLocked(); err != nil {
			c.f.Close()
			return err
		}
	}

	if err := c.f.Close(); err != nil {
		return errorf(ErrIOFailed, "close %q: %v", c.path, err)
	}
	return nil
}

// rasterLayers returns root's direct children whose type is Eimg_Layer,
// in sibling order, mirroring HFAParseBandInfo's scan of the root's
// children for band nodes (overview layers are Eimg_Layer_SubSample
// children of those bands, not of root, so they're excluded here).
func rasterLayers(tree *Tree, root handle) ([]handle, error) {
	n, err := tree.get(root)
	if err != nil {
		return nil, err
	}

	var layers []handle
	for h := n.firstChild; h != 0; {
		cn, err := tree.get(h)
		if err != nil {
			return nil, err
		}
		if cn.typeName == "Eimg_Layer" {
			layers = append(layers, h)
		}
		h = cn.next
	}
	return layers, nil
}

// dependentPath derives the .rrd sibling path HFACreateDependent uses:
// same directory and basename as mainPath, .rrd extension.
func dependentPath(mainPath string) string {
	dir := filepath.Dir(mainPath)
	base := filepath.Base(mainPath)
	ext := filepath.Ext(base)
	return filepath.Join(dir, base[:len(base)-len(ext)]+".rrd")
}

// CreateDependent opens the container's .rrd dependent file if it already
// exists, or creates it and links it back to the main file via a
// DependentFile node, per HFACreateDependent.
func (c *Container) CreateDependent() (*Container, error) {
	c.mu.RLock()
	path := c.path
	readOnly := c.readOnly
	c.mu.RUnlock()

	rrdPath := dependentPath(path)

	if _, err := os.Stat(rrdPath); err == nil {
		return Open(rrdPath, readOnly)
	}

	dep, err := Create(rrdPath)
	if err != nil {
		return nil, err
	}

	df, err := dep.tree.NewChild(dep.tree.Root(), "DependentFile", "Eimg_DependentFile")
	if err != nil {
		dep.Close()
		return nil, err
	}
	if err := dep.tree.SetString(df, ":dependent.string", filepath.Base(path)); err != nil {
		dep.Close()
		return nil, err
	}

	return dep, nil
}

// Delete removes the HFA file at path, along with any external raster
// (.ige) file referenced by its first raster layer, per spec §4.8.
func Delete(path string) error {
	c, err := Open(path, true)
	if err != nil {
		return err
	}

	layers, err := rasterLayers(c.tree, c.tree.Root())
	if err != nil {
		c.Close()
		return err
	}

	if len(layers) > 0 {
		ext, _, err := c.tree.Find(layers[0], "ExternalRasterDMS")
		if err != nil && !errors.Is(err, ErrNotFound) {
			c.Close()
			return err
		}
		if err == nil {
			fileName, err := c.tree.String(ext, ":fileName.string")
			if err != nil {
				c.Close()
				return err
			}
			if fileName != "" {
				spillPath := filepath.Join(filepath.Dir(path), fileName)
				if err := os.Remove(spillPath); err != nil && !os.IsNotExist(err) {
					c.Close()
					return errorf(ErrIOFailed, "remove spill file %q: %v", spillPath, err)
				}
			}
		}
	}

	if err := c.Close(); err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		return errorf(ErrIOFailed, "remove %q: %v", path, err)
	}
	return nil
}
