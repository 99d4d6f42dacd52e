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
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/goburrow/cache"
)

// handle identifies a node. A positive handle is the node's 128-byte
// header's real byte offset in the file, doubling as both identity and
// on-disk address. A negative handle is a synthetic, session-local id for a
// node created but not yet placed by a flush. Zero means "no node".
type handle int64

// node is the in-memory materialization of one 128-byte header plus its
// (possibly lazily loaded) payload. Corresponds to HFAEntry.
type node struct {
	tree *Tree

	mu sync.Mutex

	name     string
	typeName string
	typ      *Type // resolved lazily against tree.dict on first field access

	parent, firstChild, next, prev handle

	payloadOffset int64
	payloadSize   int64
	payload       []byte // non-nil once loaded or once created fresh

	dirty     bool
	destroyed bool
}

// Tree is the node tree of one open container (spec §4.4). A single Tree
// is never shared across goroutines without external synchronization, per
// the concurrency model in spec §5.
type Tree struct {
	dict  *Dictionary
	alloc *allocator
	f     *os.File

	root handle

	mu            sync.Mutex
	dirty         map[handle]*node // nodes with unflushed mutations; never evicted
	cache         cache.LoadingCache
	nextSynthetic int64
	treeDirty     bool
}

// NewTree wires up a node tree over an already-open file, its parsed
// dictionary and its space allocator. Uses a bounded cache.LoadingCache
// keyed by a stable on-disk identity; loadNode below is the loader,
// exercised by every node lookup that misses the dirty set.
func NewTree(dict *Dictionary, alloc *allocator, f *os.File) *Tree {
	t := &Tree{
		dict:  dict,
		alloc: alloc,
		f:     f,
		dirty: make(map[handle]*node),
	}
	t.cache = cache.NewLoadingCache(t.loadNode, cache.WithMaximumSize(4096))
	return t
}

// SetRoot records the root handle read out of an existing file's header.
func (t *Tree) SetRoot(h handle) { t.root = h }

// Root returns the tree's current root handle.
func (t *Tree) Root() handle { return t.root }

// NewRoot creates a fresh, unplaced root node named and typed "root", per
// hfaopen.cpp's `new HFAEntry(psInfo, "root", "root", NULL)`.
func (t *Tree) NewRoot() (handle, error) {
	h, err := t.newNode(0, "root", "root")
	if err != nil {
		return 0, err
	}
	t.root = h
	return h, nil
}

// loadNode is the cache.LoadingCache loader: it reads and decodes the
// 128-byte header at a real (positive) file offset. Called only on a cache
// miss for handles not present in the dirty set.
func (t *Tree) loadNode(key cache.Key) (cache.Value, error) {
	h := key.(handle)

	var buf [entryHeaderLength]byte
	if _, err := t.f.ReadAt(buf[:], int64(h)); err != nil {
		return nil, errorf(ErrIOFailed, "read node header at %d: %v", int64(h), err)
	}

	n := &node{
		tree:          t,
		next:          handle(int32(binary.LittleEndian.Uint32(buf[0:4]))),
		prev:          handle(int32(binary.LittleEndian.Uint32(buf[4:8]))),
		parent:        handle(int32(binary.LittleEndian.Uint32(buf[8:12]))),
		firstChild:    handle(int32(binary.LittleEndian.Uint32(buf[12:16]))),
		payloadOffset: int64(int32(binary.LittleEndian.Uint32(buf[16:20]))),
		payloadSize:   int64(int32(binary.LittleEndian.Uint32(buf[20:24]))),
		name:          cStringFromBytes(buf[24:88]),
		typeName:      cStringFromBytes(buf[88:120]),
	}

	return n, nil
}

// get resolves a handle to its node, checking the dirty set before falling
// through to the bounded read-through cache.
func (t *Tree) get(h handle) (*node, error) {
	if h == 0 {
		return nil, errorf(ErrNotFound, "nil node handle")
	}

	t.mu.Lock()
	if n, ok := t.dirty[h]; ok {
		t.mu.Unlock()
		return n, nil
	}
	t.mu.Unlock()

	if h < 0 {
		return nil, errorf(ErrNotFound, "unplaced node %d is not tracked", int64(h))
	}

	v, err := t.cache.Get(h)
	if err != nil {
		return nil, err
	}
	return v.(*node), nil
}

// markDirty moves a node into the unbounded dirty set, where it will stay
// until the next successful flush.
func (t *Tree) markDirty(h handle, n *node) {
	n.dirty = true
	t.mu.Lock()
	t.dirty[h] = n
	t.treeDirty = true
	t.mu.Unlock()
}

// resolveType looks up and caches a node's record type out of the tree's
// dictionary.
func (n *node) resolveType() (*Type, error) {
	if n.typ != nil {
		return n.typ, nil
	}
	typ, ok := n.tree.dict.Types[n.typeName]
	if !ok {
		return nil, errorf(ErrDictionaryMalformed, "node %q references undefined type %q", n.name, n.typeName)
	}
	n.typ = typ
	return typ, nil
}

// load fetches the node's payload into memory, if not already resident.
func (n *node) load() ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.payload != nil {
		return n.payload, nil
	}
	if n.payloadSize == 0 {
		n.payload = []byte{}
		return n.payload, nil
	}

	buf := make([]byte, n.payloadSize)
	if _, err := n.tree.f.ReadAt(buf, n.payloadOffset); err != nil {
		return nil, errorf(ErrIOFailed, "read node %q payload: %v", n.name, err)
	}
	n.payload = buf
	return n.payload, nil
}

// splitFieldPivot separates a combined "node.path:field.path" string into
// its node-descent half and its Field Engine half, per spec §4.4's
// "`:field` pivots the remaining path string to the Field Engine" rule.
func splitFieldPivot(path string) (nodePath, fieldPath string) {
	if i := strings.IndexByte(path, ':'); i >= 0 {
		return path[:i], path[i+1:]
	}
	return path, ""
}

// Find descends from start through child nodes by name, one dot-separated
// segment at a time, stopping at the first ':' (which begins a Field
// Engine path handed back unparsed). Corresponds to HFAEntry::GetNamedChild
// chained across a path, plus the dictionary's path-addressing convention
// (spec §4.3, §4.4).
func (t *Tree) Find(start handle, path string) (handle, string, error) {
	nodePath, fieldPath := splitFieldPivot(path)

	h := start
	if nodePath != "" {
		for _, seg := range strings.Split(nodePath, ".") {
			next, err := t.childByName(h, seg)
			if err != nil {
				return 0, "", err
			}
			h = next
		}
	}
	return h, fieldPath, nil
}

// childByName performs one step of GetNamedChild: a linear scan of the
// sibling chain starting at parent's first child.
func (t *Tree) childByName(parent handle, name string) (handle, error) {
	p, err := t.get(parent)
	if err != nil {
		return 0, err
	}

	h := p.firstChild
	for h != 0 {
		n, err := t.get(h)
		if err != nil {
			return 0, err
		}
		if n.name == name {
			return h, nil
		}
		h = n.next
	}

	return 0, errorf(ErrNotFound, "no child named %q", name)
}

// newNode allocates a fresh, unplaced node under parent (0 for the root)
// and links it into the parent's sibling chain.
func (t *Tree) newNode(parent handle, name, typeName string) (handle, error) {
	t.mu.Lock()
	t.nextSynthetic--
	h := handle(t.nextSynthetic)
	t.mu.Unlock()

	n := &node{tree: t, name: name, typeName: typeName, parent: parent}
	t.markDirty(h, n)

	if parent != 0 {
		p, err := t.get(parent)
		if err != nil {
			return 0, err
		}
		if p.firstChild == 0 {
			p.firstChild = h
		} else {
			last, err := t.lastChild(p.firstChild)
			if err != nil {
				return 0, err
			}
			last.n.next = h
			n.prev = last.h
			t.markDirty(last.h, last.n)
		}
		t.markDirty(parent, p)
	}

	return h, nil
}

// siblingRef pairs a node with the handle it was resolved from, since a
// node value doesn't carry its own handle.
type siblingRef struct {
	n *node
	h handle
}

// lastChild walks a sibling chain to its end.
func (t *Tree) lastChild(first handle) (*siblingRef, error) {
	h := first
	for {
		n, err := t.get(h)
		if err != nil {
			return nil, err
		}
		if n.next == 0 {
			return &siblingRef{n: n, h: h}, nil
		}
		h = n.next
	}
}

// NewChild creates a named, typed child node under parent (spec §4.4's
// new-child operation). The child is dirty and unplaced until the next
// flush.
func (t *Tree) NewChild(parent handle, name, typeName string) (handle, error) {
	if _, ok := t.dict.Types[typeName]; !ok {
		return 0, errorf(ErrNotFound, "no such type %q in dictionary", typeName)
	}
	return t.newNode(parent, name, typeName)
}

// MakeData reallocates a node's payload to exactly size bytes, preserving
// and zero-extending the existing content, per spec §4.4's make-data
// operation. The node is marked dirty and, since its payload size changed,
// will be assigned a new file position at the next flush.
func (t *Tree) MakeData(h handle, size int) error {
	n, err := t.get(h)
	if err != nil {
		return err
	}

	old, err := n.load()
	if err != nil {
		return err
	}

	buf := make([]byte, size)
	copy(buf, old)

	n.mu.Lock()
	n.payload = buf
	n.payloadSize = int64(size)
	n.payloadOffset = 0 // forces reallocation at flush
	n.mu.Unlock()

	t.markDirty(h, n)
	return nil
}

// RemoveAndDestroy unlinks h from its parent's sibling chain and marks it
// destroyed. The bytes it occupied are abandoned, per the append-only
// allocator (spec §4.5) — there is no free list to return them to.
func (t *Tree) RemoveAndDestroy(h handle) error {
	n, err := t.get(h)
	if err != nil {
		return err
	}
	if n.parent == 0 {
		return errorf(ErrUnsupported, "cannot remove the root node")
	}

	p, err := t.get(n.parent)
	if err != nil {
		return err
	}

	// The on-disk prev pointer is advisory (spec §3); we splice by walking
	// forward from firstChild rather than trusting it.
	if p.firstChild == h {
		p.firstChild = n.next
	} else {
		cur := p.firstChild
		for cur != 0 {
			cn, err := t.get(cur)
			if err != nil {
				return err
			}
			if cn.next == h {
				cn.next = n.next
				t.markDirty(cur, cn)
				break
			}
			cur = cn.next
		}
	}

	t.markDirty(n.parent, p)

	n.mu.Lock()
	n.destroyed = true
	n.mu.Unlock()

	t.mu.Lock()
	delete(t.dirty, h)
	t.mu.Unlock()
	if h > 0 {
		t.cache.Invalidate(h)
	}

	return nil
}

// Flush writes every dirty node to disk, children before parents within
// each subtree, and reports whether the root moved (in which case the
// caller must patch the file header's root pointer). It is a no-op if
// nothing is dirty.
func (t *Tree) Flush() (newRoot handle, rootMoved bool, err error) {
	t.mu.Lock()
	dirty := t.treeDirty
	t.mu.Unlock()
	if !dirty {
		return t.root, false, nil
	}

	placed := make(map[handle]handle) // synthetic -> real, filled during placement
	newRootHandle, err := t.placeAndFlush(t.root, placed)
	if err != nil {
		return 0, false, err
	}

	moved := newRootHandle != t.root
	t.root = newRootHandle

	t.mu.Lock()
	t.treeDirty = false
	t.mu.Unlock()

	return newRootHandle, moved, nil
}

// place assigns a node its final (positive) handle if it doesn't have one
// yet, moving it in the dirty set under the new key. It does not write
// anything to disk.
func (t *Tree) place(h handle, n *node, placed map[handle]handle) handle {
	if h > 0 {
		return h
	}

	final := handle(t.alloc.allocate(entryHeaderLength))
	placed[h] = final

	t.mu.Lock()
	delete(t.dirty, h)
	t.dirty[final] = n
	t.mu.Unlock()

	return final
}

// placeAndFlush places h if needed, then recursively finalizes its
// subtree. Direct children are all placed first, so their next/prev
// sibling pointers can be resolved before any of them is written; each
// child's own subtree is then finalized in turn; this node's header is
// written last, once its firstChild pointer is known to be correct on
// disk. This ordering, not just the recursion itself, is what guarantees
// children's bytes land on disk before their parent's.
func (t *Tree) placeAndFlush(h handle, placed map[handle]handle) (handle, error) {
	n, err := t.get(h)
	if err != nil {
		return 0, err
	}
	final := t.place(h, n, placed)
	if parentFinal, ok := placed[n.parent]; ok {
		n.parent = parentFinal
	}

	var childHandles []handle
	for ch := n.firstChild; ch != 0; {
		cn, err := t.get(ch)
		if err != nil {
			return 0, err
		}
		childHandles = append(childHandles, ch)
		ch = cn.next
	}

	childNodes := make([]*node, len(childHandles))
	childFinals := make([]handle, len(childHandles))
	for i, ch := range childHandles {
		cn, err := t.get(ch)
		if err != nil {
			return 0, err
		}
		childFinals[i] = t.place(ch, cn, placed)
		childNodes[i] = cn
	}

	for i, cn := range childNodes {
		cn.parent = final
		if i > 0 {
			cn.prev = childFinals[i-1]
		} else {
			cn.prev = 0
		}
		if i+1 < len(childNodes) {
			cn.next = childFinals[i+1]
		} else {
			cn.next = 0
		}
	}

	if len(childFinals) > 0 {
		n.firstChild = childFinals[0]
	} else {
		n.firstChild = 0
	}

	for _, cf := range childFinals {
		if _, err := t.placeAndFlush(cf, placed); err != nil {
			return 0, err
		}
	}

	if err := t.writeNode(final, n); err != nil {
		return 0, err
	}

	t.mu.Lock()
	delete(t.dirty, final)
	t.mu.Unlock()

	return final, nil
}

// writeNode persists a node's payload (at a newly allocated position if its
// size changed or it was never placed, in place if it is dirty otherwise)
// and its 128-byte header.
func (t *Tree) writeNode(h handle, n *node) error {
	needsPlacement := n.payloadOffset == 0 && len(n.payload) > 0
	sizeChanged := int64(len(n.payload)) != n.payloadSize
	if n.payload != nil && (needsPlacement || sizeChanged) {
		off := t.alloc.allocate(int64(len(n.payload)))
		if _, err := t.f.WriteAt(n.payload, off); err != nil {
			return errorf(ErrIOFailed, "write node %q payload: %v", n.name, err)
		}
		n.payloadOffset = off
		n.payloadSize = int64(len(n.payload))
	} else if n.dirty && len(n.payload) > 0 {
		if _, err := t.f.WriteAt(n.payload, n.payloadOffset); err != nil {
			return errorf(ErrIOFailed, "write node %q payload: %v", n.name, err)
		}
	}

	var buf [entryHeaderLength]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(n.next)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(int32(n.prev)))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(int32(n.parent)))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(int32(n.firstChild)))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(int32(n.payloadOffset)))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(int32(n.payloadSize)))
	copy(buf[24:88], n.name)
	copy(buf[88:120], n.typeName)

	if _, err := t.f.WriteAt(buf[:], int64(h)); err != nil {
		return errorf(ErrIOFailed, "write node %q header: %v", n.name, err)
	}

	n.dirty = false
	return nil
}

// fieldBuffer resolves a node's payload and record type for handing to the
// Field Engine, along with the node's absolute file offset (0 if the node
// is not yet placed — purely diagnostic, per spec §4.3).
func (t *Tree) fieldBuffer(h handle) (*Type, []byte, int64, error) {
	n, err := t.get(h)
	if err != nil {
		return nil, nil, 0, err
	}
	typ, err := n.resolveType()
	if err != nil {
		return nil, nil, 0, err
	}
	buf, err := n.load()
	if err != nil {
		return nil, nil, 0, err
	}
	off := int64(0)
	if h > 0 {
		off = int64(h)
	}
	return typ, buf, off, nil
}

// resolveField descends the node path, then validates a field path was
// actually given (every typed accessor below requires one).
func (t *Tree) resolveField(start handle, path string) (handle, string, error) {
	h, fieldPath, err := t.Find(start, path)
	if err != nil {
		return 0, "", err
	}
	if fieldPath == "" {
		return 0, "", errorf(ErrBadType, "path %q does not name a field", path)
	}
	return h, fieldPath, nil
}

// Int extracts a field as an integer. Corresponds to HFAEntry::GetIntField;
// a missing node or field surfaces as an error wrapping ErrNotFound, which
// the caller may choose to ignore.
func (t *Tree) Int(start handle, path string) (int, error) {
	h, fieldPath, err := t.resolveField(start, path)
	if err != nil {
		return 0, err
	}
	typ, buf, off, err := t.fieldBuffer(h)
	if err != nil {
		return 0, err
	}
	v, err := t.dict.Extract(typ, buf, off, fieldPath, repInt)
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// BigInt extracts a field as a 64-bit integer, widened from the same
// extraction path as Int. No integer field in the dictionary grammar is
// wider than 32 bits, but callers that bridge to a 64-bit host type (file
// offsets, timestamps) want the larger return type rather than relying on
// Go's int, whose width depends on the platform.
func (t *Tree) BigInt(start handle, path string) (int64, error) {
	v, err := t.Int(start, path)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// Double extracts a field as a float64. Corresponds to
// HFAEntry::GetDoubleField.
func (t *Tree) Double(start handle, path string) (float64, error) {
	h, fieldPath, err := t.resolveField(start, path)
	if err != nil {
		return 0, err
	}
	typ, buf, off, err := t.fieldBuffer(h)
	if err != nil {
		return 0, err
	}
	v, err := t.dict.Extract(typ, buf, off, fieldPath, repDouble)
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// String extracts a field as a string. Corresponds to
// HFAEntry::GetStringField.
func (t *Tree) String(start handle, path string) (string, error) {
	h, fieldPath, err := t.resolveField(start, path)
	if err != nil {
		return "", err
	}
	typ, buf, off, err := t.fieldBuffer(h)
	if err != nil {
		return "", err
	}
	v, err := t.dict.Extract(typ, buf, off, fieldPath, repString)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// FieldCount reports a field's instance count (spec §4.3's
// instance-count operation, exposed at node-tree granularity).
func (t *Tree) FieldCount(start handle, path string) (int, error) {
	h, fieldPath, err := t.resolveField(start, path)
	if err != nil {
		return 0, err
	}
	typ, buf, off, err := t.fieldBuffer(h)
	if err != nil {
		return 0, err
	}
	return t.dict.InstanceCount(typ, buf, off, fieldPath)
}

// assignGrowthAttempts bounds how many times assign will double a node's
// payload before giving up. A pointer field's on-disk count is a plain
// 32-bit word; this is just a sane bound on reallocation attempts, not a
// format limit.
const assignGrowthAttempts = 24

// assign is the shared implementation behind SetInt/SetDouble/SetString:
// it resolves the node and field, then retries through MakeData growth
// whenever the payload is currently too small to hold the new instance,
// mirroring HFAField::SetInstValue's call out to HFAEntry::MakeData.
func (t *Tree) assign(start handle, path string, rep representation, value any) error {
	h, fieldPath, err := t.resolveField(start, path)
	if err != nil {
		return err
	}

	// A fixed-size record type's minimum payload length is known up front;
	// pre-size it so a brand new node's empty payload doesn't surface as
	// "field not found" before Assign ever gets a chance to report
	// ErrTooLarge. A variable-size type (anything with a pointer or
	// base-data field) starts from a 64-byte payload and then relies on
	// the grow-and-retry loop below, since its required size depends on
	// the runtime index. A field that lies wholly past the end of a
	// non-empty payload still reports ErrNotFound and is not grown.
	typ, buf, _, err := t.fieldBuffer(h)
	if err != nil {
		return err
	}
	if typ.Size >= 0 && len(buf) < typ.Size {
		if err := t.MakeData(h, typ.Size); err != nil {
			return err
		}
	} else if typ.Size < 0 && len(buf) == 0 {
		if err := t.MakeData(h, 64); err != nil {
			return err
		}
	}

	for attempt := 0; attempt < assignGrowthAttempts; attempt++ {
		typ, buf, off, err := t.fieldBuffer(h)
		if err != nil {
			return err
		}

		err = t.dict.Assign(typ, buf, off, fieldPath, rep, value)
		if err == nil {
			t.markDirtyHandle(h)
			return nil
		}
		if !errors.Is(err, ErrTooLarge) && !errors.Is(err, ErrTruncated) && !errors.Is(err, ErrOutOfRange) {
			return err
		}

		if err := t.MakeData(h, len(buf)*2+64); err != nil {
			return err
		}
	}

	return errorf(ErrTooLarge, "field %q did not fit after %d growth attempts", path, assignGrowthAttempts)
}

// markDirtyHandle marks an already-resolved node handle dirty, for callers
// (like assign) that mutate a payload buffer obtained via fieldBuffer
// in place rather than through MakeData.
func (t *Tree) markDirtyHandle(h handle) {
	n, err := t.get(h)
	if err != nil {
		return
	}
	t.markDirty(h, n)
}

// SetInt assigns an integer field. Corresponds to the write side of
// HFAEntry's typed accessors (the original driver is read-mostly; spec
// §4.4 adds the write counterpart for each typed wrapper).
func (t *Tree) SetInt(start handle, path string, v int) error {
	return t.assign(start, path, repInt, v)
}

// SetDouble assigns a float64 field.
func (t *Tree) SetDouble(start handle, path string, v float64) error {
	return t.assign(start, path, repDouble, v)
}

// SetString assigns a string field.
func (t *Tree) SetString(start handle, path string, v string) error {
	return t.assign(start, path, repString, v)
}
