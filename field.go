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
	"encoding/binary"
	"math"
	"strconv"
	"strings"
)

// pathSegment is one "name" or "name[index]" component of a field path
// (spec §4.3). A segment with no bracket defaults Index to 0.
type pathSegment struct {
	Name  string
	Index int
}

// parseFieldPath splits a field path of the form "name[index].name[index]…"
// into its segments. The Node Tree strips any leading "node:" pivot before
// calling into the Field Engine, so no colon ever reaches here.
func parseFieldPath(path string) ([]pathSegment, error) {
	parts := strings.Split(path, ".")
	segs := make([]pathSegment, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, errorf(ErrDictionaryMalformed, "empty field path segment in %q", path)
		}
		seg := pathSegment{Name: part}
		if i := strings.IndexByte(part, '['); i >= 0 {
			if !strings.HasSuffix(part, "]") {
				return nil, errorf(ErrDictionaryMalformed, "malformed index in field path %q", path)
			}
			n, err := strconv.Atoi(part[i+1 : len(part)-1])
			if err != nil {
				return nil, errorf(ErrDictionaryMalformed, "malformed index in field path %q", path)
			}
			seg.Name = part[:i]
			seg.Index = n
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// locateField scans t's fields in order, accumulating each preceding
// field's instance byte length (HFAType::ExtractInstValue's offset-walk),
// and returns the named field along with the buffer slice starting at its
// first byte. The returned slice is not yet pointer-stripped.
func (d *Dictionary) locateField(t *Type, buf []byte, fileOffset int64, name string) (*Field, []byte, int64, error) {
	off := 0
	for _, f := range t.Fields {
		if off >= len(buf) {
			break
		}
		if f.Name == name {
			return f, buf[off:], fileOffset + int64(off), nil
		}
		n, err := d.fieldInstanceBytes(f, buf[off:])
		if err != nil {
			return nil, nil, 0, err
		}
		off += n
	}
	return nil, nil, 0, errorf(ErrNotFound, "field %q not found in type %q", name, t.Name)
}

// walkPath resolves a full field path against t/buf, descending through
// nested object fields a dot at a time (HFAType::ExtractInstValue /
// HFAField::ExtractInstValue's 'o' case combined). It returns the leaf
// field, the buffer slice starting at that field's first byte (still
// including any pointer prefix), and the absolute file offset of that byte
// (spec §4.3's "offset within the file", carried through for the pointer
// prefix's on-disk offset value — the original driver only ever uses it
// for a disabled diagnostic warning, never for correctness of reads).
func (d *Dictionary) walkPath(t *Type, buf []byte, fileOffset int64, segs []pathSegment) (*Field, []byte, int64, error) {
	seg := segs[0]

	f, data, dataOffset, err := d.locateField(t, buf, fileOffset, seg.Name)
	if err != nil {
		return nil, nil, 0, err
	}

	if len(segs) == 1 {
		return f, data, dataOffset, nil
	}

	if f.ItemType != itemObject {
		return nil, nil, 0, errorf(ErrBadType, "field %q is not an object, cannot descend into %q", f.Name, segs[1].Name)
	}
	obj := f.ItemObjectType

	inst := data
	instOffset := dataOffset
	if f.Storage == storagePointerArray || f.Storage == storageInlinePointer {
		if len(inst) < 8 {
			return nil, nil, 0, errorf(ErrTruncated, "pointer prefix for field %q truncated", f.Name)
		}
		inst = inst[8:]
		instOffset += 8
	}

	extra := 0
	if obj.Size >= 0 {
		if seg.Index != 0 && obj.Size > (1<<31-1)/seg.Index {
			return nil, nil, 0, errorf(ErrTooLarge, "object index %d overflows for field %q", seg.Index, f.Name)
		}
		extra = obj.Size * seg.Index
	} else {
		for i := 0; i < seg.Index && extra < len(inst); i++ {
			n, err := d.typeInstanceBytes(obj, inst[extra:])
			if err != nil {
				return nil, nil, 0, err
			}
			extra += n
		}
	}
	if extra >= len(inst) {
		return nil, nil, 0, errorf(ErrOutOfRange, "object index %d out of range for field %q", seg.Index, f.Name)
	}

	return d.walkPath(obj, inst[extra:], instOffset+int64(extra), segs[1:])
}

// fieldInstanceCount returns how many instances of a field's element are
// present, given the buffer starting at the field (pre pointer-strip).
// Mirrors HFAField::GetInstCount.
func (d *Dictionary) fieldInstanceCount(f *Field, data []byte) (int, error) {
	if f.Storage != storagePointerArray && f.Storage != storageInlinePointer {
		return f.ItemCount, nil
	}
	if f.ItemType == itemBaseData {
		if len(data) < 20 {
			return 0, nil
		}
		rows := int32(binary.LittleEndian.Uint32(data[8:12]))
		cols := int32(binary.LittleEndian.Uint32(data[12:16]))
		if rows < 0 || cols < 0 || (cols != 0 && rows > (1<<31-1)/cols) {
			return 0, nil
		}
		return int(rows) * int(cols), nil
	}
	if len(data) < 4 {
		return 0, nil
	}
	return int(int32(binary.LittleEndian.Uint32(data[:4]))), nil
}

// fieldInstanceBytes returns the total encoded size, in bytes, of one
// instance of a field within data. Mirrors HFAField::GetInstBytes.
func (d *Dictionary) fieldInstanceBytes(f *Field, data []byte) (int, error) {
	if f.Storage != storagePointerArray && f.Storage != storageInlinePointer {
		switch f.ItemType {
		case itemObject:
			return d.repeatedObjectBytes(f, data)
		default:
			w, err := d.leafFieldSize(f)
			if err != nil {
				return 0, err
			}
			return w, nil
		}
	}

	if f.ItemType == itemBaseData {
		if len(data) < 20 {
			return 0, errorf(ErrTruncated, "base-data prefix for field %q truncated", f.Name)
		}
		rows := int32(binary.LittleEndian.Uint32(data[8:12]))
		cols := int32(binary.LittleEndian.Uint32(data[12:16]))
		baseType := basedataItemType(int16(binary.LittleEndian.Uint16(data[16:18])))
		if rows < 0 || cols < 0 {
			return 0, errorf(ErrBadType, "negative base-data dimensions for field %q", f.Name)
		}
		bits, err := basedataBits(baseType)
		if err != nil {
			return 0, err
		}
		payload := ((bits + 7) / 8) * int(rows) * int(cols)
		return 20 + payload, nil
	}

	count, err := d.fieldInstanceCount(f, data)
	if err != nil {
		return 0, err
	}
	if f.ItemType == itemObject {
		if len(data) < 8 {
			return 0, errorf(ErrTruncated, "pointer prefix for field %q truncated", f.Name)
		}
		n, err := d.repeatedObjectBytesN(f, data[8:], count)
		if err != nil {
			return 0, err
		}
		return 8 + n, nil
	}

	w, err := primitiveOrEnumBits(f)
	if err != nil {
		return 0, err
	}
	return 8 + (w/8)*count, nil
}

// repeatedObjectBytes sums the nested type's encoded instance size over a
// fixed-count inline object field.
func (d *Dictionary) repeatedObjectBytes(f *Field, data []byte) (int, error) {
	return d.repeatedObjectBytesN(f, data, f.ItemCount)
}

func (d *Dictionary) repeatedObjectBytesN(f *Field, data []byte, count int) (int, error) {
	obj := f.ItemObjectType
	if obj.Size >= 0 {
		return obj.Size * count, nil
	}
	total := 0
	for i := 0; i < count && total < len(data); i++ {
		n, err := d.typeInstanceBytes(obj, data[total:])
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// typeInstanceBytes returns the encoded size of one instance of a whole
// type. Mirrors HFAType::GetInstBytes.
func (d *Dictionary) typeInstanceBytes(t *Type, data []byte) (int, error) {
	if t.Size >= 0 {
		return t.Size, nil
	}
	total := 0
	for _, f := range t.Fields {
		if total >= len(data) {
			break
		}
		n, err := d.fieldInstanceBytes(f, data[total:])
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (d *Dictionary) leafFieldSize(f *Field) (int, error) {
	w, err := primitiveOrEnumBits(f)
	if err != nil {
		return 0, err
	}
	return (w / 8) * f.ItemCount, nil
}

func primitiveOrEnumBits(f *Field) (int, error) {
	if f.ItemType == itemUint16Enum {
		return 16, nil
	}
	return primitiveItemBits(f.ItemType)
}

// InstanceCount returns the number of instances of the field addressed by
// path within t/buf (spec §4.3's instance-count operation). fileOffset is
// the absolute file offset of buf[0], used only when growing a pointer
// prefix's on-disk offset value; pass 0 if the buffer isn't backed by a
// file position.
func (d *Dictionary) InstanceCount(t *Type, buf []byte, fileOffset int64, path string) (int, error) {
	segs, err := parseFieldPath(path)
	if err != nil {
		return 0, err
	}
	f, data, _, err := d.walkPath(t, buf, fileOffset, segs)
	if err != nil {
		return 0, err
	}
	return d.fieldInstanceCount(f, data)
}

// InstanceBytes returns the encoded size of the field addressed by path,
// needed to walk past it (spec §4.3's instance-bytes operation).
func (d *Dictionary) InstanceBytes(t *Type, buf []byte, fileOffset int64, path string) (int, error) {
	segs, err := parseFieldPath(path)
	if err != nil {
		return 0, err
	}
	f, data, _, err := d.walkPath(t, buf, fileOffset, segs)
	if err != nil {
		return 0, err
	}
	return d.fieldInstanceBytes(f, data)
}

// stripPointer consumes the field's 8-byte {count,offset} prefix, if any,
// returning the buffer positioned at the element data.
func stripPointer(f *Field, data []byte) ([]byte, error) {
	if f.Storage != storagePointerArray && f.Storage != storageInlinePointer {
		return data, nil
	}
	if len(data) < 8 {
		return nil, errorf(ErrTruncated, "pointer prefix for field %q truncated", f.Name)
	}
	return data[8:], nil
}

// Extract returns the field addressed by path, converted to the requested
// representation (spec §4.3's extract operation). The returned value's
// concrete type is string for rep==repString, int for repInt, float64 for
// repDouble, and []byte for repRaw.
func (d *Dictionary) Extract(t *Type, buf []byte, fileOffset int64, path string, rep representation) (any, error) {
	segs, err := parseFieldPath(path)
	if err != nil {
		return nil, err
	}
	f, data, _, err := d.walkPath(t, buf, fileOffset, segs)
	if err != nil {
		return nil, err
	}
	index := segs[len(segs)-1].Index

	count, err := d.fieldInstanceCount(f, data)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= count {
		if !(f.ItemType == itemBaseData && index >= -3 && index < 0) {
			return nil, errorf(ErrOutOfRange, "index %d out of range (count %d) for field %q", index, count, f.Name)
		}
	}

	elem, err := stripPointer(f, data)
	if err != nil {
		return nil, err
	}

	if (f.ItemType == itemUint8 || f.ItemType == itemInt8) && rep == repString {
		return cStringFromBytes(elem), nil
	}

	switch f.ItemType {
	case itemUint8, itemInt8:
		if index >= len(elem) {
			return nil, errorf(ErrTruncated, "field %q: buffer too small for index %d", f.Name, index)
		}
		n := int(elem[index])
		if f.ItemType == itemInt8 {
			n = int(int8(elem[index]))
		}
		return convertNumeric(rep, n, float64(n))

	case itemUint16Enum, itemUint16:
		if index*2+2 > len(elem) {
			return nil, errorf(ErrTruncated, "field %q: buffer too small for index %d", f.Name, index)
		}
		n := int(binary.LittleEndian.Uint16(elem[index*2:]))
		if f.ItemType == itemUint16Enum && rep == repString {
			if n >= 0 && n < len(f.EnumNames) {
				return f.EnumNames[n], nil
			}
			return "", errorf(ErrOutOfRange, "enum ordinal %d out of range for field %q", n, f.Name)
		}
		return convertNumeric(rep, n, float64(n))

	case itemInt16:
		if index*2+2 > len(elem) {
			return nil, errorf(ErrTruncated, "field %q: buffer too small for index %d", f.Name, index)
		}
		n := int(int16(binary.LittleEndian.Uint16(elem[index*2:])))
		return convertNumeric(rep, n, float64(n))

	case itemUint32Time, itemUint32:
		if index*4+4 > len(elem) {
			return nil, errorf(ErrTruncated, "field %q: buffer too small for index %d", f.Name, index)
		}
		n := int(binary.LittleEndian.Uint32(elem[index*4:]))
		return convertNumeric(rep, n, float64(n))

	case itemInt32:
		if index*4+4 > len(elem) {
			return nil, errorf(ErrTruncated, "field %q: buffer too small for index %d", f.Name, index)
		}
		n := int(int32(binary.LittleEndian.Uint32(elem[index*4:])))
		return convertNumeric(rep, n, float64(n))

	case itemFloat32:
		if index*4+4 > len(elem) {
			return nil, errorf(ErrTruncated, "field %q: buffer too small for index %d", f.Name, index)
		}
		v := math.Float32frombits(binary.LittleEndian.Uint32(elem[index*4:]))
		return convertNumeric(rep, int(v), float64(v))

	case itemFloat64:
		if index*8+8 > len(elem) {
			return nil, errorf(ErrTruncated, "field %q: buffer too small for index %d", f.Name, index)
		}
		v := getFloat64(elem[index*8:])
		return convertNumeric(rep, int(v), v)

	case itemBaseData:
		return d.extractBaseData(f, elem, index, rep)

	case itemObject:
		if rep == repRaw {
			return elem, nil
		}
		return nil, errorf(ErrBadType, "field %q: object fields require a nested path or %q representation", f.Name, repRaw)

	default:
		return nil, errorf(ErrBadType, "field %q: type %q has no scalar representation", f.Name, rune(f.ItemType))
	}
}

// convertNumeric renders an already-decoded int/double pair as the
// requested representation.
func convertNumeric(rep representation, n int, v float64) (any, error) {
	switch rep {
	case repInt:
		return n, nil
	case repDouble:
		return v, nil
	case repString:
		return strconv.FormatFloat(v, 'g', 14, 64), nil
	default:
		return nil, errorf(ErrBadType, "unsupported representation %q for numeric field", rune(rep))
	}
}

func cStringFromBytes(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// extractBaseData implements the base-data special indices (rows, columns,
// item type) and matrix-cell access described in spec §4.3.
func (d *Dictionary) extractBaseData(f *Field, elem []byte, index int, rep representation) (any, error) {
	if len(elem) < 12 {
		return nil, errorf(ErrTruncated, "base-data prefix for field %q truncated", f.Name)
	}
	rows := int(int32(binary.LittleEndian.Uint32(elem[0:4])))
	cols := int(int32(binary.LittleEndian.Uint32(elem[4:8])))
	baseType := basedataItemType(int16(binary.LittleEndian.Uint16(elem[8:10])))

	switch index {
	case -3:
		return convertNumeric(rep, int(baseType), float64(baseType))
	case -2:
		return convertNumeric(rep, cols, float64(cols))
	case -1:
		return convertNumeric(rep, rows, float64(rows))
	}

	matrix := elem[12:]

	switch baseType {
	case basedataU1:
		byteOff := index >> 3
		if byteOff >= len(matrix) {
			return nil, errorf(ErrTruncated, "base-data field %q: buffer too small for index %d", f.Name, index)
		}
		n := 0
		if matrix[byteOff]&(1<<(uint(index)&7)) != 0 {
			n = 1
		}
		return convertNumeric(rep, n, float64(n))
	case basedataU2:
		byteOff := index >> 2
		if byteOff >= len(matrix) {
			return nil, errorf(ErrTruncated, "base-data field %q: buffer too small for index %d", f.Name, index)
		}
		n := int(matrix[byteOff]>>((uint(index)&3)*2)) & 0x3
		return convertNumeric(rep, n, float64(n))
	case basedataU4:
		byteOff := index >> 1
		if byteOff >= len(matrix) {
			return nil, errorf(ErrTruncated, "base-data field %q: buffer too small for index %d", f.Name, index)
		}
		n := int(matrix[byteOff]>>((uint(index)&1)*4)) & 0xf
		return convertNumeric(rep, n, float64(n))
	case basedataU8:
		if index >= len(matrix) {
			return nil, errorf(ErrTruncated, "base-data field %q: buffer too small for index %d", f.Name, index)
		}
		n := int(matrix[index])
		return convertNumeric(rep, n, float64(n))
	case basedataS8:
		if index >= len(matrix) {
			return nil, errorf(ErrTruncated, "base-data field %q: buffer too small for index %d", f.Name, index)
		}
		n := int(int8(matrix[index]))
		return convertNumeric(rep, n, float64(n))
	case basedataU16:
		if index*2+2 > len(matrix) {
			return nil, errorf(ErrTruncated, "base-data field %q: buffer too small for index %d", f.Name, index)
		}
		n := int(binary.LittleEndian.Uint16(matrix[index*2:]))
		return convertNumeric(rep, n, float64(n))
	case basedataS16:
		if index*2+2 > len(matrix) {
			return nil, errorf(ErrTruncated, "base-data field %q: buffer too small for index %d", f.Name, index)
		}
		n := int(int16(binary.LittleEndian.Uint16(matrix[index*2:])))
		return convertNumeric(rep, n, float64(n))
	case basedataU32:
		if index*4+4 > len(matrix) {
			return nil, errorf(ErrTruncated, "base-data field %q: buffer too small for index %d", f.Name, index)
		}
		n := int(binary.LittleEndian.Uint32(matrix[index*4:]))
		return convertNumeric(rep, n, float64(n))
	case basedataS32:
		if index*4+4 > len(matrix) {
			return nil, errorf(ErrTruncated, "base-data field %q: buffer too small for index %d", f.Name, index)
		}
		n := int(int32(binary.LittleEndian.Uint32(matrix[index*4:])))
		return convertNumeric(rep, n, float64(n))
	case basedataF32:
		if index*4+4 > len(matrix) {
			return nil, errorf(ErrTruncated, "base-data field %q: buffer too small for index %d", f.Name, index)
		}
		v := math.Float32frombits(binary.LittleEndian.Uint32(matrix[index*4:]))
		return convertNumeric(rep, int(v), float64(v))
	case basedataF64:
		if index*8+8 > len(matrix) {
			return nil, errorf(ErrTruncated, "base-data field %q: buffer too small for index %d", f.Name, index)
		}
		v := getFloat64(matrix[index*8:])
		return convertNumeric(rep, int(v), v)
	default:
		return nil, errorf(ErrBadType, "base-data field %q: unsupported item type %d for read", f.Name, baseType)
	}
}

// Assign writes value (already converted to the requested representation)
// into the field addressed by path (spec §4.3's assign operation). For a
// pointer-array field, and for every pointer field the path steps through,
// this may grow the on-disk element count; it never
// grows the backing buffer itself — callers must reallocate via the Node
// Tree's make-data before assigning past the current capacity.
func (d *Dictionary) Assign(t *Type, buf []byte, fileOffset int64, path string, rep representation, value any) error {
	segs, err := parseFieldPath(path)
	if err != nil {
		return err
	}
	f, data, dataOffset, err := d.walkPath(t, buf, fileOffset, segs)
	if err != nil {
		return err
	}

	// Every pointer field the path steps through counts at least as many
	// elements as the index used to step into it (max(count, i+1)).
	for k := 1; k < len(segs); k++ {
		pf, pdata, pOffset, err := d.walkPath(t, buf, fileOffset, segs[:k])
		if err != nil {
			return err
		}
		if pf.Storage == storagePointerArray || pf.Storage == storageInlinePointer {
			if want := uint32(segs[k-1].Index + 1); binary.LittleEndian.Uint32(pdata[0:4]) < want {
				binary.LittleEndian.PutUint32(pdata[0:4], want)
			}
			binary.LittleEndian.PutUint32(pdata[4:8], uint32(pOffset+8))
		}
	}

	index := segs[len(segs)-1].Index

	isPointer := f.Storage == storagePointerArray || f.Storage == storageInlinePointer
	elem := data
	if isPointer {
		if len(data) < 8 {
			return errorf(ErrTruncated, "pointer prefix for field %q truncated", f.Name)
		}

		var newCount uint32
		switch {
		case f.ItemType == itemBaseData:
			newCount = 1
		case (f.ItemType == itemUint8 || f.ItemType == itemInt8) && rep == repString:
			s, _ := value.(string)
			newCount = uint32(len(s) + 1)
		default:
			newCount = uint32(index + 1)
		}

		if int(newCount)+8 > len(data) {
			return errorf(ErrTooLarge, "assign to field %q would exceed current buffer, reallocate first", f.Name)
		}

		cur := binary.LittleEndian.Uint32(data[0:4])
		if cur < newCount {
			binary.LittleEndian.PutUint32(data[0:4], newCount)
		}
		// The on-disk offset value itself is never consulted by the
		// reader (extraction always jumps exactly 8 bytes past the
		// count); it is written for on-disk fidelity with the format's
		// own writer only.
		binary.LittleEndian.PutUint32(data[4:8], uint32(dataOffset+8))
		elem = data[8:]
	}

	if (f.ItemType == itemUint8 || f.ItemType == itemInt8) && rep == repString {
		s, ok := value.(string)
		if !ok {
			return errorf(ErrBadType, "field %q: string assign requires a string value", f.Name)
		}
		n := len(s) + 1
		if !isPointer {
			n = f.ItemCount
		}
		if n > len(elem) {
			return errorf(ErrTooLarge, "assign to field %q would exceed current buffer", f.Name)
		}
		for i := range elem[:n] {
			elem[i] = 0
		}
		copy(elem, s)
		return nil
	}

	n, d64, err := numericFromRep(rep, value)
	if err != nil && !(f.ItemType == itemUint16Enum && rep == repString) {
		return err
	}

	switch f.ItemType {
	case itemUint8, itemInt8:
		if index >= len(elem) {
			return errorf(ErrTooLarge, "assign to field %q index %d exceeds buffer", f.Name, index)
		}
		elem[index] = byte(n)
		return nil
	case itemUint16Enum:
		ord := n
		if rep == repString {
			name, _ := value.(string)
			found := -1
			for i, en := range f.EnumNames {
				if en == name {
					found = i
					break
				}
			}
			if found < 0 {
				return errorf(ErrBadType, "unknown enum name %q for field %q", name, f.Name)
			}
			ord = found
		}
		if index*2+2 > len(elem) {
			return errorf(ErrTooLarge, "assign to field %q index %d exceeds buffer", f.Name, index)
		}
		binary.LittleEndian.PutUint16(elem[index*2:], uint16(ord))
		return nil
	case itemUint16:
		if index*2+2 > len(elem) {
			return errorf(ErrTooLarge, "assign to field %q index %d exceeds buffer", f.Name, index)
		}
		binary.LittleEndian.PutUint16(elem[index*2:], uint16(n))
		return nil
	case itemInt16:
		if index*2+2 > len(elem) {
			return errorf(ErrTooLarge, "assign to field %q index %d exceeds buffer", f.Name, index)
		}
		binary.LittleEndian.PutUint16(elem[index*2:], uint16(int16(n)))
		return nil
	case itemUint32Time, itemUint32:
		if index*4+4 > len(elem) {
			return errorf(ErrTooLarge, "assign to field %q index %d exceeds buffer", f.Name, index)
		}
		binary.LittleEndian.PutUint32(elem[index*4:], uint32(n))
		return nil
	case itemInt32:
		if index*4+4 > len(elem) {
			return errorf(ErrTooLarge, "assign to field %q index %d exceeds buffer", f.Name, index)
		}
		binary.LittleEndian.PutUint32(elem[index*4:], uint32(int32(n)))
		return nil
	case itemFloat32:
		if index*4+4 > len(elem) {
			return errorf(ErrTooLarge, "assign to field %q index %d exceeds buffer", f.Name, index)
		}
		binary.LittleEndian.PutUint32(elem[index*4:], math.Float32bits(float32(d64)))
		return nil
	case itemFloat64:
		if index*8+8 > len(elem) {
			return errorf(ErrTooLarge, "assign to field %q index %d exceeds buffer", f.Name, index)
		}
		putFloat64(elem[index*8:], d64)
		return nil
	case itemBaseData:
		return d.assignBaseData(f, elem, index, d64)
	default:
		return errorf(ErrBadType, "field %q: type %q does not support assign", f.Name, rune(f.ItemType))
	}
}

// assignBaseData supports writing f64 matrix cells, per spec §4.3's
// explicit "writing of f64" requirement; the special indices are
// read-only (rows/columns/item type are fixed at allocation time).
func (d *Dictionary) assignBaseData(f *Field, elem []byte, index int, v float64) error {
	if index < 0 {
		return errorf(ErrUnsupported, "base-data special index %d is read-only for field %q", index, f.Name)
	}
	if len(elem) < 12 {
		return errorf(ErrTruncated, "base-data prefix for field %q truncated", f.Name)
	}
	baseType := basedataItemType(int16(binary.LittleEndian.Uint16(elem[8:10])))
	if baseType != basedataF64 {
		return errorf(ErrUnsupported, "base-data field %q: writing item type %d not supported", f.Name, baseType)
	}
	matrix := elem[12:]
	if index*8+8 > len(matrix) {
		return errorf(ErrTooLarge, "assign to base-data field %q index %d exceeds buffer", f.Name, index)
	}
	putFloat64(matrix[index*8:], v)
	return nil
}

func numericFromRep(rep representation, value any) (int, float64, error) {
	switch rep {
	case repInt:
		n, ok := value.(int)
		if !ok {
			return 0, 0, errorf(ErrBadType, "expected int value")
		}
		return n, float64(n), nil
	case repDouble:
		v, ok := value.(float64)
		if !ok {
			return 0, 0, errorf(ErrBadType, "expected float64 value")
		}
		return int(v), v, nil
	case repString:
		s, ok := value.(string)
		if !ok {
			return 0, 0, errorf(ErrBadType, "expected string value")
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			n, err2 := strconv.Atoi(strings.TrimSpace(s))
			if err2 != nil {
				return 0, 0, errorf(ErrBadType, "cannot convert %q to a number", s)
			}
			return n, float64(n), nil
		}
		return int(v), v, nil
	default:
		return 0, 0, errorf(ErrBadType, "unsupported representation %q for assign", rune(rep))
	}
}
