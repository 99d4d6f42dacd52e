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
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scalarType(name string, fields ...*Field) *Type {
	t := &Type{Name: name, Fields: fields}
	d := &Dictionary{Types: map[string]*Type{name: t}}
	if err := d.completeType(t, map[string]bool{}); err != nil {
		panic(err)
	}
	return t
}

func TestFieldExtractPrimitive(t *testing.T) {
	typ := scalarType("rowcol",
		&Field{ItemCount: 1, ItemType: itemInt32, Name: "rows"},
		&Field{ItemCount: 1, ItemType: itemInt32, Name: "columns"},
	)
	d := &Dictionary{Types: map[string]*Type{"rowcol": typ}}

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], 512)
	binary.LittleEndian.PutUint32(buf[4:8], 256)

	v, err := d.Extract(typ, buf, 0, "rows", repInt)
	require.NoError(t, err)
	assert.Equal(t, 512, v)

	v, err = d.Extract(typ, buf, 0, "columns", repDouble)
	require.NoError(t, err)
	assert.Equal(t, 256.0, v)
}

func TestFieldExtractEnum(t *testing.T) {
	typ := scalarType("withenum",
		&Field{ItemCount: 1, ItemType: itemUint16Enum, Name: "compression", EnumNames: []string{"none", "rle"}},
	)
	d := &Dictionary{Types: map[string]*Type{"withenum": typ}}

	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, 1)

	v, err := d.Extract(typ, buf, 0, "compression", repString)
	require.NoError(t, err)
	assert.Equal(t, "rle", v)

	v, err = d.Extract(typ, buf, 0, "compression", repInt)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestFieldExtractCString(t *testing.T) {
	typ := scalarType("named",
		&Field{ItemCount: 16, ItemType: itemUint8, Name: "title"},
	)
	d := &Dictionary{Types: map[string]*Type{"named": typ}}

	buf := make([]byte, 16)
	copy(buf, "layer one\x00junk")

	v, err := d.Extract(typ, buf, 0, "title", repString)
	require.NoError(t, err)
	assert.Equal(t, "layer one", v)
}

func TestFieldPointerArrayGrowOnAssign(t *testing.T) {
	typ := scalarType("list",
		&Field{ItemCount: 1, Storage: storagePointerArray, ItemType: itemInt32, Name: "values"},
	)
	d := &Dictionary{Types: map[string]*Type{"list": typ}}

	// 8-byte {count,offset} prefix + room for 4 int32 elements.
	buf := make([]byte, 8+4*4)

	err := d.Assign(typ, buf, 0, "values[2]", repInt, 99)
	require.NoError(t, err)

	count := binary.LittleEndian.Uint32(buf[0:4])
	assert.Equal(t, uint32(3), count)

	v, err := d.Extract(typ, buf, 0, "values[2]", repInt)
	require.NoError(t, err)
	assert.Equal(t, 99, v)
}

func TestFieldPointerArrayTooLarge(t *testing.T) {
	typ := scalarType("list",
		&Field{ItemCount: 1, Storage: storagePointerArray, ItemType: itemInt32, Name: "values"},
	)
	d := &Dictionary{Types: map[string]*Type{"list": typ}}

	buf := make([]byte, 8+4) // room for exactly one element

	err := d.Assign(typ, buf, 0, "values[5]", repInt, 1)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestFieldOutOfRange(t *testing.T) {
	typ := scalarType("rowcol",
		&Field{ItemCount: 1, ItemType: itemInt32, Name: "rows"},
	)
	d := &Dictionary{Types: map[string]*Type{"rowcol": typ}}

	buf := make([]byte, 4)

	_, err := d.Extract(typ, buf, 0, "rows[3]", repInt)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestFieldBaseDataSpecialIndices(t *testing.T) {
	typ := scalarType("matrix",
		&Field{ItemCount: 0, Storage: storagePointerArray, ItemType: itemBaseData, Name: "cells"},
	)
	d := &Dictionary{Types: map[string]*Type{"matrix": typ}}

	rows, cols := 2, 3
	matrixBytes := rows * cols * 8 // f64 cells
	buf := make([]byte, 8+12+matrixBytes)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(rows*cols))
	binary.LittleEndian.PutUint32(buf[4:8], 8) // offset, unused by our reader
	binary.LittleEndian.PutUint32(buf[8:12], uint32(rows))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(cols))
	binary.LittleEndian.PutUint16(buf[16:18], uint16(basedataF64))

	v, err := d.Extract(typ, buf, 0, "cells[-1]", repInt)
	require.NoError(t, err)
	assert.Equal(t, rows, v)

	v, err = d.Extract(typ, buf, 0, "cells[-2]", repInt)
	require.NoError(t, err)
	assert.Equal(t, cols, v)

	v, err = d.Extract(typ, buf, 0, "cells[-3]", repInt)
	require.NoError(t, err)
	assert.Equal(t, int(basedataF64), v)

	err = d.Assign(typ, buf, 0, "cells[4]", repDouble, 3.5)
	require.NoError(t, err)

	v, err = d.Extract(typ, buf, 0, "cells[4]", repDouble)
	require.NoError(t, err)
	assert.Equal(t, 3.5, v)
}

// baseDataBuffer builds a {count,offset,rows,cols,itemType} base-data
// prefix followed by nBytes of matrix storage, matching the layout
// TestFieldBaseDataSpecialIndices constructs by hand.
func baseDataBuffer(baseType basedataItemType, nBytes int) (*Type, *Dictionary, []byte) {
	typ := scalarType("matrix",
		&Field{ItemCount: 0, Storage: storagePointerArray, ItemType: itemBaseData, Name: "cells"},
	)
	d := &Dictionary{Types: map[string]*Type{"matrix": typ}}

	bits, _ := basedataBits(baseType)
	buf := make([]byte, 8+12+nBytes)
	binary.LittleEndian.PutUint32(buf[8:12], 1)                      // rows
	binary.LittleEndian.PutUint32(buf[12:16], uint32(nBytes*8/bits)) // cols
	binary.LittleEndian.PutUint16(buf[16:18], uint16(baseType))
	return typ, d, buf
}

func TestFieldBaseDataU1(t *testing.T) {
	typ, d, buf := baseDataBuffer(basedataU1, 1)
	buf[20] = 0b0000_0101 // bits 0 and 2 set

	for i, want := range []int{1, 0, 1, 0, 0, 0, 0, 0} {
		v, err := d.Extract(typ, buf, 0, "cells["+strconv.Itoa(i)+"]", repInt)
		require.NoError(t, err)
		assert.Equal(t, want, v, "bit %d", i)
	}
}

func TestFieldBaseDataU2(t *testing.T) {
	typ, d, buf := baseDataBuffer(basedataU2, 1)
	// index 0 in the low 2 bits, index 3 in the high 2 bits.
	buf[20] = 0b11_00_01_10

	for i, want := range []int{2, 1, 0, 3} {
		v, err := d.Extract(typ, buf, 0, "cells["+strconv.Itoa(i)+"]", repInt)
		require.NoError(t, err)
		assert.Equal(t, want, v, "index %d", i)
	}
}

func TestFieldBaseDataU4(t *testing.T) {
	typ, d, buf := baseDataBuffer(basedataU4, 2)
	buf[20] = 0xA5 // index 0 -> low nibble 0x5, index 1 -> high nibble 0xA
	buf[21] = 0x0F // index 2 -> low nibble 0xF, index 3 -> high nibble 0x0

	for i, want := range []int{0x5, 0xA, 0xF, 0x0} {
		v, err := d.Extract(typ, buf, 0, "cells["+strconv.Itoa(i)+"]", repInt)
		require.NoError(t, err)
		assert.Equal(t, want, v, "index %d", i)
	}
}

func TestFieldBaseDataU8(t *testing.T) {
	typ, d, buf := baseDataBuffer(basedataU8, 3)
	buf[20], buf[21], buf[22] = 0, 128, 255

	for i, want := range []int{0, 128, 255} {
		v, err := d.Extract(typ, buf, 0, "cells["+strconv.Itoa(i)+"]", repInt)
		require.NoError(t, err)
		assert.Equal(t, want, v, "index %d", i)
	}
}

func TestFieldBaseDataS8(t *testing.T) {
	typ, d, buf := baseDataBuffer(basedataS8, 2)
	buf[20] = byte(int8(-1))
	buf[21] = byte(int8(127))

	v, err := d.Extract(typ, buf, 0, "cells[0]", repInt)
	require.NoError(t, err)
	assert.Equal(t, -1, v)

	v, err = d.Extract(typ, buf, 0, "cells[1]", repInt)
	require.NoError(t, err)
	assert.Equal(t, 127, v)
}

func TestFieldBaseDataU16(t *testing.T) {
	typ, d, buf := baseDataBuffer(basedataU16, 4)
	binary.LittleEndian.PutUint16(buf[20:], 40000)
	binary.LittleEndian.PutUint16(buf[22:], 1)

	v, err := d.Extract(typ, buf, 0, "cells[0]", repInt)
	require.NoError(t, err)
	assert.Equal(t, 40000, v)

	v, err = d.Extract(typ, buf, 0, "cells[1]", repInt)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestFieldBaseDataS16(t *testing.T) {
	typ, d, buf := baseDataBuffer(basedataS16, 2)
	binary.LittleEndian.PutUint16(buf[20:], uint16(int16(-100)))

	v, err := d.Extract(typ, buf, 0, "cells[0]", repInt)
	require.NoError(t, err)
	assert.Equal(t, -100, v)
}

func TestFieldBaseDataU32(t *testing.T) {
	typ, d, buf := baseDataBuffer(basedataU32, 4)
	binary.LittleEndian.PutUint32(buf[20:], 3000000000)

	v, err := d.Extract(typ, buf, 0, "cells[0]", repInt)
	require.NoError(t, err)
	assert.Equal(t, 3000000000, v)
}

func TestFieldBaseDataS32(t *testing.T) {
	typ, d, buf := baseDataBuffer(basedataS32, 4)
	binary.LittleEndian.PutUint32(buf[20:], uint32(int32(-12345)))

	v, err := d.Extract(typ, buf, 0, "cells[0]", repInt)
	require.NoError(t, err)
	assert.Equal(t, -12345, v)
}

func TestFieldBaseDataF32(t *testing.T) {
	typ, d, buf := baseDataBuffer(basedataF32, 4)
	binary.LittleEndian.PutUint32(buf[20:], math.Float32bits(1.5))

	v, err := d.Extract(typ, buf, 0, "cells[0]", repDouble)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, v.(float64), 1e-6)
}

func TestFieldNestedObjectPath(t *testing.T) {
	inner := scalarType("point",
		&Field{ItemCount: 1, ItemType: itemFloat64, Name: "x"},
		&Field{ItemCount: 1, ItemType: itemFloat64, Name: "y"},
	)
	outer := &Type{Name: "box", Fields: []*Field{
		{ItemCount: 1, ItemType: itemObject, Name: "corner", ItemObjectType: inner, itemObjectName: "point"},
	}}
	d := &Dictionary{Types: map[string]*Type{"point": inner, "box": outer}}
	require.NoError(t, d.completeType(outer, map[string]bool{}))

	buf := make([]byte, 16)
	putFloat64(buf[0:8], 1.5)
	putFloat64(buf[8:16], -2.25)

	v, err := d.Extract(outer, buf, 0, "corner.x", repDouble)
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)

	v, err = d.Extract(outer, buf, 0, "corner.y", repDouble)
	require.NoError(t, err)
	assert.Equal(t, -2.25, v)

	err = d.Assign(outer, buf, 0, "corner.y", repDouble, 9.0)
	require.NoError(t, err)

	v, err = d.Extract(outer, buf, 0, "corner.y", repDouble)
	require.NoError(t, err)
	assert.Equal(t, 9.0, v)
}

func TestFieldInstanceCountAndBytes(t *testing.T) {
	typ := scalarType("list",
		&Field{ItemCount: 1, Storage: storagePointerArray, ItemType: itemInt32, Name: "values"},
	)
	d := &Dictionary{Types: map[string]*Type{"list": typ}}

	buf := make([]byte, 8+4*3)
	binary.LittleEndian.PutUint32(buf[0:4], 3)

	count, err := d.InstanceCount(typ, buf, 0, "values")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	n, err := d.InstanceBytes(typ, buf, 0, "values")
	require.NoError(t, err)
	assert.Equal(t, 8+3*4, n)
}
