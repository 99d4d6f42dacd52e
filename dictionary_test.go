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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDictionarySimpleType(t *testing.T) {
	d, err := ParseDictionary("{1:lwidth,1:lheight,}Rect,.")
	require.NoError(t, err)

	typ, ok := d.Types["Rect"]
	require.True(t, ok)
	require.Len(t, typ.Fields, 2)
	assert.Equal(t, "width", typ.Fields[0].Name)
	assert.Equal(t, "height", typ.Fields[1].Name)
	assert.Equal(t, 8, typ.Size) // two 4-byte itemUint32 fields
}

func TestParseDictionaryEnumField(t *testing.T) {
	d, err := ParseDictionary("{1:e2:no,yes,flag,}Switch,.")
	require.NoError(t, err)

	typ := d.Types["Switch"]
	require.Len(t, typ.Fields, 1)
	assert.Equal(t, []string{"no", "yes"}, typ.Fields[0].EnumNames)
	assert.Equal(t, 2, typ.Size) // uint16 ordinal
}

func TestParseDictionaryObjectReferenceResolvesSize(t *testing.T) {
	d, err := ParseDictionary("{1:ddx,1:ddy,}Point,{1:oPoint,origin,}Box,.")
	require.NoError(t, err)

	point := d.Types["Point"]
	assert.Equal(t, 16, point.Size) // two 8-byte itemFloat64 fields

	box := d.Types["Box"]
	require.Len(t, box.Fields, 1)
	require.NotNil(t, box.Fields[0].ItemObjectType)
	assert.Equal(t, "Point", box.Fields[0].ItemObjectType.Name)
	assert.Equal(t, 16, box.Size)
}

func TestParseDictionaryInlineObjectField(t *testing.T) {
	d, err := ParseDictionary("{1:x{1:ddx,1:ddy,}Point,origin,}Box,.")
	require.NoError(t, err)

	box := d.Types["Box"]
	require.Len(t, box.Fields, 1)
	require.NotNil(t, box.Fields[0].ItemObjectType)
	assert.Equal(t, 16, box.Size)
}

func TestParseDictionaryPointerArrayIsVariableSize(t *testing.T) {
	d, err := ParseDictionary("{0:pclabel,}Item,.")
	require.NoError(t, err)

	typ := d.Types["Item"]
	require.Len(t, typ.Fields, 1)
	assert.Equal(t, storageInlinePointer, typ.Fields[0].Storage)
	assert.Equal(t, variableSize, typ.Size)
}

func TestParseDictionaryUnknownObjectTypeErrors(t *testing.T) {
	_, err := ParseDictionary("{1:oMissing,ref,}Thing,.")
	assert.ErrorIs(t, err, ErrDictionaryMalformed)
}

func TestParseDictionaryMissingOpeningBraceErrors(t *testing.T) {
	_, err := ParseDictionary("1:lwidth,}Thing,.")
	assert.ErrorIs(t, err, ErrDictionaryMalformed)
}

func TestParseDictionaryUnterminatedTypeErrors(t *testing.T) {
	_, err := ParseDictionary("{1:lwidth,1:lheight,")
	assert.ErrorIs(t, err, ErrDictionaryMalformed)
}

func TestParseDictionaryBadPrimitiveTypeCodeErrors(t *testing.T) {
	_, err := ParseDictionary("{1:qbogus,}Thing,.")
	assert.ErrorIs(t, err, ErrDictionaryMalformed)
}

func TestParseDictionaryBadEnumCountErrors(t *testing.T) {
	_, err := ParseDictionary("{1:e999999:a,}Thing,.")
	assert.ErrorIs(t, err, ErrDictionaryMalformed)
}

// TestCompleteTypeSelfReferentialCycle exercises completeType's
// inProgress guard directly: a type whose only field refers back to
// itself must resolve to variableSize rather than recursing forever.
func TestCompleteTypeSelfReferentialCycle(t *testing.T) {
	node := &Type{Name: "Node", Fields: []*Field{
		{ItemCount: 1, ItemType: itemObject, Name: "next", itemObjectName: "Node"},
	}}
	d := &Dictionary{Types: map[string]*Type{"Node": node}}

	err := d.completeType(node, map[string]bool{})
	require.NoError(t, err)
	assert.Equal(t, variableSize, node.Size)
}

// TestCompleteTypeMutualCycle checks the same guard across two types
// that reference each other rather than a single type referencing
// itself.
func TestCompleteTypeMutualCycle(t *testing.T) {
	a := &Type{Name: "A", Fields: []*Field{
		{ItemCount: 1, ItemType: itemObject, Name: "b", itemObjectName: "B"},
	}}
	b := &Type{Name: "B", Fields: []*Field{
		{ItemCount: 1, ItemType: itemObject, Name: "a", itemObjectName: "A"},
	}}
	d := &Dictionary{Types: map[string]*Type{"A": a, "B": b}}

	err := d.completeType(a, map[string]bool{})
	require.NoError(t, err)
	assert.Equal(t, variableSize, a.Size)
	assert.Equal(t, variableSize, b.Size)
}
