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
	"strconv"
	"strings"
)

// Field is one member of a Type, as parsed out of the dictionary text.
// Corresponds to HFAField in the original driver.
type Field struct {
	ItemCount      int
	Storage        itemStorage
	ItemType       itemType
	Name           string
	EnumNames      []string
	ItemObjectType *Type // resolved after the whole dictionary is parsed
	itemObjectName string
}

// Type is one record type defined in the dictionary. Corresponds to HFAType.
type Type struct {
	Name   string
	Fields []*Field
	Size   int // variableSize if any field is variable length
}

// Dictionary is the parsed, named registry of record types embedded in an
// HFA file. Corresponds to HFADictionary.
type Dictionary struct {
	Types map[string]*Type
	order []string // declaration order, for round-tripping on write
}

// ParseDictionary parses the dictionary grammar described in spec §4.2.
func ParseDictionary(text string) (*Dictionary, error) {
	d := &Dictionary{Types: make(map[string]*Type)}

	p := &dictParser{s: text}
	for {
		p.skipSpace()
		if p.done() || p.peek() == '.' {
			break
		}

		t, err := p.parseType()
		if err != nil {
			return nil, err
		}

		d.Types[t.Name] = t
		d.order = append(d.order, t.Name)
	}

	for _, name := range d.order {
		if err := d.completeType(d.Types[name], map[string]bool{}); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// completeType resolves item_object_type references and computes each
// type's instance size, following HFAType::CompleteDefn. inProgress guards
// against infinite recursion on (legitimately) self-referential types by
// treating a type still being completed as variable size, matching the
// original driver's tolerance of recursive definitions.
func (d *Dictionary) completeType(t *Type, inProgress map[string]bool) error {
	if t.Size != 0 {
		return nil
	}
	if inProgress[t.Name] {
		t.Size = variableSize
		return nil
	}
	inProgress[t.Name] = true
	defer delete(inProgress, t.Name)

	total := 0
	for _, f := range t.Fields {
		size, err := d.fieldSize(f, inProgress)
		if err != nil {
			return err
		}
		if size < 0 || total < 0 {
			total = variableSize
		} else {
			total += size
		}
	}

	if total == 0 {
		// A type with zero declared bytes (e.g. no fields) is still
		// fixed size, just empty; only an explicit variable member
		// forces variableSize.
		t.Size = 0
	} else {
		t.Size = total
	}

	return nil
}

// fieldSize returns the fixed per-instance byte size of a field, or
// variableSize if it cannot be known until the field is materialized.
func (d *Dictionary) fieldSize(f *Field, inProgress map[string]bool) (int, error) {
	if f.Storage == storagePointerArray || f.Storage == storageInlinePointer {
		return variableSize, nil
	}

	switch f.ItemType {
	case itemBaseData:
		return variableSize, nil
	case itemObject, itemInlineObj:
		obj := f.ItemObjectType
		if obj == nil {
			obj = d.Types[f.itemObjectName]
			if obj == nil {
				return 0, errorf(ErrDictionaryMalformed, "unknown object type %q referenced by field %q", f.itemObjectName, f.Name)
			}
			f.ItemObjectType = obj
		}
		if err := d.completeType(obj, inProgress); err != nil {
			return 0, err
		}
		if obj.Size < 0 {
			return variableSize, nil
		}
		return obj.Size * f.ItemCount, nil
	case itemUint16Enum:
		return 2 * f.ItemCount, nil
	default:
		w, err := primitiveItemBits(f.ItemType)
		if err != nil {
			return 0, err
		}
		// Bit-packed pixel codes never appear as record field types; this
		// branch only fires for byte-aligned primitives.
		return (w / 8) * f.ItemCount, nil
	}
}

// primitiveItemBits returns the bit width of a primitive dictionary item
// type code (spec §3's width table).
func primitiveItemBits(it itemType) (int, error) {
	switch it {
	case itemBit1:
		return 1, nil
	case itemBit2:
		return 2, nil
	case itemBit4:
		return 4, nil
	case itemUint8, itemInt8:
		return 8, nil
	case itemUint16, itemInt16:
		return 16, nil
	case itemUint32Time, itemUint32, itemInt32, itemFloat32:
		return 32, nil
	case itemFloat64, itemComplex64:
		return 64, nil
	case itemComplex128:
		return 128, nil
	default:
		return 0, errorf(ErrDictionaryMalformed, "unknown primitive type code %q", rune(it))
	}
}

// dictParser is a small hand-rolled recursive-descent parser over the
// dictionary grammar in spec §4.2. Whitespace is insignificant between
// tokens; the grammar itself is comma/brace delimited.
type dictParser struct {
	s   string
	pos int
}

func (p *dictParser) done() bool { return p.pos >= len(p.s) }

func (p *dictParser) peek() byte {
	if p.done() {
		return 0
	}
	return p.s[p.pos]
}

func (p *dictParser) skipSpace() {
	for !p.done() && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t' || p.s[p.pos] == '\n' || p.s[p.pos] == '\r') {
		p.pos++
	}
}

func (p *dictParser) expect(c byte) error {
	p.skipSpace()
	if p.done() || p.s[p.pos] != c {
		return errorf(ErrDictionaryMalformed, "expected %q at offset %d", c, p.pos)
	}
	p.pos++
	return nil
}

// readUntil consumes bytes up to (not including) the next occurrence of any
// byte in delims, failing if the string ends first (unterminated string).
func (p *dictParser) readUntil(delims string) (string, error) {
	start := p.pos
	for !p.done() && !strings.ContainsRune(delims, rune(p.s[p.pos])) {
		p.pos++
	}
	if p.done() {
		return "", errorf(ErrDictionaryMalformed, "unterminated token starting at offset %d", start)
	}
	return p.s[start:p.pos], nil
}

func (p *dictParser) readInt() (int, error) {
	start := p.pos
	if !p.done() && (p.s[p.pos] == '-' || p.s[p.pos] == '+') {
		p.pos++
	}
	for !p.done() && p.s[p.pos] >= '0' && p.s[p.pos] <= '9' {
		p.pos++
	}
	if p.pos == start {
		return 0, errorf(ErrDictionaryMalformed, "expected integer at offset %d", start)
	}
	return strconv.Atoi(p.s[start:p.pos])
}

// parseType parses one "{field_def+}ident," type_def.
func (p *dictParser) parseType() (*Type, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}

	t := &Type{}
	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.pos++
			break
		}

		f, err := p.parseField()
		if err != nil {
			return nil, err
		}
		t.Fields = append(t.Fields, f)
	}

	name, err := p.readUntil(",")
	if err != nil {
		return nil, err
	}
	p.pos++ // consume ','
	t.Name = name

	return t, nil
}

// parseField parses one field_def: count ":" ptr? item ident ",".
func (p *dictParser) parseField() (*Field, error) {
	p.skipSpace()

	f := &Field{ItemCount: 1, Storage: storageInline}

	n, err := p.readInt()
	if err != nil {
		return nil, err
	}
	f.ItemCount = n
	if err := p.expect(':'); err != nil {
		return nil, err
	}

	// An optional pointer marker follows the count: "*" is a pointer-array
	// field proper, "p" is its inline-declared sibling (used by the
	// dictionary for fields like "0:pdparams" and "0:poEdms_...,blockinfo").
	// Both share the same on-disk {count,offset} layout (spec §3); the two
	// spellings are a texture of the original grammar, not a semantic
	// difference the Field Engine needs to preserve.
	switch p.peek() {
	case '*':
		f.Storage = storagePointerArray
		p.pos++
	case 'p':
		f.Storage = storageInlinePointer
		p.pos++
	}

	if p.done() {
		return nil, errorf(ErrDictionaryMalformed, "truncated field definition at offset %d", p.pos)
	}

	itemCode := itemType(p.s[p.pos])
	f.ItemType = itemCode
	p.pos++

	switch itemCode {
	case itemObject, itemInlineObj:
		if itemCode == itemInlineObj {
			inner, err := p.parseInlineType()
			if err != nil {
				return nil, err
			}
			f.ItemObjectType = inner
			f.itemObjectName = inner.Name
			f.ItemType = itemObject
		} else {
			name, err := p.readUntil(",")
			if err != nil {
				return nil, err
			}
			p.pos++
			f.itemObjectName = name
		}
	case itemUint16Enum:
		count, err := p.readInt()
		if err != nil {
			return nil, err
		}
		if count < 0 || count > 100000 {
			return nil, errorf(ErrDictionaryMalformed, "enum count %d out of range", count)
		}
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		for i := 0; i < count; i++ {
			name, err := p.readUntil(",")
			if err != nil {
				return nil, err
			}
			p.pos++
			f.EnumNames = append(f.EnumNames, name)
		}
	case itemBaseData:
		// No inline grammar of its own; the 12-byte prefix + matrix
		// layout (spec §3) is resolved at instance time by the Field
		// Engine, not by the dictionary.
	default:
		if _, err := primitiveItemBits(itemCode); err != nil {
			return nil, err
		}
	}

	name, err := p.readUntil(",")
	if err != nil {
		return nil, err
	}
	p.pos++
	f.Name = name

	return f, nil
}

// parseInlineType parses an "x" field's anonymous inline type, which has
// the same {field_def+}name, shape as a top-level type_def and behaves
// exactly like an "o" reference once parsed (spec §3).
func (p *dictParser) parseInlineType() (*Type, error) {
	return p.parseType()
}
