/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package vm

import (
	"math"
	"strconv"
	"strings"
)

// Tag classifies the 8-byte payload word next to it. Values are stored
// tagless: on the stack there is a tag stack alongside the value stack,
// inside a vector the tag list sits next to the word list. Tags below 0x10
// are heap allocated and reference counted.
type Tag byte

const (
	TagString Tag = 0x0
	TagVector Tag = 0x1
	TagRange  Tag = 0x2
	// TagArray is the reserved homogeneous numeric matrix; no producer yet.
	TagArray Tag = 0x3

	TagNumber   Tag = 0x10
	TagGeometry Tag = 0x11
	TagUndef    Tag = 0x12
	TagBoolean  Tag = 0x13
)

func (t Tag) Allocated() bool { return t < 0x10 }

// Value is the (tag, word) pair used at API boundaries. For allocated tags
// the word is an index into the evaluator's heap; inline tags carry their
// payload in the word directly (float64 bits, bool, geometry handle).
type Value struct {
	Tag  Tag
	Word uint64
}

func Number(f float64) Value { return Value{TagNumber, math.Float64bits(f)} }

func Bool(b bool) Value {
	if b {
		return Value{TagBoolean, 1}
	}
	return Value{TagBoolean, 0}
}

func Undef() Value           { return Value{TagUndef, 0} }
func Geometry(h int64) Value { return Value{TagGeometry, uint64(h)} }

func (v Value) Num() float64 { return math.Float64frombits(v.Word) }
func (v Value) Cond() bool   { return v.Word != 0 }

// rangeData is begin/step/end. Step 0 is not rejected at construction;
// iteration treats it as empty after the first element.
type rangeData struct {
	begin, step, end float64
}

// vectorData is the heterogeneous ordered sequence: a tag list next to a
// word list, as in the on-stack representation.
type vectorData struct {
	tags  []Tag
	words []uint64
}

// object is one reference-counted heap cell. The refcount is strictly
// positive while the object is reachable; refs == 1 licenses in-place
// mutation of APPEND/CONCAT.
type object struct {
	refs int32
	tag  Tag
	str  string
	vec  vectorData
	rng  rangeData
}

// Heap owns every allocated value of one evaluator. Payload words index
// into the object table, which keeps the word stack memcpy-able without a
// garbage collector chasing raw pointers through it.
type Heap struct {
	objects []object
	free    []int32
}

func NewHeap() *Heap { return &Heap{} }

func (h *Heap) alloc(tag Tag) int32 {
	if n := len(h.free); n > 0 {
		idx := h.free[n-1]
		h.free = h.free[:n-1]
		h.objects[idx] = object{refs: 1, tag: tag}
		return idx
	}
	h.objects = append(h.objects, object{refs: 1, tag: tag})
	return int32(len(h.objects) - 1)
}

func (h *Heap) AllocString(s string) Value {
	idx := h.alloc(TagString)
	h.objects[idx].str = s
	return Value{TagString, uint64(idx)}
}

func (h *Heap) AllocRange(begin, step, end float64) Value {
	idx := h.alloc(TagRange)
	h.objects[idx].rng = rangeData{begin, step, end}
	return Value{TagRange, uint64(idx)}
}

func (h *Heap) AllocVector() Value {
	idx := h.alloc(TagVector)
	return Value{TagVector, uint64(idx)}
}

func (h *Heap) obj(v Value) *object { return &h.objects[int32(v.Word)] }

func (h *Heap) Str(v Value) string         { return h.obj(v).str }
func (h *Heap) Vec(v Value) *vectorData    { return &h.obj(v).vec }
func (h *Heap) Range(v Value) rangeData    { return h.obj(v).rng }
func (h *Heap) VecLen(v Value) int         { return len(h.obj(v).vec.tags) }
func (h *Heap) VecAt(v Value, i int) Value {
	vec := &h.obj(v).vec
	return Value{vec.tags[i], vec.words[i]}
}

// Unique reports whether v is the sole holder of its heap object.
func (h *Heap) Unique(v Value) bool { return h.obj(v).refs == 1 }

// Copy returns a second owner of the same value: allocated values bump
// their refcount, inline values copy bit for bit.
func (h *Heap) Copy(v Value) Value {
	if v.Tag.Allocated() {
		h.obj(v).refs++
	}
	return v
}

// Drop releases one owner. Dropping the last owner of a vector drops its
// elements recursively and returns the cell to the free list.
func (h *Heap) Drop(v Value) {
	if !v.Tag.Allocated() {
		return
	}
	o := h.obj(v)
	o.refs--
	if o.refs > 0 {
		return
	}
	if o.refs < 0 {
		panic(errInvalid)
	}
	if o.tag == TagVector {
		vec := o.vec
		for i := range vec.tags {
			h.Drop(Value{vec.tags[i], vec.words[i]})
		}
	}
	*o = object{}
	h.free = append(h.free, int32(v.Word))
}

// Append pushes elem onto the vector, mutating in place when vec is the
// sole holder and copying first otherwise. Ownership of elem transfers to
// the vector. Returns the (possibly new) vector value.
func (h *Heap) Append(vec Value, elem Value) Value {
	vec = h.mutable(vec)
	v := &h.obj(vec).vec
	v.tags = append(v.tags, elem.Tag)
	v.words = append(v.words, elem.Word)
	return vec
}

// Concat appends all elements of rhs to vec. rhs is released.
func (h *Heap) Concat(vec Value, rhs Value) Value {
	vec = h.mutable(vec)
	v := &h.obj(vec).vec
	r := h.obj(rhs).vec
	for i := range r.tags {
		elem := h.Copy(Value{r.tags[i], r.words[i]})
		v.tags = append(v.tags, elem.Tag)
		v.words = append(v.words, elem.Word)
	}
	h.Drop(rhs)
	return vec
}

func (h *Heap) mutable(vec Value) Value {
	if h.Unique(vec) {
		return vec
	}
	old := h.obj(vec).vec
	clone := h.AllocVector()
	cv := &h.obj(clone).vec
	cv.tags = append([]Tag(nil), old.tags...)
	cv.words = append([]uint64(nil), old.words...)
	for i := range cv.tags {
		h.Copy(Value{cv.tags[i], cv.words[i]})
	}
	h.Drop(vec)
	return clone
}

// Live counts reachable heap objects; used by refcount conservation tests.
func (h *Heap) Live() int {
	live := 0
	for i := range h.objects {
		if h.objects[i].refs > 0 {
			live++
		}
	}
	return live
}

// Equal is tag-first, then structural on vectors and ranges and strings.
func (h *Heap) Equal(lhs, rhs Value) bool {
	if lhs.Tag != rhs.Tag {
		return false
	}
	switch lhs.Tag {
	case TagNumber:
		return lhs.Num() == rhs.Num()
	case TagBoolean:
		return lhs.Cond() == rhs.Cond()
	case TagGeometry:
		return lhs.Word == rhs.Word
	case TagString:
		return h.Str(lhs) == h.Str(rhs)
	case TagRange:
		return h.Range(lhs) == h.Range(rhs)
	case TagVector:
		l, r := h.Vec(lhs), h.Vec(rhs)
		if len(l.tags) != len(r.tags) {
			return false
		}
		for i := range l.tags {
			if !h.Equal(Value{l.tags[i], l.words[i]}, Value{r.tags[i], r.words[i]}) {
				return false
			}
		}
		return true
	}
	return true // two undefs are equal
}

// Format renders a value the way Echo prints it: numbers with minimal
// round-trip formatting, nan for NaN.
func (h *Heap) Format(v Value) string {
	switch v.Tag {
	case TagNumber:
		f := v.Num()
		if math.IsNaN(f) {
			return "nan"
		}
		if math.IsInf(f, 1) {
			return "inf"
		}
		if math.IsInf(f, -1) {
			return "-inf"
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	case TagBoolean:
		if v.Cond() {
			return "true"
		}
		return "false"
	case TagUndef:
		return "undef"
	case TagGeometry:
		return "geometry(" + strconv.FormatInt(int64(v.Word), 10) + ")"
	case TagString:
		return h.Str(v)
	case TagRange:
		r := h.Range(v)
		var sb strings.Builder
		sb.WriteString("[")
		sb.WriteString(h.Format(Number(r.begin)))
		sb.WriteString(" : ")
		sb.WriteString(h.Format(Number(r.step)))
		sb.WriteString(" : ")
		sb.WriteString(h.Format(Number(r.end)))
		sb.WriteString("]")
		return sb.String()
	case TagVector:
		var sb strings.Builder
		sb.WriteString("[")
		vec := h.Vec(v)
		for i := range vec.tags {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(h.Format(Value{vec.tags[i], vec.words[i]}))
		}
		sb.WriteString("]")
		return sb.String()
	}
	return "?"
}
