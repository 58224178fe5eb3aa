/* SPDX-License-Identifier: AGPL-3.0-or-later
 *
 * Zymatik HAL - A hierarchical whole-genome alignment library for Go.
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published
 * by the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

// Package segment implements the top-segment and bottom-segment dense
// array records and the sliced segment iterators that walk them, grounded
// directly on HAL's defaultSegmentIterator / defaultTopSegmentIterator /
// defaultBottomSegmentIterator C++ sources: a segment iterator is a
// (genome, arrayIndex, startOffset, endOffset, reversed) cursor, and
// top/bottom records cross-reference each other through parent, child,
// paralogy and parse indices.
package segment

import (
	"encoding/binary"
	"fmt"

	"github.com/zymatik-com/hal/container"
	"github.com/zymatik-com/hal/halerr"
)

// NullIndex marks an absent cross-reference (parent, child, parse, or
// paralogy index).
const NullIndex = -1

// TopRecord is one row of a genome's top-segment array.
type TopRecord struct {
	StartPosition    int64
	Length           int64
	ParentIndex      int64 // NullIndex if this genome has no parent, or unaligned
	ParentReversed   bool
	BottomParseIndex int64 // NullIndex if this genome has no children
	NextParalogy     int64 // own index if this segment has no paralogs
}

// TopRecordSize is the fixed on-disk size, in bytes, of one TopRecord.
const TopRecordSize = 8 + 8 + 8 + 1 + 8 + 8

// EncodeTop serializes a TopRecord into a TopRecordSize byte slice.
func EncodeTop(r TopRecord) []byte {
	buf := make([]byte, TopRecordSize)
	putInt64(buf[0:8], r.StartPosition)
	putInt64(buf[8:16], r.Length)
	putInt64(buf[16:24], r.ParentIndex)
	putBool(buf[24:25], r.ParentReversed)
	putInt64(buf[25:33], r.BottomParseIndex)
	putInt64(buf[33:41], r.NextParalogy)
	return buf
}

// DecodeTop deserializes a TopRecord.
func DecodeTop(buf []byte) (TopRecord, error) {
	if len(buf) != TopRecordSize {
		return TopRecord{}, fmt.Errorf("top record: want %d bytes, got %d: %w", TopRecordSize, len(buf), halerr.ErrFormatError)
	}
	return TopRecord{
		StartPosition:    getInt64(buf[0:8]),
		Length:           getInt64(buf[8:16]),
		ParentIndex:      getInt64(buf[16:24]),
		ParentReversed:   getBool(buf[24:25]),
		BottomParseIndex: getInt64(buf[25:33]),
		NextParalogy:     getInt64(buf[33:41]),
	}, nil
}

// BottomRecord is one row of a genome's bottom-segment array. The number of
// child slots is fixed per-genome (it equals the genome's child count in
// the tree) and is not itself stored in the record; callers pass it to
// Encode/DecodeBottom.
type BottomRecord struct {
	StartPosition int64
	Length        int64
	TopParseIndex int64 // NullIndex if this genome has no parent
	ChildIndex    []int64
	ChildReversed []bool
}

// BottomRecordSize returns the fixed on-disk size, in bytes, of one
// BottomRecord given the genome's number of child slots.
func BottomRecordSize(numChildren int) int {
	return 8 + 8 + 8 + numChildren*9
}

// EncodeBottom serializes a BottomRecord.
func EncodeBottom(r BottomRecord, numChildren int) ([]byte, error) {
	if len(r.ChildIndex) != numChildren || len(r.ChildReversed) != numChildren {
		return nil, fmt.Errorf("bottom record: expected %d child slots, got %d/%d: %w",
			numChildren, len(r.ChildIndex), len(r.ChildReversed), halerr.ErrInvalidArgument)
	}
	buf := make([]byte, BottomRecordSize(numChildren))
	putInt64(buf[0:8], r.StartPosition)
	putInt64(buf[8:16], r.Length)
	putInt64(buf[16:24], r.TopParseIndex)
	off := 24
	for i := 0; i < numChildren; i++ {
		putInt64(buf[off:off+8], r.ChildIndex[i])
		putBool(buf[off+8:off+9], r.ChildReversed[i])
		off += 9
	}
	return buf, nil
}

// DecodeBottom deserializes a BottomRecord with numChildren child slots.
func DecodeBottom(buf []byte, numChildren int) (BottomRecord, error) {
	want := BottomRecordSize(numChildren)
	if len(buf) != want {
		return BottomRecord{}, fmt.Errorf("bottom record: want %d bytes, got %d: %w", want, len(buf), halerr.ErrFormatError)
	}
	r := BottomRecord{
		StartPosition: getInt64(buf[0:8]),
		Length:        getInt64(buf[8:16]),
		TopParseIndex: getInt64(buf[16:24]),
		ChildIndex:    make([]int64, numChildren),
		ChildReversed: make([]bool, numChildren),
	}
	off := 24
	for i := 0; i < numChildren; i++ {
		r.ChildIndex[i] = getInt64(buf[off : off+8])
		r.ChildReversed[i] = getBool(buf[off+8 : off+9])
		off += 9
	}
	return r, nil
}

func putInt64(b []byte, v int64) { binary.LittleEndian.PutUint64(b, uint64(v)) }
func getInt64(b []byte) int64    { return int64(binary.LittleEndian.Uint64(b)) }
func putBool(b []byte, v bool) {
	if v {
		b[0] = 1
	} else {
		b[0] = 0
	}
}
func getBool(b []byte) bool { return b[0] != 0 }

// Genome is the narrow view of a genome that segment iterators need: its
// own arrays and dimensions. Implemented by package genome; kept here as an
// interface so segment does not import genome (which imports segment).
type Genome interface {
	Name() string
	Length() int
	HasParent() bool
	HasChildren() bool
	NumChildren() int
	TopArray() container.TypedArray
	BottomArray() container.TypedArray
	// TopSegmentCount/BottomSegmentCount return the number of records in
	// the top/bottom segment arrays.
	TopSegmentCount() int
	BottomSegmentCount() int
}

// Resolver lets an iterator cross from one genome to another: to the
// parent genome for toParent, to a named child for toChildG, and to a
// sibling-by-slot for toChild.
type Resolver interface {
	Genome(name string) (Genome, bool)
	ParentName(genome string) (string, bool)
	ChildName(genome string, slot int) (string, bool)
	ChildSlot(genome, child string) (int, bool)
}
