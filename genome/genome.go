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

// Package genome implements one taxonomic unit of a hal alignment: its
// sequence directory, packed DNA array, and top/bottom segment arrays, all
// backed by named container.TypedArrays opened from a container.Backend.
package genome

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zymatik-com/hal/container"
	"github.com/zymatik-com/hal/dna"
	"github.com/zymatik-com/hal/halerr"
	"github.com/zymatik-com/hal/segment"
)

// Sequence is a named, half-open range of a genome's coordinate space, and
// the index range of top/bottom segments it covers. A sequence does not
// own bases -- it is a view onto its genome's DNA and segment arrays.
type Sequence struct {
	Name   string
	Start  int
	Length int

	TopStart, TopEnd       int // half-open index range into the genome's top array
	BottomStart, BottomEnd int // half-open index range into the genome's bottom array
}

// End returns the sequence's exclusive end position.
func (s Sequence) End() int { return s.Start + s.Length }

// Genome is one node of the alignment tree: metadata, sequences, DNA, and
// (if the tree gives it a parent/children) segment arrays.
type Genome struct {
	name     string
	backend  container.Backend
	resolver segment.Resolver

	length      int
	sequences   []Sequence
	numChildren int

	dnaArray    container.TypedArray
	topArray    container.TypedArray
	bottomArray container.TypedArray

	meta    container.KVGroup
	seqMeta container.KVGroup
}

// Open opens (or, for a newly created alignment, attaches to) the named
// arrays for genome name within backend. numChildren is the genome's
// current child count in the tree (0 for leaves), used to size bottom
// records; hasParent controls whether a top array is expected.
func Open(backend container.Backend, resolver segment.Resolver, name string, hasParent bool, numChildren int) (*Genome, error) {
	g := &Genome{
		name:        name,
		backend:     backend,
		resolver:    resolver,
		numChildren: numChildren,
		meta:        backend.Meta("Genomes/" + name + "/meta"),
		seqMeta:     backend.Meta("Genomes/" + name + "/sequences"),
	}

	dnaArr, ok, err := backend.OpenArray(arrayName(name, "dna"))
	if err != nil {
		return nil, err
	}
	if ok {
		g.dnaArray = dnaArr
		g.length = dnaArr.Len() * 2
	}

	if hasParent {
		topArr, ok, err := backend.OpenArray(arrayName(name, "top"))
		if err != nil {
			return nil, err
		}
		if ok {
			g.topArray = topArr
		}
	}
	if numChildren > 0 {
		bottomArr, ok, err := backend.OpenArray(arrayName(name, "bottom"))
		if err != nil {
			return nil, err
		}
		if ok {
			g.bottomArray = bottomArr
		}
	}

	if err := g.loadSequenceDirectory(); err != nil {
		return nil, err
	}
	if n := len(g.sequences); n > 0 {
		g.length = g.sequences[n-1].End()
	}
	return g, nil
}

func arrayName(genome, kind string) string {
	return fmt.Sprintf("Genomes/%s/%sArray", genome, kind)
}

// Create allocates a brand new genome's arrays with the given total length
// (sum of sequence lengths) and dimensions.
func Create(backend container.Backend, resolver segment.Resolver, name string, length int, hasParent bool, numChildren int) (*Genome, error) {
	if backend.ReadOnly() {
		return nil, fmt.Errorf("create genome %q: %w", name, halerr.ErrWriteDenied)
	}
	g := &Genome{
		name:        name,
		backend:     backend,
		resolver:    resolver,
		numChildren: numChildren,
		length:      length,
		meta:        backend.Meta("Genomes/" + name + "/meta"),
		seqMeta:     backend.Meta("Genomes/" + name + "/sequences"),
	}

	dnaArr, err := backend.CreateArray(arrayName(name, "dna"), container.ArrayBytes, 1, dna.DefaultFetchGranularity/2, (length+1)/2)
	if err != nil {
		return nil, err
	}
	g.dnaArray = dnaArr

	if hasParent {
		topArr, err := backend.CreateArray(arrayName(name, "top"), container.ArrayTopSegment, segment.TopRecordSize, 4096, 0)
		if err != nil {
			return nil, err
		}
		g.topArray = topArr
	}
	if numChildren > 0 {
		recSize := segment.BottomRecordSize(numChildren)
		bottomArr, err := backend.CreateArray(arrayName(name, "bottom"), container.ArrayBottomSegment, recSize, 4096, 0)
		if err != nil {
			return nil, err
		}
		g.bottomArray = bottomArr
	}
	return g, nil
}

// seqOrderKey is the seqMeta key holding the comma-joined, coordinate-order
// sequence names; seqMeta's remaining keys are per-sequence encoded rows.
const seqOrderKey = "__order__"

func (g *Genome) loadSequenceDirectory() error {
	order, ok, err := g.seqMeta.Get(seqOrderKey)
	if err != nil {
		return err
	}
	if !ok || order == "" {
		return nil
	}
	names := strings.Split(order, ",")
	seqs := make([]Sequence, 0, len(names))
	for _, name := range names {
		row, ok, err := g.seqMeta.Get(name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("sequence directory of %q missing row for %q: %w", g.name, name, halerr.ErrFormatError)
		}
		seq, err := decodeSequenceRow(name, row)
		if err != nil {
			return err
		}
		seqs = append(seqs, seq)
	}
	g.sequences = seqs
	return nil
}

func encodeSequenceRow(s Sequence) string {
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", s.Start, s.Length, s.TopStart, s.TopEnd, s.BottomStart, s.BottomEnd)
}

func decodeSequenceRow(name, row string) (Sequence, error) {
	var s Sequence
	s.Name = name
	n, err := fmt.Sscanf(row, "%d,%d,%d,%d,%d,%d", &s.Start, &s.Length, &s.TopStart, &s.TopEnd, &s.BottomStart, &s.BottomEnd)
	if err != nil || n != 6 {
		return Sequence{}, fmt.Errorf("malformed sequence directory row for %q: %w", name, halerr.ErrFormatError)
	}
	return s, nil
}

func (g *Genome) persistSequenceDirectory() error {
	names := make([]string, len(g.sequences))
	for i, s := range g.sequences {
		names[i] = s.Name
		if err := g.seqMeta.Set(s.Name, encodeSequenceRow(s)); err != nil {
			return err
		}
	}
	return g.seqMeta.Set(seqOrderKey, strings.Join(names, ","))
}

// Name returns the genome's name.
func (g *Genome) Name() string { return g.name }

// Length returns the genome's total base length.
func (g *Genome) Length() int { return g.length }

// HasParent reports whether this genome has a top-segment array.
func (g *Genome) HasParent() bool { return g.topArray != nil }

// HasChildren reports whether this genome has a bottom-segment array.
func (g *Genome) HasChildren() bool { return g.bottomArray != nil }

// NumChildren returns the fixed number of child slots in bottom records.
func (g *Genome) NumChildren() int { return g.numChildren }

// TopArray returns the backing top-segment array, or nil if HasParent is false.
func (g *Genome) TopArray() container.TypedArray { return g.topArray }

// BottomArray returns the backing bottom-segment array, or nil if HasChildren is false.
func (g *Genome) BottomArray() container.TypedArray { return g.bottomArray }

// TopSegmentCount returns the number of top-segment records.
func (g *Genome) TopSegmentCount() int {
	if g.topArray == nil {
		return 0
	}
	return g.topArray.Len()
}

// BottomSegmentCount returns the number of bottom-segment records.
func (g *Genome) BottomSegmentCount() int {
	if g.bottomArray == nil {
		return 0
	}
	return g.bottomArray.Len()
}

// Sequences returns the genome's sequence directory, in coordinate order.
func (g *Genome) Sequences() []Sequence {
	out := make([]Sequence, len(g.sequences))
	copy(out, g.sequences)
	return out
}

// SetSequences installs the genome's sequence directory. Sequences must be
// disjoint, contiguous, start at 0, and span exactly Length() bases.
func (g *Genome) SetSequences(seqs []Sequence) error {
	if g.backend.ReadOnly() {
		return fmt.Errorf("set sequences of %q: %w", g.name, halerr.ErrWriteDenied)
	}
	sorted := make([]Sequence, len(seqs))
	copy(sorted, seqs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	pos := 0
	for _, s := range sorted {
		if s.Start != pos {
			return fmt.Errorf("sequence %q: gap or overlap at %d: %w", s.Name, s.Start, halerr.ErrInvariantViolation)
		}
		pos += s.Length
	}
	if pos != g.length {
		return fmt.Errorf("sequences span %d bases, want %d: %w", pos, g.length, halerr.ErrInvariantViolation)
	}
	g.sequences = sorted
	return g.persistSequenceDirectory()
}

// SequenceAt returns the sequence covering base position pos.
func (g *Genome) SequenceAt(pos int) (Sequence, error) {
	i := sort.Search(len(g.sequences), func(i int) bool { return g.sequences[i].End() > pos })
	if i == len(g.sequences) || g.sequences[i].Start > pos {
		return Sequence{}, fmt.Errorf("position %d not covered by any sequence of %q: %w", pos, g.name, halerr.ErrInvalidArgument)
	}
	return g.sequences[i], nil
}

// SequenceByName returns the named sequence.
func (g *Genome) SequenceByName(name string) (Sequence, error) {
	for _, s := range g.sequences {
		if s.Name == name {
			return s, nil
		}
	}
	return Sequence{}, fmt.Errorf("sequence %q not found in genome %q: %w", name, g.name, halerr.ErrNotFound)
}

// Meta returns the genome's string-string metadata group.
func (g *Genome) Meta() container.KVGroup { return g.meta }

// NewDNAIterator returns a fresh DNA iterator positioned at base 0,
// satisfying segment.genomeDNAAccess.
func (g *Genome) NewDNAIterator() (*dna.Iterator, error) {
	if g.dnaArray == nil {
		return nil, fmt.Errorf("genome %q has no DNA array: %w", g.name, halerr.ErrNotFound)
	}
	return dna.NewIterator(&arrayStore{arr: g.dnaArray, length: g.length}), nil
}

// ResizeDNA grows or shrinks the packed DNA array to match a new total
// base length.
func (g *Genome) ResizeDNA(newLength int) error {
	if err := g.dnaArray.Resize((newLength + 1) / 2); err != nil {
		return err
	}
	g.length = newLength
	return nil
}

// ResizeTop grows or shrinks the top-segment array's record count.
func (g *Genome) ResizeTop(newCount int) error {
	if g.topArray == nil {
		return fmt.Errorf("genome %q has no top-segment array: %w", g.name, halerr.ErrNotFound)
	}
	return g.topArray.Resize(newCount)
}

// ResizeBottom grows or shrinks the bottom-segment array's record count.
func (g *Genome) ResizeBottom(newCount int) error {
	if g.bottomArray == nil {
		return fmt.Errorf("genome %q has no bottom-segment array: %w", g.name, halerr.ErrNotFound)
	}
	return g.bottomArray.Resize(newCount)
}

// RewidenBottomArray replaces the bottom-segment array with one sized for
// newNumChildren child slots per record, preserving the current record
// count. Resize cannot do this: it only ever changes record *count*, never
// record *size*, and a child-slot-count change widens or narrows every
// record. Callers must rewrite every record's ChildIndex/ChildReversed
// slices to the new width (via SetBottom) immediately afterward.
func (g *Genome) RewidenBottomArray(newNumChildren int) error {
	n := 0
	if g.bottomArray != nil {
		n = g.bottomArray.Len()
	}
	recSize := segment.BottomRecordSize(newNumChildren)
	arr, err := g.backend.RecreateArray(arrayName(g.name, "bottom"), container.ArrayBottomSegment, recSize, 4096, n)
	if err != nil {
		return err
	}
	g.bottomArray = arr
	g.numChildren = newNumChildren
	return nil
}

// GetTop returns the decoded top-segment record at index i.
func (g *Genome) GetTop(i int) (segment.TopRecord, error) {
	buf, err := g.topArray.Get(i)
	if err != nil {
		return segment.TopRecord{}, err
	}
	return segment.DecodeTop(buf)
}

// SetTop writes the top-segment record at index i.
func (g *Genome) SetTop(i int, r segment.TopRecord) error {
	return g.topArray.Set(i, segment.EncodeTop(r))
}

// GetBottom returns the decoded bottom-segment record at index i.
func (g *Genome) GetBottom(i int) (segment.BottomRecord, error) {
	buf, err := g.bottomArray.Get(i)
	if err != nil {
		return segment.BottomRecord{}, err
	}
	return segment.DecodeBottom(buf, g.numChildren)
}

// SetBottom writes the bottom-segment record at index i.
func (g *Genome) SetBottom(i int, r segment.BottomRecord) error {
	buf, err := segment.EncodeBottom(r, g.numChildren)
	if err != nil {
		return err
	}
	return g.bottomArray.Set(i, buf)
}

// NewTopIterator returns a top-segment iterator at array index i.
func (g *Genome) NewTopIterator(i int64) *segment.TopIterator {
	return segment.NewTopIterator(g.resolver, g, i)
}

// NewBottomIterator returns a bottom-segment iterator at array index i.
func (g *Genome) NewBottomIterator(i int64) *segment.BottomIterator {
	return segment.NewBottomIterator(g.resolver, g, i)
}

// arrayStore adapts a container.TypedArray of single-byte records (packed
// DNA) to dna.Store's base-position-addressed Fetch/Flush contract.
type arrayStore struct {
	arr    container.TypedArray
	length int // bases
}

func (a *arrayStore) Len() int { return a.length }

func (a *arrayStore) Fetch(start, end int) ([]byte, error) {
	byteStart := start / 2
	byteEnd := (end + 1) / 2
	recs, err := a.arr.GetRange(byteStart, byteEnd)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(recs))
	for i, r := range recs {
		out[i] = r[0]
	}
	return out, nil
}

func (a *arrayStore) Flush(baseStart int, packed []byte) error {
	byteStart := baseStart / 2
	recs := make([][]byte, len(packed))
	for i, b := range packed {
		recs[i] = []byte{b}
	}
	return a.arr.SetRange(byteStart, recs)
}
