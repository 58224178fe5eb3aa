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

package segment

import (
	"fmt"

	"github.com/zymatik-com/hal/dna"
	"github.com/zymatik-com/hal/halerr"
)

// Kind distinguishes a top-segment iterator from a bottom-segment iterator.
type Kind int

const (
	Top Kind = iota
	Bottom
)

// Sliced is the shared (genome, arrayIndex, startOffset, endOffset,
// reversed) cursor that both TopIterator and BottomIterator embed. Its
// observed range in forward genome coordinates is always
// [segStart+startOffset, segStart+segLength-endOffset-1]; Reversed only
// changes which end is logically "first" when reading or stepping.
type Sliced struct {
	resolver Resolver
	genome   Genome
	kind     Kind
	index    int64

	startOffset int64
	endOffset   int64
	reversed    bool
}

func newSliced(resolver Resolver, genome Genome, kind Kind, index int64) Sliced {
	return Sliced{resolver: resolver, genome: genome, kind: kind, index: index}
}

func (s *Sliced) segStartLength() (int64, int64, error) {
	switch s.kind {
	case Top:
		buf, err := s.genome.TopArray().Get(int(s.index))
		if err != nil {
			return 0, 0, wrapIO(err)
		}
		r, err := DecodeTop(buf)
		if err != nil {
			return 0, 0, err
		}
		return r.StartPosition, r.Length, nil
	default:
		buf, err := s.genome.BottomArray().Get(int(s.index))
		if err != nil {
			return 0, 0, wrapIO(err)
		}
		r, err := DecodeBottom(buf, s.genome.NumChildren())
		if err != nil {
			return 0, 0, err
		}
		return r.StartPosition, r.Length, nil
	}
}

func wrapIO(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", halerr.ErrIOFailure, err)
}

func (s *Sliced) count() int64 {
	if s.kind == Top {
		return int64(s.genome.TopSegmentCount())
	}
	return int64(s.genome.BottomSegmentCount())
}

// Genome returns the genome this segment belongs to.
func (s *Sliced) Genome() Genome { return s.genome }

// Index returns the array index of the underlying segment record.
func (s *Sliced) Index() int64 { return s.index }

// Reversed reports the iterator's current orientation.
func (s *Sliced) Reversed() bool { return s.reversed }

// ToReverse flips the reversed flag; offsets keep their meaning relative to
// the segment, so the observed forward-coordinate range is unchanged.
func (s *Sliced) ToReverse() {
	s.reversed = !s.reversed
}

// Bounds returns the observed [left, right] range in forward genome
// coordinates (inclusive), honoring the current start/end offsets.
func (s *Sliced) Bounds() (left, right int64, err error) {
	start, length, err := s.segStartLength()
	if err != nil {
		return 0, 0, err
	}
	return start + s.startOffset, start + length - s.endOffset - 1, nil
}

// ToLeft moves to the adjacent segment in iteration order (accounting for
// orientation) and resets offsets to cover it fully. If cutoff is supplied
// (use NullIndex to omit) and the new segment would extend past it on its
// left edge, the iterator is clipped there instead of failing.
func (s *Sliced) ToLeft(cutoff int64) error {
	var newIndex int64
	if !s.reversed {
		newIndex = s.index - 1
	} else {
		newIndex = s.index + 1
	}
	if newIndex < 0 || newIndex >= s.count() {
		return fmt.Errorf("no segment to the left: %w", halerr.ErrNotFound)
	}
	s.index = newIndex
	s.startOffset, s.endOffset = 0, 0
	if cutoff == NullIndex {
		return nil
	}
	return s.clipToCutoff(cutoff, true)
}

// ToRight mirrors ToLeft.
func (s *Sliced) ToRight(cutoff int64) error {
	var newIndex int64
	if !s.reversed {
		newIndex = s.index + 1
	} else {
		newIndex = s.index - 1
	}
	if newIndex < 0 || newIndex >= s.count() {
		return fmt.Errorf("no segment to the right: %w", halerr.ErrNotFound)
	}
	s.index = newIndex
	s.startOffset, s.endOffset = 0, 0
	if cutoff == NullIndex {
		return nil
	}
	return s.clipToCutoff(cutoff, false)
}

func (s *Sliced) clipToCutoff(cutoff int64, leftSide bool) error {
	left, right, err := s.Bounds()
	if err != nil {
		return err
	}
	start, length, err := s.segStartLength()
	if err != nil {
		return err
	}
	if leftSide && cutoff > left {
		s.startOffset = cutoff - start
	}
	if !leftSide && cutoff < right {
		s.endOffset = (start + length - 1) - cutoff
	}
	return nil
}

// ToSite moves the iterator to the segment covering base position pos
// (in this genome's forward coordinates) via binary search over the
// segment array's start positions. Each probe is the midpoint of the
// remaining index range; segment lengths do not weight the probe. If
// slice is true, the
// iterator is narrowed to exactly the single base at pos.
func (s *Sliced) ToSite(pos int64, slice bool) error {
	n := s.count()
	if n == 0 {
		return fmt.Errorf("empty segment array: %w", halerr.ErrNotFound)
	}
	lo, hi := int64(0), n-1
	for lo < hi {
		mid := lo + (hi-lo)/2
		start, length, err := s.indexStartLength(mid)
		if err != nil {
			return err
		}
		if pos < start {
			hi = mid
		} else if pos >= start+length {
			lo = mid + 1
		} else {
			lo, hi = mid, mid
		}
	}
	s.index = lo
	start, length, err := s.segStartLength()
	if err != nil {
		return err
	}
	if pos < start || pos >= start+length {
		return fmt.Errorf("position %d not covered by any segment: %w", pos, halerr.ErrInvalidArgument)
	}
	if slice {
		s.startOffset = pos - start
		s.endOffset = start + length - 1 - pos
	} else {
		s.startOffset, s.endOffset = 0, 0
	}
	return nil
}

func (s *Sliced) indexStartLength(idx int64) (int64, int64, error) {
	saved := s.index
	s.index = idx
	start, length, err := s.segStartLength()
	s.index = saved
	return start, length, err
}

// Slice narrows the iterator within its current segment.
func (s *Sliced) Slice(startOffset, endOffset int64) error {
	_, length, err := s.segStartLength()
	if err != nil {
		return err
	}
	if startOffset < 0 || endOffset < 0 || startOffset+endOffset > length {
		return fmt.Errorf("invalid slice offsets: %w", halerr.ErrInvalidArgument)
	}
	s.startOffset, s.endOffset = startOffset, endOffset
	return nil
}

// Length returns the number of bases currently observed (after slicing).
func (s *Sliced) Length() (int64, error) {
	left, right, err := s.Bounds()
	if err != nil {
		return 0, err
	}
	return right - left + 1, nil
}

// Overlaps reports whether pos falls within the observed range.
func (s *Sliced) Overlaps(pos int64) (bool, error) {
	left, right, err := s.Bounds()
	if err != nil {
		return false, err
	}
	return pos >= left && pos <= right, nil
}

// LeftOf reports whether pos lies strictly left of the observed range's
// logical start (honoring orientation).
func (s *Sliced) LeftOf(pos int64) (bool, error) {
	left, right, err := s.Bounds()
	if err != nil {
		return false, err
	}
	if !s.reversed {
		return pos < left, nil
	}
	return pos > right, nil
}

// RightOf reports whether pos lies strictly right of the observed range's
// logical end (honoring orientation).
func (s *Sliced) RightOf(pos int64) (bool, error) {
	left, right, err := s.Bounds()
	if err != nil {
		return false, err
	}
	if !s.reversed {
		return pos > right, nil
	}
	return pos < left, nil
}

// Equals reports whether two iterators reference the same genome, array
// kind, and index (ignoring slice offsets and orientation).
func (s *Sliced) Equals(other *Sliced) bool {
	return s.genome.Name() == other.genome.Name() && s.kind == other.kind && s.index == other.index
}

// GetString materializes the bases of the observed range, reverse
// complemented if the iterator is reversed.
func (s *Sliced) GetString() (string, error) {
	left, right, err := s.Bounds()
	if err != nil {
		return "", err
	}
	length := right - left + 1
	if length <= 0 {
		return "", nil
	}
	it, err := newGenomeDNAIterator(s.genome)
	if err != nil {
		return "", err
	}
	if s.reversed {
		if err := it.ToPosition(right); err != nil {
			return "", err
		}
		it.ToReverse()
	} else {
		if err := it.ToPosition(left); err != nil {
			return "", err
		}
	}
	return it.GetString(int(length))
}

// genomeDNAAccess is implemented by the genome package's Genome type to
// hand segment iterators a DNA iterator without segment importing genome.
type genomeDNAAccess interface {
	NewDNAIterator() (*dna.Iterator, error)
}

func newGenomeDNAIterator(g Genome) (*dna.Iterator, error) {
	acc, ok := g.(genomeDNAAccess)
	if !ok {
		return nil, fmt.Errorf("genome %q does not support DNA access: %w", g.Name(), halerr.ErrInvalidArgument)
	}
	return acc.NewDNAIterator()
}

// TopIterator is a sliced cursor over a genome's top-segment array.
type TopIterator struct {
	Sliced
}

// NewTopIterator creates a top-segment iterator at the given array index,
// covering the segment's full range.
func NewTopIterator(resolver Resolver, g Genome, index int64) *TopIterator {
	return &TopIterator{Sliced: newSliced(resolver, g, Top, index)}
}

func (it *TopIterator) record() (TopRecord, error) {
	buf, err := it.genome.TopArray().Get(int(it.index))
	if err != nil {
		return TopRecord{}, wrapIO(err)
	}
	return DecodeTop(buf)
}

// Copy returns an independent cursor with the same state.
func (it *TopIterator) Copy() *TopIterator {
	cp := *it
	return &cp
}

// HasParent reports whether the current segment has a parent (is aligned).
func (it *TopIterator) HasParent() (bool, error) {
	r, err := it.record()
	if err != nil {
		return false, err
	}
	return r.ParentIndex != NullIndex, nil
}

// ToParent moves the iterator to its parent bottom-segment, composing
// orientation. Fails with ErrNotFound if this top-segment is unaligned.
func (it *TopIterator) ToParent() (*BottomIterator, error) {
	r, err := it.record()
	if err != nil {
		return nil, err
	}
	if r.ParentIndex == NullIndex {
		return nil, fmt.Errorf("top segment %d has no parent: %w", it.index, halerr.ErrNotFound)
	}
	parentName, ok := it.resolver.ParentName(it.genome.Name())
	if !ok {
		return nil, fmt.Errorf("genome %q has no parent in tree: %w", it.genome.Name(), halerr.ErrTreeMismatch)
	}
	parent, ok := it.resolver.Genome(parentName)
	if !ok {
		return nil, fmt.Errorf("parent genome %q not found: %w", parentName, halerr.ErrNotFound)
	}
	b := NewBottomIterator(it.resolver, parent, r.ParentIndex)
	b.reversed = it.reversed != r.ParentReversed
	return b, nil
}

// ToNextParalogy advances around this top-segment's paralogy ring (the
// cycle of top-segments sharing the same parent bottom-segment). A segment
// with no paralogs has NextParalogy == its own index, a self-loop.
func (it *TopIterator) ToNextParalogy() error {
	r, err := it.record()
	if err != nil {
		return err
	}
	it.index = r.NextParalogy
	it.startOffset, it.endOffset = 0, 0
	return nil
}

// IsCanonicalParalog reports whether this top-segment is the canonical
// member of its paralogy ring: the one whose index equals the parent
// bottom-segment's recorded child-index for this genome's slot.
func (it *TopIterator) IsCanonicalParalog() (bool, error) {
	r, err := it.record()
	if err != nil {
		return false, err
	}
	if r.ParentIndex == NullIndex {
		return true, nil
	}
	parentName, ok := it.resolver.ParentName(it.genome.Name())
	if !ok {
		return false, fmt.Errorf("genome %q has no parent in tree: %w", it.genome.Name(), halerr.ErrTreeMismatch)
	}
	parent, ok := it.resolver.Genome(parentName)
	if !ok {
		return false, fmt.Errorf("parent genome %q not found: %w", parentName, halerr.ErrNotFound)
	}
	slot, ok := it.resolver.ChildSlot(parentName, it.genome.Name())
	if !ok {
		return false, fmt.Errorf("genome %q is not a recognized child of %q: %w", it.genome.Name(), parentName, halerr.ErrTreeMismatch)
	}
	buf, err := parent.BottomArray().Get(int(r.ParentIndex))
	if err != nil {
		return false, wrapIO(err)
	}
	br, err := DecodeBottom(buf, parent.NumChildren())
	if err != nil {
		return false, err
	}
	return br.ChildIndex[slot] == it.index, nil
}

// ToParseDown moves the iterator to the bottom-segment of this same genome
// that covers the same base as this top-segment's start, recomputing
// offsets so the observed range is the intersection with the new segment.
func (it *TopIterator) ToParseDown() (*BottomIterator, error) {
	r, err := it.record()
	if err != nil {
		return nil, err
	}
	if r.BottomParseIndex == NullIndex {
		return nil, fmt.Errorf("genome %q has no bottom-segment array: %w", it.genome.Name(), halerr.ErrNotFound)
	}
	b := NewBottomIterator(it.resolver, it.genome, r.BottomParseIndex)
	if err := intersectParse(&it.Sliced, &b.Sliced); err != nil {
		return nil, err
	}
	return b, nil
}

// BottomIterator is a sliced cursor over a genome's bottom-segment array.
type BottomIterator struct {
	Sliced
}

// NewBottomIterator creates a bottom-segment iterator at the given array
// index, covering the segment's full range.
func NewBottomIterator(resolver Resolver, g Genome, index int64) *BottomIterator {
	return &BottomIterator{Sliced: newSliced(resolver, g, Bottom, index)}
}

func (it *BottomIterator) record() (BottomRecord, error) {
	buf, err := it.genome.BottomArray().Get(int(it.index))
	if err != nil {
		return BottomRecord{}, wrapIO(err)
	}
	return DecodeBottom(buf, it.genome.NumChildren())
}

// Copy returns an independent cursor with the same state.
func (it *BottomIterator) Copy() *BottomIterator {
	cp := *it
	return &cp
}

// ToChild moves the iterator to the top-segment of the child genome in
// the given slot, composing orientation. Fails with ErrNotFound if that
// slot has no aligned child segment.
func (it *BottomIterator) ToChild(slot int) (*TopIterator, error) {
	r, err := it.record()
	if err != nil {
		return nil, err
	}
	if slot < 0 || slot >= len(r.ChildIndex) {
		return nil, fmt.Errorf("child slot %d out of range: %w", slot, halerr.ErrInvalidArgument)
	}
	if r.ChildIndex[slot] == NullIndex {
		return nil, fmt.Errorf("bottom segment %d has no child in slot %d: %w", it.index, slot, halerr.ErrNotFound)
	}
	childName, ok := it.resolver.ChildName(it.genome.Name(), slot)
	if !ok {
		return nil, fmt.Errorf("genome %q has no child in slot %d: %w", it.genome.Name(), slot, halerr.ErrTreeMismatch)
	}
	child, ok := it.resolver.Genome(childName)
	if !ok {
		return nil, fmt.Errorf("child genome %q not found: %w", childName, halerr.ErrNotFound)
	}
	top := NewTopIterator(it.resolver, child, r.ChildIndex[slot])
	top.reversed = it.reversed != r.ChildReversed[slot]
	return top, nil
}

// ToChildG is ToChild, but addressing the child by genome name rather than
// tree slot.
func (it *BottomIterator) ToChildG(childName string) (*TopIterator, error) {
	slot, ok := it.resolver.ChildSlot(it.genome.Name(), childName)
	if !ok {
		return nil, fmt.Errorf("genome %q is not a child of %q: %w", childName, it.genome.Name(), halerr.ErrTreeMismatch)
	}
	return it.ToChild(slot)
}

// ToParseUp moves the iterator to the top-segment of this same genome that
// covers the same base as this bottom-segment's start.
func (it *BottomIterator) ToParseUp() (*TopIterator, error) {
	r, err := it.record()
	if err != nil {
		return nil, err
	}
	if r.TopParseIndex == NullIndex {
		return nil, fmt.Errorf("genome %q has no top-segment array: %w", it.genome.Name(), halerr.ErrNotFound)
	}
	top := NewTopIterator(it.resolver, it.genome, r.TopParseIndex)
	if err := intersectParse(&it.Sliced, &top.Sliced); err != nil {
		return nil, err
	}
	return top, nil
}

// intersectParse recomputes dst's offsets so its observed range equals the
// intersection of src's observed range and dst's full segment range, per
// the "parse transitions are the glue" rule.
func intersectParse(src, dst *Sliced) error {
	srcLeft, srcRight, err := src.Bounds()
	if err != nil {
		return err
	}
	dstStart, dstLength, err := dst.segStartLength()
	if err != nil {
		return err
	}
	dstRight := dstStart + dstLength - 1

	left := srcLeft
	if dstStart > left {
		left = dstStart
	}
	right := srcRight
	if dstRight < right {
		right = dstRight
	}
	if left > right {
		return fmt.Errorf("parse transition produced empty intersection: %w", halerr.ErrInvariantViolation)
	}
	dst.startOffset = left - dstStart
	dst.endOffset = dstRight - right
	dst.reversed = src.reversed
	return nil
}
