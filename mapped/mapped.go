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

// Package mapped implements the recursive mapped-segment engine:
// liftOver's heart. Given a sliced range in a source genome and a target
// genome, it walks up the tree to the MRCA converting top-segments to
// parent bottom-segments, then back down converting bottom-segments to
// child top-segments, composing orientation and fanning out through
// paralogy rings along the way, and finally merges the results into a
// pairwise-disjoint, source-major-ordered set of Mapped ranges.
//
// The engine operates on raw segment records (genome.Genome's
// GetTop/GetBottom) rather than the segment package's Sliced iterators:
// each recursive step needs arithmetic on sub-segment offsets that would
// otherwise bounce through several Sliced.Slice/Bounds calls per hop, and
// the set of segments touched during a single Map call is rarely walked
// again afterward. Result ranges are exposed as plain genome/position
// pairs; callers that want a cursor (e.g. rearrange) wrap them with
// segment.NewTopIterator/NewBottomIterator themselves.
package mapped

import (
	"fmt"
	"sort"

	"github.com/Workiva/go-datastructures/augmentedtree"

	"github.com/zymatik-com/hal/genome"
	"github.com/zymatik-com/hal/halerr"
	"github.com/zymatik-com/hal/phylo"
	"github.com/zymatik-com/hal/segment"
)

// Resolver is the minimal view of an alignment the engine needs:
// genome lookup and the phylogenetic tree. *alignment.Alignment satisfies
// this directly.
type Resolver interface {
	GenomeByName(name string) (*genome.Genome, error)
	Tree() *phylo.Tree
}

// Range is a half-open [Start, End) interval in one genome's coordinates.
type Range struct {
	Genome string
	Start  int64
	End    int64
}

// Mapped is one output pair of the engine: a sub-range of the original
// query (Source) and its homologous range in the target genome (Target).
// Reversed reports whether Target runs antiparallel to Source.
type Mapped struct {
	Source   Range
	Target   Range
	Reversed bool
}

// BySource sorts Mapped values source-major, then target-major. This is
// the order Map itself returns.
type BySource []Mapped

func (s BySource) Len() int      { return len(s) }
func (s BySource) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s BySource) Less(i, j int) bool {
	a, b := s[i], s[j]
	if a.Source.Start != b.Source.Start {
		return a.Source.Start < b.Source.Start
	}
	if a.Source.End != b.Source.End {
		return a.Source.End < b.Source.End
	}
	if a.Target.Start != b.Target.Start {
		return a.Target.Start < b.Target.Start
	}
	return a.Target.End < b.Target.End
}

// ByTarget sorts Mapped values target-major, then source-major. Useful
// for callers walking the output in the target genome's coordinate order,
// e.g. to coalesce an inbound liftover into target-order blocks.
type ByTarget []Mapped

func (s ByTarget) Len() int      { return len(s) }
func (s ByTarget) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s ByTarget) Less(i, j int) bool {
	a, b := s[i], s[j]
	if a.Target.Start != b.Target.Start {
		return a.Target.Start < b.Target.Start
	}
	if a.Target.End != b.Target.End {
		return a.Target.End < b.Target.End
	}
	if a.Source.Start != b.Source.Start {
		return a.Source.Start < b.Source.Start
	}
	return a.Source.End < b.Source.End
}

// Options controls paralog expansion and how far above the MRCA it runs.
type Options struct {
	// Duplications enables fanning out through paralogy rings on the
	// down-path. Without it, only the canonical child segment in each
	// slot is followed.
	Duplications bool
	// CoalescenceLimit, if non-empty, is a genome at or above the MRCA;
	// paralog expansion considers rings up to that ancestor instead of
	// stopping at the MRCA. Empty means "the MRCA".
	CoalescenceLimit string
}

// piece is one maximal contiguous stretch tracked during the walk: its
// range in the genome currently being visited, the accumulated output
// orientation, and the corresponding sub-range of the original query in
// the source genome (srcReversed records whether this piece's left edge
// corresponds to the source range's right edge).
type piece struct {
	genome   string
	start    int64
	end      int64
	reversed bool

	srcStart    int64
	srcEnd      int64
	srcReversed bool
}

func (p piece) narrow(a, b int64) piece {
	offset := a - p.start
	length := b - a
	np := p
	np.start, np.end = a, b
	if !p.srcReversed {
		np.srcStart = p.srcStart + offset
		np.srcEnd = np.srcStart + length
	} else {
		np.srcEnd = p.srcEnd - offset
		np.srcStart = np.srcEnd - length
	}
	return np
}

func (p piece) hop(newGenome string, newStart, newEnd int64, hopReversed bool) piece {
	return piece{
		genome:      newGenome,
		start:       newStart,
		end:         newEnd,
		reversed:    p.reversed != hopReversed,
		srcStart:    p.srcStart,
		srcEnd:      p.srcEnd,
		srcReversed: p.srcReversed != hopReversed,
	}
}

// Map computes the mapped segments covering [start, end) of srcGenome in
// targetGenome, per the algorithm in the mapped-segment engine design:
// map up to the MRCA, map down to the target, composing orientation and
// expanding duplications on the down-path, then merge overlaps in the
// output so it is a disjoint, source-major-ordered set.
func Map(r Resolver, srcGenome string, start, end int64, targetGenome string, opts Options) ([]Mapped, error) {
	if start >= end {
		return nil, nil
	}
	if srcGenome == targetGenome {
		return []Mapped{{
			Source: Range{srcGenome, start, end},
			Target: Range{targetGenome, start, end},
		}}, nil
	}

	tree := r.Tree()
	mrca, err := tree.MRCA(srcGenome, targetGenome)
	if err != nil {
		return nil, err
	}
	coalescenceLimit := opts.CoalescenceLimit
	if coalescenceLimit == "" {
		coalescenceLimit = mrca
	}
	// mapDown follows only the target's lineage below the walk's top genome,
	// so the source's own branch is never taken on the way down.
	pathSet, err := tree.GenomesOnPath(targetGenome, coalescenceLimit)
	if err != nil {
		return nil, err
	}

	initial := piece{genome: srcGenome, start: start, end: end, srcStart: start, srcEnd: end}
	upPieces, err := mapUp(r, initial, coalescenceLimit)
	if err != nil {
		return nil, err
	}

	var out []Mapped
	for _, up := range upPieces {
		downPieces, err := mapDown(r, up, targetGenome, pathSet, opts.Duplications)
		if err != nil {
			return nil, err
		}
		for _, dp := range downPieces {
			out = append(out, Mapped{
				Source:   Range{srcGenome, dp.srcStart, dp.srcEnd},
				Target:   Range{targetGenome, dp.start, dp.end},
				Reversed: dp.reversed,
			})
		}
	}
	return mergeOverlaps(out), nil
}

// mapUp walks p from its genome up to stopAt (inclusive), repeatedly
// converting top-segments to parent bottom-segments and splitting at
// segment boundaries. Unaligned stretches (no parentIndex) are dropped.
func mapUp(r Resolver, p piece, stopAt string) ([]piece, error) {
	if p.genome == stopAt {
		return []piece{p}, nil
	}
	g, err := r.GenomeByName(p.genome)
	if err != nil {
		return nil, err
	}
	if !g.HasParent() {
		return nil, fmt.Errorf("genome %q has no parent but is below %q in the tree: %w", p.genome, stopAt, halerr.ErrTreeMismatch)
	}
	parentName, ok := r.Tree().Parent(p.genome)
	if !ok {
		return nil, fmt.Errorf("genome %q has no parent in tree: %w", p.genome, halerr.ErrTreeMismatch)
	}
	parent, err := r.GenomeByName(parentName)
	if err != nil {
		return nil, err
	}

	var out []piece
	pos := p.start
	for pos < p.end {
		idx, err := findTopIndex(g, pos)
		if err != nil {
			return nil, err
		}
		rec, err := g.GetTop(idx)
		if err != nil {
			return nil, err
		}
		segRight := rec.StartPosition + rec.Length - 1
		clippedRight := min64(segRight, p.end-1)
		sub := p.narrow(pos, clippedRight+1)

		if rec.ParentIndex == segment.NullIndex {
			pos = clippedRight + 1
			continue
		}
		prec, err := parent.GetBottom(int(rec.ParentIndex))
		if err != nil {
			return nil, err
		}

		offsetFromSegStart := pos - rec.StartPosition
		subLen := clippedRight - pos + 1
		var parentSubStart, parentSubEnd int64
		if !rec.ParentReversed {
			parentSubStart = prec.StartPosition + offsetFromSegStart
			parentSubEnd = parentSubStart + subLen
		} else {
			parentSubEnd = prec.StartPosition + prec.Length - offsetFromSegStart
			parentSubStart = parentSubEnd - subLen
		}

		hopped := sub.hop(parentName, parentSubStart, parentSubEnd, rec.ParentReversed)
		up, err := mapUp(r, hopped, stopAt)
		if err != nil {
			return nil, err
		}
		out = append(out, up...)
		pos = clippedRight + 1
	}
	return out, nil
}

// mapDown walks p from its (ancestor) genome down toward targetGenome,
// repeatedly converting bottom-segments to child top-segments along the
// tree path given by onPath. When duplications is true, every top-segment
// reachable through a child's paralogy ring (not just the canonical one)
// is followed as an additional independent piece.
func mapDown(r Resolver, p piece, targetGenome string, onPath map[string]bool, duplications bool) ([]piece, error) {
	if p.genome == targetGenome {
		return []piece{p}, nil
	}
	g, err := r.GenomeByName(p.genome)
	if err != nil {
		return nil, err
	}
	if !g.HasChildren() {
		return nil, fmt.Errorf("genome %q has no children but %q is below it in the tree: %w", p.genome, targetGenome, halerr.ErrTreeMismatch)
	}

	children := r.Tree().Children(p.genome)
	slot := -1
	for i, c := range children {
		if c == targetGenome || onPath[c] {
			slot = i
			break
		}
	}
	if slot == -1 {
		return nil, fmt.Errorf("no path from %q toward %q: %w", p.genome, targetGenome, halerr.ErrTreeMismatch)
	}
	childName := children[slot]
	child, err := r.GenomeByName(childName)
	if err != nil {
		return nil, err
	}

	var out []piece
	pos := p.start
	for pos < p.end {
		idx, err := findBottomIndex(g, pos)
		if err != nil {
			return nil, err
		}
		rec, err := g.GetBottom(idx)
		if err != nil {
			return nil, err
		}
		segRight := rec.StartPosition + rec.Length - 1
		clippedRight := min64(segRight, p.end-1)
		sub := p.narrow(pos, clippedRight+1)

		if rec.ChildIndex[slot] == segment.NullIndex {
			pos = clippedRight + 1
			continue
		}

		offsetFromSegStart := pos - rec.StartPosition
		subLen := clippedRight - pos + 1

		candidates := []int64{rec.ChildIndex[slot]}
		if duplications {
			ring, err := ringMembers(child, rec.ChildIndex[slot])
			if err != nil {
				return nil, err
			}
			candidates = ring
		}

		for _, childIdx := range candidates {
			crec, err := child.GetTop(int(childIdx))
			if err != nil {
				return nil, err
			}
			var childSubStart, childSubEnd int64
			if !crec.ParentReversed {
				childSubStart = crec.StartPosition + offsetFromSegStart
				childSubEnd = childSubStart + subLen
			} else {
				childSubEnd = crec.StartPosition + crec.Length - offsetFromSegStart
				childSubStart = childSubEnd - subLen
			}
			hopped := sub.hop(childName, childSubStart, childSubEnd, crec.ParentReversed)
			down, err := mapDown(r, hopped, targetGenome, onPath, duplications)
			if err != nil {
				return nil, err
			}
			out = append(out, down...)
		}
		pos = clippedRight + 1
	}
	return out, nil
}

// ringMembers returns every top-segment index sharing canonicalIdx's
// parent, by following NextParalogy around the cycle starting at
// canonicalIdx. A segment with no paralogs has NextParalogy == its own
// index, a ring of one. The walk terminates when it returns to
// canonicalIdx (the ring's starting point), per the design note that
// either "first index" or "current index" termination is acceptable.
func ringMembers(g *genome.Genome, canonicalIdx int64) ([]int64, error) {
	members := []int64{canonicalIdx}
	cur := canonicalIdx
	for steps := 0; ; steps++ {
		rec, err := g.GetTop(int(cur))
		if err != nil {
			return nil, err
		}
		if rec.NextParalogy == canonicalIdx {
			break
		}
		cur = rec.NextParalogy
		members = append(members, cur)
		if steps > g.TopSegmentCount() {
			return nil, fmt.Errorf("paralogy ring in genome %q does not close: %w", g.Name(), halerr.ErrInvariantViolation)
		}
	}
	return members, nil
}

func findTopIndex(g *genome.Genome, pos int64) (int, error) {
	n := g.TopSegmentCount()
	if n == 0 {
		return 0, fmt.Errorf("genome %q has no top segments: %w", g.Name(), halerr.ErrNotFound)
	}
	lo, hi := 0, n-1
	for lo < hi {
		mid := (lo + hi) / 2
		rec, err := g.GetTop(mid)
		if err != nil {
			return 0, err
		}
		if pos < rec.StartPosition {
			hi = mid
		} else if pos >= rec.StartPosition+rec.Length {
			lo = mid + 1
		} else {
			lo, hi = mid, mid
		}
	}
	return lo, nil
}

func findBottomIndex(g *genome.Genome, pos int64) (int, error) {
	n := g.BottomSegmentCount()
	if n == 0 {
		return 0, fmt.Errorf("genome %q has no bottom segments: %w", g.Name(), halerr.ErrNotFound)
	}
	lo, hi := 0, n-1
	for lo < hi {
		mid := (lo + hi) / 2
		rec, err := g.GetBottom(mid)
		if err != nil {
			return 0, err
		}
		if pos < rec.StartPosition {
			hi = mid
		} else if pos >= rec.StartPosition+rec.Length {
			lo = mid + 1
		} else {
			lo, hi = mid, mid
		}
	}
	return lo, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// mappedInterval adapts a Mapped value to augmentedtree.Interval over its
// Target range, the same pattern the chain-file reader uses for its
// per-chromosome alignment trees (one dimension, ID per inserted value).
type mappedInterval struct {
	Mapped
	id uint64
}

func (m *mappedInterval) LowAtDimension(uint64) int64  { return m.Target.Start }
func (m *mappedInterval) HighAtDimension(uint64) int64 { return m.Target.End }

func (m *mappedInterval) OverlapsAtDimension(other augmentedtree.Interval, _ uint64) bool {
	o := other.(*mappedInterval)
	return m.Target.Start < o.Target.End && o.Target.Start < m.Target.End
}

func (m *mappedInterval) ID() uint64 { return m.id }

// overlapSet holds the disjoint-output accumulator: one interval tree per
// (target genome, orientation) bucket, queried to find what a new range
// overlaps instead of scanning every previously accepted range.
type overlapSet struct {
	trees  map[string]augmentedtree.Tree
	items  []*mappedInterval
	nextID uint64
}

func newOverlapSet() *overlapSet {
	return &overlapSet{trees: make(map[string]augmentedtree.Tree)}
}

func bucketKey(genome string, reversed bool) string {
	if reversed {
		return genome + "\x00-"
	}
	return genome + "\x00+"
}

// insert adds m, clipping both m and any bucket member it overlaps at
// their intersection point, per the three overlap categories (contains,
// left-overlap, right-overlap) in the engine design. Only the
// non-overlapping remainders of m need further handling since the
// intersection itself is already covered by the existing member.
func (s *overlapSet) insert(m Mapped) {
	key := bucketKey(m.Target.Genome, m.Reversed)
	tree, ok := s.trees[key]
	if !ok {
		tree = augmentedtree.New(1)
		s.trees[key] = tree
	}

	pending := []Mapped{m}
	for len(pending) > 0 {
		cur := pending[0]
		pending = pending[1:]

		hits := tree.Query(&mappedInterval{Mapped: cur})
		if len(hits) == 0 {
			s.nextID++
			mi := &mappedInterval{Mapped: cur, id: s.nextID}
			tree.Add(mi)
			s.items = append(s.items, mi)
			continue
		}

		e := hits[0].(*mappedInterval)
		lo := maxI64(cur.Target.Start, e.Target.Start)
		hi := minI64(cur.Target.End, e.Target.End)
		if cur.Target.Start < lo {
			pending = append(pending, clipTarget(cur, cur.Target.Start, lo))
		}
		if cur.Target.End > hi {
			pending = append(pending, clipTarget(cur, hi, cur.Target.End))
		}
	}
}

func (s *overlapSet) all() []Mapped {
	out := make([]Mapped, len(s.items))
	for i, mi := range s.items {
		out[i] = mi.Mapped
	}
	return out
}

// mergeOverlaps splits pairwise overlapping target ranges at their
// intersection points so the final set is disjoint in target coordinates
// per (target genome, orientation) bucket, then sorts the result
// source-major (then target-major, per the design decision recorded for
// the spec's open question on sort order).
func mergeOverlaps(in []Mapped) []Mapped {
	if len(in) == 0 {
		return nil
	}
	set := newOverlapSet()
	for _, m := range in {
		set.insert(m)
	}
	out := set.all()
	sort.Sort(BySource(out))
	return out
}

func clipTarget(m Mapped, newStart, newEnd int64) Mapped {
	sourceLen := m.Source.End - m.Source.Start
	targetLen := m.Target.End - m.Target.Start
	if targetLen == 0 {
		return m
	}
	leftTrim := newStart - m.Target.Start
	rightTrim := m.Target.End - newEnd

	out := m
	out.Target.Start, out.Target.End = newStart, newEnd
	if !m.Reversed {
		out.Source.Start = m.Source.Start + leftTrim*sourceLen/targetLen
		out.Source.End = m.Source.End - rightTrim*sourceLen/targetLen
	} else {
		out.Source.Start = m.Source.Start + rightTrim*sourceLen/targetLen
		out.Source.End = m.Source.End - leftTrim*sourceLen/targetLen
	}
	return out
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
