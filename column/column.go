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

// Package column implements the column iterator: a coordinated walk,
// anchored at a reference genome, that floods outward through every
// parent/child/paralogy edge reachable from the current reference site and
// collects the homologous (genome, position) pairs into one column per
// reference base. It is not built on the mapped-segment engine's
// source-to-target walk (package mapped) because a column has no single
// target: it visits the whole tree from one site, so it shares only the
// per-hop arithmetic, reimplemented here against single-base points.
package column

import (
	"fmt"

	"github.com/zymatik-com/hal/dna"
	"github.com/zymatik-com/hal/genome"
	"github.com/zymatik-com/hal/halerr"
	"github.com/zymatik-com/hal/phylo"
	"github.com/zymatik-com/hal/segment"
)

// Resolver is the minimal view of an alignment the iterator needs.
// *alignment.Alignment satisfies this directly.
type Resolver interface {
	GenomeByName(name string) (*genome.Genome, error)
	Tree() *phylo.Tree
}

// Flags controls duplication and ancestor policy, per the column iterator
// design: noDupes stops all paralog expansion, unique ensures each target
// position appears in at most one column ever produced by this iterator,
// onlyOrthologs restricts descent to canonical paralogs, noAncestors hides
// internal-node sites from the output (they are still used for traversal),
// and MaxInsertLength bounds how many edges deep a single flood-fill walk
// may travel before being cut.
type Flags struct {
	NoDupes         bool
	Unique          bool
	OnlyOrthologs   bool
	NoAncestors     bool
	MaxInsertLength int64
}

// Site is one (genome, position, strand) member of a Column.
type Site struct {
	Genome   string
	Position int64
	Reversed bool
}

// Column is the set of sites homologous to one reference base, plus a
// ready-to-read DNA iterator positioned at each site.
type Column struct {
	Reference Site
	Sites     []Site
	Iterators map[string]*dna.Iterator
}

// positionCache is the hierarchical visited-position tracker described in
// the iterator design: sharded by genome name and then by a fixed shard
// size so membership tests and inserts touch one small bucket instead of a
// single genome-wide map once an alignment has many visited positions.
type positionCache struct {
	shards map[string]map[int64]map[int64]struct{}
}

const positionShardBits = 12 // 4096 positions per shard

func newPositionCache() *positionCache {
	return &positionCache{shards: make(map[string]map[int64]map[int64]struct{})}
}

// insert reports whether (g, pos) was newly added (false if already present).
func (c *positionCache) insert(g string, pos int64) bool {
	shardKey := pos >> positionShardBits
	byShard, ok := c.shards[g]
	if !ok {
		byShard = make(map[int64]map[int64]struct{})
		c.shards[g] = byShard
	}
	shard, ok := byShard[shardKey]
	if !ok {
		shard = make(map[int64]struct{})
		byShard[shardKey] = shard
	}
	if _, present := shard[pos]; present {
		return false
	}
	shard[pos] = struct{}{}
	return true
}

func (c *positionCache) contains(g string, pos int64) bool {
	shard, ok := c.shards[g][pos>>positionShardBits]
	if !ok {
		return false
	}
	_, present := shard[pos]
	return present
}

// Iterator walks columns left to right (or right to left, if reversed)
// across [start, end) of refGenome. Not restartable; construct a new
// Iterator to walk again.
type Iterator struct {
	r         Resolver
	refGenome string
	pos       int64
	start     int64
	end       int64
	reverse   bool
	flags     Flags
	global    *positionCache
	done      bool
}

// NewIterator constructs a column iterator over [start, end) of refGenome.
func NewIterator(r Resolver, refGenome string, start, end int64, reverse bool, flags Flags) (*Iterator, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("invalid range [%d,%d): %w", start, end, halerr.ErrInvalidArgument)
	}
	if _, err := r.GenomeByName(refGenome); err != nil {
		return nil, err
	}
	pos := start
	if reverse {
		pos = end - 1
	}
	return &Iterator{
		r:         r,
		refGenome: refGenome,
		pos:       pos,
		start:     start,
		end:       end,
		reverse:   reverse,
		flags:     flags,
		global:    newPositionCache(),
		done:      start >= end,
	}, nil
}

// AtEnd reports whether the iterator has produced every column in range.
func (it *Iterator) AtEnd() bool {
	return it.done
}

// Next produces the next column and advances the reference position.
// Calling Next after AtEnd reports true returns halerr.ErrNotFound.
func (it *Iterator) Next() (*Column, error) {
	if it.done {
		return nil, fmt.Errorf("column iterator exhausted: %w", halerr.ErrNotFound)
	}

	col := &Column{
		Reference: Site{Genome: it.refGenome, Position: it.pos},
		Iterators: make(map[string]*dna.Iterator),
	}
	local := newPositionCache()
	if err := it.visit(it.refGenome, it.pos, false, "", 0, local, col); err != nil {
		return nil, err
	}

	if it.reverse {
		it.pos--
		if it.pos < it.start {
			it.done = true
		}
	} else {
		it.pos++
		if it.pos >= it.end {
			it.done = true
		}
	}
	return col, nil
}

// visit floods outward from (g, pos) into every direction except cameFrom
// (the genome name of the edge just traversed, empty at the root call),
// appending newly-discovered sites to col subject to the duplication and
// ancestor policy flags.
func (it *Iterator) visit(g string, pos int64, reversed bool, cameFrom string, depth int64, local *positionCache, col *Column) error {
	if !local.insert(g, pos) {
		return nil
	}
	if it.flags.MaxInsertLength > 0 && depth > it.flags.MaxInsertLength {
		return nil
	}

	gen, err := it.r.GenomeByName(g)
	if err != nil {
		return err
	}

	isAncestor := gen.HasChildren()
	include := !(it.flags.NoAncestors && isAncestor)
	if include {
		newGlobally := it.global.insert(g, pos)
		if newGlobally || !it.flags.Unique {
			site := Site{Genome: g, Position: pos, Reversed: reversed}
			col.Sites = append(col.Sites, site)
			dit, err := gen.NewDNAIterator()
			if err != nil {
				return err
			}
			if err := dit.ToPosition(int(pos)); err != nil {
				return err
			}
			if reversed {
				dit.ToReverse()
			}
			col.Iterators[g] = dit
		}
	}

	// Ascend to the parent, unless we just came from there.
	if gen.HasParent() {
		parentName, ok := it.r.Tree().Parent(g)
		if ok && parentName != cameFrom {
			if err := it.visitUp(gen, parentName, pos, reversed, depth, local, col); err != nil {
				return err
			}
		}
	}

	// Descend into every child slot except the one we came from.
	if gen.HasChildren() {
		children := it.r.Tree().Children(g)
		for slot, childName := range children {
			if childName == cameFrom {
				continue
			}
			if err := it.visitDown(gen, slot, childName, pos, reversed, depth, local, col); err != nil {
				return err
			}
		}
	}

	// Expand this genome's own paralogy ring (lateral duplicates at the
	// same tree level), unless noDupes or onlyOrthologs suppress it.
	if gen.HasParent() && !it.flags.NoDupes && !it.flags.OnlyOrthologs {
		if err := it.visitRing(gen, pos, reversed, depth, local, col); err != nil {
			return err
		}
	}

	return nil
}

func (it *Iterator) visitUp(g *genome.Genome, parentName string, pos int64, reversed bool, depth int64, local *positionCache, col *Column) error {
	idx, err := findTopIndex(g, pos)
	if err != nil {
		return nil //nolint:nilerr // position has no top segment covering it (outside any aligned block)
	}
	rec, err := g.GetTop(idx)
	if err != nil {
		return err
	}
	if rec.ParentIndex == segment.NullIndex {
		return nil
	}
	parent, err := it.r.GenomeByName(parentName)
	if err != nil {
		return err
	}
	prec, err := parent.GetBottom(int(rec.ParentIndex))
	if err != nil {
		return err
	}
	offset := pos - rec.StartPosition
	var parentPos int64
	if !rec.ParentReversed {
		parentPos = prec.StartPosition + offset
	} else {
		parentPos = prec.StartPosition + prec.Length - 1 - offset
	}
	return it.visit(parentName, parentPos, reversed != rec.ParentReversed, g.Name(), depth+1, local, col)
}

func (it *Iterator) visitDown(g *genome.Genome, slot int, childName string, pos int64, reversed bool, depth int64, local *positionCache, col *Column) error {
	idx, err := findBottomIndex(g, pos)
	if err != nil {
		return nil //nolint:nilerr // position has no bottom segment covering it
	}
	rec, err := g.GetBottom(idx)
	if err != nil {
		return err
	}
	if rec.ChildIndex[slot] == segment.NullIndex {
		return nil
	}
	child, err := it.r.GenomeByName(childName)
	if err != nil {
		return err
	}

	candidates := []int64{rec.ChildIndex[slot]}
	if !it.flags.NoDupes && !it.flags.OnlyOrthologs {
		ring, err := ringMembers(child, rec.ChildIndex[slot])
		if err != nil {
			return err
		}
		candidates = ring
	}

	offset := pos - rec.StartPosition
	for _, childIdx := range candidates {
		crec, err := child.GetTop(int(childIdx))
		if err != nil {
			return err
		}
		var childPos int64
		if !crec.ParentReversed {
			childPos = crec.StartPosition + offset
		} else {
			childPos = crec.StartPosition + crec.Length - 1 - offset
		}
		if err := it.visit(childName, childPos, reversed != crec.ParentReversed, g.Name(), depth+1, local, col); err != nil {
			return err
		}
	}
	return nil
}

// visitRing walks gen's own paralogy ring at pos, visiting every other
// member as an additional site within the same genome.
func (it *Iterator) visitRing(gen *genome.Genome, pos int64, reversed bool, depth int64, local *positionCache, col *Column) error {
	idx, err := findTopIndex(gen, pos)
	if err != nil {
		return nil //nolint:nilerr
	}
	canonical, err := gen.GetTop(idx)
	if err != nil {
		return err
	}
	if canonical.NextParalogy == int64(idx) {
		return nil // ring of one
	}
	offset := pos - canonical.StartPosition

	members, err := ringMembers(gen, int64(idx))
	if err != nil {
		return err
	}
	for _, m := range members {
		if m == int64(idx) {
			continue
		}
		mrec, err := gen.GetTop(int(m))
		if err != nil {
			return err
		}
		if offset >= mrec.Length {
			continue // ring members needn't all share this canonical's length
		}
		if err := it.visit(gen.Name(), mrec.StartPosition+offset, reversed, "", depth+1, local, col); err != nil {
			return err
		}
	}
	return nil
}

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
	rec, err := g.GetTop(lo)
	if err != nil {
		return 0, err
	}
	if pos < rec.StartPosition || pos >= rec.StartPosition+rec.Length {
		return 0, fmt.Errorf("position %d not covered by any top segment in %q: %w", pos, g.Name(), halerr.ErrNotFound)
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
	rec, err := g.GetBottom(lo)
	if err != nil {
		return 0, err
	}
	if pos < rec.StartPosition || pos >= rec.StartPosition+rec.Length {
		return 0, fmt.Errorf("position %d not covered by any bottom segment in %q: %w", pos, g.Name(), halerr.ErrNotFound)
	}
	return lo, nil
}
