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

// Package rearrange coalesces the mapped-segment engine's per-segment
// output into gapped blocks (runs that map as one unit once gaps below a
// caller threshold are bridged) and classifies each block's relationship
// to its source-order neighbor: inversion, deletion, insertion,
// duplication, translocation, or complex. Classification follows the
// decision procedure recovered from the original implementation's
// rearrangement test fixtures: adjacency in both genomes plus orientation
// decides the category, and a block matching more than one category at
// once is complex.
package rearrange

import (
	"fmt"
	"io"

	"github.com/zymatik-com/hal/genome"
	"github.com/zymatik-com/hal/mapped"
)

// Kind is a rearrangement classification.
type Kind int

const (
	// Colinear blocks are each other's sole neighbor on the same strand in
	// both genomes: not a rearrangement. ClassifyAll reports Colinear for a
	// block that matches no other category.
	Colinear Kind = iota
	Inversion
	Deletion
	Insertion
	Duplication
	Translocation
	Complex
)

func (k Kind) String() string {
	switch k {
	case Colinear:
		return "colinear"
	case Inversion:
		return "inversion"
	case Deletion:
		return "deletion"
	case Insertion:
		return "insertion"
	case Duplication:
		return "duplication"
	case Translocation:
		return "translocation"
	case Complex:
		return "complex"
	default:
		return "unknown"
	}
}

// Block is a contiguous, gap-bridged run of mapped segments: a source
// range and its image in the target genome.
type Block struct {
	Source   mapped.Range
	Target   mapped.Range
	Reversed bool
}

// GetLeft returns the block's left (lower-coordinate) boundary in source
// genome coordinates.
func (b Block) GetLeft() int64 { return b.Source.Start }

// GetRight returns the block's right (exclusive upper) boundary in source
// genome coordinates.
func (b Block) GetRight() int64 { return b.Source.End }

// Coalesce merges a source-order-sorted list of mapped segments into
// blocks, bridging gaps of at most gapThreshold bases in both source and
// target coordinates between same-orientation, same-target-genome
// neighbors.
func Coalesce(ms []mapped.Mapped, gapThreshold int64) []Block {
	var blocks []Block
	for _, m := range ms {
		b := Block{Source: m.Source, Target: m.Target, Reversed: m.Reversed}
		if n := len(blocks); n > 0 && canMerge(blocks[n-1], b, gapThreshold) {
			mergeInto(&blocks[n-1], b)
			continue
		}
		blocks = append(blocks, b)
	}
	return blocks
}

func canMerge(a, b Block, gapThreshold int64) bool {
	if a.Target.Genome != b.Target.Genome || a.Reversed != b.Reversed {
		return false
	}
	sourceGap := b.Source.Start - a.Source.End
	if sourceGap < 0 || sourceGap > gapThreshold {
		return false
	}
	var targetGap int64
	if !a.Reversed {
		targetGap = b.Target.Start - a.Target.End
	} else {
		targetGap = a.Target.Start - b.Target.End
	}
	return targetGap >= 0 && targetGap <= gapThreshold
}

func mergeInto(a *Block, b Block) {
	a.Source.End = b.Source.End
	if !a.Reversed {
		a.Target.End = b.Target.End
	} else {
		a.Target.Start = b.Target.Start
	}
}

// ClassifyAll classifies every block in a source-order-sorted slice
// relative to its immediate predecessor. blocks[0] has no predecessor, so
// only the duplication check applies to it: it is Colinear unless its
// target range overlaps another block's.
func ClassifyAll(blocks []Block) []Kind {
	out := make([]Kind, len(blocks))
	for i := range blocks {
		out[i] = classifyOne(blocks, i)
	}
	return out
}

func classifyOne(blocks []Block, i int) Kind {
	b := blocks[i]

	duplication := false
	for j, other := range blocks {
		if j == i || other.Target.Genome != b.Target.Genome {
			continue
		}
		if overlaps(other.Target, b.Target) {
			duplication = true
			break
		}
	}

	var inversion, deletion, insertion, translocation bool
	if i > 0 {
		prev := blocks[i-1]
		if prev.Target.Genome != b.Target.Genome {
			translocation = true
		} else {
			if prev.Reversed != b.Reversed {
				inversion = true
			}
			sourceGap := b.Source.Start - prev.Source.End
			var targetGap int64
			if !b.Reversed {
				targetGap = b.Target.Start - prev.Target.End
			} else {
				targetGap = prev.Target.Start - b.Target.End
			}
			switch {
			case sourceGap > 0 && targetGap <= 0:
				deletion = true
			case targetGap > 0 && sourceGap <= 0:
				insertion = true
			}
			prevBeforeInTarget := prev.Target.Start < b.Target.Start
			prevBeforeInSource := prev.Source.Start < b.Source.Start
			if prevBeforeInTarget != prevBeforeInSource && !inversion {
				translocation = true
			}
		}
	}

	matches := 0
	kind := Colinear
	for _, m := range []struct {
		hit  bool
		kind Kind
	}{
		{inversion, Inversion},
		{deletion, Deletion},
		{insertion, Insertion},
		{duplication, Duplication},
		{translocation, Translocation},
	} {
		if m.hit {
			matches++
			kind = m.kind
		}
	}
	if matches > 1 {
		return Complex
	}
	return kind
}

func overlaps(a, b mapped.Range) bool {
	return a.Start < b.End && b.Start < a.End
}

// Iterator walks a coalesced, classified block list in source order.
type Iterator struct {
	blocks []Block
	kinds  []Kind
	idx    int
}

// NewIterator coalesces ms with gapThreshold and classifies every block.
func NewIterator(ms []mapped.Mapped, gapThreshold int64) *Iterator {
	blocks := Coalesce(ms, gapThreshold)
	return &Iterator{blocks: blocks, kinds: ClassifyAll(blocks), idx: -1}
}

// AtEnd reports whether the iterator has walked every block.
func (it *Iterator) AtEnd() bool { return it.idx+1 >= len(it.blocks) }

// Next advances to the next block. Returns false once AtEnd() is true.
func (it *Iterator) Next() bool {
	if it.AtEnd() {
		return false
	}
	it.idx++
	return true
}

// Block returns the current block.
func (it *Iterator) Block() Block { return it.blocks[it.idx] }

// Classification returns the current block's rearrangement kind relative
// to its predecessor.
func (it *Iterator) Classification() Kind { return it.kinds[it.idx] }

// WritePAF writes blocks as 12-column PAF records to w, resolving
// per-sequence names, lengths, and offsets from srcGenome/tgtGenome.
// Column 10 (residue matches) and 11 (block length) both use the block's
// aligned length since base-level identity isn't tracked by the mapped
// segment engine; column 12 (mapping quality) is always 255.
func WritePAF(w io.Writer, blocks []Block, srcGenome, tgtGenome *genome.Genome) error {
	for _, b := range blocks {
		srcSeq, err := srcGenome.SequenceAt(int(b.Source.Start))
		if err != nil {
			return err
		}
		tgtSeq, err := tgtGenome.SequenceAt(int(b.Target.Start))
		if err != nil {
			return err
		}
		strand := "+"
		if b.Reversed {
			strand = "-"
		}
		blockLen := b.Source.End - b.Source.Start
		_, err = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			srcSeq.Name, srcSeq.Length, b.Source.Start-int64(srcSeq.Start), b.Source.End-int64(srcSeq.Start),
			strand,
			tgtSeq.Name, tgtSeq.Length, b.Target.Start-int64(tgtSeq.Start), b.Target.End-int64(tgtSeq.Start),
			blockLen, blockLen, 255)
		if err != nil {
			return err
		}
	}
	return nil
}
