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

// Package randgen builds small, seeded synthetic alignments for tests and
// for halvalidate's self-check mode. It is a deliberately simplified
// stand-in for the original implementation's randgen tool (which grows a
// full random tree with configurable mean branching degree): this version
// always builds a two-level star (one root, N leaves) sharing one segment
// partition, which is enough structure to exercise the mapped-segment
// engine's up/down walk and the column iterator's multi-child fan-out
// without needing a general random-tree generator.
package randgen

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/zymatik-com/hal/alignment"
	"github.com/zymatik-com/hal/container"
	"github.com/zymatik-com/hal/genome"
	"github.com/zymatik-com/hal/segment"
)

// Options parameterizes the generated alignment.
type Options struct {
	Seed             int64
	NumLeaves        int
	MinSegmentLength int
	MaxSegmentLength int
	MinSegments      int
	MaxSegments      int
	MutationRate     float64 // fraction of bases flipped per leaf, [0,1)
	BranchLength     float64
}

// DefaultOptions mirrors the original tool's "small" preset.
func DefaultOptions(seed int64) Options {
	return Options{
		Seed:             seed,
		NumLeaves:        5,
		MinSegmentLength: 10,
		MaxSegmentLength: 1000,
		MinSegments:      5,
		MaxSegments:      10,
		MutationRate:     0.01,
		BranchLength:     0.1,
	}
}

var bases = []byte{'A', 'C', 'G', 'T'}

// Build constructs a fresh alignment on backend: one root genome "Anc0"
// and opts.NumLeaves leaf genomes "Leaf0".."LeafN-1", all sharing a single
// random segment partition of the root's length, with each leaf's bases a
// copy of the root's bases subject to opts.MutationRate point mutations.
func Build(backend container.Backend, logger *slog.Logger, opts Options) (*alignment.Alignment, error) {
	rng := rand.New(rand.NewSource(opts.Seed))

	numSegments := opts.MinSegments
	if opts.MaxSegments > opts.MinSegments {
		numSegments += rng.Intn(opts.MaxSegments - opts.MinSegments)
	}
	segments := make([]struct{ start, length int64 }, numSegments)
	var pos int64
	for i := range segments {
		length := opts.MinSegmentLength
		if opts.MaxSegmentLength > opts.MinSegmentLength {
			length += rng.Intn(opts.MaxSegmentLength - opts.MinSegmentLength)
		}
		segments[i] = struct{ start, length int64 }{pos, int64(length)}
		pos += int64(length)
	}
	rootLen := pos

	al, err := alignment.Create(backend, logger)
	if err != nil {
		return nil, err
	}

	const root = "Anc0"
	if err := al.AddRootGenome(root, int(rootLen)); err != nil {
		return nil, err
	}

	for i := 0; i < opts.NumLeaves; i++ {
		leaf := fmt.Sprintf("Leaf%d", i)
		if err := al.AddLeafGenome(leaf, root, opts.BranchLength, int(rootLen)); err != nil {
			return nil, err
		}
	}

	seqs := func(length int64) []genome.Sequence {
		return []genome.Sequence{{Name: "seq0", Start: 0, Length: int(length)}}
	}
	if err := al.SetDimensions(root, seqs(rootLen), 0, numSegments); err != nil {
		return nil, err
	}
	for i := 0; i < opts.NumLeaves; i++ {
		leaf := fmt.Sprintf("Leaf%d", i)
		if err := al.SetDimensions(leaf, seqs(rootLen), numSegments, 0); err != nil {
			return nil, err
		}
	}

	rootGenome, err := al.GenomeByName(root)
	if err != nil {
		return nil, err
	}
	if err := fillRandomDNA(rootGenome, rng); err != nil {
		return nil, err
	}
	for i, seg := range segments {
		rec := segment.BottomRecord{
			StartPosition: seg.start,
			Length:        seg.length,
			TopParseIndex: segment.NullIndex,
			ChildIndex:    make([]int64, opts.NumLeaves),
			ChildReversed: make([]bool, opts.NumLeaves),
		}
		for slot := range rec.ChildIndex {
			rec.ChildIndex[slot] = int64(i)
		}
		if err := rootGenome.SetBottom(i, rec); err != nil {
			return nil, err
		}
	}

	rootIt, err := rootGenome.NewDNAIterator()
	if err != nil {
		return nil, err
	}

	for li := 0; li < opts.NumLeaves; li++ {
		leaf := fmt.Sprintf("Leaf%d", li)
		leafGenome, err := al.GenomeByName(leaf)
		if err != nil {
			return nil, err
		}
		leafIt, err := leafGenome.NewDNAIterator()
		if err != nil {
			return nil, err
		}
		for pos := int64(0); pos < rootLen; pos++ {
			if err := rootIt.ToPosition(int(pos)); err != nil {
				return nil, err
			}
			b, err := rootIt.GetBase()
			if err != nil {
				return nil, err
			}
			if rng.Float64() < opts.MutationRate {
				b = bases[rng.Intn(len(bases))]
			}
			if err := leafIt.ToPosition(int(pos)); err != nil {
				return nil, err
			}
			if err := leafIt.SetBase(b); err != nil {
				return nil, err
			}
		}
		if err := leafIt.Flush(); err != nil {
			return nil, err
		}

		for i, seg := range segments {
			rec := segment.TopRecord{
				StartPosition:    seg.start,
				Length:           seg.length,
				ParentIndex:      int64(i),
				ParentReversed:   false,
				BottomParseIndex: segment.NullIndex,
				NextParalogy:     int64(i),
			}
			if err := leafGenome.SetTop(i, rec); err != nil {
				return nil, err
			}
		}
	}

	if err := al.Flush(); err != nil {
		return nil, err
	}
	return al, nil
}

func fillRandomDNA(g *genome.Genome, rng *rand.Rand) error {
	it, err := g.NewDNAIterator()
	if err != nil {
		return err
	}
	for pos := 0; pos < g.Length(); pos++ {
		if err := it.ToPosition(pos); err != nil {
			return err
		}
		if err := it.SetBase(bases[rng.Intn(len(bases))]); err != nil {
			return err
		}
	}
	return it.Flush()
}
