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

package column_test

import (
	"path/filepath"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/zymatik-com/hal/alignment"
	"github.com/zymatik-com/hal/column"
	"github.com/zymatik-com/hal/container/mmaparena"
	"github.com/zymatik-com/hal/genome"
	"github.com/zymatik-com/hal/internal/randgen"
	"github.com/zymatik-com/hal/segment"
)

func buildFixture(t *testing.T) *alignment.Alignment {
	t.Helper()
	backend, err := mmaparena.Create(filepath.Join(t.TempDir(), "test.hal"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, backend.Close()) })

	opts := randgen.DefaultOptions(3)
	opts.NumLeaves = 2
	opts.MinSegments, opts.MaxSegments = 4, 4
	opts.MinSegmentLength, opts.MaxSegmentLength = 15, 15
	opts.MutationRate = 0

	al, err := randgen.Build(backend, slogt.New(t), opts)
	require.NoError(t, err)
	return al
}

func siteGenomes(col *column.Column) []string {
	var out []string
	for _, s := range col.Sites {
		out = append(out, s.Genome)
	}
	return out
}

// TestColumnFloodsToAllLeaves checks that a column anchored at the root
// reaches both leaves through the root's two child edges.
func TestColumnFloodsToAllLeaves(t *testing.T) {
	al := buildFixture(t)
	rootG, err := al.GenomeByName("Anc0")
	require.NoError(t, err)

	it, err := column.NewIterator(al, "Anc0", 0, int64(rootG.Length()), false, column.Flags{})
	require.NoError(t, err)

	var n int
	for !it.AtEnd() {
		col, err := it.Next()
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"Anc0", "Leaf0", "Leaf1"}, siteGenomes(col))
		require.Equal(t, "Anc0", col.Reference.Genome)
		n++
	}
	require.Equal(t, int(rootG.Length()), n)
}

// TestColumnNoAncestorsHidesRoot checks that NoAncestors removes the
// internal-node site from the output while leaving leaf traversal intact.
func TestColumnNoAncestorsHidesRoot(t *testing.T) {
	al := buildFixture(t)
	rootG, err := al.GenomeByName("Anc0")
	require.NoError(t, err)

	it, err := column.NewIterator(al, "Anc0", 0, int64(rootG.Length()), false, column.Flags{NoAncestors: true})
	require.NoError(t, err)

	col, err := it.Next()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Leaf0", "Leaf1"}, siteGenomes(col))
}

// TestColumnLeafAnchorReachesSibling checks that a column anchored at a
// leaf ascends to the root and descends back down to its sibling.
func TestColumnLeafAnchorReachesSibling(t *testing.T) {
	al := buildFixture(t)
	leafG, err := al.GenomeByName("Leaf0")
	require.NoError(t, err)

	it, err := column.NewIterator(al, "Leaf0", 0, int64(leafG.Length()), false, column.Flags{})
	require.NoError(t, err)

	col, err := it.Next()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Anc0", "Leaf0", "Leaf1"}, siteGenomes(col))
}

// TestColumnReverseWalksBackward checks that reverse iteration starts at
// end-1 and proceeds toward start.
func TestColumnReverseWalksBackward(t *testing.T) {
	al := buildFixture(t)
	rootG, err := al.GenomeByName("Anc0")
	require.NoError(t, err)

	it, err := column.NewIterator(al, "Anc0", 0, int64(rootG.Length()), true, column.Flags{})
	require.NoError(t, err)

	col, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, int64(rootG.Length()-1), col.Reference.Position)
}

// TestColumnEmptyRange checks that start==end produces an already-exhausted
// iterator.
func TestColumnEmptyRange(t *testing.T) {
	al := buildFixture(t)
	it, err := column.NewIterator(al, "Anc0", 5, 5, false, column.Flags{})
	require.NoError(t, err)
	require.True(t, it.AtEnd())
}

// buildGappedFixture builds Anc0 -> (Leaf0, Leaf1) where Leaf1 has no
// aligned segment over [10, 20): a deletion in Leaf1 relative to Anc0.
// randgen's fixed MutationRate:0 star topology never produces a gap, so
// scenario 5 ("column walk with a gap") needs a hand-built fixture.
func buildGappedFixture(t *testing.T) *alignment.Alignment {
	t.Helper()
	backend, err := mmaparena.Create(filepath.Join(t.TempDir(), "gapped.hal"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, backend.Close()) })

	const length = 20
	al, err := alignment.Create(backend, nil)
	require.NoError(t, err)
	require.NoError(t, al.AddRootGenome("Anc0", length))
	require.NoError(t, al.AddLeafGenome("Leaf0", "Anc0", 0.1, length))
	require.NoError(t, al.AddLeafGenome("Leaf1", "Anc0", 0.1, length))

	seqs := []genome.Sequence{{Name: "seq0", Start: 0, Length: length}}
	require.NoError(t, al.SetDimensions("Anc0", seqs, 0, 2))
	require.NoError(t, al.SetDimensions("Leaf0", seqs, 2, 0))
	require.NoError(t, al.SetDimensions("Leaf1", seqs, 1, 0))

	ancG, err := al.GenomeByName("Anc0")
	require.NoError(t, err)
	require.NoError(t, ancG.SetBottom(0, segment.BottomRecord{
		StartPosition: 0, Length: 10,
		TopParseIndex: segment.NullIndex,
		ChildIndex:    []int64{0, 0},
		ChildReversed: []bool{false, false},
	}))
	require.NoError(t, ancG.SetBottom(1, segment.BottomRecord{
		StartPosition: 10, Length: 10,
		TopParseIndex: segment.NullIndex,
		ChildIndex:    []int64{1, segment.NullIndex}, // Leaf1 has no segment here
		ChildReversed: []bool{false, false},
	}))

	leaf0, err := al.GenomeByName("Leaf0")
	require.NoError(t, err)
	require.NoError(t, leaf0.SetTop(0, segment.TopRecord{
		StartPosition: 0, Length: 10,
		ParentIndex: 0, ParentReversed: false,
		BottomParseIndex: segment.NullIndex, NextParalogy: 0,
	}))
	require.NoError(t, leaf0.SetTop(1, segment.TopRecord{
		StartPosition: 10, Length: 10,
		ParentIndex: 1, ParentReversed: false,
		BottomParseIndex: segment.NullIndex, NextParalogy: 1,
	}))

	leaf1, err := al.GenomeByName("Leaf1")
	require.NoError(t, err)
	require.NoError(t, leaf1.SetTop(0, segment.TopRecord{
		StartPosition: 0, Length: 10,
		ParentIndex: 0, ParentReversed: false,
		BottomParseIndex: segment.NullIndex, NextParalogy: 0,
	}))

	require.NoError(t, al.Flush())
	return al
}

// TestColumnWalksThroughGap checks scenario 5: columns inside the aligned
// region reach both leaves, but columns over Leaf1's gap only reach Anc0
// and Leaf0.
func TestColumnWalksThroughGap(t *testing.T) {
	al := buildGappedFixture(t)

	it, err := column.NewIterator(al, "Anc0", 5, 15, false, column.Flags{})
	require.NoError(t, err)

	col, err := it.Next()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Anc0", "Leaf0", "Leaf1"}, siteGenomes(col))

	for i := 0; i < 4; i++ {
		_, err := it.Next()
		require.NoError(t, err)
	}
	col, err = it.Next()
	require.NoError(t, err)
	require.Equal(t, int64(10), col.Reference.Position)
	require.ElementsMatch(t, []string{"Anc0", "Leaf0"}, siteGenomes(col))
}
