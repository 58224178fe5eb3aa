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

package segment_test

import (
	"path/filepath"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/zymatik-com/hal/alignment"
	"github.com/zymatik-com/hal/container/mmaparena"
	"github.com/zymatik-com/hal/dna"
	"github.com/zymatik-com/hal/genome"
	"github.com/zymatik-com/hal/internal/randgen"
	"github.com/zymatik-com/hal/segment"
)

func TestEncodeDecodeTopRecord(t *testing.T) {
	r := segment.TopRecord{
		StartPosition:    100,
		Length:           50,
		ParentIndex:      7,
		ParentReversed:   true,
		BottomParseIndex: 3,
		NextParalogy:     9,
	}
	buf := segment.EncodeTop(r)
	require.Len(t, buf, segment.TopRecordSize)

	got, err := segment.DecodeTop(buf)
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func TestDecodeTopRecordWrongSize(t *testing.T) {
	_, err := segment.DecodeTop(make([]byte, 3))
	require.Error(t, err)
}

func TestEncodeDecodeBottomRecord(t *testing.T) {
	r := segment.BottomRecord{
		StartPosition: 10,
		Length:        20,
		TopParseIndex: 1,
		ChildIndex:    []int64{5, segment.NullIndex},
		ChildReversed: []bool{true, false},
	}
	buf, err := segment.EncodeBottom(r, 2)
	require.NoError(t, err)
	require.Len(t, buf, segment.BottomRecordSize(2))

	got, err := segment.DecodeBottom(buf, 2)
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func TestEncodeBottomRecordWrongSlotCount(t *testing.T) {
	r := segment.BottomRecord{ChildIndex: []int64{1}, ChildReversed: []bool{false}}
	_, err := segment.EncodeBottom(r, 2)
	require.Error(t, err)
}

func buildStarFixture(t *testing.T) *alignment.Alignment {
	t.Helper()
	backend, err := mmaparena.Create(filepath.Join(t.TempDir(), "test.hal"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, backend.Close()) })

	opts := randgen.DefaultOptions(5)
	opts.NumLeaves = 2
	opts.MinSegments, opts.MaxSegments = 3, 3
	opts.MinSegmentLength, opts.MaxSegmentLength = 20, 20
	opts.MutationRate = 0

	al, err := randgen.Build(backend, slogt.New(t), opts)
	require.NoError(t, err)
	return al
}

// TestTopIteratorToParent checks ascending from a leaf's top-segment array
// to its root's covering bottom-segment.
func TestTopIteratorToParent(t *testing.T) {
	al := buildStarFixture(t)
	leafG, err := al.GenomeByName("Leaf0")
	require.NoError(t, err)

	top := segment.NewTopIterator(al, leafG, 0)
	hasParent, err := top.HasParent()
	require.NoError(t, err)
	require.True(t, hasParent)

	bottom, err := top.ToParent()
	require.NoError(t, err)
	require.Equal(t, "Anc0", bottom.Genome().Name())

	leftTop, rightTop, err := top.Bounds()
	require.NoError(t, err)
	leftBottom, rightBottom, err := bottom.Bounds()
	require.NoError(t, err)
	require.Equal(t, leftTop, leftBottom)
	require.Equal(t, rightTop, rightBottom)
}

// TestBottomIteratorToChild checks descending from the root's bottom-segment
// array down to a named leaf's top-segment, and that addressing by slot and
// by name agree.
func TestBottomIteratorToChild(t *testing.T) {
	al := buildStarFixture(t)
	rootG, err := al.GenomeByName("Anc0")
	require.NoError(t, err)

	bottom := segment.NewBottomIterator(al, rootG, 0)
	top, err := bottom.ToChildG("Leaf1")
	require.NoError(t, err)
	require.Equal(t, "Leaf1", top.Genome().Name())

	topBySlot, err := bottom.ToChild(1)
	require.NoError(t, err)
	require.Equal(t, "Leaf1", topBySlot.Genome().Name())
	require.Equal(t, top.Index(), topBySlot.Index())
}

// TestBottomIteratorToSiteAndSlice checks binary-search positioning and
// offset slicing within a segment.
func TestBottomIteratorToSiteAndSlice(t *testing.T) {
	al := buildStarFixture(t)
	rootG, err := al.GenomeByName("Anc0")
	require.NoError(t, err)

	bottom := segment.NewBottomIterator(al, rootG, 0)
	require.NoError(t, bottom.ToSite(25, false))
	left, right, err := bottom.Bounds()
	require.NoError(t, err)
	require.True(t, left <= 25 && 25 <= right)

	require.NoError(t, bottom.ToSite(25, true))
	left, right, err = bottom.Bounds()
	require.NoError(t, err)
	require.Equal(t, int64(25), left)
	require.Equal(t, int64(25), right)
}

// buildChainFixture builds a three-level chain Anc0 -> Mid -> Leaf sharing
// one full-length segment at every level, so Mid has both a top-segment
// array (linking up to Anc0) and a bottom-segment array (linking down to
// Leaf) whose parse indices point at each other. randgen's star topology
// never gives any genome both arrays at once, so parse transitions need
// their own hand-built fixture.
func buildChainFixture(t *testing.T) (*alignment.Alignment, int) {
	t.Helper()
	backend, err := mmaparena.Create(filepath.Join(t.TempDir(), "chain.hal"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, backend.Close()) })

	const length = 30
	al, err := alignment.Create(backend, nil)
	require.NoError(t, err)

	require.NoError(t, al.AddRootGenome("Anc0", length))
	require.NoError(t, al.AddLeafGenome("Mid", "Anc0", 0.1, length))
	require.NoError(t, al.AddLeafGenome("Leaf", "Mid", 0.1, length))

	seqs := []genome.Sequence{{Name: "seq0", Start: 0, Length: length}}
	require.NoError(t, al.SetDimensions("Anc0", seqs, 0, 1))
	require.NoError(t, al.SetDimensions("Mid", seqs, 1, 1))
	require.NoError(t, al.SetDimensions("Leaf", seqs, 1, 0))

	ancG, err := al.GenomeByName("Anc0")
	require.NoError(t, err)
	require.NoError(t, ancG.SetBottom(0, segment.BottomRecord{
		StartPosition: 0, Length: length,
		TopParseIndex: segment.NullIndex,
		ChildIndex:    []int64{0},
		ChildReversed: []bool{false},
	}))

	midG, err := al.GenomeByName("Mid")
	require.NoError(t, err)
	require.NoError(t, midG.SetTop(0, segment.TopRecord{
		StartPosition: 0, Length: length,
		ParentIndex: 0, ParentReversed: false,
		BottomParseIndex: 0, NextParalogy: 0,
	}))
	require.NoError(t, midG.SetBottom(0, segment.BottomRecord{
		StartPosition: 0, Length: length,
		TopParseIndex: 0,
		ChildIndex:    []int64{0},
		ChildReversed: []bool{false},
	}))

	leafG, err := al.GenomeByName("Leaf")
	require.NoError(t, err)
	require.NoError(t, leafG.SetTop(0, segment.TopRecord{
		StartPosition: 0, Length: length,
		ParentIndex: 0, ParentReversed: false,
		BottomParseIndex: segment.NullIndex, NextParalogy: 0,
	}))

	require.NoError(t, al.Flush())
	return al, length
}

// TestParseTransitionRoundTrip checks that ascending from Mid's
// bottom-segment array to its top-segment array (ToParseUp) and back down
// (ToParseDown) returns to the same bottom-segment index, since both arrays
// cover the identical [0, length) range here.
func TestParseTransitionRoundTrip(t *testing.T) {
	al, length := buildChainFixture(t)
	midG, err := al.GenomeByName("Mid")
	require.NoError(t, err)

	bottom := segment.NewBottomIterator(al, midG, 0)
	top, err := bottom.ToParseUp()
	require.NoError(t, err)

	left, right, err := top.Bounds()
	require.NoError(t, err)
	require.Equal(t, int64(0), left)
	require.Equal(t, int64(length-1), right)

	backToBottom, err := top.ToParseDown()
	require.NoError(t, err)
	require.Equal(t, bottom.Index(), backToBottom.Index())
}

// TestChainAscendDescend checks that the whole chain composes: Leaf's
// top-segment reaches Mid's bottom-segment, which parse-transitions up to
// Mid's top-segment, which reaches Anc0's bottom-segment.
func TestChainAscendDescend(t *testing.T) {
	al, _ := buildChainFixture(t)
	leafG, err := al.GenomeByName("Leaf")
	require.NoError(t, err)

	leafTop := segment.NewTopIterator(al, leafG, 0)
	midBottom, err := leafTop.ToParent()
	require.NoError(t, err)
	require.Equal(t, "Mid", midBottom.Genome().Name())

	midTop, err := midBottom.ToParseUp()
	require.NoError(t, err)
	require.Equal(t, "Mid", midTop.Genome().Name())

	ancBottom, err := midTop.ToParent()
	require.NoError(t, err)
	require.Equal(t, "Anc0", ancBottom.Genome().Name())
}

// TestToReverseRoundTripsGetString checks invariants I4/I5: flipping a
// segment's orientation reads back the reverse complement, and flipping
// twice returns to the original forward string.
func TestToReverseRoundTripsGetString(t *testing.T) {
	al := buildStarFixture(t)
	leafG, err := al.GenomeByName("Leaf0")
	require.NoError(t, err)

	top := segment.NewTopIterator(al, leafG, 0)
	forward, err := top.GetString()
	require.NoError(t, err)
	require.NotEmpty(t, forward)

	top.ToReverse()
	reversed, err := top.GetString()
	require.NoError(t, err)
	require.Equal(t, dna.ReverseComplement(forward), reversed)

	top.ToReverse()
	back, err := top.GetString()
	require.NoError(t, err)
	require.Equal(t, forward, back)
}

// buildMismatchedTilingFixture builds Anc0 -> Mid -> Leaf where Mid's
// single top-segment (length 30, linking up to Anc0) is tiled underneath
// by three bottom-segments of length 10 each (linking down to three Leaf
// top-segments). buildChainFixture's identity tiling never forces
// intersectParse to actually clip anything; this fixture does.
func buildMismatchedTilingFixture(t *testing.T) *alignment.Alignment {
	t.Helper()
	backend, err := mmaparena.Create(filepath.Join(t.TempDir(), "tiling.hal"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, backend.Close()) })

	const length = 30
	al, err := alignment.Create(backend, nil)
	require.NoError(t, err)

	require.NoError(t, al.AddRootGenome("Anc0", length))
	require.NoError(t, al.AddLeafGenome("Mid", "Anc0", 0.1, length))
	require.NoError(t, al.AddLeafGenome("Leaf", "Mid", 0.1, length))

	seqs := []genome.Sequence{{Name: "seq0", Start: 0, Length: length}}
	require.NoError(t, al.SetDimensions("Anc0", seqs, 0, 1))
	require.NoError(t, al.SetDimensions("Mid", seqs, 1, 3))
	require.NoError(t, al.SetDimensions("Leaf", seqs, 3, 0))

	ancG, err := al.GenomeByName("Anc0")
	require.NoError(t, err)
	require.NoError(t, ancG.SetBottom(0, segment.BottomRecord{
		StartPosition: 0, Length: length,
		TopParseIndex: segment.NullIndex,
		ChildIndex:    []int64{0},
		ChildReversed: []bool{false},
	}))

	midG, err := al.GenomeByName("Mid")
	require.NoError(t, err)
	require.NoError(t, midG.SetTop(0, segment.TopRecord{
		StartPosition: 0, Length: length,
		ParentIndex: 0, ParentReversed: false,
		BottomParseIndex: 0, NextParalogy: 0,
	}))
	for i := 0; i < 3; i++ {
		require.NoError(t, midG.SetBottom(i, segment.BottomRecord{
			StartPosition: int64(i * 10), Length: 10,
			TopParseIndex: 0,
			ChildIndex:    []int64{int64(i)},
			ChildReversed: []bool{false},
		}))
	}

	leafG, err := al.GenomeByName("Leaf")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, leafG.SetTop(i, segment.TopRecord{
			StartPosition: int64(i * 10), Length: 10,
			ParentIndex: int64(i), ParentReversed: false,
			BottomParseIndex: segment.NullIndex, NextParalogy: int64(i),
		}))
	}

	require.NoError(t, al.Flush())
	return al
}

// TestParseTransitionClipsToFinerBottomTiling checks intersectParse's
// clipping arithmetic (spec.md §8 scenario 6): ascending from the middle
// of three bottom-segment tiles must clip the single covering
// top-segment's observed range down to that tile's bounds, not leave it
// at the top-segment's full [0,30) range.
func TestParseTransitionClipsToFinerBottomTiling(t *testing.T) {
	al := buildMismatchedTilingFixture(t)
	midG, err := al.GenomeByName("Mid")
	require.NoError(t, err)

	bottom := segment.NewBottomIterator(al, midG, 1)
	left, right, err := bottom.Bounds()
	require.NoError(t, err)
	require.Equal(t, int64(10), left)
	require.Equal(t, int64(19), right)

	top, err := bottom.ToParseUp()
	require.NoError(t, err)
	topLeft, topRight, err := top.Bounds()
	require.NoError(t, err)
	require.Equal(t, int64(10), topLeft)
	require.Equal(t, int64(19), topRight)
}

// buildParalogyFixture builds Anc0 -> Leaf0 where Leaf0 has two
// top-segments descending from the same ancestral bottom-segment: a
// duplication. Index 0 is the canonical member (Anc0's bottom record
// points at it); index 1 is its paralog, linked via NextParalogy into a
// two-member ring. randgen's star topology only ever produces self-loop
// rings, so this needs a hand-built fixture.
func buildParalogyFixture(t *testing.T) *alignment.Alignment {
	t.Helper()
	backend, err := mmaparena.Create(filepath.Join(t.TempDir(), "paralogy.hal"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, backend.Close()) })

	al, err := alignment.Create(backend, nil)
	require.NoError(t, err)
	require.NoError(t, al.AddRootGenome("Anc0", 10))
	require.NoError(t, al.AddLeafGenome("Leaf0", "Anc0", 0.1, 60))

	ancSeqs := []genome.Sequence{{Name: "seq0", Start: 0, Length: 10}}
	require.NoError(t, al.SetDimensions("Anc0", ancSeqs, 0, 1))
	leafSeqs := []genome.Sequence{{Name: "seq0", Start: 0, Length: 60}}
	require.NoError(t, al.SetDimensions("Leaf0", leafSeqs, 2, 0))

	ancG, err := al.GenomeByName("Anc0")
	require.NoError(t, err)
	require.NoError(t, ancG.SetBottom(0, segment.BottomRecord{
		StartPosition: 0, Length: 10,
		TopParseIndex: segment.NullIndex,
		ChildIndex:    []int64{0},
		ChildReversed: []bool{false},
	}))

	leafG, err := al.GenomeByName("Leaf0")
	require.NoError(t, err)
	require.NoError(t, leafG.SetTop(0, segment.TopRecord{
		StartPosition: 0, Length: 10,
		ParentIndex: 0, ParentReversed: false,
		BottomParseIndex: segment.NullIndex, NextParalogy: 1,
	}))
	require.NoError(t, leafG.SetTop(1, segment.TopRecord{
		StartPosition: 50, Length: 10,
		ParentIndex: 0, ParentReversed: false,
		BottomParseIndex: segment.NullIndex, NextParalogy: 0,
	}))

	require.NoError(t, al.Flush())
	return al
}

// TestIsCanonicalParalogAndToNextParalogy checks that the canonical ring
// member is the one Anc0's bottom record actually points at, and that
// ToNextParalogy walks the two-member ring both ways.
func TestIsCanonicalParalogAndToNextParalogy(t *testing.T) {
	al := buildParalogyFixture(t)
	leafG, err := al.GenomeByName("Leaf0")
	require.NoError(t, err)

	canonical := segment.NewTopIterator(al, leafG, 0)
	isCanon, err := canonical.IsCanonicalParalog()
	require.NoError(t, err)
	require.True(t, isCanon)

	paralog := segment.NewTopIterator(al, leafG, 1)
	isCanon, err = paralog.IsCanonicalParalog()
	require.NoError(t, err)
	require.False(t, isCanon)

	require.NoError(t, canonical.ToNextParalogy())
	require.Equal(t, int64(1), canonical.Index())
	require.NoError(t, canonical.ToNextParalogy())
	require.Equal(t, int64(0), canonical.Index())
}
