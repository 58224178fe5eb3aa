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

package randgen_test

import (
	"path/filepath"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/zymatik-com/hal/container/mmaparena"
	"github.com/zymatik-com/hal/internal/randgen"
)

func newBackend(t *testing.T) *mmaparena.Backend {
	t.Helper()
	backend, err := mmaparena.Create(filepath.Join(t.TempDir(), "test.hal"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, backend.Close()) })
	return backend
}

// TestBuildTopology checks that Build produces a star tree: one root with
// the requested number of leaves, each sharing the root's length.
func TestBuildTopology(t *testing.T) {
	opts := randgen.DefaultOptions(7)
	opts.NumLeaves = 3
	opts.MinSegments, opts.MaxSegments = 5, 5
	opts.MinSegmentLength, opts.MaxSegmentLength = 10, 10

	al, err := randgen.Build(newBackend(t), slogt.New(t), opts)
	require.NoError(t, err)

	rootG, err := al.GenomeByName("Anc0")
	require.NoError(t, err)
	require.False(t, al.Tree().Children("Anc0") == nil)
	require.Len(t, al.Tree().Children("Anc0"), opts.NumLeaves)
	require.Equal(t, 5, rootG.BottomSegmentCount())

	for i := 0; i < opts.NumLeaves; i++ {
		name := leafName(i)
		leafG, err := al.GenomeByName(name)
		require.NoError(t, err)
		require.Equal(t, rootG.Length(), leafG.Length())
		require.Equal(t, 5, leafG.TopSegmentCount())

		parent, ok := al.Tree().Parent(name)
		require.True(t, ok)
		require.Equal(t, "Anc0", parent)
	}
}

// TestBuildZeroMutationIsIdentical checks that with MutationRate 0 every
// leaf's bases are an exact copy of the root's.
func TestBuildZeroMutationIsIdentical(t *testing.T) {
	opts := randgen.DefaultOptions(11)
	opts.NumLeaves = 1
	opts.MinSegments, opts.MaxSegments = 3, 3
	opts.MinSegmentLength, opts.MaxSegmentLength = 12, 12
	opts.MutationRate = 0

	al, err := randgen.Build(newBackend(t), slogt.New(t), opts)
	require.NoError(t, err)

	rootG, err := al.GenomeByName("Anc0")
	require.NoError(t, err)
	leafG, err := al.GenomeByName("Leaf0")
	require.NoError(t, err)

	rootIt, err := rootG.NewDNAIterator()
	require.NoError(t, err)
	leafIt, err := leafG.NewDNAIterator()
	require.NoError(t, err)

	for pos := 0; pos < rootG.Length(); pos++ {
		require.NoError(t, rootIt.ToPosition(pos))
		require.NoError(t, leafIt.ToPosition(pos))
		rb, err := rootIt.GetBase()
		require.NoError(t, err)
		lb, err := leafIt.GetBase()
		require.NoError(t, err)
		require.Equal(t, rb, lb)
	}
}

// TestBuildFullMutationDiverges checks that MutationRate 1 redraws every
// leaf base at random. A redraw can land on the root's base, so this only
// asserts the leaf is not a perfect copy.
func TestBuildFullMutationDiverges(t *testing.T) {
	opts := randgen.DefaultOptions(13)
	opts.NumLeaves = 1
	opts.MinSegments, opts.MaxSegments = 3, 3
	opts.MinSegmentLength, opts.MaxSegmentLength = 64, 64
	opts.MutationRate = 1

	al, err := randgen.Build(newBackend(t), slogt.New(t), opts)
	require.NoError(t, err)

	rootG, err := al.GenomeByName("Anc0")
	require.NoError(t, err)
	leafG, err := al.GenomeByName("Leaf0")
	require.NoError(t, err)

	rootIt, err := rootG.NewDNAIterator()
	require.NoError(t, err)
	leafIt, err := leafG.NewDNAIterator()
	require.NoError(t, err)

	var differs bool
	for pos := 0; pos < rootG.Length(); pos++ {
		require.NoError(t, rootIt.ToPosition(pos))
		require.NoError(t, leafIt.ToPosition(pos))
		rb, err := rootIt.GetBase()
		require.NoError(t, err)
		lb, err := leafIt.GetBase()
		require.NoError(t, err)
		if rb != lb {
			differs = true
			break
		}
	}
	require.True(t, differs)
}

func leafName(i int) string {
	return "Leaf" + string(rune('0'+i))
}
