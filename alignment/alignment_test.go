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

package alignment_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zymatik-com/hal/alignment"
	"github.com/zymatik-com/hal/container"
	"github.com/zymatik-com/hal/container/mmaparena"
	"github.com/zymatik-com/hal/genome"
	"github.com/zymatik-com/hal/halerr"
	"github.com/zymatik-com/hal/segment"
)

func newBackend(t *testing.T) *mmaparena.Backend {
	t.Helper()
	backend, err := mmaparena.Create(filepath.Join(t.TempDir(), "test.hal"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, backend.Close()) })
	return backend
}

func TestAddRootGenomeOnlyOnce(t *testing.T) {
	al, err := alignment.Create(newBackend(t), nil)
	require.NoError(t, err)

	require.NoError(t, al.AddRootGenome("Anc0", 100))
	require.Equal(t, "Anc0", al.Tree().Root())

	err = al.AddRootGenome("Anc1", 100)
	require.ErrorIs(t, err, halerr.ErrInvalidArgument)
}

func TestAddLeafGenomeGrowsParentChildSlots(t *testing.T) {
	al, err := alignment.Create(newBackend(t), nil)
	require.NoError(t, err)
	require.NoError(t, al.AddRootGenome("Anc0", 100))

	require.NoError(t, al.AddLeafGenome("Leaf0", "Anc0", 0.1, 100))
	rootG, err := al.GenomeByName("Anc0")
	require.NoError(t, err)
	require.Equal(t, 1, rootG.NumChildren())

	require.NoError(t, al.AddLeafGenome("Leaf1", "Anc0", 0.1, 100))
	require.Equal(t, 2, rootG.NumChildren())

	leaf0, err := al.GenomeByName("Leaf0")
	require.NoError(t, err)
	require.True(t, leaf0.HasParent())
	require.False(t, leaf0.HasChildren())
}

func TestAddLeafGenomeUnknownParent(t *testing.T) {
	al, err := alignment.Create(newBackend(t), nil)
	require.NoError(t, err)
	require.NoError(t, al.AddRootGenome("Anc0", 100))

	err = al.AddLeafGenome("Leaf0", "NoSuchParent", 0.1, 100)
	require.ErrorIs(t, err, halerr.ErrNotFound)
}

// TestGrowParentChildSlotsPreservesExistingRecords checks that widening the
// root's bottom-segment record width for a second child leaves the first
// child's slot untouched, with the new slot NULL.
func TestGrowParentChildSlotsPreservesExistingRecords(t *testing.T) {
	al, err := alignment.Create(newBackend(t), nil)
	require.NoError(t, err)
	require.NoError(t, al.AddRootGenome("Anc0", 30))
	require.NoError(t, al.AddLeafGenome("Leaf0", "Anc0", 0.1, 30))

	rootG, err := al.GenomeByName("Anc0")
	require.NoError(t, err)
	require.NoError(t, rootG.ResizeBottom(1))
	require.NoError(t, rootG.SetBottom(0, segment.BottomRecord{
		StartPosition: 0, Length: 30,
		TopParseIndex: segment.NullIndex,
		ChildIndex:    []int64{0},
		ChildReversed: []bool{false},
	}))

	require.NoError(t, al.AddLeafGenome("Leaf1", "Anc0", 0.1, 30))
	rec, err := rootG.GetBottom(0)
	require.NoError(t, err)
	require.Len(t, rec.ChildIndex, 2)
	require.Equal(t, int64(0), rec.ChildIndex[0])
	require.Equal(t, int64(segment.NullIndex), rec.ChildIndex[1])
}

func TestRemoveLeafShrinksParentChildSlots(t *testing.T) {
	al, err := alignment.Create(newBackend(t), nil)
	require.NoError(t, err)
	require.NoError(t, al.AddRootGenome("Anc0", 100))
	require.NoError(t, al.AddLeafGenome("Leaf0", "Anc0", 0.1, 100))
	require.NoError(t, al.AddLeafGenome("Leaf1", "Anc0", 0.1, 100))

	rootG, err := al.GenomeByName("Anc0")
	require.NoError(t, err)
	require.Equal(t, 2, rootG.NumChildren())

	require.NoError(t, al.RemoveLeaf("Leaf0"))
	require.Equal(t, 1, rootG.NumChildren())
	require.ElementsMatch(t, []string{"Leaf1"}, al.Tree().Children("Anc0"))

	_, err = al.GenomeByName("Leaf0")
	require.ErrorIs(t, err, halerr.ErrNotFound)
}

func TestSetDimensionsRespectsParentChildShape(t *testing.T) {
	al, err := alignment.Create(newBackend(t), nil)
	require.NoError(t, err)
	require.NoError(t, al.AddRootGenome("Anc0", 100))
	require.NoError(t, al.AddLeafGenome("Leaf0", "Anc0", 0.1, 100))

	seqs := []genome.Sequence{{Name: "seq0", Start: 0, Length: 100}}
	// Root has no parent, so numTop is ignored; it has one child.
	require.NoError(t, al.SetDimensions("Anc0", seqs, 0, 1))
	// Leaf has a parent and no children.
	require.NoError(t, al.SetDimensions("Leaf0", seqs, 1, 0))

	rootG, err := al.GenomeByName("Anc0")
	require.NoError(t, err)
	require.Equal(t, 1, rootG.BottomSegmentCount())

	leafG, err := al.GenomeByName("Leaf0")
	require.NoError(t, err)
	require.Equal(t, 1, leafG.TopSegmentCount())
}

func TestReplaceNewickTreeRejectsShapeMismatch(t *testing.T) {
	al, err := alignment.Create(newBackend(t), nil)
	require.NoError(t, err)
	require.NoError(t, al.AddRootGenome("Anc0", 100))
	require.NoError(t, al.AddLeafGenome("Leaf0", "Anc0", 0.1, 100))

	err = al.ReplaceNewickTree("(Leaf1:0.1)Anc0;") // Leaf0 missing
	require.ErrorIs(t, err, halerr.ErrTreeMismatch)

	// Same existing names present, but Anc0 gains a second child in the
	// replacement tree -- its live bottom-segment array only has one
	// child slot, so the shape check must reject this too.
	err = al.ReplaceNewickTree("(Leaf0:0.1,Leaf2:0.1)Anc0;")
	require.ErrorIs(t, err, halerr.ErrTreeMismatch)
}

func TestReplaceNewickTreeAcceptsCompatibleShape(t *testing.T) {
	al, err := alignment.Create(newBackend(t), nil)
	require.NoError(t, err)
	require.NoError(t, al.AddRootGenome("Anc0", 100))
	require.NoError(t, al.AddLeafGenome("Leaf0", "Anc0", 0.1, 100))

	require.NoError(t, al.ReplaceNewickTree("(Leaf0:0.5)Anc0;"))
	length, ok := al.Tree().BranchLength("Leaf0")
	require.True(t, ok)
	require.InDelta(t, 0.5, length, 1e-9)
}

// TestOpenRoundTripsPhylogenyAndGenomes checks that closing an alignment
// (which persists the tree) and reopening it from the same backend restores
// the same tree shape and genome shapes.
func TestOpenRoundTripsPhylogenyAndGenomes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.hal")
	backend, err := mmaparena.Create(path)
	require.NoError(t, err)

	al, err := alignment.Create(backend, nil)
	require.NoError(t, err)
	require.NoError(t, al.AddRootGenome("Anc0", 100))
	require.NoError(t, al.AddLeafGenome("Leaf0", "Anc0", 0.1, 100))
	require.NoError(t, al.Close())

	reopened, err := mmaparena.Open(path, false)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, reopened.Close()) })

	al2, err := alignment.Open(reopened, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Anc0", "Leaf0"}, al2.GenomeNames())

	leaf0, err := al2.GenomeByName("Leaf0")
	require.NoError(t, err)
	require.True(t, leaf0.HasParent())
	require.Equal(t, 100, leaf0.Length())
}

func TestResolverMethods(t *testing.T) {
	al, err := alignment.Create(newBackend(t), nil)
	require.NoError(t, err)
	require.NoError(t, al.AddRootGenome("Anc0", 100))
	require.NoError(t, al.AddLeafGenome("Leaf0", "Anc0", 0.1, 100))

	parent, ok := al.ParentName("Leaf0")
	require.True(t, ok)
	require.Equal(t, "Anc0", parent)

	child, ok := al.ChildName("Anc0", 0)
	require.True(t, ok)
	require.Equal(t, "Leaf0", child)

	slot, ok := al.ChildSlot("Anc0", "Leaf0")
	require.True(t, ok)
	require.Equal(t, 0, slot)

	_, ok = al.ChildName("Anc0", 5)
	require.False(t, ok)
}

// failingMetaBackend wraps a real container.Backend but, once armed, makes
// its "Phylogeny" KV group reject writes -- so persistTree can be made to
// fail independently of whatever the wrapped backend's own Close does.
type failingMetaBackend struct {
	container.Backend
	failTree bool
	closeErr error
}

func (b *failingMetaBackend) Meta(group string) container.KVGroup {
	if b.failTree && group == "Phylogeny" {
		return failingKVGroup{}
	}
	return b.Backend.Meta(group)
}

func (b *failingMetaBackend) Close() error {
	if err := b.Backend.Close(); err != nil {
		return err
	}
	return b.closeErr
}

type failingKVGroup struct{}

func (failingKVGroup) Get(key string) (string, bool, error) {
	return "", false, nil
}

func (failingKVGroup) Set(key, value string) error {
	return errTreeWriteFailed
}

func (failingKVGroup) Delete(key string) error {
	return nil
}

func (failingKVGroup) Keys() ([]string, error) {
	return nil, nil
}

var errTreeWriteFailed = fmt.Errorf("simulated tree write failure")
var errBackendCloseFailed = fmt.Errorf("simulated backend close failure")

// TestCloseAggregatesTreeAndBackendErrors checks that Close combines a
// tree-persistence failure with an independent backend close failure,
// rather than the tree error suppressing the backend close attempt (or
// vice versa).
func TestCloseAggregatesTreeAndBackendErrors(t *testing.T) {
	inner, err := mmaparena.Create(filepath.Join(t.TempDir(), "test.hal"))
	require.NoError(t, err)
	backend := &failingMetaBackend{Backend: inner, closeErr: errBackendCloseFailed}

	al, err := alignment.Create(backend, nil)
	require.NoError(t, err)
	require.NoError(t, al.AddRootGenome("Anc0", 100))

	backend.failTree = true
	err = al.Close()
	require.ErrorIs(t, err, errTreeWriteFailed)
	require.ErrorIs(t, err, errBackendCloseFailed)
}
