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

package mmaparena_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zymatik-com/hal/container"
	"github.com/zymatik-com/hal/container/mmaparena"
	"github.com/zymatik-com/hal/halerr"
)

func TestArrayGetSetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.hal")
	backend, err := mmaparena.Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, backend.Close()) })

	arr, err := backend.CreateArray("widgets", container.ArrayTopSegment, 8, 4096, 3)
	require.NoError(t, err)
	require.Equal(t, 3, arr.Len())
	require.Equal(t, 8, arr.RecordSize())

	require.NoError(t, arr.Set(1, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	got, err := arr.Get(1)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, got)

	_, err = arr.Get(5)
	require.ErrorIs(t, err, halerr.ErrInvalidArgument)

	err = arr.Set(0, []byte{1, 2, 3})
	require.ErrorIs(t, err, halerr.ErrInvalidArgument)
}

func TestArrayResizeGrowsAndPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.hal")
	backend, err := mmaparena.Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, backend.Close()) })

	arr, err := backend.CreateArray("widgets", container.ArrayTopSegment, 8, 4096, 2)
	require.NoError(t, err)
	require.NoError(t, arr.Set(0, []byte{9, 9, 9, 9, 9, 9, 9, 9}))

	require.NoError(t, arr.Resize(1000))
	require.Equal(t, 1000, arr.Len())

	got, err := arr.Get(0)
	require.NoError(t, err)
	require.Equal(t, []byte{9, 9, 9, 9, 9, 9, 9, 9}, got)

	// Newly grown records are zeroed.
	got, err = arr.Get(500)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 8), got)
}

func TestCreateArrayDuplicateNameRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.hal")
	backend, err := mmaparena.Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, backend.Close()) })

	_, err = backend.CreateArray("widgets", container.ArrayTopSegment, 8, 4096, 1)
	require.NoError(t, err)

	_, err = backend.CreateArray("widgets", container.ArrayTopSegment, 8, 4096, 1)
	require.ErrorIs(t, err, halerr.ErrInvalidArgument)
}

func TestMetaGetSetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.hal")
	backend, err := mmaparena.Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, backend.Close()) })

	meta := backend.Meta("Phylogeny")
	_, ok, err := meta.Get("tree")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, meta.Set("tree", "(A,B);"))
	v, ok, err := meta.Get("tree")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "(A,B);", v)

	require.NoError(t, meta.Set("tree", "(A,C);"))
	v, ok, err = meta.Get("tree")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "(A,C);", v)

	require.NoError(t, meta.Delete("tree"))
	_, ok, err = meta.Get("tree")
	require.NoError(t, err)
	require.False(t, ok)
}

// TestCloseOpenRoundTrip checks that a backend's arrays and metadata survive
// a close and reopen, since the arena persists its directory to the file
// rather than keeping it purely in memory.
func TestCloseOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.hal")
	backend, err := mmaparena.Create(path)
	require.NoError(t, err)

	arr, err := backend.CreateArray("widgets", container.ArrayTopSegment, 8, 4096, 1)
	require.NoError(t, err)
	require.NoError(t, arr.Set(0, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	require.NoError(t, backend.Meta("g").Set("k", "v"))
	require.NoError(t, backend.Close())

	reopened, err := mmaparena.Open(path, false)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, reopened.Close()) })

	reArr, ok, err := reopened.OpenArray("widgets")
	require.NoError(t, err)
	require.True(t, ok)
	got, err := reArr.Get(0)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, got)

	v, ok, err := reopened.Meta("g").Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestOpenReadOnlyRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.hal")
	backend, err := mmaparena.Create(path)
	require.NoError(t, err)
	_, err = backend.CreateArray("widgets", container.ArrayTopSegment, 8, 4096, 1)
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	ro, err := mmaparena.Open(path, true)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, ro.Close()) })

	require.True(t, ro.ReadOnly())
	_, err = ro.CreateArray("other", container.ArrayTopSegment, 8, 4096, 1)
	require.ErrorIs(t, err, halerr.ErrWriteDenied)
}
