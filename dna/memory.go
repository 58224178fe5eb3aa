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

package dna

// MemoryArray is a whole-in-memory packed DNA array that holds every base
// resident. Genomes on either storage backend read DNA through their own
// array adapter, not through MemoryArray; the tests use it directly.
type MemoryArray struct {
	length int
	packed []byte
}

// NewMemoryArray allocates a packed array for the given number of bases,
// all initialized to 'N'.
func NewMemoryArray(length int) *MemoryArray {
	packed := make([]byte, (length+1)/2)
	for i := range packed {
		packed[i] = baseN | (baseN << 4)
	}
	return &MemoryArray{length: length, packed: packed}
}

// NewMemoryArrayFromString packs a literal sequence.
func NewMemoryArrayFromString(s string) *MemoryArray {
	a := NewMemoryArray(len(s))
	it := NewIterator(a)
	_ = it.SetString(s)
	return a
}

func (a *MemoryArray) Len() int { return a.length }

func (a *MemoryArray) Fetch(start, end int) ([]byte, error) {
	byteStart := start / 2
	byteEnd := (end + 1) / 2
	return a.packed[byteStart:byteEnd], nil
}

func (a *MemoryArray) Flush(byteStart int, packed []byte) error {
	// byteStart here is a base position (see Store.Flush doc); the window
	// returned by Fetch aliases a.packed directly, so writes already landed.
	return nil
}

// String materializes the whole array as a string, with soft-masked bases
// in lower case.
func (a *MemoryArray) String() string {
	it := NewIterator(a)
	s, _ := it.GetString(a.length)
	return s
}
