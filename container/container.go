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

// Package container defines the storage backend contract that the hal core
// consumes: named typed arrays with chunked, paged access,
// and small key-value metadata groups. The core is blind to which concrete
// backend (container/chunked or container/mmaparena) is in use.
package container

// ArrayType identifies the element encoding of a typed array.
type ArrayType int

const (
	// ArrayBytes stores opaque fixed-size byte records (e.g. packed DNA).
	ArrayBytes ArrayType = iota
	// ArrayTopSegment stores fixed-size top-segment records.
	ArrayTopSegment
	// ArrayBottomSegment stores fixed-size bottom-segment records.
	ArrayBottomSegment
	// ArraySequenceIdx stores fixed-size sequence directory records.
	ArraySequenceIdx
	// ArraySequenceName stores variable-length sequence name strings.
	ArraySequenceName
)

// Mode selects how a backend is opened.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
	ModeCreate
)

// Backend is the contract every storage implementation must satisfy.
// It knows nothing about segments, genomes, or the tree -- only arrays and
// metadata.
type Backend interface {
	// CreateArray allocates a new named typed array with the given record
	// size (bytes) and chunking granularity (records per chunk).
	CreateArray(name string, dtype ArrayType, recordSize, chunkRecords, length int) (TypedArray, error)
	// RecreateArray replaces an existing array's record layout in place,
	// discarding its previous contents. Used when a genome's bottom-segment
	// child-slot count changes width (addLeafGenome/removeGenome grow or
	// shrink every record in the array), which no amount of Resize can do
	// since Resize only changes record count, never record size.
	RecreateArray(name string, dtype ArrayType, recordSize, chunkRecords, length int) (TypedArray, error)
	// OpenArray opens an existing named array, or reports !ok if absent.
	OpenArray(name string) (arr TypedArray, ok bool, err error)
	// Meta returns the key-value metadata group with the given name,
	// creating it on first write if it doesn't yet exist.
	Meta(group string) KVGroup
	// Flush writes back all dirty pages and metadata without closing.
	Flush() error
	// Close flushes and releases the backend's resources.
	Close() error
	// ReadOnly reports whether the backend was opened in ModeRead.
	ReadOnly() bool
}

// TypedArray is a dense, randomly-addressable array of fixed-size records.
// Paging and caching are left to each backend; container/chunked keeps
// every chunk it loads in memory, with no size bound.
type TypedArray interface {
	// Len returns the number of records currently in the array.
	Len() int
	// RecordSize returns the fixed size, in bytes, of one record.
	RecordSize() int
	// Resize grows or shrinks the array to hold newLen records. Growth
	// zero-fills the new records.
	Resize(newLen int) error
	// Get returns a copy of record i.
	Get(i int) ([]byte, error)
	// Set overwrites record i with rec (which must be RecordSize() bytes).
	Set(i int, rec []byte) error
	// GetRange returns copies of records [start, end).
	GetRange(start, end int) ([][]byte, error)
	// SetRange overwrites records starting at start with recs.
	SetRange(start int, recs [][]byte) error
}

// KVGroup is a small in-file string-to-string metadata map, e.g. Meta/,
// Phylogeny/, Version/ in the on-disk layout described by the external
// interfaces section of the spec.
type KVGroup interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	Keys() ([]string, error)
}
