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

// Package mmaparena implements the second container.Backend: a single flat
// file, memory-mapped whole via github.com/edsrzf/mmap-go, suited to
// in-memory-speed random access on a local disk. The first 128 bytes are a
// fixed header (magic, format version, HAL version, allocation cursor, root
// object offset, dirty flag); everything after it is a bump-allocated arena
// holding a self-describing directory plus the array record bytes it
// references by offset. Growth remaps the file, so only offsets -- never
// slice pointers into the old mapping -- are ever persisted.
package mmaparena

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/zymatik-com/hal/container"
	"github.com/zymatik-com/hal/halerr"
)

const (
	headerSize = 128

	magic         = "HAL-MMAP"
	formatVersion = "1.0"
	// HALVersion is the semantic major.minor version of the hal data model
	// this package writes, recorded in the arena header.
	HALVersion = "2.0"

	offMagic      = 0
	offFmtVersion = 8
	offHALVersion = 16
	offCursor     = 24
	offRoot       = 32
	offDirty      = 40

	initialArenaSize = headerSize + 64*1024
	growthFactor     = 2
)

// directory is the root object: a self-contained description of every
// array and metadata key currently allocated in the arena. It is
// re-serialized and appended (never overwritten in place) on every mutation,
// matching the "growth appends at the cursor" rule in the on-disk format.
type directory struct {
	Arrays []arrayEntry
	KV     []kvEntry
}

type arrayEntry struct {
	Name         string
	Dtype        int
	RecordSize   int
	ChunkRecords int
	Length       int
	Offset       int64
	Capacity     int64 // bytes
}

type kvEntry struct {
	Group string
	Key   string
	Value string
}

// Backend is a memory-mapped flat-arena container.Backend.
type Backend struct {
	file     *os.File
	data     mmap.MMap
	readOnly bool
	dir      directory
}

// Create initializes a new arena file at path and opens it.
func Create(path string) (*Backend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create arena %q: %w", path, wrapIO(err))
	}
	if err := f.Truncate(initialArenaSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("create arena %q: %w", path, wrapIO(err))
	}

	b := &Backend{file: f}
	if err := b.mapFile(); err != nil {
		f.Close()
		return nil, err
	}

	copy(b.data[offMagic:offMagic+8], magic)
	copy(b.data[offFmtVersion:offFmtVersion+8], formatVersion)
	copy(b.data[offHALVersion:offHALVersion+8], HALVersion)
	binary.LittleEndian.PutUint64(b.data[offCursor:], uint64(headerSize))
	binary.LittleEndian.PutUint64(b.data[offRoot:], 0)
	b.data[offDirty] = 1

	if err := b.persistDirectory(); err != nil {
		f.Close()
		return nil, err
	}
	return b, nil
}

// Open opens an existing arena file. readOnly maps it read-only.
func Open(path string, readOnly bool) (*Backend, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open arena %q: %w", path, wrapIO(err))
	}

	b := &Backend{file: f, readOnly: readOnly}
	if err := b.mapFile(); err != nil {
		f.Close()
		return nil, err
	}

	if string(bytes.TrimRight(b.data[offMagic:offMagic+8], "\x00")) != magic {
		f.Close()
		return nil, fmt.Errorf("bad arena magic: %w", halerr.ErrFormatError)
	}
	fv := string(bytes.TrimRight(b.data[offFmtVersion:offFmtVersion+8], "\x00"))
	if fv != formatVersion {
		f.Close()
		return nil, fmt.Errorf("unsupported mmap format version %q: %w", fv, halerr.ErrFormatError)
	}
	if !readOnly && b.data[offDirty] == 1 {
		f.Close()
		return nil, fmt.Errorf("arena left dirty by a crashed writer: %w", halerr.ErrFormatError)
	}

	rootOff := binary.LittleEndian.Uint64(b.data[offRoot:])
	if err := b.loadDirectory(int64(rootOff)); err != nil {
		f.Close()
		return nil, err
	}

	if !readOnly {
		b.data[offDirty] = 1
	}
	return b, nil
}

func wrapIO(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", halerr.ErrIOFailure, err)
}

func (b *Backend) mapFile() error {
	flag := mmap.RDWR
	if b.readOnly {
		flag = mmap.RDONLY
	}
	data, err := mmap.Map(b.file, flag, 0)
	if err != nil {
		return fmt.Errorf("mmap arena: %w", wrapIO(err))
	}
	b.data = data
	return nil
}

func (b *Backend) cursor() int64 {
	return int64(binary.LittleEndian.Uint64(b.data[offCursor:]))
}

func (b *Backend) setCursor(v int64) {
	binary.LittleEndian.PutUint64(b.data[offCursor:], uint64(v))
}

// growTo ensures the mapped region can address at least n bytes, remapping
// the file if necessary. After a grow, any previously obtained []byte slice
// into b.data is invalid; only offsets remain meaningful.
func (b *Backend) growTo(n int64) error {
	if int64(len(b.data)) >= n {
		return nil
	}
	newSize := int64(len(b.data))
	if newSize == 0 {
		newSize = initialArenaSize
	}
	for newSize < n {
		newSize *= growthFactor
	}

	if err := b.data.Unmap(); err != nil {
		return fmt.Errorf("unmap arena for growth: %w", wrapIO(err))
	}
	if err := b.file.Truncate(newSize); err != nil {
		return fmt.Errorf("grow arena file: %w", wrapIO(err))
	}
	return b.mapFile()
}

// alloc bump-allocates n bytes at the arena's cursor and returns their
// offset, growing the backing mapping as needed.
func (b *Backend) alloc(n int64) (int64, error) {
	cur := b.cursor()
	if err := b.growTo(cur + n); err != nil {
		return 0, err
	}
	b.setCursor(cur + n)
	return cur, nil
}

func (b *Backend) persistDirectory() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b.dir); err != nil {
		return fmt.Errorf("encode arena directory: %w", wrapIO(err))
	}

	// 8-byte length prefix followed by the gob-encoded directory.
	total := int64(8 + buf.Len())
	off, err := b.alloc(total)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b.data[off:off+8], uint64(buf.Len()))
	copy(b.data[off+8:off+total], buf.Bytes())

	binary.LittleEndian.PutUint64(b.data[offRoot:], uint64(off))
	return nil
}

func (b *Backend) loadDirectory(off int64) error {
	if off == 0 && b.cursor() == headerSize {
		b.dir = directory{}
		return nil
	}
	length := binary.LittleEndian.Uint64(b.data[off : off+8])
	raw := make([]byte, length)
	copy(raw, b.data[off+8:off+8+int64(length)])
	var dir directory
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&dir); err != nil {
		return fmt.Errorf("decode arena directory: %w", wrapIO(err))
	}
	b.dir = dir
	return nil
}

func (b *Backend) ReadOnly() bool { return b.readOnly }

// CreateArray allocates space for a new array of length records.
func (b *Backend) CreateArray(name string, dtype container.ArrayType, recordSize, chunkRecords, length int) (container.TypedArray, error) {
	if b.readOnly {
		return nil, fmt.Errorf("create array %q: %w", name, halerr.ErrWriteDenied)
	}
	for _, e := range b.dir.Arrays {
		if e.Name == name {
			return nil, fmt.Errorf("array %q already exists: %w", name, halerr.ErrInvalidArgument)
		}
	}

	capacity := int64(length * recordSize)
	if capacity == 0 {
		capacity = int64(recordSize)
	}
	off, err := b.alloc(capacity)
	if err != nil {
		return nil, err
	}
	for i := off; i < off+capacity; i++ {
		b.data[i] = 0
	}

	entry := arrayEntry{
		Name:         name,
		Dtype:        int(dtype),
		RecordSize:   recordSize,
		ChunkRecords: chunkRecords,
		Length:       length,
		Offset:       off,
		Capacity:     capacity,
	}
	b.dir.Arrays = append(b.dir.Arrays, entry)
	if err := b.persistDirectory(); err != nil {
		return nil, err
	}

	return &Array{backend: b, name: name}, nil
}

// RecreateArray replaces an existing (or creates a new) array's storage
// with a fresh allocation at the given record size, discarding whatever
// bytes its old directory entry pointed at -- the arena never reclaims the
// old bytes, it simply stops referencing them (the arena only ever grows).
func (b *Backend) RecreateArray(name string, dtype container.ArrayType, recordSize, chunkRecords, length int) (container.TypedArray, error) {
	if b.readOnly {
		return nil, fmt.Errorf("recreate array %q: %w", name, halerr.ErrWriteDenied)
	}

	capacity := int64(length * recordSize)
	if capacity == 0 {
		capacity = int64(recordSize)
	}
	off, err := b.alloc(capacity)
	if err != nil {
		return nil, err
	}
	for i := off; i < off+capacity; i++ {
		b.data[i] = 0
	}

	entry := arrayEntry{
		Name:         name,
		Dtype:        int(dtype),
		RecordSize:   recordSize,
		ChunkRecords: chunkRecords,
		Length:       length,
		Offset:       off,
		Capacity:     capacity,
	}

	if i, ok := b.entryIndex(name); ok {
		b.dir.Arrays[i] = entry
	} else {
		b.dir.Arrays = append(b.dir.Arrays, entry)
	}
	if err := b.persistDirectory(); err != nil {
		return nil, err
	}
	return &Array{backend: b, name: name}, nil
}

// OpenArray opens an existing array by name.
func (b *Backend) OpenArray(name string) (container.TypedArray, bool, error) {
	for _, e := range b.dir.Arrays {
		if e.Name == name {
			return &Array{backend: b, name: name}, true, nil
		}
	}
	return nil, false, nil
}

func (b *Backend) entryIndex(name string) (int, bool) {
	for i, e := range b.dir.Arrays {
		if e.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Meta returns the named key-value group.
func (b *Backend) Meta(group string) container.KVGroup {
	return &kvGroup{backend: b, group: group}
}

// Flush does nothing. Every structural change already lands synchronously
// via persistDirectory, so there is no separate write-back step; the
// in-progress-write dirty flag stays set until Close clears it.
func (b *Backend) Flush() error {
	if b.readOnly {
		return nil
	}
	return nil
}

// Close clears the dirty flag (marking a clean close) and unmaps the file.
func (b *Backend) Close() error {
	if !b.readOnly {
		b.data[offDirty] = 0
	}
	if err := b.data.Unmap(); err != nil {
		return fmt.Errorf("unmap arena: %w", wrapIO(err))
	}
	if err := b.file.Close(); err != nil {
		return fmt.Errorf("close arena: %w", wrapIO(err))
	}
	return nil
}

// Array is a container.TypedArray backed by a byte range of the mapped
// arena. It re-resolves its directory entry on every access so that it
// stays valid across reallocation by Resize.
type Array struct {
	backend *Backend
	name    string
}

func (a *Array) entry() arrayEntry {
	i, _ := a.backend.entryIndex(a.name)
	return a.backend.dir.Arrays[i]
}

func (a *Array) Len() int        { return a.entry().Length }
func (a *Array) RecordSize() int { return a.entry().RecordSize }

// Resize grows or shrinks the array's logical length, reallocating its
// backing bytes (copying existing data) if growth exceeds its capacity.
func (a *Array) Resize(newLen int) error {
	if a.backend.readOnly {
		return fmt.Errorf("resize array %q: %w", a.name, halerr.ErrWriteDenied)
	}
	i, ok := a.backend.entryIndex(a.name)
	if !ok {
		return fmt.Errorf("array %q not found: %w", a.name, halerr.ErrNotFound)
	}
	e := a.backend.dir.Arrays[i]
	needed := int64(newLen) * int64(e.RecordSize)
	if needed > e.Capacity {
		newCap := e.Capacity
		if newCap == 0 {
			newCap = int64(e.RecordSize)
		}
		for newCap < needed {
			newCap *= growthFactor
		}
		newOff, err := a.backend.alloc(newCap)
		if err != nil {
			return err
		}
		copy(a.backend.data[newOff:newOff+e.Capacity], a.backend.data[e.Offset:e.Offset+e.Capacity])
		for j := newOff + e.Capacity; j < newOff+newCap; j++ {
			a.backend.data[j] = 0
		}
		e.Offset = newOff
		e.Capacity = newCap
	}
	e.Length = newLen
	a.backend.dir.Arrays[i] = e
	return a.backend.persistDirectory()
}

func (a *Array) Get(i int) ([]byte, error) {
	e := a.entry()
	if i < 0 || i >= e.Length {
		return nil, fmt.Errorf("record %d out of range [0,%d): %w", i, e.Length, halerr.ErrInvalidArgument)
	}
	start := e.Offset + int64(i)*int64(e.RecordSize)
	rec := make([]byte, e.RecordSize)
	copy(rec, a.backend.data[start:start+int64(e.RecordSize)])
	return rec, nil
}

func (a *Array) Set(i int, rec []byte) error {
	if a.backend.readOnly {
		return fmt.Errorf("set record %d of %q: %w", i, a.name, halerr.ErrWriteDenied)
	}
	e := a.entry()
	if i < 0 || i >= e.Length {
		return fmt.Errorf("record %d out of range [0,%d): %w", i, e.Length, halerr.ErrInvalidArgument)
	}
	if len(rec) != e.RecordSize {
		return fmt.Errorf("record size mismatch: %w", halerr.ErrInvalidArgument)
	}
	start := e.Offset + int64(i)*int64(e.RecordSize)
	copy(a.backend.data[start:start+int64(e.RecordSize)], rec)
	return nil
}

func (a *Array) GetRange(start, end int) ([][]byte, error) {
	out := make([][]byte, 0, end-start)
	for i := start; i < end; i++ {
		rec, err := a.Get(i)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (a *Array) SetRange(start int, recs [][]byte) error {
	for i, rec := range recs {
		if err := a.Set(start+i, rec); err != nil {
			return err
		}
	}
	return nil
}

type kvGroup struct {
	backend *Backend
	group   string
}

func (g *kvGroup) Get(key string) (string, bool, error) {
	for _, e := range g.backend.dir.KV {
		if e.Group == g.group && e.Key == key {
			return e.Value, true, nil
		}
	}
	return "", false, nil
}

func (g *kvGroup) Set(key, value string) error {
	if g.backend.readOnly {
		return fmt.Errorf("write meta %s/%s: %w", g.group, key, halerr.ErrWriteDenied)
	}
	for i, e := range g.backend.dir.KV {
		if e.Group == g.group && e.Key == key {
			g.backend.dir.KV[i].Value = value
			return g.backend.persistDirectory()
		}
	}
	g.backend.dir.KV = append(g.backend.dir.KV, kvEntry{Group: g.group, Key: key, Value: value})
	return g.backend.persistDirectory()
}

func (g *kvGroup) Delete(key string) error {
	if g.backend.readOnly {
		return fmt.Errorf("delete meta %s/%s: %w", g.group, key, halerr.ErrWriteDenied)
	}
	out := g.backend.dir.KV[:0:0]
	for _, e := range g.backend.dir.KV {
		if e.Group == g.group && e.Key == key {
			continue
		}
		out = append(out, e)
	}
	g.backend.dir.KV = out
	return g.backend.persistDirectory()
}

func (g *kvGroup) Keys() ([]string, error) {
	var keys []string
	for _, e := range g.backend.dir.KV {
		if e.Group == g.group {
			keys = append(keys, e.Key)
		}
	}
	return keys, nil
}
