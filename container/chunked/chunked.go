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

// Package chunked implements the long-term-storage hal backend: a single
// SQLite file (via jmoiron/sqlx and mattn/go-sqlite3, schema-migrated with
// pressly/goose/v3, exactly the stack github.com/zymatik-com/genobase is
// built from) holding one row per fixed-size record chunk, each chunk
// compressed with the codec family the teacher's compress package already
// implements (zstd by default for new files). This satisfies the
// container.Backend contract (named typed arrays + small KV metadata
// groups) without depending on HDF5.
package chunked

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"

	"github.com/zymatik-com/hal/compress"
	"github.com/zymatik-com/hal/container"
	"github.com/zymatik-com/hal/halerr"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DefaultCacheBytes is not consulted by Array: its decompressed chunk
// cache keeps every chunk it has loaded for the life of the Array, with no
// size bound and no eviction.
const DefaultCacheBytes = 256 * 1024 * 1024

// Backend is a chunked, compressed, SQLite-file-backed container.Backend.
type Backend struct {
	db       *sqlx.DB
	readOnly bool
	logger   *slog.Logger

	mu     sync.Mutex
	arrays map[string]*Array

	group singleflight.Group
}

// Open opens (or creates, for mode==container.ModeCreate) a chunked backend
// at path.
func Open(path string, mode container.Mode, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := path
	if mode == container.ModeRead {
		dsn += "?mode=ro&_busy_timeout=5000"
	} else {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite backend: %w", wrapIO(err))
	}
	db.SetMaxOpenConns(1)

	if mode == container.ModeCreate {
		goose.SetBaseFS(migrations)
		if err := goose.SetDialect("sqlite3"); err != nil {
			return nil, fmt.Errorf("set migration dialect: %w", wrapIO(err))
		}
		if err := goose.Up(db.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("run migrations: %w", wrapIO(err))
		}
	}

	b := &Backend{
		db:       db,
		readOnly: mode == container.ModeRead,
		logger:   logger,
		arrays:   make(map[string]*Array),
	}
	return b, nil
}

func wrapIO(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", halerr.ErrIOFailure, err)
}

func (b *Backend) ReadOnly() bool { return b.readOnly }

// CreateArray allocates a new named typed array.
func (b *Backend) CreateArray(name string, dtype container.ArrayType, recordSize, chunkRecords, length int) (container.TypedArray, error) {
	if b.readOnly {
		return nil, fmt.Errorf("create array %q: %w", name, halerr.ErrWriteDenied)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.db.Exec(`INSERT INTO arrays (name, dtype, record_size, chunk_records, length) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET dtype=excluded.dtype, record_size=excluded.record_size, chunk_records=excluded.chunk_records, length=excluded.length`,
		name, int(dtype), recordSize, chunkRecords, length)
	if err != nil {
		return nil, fmt.Errorf("create array %q: %w", name, wrapIO(err))
	}

	arr := &Array{
		backend:      b,
		name:         name,
		recordSize:   recordSize,
		chunkRecords: chunkRecords,
		length:       length,
		cache:        make(map[int][]byte),
	}
	b.arrays[name] = arr
	return arr, nil
}

// RecreateArray replaces an existing (or creates a new) array, discarding
// any previously stored chunk rows -- the record layout is changing, so old
// chunk bytes would otherwise be misinterpreted at the new record size.
func (b *Backend) RecreateArray(name string, dtype container.ArrayType, recordSize, chunkRecords, length int) (container.TypedArray, error) {
	if b.readOnly {
		return nil, fmt.Errorf("recreate array %q: %w", name, halerr.ErrWriteDenied)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.db.Exec(`DELETE FROM chunks WHERE array_name = ?`, name); err != nil {
		return nil, fmt.Errorf("recreate array %q: %w", name, wrapIO(err))
	}
	_, err := b.db.Exec(`INSERT INTO arrays (name, dtype, record_size, chunk_records, length) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET dtype=excluded.dtype, record_size=excluded.record_size, chunk_records=excluded.chunk_records, length=excluded.length`,
		name, int(dtype), recordSize, chunkRecords, length)
	if err != nil {
		return nil, fmt.Errorf("recreate array %q: %w", name, wrapIO(err))
	}

	arr := &Array{
		backend:      b,
		name:         name,
		recordSize:   recordSize,
		chunkRecords: chunkRecords,
		length:       length,
		cache:        make(map[int][]byte),
	}
	b.arrays[name] = arr
	return arr, nil
}

// OpenArray opens an existing named array.
func (b *Backend) OpenArray(name string) (container.TypedArray, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if arr, ok := b.arrays[name]; ok {
		return arr, true, nil
	}

	var row struct {
		RecordSize   int `db:"record_size"`
		ChunkRecords int `db:"chunk_records"`
		Length       int `db:"length"`
	}
	err := b.db.Get(&row, `SELECT record_size, chunk_records, length FROM arrays WHERE name = ?`, name)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open array %q: %w", name, wrapIO(err))
	}

	arr := &Array{
		backend:      b,
		name:         name,
		recordSize:   row.RecordSize,
		chunkRecords: row.ChunkRecords,
		length:       row.Length,
		cache:        make(map[int][]byte),
	}
	b.arrays[name] = arr
	return arr, true, nil
}

// Meta returns the key-value group with the given name.
func (b *Backend) Meta(group string) container.KVGroup {
	return &kvGroup{backend: b, group: group}
}

// Flush persists the array length metadata for every open array. Chunk
// writes are already synchronous (SQLite transactions), so there is no
// separate page-dirty set to write back.
func (b *Backend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name, arr := range b.arrays {
		if _, err := b.db.Exec(`UPDATE arrays SET length = ? WHERE name = ?`, arr.length, name); err != nil {
			return fmt.Errorf("flush array %q length: %w", name, wrapIO(err))
		}
	}
	return nil
}

// Close flushes and closes the underlying SQLite connection.
func (b *Backend) Close() error {
	if err := b.Flush(); err != nil {
		return err
	}
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close backend: %w", wrapIO(err))
	}
	return nil
}

// Array is a container.TypedArray backed by compressed chunk rows in the
// backend's SQLite database.
type Array struct {
	backend      *Backend
	name         string
	recordSize   int
	chunkRecords int
	length       int

	mu    sync.Mutex
	cache map[int][]byte // chunk index -> decompressed bytes
}

func (a *Array) Len() int          { return a.length }
func (a *Array) RecordSize() int   { return a.recordSize }

// Resize grows or shrinks the logical record count. Shrinking does not
// delete chunk rows past the new length; Flush does not delete them either.
func (a *Array) Resize(newLen int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.length = newLen
	return nil
}

func (a *Array) chunkOf(i int) (chunkIdx, offset int) {
	return i / a.chunkRecords, i % a.chunkRecords
}

func (a *Array) loadChunk(chunkIdx int) ([]byte, error) {
	a.mu.Lock()
	if buf, ok := a.cache[chunkIdx]; ok {
		a.mu.Unlock()
		return buf, nil
	}
	a.mu.Unlock()

	key := fmt.Sprintf("%s/%d", a.name, chunkIdx)
	v, err, _ := a.backend.group.Do(key, func() (interface{}, error) {
		var compressed []byte
		err := retry.Fibonacci(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
			rowErr := a.backend.db.Get(&compressed, `SELECT data FROM chunks WHERE array_name = ? AND chunk_index = ?`, a.name, chunkIdx)
			if rowErr == sql.ErrNoRows {
				return nil
			}
			if rowErr != nil {
				return retry.RetryableError(rowErr)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("load chunk %d of %q: %w", chunkIdx, a.name, wrapIO(err))
		}

		chunkSize := a.chunkRecords * a.recordSize
		if compressed == nil {
			return make([]byte, chunkSize), nil
		}

		dr, err := compress.Decompress(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("decompress chunk %d of %q: %w", chunkIdx, a.name, wrapIO(err))
		}
		defer dr.Close()

		decompressed, err := io.ReadAll(dr)
		if err != nil {
			return nil, fmt.Errorf("decompress chunk %d of %q: %w", chunkIdx, a.name, wrapIO(err))
		}
		if len(decompressed) < chunkSize {
			padded := make([]byte, chunkSize)
			copy(padded, decompressed)
			decompressed = padded
		}
		return decompressed, nil
	})
	if err != nil {
		return nil, err
	}
	buf := v.([]byte)

	a.mu.Lock()
	a.cache[chunkIdx] = buf
	a.mu.Unlock()
	return buf, nil
}

func (a *Array) storeChunk(chunkIdx int, buf []byte) error {
	var out bytes.Buffer
	w, err := compress.Compress("chunk.zst", &out)
	if err != nil {
		return fmt.Errorf("compress chunk %d of %q: %w", chunkIdx, a.name, wrapIO(err))
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("compress chunk %d of %q: %w", chunkIdx, a.name, wrapIO(err))
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("compress chunk %d of %q: %w", chunkIdx, a.name, wrapIO(err))
	}

	_, err = a.backend.db.Exec(`INSERT INTO chunks (array_name, chunk_index, data) VALUES (?, ?, ?)
		ON CONFLICT(array_name, chunk_index) DO UPDATE SET data=excluded.data`,
		a.name, chunkIdx, out.Bytes())
	if err != nil {
		return fmt.Errorf("store chunk %d of %q: %w", chunkIdx, a.name, wrapIO(err))
	}

	a.mu.Lock()
	a.cache[chunkIdx] = buf
	a.mu.Unlock()
	return nil
}

// Get returns a copy of record i.
func (a *Array) Get(i int) ([]byte, error) {
	if i < 0 || i >= a.length {
		return nil, fmt.Errorf("record %d out of range [0,%d): %w", i, a.length, halerr.ErrInvalidArgument)
	}
	chunkIdx, offset := a.chunkOf(i)
	buf, err := a.loadChunk(chunkIdx)
	if err != nil {
		return nil, err
	}
	rec := make([]byte, a.recordSize)
	copy(rec, buf[offset*a.recordSize:(offset+1)*a.recordSize])
	return rec, nil
}

// Set overwrites record i.
func (a *Array) Set(i int, rec []byte) error {
	if a.backend.readOnly {
		return fmt.Errorf("set record %d of %q: %w", i, a.name, halerr.ErrWriteDenied)
	}
	if i < 0 || i >= a.length {
		return fmt.Errorf("record %d out of range [0,%d): %w", i, a.length, halerr.ErrInvalidArgument)
	}
	if len(rec) != a.recordSize {
		return fmt.Errorf("record size mismatch: %w", halerr.ErrInvalidArgument)
	}
	chunkIdx, offset := a.chunkOf(i)
	buf, err := a.loadChunk(chunkIdx)
	if err != nil {
		return err
	}
	updated := make([]byte, len(buf))
	copy(updated, buf)
	copy(updated[offset*a.recordSize:(offset+1)*a.recordSize], rec)
	return a.storeChunk(chunkIdx, updated)
}

// GetRange returns copies of records [start, end).
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

// SetRange overwrites records starting at start.
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
	var value string
	err := g.backend.db.Get(&value, `SELECT value FROM meta_kv WHERE grp = ? AND key = ?`, g.group, key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read meta %s/%s: %w", g.group, key, wrapIO(err))
	}
	return value, true, nil
}

func (g *kvGroup) Set(key, value string) error {
	if g.backend.readOnly {
		return fmt.Errorf("write meta %s/%s: %w", g.group, key, halerr.ErrWriteDenied)
	}
	_, err := g.backend.db.Exec(`INSERT INTO meta_kv (grp, key, value) VALUES (?, ?, ?)
		ON CONFLICT(grp, key) DO UPDATE SET value=excluded.value`, g.group, key, value)
	if err != nil {
		return fmt.Errorf("write meta %s/%s: %w", g.group, key, wrapIO(err))
	}
	return nil
}

func (g *kvGroup) Delete(key string) error {
	if g.backend.readOnly {
		return fmt.Errorf("delete meta %s/%s: %w", g.group, key, halerr.ErrWriteDenied)
	}
	_, err := g.backend.db.Exec(`DELETE FROM meta_kv WHERE grp = ? AND key = ?`, g.group, key)
	if err != nil {
		return fmt.Errorf("delete meta %s/%s: %w", g.group, key, wrapIO(err))
	}
	return nil
}

func (g *kvGroup) Keys() ([]string, error) {
	var keys []string
	err := g.backend.db.Select(&keys, `SELECT key FROM meta_kv WHERE grp = ? ORDER BY key`, g.group)
	if err != nil {
		return nil, fmt.Errorf("list meta %s keys: %w", g.group, wrapIO(err))
	}
	return keys, nil
}
