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

// Package openhal centralizes the small amount of format-detection logic
// every CLI tool needs: sniff a file's leading bytes to decide whether it
// is a chunked (sqlite3) container or an mmap arena, per the format
// detection rule in the external interfaces design ("chunked files begin
// with \x89HDF\r; mmap files begin with HAL-MMAP" -- this implementation's
// chunked backend is sqlite3-based, so it sniffs sqlite3's own magic
// instead of the original HDF5 one).
package openhal

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/zymatik-com/hal/container"
	"github.com/zymatik-com/hal/container/chunked"
	"github.com/zymatik-com/hal/container/mmaparena"
	"github.com/zymatik-com/hal/halerr"
)

const mmapMagic = "HAL-MMAP"
const sqliteMagic = "SQLite format 3\x00"

// Open auto-detects an existing hal file's backend format and opens it for
// reading (or read-write, if write is true).
func Open(path string, write bool, logger *slog.Logger) (container.Backend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, halerr.ErrIOFailure)
	}
	header := make([]byte, len(sqliteMagic))
	n, _ := f.Read(header)
	_ = f.Close()
	header = header[:n]

	switch {
	case len(header) >= len(mmapMagic) && string(header[:len(mmapMagic)]) == mmapMagic:
		return mmaparena.Open(path, !write)
	case len(header) >= len(sqliteMagic) && string(header) == sqliteMagic:
		mode := container.ModeRead
		if write {
			mode = container.ModeWrite
		}
		return chunked.Open(path, mode, logger)
	default:
		return nil, fmt.Errorf("unrecognized hal file format %q: %w", path, halerr.ErrFormatError)
	}
}

// Create makes a new, empty hal file using the mmap-arena backend if
// inMemory is true (a temp-file-backed arena intended for throwaway runs)
// or the chunked backend otherwise.
func Create(path string, inMemory bool, logger *slog.Logger) (container.Backend, error) {
	if inMemory {
		return mmaparena.Create(path)
	}
	return chunked.Open(path, container.ModeCreate, logger)
}
