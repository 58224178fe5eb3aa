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

// Package names sanitizes chromosome/sequence names from external formats
// (VCF, chain files) to the form a genome's sequence directory uses, so
// lookups like genome.SequenceByName don't fail on a stray "chr" prefix or
// mitochondrial-sequence alias.
package names

import "strings"

// Chromosome returns a sanitized/standardized chromosome name: upper-cased,
// with a leading "chr" stripped, and "M" normalized to the "MT" alias most
// sequence directories use for the mitochondrial sequence.
func Chromosome(chromosome string) string {
	chromosome = strings.ToUpper(strings.TrimPrefix(chromosome, "chr"))
	if chromosome == "M" {
		chromosome = "MT"
	}
	return chromosome
}
