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

package genome

import (
	"fmt"
	"io"

	"github.com/zymatik-com/hal/fasta"
	"github.com/zymatik-com/hal/halerr"
)

// ToFASTA writes every sequence of g to w as a FASTA record, in sequence
// directory order, using the sequence's own name as the description.
func (g *Genome) ToFASTA(w io.Writer) error {
	it, err := g.NewDNAIterator()
	if err != nil {
		return err
	}

	recs := make([]fasta.Sequence, 0, len(g.sequences))
	for _, seq := range g.sequences {
		if err := it.ToPosition(seq.Start); err != nil {
			return err
		}
		s, err := it.GetString(seq.Length)
		if err != nil {
			return err
		}
		recs = append(recs, fasta.Sequence{Description: seq.Name, Values: []byte(s)})
	}
	return fasta.Write(w, recs)
}

// LoadFASTA writes r's records into g's DNA array, one FASTA record per
// sequence of g's existing sequence directory, matched by name. g's
// dimensions (SetDimensions) must already describe every record's length;
// LoadFASTA only fills bases, it does not create sequences.
func LoadFASTA(g *Genome, r io.Reader) error {
	recs, err := fasta.Read(r)
	if err != nil {
		return err
	}

	it, err := g.NewDNAIterator()
	if err != nil {
		return err
	}

	for _, rec := range recs {
		seq, err := g.SequenceByName(rec.Description)
		if err != nil {
			return fmt.Errorf("fasta record %q: %w", rec.Description, err)
		}
		if len(rec.Values) != seq.Length {
			return fmt.Errorf("fasta record %q is %d bases, sequence directory says %d: %w",
				rec.Description, len(rec.Values), seq.Length, halerr.ErrInvalidArgument)
		}
		if err := it.ToPosition(seq.Start); err != nil {
			return err
		}
		if err := it.SetString(string(rec.Values)); err != nil {
			return err
		}
	}
	return it.Flush()
}
