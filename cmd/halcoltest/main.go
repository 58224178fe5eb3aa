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

// Command halcoltest dumps columns of the multiple alignment anchored at a
// reference genome, one line per column, as a PAF-like multiple-alignment
// view: reference position followed by every other visited (genome,
// position, strand) site.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/zymatik-com/hal/alignment"
	"github.com/zymatik-com/hal/column"
	"github.com/zymatik-com/hal/internal/openhal"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		rootFile      string
		refGenome     string
		numSamples    int64
		noDupes       bool
		unique        bool
		onlyOrthologs bool
		noAncestors   bool
	)

	cmd := &cobra.Command{
		Use:   "halcoltest --root <halFile> --refGenome <name>",
		Short: "dump columns of the multiple alignment anchored at a reference genome",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootFile == "" || refGenome == "" {
				return fmt.Errorf("--root and --refGenome are required")
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			backend, err := openhal.Open(rootFile, false, logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			al, err := alignment.Open(backend, logger)
			if err != nil {
				return err
			}
			refG, err := al.GenomeByName(refGenome)
			if err != nil {
				return err
			}

			end := int64(refG.Length())
			if numSamples > 0 && numSamples < end {
				end = numSamples
			}

			it, err := column.NewIterator(al, refGenome, 0, end, false, column.Flags{
				NoDupes:       noDupes,
				Unique:        unique,
				OnlyOrthologs: onlyOrthologs,
				NoAncestors:   noAncestors,
			})
			if err != nil {
				return err
			}

			for !it.AtEnd() {
				col, err := it.Next()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s:%d", col.Reference.Genome, col.Reference.Position)
				for _, site := range col.Sites {
					if site.Genome == col.Reference.Genome && site.Position == col.Reference.Position {
						continue
					}
					strand := "+"
					if site.Reversed {
						strand = "-"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "\t%s:%d%s", site.Genome, site.Position, strand)
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rootFile, "root", "", "path to the hal alignment file (required)")
	cmd.Flags().StringVar(&refGenome, "refGenome", "", "reference genome name (required)")
	cmd.Flags().Int64Var(&numSamples, "numSamples", 0, "limit to the first N reference bases (0 means the whole genome)")
	cmd.Flags().BoolVar(&noDupes, "noDupes", false, "stop all paralog expansion")
	cmd.Flags().BoolVar(&unique, "unique", false, "each target position appears in at most one column")
	cmd.Flags().BoolVar(&onlyOrthologs, "onlyOrthologs", false, "restrict descent to canonical paralogs")
	cmd.Flags().BoolVar(&noAncestors, "noAncestors", false, "hide internal-node sites from output columns")
	return cmd
}
