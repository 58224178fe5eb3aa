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

// Command halimportvcf is a variant-anchored liftover smoke tool: it reads
// a VCF anchored on one genome and reports, for each variant site, where
// the mapped-segment engine places it in a target genome. It exists to
// exercise the liftover path against real variant coordinates rather than
// hand-picked ranges, the same role the chain-file reader's ClinVar test
// plays for the chain format.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/brentp/vcfgo"
	"github.com/spf13/cobra"

	"github.com/zymatik-com/hal/alignment"
	"github.com/zymatik-com/hal/internal/openhal"
	"github.com/zymatik-com/hal/mapped"
	"github.com/zymatik-com/hal/names"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		rootFile     string
		vcfPath      string
		refGenome    string
		targetGenome string
		duplications bool
		limit        int64
	)

	cmd := &cobra.Command{
		Use:   "halimportvcf --root <halFile> --vcf <file> --refGenome <name> --targetGenomes <name>",
		Short: "lift variant positions from a VCF over to a target genome",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootFile == "" || vcfPath == "" || refGenome == "" || targetGenome == "" {
				return fmt.Errorf("--root, --vcf, --refGenome, and --targetGenomes are required")
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

			f, err := os.Open(vcfPath)
			if err != nil {
				return err
			}
			defer f.Close()

			vcfReader, err := vcfgo.NewReader(f, false)
			if err != nil {
				return fmt.Errorf("open vcf %q: %w", vcfPath, err)
			}

			var n int64
			for {
				if limit > 0 && n >= limit {
					break
				}
				variant := vcfReader.Read()
				if variant == nil {
					break
				}
				n++

				seq, err := refG.SequenceByName(variant.Chromosome)
				if err != nil {
					seq, err = refG.SequenceByName(names.Chromosome(variant.Chromosome))
				}
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s:%d: %v\n", variant.Chromosome, variant.Pos, err)
					continue
				}
				pos := int64(seq.Start) + int64(variant.Pos) - 1

				results, err := mapped.Map(al, refGenome, pos, pos+1, targetGenome, mapped.Options{Duplications: duplications})
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s:%d: %v\n", variant.Chromosome, variant.Pos, err)
					continue
				}
				if len(results) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "%s:%d\tunmapped\n", variant.Chromosome, variant.Pos)
					continue
				}
				for _, m := range results {
					fmt.Fprintf(cmd.OutOrStdout(), "%s:%d\t%s:%d\t%v\n",
						variant.Chromosome, variant.Pos, m.Target.Genome, m.Target.Start, m.Reversed)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rootFile, "root", "", "path to the hal alignment file (required)")
	cmd.Flags().StringVar(&vcfPath, "vcf", "", "path to the input VCF file (required)")
	cmd.Flags().StringVar(&refGenome, "refGenome", "", "genome the VCF is anchored on (required)")
	cmd.Flags().StringVar(&targetGenome, "targetGenomes", "", "genome to lift variant positions into (required)")
	cmd.Flags().BoolVar(&duplications, "duplications", false, "expand paralogy rings on the down-path")
	cmd.Flags().Int64Var(&limit, "limit", 0, "stop after this many variants (0 means no limit)")
	return cmd
}
