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

// Command halliftover maps a coordinate range from one genome to another
// through the mapped-segment engine, printing PAF records (or a raw
// mapped-range dump with --paf=false).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/zymatik-com/hal/alignment"
	"github.com/zymatik-com/hal/internal/openhal"
	"github.com/zymatik-com/hal/mapped"
	"github.com/zymatik-com/hal/rearrange"
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
		refGenome    string
		targetGenome string
		start, end   int64
		duplications bool
		gapThreshold int64
		asPAF        bool
	)

	cmd := &cobra.Command{
		Use:   "halliftover --root <halFile> --refGenome <name> --targetGenomes <name> --start N --end N",
		Short: "lift a coordinate range over from one genome to another",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootFile == "" || refGenome == "" || targetGenome == "" {
				return fmt.Errorf("--root, --refGenome, and --targetGenomes are required")
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

			results, err := mapped.Map(al, refGenome, start, end, targetGenome, mapped.Options{Duplications: duplications})
			if err != nil {
				return err
			}

			if !asPAF {
				for _, m := range results {
					fmt.Fprintf(cmd.OutOrStdout(), "%s:%d-%d\t%s:%d-%d\t%v\n",
						m.Source.Genome, m.Source.Start, m.Source.End,
						m.Target.Genome, m.Target.Start, m.Target.End, m.Reversed)
				}
				return nil
			}

			blocks := rearrange.Coalesce(results, gapThreshold)
			srcGenome, err := al.GenomeByName(refGenome)
			if err != nil {
				return err
			}
			tgtGenome, err := al.GenomeByName(targetGenome)
			if err != nil {
				return err
			}
			return rearrange.WritePAF(cmd.OutOrStdout(), blocks, srcGenome, tgtGenome)
		},
	}

	cmd.Flags().StringVar(&rootFile, "root", "", "path to the hal alignment file (required)")
	cmd.Flags().StringVar(&refGenome, "refGenome", "", "source genome name (required)")
	cmd.Flags().StringVar(&targetGenome, "targetGenomes", "", "target genome name (required)")
	cmd.Flags().Int64Var(&start, "start", 0, "source range start (inclusive)")
	cmd.Flags().Int64Var(&end, "end", 0, "source range end (exclusive)")
	cmd.Flags().BoolVar(&duplications, "duplications", false, "expand paralogy rings on the down-path")
	cmd.Flags().Int64Var(&gapThreshold, "gapThreshold", 0, "bridge gaps of at most this many bases when coalescing into PAF blocks")
	cmd.Flags().BoolVar(&asPAF, "paf", true, "emit PAF records instead of a raw mapped-range dump")
	return cmd
}
