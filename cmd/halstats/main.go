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

// Command halstats prints summary statistics (genome names, lengths,
// segment counts, tree shape) for a hal alignment file.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/zymatik-com/hal/alignment"
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
		rootFile          string
		onlySequenceNames bool
		human             bool
	)

	cmd := &cobra.Command{
		Use:   "halstats --root <halFile>",
		Short: "print summary statistics for a hal alignment file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootFile == "" {
				return fmt.Errorf("--root is required")
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

			names := al.GenomeNames()
			sort.Strings(names)
			for _, name := range names {
				g, err := al.GenomeByName(name)
				if err != nil {
					return err
				}
				if onlySequenceNames {
					for _, seq := range g.Sequences() {
						fmt.Fprintln(cmd.OutOrStdout(), seq.Name)
					}
					continue
				}
				parent, hasParent := al.Tree().Parent(name)
				length := fmt.Sprintf("%d", g.Length())
				if human {
					length = humanize.Bytes(uint64(g.Length()))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tlength=%s\tparent=%s\tchildren=%d\ttopSegments=%d\tbottomSegments=%d\n",
					name, length, parentOrDash(parent, hasParent), g.NumChildren(),
					g.TopSegmentCount(), g.BottomSegmentCount())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rootFile, "root", "", "path to the hal alignment file (required)")
	cmd.Flags().BoolVar(&onlySequenceNames, "onlySequenceNames", false, "print only sequence names per genome")
	cmd.Flags().BoolVar(&human, "human", false, "print genome lengths as human-readable byte counts")
	return cmd
}

func parentOrDash(parent string, hasParent bool) string {
	if !hasParent || parent == "" {
		return "-"
	}
	return parent
}
