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

// Command halfasta dumps a genome's sequences as FASTA text.
package main

import (
	"fmt"
	"log/slog"
	"os"

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
		rootFile string
		genome   string
	)

	cmd := &cobra.Command{
		Use:   "halfasta --root <halFile> --genome <name>",
		Short: "dump a genome's sequences as FASTA",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootFile == "" || genome == "" {
				return fmt.Errorf("--root and --genome are required")
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
			g, err := al.GenomeByName(genome)
			if err != nil {
				return err
			}
			return g.ToFASTA(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&rootFile, "root", "", "path to the hal alignment file (required)")
	cmd.Flags().StringVar(&genome, "genome", "", "genome to dump (required)")
	return cmd
}
