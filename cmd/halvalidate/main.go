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

// Command halvalidate checks a hal alignment file's structural invariants
// (segment/parent/child/parse cross-references, total-length consistency).
// With --seed and no --root, it instead builds a synthetic in-memory
// alignment via internal/randgen and validates that, as a self-check.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/zymatik-com/hal/alignment"
	"github.com/zymatik-com/hal/container/mmaparena"
	"github.com/zymatik-com/hal/halerr"
	"github.com/zymatik-com/hal/internal/openhal"
	"github.com/zymatik-com/hal/internal/randgen"
	"github.com/zymatik-com/hal/segment"
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
		seed     int64
		useSeed  bool
	)

	cmd := &cobra.Command{
		Use:   "halvalidate (--root <halFile> | --seed <n>)",
		Short: "validate a hal alignment file's structural invariants",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			if rootFile == "" {
				if !useSeed && !cmd.Flags().Changed("seed") {
					return fmt.Errorf("either --root or --seed is required")
				}
				tmp, err := os.CreateTemp("", "hal-validate-*.hal")
				if err != nil {
					return err
				}
				tmp.Close()
				defer os.Remove(tmp.Name())

				backend, err := mmaparena.Create(tmp.Name())
				if err != nil {
					return err
				}
				defer backend.Close()

				al, err := randgen.Build(backend, logger, randgen.DefaultOptions(seed))
				if err != nil {
					return err
				}
				return validate(cmd, al)
			}

			backend, err := openhal.Open(rootFile, false, logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			al, err := alignment.Open(backend, logger)
			if err != nil {
				return err
			}
			return validate(cmd, al)
		},
	}

	cmd.Flags().StringVar(&rootFile, "root", "", "path to the hal alignment file")
	cmd.Flags().Int64Var(&seed, "seed", 0, "seed for a synthetic self-check alignment")
	cmd.Flags().BoolVar(&useSeed, "useSeed", false, "run the synthetic self-check instead of opening --root")
	cmd.MarkFlagsMutuallyExclusive("root", "useSeed")
	return cmd
}

func validate(cmd *cobra.Command, al *alignment.Alignment) error {
	tree := al.Tree()
	for _, name := range al.GenomeNames() {
		g, err := al.GenomeByName(name)
		if err != nil {
			return err
		}

		// I1: every genome's segments tile its length with no gaps/overlaps.
		if g.HasParent() {
			var pos int64
			for i := 0; i < g.TopSegmentCount(); i++ {
				rec, err := g.GetTop(i)
				if err != nil {
					return err
				}
				if rec.StartPosition != pos {
					return fmt.Errorf("genome %q top segment %d: gap or overlap at %d (want %d): %w", name, i, rec.StartPosition, pos, halerr.ErrInvariantViolation)
				}
				pos += rec.Length
			}
			if int(pos) != g.Length() && g.TopSegmentCount() > 0 {
				return fmt.Errorf("genome %q top segments cover %d of %d bases: %w", name, pos, g.Length(), halerr.ErrInvariantViolation)
			}
		}
		if g.HasChildren() {
			children := tree.Children(name)
			var pos int64
			for i := 0; i < g.BottomSegmentCount(); i++ {
				rec, err := g.GetBottom(i)
				if err != nil {
					return err
				}
				if rec.StartPosition != pos {
					return fmt.Errorf("genome %q bottom segment %d: gap or overlap at %d (want %d): %w", name, i, rec.StartPosition, pos, halerr.ErrInvariantViolation)
				}
				pos += rec.Length

				// I2: parent/child segment pairs have equal length.
				for slot, childIdx := range rec.ChildIndex {
					if childIdx == segment.NullIndex {
						continue
					}
					if slot >= len(children) {
						return fmt.Errorf("genome %q bottom segment %d: child slot %d out of range: %w", name, i, slot, halerr.ErrInvariantViolation)
					}
					child, err := al.GenomeByName(children[slot])
					if err != nil {
						return err
					}
					crec, err := child.GetTop(int(childIdx))
					if err != nil {
						return err
					}
					if crec.Length != rec.Length {
						return fmt.Errorf("genome %q bottom segment %d: length %d != child %q top segment %d length %d: %w",
							name, i, rec.Length, children[slot], childIdx, crec.Length, halerr.ErrInvariantViolation)
					}
				}
			}
			if int(pos) != g.Length() && g.BottomSegmentCount() > 0 {
				return fmt.Errorf("genome %q bottom segments cover %d of %d bases: %w", name, pos, g.Length(), halerr.ErrInvariantViolation)
			}
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), "OK")
	return nil
}
