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

// Package alignment ties the phylogenetic tree (package phylo) to the
// per-node genome storage (package genome) behind one container.Backend,
// and exposes the construction operations that grow or reshape a hal file:
// addRootGenome, addLeafGenome, insertGenome, removeGenome, setDimensions,
// updateTopDimensions/updateBottomDimensions, and replaceNewickTree.
package alignment

import (
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/zymatik-com/hal/container"
	"github.com/zymatik-com/hal/genome"
	"github.com/zymatik-com/hal/halerr"
	"github.com/zymatik-com/hal/phylo"
	"github.com/zymatik-com/hal/segment"
)

const formatMajorVersion = "2"
const formatMinorVersion = "0"

// Alignment is an open hal file: a phylogenetic tree plus one genome.Genome
// per tree node, all sharing one container.Backend.
type Alignment struct {
	backend container.Backend
	logger  *slog.Logger

	tree    *phylo.Tree
	genomes map[string]*genome.Genome
}

// Open opens an existing alignment from backend, reading its phylogeny and
// instantiating a genome.Genome for every tree node.
func Open(backend container.Backend, logger *slog.Logger) (*Alignment, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Alignment{backend: backend, logger: logger, genomes: make(map[string]*genome.Genome)}

	newick, ok, err := backend.Meta("Phylogeny").Get("tree")
	if err != nil {
		return nil, err
	}
	if !ok {
		a.tree = phylo.New()
		return a, nil
	}
	tree, err := phylo.ParseNewick(newick)
	if err != nil {
		return nil, err
	}
	a.tree = tree

	for _, name := range tree.Names() {
		_, hasParent := tree.Parent(name)
		numChildren := len(tree.Children(name))
		g, err := genome.Open(backend, a, name, hasParent, numChildren)
		if err != nil {
			return nil, fmt.Errorf("open genome %q: %w", name, err)
		}
		a.genomes[name] = g
	}
	return a, nil
}

// Create initializes a brand new, empty alignment on backend.
func Create(backend container.Backend, logger *slog.Logger) (*Alignment, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if backend.ReadOnly() {
		return nil, fmt.Errorf("create alignment: %w", halerr.ErrWriteDenied)
	}
	a := &Alignment{backend: backend, logger: logger, tree: phylo.New(), genomes: make(map[string]*genome.Genome)}
	if err := backend.Meta("Version").Set("major", formatMajorVersion); err != nil {
		return nil, err
	}
	if err := backend.Meta("Version").Set("minor", formatMinorVersion); err != nil {
		return nil, err
	}
	return a, nil
}

// Tree returns the alignment's phylogenetic tree. Callers must not mutate
// tree shape directly; use the alignment construction operations instead.
func (a *Alignment) Tree() *phylo.Tree { return a.tree }

// GenomeByName returns the named genome's handle.
func (a *Alignment) GenomeByName(name string) (*genome.Genome, error) {
	g, ok := a.genomes[name]
	if !ok {
		return nil, fmt.Errorf("genome %q not found: %w", name, halerr.ErrNotFound)
	}
	return g, nil
}

// GenomeNames returns every genome name in the alignment, in no particular order.
func (a *Alignment) GenomeNames() []string { return a.tree.Names() }

func (a *Alignment) persistTree() error {
	newick, err := a.tree.Newick()
	if err != nil {
		return err
	}
	return a.backend.Meta("Phylogeny").Set("tree", newick)
}

// AddRootGenome creates the first genome of an empty alignment.
func (a *Alignment) AddRootGenome(name string, length int) error {
	if a.tree.Root() != "" {
		return fmt.Errorf("alignment already has a root: %w", halerr.ErrInvalidArgument)
	}
	if err := a.tree.SetRoot(name); err != nil {
		return err
	}
	g, err := genome.Create(a.backend, a, name, length, false, 0)
	if err != nil {
		return err
	}
	a.genomes[name] = g
	return a.persistTree()
}

// AddLeafGenome attaches a new leaf under parent. The parent's
// bottom-segment record width grows by one child slot; existing records
// are rewritten with a NULL entry in the new slot.
func (a *Alignment) AddLeafGenome(name, parent string, branchLength float64, length int) error {
	if a.backend.ReadOnly() {
		return fmt.Errorf("add leaf genome %q: %w", name, halerr.ErrWriteDenied)
	}
	parentGenome, ok := a.genomes[parent]
	if !ok {
		return fmt.Errorf("parent genome %q not found: %w", parent, halerr.ErrNotFound)
	}
	if err := a.tree.AddChild(name, parent, branchLength); err != nil {
		return err
	}

	if err := a.growParentChildSlots(parentGenome, parent); err != nil {
		return err
	}

	g, err := genome.Create(a.backend, a, name, length, true, 0)
	if err != nil {
		return err
	}
	a.genomes[name] = g
	return a.persistTree()
}

// growParentChildSlots widens parent's bottom-segment record width by one
// slot (a NULL child) to reflect a newly added child in the tree. The
// in-memory genome.Genome is recreated against the wider array; storage
// backends implement this as "create a new array with the new record
// size, copy + widen every record, then swap the name binding", which
// genome.Create/SetBottom already support via the same array name.
func (a *Alignment) growParentChildSlots(parentGenome *genome.Genome, parent string) error {
	n := parentGenome.BottomSegmentCount()
	records := make([]segment.BottomRecord, 0, n)
	for i := 0; i < n; i++ {
		r, err := parentGenome.GetBottom(i)
		if err != nil {
			return err
		}
		r.ChildIndex = append(r.ChildIndex, segment.NullIndex)
		r.ChildReversed = append(r.ChildReversed, false)
		records = append(records, r)
	}

	if err := parentGenome.RewidenBottomArray(parentGenome.NumChildren() + 1); err != nil {
		return err
	}
	for i, rec := range records {
		if err := parentGenome.SetBottom(i, rec); err != nil {
			return err
		}
	}
	return nil
}

// InsertNode splices a new node between parent and child, preserving total
// branch length.
func (a *Alignment) InsertNode(name, parent, child string, upperBranchLength float64, length int) error {
	if err := a.tree.InsertNode(name, parent, child, upperBranchLength); err != nil {
		return err
	}
	if _, ok := a.genomes[child]; !ok {
		return fmt.Errorf("child genome %q not found: %w", child, halerr.ErrNotFound)
	}
	g, err := genome.Create(a.backend, a, name, length, true, 1)
	if err != nil {
		return err
	}
	a.genomes[name] = g
	return a.persistTree()
}

// RemoveLeaf deletes a leaf genome, shrinking its parent's bottom-segment
// record width by removing the corresponding child slot from every record.
func (a *Alignment) RemoveLeaf(name string) error {
	if a.backend.ReadOnly() {
		return fmt.Errorf("remove genome %q: %w", name, halerr.ErrWriteDenied)
	}
	parentName, hasParent := a.tree.Parent(name)
	var slot int
	var parentGenome *genome.Genome
	if hasParent {
		var ok bool
		slot, ok = a.tree.ChildIndex(parentName, name)
		if !ok {
			return fmt.Errorf("genome %q not found among %q's children: %w", name, parentName, halerr.ErrTreeMismatch)
		}
		parentGenome, ok = a.genomes[parentName]
		if !ok {
			return fmt.Errorf("parent genome %q not found: %w", parentName, halerr.ErrNotFound)
		}
	}

	if err := a.tree.RemoveLeaf(name); err != nil {
		return err
	}
	delete(a.genomes, name)

	if hasParent {
		if err := a.shrinkParentChildSlot(parentGenome, slot); err != nil {
			return err
		}
	}
	return a.persistTree()
}

func (a *Alignment) shrinkParentChildSlot(parentGenome *genome.Genome, slot int) error {
	n := parentGenome.BottomSegmentCount()
	records := make([]segment.BottomRecord, 0, n)
	for i := 0; i < n; i++ {
		r, err := parentGenome.GetBottom(i)
		if err != nil {
			return err
		}
		r.ChildIndex = append(r.ChildIndex[:slot:slot], r.ChildIndex[slot+1:]...)
		r.ChildReversed = append(r.ChildReversed[:slot:slot], r.ChildReversed[slot+1:]...)
		records = append(records, r)
	}

	if err := parentGenome.RewidenBottomArray(parentGenome.NumChildren() - 1); err != nil {
		return err
	}
	for i, rec := range records {
		if err := parentGenome.SetBottom(i, rec); err != nil {
			return err
		}
	}
	return nil
}

// SetDimensions sets a newly created genome's sequence directory and
// segment-array sizes once, before any segment data is written.
func (a *Alignment) SetDimensions(name string, seqs []genome.Sequence, numTop, numBottom int) error {
	g, ok := a.genomes[name]
	if !ok {
		return fmt.Errorf("genome %q not found: %w", name, halerr.ErrNotFound)
	}
	if g.HasParent() {
		if err := g.ResizeTop(numTop); err != nil {
			return err
		}
	}
	if g.HasChildren() {
		if err := g.ResizeBottom(numBottom); err != nil {
			return err
		}
	}
	return g.SetSequences(seqs)
}

// UpdateTopDimensions changes only the number of top-segment records;
// total genome length must stay constant.
func (a *Alignment) UpdateTopDimensions(name string, numTop int) error {
	g, ok := a.genomes[name]
	if !ok {
		return fmt.Errorf("genome %q not found: %w", name, halerr.ErrNotFound)
	}
	return g.ResizeTop(numTop)
}

// UpdateBottomDimensions changes only the number of bottom-segment records.
func (a *Alignment) UpdateBottomDimensions(name string, numBottom int) error {
	g, ok := a.genomes[name]
	if !ok {
		return fmt.Errorf("genome %q not found: %w", name, halerr.ErrNotFound)
	}
	return g.ResizeBottom(numBottom)
}

// ReplaceNewickTree re-parses newick and replaces the tree. Every existing
// genome name must appear in the new tree, and every genome must keep
// whether it has a parent and how many children it has; otherwise this
// fails with ErrTreeMismatch and the current tree is kept. Branch lengths
// may change freely.
func (a *Alignment) ReplaceNewickTree(newick string) error {
	tree, err := phylo.ParseNewick(newick)
	if err != nil {
		return err
	}
	for name := range a.genomes {
		if !tree.Has(name) {
			return fmt.Errorf("genome %q missing from replacement tree: %w", name, halerr.ErrTreeMismatch)
		}
	}
	for name, g := range a.genomes {
		_, hasParent := tree.Parent(name)
		numChildren := len(tree.Children(name))
		if hasParent != g.HasParent() || numChildren != g.NumChildren() {
			return fmt.Errorf("genome %q's parent/child shape changed: %w", name, halerr.ErrTreeMismatch)
		}
	}
	a.tree = tree
	return a.persistTree()
}

// Flush persists the phylogenetic tree and writes back all dirty backend
// state. Both are attempted even if one fails, with go.uber.org/multierr
// aggregating the two instead of masking one behind the other.
func (a *Alignment) Flush() error {
	var treeErr error
	if !a.backend.ReadOnly() {
		treeErr = a.persistTree()
	}
	return multierr.Append(treeErr, a.backend.Flush())
}

// Close persists the tree and closes the backend, aggregating errors from
// both steps so a tree-persistence failure doesn't prevent the backend from
// being closed (and its error from being reported).
func (a *Alignment) Close() error {
	var treeErr error
	if !a.backend.ReadOnly() {
		treeErr = a.persistTree()
	}
	return multierr.Append(treeErr, a.backend.Close())
}

// segment.Resolver implementation, letting segment iterators cross genome
// boundaries without segment importing alignment or genome.

// Genome implements segment.Resolver.
func (a *Alignment) Genome(name string) (segment.Genome, bool) {
	g, ok := a.genomes[name]
	if !ok {
		return nil, false
	}
	return g, true
}

func (a *Alignment) ParentName(name string) (string, bool) { return a.tree.Parent(name) }

func (a *Alignment) ChildName(name string, slot int) (string, bool) {
	children := a.tree.Children(name)
	if slot < 0 || slot >= len(children) {
		return "", false
	}
	return children[slot], true
}

func (a *Alignment) ChildSlot(parent, child string) (int, bool) {
	return a.tree.ChildIndex(parent, child)
}
