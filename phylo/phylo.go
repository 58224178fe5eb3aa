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

// Package phylo models the rooted phylogenetic tree that relates the
// genomes in a hal alignment: unique genome names, parent/child edges, and
// non-negative branch lengths. Newick parsing/serialization is delegated to
// github.com/evolbioinfo/gotree, which already implements the grammar
// correctly; this package only adds the genome-indexed lookups
// (MRCA, spanning path, tree-shape mutation) that the mapped-segment and
// column iterator engines need and that a generic phylogenetics library has
// no reason to provide.
package phylo

import (
	"fmt"
	"strings"

	gotree "github.com/evolbioinfo/gotree/tree"
	"github.com/evolbioinfo/gotree/io/newick"

	"github.com/zymatik-com/hal/halerr"
)

// node is one genome's position in the tree.
type node struct {
	name         string
	parent       string // "" for the root
	children     []string
	branchLength float64 // length of the edge above this node (to its parent)
}

// Tree is a rooted tree of genome names. The zero value is an empty tree
// (no root yet); the caller must set a root with SetRoot before AddChild.
type Tree struct {
	root  string
	nodes map[string]*node
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{nodes: make(map[string]*node)}
}

// SetRoot establishes name as the tree's (only) root. Fails if the tree
// already has any nodes.
func (t *Tree) SetRoot(name string) error {
	if len(t.nodes) > 0 {
		return fmt.Errorf("tree already has a root: %w", halerr.ErrInvalidArgument)
	}
	if name == "" {
		return fmt.Errorf("empty genome name: %w", halerr.ErrInvalidArgument)
	}
	if t.nodes == nil {
		t.nodes = make(map[string]*node)
	}
	t.root = name
	t.nodes[name] = &node{name: name}
	return nil
}

// Root returns the name of the tree's root, or "" if the tree is empty.
func (t *Tree) Root() string {
	return t.root
}

// Has reports whether name is a node in the tree.
func (t *Tree) Has(name string) bool {
	_, ok := t.nodes[name]
	return ok
}

// AddChild attaches name as a new child of parent with the given branch
// length. Fails if parent is unknown, name already exists, or length < 0.
func (t *Tree) AddChild(name, parent string, branchLength float64) error {
	if name == "" {
		return fmt.Errorf("empty genome name: %w", halerr.ErrInvalidArgument)
	}
	if _, exists := t.nodes[name]; exists {
		return fmt.Errorf("genome %q already exists: %w", name, halerr.ErrInvalidArgument)
	}
	p, ok := t.nodes[parent]
	if !ok {
		return fmt.Errorf("parent genome %q not found: %w", parent, halerr.ErrNotFound)
	}
	if branchLength < 0 {
		return fmt.Errorf("negative branch length: %w", halerr.ErrInvalidArgument)
	}
	t.nodes[name] = &node{name: name, parent: parent, branchLength: branchLength}
	p.children = append(p.children, name)
	return nil
}

// InsertNode splices a new node between an existing parent-child edge: the
// child's parent becomes name, and name becomes a new child of the old
// parent. upperBranchLength is the length of the edge from the old parent
// to the new node; the remainder of the original edge length is assigned
// below the new node.
func (t *Tree) InsertNode(name, parent, child string, upperBranchLength float64) error {
	if _, exists := t.nodes[name]; exists {
		return fmt.Errorf("genome %q already exists: %w", name, halerr.ErrInvalidArgument)
	}
	p, ok := t.nodes[parent]
	if !ok {
		return fmt.Errorf("parent genome %q not found: %w", parent, halerr.ErrNotFound)
	}
	c, ok := t.nodes[child]
	if !ok {
		return fmt.Errorf("child genome %q not found: %w", child, halerr.ErrNotFound)
	}
	if c.parent != parent {
		return fmt.Errorf("%q is not a child of %q: %w", child, parent, halerr.ErrInvalidArgument)
	}
	if upperBranchLength < 0 || upperBranchLength > c.branchLength {
		return fmt.Errorf("invalid upper branch length: %w", halerr.ErrInvalidArgument)
	}

	lowerBranchLength := c.branchLength - upperBranchLength

	// Detach child from parent.
	newChildren := p.children[:0:0]
	for _, cn := range p.children {
		if cn != child {
			newChildren = append(newChildren, cn)
		}
	}
	p.children = append(newChildren, name)

	t.nodes[name] = &node{name: name, parent: parent, branchLength: upperBranchLength, children: []string{child}}
	c.parent = name
	c.branchLength = lowerBranchLength
	return nil
}

// RemoveLeaf deletes a leaf genome from the tree. Fails if name has children.
func (t *Tree) RemoveLeaf(name string) error {
	n, ok := t.nodes[name]
	if !ok {
		return fmt.Errorf("genome %q not found: %w", name, halerr.ErrNotFound)
	}
	if len(n.children) > 0 {
		return fmt.Errorf("genome %q is not a leaf: %w", name, halerr.ErrInvalidArgument)
	}
	if n.parent != "" {
		p := t.nodes[n.parent]
		out := p.children[:0:0]
		for _, cn := range p.children {
			if cn != name {
				out = append(out, cn)
			}
		}
		p.children = out
	} else {
		t.root = ""
	}
	delete(t.nodes, name)
	return nil
}

// Parent returns the parent genome name, or "" if name is the root.
func (t *Tree) Parent(name string) (string, bool) {
	n, ok := t.nodes[name]
	if !ok {
		return "", false
	}
	return n.parent, true
}

// Children returns the ordered child genome names of name.
func (t *Tree) Children(name string) []string {
	n, ok := t.nodes[name]
	if !ok {
		return nil
	}
	out := make([]string, len(n.children))
	copy(out, n.children)
	return out
}

// ChildIndex returns the slot index of child within parent's child list.
func (t *Tree) ChildIndex(parent, child string) (int, bool) {
	n, ok := t.nodes[parent]
	if !ok {
		return -1, false
	}
	for i, c := range n.children {
		if c == child {
			return i, true
		}
	}
	return -1, false
}

// BranchLength returns the length of the edge above name (to its parent).
func (t *Tree) BranchLength(name string) (float64, bool) {
	n, ok := t.nodes[name]
	if !ok {
		return 0, false
	}
	return n.branchLength, true
}

// IsLeaf reports whether name has no children.
func (t *Tree) IsLeaf(name string) bool {
	n, ok := t.nodes[name]
	return ok && len(n.children) == 0
}

// IsRoot reports whether name is the tree's root.
func (t *Tree) IsRoot(name string) bool {
	n, ok := t.nodes[name]
	return ok && n.parent == ""
}

// Names returns every genome name in the tree, in no particular order.
func (t *Tree) Names() []string {
	out := make([]string, 0, len(t.nodes))
	for name := range t.nodes {
		out = append(out, name)
	}
	return out
}

func (t *Tree) pathToRoot(name string) []string {
	var path []string
	for cur := name; cur != ""; {
		path = append(path, cur)
		n, ok := t.nodes[cur]
		if !ok {
			break
		}
		cur = n.parent
	}
	return path
}

// MRCA returns the most recent common ancestor of the given genomes.
func (t *Tree) MRCA(names ...string) (string, error) {
	if len(names) == 0 {
		return "", fmt.Errorf("no genomes given: %w", halerr.ErrInvalidArgument)
	}
	ancestors := t.pathToRoot(names[0])
	depth := make(map[string]int, len(ancestors))
	for i, a := range ancestors {
		depth[a] = len(ancestors) - 1 - i // 0 at root
	}

	common := ancestors
	for _, name := range names[1:] {
		path := t.pathToRoot(name)
		pathSet := make(map[string]bool, len(path))
		for _, p := range path {
			pathSet[p] = true
		}
		var next []string
		for _, a := range common {
			if pathSet[a] {
				next = append(next, a)
			}
		}
		common = next
		if len(common) == 0 {
			return "", fmt.Errorf("genomes do not share a common ancestor: %w", halerr.ErrTreeMismatch)
		}
	}

	// The MRCA is the deepest (furthest from root) common ancestor.
	best := common[0]
	for _, c := range common[1:] {
		if depth[c] > depth[best] {
			best = c
		}
	}
	return best, nil
}

// GenomesOnPath returns the set of genome names on the spanning tree path
// that connects every genome in names (the union of each genome's path to
// their MRCA). Used by the mapped-segment engine to pick which child slot
// leads toward the target at each step of mapDown.
func (t *Tree) GenomesOnPath(names ...string) (map[string]bool, error) {
	mrca, err := t.MRCA(names...)
	if err != nil {
		return nil, err
	}
	onPath := map[string]bool{mrca: true}
	for _, name := range names {
		for cur := name; cur != mrca && cur != ""; {
			onPath[cur] = true
			n, ok := t.nodes[cur]
			if !ok {
				break
			}
			cur = n.parent
		}
	}
	return onPath, nil
}

// ParseNewick builds a new tree from the Newick string s, matching
// nodes by name against the gotree-parsed structure. The gotree parser
// handles the Newick grammar (quoting, comments, unnamed internal nodes);
// this function only walks the resulting gotree.Tree into our genome-keyed
// representation.
func ParseNewick(s string) (*Tree, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return New(), nil
	}
	parsed, err := newick.NewParser(strings.NewReader(s)).Parse()
	if err != nil {
		return nil, fmt.Errorf("parse newick tree: %w", halerr.ErrFormatError)
	}

	t := New()
	root := parsed.Root()
	if root == nil {
		return t, nil
	}
	rootName := nodeName(root, 0)
	if err := t.SetRoot(rootName); err != nil {
		return nil, err
	}

	var walk func(gn *gotree.Node, name string) error
	counter := 1
	walk = func(gn *gotree.Node, name string) error {
		for _, edge := range gn.ChildrenEdges() {
			child := edge.Target()
			childName := nodeName(child, counter)
			counter++
			length, _ := edge.Length()
			if err := t.AddChild(childName, name, length); err != nil {
				return err
			}
			if err := walk(child, childName); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root, rootName); err != nil {
		return nil, err
	}
	return t, nil
}

func nodeName(n *gotree.Node, fallbackIndex int) string {
	if n.Name() != "" {
		return n.Name()
	}
	return fmt.Sprintf("AncestorNode%d", fallbackIndex)
}

// Newick serializes the tree to Newick format via gotree.
func (t *Tree) Newick() (string, error) {
	if t.root == "" {
		return ";", nil
	}
	gt := gotree.NewTree()
	gRoot := gt.NewNode()
	gRoot.SetName(t.root)
	gt.SetRoot(gRoot)

	var build func(name string, gn *gotree.Node) error
	build = func(name string, gn *gotree.Node) error {
		for _, childName := range t.Children(name) {
			childNode := gt.NewNode()
			childNode.SetName(childName)
			length, _ := t.BranchLength(childName)
			if _, err := gt.ConnectNodes(gn, childNode); err != nil {
				return fmt.Errorf("connect %q to %q: %w", name, childName, halerr.ErrFormatError)
			}
			edge, err := childNode.ParentEdge()
			if err == nil && edge != nil {
				edge.SetLength(length)
			}
			if err := build(childName, childNode); err != nil {
				return err
			}
		}
		return nil
	}
	if err := build(t.root, gRoot); err != nil {
		return "", err
	}
	return gt.Newick(), nil
}
