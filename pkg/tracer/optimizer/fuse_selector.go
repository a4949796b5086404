// Copyright 2025 The Accelink Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package optimizer

import (
	"fmt"

	"github.com/accelink/accelink/pkg/tracer/graph"
)

// ExclusionRule names nodes that must not be fused even though their
// operator type is whitelisted. Rules encode compiler-specific
// knowledge about patterns the downstream fuser mishandles.
type ExclusionRule func(g *graph.Graph, supported map[string]bool) []string

// SelectOptions tunes fusion selection. ForceFuse and the heuristic
// knobs are mutually exclusive: when ForceFuse is set, exactly the
// nodes it accepts form one subgraph and everything else is excluded.
type SelectOptions struct {
	ForceFuse func(node *graph.Node) bool

	NoFuseOps         []string
	ExclusionRules    []ExclusionRule
	FuseFoldableNodes bool

	// MinimumSegmentSize unfuses components smaller than this many
	// nodes; zero means the default of 2.
	MinimumSegmentSize int
	// PruneSmallSubgraphsRatio unfuses components smaller than
	// ratio * total node count, so tiny accelerated islands do not pay
	// dispatch overhead for nothing.
	PruneSmallSubgraphsRatio float64
}

// Selection is the outcome of fusion selection: the node partition and
// the surviving segments, each a topologically ordered node-name list.
type Selection struct {
	Segments [][]string
	Fusible  []string
	Excluded []string
}

// DefaultExclusionRules apply in heuristic mode unless overridden.
var DefaultExclusionRules = []ExclusionRule{ExcludePadBeforeConv2D}

// ExcludePadBeforeConv2D excludes a Pad that solely feeds one Conv2D
// when the Pad's own input operator is unsupported, together with the
// Pad's paddings constant. Fusing such a Pad alone starves the
// compiler's own pad/conv fusion and produces a degenerate subgraph.
func ExcludePadBeforeConv2D(g *graph.Graph, supported map[string]bool) []string {
	var excluded []string
	consumers := g.ConsumerIndex()
	for _, node := range g.Nodes {
		if node.Op != graph.OpPad || len(node.Inputs) < 2 {
			continue
		}
		producer, _, err := g.Producer(node.Inputs[0])
		if err != nil || supported[producer.Op] {
			continue
		}
		users := consumers[node.OutputName(0)]
		if len(users) != 1 || users[0].Op != graph.OpConv2D {
			continue
		}
		excluded = append(excluded, node.Name)
		if paddings, _, err := g.Producer(node.Inputs[1]); err == nil {
			excluded = append(excluded, paddings.Name)
		}
	}
	return excluded
}

// Select partitions the graph into fusible components. The result is
// deterministic: nodes are visited in topological order with name
// tie-breaks, and segments are ordered by their earliest member.
func Select(g *graph.Graph, supported map[string]bool, opts SelectOptions) (*Selection, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	if opts.ForceFuse != nil {
		return selectForced(g, order, opts.ForceFuse)
	}

	noFuse := make(map[string]bool, len(opts.NoFuseOps))
	for _, name := range opts.NoFuseOps {
		noFuse[name] = true
	}
	rules := opts.ExclusionRules
	if rules == nil {
		rules = DefaultExclusionRules
	}
	for _, rule := range rules {
		for _, name := range rule(g, supported) {
			noFuse[name] = true
		}
	}

	fusible := make(map[string]bool, len(g.Nodes))
	sel := &Selection{}
	for _, node := range order {
		ok := supported[node.Op] || (opts.FuseFoldableNodes && node.Op == graph.OpConst)
		if node.Op == graph.OpPlaceholder || node.Op == graph.OpAccel || noFuse[node.Name] {
			ok = false
		}
		if ok {
			fusible[node.Name] = true
			sel.Fusible = append(sel.Fusible, node.Name)
		} else {
			sel.Excluded = append(sel.Excluded, node.Name)
		}
	}

	uf := newUnionFind()
	for _, node := range order {
		if !fusible[node.Name] {
			continue
		}
		deps, err := g.Deps(node)
		if err != nil {
			return nil, err
		}
		for _, dep := range deps {
			if !fusible[dep.Name] {
				continue
			}
			root := uf.find(dep.Name)
			if uf.find(node.Name) == root {
				continue
			}
			if contractionCreatesCycle(g, uf, fusible, node, root) {
				continue
			}
			uf.union(node.Name, dep.Name)
		}
	}

	sel.Segments = collectSegments(order, fusible, uf.find, segmentLimits(opts, len(g.Nodes)))
	return sel, nil
}

func selectForced(g *graph.Graph, order []*graph.Node, pred func(*graph.Node) bool) (*Selection, error) {
	sel := &Selection{}
	var segment []string
	forced := make(map[string]bool)
	for _, node := range order {
		if pred(node) {
			forced[node.Name] = true
			segment = append(segment, node.Name)
			sel.Fusible = append(sel.Fusible, node.Name)
		} else {
			sel.Excluded = append(sel.Excluded, node.Name)
		}
	}
	if len(segment) == 0 {
		return sel, nil
	}
	// one forced segment; the contraction must still be acyclic, so no
	// path may leave the segment and come back. downstream[n] marks
	// outside nodes with a forced ancestor.
	downstream := make(map[string]bool, len(order))
	for _, node := range order {
		deps, err := g.Deps(node)
		if err != nil {
			return nil, err
		}
		if forced[node.Name] {
			for _, dep := range deps {
				if !forced[dep.Name] && downstream[dep.Name] {
					return nil, fmt.Errorf("forced fusion of %d nodes would create a cycle through %q", len(segment), dep.Name)
				}
			}
			continue
		}
		for _, dep := range deps {
			if forced[dep.Name] || downstream[dep.Name] {
				downstream[node.Name] = true
				break
			}
		}
	}
	sel.Segments = [][]string{segment}
	return sel, nil
}

// contractionCreatesCycle reports whether merging node into the
// component rooted at root would close a cycle: true when some
// ancestor path reaches node through a vertex outside the component
// after leaving it.
func contractionCreatesCycle(g *graph.Graph, uf *unionFind, fusible map[string]bool, node *graph.Node, root string) bool {
	deps, err := g.Deps(node)
	if err != nil {
		return true
	}
	for _, dep := range deps {
		if fusible[dep.Name] && uf.find(dep.Name) == root {
			continue
		}
		if ancestorRoots(g, uf, dep)[root] {
			return true
		}
	}
	return false
}

// ancestorRoots collects the union-find roots of a node and all its
// ancestors.
func ancestorRoots(g *graph.Graph, uf *unionFind, node *graph.Node) map[string]bool {
	roots := make(map[string]bool)
	var visit func(n *graph.Node)
	seen := make(map[string]bool)
	visit = func(n *graph.Node) {
		if seen[n.Name] {
			return
		}
		seen[n.Name] = true
		roots[uf.find(n.Name)] = true
		deps, err := g.Deps(n)
		if err != nil {
			return
		}
		for _, dep := range deps {
			visit(dep)
		}
	}
	visit(node)
	return roots
}

type segmentLimitsT struct {
	minSize    int
	minByRatio int
}

func segmentLimits(opts SelectOptions, total int) segmentLimitsT {
	minSize := opts.MinimumSegmentSize
	if minSize <= 0 {
		minSize = 2
	}
	minByRatio := 0
	if opts.PruneSmallSubgraphsRatio > 0 {
		minByRatio = int(opts.PruneSmallSubgraphsRatio * float64(total))
	}
	return segmentLimitsT{minSize: minSize, minByRatio: minByRatio}
}

func collectSegments(order []*graph.Node, fusible map[string]bool, find func(string) string, limits segmentLimitsT) [][]string {
	members := make(map[string][]string)
	var rootOrder []string
	for _, node := range order {
		if !fusible[node.Name] {
			continue
		}
		root := find(node.Name)
		if _, ok := members[root]; !ok {
			rootOrder = append(rootOrder, root)
		}
		members[root] = append(members[root], node.Name)
	}
	var segments [][]string
	for _, root := range rootOrder {
		segment := members[root]
		if len(segment) < limits.minSize || len(segment) < limits.minByRatio {
			continue
		}
		segments = append(segments, segment)
	}
	return segments
}

type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string)}
}

func (uf *unionFind) find(name string) string {
	parent, ok := uf.parent[name]
	if !ok || parent == name {
		return name
	}
	root := uf.find(parent)
	uf.parent[name] = root
	return root
}

// union merges deterministically toward the lexicographically smaller
// root so repeated runs agree on representatives.
func (uf *unionFind) union(a, b string) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
}
