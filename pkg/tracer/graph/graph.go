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

package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is a directed acyclic multigraph of nodes connected by named
// tensors. Node names are unique. Inputs and Outputs are the boundary
// feed and fetch tensor names.
//
// Rewrite passes treat a Graph as immutable: Clone first, then modify.
type Graph struct {
	Nodes      []*Node
	Inputs     []string
	Outputs    []string
	Attributes map[string]*Attribute

	index   map[string]*Node
	aliases map[string]aliasRef
}

// aliasRef redirects a historical tensor name to an output of the node
// that replaced its producer. AccelOp nodes keep the boundary tensor
// names of the subgraph they swallowed, so downstream wiring is
// unaffected by the splice.
type aliasRef struct {
	node *Node
	idx  int
}

func NewGraph() *Graph {
	return &Graph{
		index:   make(map[string]*Node),
		aliases: make(map[string]aliasRef),
	}
}

// AddNode appends a node; node names must be unique within the graph.
func (g *Graph) AddNode(node *Node) error {
	if node.Name == "" {
		return fmt.Errorf("addNode: empty node name")
	}
	if _, ok := g.index[node.Name]; ok {
		return fmt.Errorf("addNode: duplicate node name %q", node.Name)
	}
	g.Nodes = append(g.Nodes, node)
	g.index[node.Name] = node
	g.registerAliases(node)
	return nil
}

// RemoveNode drops the named node. Consumers referencing its tensors
// must be rewired by the caller.
func (g *Graph) RemoveNode(name string) {
	node, ok := g.index[name]
	if !ok {
		return
	}
	delete(g.index, name)
	for i, n := range g.Nodes {
		if n == node {
			g.Nodes = append(g.Nodes[:i], g.Nodes[i+1:]...)
			break
		}
	}
	g.rebuildAliases()
}

func (g *Graph) registerAliases(node *Node) {
	if node.Op != OpAccel {
		return
	}
	attr, ok := node.Attr(AttrOutputNames)
	if !ok {
		return
	}
	names, err := attr.GetStrings()
	if err != nil {
		return
	}
	for i, name := range names {
		g.aliases[name] = aliasRef{node: node, idx: i}
	}
}

func (g *Graph) rebuildAliases() {
	g.aliases = make(map[string]aliasRef)
	for _, node := range g.Nodes {
		g.registerAliases(node)
	}
}

// Node returns the named node, or nil.
func (g *Graph) Node(name string) *Node {
	return g.index[name]
}

func (g *Graph) SetAttr(key string, attr *Attribute) {
	if g.Attributes == nil {
		g.Attributes = make(map[string]*Attribute)
	}
	g.Attributes[key] = attr
}

func (g *Graph) Attr(key string) (*Attribute, bool) {
	attr, ok := g.Attributes[key]
	return attr, ok
}

// Producer resolves a tensor name to its producing node and output
// index, following aliases left behind by subgraph splices.
func (g *Graph) Producer(tensorName string) (*Node, int, error) {
	nodeName, idx, err := ParseTensorName(tensorName)
	if err != nil {
		return nil, 0, err
	}
	if node, ok := g.index[nodeName]; ok {
		if idx >= node.NumOutputs() {
			return nil, 0, fmt.Errorf("tensor %q: node %q has only %d outputs", tensorName, nodeName, node.NumOutputs())
		}
		return node, idx, nil
	}
	if ref, ok := g.aliases[tensorName]; ok {
		return ref.node, ref.idx, nil
	}
	return nil, 0, fmt.Errorf("tensor %q: producer node not found", tensorName)
}

// ResolveTensor returns the tensor value object behind a name.
func (g *Graph) ResolveTensor(tensorName string) (*Tensor, error) {
	node, idx, err := g.Producer(tensorName)
	if err != nil {
		return nil, err
	}
	return &Tensor{
		Node:  node.Name,
		Index: idx,
		DType: node.OutputDTypes[idx],
		Shape: node.OutputShape(idx),
	}, nil
}

// ConsumerIndex maps every referenced tensor name to the nodes that
// consume it, in node order.
func (g *Graph) ConsumerIndex() map[string][]*Node {
	consumers := make(map[string][]*Node)
	for _, node := range g.Nodes {
		seen := make(map[string]bool)
		for _, input := range node.Inputs {
			if seen[input] {
				continue
			}
			seen[input] = true
			consumers[input] = append(consumers[input], node)
		}
	}
	return consumers
}

// Deps returns the unique producer nodes of a node's inputs, in input
// order.
func (g *Graph) Deps(node *Node) ([]*Node, error) {
	var deps []*Node
	seen := make(map[*Node]bool)
	for _, input := range node.Inputs {
		producer, _, err := g.Producer(input)
		if err != nil {
			return nil, fmt.Errorf("node %q: %v", node.Name, err)
		}
		if !seen[producer] {
			seen[producer] = true
			deps = append(deps, producer)
		}
	}
	return deps, nil
}

// TopologicalSort orders nodes so producers precede consumers. Nodes in
// each ready set are visited in name order to enforce determinism.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	indegrees := make(map[*Node]int, len(g.Nodes))
	successors := make(map[*Node][]*Node, len(g.Nodes))
	for _, node := range g.Nodes {
		indegrees[node] = 0
	}
	for _, node := range g.Nodes {
		deps, err := g.Deps(node)
		if err != nil {
			return nil, err
		}
		for _, dep := range deps {
			successors[dep] = append(successors[dep], node)
			indegrees[node]++
		}
	}

	var queue []*Node
	for node, degree := range indegrees {
		if degree == 0 {
			queue = append(queue, node)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i].Name < queue[j].Name })

	var nodes []*Node
	for len(queue) != 0 {
		cur := queue[0]
		queue = queue[1:]
		nodes = append(nodes, cur)

		var toAppend []*Node
		for _, succ := range successors[cur] {
			indegrees[succ]--
			if indegrees[succ] == 0 {
				toAppend = append(toAppend, succ)
			}
		}
		sort.Slice(toAppend, func(i, j int) bool { return toAppend[i].Name < toAppend[j].Name })
		queue = append(queue, toAppend...)
	}
	if len(nodes) != len(g.Nodes) {
		return nil, fmt.Errorf("topological sort fail: maybe circle in graph")
	}
	return nodes, nil
}

// Clone deep-copies the graph.
func (g *Graph) Clone() *Graph {
	dst := NewGraph()
	dst.Inputs = append([]string(nil), g.Inputs...)
	dst.Outputs = append([]string(nil), g.Outputs...)
	if g.Attributes != nil {
		dst.Attributes = make(map[string]*Attribute, len(g.Attributes))
		for k, v := range g.Attributes {
			dst.Attributes[k] = v.Clone()
		}
	}
	for _, node := range g.Nodes {
		// nodes are unique by construction, error impossible here
		_ = dst.AddNode(node.Clone())
	}
	return dst
}

// DumpGraphviz dumps a graph viz for visualization.
func (g *Graph) DumpGraphviz() string {
	var builder strings.Builder
	fmt.Fprintln(&builder, "digraph G {")
	convertToSingleQuote := func(s string) string {
		return strings.ReplaceAll(s, "\"", "'")
	}

	nodes := append([]*Node(nil), g.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })

	for _, node := range nodes {
		fmt.Fprintf(&builder, "\"%s\" [label=\"%s\"]\n", node.Name, convertToSingleQuote(node.ToString()))
	}

	var all []string
	for _, node := range nodes {
		for _, input := range node.Inputs {
			producer, _, err := g.Producer(input)
			if err != nil {
				continue
			}
			all = append(all, fmt.Sprintf("\"%s\" -> \"%s\" [label = \"%s\"]\n",
				producer.Name, node.Name, convertToSingleQuote(input)))
		}
	}
	sort.Strings(all)
	fmt.Fprint(&builder, strings.Join(all, ""))
	fmt.Fprint(&builder, "}")
	return builder.String()
}
