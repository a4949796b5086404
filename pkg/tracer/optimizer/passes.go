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

	"github.com/sirupsen/logrus"

	"github.com/accelink/accelink/pkg/tracer/executor"
	"github.com/accelink/accelink/pkg/tracer/graph"
)

// Pass is one graph-to-graph rewrite. Passes never mutate their input.
type Pass func(g *graph.Graph) (*graph.Graph, error)

// Optimize runs the standard host-side rewrite sequence.
func Optimize(g *graph.Graph) (*graph.Graph, error) {
	return runPasses(g, SimplifyIdentities, FoldConstants, PruneDeadNodes)
}

func runPasses(g *graph.Graph, passes ...Pass) (*graph.Graph, error) {
	var err error
	for _, pass := range passes {
		g, err = pass(g)
		if err != nil {
			return nil, err
		}
	}
	return g, nil
}

// SimplifyIdentities rewires consumers of Identity nodes straight to
// the identity's input. Identities whose output is a graph fetch stay:
// the fetch name must keep resolving.
func SimplifyIdentities(g *graph.Graph) (*graph.Graph, error) {
	fetched := make(map[string]bool, len(g.Outputs))
	for _, name := range g.Outputs {
		fetched[name] = true
	}
	rename := make(map[string]string)
	for _, node := range g.Nodes {
		if node.Op != graph.OpIdentity || len(node.Inputs) != 1 {
			continue
		}
		if fetched[node.OutputName(0)] {
			continue
		}
		rename[node.OutputName(0)] = node.Inputs[0]
	}
	if len(rename) == 0 {
		return g.Clone(), nil
	}
	resolve := func(name string) string {
		for {
			next, ok := rename[name]
			if !ok {
				return name
			}
			name = next
		}
	}

	out := graph.NewGraph()
	out.Inputs = append([]string(nil), g.Inputs...)
	out.Outputs = append([]string(nil), g.Outputs...)
	for k, v := range g.Attributes {
		out.SetAttr(k, v.Clone())
	}
	for _, node := range g.Nodes {
		clone := node.Clone()
		for i, input := range clone.Inputs {
			clone.Inputs[i] = resolve(input)
		}
		if err := out.AddNode(clone); err != nil {
			return nil, err
		}
	}
	// the bypassed identities are now dead
	return PruneDeadNodes(out)
}

// FoldConstants evaluates single-output nodes whose operands are all
// constants and replaces them with Const nodes under the same name, so
// consumer references survive the rewrite.
func FoldConstants(g *graph.Graph) (*graph.Graph, error) {
	out := g.Clone()
	nodes, err := out.TopologicalSort()
	if err != nil {
		return nil, err
	}
	folded := 0
	for _, node := range nodes {
		if !foldable(out, node) {
			continue
		}
		inputs := make([]*executor.Value, len(node.Inputs))
		ok := true
		for i, input := range node.Inputs {
			producer, _, err := out.Producer(input)
			if err != nil {
				return nil, err
			}
			attr, present := producer.Attr(graph.AttrValue)
			if !present {
				ok = false
				break
			}
			v, err := executor.FromAttribute(attr)
			if err != nil {
				ok = false
				break
			}
			inputs[i] = v
		}
		if !ok {
			continue
		}
		results, err := executor.Apply(node, inputs)
		if err != nil || len(results) != 1 {
			// leave the node alone, the executor will complain at run
			// time if the expression is truly malformed
			continue
		}
		node.Op = graph.OpConst
		node.Inputs = nil
		node.Attributes = nil
		node.SetAttr(graph.AttrValue, results[0].ToAttribute())
		node.OutputDTypes = []graph.DataType{results[0].DType}
		node.OutputShapes = []graph.Shape{results[0].Shape.Clone()}
		folded++
	}
	if folded > 0 {
		logrus.Debugf("constant folding replaced %d nodes", folded)
		return PruneDeadNodes(out)
	}
	return out, nil
}

func foldable(g *graph.Graph, node *graph.Node) bool {
	switch node.Op {
	case graph.OpConst, graph.OpPlaceholder, graph.OpAccel, graph.OpIdentityN, graph.OpShape:
		return false
	}
	if node.NumOutputs() != 1 || len(node.Inputs) == 0 {
		return false
	}
	for _, input := range node.Inputs {
		producer, _, err := g.Producer(input)
		if err != nil || producer.Op != graph.OpConst {
			return false
		}
		if _, erased := producer.Attr(graph.AttrValueErased); erased {
			return false
		}
	}
	return true
}

// PruneDeadNodes drops nodes that neither reach a graph output nor
// back a declared graph input.
func PruneDeadNodes(g *graph.Graph) (*graph.Graph, error) {
	live := make(map[string]bool)
	var visit func(tensorName string) error
	visit = func(tensorName string) error {
		node, _, err := g.Producer(tensorName)
		if err != nil {
			return err
		}
		if live[node.Name] {
			return nil
		}
		live[node.Name] = true
		for _, input := range node.Inputs {
			if err := visit(input); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range g.Outputs {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	for _, name := range g.Inputs {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	out := graph.NewGraph()
	out.Inputs = append([]string(nil), g.Inputs...)
	out.Outputs = append([]string(nil), g.Outputs...)
	for k, v := range g.Attributes {
		out.SetAttr(k, v.Clone())
	}
	for _, node := range g.Nodes {
		if !live[node.Name] {
			continue
		}
		if err := out.AddNode(node.Clone()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ShapeToConstant replaces Shape nodes whose operand has a fully
// defined inferred shape with Const nodes, freezing the dynamic shape
// query into data the compiler can see.
func ShapeToConstant(g *graph.Graph) (*graph.Graph, error) {
	out := g.Clone()
	converted := 0
	for _, node := range out.Nodes {
		if node.Op != graph.OpShape || len(node.Inputs) != 1 {
			continue
		}
		tensor, err := out.ResolveTensor(node.Inputs[0])
		if err != nil {
			return nil, err
		}
		if !tensor.Shape.IsFullyDefined() {
			continue
		}
		dims := append([]int64(nil), tensor.Shape...)
		value := &graph.Attribute{}
		value.SetInt64s(dims)
		node.Op = graph.OpConst
		node.Inputs = nil
		node.Attributes = nil
		node.SetAttr(graph.AttrValue, value)
		node.OutputDTypes = []graph.DataType{graph.DTInt64}
		node.OutputShapes = []graph.Shape{{int64(len(dims))}}
		converted++
	}
	if converted > 0 {
		logrus.Debugf("froze %d shape queries into constants", converted)
	}
	return out, nil
}

// MapSubgraphs applies fn to the embedded subgraph of every AccelOp
// node and re-embeds the result.
func MapSubgraphs(g *graph.Graph, fn Pass) (*graph.Graph, error) {
	out := g.Clone()
	for _, node := range out.Nodes {
		if node.Op != graph.OpAccel {
			continue
		}
		sub, err := EmbeddedSubgraph(node)
		if err != nil {
			return nil, err
		}
		rewritten, err := fn(sub)
		if err != nil {
			return nil, fmt.Errorf("subgraph %q: %v", node.Name, err)
		}
		raw, err := graph.Marshal(rewritten)
		if err != nil {
			return nil, err
		}
		attr := &graph.Attribute{}
		attr.SetBytes(raw)
		node.SetAttr(graph.AttrSubgraph, attr)
	}
	return out, nil
}

// EraseLargeConstants strips constant payloads above the threshold from
// compiled subgraphs. The executable already embeds the weights; the
// fallback copy would only bloat the artifact. Erased constants are
// tagged so a later restore knows the fallback lost fidelity.
func EraseLargeConstants(g *graph.Graph, thresholdBytes int) (*graph.Graph, error) {
	if thresholdBytes <= 0 {
		return g.Clone(), nil
	}
	out := g.Clone()
	for _, node := range out.Nodes {
		if node.Op != graph.OpAccel {
			continue
		}
		exe, ok := node.Attr(graph.AttrExecutable)
		if !ok {
			continue
		}
		if raw, err := exe.GetBytes(); err != nil || len(raw) == 0 {
			continue
		}
		sub, err := EmbeddedSubgraph(node)
		if err != nil {
			return nil, err
		}
		erased := 0
		for _, member := range sub.Nodes {
			if member.Op != graph.OpConst {
				continue
			}
			value, ok := member.Attr(graph.AttrValue)
			if !ok || value.PayloadBytes() <= thresholdBytes {
				continue
			}
			delete(member.Attributes, graph.AttrValue)
			mark := &graph.Attribute{}
			mark.SetBool(true)
			member.SetAttr(graph.AttrValueErased, mark)
			erased++
		}
		if erased == 0 {
			continue
		}
		logrus.Debugf("subgraph %s: erased %d large constants", node.Name, erased)
		raw, err := graph.Marshal(sub)
		if err != nil {
			return nil, err
		}
		attr := &graph.Attribute{}
		attr.SetBytes(raw)
		node.SetAttr(graph.AttrSubgraph, attr)
	}
	return out, nil
}
