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
	"strings"

	"github.com/accelink/accelink/pkg/tracer/graph"
	"github.com/accelink/accelink/pkg/tracer/shapeinfer"
)

// ExtractSubgraphs replaces each selected segment with one AccelOp
// node. The AccelOp keeps the boundary tensor names of the segment it
// swallowed in its input_names/output_names attributes, so consumers
// outside the segment are left textually untouched and resolve through
// the graph's alias table.
func ExtractSubgraphs(g *graph.Graph, sel *Selection) (*graph.Graph, error) {
	if len(sel.Segments) == 0 {
		return g.Clone(), nil
	}

	swallowed := make(map[string]int, len(g.Nodes))
	for i, segment := range sel.Segments {
		for _, name := range segment {
			swallowed[name] = i
		}
	}

	out := graph.NewGraph()
	out.Inputs = append([]string(nil), g.Inputs...)
	out.Outputs = append([]string(nil), g.Outputs...)
	for k, v := range g.Attributes {
		out.SetAttr(k, v.Clone())
	}

	accelNodes := make([]*graph.Node, len(sel.Segments))
	for i, segment := range sel.Segments {
		accel, err := buildAccelNode(g, segment, i, swallowed)
		if err != nil {
			return nil, err
		}
		accelNodes[i] = accel
	}

	// keep the surviving nodes in their original order, placing each
	// AccelOp where its first member used to be
	placed := make([]bool, len(sel.Segments))
	for _, node := range g.Nodes {
		if idx, ok := swallowed[node.Name]; ok {
			if !placed[idx] {
				placed[idx] = true
				if err := out.AddNode(accelNodes[idx]); err != nil {
					return nil, err
				}
			}
			continue
		}
		if err := out.AddNode(node.Clone()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// buildAccelNode carves one segment out of g: it computes the boundary
// feeds and fetches, embeds the members as a standalone subgraph with
// Placeholder feeds, and returns the replacing AccelOp node.
func buildAccelNode(g *graph.Graph, segment []string, index int, swallowed map[string]int) (*graph.Node, error) {
	members := make(map[string]bool, len(segment))
	for _, name := range segment {
		members[name] = true
	}

	var feeds []string
	seenFeed := make(map[string]bool)
	for _, name := range segment {
		node := g.Node(name)
		if node == nil {
			return nil, fmt.Errorf("segment %d: node %q not found", index, name)
		}
		for _, input := range node.Inputs {
			producer, _, err := g.Producer(input)
			if err != nil {
				return nil, err
			}
			if members[producer.Name] || seenFeed[input] {
				continue
			}
			seenFeed[input] = true
			feeds = append(feeds, input)
		}
	}

	graphOutputs := make(map[string]bool, len(g.Outputs))
	for _, name := range g.Outputs {
		graphOutputs[name] = true
	}
	consumers := g.ConsumerIndex()
	var fetches []string
	for _, name := range segment {
		node := g.Node(name)
		for idx := 0; idx < node.NumOutputs(); idx++ {
			tensor := node.OutputName(idx)
			needed := graphOutputs[tensor]
			for _, user := range consumers[tensor] {
				if !members[user.Name] {
					needed = true
				}
			}
			if needed {
				fetches = append(fetches, tensor)
			}
		}
	}
	if len(fetches) == 0 {
		return nil, fmt.Errorf("segment %d: no boundary outputs, nothing consumes it", index)
	}

	sub := graph.NewGraph()
	feedRename := make(map[string]string, len(feeds))
	for _, feed := range feeds {
		tensor, err := g.ResolveTensor(feed)
		if err != nil {
			return nil, err
		}
		placeholder := &graph.Node{
			Name:         placeholderName(feed),
			Op:           graph.OpPlaceholder,
			OutputDTypes: []graph.DataType{tensor.DType},
			OutputShapes: []graph.Shape{tensor.Shape.Clone()},
		}
		if err := sub.AddNode(placeholder); err != nil {
			return nil, err
		}
		subFeed := placeholder.OutputName(0)
		sub.Inputs = append(sub.Inputs, subFeed)
		feedRename[feed] = subFeed
	}
	for _, name := range segment {
		member := g.Node(name).Clone()
		for i, input := range member.Inputs {
			if renamed, ok := feedRename[input]; ok {
				member.Inputs[i] = renamed
			}
		}
		if err := sub.AddNode(member); err != nil {
			return nil, err
		}
	}
	sub.Outputs = append(sub.Outputs, fetches...)

	embedded, err := graph.Marshal(sub)
	if err != nil {
		return nil, err
	}

	accel := &graph.Node{
		Name:   fmt.Sprintf("accel_op_%d", index),
		Op:     graph.OpAccel,
		Inputs: feeds,
	}
	for _, fetch := range fetches {
		tensor, err := sub.ResolveTensor(fetch)
		if err != nil {
			return nil, err
		}
		accel.OutputDTypes = append(accel.OutputDTypes, tensor.DType)
		accel.OutputShapes = append(accel.OutputShapes, tensor.Shape.Clone())
	}
	inputNames := &graph.Attribute{}
	inputNames.SetStrings(append([]string(nil), feeds...))
	accel.SetAttr(graph.AttrInputNames, inputNames)
	outputNames := &graph.Attribute{}
	outputNames.SetStrings(append([]string(nil), fetches...))
	accel.SetAttr(graph.AttrOutputNames, outputNames)
	subgraphAttr := &graph.Attribute{}
	subgraphAttr.SetBytes(embedded)
	accel.SetAttr(graph.AttrSubgraph, subgraphAttr)
	return accel, nil
}

// CompileView decodes the embedded subgraph of an AccelOp and
// substitutes the concrete trace-time extents for its boundary
// placeholder shapes, re-running shape inference so member shapes
// follow. The external compiler needs static dims in the graph and the
// io-config; the embedded fallback copy keeps its dynamic ones.
func CompileView(accel *graph.Node, shapes map[string]graph.Shape) (*graph.Graph, error) {
	sub, err := EmbeddedSubgraph(accel)
	if err != nil {
		return nil, err
	}
	if len(shapes) == 0 {
		return sub, nil
	}
	namesAttr, ok := accel.Attr(graph.AttrInputNames)
	if !ok {
		return sub, nil
	}
	outer, err := namesAttr.GetStrings()
	if err != nil || len(outer) != len(sub.Inputs) {
		return sub, nil
	}
	substituted := false
	for i, subFeed := range sub.Inputs {
		concrete := shapes[outer[i]]
		if concrete == nil || !concrete.IsFullyDefined() {
			continue
		}
		placeholder, idx, err := sub.Producer(subFeed)
		if err != nil {
			return nil, err
		}
		placeholder.OutputShapes[idx] = concrete.Clone()
		substituted = true
	}
	if !substituted {
		return sub, nil
	}
	return shapeinfer.Infer(sub, nil)
}

// RestoreSubgraph splices the embedded subgraph of the named AccelOp
// back into the graph, undoing the fusion. The members come back under
// their original names, so downstream references resolve without the
// alias table.
func RestoreSubgraph(g *graph.Graph, accelName string) (*graph.Graph, error) {
	accel := g.Node(accelName)
	if accel == nil || accel.Op != graph.OpAccel {
		return nil, fmt.Errorf("restore: %q is not a fused subgraph node", accelName)
	}
	sub, err := EmbeddedSubgraph(accel)
	if err != nil {
		return nil, err
	}
	feedsAttr, ok := accel.Attr(graph.AttrInputNames)
	if !ok {
		return nil, fmt.Errorf("restore: %q carries no input names", accelName)
	}
	feeds, err := feedsAttr.GetStrings()
	if err != nil {
		return nil, err
	}
	if len(feeds) != len(sub.Inputs) {
		return nil, fmt.Errorf("restore: %q has %d feeds but the subgraph expects %d", accelName, len(feeds), len(sub.Inputs))
	}
	restoreRename := make(map[string]string, len(feeds))
	for i, subFeed := range sub.Inputs {
		restoreRename[subFeed] = feeds[i]
	}

	out := graph.NewGraph()
	out.Inputs = append([]string(nil), g.Inputs...)
	out.Outputs = append([]string(nil), g.Outputs...)
	for k, v := range g.Attributes {
		out.SetAttr(k, v.Clone())
	}
	for _, node := range g.Nodes {
		if node.Name == accelName {
			for _, member := range sub.Nodes {
				if member.Op == graph.OpPlaceholder {
					continue
				}
				restored := member.Clone()
				for i, input := range restored.Inputs {
					if renamed, ok := restoreRename[input]; ok {
						restored.Inputs[i] = renamed
					}
				}
				if err := out.AddNode(restored); err != nil {
					return nil, err
				}
			}
			continue
		}
		if err := out.AddNode(node.Clone()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// EmbeddedSubgraph decodes the fallback subgraph an AccelOp carries.
func EmbeddedSubgraph(accel *graph.Node) (*graph.Graph, error) {
	attr, ok := accel.Attr(graph.AttrSubgraph)
	if !ok {
		return nil, fmt.Errorf("node %q carries no embedded subgraph", accel.Name)
	}
	raw, err := attr.GetBytes()
	if err != nil {
		return nil, err
	}
	return graph.Unmarshal(raw)
}

// AccelNodes returns the AccelOp nodes in deterministic graph order.
func AccelNodes(g *graph.Graph) []*graph.Node {
	var nodes []*graph.Node
	for _, node := range g.Nodes {
		if node.Op == graph.OpAccel {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

func placeholderName(tensorName string) string {
	return strings.ReplaceAll(tensorName, ":", "__")
}
