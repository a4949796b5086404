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

// Package shapeinfer propagates concrete tensor shapes forward through
// a graph from a feed of example shapes. Inference is best-effort:
// nodes whose shape cannot be determined keep unknown dimensions
// rather than failing the pass.
package shapeinfer

import (
	"fmt"

	"github.com/accelink/accelink/pkg/tracer/executor"
	"github.com/accelink/accelink/pkg/tracer/graph"
)

// Infer returns a new graph annotated with best-effort output shapes.
// Feed shapes are keyed by tensor name. A dimension declared dynamic on
// a placeholder stays dynamic even when the feed supplies a concrete
// extent, so the traced signature does not collapse to the example.
func Infer(g *graph.Graph, feeds map[string]graph.Shape) (*graph.Graph, error) {
	return infer(g, feeds, true)
}

// InferConcrete is Infer with declared dynamic dimensions replaced by
// the example feed's concrete extents. The external compiler wants
// static boundary shapes; the traced signature keeps its dynamic ones.
func InferConcrete(g *graph.Graph, feeds map[string]graph.Shape) (*graph.Graph, error) {
	return infer(g, feeds, false)
}

func infer(g *graph.Graph, feeds map[string]graph.Shape, keepDynamic bool) (*graph.Graph, error) {
	out := g.Clone()
	nodes, err := out.TopologicalSort()
	if err != nil {
		return nil, err
	}
	shapes := make(map[string]graph.Shape)
	for _, node := range nodes {
		inferred := inferNode(out, node, feeds, shapes, keepDynamic)
		node.OutputShapes = inferred
		for i, s := range inferred {
			shapes[node.OutputName(i)] = s
		}
	}
	return out, nil
}

func inferNode(g *graph.Graph, node *graph.Node, feeds map[string]graph.Shape, shapes map[string]graph.Shape, keepDynamic bool) []graph.Shape {
	in := func(i int) graph.Shape {
		if i >= len(node.Inputs) {
			return nil
		}
		return shapes[node.Inputs[i]]
	}
	unknown := make([]graph.Shape, node.NumOutputs())

	switch node.Op {
	case graph.OpPlaceholder:
		declared := node.OutputShape(0)
		feed, ok := feeds[node.OutputName(0)]
		if !ok {
			return []graph.Shape{declared.Clone()}
		}
		return []graph.Shape{mergeDeclared(declared, feed, keepDynamic)}
	case graph.OpConst:
		if attr, ok := node.Attr(graph.AttrValue); ok {
			return []graph.Shape{attr.Shape.Clone()}
		}
		return unknown
	case graph.OpIdentity:
		return []graph.Shape{in(0).Clone()}
	case graph.OpIdentityN:
		out := make([]graph.Shape, node.NumOutputs())
		for i := range out {
			out[i] = in(i).Clone()
		}
		return out
	case graph.OpAdd, graph.OpSub, graph.OpMul:
		return []graph.Shape{broadcast(in(0), in(1))}
	case graph.OpNeg, graph.OpRelu, graph.OpSoftmax:
		return []graph.Shape{in(0).Clone()}
	case graph.OpMatMul:
		return []graph.Shape{matMulShape(in(0), in(1))}
	case graph.OpReshape:
		return []graph.Shape{reshapeShape(g, node, in(0))}
	case graph.OpShape:
		if s := in(0); s != nil {
			return []graph.Shape{{int64(s.Rank())}}
		}
		return unknown
	case graph.OpPad:
		return []graph.Shape{padShape(g, node, in(0))}
	case graph.OpConcat:
		values := make([]graph.Shape, 0, len(node.Inputs)-1)
		for i := 0; i < len(node.Inputs)-1; i++ {
			values = append(values, in(i))
		}
		return []graph.Shape{concatShape(g, node, values)}
	case graph.OpConv2D:
		return []graph.Shape{conv2dShape(g, node, in(0), in(1))}
	default:
		return unknown
	}
}

// mergeDeclared fills declared dimensions from the trace-time feed.
// With keepDynamic, dimensions declared dynamic stay dynamic instead of
// taking the feed's extent.
func mergeDeclared(declared, feed graph.Shape, keepDynamic bool) graph.Shape {
	if declared == nil {
		return feed.Clone()
	}
	out := declared.Clone()
	for i := range out {
		if out[i] == graph.DynamicDim && keepDynamic {
			continue
		}
		if i < len(feed) {
			out[i] = feed[i]
		}
	}
	return out
}

func broadcast(a, b graph.Shape) graph.Shape {
	if a == nil || b == nil {
		return nil
	}
	rank := len(a)
	if len(b) > rank {
		rank = len(b)
	}
	out := make(graph.Shape, rank)
	for i := 0; i < rank; i++ {
		da, db := int64(1), int64(1)
		if i >= rank-len(a) {
			da = a[i-(rank-len(a))]
		}
		if i >= rank-len(b) {
			db = b[i-(rank-len(b))]
		}
		switch {
		case da == graph.DynamicDim || db == graph.DynamicDim:
			out[i] = graph.DynamicDim
		case da == db, db == 1:
			out[i] = da
		case da == 1:
			out[i] = db
		default:
			// incompatible; report unknown rather than failing
			out[i] = graph.DynamicDim
		}
	}
	return out
}

func matMulShape(a, b graph.Shape) graph.Shape {
	if len(a) != 2 || len(b) != 2 {
		return nil
	}
	return graph.Shape{a[0], b[1]}
}

func reshapeShape(g *graph.Graph, node *graph.Node, in graph.Shape) graph.Shape {
	dims, err := constIntOperand(g, node, 1)
	if err != nil {
		return nil
	}
	out := make(graph.Shape, len(dims))
	known := int64(1)
	wildcard := -1
	for i, d := range dims {
		out[i] = d
		if d == -1 {
			wildcard = i
		} else {
			known *= d
		}
	}
	if wildcard >= 0 {
		if total := in.NumElements(); total >= 0 && known > 0 && total%known == 0 {
			out[wildcard] = total / known
		} else {
			out[wildcard] = graph.DynamicDim
		}
	}
	return out
}

func padShape(g *graph.Graph, node *graph.Node, in graph.Shape) graph.Shape {
	if in == nil {
		return nil
	}
	paddings, err := constIntOperand(g, node, 1)
	if err != nil || len(paddings) != 2*len(in) {
		return nil
	}
	out := make(graph.Shape, len(in))
	for i := range in {
		if in[i] == graph.DynamicDim {
			out[i] = graph.DynamicDim
			continue
		}
		out[i] = paddings[2*i] + in[i] + paddings[2*i+1]
	}
	return out
}

func concatShape(g *graph.Graph, node *graph.Node, values []graph.Shape) graph.Shape {
	if len(values) == 0 || values[0] == nil {
		return nil
	}
	axisDims, err := constIntOperand(g, node, len(node.Inputs)-1)
	if err != nil || len(axisDims) != 1 {
		return nil
	}
	rank := len(values[0])
	axis := int(axisDims[0])
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return nil
	}
	out := values[0].Clone()
	for _, v := range values[1:] {
		if len(v) != rank {
			return nil
		}
		for i := range v {
			if i == axis {
				if out[i] == graph.DynamicDim || v[i] == graph.DynamicDim {
					out[i] = graph.DynamicDim
				} else {
					out[i] += v[i]
				}
				continue
			}
			if out[i] != v[i] {
				out[i] = graph.DynamicDim
			}
		}
	}
	return out
}

// conv2dShape assumes NHWC layout with VALID padding and unit strides,
// the only variant the bridge currently emits.
func conv2dShape(g *graph.Graph, node *graph.Node, in, filter graph.Shape) graph.Shape {
	if len(in) != 4 || len(filter) != 4 {
		return nil
	}
	out := graph.Shape{in[0], graph.DynamicDim, graph.DynamicDim, filter[3]}
	if in[1] != graph.DynamicDim && filter[0] != graph.DynamicDim {
		out[1] = in[1] - filter[0] + 1
	}
	if in[2] != graph.DynamicDim && filter[1] != graph.DynamicDim {
		out[2] = in[2] - filter[1] + 1
	}
	return out
}

// constIntOperand reads input idx of a node as a constant int64 list.
func constIntOperand(g *graph.Graph, node *graph.Node, idx int) ([]int64, error) {
	if idx >= len(node.Inputs) {
		return nil, fmt.Errorf("node %q has no input %d", node.Name, idx)
	}
	producer, _, err := g.Producer(node.Inputs[idx])
	if err != nil {
		return nil, err
	}
	if producer.Op != graph.OpConst {
		return nil, fmt.Errorf("input %q is not a constant", node.Inputs[idx])
	}
	attr, ok := producer.Attr(graph.AttrValue)
	if !ok {
		return nil, fmt.Errorf("constant %q has no payload", producer.Name)
	}
	v, err := executor.FromAttribute(attr)
	if err != nil {
		return nil, err
	}
	if v.I == nil {
		return nil, fmt.Errorf("constant %q is not integral", producer.Name)
	}
	return v.I, nil
}
