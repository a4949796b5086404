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

import "fmt"

// GraphBuilder constructs a Graph incrementally. The first error sticks
// and is reported by Build.
type GraphBuilder struct {
	graph *Graph
	err   error
}

func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{graph: NewGraph()}
}

func (b *GraphBuilder) fail(format string, args ...interface{}) string {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
	return ""
}

// Placeholder adds a graph feed with a declared shape. Dimensions set
// to DynamicDim stay symbolic through shape inference. Returns the
// feed tensor name.
func (b *GraphBuilder) Placeholder(name string, dt DataType, shape Shape) string {
	node := &Node{
		Name:         name,
		Op:           OpPlaceholder,
		OutputDTypes: []DataType{dt},
		OutputShapes: []Shape{shape.Clone()},
	}
	if err := b.graph.AddNode(node); err != nil {
		return b.fail("placeholder: %v", err)
	}
	b.graph.Inputs = append(b.graph.Inputs, node.OutputName(0))
	return node.OutputName(0)
}

// Const adds a constant node carrying the given payload attribute.
func (b *GraphBuilder) Const(name string, value *Attribute) string {
	node := &Node{
		Name:         name,
		Op:           OpConst,
		OutputDTypes: []DataType{value.DType},
		OutputShapes: []Shape{value.Shape.Clone()},
	}
	node.SetAttr(AttrValue, value)
	if err := b.graph.AddNode(node); err != nil {
		return b.fail("const: %v", err)
	}
	return node.OutputName(0)
}

// ConstFloats is a convenience wrapper for a float32-typed constant.
func (b *GraphBuilder) ConstFloats(name string, shape Shape, data []float64) string {
	attr := &Attribute{DType: DTFloat32, Shape: shape.Clone(), DoubleS: data}
	return b.Const(name, attr)
}

// ConstInts is a convenience wrapper for an int64-typed constant.
func (b *GraphBuilder) ConstInts(name string, shape Shape, data []int64) string {
	attr := &Attribute{DType: DTInt64, Shape: shape.Clone(), Int64S: data}
	return b.Const(name, attr)
}

// Op adds a single-output node and returns its output tensor name.
func (b *GraphBuilder) Op(op, name string, dt DataType, inputs ...string) string {
	outs := b.OpN(op, name, []DataType{dt}, inputs...)
	if len(outs) == 0 {
		return ""
	}
	return outs[0]
}

// OpN adds a multi-output node and returns its output tensor names.
func (b *GraphBuilder) OpN(op, name string, dts []DataType, inputs ...string) []string {
	node := &Node{
		Name:         name,
		Op:           op,
		Inputs:       append([]string(nil), inputs...),
		OutputDTypes: append([]DataType(nil), dts...),
	}
	if err := b.graph.AddNode(node); err != nil {
		b.fail("op %s: %v", name, err)
		return nil
	}
	outs := make([]string, node.NumOutputs())
	for i := range outs {
		outs[i] = node.OutputName(i)
	}
	return outs
}

// Fetch declares graph outputs, in order.
func (b *GraphBuilder) Fetch(tensorNames ...string) *GraphBuilder {
	b.graph.Outputs = append(b.graph.Outputs, tensorNames...)
	return b
}

// Build validates input references and returns the finished graph.
func (b *GraphBuilder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	for _, node := range b.graph.Nodes {
		for _, input := range node.Inputs {
			if _, _, err := b.graph.Producer(input); err != nil {
				return nil, fmt.Errorf("build: node %q: %v", node.Name, err)
			}
		}
	}
	for _, output := range b.graph.Outputs {
		if _, _, err := b.graph.Producer(output); err != nil {
			return nil, fmt.Errorf("build: output: %v", err)
		}
	}
	return b.graph, nil
}
