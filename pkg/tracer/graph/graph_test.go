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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func buildDiamond(t *testing.T) *Graph {
	b := NewGraphBuilder()
	x := b.Placeholder("x", DTFloat32, Shape{2, 2})
	left := b.Op(OpNeg, "left", DTFloat32, x)
	right := b.Op(OpRelu, "right", DTFloat32, x)
	out := b.Op(OpAdd, "sum", DTFloat32, left, right)
	g, err := b.Fetch(out).Build()
	assert.Nil(t, err)
	return g
}

func TestGraphBuilderSimple(t *testing.T) {
	g := buildDiamond(t)
	assert.Equal(t, 4, len(g.Nodes))
	assert.Equal(t, []string{"x:0"}, g.Inputs)
	assert.Equal(t, []string{"sum:0"}, g.Outputs)

	node, idx, err := g.Producer("left:0")
	assert.Nil(t, err)
	assert.Equal(t, "left", node.Name)
	assert.Equal(t, 0, idx)

	deps, err := g.Deps(g.Node("sum"))
	assert.Nil(t, err)
	assert.Equal(t, 2, len(deps))
}

func TestGraphBuilderStickyError(t *testing.T) {
	b := NewGraphBuilder()
	b.Placeholder("x", DTFloat32, Shape{2})
	b.Placeholder("x", DTFloat32, Shape{2})
	_, err := b.Build()
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "duplicate node name")
}

func TestGraphBuilderDanglingInput(t *testing.T) {
	b := NewGraphBuilder()
	x := b.Placeholder("x", DTFloat32, Shape{2})
	b.Op(OpAdd, "sum", DTFloat32, x, "ghost:0")
	_, err := b.Build()
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "ghost:0")
}

func TestTopologicalSortDeterminism(t *testing.T) {
	g := buildDiamond(t)
	first, err := g.TopologicalSort()
	assert.Nil(t, err)
	for i := 0; i < 10; i++ {
		again, err := g.TopologicalSort()
		assert.Nil(t, err)
		assert.Equal(t, names(first), names(again))
	}
	// name order breaks the left/right tie
	assert.Equal(t, []string{"x", "left", "right", "sum"}, names(first))
}

func TestTopologicalSortCycle(t *testing.T) {
	g := NewGraph()
	assert.Nil(t, g.AddNode(&Node{Name: "a", Op: OpNeg, Inputs: []string{"b:0"}, OutputDTypes: []DataType{DTFloat32}}))
	assert.Nil(t, g.AddNode(&Node{Name: "b", Op: OpNeg, Inputs: []string{"a:0"}, OutputDTypes: []DataType{DTFloat32}}))
	_, err := g.TopologicalSort()
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "circle")
}

func TestAccelAliasResolution(t *testing.T) {
	g := NewGraph()
	assert.Nil(t, g.AddNode(&Node{Name: "x", Op: OpPlaceholder, OutputDTypes: []DataType{DTFloat32}}))
	outputNames := &Attribute{}
	outputNames.SetStrings([]string{"relu:0", "neg:0"})
	accel := &Node{
		Name:         "accel_op_0",
		Op:           OpAccel,
		Inputs:       []string{"x:0"},
		OutputDTypes: []DataType{DTFloat32, DTFloat32},
	}
	accel.SetAttr(AttrOutputNames, outputNames)
	assert.Nil(t, g.AddNode(accel))

	// downstream consumers still reference the swallowed names
	node, idx, err := g.Producer("neg:0")
	assert.Nil(t, err)
	assert.Equal(t, "accel_op_0", node.Name)
	assert.Equal(t, 1, idx)

	tensor, err := g.ResolveTensor("relu:0")
	assert.Nil(t, err)
	assert.Equal(t, "accel_op_0", tensor.Node)
	assert.Equal(t, 0, tensor.Index)

	g.RemoveNode("accel_op_0")
	_, _, err = g.Producer("neg:0")
	assert.NotNil(t, err)
}

func TestGraphCheckerRejectsBadFeed(t *testing.T) {
	b := NewGraphBuilder()
	x := b.Placeholder("x", DTFloat32, Shape{2})
	neg := b.Op(OpNeg, "neg", DTFloat32, x)
	g, err := b.Fetch(neg).Build()
	assert.Nil(t, err)
	assert.Nil(t, NewGraphChecker().Check(g))

	g.Inputs = append(g.Inputs, "neg:0")
	err = NewGraphChecker().Check(g)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "not produced by a placeholder")
}

func TestGraphClone(t *testing.T) {
	g := buildDiamond(t)
	clone := g.Clone()
	clone.Node("left").Op = OpRelu
	clone.Outputs[0] = "left:0"
	assert.Equal(t, OpNeg, g.Node("left").Op)
	assert.Equal(t, "sum:0", g.Outputs[0])
}

func TestDumpGraphviz(t *testing.T) {
	g := buildDiamond(t)
	dot := g.DumpGraphviz()
	assert.True(t, strings.HasPrefix(dot, "digraph G {"))
	assert.Contains(t, dot, "\"x\" -> \"left\"")
	assert.Contains(t, dot, "\"right\" -> \"sum\"")
}

func TestParseTensorName(t *testing.T) {
	node, idx, err := ParseTensorName("dense/kernel:1")
	assert.Nil(t, err)
	assert.Equal(t, "dense/kernel", node)
	assert.Equal(t, 1, idx)

	// a bare node name means output 0
	node, idx, err = ParseTensorName("bias")
	assert.Nil(t, err)
	assert.Equal(t, "bias", node)
	assert.Equal(t, 0, idx)

	_, _, err = ParseTensorName("x:not-a-number")
	assert.NotNil(t, err)
}

func TestAttributePayloadBytes(t *testing.T) {
	// numeric payloads weigh their logical element width, not the
	// storage slice width
	floats := &Attribute{DType: DTFloat32, Shape: Shape{4}, DoubleS: []float64{1, 2, 3, 4}}
	assert.Equal(t, 16, floats.PayloadBytes())

	ints := &Attribute{}
	ints.SetInt64s([]int64{1, 2, 3})
	assert.Equal(t, 24, ints.PayloadBytes())

	bools := &Attribute{}
	bools.SetBool(true)
	assert.Equal(t, 1, bools.PayloadBytes())

	raw := &Attribute{}
	raw.SetBytes(make([]byte, 7))
	assert.Equal(t, 7, raw.PayloadBytes())
}

func names(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, node := range nodes {
		out[i] = node.Name
	}
	return out
}
