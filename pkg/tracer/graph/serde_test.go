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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerdeRoundTrip(t *testing.T) {
	b := NewGraphBuilder()
	x := b.Placeholder("x", DTFloat32, Shape{DynamicDim, 3})
	w := b.ConstFloats("w", Shape{3, 2}, []float64{1, 2, 3, 4, 5, 6})
	mm := b.Op(OpMatMul, "mm", DTFloat32, x, w)
	g, err := b.Fetch(mm).Build()
	assert.Nil(t, err)

	raw, err := Marshal(g)
	assert.Nil(t, err)
	assert.NotEmpty(t, raw)

	decoded, err := Unmarshal(raw)
	assert.Nil(t, err)
	assert.Equal(t, g.Inputs, decoded.Inputs)
	assert.Equal(t, g.Outputs, decoded.Outputs)
	assert.Equal(t, len(g.Nodes), len(decoded.Nodes))

	node := decoded.Node("x")
	assert.NotNil(t, node)
	assert.Equal(t, OpPlaceholder, node.Op)
	assert.Equal(t, Shape{DynamicDim, 3}, node.OutputShape(0))

	value, ok := decoded.Node("w").Attr(AttrValue)
	assert.True(t, ok)
	assert.Equal(t, DTFloat32, value.DType)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, value.DoubleS)
}

func TestSerdeInt64Lossless(t *testing.T) {
	big := []int64{math.MaxInt64, math.MinInt64, 0, -1}
	b := NewGraphBuilder()
	c := b.ConstInts("big", Shape{4}, big)
	g, err := b.Fetch(c).Build()
	assert.Nil(t, err)

	raw, err := Marshal(g)
	assert.Nil(t, err)
	decoded, err := Unmarshal(raw)
	assert.Nil(t, err)

	value, ok := decoded.Node("big").Attr(AttrValue)
	assert.True(t, ok)
	assert.Equal(t, big, value.Int64S)
}

func TestSerdeRawAndGraphAttributes(t *testing.T) {
	b := NewGraphBuilder()
	x := b.Placeholder("x", DTFloat64, nil)
	g, err := b.Fetch(x).Build()
	assert.Nil(t, err)

	exe := &Attribute{}
	exe.SetBytes([]byte{0x00, 0xff, 0x10})
	g.Node("x").SetAttr(AttrExecutable, exe)
	plan := &Attribute{}
	plan.SetStrings([]string{"host:x"})
	g.SetAttr(AttrExecutionPlan, plan)

	raw, err := Marshal(g)
	assert.Nil(t, err)
	decoded, err := Unmarshal(raw)
	assert.Nil(t, err)

	gotExe, ok := decoded.Node("x").Attr(AttrExecutable)
	assert.True(t, ok)
	assert.Equal(t, []byte{0x00, 0xff, 0x10}, gotExe.Raw)

	gotPlan, ok := decoded.Attr(AttrExecutionPlan)
	assert.True(t, ok)
	assert.Equal(t, []string{"host:x"}, gotPlan.StringS)

	// unknown-rank output shape survives as nil
	assert.Nil(t, decoded.Node("x").OutputShape(0))
}

func TestUnmarshalGarbage(t *testing.T) {
	_, err := Unmarshal([]byte("definitely not a graph"))
	assert.NotNil(t, err)
}

func TestEmbeddedSubgraphRoundTrip(t *testing.T) {
	inner := NewGraphBuilder()
	p := inner.Placeholder("p", DTFloat32, Shape{2})
	neg := inner.Op(OpNeg, "neg", DTFloat32, p)
	sub, err := inner.Fetch(neg).Build()
	assert.Nil(t, err)
	embedded, err := Marshal(sub)
	assert.Nil(t, err)

	outer := NewGraphBuilder()
	x := outer.Placeholder("x", DTFloat32, Shape{2})
	g, err := outer.Fetch(x).Build()
	assert.Nil(t, err)
	subAttr := &Attribute{}
	subAttr.SetBytes(embedded)
	g.Node("x").SetAttr(AttrSubgraph, subAttr)

	raw, err := Marshal(g)
	assert.Nil(t, err)
	decoded, err := Unmarshal(raw)
	assert.Nil(t, err)

	gotSub, ok := decoded.Node("x").Attr(AttrSubgraph)
	assert.True(t, ok)
	nested, err := Unmarshal(gotSub.Raw)
	assert.Nil(t, err)
	assert.Equal(t, []string{"neg:0"}, nested.Outputs)
	assert.Equal(t, OpNeg, nested.Node("neg").Op)
}
