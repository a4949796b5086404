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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/accelink/accelink/pkg/tracer/graph"
	"github.com/accelink/accelink/pkg/tracer/shapeinfer"
)

func TestFoldConstants(t *testing.T) {
	b := graph.NewGraphBuilder()
	x := b.Placeholder("x", graph.DTFloat32, graph.Shape{2})
	c1 := b.ConstFloats("c1", graph.Shape{2}, []float64{1, 2})
	c2 := b.ConstFloats("c2", graph.Shape{2}, []float64{3, 4})
	sum := b.Op(graph.OpAdd, "sum", graph.DTFloat32, c1, c2)
	out := b.Op(graph.OpMul, "out", graph.DTFloat32, x, sum)
	g, err := b.Fetch(out).Build()
	assert.Nil(t, err)

	folded, err := FoldConstants(g)
	assert.Nil(t, err)

	node := folded.Node("sum")
	assert.NotNil(t, node)
	assert.Equal(t, graph.OpConst, node.Op)
	value, ok := node.Attr(graph.AttrValue)
	assert.True(t, ok)
	assert.Equal(t, []float64{4, 6}, value.DoubleS)
	// the source constants are dead after folding
	assert.Nil(t, folded.Node("c1"))
	assert.Nil(t, folded.Node("c2"))
	// consumers still reference the folded node by name
	assert.Equal(t, []string{"x:0", "sum:0"}, folded.Node("out").Inputs)
}

func TestFoldConstantsKeepsDynamicNodes(t *testing.T) {
	b := graph.NewGraphBuilder()
	x := b.Placeholder("x", graph.DTFloat32, graph.Shape{2})
	c := b.ConstFloats("c", graph.Shape{2}, []float64{1, 2})
	sum := b.Op(graph.OpAdd, "sum", graph.DTFloat32, x, c)
	g, err := b.Fetch(sum).Build()
	assert.Nil(t, err)

	folded, err := FoldConstants(g)
	assert.Nil(t, err)
	assert.Equal(t, graph.OpAdd, folded.Node("sum").Op)
}

func TestSimplifyIdentities(t *testing.T) {
	b := graph.NewGraphBuilder()
	x := b.Placeholder("x", graph.DTFloat32, graph.Shape{2})
	id1 := b.Op(graph.OpIdentity, "id1", graph.DTFloat32, x)
	id2 := b.Op(graph.OpIdentity, "id2", graph.DTFloat32, id1)
	neg := b.Op(graph.OpNeg, "neg", graph.DTFloat32, id2)
	fetchedID := b.Op(graph.OpIdentity, "fetched", graph.DTFloat32, neg)
	g, err := b.Fetch(fetchedID).Build()
	assert.Nil(t, err)

	simplified, err := SimplifyIdentities(g)
	assert.Nil(t, err)
	// the chain collapses transitively
	assert.Nil(t, simplified.Node("id1"))
	assert.Nil(t, simplified.Node("id2"))
	assert.Equal(t, []string{"x:0"}, simplified.Node("neg").Inputs)
	// an identity producing a fetch must survive
	assert.NotNil(t, simplified.Node("fetched"))
	assert.Equal(t, []string{"fetched:0"}, simplified.Outputs)
}

func TestPruneDeadNodes(t *testing.T) {
	b := graph.NewGraphBuilder()
	x := b.Placeholder("x", graph.DTFloat32, graph.Shape{2})
	b.Op(graph.OpNeg, "dead", graph.DTFloat32, x)
	live := b.Op(graph.OpRelu, "live", graph.DTFloat32, x)
	g, err := b.Fetch(live).Build()
	assert.Nil(t, err)

	pruned, err := PruneDeadNodes(g)
	assert.Nil(t, err)
	assert.Nil(t, pruned.Node("dead"))
	assert.NotNil(t, pruned.Node("live"))
	// declared feeds survive even without consumers
	assert.NotNil(t, pruned.Node("x"))
}

func TestShapeToConstant(t *testing.T) {
	b := graph.NewGraphBuilder()
	x := b.Placeholder("x", graph.DTFloat32, graph.Shape{4, 3})
	y := b.Placeholder("y", graph.DTFloat32, graph.Shape{graph.DynamicDim, 3})
	shapeX := b.Op(graph.OpShape, "shape_x", graph.DTInt64, x)
	shapeY := b.Op(graph.OpShape, "shape_y", graph.DTInt64, y)
	g, err := b.Fetch(shapeX, shapeY).Build()
	assert.Nil(t, err)
	inferred, err := shapeinfer.Infer(g, nil)
	assert.Nil(t, err)

	converted, err := ShapeToConstant(inferred)
	assert.Nil(t, err)

	frozen := converted.Node("shape_x")
	assert.Equal(t, graph.OpConst, frozen.Op)
	value, ok := frozen.Attr(graph.AttrValue)
	assert.True(t, ok)
	assert.Equal(t, []int64{4, 3}, value.Int64S)
	assert.Empty(t, frozen.Inputs)

	// a dynamic dimension keeps the query symbolic
	assert.Equal(t, graph.OpShape, converted.Node("shape_y").Op)
}

func TestEraseLargeConstants(t *testing.T) {
	inner := graph.NewGraphBuilder()
	p := inner.Placeholder("p", graph.DTFloat32, graph.Shape{2})
	// 512 float32 elements are 2048 payload bytes, over the threshold
	big := inner.ConstFloats("big", graph.Shape{512}, make([]float64, 512))
	small := inner.ConstFloats("small", graph.Shape{2}, []float64{1, 2})
	inner.Op(graph.OpAdd, "sum", graph.DTFloat32, p, small)
	inner.Op(graph.OpNeg, "negbig", graph.DTFloat32, big)
	sub, err := inner.Fetch("sum:0", "negbig:0").Build()
	assert.Nil(t, err)
	embedded, err := graph.Marshal(sub)
	assert.Nil(t, err)

	g := graph.NewGraph()
	accel := &graph.Node{
		Name:         "accel_op_0",
		Op:           graph.OpAccel,
		OutputDTypes: []graph.DataType{graph.DTFloat32, graph.DTFloat32},
	}
	subAttr := &graph.Attribute{}
	subAttr.SetBytes(embedded)
	accel.SetAttr(graph.AttrSubgraph, subAttr)
	exe := &graph.Attribute{}
	exe.SetBytes([]byte("EXECUTABLE"))
	accel.SetAttr(graph.AttrExecutable, exe)
	assert.Nil(t, g.AddNode(accel))
	g.Outputs = []string{"accel_op_0:0"}

	erased, err := EraseLargeConstants(g, 1024)
	assert.Nil(t, err)
	sub2, err := EmbeddedSubgraph(erased.Node("accel_op_0"))
	assert.Nil(t, err)

	bigNode := sub2.Node("big")
	_, hasValue := bigNode.Attr(graph.AttrValue)
	assert.False(t, hasValue)
	mark, ok := bigNode.Attr(graph.AttrValueErased)
	assert.True(t, ok)
	erasedFlag, err := mark.GetBool()
	assert.Nil(t, err)
	assert.True(t, erasedFlag)

	// constants under the threshold keep their payloads
	_, hasValue = sub2.Node("small").Attr(graph.AttrValue)
	assert.True(t, hasValue)
}

func TestEraseSkipsUncompiledSubgraphs(t *testing.T) {
	inner := graph.NewGraphBuilder()
	big := inner.ConstFloats("big", graph.Shape{256}, make([]float64, 256))
	g2, err := inner.Fetch(big).Build()
	assert.Nil(t, err)
	embedded, err := graph.Marshal(g2)
	assert.Nil(t, err)

	g := graph.NewGraph()
	accel := &graph.Node{
		Name:         "accel_op_0",
		Op:           graph.OpAccel,
		OutputDTypes: []graph.DataType{graph.DTFloat32},
	}
	subAttr := &graph.Attribute{}
	subAttr.SetBytes(embedded)
	accel.SetAttr(graph.AttrSubgraph, subAttr)
	assert.Nil(t, g.AddNode(accel))
	g.Outputs = []string{"accel_op_0:0"}

	// no executable attribute: the fallback graph is the only copy of
	// the weights and must stay intact
	erased, err := EraseLargeConstants(g, 1024)
	assert.Nil(t, err)
	sub, err := EmbeddedSubgraph(erased.Node("accel_op_0"))
	assert.Nil(t, err)
	_, hasValue := sub.Node("big").Attr(graph.AttrValue)
	assert.True(t, hasValue)
}
