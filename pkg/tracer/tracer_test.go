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

package tracer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/accelink/accelink/pkg/tracer/executor"
	"github.com/accelink/accelink/pkg/tracer/graph"
	"github.com/accelink/accelink/pkg/tracer/signature"
)

func fakeCompiler(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accel-cc")
	script := "#!/bin/sh\n" + body + "\n"
	assert.Nil(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func succeedingCompiler(t *testing.T) string {
	return fakeCompiler(t, `
if [ "$1" = "list-operators" ]; then
  printf 'Add\nSub\nMul\nNeg\nRelu\nMatMul\nSoftmax\nConst\n'
  exit 0
fi
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "--output" ]; then out="$a"; fi
  prev="$a"
done
printf 'EXECUTABLE' > "$out"`)
}

func rejectingCompiler(t *testing.T) string {
	return fakeCompiler(t, `
if [ "$1" = "list-operators" ]; then
  printf 'Add\nNeg\nRelu\n'
  exit 0
fi
echo "rejected" >&2
exit 1`)
}

// denseFunction is a small dense layer with a dynamic batch dimension.
func denseFunction(t *testing.T) *TracedFunction {
	t.Helper()
	b := graph.NewGraphBuilder()
	x := b.Placeholder("x", graph.DTFloat32, graph.Shape{graph.DynamicDim, 2})
	w := b.ConstFloats("w", graph.Shape{2, 2}, []float64{1, 0, 0, 1})
	mm := b.Op(graph.OpMatMul, "mm", graph.DTFloat32, x, w)
	relu := b.Op(graph.OpRelu, "relu", graph.DTFloat32, mm)
	g, err := b.Fetch(relu).Build()
	assert.Nil(t, err)
	return &TracedFunction{
		Graph:           g,
		InputSignature:  signature.Leaf(x),
		OutputSignature: signature.Leaf(relu),
	}
}

func batch(values ...float64) *executor.Value {
	return executor.NewFloat(graph.Shape{int64(len(values) / 2), 2}, values)
}

func TestTraceAndCallDynamicBatch(t *testing.T) {
	fn := denseFunction(t)
	opts := DefaultOptions()
	opts.CompilerBinary = succeedingCompiler(t)
	model, err := Trace(context.Background(), fn, map[string]graph.Shape{"x:0": {4, 2}}, opts)
	assert.Nil(t, err)

	// the model accepts any batch size, not just the traced example
	for _, n := range []int{1, 4, 15} {
		data := make([]float64, n*2)
		for i := range data {
			data[i] = float64(i%5) - 2
		}
		out, err := model.Call(executor.NewFloat(graph.Shape{int64(n), 2}, data))
		assert.Nil(t, err)
		value, ok := out.(*executor.Value)
		assert.True(t, ok)
		assert.Equal(t, graph.Shape{int64(n), 2}, value.Shape)
		for _, v := range value.F {
			assert.GreaterOrEqual(t, v, 0.0)
		}
	}
}

func TestTraceFallsBackWhenCompilerRejects(t *testing.T) {
	fn := denseFunction(t)
	opts := DefaultOptions()
	opts.CompilerBinary = rejectingCompiler(t)
	model, err := Trace(context.Background(), fn, nil, opts)
	assert.Nil(t, err)

	out, err := model.Call(batch(1, -2, 3, -4))
	assert.Nil(t, err)
	value := out.(*executor.Value)
	assert.Equal(t, []float64{1, 0, 3, 0}, value.F)
}

func TestTraceNestedStructures(t *testing.T) {
	b := graph.NewGraphBuilder()
	a := b.Placeholder("a", graph.DTFloat32, graph.Shape{2})
	c := b.Placeholder("c", graph.DTFloat32, graph.Shape{2})
	sum := b.Op(graph.OpAdd, "sum", graph.DTFloat32, a, c)
	diff := b.Op(graph.OpSub, "diff", graph.DTFloat32, a, c)
	g, err := b.Fetch(sum, diff).Build()
	assert.Nil(t, err)

	fn := &TracedFunction{
		Graph:          g,
		InputSignature: signature.Seq(signature.Leaf(a), signature.Leaf(c)),
		OutputSignature: signature.Map(map[string]*signature.Tree{
			"sum":  signature.Leaf(sum),
			"diff": signature.Leaf(diff),
		}),
	}
	opts := DefaultOptions()
	opts.CompilerBinary = succeedingCompiler(t)
	model, err := Trace(context.Background(), fn, nil, opts)
	assert.Nil(t, err)

	va := executor.NewFloat(graph.Shape{2}, []float64{5, 7})
	vc := executor.NewFloat(graph.Shape{2}, []float64{2, 3})

	// unrolled arguments
	out, err := model.Call(va, vc)
	assert.Nil(t, err)
	result, ok := out.(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, []float64{7, 10}, result["sum"].(*executor.Value).F)
	assert.Equal(t, []float64{3, 4}, result["diff"].(*executor.Value).F)

	// rolled-up argument
	out, err = model.Call([]interface{}{va, vc})
	assert.Nil(t, err)
	result = out.(map[string]interface{})
	assert.Equal(t, []float64{7, 10}, result["sum"].(*executor.Value).F)
}

func TestCallStructureMismatchIsFatal(t *testing.T) {
	fn := denseFunction(t)
	opts := DefaultOptions()
	opts.CompilerBinary = succeedingCompiler(t)
	model, err := Trace(context.Background(), fn, nil, opts)
	assert.Nil(t, err)

	_, err = model.Call(batch(1, 2), batch(3, 4))
	assert.NotNil(t, err)

	_, err = model.Call("not a value")
	assert.NotNil(t, err)
}

func TestTraceRejectsMultipleMappings(t *testing.T) {
	b := graph.NewGraphBuilder()
	a := b.Placeholder("a", graph.DTFloat32, graph.Shape{2})
	c := b.Placeholder("c", graph.DTFloat32, graph.Shape{2})
	sum := b.Op(graph.OpAdd, "sum", graph.DTFloat32, a, c)
	g, err := b.Fetch(sum).Build()
	assert.Nil(t, err)

	fn := &TracedFunction{
		Graph: g,
		InputSignature: signature.Seq(
			signature.Map(map[string]*signature.Tree{"a": signature.Leaf(a)}),
			signature.Map(map[string]*signature.Tree{"c": signature.Leaf(c)}),
		),
		OutputSignature: signature.Leaf(sum),
	}
	_, err = Trace(context.Background(), fn, nil, DefaultOptions())
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "mapping")
}

func TestTraceForcedSubgraph(t *testing.T) {
	fn := denseFunction(t)
	opts := DefaultOptions()
	opts.CompilerBinary = succeedingCompiler(t)
	forced := map[string]bool{"mm": true, "relu": true, "w": true}
	opts.SubgraphBuilder = func(node *graph.Node) bool { return forced[node.Name] }

	model, err := Trace(context.Background(), fn, nil, opts)
	assert.Nil(t, err)
	out, err := model.Call(batch(-1, 2))
	assert.Nil(t, err)
	assert.Equal(t, []float64{0, 2}, out.(*executor.Value).F)
}

func TestTraceEmbedsConstantsByDefault(t *testing.T) {
	// Const is missing from the operator list; the default options
	// still pull the weight into the fused subgraph instead of feeding
	// it across the boundary
	binary := fakeCompiler(t, `
if [ "$1" = "list-operators" ]; then
  printf 'Add\nNeg\nRelu\nMatMul\n'
  exit 0
fi
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "--output" ]; then out="$a"; fi
  prev="$a"
done
printf 'EXECUTABLE' > "$out"`)

	fn := denseFunction(t)
	opts := DefaultOptions()
	assert.True(t, opts.FuseFoldableNodes)
	opts.CompilerBinary = binary
	model, err := Trace(context.Background(), fn, nil, opts)
	assert.Nil(t, err)

	var accel *graph.Node
	for _, node := range model.Graph().Nodes {
		if node.Op == graph.OpAccel {
			accel = node
		}
	}
	assert.NotNil(t, accel)
	assert.Equal(t, []string{"x:0"}, accel.Inputs)
}

func TestTraceRejectsBadSignatureLeaf(t *testing.T) {
	fn := denseFunction(t)
	fn.InputSignature = signature.Leaf("ghost:0")
	_, err := Trace(context.Background(), fn, nil, DefaultOptions())
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "ghost:0")
}

func TestModelSaveLoad(t *testing.T) {
	fn := denseFunction(t)
	opts := DefaultOptions()
	opts.CompilerBinary = succeedingCompiler(t)
	model, err := Trace(context.Background(), fn, nil, opts)
	assert.Nil(t, err)

	dir := filepath.Join(t.TempDir(), "model")
	assert.Nil(t, model.Save(dir))

	loaded, err := Load(dir)
	assert.Nil(t, err)
	assert.Equal(t, model.InputSignature().Flatten(), loaded.InputSignature().Flatten())

	want, err := model.Call(batch(1, -2, 3, -4))
	assert.Nil(t, err)
	got, err := loaded.Call(batch(1, -2, 3, -4))
	assert.Nil(t, err)
	assert.Equal(t, want.(*executor.Value).F, got.(*executor.Value).F)
}

func TestLoadOptionsFromYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.Nil(t, os.WriteFile(path, []byte(`
compiler_binary: /opt/accel/bin/accel-cc
workers: 3
minimum_segment_size: 4
no_fuse_ops: [alpha, beta]
`), 0o644))

	opts, err := LoadOptions(path)
	assert.Nil(t, err)
	assert.Equal(t, "/opt/accel/bin/accel-cc", opts.CompilerBinary)
	assert.Equal(t, 3, opts.Workers)
	assert.Equal(t, 4, opts.MinimumSegmentSize)
	assert.Equal(t, []string{"alpha", "beta"}, opts.NoFuseOps)
	// untouched fields keep their defaults
	assert.Equal(t, 0.9, opts.PruneSmallSubgraphsRatio)
	assert.True(t, opts.FuseFoldableNodes)

	t.Setenv("ACCELINK_WORKERS", "7")
	opts, err = LoadOptions(path)
	assert.Nil(t, err)
	assert.Equal(t, 7, opts.Workers)
}
