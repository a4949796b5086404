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

package compiler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/accelink/accelink/pkg/tracer/graph"
)

// fakeCompiler writes an executable shell script standing in for the
// external compiler.
func fakeCompiler(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accel-cc")
	script := "#!/bin/sh\n" + body + "\n"
	assert.Nil(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// compileOutputArg extracts --output from "$@" inside the script.
const compileOutputArg = `
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "--output" ]; then out="$a"; fi
  prev="$a"
done`

func testSubgraph(t *testing.T) *graph.Graph {
	t.Helper()
	b := graph.NewGraphBuilder()
	x := b.Placeholder("x__0", graph.DTFloat32, graph.Shape{graph.DynamicDim, 2})
	neg := b.Op(graph.OpNeg, "neg", graph.DTFloat32, x)
	g, err := b.Fetch(neg).Build()
	assert.Nil(t, err)
	return g
}

func TestCatalogListsOperators(t *testing.T) {
	binary := fakeCompiler(t, `
if [ "$1" = "list-operators" ]; then
  printf 'Add\nMul\nMatMul\nPlaceholder\nIdentityN\n'
fi`)
	catalog := NewCatalog(binary, "")
	ops := catalog.SupportedOperators()
	assert.True(t, ops["Add"])
	assert.True(t, ops["MatMul"])
	// pseudo-operators are stripped
	assert.False(t, ops["Placeholder"])
	assert.False(t, ops["IdentityN"])

	// memoized: the second call must not re-run the binary
	assert.Equal(t, len(ops), len(catalog.SupportedOperators()))
}

func TestCatalogAbsentBinary(t *testing.T) {
	catalog := NewCatalog(filepath.Join(t.TempDir(), "missing-cc"), "")
	assert.Empty(t, catalog.SupportedOperators())
}

func TestCompileSuccess(t *testing.T) {
	binary := fakeCompiler(t, compileOutputArg+`
printf 'EXECUTABLE' > "$out"`)
	result := Compile(context.Background(), "accel_op_0", testSubgraph(t), Options{Binary: binary})
	assert.True(t, result.OK())
	assert.Equal(t, []byte("EXECUTABLE"), result.Executable)
	assert.Equal(t, FailureNone, result.Reason)
}

func TestCompileRejected(t *testing.T) {
	binary := fakeCompiler(t, `
echo "unsupported operator Mystery" >&2
exit 3`)
	result := Compile(context.Background(), "accel_op_0", testSubgraph(t), Options{Binary: binary})
	assert.False(t, result.OK())
	assert.Equal(t, CompilerRejected, result.Reason)
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, result.Stderr, "unsupported operator")
}

func TestCompileNoOutputIsCrash(t *testing.T) {
	binary := fakeCompiler(t, `exit 0`)
	result := Compile(context.Background(), "accel_op_0", testSubgraph(t), Options{Binary: binary})
	assert.False(t, result.OK())
	assert.Equal(t, CompilerCrashed, result.Reason)
}

func TestCompileAbsentBinary(t *testing.T) {
	result := Compile(context.Background(), "accel_op_0", testSubgraph(t),
		Options{Binary: filepath.Join(t.TempDir(), "missing-cc")})
	assert.False(t, result.OK())
	assert.Equal(t, CompilerAbsent, result.Reason)
}

func TestCompileTimeout(t *testing.T) {
	binary := fakeCompiler(t, `sleep 10`)
	result := Compile(context.Background(), "accel_op_0", testSubgraph(t),
		Options{Binary: binary, Timeout: 100 * time.Millisecond})
	assert.False(t, result.OK())
	assert.Equal(t, CompileTimedOut, result.Reason)
}

func TestCompileDumpRootKeepsArtifacts(t *testing.T) {
	binary := fakeCompiler(t, compileOutputArg+`
printf 'EXECUTABLE' > "$out"`)
	dumpRoot := t.TempDir()
	result := Compile(context.Background(), "accel op/0", testSubgraph(t),
		Options{Binary: binary, DumpRoot: dumpRoot})
	assert.True(t, result.OK())

	// the workdir survives under a sanitized name
	workdir := filepath.Join(dumpRoot, "accel_op_0")
	input, err := os.ReadFile(filepath.Join(workdir, "graph.pb"))
	assert.Nil(t, err)
	assert.NotEmpty(t, input)
	decoded, err := graph.Unmarshal(input)
	assert.Nil(t, err)
	assert.Equal(t, []string{"neg:0"}, decoded.Outputs)
}

func TestBuildIOConfig(t *testing.T) {
	// the pipeline hands Compile a subgraph whose placeholders carry
	// the concrete trace-time extents
	b := graph.NewGraphBuilder()
	x := b.Placeholder("x__0", graph.DTFloat32, graph.Shape{4, 2})
	neg := b.Op(graph.OpNeg, "neg", graph.DTFloat32, x)
	sub, err := b.Fetch(neg).Build()
	assert.Nil(t, err)

	raw, err := buildIOConfig(sub)
	assert.Nil(t, err)

	var config struct {
		Inputs  map[string][]interface{} `json:"inputs"`
		Outputs []string                 `json:"outputs"`
	}
	assert.Nil(t, json.Unmarshal([]byte(raw), &config))
	assert.Equal(t, []string{"neg:0"}, config.Outputs)
	entry, ok := config.Inputs["x__0:0"]
	assert.True(t, ok)
	assert.Equal(t, 2, len(entry))
	assert.Equal(t, []interface{}{float64(4), float64(2)}, entry[0])
	assert.Equal(t, "float32", entry[1])
}

func TestParseFlags(t *testing.T) {
	flags, err := ParseFlags(`--opt-level 2 --define "a b"`)
	assert.Nil(t, err)
	assert.Equal(t, []string{"--opt-level", "2", "--define", "a b"}, flags)

	flags, err = ParseFlags("")
	assert.Nil(t, err)
	assert.Empty(t, flags)
}
