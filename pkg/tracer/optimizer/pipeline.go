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
	"context"

	"github.com/sirupsen/logrus"

	"github.com/accelink/accelink/pkg/tracer/compiler"
	"github.com/accelink/accelink/pkg/tracer/graph"
	"github.com/accelink/accelink/pkg/tracer/shapeinfer"
	"github.com/accelink/accelink/pkg/util/parallel"
)

// Pipeline turns a traced graph into its compiled form: infer shapes,
// select and extract fusible subgraphs, compile them through the
// external compiler, restore whatever failed, and stamp the execution
// plan. Subgraph compilation failures degrade to host execution; only
// malformed graphs or misconfiguration are errors.
type Pipeline struct {
	Catalog     *compiler.Catalog
	CompileOpts compiler.Options
	SelectOpts  SelectOptions

	// Workers bounds concurrent compiler processes; <= 0 means one per
	// subgraph.
	Workers int
	// MaxConstantBytes is the erasure threshold for constants already
	// baked into a compiled executable; <= 0 disables erasure.
	MaxConstantBytes int
}

// Report summarizes one pipeline run for logging and tests.
type Report struct {
	Segments int
	Compiled int
	Restored int
	Plan     *ExecutionPlan
	Failures map[string]*compiler.Result
}

// Run executes the full compilation pipeline.
func (p *Pipeline) Run(ctx context.Context, g *graph.Graph, feeds map[string]graph.Shape) (*graph.Graph, *Report, error) {
	report := &Report{Failures: make(map[string]*compiler.Result)}

	inferred, err := shapeinfer.Infer(g, feeds)
	if err != nil {
		return nil, nil, err
	}

	optimized, err := Optimize(inferred)
	if err != nil {
		return nil, nil, err
	}

	supported := map[string]bool{}
	if p.Catalog != nil {
		supported = p.Catalog.SupportedOperators()
	}
	sel, err := Select(optimized, supported, p.SelectOpts)
	if err != nil {
		return nil, nil, err
	}
	report.Segments = len(sel.Segments)
	logrus.Infof("fusion selected %d subgraphs out of %d fusible nodes", len(sel.Segments), len(sel.Fusible))
	if len(sel.Segments) == 0 {
		planned, plan, err := AssignExecutionPlan(optimized)
		if err != nil {
			return nil, nil, err
		}
		report.Plan = plan
		return planned, report, nil
	}

	// the compiler wants the trace example's static extents at the
	// subgraph boundary even when the signature stays dynamic
	concreteShapes, err := concreteTensorShapes(optimized, feeds)
	if err != nil {
		return nil, nil, err
	}

	fused, err := ExtractSubgraphs(optimized, sel)
	if err != nil {
		return nil, nil, err
	}

	// shape queries inside a compiled subgraph must be data, the
	// hardware cannot inspect shapes at run time
	fused, err = MapSubgraphs(fused, ShapeToConstant)
	if err != nil {
		return nil, nil, err
	}
	fused, err = MapSubgraphs(fused, Optimize)
	if err != nil {
		return nil, nil, err
	}

	compiled, err := p.compileAll(ctx, fused, concreteShapes, report)
	if err != nil {
		return nil, nil, err
	}

	for name, result := range report.Failures {
		logrus.Warnf("subgraph %s falls back to host execution: %s", name, result.ToString())
		compiled, err = RestoreSubgraph(compiled, name)
		if err != nil {
			return nil, nil, err
		}
		report.Restored++
	}

	compiled, err = EraseLargeConstants(compiled, p.MaxConstantBytes)
	if err != nil {
		return nil, nil, err
	}

	planned, plan, err := AssignExecutionPlan(compiled)
	if err != nil {
		return nil, nil, err
	}
	report.Plan = plan
	logrus.Infof("execution plan:\n%s", plan.DumpString())
	return planned, report, nil
}

// concreteTensorShapes maps every tensor to the extent it had under the
// trace example, with declared dynamic dimensions substituted.
func concreteTensorShapes(g *graph.Graph, feeds map[string]graph.Shape) (map[string]graph.Shape, error) {
	concrete, err := shapeinfer.InferConcrete(g, feeds)
	if err != nil {
		return nil, err
	}
	shapes := make(map[string]graph.Shape)
	for _, node := range concrete.Nodes {
		for i := 0; i < node.NumOutputs(); i++ {
			if s := node.OutputShape(i); s != nil {
				shapes[node.OutputName(i)] = s
			}
		}
	}
	return shapes, nil
}

func (p *Pipeline) compileAll(ctx context.Context, g *graph.Graph, shapes map[string]graph.Shape, report *Report) (*graph.Graph, error) {
	out := g.Clone()
	accels := AccelNodes(out)
	results, err := parallel.ParallelRun(accels, p.Workers, func(node *graph.Node) (*compiler.Result, error) {
		sub, err := CompileView(node, shapes)
		if err != nil {
			return nil, err
		}
		return compiler.Compile(ctx, node.Name, sub, p.CompileOpts), nil
	})
	if err != nil {
		return nil, err
	}
	for i, result := range results {
		node := accels[i]
		if !result.OK() {
			report.Failures[node.Name] = result
			continue
		}
		attr := &graph.Attribute{}
		attr.SetBytes(result.Executable)
		node.SetAttr(graph.AttrExecutable, attr)
		report.Compiled++
	}
	return out, nil
}
