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

// Package tracer compiles traced computation graphs for an external
// accelerator compiler. Trace takes a function captured as a graph,
// fuses the operator subgraphs the compiler supports, compiles each one
// through the compiler subprocess, and assembles a Model that runs the
// mixed graph while preserving the function's nested input and output
// structure. Subgraphs the compiler cannot handle fall back to host
// execution; tracing only fails on malformed graphs or structure
// mismatches.
package tracer

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/accelink/accelink/pkg/tracer/compiler"
	"github.com/accelink/accelink/pkg/tracer/graph"
	"github.com/accelink/accelink/pkg/tracer/optimizer"
	"github.com/accelink/accelink/pkg/tracer/signature"
)

// TracedFunction is a computation captured as a graph plus the nested
// structure of its inputs and outputs. Input leaves name Placeholder
// tensors; output leaves name fetch tensors.
type TracedFunction struct {
	Graph           *graph.Graph
	InputSignature  *signature.Tree
	OutputSignature *signature.Tree
}

// Trace compiles a traced function for the accelerator, using the
// example feed shapes to specialize dynamic dimensions, and returns a
// callable Model. Failed subgraphs degrade to host execution.
func Trace(ctx context.Context, fn *TracedFunction, feeds map[string]graph.Shape, opts *Options) (*Model, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := validateFunction(fn); err != nil {
		return nil, err
	}

	if err := graph.NewGraphChecker().Check(fn.Graph); err != nil {
		return nil, errors.Wrap(err, "traced graph is malformed")
	}
	if err := validateSignatures(fn); err != nil {
		return nil, err
	}

	compileOpts := compiler.Options{
		Binary:    opts.CompilerBinary,
		Framework: opts.Framework,
		DumpRoot:  opts.DumpDir,
		Timeout:   opts.CompileTimeout,
		Verbosity: opts.Verbosity,
	}
	extraFlags, err := compiler.ParseFlags(opts.ExtraCompilerFlags)
	if err != nil {
		return nil, errors.Wrap(err, "extra compiler flags")
	}
	compileOpts.ExtraFlags = extraFlags

	pipeline := &optimizer.Pipeline{
		Catalog:     compiler.NewCatalog(opts.CompilerBinary, opts.Framework),
		CompileOpts: compileOpts,
		SelectOpts: optimizer.SelectOptions{
			ForceFuse:                opts.SubgraphBuilder,
			NoFuseOps:                opts.NoFuseOps,
			FuseFoldableNodes:        opts.FuseFoldableNodes,
			MinimumSegmentSize:       opts.MinimumSegmentSize,
			PruneSmallSubgraphsRatio: opts.PruneSmallSubgraphsRatio,
		},
		Workers:          opts.Workers,
		MaxConstantBytes: opts.MaxConstantBytes,
	}

	compiled, report, err := pipeline.Run(ctx, fn.Graph, feeds)
	if err != nil {
		return nil, err
	}
	logrus.Infof("trace compiled %d of %d subgraphs, %d restored to host",
		report.Compiled, report.Segments, report.Restored)

	return &Model{
		graph:           compiled,
		inputSignature:  fn.InputSignature,
		outputSignature: fn.OutputSignature,
	}, nil
}

// validateFunction rejects input structures the feed-binding contract
// cannot express. At most one top-level mapping is allowed: binding
// two keyed argument groups to positional placeholders is ambiguous.
func validateFunction(fn *TracedFunction) error {
	if fn == nil || fn.Graph == nil {
		return errors.New("traced function carries no graph")
	}
	if fn.InputSignature == nil || fn.OutputSignature == nil {
		return errors.New("traced function carries no signature")
	}
	if fn.InputSignature.Kind() == signature.KindSeq {
		mappings := 0
		for _, elem := range fn.InputSignature.Elems() {
			if elem.Kind() == signature.KindMap {
				mappings++
			}
		}
		if mappings > 1 {
			return errors.Errorf("input structure has %d mapping arguments, at most one is supported", mappings)
		}
	}
	return nil
}

// validateSignatures checks that signature leaves line up with the
// graph boundary: every input leaf is a declared feed and every output
// leaf resolves to a tensor.
func validateSignatures(fn *TracedFunction) error {
	declared := make(map[string]bool, len(fn.Graph.Inputs))
	for _, name := range fn.Graph.Inputs {
		declared[name] = true
	}
	for _, leaf := range fn.InputSignature.Flatten() {
		if !declared[leaf] {
			return errors.Errorf("input leaf %q is not a declared graph feed", leaf)
		}
	}
	for _, leaf := range fn.OutputSignature.Flatten() {
		if _, err := fn.Graph.ResolveTensor(leaf); err != nil {
			return errors.Wrapf(err, "output leaf %q", leaf)
		}
	}
	return nil
}
