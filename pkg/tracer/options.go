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
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/accelink/accelink/pkg/tracer/graph"
)

// Options configures tracing and compilation. Values load from a yaml
// file, then environment variables override, then programmatic fields
// win.
type Options struct {
	// CompilerBinary is the external compiler; empty means accel-cc on
	// PATH.
	CompilerBinary string `yaml:"compiler_binary" envconfig:"ACCELINK_CC"`
	// Framework is the frontend tag passed to the compiler.
	Framework string `yaml:"framework" envconfig:"ACCELINK_FRAMEWORK"`
	// ExtraCompilerFlags is a shell-style flag string appended to every
	// compile command.
	ExtraCompilerFlags string `yaml:"extra_compiler_flags" envconfig:"ACCELINK_CC_FLAGS"`
	// Workers bounds concurrent compiler processes; 0 means one per
	// subgraph.
	Workers int `yaml:"workers" envconfig:"ACCELINK_WORKERS"`
	// CompileTimeout bounds one compiler invocation; 0 means no bound.
	CompileTimeout time.Duration `yaml:"compile_timeout" envconfig:"ACCELINK_COMPILE_TIMEOUT"`
	// DumpDir keeps per-subgraph compiler working directories for
	// debugging instead of temp dirs.
	DumpDir string `yaml:"dump_dir" envconfig:"ACCELINK_DUMP_DIR"`
	// Verbosity is forwarded to the compiler.
	Verbosity int `yaml:"verbosity" envconfig:"ACCELINK_VERBOSE"`

	// MinimumSegmentSize unfuses components smaller than this; 0 means
	// the default of 2.
	MinimumSegmentSize int `yaml:"minimum_segment_size" envconfig:"ACCELINK_MIN_SEGMENT_SIZE"`
	// PruneSmallSubgraphsRatio unfuses components smaller than
	// ratio * total node count.
	PruneSmallSubgraphsRatio float64 `yaml:"prune_small_subgraphs_ratio" envconfig:"ACCELINK_PRUNE_RATIO"`
	// NoFuseOps lists node names excluded from fusion.
	NoFuseOps []string `yaml:"no_fuse_ops" envconfig:"ACCELINK_NO_FUSE_OPS"`
	// FuseFoldableNodes lets constants join fused subgraphs instead of
	// crossing the boundary as feeds. On by default.
	FuseFoldableNodes bool `yaml:"fuse_foldable_nodes" envconfig:"ACCELINK_FUSE_FOLDABLE"`
	// MaxConstantBytes erases constants above this size from compiled
	// fallback subgraphs; 0 disables erasure.
	MaxConstantBytes int `yaml:"max_constant_bytes" envconfig:"ACCELINK_MAX_CONSTANT_BYTES"`

	// SubgraphBuilder forces exactly the accepted nodes into one
	// subgraph, bypassing the operator whitelist. Programmatic only.
	SubgraphBuilder func(node *graph.Node) bool `yaml:"-" ignored:"true"`
}

// DefaultOptions returns the zero configuration with defaults that
// mirror the compiler's expectations.
func DefaultOptions() *Options {
	return &Options{
		FuseFoldableNodes:        true,
		PruneSmallSubgraphsRatio: 0.9,
	}
}

// LoadOptions reads a yaml config file and overlays environment
// variables. An empty path skips the file.
func LoadOptions(path string) (*Options, error) {
	opts := DefaultOptions()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %q", path)
		}
		if err := yaml.Unmarshal(raw, opts); err != nil {
			return nil, errors.Wrapf(err, "parse config %q", path)
		}
	}
	if err := envconfig.Process("", opts); err != nil {
		return nil, errors.Wrap(err, "process environment")
	}
	return opts, nil
}
