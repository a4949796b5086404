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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"

	"github.com/accelink/accelink/pkg/tracer/graph"
)

const (
	inputFileName  = "graph.pb"
	outputFileName = "graph.aex"
)

// Options configures subgraph compilation.
type Options struct {
	// Binary is the compiler executable; looked up on PATH when it
	// carries no path separator. Defaults to DefaultBinary.
	Binary string
	// Framework is the frontend tag forwarded to the compiler.
	Framework string
	// DumpRoot, when set, keeps per-subgraph working directories under
	// it, named after the subgraph node, instead of temp dirs.
	DumpRoot string
	// ExtraFlags are appended verbatim to the compile command.
	ExtraFlags []string
	// Timeout bounds one compiler invocation; zero means no bound.
	Timeout time.Duration
	// Verbosity is forwarded to the compiler as --verbose when > 0.
	Verbosity int
}

// ParseFlags tokenizes a flag string the way a shell would, so callers
// may pass extra compiler flags as one string.
func ParseFlags(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	return shlex.Split(s)
}

// Compile serializes the subgraph into an isolated working directory,
// invokes the external compiler, and reads back the executable. All
// compiler-side failures are reported in the Result, never as an
// error: a failed subgraph is restored by the pipeline, not fatal.
func Compile(ctx context.Context, name string, subgraph *graph.Graph, opts Options) *Result {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	if opts.Framework == "" {
		opts.Framework = DefaultFramework
	}

	binary, err := exec.LookPath(opts.Binary)
	if err != nil {
		logrus.Warnf("subgraph %s: compiler binary %q not found", name, opts.Binary)
		return &Result{Reason: CompilerAbsent}
	}

	workdir, cleanup, err := makeWorkdir(opts.DumpRoot, name)
	if err != nil {
		logrus.Warnf("subgraph %s: %v", name, err)
		return &Result{Reason: CompilerCrashed, Stderr: err.Error()}
	}
	defer cleanup()

	serialized, err := graph.Marshal(subgraph)
	if err != nil {
		logrus.Warnf("subgraph %s: serialize: %v", name, err)
		return &Result{Reason: CompilerCrashed, Stderr: err.Error()}
	}
	inputPath := filepath.Join(workdir, inputFileName)
	outputPath := filepath.Join(workdir, outputFileName)
	if err := os.WriteFile(inputPath, serialized, 0o644); err != nil {
		logrus.Warnf("subgraph %s: %v", name, err)
		return &Result{Reason: CompilerCrashed, Stderr: err.Error()}
	}

	ioConfig, err := buildIOConfig(subgraph)
	if err != nil {
		logrus.Warnf("subgraph %s: io-config: %v", name, err)
		return &Result{Reason: CompilerRejected, Stderr: err.Error()}
	}

	args := []string{
		"compile", inputPath,
		"--framework", opts.Framework,
		"--pipeline", "compile", "SaveTemps",
		"--output", outputPath,
		"--io-config", ioConfig,
	}
	if opts.Verbosity > 0 {
		args = append(args, "--verbose", fmt.Sprint(opts.Verbosity))
	}
	args = append(args, opts.ExtraFlags...)

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = workdir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		result := &Result{Stderr: stderr.String(), ExitCode: -1}
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			result.Reason = CompileTimedOut
		case cmd.ProcessState != nil && cmd.ProcessState.ExitCode() > 0:
			result.Reason = CompilerRejected
			result.ExitCode = cmd.ProcessState.ExitCode()
		default:
			result.Reason = CompilerCrashed
		}
		logrus.Warnf("subgraph %s: compiler failed: %s", name, result.ToString())
		return result
	}

	executable, err := os.ReadFile(outputPath)
	if err != nil || len(executable) == 0 {
		logrus.Warnf("subgraph %s: compiler exited 0 but produced no executable", name)
		return &Result{Reason: CompilerCrashed, Stderr: stderr.String()}
	}
	return &Result{Executable: executable}
}

// buildIOConfig renders the boundary contract the compiler expects:
// {"inputs": {name: [[dims], dtype]}, "outputs": [names]}.
func buildIOConfig(subgraph *graph.Graph) (string, error) {
	inputs := make(map[string]interface{}, len(subgraph.Inputs))
	for _, feed := range subgraph.Inputs {
		tensor, err := subgraph.ResolveTensor(feed)
		if err != nil {
			return "", err
		}
		dims := tensor.Shape
		if dims == nil {
			dims = graph.Shape{}
		}
		inputs[feed] = []interface{}{dims, tensor.DType.String()}
	}
	config := map[string]interface{}{
		"inputs":  inputs,
		"outputs": subgraph.Outputs,
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

func makeWorkdir(dumpRoot, name string) (string, func(), error) {
	if dumpRoot == "" {
		dir, err := os.MkdirTemp("", "accelink-*")
		if err != nil {
			return "", nil, err
		}
		return dir, func() { os.RemoveAll(dir) }, nil
	}
	// persistent dump dirs are named deterministically after the
	// subgraph for debuggability
	dir := filepath.Join(dumpRoot, unsafePathChars.ReplaceAllString(name, "_"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, err
	}
	return dir, func() {}, nil
}
