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

import "fmt"

// FailureReason classifies why a subgraph compilation produced no
// executable. All reasons trigger the same recovery (restore the
// uncompiled subgraph); the distinction exists for diagnostics.
type FailureReason int

const (
	FailureNone FailureReason = iota
	// CompilerAbsent: the compiler binary was not found on the search
	// path.
	CompilerAbsent
	// CompilerCrashed: the compiler died on a signal or produced no
	// output file despite exiting zero.
	CompilerCrashed
	// CompilerRejected: the compiler exited non-zero for this subgraph.
	CompilerRejected
	// CompileTimedOut: the per-subgraph wall-clock budget elapsed.
	CompileTimedOut
)

func (r FailureReason) String() string {
	switch r {
	case FailureNone:
		return "none"
	case CompilerAbsent:
		return "compiler-absent"
	case CompilerCrashed:
		return "compiler-crashed"
	case CompilerRejected:
		return "compiler-rejected"
	case CompileTimedOut:
		return "compile-timed-out"
	default:
		return fmt.Sprintf("failure(%d)", int(r))
	}
}

// Result is the outcome of one subgraph compilation: either the opaque
// executable bytes, or a structured failure.
type Result struct {
	Executable []byte
	Reason     FailureReason
	ExitCode   int
	Stderr     string
}

// OK reports whether the compilation produced a usable executable.
func (r *Result) OK() bool {
	return r.Reason == FailureNone && len(r.Executable) > 0
}

func (r *Result) ToString() string {
	if r.OK() {
		return fmt.Sprintf("ok (%d bytes)", len(r.Executable))
	}
	return fmt.Sprintf("%s (exit %d)", r.Reason, r.ExitCode)
}
