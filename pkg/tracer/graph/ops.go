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

// Operator type names known to the host runtime.
const (
	OpPlaceholder = "Placeholder"
	OpConst       = "Const"
	OpIdentity    = "Identity"
	OpIdentityN   = "IdentityN"
	OpAdd         = "Add"
	OpSub         = "Sub"
	OpMul         = "Mul"
	OpNeg         = "Neg"
	OpRelu        = "Relu"
	OpSoftmax     = "Softmax"
	OpMatMul      = "MatMul"
	OpReshape     = "Reshape"
	OpShape       = "Shape"
	OpPad         = "Pad"
	OpConv2D      = "Conv2D"
	// OpConcat joins its value inputs along the axis given by a trailing
	// scalar constant operand.
	OpConcat = "ConcatV2"

	// OpAccel is the opaque call-compiled node that replaces a fused
	// subgraph. It carries the compiled executable and the original
	// subgraph as a fallback.
	OpAccel = "AccelOp"
)

// Well-known attribute keys.
const (
	// AttrValue holds the payload of a Const node.
	AttrValue = "value"
	// AttrValueErased marks a Const whose payload was dropped after
	// being consumed into a compiled executable.
	AttrValueErased = "value_erased"

	// Attributes of an AccelOp node.
	AttrExecutable  = "executable"
	AttrSubgraph    = "subgraph"
	AttrInputNames  = "input_names"
	AttrOutputNames = "output_names"

	// AttrExecutionPlan is a graph-level attribute listing the final
	// device grouping, one "device:node,node,..." entry per group.
	AttrExecutionPlan = "execution_plan"
)
