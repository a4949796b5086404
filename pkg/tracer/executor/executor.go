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

package executor

import (
	"fmt"
	"math"

	"github.com/accelink/accelink/pkg/tracer/graph"
)

// Executor evaluates a graph on the host. An AccelOp node runs its
// embedded fallback subgraph; dispatching the compiled executable to
// hardware is the runtime's job, not ours.
type Executor struct {
	graph *graph.Graph
}

func New(g *graph.Graph) *Executor {
	return &Executor{graph: g}
}

// Run evaluates the fetches given feed values keyed by tensor name.
func (e *Executor) Run(feeds map[string]*Value, fetches []string) ([]*Value, error) {
	nodes, err := e.graph.TopologicalSort()
	if err != nil {
		return nil, err
	}
	values := make(map[string]*Value)
	for _, node := range nodes {
		inputs := make([]*Value, len(node.Inputs))
		for i, name := range node.Inputs {
			v, ok := values[name]
			if !ok {
				return nil, fmt.Errorf("run %q: input %q not computed", node.Name, name)
			}
			inputs[i] = v
		}
		outputs, err := e.eval(node, inputs, feeds)
		if err != nil {
			return nil, fmt.Errorf("run %q (%s): %v", node.Name, node.Op, err)
		}
		for i, out := range outputs {
			values[node.OutputName(i)] = out
		}
		if node.Op == graph.OpAccel {
			// alias the swallowed boundary names so downstream wiring
			// keeps resolving
			if attr, ok := node.Attr(graph.AttrOutputNames); ok {
				if names, err := attr.GetStrings(); err == nil {
					for i, name := range names {
						if i < len(outputs) {
							values[name] = outputs[i]
						}
					}
				}
			}
		}
	}

	results := make([]*Value, len(fetches))
	for i, fetch := range fetches {
		v, ok := values[fetch]
		if !ok {
			return nil, fmt.Errorf("fetch %q was not computed", fetch)
		}
		results[i] = v
	}
	return results, nil
}

func (e *Executor) eval(node *graph.Node, inputs []*Value, feeds map[string]*Value) ([]*Value, error) {
	switch node.Op {
	case graph.OpPlaceholder:
		feed, ok := feeds[node.OutputName(0)]
		if !ok {
			return nil, fmt.Errorf("missing feed")
		}
		if declared := node.OutputShape(0); declared != nil {
			if err := checkFeedShape(declared, feed.Shape); err != nil {
				return nil, err
			}
		}
		return []*Value{feed}, nil
	case graph.OpAccel:
		return e.evalAccel(node, inputs)
	default:
		return Apply(node, inputs)
	}
}

// Apply evaluates one stateless node given its input values. It covers
// every operator except Placeholder and AccelOp, which need executor
// state; rewrite passes use it to fold constant expressions.
func Apply(node *graph.Node, inputs []*Value) ([]*Value, error) {
	switch node.Op {
	case graph.OpConst:
		attr, ok := node.Attr(graph.AttrValue)
		if !ok {
			if _, erased := node.Attr(graph.AttrValueErased); erased {
				return nil, fmt.Errorf("constant payload was erased after compilation, the fallback subgraph cannot run on the host")
			}
			return nil, fmt.Errorf("constant node has no value attribute")
		}
		v, err := FromAttribute(attr)
		if err != nil {
			return nil, err
		}
		return []*Value{v}, nil
	case graph.OpIdentity:
		return []*Value{inputs[0]}, nil
	case graph.OpIdentityN:
		return inputs, nil
	case graph.OpAdd:
		return broadcastBinary(inputs, func(a, b float64) float64 { return a + b })
	case graph.OpSub:
		return broadcastBinary(inputs, func(a, b float64) float64 { return a - b })
	case graph.OpMul:
		return broadcastBinary(inputs, func(a, b float64) float64 { return a * b })
	case graph.OpNeg:
		return unary(inputs, func(a float64) float64 { return -a })
	case graph.OpRelu:
		return unary(inputs, func(a float64) float64 { return math.Max(a, 0) })
	case graph.OpSoftmax:
		return softmax(inputs)
	case graph.OpMatMul:
		return matMul(inputs)
	case graph.OpReshape:
		return reshape(inputs)
	case graph.OpShape:
		return shapeOf(inputs)
	case graph.OpPad:
		return pad(inputs)
	case graph.OpConcat:
		return concat(inputs)
	case graph.OpConv2D:
		return conv2d(inputs)
	default:
		return nil, fmt.Errorf("operator %q is not supported by the host executor", node.Op)
	}
}

func (e *Executor) evalAccel(node *graph.Node, inputs []*Value) ([]*Value, error) {
	subAttr, ok := node.Attr(graph.AttrSubgraph)
	if !ok {
		return nil, fmt.Errorf("call-compiled node has no fallback subgraph")
	}
	raw, err := subAttr.GetBytes()
	if err != nil {
		return nil, err
	}
	sub, err := graph.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("fallback subgraph: %v", err)
	}
	if len(sub.Inputs) != len(inputs) {
		return nil, fmt.Errorf("fallback subgraph wants %d feeds, node has %d inputs", len(sub.Inputs), len(inputs))
	}
	subFeeds := make(map[string]*Value, len(inputs))
	for i, name := range sub.Inputs {
		subFeeds[name] = inputs[i]
	}
	return New(sub).Run(subFeeds, sub.Outputs)
}

func checkFeedShape(declared, actual graph.Shape) error {
	if len(declared) != len(actual) {
		return fmt.Errorf("feed rank %d does not match declared %s", len(actual), declared.ToString())
	}
	for i, d := range declared {
		if d >= 0 && d != actual[i] {
			return fmt.Errorf("feed shape %s does not match declared %s", actual.ToString(), declared.ToString())
		}
	}
	return nil
}

func unary(inputs []*Value, fn func(float64) float64) ([]*Value, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("unary operator wants 1 input, got %d", len(inputs))
	}
	in := inputs[0]
	if in.F == nil {
		return nil, fmt.Errorf("unary operator wants a floating input")
	}
	out := in.Clone()
	for i, v := range in.F {
		out.F[i] = fn(v)
	}
	return []*Value{out}, nil
}

// broadcastBinary applies fn elementwise with trailing-aligned
// broadcasting over dimensions of extent 1.
func broadcastBinary(inputs []*Value, fn func(a, b float64) float64) ([]*Value, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("binary operator wants 2 inputs, got %d", len(inputs))
	}
	a, b := inputs[0], inputs[1]
	if a.F == nil || b.F == nil {
		return nil, fmt.Errorf("binary operator wants floating inputs")
	}
	outShape, err := broadcastShapes(a.Shape, b.Shape)
	if err != nil {
		return nil, err
	}
	out := &Value{DType: a.DType, Shape: outShape, F: make([]float64, outShape.NumElements())}
	idx := make([]int64, len(outShape))
	for flat := range out.F {
		out.F[flat] = fn(a.F[broadcastOffset(a.Shape, idx)], b.F[broadcastOffset(b.Shape, idx)])
		advance(idx, outShape)
	}
	return []*Value{out}, nil
}

func broadcastShapes(a, b graph.Shape) (graph.Shape, error) {
	rank := len(a)
	if len(b) > rank {
		rank = len(b)
	}
	out := make(graph.Shape, rank)
	for i := 0; i < rank; i++ {
		da, db := int64(1), int64(1)
		if i >= rank-len(a) {
			da = a[i-(rank-len(a))]
		}
		if i >= rank-len(b) {
			db = b[i-(rank-len(b))]
		}
		switch {
		case da == db:
			out[i] = da
		case da == 1:
			out[i] = db
		case db == 1:
			out[i] = da
		default:
			return nil, fmt.Errorf("shapes %s and %s are not broadcastable", a.ToString(), b.ToString())
		}
	}
	return out, nil
}

// broadcastOffset maps a multi-index in the broadcast output to a flat
// offset in a (possibly lower-rank, extent-1) operand.
func broadcastOffset(shape graph.Shape, idx []int64) int {
	offset := int64(0)
	stride := int64(1)
	for i := len(shape) - 1; i >= 0; i-- {
		pos := idx[len(idx)-(len(shape)-i)]
		if shape[i] == 1 {
			pos = 0
		}
		offset += pos * stride
		stride *= shape[i]
	}
	return int(offset)
}

func advance(idx []int64, shape graph.Shape) {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < shape[i] {
			return
		}
		idx[i] = 0
	}
}

func matMul(inputs []*Value) ([]*Value, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("MatMul wants 2 inputs, got %d", len(inputs))
	}
	a, b := inputs[0], inputs[1]
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("MatMul wants rank-2 inputs, got %s x %s", a.Shape.ToString(), b.Shape.ToString())
	}
	m, k := a.Shape[0], a.Shape[1]
	k2, n := b.Shape[0], b.Shape[1]
	if k != k2 {
		return nil, fmt.Errorf("MatMul inner dimensions disagree: %s x %s", a.Shape.ToString(), b.Shape.ToString())
	}
	out := &Value{DType: a.DType, Shape: graph.Shape{m, n}, F: make([]float64, m*n)}
	for i := int64(0); i < m; i++ {
		for j := int64(0); j < n; j++ {
			sum := 0.0
			for p := int64(0); p < k; p++ {
				sum += a.F[i*k+p] * b.F[p*n+j]
			}
			out.F[i*n+j] = sum
		}
	}
	return []*Value{out}, nil
}

func reshape(inputs []*Value) ([]*Value, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("Reshape wants 2 inputs, got %d", len(inputs))
	}
	in, dims := inputs[0], inputs[1]
	if dims.I == nil {
		return nil, fmt.Errorf("Reshape wants an integral shape operand")
	}
	total := int64(in.NumElements())
	shape := make(graph.Shape, len(dims.I))
	wildcard := -1
	known := int64(1)
	for i, d := range dims.I {
		shape[i] = d
		if d == -1 {
			if wildcard >= 0 {
				return nil, fmt.Errorf("Reshape allows at most one -1 dimension")
			}
			wildcard = i
		} else {
			known *= d
		}
	}
	if wildcard >= 0 {
		if known == 0 || total%known != 0 {
			return nil, fmt.Errorf("cannot infer -1 dimension reshaping %d elements to %s", total, shape.ToString())
		}
		shape[wildcard] = total / known
	}
	out, err := in.WithShape(shape)
	if err != nil {
		return nil, err
	}
	return []*Value{out}, nil
}

func shapeOf(inputs []*Value) ([]*Value, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("Shape wants 1 input, got %d", len(inputs))
	}
	in := inputs[0]
	dims := make([]int64, len(in.Shape))
	copy(dims, in.Shape)
	return []*Value{NewInt(graph.Shape{int64(len(dims))}, dims)}, nil
}

func pad(inputs []*Value) ([]*Value, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("Pad wants 2 inputs, got %d", len(inputs))
	}
	in, paddings := inputs[0], inputs[1]
	if in.F == nil {
		return nil, fmt.Errorf("Pad wants a floating input")
	}
	rank := len(in.Shape)
	if paddings.I == nil || len(paddings.I) != rank*2 {
		return nil, fmt.Errorf("Pad wants a [%d,2] paddings operand", rank)
	}
	outShape := make(graph.Shape, rank)
	for i := 0; i < rank; i++ {
		outShape[i] = paddings.I[2*i] + in.Shape[i] + paddings.I[2*i+1]
	}
	out := &Value{DType: in.DType, Shape: outShape, F: make([]float64, outShape.NumElements())}
	idx := make([]int64, rank)
	for range out.F {
		inside := true
		srcIdx := make([]int64, rank)
		for i := 0; i < rank; i++ {
			src := idx[i] - paddings.I[2*i]
			if src < 0 || src >= in.Shape[i] {
				inside = false
				break
			}
			srcIdx[i] = src
		}
		if inside {
			out.F[flatOffset(outShape, idx)] = in.F[flatOffset(in.Shape, srcIdx)]
		}
		advance(idx, outShape)
	}
	return []*Value{out}, nil
}

// conv2d computes an NHWC convolution with VALID padding and unit
// strides, the only variant the bridge emits.
func conv2d(inputs []*Value) ([]*Value, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("Conv2D wants 2 inputs, got %d", len(inputs))
	}
	in, filter := inputs[0], inputs[1]
	if in.F == nil || filter.F == nil {
		return nil, fmt.Errorf("Conv2D wants floating inputs")
	}
	if len(in.Shape) != 4 || len(filter.Shape) != 4 {
		return nil, fmt.Errorf("Conv2D wants rank-4 inputs, got %s x %s", in.Shape.ToString(), filter.Shape.ToString())
	}
	batch, inH, inW, inC := in.Shape[0], in.Shape[1], in.Shape[2], in.Shape[3]
	fH, fW, fC, outC := filter.Shape[0], filter.Shape[1], filter.Shape[2], filter.Shape[3]
	if inC != fC {
		return nil, fmt.Errorf("Conv2D channel mismatch: input %s, filter %s", in.Shape.ToString(), filter.Shape.ToString())
	}
	outH, outW := inH-fH+1, inW-fW+1
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("Conv2D filter %s does not fit input %s", filter.Shape.ToString(), in.Shape.ToString())
	}
	outShape := graph.Shape{batch, outH, outW, outC}
	out := &Value{DType: in.DType, Shape: outShape, F: make([]float64, outShape.NumElements())}
	at := func(n, h, w, c int64) float64 {
		return in.F[((n*inH+h)*inW+w)*inC+c]
	}
	weight := func(h, w, c, o int64) float64 {
		return filter.F[((h*fW+w)*fC+c)*outC+o]
	}
	pos := 0
	for n := int64(0); n < batch; n++ {
		for h := int64(0); h < outH; h++ {
			for w := int64(0); w < outW; w++ {
				for o := int64(0); o < outC; o++ {
					sum := 0.0
					for kh := int64(0); kh < fH; kh++ {
						for kw := int64(0); kw < fW; kw++ {
							for c := int64(0); c < inC; c++ {
								sum += at(n, h+kh, w+kw, c) * weight(kh, kw, c, o)
							}
						}
					}
					out.F[pos] = sum
					pos++
				}
			}
		}
	}
	return []*Value{out}, nil
}

func concat(inputs []*Value) ([]*Value, error) {
	if len(inputs) < 2 {
		return nil, fmt.Errorf("ConcatV2 wants at least one value and an axis, got %d inputs", len(inputs))
	}
	values := inputs[:len(inputs)-1]
	axisV := inputs[len(inputs)-1]
	if axisV.I == nil || len(axisV.I) != 1 {
		return nil, fmt.Errorf("ConcatV2 wants a scalar integral axis operand")
	}
	first := values[0]
	if first.F == nil {
		return nil, fmt.Errorf("ConcatV2 wants floating value inputs")
	}
	rank := len(first.Shape)
	axis := int(axisV.I[0])
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return nil, fmt.Errorf("ConcatV2 axis %d out of range for rank %d", axisV.I[0], rank)
	}
	outShape := first.Shape.Clone()
	for _, v := range values[1:] {
		if v.F == nil || len(v.Shape) != rank {
			return nil, fmt.Errorf("ConcatV2 inputs disagree on rank")
		}
		for i := range v.Shape {
			if i == axis {
				continue
			}
			if v.Shape[i] != first.Shape[i] {
				return nil, fmt.Errorf("ConcatV2 inputs disagree on dimension %d: %s vs %s",
					i, first.Shape.ToString(), v.Shape.ToString())
			}
		}
		outShape[axis] += v.Shape[axis]
	}

	// blocks of contiguous elements per outer index, per input
	inner := int64(1)
	for i := axis + 1; i < rank; i++ {
		inner *= first.Shape[i]
	}
	outer := int64(1)
	for i := 0; i < axis; i++ {
		outer *= first.Shape[i]
	}
	out := &Value{DType: first.DType, Shape: outShape, F: make([]float64, 0, outShape.NumElements())}
	for o := int64(0); o < outer; o++ {
		for _, v := range values {
			block := v.Shape[axis] * inner
			out.F = append(out.F, v.F[o*block:(o+1)*block]...)
		}
	}
	return []*Value{out}, nil
}

func flatOffset(shape graph.Shape, idx []int64) int {
	offset := int64(0)
	stride := int64(1)
	for i := len(shape) - 1; i >= 0; i-- {
		offset += idx[i] * stride
		stride *= shape[i]
	}
	return int(offset)
}

func softmax(inputs []*Value) ([]*Value, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("Softmax wants 1 input, got %d", len(inputs))
	}
	in := inputs[0]
	if in.F == nil || len(in.Shape) == 0 {
		return nil, fmt.Errorf("Softmax wants a floating input of rank >= 1")
	}
	inner := int(in.Shape[len(in.Shape)-1])
	out := in.Clone()
	for base := 0; base < len(in.F); base += inner {
		maxV := math.Inf(-1)
		for i := 0; i < inner; i++ {
			maxV = math.Max(maxV, in.F[base+i])
		}
		sum := 0.0
		for i := 0; i < inner; i++ {
			out.F[base+i] = math.Exp(in.F[base+i] - maxV)
			sum += out.F[base+i]
		}
		for i := 0; i < inner; i++ {
			out.F[base+i] /= sum
		}
	}
	return []*Value{out}, nil
}
