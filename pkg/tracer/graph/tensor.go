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

import (
	"fmt"
	"strconv"
	"strings"
)

// DynamicDim marks a dimension whose extent is unknown or symbolic.
const DynamicDim int64 = -1

// Shape is a tensor shape. A nil Shape means the rank itself is unknown.
type Shape []int64

func (s Shape) Rank() int { return len(s) }

// IsFullyDefined reports whether every dimension is a known extent.
func (s Shape) IsFullyDefined() bool {
	if s == nil {
		return false
	}
	for _, d := range s {
		if d < 0 {
			return false
		}
	}
	return true
}

// NumElements returns the element count, or -1 if the shape is not
// fully defined.
func (s Shape) NumElements() int64 {
	if !s.IsFullyDefined() {
		return -1
	}
	n := int64(1)
	for _, d := range s {
		n *= d
	}
	return n
}

func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	dst := make(Shape, len(s))
	copy(dst, s)
	return dst
}

func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) || (s == nil) != (other == nil) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// ToString dumps a debug string of the shape, e.g. "[4,?,3]".
func (s Shape) ToString() string {
	if s == nil {
		return "<unknown>"
	}
	parts := make([]string, len(s))
	for i, d := range s {
		if d < 0 {
			parts[i] = "?"
		} else {
			parts[i] = strconv.FormatInt(d, 10)
		}
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Tensor is one output of a node. Tensors are value objects resolved by
// name; identity within a Graph is the name itself.
type Tensor struct {
	// Node is the name of the producing node.
	Node  string
	Index int
	DType DataType
	Shape Shape
}

// Name returns the canonical tensor name, "<node>:<index>".
func (t *Tensor) Name() string {
	return TensorName(t.Node, t.Index)
}

func (t *Tensor) ToString() string {
	return fmt.Sprintf("%s{%s%s}", t.Name(), t.DType, t.Shape.ToString())
}

// TensorName builds the canonical name of output idx of node name.
func TensorName(node string, idx int) string {
	return fmt.Sprintf("%s:%d", node, idx)
}

// ParseTensorName splits a canonical tensor name into node name and
// output index. A bare node name means output 0.
func ParseTensorName(name string) (string, int, error) {
	pos := strings.LastIndex(name, ":")
	if pos < 0 {
		return name, 0, nil
	}
	idx, err := strconv.Atoi(name[pos+1:])
	if err != nil || idx < 0 {
		return "", 0, fmt.Errorf("malformed tensor name %q", name)
	}
	return name[:pos], idx, nil
}
