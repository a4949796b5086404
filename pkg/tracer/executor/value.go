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

	"github.com/accelink/accelink/pkg/tracer/graph"
)

// Value is a dense host tensor. Floating payloads are kept as float64
// and integral payloads as int64 regardless of the declared element
// width; DType records the declared type for signatures and io-config.
type Value struct {
	DType graph.DataType
	Shape graph.Shape

	F []float64
	I []int64
	B []bool
	S []string
}

// NewFloat builds a float32-typed value.
func NewFloat(shape graph.Shape, data []float64) *Value {
	return &Value{DType: graph.DTFloat32, Shape: shape.Clone(), F: data}
}

// NewDouble builds a float64-typed value.
func NewDouble(shape graph.Shape, data []float64) *Value {
	return &Value{DType: graph.DTFloat64, Shape: shape.Clone(), F: data}
}

// NewInt builds an int64-typed value.
func NewInt(shape graph.Shape, data []int64) *Value {
	return &Value{DType: graph.DTInt64, Shape: shape.Clone(), I: data}
}

// NewBool builds a bool-typed value.
func NewBool(shape graph.Shape, data []bool) *Value {
	return &Value{DType: graph.DTBool, Shape: shape.Clone(), B: data}
}

// Scalar builds a rank-0 float value.
func Scalar(v float64) *Value {
	return &Value{DType: graph.DTFloat32, Shape: graph.Shape{}, F: []float64{v}}
}

func (v *Value) NumElements() int {
	n := 1
	for _, d := range v.Shape {
		n *= int(d)
	}
	return n
}

func (v *Value) validate() error {
	n := v.NumElements()
	var have int
	switch {
	case v.F != nil:
		have = len(v.F)
	case v.I != nil:
		have = len(v.I)
	case v.B != nil:
		have = len(v.B)
	case v.S != nil:
		have = len(v.S)
	default:
		have = 0
	}
	if have != n {
		return fmt.Errorf("value shape %s wants %d elements, payload has %d", v.Shape.ToString(), n, have)
	}
	return nil
}

func (v *Value) Clone() *Value {
	dst := &Value{DType: v.DType, Shape: v.Shape.Clone()}
	if v.F != nil {
		dst.F = append([]float64(nil), v.F...)
	}
	if v.I != nil {
		dst.I = append([]int64(nil), v.I...)
	}
	if v.B != nil {
		dst.B = append([]bool(nil), v.B...)
	}
	if v.S != nil {
		dst.S = append([]string(nil), v.S...)
	}
	return dst
}

// WithShape returns a copy of v reshaped to shape; element counts must
// agree.
func (v *Value) WithShape(shape graph.Shape) (*Value, error) {
	dst := v.Clone()
	dst.Shape = shape.Clone()
	if err := dst.validate(); err != nil {
		return nil, err
	}
	return dst, nil
}

// FromAttribute converts a constant payload attribute into a Value.
func FromAttribute(attr *graph.Attribute) (*Value, error) {
	v := &Value{DType: attr.DType, Shape: attr.Shape.Clone()}
	switch {
	case attr.DoubleS != nil:
		v.F = append([]float64(nil), attr.DoubleS...)
	case attr.Int64S != nil:
		v.I = append([]int64(nil), attr.Int64S...)
	case attr.BooleanS != nil:
		v.B = append([]bool(nil), attr.BooleanS...)
	case attr.StringS != nil:
		v.S = append([]string(nil), attr.StringS...)
	default:
		return nil, fmt.Errorf("constant attribute carries no payload")
	}
	if err := v.validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// ToAttribute converts a value into a constant payload attribute.
func (v *Value) ToAttribute() *graph.Attribute {
	attr := &graph.Attribute{DType: v.DType, Shape: v.Shape.Clone()}
	if v.F != nil {
		attr.DoubleS = append([]float64(nil), v.F...)
	}
	if v.I != nil {
		attr.Int64S = append([]int64(nil), v.I...)
	}
	if v.B != nil {
		attr.BooleanS = append([]bool(nil), v.B...)
	}
	if v.S != nil {
		attr.StringS = append([]string(nil), v.S...)
	}
	return attr
}
