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
	"strings"
)

// Attribute is a typed node or graph annotation. Exactly one of the
// payload slices is populated; Shape qualifies tensor-valued payloads
// (an empty Shape with a single element means scalar).
type Attribute struct {
	DType DataType
	Shape Shape

	StringS  []string
	Int64S   []int64
	DoubleS  []float64
	BooleanS []bool
	Raw      []byte
}

func (attr *Attribute) SetString(v string) {
	*attr = Attribute{DType: DTString, StringS: []string{v}}
}

func (attr *Attribute) SetStrings(v []string) {
	*attr = Attribute{DType: DTString, Shape: Shape{int64(len(v))}, StringS: v}
}

func (attr *Attribute) SetInt64(v int64) {
	*attr = Attribute{DType: DTInt64, Int64S: []int64{v}}
}

func (attr *Attribute) SetInt64s(v []int64) {
	*attr = Attribute{DType: DTInt64, Shape: Shape{int64(len(v))}, Int64S: v}
}

func (attr *Attribute) SetDouble(v float64) {
	*attr = Attribute{DType: DTFloat64, DoubleS: []float64{v}}
}

func (attr *Attribute) SetBool(v bool) {
	*attr = Attribute{DType: DTBool, BooleanS: []bool{v}}
}

func (attr *Attribute) SetBytes(v []byte) {
	*attr = Attribute{Raw: v}
}

func (attr *Attribute) GetString() (string, error) {
	if len(attr.StringS) != 1 {
		return "", fmt.Errorf("getString: attribute is not a string scalar")
	}
	return attr.StringS[0], nil
}

func (attr *Attribute) GetStrings() ([]string, error) {
	if attr.StringS == nil {
		return nil, fmt.Errorf("getStrings: attribute is not a string list")
	}
	return attr.StringS, nil
}

func (attr *Attribute) GetInt64() (int64, error) {
	if len(attr.Int64S) != 1 {
		return 0, fmt.Errorf("getInt64: attribute is not an int64 scalar")
	}
	return attr.Int64S[0], nil
}

func (attr *Attribute) GetInt64s() ([]int64, error) {
	if attr.Int64S == nil {
		return nil, fmt.Errorf("getInt64s: attribute is not an int64 list")
	}
	return attr.Int64S, nil
}

func (attr *Attribute) GetDouble() (float64, error) {
	if len(attr.DoubleS) != 1 {
		return 0, fmt.Errorf("getDouble: attribute is not a double scalar")
	}
	return attr.DoubleS[0], nil
}

func (attr *Attribute) GetBool() (bool, error) {
	if len(attr.BooleanS) != 1 {
		return false, fmt.Errorf("getBool: attribute is not a bool scalar")
	}
	return attr.BooleanS[0], nil
}

func (attr *Attribute) GetBytes() ([]byte, error) {
	if attr.Raw == nil {
		return nil, fmt.Errorf("getBytes: attribute carries no raw payload")
	}
	return attr.Raw, nil
}

// Clone deep-copies the attribute.
func (attr *Attribute) Clone() *Attribute {
	dst := &Attribute{DType: attr.DType, Shape: attr.Shape.Clone()}
	if attr.StringS != nil {
		dst.StringS = append([]string(nil), attr.StringS...)
	}
	if attr.Int64S != nil {
		dst.Int64S = append([]int64(nil), attr.Int64S...)
	}
	if attr.DoubleS != nil {
		dst.DoubleS = append([]float64(nil), attr.DoubleS...)
	}
	if attr.BooleanS != nil {
		dst.BooleanS = append([]bool(nil), attr.BooleanS...)
	}
	if attr.Raw != nil {
		dst.Raw = append([]byte(nil), attr.Raw...)
	}
	return dst
}

// PayloadBytes estimates the serialized size of the attribute payload,
// using the logical element width of the declared data type for numeric
// tensors.
func (attr *Attribute) PayloadBytes() int {
	if attr.Raw != nil {
		return len(attr.Raw)
	}
	if attr.StringS != nil {
		n := 0
		for _, s := range attr.StringS {
			n += len(s)
		}
		return n
	}
	elems := len(attr.Int64S) + len(attr.DoubleS) + len(attr.BooleanS)
	if width := attr.DType.ByteSize(); width > 0 {
		return elems * width
	}
	return elems * 8
}

// ToString dumps a debug string of the attribute.
func (attr *Attribute) ToString() string {
	var builder strings.Builder
	switch {
	case attr.StringS != nil:
		fmt.Fprintf(&builder, "%v", attr.StringS)
	case attr.Int64S != nil:
		fmt.Fprintf(&builder, "%v", attr.Int64S)
	case attr.DoubleS != nil:
		fmt.Fprintf(&builder, "%v", attr.DoubleS)
	case attr.BooleanS != nil:
		fmt.Fprintf(&builder, "%v", attr.BooleanS)
	case attr.Raw != nil:
		fmt.Fprintf(&builder, "<%d bytes>", len(attr.Raw))
	default:
		fmt.Fprint(&builder, "<empty>")
	}
	return builder.String()
}
