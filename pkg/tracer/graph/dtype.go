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

import "fmt"

// DataType is the element type of a tensor.
type DataType int32

const (
	DTUnknown DataType = iota
	DTBool
	DTInt32
	DTInt64
	DTFloat32
	DTFloat64
	DTString
)

var dataTypeNames = map[DataType]string{
	DTUnknown: "unknown",
	DTBool:    "bool",
	DTInt32:   "int32",
	DTInt64:   "int64",
	DTFloat32: "float32",
	DTFloat64: "float64",
	DTString:  "string",
}

func (dt DataType) String() string {
	if name, ok := dataTypeNames[dt]; ok {
		return name
	}
	return fmt.Sprintf("datatype(%d)", int32(dt))
}

// DataTypeFromName is the inverse of DataType.String.
func DataTypeFromName(name string) (DataType, error) {
	for dt, n := range dataTypeNames {
		if n == name {
			return dt, nil
		}
	}
	return DTUnknown, fmt.Errorf("unknown data type name %q", name)
}

// ByteSize returns the size of one element in bytes, or 0 for
// variable-width and unknown types.
func (dt DataType) ByteSize() int {
	switch dt {
	case DTBool:
		return 1
	case DTInt32, DTFloat32:
		return 4
	case DTInt64, DTFloat64:
		return 8
	default:
		return 0
	}
}
