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
	"sort"
	"strings"
)

// Node is one operation in a Graph. Inputs reference tensors produced
// by other nodes by canonical name; outputs are described positionally
// by OutputDTypes and, once inferred, OutputShapes.
type Node struct {
	Name string
	Op   string

	Inputs       []string
	OutputDTypes []DataType
	OutputShapes []Shape

	Attributes map[string]*Attribute
}

func (node *Node) NumOutputs() int { return len(node.OutputDTypes) }

// OutputName returns the canonical name of output idx.
func (node *Node) OutputName(idx int) string {
	return TensorName(node.Name, idx)
}

// OutputShape returns the inferred shape of output idx, or nil if the
// shape is unknown.
func (node *Node) OutputShape(idx int) Shape {
	if idx < len(node.OutputShapes) {
		return node.OutputShapes[idx]
	}
	return nil
}

func (node *Node) Attr(key string) (*Attribute, bool) {
	attr, ok := node.Attributes[key]
	return attr, ok
}

func (node *Node) SetAttr(key string, attr *Attribute) {
	if node.Attributes == nil {
		node.Attributes = make(map[string]*Attribute)
	}
	node.Attributes[key] = attr
}

// Clone deep-copies the node.
func (node *Node) Clone() *Node {
	dst := &Node{
		Name:         node.Name,
		Op:           node.Op,
		Inputs:       append([]string(nil), node.Inputs...),
		OutputDTypes: append([]DataType(nil), node.OutputDTypes...),
	}
	if node.OutputShapes != nil {
		dst.OutputShapes = make([]Shape, len(node.OutputShapes))
		for i, s := range node.OutputShapes {
			dst.OutputShapes[i] = s.Clone()
		}
	}
	if node.Attributes != nil {
		dst.Attributes = make(map[string]*Attribute, len(node.Attributes))
		for k, v := range node.Attributes {
			dst.Attributes[k] = v.Clone()
		}
	}
	return dst
}

// ToString dumps a debug string of the node.
func (node *Node) ToString() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "%s:{op:%s,", node.Name, node.Op)

	fmt.Fprint(&builder, "in:[")
	for _, input := range node.Inputs {
		fmt.Fprintf(&builder, "%s,", input)
	}
	fmt.Fprint(&builder, "],")

	fmt.Fprint(&builder, "out:[")
	for i, dt := range node.OutputDTypes {
		fmt.Fprintf(&builder, "%s:%s,", dt, node.OutputShape(i).ToString())
	}
	fmt.Fprint(&builder, "],")

	fmt.Fprint(&builder, "attr:[")
	var keys []string
	for k := range node.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&builder, "%s:%s,", k, node.Attributes[k].ToString())
	}
	fmt.Fprint(&builder, "]}")
	return builder.String()
}
