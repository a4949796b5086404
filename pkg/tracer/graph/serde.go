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
	"encoding/base64"
	"fmt"
	"strconv"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// serdeVersion guards the on-disk layout of the interchange format.
const serdeVersion = 1

// Marshal serializes the graph to the binary interchange format handed
// to the external compiler. The encoding is a protobuf Struct, so any
// protobuf toolchain can inspect the file.
func Marshal(g *Graph) ([]byte, error) {
	nodes := make([]interface{}, 0, len(g.Nodes))
	for _, node := range g.Nodes {
		nodes = append(nodes, encodeNode(node))
	}
	root := map[string]interface{}{
		"version": serdeVersion,
		"inputs":  toAnySlice(g.Inputs),
		"outputs": toAnySlice(g.Outputs),
		"nodes":   nodes,
	}
	if len(g.Attributes) > 0 {
		root["attrs"] = encodeAttrMap(g.Attributes)
	}
	st, err := structpb.NewStruct(root)
	if err != nil {
		return nil, fmt.Errorf("marshal graph: %v", err)
	}
	return proto.Marshal(st)
}

// Unmarshal is the inverse of Marshal.
func Unmarshal(data []byte) (*Graph, error) {
	st := &structpb.Struct{}
	if err := proto.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %v", err)
	}
	root := st.AsMap()
	version, _ := root["version"].(float64)
	if int(version) != serdeVersion {
		return nil, fmt.Errorf("unmarshal graph: unsupported version %v", root["version"])
	}

	g := NewGraph()
	var err error
	if g.Inputs, err = toStringSlice(root["inputs"]); err != nil {
		return nil, fmt.Errorf("unmarshal graph: inputs: %v", err)
	}
	if g.Outputs, err = toStringSlice(root["outputs"]); err != nil {
		return nil, fmt.Errorf("unmarshal graph: outputs: %v", err)
	}
	if rawAttrs, ok := root["attrs"].(map[string]interface{}); ok {
		if g.Attributes, err = decodeAttrMap(rawAttrs); err != nil {
			return nil, fmt.Errorf("unmarshal graph: attrs: %v", err)
		}
	}
	rawNodes, ok := root["nodes"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("unmarshal graph: missing node list")
	}
	for _, rawNode := range rawNodes {
		node, err := decodeNode(rawNode)
		if err != nil {
			return nil, fmt.Errorf("unmarshal graph: %v", err)
		}
		if err := g.AddNode(node); err != nil {
			return nil, fmt.Errorf("unmarshal graph: %v", err)
		}
	}
	return g, nil
}

func encodeNode(node *Node) map[string]interface{} {
	dtypes := make([]interface{}, len(node.OutputDTypes))
	for i, dt := range node.OutputDTypes {
		dtypes[i] = dt.String()
	}
	shapes := make([]interface{}, len(node.OutputDTypes))
	for i := range node.OutputDTypes {
		shapes[i] = encodeShape(node.OutputShape(i))
	}
	out := map[string]interface{}{
		"name":   node.Name,
		"op":     node.Op,
		"inputs": toAnySlice(node.Inputs),
		"dtypes": dtypes,
		"shapes": shapes,
	}
	if len(node.Attributes) > 0 {
		out["attrs"] = encodeAttrMap(node.Attributes)
	}
	return out
}

func decodeNode(raw interface{}) (*Node, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("malformed node entry")
	}
	name, _ := m["name"].(string)
	op, _ := m["op"].(string)
	if name == "" || op == "" {
		return nil, fmt.Errorf("node entry missing name or op")
	}
	node := &Node{Name: name, Op: op}
	var err error
	if node.Inputs, err = toStringSlice(m["inputs"]); err != nil {
		return nil, fmt.Errorf("node %q: inputs: %v", name, err)
	}
	dtypes, err := toStringSlice(m["dtypes"])
	if err != nil {
		return nil, fmt.Errorf("node %q: dtypes: %v", name, err)
	}
	for _, dtName := range dtypes {
		dt, err := DataTypeFromName(dtName)
		if err != nil {
			return nil, fmt.Errorf("node %q: %v", name, err)
		}
		node.OutputDTypes = append(node.OutputDTypes, dt)
	}
	if rawShapes, ok := m["shapes"].([]interface{}); ok {
		for _, rawShape := range rawShapes {
			shape, err := decodeShape(rawShape)
			if err != nil {
				return nil, fmt.Errorf("node %q: %v", name, err)
			}
			node.OutputShapes = append(node.OutputShapes, shape)
		}
	}
	if rawAttrs, ok := m["attrs"].(map[string]interface{}); ok {
		if node.Attributes, err = decodeAttrMap(rawAttrs); err != nil {
			return nil, fmt.Errorf("node %q: %v", name, err)
		}
	}
	return node, nil
}

func encodeShape(shape Shape) interface{} {
	if shape == nil {
		return nil
	}
	dims := make([]interface{}, len(shape))
	for i, d := range shape {
		dims[i] = d
	}
	return dims
}

func decodeShape(raw interface{}) (Shape, error) {
	if raw == nil {
		return nil, nil
	}
	dims, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("malformed shape entry")
	}
	shape := make(Shape, 0, len(dims))
	for _, d := range dims {
		f, ok := d.(float64)
		if !ok {
			return nil, fmt.Errorf("malformed shape dimension %v", d)
		}
		shape = append(shape, int64(f))
	}
	return shape, nil
}

func encodeAttrMap(attrs map[string]*Attribute) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs))
	for k, attr := range attrs {
		out[k] = encodeAttr(attr)
	}
	return out
}

func decodeAttrMap(raw map[string]interface{}) (map[string]*Attribute, error) {
	out := make(map[string]*Attribute, len(raw))
	for k, v := range raw {
		attr, err := decodeAttr(v)
		if err != nil {
			return nil, fmt.Errorf("attr %q: %v", k, err)
		}
		out[k] = attr
	}
	return out, nil
}

func encodeAttr(attr *Attribute) map[string]interface{} {
	out := map[string]interface{}{
		"dtype": attr.DType.String(),
		"shape": encodeShape(attr.Shape),
	}
	switch {
	case attr.StringS != nil:
		out["strings"] = toAnySlice(attr.StringS)
	case attr.Int64S != nil:
		// int64 payloads travel as decimal strings to stay lossless
		// beyond the float64 mantissa
		ints := make([]interface{}, len(attr.Int64S))
		for i, v := range attr.Int64S {
			ints[i] = strconv.FormatInt(v, 10)
		}
		out["ints"] = ints
	case attr.DoubleS != nil:
		doubles := make([]interface{}, len(attr.DoubleS))
		for i, v := range attr.DoubleS {
			doubles[i] = v
		}
		out["doubles"] = doubles
	case attr.BooleanS != nil:
		bools := make([]interface{}, len(attr.BooleanS))
		for i, v := range attr.BooleanS {
			bools[i] = v
		}
		out["bools"] = bools
	case attr.Raw != nil:
		out["raw"] = base64.StdEncoding.EncodeToString(attr.Raw)
	}
	return out
}

func decodeAttr(raw interface{}) (*Attribute, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("malformed attribute entry")
	}
	attr := &Attribute{}
	if dtName, ok := m["dtype"].(string); ok {
		dt, err := DataTypeFromName(dtName)
		if err != nil {
			return nil, err
		}
		attr.DType = dt
	}
	shape, err := decodeShape(m["shape"])
	if err != nil {
		return nil, err
	}
	attr.Shape = shape

	switch {
	case m["strings"] != nil:
		if attr.StringS, err = toStringSlice(m["strings"]); err != nil {
			return nil, err
		}
	case m["ints"] != nil:
		reps, err := toStringSlice(m["ints"])
		if err != nil {
			return nil, err
		}
		attr.Int64S = make([]int64, len(reps))
		for i, rep := range reps {
			if attr.Int64S[i], err = strconv.ParseInt(rep, 10, 64); err != nil {
				return nil, fmt.Errorf("malformed int payload %q", rep)
			}
		}
	case m["doubles"] != nil:
		items, ok := m["doubles"].([]interface{})
		if !ok {
			return nil, fmt.Errorf("malformed double payload")
		}
		attr.DoubleS = make([]float64, len(items))
		for i, item := range items {
			f, ok := item.(float64)
			if !ok {
				return nil, fmt.Errorf("malformed double payload %v", item)
			}
			attr.DoubleS[i] = f
		}
	case m["bools"] != nil:
		items, ok := m["bools"].([]interface{})
		if !ok {
			return nil, fmt.Errorf("malformed bool payload")
		}
		attr.BooleanS = make([]bool, len(items))
		for i, item := range items {
			b, ok := item.(bool)
			if !ok {
				return nil, fmt.Errorf("malformed bool payload %v", item)
			}
			attr.BooleanS[i] = b
		}
	case m["raw"] != nil:
		rep, ok := m["raw"].(string)
		if !ok {
			return nil, fmt.Errorf("malformed raw payload")
		}
		if attr.Raw, err = base64.StdEncoding.DecodeString(rep); err != nil {
			return nil, fmt.Errorf("malformed raw payload: %v", err)
		}
	}
	return attr, nil
}

func toAnySlice(items []string) []interface{} {
	out := make([]interface{}, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

func toStringSlice(raw interface{}) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected string list, got %T", raw)
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", item)
		}
		out[i] = s
	}
	return out, nil
}
