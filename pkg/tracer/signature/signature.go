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

// Package signature models the structured input/output description of
// a traced function as a recursive tagged tree: a leaf names a tensor,
// an interior node is an ordered sequence or a string-keyed mapping.
// Structured runtime values mirror the tree with any, []interface{}
// and map[string]interface{}.
package signature

import (
	"fmt"
	"sort"
	"strings"
)

// Kind discriminates tree nodes.
type Kind int

const (
	KindLeaf Kind = iota
	KindSeq
	KindMap
)

// Tree is one node of a call signature.
type Tree struct {
	kind Kind

	leaf  string
	elems []*Tree

	keys   []string
	fields map[string]*Tree
}

// Leaf builds a leaf naming one tensor.
func Leaf(tensorName string) *Tree {
	return &Tree{kind: KindLeaf, leaf: tensorName}
}

// Seq builds an ordered sequence node.
func Seq(elems ...*Tree) *Tree {
	return &Tree{kind: KindSeq, elems: elems}
}

// Map builds a mapping node. Keys are kept in sorted order so flatten
// order is deterministic.
func Map(fields map[string]*Tree) *Tree {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &Tree{kind: KindMap, keys: keys, fields: fields}
}

func (t *Tree) Kind() Kind { return t.kind }

// TensorName returns the leaf's tensor name; empty for interior nodes.
func (t *Tree) TensorName() string { return t.leaf }

// Elems returns the sequence elements.
func (t *Tree) Elems() []*Tree { return t.elems }

// Keys returns the mapping keys in deterministic order.
func (t *Tree) Keys() []string { return t.keys }

// Field returns the subtree under a mapping key.
func (t *Tree) Field(key string) *Tree { return t.fields[key] }

// Flatten returns the leaf tensor names in traversal order.
func (t *Tree) Flatten() []string {
	var names []string
	t.walk(func(leaf string) { names = append(names, leaf) })
	return names
}

// NumLeaves counts the leaves.
func (t *Tree) NumLeaves() int {
	n := 0
	t.walk(func(string) { n++ })
	return n
}

func (t *Tree) walk(visit func(leaf string)) {
	switch t.kind {
	case KindLeaf:
		visit(t.leaf)
	case KindSeq:
		for _, elem := range t.elems {
			elem.walk(visit)
		}
	case KindMap:
		for _, key := range t.keys {
			t.fields[key].walk(visit)
		}
	}
}

// ToString dumps a debug string of the tree.
func (t *Tree) ToString() string {
	var builder strings.Builder
	t.dump(&builder)
	return builder.String()
}

func (t *Tree) dump(builder *strings.Builder) {
	switch t.kind {
	case KindLeaf:
		builder.WriteString(t.leaf)
	case KindSeq:
		builder.WriteString("(")
		for i, elem := range t.elems {
			if i > 0 {
				builder.WriteString(",")
			}
			elem.dump(builder)
		}
		builder.WriteString(")")
	case KindMap:
		builder.WriteString("{")
		for i, key := range t.keys {
			if i > 0 {
				builder.WriteString(",")
			}
			builder.WriteString(key)
			builder.WriteString(":")
			t.fields[key].dump(builder)
		}
		builder.WriteString("}")
	}
}

// FlattenValues decomposes a structured value along the tree, returning
// the leaf values in the same order as Flatten. The value must mirror
// the tree exactly.
func FlattenValues(t *Tree, value interface{}) ([]interface{}, error) {
	var leaves []interface{}
	if err := flattenValues(t, value, &leaves); err != nil {
		return nil, err
	}
	return leaves, nil
}

func flattenValues(t *Tree, value interface{}, leaves *[]interface{}) error {
	switch t.kind {
	case KindLeaf:
		*leaves = append(*leaves, value)
		return nil
	case KindSeq:
		seq, ok := value.([]interface{})
		if !ok {
			return fmt.Errorf("structure mismatch: expected sequence for %s, got %T", t.ToString(), value)
		}
		if len(seq) != len(t.elems) {
			return fmt.Errorf("structure mismatch: expected %d elements for %s, got %d", len(t.elems), t.ToString(), len(seq))
		}
		for i, elem := range t.elems {
			if err := flattenValues(elem, seq[i], leaves); err != nil {
				return err
			}
		}
		return nil
	case KindMap:
		m, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("structure mismatch: expected mapping for %s, got %T", t.ToString(), value)
		}
		if len(m) != len(t.keys) {
			return fmt.Errorf("structure mismatch: expected keys %v, got %d entries", t.keys, len(m))
		}
		for _, key := range t.keys {
			fieldValue, ok := m[key]
			if !ok {
				return fmt.Errorf("structure mismatch: missing key %q", key)
			}
			if err := flattenValues(t.fields[key], fieldValue, leaves); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("structure mismatch: unknown tree kind %d", t.kind)
}

// UnflattenValues rebuilds a structured value from flat leaves in
// Flatten order. The leaf count must match exactly.
func UnflattenValues(t *Tree, leaves []interface{}) (interface{}, error) {
	value, rest, err := unflattenValues(t, leaves)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("structure mismatch: %d leaves left over after rebuilding %s", len(rest), t.ToString())
	}
	return value, nil
}

func unflattenValues(t *Tree, leaves []interface{}) (interface{}, []interface{}, error) {
	switch t.kind {
	case KindLeaf:
		if len(leaves) == 0 {
			return nil, nil, fmt.Errorf("structure mismatch: ran out of leaves rebuilding %s", t.ToString())
		}
		return leaves[0], leaves[1:], nil
	case KindSeq:
		out := make([]interface{}, 0, len(t.elems))
		var err error
		var value interface{}
		for _, elem := range t.elems {
			value, leaves, err = unflattenValues(elem, leaves)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, value)
		}
		return out, leaves, nil
	case KindMap:
		out := make(map[string]interface{}, len(t.keys))
		var err error
		var value interface{}
		for _, key := range t.keys {
			value, leaves, err = unflattenValues(t.fields[key], leaves)
			if err != nil {
				return nil, nil, err
			}
			out[key] = value
		}
		return out, leaves, nil
	}
	return nil, nil, fmt.Errorf("structure mismatch: unknown tree kind %d", t.kind)
}
