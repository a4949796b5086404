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

package signature

import (
	"encoding/json"
	"fmt"
)

type treeJSON struct {
	Leaf   string               `json:"leaf,omitempty"`
	Elems  []*treeJSON          `json:"elems,omitempty"`
	Fields map[string]*treeJSON `json:"fields,omitempty"`
	Kind   string               `json:"kind"`
}

func toJSON(t *Tree) *treeJSON {
	switch t.kind {
	case KindLeaf:
		return &treeJSON{Kind: "leaf", Leaf: t.leaf}
	case KindSeq:
		elems := make([]*treeJSON, len(t.elems))
		for i, elem := range t.elems {
			elems[i] = toJSON(elem)
		}
		return &treeJSON{Kind: "seq", Elems: elems}
	default:
		fields := make(map[string]*treeJSON, len(t.fields))
		for key, field := range t.fields {
			fields[key] = toJSON(field)
		}
		return &treeJSON{Kind: "map", Fields: fields}
	}
}

func fromJSON(raw *treeJSON) (*Tree, error) {
	switch raw.Kind {
	case "leaf":
		return Leaf(raw.Leaf), nil
	case "seq":
		elems := make([]*Tree, len(raw.Elems))
		for i, elem := range raw.Elems {
			t, err := fromJSON(elem)
			if err != nil {
				return nil, err
			}
			elems[i] = t
		}
		return Seq(elems...), nil
	case "map":
		fields := make(map[string]*Tree, len(raw.Fields))
		for key, field := range raw.Fields {
			t, err := fromJSON(field)
			if err != nil {
				return nil, err
			}
			fields[key] = t
		}
		return Map(fields), nil
	default:
		return nil, fmt.Errorf("unknown signature kind %q", raw.Kind)
	}
}

// MarshalJSON encodes the tree structure.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(toJSON(t))
}

// UnmarshalJSON decodes a tree structure.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var raw treeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := fromJSON(&raw)
	if err != nil {
		return err
	}
	*t = *decoded
	return nil
}
