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

// GraphChecker validates structural invariants before the rewrite
// pipeline runs. Violations are fatal to the trace.
type GraphChecker struct{}

func NewGraphChecker() *GraphChecker {
	return &GraphChecker{}
}

func (c *GraphChecker) Check(g *Graph) error {
	seen := make(map[string]bool, len(g.Nodes))
	for _, node := range g.Nodes {
		if seen[node.Name] {
			return fmt.Errorf("graph check: duplicate node name %q", node.Name)
		}
		seen[node.Name] = true
		if node.NumOutputs() == 0 && node.Op != OpAccel {
			return fmt.Errorf("graph check: node %q has no outputs", node.Name)
		}
		for _, input := range node.Inputs {
			if _, _, err := g.Producer(input); err != nil {
				return fmt.Errorf("graph check: node %q: %v", node.Name, err)
			}
		}
	}
	for _, feed := range g.Inputs {
		node, _, err := g.Producer(feed)
		if err != nil {
			return fmt.Errorf("graph check: feed: %v", err)
		}
		if node.Op != OpPlaceholder {
			return fmt.Errorf("graph check: feed %q is not produced by a placeholder", feed)
		}
	}
	for _, fetch := range g.Outputs {
		if _, _, err := g.Producer(fetch); err != nil {
			return fmt.Errorf("graph check: fetch: %v", err)
		}
	}
	if _, err := g.TopologicalSort(); err != nil {
		return fmt.Errorf("graph check: %v", err)
	}
	return nil
}
