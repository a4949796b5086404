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

package optimizer

import (
	"fmt"
	"strings"

	"github.com/accelink/accelink/pkg/tracer/graph"
)

const (
	DeviceHost  = "host"
	DeviceAccel = "accel"
)

// PlanGroup is a maximal run of consecutive same-device nodes in
// deterministic topological order.
type PlanGroup struct {
	Device string
	Nodes  []string
}

// ExecutionPlan records which device runs which nodes, in execution
// order.
type ExecutionPlan struct {
	Groups []PlanGroup
}

// DumpString renders the plan one group per line.
func (p *ExecutionPlan) DumpString() string {
	var builder strings.Builder
	for _, group := range p.Groups {
		fmt.Fprintf(&builder, "%s: %s\n", group.Device, strings.Join(group.Nodes, ","))
	}
	return builder.String()
}

// AssignExecutionPlan derives the device grouping from the final graph
// and stamps it as a graph attribute for the runtime.
func AssignExecutionPlan(g *graph.Graph) (*graph.Graph, *ExecutionPlan, error) {
	out := g.Clone()
	nodes, err := out.TopologicalSort()
	if err != nil {
		return nil, nil, err
	}
	plan := &ExecutionPlan{}
	for _, node := range nodes {
		device := DeviceHost
		if node.Op == graph.OpAccel {
			device = DeviceAccel
		}
		if n := len(plan.Groups); n > 0 && plan.Groups[n-1].Device == device {
			plan.Groups[n-1].Nodes = append(plan.Groups[n-1].Nodes, node.Name)
			continue
		}
		plan.Groups = append(plan.Groups, PlanGroup{Device: device, Nodes: []string{node.Name}})
	}

	entries := make([]string, len(plan.Groups))
	for i, group := range plan.Groups {
		entries[i] = fmt.Sprintf("%s:%s", group.Device, strings.Join(group.Nodes, ","))
	}
	attr := &graph.Attribute{}
	attr.SetStrings(entries)
	out.SetAttr(graph.AttrExecutionPlan, attr)
	return out, plan, nil
}
