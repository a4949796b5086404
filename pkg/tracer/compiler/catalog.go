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

package compiler

import (
	"os/exec"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/accelink/accelink/pkg/tracer/graph"
)

// DefaultBinary is the external compiler looked up on PATH when no
// explicit path is configured.
const DefaultBinary = "accel-cc"

// DefaultFramework is the frontend tag passed to the compiler.
const DefaultFramework = "GRAPHDEF"

// Catalog queries the external compiler for its supported operator
// types. Any execution problem degrades to the empty set with a
// warning; it never fails the caller.
type Catalog struct {
	Binary    string
	Framework string

	once sync.Once
	ops  map[string]bool
}

func NewCatalog(binary, framework string) *Catalog {
	if binary == "" {
		binary = DefaultBinary
	}
	if framework == "" {
		framework = DefaultFramework
	}
	return &Catalog{Binary: binary, Framework: framework}
}

// SupportedOperators returns the operator whitelist, memoized for the
// lifetime of the catalog. Framework pseudo-operators are stripped:
// they mark graph plumbing, not compute the hardware could run.
func (c *Catalog) SupportedOperators() map[string]bool {
	c.once.Do(func() {
		c.ops = c.query()
	})
	return c.ops
}

func (c *Catalog) query() map[string]bool {
	ops := make(map[string]bool)
	binary, err := exec.LookPath(c.Binary)
	if err != nil {
		logrus.Warnf("compiler binary %q not found, no operators will be accelerated", c.Binary)
		return ops
	}
	out, err := exec.Command(binary, "list-operators", "--framework", c.Framework).Output()
	if err != nil {
		logrus.Warnf("%q is not behaving correctly, no operators will be accelerated: %v", c.Binary, err)
		return ops
	}
	for _, line := range strings.Split(string(out), "\n") {
		opType := strings.TrimSpace(line)
		if opType == "" {
			continue
		}
		ops[opType] = true
	}
	delete(ops, graph.OpPlaceholder)
	delete(ops, graph.OpIdentityN)
	return ops
}
