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

package tracer

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/accelink/accelink/pkg/tracer/executor"
	"github.com/accelink/accelink/pkg/tracer/graph"
	"github.com/accelink/accelink/pkg/tracer/signature"
)

// Model is the compiled form of a traced function: the mixed
// accelerator/host graph plus the nested input and output structure of
// the original callable.
type Model struct {
	graph           *graph.Graph
	inputSignature  *signature.Tree
	outputSignature *signature.Tree
}

func (m *Model) Graph() *graph.Graph              { return m.graph }
func (m *Model) InputSignature() *signature.Tree  { return m.inputSignature }
func (m *Model) OutputSignature() *signature.Tree { return m.outputSignature }

// Call evaluates the model. Arguments mirror the traced function: a
// sequence-structured model accepts its elements unrolled as separate
// arguments or rolled up as one value; leaves are *executor.Value. The
// result carries the traced function's output structure.
func (m *Model) Call(inputs ...interface{}) (interface{}, error) {
	structured, err := m.bindArguments(inputs)
	if err != nil {
		return nil, err
	}
	leaves, err := signature.FlattenValues(m.inputSignature, structured)
	if err != nil {
		return nil, errors.Wrap(err, "input structure mismatch")
	}

	names := m.inputSignature.Flatten()
	feeds := make(map[string]*executor.Value, len(leaves))
	for i, leaf := range leaves {
		value, ok := leaf.(*executor.Value)
		if !ok {
			return nil, errors.Errorf("input leaf %q is %T, want *executor.Value", names[i], leaf)
		}
		feeds[names[i]] = value
	}

	fetches := m.outputSignature.Flatten()
	results, err := executor.New(m.graph).Run(feeds, fetches)
	if err != nil {
		return nil, err
	}
	outLeaves := make([]interface{}, len(results))
	for i, result := range results {
		outLeaves[i] = result
	}
	return signature.UnflattenValues(m.outputSignature, outLeaves)
}

// bindArguments reconciles Go variadic calling with the traced
// structure: unrolled sequence elements are re-rolled, a single
// argument is taken as the whole structure.
func (m *Model) bindArguments(inputs []interface{}) (interface{}, error) {
	if m.inputSignature.Kind() == signature.KindSeq {
		if len(inputs) == len(m.inputSignature.Elems()) {
			rolled := make([]interface{}, len(inputs))
			copy(rolled, inputs)
			return rolled, nil
		}
	}
	if len(inputs) == 1 {
		return inputs[0], nil
	}
	return nil, errors.Errorf("model wants %d arguments, got %d", m.inputSignature.NumLeaves(), len(inputs))
}

// modelManifest is the sidecar persisted next to the graph so a loaded
// model recovers its calling convention.
type modelManifest struct {
	InputSignature  *signature.Tree `json:"input_signature"`
	OutputSignature *signature.Tree `json:"output_signature"`
}

// Save persists the model as a serialized graph plus a structure
// manifest under dir.
func (m *Model) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	raw, err := graph.Marshal(m.graph)
	if err != nil {
		return errors.Wrap(err, "serialize graph")
	}
	if err := os.WriteFile(modelGraphPath(dir), raw, 0o644); err != nil {
		return err
	}
	manifest, err := json.MarshalIndent(&modelManifest{
		InputSignature:  m.inputSignature,
		OutputSignature: m.outputSignature,
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "serialize manifest")
	}
	return os.WriteFile(modelManifestPath(dir), manifest, 0o644)
}

// Load reads a model persisted by Save.
func Load(dir string) (*Model, error) {
	raw, err := os.ReadFile(modelGraphPath(dir))
	if err != nil {
		return nil, err
	}
	g, err := graph.Unmarshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parse graph")
	}
	rawManifest, err := os.ReadFile(modelManifestPath(dir))
	if err != nil {
		return nil, err
	}
	var manifest modelManifest
	if err := json.Unmarshal(rawManifest, &manifest); err != nil {
		return nil, errors.Wrap(err, "parse manifest")
	}
	if manifest.InputSignature == nil || manifest.OutputSignature == nil {
		return nil, errors.New("model manifest carries no signatures")
	}
	return &Model{
		graph:           g,
		inputSignature:  manifest.InputSignature,
		outputSignature: manifest.OutputSignature,
	}, nil
}

func modelGraphPath(dir string) string    { return filepath.Join(dir, "graph.pb") }
func modelManifestPath(dir string) string { return filepath.Join(dir, "model.json") }
