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

package parallel

import (
	"errors"

	"golang.org/x/sync/errgroup"
)

// ParallelRun applies fn to every input on at most limit goroutines
// (limit <= 0 means unbounded). Results keep input order. Errors are
// joined, never short-circuited: every input runs to completion.
func ParallelRun[t any, resultT any](inputs []t, limit int, fn func(input t) (resultT, error)) ([]resultT, error) {
	results := make([]resultT, len(inputs))
	errs := make([]error, len(inputs))

	var group errgroup.Group
	if limit > 0 {
		group.SetLimit(limit)
	}
	for i, input := range inputs {
		i, input := i, input
		group.Go(func() error {
			results[i], errs[i] = fn(input)
			return nil
		})
	}
	// fn errors are collected per slot, Wait itself cannot fail
	_ = group.Wait()
	return results, errors.Join(errs...)
}
