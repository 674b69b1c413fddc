// Copyright 2026 Datadog, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar"

	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"

	"github.com/DataDog/dyntest/backend"
	"github.com/DataDog/dyntest/index"
	"github.com/DataDog/dyntest/indexer"
)

// changedComponents translates changed file paths into the components the
// index is keyed by.
//
// For package-granularity kinds a file maps to its parent directory. Index
// components containing glob metacharacters are run-all registrations; each
// is included when any changed file matches it.
func changedComponents(kind backend.Kind, idx *index.Index, files []string) ([]string, error) {
	components := stringset.New(len(files))
	for _, f := range files {
		if kind == backend.KindFile {
			components.Add(f)
		} else {
			components.Add(path.Dir(f))
		}
	}

	for _, pattern := range globComponents(idx) {
		for _, f := range files {
			ok, err := doublestar.Match(pattern, f)
			if err != nil {
				return nil, errors.Annotate(err, "invalid pattern component %q", pattern).Err()
			}
			if ok {
				components.Add(pattern)
				break
			}
		}
	}
	return components.ToSortedSlice(), nil
}

// globComponents lists the index components that are glob patterns.
func globComponents(idx *index.Index) []string {
	patterns := stringset.New(0)
	for _, job := range idx.Jobs() {
		for component := range idx.TestsForJob(job) {
			if strings.ContainsAny(component, "*?[{") {
				patterns.Add(component)
			}
		}
	}
	return patterns.ToSortedSlice()
}

// expandRunAll resolves the run-all marker, when predicted, to the job's
// full indexed test set.
func expandRunAll(idx *index.Index, job string, tests stringset.Set) stringset.Set {
	if !tests.Has(indexer.RunAllMarker) {
		return tests
	}
	all := idx.IndexedTestsForJob(job)
	all.Del(indexer.RunAllMarker)
	return all
}
