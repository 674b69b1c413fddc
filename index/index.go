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

// Package index implements the dynamic test index: a reverse mapping from
// code components (files or packages) to the tests whose recorded coverage
// touches them, grouped by CI job.
package index

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"
)

// Index maps job name -> component path -> tests that exercise the component.
//
// Per-component test lists are deduplicated and preserve first-seen order.
// The order has no query semantics; queries treat the lists as sets.
//
// Job and component names are opaque strings. A component like
// "pkg/collector/corechecks" is just a key; no hierarchy is implied.
//
// Not safe for concurrent use.
type Index struct {
	jobs map[string]map[string][]string
}

// New returns an empty index.
func New() *Index {
	return &Index{jobs: map[string]map[string][]string{}}
}

// FromMap builds an index from its logical mapping.
//
// The input is deep-copied; the caller may mutate it afterwards. Values are
// not validated beyond their types.
func FromMap(m map[string]map[string][]string) *Index {
	idx := New()
	for job, components := range m {
		for component, tests := range components {
			idx.AddTests(job, component, tests...)
		}
	}
	return idx
}

// ToMap returns the logical mapping of the index.
//
// The result is a deep copy; mutating it never affects the index.
func (idx *Index) ToMap() map[string]map[string][]string {
	m := make(map[string]map[string][]string, len(idx.jobs))
	for job := range idx.jobs {
		m[job] = idx.TestsForJob(job)
	}
	return m
}

// AddTests records that the given tests exercise component when running as
// part of job, inserting missing keys as needed.
//
// Re-adding a test already present for (job, component) is a no-op, whether
// the duplicate appears within one call or across calls.
func (idx *Index) AddTests(job, component string, tests ...string) {
	components := idx.jobs[job]
	if components == nil {
		components = map[string][]string{}
		idx.jobs[job] = components
	}

	seen := stringset.NewFromSlice(components[component]...)
	for _, t := range tests {
		if seen.Add(t) {
			components[component] = append(components[component], t)
		}
	}
	// Register the component even if all tests were duplicates or the list
	// was empty.
	if _, ok := components[component]; !ok {
		components[component] = nil
	}
}

// Merge pulls every (job, component, test) triple of other into idx,
// deduplicating. Data is copied, never aliased.
//
// Merge order may change per-component list order, but never the resulting
// set of tests.
func (idx *Index) Merge(other *Index) {
	for job, components := range other.jobs {
		for component, tests := range components {
			idx.AddTests(job, component, tests...)
		}
	}
}

// Jobs returns the sorted names of all jobs present in the index.
func (idx *Index) Jobs() []string {
	jobs := make([]string, 0, len(idx.jobs))
	for job := range idx.jobs {
		jobs = append(jobs, job)
	}
	sort.Strings(jobs)
	return jobs
}

// TestsForJob returns the component -> tests mapping of one job.
//
// The result is a deep copy. Unknown jobs yield an empty map.
func (idx *Index) TestsForJob(job string) map[string][]string {
	components := idx.jobs[job]
	m := make(map[string][]string, len(components))
	for component, tests := range components {
		m[component] = append([]string(nil), tests...)
	}
	return m
}

// IndexedTestsForJob flattens all of a job's per-component test lists into
// one set. Unknown jobs yield an empty set.
func (idx *Index) IndexedTestsForJob(job string) stringset.Set {
	tests := stringset.New(0)
	for _, componentTests := range idx.jobs[job] {
		tests.AddAll(componentTests)
	}
	return tests
}

// ImpactedTests returns the tests of job whose coverage includes at least
// one of the changed components. Components absent from the job's mapping
// contribute nothing.
func (idx *Index) ImpactedTests(changedComponents []string, job string) stringset.Set {
	impacted := stringset.New(0)
	components := idx.jobs[job]
	for _, c := range changedComponents {
		impacted.AddAll(components[c])
	}
	return impacted
}

// ImpactedTestsPerJob applies ImpactedTests to every job in the index.
func (idx *Index) ImpactedTestsPerJob(changedComponents []string) map[string]stringset.Set {
	m := make(map[string]stringset.Set, len(idx.jobs))
	for job := range idx.jobs {
		m[job] = idx.ImpactedTests(changedComponents, job)
	}
	return m
}

// SkippedTests returns the indexed tests of job not impacted by the change
// set, i.e. the candidates for omission from a CI run.
//
// For any job and change set, impacted and skipped partition the indexed
// test set.
func (idx *Index) SkippedTests(changedComponents []string, job string) stringset.Set {
	return idx.IndexedTestsForJob(job).Difference(idx.ImpactedTests(changedComponents, job))
}

// SkippedTestsPerJob applies SkippedTests to every job in the index.
func (idx *Index) SkippedTestsPerJob(changedComponents []string) map[string]stringset.Set {
	m := make(map[string]stringset.Set, len(idx.jobs))
	for job := range idx.jobs {
		m[job] = idx.SkippedTests(changedComponents, job)
	}
	return m
}

// MarshalJSON encodes the logical mapping.
func (idx *Index) MarshalJSON() ([]byte, error) {
	return json.Marshal(idx.jobs)
}

// UnmarshalJSON decodes the logical mapping, replacing the index content.
func (idx *Index) UnmarshalJSON(data []byte) error {
	var m map[string]map[string][]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*idx = *FromMap(m)
	return nil
}

// DumpFile writes the index as JSON to path, creating parent directories
// as needed.
func (idx *Index) DumpFile(path string) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadFile reads an index previously written with DumpFile.
func LoadFile(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	idx := New()
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, errors.Annotate(err, "failed to decode index file %q", path).Err()
	}
	return idx, nil
}
