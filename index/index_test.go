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

package index

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.chromium.org/luci/common/data/stringset"

	. "github.com/smartystreets/goconvey/convey"
)

func TestAddTests(t *testing.T) {
	t.Parallel()

	Convey(`AddTests`, t, func() {
		idx := New()

		Convey(`dedups within one call and across calls, preserving order`, func() {
			idx.AddTests("j", "p", "t2", "t1", "t2")
			idx.AddTests("j", "p", "t3", "t1")
			So(idx.TestsForJob("j"), ShouldResemble, map[string][]string{
				"p": {"t2", "t1", "t3"},
			})
		})

		Convey(`separates jobs and components`, func() {
			idx.AddTests("j1", "p1", "t1")
			idx.AddTests("j1", "p2", "t1")
			idx.AddTests("j2", "p1", "t2")
			So(idx.TestsForJob("j1"), ShouldResemble, map[string][]string{
				"p1": {"t1"},
				"p2": {"t1"},
			})
			So(idx.TestsForJob("j2"), ShouldResemble, map[string][]string{
				"p1": {"t2"},
			})
		})

		Convey(`Jobs are sorted`, func() {
			idx.AddTests("b", "p", "t")
			idx.AddTests("a", "p", "t")
			So(idx.Jobs(), ShouldResemble, []string{"a", "b"})
		})
	})
}

func TestDeepCopies(t *testing.T) {
	t.Parallel()

	Convey(`Deep copy isolation`, t, func() {
		idx := New()
		idx.AddTests("j", "p", "t1")

		Convey(`TestsForJob`, func() {
			m := idx.TestsForJob("j")
			m["p"][0] = "mutated"
			m["other"] = []string{"x"}
			So(idx.TestsForJob("j"), ShouldResemble, map[string][]string{"p": {"t1"}})
		})

		Convey(`ToMap`, func() {
			m := idx.ToMap()
			m["j"]["p"][0] = "mutated"
			delete(m, "j")
			So(idx.ToMap(), ShouldResemble, map[string]map[string][]string{
				"j": {"p": {"t1"}},
			})
		})

		Convey(`FromMap`, func() {
			src := map[string]map[string][]string{"j": {"p": {"t1"}}}
			built := FromMap(src)
			src["j"]["p"][0] = "mutated"
			So(built.TestsForJob("j"), ShouldResemble, map[string][]string{"p": {"t1"}})
		})
	})
}

func TestMerge(t *testing.T) {
	t.Parallel()

	Convey(`Merge`, t, func() {
		a := New()
		a.AddTests("j", "p", "t1", "t2")
		b := New()
		b.AddTests("j", "p", "t2", "t3")
		b.AddTests("j2", "q", "t4")

		Convey(`content is order independent`, func() {
			ab := FromMap(a.ToMap())
			ab.Merge(b)
			ba := FromMap(b.ToMap())
			ba.Merge(a)

			So(ab.Jobs(), ShouldResemble, ba.Jobs())
			for _, job := range ab.Jobs() {
				So(ab.IndexedTestsForJob(job), ShouldResemble, ba.IndexedTestsForJob(job))
			}
			So(ab.IndexedTestsForJob("j"), ShouldResemble, stringset.NewFromSlice("t1", "t2", "t3"))
		})

		Convey(`does not alias the source`, func() {
			a.Merge(b)
			b.AddTests("j2", "q", "t5")
			So(a.IndexedTestsForJob("j2"), ShouldResemble, stringset.NewFromSlice("t4"))
		})
	})
}

func TestQueries(t *testing.T) {
	t.Parallel()

	Convey(`With a populated index`, t, func() {
		idx := New()
		idx.AddTests("j1", "pkg/a", "t1", "t2")
		idx.AddTests("j1", "pkg/b", "t2", "t3")
		idx.AddTests("j2", "pkg/a", "t4")

		Convey(`ImpactedTests`, func() {
			So(idx.ImpactedTests([]string{"pkg/a"}, "j1"), ShouldResemble, stringset.NewFromSlice("t1", "t2"))
			So(idx.ImpactedTests([]string{"pkg/a", "pkg/b"}, "j1"), ShouldResemble, stringset.NewFromSlice("t1", "t2", "t3"))
			So(idx.ImpactedTests([]string{"pkg/nonexistent"}, "j1"), ShouldBeEmpty)
		})

		Convey(`ImpactedTestsPerJob`, func() {
			So(idx.ImpactedTestsPerJob([]string{"pkg/a"}), ShouldResemble, map[string]stringset.Set{
				"j1": stringset.NewFromSlice("t1", "t2"),
				"j2": stringset.NewFromSlice("t4"),
			})
		})

		Convey(`impacted and skipped partition the indexed tests`, func() {
			changeSets := [][]string{
				nil,
				{"pkg/a"},
				{"pkg/b"},
				{"pkg/a", "pkg/b"},
				{"pkg/unknown"},
			}
			for _, changed := range changeSets {
				for _, job := range idx.Jobs() {
					impacted := idx.ImpactedTests(changed, job)
					skipped := idx.SkippedTests(changed, job)
					So(impacted.Union(skipped), ShouldResemble, idx.IndexedTestsForJob(job))
					So(impacted.Intersect(skipped), ShouldBeEmpty)
				}
			}
		})

		Convey(`unknown keys never raise`, func() {
			So(idx.TestsForJob("nope"), ShouldBeEmpty)
			So(idx.IndexedTestsForJob("nope"), ShouldBeEmpty)
			So(idx.ImpactedTests([]string{"pkg/a"}, "nope"), ShouldBeEmpty)
			So(idx.SkippedTests([]string{"pkg/a"}, "nope"), ShouldBeEmpty)
		})
	})
}

func TestSerialization(t *testing.T) {
	t.Parallel()

	Convey(`Serialization`, t, func() {
		idx := New()
		idx.AddTests("j1", "pkg/a", "t1", "t2")
		idx.AddTests("j2", "pkg/b", "t3")

		Convey(`JSON round-trip`, func() {
			data, err := json.Marshal(idx)
			So(err, ShouldBeNil)

			loaded := New()
			So(json.Unmarshal(data, loaded), ShouldBeNil)
			So(loaded.ToMap(), ShouldResemble, idx.ToMap())
		})

		Convey(`FromMap(ToMap) round-trip`, func() {
			So(FromMap(idx.ToMap()).ToMap(), ShouldResemble, idx.ToMap())
		})

		Convey(`DumpFile creates parent directories`, func() {
			path := filepath.Join(t.TempDir(), "deeply", "nested", "index.json")
			So(idx.DumpFile(path), ShouldBeNil)

			loaded, err := LoadFile(path)
			So(err, ShouldBeNil)
			So(loaded.ToMap(), ShouldResemble, idx.ToMap())
		})

		Convey(`LoadFile rejects malformed JSON`, func() {
			path := filepath.Join(t.TempDir(), "index.json")
			So(os.WriteFile(path, []byte("{not json"), 0644), ShouldBeNil)
			_, err := LoadFile(path)
			So(err, ShouldNotBeNil)
		})
	})
}
