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

package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	. "go.chromium.org/luci/common/testing/assertions"
)

// writeSuite creates a suite directory with optional metadata and a
// pre-converted coverage text file picked up by textConvert.
func writeSuite(root, name, metadata, covText string) error {
	covDir := filepath.Join(root, name, "coverage")
	if err := os.MkdirAll(covDir, 0700); err != nil {
		return err
	}
	if metadata != "" {
		if err := os.WriteFile(filepath.Join(root, name, "metadata.json"), []byte(metadata), 0644); err != nil {
			return err
		}
	}
	return os.WriteFile(filepath.Join(covDir, "coverage.txt"), []byte(covText), 0644)
}

// textConvert is a ConvertFunc for tests: the "conversion" output already
// exists on disk.
func textConvert(ctx context.Context, covDir string) (string, error) {
	return filepath.Join(covDir, "coverage.txt"), nil
}

func TestPackageCoverage(t *testing.T) {
	t.Parallel()

	Convey(`PackageCoverage`, t, func() {
		ctx := context.Background()
		root := t.TempDir()

		Convey(`end to end`, func() {
			So(writeSuite(root, "suite1",
				`{"job_name": "job1", "test": "TestA"}`,
				"mode: set\n"+
					"github.com/DataDog/datadog-agent/pkg/collector/corechecks/check.go:10.2,12.3 2 1\n"+
					"github.com/DataDog/datadog-agent/pkg/collector/corechecks/other.go:5.1,6.2 1 0\n",
			), ShouldBeNil)
			So(writeSuite(root, "suite2", "",
				"mode: set\n"+
					"github.com/DataDog/datadog-agent/pkg/util/log/log.go:20.1,22.2 2 3\n"+
					"\n"+
					"github.com/DataDog/datadog-agent/pkg/collector/corechecks/ebpf/probe.go:7.1,9.2 2 2\n",
			), ShouldBeNil)

			c := NewPackageCoverage(root)
			c.Convert = textConvert
			idx, err := c.ComputeIndex(ctx)
			So(err, ShouldBeNil)
			So(idx.ToMap(), ShouldResemble, map[string]map[string][]string{
				"job1": {
					"pkg/collector/corechecks": {"TestA"},
				},
				"suite2": {
					"pkg/util/log":                  {"suite2"},
					"pkg/collector/corechecks/ebpf": {"suite2"},
				},
			})
		})

		Convey(`run-all patterns are registered for every job`, func() {
			So(writeSuite(root, "suite1", `{"job_name": "job1", "test": "TestA"}`,
				"github.com/DataDog/datadog-agent/pkg/a/a.go:1.1,2.2 1 1\n"), ShouldBeNil)
			So(writeSuite(root, "suite2", `{"job_name": "job2", "test": "TestB"}`,
				"github.com/DataDog/datadog-agent/pkg/b/b.go:1.1,2.2 1 1\n"), ShouldBeNil)

			c := NewPackageCoverage(root)
			c.Convert = textConvert
			c.RunAllPaths = []string{"test/new-e2e/**"}
			idx, err := c.ComputeIndex(ctx)
			So(err, ShouldBeNil)
			for _, job := range []string{"job1", "job2"} {
				So(idx.TestsForJob(job)["test/new-e2e/**"], ShouldResemble, []string{"*"})
			}
		})

		Convey(`malformed metadata falls back to the suite name`, func() {
			So(writeSuite(root, "mysuite", `{not json`,
				"github.com/DataDog/datadog-agent/pkg/a/a.go:1.1,2.2 1 1\n"), ShouldBeNil)

			c := NewPackageCoverage(root)
			c.Convert = textConvert
			idx, err := c.ComputeIndex(ctx)
			So(err, ShouldBeNil)
			So(idx.TestsForJob("mysuite"), ShouldResemble, map[string][]string{
				"pkg/a": {"mysuite"},
			})
		})

		Convey(`paths shorter than the module prefix are dropped`, func() {
			So(writeSuite(root, "s", "",
				"github.com/DataDog/short.go:1.1,2.2 1 1\n"), ShouldBeNil)

			c := NewPackageCoverage(root)
			c.Convert = textConvert
			idx, err := c.ComputeIndex(ctx)
			So(err, ShouldBeNil)
			So(idx.Jobs(), ShouldBeEmpty)
		})

		Convey(`malformed coverage line is a hard error`, func() {
			So(writeSuite(root, "s", "", "garbage-without-fields\n"), ShouldBeNil)

			c := NewPackageCoverage(root)
			c.Convert = textConvert
			_, err := c.ComputeIndex(ctx)
			So(err, ShouldErrLike, "malformed coverage line")
		})

		Convey(`directories without coverage/ are ignored`, func() {
			So(os.MkdirAll(filepath.Join(root, "not-a-suite"), 0700), ShouldBeNil)
			So(writeSuite(root, "s", "",
				"github.com/DataDog/datadog-agent/pkg/a/a.go:1.1,2.2 1 1\n"), ShouldBeNil)

			c := NewPackageCoverage(root)
			c.Convert = textConvert
			idx, err := c.ComputeIndex(ctx)
			So(err, ShouldBeNil)
			So(idx.Jobs(), ShouldResemble, []string{"s"})
		})
	})
}

func TestFileCoverage(t *testing.T) {
	t.Parallel()

	Convey(`FileCoverage indexes individual files`, t, func() {
		ctx := context.Background()
		root := t.TempDir()
		So(writeSuite(root, "suite1", `{"job_name": "job1", "test": "TestA"}`,
			"github.com/DataDog/datadog-agent/pkg/util/log/log.go:1.1,2.2 1 1\n"+
				"github.com/DataDog/datadog-agent/pkg/util/log/zap.go:3.1,4.2 1 4\n"), ShouldBeNil)

		c := NewFileCoverage(root)
		c.Convert = textConvert
		idx, err := c.ComputeIndex(ctx)
		So(err, ShouldBeNil)
		So(idx.TestsForJob("job1"), ShouldResemble, map[string][]string{
			"pkg/util/log/log.go": {"TestA"},
			"pkg/util/log/zap.go": {"TestA"},
		})
	})
}

func TestParseCoverageLine(t *testing.T) {
	t.Parallel()

	Convey(`parseCoverageLine`, t, func() {
		Convey(`parses a regular line`, func() {
			ln, err := parseCoverageLine("github.com/DataDog/datadog-agent/pkg/a/a.go:10.2,12.3 2 5")
			So(err, ShouldBeNil)
			So(ln.file, ShouldEqual, "github.com/DataDog/datadog-agent/pkg/a/a.go")
			So(ln.span, ShouldEqual, "10.2,12.3")
			So(ln.count, ShouldEqual, 5)
		})

		Convey(`skips headers and blanks silently`, func() {
			for _, line := range []string{"", "   ", "mode: set"} {
				ln, err := parseCoverageLine(line)
				So(err, ShouldBeNil)
				So(ln, ShouldBeNil)
			}
		})

		Convey(`rejects a location without a range`, func() {
			_, err := parseCoverageLine("pkg/a/a.go 2 5")
			So(err, ShouldErrLike, "missing range")
		})

		Convey(`rejects too few fields`, func() {
			_, err := parseCoverageLine("pkg/a/a.go:1.1,2.2 2")
			So(err, ShouldErrLike, "want 3 fields")
		})

		Convey(`rejects a non-numeric count`, func() {
			_, err := parseCoverageLine("pkg/a/a.go:1.1,2.2 2 x")
			So(err, ShouldErrLike, "malformed execution count")
		})
	})
}

func TestTrimModulePrefix(t *testing.T) {
	t.Parallel()

	Convey(`trimModulePrefix`, t, func() {
		So(trimModulePrefix("github.com/DataDog/datadog-agent/pkg/a/a.go", 3), ShouldEqual, "pkg/a/a.go")
		So(trimModulePrefix("github.com/DataDog/datadog-agent", 3), ShouldEqual, "")
		So(trimModulePrefix("github.com/DataDog", 3), ShouldEqual, "")
		So(trimModulePrefix("a/b/c/d", 2), ShouldEqual, "c/d")
	})
}
