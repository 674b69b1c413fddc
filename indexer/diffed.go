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

	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"github.com/DataDog/dyntest/index"
)

// DiffedPackageCoverage indexes per-package coverage exclusive to each run.
//
// A designated baseline suite captures coverage that every run accrues
// regardless of the test exercised (process startup, framework setup).
// Statement ranges the baseline already covers are not attributed to other
// suites, isolating the coverage each test contributes beyond the shared
// baseline. The baseline job itself is indexed in full.
type DiffedPackageCoverage struct {
	CoverageIndexer

	// BaselineSuite is the directory name of the baseline suite under Root.
	BaselineSuite string
}

// NewDiffedPackageCoverage returns a package-granularity indexer that
// suppresses coverage already present in the named baseline suite.
func NewDiffedPackageCoverage(root, baselineSuite string) *DiffedPackageCoverage {
	return &DiffedPackageCoverage{
		CoverageIndexer: *NewPackageCoverage(root),
		BaselineSuite:   baselineSuite,
	}
}

// ComputeIndex implements Indexer.
//
// If the baseline suite has no coverage directory, the result is an empty
// index: without a baseline there is nothing to diff against.
func (d *DiffedPackageCoverage) ComputeIndex(ctx context.Context) (*index.Index, error) {
	baselineDir := filepath.Join(d.Root, d.BaselineSuite, coverageDirName)
	if stat, err := os.Stat(baselineDir); err != nil || !stat.IsDir() {
		logging.Warningf(ctx, "baseline coverage %q is missing; returning an empty index", baselineDir)
		return index.New(), nil
	}

	lines, err := d.coverageLines(ctx, baselineDir)
	if err != nil {
		return nil, errors.Annotate(err, "baseline suite %q", d.BaselineSuite).Err()
	}
	covered := stringset.New(len(lines))
	for _, ln := range lines {
		covered.Add(ln.rangeKey())
	}

	baselineJob, _ := readSuiteMetadata(filepath.Join(d.Root, d.BaselineSuite), d.BaselineSuite)
	return d.computeIndex(ctx, func(jobName string, ln *coverageLine) bool {
		// Coverage shared with the baseline is baseline-attributable, except
		// when indexing the baseline job itself.
		return jobName != baselineJob && covered.Has(ln.rangeKey())
	})
}
