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

// Package indexer builds a dynamic test index from raw code-coverage data.
//
// The input is a directory with one subdirectory per test-suite run; each
// subdirectory holds optional run metadata and binary coverage counters.
// Indexers invert "test -> covered components" into "component -> tests",
// at file or package granularity.
package indexer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"github.com/DataDog/dyntest/index"
)

// RunAllMarker is the pseudo test name registered for run-all path patterns.
// A change matching such a pattern impacts every test of the job.
const RunAllMarker = "*"

const (
	coverageDirName  = "coverage"
	metadataFileName = "metadata.json"

	// The coverage tool reports file paths prefixed with the module path,
	// assumed to be the fixed domain/org/repo triple.
	defaultPrefixSegments = 3
)

// Indexer computes a dynamic test index.
type Indexer interface {
	ComputeIndex(ctx context.Context) (*index.Index, error)
}

// ConvertFunc converts the binary coverage counters in covDir to the
// line-oriented text format and returns the path of the produced file.
type ConvertFunc func(ctx context.Context, covDir string) (string, error)

// CovdataTextFormat is the production ConvertFunc. It shells out to
// `go tool covdata textfmt`.
func CovdataTextFormat(ctx context.Context, covDir string) (string, error) {
	out := filepath.Join(covDir, "coverage.txt")
	cmd := exec.CommandContext(ctx, "go", "tool", "covdata", "textfmt", "-i="+covDir, "-o="+out)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", errors.Annotate(err, "covdata textfmt failed for %q; output: %q", covDir, stderr.Bytes()).Err()
	}
	return out, nil
}

// CoverageIndexer builds an index from a coverage root directory.
//
// Construct with NewFileCoverage or NewPackageCoverage, then optionally set
// the exported fields before calling ComputeIndex.
type CoverageIndexer struct {
	// Root contains one subdirectory per test-suite run.
	Root string

	// RunAllPaths are path patterns whose modification must force all tests
	// to run (e.g. the test framework itself). Each is registered under
	// every indexed job with RunAllMarker.
	RunAllPaths []string

	// PrefixSegments is the number of leading path segments to strip from
	// coverage-reported file paths to obtain repo-relative ones.
	// 0 means the default of 3.
	PrefixSegments int

	// Convert converts a suite's binary coverage data to text.
	// Nil means CovdataTextFormat.
	Convert ConvertFunc

	// component maps a repo-relative file path to the index component.
	component func(relPath string) string
}

// NewFileCoverage returns an indexer that records coverage per file.
//
// File granularity is the most precise but is larger and more sensitive to
// instrumentation-vs-source path mismatches.
func NewFileCoverage(root string) *CoverageIndexer {
	return &CoverageIndexer{
		Root:      root,
		component: func(relPath string) string { return relPath },
	}
}

// NewPackageCoverage returns an indexer that records coverage per package
// (the file's parent directory). Coarser but more robust than per-file.
func NewPackageCoverage(root string) *CoverageIndexer {
	return &CoverageIndexer{
		Root:      root,
		component: path.Dir,
	}
}

// ComputeIndex implements Indexer.
func (c *CoverageIndexer) ComputeIndex(ctx context.Context) (*index.Index, error) {
	return c.computeIndex(ctx, nil)
}

// computeIndex runs the shared indexing pass. If skip is non-nil, lines for
// which it returns true are excluded.
func (c *CoverageIndexer) computeIndex(ctx context.Context, skip func(jobName string, line *coverageLine) bool) (*index.Index, error) {
	suites, err := c.suites()
	if err != nil {
		return nil, err
	}

	idx := index.New()
	for _, s := range suites {
		logging.Debugf(ctx, "indexing suite %q (job %q, test %q)", s.dir, s.jobName, s.testName)
		lines, err := c.coverageLines(ctx, s.covDir())
		if err != nil {
			return nil, errors.Annotate(err, "suite %q", s.dir).Err()
		}
		for _, ln := range lines {
			if skip != nil && skip(s.jobName, ln) {
				continue
			}
			rel := trimModulePrefix(ln.file, c.prefixSegments())
			if rel == "" {
				continue
			}
			idx.AddTests(s.jobName, c.component(rel), s.testName)
		}
	}

	// Run-all patterns always match as impacted, regardless of which test
	// exercised them.
	for _, pattern := range c.RunAllPaths {
		for _, job := range idx.Jobs() {
			idx.AddTests(job, pattern, RunAllMarker)
		}
	}
	return idx, nil
}

// coverageLines converts one suite's coverage data and parses it, keeping
// only lines that were actually executed.
func (c *CoverageIndexer) coverageLines(ctx context.Context, covDir string) ([]*coverageLine, error) {
	convert := c.Convert
	if convert == nil {
		convert = CovdataTextFormat
	}
	txtPath, err := convert(ctx, covDir)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(txtPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []*coverageLine
	scan := bufio.NewScanner(f)
	scan.Buffer(nil, 1e7) // 10 MB.
	lineNo := 0
	for scan.Scan() {
		lineNo++
		ln, err := parseCoverageLine(scan.Text())
		switch {
		case err != nil:
			return nil, errors.Annotate(err, "%s:%d", txtPath, lineNo).Err()
		case ln == nil:
			// Blank line or format header.
		case ln.count == 0 || ln.file == "":
			// Not covered by this run.
		default:
			lines = append(lines, ln)
		}
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (c *CoverageIndexer) prefixSegments() int {
	if c.PrefixSegments > 0 {
		return c.PrefixSegments
	}
	return defaultPrefixSegments
}

// suite is one test-suite run under the coverage root.
type suite struct {
	root     string
	dir      string // base name of the suite directory
	jobName  string
	testName string
}

func (s *suite) covDir() string {
	return filepath.Join(s.root, s.dir, coverageDirName)
}

// suites lists the suite directories under the root. A directory is a suite
// iff it contains a coverage/ subdirectory.
func (c *CoverageIndexer) suites() ([]*suite, error) {
	entries, err := os.ReadDir(c.Root)
	if err != nil {
		return nil, errors.Annotate(err, "failed to read coverage root %q", c.Root).Err()
	}

	var suites []*suite
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if stat, err := os.Stat(filepath.Join(c.Root, e.Name(), coverageDirName)); err != nil || !stat.IsDir() {
			continue
		}
		job, test := readSuiteMetadata(filepath.Join(c.Root, e.Name()), e.Name())
		suites = append(suites, &suite{
			root:     c.Root,
			dir:      e.Name(),
			jobName:  job,
			testName: test,
		})
	}
	return suites, nil
}

// readSuiteMetadata reads the optional metadata.json of a suite.
// Absent or unreadable metadata is not an error; the suite directory name
// substitutes for each missing field.
func readSuiteMetadata(suiteDir, fallback string) (jobName, testName string) {
	jobName = fallback
	testName = fallback

	data, err := os.ReadFile(filepath.Join(suiteDir, metadataFileName))
	if err != nil {
		return
	}
	var md struct {
		JobName string `json:"job_name"`
		Test    string `json:"test"`
	}
	if err := json.Unmarshal(data, &md); err != nil {
		return
	}
	if md.JobName != "" {
		jobName = md.JobName
	}
	if md.Test != "" {
		testName = md.Test
	}
	return
}

// coverageLine is one statement-range record of the textual coverage format:
//
//	<module>/<rel/path>.go:<span> <numStatements> <execCount>
type coverageLine struct {
	file  string // path as reported by the coverage tool, module prefix included
	span  string // startLine.startCol,endLine.endCol
	count int    // execution count
}

// rangeKey identifies the covered statement range across suites.
func (l *coverageLine) rangeKey() string {
	return l.file + ":" + l.span
}

// parseCoverageLine parses one line of the textual coverage format.
// Returns (nil, nil) for blank lines and format headers. Any other line
// that does not match the format is a hard error: a silently skipped
// malformed line would produce an incomplete, falsely confident index.
func parseCoverageLine(line string) (*coverageLine, error) {
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "mode:") {
		return nil, nil
	}

	fields := strings.Fields(line)
	if len(fields) < 3 {
		return nil, errors.Reason("malformed coverage line %q: want 3 fields, got %d", line, len(fields)).Err()
	}
	loc := strings.SplitN(fields[0], ":", 2)
	if len(loc) < 2 {
		return nil, errors.Reason("malformed coverage location %q: missing range", fields[0]).Err()
	}
	count, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, errors.Annotate(err, "malformed execution count in %q", line).Err()
	}

	return &coverageLine{
		file:  loc[0],
		span:  loc[1],
		count: count,
	}, nil
}

// trimModulePrefix strips the first n path segments, turning a
// coverage-reported path into a repo-relative one. Paths with no segments
// left normalize to "".
func trimModulePrefix(p string, n int) string {
	segs := strings.Split(p, "/")
	if len(segs) <= n {
		return ""
	}
	return strings.Join(segs[n:], "/")
}
