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

// Package eval measures dynamic test prediction quality offline.
//
// It compares the tests the executor predicts as impacted against the tests
// a historical pipeline actually ran, per job. The comparison is restricted
// to indexed tests: the system only evaluates decisions it actually makes.
// The critical signal is a test that failed for real but would have been
// skipped — that is silent CI quality degradation.
package eval

import (
	"context"
	"time"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"github.com/DataDog/dyntest/executor"
)

// StatusFailed is the executed-test status marking a failure.
const StatusFailed = "failed"

// defaultPause separates per-job telemetry queries to stay under API rate
// limits. It carries no correctness weight.
const defaultPause = time.Second

// ExecutedTest is one historical test outcome from CI telemetry.
type ExecutedTest struct {
	Name       string
	Status     string
	PipelineID string
	JobID      string
	JobName    string

	// Unreliable marks a known-flaky failure that must not count as a
	// genuine regression signal.
	Unreliable bool
}

// Result compares prediction against ground truth for one job.
//
// All three sets are subsets of the job's indexed tests. Immutable once
// computed; not persisted.
type Result struct {
	Job string

	// Actual are the tests the pipeline executed.
	Actual stringset.Set

	// Predicted are the tests the executor would have run.
	Predicted stringset.Set

	// NotExecutedFailing are tests that failed with a reliable status but
	// were not predicted to run. Ideally empty.
	NotExecutedFailing stringset.Set
}

// TestLister retrieves historical test outcomes from CI telemetry.
// Implemented by Datadog.
type TestLister interface {
	ListTestsForJob(ctx context.Context, job string) ([]ExecutedTest, error)
}

// Evaluator compares the executor's predictions with a pipeline's reality.
type Evaluator struct {
	Executor *executor.Executor
	Lister   TestLister

	// Pause is the delay between per-job telemetry queries.
	// 0 means defaultPause.
	Pause time.Duration
}

// Evaluate computes one Result per indexed job, for the given change set.
func (e *Evaluator) Evaluate(ctx context.Context, changedComponents []string) ([]Result, error) {
	idx := e.Executor.Index()
	jobs := idx.Jobs()

	results := make([]Result, 0, len(jobs))
	for i, job := range jobs {
		if i > 0 {
			if tr := clock.Sleep(ctx, e.pause()); tr.Incomplete() {
				return nil, tr.Err
			}
		}

		indexed := idx.IndexedTestsForJob(job)
		predicted := e.Executor.TestsToRun(job, changedComponents).Intersect(indexed)

		executed, err := e.Lister.ListTestsForJob(ctx, job)
		if err != nil {
			return nil, errors.Annotate(err, "failed to list executed tests of job %q", job).Err()
		}

		actual := stringset.New(len(executed))
		notExecutedFailing := stringset.New(0)
		for _, t := range executed {
			if !indexed.Has(t.Name) {
				continue
			}
			actual.Add(t.Name)
			if t.Status == StatusFailed && !t.Unreliable && !predicted.Has(t.Name) {
				notExecutedFailing.Add(t.Name)
			}
		}
		logging.Infof(ctx, "job %s: %d executed, %d predicted, %d failing and skipped",
			job, actual.Len(), predicted.Len(), notExecutedFailing.Len())

		results = append(results, Result{
			Job:                job,
			Actual:             actual,
			Predicted:          predicted,
			NotExecutedFailing: notExecutedFailing,
		})
	}
	return results, nil
}

func (e *Evaluator) pause() time.Duration {
	if e.Pause == 0 {
		return defaultPause
	}
	return e.Pause
}
