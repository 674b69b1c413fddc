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

package eval

import (
	"context"
	"testing"
	"time"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/clock/testclock"
	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"

	"github.com/DataDog/dyntest/backend"
	"github.com/DataDog/dyntest/executor"
	"github.com/DataDog/dyntest/index"

	. "github.com/smartystreets/goconvey/convey"
	. "go.chromium.org/luci/common/testing/assertions"
)

type fakeLister struct {
	tests map[string][]ExecutedTest
}

func (l *fakeLister) ListTestsForJob(ctx context.Context, job string) ([]ExecutedTest, error) {
	return l.tests[job], nil
}

type anyAncestorRepo struct{}

func (anyAncestorRepo) IsAncestor(ctx context.Context, ancestor, commit string) (bool, error) {
	return true, nil
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	Convey(`With a published index and an executor over it`, t, func() {
		tc := testclock.New(testclock.TestRecentTimeUTC)
		tc.SetTimerCallback(func(d time.Duration, t clock.Timer) { tc.Add(d) })
		ctx := clock.Set(context.Background(), tc)

		be := backend.NewMemory()
		idx := index.New()
		idx.AddTests("job1", "pkg/a", "T1", "T2")
		idx.AddTests("job1", "pkg/b", "T3")
		_, err := be.UploadIndex(ctx, idx, backend.KindPackage, "base")
		So(err, ShouldBeNil)

		exec, err := executor.New(ctx, be, backend.KindPackage, anyAncestorRepo{}, "head")
		So(err, ShouldBeNil)

		evaluate := func(lister TestLister, changed ...string) []Result {
			e := &Evaluator{Executor: exec, Lister: lister, Pause: time.Millisecond}
			results, err := e.Evaluate(ctx, changed)
			So(err, ShouldBeNil)
			return results
		}

		Convey(`a predicted failure is not flagged`, func() {
			lister := &fakeLister{tests: map[string][]ExecutedTest{
				"job1": {
					{Name: "T1", Status: "passed"},
					{Name: "T2", Status: StatusFailed},
				},
			}}
			results := evaluate(lister, "pkg/a")
			So(results, ShouldHaveLength, 1)
			So(results[0].Job, ShouldEqual, "job1")
			So(results[0].Actual, ShouldResemble, stringset.NewFromSlice("T1", "T2"))
			So(results[0].Predicted, ShouldResemble, stringset.NewFromSlice("T1", "T2"))
			So(results[0].NotExecutedFailing, ShouldBeEmpty)
		})

		Convey(`a failure the prediction would have skipped is flagged`, func() {
			lister := &fakeLister{tests: map[string][]ExecutedTest{
				"job1": {
					{Name: "T2", Status: StatusFailed},
					{Name: "T3", Status: "passed"},
				},
			}}
			results := evaluate(lister, "pkg/b")
			So(results[0].Predicted, ShouldResemble, stringset.NewFromSlice("T3"))
			So(results[0].NotExecutedFailing, ShouldResemble, stringset.NewFromSlice("T2"))
		})

		Convey(`unreliable failures do not count`, func() {
			lister := &fakeLister{tests: map[string][]ExecutedTest{
				"job1": {
					{Name: "T2", Status: StatusFailed, Unreliable: true},
				},
			}}
			results := evaluate(lister, "pkg/b")
			So(results[0].Actual, ShouldResemble, stringset.NewFromSlice("T2"))
			So(results[0].NotExecutedFailing, ShouldBeEmpty)
		})

		Convey(`tests absent from the index are ignored entirely`, func() {
			lister := &fakeLister{tests: map[string][]ExecutedTest{
				"job1": {
					{Name: "TUnknown", Status: StatusFailed},
					{Name: "T1", Status: "passed"},
				},
			}}
			results := evaluate(lister, "pkg/a")
			So(results[0].Actual, ShouldResemble, stringset.NewFromSlice("T1"))
			So(results[0].NotExecutedFailing, ShouldBeEmpty)
		})

		Convey(`lister failures propagate`, func() {
			e := &Evaluator{Executor: exec, Lister: &failingLister{}, Pause: time.Millisecond}
			_, err := e.Evaluate(ctx, []string{"pkg/a"})
			So(err, ShouldErrLike, `failed to list executed tests of job "job1"`)
		})
	})
}

type failingLister struct{}

func (failingLister) ListTestsForJob(ctx context.Context, job string) ([]ExecutedTest, error) {
	return nil, errors.New("telemetry unavailable")
}
