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
	"fmt"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"

	"github.com/DataDog/dyntest/backend"
)

// Metric names are a contract with the consuming dashboards; the exact
// strings must be preserved.
const (
	metricActual             = "datadog_agent.ci.dynamic_test.evaluator.actual_executed_tests"
	metricPredicted          = "datadog_agent.ci.dynamic_test.evaluator.predicted_executed_tests"
	metricNotExecutedFailing = "datadog_agent.ci.dynamic_test.evaluator.not_executed_failing_tests"
)

const searchPageLimit = 1000

// Datadog lists executed tests from CI Visibility and submits evaluator
// metrics. Credentials come from the client library's conventional
// environment (DD_API_KEY, DD_APP_KEY, DD_SITE).
type Datadog struct {
	// PipelineID scopes test searches and tags emitted metrics.
	PipelineID string
	// Kind tags emitted metrics with the evaluated index kind.
	Kind backend.Kind

	metrics *datadogV2.MetricsApi
	tests   *datadogV2.CIVisibilityTestsApi
}

// NewDatadog returns a Datadog client for the given index kind and pipeline.
func NewDatadog(kind backend.Kind, pipelineID string) *Datadog {
	client := datadog.NewAPIClient(datadog.NewConfiguration())
	return &Datadog{
		PipelineID: pipelineID,
		Kind:       kind,
		metrics:    datadogV2.NewMetricsApi(client),
		tests:      datadogV2.NewCIVisibilityTestsApi(client),
	}
}

// ListTestsForJob implements TestLister over the CI Visibility search API.
func (d *Datadog) ListTestsForJob(ctx context.Context, job string) ([]ExecutedTest, error) {
	dctx := datadog.NewDefaultContext(ctx)
	query := fmt.Sprintf("@ci.pipeline.id:%s @ci.job.name:%q", d.PipelineID, job)
	body := datadogV2.CIAppTestEventsRequest{
		Filter: &datadogV2.CIAppTestsQueryFilter{
			From:  datadog.PtrString("now-15d"),
			To:    datadog.PtrString("now"),
			Query: datadog.PtrString(query),
		},
		Page: &datadogV2.CIAppQueryPageOptions{
			Limit: datadog.PtrInt32(searchPageLimit),
		},
	}

	var tests []ExecutedTest
	for {
		resp, _, err := d.tests.SearchCIAppTestEvents(dctx,
			*datadogV2.NewSearchCIAppTestEventsOptionalParameters().WithBody(body))
		if err != nil {
			return nil, errors.Annotate(err, "CI Visibility search failed for job %q", job).Err()
		}
		for _, ev := range resp.Data {
			if t, ok := executedTestFromEvent(ev); ok {
				tests = append(tests, t)
			}
		}
		if len(resp.Data) == 0 || resp.Meta == nil || resp.Meta.Page == nil || resp.Meta.Page.After == nil {
			break
		}
		body.Page.Cursor = resp.Meta.Page.After
	}
	return tests, nil
}

// SendStats emits the three evaluator count metrics for every job, batched
// into a single intake payload.
func (d *Datadog) SendStats(ctx context.Context, results []Result) error {
	series := d.metricSeries(clock.Now(ctx).Unix(), results)

	dctx := datadog.NewDefaultContext(ctx)
	resp, _, err := d.metrics.SubmitMetrics(dctx, datadogV2.MetricPayload{Series: series},
		*datadogV2.NewSubmitMetricsOptionalParameters())
	if err != nil {
		return errors.Annotate(err, "failed to submit evaluator metrics").Err()
	}
	if len(resp.Errors) > 0 {
		return errors.Reason("metric intake rejected the payload: %q", resp.Errors).Err()
	}
	return nil
}

// metricSeries builds the intake series for all results at one timestamp.
func (d *Datadog) metricSeries(timestamp int64, results []Result) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, 3*len(results))
	for _, r := range results {
		tags := []string{
			"pipeline_id:" + d.PipelineID,
			"index_kind:" + string(d.Kind),
			"job:" + r.Job,
		}
		for _, m := range []struct {
			name  string
			value int
		}{
			{metricActual, r.Actual.Len()},
			{metricPredicted, r.Predicted.Len()},
			{metricNotExecutedFailing, r.NotExecutedFailing.Len()},
		} {
			series = append(series, datadogV2.MetricSeries{
				Metric: m.name,
				Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
				Tags:   tags,
				Points: []datadogV2.MetricPoint{{
					Timestamp: datadog.PtrInt64(timestamp),
					Value:     datadog.PtrFloat64(float64(m.value)),
				}},
			})
		}
	}
	return series
}

// executedTestFromEvent extracts an ExecutedTest from a CI Visibility event.
// Events without a test name are dropped.
func executedTestFromEvent(ev datadogV2.CIAppTestEvent) (ExecutedTest, bool) {
	if ev.Attributes == nil || ev.Attributes.Attributes == nil {
		return ExecutedTest{}, false
	}
	attrs := ev.Attributes.Attributes

	name := nestedString(attrs, "test", "name")
	if name == "" {
		return ExecutedTest{}, false
	}
	return ExecutedTest{
		Name:       name,
		Status:     nestedString(attrs, "test", "status"),
		PipelineID: nestedString(attrs, "ci", "pipeline", "id"),
		JobID:      nestedString(attrs, "ci", "job", "id"),
		JobName:    nestedString(attrs, "ci", "job", "name"),
		Unreliable: nestedBool(attrs, "test", "is_known_flaky") || nestedBool(attrs, "test", "is_flaky"),
	}, true
}

// nestedString walks nested event attribute maps and returns "" on any miss.
func nestedString(m map[string]any, path ...string) string {
	v := nested(m, path...)
	s, _ := v.(string)
	return s
}

func nestedBool(m map[string]any, path ...string) bool {
	v := nested(m, path...)
	b, _ := v.(bool)
	return b
}

func nested(m map[string]any, path ...string) any {
	var v any = m
	for _, key := range path {
		mm, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = mm[key]
	}
	return v
}
