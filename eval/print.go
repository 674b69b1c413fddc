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
	"fmt"
	"io"
)

const (
	ansiRed   = "\033[31m"
	ansiBold  = "\033[1m"
	ansiReset = "\033[0m"
)

// PrintSummary renders the evaluation as a unified-diff-style report.
//
// Per job, tests in both sets are unmarked, tests only executed are marked
// "-" (highlighted when they failed and would have been skipped), tests only
// predicted are marked "+". A warning banner closes the report when any
// failing test would have been skipped.
func PrintSummary(w io.Writer, results []Result) error {
	p := &printer{w: w}

	totalActual, totalPredicted, totalFailing := 0, 0, 0
	for _, r := range results {
		p.printf("%s: %d executed, %d predicted\n", r.Job, r.Actual.Len(), r.Predicted.Len())
		for _, test := range r.Actual.Union(r.Predicted).ToSortedSlice() {
			switch {
			case r.NotExecutedFailing.Has(test):
				p.printf("%s- %s (failed, would have been skipped)%s\n", ansiRed, test, ansiReset)
			case r.Actual.Has(test) && r.Predicted.Has(test):
				p.printf("  %s\n", test)
			case r.Actual.Has(test):
				p.printf("- %s\n", test)
			default:
				p.printf("+ %s\n", test)
			}
		}
		p.printf("\n")

		totalActual += r.Actual.Len()
		totalPredicted += r.Predicted.Len()
		totalFailing += r.NotExecutedFailing.Len()
	}

	p.printf("total: %d executed, %d predicted across %d jobs\n", totalActual, totalPredicted, len(results))
	if totalFailing > 0 {
		p.printf("%s%sWARNING: %d failing test(s) would have been skipped!%s\n",
			ansiBold, ansiRed, totalFailing, ansiReset)
	}
	return p.err
}

// printer accumulates the first write error so each printf needs no check.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err == nil {
		_, p.err = fmt.Fprintf(p.w, format, args...)
	}
}
