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
	"context"
	"os"
	"time"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/data/text"
	"go.chromium.org/luci/common/errors"

	"github.com/DataDog/dyntest/eval"
	"github.com/DataDog/dyntest/executor"
	"github.com/DataDog/dyntest/gitrepo"
)

func cmdEvaluate() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: `evaluate -pipeline-id <id> -diff-base <sha> [flags]`,
		ShortDesc: "compare predicted tests against a pipeline's reality",
		LongDesc: text.Doc(`
			Compare the tests the index predicts as impacted against the tests
			a historical pipeline actually ran, per job, and report failing
			tests the prediction would have skipped.

			Requires Datadog credentials in DD_API_KEY and DD_APP_KEY.
		`),
		CommandRun: func() subcommands.CommandRun {
			r := &evaluateRun{}
			r.registerBaseFlags()
			r.Flags.StringVar(&r.pipelineID, "pipeline-id", "", "CI pipeline to evaluate against.")
			r.Flags.StringVar(&r.commit, "commit", "", "Commit the pipeline ran on; defaults to the checkout's HEAD.")
			r.Flags.StringVar(&r.repoDir, "repo", ".", "Path to the git checkout.")
			r.Flags.StringVar(&r.diffBase, "diff-base", "", "Base of the change set the pipeline tested.")
			r.Flags.DurationVar(&r.pause, "pause", 0, "Delay between per-job telemetry queries; 0 means 1s.")
			r.Flags.BoolVar(&r.sendMetrics, "send-metrics", false, "Submit the evaluator metrics to Datadog.")
			return r
		},
	}
}

type evaluateRun struct {
	baseCommandRun
	pipelineID  string
	commit      string
	repoDir     string
	diffBase    string
	pause       time.Duration
	sendMetrics bool
}

func (r *evaluateRun) validate() error {
	switch {
	case r.pipelineID == "":
		return errors.New("-pipeline-id is required")
	case r.diffBase == "":
		return errors.New("-diff-base is required")
	default:
		return nil
	}
}

func (r *evaluateRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, r, env)
	if len(args) != 0 {
		return r.done(ctx, errors.New("unexpected positional arguments"))
	}
	return r.done(ctx, r.run(ctx))
}

func (r *evaluateRun) run(ctx context.Context) error {
	if err := r.validate(); err != nil {
		return err
	}
	kind, err := r.indexKind()
	if err != nil {
		return err
	}
	repo := gitrepo.New(r.repoDir)

	commit := r.commit
	if commit == "" {
		if commit, err = repo.RevParse(ctx, "HEAD"); err != nil {
			return errors.Annotate(err, "failed to resolve HEAD; pass -commit or -repo").Err()
		}
	}
	files, err := repo.ChangedFiles(ctx, r.diffBase, commit)
	if err != nil {
		return err
	}

	be, err := r.newBackend(ctx)
	if err != nil {
		return err
	}
	exec, err := executor.New(ctx, be, kind, repo, commit)
	if err != nil {
		return err
	}
	components, err := changedComponents(kind, exec.Index(), files)
	if err != nil {
		return err
	}

	dd := eval.NewDatadog(kind, r.pipelineID)
	e := &eval.Evaluator{
		Executor: exec,
		Lister:   dd,
		Pause:    r.pause,
	}
	results, err := e.Evaluate(ctx, components)
	if err != nil {
		return err
	}

	if err := eval.PrintSummary(os.Stdout, results); err != nil {
		return err
	}
	if r.sendMetrics {
		return dd.SendStats(ctx, results)
	}
	return nil
}
