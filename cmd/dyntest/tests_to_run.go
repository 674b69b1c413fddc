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
	"fmt"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/data/text"
	"go.chromium.org/luci/common/errors"

	"github.com/DataDog/dyntest/executor"
	"github.com/DataDog/dyntest/gitrepo"
)

func cmdTestsToRun() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: `tests-to-run [flags] [changed files...]`,
		ShortDesc: "predict the tests impacted by a set of changed files",
		LongDesc: text.Doc(`
			Load the index of the nearest indexed ancestor of the commit and
			print the tests it predicts as impacted by the changed files.

			Changed files are taken from the positional arguments, or computed
			with git when -diff-base is given.
		`),
		CommandRun: func() subcommands.CommandRun {
			r := &testsToRunRun{}
			r.registerBaseFlags()
			r.Flags.StringVar(&r.commit, "commit", "", "Commit to predict for; defaults to the checkout's HEAD.")
			r.Flags.StringVar(&r.job, "job", "", "Restrict the prediction to this job.")
			r.Flags.StringVar(&r.repoDir, "repo", ".", "Path to the git checkout.")
			r.Flags.StringVar(&r.diffBase, "diff-base", "", "Compute changed files as git diff against this base.")
			return r
		},
	}
}

type testsToRunRun struct {
	baseCommandRun
	commit   string
	job      string
	repoDir  string
	diffBase string
}

func (r *testsToRunRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, r, env)
	return r.done(ctx, r.run(ctx, args))
}

func (r *testsToRunRun) run(ctx context.Context, files []string) error {
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
	if len(files) == 0 {
		if r.diffBase == "" {
			return errors.New("changed files are required, as arguments or via -diff-base")
		}
		if files, err = repo.ChangedFiles(ctx, r.diffBase, commit); err != nil {
			return err
		}
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

	if r.job != "" {
		tests := expandRunAll(exec.Index(), r.job, exec.TestsToRun(r.job, components))
		for _, t := range tests.ToSortedSlice() {
			fmt.Println(t)
		}
		return nil
	}

	perJob := exec.TestsToRunPerJob(components)
	for _, job := range exec.Index().Jobs() {
		fmt.Printf("%s:\n", job)
		for _, t := range expandRunAll(exec.Index(), job, perJob[job]).ToSortedSlice() {
			fmt.Printf("  %s\n", t)
		}
	}
	return nil
}
