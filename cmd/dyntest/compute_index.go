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
	luciflag "go.chromium.org/luci/common/flag"

	"github.com/DataDog/dyntest/backend"
	"github.com/DataDog/dyntest/indexer"
)

func cmdComputeIndex() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: `compute-index -coverage-root <dir> [flags]`,
		ShortDesc: "build a dynamic test index from coverage data",
		LongDesc: text.Doc(`
			Build a dynamic test index from a directory of per-suite coverage
			runs, then write it to a local file and/or upload it as a per-job
			shard to the index storage.
		`),
		CommandRun: func() subcommands.CommandRun {
			r := &computeIndexRun{}
			r.registerBaseFlags()
			r.Flags.StringVar(&r.coverageRoot, "coverage-root", "", "Directory with one subdirectory per test-suite run.")
			r.Flags.Var(luciflag.StringSlice(&r.runAll), "run-all",
				"Path glob pattern whose modification forces all tests to run; may be repeated.")
			r.Flags.StringVar(&r.baselineSuite, "baseline-suite", "",
				"Suite whose coverage to subtract from the others; diffed_package kind only.")
			r.Flags.IntVar(&r.prefixSegments, "prefix-segments", 0,
				"Leading path segments to strip from coverage-reported paths; 0 means the default of 3.")
			r.Flags.StringVar(&r.out, "out", "", "Write the index to this local file.")
			r.Flags.BoolVar(&r.upload, "upload", false, "Upload the index as a per-job shard.")
			r.Flags.StringVar(&r.commit, "commit", "", "Commit the coverage was collected at; required with -upload.")
			r.Flags.StringVar(&r.jobID, "job-id", "", "CI job identifier of the shard; required with -upload.")
			return r
		},
	}
}

type computeIndexRun struct {
	baseCommandRun
	coverageRoot   string
	runAll         []string
	baselineSuite  string
	prefixSegments int
	out            string
	upload         bool
	commit         string
	jobID          string
}

func (r *computeIndexRun) validate() error {
	switch {
	case r.coverageRoot == "":
		return errors.New("-coverage-root is required")
	case r.out == "" && !r.upload:
		return errors.New("nothing to do: pass -out and/or -upload")
	case r.upload && r.commit == "":
		return errors.New("-commit is required with -upload")
	case r.upload && r.jobID == "":
		return errors.New("-job-id is required with -upload")
	default:
		return nil
	}
}

func (r *computeIndexRun) newIndexer(kind backend.Kind) (indexer.Indexer, error) {
	var cov *indexer.CoverageIndexer
	switch kind {
	case backend.KindFile:
		cov = indexer.NewFileCoverage(r.coverageRoot)
	case backend.KindPackage:
		cov = indexer.NewPackageCoverage(r.coverageRoot)
	case backend.KindDiffedPackage:
		if r.baselineSuite == "" {
			return nil, errors.New("-baseline-suite is required for the diffed_package kind")
		}
		diffed := indexer.NewDiffedPackageCoverage(r.coverageRoot, r.baselineSuite)
		diffed.RunAllPaths = r.runAll
		diffed.PrefixSegments = r.prefixSegments
		return diffed, nil
	default:
		return nil, errors.Reason("no indexer for kind %q", kind).Err()
	}
	cov.RunAllPaths = r.runAll
	cov.PrefixSegments = r.prefixSegments
	return cov, nil
}

func (r *computeIndexRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, r, env)
	if len(args) != 0 {
		return r.done(ctx, errors.New("unexpected positional arguments"))
	}
	return r.done(ctx, r.run(ctx))
}

func (r *computeIndexRun) run(ctx context.Context) error {
	if err := r.validate(); err != nil {
		return err
	}
	kind, err := r.indexKind()
	if err != nil {
		return err
	}

	ix, err := r.newIndexer(kind)
	if err != nil {
		return err
	}
	idx, err := ix.ComputeIndex(ctx)
	if err != nil {
		return errors.Annotate(err, "failed to compute the index").Err()
	}

	if r.out != "" {
		if err := idx.DumpFile(r.out); err != nil {
			return errors.Annotate(err, "failed to write %q", r.out).Err()
		}
		fmt.Printf("wrote %s\n", r.out)
	}

	if r.upload {
		be, err := r.newBackend(ctx)
		if err != nil {
			return err
		}
		dest, err := be.UploadIndex(ctx, idx, kind, r.commit+"/"+r.jobID)
		if err != nil {
			return err
		}
		fmt.Printf("uploaded %s\n", dest)
	}
	return nil
}
