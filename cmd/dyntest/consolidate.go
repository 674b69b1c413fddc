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
)

func cmdConsolidate() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: `consolidate -commit <sha> [flags]`,
		ShortDesc: "merge per-job shards into one consolidated index",
		LongDesc: text.Doc(`
			Download every per-job shard published for the commit, merge them
			and upload the result as the commit's consolidated index. Only
			consolidated indexes are considered by tests-to-run.
		`),
		CommandRun: func() subcommands.CommandRun {
			r := &consolidateRun{}
			r.registerBaseFlags()
			r.Flags.StringVar(&r.commit, "commit", "", "Commit whose shards to consolidate.")
			return r
		},
	}
}

type consolidateRun struct {
	baseCommandRun
	commit string
}

func (r *consolidateRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, r, env)
	if len(args) != 0 {
		return r.done(ctx, errors.New("unexpected positional arguments"))
	}
	return r.done(ctx, r.run(ctx))
}

func (r *consolidateRun) run(ctx context.Context) error {
	if r.commit == "" {
		return errors.New("-commit is required")
	}
	kind, err := r.indexKind()
	if err != nil {
		return err
	}
	be, err := r.newBackend(ctx)
	if err != nil {
		return err
	}

	idx, err := be.ConsolidateIndex(ctx, kind, r.commit)
	if err != nil {
		return errors.Annotate(err, "failed to consolidate the shards of commit %q", r.commit).Err()
	}
	dest, err := be.UploadIndex(ctx, idx, kind, r.commit)
	if err != nil {
		return err
	}
	fmt.Printf("uploaded %s\n", dest)
	return nil
}
