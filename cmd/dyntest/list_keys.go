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
	"go.chromium.org/luci/common/errors"
)

func cmdListKeys() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: `list-keys [flags]`,
		ShortDesc: "list commits with a published consolidated index",
		LongDesc:  "List commits with a published consolidated index, most recently published first.",
		CommandRun: func() subcommands.CommandRun {
			r := &listKeysRun{}
			r.registerBaseFlags()
			return r
		},
	}
}

type listKeysRun struct {
	baseCommandRun
}

func (r *listKeysRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, r, env)
	if len(args) != 0 {
		return r.done(ctx, errors.New("unexpected positional arguments"))
	}
	return r.done(ctx, r.run(ctx))
}

func (r *listKeysRun) run(ctx context.Context) error {
	kind, err := r.indexKind()
	if err != nil {
		return err
	}
	be, err := r.newBackend(ctx)
	if err != nil {
		return err
	}

	keys, err := be.ListIndexedKeys(ctx, kind)
	if err != nil {
		return err
	}
	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}
