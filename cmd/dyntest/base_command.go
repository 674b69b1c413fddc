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

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"github.com/DataDog/dyntest/backend"
)

// baseCommandRun carries the flags every subcommand needs: where indexes
// live and which index kind to operate on.
type baseCommandRun struct {
	subcommands.CommandRunBase
	s3Bucket string
	s3Prefix string
	kind     string
}

func (r *baseCommandRun) registerBaseFlags() {
	r.Flags.StringVar(&r.s3Bucket, "s3-bucket", "", "S3 bucket holding the dynamic test indexes.")
	r.Flags.StringVar(&r.s3Prefix, "s3-prefix", "", "Key prefix inside the bucket.")
	r.Flags.StringVar(&r.kind, "kind", string(backend.KindPackage),
		fmt.Sprintf("Index kind; one of %q.", backend.Kinds()))
}

func (r *baseCommandRun) indexKind() (backend.Kind, error) {
	kind := backend.Kind(r.kind)
	if err := kind.Validate(); err != nil {
		return "", err
	}
	return kind, nil
}

func (r *baseCommandRun) newBackend(ctx context.Context) (backend.Backend, error) {
	if r.s3Bucket == "" {
		return nil, errors.New("-s3-bucket is required")
	}
	return backend.NewS3(ctx, r.s3Bucket, r.s3Prefix)
}

func (r *baseCommandRun) done(ctx context.Context, err error) int {
	if err != nil {
		logging.Errorf(ctx, "%s", err)
		return 1
	}
	return 0
}
