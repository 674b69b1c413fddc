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

// Package executor answers "which tests are impacted by these changed
// files" for a given commit, using the nearest published ancestor index.
//
// Indexes are expensive to build (they require full coverage runs), so they
// are published only periodically. A later commit walks back through history
// to the closest commit with a usable index; the staleness this introduces
// is the accepted price for not rebuilding the index on every commit.
package executor

import (
	"context"

	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"github.com/DataDog/dyntest/backend"
	"github.com/DataDog/dyntest/index"
)

// Repo answers version-control ancestry queries.
// Implemented by gitrepo.Repo.
type Repo interface {
	// IsAncestor reports whether ancestor is reachable by following parent
	// links backward from commit.
	IsAncestor(ctx context.Context, ancestor, commit string) (bool, error)
}

// Executor predicts impacted tests for one commit.
type Executor struct {
	kind        backend.Kind
	commit      string
	indexCommit string
	idx         *index.Index
}

// New finds the most recent indexed commit that is an ancestor of commit and
// loads its consolidated index.
//
// The backend reports indexed commits most recently published first and the
// scan commits to the first ancestor, which yields the closest usable index.
// Finding none is a hard error: silently falling back to an empty index
// would disable impact filtering and skip every test.
func New(ctx context.Context, be backend.Backend, kind backend.Kind, repo Repo, commit string) (*Executor, error) {
	keys, err := be.ListIndexedKeys(ctx, kind)
	if err != nil {
		return nil, errors.Annotate(err, "failed to list indexed commits").Err()
	}

	for _, key := range keys {
		switch ok, err := repo.IsAncestor(ctx, key, commit); {
		case err != nil:
			return nil, errors.Annotate(err, "failed ancestry check of indexed commit %q", key).Err()
		case !ok:
			logging.Debugf(ctx, "indexed commit %s is not an ancestor of %s", key, commit)
		default:
			idx, err := be.FetchIndex(ctx, kind, key)
			if err != nil {
				return nil, errors.Annotate(err, "failed to fetch the index of commit %q", key).Err()
			}
			logging.Infof(ctx, "using the %s index of ancestor commit %s", kind, key)
			return &Executor{
				kind:        kind,
				commit:      commit,
				indexCommit: key,
				idx:         idx,
			}, nil
		}
	}
	return nil, errors.Reason("no %s dynamic test index found for any ancestor of commit %q", kind, commit).Err()
}

// TestsToRun returns the tests of job impacted by the changed components.
func (e *Executor) TestsToRun(job string, changedComponents []string) stringset.Set {
	return e.idx.ImpactedTests(changedComponents, job)
}

// TestsToRunPerJob returns the impacted tests of every indexed job.
func (e *Executor) TestsToRunPerJob(changedComponents []string) map[string]stringset.Set {
	return e.idx.ImpactedTestsPerJob(changedComponents)
}

// Index returns the loaded index.
func (e *Executor) Index() *index.Index {
	return e.idx
}

// IndexCommit returns the commit whose index was selected.
func (e *Executor) IndexCommit() string {
	return e.indexCommit
}

// Kind returns the kind of the loaded index.
func (e *Executor) Kind() backend.Kind {
	return e.kind
}
