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

// Package backend persists dynamic test indexes in object storage.
//
// Layout, relative to the configured base prefix:
//
//	dynamic_test/<kind>/<commit>/<job_id>/index.json   per-job shard
//	dynamic_test/<kind>/<commit>/index.json            consolidated index
package backend

import (
	"context"
	"path"
	"strings"

	"go.chromium.org/luci/common/errors"

	"github.com/DataDog/dyntest/index"
)

const (
	storageRoot   = "dynamic_test"
	indexFileName = "index.json"
)

// Kind distinguishes index flavors sharing the same storage layout.
type Kind string

const (
	// KindFile indexes coverage per file.
	KindFile Kind = "file"
	// KindPackage indexes coverage per package.
	KindPackage Kind = "package"
	// KindDiffedPackage indexes per-package coverage exclusive to each run.
	KindDiffedPackage Kind = "diffed_package"
)

// Kinds lists all valid index kinds.
func Kinds() []Kind {
	return []Kind{KindFile, KindPackage, KindDiffedPackage}
}

// Validate returns an error for an unknown kind.
func (k Kind) Validate() error {
	switch k {
	case KindFile, KindPackage, KindDiffedPackage:
		return nil
	default:
		return errors.Reason("invalid index kind %q", k).Err()
	}
}

// Backend stores and retrieves index shards.
//
// Storage and network errors propagate to the caller; retry policy, if any,
// belongs to the underlying storage client.
type Backend interface {
	// UploadIndex serializes idx to <kind>/<key>/index.json and uploads it.
	// key is typically "<commit>/<job_id>" for a per-job shard or "<commit>"
	// for a consolidated index. Returns the destination identifier.
	UploadIndex(ctx context.Context, idx *index.Index, kind Kind, key string) (string, error)

	// ConsolidateIndex downloads every per-job shard under <kind>/<key>/ and
	// merges them into one index. An undecodable shard is a hard error: a
	// corrupted shard silently skipped would produce an incomplete, falsely
	// confident index.
	ConsolidateIndex(ctx context.Context, kind Kind, key string) (*index.Index, error)

	// FetchIndex downloads and parses exactly <kind>/<key>/index.json.
	FetchIndex(ctx context.Context, kind Kind, key string) (*index.Index, error)

	// ListIndexedKeys returns the commit keys that have a consolidated index
	// published, most recently modified first. The order is a contract: the
	// executor commits to the first ancestor it encounters.
	ListIndexedKeys(ctx context.Context, kind Kind) ([]string, error)
}

// indexPath returns the object path of an index, relative to the base prefix.
func indexPath(kind Kind, key string) string {
	return path.Join(storageRoot, string(kind), key, indexFileName)
}

// kindDir returns the directory holding all indexes of one kind, relative to
// the base prefix.
func kindDir(kind Kind) string {
	return path.Join(storageRoot, string(kind))
}

// consolidatedKey extracts the commit key from an object path relative to the
// kind directory. Only paths at exactly one segment of depth qualify;
// per-job shards are two segments deep.
func consolidatedKey(rel string) (string, bool) {
	segs := strings.Split(rel, "/")
	if len(segs) == 2 && segs[1] == indexFileName {
		return segs[0], true
	}
	return "", false
}

// shardPath reports whether an object path relative to <kind>/<key> is a
// per-job shard.
func shardPath(rel string) bool {
	segs := strings.Split(rel, "/")
	return len(segs) == 2 && segs[1] == indexFileName
}
