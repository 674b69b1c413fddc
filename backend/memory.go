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

package backend

import (
	"context"
	"encoding/json"
	"path"
	"sort"
	"strings"
	"time"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"

	"github.com/DataDog/dyntest/index"
)

// Memory is an in-memory Backend, used as a test double.
//
// Modification times come from the context clock, so listing order is
// controllable with testclock.
type Memory struct {
	objects map[string]memObject
	seq     int
}

type memObject struct {
	data     []byte
	modified time.Time
	seq      int // tie-breaker for equal timestamps: later writes first
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{objects: map[string]memObject{}}
}

// SetObject stores raw object content, bypassing serialization. Lets tests
// plant corrupted shards.
func (m *Memory) SetObject(ctx context.Context, rel string, data []byte) {
	m.seq++
	m.objects[rel] = memObject{data: data, modified: clock.Now(ctx), seq: m.seq}
}

// UploadIndex implements Backend.
func (m *Memory) UploadIndex(ctx context.Context, idx *index.Index, kind Kind, key string) (string, error) {
	data, err := json.Marshal(idx)
	if err != nil {
		return "", err
	}
	rel := indexPath(kind, key)
	m.SetObject(ctx, rel, data)
	return "mem://" + rel, nil
}

// FetchIndex implements Backend.
func (m *Memory) FetchIndex(ctx context.Context, kind Kind, key string) (*index.Index, error) {
	return m.decode(indexPath(kind, key))
}

// ConsolidateIndex implements Backend.
func (m *Memory) ConsolidateIndex(ctx context.Context, kind Kind, key string) (*index.Index, error) {
	dir := path.Join(kindDir(kind), key)
	consolidated := index.New()
	for _, rel := range m.sortedKeys() {
		if !strings.HasPrefix(rel, dir+"/") || !shardPath(strings.TrimPrefix(rel, dir+"/")) {
			continue
		}
		shard, err := m.decode(rel)
		if err != nil {
			return nil, err
		}
		consolidated.Merge(shard)
	}
	return consolidated, nil
}

// ListIndexedKeys implements Backend.
func (m *Memory) ListIndexedKeys(ctx context.Context, kind Kind) ([]string, error) {
	dir := kindDir(kind)
	type indexedKey struct {
		key string
		obj memObject
	}
	var keys []indexedKey
	for rel, obj := range m.objects {
		if !strings.HasPrefix(rel, dir+"/") {
			continue
		}
		if key, ok := consolidatedKey(strings.TrimPrefix(rel, dir+"/")); ok {
			keys = append(keys, indexedKey{key: key, obj: obj})
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].obj.modified.Equal(keys[j].obj.modified) {
			return keys[i].obj.modified.After(keys[j].obj.modified)
		}
		return keys[i].obj.seq > keys[j].obj.seq
	})

	ret := make([]string, len(keys))
	for i, k := range keys {
		ret[i] = k.key
	}
	return ret, nil
}

func (m *Memory) decode(rel string) (*index.Index, error) {
	obj, ok := m.objects[rel]
	if !ok {
		return nil, errors.Reason("no object at %q", rel).Err()
	}
	idx := index.New()
	if err := json.Unmarshal(obj.data, idx); err != nil {
		return nil, errors.Annotate(err, "corrupted index at %q", rel).Err()
	}
	return idx, nil
}

func (m *Memory) sortedKeys() []string {
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
