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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/sync/parallel"

	"github.com/DataDog/dyntest/index"
)

// consolidateConcurrency bounds parallel shard downloads.
const consolidateConcurrency = 8

// Client is the subset of the S3 API the backend uses.
// Non-production implementations are used for testing.
type Client interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 implements Backend on top of an S3 bucket.
type S3 struct {
	client Client
	bucket string
	prefix string // base key prefix inside the bucket, may be ""
}

// NewS3 returns an S3 backend using the ambient AWS configuration
// (environment, shared config files, instance role).
func NewS3(ctx context.Context, bucket, prefix string) (*S3, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "failed to load AWS configuration").Err()
	}
	return NewS3WithClient(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// NewS3WithClient returns an S3 backend using the given client.
func NewS3WithClient(client Client, bucket, prefix string) *S3 {
	return &S3{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// UploadIndex implements Backend.
func (s *S3) UploadIndex(ctx context.Context, idx *index.Index, kind Kind, key string) (string, error) {
	data, err := json.Marshal(idx)
	if err != nil {
		return "", err
	}

	objKey := s.objectKey(indexPath(kind, key))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", errors.Annotate(err, "failed to upload index to s3://%s/%s", s.bucket, objKey).Err()
	}
	return "s3://" + s.bucket + "/" + objKey, nil
}

// FetchIndex implements Backend.
func (s *S3) FetchIndex(ctx context.Context, kind Kind, key string) (*index.Index, error) {
	return s.fetchObject(ctx, s.objectKey(indexPath(kind, key)))
}

// ConsolidateIndex implements Backend.
func (s *S3) ConsolidateIndex(ctx context.Context, kind Kind, key string) (*index.Index, error) {
	dir := s.objectKey(path.Join(kindDir(kind), key))
	objects, err := s.listObjects(ctx, dir)
	if err != nil {
		return nil, err
	}

	var shardKeys []string
	for _, obj := range objects {
		if shardPath(strings.TrimPrefix(obj.key, dir+"/")) {
			shardKeys = append(shardKeys, obj.key)
		}
	}

	consolidated := index.New()
	var mu sync.Mutex
	err = parallel.WorkPool(consolidateConcurrency, func(work chan<- func() error) {
		for _, shardKey := range shardKeys {
			shardKey := shardKey
			work <- func() error {
				shard, err := s.fetchObject(ctx, shardKey)
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				consolidated.Merge(shard)
				return nil
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return consolidated, nil
}

// ListIndexedKeys implements Backend.
func (s *S3) ListIndexedKeys(ctx context.Context, kind Kind) ([]string, error) {
	dir := s.objectKey(kindDir(kind))
	objects, err := s.listObjects(ctx, dir)
	if err != nil {
		return nil, err
	}

	type indexedKey struct {
		key      string
		modified time.Time
	}
	var keys []indexedKey
	for _, obj := range objects {
		if key, ok := consolidatedKey(strings.TrimPrefix(obj.key, dir+"/")); ok {
			keys = append(keys, indexedKey{key: key, modified: obj.modified})
		}
	}
	sort.SliceStable(keys, func(i, j int) bool { return keys[i].modified.After(keys[j].modified) })

	ret := make([]string, len(keys))
	for i, k := range keys {
		ret[i] = k.key
	}
	return ret, nil
}

// objectKey converts a layout-relative path to a full bucket key.
func (s *S3) objectKey(rel string) string {
	if s.prefix == "" {
		return rel
	}
	return s.prefix + "/" + rel
}

// fetchObject downloads one object and decodes it as an index.
func (s *S3) fetchObject(ctx context.Context, objKey string) (*index.Index, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		return nil, errors.Annotate(err, "failed to fetch s3://%s/%s", s.bucket, objKey).Err()
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Annotate(err, "failed to read s3://%s/%s", s.bucket, objKey).Err()
	}
	idx := index.New()
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, errors.Annotate(err, "corrupted index at s3://%s/%s", s.bucket, objKey).Err()
	}
	return idx, nil
}

type object struct {
	key      string
	modified time.Time
}

// listObjects lists all objects under dir, following pagination.
func (s *S3) listObjects(ctx context.Context, dir string) ([]object, error) {
	var objects []object
	pager := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(dir + "/"),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errors.Annotate(err, "failed to list s3://%s/%s/", s.bucket, dir).Err()
		}
		for _, obj := range page.Contents {
			objects = append(objects, object{
				key:      aws.ToString(obj.Key),
				modified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}
