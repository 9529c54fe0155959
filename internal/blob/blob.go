// Package blob stores immutable objects in S3-compatible buckets and
// provides the temp-then-copy writer used for every partitioned output.
package blob

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned by Get for a missing object.
var ErrNotFound = eris.New("blob: object not found")

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is an S3-style object store.
type Store interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Copy(ctx context.Context, bucket, srcKey, dstKey string) error
	Delete(ctx context.Context, bucket, key string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
	// List returns every object under prefix in key order.
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
}

// LatestKey returns the lexically greatest key under prefix, which for
// timestamped keys is the newest. ok is false when the prefix is empty.
func LatestKey(ctx context.Context, s Store, bucket, prefix string) (key string, ok bool, err error) {
	objs, err := s.List(ctx, bucket, prefix)
	if err != nil {
		return "", false, err
	}
	if len(objs) == 0 {
		return "", false, nil
	}
	return objs[len(objs)-1].Key, true, nil
}
