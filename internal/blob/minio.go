package blob

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/metrics"
)

// MinIOConfig holds connection settings for an S3-compatible endpoint.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// MinIOStore implements Store with minio-go.
type MinIOStore struct {
	client *minio.Client
	region string
}

// NewMinIO creates a client for the configured endpoint.
func NewMinIO(cfg MinIOConfig) (*MinIOStore, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, eris.Wrap(err, "blob: minio client")
	}
	return &MinIOStore{client: cli, region: cfg.Region}, nil
}

// EnsureBuckets creates any missing bucket.
func (s *MinIOStore) EnsureBuckets(ctx context.Context, buckets ...string) error {
	for _, b := range buckets {
		exists, err := s.client.BucketExists(ctx, b)
		if err != nil {
			return eris.Wrapf(err, "blob: bucket exists %s", b)
		}
		if exists {
			continue
		}
		if err := s.client.MakeBucket(ctx, b, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return eris.Wrapf(err, "blob: make bucket %s", b)
		}
	}
	return nil
}

func (s *MinIOStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	metrics.StorageOperations.WithLabelValues("put", metrics.Result(err)).Inc()
	return eris.Wrapf(err, "blob: put %s/%s", bucket, key)
}

func (s *MinIOStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		metrics.StorageOperations.WithLabelValues("get", "failure").Inc()
		return nil, eris.Wrapf(err, "blob: get %s/%s", bucket, key)
	}
	defer obj.Close() //nolint:errcheck

	// GetObject is lazy; a missing key surfaces on first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		metrics.StorageOperations.WithLabelValues("get", "failure").Inc()
		if isNotFound(err) {
			return nil, eris.Wrapf(ErrNotFound, "blob: get %s/%s", bucket, key)
		}
		return nil, eris.Wrapf(err, "blob: read %s/%s", bucket, key)
	}
	metrics.StorageOperations.WithLabelValues("get", "success").Inc()
	return data, nil
}

func (s *MinIOStore) Copy(ctx context.Context, bucket, srcKey, dstKey string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: bucket, Object: srcKey},
	)
	metrics.StorageOperations.WithLabelValues("copy", metrics.Result(err)).Inc()
	return eris.Wrapf(err, "blob: copy %s/%s to %s", bucket, srcKey, dstKey)
}

func (s *MinIOStore) Delete(ctx context.Context, bucket, key string) error {
	err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	metrics.StorageOperations.WithLabelValues("delete", metrics.Result(err)).Inc()
	return eris.Wrapf(err, "blob: delete %s/%s", bucket, key)
}

func (s *MinIOStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		metrics.StorageOperations.WithLabelValues("stat", "success").Inc()
		return true, nil
	}
	if isNotFound(err) {
		metrics.StorageOperations.WithLabelValues("stat", "success").Inc()
		return false, nil
	}
	metrics.StorageOperations.WithLabelValues("stat", "failure").Inc()
	return false, eris.Wrapf(err, "blob: stat %s/%s", bucket, key)
}

func (s *MinIOStore) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			metrics.StorageOperations.WithLabelValues("list", "failure").Inc()
			return nil, eris.Wrapf(obj.Err, "blob: list %s/%s", bucket, prefix)
		}
		out = append(out, ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
	}
	metrics.StorageOperations.WithLabelValues("list", "success").Inc()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey"
}
