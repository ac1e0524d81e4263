package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type ObjectConfig struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	UseSSL   bool
	Prefix   string
}

// ObjectStore keeps artifacts in a MinIO/S3 bucket. It backs the deferred
// job path, where sources are uploaded ahead of time via presigned URLs and
// outputs live under a shared prefix. Retention is left to the bucket's
// lifecycle policy.
type ObjectStore struct {
	minio  *minio.Client
	bucket string
	prefix string
}

func NewObjectStore(cfg ObjectConfig) (*ObjectStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "outputs"
	}

	return &ObjectStore{minio: mc, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (s *ObjectStore) Bucket() string { return s.bucket }

func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.minio.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := s.minio.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := s.minio.BucketExists(ctx, s.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// PresignedPutURL hands back an upload URL for one source object.
func (s *ObjectStore) PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := s.minio.PresignedPutObject(ctx, s.bucket, objectKey, expiry)
	if err != nil {
		return "", fmt.Errorf("presign put object: %w", err)
	}
	return u.String(), nil
}

func (s *ObjectStore) ObjectExists(ctx context.Context, objectKey string) (bool, error) {
	_, err := s.minio.StatObject(ctx, s.bucket, objectKey, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}

	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject" {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", objectKey, err)
}

// ReadObject fetches a source object by its full key.
func (s *ObjectStore) ReadObject(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := s.minio.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", objectKey, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", objectKey, err)
	}
	return data, nil
}

// Put implements BlobStore. The reference is the object key under the
// output prefix.
func (s *ObjectStore) Put(ctx context.Context, suggestedName string, data []byte, contentType string) (string, error) {
	ref := path.Join(s.prefix, uniqueRef(suggestedName))
	_, err := s.minio.PutObject(
		ctx,
		s.bucket,
		ref,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", ref, err)
	}
	return ref, nil
}

// Get implements BlobStore.
func (s *ObjectStore) Get(ctx context.Context, ref string) ([]byte, string, error) {
	data, err := s.ReadObject(ctx, ref)
	if err != nil {
		return nil, "", err
	}
	return data, contentTypeForRef(ref), nil
}
