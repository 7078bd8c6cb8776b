package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures the S3-compatible backend. The container is a bucket
// and the archive is the object ArtifactName under Prefix.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	UseSSL    bool
}

// objectInfo is the subset of object metadata the backend reads.
type objectInfo struct {
	Key          string
	LastModified time.Time
}

// objectClient defines the minimal minio.Client operations used by S3.
// This interface enables testing with mock implementations.
type objectClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket, region string) error
	StatObject(ctx context.Context, bucket, key string) (objectInfo, error)
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

// minioClientWrapper wraps *minio.Client to satisfy the objectClient interface.
type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return w.client.BucketExists(ctx, bucket)
}

func (w *minioClientWrapper) MakeBucket(ctx context.Context, bucket, region string) error {
	return w.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func (w *minioClientWrapper) StatObject(ctx context.Context, bucket, key string) (objectInfo, error) {
	info, err := w.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return objectInfo{}, err
	}
	return objectInfo{Key: info.Key, LastModified: info.LastModified}, nil
}

func (w *minioClientWrapper) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := w.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func (w *minioClientWrapper) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := w.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	return err
}

// S3 stores the archive as a single object in a bucket.
type S3 struct {
	client objectClient
	cfg    S3Config
	cache  IDCache
}

// NewS3 returns an S3 backend. The bearer token is used as the secret key
// paired with the configured access key.
func NewS3(token string, cfg S3Config, cache IDCache) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 backend: bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, token, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}
	return &S3{client: &minioClientWrapper{client: client}, cfg: cfg, cache: cache}, nil
}

func (s *S3) objectKey() string {
	if s.cfg.Prefix == "" {
		return ArtifactName
	}
	return path.Join(s.cfg.Prefix, ArtifactName)
}

// EnsureContainer verifies or creates the bucket and caches the result.
func (s *S3) EnsureContainer(ctx context.Context) (string, error) {
	key := "s3:bucket:" + s.cfg.Bucket
	id, err := cachedID(ctx, s.cache, key)
	if err != nil {
		return "", fmt.Errorf("read cached bucket: %w", err)
	}
	if id != "" {
		return id, nil
	}

	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return "", mapS3Error("find bucket", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.cfg.Bucket, s.cfg.Region); err != nil {
			return "", mapS3Error("create bucket", err)
		}
		slog.Info("created remote bucket",
			"component", "remote",
			"backend", "s3",
			"bucket", s.cfg.Bucket,
		)
	}

	if s.cache != nil {
		if err := s.cache.SetRemoteID(ctx, key, s.cfg.Bucket); err != nil {
			slog.Warn("failed to cache bucket",
				"component", "remote",
				"backend", "s3",
				"error", err,
			)
		}
	}
	return s.cfg.Bucket, nil
}

// LocateArtifact stats the archive object; a missing object is not an error.
func (s *S3) LocateArtifact(ctx context.Context, containerID string) (*Artifact, error) {
	info, err := s.client.StatObject(ctx, containerID, s.objectKey())
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, mapS3Error("find artifact", err)
	}
	return &Artifact{ID: info.Key, ModifiedTime: info.LastModified.UTC()}, nil
}

// Download reads the archive object. The artifact id is the object key.
func (s *S3) Download(ctx context.Context, artifactID string) ([]byte, error) {
	data, err := s.client.GetObject(ctx, s.cfg.Bucket, artifactID)
	if err != nil {
		return nil, mapS3Error("download", err)
	}
	return data, nil
}

// Upload writes the archive object. Object stores overwrite by key, so the
// create and update paths are the same request.
func (s *S3) Upload(ctx context.Context, containerID string, data []byte) error {
	if err := s.client.PutObject(ctx, containerID, s.objectKey(), data, artifactMimeType); err != nil {
		return mapS3Error("upload", err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

// mapS3Error converts a service error response to *HTTPError. Transport
// errors are wrapped unchanged.
func mapS3Error(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == 0 {
		return fmt.Errorf("remote %s: %w", op, err)
	}
	body := resp.Code
	if resp.Message != "" {
		body += ": " + resp.Message
	}
	return &HTTPError{Op: op, StatusCode: resp.StatusCode, Body: body}
}
