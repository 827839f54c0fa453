package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig describes the object store connection.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

// MinioConfigFromEnv reads the object store settings from the
// environment. Returns false when no endpoint is configured, letting
// callers fall back to a local store.
func MinioConfigFromEnv() (MinioConfig, bool, error) {
	endpoint := os.Getenv("STORYREEL_MINIO_ENDPOINT")
	if strings.TrimSpace(endpoint) == "" {
		return MinioConfig{}, false, nil
	}
	useSSL := false
	if raw := os.Getenv("STORYREEL_MINIO_USE_SSL"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return MinioConfig{}, false, fmt.Errorf("STORYREEL_MINIO_USE_SSL: %w", err)
		}
		useSSL = parsed
	}
	cfg := MinioConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("STORYREEL_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("STORYREEL_MINIO_SECRET_KEY"),
		Region:    envOr("STORYREEL_MINIO_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    envOr("STORYREEL_MINIO_BUCKET", "storyreel-artifacts"),
	}
	if err := cfg.Validate(); err != nil {
		return MinioConfig{}, false, err
	}
	return cfg, true, nil
}

func (c MinioConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("minio endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("minio endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("minio credentials are required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("minio bucket is required")
	}
	return nil
}

// MinioStore persists artifacts in an S3-compatible bucket. References
// have the form minio://bucket/key.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the object store and ensures the artifact
// bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("make bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinioStore) PutFile(ctx context.Context, key, path, contentType string) (string, error) {
	_, err := s.client.FPutObject(ctx, s.bucket, key, path, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", err
	}
	return s.ref(key), nil
}

func (s *MinioStore) PutBytes(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", err
	}
	return s.ref(key), nil
}

func (s *MinioStore) Fetch(ctx context.Context, ref, dest string) error {
	bucket, key, err := parseRef(ref)
	if err != nil {
		return err
	}
	return s.client.FGetObject(ctx, bucket, key, dest, minio.GetObjectOptions{})
}

func (s *MinioStore) ref(key string) string {
	return fmt.Sprintf("minio://%s/%s", s.bucket, key)
}

func parseRef(ref string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(ref, "minio://")
	if !ok {
		return "", "", fmt.Errorf("not an object store reference: %q", ref)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed object store reference: %q", ref)
	}
	return bucket, key, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
