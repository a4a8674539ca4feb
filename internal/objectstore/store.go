package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"radiologger/internal/config"
	"radiologger/internal/logging"
)

// ErrNotConfigured is returned when no bucket is configured.
var ErrNotConfigured = errors.New("object storage not configured")

// Store is a bucket-scoped S3 client.
type Store struct {
	client         *minio.Client
	bucket         string
	endpoint       string
	requestTimeout time.Duration
	uploadTimeout  time.Duration
	logger         *slog.Logger
}

// Option customizes a Store.
type Option func(*minio.Options)

// WithTransport overrides the HTTP transport used for every request.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *minio.Options) { o.Transport = rt }
}

// New builds a Store from the storage section of cfg.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Store, error) {
	if cfg == nil || !cfg.StorageConfigured() {
		return nil, ErrNotConfigured
	}
	host, secure, err := parseEndpoint(cfg.Storage.Endpoint)
	if err != nil {
		return nil, err
	}
	options := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		Secure: secure,
		Region: cfg.Storage.Region,
	}
	for _, opt := range opts {
		opt(options)
	}
	client, err := minio.New(host, options)
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &Store{
		client:         client,
		bucket:         cfg.Storage.Bucket,
		endpoint:       cfg.Storage.Endpoint,
		requestTimeout: time.Duration(cfg.Storage.RequestTimeoutSeconds) * time.Second,
		uploadTimeout:  time.Duration(cfg.Storage.UploadTimeoutSeconds) * time.Second,
		logger:         logging.NewComponentLogger(logger, "objectstore"),
	}, nil
}

// Bucket returns the configured bucket name.
func (s *Store) Bucket() string {
	return s.bucket
}

// Put uploads localPath to key.
func (s *Store) Put(ctx context.Context, key, localPath string) error {
	ctx, cancel := withTimeout(ctx, s.uploadTimeout)
	defer cancel()
	info, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	s.logger.Debug("object uploaded",
		logging.String("key", key),
		logging.Int64("size", info.Size),
	)
	return nil
}

// Exists reports whether key is present. A missing key is not an error.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := withTimeout(ctx, s.requestTimeout)
	defer cancel()
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head %s: %w", key, err)
}

// Stat returns the stored size of key. A missing key is not an error.
func (s *Store) Stat(ctx context.Context, key string) (int64, bool, error) {
	ctx, cancel := withTimeout(ctx, s.requestTimeout)
	defer cancel()
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return info.Size, true, nil
	}
	if isNotFound(err) {
		return 0, false, nil
	}
	return 0, false, fmt.Errorf("head %s: %w", key, err)
}

// List returns every key under prefix in ascending order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := withTimeout(ctx, s.uploadTimeout)
	defer cancel()
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := withTimeout(ctx, s.requestTimeout)
	defer cancel()
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Presign returns a time-limited GET URL for key.
func (s *Store) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	ctx, cancel := withTimeout(ctx, s.requestTimeout)
	defer cancel()
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

// Ping verifies the bucket is reachable with the configured credentials.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, s.requestTimeout)
	defer cancel()
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("reach bucket %s at %s: %w", s.bucket, s.endpoint, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist at %s", s.bucket, s.endpoint)
	}
	return nil
}

func parseEndpoint(raw string) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("storage endpoint is empty")
	}
	if !strings.Contains(raw, "://") {
		return strings.TrimSuffix(raw, "/"), true, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse storage endpoint: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("storage endpoint %q has no host", raw)
	}
	switch u.Scheme {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("storage endpoint %q: unsupported scheme %q", raw, u.Scheme)
	}
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return resp.StatusCode == http.StatusNotFound
}

func contentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
