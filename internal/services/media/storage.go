package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"github.com/gitsmash/mapid/internal/domain/enums"
)

var ErrValidation = errors.New("validation error")

// Storage is the object store contract the submission pipeline depends on.
type Storage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

type S3Config struct {
	Bucket    string
	PublicURL string
	Endpoint  string
	UseSSL    bool
}

type S3Storage struct {
	client *minio.Client
	cfg    S3Config

	ensureOnce sync.Once
	ensureErr  error
}

func NewS3Storage(client *minio.Client, cfg S3Config) *S3Storage {
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.PublicURL = strings.TrimRight(strings.TrimSpace(cfg.PublicURL), "/")
	return &S3Storage{
		client: client,
		cfg:    cfg,
	}
}

func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("s3 client is nil")
	}
	if s.cfg.Bucket == "" {
		return fmt.Errorf("s3 bucket is empty")
	}

	s.ensureOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
		if err != nil {
			s.ensureErr = err
			return
		}
		if exists {
			return
		}
		s.ensureErr = s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{})
	})

	if s.ensureErr != nil {
		return fmt.Errorf("ensure s3 bucket %q: %w", s.cfg.Bucket, s.ensureErr)
	}

	return nil
}

// Put uploads one object and returns its public URL.
func (s *S3Storage) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("s3 client is nil")
	}
	if key == "" || len(data) == 0 {
		return "", ErrValidation
	}
	if strings.TrimSpace(contentType) == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put object to s3: %w", err)
	}

	return s.publicURL(key), nil
}

func (s *S3Storage) Delete(ctx context.Context, key string) error {
	if s.client == nil || key == "" {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *S3Storage) publicURL(key string) string {
	escaped := url.PathEscape(key)
	// PathEscape encodes the separators too, keep them readable.
	escaped = strings.ReplaceAll(escaped, "%2F", "/")

	if s.cfg.PublicURL != "" {
		return fmt.Sprintf("%s/%s/%s", s.cfg.PublicURL, s.cfg.Bucket, escaped)
	}

	scheme := "http"
	if s.cfg.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.cfg.Endpoint, s.cfg.Bucket, escaped)
}

// BuildObjectKey places every variant of one upload under the owner and post
// prefix. Drafts that do not have a post id yet land under "staging".
func BuildObjectKey(userID, postID int64, variant enums.Variant, ext string) string {
	owner := fmt.Sprintf("user_%d", userID)

	postSegment := "staging"
	if postID > 0 {
		postSegment = fmt.Sprintf("post_%d", postID)
	}

	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	if ext == "" {
		ext = "bin"
	}

	stamp := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s/%s/%s_%s_%s.%s", owner, postSegment, stamp, uuid.NewString(), variant, ext)
}
