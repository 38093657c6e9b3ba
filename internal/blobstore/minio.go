// Package blobstore keeps uploaded documents and assembled archives in an
// S3-compatible bucket (MinIO in development).
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"prearrival/api/internal/pack"
	"prearrival/api/internal/util"
)

// FilesPrefix is the API route under which stored objects are served.
const FilesPrefix = "/api/files/"

var ErrNotFound = errors.New("object not found")

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	// PublicURL is the API base URL used to build fetchable file URLs.
	PublicURL string
	// ShareTTL is the lifetime of presigned archive links.
	ShareTTL time.Duration
}

type Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
	shareTTL  time.Duration
	fallback  pack.Fetcher
}

type Object struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
	ETag        string
}

// New builds the client. It does not contact the server; call EnsureBucket.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("blobstore: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	ttl := cfg.ShareTTL
	if ttl <= 0 || ttl > 7*24*time.Hour {
		ttl = 7 * 24 * time.Hour
	}
	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		shareTTL:  ttl,
		fallback:  pack.HTTPFetcher{MaxBytes: 64 << 20},
	}, nil
}

func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Ping reports whether the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

// DocumentKey is the object key for a document upload.
func DocumentKey(requestID, docID, fileName string) string {
	return path.Join("requests", pack.Sanitize(requestID), pack.Sanitize(docID), util.NewID("")+"_"+pack.Sanitize(fileName))
}

// ArchiveKey is the object key for a shared or uploaded archive.
func ArchiveKey(name string) string {
	return path.Join("archives", pack.PathSafe(name))
}

// Put stores r under key and returns the URL that records should carry.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return s.FileURL(key), nil
}

// Open streams an object. The caller closes Body.
func (s *Store) Open(ctx context.Context, key string) (Object, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return Object{}, fmt.Errorf("get %s: %w", key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return Object{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Object{}, fmt.Errorf("stat %s: %w", key, err)
	}
	return Object{Body: obj, Size: info.Size, ContentType: info.ContentType, ETag: info.ETag}, nil
}

// FileURL is the API URL that serves key.
func (s *Store) FileURL(key string) string {
	return s.publicURL + FilesPrefix + key
}

// KeyFromURL recovers the object key from a URL produced by FileURL.
func (s *Store) KeyFromURL(fileURL string) (string, bool) {
	prefix := s.publicURL + FilesPrefix
	if !strings.HasPrefix(fileURL, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(fileURL, prefix)
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	key, err := url.PathUnescape(key)
	if err != nil || key == "" || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}

// Fetch reads our own files straight from the bucket and anything else over
// HTTP.
func (s *Store) Fetch(ctx context.Context, fileURL string) ([]byte, error) {
	key, ok := s.KeyFromURL(fileURL)
	if !ok {
		return s.fallback.Fetch(ctx, fileURL)
	}
	obj, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// UploadArchive stores a zip under archives/ and returns a presigned link
// that works without API credentials.
func (s *Store) UploadArchive(ctx context.Context, name string, data []byte) (string, error) {
	key := ArchiveKey(name)
	if _, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:        "application/zip",
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", path.Base(key)),
	}); err != nil {
		return "", fmt.Errorf("put archive %s: %w", key, err)
	}
	return s.ShareURL(ctx, key)
}

// ShareURL presigns a GET for key valid for the configured share TTL.
func (s *Store) ShareURL(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.shareTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

func (s *Store) ShareTTL() time.Duration {
	return s.shareTTL
}
