// Package blob stores uploaded card media and returns the URL cards
// reference.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"cadence/api/internal/util"
)

// MaxUploadSize bounds a single card upload.
const MaxUploadSize = 50 << 20

// Config holds object storage configuration.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL prefixes returned object URLs. Defaults to the endpoint.
	PublicURL string
}

func (c Config) IsConfigured() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Key builds the object key {folder}/{ulid}-{name}. The ulid keeps keys
// sortable by upload time and unique per upload.
func Key(folder, name string, at time.Time) string {
	name = unsafeNameChars.ReplaceAllString(path.Base(strings.ReplaceAll(name, "\\", "/")), "-")
	name = strings.Trim(name, "-.")
	if name == "" {
		name = "upload"
	}
	folder = strings.Trim(folder, "/")
	key := strings.ToLower(util.NewSortableID(at)) + "-" + name
	if folder == "" {
		return key
	}
	return folder + "/" + key
}

// MinioStore stores objects in an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	config Config
	now    func() time.Time
}

func NewMinioStore(ctx context.Context, config Config) (*MinioStore, error) {
	if !config.IsConfigured() {
		return nil, fmt.Errorf("blob: minio endpoint and bucket are required")
	}
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("blob: create minio client: %w", err)
	}
	s := &MinioStore{client: client, config: config, now: time.Now}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.config.Bucket)
	if err != nil {
		return fmt.Errorf("blob: check bucket %s: %w", s.config.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.config.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("blob: create bucket %s: %w", s.config.Bucket, err)
	}
	return nil
}

// Ping checks the bucket is reachable.
func (s *MinioStore) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.config.Bucket); err != nil {
		return fmt.Errorf("blob: ping: %w", err)
	}
	return nil
}

func (s *MinioStore) Upload(ctx context.Context, folder, name string, body io.Reader, size int64, contentType string) (string, error) {
	if size > MaxUploadSize {
		return "", fmt.Errorf("blob: upload of %d bytes exceeds %d", size, MaxUploadSize)
	}
	key := Key(folder, name, s.now())
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := s.client.PutObject(ctx, s.config.Bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("blob: put %s: %w", key, err)
	}
	return PublicURL(s.config, key), nil
}

// PublicURL is the URL a stored object is served from.
func PublicURL(config Config, key string) string {
	base := strings.TrimRight(config.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if config.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + config.Endpoint + "/" + url.PathEscape(config.Bucket)
	}
	return base + "/" + key
}

// MemoryStore keeps uploads in process. It backs local development when
// no object store is configured; objects are served from BaseURL.
type MemoryStore struct {
	BaseURL string

	mu      sync.RWMutex
	objects map[string]Object
	now     func() time.Time
}

// Object is a stored upload.
type Object struct {
	ContentType string
	Data        []byte
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{BaseURL: strings.TrimRight(baseURL, "/"), objects: make(map[string]Object), now: time.Now}
}

func (s *MemoryStore) Upload(ctx context.Context, folder, name string, body io.Reader, size int64, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := io.ReadAll(io.LimitReader(body, MaxUploadSize+1))
	if err != nil {
		return "", fmt.Errorf("blob: read upload: %w", err)
	}
	if len(data) > MaxUploadSize {
		return "", fmt.Errorf("blob: upload exceeds %d bytes", MaxUploadSize)
	}
	key := Key(folder, name, s.now())
	s.mu.Lock()
	s.objects[key] = Object{ContentType: contentType, Data: data}
	s.mu.Unlock()
	return s.BaseURL + "/" + key, nil
}

// Get returns a stored object.
func (s *MemoryStore) Get(key string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return Object{}, false
	}
	return Object{ContentType: obj.ContentType, Data: bytes.Clone(obj.Data)}, true
}
