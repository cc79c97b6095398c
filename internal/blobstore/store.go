package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverS3     = "s3"

	defaultMaxGetSize int64 = 4 << 20
)

var (
	ErrInvalidConfig = errors.New("blobstore: invalid config")
	ErrInvalidKey    = errors.New("blobstore: invalid key")
	ErrNotFound      = errors.New("blobstore: not found")
	ErrTooLarge      = errors.New("blobstore: object too large")
)

// Store keeps relay artifacts (oracle claims, submitted transactions) for later audit.
type Store interface {
	Put(ctx context.Context, key string, payload []byte, contentType string) error
	Get(ctx context.Context, key string) (Object, error)
	Exists(ctx context.Context, key string) (bool, error)
}

type Object struct {
	Key          string
	Data         []byte
	ContentType  string
	ETag         string
	LastModified time.Time
}

type Config struct {
	Driver string
	Prefix string

	// MaxGetSize bounds bytes returned by Get. Defaults to 4 MiB.
	MaxGetSize int64

	Bucket   string
	S3Client S3Client
}

type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// New returns nil, nil for DriverNone so callers can leave artifact capture off.
func New(cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverNone, "":
		return nil, nil
	case DriverMemory:
		return NewMemory(cfg.Prefix), nil
	case DriverS3:
		s, err := newS3Store(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

func checkKey(key string) (string, error) {
	if key != strings.TrimSpace(key) {
		return "", fmt.Errorf("%w: surrounding whitespace", ErrInvalidKey)
	}
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: bad segment in %q", ErrInvalidKey, key)
		}
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return "", fmt.Errorf("%w: control characters", ErrInvalidKey)
		}
	}
	return key, nil
}

func withPrefix(prefix, key string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// Memory is an in-process Store, used in tests and single-shot runs.
type Memory struct {
	mu      sync.RWMutex
	prefix  string
	objects map[string]Object
	now     func() time.Time
}

func NewMemory(prefix string) *Memory {
	return &Memory{prefix: prefix, objects: make(map[string]Object), now: time.Now}
}

func (m *Memory) Put(_ context.Context, key string, payload []byte, contentType string) error {
	k, err := checkKey(key)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(payload)
	m.mu.Lock()
	m.objects[withPrefix(m.prefix, k)] = Object{
		Key:          k,
		Data:         append([]byte(nil), payload...),
		ContentType:  strings.TrimSpace(contentType),
		ETag:         hex.EncodeToString(sum[:16]),
		LastModified: m.now().UTC(),
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (Object, error) {
	k, err := checkKey(key)
	if err != nil {
		return Object{}, err
	}
	m.mu.RLock()
	obj, ok := m.objects[withPrefix(m.prefix, k)]
	m.mu.RUnlock()
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	obj.Data = append([]byte(nil), obj.Data...)
	return obj, nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	k, err := checkKey(key)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	_, ok := m.objects[withPrefix(m.prefix, k)]
	m.mu.RUnlock()
	return ok, nil
}

// Keys lists stored logical keys. Order is unspecified.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objects))
	for _, obj := range m.objects {
		out = append(out, obj.Key)
	}
	return out
}

type s3Store struct {
	client     S3Client
	bucket     string
	prefix     string
	maxGetSize int64
}

func newS3Store(cfg Config) (*s3Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", ErrInvalidConfig)
	}
	if cfg.S3Client == nil {
		return nil, fmt.Errorf("%w: s3 client is required", ErrInvalidConfig)
	}
	maxGet := cfg.MaxGetSize
	if maxGet <= 0 {
		maxGet = defaultMaxGetSize
	}
	return &s3Store{client: cfg.S3Client, bucket: bucket, prefix: cfg.Prefix, maxGetSize: maxGet}, nil
}

func (s *s3Store) Put(ctx context.Context, key string, payload []byte, contentType string) error {
	k, err := checkKey(key)
	if err != nil {
		return err
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(withPrefix(s.prefix, k)),
		Body:   bytes.NewReader(payload),
	}
	if ct := strings.TrimSpace(contentType); ct != "" {
		in.ContentType = aws.String(ct)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("blobstore/s3: put %q: %w", k, err)
	}
	return nil
}

func (s *s3Store) Get(ctx context.Context, key string) (Object, error) {
	k, err := checkKey(key)
	if err != nil {
		return Object{}, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(withPrefix(s.prefix, k)),
	})
	if err != nil {
		if isNotFound(err) {
			return Object{}, fmt.Errorf("%w: %s", ErrNotFound, k)
		}
		return Object{}, fmt.Errorf("blobstore/s3: get %q: %w", k, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(out.Body, s.maxGetSize+1))
	if err != nil {
		return Object{}, fmt.Errorf("blobstore/s3: read %q: %w", k, err)
	}
	if int64(len(data)) > s.maxGetSize {
		return Object{}, fmt.Errorf("%w: %q exceeds %d bytes", ErrTooLarge, k, s.maxGetSize)
	}
	return Object{
		Key:          k,
		Data:         data,
		ContentType:  aws.ToString(out.ContentType),
		ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

func (s *s3Store) Exists(ctx context.Context, key string) (bool, error) {
	k, err := checkKey(key)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(withPrefix(s.prefix, k)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("blobstore/s3: head %q: %w", k, err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound", "404":
		return true
	}
	return false
}
