// Package s3 implements pkg/pfs against an S3-compatible object store,
// the way pkg/blocks/store/s3 backs the teacher's block cache: one
// client, one bucket, an optional key prefix.
//
// S3 objects have no positional-write API, so PWrite here is a
// read-modify-write of the whole object: it GETs the current bytes (if
// any), patches the requested range in memory, and PUTs the result
// back. That is fine for the access pattern this store actually sees —
// a file session flushes its extents once, sequentially, on close —
// but it is not safe for concurrent writers to the same path, and a
// PWrite to a very large object pays for a full round trip. A real
// multipart-upload-backed writer would remove that limit; this one
// favors staying close to the teacher's S3 client pattern.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tangramfs/tangramfs/pkg/pfs"
)

// Config holds configuration for the S3-backed store.
type Config struct {
	// Bucket is the S3 bucket name.
	Bucket string

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible
	// services such as MinIO).
	Endpoint string

	// KeyPrefix is prepended to every object key. Should end with "/"
	// if non-empty.
	KeyPrefix string

	// ForcePathStyle forces path-style addressing, required for MinIO
	// and similar S3-compatible endpoints.
	ForcePathStyle bool
}

// Store is an S3-backed pfs.Store.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string

	mu     sync.Mutex
	closed bool
}

var _ pfs.Store = (*Store)(nil)

// New returns a Store using an existing S3 client.
func New(client *s3.Client, cfg Config) *Store {
	return &Store{client: client, bucket: cfg.Bucket, keyPrefix: cfg.KeyPrefix}
}

// NewFromConfig builds an S3 client from cfg and the default AWS
// credential chain, then returns a Store.
func NewFromConfig(ctx context.Context, cfg Config) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("pfs/s3: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	return New(client, cfg), nil
}

func (s *Store) key(path string) string {
	return s.keyPrefix + strings.TrimPrefix(path, "/")
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("pfs/s3: store closed")
	}
	return nil
}

func (s *Store) getObject(ctx context.Context, path string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, pfs.ErrNotFound
		}
		return nil, fmt.Errorf("pfs/s3: get object %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pfs/s3: read object body %s: %w", path, err)
	}
	return data, nil
}

// PRead implements pfs.Store using an S3 range request.
func (s *Store) PRead(ctx context.Context, path string, offset int64, p []byte) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+int64(len(p))-1)
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		if isNotFoundError(err) {
			return 0, pfs.ErrNotFound
		}
		return 0, fmt.Errorf("pfs/s3: get object range %s: %w", path, err)
	}
	defer resp.Body.Close()

	n, err := io.ReadFull(resp.Body, p)
	if err == io.ErrUnexpectedEOF {
		return n, io.EOF
	}
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("pfs/s3: read object range body %s: %w", path, err)
	}
	return n, err
}

// PWrite implements pfs.Store as a read-modify-write of the whole
// object: see the package doc for why.
func (s *Store) PWrite(ctx context.Context, path string, offset int64, p []byte) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	current, err := s.getObject(ctx, path)
	if err != nil && !errors.Is(err, pfs.ErrNotFound) {
		return 0, err
	}

	need := int(offset) + len(p)
	if len(current) < need {
		grown := make([]byte, need)
		copy(grown, current)
		current = grown
	}
	copy(current[offset:], p)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
		Body:   bytes.NewReader(current),
	})
	if err != nil {
		return 0, fmt.Errorf("pfs/s3: put object %s: %w", path, err)
	}
	return len(p), nil
}

// Flush is a no-op: every PWrite already completes a durable PUT.
func (s *Store) Flush(_ context.Context, _ string) error {
	return s.checkOpen()
}

// Stat implements pfs.Store via a HEAD request.
func (s *Store) Stat(ctx context.Context, path string) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return 0, pfs.ErrNotFound
		}
		return 0, fmt.Errorf("pfs/s3: head object %s: %w", path, err)
	}
	if resp.ContentLength == nil {
		return 0, nil
	}
	return *resp.ContentLength, nil
}

// Close marks the store unusable; the underlying client owns no
// resources that need releasing.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func isNotFoundError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "NotFound") || strings.Contains(msg, "404")
}
