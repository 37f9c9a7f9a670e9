package reportstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// poolExtension is appended to pool names that don't carry one
const poolExtension = ".jsonl"

// Source resolves a pool name to its raw line-delimited records
type Source interface {
	Open(ctx context.Context, pool string) (io.ReadCloser, error)
}

// FileSource reads pools from <dir>/<pool>.jsonl
type FileSource struct {
	Dir string
}

// NewFileSource creates a filesystem pool source rooted at dir
func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

// Open opens the pool file, mapping a missing file to ErrPoolNotFound
func (s *FileSource) Open(_ context.Context, pool string) (io.ReadCloser, error) {
	key, err := poolKey(pool)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.Dir, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, pool)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open pool %s: %w", pool, err)
	}
	return f, nil
}

// S3GetObjectAPI is the subset of the S3 client used by S3Source
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads pools from s3://<bucket>/<prefix><pool>.jsonl
type S3Source struct {
	client S3GetObjectAPI
	bucket string
	prefix string
}

// NewS3Source creates an S3 pool source
func NewS3Source(client S3GetObjectAPI, bucket, prefix string) *S3Source {
	return &S3Source{client: client, bucket: bucket, prefix: prefix}
}

// Open fetches the pool object, mapping NoSuchKey to ErrPoolNotFound
func (s *S3Source) Open(ctx context.Context, pool string) (io.ReadCloser, error) {
	key, err := poolKey(pool)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path.Join(s.prefix, key)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, pool)
		}
		return nil, fmt.Errorf("failed to fetch pool %s: %w", pool, err)
	}
	return out.Body, nil
}

// poolKey maps a pool name to a relative object key, rejecting traversal
func poolKey(pool string) (string, error) {
	if strings.TrimSpace(pool) == "" {
		return "", fmt.Errorf("empty pool name")
	}
	if strings.Contains(pool, "..") || strings.HasPrefix(pool, "/") || strings.Contains(pool, "\\") {
		return "", fmt.Errorf("invalid pool name %q", pool)
	}
	key := path.Clean(pool)
	if path.Ext(key) == "" {
		key += poolExtension
	}
	return key, nil
}
