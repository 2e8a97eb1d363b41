// Package s3 serves a bucket (or a key prefix inside one) as a Backend.
//
// Keys are mapped onto a directory tree by splitting on "/": a listing of
// "/a/b" returns the objects directly under "<prefix>a/b/" as files and the
// common prefixes one level down as directories.
package s3

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/backend"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

const delimiter = "/"

// Config configures the S3 backend.
type Config struct {
	// Client performs the listings. *s3.Client satisfies it.
	Client s3.ListObjectsV2APIClient

	// Bucket is the S3 bucket name.
	Bucket string

	// KeyPrefix is an optional prefix served as the root.
	// Example: "exports/photos/" serves keys below it.
	KeyPrefix string

	// PageSize is the MaxKeys value of each ListObjectsV2 request
	// (0 lets S3 decide).
	PageSize int32
}

// Backend lists S3 keys as a directory tree.
//
// Thread safety:
// Safe for concurrent use; the backend holds no mutable state.
type Backend struct {
	client    s3.ListObjectsV2APIClient
	bucket    string
	keyPrefix string
	pageSize  int32
}

var _ backend.Backend = (*Backend)(nil)

// New creates an S3 backend.
func New(config Config) (*Backend, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("s3 backend: client is required")
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("s3 backend: bucket is required")
	}

	prefix := strings.TrimPrefix(config.KeyPrefix, delimiter)
	if prefix != "" && !strings.HasSuffix(prefix, delimiter) {
		prefix += delimiter
	}

	return &Backend{
		client:    config.Client,
		bucket:    config.Bucket,
		keyPrefix: prefix,
		pageSize:  config.PageSize,
	}, nil
}

func (b *Backend) Type() string {
	return "s3"
}

// dirKey returns the key prefix listing dir.
func (b *Backend) dirKey(dir string) string {
	dir = strings.TrimPrefix(backend.CleanPath(dir), delimiter)
	if dir == "" {
		return b.keyPrefix
	}
	return b.keyPrefix + dir + delimiter
}

// List pages through ListObjectsV2 with a "/" delimiter. A directory with
// no keys below it does not exist, except for the root.
func (b *Backend) List(ctx context.Context, dir string) ([]*vfs.FileInfo, error) {
	dir = backend.CleanPath(dir)
	prefix := b.dirKey(dir)

	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String(delimiter),
	}
	if b.pageSize > 0 {
		input.MaxKeys = aws.Int32(b.pageSize)
	}
	paginator := s3.NewListObjectsV2Paginator(b.client, input)

	var entries []*vfs.FileInfo
	seen := 0
	for paginator.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", b.bucket, prefix, err)
		}

		for _, cp := range page.CommonPrefixes {
			seen++
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), delimiter)
			if name == "" {
				continue
			}
			entries = append(entries, &vfs.FileInfo{
				Name: name,
				Type: vfs.FileTypeDirectory,
				Mode: 0o755,
			})
		}

		for _, obj := range page.Contents {
			seen++
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				// Directory marker object.
				continue
			}
			fi := &vfs.FileInfo{
				Name: name,
				Type: vfs.FileTypeRegular,
				Mode: 0o644,
			}
			if obj.Size != nil && *obj.Size > 0 {
				fi.Size = uint64(*obj.Size)
			}
			if obj.LastModified != nil {
				fi.ModTime = *obj.LastModified
			}
			entries = append(entries, fi)
		}
	}

	if seen == 0 && dir != "/" {
		return nil, b.missing(ctx, dir)
	}

	logger.Debug("s3 backend: listed %d entries of s3://%s/%s", len(entries), b.bucket, prefix)
	return entries, nil
}

// missing tells a path that is an object (not a directory) from one that
// does not exist at all.
func (b *Backend) missing(ctx context.Context, dir string) error {
	key := b.keyPrefix + strings.TrimPrefix(dir, delimiter)
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(key),
		MaxKeys: aws.Int32(1),
	})
	if err == nil {
		for _, obj := range out.Contents {
			if aws.ToString(obj.Key) == key {
				return vfs.NewError(vfs.CodeNotDirectory, "not a directory", dir)
			}
		}
	}
	return vfs.NewError(vfs.CodeNotFound, "no such file or directory", dir)
}

func (b *Backend) Close() error {
	return nil
}
