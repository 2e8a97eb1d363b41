package s3

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Fake client
// ============================================================================

// fakeClient implements ListObjectsV2 over a sorted key set, honouring
// Prefix, Delimiter, MaxKeys and ContinuationToken.
type fakeClient struct {
	keys  []string
	calls int
	err   error
}

func newFakeClient(keys ...string) *fakeClient {
	slices.Sort(keys)
	return &fakeClient{keys: keys}
}

func (f *fakeClient) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}

	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)

	// Flatten keys and common prefixes into one ordered result stream.
	type item struct {
		key      string
		isPrefix bool
	}
	var items []item
	seenPrefix := map[string]bool{}
	for _, k := range f.keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+len(delim)]
				if !seenPrefix[cp] {
					seenPrefix[cp] = true
					items = append(items, item{cp, true})
				}
				continue
			}
		}
		items = append(items, item{k, false})
	}

	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	end := len(items)
	if in.MaxKeys != nil && int(*in.MaxKeys) < end-start {
		end = start + int(*in.MaxKeys)
	}

	out := &s3.ListObjectsV2Output{}
	modified := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, it := range items[start:end] {
		if it.isPrefix {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(it.key)})
			continue
		}
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(it.key),
			Size:         aws.Int64(int64(len(it.key))),
			LastModified: aws.Time(modified),
		})
	}
	if end < len(items) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func names(fis []*vfs.FileInfo) []string {
	out := make([]string, len(fis))
	for i, fi := range fis {
		out[i] = fi.Name
	}
	slices.Sort(out)
	return out
}

// ============================================================================
// Tests
// ============================================================================

func TestNew(t *testing.T) {
	_, err := New(Config{Bucket: "b"})
	assert.Error(t, err, "client is required")

	_, err = New(Config{Client: newFakeClient()})
	assert.Error(t, err, "bucket is required")

	b, err := New(Config{Client: newFakeClient(), Bucket: "b", KeyPrefix: "/exports/photos"})
	require.NoError(t, err)
	assert.Equal(t, "exports/photos/", b.keyPrefix)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(
		"root.txt",
		"docs/",
		"docs/a.txt",
		"docs/b.txt",
		"docs/deep/c.txt",
		"photos/2024/img.jpg",
	)
	b, err := New(Config{Client: client, Bucket: "bucket", PageSize: 2})
	require.NoError(t, err)

	t.Run("Root", func(t *testing.T) {
		entries, err := b.List(ctx, "/")
		require.NoError(t, err)
		assert.Equal(t, []string{"docs", "photos", "root.txt"}, names(entries))
	})

	t.Run("DirectoryAcrossPages", func(t *testing.T) {
		client.calls = 0
		entries, err := b.List(ctx, "/docs")
		require.NoError(t, err)
		assert.Equal(t, []string{"a.txt", "b.txt", "deep"}, names(entries))
		assert.Greater(t, client.calls, 1, "expected more than one page")

		for _, fi := range entries {
			switch fi.Name {
			case "deep":
				assert.Equal(t, vfs.FileTypeDirectory, fi.Type)
			default:
				assert.Equal(t, vfs.FileTypeRegular, fi.Type)
				assert.NotZero(t, fi.Size)
				assert.Equal(t, 2024, fi.ModTime.Year())
			}
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := b.List(ctx, "/missing")
		assert.ErrorIs(t, err, vfs.ErrNotFound)
	})

	t.Run("NotDirectory", func(t *testing.T) {
		_, err := b.List(ctx, "/root.txt")
		assert.ErrorIs(t, err, vfs.ErrNotDirectory)
	})

	t.Run("EmptyBucketRoot", func(t *testing.T) {
		empty, err := New(Config{Client: newFakeClient(), Bucket: "bucket"})
		require.NoError(t, err)
		entries, err := empty.List(ctx, "/")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestKeyPrefix(t *testing.T) {
	client := newFakeClient("exports/photos/a.jpg", "exports/photos/2024/b.jpg", "other/x")
	b, err := New(Config{Client: client, Bucket: "bucket", KeyPrefix: "exports/photos"})
	require.NoError(t, err)

	entries, err := b.List(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024", "a.jpg"}, names(entries))
}

func TestListError(t *testing.T) {
	client := newFakeClient()
	client.err = errors.New("access denied")
	b, err := New(Config{Client: client, Bucket: "bucket"})
	require.NoError(t, err)

	_, err = b.List(context.Background(), "/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}
