package oss_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/aliyun-image-operator/pkg/imgerr"
	"github.com/giantswarm/aliyun-image-operator/pkg/oss"
	"github.com/giantswarm/aliyun-image-operator/pkg/oss/ossfake"
	"github.com/giantswarm/aliyun-image-operator/pkg/wait"
)

const bucketName = "images"

var fastWait = wait.Config{Interval: time.Millisecond, Timeout: 5 * time.Millisecond}

func newClient(bucket *ossfake.Bucket, chunkSize int64) *oss.Client {
	return oss.NewWithAPI(bucket, oss.Config{
		BucketName:  bucketName,
		ChunkSize:   chunkSize,
		VisibleWait: fastWait,
	})
}

func writeFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.qcow2")
	require.NoError(t, os.WriteFile(path, content, 0600))
	return path
}

type recorder struct {
	updates [][2]int64
	done    int
}

func (r *recorder) Update(transferred, total int64) {
	r.updates = append(r.updates, [2]int64{transferred, total})
}

func (r *recorder) Done() {
	r.done++
}

func TestPartSize(t *testing.T) {
	testCases := []struct {
		name      string
		total     int64
		preferred int64
		expected  int64
	}{
		{
			name:      "case 0: file smaller than the preferred size is a single part",
			total:     1000,
			preferred: 4096,
			expected:  1000,
		},
		{
			name:      "case 1: preferred size is kept when the part count fits",
			total:     100 * 1024 * 1024,
			preferred: 8 * 1024 * 1024,
			expected:  8 * 1024 * 1024,
		},
		{
			name:      "case 2: preferred size is doubled until the part count fits",
			total:     oss.MaxParts*1024 + 1,
			preferred: 1024,
			expected:  2048,
		},
		{
			name:     "case 3: default preferred size",
			total:    20 * 1024 * 1024,
			expected: oss.DefaultChunkSize,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, oss.PartSize(tc.total, tc.preferred))
		})
	}
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	bucket := ossfake.New(bucketName)
	bucket.Put("present.qcow2", []byte("data"))
	c := newClient(bucket, 0)

	exists, err := c.Exists(ctx, "present.qcow2")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.Exists(ctx, "absent.qcow2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	bucket := ossfake.New(bucketName)
	bucket.Put("present.qcow2", []byte("data"))
	c := newClient(bucket, 0)

	deleted, err := c.Delete(ctx, "present.qcow2")
	require.NoError(t, err)
	assert.True(t, deleted)

	exists, err := c.Exists(ctx, "present.qcow2")
	require.NoError(t, err)
	assert.False(t, exists)

	deleted, err = c.Delete(ctx, "present.qcow2")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, 1, bucket.CallCount("DeleteObject"))
}

func TestBucketInfo(t *testing.T) {
	bucket := ossfake.New(bucketName)
	assert.NoError(t, newClient(bucket, 0).BucketInfo(context.Background()))

	bucket.Missing = true
	assert.Error(t, newClient(bucket, 0).BucketInfo(context.Background()))
}

func TestUpload(t *testing.T) {
	content := bytes.Repeat([]byte("0123456789"), 1000)

	testCases := []struct {
		name     string
		existing []byte
		replace  bool
		failPart int32
		hide     int
		path     string

		expectError   func(err error) bool
		expectContent []byte
		expectParts   int
		expectAborts  int
		expectDone    int
	}{
		{
			name:          "case 0: upload a new blob in several parts",
			expectContent: content,
			expectParts:   3,
			expectDone:    1,
		},
		{
			name:          "case 1: existing blob without replace is left untouched",
			existing:      []byte("old"),
			expectError:   imgerr.IsAlreadyExists,
			expectContent: []byte("old"),
		},
		{
			name:          "case 2: existing blob is replaced",
			existing:      []byte("old"),
			replace:       true,
			expectContent: content,
			expectParts:   3,
			expectDone:    1,
		},
		{
			name:         "case 3: failed part aborts the upload",
			failPart:     2,
			expectError:  func(err error) bool { return imgerr.KindOf(err) == imgerr.Upload },
			expectParts:  2,
			expectAborts: 1,
			expectDone:   1,
		},
		{
			name:        "case 4: missing source file",
			path:        "/does/not/exist.qcow2",
			expectError: func(err error) bool { return imgerr.KindOf(err) == imgerr.Upload },
		},
		{
			name:          "case 5: blob becomes visible after a few polls",
			hide:          2,
			expectContent: content,
			expectParts:   3,
			expectDone:    1,
		},
		{
			name:          "case 6: blob never becomes visible",
			hide:          100,
			expectError:   func(err error) bool { return imgerr.KindOf(err) == imgerr.TransferNotVisible },
			expectContent: content,
			expectParts:   3,
			expectDone:    1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			bucket := ossfake.New(bucketName)
			bucket.FailPart = tc.failPart
			bucket.HideCompleted = tc.hide
			if tc.existing != nil {
				bucket.Put("image.qcow2", tc.existing)
			}

			path := tc.path
			if path == "" {
				path = writeFile(t, content)
			}

			reporter := &recorder{}

			name, err := newClient(bucket, 4000).Upload(ctx, "image.qcow2", path, oss.UploadOptions{
				Progress:        reporter,
				ReplaceExisting: tc.replace,
			})

			if tc.expectError != nil {
				assert.True(t, tc.expectError(err), "unexpected error: %v", err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "image.qcow2", name)
				assert.Equal(t, [][2]int64{{0, 10000}, {4000, 10000}, {4000, 10000}, {2000, 10000}}, reporter.updates)
			}
			assert.Equal(t, tc.expectDone, reporter.done)

			assert.Equal(t, tc.expectParts, bucket.CallCount("UploadPart"))
			assert.Equal(t, tc.expectAborts, bucket.CallCount("AbortMultipartUpload"))
			assert.Equal(t, 0, bucket.PendingUploads())

			stored, ok := bucket.Object("image.qcow2")
			if tc.expectContent == nil {
				assert.False(t, ok)
			} else {
				assert.Equal(t, tc.expectContent, stored)
			}
		})
	}
}

func TestUploadServerMessage(t *testing.T) {
	bucket := ossfake.New(bucketName)
	bucket.FailPart = 1

	_, err := newClient(bucket, 0).Upload(context.Background(), "image.qcow2", writeFile(t, []byte("data")), oss.UploadOptions{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "We encountered an internal error."), err.Error())
}

func TestUploadEmptyFile(t *testing.T) {
	bucket := ossfake.New(bucketName)

	_, err := newClient(bucket, 0).Upload(context.Background(), "empty.qcow2", writeFile(t, nil), oss.UploadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, bucket.CallCount("UploadPart"))

	stored, ok := bucket.Object("empty.qcow2")
	assert.True(t, ok)
	assert.Empty(t, stored)
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "https://oss-cn-beijing.aliyuncs.com", oss.Endpoint("cn-beijing", false))
	assert.Equal(t, oss.AccelerateEndpoint, oss.Endpoint("cn-beijing", true))
}
