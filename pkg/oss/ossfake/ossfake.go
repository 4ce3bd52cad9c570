// Package ossfake provides an in-memory bucket implementing oss.API for tests.
package ossfake

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/giantswarm/aliyun-image-operator/pkg/oss"
)

// Bucket is a single in-memory bucket.
type Bucket struct {
	Name string

	// Missing makes HeadBucket fail as if the bucket or credentials were invalid.
	Missing bool
	// FailPart fails the upload of the given part number.
	FailPart int32
	// HideCompleted is the number of HeadObject calls for which a freshly
	// completed blob is still reported missing.
	HideCompleted int
	// OnCall is invoked with the operation name before each request.
	OnCall func(op string)

	mu      sync.Mutex
	objects map[string][]byte
	uploads map[string]map[int32][]byte
	hidden  map[string]int
	calls   []string
	nextID  int
}

var _ oss.API = (*Bucket)(nil)

func New(name string) *Bucket {
	return &Bucket{
		Name:    name,
		objects: map[string][]byte{},
		uploads: map[string]map[int32][]byte{},
		hidden:  map[string]int{},
	}
}

// Put stores an object directly.
func (b *Bucket) Put(key string, content []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = content
}

// Object returns the content of an object.
func (b *Bucket) Object(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	content, ok := b.objects[key]
	return content, ok
}

// Keys returns the sorted object keys.
func (b *Bucket) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Calls returns the names of the operations issued so far.
func (b *Bucket) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// CallCount returns how many times op was issued.
func (b *Bucket) CallCount(op string) int {
	n := 0
	for _, c := range b.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

// PendingUploads returns the number of multipart uploads neither completed nor aborted.
func (b *Bucket) PendingUploads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.uploads)
}

func (b *Bucket) record(op string) {
	b.mu.Lock()
	b.calls = append(b.calls, op)
	hook := b.OnCall
	b.mu.Unlock()
	if hook != nil {
		hook(op)
	}
}

func (b *Bucket) checkBucket(bucket *string) error {
	if b.Missing || aws.ToString(bucket) != b.Name {
		return &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "The specified bucket does not exist."}
	}
	return nil
}

func (b *Bucket) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	b.record("HeadBucket")
	if err := b.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	return &s3.HeadBucketOutput{}, nil
}

func (b *Bucket) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	b.record("HeadObject")
	if err := b.checkBucket(in.Bucket); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	key := aws.ToString(in.Key)
	content, ok := b.objects[key]
	if !ok {
		return nil, &types.NotFound{}
	}
	if b.hidden[key] > 0 {
		b.hidden[key]--
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(content)))}, nil
}

func (b *Bucket) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	b.record("DeleteObject")
	if err := b.checkBucket(in.Bucket); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (b *Bucket) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	b.record("CreateMultipartUpload")
	if err := b.checkBucket(in.Bucket); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := fmt.Sprintf("upload-%d", b.nextID)
	b.uploads[id] = map[int32][]byte{}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (b *Bucket) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	b.record("UploadPart")
	if err := b.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	number := aws.ToInt32(in.PartNumber)
	if number == b.FailPart {
		return nil, &smithy.GenericAPIError{Code: "InternalError", Message: "We encountered an internal error."}
	}

	content, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	sum := md5.Sum(content) //nolint:gosec
	if base64.StdEncoding.EncodeToString(sum[:]) != aws.ToString(in.ContentMD5) {
		return nil, &smithy.GenericAPIError{Code: "InvalidDigest", Message: "The Content-MD5 you specified is not valid."}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	parts, ok := b.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchUpload", Message: "The specified upload does not exist."}
	}
	parts[number] = content
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("%x", sum))}, nil
}

func (b *Bucket) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	b.record("CompleteMultipartUpload")
	if err := b.checkBucket(in.Bucket); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	id := aws.ToString(in.UploadId)
	parts, ok := b.uploads[id]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchUpload", Message: "The specified upload does not exist."}
	}

	var buf bytes.Buffer
	for _, part := range in.MultipartUpload.Parts {
		content, ok := parts[aws.ToInt32(part.PartNumber)]
		if !ok {
			return nil, &smithy.GenericAPIError{Code: "InvalidPart", Message: "One or more of the specified parts could not be found."}
		}
		buf.Write(content)
	}

	key := aws.ToString(in.Key)
	b.objects[key] = buf.Bytes()
	b.hidden[key] = b.HideCompleted
	delete(b.uploads, id)
	return &s3.CompleteMultipartUploadOutput{Key: in.Key}, nil
}

func (b *Bucket) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	b.record("AbortMultipartUpload")

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.uploads, aws.ToString(in.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}
