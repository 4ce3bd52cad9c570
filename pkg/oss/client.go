package oss

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/giantswarm/aliyun-image-operator/pkg/imgerr"
	"github.com/giantswarm/aliyun-image-operator/pkg/wait"
)

const (
	// AccelerateEndpoint is the global transfer acceleration endpoint.
	AccelerateEndpoint = "https://oss-accelerate.aliyuncs.com"

	DefaultChunkSize = 8 * 1024 * 1024
	// MaxParts is the maximum number of parts of a multipart upload.
	MaxParts = 10000
)

// DefaultVisibleWait bounds the poll for a freshly uploaded blob.
var DefaultVisibleWait = wait.Config{
	Interval: 10 * time.Second,
	Timeout:  300 * time.Second,
}

// API is the subset of the S3 API used against the OSS S3-compatible
// endpoint. *s3.Client satisfies it.
type API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Client manages blobs in a single OSS bucket.
type Client struct {
	api         API
	bucketName  string
	chunkSize   int64
	visibleWait wait.Config
}

type Config struct {
	BucketName   string
	Region       string
	AccessKey    string
	AccessSecret string
	Acceleration bool
	// ConnectTimeout bounds establishing the connection to the endpoint.
	ConnectTimeout time.Duration
	// ChunkSize is the preferred part size, DefaultChunkSize when zero.
	ChunkSize   int64
	VisibleWait wait.Config
}

// Endpoint returns the OSS endpoint for region.
func Endpoint(region string, acceleration bool) string {
	if acceleration {
		return AccelerateEndpoint
	}
	return fmt.Sprintf("https://oss-%s.aliyuncs.com", region)
}

// New initializes a client talking to the S3-compatible endpoint of OSS.
func New(ctx context.Context, c Config) (*Client, error) {
	if c.BucketName == "" {
		return nil, imgerr.New(imgerr.Configuration, "bucket name is required")
	}

	httpClient := awshttp.NewBuildableClient()
	if c.ConnectTimeout > 0 {
		httpClient = httpClient.WithDialerOptions(func(d *net.Dialer) {
			d.Timeout = c.ConnectTimeout
		})
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("oss-"+c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.AccessKey, c.AccessSecret, "")),
		config.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.Authentication, err, "failed to load storage client config")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(Endpoint(c.Region, c.Acceleration))
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	return NewWithAPI(client, c), nil
}

// NewWithAPI returns a client using api for all storage requests.
func NewWithAPI(api API, c Config) *Client {
	chunkSize := c.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	visibleWait := c.VisibleWait
	if visibleWait.Interval == 0 {
		visibleWait = DefaultVisibleWait
	}

	return &Client{
		api:         api,
		bucketName:  c.BucketName,
		chunkSize:   chunkSize,
		visibleWait: visibleWait,
	}
}

func (c *Client) BucketName() string {
	return c.bucketName
}

// API returns the underlying storage API.
func (c *Client) API() API {
	return c.api
}

// BucketInfo fetches the bucket metadata. It is used to validate credentials
// and connectivity before any real work is done.
func (c *Client) BucketInfo(ctx context.Context) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucketName),
	})
	if err != nil {
		return fmt.Errorf("failed to get info of bucket %s: %w", c.bucketName, err)
	}
	return nil
}

// Exists reports whether the blob is present in the bucket.
func (c *Client) Exists(ctx context.Context, name string) (bool, error) {
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(name),
	})
	if isNotFound(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to check blob %s in bucket %s: %w", name, c.bucketName, err)
	}
	return true, nil
}

// Delete removes the blob and reports whether there was one to remove.
func (c *Client) Delete(ctx context.Context, name string) (bool, error) {
	log := log.FromContext(ctx)

	exists, err := c.Exists(ctx, name)
	if err != nil {
		return false, err
	}
	if !exists {
		log.V(1).Info("Blob does not exist, nothing to delete", "blob", name, "bucket", c.bucketName)
		return false, nil
	}

	_, err = c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(name),
	})
	if isNotFound(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to delete blob %s from bucket %s: %w", name, c.bucketName, err)
	}

	log.Info("Deleted blob", "blob", name, "bucket", c.bucketName)
	return true, nil
}

// WaitForVisible polls until the blob can be found in the bucket.
func (c *Client) WaitForVisible(ctx context.Context, name string) error {
	log := log.FromContext(ctx)

	err := wait.Until(ctx, c.visibleWait, "blob "+name, func(ctx context.Context) (bool, error) {
		exists, err := c.Exists(ctx, name)
		if err != nil {
			log.Error(err, "Failed to check blob, retrying", "blob", name)
			return false, nil
		}
		return exists, nil
	})
	if imgerr.IsTimeout(err) {
		return imgerr.Wrap(imgerr.TransferNotVisible, err, "blob %s is not visible in bucket %s", name, c.bucketName)
	}
	return err
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return false
}
