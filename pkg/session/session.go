// Package session caches the authenticated storage and compute clients of a
// single caller. Changing the region drops both clients, changing the bucket
// drops only the storage client. A Session must not be shared between
// goroutines.
package session

import (
	"context"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/giantswarm/aliyun-image-operator/pkg/ecs"
	"github.com/giantswarm/aliyun-image-operator/pkg/imgerr"
	"github.com/giantswarm/aliyun-image-operator/pkg/oss"
	"github.com/giantswarm/aliyun-image-operator/pkg/wait"
)

// Credentials authenticate both clients.
type Credentials struct {
	AccessKey    string
	AccessSecret string
}

// StorageFactory builds the storage API for a bucket in a region.
type StorageFactory func(ctx context.Context, c oss.Config) (oss.API, error)

// ComputeFactory builds the compute API for a region.
type ComputeFactory func(ctx context.Context, c ecs.SDKConfig) (ecs.API, error)

type Config struct {
	Credentials Credentials
	Region      string
	BucketName  string

	Acceleration      bool
	ConnectTimeout    time.Duration
	ChunkSize         int64
	DeprecationPeriod int

	StorageFactory StorageFactory
	ComputeFactory ComputeFactory

	VisibleWait   wait.Config
	AvailableWait wait.Config
	DeletedWait   wait.Config
}

type Session struct {
	config Config
	region string
	bucket string

	storage *oss.Client
	compute *ecs.Client
}

func New(c Config) (*Session, error) {
	if c.Credentials.AccessKey == "" || c.Credentials.AccessSecret == "" {
		return nil, imgerr.New(imgerr.Configuration, "access key and access secret are required")
	}
	if c.Region == "" {
		return nil, imgerr.New(imgerr.Configuration, "region is required")
	}
	if c.StorageFactory == nil {
		c.StorageFactory = defaultStorageFactory
	}
	if c.ComputeFactory == nil {
		c.ComputeFactory = defaultComputeFactory
	}

	return &Session{
		config: c,
		region: c.Region,
		bucket: c.BucketName,
	}, nil
}

func defaultStorageFactory(ctx context.Context, c oss.Config) (oss.API, error) {
	client, err := oss.New(ctx, c)
	if err != nil {
		return nil, err
	}
	return client.API(), nil
}

func defaultComputeFactory(ctx context.Context, c ecs.SDKConfig) (ecs.API, error) {
	return ecs.NewSDKAPI(c)
}

func (s *Session) Region() string {
	return s.region
}

// SetRegion switches the session to region and drops both cached clients.
func (s *Session) SetRegion(region string) {
	s.region = region
	s.storage = nil
	s.compute = nil
}

func (s *Session) Bucket() string {
	return s.bucket
}

// SetBucket switches the session to bucket and drops the storage client.
func (s *Session) SetBucket(bucket string) {
	s.bucket = bucket
	s.storage = nil
}

// Storage returns the storage client of the current region and bucket. A new
// client fetches the bucket info before it is returned so bad credentials or
// an unreachable endpoint fail here.
func (s *Session) Storage(ctx context.Context) (*oss.Client, error) {
	if s.storage != nil {
		return s.storage, nil
	}
	if s.bucket == "" {
		return nil, imgerr.New(imgerr.Configuration, "image storage operations require a configured bucket name")
	}

	c := oss.Config{
		BucketName:     s.bucket,
		Region:         s.region,
		AccessKey:      s.config.Credentials.AccessKey,
		AccessSecret:   s.config.Credentials.AccessSecret,
		Acceleration:   s.config.Acceleration,
		ConnectTimeout: s.config.ConnectTimeout,
		ChunkSize:      s.config.ChunkSize,
		VisibleWait:    s.config.VisibleWait,
	}

	api, err := s.config.StorageFactory(ctx, c)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.Authentication, err, "unable to get bucket client")
	}
	client := oss.NewWithAPI(api, c)

	if err := client.BucketInfo(ctx); err != nil {
		return nil, imgerr.Wrap(imgerr.Authentication, err,
			"unable to get bucket client, ensure the bucket name and region are correct")
	}

	log.FromContext(ctx).V(1).Info("Created storage client", "bucket", s.bucket, "region", s.region)
	s.storage = client
	return client, nil
}

// Compute returns the compute client of the current region. Credentials are
// only checked by the first request.
func (s *Session) Compute(ctx context.Context) (*ecs.Client, error) {
	if s.compute != nil {
		return s.compute, nil
	}

	api, err := s.config.ComputeFactory(ctx, ecs.SDKConfig{
		Region:         s.region,
		AccessKey:      s.config.Credentials.AccessKey,
		AccessSecret:   s.config.Credentials.AccessSecret,
		ConnectTimeout: s.config.ConnectTimeout,
	})
	if err != nil {
		return nil, imgerr.Wrap(imgerr.Authentication, err, "unable to get compute client")
	}

	client, err := ecs.New(ecs.Config{
		API:               api,
		Region:            s.region,
		DeprecationPeriod: s.config.DeprecationPeriod,
		AvailableWait:     s.config.AvailableWait,
		DeletedWait:       s.config.DeletedWait,
	})
	if err != nil {
		return nil, err
	}

	log.FromContext(ctx).V(1).Info("Created compute client", "region", s.region)
	s.compute = client
	return client, nil
}
