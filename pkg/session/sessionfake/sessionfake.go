// Package sessionfake builds sessions backed by the in-memory storage and
// compute fakes, with waits short enough for tests.
package sessionfake

import (
	"context"
	"time"

	"github.com/giantswarm/aliyun-image-operator/pkg/ecs"
	"github.com/giantswarm/aliyun-image-operator/pkg/ecs/ecsfake"
	"github.com/giantswarm/aliyun-image-operator/pkg/oss"
	"github.com/giantswarm/aliyun-image-operator/pkg/oss/ossfake"
	"github.com/giantswarm/aliyun-image-operator/pkg/session"
	"github.com/giantswarm/aliyun-image-operator/pkg/wait"
)

// Wait is used for every wait of a fake session.
var Wait = wait.Config{Interval: time.Millisecond, Timeout: 5 * time.Millisecond}

// Env is a fake cloud with its buckets.
type Env struct {
	Cloud   *ecsfake.Cloud
	Buckets map[string]*ossfake.Bucket
}

func New(regions ...string) *Env {
	return &Env{
		Cloud:   ecsfake.New(regions...),
		Buckets: map[string]*ossfake.Bucket{},
	}
}

// Bucket returns the bucket called name, creating it if needed.
func (e *Env) Bucket(name string) *ossfake.Bucket {
	b, ok := e.Buckets[name]
	if !ok {
		b = ossfake.New(name)
		e.Buckets[name] = b
	}
	return b
}

// Config returns a session configuration using the fakes.
func (e *Env) Config(region, bucket string) session.Config {
	return session.Config{
		Credentials: session.Credentials{AccessKey: "test-key", AccessSecret: "test-secret"},
		Region:      region,
		BucketName:  bucket,
		StorageFactory: func(ctx context.Context, c oss.Config) (oss.API, error) {
			b, ok := e.Buckets[c.BucketName]
			if !ok {
				b = ossfake.New(c.BucketName)
				b.Missing = true
			}
			return b, nil
		},
		ComputeFactory: func(ctx context.Context, c ecs.SDKConfig) (ecs.API, error) {
			return e.Cloud.API(c.Region), nil
		},
		VisibleWait:   Wait,
		AvailableWait: Wait,
		DeletedWait:   Wait,
	}
}

// Session returns a session in region using bucket.
func (e *Env) Session(region, bucket string) (*session.Session, error) {
	return session.New(e.Config(region, bucket))
}
