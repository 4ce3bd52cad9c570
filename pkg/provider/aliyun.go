package provider

import (
	"context"
	"slices"
	"sync"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/giantswarm/aliyun-image-operator/pkg/image"
	"github.com/giantswarm/aliyun-image-operator/pkg/imgerr"
	"github.com/giantswarm/aliyun-image-operator/pkg/propagate"
)

type AliyunConfig struct {
	Client     *image.Client
	HomeRegion string
}

// Aliyun implements Provider on top of an image client. The client session is
// moved back to the home region before every operation and access to it is
// serialized.
type Aliyun struct {
	mu         sync.Mutex
	client     *image.Client
	homeRegion string
}

var _ Provider = (*Aliyun)(nil)

func NewAliyun(c AliyunConfig) (*Aliyun, error) {
	if c.Client == nil {
		return nil, imgerr.New(imgerr.Configuration, "image client is required")
	}
	home := c.HomeRegion
	if home == "" {
		home = c.Client.Region()
	}

	return &Aliyun{
		client:     c.Client,
		homeRegion: home,
	}, nil
}

func (a *Aliyun) HomeRegion() string {
	return a.homeRegion
}

// home locks the client and moves it to the home region. The returned
// function releases the lock.
func (a *Aliyun) home() func() {
	a.mu.Lock()
	if a.client.Region() != a.homeRegion {
		a.client.SetRegion(a.homeRegion)
	}
	return a.mu.Unlock
}

func (a *Aliyun) Exists(ctx context.Context, name string) (string, bool, error) {
	defer a.home()()
	existing, err := a.client.GetComputeImage(ctx, name, "")
	if imgerr.IsNotFound(err) {
		return "", false, nil
	} else if err != nil {
		return "", false, err
	}
	return existing.ID, true, nil
}

func (a *Aliyun) Create(ctx context.Context, i Image) (string, error) {
	defer a.home()()
	return a.client.CreateComputeImage(ctx, image.CreateOptions{
		Name:         i.Name,
		Description:  i.Description,
		BlobName:     i.BlobName,
		Platform:     i.Platform,
		OSType:       i.OSType,
		Architecture: i.Architecture,
		DiskSizeGB:   i.DiskSizeGB,
	})
}

func (a *Aliyun) Replicate(ctx context.Context, name string, regions []string) (propagate.Result, error) {
	defer a.home()()
	if len(regions) == 0 {
		return propagate.Result{}, nil
	}
	return a.client.ReplicateImage(ctx, name, regions)
}

func (a *Aliyun) Publish(ctx context.Context, name, launchPermission string, regions []string) (propagate.Result, error) {
	defer a.home()()
	return a.client.PublishImageToRegions(ctx, name, launchPermission, a.homeFirst(regions))
}

func (a *Aliyun) Deprecate(ctx context.Context, name, replacement string, regions []string) (propagate.Result, error) {
	defer a.home()()
	return a.client.DeprecateImageInRegions(ctx, name, replacement, a.homeFirst(regions))
}

func (a *Aliyun) Activate(ctx context.Context, name string, regions []string) (propagate.Result, error) {
	defer a.home()()
	return a.client.RestoreImageInRegions(ctx, name, a.homeFirst(regions))
}

// Delete deletes the copies first and the home image last, so the blob is
// only removed once nothing else references the image.
func (a *Aliyun) Delete(ctx context.Context, name string, deleteBlob bool, regions []string) (propagate.Result, error) {
	log := log.FromContext(ctx)
	defer a.home()()

	others := slices.DeleteFunc(slices.Clone(regions), func(r string) bool {
		return r == a.homeRegion
	})

	result := propagate.Result{}
	if len(others) > 0 {
		var err error
		result, err = a.client.DeleteImageInRegions(ctx, name, image.DeleteOptions{}, others)
		if err != nil {
			return nil, err
		}
		a.client.SetRegion(a.homeRegion)
	}

	deleted, err := a.client.DeleteComputeImage(ctx, name, image.DeleteOptions{DeleteBlob: deleteBlob})
	if err != nil {
		log.Error(err, "Failed to delete image in home region", "image", name, "region", a.homeRegion)
		result[a.homeRegion] = propagate.Outcome{Err: err}
		return result, nil
	}
	if !deleted {
		log.Info("Image does not exist in home region", "image", name, "region", a.homeRegion)
	}
	result[a.homeRegion] = propagate.Outcome{}
	return result, nil
}

func (a *Aliyun) GetRegions(ctx context.Context) ([]string, error) {
	defer a.home()()
	return a.client.GetRegions(ctx)
}

// homeFirst moves the home region to the front of regions. An empty list stays
// empty so that every region is targeted.
func (a *Aliyun) homeFirst(regions []string) []string {
	if len(regions) == 0 {
		return nil
	}
	var targets []string
	if slices.Contains(regions, a.homeRegion) {
		targets = append(targets, a.homeRegion)
	}
	for _, r := range regions {
		if r != a.homeRegion {
			targets = append(targets, r)
		}
	}
	return targets
}
