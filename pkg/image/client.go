package image

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/giantswarm/aliyun-image-operator/pkg/ecs"
	"github.com/giantswarm/aliyun-image-operator/pkg/imgerr"
	"github.com/giantswarm/aliyun-image-operator/pkg/oss"
	"github.com/giantswarm/aliyun-image-operator/pkg/propagate"
	"github.com/giantswarm/aliyun-image-operator/pkg/session"
)

// Config is a struct that holds the configuration for the Client
type Config struct {
	Session *session.Session
}

// Client runs image operations against the current region and bucket of its
// session. Operations in several regions move the session to each region in
// turn and leave it on the last one.
type Client struct {
	session *session.Session
}

// New creates a new Client object
func New(c Config) (*Client, error) {
	if c.Session == nil {
		return nil, imgerr.New(imgerr.Configuration, "session is required")
	}

	return &Client{
		session: c.Session,
	}, nil
}

func (i *Client) Region() string {
	return i.session.Region()
}

func (i *Client) SetRegion(region string) {
	i.session.SetRegion(region)
}

func (i *Client) Bucket() string {
	return i.session.Bucket()
}

func (i *Client) SetBucket(bucket string) {
	i.session.SetBucket(bucket)
}

func (i *Client) BlobExists(ctx context.Context, name string) (bool, error) {
	storage, err := i.session.Storage(ctx)
	if err != nil {
		return false, err
	}
	return storage.Exists(ctx, name)
}

// DeleteBlob deletes the blob and reports whether it existed.
func (i *Client) DeleteBlob(ctx context.Context, name string) (bool, error) {
	storage, err := i.session.Storage(ctx)
	if err != nil {
		return false, err
	}
	return storage.Delete(ctx, name)
}

// UploadImageTarball uploads the image file at path and returns the blob name.
func (i *Client) UploadImageTarball(ctx context.Context, path string, o UploadOptions) (string, error) {
	storage, err := i.session.Storage(ctx)
	if err != nil {
		return "", err
	}

	name := o.BlobName
	if name == "" {
		name = BlobName(path)
	}

	return storage.Upload(ctx, name, path, oss.UploadOptions{
		ChunkSize:       o.ChunkSize,
		Progress:        o.Progress,
		ReplaceExisting: o.ReplaceExisting,
	})
}

func (i *Client) ImageExists(ctx context.Context, name string) (bool, error) {
	compute, err := i.session.Compute(ctx)
	if err != nil {
		return false, err
	}
	return compute.Exists(ctx, name)
}

// GetComputeImage looks up an image by name and/or id in the current region.
func (i *Client) GetComputeImage(ctx context.Context, name, id string) (*ecs.Image, error) {
	compute, err := i.session.Compute(ctx)
	if err != nil {
		return nil, err
	}
	return compute.Find(ctx, ecs.Query{Name: name, ID: id})
}

// GetDeprecatedComputeImage is GetComputeImage restricted to deprecated images.
func (i *Client) GetDeprecatedComputeImage(ctx context.Context, name, id string) (*ecs.Image, error) {
	compute, err := i.session.Compute(ctx)
	if err != nil {
		return nil, err
	}
	return compute.Find(ctx, ecs.Query{Name: name, ID: id, Statuses: []ecs.Status{ecs.StatusDeprecated}})
}

// CreateComputeImage imports a blob of the session bucket and returns the id
// of the available image.
func (i *Client) CreateComputeImage(ctx context.Context, o CreateOptions) (string, error) {
	if i.session.Bucket() == "" {
		return "", imgerr.New(imgerr.Configuration, "image creation requires a configured bucket name")
	}

	compute, err := i.session.Compute(ctx)
	if err != nil {
		return "", err
	}

	return compute.Create(ctx, ecs.CreateOptions{
		Name:            o.Name,
		Description:     o.Description,
		BucketName:      i.session.Bucket(),
		BlobName:        o.BlobName,
		Platform:        o.Platform,
		OSType:          o.OSType,
		Architecture:    o.Architecture,
		DiskSizeGB:      o.DiskSizeGB,
		ReplaceExisting: o.ReplaceExisting,
	})
}

// DeleteComputeImage deletes the image and, when asked to, the blob it was
// imported from. The blob is only deleted once the image is gone.
func (i *Client) DeleteComputeImage(ctx context.Context, name string, o DeleteOptions) (bool, error) {
	log := log.FromContext(ctx)

	compute, err := i.session.Compute(ctx)
	if err != nil {
		return false, err
	}

	image, deleted, err := compute.Delete(ctx, name, ecs.DeleteOptions{Force: o.Force})
	if err != nil || !deleted {
		return false, err
	}

	if !o.DeleteBlob {
		return true, nil
	}
	bucket, blob := image.Blob()
	if blob == "" {
		log.Info("Image does not reference a blob, nothing else to delete", "image", name)
		return true, nil
	}

	// the blob lives in the bucket the image was imported from
	if current := i.session.Bucket(); bucket != "" && bucket != current {
		log.Info("Deleting blob from the bucket the image was imported from", "image", name, "bucket", bucket)
		i.session.SetBucket(bucket)
		defer i.session.SetBucket(current)
	}
	if _, err := i.DeleteBlob(ctx, blob); err != nil {
		return true, imgerr.Wrap(imgerr.Delete, err, "image %s was deleted but its blob %s was not", name, blob)
	}
	return true, nil
}

func (i *Client) ImportKeyPair(ctx context.Context, name, publicKey string) error {
	compute, err := i.session.Compute(ctx)
	if err != nil {
		return err
	}
	return compute.ImportKeyPair(ctx, name, publicKey)
}

func (i *Client) DeleteKeyPair(ctx context.Context, name string) error {
	compute, err := i.session.Compute(ctx)
	if err != nil {
		return err
	}
	return compute.DeleteKeyPair(ctx, name)
}

// GetRegions lists all regions available to the account.
func (i *Client) GetRegions(ctx context.Context) ([]string, error) {
	compute, err := i.session.Compute(ctx)
	if err != nil {
		return nil, err
	}
	return compute.Regions(ctx)
}

func (i *Client) forEachRegion(ctx context.Context, name string, regions []string, excludeCurrent bool, op propagate.Operation) (propagate.Result, error) {
	result, err := propagate.ForEachRegion(ctx, propagate.Config{
		Name:           name,
		Session:        i.session,
		Regions:        regions,
		ListRegions:    i.GetRegions,
		ExcludeCurrent: excludeCurrent,
	}, op)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", name, err)
	}
	return result, nil
}

// ReplicateImage copies the image from the current region to every target
// region except the current one. The value of each region is the id of its
// copy.
func (i *Client) ReplicateImage(ctx context.Context, name string, regions []string) (propagate.Result, error) {
	source, err := i.session.Compute(ctx)
	if err != nil {
		return nil, err
	}

	return i.forEachRegion(ctx, "replicate image", regions, true, func(ctx context.Context, region string) (string, error) {
		return source.Copy(ctx, name, region)
	})
}

// PublishImage sets the launch permission of the image in the current region.
func (i *Client) PublishImage(ctx context.Context, name, launchPermission string) error {
	compute, err := i.session.Compute(ctx)
	if err != nil {
		return err
	}
	return compute.SetSharing(ctx, name, launchPermission)
}

func (i *Client) PublishImageToRegions(ctx context.Context, name, launchPermission string, regions []string) (propagate.Result, error) {
	return i.forEachRegion(ctx, "publish image", regions, false, func(ctx context.Context, region string) (string, error) {
		return "", i.PublishImage(ctx, name, launchPermission)
	})
}

// DeprecateImage tags the image in the current region as deprecated.
func (i *Client) DeprecateImage(ctx context.Context, name, replacement string) error {
	compute, err := i.session.Compute(ctx)
	if err != nil {
		return err
	}
	return compute.SetDeprecated(ctx, name, replacement)
}

func (i *Client) DeprecateImageInRegions(ctx context.Context, name, replacement string, regions []string) (propagate.Result, error) {
	return i.forEachRegion(ctx, "deprecate image", regions, false, func(ctx context.Context, region string) (string, error) {
		return "", i.DeprecateImage(ctx, name, replacement)
	})
}

// ActivateImage makes the deprecated image in the current region available.
func (i *Client) ActivateImage(ctx context.Context, name string) error {
	compute, err := i.session.Compute(ctx)
	if err != nil {
		return err
	}
	return compute.SetActive(ctx, name)
}

func (i *Client) ActivateImageInRegions(ctx context.Context, name string, regions []string) (propagate.Result, error) {
	return i.forEachRegion(ctx, "activate image", regions, false, func(ctx context.Context, region string) (string, error) {
		return "", i.ActivateImage(ctx, name)
	})
}

// RestoreImage clears the deprecation of the image in the current region,
// whether it was tagged or has the Deprecated status.
func (i *Client) RestoreImage(ctx context.Context, name string) error {
	compute, err := i.session.Compute(ctx)
	if err != nil {
		return err
	}
	_, err = compute.ClearDeprecation(ctx, name)
	return err
}

func (i *Client) RestoreImageInRegions(ctx context.Context, name string, regions []string) (propagate.Result, error) {
	return i.forEachRegion(ctx, "restore image", regions, false, func(ctx context.Context, region string) (string, error) {
		return "", i.RestoreImage(ctx, name)
	})
}

// DeleteImageInRegions deletes the image in every target region. The value of
// a region is the id of the deleted image, empty when there was none. Blobs
// are never deleted here as they only live in the bucket of the home region.
func (i *Client) DeleteImageInRegions(ctx context.Context, name string, o DeleteOptions, regions []string) (propagate.Result, error) {
	return i.forEachRegion(ctx, "delete image", regions, false, func(ctx context.Context, region string) (string, error) {
		compute, err := i.session.Compute(ctx)
		if err != nil {
			return "", err
		}
		image, deleted, err := compute.Delete(ctx, name, ecs.DeleteOptions{Force: o.Force})
		if err != nil || !deleted {
			return "", err
		}
		return image.ID, nil
	})
}
