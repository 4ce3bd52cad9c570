package provider

import (
	"context"

	"github.com/giantswarm/aliyun-image-operator/pkg/propagate"
)

// Image describes an image to import from a blob.
type Image struct {
	Name         string
	Description  string
	BlobName     string
	Platform     string
	OSType       string
	Architecture string
	DiskSizeGB   int
}

// Provider defines the interface for image distribution providers.
// Single region operations run in the home region of the provider.
type Provider interface {
	// HomeRegion is the region images are imported into and copied from
	HomeRegion() string

	// Exists checks if an image already exists in the home region and
	// returns its id
	Exists(ctx context.Context, name string) (string, bool, error)

	// Create imports the image from its blob into the home region and
	// returns its id once it is available
	Create(ctx context.Context, image Image) (string, error)

	// Replicate copies the image from the home region to the given regions,
	// the value of each region is the id of its copy
	Replicate(ctx context.Context, name string, regions []string) (propagate.Result, error)

	// Publish sets the launch permission of the image in the given regions
	Publish(ctx context.Context, name, launchPermission string, regions []string) (propagate.Result, error)

	// Deprecate marks the image deprecated in the given regions
	Deprecate(ctx context.Context, name, replacement string, regions []string) (propagate.Result, error)

	// Activate clears the deprecation of the image in the given regions,
	// regions where it is not deprecated succeed without a change
	Activate(ctx context.Context, name string, regions []string) (propagate.Result, error)

	// Delete removes the image from the given regions and the home region,
	// optionally with its blob
	Delete(ctx context.Context, name string, deleteBlob bool, regions []string) (propagate.Result, error)

	// GetRegions returns all regions available to the provider
	GetRegions(ctx context.Context) ([]string, error)
}
