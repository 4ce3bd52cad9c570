package ecs

import (
	"context"
)

// Status is the lifecycle state of an image as reported by ECS.
type Status string

const (
	StatusCreating     Status = "Creating"
	StatusWaiting      Status = "Waiting"
	StatusAvailable    Status = "Available"
	StatusDeprecated   Status = "Deprecated"
	StatusUnAvailable  Status = "UnAvailable"
	StatusCreateFailed Status = "CreateFailed"
)

// AllStatuses is the implicit status filter of every lookup. Without it ECS
// only returns available images.
var AllStatuses = []Status{
	StatusCreating,
	StatusWaiting,
	StatusAvailable,
	StatusUnAvailable,
	StatusCreateFailed,
	StatusDeprecated,
}

func (s Status) Processing() bool {
	return s == StatusCreating || s == StatusWaiting
}

func (s Status) Broken() bool {
	return s == StatusUnAvailable || s == StatusCreateFailed
}

// DiskDeviceMapping links an image back to the blob it was imported from.
type DiskDeviceMapping struct {
	Device    string `json:"Device,omitempty"`
	Format    string `json:"Format,omitempty"`
	SizeGB    string `json:"Size,omitempty"`
	OSSBucket string `json:"ImportOSSBucket,omitempty"`
	OSSObject string `json:"ImportOSSObject,omitempty"`
}

// Image is a region scoped ECS image.
type Image struct {
	ID                 string              `json:"ImageId"`
	Name               string              `json:"ImageName"`
	Description        string              `json:"Description"`
	Status             Status              `json:"Status"`
	Region             string              `json:"RegionId,omitempty"`
	Platform           string              `json:"Platform,omitempty"`
	OSType             string              `json:"OSType,omitempty"`
	Architecture       string              `json:"Architecture,omitempty"`
	SizeGB             int                 `json:"Size,omitempty"`
	DiskDeviceMappings []DiskDeviceMapping `json:"DiskDeviceMappings,omitempty"`
	Tags               map[string]string   `json:"Tags,omitempty"`
}

// BlobName returns the storage object the image was imported from, if any.
func (i Image) BlobName() string {
	_, object := i.Blob()
	return object
}

// Blob returns the bucket and object the image was imported from, if any.
func (i Image) Blob() (bucket, object string) {
	for _, m := range i.DiskDeviceMappings {
		if m.OSSObject != "" {
			return m.OSSBucket, m.OSSObject
		}
	}
	return "", ""
}

// Deprecated reports whether the image carries deprecation tags or status.
func (i Image) Deprecated() bool {
	_, tagged := i.Tags[TagDeprecatedOn]
	return tagged || i.Status == StatusDeprecated
}

type DescribeImagesInput struct {
	ImageName string
	ImageID   string
	Statuses  []Status
}

type ImportImageInput struct {
	ImageName    string
	Description  string
	Platform     string
	OSType       string
	Architecture string
	OSSBucket    string
	OSSObject    string
	DiskSizeGB   int
}

type CopyImageInput struct {
	ImageID           string
	DestinationRegion string
	Name              string
	Description       string
}

// API is the part of the ECS API used by the image client. Every call is
// scoped to the region the implementation was built for.
type API interface {
	DescribeImages(ctx context.Context, in DescribeImagesInput) ([]Image, error)
	// ImportImage starts an asynchronous import and returns the new image id.
	ImportImage(ctx context.Context, in ImportImageInput) (string, error)
	DeleteImage(ctx context.Context, id string, force bool) error
	CopyImage(ctx context.Context, in CopyImageInput) (string, error)
	ModifyImageSharePermission(ctx context.Context, id, launchPermission string) error
	ModifyImageAttribute(ctx context.Context, id string, status Status) error
	TagResources(ctx context.Context, id string, tags map[string]string) error
	UntagResources(ctx context.Context, id string, keys []string) error
	DescribeRegions(ctx context.Context) ([]string, error)
	ImportKeyPair(ctx context.Context, name, publicKey string) error
	DeleteKeyPairs(ctx context.Context, names []string) error
}
