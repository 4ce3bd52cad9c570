package ecs

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/giantswarm/aliyun-image-operator/pkg/imgerr"
	"github.com/giantswarm/aliyun-image-operator/pkg/wait"
)

const (
	DefaultDeprecationPeriod = 6
	DefaultDiskSizeGB        = 20
	DefaultOSType            = "linux"
	DefaultArchitecture      = "x86_64"

	TagDeprecatedOn     = "DeprecatedOn"
	TagRemovalDate      = "RemovalDate"
	TagReplacementImage = "ReplacementImage"

	tagDateFormat = "20060102"
)

// Client manages images in the region its API is bound to.
type Client struct {
	api               API
	region            string
	deprecationPeriod int
	availableWait     wait.Config
	deletedWait       wait.Config
	now               func() time.Time
}

type Config struct {
	API    API
	Region string
	// DeprecationPeriod is the number of months between deprecation and the
	// scheduled removal of an image.
	DeprecationPeriod int
	AvailableWait     wait.Config
	DeletedWait       wait.Config
	Now               func() time.Time
}

func New(c Config) (*Client, error) {
	if c.API == nil {
		return nil, imgerr.New(imgerr.Configuration, "compute API must not be empty")
	}
	if c.Region == "" {
		return nil, imgerr.New(imgerr.Configuration, "region must not be empty")
	}
	if c.DeprecationPeriod == 0 {
		c.DeprecationPeriod = DefaultDeprecationPeriod
	}
	if c.AvailableWait.Interval == 0 {
		c.AvailableWait = DefaultAvailableWait
	}
	if c.DeletedWait.Interval == 0 {
		c.DeletedWait = DefaultDeletedWait
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Client{
		api:               c.API,
		region:            c.Region,
		deprecationPeriod: c.DeprecationPeriod,
		availableWait:     c.AvailableWait,
		deletedWait:       c.DeletedWait,
		now:               c.Now,
	}, nil
}

func (c *Client) Region() string {
	return c.region
}

// Query selects images by name and/or id. Statuses defaults to AllStatuses.
type Query struct {
	Name     string
	ID       string
	Statuses []Status
}

// Find returns the image matching q. Only images with exactly the queried name
// are considered, and when more than one is left the first is used.
func (c *Client) Find(ctx context.Context, q Query) (*Image, error) {
	if q.Name == "" && q.ID == "" {
		return nil, imgerr.New(imgerr.Configuration, "image name or image id is required")
	}
	statuses := q.Statuses
	if len(statuses) == 0 {
		statuses = AllStatuses
	}

	images, err := c.api.DescribeImages(ctx, DescribeImagesInput{
		ImageName: q.Name,
		ImageID:   q.ID,
		Statuses:  statuses,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe images in region %s: %w", c.region, err)
	}
	// ECS matches names fuzzily, img also returns img-v2.
	if q.Name != "" {
		images = slices.DeleteFunc(images, func(i Image) bool {
			return i.Name != q.Name
		})
	}
	if len(images) == 0 {
		return nil, imgerr.New(imgerr.NotFound, "image %s not found in region %s", q.describe(), c.region)
	}
	if len(images) > 1 {
		log.FromContext(ctx).V(1).Info("Lookup matched more than one image, using the first",
			"query", q.describe(), "region", c.region, "matches", len(images))
	}

	image := images[0]
	image.Region = c.region
	return &image, nil
}

func (q Query) describe() string {
	switch {
	case q.Name != "" && q.ID != "":
		return fmt.Sprintf("%s (%s)", q.Name, q.ID)
	case q.Name != "":
		return q.Name
	default:
		return q.ID
	}
}

// Exists reports whether an image with the given name exists in any status.
func (c *Client) Exists(ctx context.Context, name string) (bool, error) {
	_, err := c.Find(ctx, Query{Name: name})
	if imgerr.IsNotFound(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

type CreateOptions struct {
	Name         string
	Description  string
	BucketName   string
	BlobName     string
	Platform     string
	OSType       string
	Architecture string
	DiskSizeGB   int
	// ReplaceExisting deletes an image of the same name before importing.
	ReplaceExisting bool
}

// Create imports the blob as a new image and waits until it is available.
func (c *Client) Create(ctx context.Context, o CreateOptions) (string, error) {
	log := log.FromContext(ctx)

	if o.OSType == "" {
		o.OSType = DefaultOSType
	}
	if o.Architecture == "" {
		o.Architecture = DefaultArchitecture
	}
	if o.DiskSizeGB == 0 {
		o.DiskSizeGB = DefaultDiskSizeGB
	}

	exists, err := c.Exists(ctx, o.Name)
	if err != nil {
		return "", imgerr.Wrap(imgerr.Create, err, "unable to create image %s", o.Name)
	}
	if exists {
		if !o.ReplaceExisting {
			return "", imgerr.New(imgerr.AlreadyExists,
				"image %s already exists in region %s, to replace it use the force replace option", o.Name, c.region)
		}
		log.Info("Replacing existing image", "image", o.Name, "region", c.region)
		if _, _, err := c.Delete(ctx, o.Name, DeleteOptions{}); err != nil {
			return "", imgerr.Wrap(imgerr.Create, err, "unable to replace image %s", o.Name)
		}
	}

	id, err := c.api.ImportImage(ctx, ImportImageInput{
		ImageName:    o.Name,
		Description:  o.Description,
		Platform:     o.Platform,
		OSType:       o.OSType,
		Architecture: o.Architecture,
		OSSBucket:    o.BucketName,
		OSSObject:    o.BlobName,
		DiskSizeGB:   o.DiskSizeGB,
	})
	if err != nil {
		return "", imgerr.Wrap(imgerr.Create, err, "unable to create image %s", o.Name)
	}
	log.Info("Started image import", "image", o.Name, "imageID", id, "region", c.region, "blob", o.BlobName)

	if err := c.WaitForAvailable(ctx, id); err != nil {
		return "", err
	}

	log.Info("Image is available", "image", o.Name, "imageID", id, "region", c.region)
	return id, nil
}

type DeleteOptions struct {
	// Force deletes the image even if instances are using it.
	Force bool
}

// Delete deletes the image and waits until it is gone. It returns the deleted
// image and false when there was no image to delete.
func (c *Client) Delete(ctx context.Context, name string, o DeleteOptions) (*Image, bool, error) {
	log := log.FromContext(ctx)

	image, err := c.Find(ctx, Query{Name: name})
	if imgerr.IsNotFound(err) {
		log.V(1).Info("Image does not exist, nothing to delete", "image", name, "region", c.region)
		return nil, false, nil
	} else if err != nil {
		return nil, false, imgerr.Wrap(imgerr.Delete, err, "unable to delete image %s", name)
	}

	if err := c.api.DeleteImage(ctx, image.ID, o.Force); err != nil {
		return nil, false, imgerr.Wrap(imgerr.Delete, err, "unable to delete image %s", name)
	}

	if err := c.WaitForDeleted(ctx, image.ID); err != nil {
		return nil, false, err
	}

	log.Info("Deleted image", "image", name, "imageID", image.ID, "region", c.region)
	return image, true, nil
}

// Copy copies the image to destination, keeping its name and description, and
// returns the id of the copy.
func (c *Client) Copy(ctx context.Context, name, destination string) (string, error) {
	log := log.FromContext(ctx)

	image, err := c.Find(ctx, Query{Name: name})
	if err == nil {
		var id string
		id, err = c.api.CopyImage(ctx, CopyImageInput{
			ImageID:           image.ID,
			DestinationRegion: destination,
			Name:              image.Name,
			Description:       image.Description,
		})
		if err == nil {
			log.Info("Copied image", "image", name, "source", c.region, "destination", destination, "imageID", id)
			return id, nil
		}
	}

	log.Error(err, "Failed to copy image", "image", name, "source", c.region, "destination", destination)
	return "", imgerr.Wrap(imgerr.Copy, err, "unable to copy image %s from %s to %s", name, c.region, destination)
}

// SetSharing sets the launch permission of the image.
func (c *Client) SetSharing(ctx context.Context, name, launchPermission string) error {
	image, err := c.Find(ctx, Query{Name: name})
	if err != nil {
		return imgerr.Wrap(imgerr.Publish, err, "unable to publish image %s", name)
	}

	if err := c.api.ModifyImageSharePermission(ctx, image.ID, launchPermission); err != nil {
		return imgerr.Wrap(imgerr.Publish, err, "unable to publish image %s", name)
	}

	log.FromContext(ctx).Info("Set image launch permission", "image", name, "region", c.region, "launchPermission", launchPermission)
	return nil
}

// DeprecationTags returns the tags marking an image deprecated at now.
func DeprecationTags(now time.Time, periodMonths int, replacement string) map[string]string {
	tags := map[string]string{
		TagDeprecatedOn: now.Format(tagDateFormat),
		TagRemovalDate:  now.AddDate(0, periodMonths, 0).Format(tagDateFormat),
	}
	if replacement != "" {
		tags[TagReplacementImage] = replacement
	}
	return tags
}

// SetDeprecated tags the image with its deprecation and removal dates and the
// optional replacement image.
func (c *Client) SetDeprecated(ctx context.Context, name, replacement string) error {
	image, err := c.Find(ctx, Query{Name: name})
	if err != nil {
		return imgerr.Wrap(imgerr.Deprecate, err, "unable to deprecate image %s", name)
	}

	tags := DeprecationTags(c.now(), c.deprecationPeriod, replacement)
	if err := c.api.TagResources(ctx, image.ID, tags); err != nil {
		return imgerr.Wrap(imgerr.Deprecate, err, "unable to deprecate image %s", name)
	}

	log.FromContext(ctx).Info("Deprecated image", "image", name, "region", c.region, "removalDate", tags[TagRemovalDate])
	return nil
}

// SetActive makes a deprecated image available again. Only deprecated images
// are considered so an available image of the same name is never matched.
func (c *Client) SetActive(ctx context.Context, name string) error {
	image, err := c.Find(ctx, Query{Name: name, Statuses: []Status{StatusDeprecated}})
	if err != nil {
		return imgerr.Wrap(imgerr.Activate, err, "unable to activate image %s", name)
	}

	if err := c.api.ModifyImageAttribute(ctx, image.ID, StatusAvailable); err != nil {
		return imgerr.Wrap(imgerr.Activate, err, "unable to activate image %s", name)
	}

	log.FromContext(ctx).Info("Activated image", "image", name, "region", c.region)
	return nil
}

// ClearDeprecation makes the image available again however it was deprecated.
// Deprecation tags are removed and a Deprecated status is reset to Available.
// It reports whether anything had to be changed.
func (c *Client) ClearDeprecation(ctx context.Context, name string) (bool, error) {
	log := log.FromContext(ctx)

	image, err := c.Find(ctx, Query{Name: name})
	if err != nil {
		return false, imgerr.Wrap(imgerr.Activate, err, "unable to activate image %s", name)
	}
	if !image.Deprecated() {
		log.V(1).Info("Image is not deprecated", "image", name, "region", c.region)
		return false, nil
	}

	if image.Status == StatusDeprecated {
		if err := c.api.ModifyImageAttribute(ctx, image.ID, StatusAvailable); err != nil {
			return false, imgerr.Wrap(imgerr.Activate, err, "unable to activate image %s", name)
		}
	}
	if _, tagged := image.Tags[TagDeprecatedOn]; tagged {
		keys := []string{TagDeprecatedOn, TagRemovalDate, TagReplacementImage}
		if err := c.api.UntagResources(ctx, image.ID, keys); err != nil {
			return false, imgerr.Wrap(imgerr.Activate, err, "unable to remove deprecation tags of image %s", name)
		}
	}

	log.Info("Cleared image deprecation", "image", name, "region", c.region)
	return true, nil
}

// Regions lists every region ECS reports.
func (c *Client) Regions(ctx context.Context) ([]string, error) {
	regions, err := c.api.DescribeRegions(ctx)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.Region, err, "unable to list regions")
	}
	return regions, nil
}

func (c *Client) ImportKeyPair(ctx context.Context, name, publicKey string) error {
	if err := c.api.ImportKeyPair(ctx, name, publicKey); err != nil {
		return imgerr.Wrap(imgerr.KeyPair, err, "unable to import key pair %s", name)
	}
	return nil
}

func (c *Client) DeleteKeyPair(ctx context.Context, name string) error {
	if err := c.api.DeleteKeyPairs(ctx, []string{name}); err != nil {
		return imgerr.Wrap(imgerr.KeyPair, err, "unable to delete key pair %s", name)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
