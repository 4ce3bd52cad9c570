// Package ecsfake provides an in-memory, multi-region ECS implementing ecs.API
// for tests.
package ecsfake

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/giantswarm/aliyun-image-operator/pkg/ecs"
)

// Call is a recorded API request. Target is the image id, the destination
// region of a copy or the key pair name.
type Call struct {
	Op     string
	Region string
	Target string
}

// Cloud holds the images of every region.
type Cloud struct {
	// ImportScript is the sequence of statuses reported for imported images,
	// the last one repeating. Imported images are available when empty.
	ImportScript []ecs.Status
	// DeleteLinger is the number of lookups by id for which a deleted image
	// still resolves.
	DeleteLinger int
	// OnCall is invoked before each request.
	OnCall func(call Call)

	mu       sync.Mutex
	regions  []string
	images   map[string][]*ecs.Image
	scripts  map[string][]ecs.Status
	lingers  map[string]int
	tags     map[string]map[string]string
	sharing  map[string]string
	keyPairs map[string]map[string]string
	failures map[string]error
	calls    []Call
	nextID   int
}

func New(regions ...string) *Cloud {
	return &Cloud{
		regions:  regions,
		images:   map[string][]*ecs.Image{},
		scripts:  map[string][]ecs.Status{},
		lingers:  map[string]int{},
		tags:     map[string]map[string]string{},
		sharing:  map[string]string{},
		keyPairs: map[string]map[string]string{},
		failures: map[string]error{},
	}
}

// API returns the API of a single region.
func (c *Cloud) API(region string) ecs.API {
	return &regionAPI{cloud: c, region: region}
}

// AddImage stores an image and returns its id. Status defaults to available.
func (c *Cloud) AddImage(region string, image ecs.Image) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addImage(region, image)
}

func (c *Cloud) addImage(region string, image ecs.Image) string {
	if image.ID == "" {
		c.nextID++
		image.ID = fmt.Sprintf("m-%s-%d", region, c.nextID)
	}
	if image.Status == "" {
		image.Status = ecs.StatusAvailable
	}
	image.Region = region
	c.images[region] = append(c.images[region], &image)
	return image.ID
}

// Image returns the first image with the given name in region.
func (c *Cloud) Image(region, name string) (ecs.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, i := range c.images[region] {
		if i.Name == name {
			return *i, true
		}
	}
	return ecs.Image{}, false
}

// Images returns every image of region.
func (c *Cloud) Images(region string) []ecs.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	var images []ecs.Image
	for _, i := range c.images[region] {
		images = append(images, *i)
	}
	return images
}

// SetStatusScript makes successive lookups of id report the given statuses,
// the last one repeating.
func (c *Cloud) SetStatusScript(id string, statuses ...ecs.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[id] = statuses
}

// SetStatus changes the status of an image.
func (c *Cloud) SetStatus(region, id string, status ecs.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.find(region, id); i != nil {
		i.Status = status
	}
}

// Fail makes every op request in region fail with err. A nil err clears the failure.
func (c *Cloud) Fail(region, op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, region+"/"+op)
		return
	}
	c.failures[region+"/"+op] = err
}

func (c *Cloud) Tags(id string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.tags[id])
}

func (c *Cloud) LaunchPermission(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sharing[id]
}

func (c *Cloud) KeyPairs(region string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keyPairs[region]
}

// Calls returns the recorded requests, optionally only those of the given ops.
func (c *Cloud) Calls(ops ...string) []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	var calls []Call
	for _, call := range c.calls {
		if len(ops) == 0 || slices.Contains(ops, call.Op) {
			calls = append(calls, call)
		}
	}
	return calls
}

func (c *Cloud) record(call Call) error {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	err := c.failures[call.Region+"/"+call.Op]
	hook := c.OnCall
	c.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return err
}

func (c *Cloud) find(region, id string) *ecs.Image {
	for _, i := range c.images[region] {
		if i.ID == id {
			return i
		}
	}
	return nil
}

func (c *Cloud) remove(region, id string) {
	c.images[region] = slices.DeleteFunc(c.images[region], func(i *ecs.Image) bool {
		return i.ID == id
	})
}

func notFound(what, id string) error {
	return &ecs.ProviderError{Code: "InvalidImageId.NotFound", Message: fmt.Sprintf("The specified %s %s does not exist.", what, id)}
}

type regionAPI struct {
	cloud  *Cloud
	region string
}

func (a *regionAPI) DescribeImages(ctx context.Context, in ecs.DescribeImagesInput) ([]ecs.Image, error) {
	if err := a.cloud.record(Call{Op: "DescribeImages", Region: a.region, Target: in.ImageID}); err != nil {
		return nil, err
	}

	c := a.cloud
	c.mu.Lock()
	defer c.mu.Unlock()

	if in.ImageID != "" && c.lingers[in.ImageID] > 0 {
		c.lingers[in.ImageID]--
		return []ecs.Image{{ID: in.ImageID, Status: ecs.StatusAvailable, Region: a.region}}, nil
	}

	var images []ecs.Image
	for _, i := range c.images[a.region] {
		if in.ImageID != "" && i.ID != in.ImageID {
			continue
		}
		// names match by prefix like the ECS filter does
		if in.ImageName != "" && !strings.HasPrefix(i.Name, in.ImageName) {
			continue
		}
		if in.ImageID != "" {
			if script := c.scripts[i.ID]; len(script) > 0 {
				i.Status = script[0]
				if len(script) > 1 {
					c.scripts[i.ID] = script[1:]
				}
			}
		}
		if len(in.Statuses) > 0 && !slices.Contains(in.Statuses, i.Status) {
			continue
		}
		image := *i
		if tags := c.tags[i.ID]; len(tags) > 0 {
			image.Tags = maps.Clone(tags)
		}
		images = append(images, image)
	}
	return images, nil
}

func (a *regionAPI) ImportImage(ctx context.Context, in ecs.ImportImageInput) (string, error) {
	if err := a.cloud.record(Call{Op: "ImportImage", Region: a.region, Target: in.ImageName}); err != nil {
		return "", err
	}

	c := a.cloud
	c.mu.Lock()
	defer c.mu.Unlock()

	status := ecs.StatusAvailable
	if len(c.ImportScript) > 0 {
		status = c.ImportScript[0]
	}
	id := c.addImage(a.region, ecs.Image{
		Name:         in.ImageName,
		Description:  in.Description,
		Status:       status,
		Platform:     in.Platform,
		OSType:       in.OSType,
		Architecture: in.Architecture,
		SizeGB:       in.DiskSizeGB,
		DiskDeviceMappings: []ecs.DiskDeviceMapping{
			{
				Device:    "/dev/xvda",
				SizeGB:    fmt.Sprint(in.DiskSizeGB),
				OSSBucket: in.OSSBucket,
				OSSObject: in.OSSObject,
			},
		},
	})
	if len(c.ImportScript) > 0 {
		c.scripts[id] = slices.Clone(c.ImportScript)
	}
	return id, nil
}

func (a *regionAPI) DeleteImage(ctx context.Context, id string, force bool) error {
	if err := a.cloud.record(Call{Op: "DeleteImage", Region: a.region, Target: id}); err != nil {
		return err
	}

	c := a.cloud
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.find(a.region, id) == nil {
		return notFound("image", id)
	}
	c.remove(a.region, id)
	if c.DeleteLinger > 0 {
		c.lingers[id] = c.DeleteLinger
	}
	return nil
}

func (a *regionAPI) CopyImage(ctx context.Context, in ecs.CopyImageInput) (string, error) {
	if err := a.cloud.record(Call{Op: "CopyImage", Region: a.region, Target: in.DestinationRegion}); err != nil {
		return "", err
	}

	c := a.cloud
	c.mu.Lock()
	defer c.mu.Unlock()

	source := c.find(a.region, in.ImageID)
	if source == nil {
		return "", notFound("image", in.ImageID)
	}
	if !slices.Contains(c.regions, in.DestinationRegion) {
		return "", &ecs.ProviderError{Code: "InvalidRegionId.NotFound", Message: "The specified region does not exist."}
	}

	copied := *source
	copied.ID = ""
	copied.Name = in.Name
	copied.Description = in.Description
	copied.Status = ecs.StatusAvailable
	return c.addImage(in.DestinationRegion, copied), nil
}

func (a *regionAPI) ModifyImageSharePermission(ctx context.Context, id, launchPermission string) error {
	if err := a.cloud.record(Call{Op: "ModifyImageSharePermission", Region: a.region, Target: id}); err != nil {
		return err
	}

	c := a.cloud
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.find(a.region, id) == nil {
		return notFound("image", id)
	}
	c.sharing[id] = launchPermission
	return nil
}

func (a *regionAPI) ModifyImageAttribute(ctx context.Context, id string, status ecs.Status) error {
	if err := a.cloud.record(Call{Op: "ModifyImageAttribute", Region: a.region, Target: id}); err != nil {
		return err
	}

	c := a.cloud
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.find(a.region, id)
	if i == nil {
		return notFound("image", id)
	}
	i.Status = status
	return nil
}

func (a *regionAPI) TagResources(ctx context.Context, id string, tags map[string]string) error {
	if err := a.cloud.record(Call{Op: "TagResources", Region: a.region, Target: id}); err != nil {
		return err
	}

	c := a.cloud
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.find(a.region, id) == nil {
		return notFound("image", id)
	}
	if c.tags[id] == nil {
		c.tags[id] = map[string]string{}
	}
	for k, v := range tags {
		c.tags[id][k] = v
	}
	return nil
}

func (a *regionAPI) UntagResources(ctx context.Context, id string, keys []string) error {
	if err := a.cloud.record(Call{Op: "UntagResources", Region: a.region, Target: id}); err != nil {
		return err
	}

	c := a.cloud
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.find(a.region, id) == nil {
		return notFound("image", id)
	}
	for _, k := range keys {
		delete(c.tags[id], k)
	}
	return nil
}

func (a *regionAPI) DescribeRegions(ctx context.Context) ([]string, error) {
	if err := a.cloud.record(Call{Op: "DescribeRegions", Region: a.region}); err != nil {
		return nil, err
	}

	c := a.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.regions), nil
}

func (a *regionAPI) ImportKeyPair(ctx context.Context, name, publicKey string) error {
	if err := a.cloud.record(Call{Op: "ImportKeyPair", Region: a.region, Target: name}); err != nil {
		return err
	}

	c := a.cloud
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.keyPairs[a.region][name]; ok {
		return &ecs.ProviderError{Code: "KeyPair.AlreadyExist", Message: "The key pair already exists."}
	}
	if c.keyPairs[a.region] == nil {
		c.keyPairs[a.region] = map[string]string{}
	}
	c.keyPairs[a.region][name] = publicKey
	return nil
}

func (a *regionAPI) DeleteKeyPairs(ctx context.Context, names []string) error {
	for _, name := range names {
		if err := a.cloud.record(Call{Op: "DeleteKeyPairs", Region: a.region, Target: name}); err != nil {
			return err
		}
	}

	c := a.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range names {
		delete(c.keyPairs[a.region], name)
	}
	return nil
}
