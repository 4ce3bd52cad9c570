package ecs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sdkerrors "github.com/aliyun/alibaba-cloud-sdk-go/sdk/errors"
	"github.com/aliyun/alibaba-cloud-sdk-go/sdk/requests"
	ecssdk "github.com/aliyun/alibaba-cloud-sdk-go/services/ecs"
)

const imagePageSize = 100

// SDKConfig holds what is needed to talk to ECS in one region.
type SDKConfig struct {
	Region         string
	AccessKey      string
	AccessSecret   string
	ConnectTimeout time.Duration
}

// SDKAPI implements API with the Alibaba Cloud SDK.
type SDKAPI struct {
	client *ecssdk.Client
	region string
}

// NewSDKAPI returns an API bound to c.Region. No request is made until the
// first call.
func NewSDKAPI(c SDKConfig) (*SDKAPI, error) {
	client, err := ecssdk.NewClientWithAccessKey(c.Region, c.AccessKey, c.AccessSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute client for region %s: %w", c.Region, err)
	}
	if c.ConnectTimeout > 0 {
		client.SetConnectTimeout(c.ConnectTimeout)
	}

	return &SDKAPI{
		client: client,
		region: c.Region,
	}, nil
}

type rpcRequest interface {
	GetQueryParams() map[string]string
}

// prepare sets the parameters shared by every request. The SDK calls are not
// context aware so a cancelled context is checked up front.
func (a *SDKAPI) prepare(ctx context.Context, req rpcRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req.GetQueryParams()["RegionId"] = a.region
	return nil
}

func (a *SDKAPI) DescribeImages(ctx context.Context, in DescribeImagesInput) ([]Image, error) {
	req := ecssdk.CreateDescribeImagesRequest()
	req.Scheme = "https"
	if err := a.prepare(ctx, req); err != nil {
		return nil, err
	}
	req.ImageName = in.ImageName
	req.ImageId = in.ImageID
	req.PageSize = requests.NewInteger(imagePageSize)

	statuses := make([]string, 0, len(in.Statuses))
	for _, s := range in.Statuses {
		statuses = append(statuses, string(s))
	}
	req.Status = strings.Join(statuses, ",")

	resp, err := a.client.DescribeImages(req)
	if err != nil {
		return nil, providerError(err)
	}

	images := make([]Image, 0, len(resp.Images.Image))
	for _, i := range resp.Images.Image {
		image := Image{
			ID:           i.ImageId,
			Name:         i.ImageName,
			Description:  i.Description,
			Status:       Status(i.Status),
			Region:       a.region,
			Platform:     i.Platform,
			OSType:       i.OSType,
			Architecture: i.Architecture,
			SizeGB:       i.Size,
		}
		for _, t := range i.Tags.Tag {
			if image.Tags == nil {
				image.Tags = map[string]string{}
			}
			image.Tags[t.TagKey] = t.TagValue
		}
		for _, m := range i.DiskDeviceMappings.DiskDeviceMapping {
			image.DiskDeviceMappings = append(image.DiskDeviceMappings, DiskDeviceMapping{
				Device:    m.Device,
				Format:    m.Format,
				SizeGB:    m.Size,
				OSSBucket: m.ImportOSSBucket,
				OSSObject: m.ImportOSSObject,
			})
		}
		images = append(images, image)
	}
	return images, nil
}

func (a *SDKAPI) ImportImage(ctx context.Context, in ImportImageInput) (string, error) {
	req := ecssdk.CreateImportImageRequest()
	req.Scheme = "https"
	if err := a.prepare(ctx, req); err != nil {
		return "", err
	}
	req.ImageName = in.ImageName
	req.Description = in.Description
	req.Platform = in.Platform
	req.OSType = in.OSType
	req.Architecture = in.Architecture
	req.DiskDeviceMapping = &[]ecssdk.ImportImageDiskDeviceMapping{
		{
			OSSBucket:     in.OSSBucket,
			OSSObject:     in.OSSObject,
			DiskImageSize: strconv.Itoa(in.DiskSizeGB),
		},
	}

	resp, err := a.client.ImportImage(req)
	if err != nil {
		return "", providerError(err)
	}
	return resp.ImageId, nil
}

func (a *SDKAPI) DeleteImage(ctx context.Context, id string, force bool) error {
	req := ecssdk.CreateDeleteImageRequest()
	req.Scheme = "https"
	if err := a.prepare(ctx, req); err != nil {
		return err
	}
	req.ImageId = id
	req.Force = requests.NewBoolean(force)

	_, err := a.client.DeleteImage(req)
	return providerError(err)
}

func (a *SDKAPI) CopyImage(ctx context.Context, in CopyImageInput) (string, error) {
	req := ecssdk.CreateCopyImageRequest()
	req.Scheme = "https"
	if err := a.prepare(ctx, req); err != nil {
		return "", err
	}
	req.ImageId = in.ImageID
	req.DestinationRegionId = in.DestinationRegion
	req.DestinationImageName = in.Name
	req.DestinationDescription = in.Description

	resp, err := a.client.CopyImage(req)
	if err != nil {
		return "", providerError(err)
	}
	return resp.ImageId, nil
}

func (a *SDKAPI) ModifyImageSharePermission(ctx context.Context, id, launchPermission string) error {
	req := ecssdk.CreateModifyImageSharePermissionRequest()
	req.Scheme = "https"
	if err := a.prepare(ctx, req); err != nil {
		return err
	}
	req.ImageId = id
	req.LaunchPermission = launchPermission

	_, err := a.client.ModifyImageSharePermission(req)
	return providerError(err)
}

func (a *SDKAPI) ModifyImageAttribute(ctx context.Context, id string, status Status) error {
	req := ecssdk.CreateModifyImageAttributeRequest()
	req.Scheme = "https"
	if err := a.prepare(ctx, req); err != nil {
		return err
	}
	req.ImageId = id
	req.Status = string(status)

	_, err := a.client.ModifyImageAttribute(req)
	return providerError(err)
}

func (a *SDKAPI) TagResources(ctx context.Context, id string, tags map[string]string) error {
	req := ecssdk.CreateTagResourcesRequest()
	req.Scheme = "https"
	if err := a.prepare(ctx, req); err != nil {
		return err
	}
	req.ResourceType = "image"
	req.ResourceId = &[]string{id}

	resourceTags := make([]ecssdk.TagResourcesTag, 0, len(tags))
	for _, key := range sortedKeys(tags) {
		resourceTags = append(resourceTags, ecssdk.TagResourcesTag{Key: key, Value: tags[key]})
	}
	req.Tag = &resourceTags

	_, err := a.client.TagResources(req)
	return providerError(err)
}

func (a *SDKAPI) UntagResources(ctx context.Context, id string, keys []string) error {
	req := ecssdk.CreateUntagResourcesRequest()
	req.Scheme = "https"
	if err := a.prepare(ctx, req); err != nil {
		return err
	}
	req.ResourceType = "image"
	req.ResourceId = &[]string{id}
	req.TagKey = &keys

	_, err := a.client.UntagResources(req)
	return providerError(err)
}

func (a *SDKAPI) DescribeRegions(ctx context.Context) ([]string, error) {
	req := ecssdk.CreateDescribeRegionsRequest()
	req.Scheme = "https"
	if err := a.prepare(ctx, req); err != nil {
		return nil, err
	}

	resp, err := a.client.DescribeRegions(req)
	if err != nil {
		return nil, providerError(err)
	}

	regions := make([]string, 0, len(resp.Regions.Region))
	for _, r := range resp.Regions.Region {
		regions = append(regions, r.RegionId)
	}
	return regions, nil
}

func (a *SDKAPI) ImportKeyPair(ctx context.Context, name, publicKey string) error {
	req := ecssdk.CreateImportKeyPairRequest()
	req.Scheme = "https"
	if err := a.prepare(ctx, req); err != nil {
		return err
	}
	req.KeyPairName = name
	req.PublicKeyBody = publicKey

	_, err := a.client.ImportKeyPair(req)
	return providerError(err)
}

func (a *SDKAPI) DeleteKeyPairs(ctx context.Context, names []string) error {
	req := ecssdk.CreateDeleteKeyPairsRequest()
	req.Scheme = "https"
	if err := a.prepare(ctx, req); err != nil {
		return err
	}
	encoded, err := json.Marshal(names)
	if err != nil {
		return err
	}
	req.KeyPairNames = string(encoded)

	_, err = a.client.DeleteKeyPairs(req)
	return providerError(err)
}

// ProviderError is an error reported by the ECS API.
type ProviderError struct {
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// providerError keeps the code and message of server errors so they can be
// surfaced to the user.
func providerError(err error) error {
	if err == nil {
		return nil
	}
	var serverErr *sdkerrors.ServerError
	if errors.As(err, &serverErr) {
		return &ProviderError{Code: serverErr.ErrorCode(), Message: serverErr.Message(), Err: err}
	}
	return err
}
