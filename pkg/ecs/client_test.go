package ecs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/aliyun-image-operator/pkg/ecs"
	"github.com/giantswarm/aliyun-image-operator/pkg/ecs/ecsfake"
	"github.com/giantswarm/aliyun-image-operator/pkg/imgerr"
	"github.com/giantswarm/aliyun-image-operator/pkg/wait"
)

const region = "cn-beijing"

var (
	fastWait = wait.Config{Interval: time.Millisecond, Timeout: 5 * time.Millisecond}
	today    = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
)

func newClient(t *testing.T, cloud *ecsfake.Cloud) *ecs.Client {
	t.Helper()
	c, err := ecs.New(ecs.Config{
		API:           cloud.API(region),
		Region:        region,
		AvailableWait: fastWait,
		DeletedWait:   fastWait,
		Now:           func() time.Time { return today },
	})
	require.NoError(t, err)
	return c
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	cloud := ecsfake.New(region)
	next := cloud.AddImage(region, ecs.Image{Name: "flatcar-v2"})
	first := cloud.AddImage(region, ecs.Image{Name: "flatcar", Status: ecs.StatusDeprecated})
	cloud.AddImage(region, ecs.Image{Name: "flatcar"})
	c := newClient(t, cloud)

	testCases := []struct {
		name        string
		query       ecs.Query
		expectID    string
		expectError func(err error) bool
	}{
		{
			name:     "case 0: multiple matches return the first",
			query:    ecs.Query{Name: "flatcar"},
			expectID: first,
		},
		{
			name:     "case 1: lookup by id",
			query:    ecs.Query{ID: first},
			expectID: first,
		},
		{
			name:        "case 2: no match",
			query:       ecs.Query{Name: "ubuntu"},
			expectError: imgerr.IsNotFound,
		},
		{
			name:        "case 3: status filter excludes every match",
			query:       ecs.Query{ID: first, Statuses: []ecs.Status{ecs.StatusAvailable}},
			expectError: imgerr.IsNotFound,
		},
		{
			name:        "case 4: neither name nor id",
			query:       ecs.Query{},
			expectError: imgerr.IsConfiguration,
		},
		{
			name:     "case 5: longer name sharing the prefix",
			query:    ecs.Query{Name: "flatcar-v2"},
			expectID: next,
		},
		{
			name:        "case 6: prefix of an existing name only",
			query:       ecs.Query{Name: "flatcar-v"},
			expectError: imgerr.IsNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			image, err := c.Find(ctx, tc.query)
			if tc.expectError != nil {
				assert.True(t, tc.expectError(err), "unexpected error: %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectID, image.ID)
			assert.Equal(t, region, image.Region)
		})
	}
}

func TestCreate(t *testing.T) {
	testCases := []struct {
		name     string
		existing bool
		replace  bool
		script   []ecs.Status

		expectError   func(err error) bool
		expectImports int
		expectDeletes int
	}{
		{
			name:          "case 0: import a new image",
			script:        []ecs.Status{ecs.StatusCreating, ecs.StatusCreating, ecs.StatusAvailable},
			expectImports: 1,
		},
		{
			name:          "case 1: existing image without replace",
			existing:      true,
			expectError:   imgerr.IsAlreadyExists,
			expectImports: 0,
		},
		{
			name:          "case 2: existing image is replaced",
			existing:      true,
			replace:       true,
			expectImports: 1,
			expectDeletes: 1,
		},
		{
			name:          "case 3: import fails",
			script:        []ecs.Status{ecs.StatusCreateFailed},
			expectError:   imgerr.IsBrokenState,
			expectImports: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			cloud := ecsfake.New(region)
			cloud.ImportScript = tc.script
			if tc.existing {
				cloud.AddImage(region, ecs.Image{Name: "flatcar-4152"})
			}

			id, err := newClient(t, cloud).Create(ctx, ecs.CreateOptions{
				Name:            "flatcar-4152",
				Description:     "Flatcar 4152",
				BucketName:      "images",
				BlobName:        "flatcar-4152.qcow2",
				ReplaceExisting: tc.replace,
			})

			assert.Len(t, cloud.Calls("ImportImage"), tc.expectImports)
			assert.Len(t, cloud.Calls("DeleteImage"), tc.expectDeletes)
			if tc.expectError != nil {
				assert.True(t, tc.expectError(err), "unexpected error: %v", err)
				return
			}
			require.NoError(t, err)

			image, ok := cloud.Image(region, "flatcar-4152")
			require.True(t, ok)
			assert.Equal(t, id, image.ID)
			assert.Equal(t, "flatcar-4152.qcow2", image.BlobName())
			assert.Equal(t, ecs.DefaultOSType, image.OSType)
			assert.Equal(t, ecs.DefaultArchitecture, image.Architecture)
			assert.Equal(t, ecs.DefaultDiskSizeGB, image.SizeGB)
		})
	}
}

func TestCreateRejected(t *testing.T) {
	cloud := ecsfake.New(region)
	cloud.Fail(region, "ImportImage", &ecs.ProviderError{Code: "InvalidOSSObject.NotExist", Message: "The OSS object does not exist."})

	_, err := newClient(t, cloud).Create(context.Background(), ecs.CreateOptions{Name: "flatcar", BlobName: "missing.qcow2"})
	assert.Equal(t, imgerr.Create, imgerr.KindOf(err))
	assert.Contains(t, err.Error(), "The OSS object does not exist.")
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	cloud := ecsfake.New(region)
	cloud.DeleteLinger = 2
	cloud.AddImage(region, ecs.Image{Name: "flatcar", DiskDeviceMappings: []ecs.DiskDeviceMapping{{OSSObject: "img.qcow2"}}})
	c := newClient(t, cloud)

	image, deleted, err := c.Delete(ctx, "flatcar", ecs.DeleteOptions{Force: true})
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, "img.qcow2", image.BlobName())

	exists, err := c.Exists(ctx, "flatcar")
	require.NoError(t, err)
	assert.False(t, exists)

	image, deleted, err = c.Delete(ctx, "flatcar", ecs.DeleteOptions{})
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Nil(t, image)
	assert.Len(t, cloud.Calls("DeleteImage"), 1)
}

func TestDeleteTimeout(t *testing.T) {
	cloud := ecsfake.New(region)
	cloud.DeleteLinger = 100
	cloud.AddImage(region, ecs.Image{Name: "flatcar"})

	_, _, err := newClient(t, cloud).Delete(context.Background(), "flatcar", ecs.DeleteOptions{})
	assert.True(t, imgerr.IsTimeout(err))
}

func TestCopy(t *testing.T) {
	ctx := context.Background()
	cloud := ecsfake.New(region, "cn-shanghai")
	cloud.AddImage(region, ecs.Image{Name: "flatcar", Description: "Flatcar"})
	c := newClient(t, cloud)

	id, err := c.Copy(ctx, "flatcar", "cn-shanghai")
	require.NoError(t, err)

	copied, ok := cloud.Image("cn-shanghai", "flatcar")
	require.True(t, ok)
	assert.Equal(t, id, copied.ID)
	assert.Equal(t, "Flatcar", copied.Description)

	_, err = c.Copy(ctx, "flatcar", "eu-central-1")
	assert.Equal(t, imgerr.Copy, imgerr.KindOf(err))

	_, err = c.Copy(ctx, "ubuntu", "cn-shanghai")
	assert.Equal(t, imgerr.Copy, imgerr.KindOf(err))
	assert.True(t, imgerr.IsNotFound(err))
}

func TestSetSharing(t *testing.T) {
	ctx := context.Background()
	cloud := ecsfake.New(region)
	id := cloud.AddImage(region, ecs.Image{Name: "flatcar"})
	c := newClient(t, cloud)

	require.NoError(t, c.SetSharing(ctx, "flatcar", "public"))
	assert.Equal(t, "public", cloud.LaunchPermission(id))

	err := c.SetSharing(ctx, "ubuntu", "public")
	assert.Equal(t, imgerr.Publish, imgerr.KindOf(err))
}

func TestSetDeprecated(t *testing.T) {
	testCases := []struct {
		name        string
		replacement string
		expectTags  map[string]string
	}{
		{
			name: "case 0: deprecation without replacement",
			expectTags: map[string]string{
				ecs.TagDeprecatedOn: "20250314",
				ecs.TagRemovalDate:  "20250914",
			},
		},
		{
			name:        "case 1: deprecation with replacement",
			replacement: "flatcar-4230",
			expectTags: map[string]string{
				ecs.TagDeprecatedOn:     "20250314",
				ecs.TagRemovalDate:      "20250914",
				ecs.TagReplacementImage: "flatcar-4230",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cloud := ecsfake.New(region)
			id := cloud.AddImage(region, ecs.Image{Name: "flatcar"})

			err := newClient(t, cloud).SetDeprecated(context.Background(), "flatcar", tc.replacement)
			require.NoError(t, err)
			assert.Equal(t, tc.expectTags, cloud.Tags(id))
		})
	}
}

func TestSetActive(t *testing.T) {
	ctx := context.Background()
	cloud := ecsfake.New(region)
	available := cloud.AddImage(region, ecs.Image{Name: "flatcar"})
	deprecated := cloud.AddImage(region, ecs.Image{Name: "flatcar", Status: ecs.StatusDeprecated})
	c := newClient(t, cloud)

	require.NoError(t, c.SetActive(ctx, "flatcar"))

	calls := cloud.Calls("ModifyImageAttribute")
	require.Len(t, calls, 1)
	assert.Equal(t, deprecated, calls[0].Target)
	assert.NotEqual(t, available, calls[0].Target)

	err := c.SetActive(ctx, "flatcar")
	assert.Equal(t, imgerr.Activate, imgerr.KindOf(err))
	assert.True(t, imgerr.IsNotFound(err))
}

func TestExistsIgnoresNamesSharingThePrefix(t *testing.T) {
	ctx := context.Background()
	cloud := ecsfake.New(region)
	cloud.AddImage(region, ecs.Image{Name: "flatcar-v2"})
	c := newClient(t, cloud)

	exists, err := c.Exists(ctx, "flatcar")
	require.NoError(t, err)
	assert.False(t, exists)

	deleted, ok, err := c.Delete(ctx, "flatcar", ecs.DeleteOptions{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, deleted)
	assert.Empty(t, cloud.Calls("DeleteImage"))
}

func TestClearDeprecation(t *testing.T) {
	testCases := []struct {
		name    string
		status  ecs.Status
		tagged  bool
		missing bool

		expectChanged   bool
		expectModify    int
		expectUntag     int
		expectErrorKind imgerr.Kind
	}{
		{
			name:          "case 0: tagged available image is untagged",
			status:        ecs.StatusAvailable,
			tagged:        true,
			expectChanged: true,
			expectUntag:   1,
		},
		{
			name:          "case 1: deprecated status is reset",
			status:        ecs.StatusDeprecated,
			expectChanged: true,
			expectModify:  1,
		},
		{
			name:          "case 2: tagged and deprecated status",
			status:        ecs.StatusDeprecated,
			tagged:        true,
			expectChanged: true,
			expectModify:  1,
			expectUntag:   1,
		},
		{
			name:   "case 3: image that was never deprecated",
			status: ecs.StatusAvailable,
		},
		{
			name:            "case 4: missing image",
			missing:         true,
			expectErrorKind: imgerr.Activate,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			cloud := ecsfake.New(region)
			c := newClient(t, cloud)

			var id string
			if !tc.missing {
				id = cloud.AddImage(region, ecs.Image{Name: "flatcar", Status: tc.status})
				if tc.tagged {
					require.NoError(t, c.SetDeprecated(ctx, "flatcar", "flatcar-next"))
				}
			}

			changed, err := c.ClearDeprecation(ctx, "flatcar")
			if tc.expectErrorKind != imgerr.Unknown {
				assert.Equal(t, tc.expectErrorKind, imgerr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectChanged, changed)
			assert.Len(t, cloud.Calls("ModifyImageAttribute"), tc.expectModify)
			assert.Len(t, cloud.Calls("UntagResources"), tc.expectUntag)
			assert.Empty(t, cloud.Tags(id))

			image, ok := cloud.Image(region, "flatcar")
			require.True(t, ok)
			assert.Equal(t, ecs.StatusAvailable, image.Status)
		})
	}
}

func TestWaitForAvailable(t *testing.T) {
	lookupFailure := errors.New("connection reset")

	testCases := []struct {
		name         string
		script       []ecs.Status
		failLookups  int
		expectError  func(err error) bool
		expectChecks int
	}{
		{
			name:         "case 0: creating twice then available",
			script:       []ecs.Status{ecs.StatusCreating, ecs.StatusCreating, ecs.StatusAvailable},
			expectChecks: 3,
		},
		{
			name:         "case 1: create failed is broken",
			script:       []ecs.Status{ecs.StatusCreateFailed},
			expectError:  imgerr.IsBrokenState,
			expectChecks: 1,
		},
		{
			name:         "case 2: unavailable after waiting is broken",
			script:       []ecs.Status{ecs.StatusWaiting, ecs.StatusUnAvailable},
			expectError:  imgerr.IsBrokenState,
			expectChecks: 2,
		},
		{
			name:         "case 3: creating forever times out",
			script:       []ecs.Status{ecs.StatusCreating},
			expectError:  imgerr.IsTimeout,
			expectChecks: 6,
		},
		{
			name:         "case 4: deprecated is unexpected",
			script:       []ecs.Status{ecs.StatusDeprecated},
			expectError:  imgerr.IsUnexpectedDeprecated,
			expectChecks: 1,
		},
		{
			name:         "case 5: unknown status",
			script:       []ecs.Status{"Exploded"},
			expectError:  imgerr.IsUnknownState,
			expectChecks: 1,
		},
		{
			name:         "case 6: failed lookups are retried",
			script:       []ecs.Status{ecs.StatusAvailable},
			failLookups:  2,
			expectChecks: 3,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cloud := ecsfake.New(region)
			id := cloud.AddImage(region, ecs.Image{Name: "flatcar", Status: ecs.StatusCreating})
			cloud.SetStatusScript(id, tc.script...)

			if tc.failLookups > 0 {
				failures := tc.failLookups
				cloud.Fail(region, "DescribeImages", lookupFailure)
				cloud.OnCall = func(call ecsfake.Call) {
					if call.Op != "DescribeImages" {
						return
					}
					failures--
					if failures == 0 {
						cloud.Fail(region, "DescribeImages", nil)
					}
				}
			}

			err := newClient(t, cloud).WaitForAvailable(context.Background(), id)
			assert.Len(t, cloud.Calls("DescribeImages"), tc.expectChecks)
			if tc.expectError != nil {
				assert.True(t, tc.expectError(err), "unexpected error: %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegions(t *testing.T) {
	cloud := ecsfake.New("cn-beijing", "cn-shanghai", "cn-hangzhou")
	c := newClient(t, cloud)

	regions, err := c.Regions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cn-beijing", "cn-shanghai", "cn-hangzhou"}, regions)

	cloud.Fail(region, "DescribeRegions", errors.New("forbidden"))
	_, err = c.Regions(context.Background())
	assert.Equal(t, imgerr.Region, imgerr.KindOf(err))
}

func TestKeyPairs(t *testing.T) {
	ctx := context.Background()
	cloud := ecsfake.New(region)
	c := newClient(t, cloud)

	require.NoError(t, c.ImportKeyPair(ctx, "ci", "ssh-ed25519 AAAA"))
	assert.Equal(t, map[string]string{"ci": "ssh-ed25519 AAAA"}, cloud.KeyPairs(region))

	err := c.ImportKeyPair(ctx, "ci", "ssh-ed25519 AAAA")
	assert.Equal(t, imgerr.KeyPair, imgerr.KindOf(err))

	require.NoError(t, c.DeleteKeyPair(ctx, "ci"))
	assert.Empty(t, cloud.KeyPairs(region))
}
