package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/aliyun-image-operator/pkg/imgerr"
)

func writeProfile(t *testing.T, dir, profile, content string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, profile+".yaml"), []byte(content), 0600)
	require.NoError(t, err)
}

func TestResolve(t *testing.T) {
	testCases := []struct {
		name    string
		profile string
		file    string
		flags   Config

		expectFound  bool
		expectError  bool
		expectConfig func(c Config)
	}{
		{
			name:        "case 0: no profile file uses defaults",
			profile:     "missing",
			expectFound: false,
			expectConfig: func(c Config) {
				assert.Equal(t, DefaultRegion, c.Region)
				assert.Equal(t, int64(DefaultChunkSize), c.ChunkSize)
				assert.Equal(t, DefaultDeprecationPeriod, c.DeprecationPeriod)
				assert.True(t, c.Acceleration())
				assert.Equal(t, 180*time.Second, c.Timeout())
			},
		},
		{
			name:    "case 1: profile values override defaults",
			profile: "production",
			file: `access_key: key
access_secret: secret
region: cn-shanghai
bucket_name: images
deprecation_period: 3
transfer_acceleration: false
`,
			expectFound: true,
			expectConfig: func(c Config) {
				assert.Equal(t, "key", c.AccessKey)
				assert.Equal(t, "cn-shanghai", c.Region)
				assert.Equal(t, "images", c.BucketName)
				assert.Equal(t, 3, c.DeprecationPeriod)
				assert.False(t, c.Acceleration())
			},
		},
		{
			name:    "case 2: flags override profile values",
			profile: "default",
			file: `access_key: key
region: cn-shanghai
bucket_name: images
`,
			flags:       Config{Region: "cn-hangzhou", AccessSecret: "flag-secret"},
			expectFound: true,
			expectConfig: func(c Config) {
				assert.Equal(t, "key", c.AccessKey)
				assert.Equal(t, "flag-secret", c.AccessSecret)
				assert.Equal(t, "cn-hangzhou", c.Region)
				assert.Equal(t, "images", c.BucketName)
			},
		},
		{
			name:        "case 3: malformed profile",
			profile:     "broken",
			file:        "region: [cn-beijing\n",
			expectFound: true,
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			if tc.file != "" {
				writeProfile(t, dir, tc.profile, tc.file)
			}

			c, found, err := Resolve(dir, tc.profile, tc.flags)
			assert.Equal(t, tc.expectFound, found)
			if tc.expectError {
				assert.True(t, imgerr.IsConfiguration(err))
				return
			}
			require.NoError(t, err)
			tc.expectConfig(c)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.AccessKey = "key"
	valid.AccessSecret = "secret"

	testCases := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{
			name:   "case 0: valid configuration",
			mutate: func(c *Config) {},
		},
		{
			name:        "case 1: missing access key",
			mutate:      func(c *Config) { c.AccessKey = "" },
			expectError: true,
		},
		{
			name:        "case 2: missing access secret",
			mutate:      func(c *Config) { c.AccessSecret = "" },
			expectError: true,
		},
		{
			name:        "case 3: chunk size below minimum",
			mutate:      func(c *Config) { c.ChunkSize = 1024 },
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid
			tc.mutate(&c)

			err := c.Validate()
			if tc.expectError {
				assert.True(t, imgerr.IsConfiguration(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProfilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("/etc/img", "default.yaml"), ProfilePath("/etc/img", ""))
	assert.Equal(t, filepath.Join(DefaultDir(), "staging.yaml"), ProfilePath("", "staging"))
}
