package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/aliyun-image-operator/pkg/imgerr"
)

const (
	DefaultProfile           = "default"
	DefaultRegion            = "cn-beijing"
	DefaultChunkSize         = 8 * 1024 * 1024
	MinChunkSize             = 100 * 1024
	DefaultDeprecationPeriod = 6
	DefaultConnectTimeout    = 180
	DefaultLogLevel          = "info"
)

// Config is the resolved configuration bundle handed to the image packages.
type Config struct {
	AccessKey    string `yaml:"access_key"`
	AccessSecret string `yaml:"access_secret"`
	Region       string `yaml:"region"`
	BucketName   string `yaml:"bucket_name"`

	// ChunkSize is the preferred multipart upload part size in bytes.
	ChunkSize int64 `yaml:"chunk_size"`
	// DeprecationPeriod is the number of months between deprecation and
	// scheduled removal of an image.
	DeprecationPeriod int `yaml:"deprecation_period"`
	// ConnectTimeout is the client connect timeout in seconds.
	ConnectTimeout       int   `yaml:"connect_timeout"`
	TransferAcceleration *bool `yaml:"transfer_acceleration"`

	LogLevel string `yaml:"log_level"`
	NoColor  bool   `yaml:"no_color"`
}

// Default returns the configuration used when neither a profile nor flags
// provide a value.
func Default() Config {
	acceleration := true
	return Config{
		Region:               DefaultRegion,
		ChunkSize:            DefaultChunkSize,
		DeprecationPeriod:    DefaultDeprecationPeriod,
		ConnectTimeout:       DefaultConnectTimeout,
		TransferAcceleration: &acceleration,
		LogLevel:             DefaultLogLevel,
	}
}

// DefaultDir returns ~/.config/aliyun_img_utils.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "aliyun_img_utils")
	}
	return filepath.Join(home, ".config", "aliyun_img_utils")
}

// ProfilePath returns the path of the profile file inside dir.
func ProfilePath(dir, profile string) string {
	if dir == "" {
		dir = DefaultDir()
	}
	if profile == "" {
		profile = DefaultProfile
	}
	return filepath.Join(dir, profile+".yaml")
}

// LoadProfile reads a profile file. A missing file is not an error: the
// returned bool reports whether the file was found.
func LoadProfile(dir, profile string) (Config, bool, error) {
	path := ProfilePath(dir, profile)

	file, err := os.ReadFile(path) // nolint:gosec
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, false, nil
	} else if err != nil {
		return Config{}, false, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(file, &c); err != nil {
		return Config{}, true, imgerr.Wrap(imgerr.Configuration, err, "failed to parse config file %s", path)
	}
	return c, true, nil
}

// Resolve merges flags over the profile file over the defaults.
func Resolve(dir, profile string, flags Config) (Config, bool, error) {
	file, found, err := LoadProfile(dir, profile)
	if err != nil {
		return Config{}, found, err
	}

	c := Default()
	c.Merge(file)
	c.Merge(flags)
	return c, found, nil
}

// Merge copies every value set in o over c.
func (c *Config) Merge(o Config) {
	if o.AccessKey != "" {
		c.AccessKey = o.AccessKey
	}
	if o.AccessSecret != "" {
		c.AccessSecret = o.AccessSecret
	}
	if o.Region != "" {
		c.Region = o.Region
	}
	if o.BucketName != "" {
		c.BucketName = o.BucketName
	}
	if o.ChunkSize != 0 {
		c.ChunkSize = o.ChunkSize
	}
	if o.DeprecationPeriod != 0 {
		c.DeprecationPeriod = o.DeprecationPeriod
	}
	if o.ConnectTimeout != 0 {
		c.ConnectTimeout = o.ConnectTimeout
	}
	if o.TransferAcceleration != nil {
		acceleration := *o.TransferAcceleration
		c.TransferAcceleration = &acceleration
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.NoColor {
		c.NoColor = true
	}
}

// Validate checks that the values needed by every operation are present.
// The bucket name is only required by storage operations and is checked there.
func (c Config) Validate() error {
	if c.AccessKey == "" {
		return imgerr.New(imgerr.Configuration, "access key is required")
	}
	if c.AccessSecret == "" {
		return imgerr.New(imgerr.Configuration, "access secret is required")
	}
	if c.Region == "" {
		return imgerr.New(imgerr.Configuration, "region is required")
	}
	if c.ChunkSize != 0 && c.ChunkSize < MinChunkSize {
		return imgerr.New(imgerr.Configuration, "chunk size %d is below the minimum of %d bytes", c.ChunkSize, MinChunkSize)
	}
	if c.DeprecationPeriod < 0 {
		return imgerr.New(imgerr.Configuration, "deprecation period must not be negative")
	}
	return nil
}

// Acceleration reports whether transfer acceleration is enabled. It defaults
// to true when unset.
func (c Config) Acceleration() bool {
	return c.TransferAcceleration == nil || *c.TransferAcceleration
}

// Timeout returns the connect timeout as a duration.
func (c Config) Timeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return DefaultConnectTimeout * time.Second
	}
	return time.Duration(c.ConnectTimeout) * time.Second
}
