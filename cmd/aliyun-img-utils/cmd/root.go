package cmd

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/giantswarm/aliyun-image-operator/pkg/config"
	"github.com/giantswarm/aliyun-image-operator/pkg/image"
	"github.com/giantswarm/aliyun-image-operator/pkg/session"
)

type rootOptions struct {
	configDir    string
	profile      string
	noColor      bool
	verbose      bool
	info         bool
	quiet        bool
	accessKey    string
	accessSecret string
	bucketName   string
	region       string

	// config is resolved before every command runs.
	config config.Config
}

// newImageClient builds the image client of a command. Tests replace it to
// run commands against fakes.
var newImageClient = func(c config.Config) (*image.Client, error) {
	s, err := session.New(session.Config{
		Credentials: session.Credentials{
			AccessKey:    c.AccessKey,
			AccessSecret: c.AccessSecret,
		},
		Region:            c.Region,
		BucketName:        c.BucketName,
		Acceleration:      c.Acceleration(),
		ConnectTimeout:    c.Timeout(),
		ChunkSize:         c.ChunkSize,
		DeprecationPeriod: c.DeprecationPeriod,
	})
	if err != nil {
		return nil, err
	}
	return image.New(image.Config{Session: s})
}

// Execute runs the command line with the process arguments and exits non-zero
// on failure.
func Execute() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	opts := &rootOptions{}
	rootCmd := newRootCmd(opts)
	rootCmd.SetArgs(args)
	rootCmd.SetIn(in)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(errOut, err, opts.colored(errOut), opts.isVerbose())
		return 1
	}
	return 0
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aliyun-img-utils",
		Short: "Aliyun image utilities",
		Long: `The command line interface provides aliyun image utilities.

This includes uploading image tarballs and
creating/publishing/deprecating framework images.`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: opts.resolve,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configDir, "config-dir", "C", "", "Aliyun Image utils config directory to use. Default: ~/.config/aliyun_img_utils/")
	flags.StringVar(&opts.profile, "profile", "", "The configuration profile to use. Expected to match a config file in config directory. Example: production, for ~/.config/aliyun_img_utils/production.yaml")
	flags.BoolVar(&opts.noColor, "no-color", false, "Remove ANSI color and styling from output.")
	flags.BoolVar(&opts.verbose, "verbose", false, "Display debug level logging to console.")
	flags.BoolVar(&opts.info, "info", false, "Display logging info to console. (Default)")
	flags.BoolVar(&opts.quiet, "quiet", false, "Display only errors to console.")
	flags.StringVar(&opts.accessKey, "access-key", "", "Access key used for authentication of requests.")
	flags.StringVar(&opts.accessSecret, "access-secret", "", "Access secret used for authentication of requests.")
	flags.StringVar(&opts.bucketName, "bucket-name", "", "Storage bucket to store uploaded images.")
	flags.StringVar(&opts.region, "region", "", "The region to use for the image requests.")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "info", "quiet")

	rootCmd.AddCommand(
		newImageCmd(opts),
		newKeyPairCmd(opts),
	)
	return rootCmd
}

// resolve merges the flags over the profile and installs the logger in the
// command context.
func (o *rootOptions) resolve(cmd *cobra.Command, _ []string) error {
	c, found, err := config.Resolve(o.configDir, o.profile, config.Config{
		AccessKey:    o.accessKey,
		AccessSecret: o.accessSecret,
		Region:       o.region,
		BucketName:   o.bucketName,
		LogLevel:     o.logLevel(),
		NoColor:      o.noColor,
	})
	if err != nil {
		return err
	}
	o.config = c

	logger := zap.New(
		zap.WriteTo(cmd.ErrOrStderr()),
		zap.Level(zapLevel(c.LogLevel)),
		zap.UseDevMode(c.LogLevel == "debug"),
	)
	cmd.SetContext(log.IntoContext(cmd.Context(), logger))

	if !found {
		logger.Info("Config file not found, using default configuration values",
			"path", config.ProfilePath(o.configDir, o.profile))
	}

	return c.Validate()
}

func (o *rootOptions) logLevel() string {
	switch {
	case o.verbose:
		return "debug"
	case o.quiet:
		return "error"
	case o.info:
		return "info"
	}
	return ""
}

func (o *rootOptions) isQuiet() bool {
	return o.config.LogLevel == "error"
}

func (o *rootOptions) isVerbose() bool {
	return o.verbose || o.config.LogLevel == "debug"
}

func zapLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "error":
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

// client builds the image client from the resolved configuration.
func (o *rootOptions) client() (*image.Client, error) {
	return newImageClient(o.config)
}
