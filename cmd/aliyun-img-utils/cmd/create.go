package cmd

import (
	"github.com/spf13/cobra"

	"github.com/giantswarm/aliyun-image-operator/pkg/image"
	"github.com/giantswarm/aliyun-image-operator/pkg/imgerr"
)

const minDiskSizeGB = 5

type createOptions struct {
	imageName         string
	imageDescription  string
	platform          string
	osType            string
	architecture      string
	blobName          string
	diskSize          int
	forceReplaceImage bool
}

func newCreateCmd(opts *rootOptions) *cobra.Command {
	createOpts := &createOptions{}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a compute image from a qcow2 image in storage.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, opts, createOpts)
		},
	}

	createCmd.Flags().StringVar(&createOpts.imageName, "image-name", "", "Name of the newly created compute image.")
	createCmd.Flags().StringVar(&createOpts.imageDescription, "image-description", "", "Description for the newly created image.")
	createCmd.Flags().StringVar(&createOpts.platform, "platform", "", "The distribution of the image operating system.")
	createCmd.Flags().StringVar(&createOpts.osType, "os-type", "", "The operating system type of the image. Default is linux.")
	createCmd.Flags().StringVar(&createOpts.architecture, "architecture", "", "The architecture of the image. Default is x86_64.")
	createCmd.Flags().StringVar(&createOpts.blobName, "blob-name", "", "Name for the blob in the storage bucket to use to create the new image.")
	createCmd.Flags().IntVar(&createOpts.diskSize, "disk-size", 0, "Size root disk in GB. Default is 20GB.")
	createCmd.Flags().BoolVar(&createOpts.forceReplaceImage, "force-replace-image", false, "Delete the compute image prior to creation if it already exists.")
	for _, name := range []string{"image-name", "image-description", "platform", "blob-name"} {
		_ = createCmd.MarkFlagRequired(name)
	}

	return createCmd
}

func runCreate(cmd *cobra.Command, opts *rootOptions, createOpts *createOptions) error {
	if createOpts.diskSize != 0 && createOpts.diskSize < minDiskSizeGB {
		return imgerr.New(imgerr.Configuration, "disk size must be at least %dGB", minDiskSizeGB)
	}

	client, err := opts.client()
	if err != nil {
		return err
	}

	id, err := client.CreateComputeImage(cmd.Context(), image.CreateOptions{
		Name:            createOpts.imageName,
		Description:     createOpts.imageDescription,
		BlobName:        createOpts.blobName,
		Platform:        createOpts.platform,
		OSType:          createOpts.osType,
		Architecture:    createOpts.architecture,
		DiskSizeGB:      createOpts.diskSize,
		ReplaceExisting: createOpts.forceReplaceImage,
	})
	if err != nil {
		return err
	}

	opts.echo(cmd.OutOrStdout(), "Image created with id: %s", id)
	return nil
}
