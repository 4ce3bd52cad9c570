package cmd

import (
	"github.com/spf13/cobra"

	"github.com/giantswarm/aliyun-image-operator/pkg/config"
	"github.com/giantswarm/aliyun-image-operator/pkg/image"
	"github.com/giantswarm/aliyun-image-operator/pkg/imgerr"
	"github.com/giantswarm/aliyun-image-operator/pkg/progress"
)

type uploadOptions struct {
	imageFile         string
	pageSize          int64
	blobName          string
	forceReplaceImage bool
}

func newUploadCmd(opts *rootOptions) *cobra.Command {
	uploadOpts := &uploadOptions{}

	uploadCmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a qcow2 image to a storage bucket in the current region.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, opts, uploadOpts)
		},
	}

	uploadCmd.Flags().StringVar(
		&uploadOpts.imageFile,
		"image-file",
		"",
		"Path to qcow2 image.",
	)
	uploadCmd.Flags().Int64Var(
		&uploadOpts.pageSize,
		"page-size",
		0,
		"Size of page size chunks for image upload. Minimum chunk size is 100KB.",
	)
	uploadCmd.Flags().StringVar(
		&uploadOpts.blobName,
		"blob-name",
		"",
		"Name to use for blob in the storage bucket. By default the filename from image file will be used.",
	)
	uploadCmd.Flags().BoolVar(
		&uploadOpts.forceReplaceImage,
		"force-replace-image",
		false,
		"Delete the image prior to upload if it already exists.",
	)
	_ = uploadCmd.MarkFlagRequired("image-file")

	return uploadCmd
}

func runUpload(cmd *cobra.Command, opts *rootOptions, uploadOpts *uploadOptions) error {
	if uploadOpts.pageSize != 0 && uploadOpts.pageSize < config.MinChunkSize {
		return imgerr.New(imgerr.Configuration, "page size %d is below the minimum of %d bytes", uploadOpts.pageSize, config.MinChunkSize)
	}
	chunkSize := opts.config.ChunkSize
	if uploadOpts.pageSize != 0 {
		chunkSize = uploadOpts.pageSize
	}

	client, err := opts.client()
	if err != nil {
		return err
	}

	reporter := progress.Nop
	if !opts.isQuiet() {
		reporter = progress.NewBar(cmd.ErrOrStderr(), "Uploading image")
	}

	blobName, err := client.UploadImageTarball(cmd.Context(), uploadOpts.imageFile, image.UploadOptions{
		BlobName:        uploadOpts.blobName,
		ChunkSize:       chunkSize,
		Progress:        reporter,
		ReplaceExisting: uploadOpts.forceReplaceImage,
	})
	if err != nil {
		return err
	}

	opts.echo(cmd.OutOrStdout(), "Image uploaded as %s", blobName)
	return nil
}
