package cmd

import (
	"github.com/spf13/cobra"
)

type publishOptions struct {
	imageName        string
	launchPermission string
	regions          []string
}

func newPublishCmd(opts *rootOptions) *cobra.Command {
	publishOpts := &publishOptions{}

	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a compute image in a set of regions.",
		Long: `Publish a compute image in a set of regions.

If no regions are provided the image is published to all
available regions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}

			result, err := client.PublishImageToRegions(cmd.Context(), publishOpts.imageName, publishOpts.launchPermission, publishOpts.regions)
			if err != nil {
				return err
			}

			opts.echoResult(cmd, "Image published", publishOpts.imageName, result)
			return nil
		},
	}

	publishCmd.Flags().StringVar(&publishOpts.imageName, "image-name", "", "Name of the image to be published.")
	publishCmd.Flags().StringVar(&publishOpts.launchPermission, "launch-permission", "", "The launch permission to set for the published image.")
	publishCmd.Flags().StringSliceVar(&publishOpts.regions, "regions", nil, regionsUsage("publish", "published"))
	_ = publishCmd.MarkFlagRequired("image-name")
	_ = publishCmd.MarkFlagRequired("launch-permission")

	return publishCmd
}
