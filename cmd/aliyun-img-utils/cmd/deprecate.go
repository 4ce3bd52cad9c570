package cmd

import (
	"github.com/spf13/cobra"
)

type deprecateOptions struct {
	imageName        string
	replacementImage string
	regions          []string
}

func newDeprecateCmd(opts *rootOptions) *cobra.Command {
	deprecateOpts := &deprecateOptions{}

	deprecateCmd := &cobra.Command{
		Use:   "deprecate",
		Short: "Deprecate a compute image in a set of regions.",
		Long: `Deprecate a compute image in a set of regions.

The image is tagged with its deprecation date, the date it
is scheduled for removal and optionally its replacement. If
no regions are provided the image is deprecated in all
available regions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}

			result, err := client.DeprecateImageInRegions(cmd.Context(), deprecateOpts.imageName, deprecateOpts.replacementImage, deprecateOpts.regions)
			if err != nil {
				return err
			}

			opts.echoResult(cmd, "Image deprecated", deprecateOpts.imageName, result)
			return nil
		},
	}

	deprecateCmd.Flags().StringVar(&deprecateOpts.imageName, "image-name", "", "Name of the image to be deprecated.")
	deprecateCmd.Flags().StringVar(&deprecateOpts.replacementImage, "replacement-image", "", "Name of the image replacing the deprecated one.")
	deprecateCmd.Flags().StringSliceVar(&deprecateOpts.regions, "regions", nil, regionsUsage("deprecate", "deprecated"))
	_ = deprecateCmd.MarkFlagRequired("image-name")

	return deprecateCmd
}
