package cmd

import (
	"github.com/spf13/cobra"
)

type activateOptions struct {
	imageName string
	regions   []string
}

func newActivateCmd(opts *rootOptions) *cobra.Command {
	activateOpts := &activateOptions{}

	activateCmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate compute image (make available) in a set of regions.",
		Long: `Activate compute image (make available) in a set of regions.

If no regions are provided the image is activated in all
available regions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}

			result, err := client.ActivateImageInRegions(cmd.Context(), activateOpts.imageName, activateOpts.regions)
			if err != nil {
				return err
			}

			opts.echoResult(cmd, "Image activated", activateOpts.imageName, result)
			return nil
		},
	}

	activateCmd.Flags().StringVar(&activateOpts.imageName, "image-name", "", "Name of the image to be activated.")
	activateCmd.Flags().StringSliceVar(&activateOpts.regions, "regions", nil, regionsUsage("activate", "activated"))
	_ = activateCmd.MarkFlagRequired("image-name")

	return activateCmd
}
