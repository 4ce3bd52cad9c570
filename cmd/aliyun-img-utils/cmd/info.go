package cmd

import (
	"github.com/spf13/cobra"

	"github.com/giantswarm/aliyun-image-operator/pkg/ecs"
	"github.com/giantswarm/aliyun-image-operator/pkg/imgerr"
)

type infoOptions struct {
	imageName  string
	imageID    string
	deprecated bool
}

func newInfoCmd(opts *rootOptions) *cobra.Command {
	infoOpts := &infoOptions{}

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Get the image data for an image based on ID or name.",
		Long: `Get the image data for an image based on ID or name.

If --deprecated is set only images in deprecated state are
searched, otherwise images in every state are.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if infoOpts.imageName == "" && infoOpts.imageID == "" {
				return imgerr.New(imgerr.Configuration, "image name or image id is required")
			}

			client, err := opts.client()
			if err != nil {
				return err
			}

			var image *ecs.Image
			if infoOpts.deprecated {
				image, err = client.GetDeprecatedComputeImage(cmd.Context(), infoOpts.imageName, infoOpts.imageID)
			} else {
				image, err = client.GetComputeImage(cmd.Context(), infoOpts.imageName, infoOpts.imageID)
			}
			if err != nil {
				return err
			}

			return opts.echoJSON(cmd.OutOrStdout(), image)
		},
	}

	infoCmd.Flags().StringVar(&infoOpts.imageName, "image-name", "", "Name of the image.")
	infoCmd.Flags().StringVar(&infoOpts.imageID, "image-id", "", "ID of the image.")
	infoCmd.Flags().BoolVar(&infoOpts.deprecated, "deprecated", false, "If set the search is filtered on images in deprecated state.")

	return infoCmd
}
