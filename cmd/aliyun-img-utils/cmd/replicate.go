package cmd

import (
	"github.com/spf13/cobra"
)

type replicateOptions struct {
	imageName string
	regions   []string
}

func newReplicateCmd(opts *rootOptions) *cobra.Command {
	replicateOpts := &replicateOptions{}

	replicateCmd := &cobra.Command{
		Use:   "replicate",
		Short: "Replicate a compute image to a set of regions.",
		Long: `Replicate a compute image to a set of regions.

If no regions are provided the image is replicated to all
available regions. The id of the copy in every region is
printed as JSON, null where the copy failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplicate(cmd, opts, replicateOpts)
		},
	}

	replicateCmd.Flags().StringVar(&replicateOpts.imageName, "image-name", "", "Name of the image to be copied.")
	replicateCmd.Flags().StringSliceVar(&replicateOpts.regions, "regions", nil, regionsUsage("copy", "copied"))
	_ = replicateCmd.MarkFlagRequired("image-name")

	return replicateCmd
}

func runReplicate(cmd *cobra.Command, opts *rootOptions, replicateOpts *replicateOptions) error {
	client, err := opts.client()
	if err != nil {
		return err
	}

	result, err := client.ReplicateImage(cmd.Context(), replicateOpts.imageName, replicateOpts.regions)
	if err != nil {
		return err
	}

	if opts.isQuiet() {
		return nil
	}
	return opts.echoJSON(cmd.OutOrStdout(), result.Values())
}
