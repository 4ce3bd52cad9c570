package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/giantswarm/aliyun-image-operator/pkg/propagate"
)

func newImageCmd(opts *rootOptions) *cobra.Command {
	imageCmd := &cobra.Command{
		Use:   "image",
		Short: "Image commands.",
	}

	imageCmd.AddCommand(
		newActivateCmd(opts),
		newCreateCmd(opts),
		newDeleteCmd(opts),
		newDeprecateCmd(opts),
		newInfoCmd(opts),
		newPublishCmd(opts),
		newReplicateCmd(opts),
		newUploadCmd(opts),
	)
	return imageCmd
}

// regionsUsage is the help text of --regions.
func regionsUsage(verb, done string) string {
	return "A comma separated list of region ids to " + verb + " the provided image in. " +
		"If no regions are provided the image will be " + done + " in all available regions."
}

// echoResult reports the outcome of an operation run in several regions.
func (o *rootOptions) echoResult(cmd *cobra.Command, message, name string, result propagate.Result) {
	o.echo(cmd.OutOrStdout(), "%s: %s", message, name)
	if failed := result.Failed(); len(failed) > 0 {
		o.echo(cmd.OutOrStdout(), "Failed in regions: %s", strings.Join(failed, ", "))
	}
}
