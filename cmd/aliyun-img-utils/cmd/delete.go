package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/giantswarm/aliyun-image-operator/pkg/image"
)

type deleteOptions struct {
	imageName  string
	deleteBlob bool
	force      bool
	yes        bool
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	deleteOpts := &deleteOptions{}

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a compute image and optionally the backing qcow2 blob.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd, opts, deleteOpts)
		},
	}

	deleteCmd.Flags().StringVar(&deleteOpts.imageName, "image-name", "", "Name of the image to be deleted.")
	deleteCmd.Flags().BoolVar(&deleteOpts.deleteBlob, "delete-blob", false, "Also delete the image blob from storage bucket.")
	deleteCmd.Flags().BoolVar(&deleteOpts.force, "force", false, "Delete the image even if instances use it.")
	deleteCmd.Flags().BoolVarP(&deleteOpts.yes, "yes", "y", false, "Do not ask for confirmation.")
	_ = deleteCmd.MarkFlagRequired("image-name")

	return deleteCmd
}

func runDelete(cmd *cobra.Command, opts *rootOptions, deleteOpts *deleteOptions) error {
	client, err := opts.client()
	if err != nil {
		return err
	}

	if !deleteOpts.yes {
		if !confirm(cmd, fmt.Sprintf("Are you sure you want to delete %s", deleteOpts.imageName)) {
			return nil
		}
	}

	deleted, err := client.DeleteComputeImage(cmd.Context(), deleteOpts.imageName, image.DeleteOptions{
		DeleteBlob: deleteOpts.deleteBlob,
		Force:      deleteOpts.force,
	})
	if err != nil {
		return err
	}

	if deleted {
		opts.echo(cmd.OutOrStdout(), "Image deleted: %s", deleteOpts.imageName)
	} else {
		opts.echo(cmd.OutOrStdout(), "Image does not exist: %s", deleteOpts.imageName)
	}
	return nil
}

// confirm asks a yes/no question on the command streams. Anything but y or
// yes declines.
func confirm(cmd *cobra.Command, question string) bool {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", question)

	// a missing newline at EOF still counts as an answer
	answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
