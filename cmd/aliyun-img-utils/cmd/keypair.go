package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/giantswarm/aliyun-image-operator/pkg/imgerr"
)

type keyPairOptions struct {
	keyName       string
	publicKeyFile string
}

func newKeyPairCmd(opts *rootOptions) *cobra.Command {
	keyPairCmd := &cobra.Command{
		Use:   "keypair",
		Short: "Key pair commands.",
	}

	keyPairCmd.AddCommand(
		newKeyPairImportCmd(opts),
		newKeyPairDeleteCmd(opts),
	)
	return keyPairCmd
}

func newKeyPairImportCmd(opts *rootOptions) *cobra.Command {
	keyPairOpts := &keyPairOptions{}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import an SSH public key as a key pair in the region.",
		RunE: func(cmd *cobra.Command, args []string) error {
			publicKey, err := os.ReadFile(keyPairOpts.publicKeyFile)
			if err != nil {
				return imgerr.Wrap(imgerr.Configuration, err, "unable to read public key file %s", keyPairOpts.publicKeyFile)
			}

			client, err := opts.client()
			if err != nil {
				return err
			}

			if err := client.ImportKeyPair(cmd.Context(), keyPairOpts.keyName, strings.TrimSpace(string(publicKey))); err != nil {
				return err
			}

			opts.echo(cmd.OutOrStdout(), "Key pair imported: %s", keyPairOpts.keyName)
			return nil
		},
	}

	importCmd.Flags().StringVar(&keyPairOpts.keyName, "key-name", "", "Name of the key pair.")
	importCmd.Flags().StringVar(&keyPairOpts.publicKeyFile, "public-key-file", "", "Path to the SSH public key to import.")
	_ = importCmd.MarkFlagRequired("key-name")
	_ = importCmd.MarkFlagRequired("public-key-file")

	return importCmd
}

func newKeyPairDeleteCmd(opts *rootOptions) *cobra.Command {
	keyPairOpts := &keyPairOptions{}

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a key pair in the region.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}

			if err := client.DeleteKeyPair(cmd.Context(), keyPairOpts.keyName); err != nil {
				return err
			}

			opts.echo(cmd.OutOrStdout(), "Key pair deleted: %s", keyPairOpts.keyName)
			return nil
		},
	}

	deleteCmd.Flags().StringVar(&keyPairOpts.keyName, "key-name", "", "Name of the key pair.")
	_ = deleteCmd.MarkFlagRequired("key-name")

	return deleteCmd
}
