package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/lockimg/internal/config"
	"github.com/illarion/lockimg/internal/core"
	"github.com/illarion/lockimg/internal/crypto"
)

func newCreateCommand(a *app) *cobra.Command {
	var size, salt string

	cmd := &cobra.Command{
		Use:   "create <image> --size N",
		Short: "Create a new zeroed, encrypted image and its catalog",
		Long: `Creates <image> of the given size, every sector an encrypted zero sector,
and the catalog <image>.lockimg holding the salt and KDF parameters.
Prompts for a password twice unless LOCKIMG_PASSWORD is set.`,
		Example: `  lockimg create disk.img --size 4MiB
  lockimg create disk.img --size 1536 --salt 0102030405060708`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := config.ParseSize(size)
			if err != nil {
				return fmt.Errorf("invalid --size: %w", err)
			}

			var saltBytes []byte
			if salt != "" {
				saltBytes, err = hex.DecodeString(salt)
				if err != nil {
					return fmt.Errorf("invalid --salt: %w", err)
				}
			}

			img, err := a.image(args[0])
			if err != nil {
				return err
			}

			password, err := newPassword(core.GetPasswordFromEnv)
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(password)

			if err := img.Create(cmd.Context(), password, saltBytes, n); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", img.Path(), config.FormatSize(n))
			return nil
		},
	}

	cmd.Flags().StringVar(&size, "size", "", "Image size, e.g. 1536 or 4MiB (multiple of 512 bytes)")
	cmd.Flags().StringVar(&salt, "salt", "", "Hex-encoded 8-byte salt instead of a random one")
	cmd.MarkFlagRequired("size")
	return cmd
}
