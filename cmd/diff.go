package cmd

import (
	"github.com/spf13/cobra"

	"github.com/illarion/lockimg/internal/crypto"
)

func newDiffCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <image>",
		Short: "Show differences between extents and their local source files",
		Long: `Decrypts each extent and prints a diff against the file it was imported
from. Binary content is compared as a hex dump; extents larger than 4MiB
are only compared by checksum.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := a.image(args[0])
			if err != nil {
				return err
			}

			password, err := a.password(img, "Enter password: ")
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(password)

			_, err = img.Diff(cmd.Context(), password, cmd.OutOrStdout())
			return err
		},
	}
}
