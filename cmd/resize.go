package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/lockimg/internal/config"
	"github.com/illarion/lockimg/internal/crypto"
)

func newResizeCommand(a *app) *cobra.Command {
	var size string

	cmd := &cobra.Command{
		Use:   "resize <image> --size N",
		Short: "Set the image length and zero every sector",
		Long: `Truncates or extends the image to the new size and overwrites every
sector with an encrypted zero sector. All data is lost and the extent list
is cleared.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := config.ParseSize(size)
			if err != nil {
				return fmt.Errorf("invalid --size: %w", err)
			}

			img, err := a.image(args[0])
			if err != nil {
				return err
			}

			password, err := a.password(img, "Enter password: ")
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(password)

			if err := img.Resize(cmd.Context(), password, n); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "resized %s to %s\n", img.Path(), config.FormatSize(n))
			return nil
		},
	}

	cmd.Flags().StringVar(&size, "size", "", "New image size (multiple of 512 bytes)")
	cmd.MarkFlagRequired("size")
	return cmd
}
