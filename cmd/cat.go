package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/lockimg/internal/crypto"
)

func newCatCommand(a *app) *cobra.Command {
	var offset, length string

	cmd := &cobra.Command{
		Use:   "cat <image>",
		Short: "Write a decrypted byte range of the image to stdout",
		Example: `  lockimg cat disk.img --length 512 | xxd
  lockimg cat disk.img --offset 510 --length 8`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			off, err := parseOffset(offset, 0)
			if err != nil {
				return fmt.Errorf("invalid --offset: %w", err)
			}
			n, err := parseOffset(length, -1)
			if err != nil {
				return fmt.Errorf("invalid --length: %w", err)
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

			return img.Cat(cmd.Context(), password, off, n, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&offset, "offset", "", "First byte to write (default 0)")
	cmd.Flags().StringVar(&length, "length", "", "Number of bytes (default: to the end of the image)")
	return cmd
}
