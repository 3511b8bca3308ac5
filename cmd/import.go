package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/lockimg/internal/config"
	"github.com/illarion/lockimg/internal/core"
	"github.com/illarion/lockimg/internal/crypto"
)

func newImportCommand(a *app) *cobra.Command {
	var offset, name string

	cmd := &cobra.Command{
		Use:   "import <image> <file>",
		Short: "Copy a local file into the image",
		Long: `Encrypts the bytes of <file> into the image and records them as a named
extent. Without --offset the file goes to the first sector boundary after
the last extent.`,
		Example: `  lockimg import disk.img boot.bin
  lockimg import disk.img payload.bin --offset 1MiB --name payload`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			off, err := parseOffset(offset, core.AutoOffset)
			if err != nil {
				return fmt.Errorf("invalid --offset: %w", err)
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

			extent, err := img.Import(cmd.Context(), password, args[1], core.ImportOptions{Name: name, Offset: off})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported: %s at offset %d (%s)\n",
				extent.Name, extent.Offset, config.FormatSize(extent.Length))
			return nil
		},
	}

	cmd.Flags().StringVar(&offset, "offset", "", "Byte offset in the image (default: after the last extent)")
	cmd.Flags().StringVar(&name, "name", "", "Extent name (default: the file's base name)")
	return cmd
}
