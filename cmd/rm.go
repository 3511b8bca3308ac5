package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/lockimg/internal/crypto"
)

func newRemoveCommand(a *app) *cobra.Command {
	var wipe bool

	cmd := &cobra.Command{
		Use:               "rm <image> <name>...",
		Short:             "Remove extents from the catalog",
		Long:              `Forgets the named extents. With --wipe their sectors are overwritten with zeros first.`,
		Args:              cobra.MinimumNArgs(2),
		ValidArgsFunction: a.completeExtents,
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

			for _, name := range args[1:] {
				if err := img.RemoveExtent(cmd.Context(), password, name, wipe); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed: %s\n", name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&wipe, "wipe", false, "Overwrite the extent with zeros before removing it")
	return cmd
}
