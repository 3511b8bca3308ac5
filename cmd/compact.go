package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCompactCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compact <image>",
		Short: "Rewrite the catalog to reclaim free pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := a.image(args[0])
			if err != nil {
				return err
			}
			if err := img.Compact(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "catalog compacted")
			return nil
		},
	}
}
