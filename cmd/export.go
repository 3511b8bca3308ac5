package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/illarion/lockimg/internal/config"
	"github.com/illarion/lockimg/internal/core"
	"github.com/illarion/lockimg/internal/crypto"
	"github.com/illarion/lockimg/internal/security"
)

func newExportCommand(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export <image> <name>",
		Short: "Write an extent's plaintext to a local file",
		Long: `Decrypts the named extent and writes it below the current directory.
The destination defaults to the extent name and may not escape the current
directory. Use --out - to write to stdout.`,
		Example: `  lockimg export disk.img boot.bin
  lockimg export disk.img payload --out restored/payload.bin
  lockimg export disk.img notes.txt --out - | less`,
		Args:              cobra.ExactArgs(2),
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

			if out == "-" {
				_, err := img.Export(cmd.Context(), password, args[1], cmd.OutOrStdout())
				return err
			}

			dest := out
			if dest == "" {
				dest = args[1]
			}
			return a.exportToFile(cmd, img, password, args[1], dest)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Destination path below the current directory, or - for stdout")
	return cmd
}

func (a *app) exportToFile(cmd *cobra.Command, img *core.Image, password []byte, name, dest string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	validator, err := security.New(cwd)
	if err != nil {
		return err
	}
	defer validator.Close()

	rel, err := validator.Relativize(dest)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(rel); dir != "." {
		if err := validator.MkdirAllInRoot(dir, 0700); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	f, err := validator.CreateInRoot(rel, core.FilePermSecure)
	if err != nil {
		return err
	}

	extent, err := img.Export(cmd.Context(), password, name, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// an extent that fails its checksum is never left on disk
		if rmErr := validator.RemoveInRoot(rel); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			a.log.WithError(rmErr).Warn("could not remove partial export")
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "exported: %s -> %s (%s)\n", extent.Name, rel, config.FormatSize(extent.Length))
	return nil
}

// completeExtents offers extent names for the second argument.
func (a *app) completeExtents(cmd *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) != 1 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	if a.cfg == nil {
		if err := a.preRun(cmd, args); err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
	}
	img, err := a.image(args[0])
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	extents, err := img.List()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	names := make([]string, 0, len(extents))
	for _, e := range extents {
		names = append(names, e.Name)
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}
