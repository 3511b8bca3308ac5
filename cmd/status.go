package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/illarion/lockimg/internal/core"
	"github.com/illarion/lockimg/internal/crypto"
)

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "status <image>",
		Aliases: []string{"ls"},
		Short:   "Show the catalog and how each extent compares to its source file",
		Long: `Prints the image header and the extents recorded in the catalog. No
password is needed: extents are compared with their local source files by
SHA-256.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := a.image(args[0])
			if err != nil {
				return err
			}

			status, err := img.Status(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Image:       %s\n", img.Path())
			fmt.Fprintf(w, "ID:          %s\n", status.ImageID)
			fmt.Fprintf(w, "Cipher:      %s, %d-byte sectors\n", status.Algorithm, status.SectorSize)
			fmt.Fprintf(w, "KDF:         %s, %d iterations\n", status.KDF, status.KDFIterations)
			fmt.Fprintf(w, "Size:        %s (%s used)\n",
				humanize.IBytes(uint64(status.Length)), humanize.IBytes(uint64(status.UsedBytes)))
			fmt.Fprintf(w, "Created:     %s\n", status.Created.Format(time.RFC3339))
			fmt.Fprintf(w, "Modified:    %s (%s)\n", status.Modified.Format(time.RFC3339), humanize.Time(status.Modified))

			if !status.Consistent() {
				if status.FileSize < 0 {
					a.log.Warnf("image file %s is missing", img.Path())
				} else {
					a.log.Warnf("image file is %d bytes, catalog records %d", status.FileSize, status.Length)
				}
			}

			fmt.Fprintln(w, "\nExtents:")
			if len(status.Extents) == 0 {
				fmt.Fprintln(w, "  (none)")
				return nil
			}
			for _, es := range status.Extents {
				e := es.Extent
				fmt.Fprintf(w, "  %-24s %10d  %9s  %s\n", e.Name, e.Offset, humanize.IBytes(uint64(e.Length)), es.Status)
			}

			fmt.Fprintf(w, "\n%d unchanged, %d modified, %d missing\n",
				status.UnchangedCount, status.ModifiedCount, status.MissingCount)
			if status.ModifiedCount > 0 {
				fmt.Fprintln(w, "Run 'lockimg diff' to see what changed")
			}
			return nil
		},
	}
}

func newVerifyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <image>",
		Short: "Decrypt every extent and check its recorded checksum",
		Args:  cobra.ExactArgs(1),
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

			result, err := img.Verify(cmd.Context(), password)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, name := range result.OK {
				fmt.Fprintf(w, "  %s: %s\n", name, core.StateOK)
			}
			for _, name := range result.Corrupted {
				fmt.Fprintf(w, "  %s: %s\n", name, core.StateCorrupted)
			}
			if len(result.Corrupted) > 0 {
				return fmt.Errorf("%w: %d of %d extents", core.ErrChecksumMismatch,
					len(result.Corrupted), len(result.OK)+len(result.Corrupted))
			}
			fmt.Fprintf(w, "%d extents verified\n", len(result.OK))
			return nil
		},
	}
}
