package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/lockimg/internal/core"
	"github.com/illarion/lockimg/internal/crypto"
	"github.com/illarion/lockimg/internal/keyring"
)

func newPasswdCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd <image>",
		Short: "Re-encrypt the image under a new password",
		Long: `Decrypts every sector with the current key and encrypts it with a key
derived from the new password and a fresh salt. The new password comes from
LOCKIMG_NEW_PASSWORD or a confirmed prompt.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := a.image(args[0])
			if err != nil {
				return err
			}

			currentPassword, err := a.password(img, "Enter current password: ")
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(currentPassword)

			if err := img.VerifyPassword(currentPassword); err != nil {
				return err
			}

			next, err := newPassword(core.GetNewPasswordFromEnv)
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(next)

			if err := img.ChangePassword(cmd.Context(), currentPassword, next); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if a.cfg.Keyring {
				if imageID, err := img.GetImageID(); err == nil && keyring.HasPassword(imageID) {
					if err := keyring.SavePassword(imageID, string(next)); err != nil {
						a.log.WithError(err).Warn("could not update keyring")
					} else {
						fmt.Fprintln(w, "Keyring updated with new password")
					}
				}
			}

			// rewriting the KDF config leaves free pages behind
			if err := img.Compact(); err != nil {
				a.log.WithError(err).Warn("compaction failed")
			}

			fmt.Fprintln(w, "password changed successfully")
			return nil
		},
	}
}
