package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/lockimg/internal/core"
	"github.com/illarion/lockimg/internal/crypto"
	"github.com/illarion/lockimg/internal/keyring"
)

func newKeyringCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyring",
		Short: "Manage image passwords in the OS keyring",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "save <image>",
			Short: "Store the image password in the OS keyring",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				img, err := a.image(args[0])
				if err != nil {
					return err
				}

				password := core.GetPasswordFromEnv()
				if password == nil {
					if !isTerminal() {
						return core.ErrPasswordRequired
					}
					if password, err = core.ReadPassword("Enter password: "); err != nil {
						return err
					}
				}
				defer crypto.ClearBytes(password)

				if err := img.VerifyPassword(password); err != nil {
					return err
				}

				imageID, err := img.GetImageID()
				if err != nil {
					return err
				}
				if err := keyring.SavePassword(imageID, string(password)); err != nil {
					return fmt.Errorf("failed to save to keyring: %w", err)
				}

				fmt.Fprintln(cmd.OutOrStdout(), "Password saved to keyring")
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <image>",
			Short: "Remove the image password from the OS keyring",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				img, err := a.image(args[0])
				if err != nil {
					return err
				}

				imageID, err := img.GetImageID()
				if err != nil {
					return err
				}
				if err := keyring.DeletePassword(imageID); err != nil {
					if !keyring.IsNotFound(err) {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "No password stored in keyring")
					return nil
				}

				fmt.Fprintln(cmd.OutOrStdout(), "Password removed from keyring")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status <image>",
			Short: "Report whether a password is stored for the image",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				img, err := a.image(args[0])
				if err != nil {
					return err
				}

				imageID, err := img.GetImageID()
				if err != nil {
					return err
				}
				if keyring.HasPassword(imageID) {
					fmt.Fprintln(cmd.OutOrStdout(), "Password: stored in keyring")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Password: not stored")
				}
				return nil
			},
		},
	)
	return cmd
}
