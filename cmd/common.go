package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/illarion/lockimg/internal/blockdev"
	"github.com/illarion/lockimg/internal/config"
	"github.com/illarion/lockimg/internal/core"
	"github.com/illarion/lockimg/internal/keyring"
)

// isTerminal is replaced in tests so no command ever prompts.
var isTerminal = core.IsTerminal

// password returns the image password from LOCKIMG_PASSWORD, the keyring
// or a terminal prompt, in that order. The caller clears it.
func (a *app) password(img *core.Image, prompt string) ([]byte, error) {
	if password := core.GetPasswordFromEnv(); password != nil {
		return password, nil
	}

	if a.cfg.Keyring {
		if password := a.keyringPassword(img); password != nil {
			return password, nil
		}
	}

	if !isTerminal() {
		return nil, core.ErrPasswordRequired
	}
	return core.ReadPassword(prompt)
}

// keyringPassword returns the cached password if it still opens the image.
func (a *app) keyringPassword(img *core.Image) []byte {
	imageID, err := img.GetImageID()
	if err != nil {
		return nil
	}
	stored, err := keyring.GetPassword(imageID)
	if err != nil {
		if !keyring.IsNotFound(err) {
			a.log.WithError(err).Debug("keyring unavailable")
		}
		return nil
	}

	password := []byte(stored)
	if err := img.VerifyPassword(password); err != nil {
		a.log.Warn("password in keyring no longer matches, ignoring it")
		return nil
	}
	a.log.Debug("using password from keyring")
	return password
}

// newPassword returns a password for a new key, from the environment or a
// confirmed prompt.
func newPassword(fromEnv func() []byte) ([]byte, error) {
	if password := fromEnv(); password != nil {
		return password, nil
	}
	if !isTerminal() {
		return nil, core.ErrPasswordRequired
	}
	return core.ReadPasswordConfirm()
}

// parseOffset parses an optional size flag; empty means unset.
func parseOffset(s string, unset int64) (int64, error) {
	if s == "" {
		return unset, nil
	}
	return config.ParseSize(s)
}

// HandleError prints err the way a user should see it.
func HandleError(w io.Writer, err error) {
	switch {
	case errors.Is(err, core.ErrNotInitialized):
		fmt.Fprintf(w, "Error: image not initialized\n")
		fmt.Fprintf(w, "Run 'lockimg create' first\n")
	case errors.Is(err, core.ErrAlreadyExists):
		fmt.Fprintf(w, "Error: image or catalog already exists\n")
		fmt.Fprintf(w, "Use 'lockimg status' to see current state\n")
	case errors.Is(err, core.ErrWrongPassword):
		fmt.Fprintf(w, "Error: wrong password\n")
	case errors.Is(err, core.ErrPasswordRequired):
		fmt.Fprintf(w, "Error: password required\n")
		fmt.Fprintf(w, "Set %s or run from a terminal\n", core.PasswordEnv)
	case errors.Is(err, core.ErrExtentNotFound):
		fmt.Fprintf(w, "Error: %s\n", err)
		fmt.Fprintf(w, "Use 'lockimg ls' to list extents\n")
	case errors.Is(err, core.ErrChecksumMismatch):
		fmt.Fprintf(w, "Error: %s\n", err)
		fmt.Fprintf(w, "The image may be corrupted, run 'lockimg verify'\n")
	case errors.Is(err, blockdev.ErrInvalidSize):
		fmt.Fprintf(w, "Error: %s\n", err)
		fmt.Fprintf(w, "Image sizes must be a multiple of 512 bytes\n")
	default:
		fmt.Fprintf(w, "Error: %s\n", err)
	}
}
