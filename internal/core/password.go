package core

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/illarion/lockimg/internal/crypto"
)

// Environment variables checked before prompting
const (
	PasswordEnv    = "LOCKIMG_PASSWORD"
	NewPasswordEnv = "LOCKIMG_NEW_PASSWORD"
)

// ReadPassword reads a password from the terminal without echoing. The
// prompt goes to stderr so stdout stays clean for cat and export.
func ReadPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)

	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}

	return password, nil
}

// ReadPasswordConfirm reads a password twice and ensures they match
func ReadPasswordConfirm() ([]byte, error) {
	password1, err := ReadPassword("Enter password: ")
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password1)

	password2, err := ReadPassword("Confirm password: ")
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password2)

	if !crypto.ConstantTimeCompare(password1, password2) {
		return nil, fmt.Errorf("passwords do not match")
	}

	// Return a copy of the password
	result := make([]byte, len(password1))
	copy(result, password1)
	return result, nil
}

// IsTerminal reports whether stdin is an interactive terminal
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// GetPasswordFromEnv reads password from LOCKIMG_PASSWORD environment variable
func GetPasswordFromEnv() []byte {
	password := os.Getenv(PasswordEnv)
	if password == "" {
		return nil
	}
	return []byte(password)
}

// GetNewPasswordFromEnv reads the replacement password for passwd from
// LOCKIMG_NEW_PASSWORD
func GetNewPasswordFromEnv() []byte {
	password := os.Getenv(NewPasswordEnv)
	if password == "" {
		return nil
	}
	return []byte(password)
}
