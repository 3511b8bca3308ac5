// Package cmd implements the lockimg command line.
package cmd

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/illarion/lockimg/internal/config"
	"github.com/illarion/lockimg/internal/core"
	"github.com/illarion/lockimg/internal/crypto"
)

// app carries what every command needs once flags and config are resolved.
type app struct {
	v   *viper.Viper
	cfg *config.Config
	log *logrus.Logger
}

// Execute runs the lockimg command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		HandleError(stderr, err)
		return 1
	}
	return 0
}

// NewRootCommand builds the full command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:   "lockimg",
		Short: "Password-protected, sector-encrypted disk images",
		Long: `lockimg manages disk images whose every 512-byte sector is encrypted with
Twofish in a per-sector CBC mode. The key is derived from a password with
PBKDF2; the salt lives in a catalog file next to the image (<image>.lockimg),
together with a list of the files imported into it.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.preRun,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.BoolP("verbose", "v", false, "Log sector-level diagnostics to stderr")
	flags.Int("iterations", crypto.DefaultIters, "PBKDF2 rounds for new keys")
	flags.Bool("keyring", true, "Look up and offer the OS keyring for passwords")
	flags.String("chunk-size", "512KiB", "Copy buffer size, a multiple of 512 bytes")

	a.v.BindPFlag(config.KeyVerbose, flags.Lookup("verbose"))
	a.v.BindPFlag(config.KeyIterations, flags.Lookup("iterations"))
	a.v.BindPFlag(config.KeyKeyring, flags.Lookup("keyring"))
	a.v.BindPFlag(config.KeyChunkSize, flags.Lookup("chunk-size"))

	root.AddCommand(
		newCreateCommand(a),
		newImportCommand(a),
		newExportCommand(a),
		newCatCommand(a),
		newStatusCommand(a),
		newVerifyCommand(a),
		newDiffCommand(a),
		newResizeCommand(a),
		newRemoveCommand(a),
		newPasswdCommand(a),
		newCompactCommand(a),
		newKeyringCommand(a),
		newCompletionCommand(),
	)
	return root
}

func (a *app) preRun(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = newLogger(cmd.ErrOrStderr(), cfg.Verbose)
	return nil
}

func newLogger(w io.Writer, verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	log.SetLevel(logrus.WarnLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// image opens the image at path with the resolved settings.
func (a *app) image(path string) (*core.Image, error) {
	return core.New(path,
		core.WithLogger(a.log),
		core.WithChunkSize(a.cfg.ChunkBytes),
		core.WithIterations(a.cfg.Iterations),
	)
}
