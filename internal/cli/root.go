// Package cli implements the docbridge command line.
package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/Rupali59/docbridge/pkg/failure"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile string
	Debug   bool
}

// NewRootCommand creates the root command for the docbridge CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "docbridge",
		Short: "Reactive access to a document database",
		Long: `docbridge runs document operations against Firestore, MongoDB or an
embedded store through a bounded worker pool, and streams query changes.

The backend is chosen with DOCBRIDGE_BACKEND and configured from the
environment or the file given with --env.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env", ".env", "dotenv file to load before reading the environment")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "debug logging")

	cmd.AddCommand(NewInsertCommand(opts))
	cmd.AddCommand(NewEmptyCommand(opts))
	cmd.AddCommand(NewUpsertCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRelayCommand(opts))

	return cmd
}

// ExitCode maps an error to a process exit code: the failure code for
// classified failures, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var fe *failure.Error
	if errors.As(err, &fe) {
		return fe.Code()
	}
	return 1
}
