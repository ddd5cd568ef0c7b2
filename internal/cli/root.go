// Package cli implements the santa administration commands.
package cli

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"secretsanta/internal/core"
	"secretsanta/pkg/domain"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "text" | "json" | "yaml"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// Runtime is the wired application a command operates on.
type Runtime struct {
	Service *core.Service
	// Serve blocks until ctx is done. Nil means the runtime cannot serve.
	Serve func(ctx context.Context) error
	// Close releases stores and exporters. Optional.
	Close func() error
}

// Opener builds the runtime lazily so that --help never touches storage.
type Opener func(ctx context.Context) (*Runtime, error)

// NewRootCommand creates the root command for the santa CLI.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{}
	a := &app{opts: opts, open: open}

	cmd := &cobra.Command{
		Use:   "santa",
		Short: "santa - Secret Santa event administration",
		Long: `Run a Secret Santa event: collect participants, draw assignments that
avoid repeating earlier years, relay anonymous questions and archive the
results.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")

	cmd.AddCommand(
		newStartCommand(a),
		newJoinCommand(a),
		newLeaveCommand(a),
		newParticipantsCommand(a),
		newAssignCommand(a),
		newGifteeCommand(a),
		newCurrentCommand(a),
		newGiftCommand(a),
		newGiftsCommand(a),
		newThreadsCommand(a),
		newAskCommand(a),
		newReplyCommand(a),
		newWishlistCommand(a),
		newStopCommand(a),
		newHistoryCommand(a),
		newUserHistoryCommand(a),
		newBackupsCommand(a),
		newDeleteCommand(a),
		newRestoreCommand(a),
		newBackupCommand(a),
		newServeCommand(a),
	)
	return cmd
}

type app struct {
	opts *RootOptions
	open Opener
}

// with opens the runtime, runs fn and closes the runtime again.
func (a *app) with(cmd *cobra.Command, fn func(ctx context.Context, rt *Runtime, out *OutputFormatter) error) error {
	out := &OutputFormatter{
		Format:    a.opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   a.opts.Verbose,
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if a.open == nil {
		return NewExitError(ExitCommandError, "no runtime configured")
	}
	rt, err := a.open(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "open runtime", err)
	}
	if rt.Close != nil {
		defer func() {
			if cerr := rt.Close(); cerr != nil {
				out.VerboseLog("close runtime: %v", cerr)
			}
		}()
	}
	if err := fn(ctx, rt, out); err != nil {
		return WrapExitError(ExitFailure, cmd.Name(), err)
	}
	return nil
}

func parseYear(arg string) (int, error) {
	year, err := strconv.Atoi(arg)
	if err != nil || !domain.ValidYear(year) {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid year %q", arg))
	}
	return year, nil
}
