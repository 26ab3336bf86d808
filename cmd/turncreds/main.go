// turncreds retrieves TURN credentials from one or more TURN REST endpoints,
// reusing credentials until they near expiry.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const flagVerbose = "verbose"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "turncreds",
		Short:         "Retrieve TURN credentials from TURN REST endpoints.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			verbose, _ := cmd.Flags().GetBool(flagVerbose)
			configureLogging(verbose)
		},
	}

	cmd.PersistentFlags().BoolP(flagVerbose, "v", false, "log cache decisions and requests to stderr")

	cmd.AddCommand(newGetCommand())

	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCommand().ExecuteContext(ctx)
	if err != nil {
		log.Error().Err(err).Msg("turncreds failed")
		stop()
		os.Exit(1)
	}
}

func configureLogging(verbose bool) {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	log.Logger = log.
		Output(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level)

	zerolog.DefaultContextLogger = &log.Logger
}
