package root

import (
	"github.com/spf13/cobra"

	"github.com/randalmurphal/proactor/cmd/proactor/run"
	"github.com/randalmurphal/proactor/cmd/proactor/settings"
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "proactor",
		Short: "Proactor drives pipeline events through bounded worker pools",
		Long: `Proactor is the execution core of a message pipeline. It dispatches
every stage of a chain to the event-loop, blocking or cpu-intensive pool,
bounds events in flight and applies wait, fail or drop backpressure.`,
		SilenceUsage: true,
	}

	// add sub-commands
	rootCmd.AddCommand(run.NewRunCommand())
	rootCmd.AddCommand(settings.NewConfigCommand())

	return rootCmd
}
