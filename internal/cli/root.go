package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/andy/tallybook/internal/app"
)

var appInstance *app.App

var rootCmd = &cobra.Command{
	Use:   "tallybook",
	Short: "Gap-free invoice numbering with an audited lifecycle",
	Long: `Tallybook issues invoice numbers from per-line counters, tracks invoices
through their lifecycle, reconciles payments and keeps an append-only trail
of every number change.

By default, running tallybook without arguments launches the interactive TUI.
Use subcommands for CLI operations.`,
	SilenceUsage: true,
	// Default behavior: launch TUI
	RunE: launchTUI,
}

// Execute runs the root command; ctx is cancelled on interrupt
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// SetApp sets the app instance for commands to use
func SetApp(a *app.App) {
	appInstance = a
}

func init() {
	rootCmd.PersistentFlags().String("actor", "", "Name recorded in audit trails (defaults to config actor)")

	rootCmd.AddCommand(clientsCmd)
	rootCmd.AddCommand(invoicesCmd)
	rootCmd.AddCommand(paymentsCmd)
	rootCmd.AddCommand(numberingCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(tuiCmd)
}
