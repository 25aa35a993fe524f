package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andy/tallybook/internal/logger"
	"github.com/andy/tallybook/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the terminal UI",
	Long:  `Launch the interactive terminal user interface for tallybook.`,
	RunE:  launchTUI,
}

func launchTUI(cmd *cobra.Command, args []string) error {
	// Log lines written to the terminal would tear the alternate screen
	if appInstance.Config.Logging.ToTerminal() {
		logger.Disable()
	}

	if err := tui.Run(appInstance); err != nil {
		return fmt.Errorf("terminal UI failed: %w", err)
	}
	return nil
}
