// cmd/check.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/internal/agent"
	"github.com/xkilldash9x/autoprompt-cli/internal/browser"
	"github.com/xkilldash9x/autoprompt-cli/internal/observability"
)

// checkCmd verifies the preconditions for a run: the debugging endpoint is
// up, a tab can be opened, and the provider page reports a logged-in state.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the browser endpoint and login state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := observability.GetLogger()
		providerName, providerCfg := cfg.Provider()

		port := providerCfg.Browser.CDPPort
		if !browser.Available(port, 3*time.Second) {
			return fmt.Errorf("nothing listening on port %d; start the browser with --remote-debugging-port=%d", port, port)
		}
		fmt.Printf("debugging endpoint: listening on %d\n", port)

		ag, err := agent.New(providerName, providerCfg, logger)
		if err != nil {
			return err
		}
		defer ag.Cleanup(ctx)

		if err := ag.Launch(ctx); err != nil {
			return fmt.Errorf("could not open a tab: %w", err)
		}
		fmt.Println("browser session: ok")

		if err := ag.Navigate(ctx); err != nil {
			return fmt.Errorf("could not reach %s: %w", providerName, err)
		}

		state, err := ag.CheckAuth(ctx)
		if err != nil {
			return fmt.Errorf("could not determine interface state: %w", err)
		}
		fmt.Printf("%s interface state: %s\n", providerName, state)

		logger.Info("Check complete.",
			zap.String("provider", providerName),
			zap.String("state", string(state)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
