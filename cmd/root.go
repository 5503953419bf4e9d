// cmd/root.go
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/internal/config"
	"github.com/xkilldash9x/autoprompt-cli/internal/observability"
)

var (
	templateFile string
	cfg          *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "autoprompt-cli",
	Short: "Drive logged-in browser sessions to run prompt tasks in batch.",
	Long: `autoprompt-cli attaches to an already-running browser over the DevTools
protocol and submits configured prompts to a web AI chat interface, harvesting
the generated artifacts. Log in manually first; this tool never handles
credentials.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initializeConfig(); err != nil {
			return err
		}

		loaded, err := config.NewConfigFromViper(viper.GetViper())
		if err != nil {
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "autoprompt-cli"})
			return err
		}
		cfg = loaded

		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Info("Starting autoprompt-cli",
			zap.String("version", Version),
			zap.String("agent_type", cfg.AgentType))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	defer observability.Sync()
	if err := rootCmd.Execute(); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&templateFile, "template", "t", "", "template config file (default is ./template.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// initializeConfig reads the template file and environment overrides into the
// global viper instance. Templates may nest everything under a top-level
// "template" key; that nesting is unwrapped.
func initializeConfig() error {
	v := viper.GetViper()
	config.SetDefaults(v)

	if templateFile != "" {
		v.SetConfigFile(templateFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("template")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("AUTOPROMPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if sub := v.Sub("template"); sub != nil {
		if err := v.MergeConfigMap(sub.AllSettings()); err != nil {
			return fmt.Errorf("error unwrapping template config: %w", err)
		}
	}
	return nil
}
