// cmd/run.go
package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/api/schemas"
	"github.com/xkilldash9x/autoprompt-cli/internal/agent"
	"github.com/xkilldash9x/autoprompt-cli/internal/config"
	"github.com/xkilldash9x/autoprompt-cli/internal/engine"
	"github.com/xkilldash9x/autoprompt-cli/internal/observability"
	"github.com/xkilldash9x/autoprompt-cli/internal/sink"
	"github.com/xkilldash9x/autoprompt-cli/internal/store"
	"github.com/xkilldash9x/autoprompt-cli/internal/tasks"
)

var runOpts struct {
	tasksFile     string
	fromDB        bool
	source        string
	dryRun        bool
	start         int
	end           int
	stopOnFailure bool
	timeoutSec    int
}

// applyTimeoutOverride replaces the selected provider's per-task budget when
// the --timeout flag is set. Zero and negative values keep the template value.
func applyTimeoutOverride(c *config.Config, sec int) {
	if sec <= 0 {
		return
	}
	if name, _ := c.Provider(); name == config.ProviderChatGPT {
		c.ChatGPTWeb.MaxSecPerTask = sec
		return
	}
	c.ClaudeWeb.MaxSecPerTask = sec
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batch of tasks against the configured provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger := observability.GetLogger()
		applyTimeoutOverride(cfg, runOpts.timeoutSec)
		providerName, providerCfg := cfg.Provider()

		if len(cfg.Prompts) == 0 {
			return fmt.Errorf("template defines no prompts")
		}

		// Task source: catalog or YAML file.
		var (
			src schemas.TaskSource
			st  *store.Store
		)
		if runOpts.fromDB {
			if cfg.Storage.DatabaseURL == "" {
				return fmt.Errorf("--from-db requires storage.database_url (or DATABASE_URL)")
			}
			if runOpts.source == "" {
				return fmt.Errorf("--from-db requires --source")
			}
			connected, err := store.New(ctx, cfg.Storage.DatabaseURL, logger)
			if err != nil {
				return err
			}
			st = connected
			defer st.Close()
			src = tasks.NewDBSource(st.Pool(), runOpts.source, logger)
		} else {
			if runOpts.tasksFile == "" {
				return fmt.Errorf("either --tasks or --from-db is required")
			}
			src = tasks.NewFileSource(runOpts.tasksFile, logger)
		}

		taskList, err := src.Load(ctx)
		if err != nil {
			return fmt.Errorf("loading tasks: %w", err)
		}

		dirs, err := engine.CreateRunDirs(providerCfg.Output.BaseDir, providerCfg.Output.FolderPrefix, time.Now())
		if err != nil {
			return err
		}
		logger.Info("Run directory ready.", zap.String("root", dirs.Root))

		ag, err := agent.New(providerName, providerCfg, logger)
		if err != nil {
			return err
		}

		results := sink.NewMulti(logger)
		if cfg.UploadToCloud && cfg.Storage.AzureContainerURL != "" {
			blob, err := sink.NewBlobSink(cfg.Storage.AzureContainerURL,
				providerCfg.Session.AgentName, cfg.Storage.ArtifactPrefix, logger)
			if err != nil {
				return fmt.Errorf("configuring blob sink: %w", err)
			}
			results.Add("blob", blob)
		}
		if cfg.UploadToCloud && cfg.Storage.DatabaseURL != "" {
			if st == nil {
				st, err = store.New(ctx, cfg.Storage.DatabaseURL, logger)
				if err != nil {
					return fmt.Errorf("connecting store sink: %w", err)
				}
				defer st.Close()
			}
			meta := store.AttemptMeta{
				ModelName: providerCfg.Session.ModelName,
				ModelType: providerCfg.Session.ModelType,
			}
			results.Add("store", sink.NewStoreSink(st, meta, logger))
		}

		runner := engine.NewRunner(ag, cfg, dirs, logger)
		batch := engine.NewBatchRunner(runner, results, dirs, logger)

		report, err := batch.RunAll(ctx, taskList, engine.BatchOptions{
			Start:         runOpts.start,
			End:           runOpts.end,
			DryRun:        runOpts.dryRun,
			StopOnFailure: runOpts.stopOnFailure,
		})
		if err != nil {
			return err
		}

		if report.Failed > 0 {
			return fmt.Errorf("%d of %d tasks failed", report.Failed, report.Total())
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runOpts.tasksFile, "tasks", "", "YAML task file")
	runCmd.Flags().BoolVar(&runOpts.fromDB, "from-db", false, "load tasks from the task catalog database")
	runCmd.Flags().StringVar(&runOpts.source, "source", "", "task source name when loading from the catalog")
	runCmd.Flags().BoolVar(&runOpts.dryRun, "dry-run", false, "list the selected tasks without running them")
	runCmd.Flags().IntVar(&runOpts.start, "start", 0, "first task index to run (inclusive)")
	runCmd.Flags().IntVar(&runOpts.end, "end", 0, "task index to stop at (exclusive; 0 = all)")
	runCmd.Flags().BoolVar(&runOpts.stopOnFailure, "stop-on-failure", false, "abort the batch after the first failed task")
	runCmd.Flags().IntVar(&runOpts.timeoutSec, "timeout", 0, "per-task budget in seconds, overriding max_sec_per_task (0 keeps the template value)")

	runCmd.Flags().String("provider", "", "provider to drive (chatgpt_web or claude_web)")
	viper.BindPFlag("agent_type", runCmd.Flags().Lookup("provider"))
	runCmd.Flags().Bool("upload", false, "upload results to configured storage")
	viper.BindPFlag("upload_to_cloud", runCmd.Flags().Lookup("upload"))

	rootCmd.AddCommand(runCmd)
}
