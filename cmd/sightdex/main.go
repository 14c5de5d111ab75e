package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/sightdex/internal/config"
	logpkg "github.com/kailas-cloud/sightdex/internal/logger"
)

var (
	cfg    config.Config
	env    string
	logger = zap.NewNop()
)

// skipConfig marks commands that run without a config file.
const skipConfig = "skip-config"

var rootCmd = &cobra.Command{
	Use:           "sightdex",
	Short:         "Hybrid retrieval, attribute extraction and memory service for sighting reports",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if _, ok := cmd.Annotations[skipConfig]; ok {
			return nil
		}
		c, err := config.Load(env)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		l, err := logpkg.NewLogger(env, cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		logger = l
		// the Anthropic adapter reports token cost through the global logger
		zap.ReplaceGlobals(l)
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&env, "env", config.GetEnv(), "environment: selects config/<env>.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
