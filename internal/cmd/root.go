package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"playbook-engine/internal/analysis"
	"playbook-engine/internal/config"
	"playbook-engine/internal/logging"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for the playbook CLI
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playbook",
		Short: "Deterministic playbook analysis over tabular data",
		Long: `playbook runs the analysis engine locally: it picks a compatible playbook
for a CSV file, computes its metrics, writes a validated narrative and blocks
any text that is not backed by the data.`,
		Version:      Version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	cmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(NewAnalyzeCommand())
	cmd.AddCommand(NewSchemaCommand())
	cmd.AddCommand(NewCheckCommand())
	cmd.AddCommand(NewPlaybooksCommand())

	return cmd
}

// loadEngine builds the engine from the --config and --log-level flags.
func loadEngine(cmd *cobra.Command) (*analysis.Engine, *zap.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(level, true)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	engine, err := analysis.FromConfig(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return engine, logger, nil
}
