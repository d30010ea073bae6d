package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"playbook-engine/internal/analysis"
)

// NewAnalyzeCommand creates the 'playbook analyze' command
func NewAnalyzeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze --csv <file>",
		Short: "Analyze a CSV file with the best compatible playbook",
		Long: `Run the full pipeline over a CSV file. Without --playbook the engine picks
the highest scoring compatible playbook, using --question to break ties. When
no playbook qualifies an exploratory description of the columns is printed.`,
		Args: cobra.NoArgs,
		RunE: runAnalyze,
	}
	cmd.Flags().String("csv", "", "CSV file to analyze")
	cmd.Flags().StringP("question", "q", "", "Question to answer")
	cmd.Flags().StringP("playbook", "p", "", "Force a playbook id")
	cmd.Flags().Bool("json", false, "Print the full response as JSON")
	_ = cmd.MarkFlagRequired("csv")
	return cmd
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("csv")
	question, _ := cmd.Flags().GetString("question")
	playbookID, _ := cmd.Flags().GetString("playbook")
	asJSON, _ := cmd.Flags().GetBool("json")

	engine, logger, err := loadEngine(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ds, err := analysis.ParseCSVFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	logger.Debug("csv loaded", zap.String("file", path), zap.Int("rows", len(ds.Rows)))

	resp, err := engine.Analyze(cmd.Context(), analysis.Request{
		Columns:    ds.Columns,
		Rows:       ds.Rows,
		Question:   question,
		PlaybookID: playbookID,
	})
	if err != nil {
		return err
	}

	if asJSON {
		return writeJSON(cmd.OutOrStdout(), resp)
	}
	printAnalysis(cmd.OutOrStdout(), resp)
	return nil
}
