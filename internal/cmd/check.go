package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"playbook-engine/internal/analysis"
	"playbook-engine/internal/models"
)

// ErrNarrativeBlocked is returned by 'playbook check' when the text would be blocked.
var ErrNarrativeBlocked = errors.New("narrative blocked")

// NewCheckCommand creates the 'playbook check' command
func NewCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check --text <text> | --file <path>",
		Short: "Scan narrative text for claims the data cannot support",
		Long: `Run the hallucination detector over a piece of text. The column names come
from --csv (header and sample rows); --playbook adds that playbook's forbidden
terms and known identifiers.

Exit code: 0 if the text passes, 1 if it would be blocked`,
		Args: cobra.NoArgs,
		RunE: runCheck,
	}
	cmd.Flags().String("text", "", "Text to scan")
	cmd.Flags().String("file", "", "Read the text from a file")
	cmd.Flags().String("csv", "", "CSV file providing the schema")
	cmd.Flags().StringSlice("forbidden", nil, "Extra forbidden terms")
	cmd.Flags().StringP("playbook", "p", "", "Playbook whose rules apply")
	cmd.Flags().Bool("json", false, "Print the report as JSON")
	return cmd
}

func runCheck(cmd *cobra.Command, _ []string) error {
	text, _ := cmd.Flags().GetString("text")
	file, _ := cmd.Flags().GetString("file")
	csvPath, _ := cmd.Flags().GetString("csv")
	forbidden, _ := cmd.Flags().GetStringSlice("forbidden")
	playbookID, _ := cmd.Flags().GetString("playbook")
	asJSON, _ := cmd.Flags().GetBool("json")

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		text = string(data)
	}
	if text == "" {
		return errors.New("one of --text or --file is required")
	}

	engine, logger, err := loadEngine(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var (
		columns []models.Column
		rows    []models.Row
	)
	if csvPath != "" {
		ds, err := analysis.ParseCSVFile(csvPath)
		if err != nil {
			return fmt.Errorf("read %s: %w", csvPath, err)
		}
		columns, rows = ds.Columns, ds.Rows
	}
	schema, err := engine.EnrichSchema(cmd.Context(), columns, rows)
	if err != nil {
		return err
	}
	report, err := engine.CheckNarrative(cmd.Context(), text, schema, len(rows), forbidden, playbookID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else {
		if report.TotalViolations == 0 {
			okColor.Fprintln(out, "No violations")
		} else {
			fmt.Fprintf(out, "%d violation(s), penalty %d\n", report.TotalViolations, report.ConfidencePenalty)
			printViolations(out, report.Violations)
		}
	}
	if report.ShouldBlock {
		return ErrNarrativeBlocked
	}
	return nil
}
