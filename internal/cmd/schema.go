package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"playbook-engine/internal/analysis"
)

// NewSchemaCommand creates the 'playbook schema' command
func NewSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema --csv <file>",
		Short: "Show detected column types and playbook compatibility",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("csv")
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
			res, err := engine.ValidateSchema(cmd.Context(), ds.Columns, ds.Rows)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, res)
			}
			titleColor.Fprintln(out, "Columns")
			for _, c := range res.Schema {
				fmt.Fprintf(out, "  %-24s %-8s %3d%%", c.Name, c.InferredType, c.Confidence)
				if c.CanonicalName != "" && c.CanonicalName != c.NormalizedName {
					fmt.Fprintf(out, "  -> %s", c.CanonicalName)
				}
				fmt.Fprintln(out)
			}
			titleColor.Fprintln(out, "\nPlaybooks")
			for _, r := range res.Compatibility {
				c := warnColor
				if r.Compatible {
					c = okColor
				}
				c.Fprintf(out, "  %-24s %3d", r.PlaybookID, r.Score)
				if len(r.MissingRequired) > 0 {
					fmt.Fprintf(out, "  missing: %s", strings.Join(r.MissingRequired, ", "))
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().String("csv", "", "CSV file to inspect")
	cmd.Flags().Bool("json", false, "Print JSON")
	_ = cmd.MarkFlagRequired("csv")
	return cmd
}
