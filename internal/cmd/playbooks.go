package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"playbook-engine/internal/playbook"
)

// NewPlaybooksCommand creates the 'playbook playbooks' command group
func NewPlaybooksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playbooks",
		Short: "Inspect and validate playbook definitions",
	}
	cmd.AddCommand(newPlaybooksListCommand())
	cmd.AddCommand(newPlaybooksShowCommand())
	cmd.AddCommand(newPlaybooksValidateCommand())
	return cmd
}

func newPlaybooksListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the loaded playbooks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			domain, _ := cmd.Flags().GetString("domain")
			query, _ := cmd.Flags().GetString("query")

			engine, logger, err := loadEngine(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			cat, err := engine.Registry().Catalog(cmd.Context())
			if err != nil {
				return err
			}
			list := cat.All()
			switch {
			case query != "":
				list = cat.Search(query)
			case domain != "":
				list = cat.ByDomain(domain)
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No playbooks found")
				return nil
			}
			for _, p := range list {
				titleColor.Fprintf(out, "%-26s", p.ID)
				fmt.Fprintf(out, " %-10s %s\n", p.Domain, p.Description)
			}
			return nil
		},
	}
	cmd.Flags().String("domain", "", "Only playbooks of this domain")
	cmd.Flags().String("query", "", "Free-text search")
	return cmd
}

func newPlaybooksShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a playbook definition as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, logger, err := loadEngine(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			p, err := engine.Registry().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), p)
		},
	}
}

func newPlaybooksValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate playbook definition files (JSON or YAML)",
		Long: `Parse each file and check its columns, metrics, formulas and sections.

Exit code: 0 if every file is valid, 1 otherwise`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err == nil {
					var p *playbook.Playbook
					if p, err = playbook.ParseDefinition(filepath.Base(path), data); err == nil {
						okColor.Fprint(out, "✓ ")
						fmt.Fprintf(out, "%s (%s)\n", path, p.ID)
						for _, w := range p.Warnings() {
							warnColor.Fprintf(out, "    warning: %s\n", w)
						}
						continue
					}
				}
				failed++
				errColor.Fprint(out, "✗ ")
				fmt.Fprintf(out, "%s: %v\n", path, err)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d playbook file(s) invalid", failed, len(args))
			}
			return nil
		},
	}
}
