package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"playbook-engine/internal/models"
)

var (
	okColor    = color.New(color.FgGreen, color.Bold)
	warnColor  = color.New(color.FgYellow, color.Bold)
	errColor   = color.New(color.FgRed, color.Bold)
	titleColor = color.New(color.FgCyan, color.Bold)
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusColor(status string) *color.Color {
	switch status {
	case models.StatusOK:
		return okColor
	case models.StatusBlocked:
		return errColor
	default:
		return warnColor
	}
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	titleColor.Fprintf(w, "\n%s\n", title)
	for _, it := range items {
		fmt.Fprintf(w, "  - %s\n", it)
	}
}

// printAnalysis renders an analysis response for a terminal.
func printAnalysis(w io.Writer, resp *models.AnalysisResponse) {
	statusColor(resp.Status).Fprintf(w, "Status: %s\n", strings.ToUpper(resp.Status))
	if resp.Playbook != nil {
		fmt.Fprintf(w, "Playbook: %s (%s)\n", resp.Playbook.ID, resp.Playbook.Domain)
	}
	if resp.Compatibility != nil {
		fmt.Fprintf(w, "Compatibility: %d\n", resp.Compatibility.Score)
	}
	fmt.Fprintf(w, "Confidence: %d\n", resp.Confidence)

	switch resp.Status {
	case models.StatusOK:
		printNarrative(w, resp.Narrative)
	case models.StatusBlocked:
		if resp.Blocked != nil {
			errColor.Fprintf(w, "\n%s\n", resp.Blocked.Message)
			printViolations(w, resp.Blocked.Violations)
		}
	case models.StatusFallback:
		printFallback(w, resp)
	}
}

func printNarrative(w io.Writer, n *models.Narrative) {
	if n == nil {
		return
	}
	titleColor.Fprintln(w, "\nSummary")
	fmt.Fprintf(w, "  %s\n", n.ExecutiveSummary)

	findings := make([]string, len(n.KeyFindings))
	for i, f := range n.KeyFindings {
		findings[i] = f.Text
	}
	printList(w, "Key findings", findings)
	printList(w, "Recommendations", n.Recommendations)
	printList(w, "Limitations", n.Limitations)
}

func printFallback(w io.Writer, resp *models.AnalysisResponse) {
	var rejected []string
	for _, c := range resp.Candidates {
		reason := fmt.Sprintf("score %d", c.Score)
		if len(c.MissingRequired) > 0 {
			reason += ", missing " + strings.Join(c.MissingRequired, ", ")
		}
		rejected = append(rejected, fmt.Sprintf("%s: %s", c.PlaybookID, reason))
	}
	printList(w, "Candidates", rejected)

	fb := resp.Fallback
	if fb == nil {
		return
	}
	titleColor.Fprintln(w, "\nExploratory analysis")
	fmt.Fprintf(w, "  %s\n", fb.Summary)
	for _, n := range fb.NumericColumns {
		fmt.Fprintf(w, "  %s: mean %.2f, min %.2f, max %.2f\n", n.Column, n.Mean, n.Min, n.Max)
	}
	for _, t := range fb.TextColumns {
		fmt.Fprintf(w, "  %s: %d distinct (%s)\n", t.Column, t.UniqueCount, t.Cardinality)
	}
	for _, d := range fb.DateColumns {
		fmt.Fprintf(w, "  %s: %s .. %s\n", d.Column, d.Min, d.Max)
	}
	printList(w, "Recommendations", fb.Recommendations)
}

func printViolations(w io.Writer, violations []models.HallucinationViolation) {
	for _, v := range violations {
		c := warnColor
		if v.Severity == models.SeverityCritical {
			c = errColor
		}
		c.Fprintf(w, "  [%s] ", v.Severity)
		fmt.Fprintf(w, "%s %q (line %d)\n", v.Type, v.Term, v.Line)
	}
}
