package models

// InsightWithTracking is a narrative statement together with the columns it relies on.
type InsightWithTracking struct {
	Text        string   `json:"text"`
	ColumnsUsed []string `json:"columns_used"`
	Confidence  int      `json:"confidence"`
	Section     string   `json:"section"`
}

// ValidationError records an insight that was rejected before reaching the output.
type ValidationError struct {
	Section string `json:"section"`
	Text    string `json:"text"`
	Reason  string `json:"reason"`
}

// Narrative is the validated, column-tracked text output of an analysis.
type Narrative struct {
	ExecutiveSummary   string                `json:"executive_summary"`
	KeyFindings        []InsightWithTracking `json:"key_findings"`
	Recommendations    []string              `json:"recommendations"`
	Limitations        []string              `json:"limitations"`
	ColumnUsageSummary map[string]int        `json:"column_usage_summary"`
	ValidationErrors   []ValidationError     `json:"validation_errors"`
}

// Severity of a hallucination finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Violation kinds reported by the hallucination detector.
const (
	ViolationForbiddenTerm        = "forbidden_term"
	ViolationUnknownColumn        = "unknown_column"
	ViolationSuspiciousIdentifier = "suspicious_identifier"
	ViolationInvalidDate          = "invalid_date"
	ViolationImpossibleValue      = "impossible_value"
	ViolationUnmetMetric          = "unmet_metric_dependency"
)

// HallucinationViolation is one finding on one line of text.
type HallucinationViolation struct {
	Type     string   `json:"type"`
	Term     string   `json:"term"`
	Context  string   `json:"context"`
	Line     int      `json:"line"`
	Severity Severity `json:"severity"`
}

// HallucinationReport aggregates the findings into a block decision.
type HallucinationReport struct {
	Violations         []HallucinationViolation `json:"violations"`
	CriticalViolations []HallucinationViolation `json:"critical_violations"`
	TotalViolations    int                      `json:"total_violations"`
	ShouldBlock        bool                     `json:"should_block"`
	ConfidencePenalty  int                      `json:"confidence_penalty"`
}
