package models

// DerivedColumn is a column computed from a formula over raw or other derived columns.
type DerivedColumn struct {
	Name         string     `json:"name"`
	Formula      string     `json:"formula"`
	Dependencies []string   `json:"dependencies"`
	Type         ColumnType `json:"type"`
}

// TypeMismatch records a required column that matched by name but not by type.
type TypeMismatch struct {
	Column   string     `json:"column"`
	Matched  string     `json:"matched"`
	Expected string     `json:"expected"`
	Actual   ColumnType `json:"actual"`
}

// CompatibilityResult scores one dataset against one playbook.
type CompatibilityResult struct {
	PlaybookID      string            `json:"playbook_id"`
	Compatible      bool              `json:"compatible"`
	Score           int               `json:"score"`
	MissingRequired []string          `json:"missing_required"`
	MatchedColumns  map[string]string `json:"matched_columns"`
	TypeMismatches  []TypeMismatch    `json:"type_mismatches"`
	Warnings        []string          `json:"warnings"`
}

// ColumnMapping links a playbook's required column to a dataset column.
type ColumnMapping struct {
	Required   string `json:"required"`
	Actual     string `json:"actual"`
	Method     string `json:"method"`
	Confidence int    `json:"confidence"`
}

// Mapping methods, in the order the planner tries them.
const (
	MatchExact     = "exact"
	MatchSynonym   = "domain_synonym"
	MatchCanonical = "canonical"
	MatchPartial   = "partial"
)

// DisabledSection explains why a narrative section cannot be produced.
type DisabledSection struct {
	Name               string `json:"name"`
	Reason             string `json:"reason"`
	MissingRequirement string `json:"missing_requirement"`
	CallToAction       string `json:"call_to_action"`
}

// SemanticPlan is the planner's decision for one accepted playbook.
type SemanticPlan struct {
	PlaybookID      string                   `json:"playbook_id"`
	RequiredColumns map[string]ColumnMapping `json:"required_columns"`
	OptionalColumns map[string]ColumnMapping `json:"optional_columns"`
	Derivations     []DerivedColumn          `json:"derivations"`
	// UnavailableMetrics maps metric names that could not be derived to their missing dependencies.
	UnavailableMetrics map[string][]string `json:"unavailable_metrics,omitempty"`
	ActiveSections     []string            `json:"active_sections"`
	DisabledSections   []DisabledSection   `json:"disabled_sections"`
	Confidence         int                 `json:"confidence"`
	Warnings           []string            `json:"warnings"`
	Limitations        []string            `json:"limitations"`
}

// IsActive reports whether section is in the plan's active set.
func (p *SemanticPlan) IsActive(section string) bool {
	for _, s := range p.ActiveSections {
		if s == section {
			return true
		}
	}
	return false
}

// Resolve returns the dataset column a required or optional column was mapped to.
func (p *SemanticPlan) Resolve(logical string) (string, bool) {
	if m, ok := p.RequiredColumns[logical]; ok {
		return m.Actual, true
	}
	if m, ok := p.OptionalColumns[logical]; ok {
		return m.Actual, true
	}
	return "", false
}

// IsDerived reports whether name is one of the plan's derived columns.
func (p *SemanticPlan) IsDerived(name string) bool {
	for _, d := range p.Derivations {
		if d.Name == name {
			return true
		}
	}
	return false
}

// GuardrailsResult is the guardrails engine's independent verdict.
type GuardrailsResult struct {
	ActiveSections   []string          `json:"active_sections"`
	DisabledSections []DisabledSection `json:"disabled_sections"`
	ForbiddenTerms   []string          `json:"forbidden_terms"`
	QualityScore     int               `json:"quality_score"`
	Warnings         []string          `json:"warnings"`
}
