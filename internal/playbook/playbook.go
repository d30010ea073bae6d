// Package playbook defines domain analysis playbooks, validates them at load time
// and serves them from a TTL-cached registry.
package playbook

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"playbook-engine/internal/formula"
	"playbook-engine/internal/models"
)

var (
	ErrNotFound = errors.New("playbook not found")
	ErrInvalid  = errors.New("invalid playbook")
)

// Score thresholds. Discovery keeps every playbook scoring at least CandidateMinScore;
// a candidate is only accepted at AcceptanceMinScore with no missing required column.
const (
	CandidateMinScore  = 60
	AcceptanceMinScore = 80
)

// Column type names accepted in definitions.
const (
	TypeNumeric = "numeric"
	TypeDate    = "date"
	TypeText    = "text"
	TypeBoolean = "boolean"
	TypeAny     = "any"
)

var typeAliases = map[string]string{
	"numeric": TypeNumeric, "number": TypeNumeric, "float": TypeNumeric, "int": TypeNumeric, "integer": TypeNumeric, "decimal": TypeNumeric,
	"date": TypeDate, "datetime": TypeDate, "timestamp": TypeDate,
	"text": TypeText, "string": TypeText, "categorical": TypeText, "category": TypeText,
	"boolean": TypeBoolean, "bool": TypeBoolean,
	"any": TypeAny, "": TypeAny,
}

// CanonicalType maps a declared type name to one of the Type* constants.
func CanonicalType(t string) (string, bool) {
	c, ok := typeAliases[strings.ToLower(strings.TrimSpace(t))]
	return c, ok
}

// TypeCompatible reports whether a column inferred as actual can serve a column declared as required.
func TypeCompatible(required string, actual models.ColumnType) bool {
	c, ok := CanonicalType(required)
	if !ok {
		return false
	}
	switch c {
	case TypeAny:
		return true
	case TypeNumeric:
		return actual == models.TypeNumeric
	case TypeDate:
		return actual == models.TypeDate
	case TypeBoolean:
		return actual == models.TypeBoolean
	case TypeText:
		return actual == models.TypeText || actual == models.TypeBoolean
	}
	return false
}

// Metric is a derived value computed per row.
type Metric struct {
	Deps     []string `json:"deps" yaml:"deps"`
	Formula  string   `json:"formula" yaml:"formula"`
	Optional bool     `json:"optional,omitempty" yaml:"optional"`
	// Type of the produced value; numeric when empty.
	Type string `json:"type,omitempty" yaml:"type"`

	expr *formula.Expr
}

// Expr returns the parsed formula. Only valid after Validate.
func (m *Metric) Expr() *formula.Expr { return m.expr }

// ResultType is the metric's value type.
func (m *Metric) ResultType() models.ColumnType {
	switch c, _ := CanonicalType(m.Type); c {
	case TypeText:
		return models.TypeText
	case TypeBoolean:
		return models.TypeBoolean
	case TypeDate:
		return models.TypeDate
	}
	return models.TypeNumeric
}

// Guardrails are data-sufficiency preconditions declared by a playbook.
type Guardrails struct {
	MinRows                 int      `json:"min_rows,omitempty" yaml:"min_rows"`
	RequireNumeric          bool     `json:"require_numeric,omitempty" yaml:"require_numeric"`
	TemporalSectionsRequire []string `json:"temporal_sections_require,omitempty" yaml:"temporal_sections_require"`
	TopBottomMinGroupN      int      `json:"top_bottom_min_group_n,omitempty" yaml:"top_bottom_min_group_n"`
}

// Playbook is a domain analysis template.
type Playbook struct {
	ID              string              `json:"id" yaml:"id"`
	Domain          string              `json:"domain" yaml:"domain"`
	Description     string              `json:"description" yaml:"description"`
	RequiredColumns map[string]string   `json:"required_columns" yaml:"required_columns"`
	OptionalColumns map[string]string   `json:"optional_columns,omitempty" yaml:"optional_columns"`
	Synonyms        map[string][]string `json:"synonyms,omitempty" yaml:"synonyms"`
	ForbiddenTerms  []string            `json:"forbidden_terms" yaml:"forbidden_terms"`
	MetricsMap      map[string]*Metric  `json:"metrics_map" yaml:"metrics_map"`
	Guardrails      Guardrails          `json:"guardrails" yaml:"guardrails"`
	Sections        map[string][]string `json:"sections" yaml:"sections"`

	metricOrder []string
	queries     map[string][]Query
	warnings    []string
}

// Validate checks the definition and prepares parsed formulas, the metric
// evaluation order and parsed section queries. Errors wrap ErrInvalid, and
// ErrCircularDependency for metric cycles.
func (p *Playbook) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalid)
	}
	p.warnings = nil
	for name, t := range p.RequiredColumns {
		if _, ok := CanonicalType(t); !ok {
			return fmt.Errorf("%w: %s: required column %s has unknown type %q", ErrInvalid, p.ID, name, t)
		}
	}
	for name, t := range p.OptionalColumns {
		if _, ok := CanonicalType(t); !ok {
			return fmt.Errorf("%w: %s: optional column %s has unknown type %q", ErrInvalid, p.ID, name, t)
		}
		if _, dup := p.RequiredColumns[name]; dup {
			return fmt.Errorf("%w: %s: column %s is both required and optional", ErrInvalid, p.ID, name)
		}
	}
	if p.Guardrails.MinRows < 0 || p.Guardrails.TopBottomMinGroupN < 0 {
		return fmt.Errorf("%w: %s: guardrail values must not be negative", ErrInvalid, p.ID)
	}

	deps := make(map[string][]string, len(p.MetricsMap))
	for name, m := range p.MetricsMap {
		if m == nil || strings.TrimSpace(m.Formula) == "" {
			return fmt.Errorf("%w: %s: metric %s has no formula", ErrInvalid, p.ID, name)
		}
		if _, ok := CanonicalType(m.Type); !ok {
			return fmt.Errorf("%w: %s: metric %s has unknown type %q", ErrInvalid, p.ID, name, m.Type)
		}
		e, err := formula.Parse(m.Formula)
		if err != nil {
			return fmt.Errorf("%w: %s: metric %s: %w", ErrInvalid, p.ID, name, err)
		}
		m.expr = e
		if len(m.Deps) == 0 {
			m.Deps = e.Identifiers()
		}
		declared := make(map[string]bool, len(m.Deps))
		for _, d := range m.Deps {
			declared[d] = true
		}
		for _, id := range e.Identifiers() {
			if !declared[id] {
				return fmt.Errorf("%w: %s: metric %s uses %s without declaring it in deps", ErrInvalid, p.ID, name, id)
			}
		}
		deps[name] = m.Deps
	}
	order, err := formula.BuildDependencyGraph(deps).TopologicalOrder()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalid, p.ID, err)
	}
	p.metricOrder = order

	p.queries = make(map[string][]Query, len(p.Sections))
	for section, raw := range p.Sections {
		if len(raw) == 0 {
			return fmt.Errorf("%w: %s: section %s has no queries", ErrInvalid, p.ID, section)
		}
		for _, s := range raw {
			q, err := ParseQuery(s)
			if err != nil {
				return fmt.Errorf("%w: %s: section %s: %v", ErrInvalid, p.ID, section, err)
			}
			if !q.Known() {
				p.warnings = append(p.warnings,
					fmt.Sprintf("%s: section %s uses unknown aggregation %s", p.ID, section, q.Func))
			}
			for _, col := range q.Columns() {
				if !p.declares(col) {
					p.warnings = append(p.warnings,
						fmt.Sprintf("%s: section %s references undeclared name %s", p.ID, section, col))
				}
			}
			p.queries[section] = append(p.queries[section], q)
		}
	}
	sort.Strings(p.warnings)
	return nil
}

func (p *Playbook) declares(name string) bool {
	if _, ok := p.RequiredColumns[name]; ok {
		return true
	}
	if _, ok := p.OptionalColumns[name]; ok {
		return true
	}
	_, ok := p.MetricsMap[name]
	return ok
}

// MetricOrder lists metric names so each follows its metric dependencies.
func (p *Playbook) MetricOrder() []string { return p.metricOrder }

// Queries returns the parsed queries of a section.
func (p *Playbook) Queries(section string) []Query { return p.queries[section] }

// Warnings collected by Validate.
func (p *Playbook) Warnings() []string { return p.warnings }

// SectionNames returns the section names sorted.
func (p *Playbook) SectionNames() []string {
	names := make([]string, 0, len(p.Sections))
	for name := range p.Sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequiredNames returns the required column names sorted.
func (p *Playbook) RequiredNames() []string {
	return sortedKeys(p.RequiredColumns)
}

// OptionalNames returns the optional column names sorted.
func (p *Playbook) OptionalNames() []string {
	return sortedKeys(p.OptionalColumns)
}

// ColumnType returns the declared type of a required or optional column.
func (p *Playbook) ColumnType(name string) (string, bool) {
	if t, ok := p.RequiredColumns[name]; ok {
		return t, true
	}
	t, ok := p.OptionalColumns[name]
	return t, ok
}

// Summary is the short form used in responses.
func (p *Playbook) Summary() *models.PlaybookSummary {
	return &models.PlaybookSummary{ID: p.ID, Domain: p.Domain, Description: p.Description}
}

// IsTemporalSection reports whether a section name describes a time-based analysis.
func IsTemporalSection(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "temporal") || strings.Contains(n, "trend") || strings.Contains(n, "tendencia")
}

// IsRankingSection reports whether a section ranks groups (top/bottom lists).
func IsRankingSection(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "top") || strings.Contains(n, "bottom")
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
