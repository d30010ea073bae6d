package service

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"playbook-engine/internal/formula"
	"playbook-engine/internal/models"
	"playbook-engine/internal/naming"
	"playbook-engine/internal/playbook"
)

// Section minimums checked by the planner.
const (
	TemporalMinRows     = 24
	RelationshipMinRows = 30
	RelationshipMinNum  = 2
	partialMatchMinLen  = 3
)

// Mapping confidences per method.
var methodConfidence = map[string]int{
	models.MatchExact:     100,
	models.MatchSynonym:   90,
	models.MatchCanonical: 85,
	models.MatchPartial:   60,
}

// SemanticPlanner maps a playbook onto a concrete schema.
type SemanticPlanner struct {
	dict   *Dictionary
	logger *zap.Logger
}

// NewSemanticPlanner creates a planner. A nil dictionary uses the embedded one.
func NewSemanticPlanner(dict *Dictionary, logger *zap.Logger) *SemanticPlanner {
	if dict == nil {
		dict = DefaultDictionary()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticPlanner{dict: dict, logger: logger}
}

// Plan builds the semantic plan of p over an enriched schema with rowCount rows.
// A metric dependency cycle is returned as formula.ErrCircularDependency.
func (sp *SemanticPlanner) Plan(p *playbook.Playbook, schema models.Schema, rowCount int) (*models.SemanticPlan, error) {
	plan := &models.SemanticPlan{
		PlaybookID:         p.ID,
		RequiredColumns:    map[string]models.ColumnMapping{},
		OptionalColumns:    map[string]models.ColumnMapping{},
		Derivations:        []models.DerivedColumn{},
		UnavailableMetrics: map[string][]string{},
		ActiveSections:     []string{},
		DisabledSections:   []models.DisabledSection{},
		Warnings:           []string{},
		Limitations:        []string{},
	}

	order, err := metricOrder(p)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", p.ID, err)
	}

	// 1. column mapping
	used := map[string]bool{}
	for _, name := range p.RequiredNames() {
		m, ok := sp.mapColumn(schema, p, name, p.RequiredColumns[name], used)
		if !ok {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("coluna obrigatória %q não encontrada", name))
			continue
		}
		used[m.Actual] = true
		plan.RequiredColumns[name] = m
	}
	for _, name := range p.OptionalNames() {
		if m, ok := sp.mapColumn(schema, p, name, p.OptionalColumns[name], used); ok {
			used[m.Actual] = true
			plan.OptionalColumns[name] = m
		}
	}

	// available maps every resolvable logical name to the column that holds it
	available := map[string]string{}
	for _, c := range schema {
		available[c.Name] = c.Name
	}
	for name, m := range plan.OptionalColumns {
		available[name] = m.Actual
	}
	for name, m := range plan.RequiredColumns {
		available[name] = m.Actual
	}

	// 2. derivations, in dependency order so later metrics may use earlier ones
	for _, name := range order {
		metric := p.MetricsMap[name]
		var missing []string
		rename := map[string]string{}
		depSet := map[string]bool{}
		for _, dep := range metric.Deps {
			actual, ok := available[dep]
			if !ok {
				missing = append(missing, dep)
				continue
			}
			rename[dep] = actual
			depSet[actual] = true
		}
		if len(missing) > 0 {
			plan.UnavailableMetrics[name] = missing
			if !metric.Optional {
				plan.Warnings = append(plan.Warnings,
					fmt.Sprintf("métrica %q indisponível: faltam %s", name, strings.Join(missing, ", ")))
			}
			continue
		}
		expr := metric.Expr()
		if expr == nil {
			if expr, err = formula.Parse(metric.Formula); err != nil {
				return nil, fmt.Errorf("plan %s: metric %s: %w", p.ID, name, err)
			}
		}
		deps := make([]string, 0, len(depSet))
		for d := range depSet {
			deps = append(deps, d)
		}
		sort.Strings(deps)
		plan.Derivations = append(plan.Derivations, models.DerivedColumn{
			Name:         name,
			Formula:      expr.Rename(rename).String(),
			Dependencies: deps,
			Type:         metric.ResultType(),
		})
		available[name] = name
	}

	// 3. sections
	numeric := schema.OfType(models.TypeNumeric)
	hasDate := len(schema.OfType(models.TypeDate)) > 0
	for _, section := range p.SectionNames() {
		if d, disabled := sectionCheck(p, section, available, numeric, hasDate, rowCount); disabled {
			plan.DisabledSections = append(plan.DisabledSections, d)
			plan.Limitations = append(plan.Limitations, LimitationText(d))
			continue
		}
		plan.ActiveSections = append(plan.ActiveSections, section)
	}

	// 4. confidence
	total := len(p.RequiredColumns)
	matchPart, derivedPart := 50.0, 0.0
	if total > 0 {
		matchPart = 50 * float64(len(plan.RequiredColumns)) / float64(total)
		derivedPart = 30 * float64(len(plan.Derivations)) / float64(total)
	} else if len(plan.Derivations) > 0 {
		derivedPart = 30
	}
	conf := matchPart + derivedPart
	if len(plan.ActiveSections) > 0 {
		conf += 20
	}
	plan.Confidence = int(math.Min(100, math.Round(conf)))

	sp.logger.Debug("semantic plan built",
		zap.String("playbook", p.ID),
		zap.Int("derivations", len(plan.Derivations)),
		zap.Strings("active_sections", plan.ActiveSections),
		zap.Int("confidence", plan.Confidence))
	return plan, nil
}

// mapColumn tries exact, domain synonym, canonical and partial matches in that
// order, each gated by type compatibility.
func (sp *SemanticPlanner) mapColumn(schema models.Schema, p *playbook.Playbook, logical, wantType string, used map[string]bool) (models.ColumnMapping, bool) {
	norm := naming.Normalize(logical)
	canonical := sp.dict.Canonicalize(logical)

	synonyms := map[string]bool{}
	for _, s := range p.Synonyms[logical] {
		synonyms[naming.Normalize(s)] = true
	}
	for _, s := range sp.dict.Synonyms(canonical) {
		synonyms[s] = true
	}

	steps := []struct {
		method string
		match  func(c models.Column) bool
	}{
		{models.MatchExact, func(c models.Column) bool {
			return strings.EqualFold(strings.TrimSpace(c.Name), logical)
		}},
		{models.MatchSynonym, func(c models.Column) bool {
			return synonyms[c.NormalizedName]
		}},
		{models.MatchCanonical, func(c models.Column) bool {
			return c.NormalizedName == norm || c.CanonicalName == canonical
		}},
		{models.MatchPartial, func(c models.Column) bool {
			if len(norm) < partialMatchMinLen || len(c.NormalizedName) < partialMatchMinLen {
				return false
			}
			return strings.Contains(c.NormalizedName, norm) || strings.Contains(norm, c.NormalizedName)
		}},
	}
	for _, step := range steps {
		for _, c := range schema {
			if used[c.Name] || !playbook.TypeCompatible(wantType, c.InferredType) {
				continue
			}
			if step.match(c) {
				return models.ColumnMapping{
					Required:   logical,
					Actual:     c.Name,
					Method:     step.method,
					Confidence: methodConfidence[step.method],
				}, true
			}
		}
	}
	return models.ColumnMapping{}, false
}

// sectionCheck applies the section-specific minimums and then requires every
// name the section's queries read to be resolvable.
func sectionCheck(p *playbook.Playbook, section string, available map[string]string, numeric []models.Column, hasDate bool, rowCount int) (models.DisabledSection, bool) {
	if playbook.IsTemporalSection(section) {
		if !hasDate {
			return models.DisabledSection{
				Name:               section,
				Reason:             "nenhuma coluna de data foi encontrada no dataset",
				MissingRequirement: "coluna de data",
				CallToAction:       "Adicione uma coluna de data (ex.: data da venda) para habilitar a análise temporal.",
			}, true
		}
		if rowCount < TemporalMinRows {
			return models.DisabledSection{
				Name:               section,
				Reason:             fmt.Sprintf("a análise temporal requer ao menos %d linhas; o dataset tem %d", TemporalMinRows, rowCount),
				MissingRequirement: fmt.Sprintf("%d linhas", TemporalMinRows),
				CallToAction:       "Inclua um histórico maior de registros para habilitar a análise temporal.",
			}, true
		}
	}
	if IsRelationshipSection(section) {
		if len(numeric) < RelationshipMinNum {
			names := make([]string, len(numeric))
			for i, c := range numeric {
				names[i] = c.Name
			}
			found := "nenhuma"
			if len(names) > 0 {
				found = fmt.Sprintf("apenas %d (%s)", len(names), strings.Join(names, ", "))
			}
			return models.DisabledSection{
				Name:               section,
				Reason:             fmt.Sprintf("a análise de relacionamento requer ao menos %d colunas numéricas; encontrada(s): %s", RelationshipMinNum, found),
				MissingRequirement: "segunda coluna numérica",
				CallToAction:       "Adicione uma segunda coluna numérica (ex.: quantidade) para relacionar com a primeira.",
			}, true
		}
		if rowCount < RelationshipMinRows {
			return models.DisabledSection{
				Name:               section,
				Reason:             fmt.Sprintf("a análise de relacionamento requer ao menos %d linhas; o dataset tem %d", RelationshipMinRows, rowCount),
				MissingRequirement: fmt.Sprintf("%d linhas", RelationshipMinRows),
				CallToAction:       "Inclua mais registros para habilitar a análise de relacionamento.",
			}, true
		}
	}
	if missing := unresolved(p, section, available); len(missing) > 0 {
		return missingColumnsSection(section, missing), true
	}
	return models.DisabledSection{}, false
}

func unresolved(p *playbook.Playbook, section string, available map[string]string) []string {
	seen := map[string]bool{}
	var missing []string
	for _, q := range p.Queries(section) {
		for _, col := range q.Columns() {
			if _, ok := available[col]; ok || seen[col] {
				continue
			}
			seen[col] = true
			missing = append(missing, col)
		}
	}
	return missing
}

func missingColumnsSection(section string, missing []string) models.DisabledSection {
	labels := make([]string, len(missing))
	for i, m := range missing {
		labels[i] = Humanize(m)
	}
	return models.DisabledSection{
		Name:               section,
		Reason:             "dados ausentes para esta seção: " + strings.Join(labels, ", "),
		MissingRequirement: strings.Join(missing, ", "),
		CallToAction:       "Adicione ao dataset uma coluna com: " + strings.Join(labels, ", ") + ".",
	}
}

// IsRelationshipSection reports whether a section relates numeric columns to each other.
func IsRelationshipSection(name string) bool {
	n := naming.Fold(name)
	return strings.Contains(n, "relationship") || strings.Contains(n, "relac") || strings.Contains(n, "correla")
}

// LimitationText renders a disabled section as a limitation sentence.
func LimitationText(d models.DisabledSection) string {
	return fmt.Sprintf("Seção %s desativada: %s. %s", d.Name, d.Reason, d.CallToAction)
}

// Humanize turns a snake_case name into words.
func Humanize(name string) string {
	return strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
}

// metricOrder uses the order prepared at load time, or computes it for playbooks
// that were never validated.
func metricOrder(p *playbook.Playbook) ([]string, error) {
	if order := p.MetricOrder(); len(order) == len(p.MetricsMap) {
		return order, nil
	}
	deps := make(map[string][]string, len(p.MetricsMap))
	for name, m := range p.MetricsMap {
		deps[name] = m.Deps
		if len(deps[name]) == 0 && m.Formula != "" {
			if e, err := formula.Parse(m.Formula); err == nil {
				deps[name] = e.Identifiers()
			}
		}
	}
	return formula.BuildDependencyGraph(deps).TopologicalOrder()
}
