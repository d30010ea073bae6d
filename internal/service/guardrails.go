package service

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"playbook-engine/internal/models"
	"playbook-engine/internal/naming"
	"playbook-engine/internal/playbook"
)

// DefaultMinRows applies when a playbook sets no min_rows.
const DefaultMinRows = 10

// Column roles whose absence forbids a vocabulary.
const (
	RoleFinancial = "financial"
	RoleTemporal  = "temporal"
	RoleQuantity  = "quantity"
	RoleCustomer  = "customer"
	RoleProduct   = "product"
)

// roleVocabulary lists the claims that cannot be made without a column of that role.
var roleVocabulary = map[string][]string{
	RoleFinancial: {"receita", "faturamento", "margem", "lucro", "ticket médio", "revenue", "margin", "profit", "average ticket"},
	RoleTemporal:  {"tendência", "tendencia", "sazonalidade", "crescimento", "queda ao longo do tempo", "mês a mês", "ano a ano", "trend", "seasonality", "growth", "month over month", "year over year"},
	RoleQuantity:  {"unidades vendidas", "volume de unidades", "quantidade vendida", "units sold", "unit volume"},
	RoleCustomer:  {"recorrência de clientes", "retenção de clientes", "fidelização", "churn", "customer retention", "repeat customers"},
	RoleProduct:   {"mix de produtos", "produto mais vendido", "best-selling product", "product mix"},
}

// roleHints are name tokens that reveal a column's role.
var roleHints = map[string][]string{
	RoleFinancial: {"valor", "preco", "price", "receita", "faturamento", "amount", "custo", "cost", "revenue", "sales", "ticket", "pagamento", "payment", "montante", "vlr", "total"},
	RoleQuantity:  {"quantidade", "qtd", "qtde", "quant", "unidades", "units", "qty", "quantity", "volume", "estoque", "stock"},
	RoleCustomer:  {"cliente", "customer", "client", "comprador", "consumidor"},
	RoleProduct:   {"produto", "product", "sku", "item", "mercadoria"},
}

// GuardrailsEngine re-evaluates section enablement and data sufficiency on its own,
// independently of the semantic planner.
type GuardrailsEngine struct {
	defaultMinRows int
	logger         *zap.Logger
}

// NewGuardrailsEngine creates the engine. defaultMinRows <= 0 uses DefaultMinRows.
func NewGuardrailsEngine(defaultMinRows int, logger *zap.Logger) *GuardrailsEngine {
	if defaultMinRows <= 0 {
		defaultMinRows = DefaultMinRows
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GuardrailsEngine{defaultMinRows: defaultMinRows, logger: logger}
}

// Evaluate decides active/disabled sections, the forbidden vocabulary and the quality
// score. plan may be nil; when given, its mappings decide which logical names resolve.
func (g *GuardrailsEngine) Evaluate(p *playbook.Playbook, schema models.Schema, rowCount int, plan *models.SemanticPlan) *models.GuardrailsResult {
	res := &models.GuardrailsResult{
		ActiveSections:   []string{},
		DisabledSections: []models.DisabledSection{},
		Warnings:         []string{},
	}

	minRows := p.Guardrails.MinRows
	if minRows <= 0 {
		minRows = g.defaultMinRows
	}
	if rowCount < minRows {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("o dataset tem %d linhas, abaixo do mínimo de %d recomendado para este playbook", rowCount, minRows))
	}
	for _, c := range schema {
		if c.Confidence < 60 && c.InferredType != models.TypeText {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("tipo da coluna %q inferido com confiança baixa (%d%%)", c.Name, c.Confidence))
		}
	}
	if plan != nil {
		res.Warnings = append(res.Warnings, plan.Warnings...)
	}

	roles := DetectRoles(schema, plan)
	res.ForbiddenTerms = ForbiddenTerms(p, roles)

	available := resolvableNames(schema, plan)
	numeric := schema.OfType(models.TypeNumeric)
	hasDate := roles[RoleTemporal]
	for _, section := range p.SectionNames() {
		if d, disabled := g.checkSection(p, section, available, numeric, hasDate, rowCount); disabled {
			res.DisabledSections = append(res.DisabledSections, d)
			continue
		}
		res.ActiveSections = append(res.ActiveSections, section)
	}

	res.QualityScore = QualityScore(rowCount, minRows, len(res.Warnings), len(res.DisabledSections), len(schema))
	g.logger.Debug("guardrails evaluated",
		zap.String("playbook", p.ID),
		zap.Strings("active_sections", res.ActiveSections),
		zap.Int("quality_score", res.QualityScore),
		zap.Int("forbidden_terms", len(res.ForbiddenTerms)))
	return res
}

func (g *GuardrailsEngine) checkSection(p *playbook.Playbook, section string, available map[string]string, numeric []models.Column, hasDate bool, rowCount int) (models.DisabledSection, bool) {
	if p.Guardrails.RequireNumeric && len(numeric) == 0 {
		return models.DisabledSection{
			Name:               section,
			Reason:             "o playbook exige ao menos uma coluna numérica e nenhuma foi detectada",
			MissingRequirement: "coluna numérica",
			CallToAction:       "Verifique se os valores numéricos estão em um formato reconhecível (ex.: 1.234,56).",
		}, true
	}
	if playbook.IsTemporalSection(section) {
		for _, need := range p.Guardrails.TemporalSectionsRequire {
			if _, ok := available[need]; !ok {
				return models.DisabledSection{
					Name:               section,
					Reason:             fmt.Sprintf("a seção temporal depende de %s, que não foi encontrada", Humanize(need)),
					MissingRequirement: need,
					CallToAction:       fmt.Sprintf("Adicione uma coluna de %s para habilitar a análise temporal.", Humanize(need)),
				}, true
			}
		}
	}
	if d, disabled := sectionCheck(p, section, available, numeric, hasDate, rowCount); disabled {
		return d, true
	}
	return models.DisabledSection{}, false
}

// resolvableNames mirrors the planner's availability rules from the plan, or from
// plain name equality when there is no plan.
func resolvableNames(schema models.Schema, plan *models.SemanticPlan) map[string]string {
	available := map[string]string{}
	for _, c := range schema {
		available[c.Name] = c.Name
		available[c.NormalizedName] = c.Name
	}
	if plan == nil {
		return available
	}
	for name, m := range plan.OptionalColumns {
		available[name] = m.Actual
	}
	for name, m := range plan.RequiredColumns {
		available[name] = m.Actual
	}
	for _, d := range plan.Derivations {
		available[d.Name] = d.Name
	}
	return available
}

// DetectRoles classifies which column roles the dataset provides. Mapped logical
// names from the plan count as hints too.
func DetectRoles(schema models.Schema, plan *models.SemanticPlan) map[string]bool {
	roles := map[string]bool{}
	logical := map[string][]string{}
	if plan != nil {
		for name, m := range plan.RequiredColumns {
			logical[m.Actual] = append(logical[m.Actual], name)
		}
		for name, m := range plan.OptionalColumns {
			logical[m.Actual] = append(logical[m.Actual], name)
		}
	}
	for _, c := range schema {
		if c.InferredType == models.TypeDate {
			roles[RoleTemporal] = true
			continue
		}
		var tokens []string
		tokens = append(tokens, naming.Tokenize(c.Name)...)
		tokens = append(tokens, naming.Tokenize(c.CanonicalName)...)
		for _, l := range logical[c.Name] {
			tokens = append(tokens, naming.Tokenize(l)...)
		}
		for role, hints := range roleHints {
			if (role == RoleFinancial || role == RoleQuantity) && c.InferredType != models.TypeNumeric {
				continue
			}
			if hasAnyToken(tokens, hints) {
				roles[role] = true
			}
		}
	}
	return roles
}

// ForbiddenTerms is the playbook's static list plus the vocabulary of every missing role.
func ForbiddenTerms(p *playbook.Playbook, roles map[string]bool) []string {
	seen := map[string]bool{}
	var out []string
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" || seen[naming.Fold(t)] {
			return
		}
		seen[naming.Fold(t)] = true
		out = append(out, t)
	}
	for _, t := range p.ForbiddenTerms {
		add(t)
	}
	for _, role := range []string{RoleFinancial, RoleTemporal, RoleQuantity, RoleCustomer, RoleProduct} {
		if roles[role] {
			continue
		}
		for _, t := range roleVocabulary[role] {
			add(t)
		}
	}
	sort.Strings(out)
	return out
}

// QualityScore starts at 100 and subtracts up to 30 for missing rows, 5 per warning
// (max 20) and 10 per disabled section (max 30), adding 5 for 10+ columns.
func QualityScore(rowCount, minRows, warnings, disabled, columns int) int {
	score := 100.0
	if minRows > 0 && rowCount < minRows {
		shortfall := float64(minRows-rowCount) / float64(minRows)
		score -= math.Min(30, 30*shortfall)
	}
	score -= math.Min(20, 5*float64(warnings))
	score -= math.Min(30, 10*float64(disabled))
	if columns >= 10 {
		score += 5
	}
	return int(math.Max(0, math.Min(100, math.Round(score))))
}

// MergeSections intersects the planner's and the guardrails' active sections and
// unions their disabled sections, the planner's reason first.
func MergeSections(plan *models.SemanticPlan, gr *models.GuardrailsResult) ([]string, []models.DisabledSection) {
	allowed := map[string]bool{}
	for _, s := range gr.ActiveSections {
		allowed[s] = true
	}
	var active []string
	for _, s := range plan.ActiveSections {
		if allowed[s] {
			active = append(active, s)
		}
	}
	seen := map[string]bool{}
	var disabled []models.DisabledSection
	for _, d := range append(append([]models.DisabledSection{}, plan.DisabledSections...), gr.DisabledSections...) {
		if seen[d.Name] {
			continue
		}
		seen[d.Name] = true
		disabled = append(disabled, d)
	}
	sort.SliceStable(disabled, func(i, j int) bool { return disabled[i].Name < disabled[j].Name })
	return active, disabled
}

func hasAnyToken(tokens, hints []string) bool {
	for _, t := range tokens {
		for _, h := range hints {
			if t == h {
				return true
			}
		}
	}
	return false
}
