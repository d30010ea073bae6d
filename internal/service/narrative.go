package service

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"playbook-engine/internal/models"
	"playbook-engine/internal/naming"
	"playbook-engine/internal/playbook"
)

// NoLimitations is emitted when every section could be produced.
const NoLimitations = "Nenhuma limitação identificada: todas as seções do playbook foram produzidas com os dados disponíveis."

var funcLabels = map[string]string{
	"AVG":    "média",
	"SUM":    "soma",
	"COUNT":  "contagem",
	"MIN":    "mínimo",
	"MAX":    "máximo",
	"MEDIAN": "mediana",
}

// NarrativeInput is everything the adapter may ground its text on.
type NarrativeInput struct {
	Playbook         *playbook.Playbook
	Schema           models.Schema
	Plan             *models.SemanticPlan
	ActiveSections   []string
	DisabledSections []models.DisabledSection
	ForbiddenTerms   []string
	QualityScore     int
	Result           *models.StructuredResult
}

// NarrativeAdapter turns section results into tracked insights and drops any
// insight that is not grounded in the schema.
type NarrativeAdapter struct {
	logger  *zap.Logger
	printer *message.Printer
}

// NewNarrativeAdapter creates an adapter that writes Brazilian Portuguese.
func NewNarrativeAdapter(logger *zap.Logger) *NarrativeAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NarrativeAdapter{logger: logger, printer: message.NewPrinter(language.BrazilianPortuguese)}
}

// Build produces the narrative. Limitations are always present.
func (n *NarrativeAdapter) Build(in NarrativeInput) *models.Narrative {
	out := &models.Narrative{
		KeyFindings:        []models.InsightWithTracking{},
		Recommendations:    []string{},
		Limitations:        []string{},
		ColumnUsageSummary: map[string]int{},
		ValidationErrors:   []models.ValidationError{},
	}
	confidence := 0
	var unavailable map[string][]string
	if in.Plan != nil {
		confidence = in.Plan.Confidence
		unavailable = in.Plan.UnavailableMetrics
	}

	for _, ins := range n.candidates(in, confidence) {
		if reason := ValidateInsight(ins, in.Schema, in.ForbiddenTerms, unavailable); reason != "" {
			out.ValidationErrors = append(out.ValidationErrors, models.ValidationError{Section: ins.Section, Text: ins.Text, Reason: reason})
			n.logger.Warn("insight rejected",
				zap.String("section", ins.Section), zap.String("reason", reason))
			continue
		}
		out.KeyFindings = append(out.KeyFindings, ins)
		for _, c := range ins.ColumnsUsed {
			out.ColumnUsageSummary[c]++
		}
	}

	for _, d := range in.DisabledSections {
		out.Limitations = append(out.Limitations, LimitationText(d))
	}
	if len(out.Limitations) == 0 {
		out.Limitations = append(out.Limitations, NoLimitations)
	}

	out.Recommendations = n.recommendations(in)
	out.ExecutiveSummary = n.summary(in, out.KeyFindings)
	return out
}

// ValidateInsight returns why an insight must be rejected, or "" when it may be kept.
func ValidateInsight(ins models.InsightWithTracking, schema models.Schema, forbidden []string, unavailable map[string][]string) string {
	folded := naming.Fold(ins.Text)
	for _, t := range forbidden {
		if ft := naming.Fold(t); ft != "" && strings.Contains(folded, ft) {
			return fmt.Sprintf("termo proibido: %s", t)
		}
	}
	for _, c := range ins.ColumnsUsed {
		if !schema.Has(c) {
			return fmt.Sprintf("coluna inexistente no dataset: %s", c)
		}
	}
	for _, metric := range sortedMetricNames(unavailable) {
		if mentionsName(folded, metric) {
			return fmt.Sprintf("métrica %s sem dependências satisfeitas (%s)", metric, strings.Join(unavailable[metric], ", "))
		}
	}
	return ""
}

func (n *NarrativeAdapter) candidates(in NarrativeInput, confidence int) []models.InsightWithTracking {
	if in.Result == nil {
		return nil
	}
	var out []models.InsightWithTracking
	for _, name := range in.ActiveSections {
		sec, ok := in.Result.Sections[name]
		if !ok {
			continue
		}
		for _, key := range sortedKeys(sec.Metrics) {
			out = append(out, models.InsightWithTracking{
				Text:        fmt.Sprintf("%s: %s.", capitalize(Humanize(key)), n.FormatNumber(sec.Metrics[key])),
				ColumnsUsed: sec.Columns,
				Confidence:  confidence,
				Section:     name,
			})
		}
		aggKeys := make([]string, 0, len(sec.Aggregations))
		for k := range sec.Aggregations {
			aggKeys = append(aggKeys, k)
		}
		sort.Strings(aggKeys)
		for _, key := range aggKeys {
			text := n.aggregationText(sec.Aggregations[key])
			if text == "" {
				continue
			}
			out = append(out, models.InsightWithTracking{
				Text:        text,
				ColumnsUsed: sec.Columns,
				Confidence:  confidence,
				Section:     name,
			})
		}
	}
	return out
}

func (n *NarrativeAdapter) aggregationText(agg models.AggregationResult) string {
	if len(agg.Groups) == 0 {
		return ""
	}
	dim := Humanize(agg.Dimension)
	top := agg.Groups[0]
	var b strings.Builder
	if agg.Function == "COUNT" {
		fmt.Fprintf(&b, "Por %s, o grupo mais frequente é %q com %s registros", dim, top.Key, n.FormatNumber(top.Value))
	} else {
		fmt.Fprintf(&b, "Por %s, o maior valor de %s de %s é %q com %s",
			dim, funcLabel(agg.Function), Humanize(agg.Metric), top.Key, n.FormatNumber(top.Value))
	}
	if share, ok := shareOfTotal(agg); ok {
		fmt.Fprintf(&b, " (%s%% do total)", n.printer.Sprintf("%.1f", share))
	}
	if len(agg.Groups) > 1 {
		last := agg.Groups[len(agg.Groups)-1]
		fmt.Fprintf(&b, "; o menor é %q com %s, entre %d grupos", last.Key, n.FormatNumber(last.Value), len(agg.Groups))
	}
	b.WriteString(".")
	if agg.Dropped > 0 {
		fmt.Fprintf(&b, " %d grupos com poucos registros foram desconsiderados.", agg.Dropped)
	}
	return b.String()
}

// shareOfTotal is only meaningful for additive aggregations over non-negative values.
func shareOfTotal(agg models.AggregationResult) (float64, bool) {
	if agg.Function != "SUM" && agg.Function != "COUNT" {
		return 0, false
	}
	total := 0.0
	for _, g := range agg.Groups {
		if g.Value < 0 {
			return 0, false
		}
		total += g.Value
	}
	if total <= 0 {
		return 0, false
	}
	return 100 * agg.Groups[0].Value / total, true
}

func (n *NarrativeAdapter) recommendations(in NarrativeInput) []string {
	seen := map[string]bool{}
	var candidates []string
	for _, d := range in.DisabledSections {
		if d.CallToAction != "" && !seen[d.CallToAction] {
			seen[d.CallToAction] = true
			candidates = append(candidates, d.CallToAction)
		}
	}
	if in.QualityScore > 0 && in.QualityScore < 70 {
		candidates = append(candidates, "A qualidade dos dados limita a confiança da análise: revise valores ausentes e formatos das colunas.")
	}
	if len(in.DisabledSections) == 0 && len(in.ActiveSections) > 0 {
		candidates = append(candidates, "Acompanhe estes indicadores periodicamente com novos dados para confirmar os padrões observados.")
	}

	out := []string{}
	for _, r := range candidates {
		if hasForbidden(r, in.ForbiddenTerms) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (n *NarrativeAdapter) summary(in NarrativeInput, findings []models.InsightWithTracking) string {
	rows := 0
	if in.Result != nil {
		rows = in.Result.ExecutionMetadata.RowCount
	}
	total := len(in.ActiveSections) + len(in.DisabledSections)
	subject := "Análise"
	if in.Playbook != nil {
		subject = fmt.Sprintf("Análise de %s com o playbook %s", in.Playbook.Domain, in.Playbook.ID)
	}
	s := fmt.Sprintf("%s sobre %d registros: %d de %d seções produzidas.", subject, rows, len(in.ActiveSections), total)
	if len(findings) > 0 {
		s += " " + findings[0].Text
	}
	return s
}

// FormatNumber renders v in pt-BR style, without decimals for whole numbers.
func (n *NarrativeAdapter) FormatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return n.printer.Sprintf("%d", int64(v))
	}
	return n.printer.Sprintf("%.2f", v)
}

// NarrativeText joins every narrative line that leaves the engine, one statement per line.
func NarrativeText(nar *models.Narrative) string {
	lines := []string{nar.ExecutiveSummary}
	for _, f := range nar.KeyFindings {
		lines = append(lines, f.Text)
	}
	lines = append(lines, nar.Recommendations...)
	lines = append(lines, nar.Limitations...)
	return strings.Join(lines, "\n")
}

// AbsenceStatements lists the limitation and call-to-action sentences the
// narrative emits for disabled sections.
func AbsenceStatements(disabled []models.DisabledSection) []string {
	out := make([]string, 0, 2*len(disabled))
	for _, d := range disabled {
		out = append(out, LimitationText(d))
		if d.CallToAction != "" {
			out = append(out, d.CallToAction)
		}
	}
	return out
}

func hasForbidden(text string, forbidden []string) bool {
	folded := naming.Fold(text)
	for _, t := range forbidden {
		if ft := naming.Fold(t); ft != "" && strings.Contains(folded, ft) {
			return true
		}
	}
	return false
}

func funcLabel(fn string) string {
	if l, ok := funcLabels[fn]; ok {
		return l
	}
	return strings.ToLower(fn)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
