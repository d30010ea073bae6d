package service

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"playbook-engine/internal/datatype"
	"playbook-engine/internal/models"
	"playbook-engine/internal/naming"
)

// Block rule: more than MaxViolations findings, or any critical one.
const (
	MaxViolations        = 5
	MaxConfidencePenalty = 30
)

var severityWeight = map[models.Severity]int{
	models.SeverityCritical: 20,
	models.SeverityHigh:     10,
	models.SeverityMedium:   5,
	models.SeverityLow:      2,
}

var (
	wordRe        = regexp.MustCompile(`[\p{L}\p{N}_]+`)
	sentinelRe    = regexp.MustCompile(`\b(1970-01-01|0001-01-01|1900-01-01|01/01/1970|01/01/1900)(?:T|\b)`)
	percentRe     = regexp.MustCompile(`(-?\d[\d.,]*)\s*%`)
	negativeCount = regexp.MustCompile(`(?:^|[\s(:])(-\d[\d.,]*)\s+(registros|linhas|transacoes|vendas|pedidos|clientes|produtos|itens|unidades|ocorrencias|records|rows|transactions|orders|customers|products|items|units|sales)\b`)
)

// Words that put an identifier-looking token in a data context.
var dataContextWords = map[string]bool{
	"media": true, "soma": true, "total": true, "contagem": true, "coluna": true, "campo": true,
	"mediana": true, "minimo": true, "maximo": true,
	"average": true, "sum": true, "count": true, "column": true, "field": true, "mean": true, "median": true,
}

// DetectionContext is what the detector treats as ground truth.
type DetectionContext struct {
	Schema         models.Schema
	ForbiddenTerms []string
	// KnownIdentifiers are names that may legitimately appear in text: sections,
	// metric names, aliases, the playbook id.
	KnownIdentifiers []string
	// UnavailableMetrics maps metrics whose dependencies are missing to those dependencies.
	UnavailableMetrics map[string][]string
	// AbsenceStatements are the engine's own sentences reporting missing data.
	// A line equal to one of them may name an unmet metric.
	AbsenceStatements []string
}

// HallucinationDetector is the last text scan before output leaves the engine.
type HallucinationDetector struct {
	logger *zap.Logger
}

// NewHallucinationDetector creates a detector.
func NewHallucinationDetector(logger *zap.Logger) *HallucinationDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HallucinationDetector{logger: logger}
}

// Check scans text line by line and decides whether it must be blocked.
func (d *HallucinationDetector) Check(text string, dc DetectionContext) *models.HallucinationReport {
	known := knownNames(dc)
	absence := map[string]bool{}
	for _, st := range dc.AbsenceStatements {
		absence[strings.TrimSpace(naming.Fold(st))] = true
	}
	report := &models.HallucinationReport{
		Violations:         []models.HallucinationViolation{},
		CriticalViolations: []models.HallucinationViolation{},
	}
	add := func(v models.HallucinationViolation) {
		report.Violations = append(report.Violations, v)
		if v.Severity == models.SeverityCritical {
			report.CriticalViolations = append(report.CriticalViolations, v)
		}
	}

	for i, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lineNo := i + 1
		folded := naming.Fold(line)
		context := strings.TrimSpace(line)

		for _, term := range dc.ForbiddenTerms {
			if containsTerm(folded, naming.Fold(term)) {
				add(models.HallucinationViolation{
					Type: models.ViolationForbiddenTerm, Term: term, Context: context, Line: lineNo, Severity: models.SeverityCritical,
				})
			}
		}

		for _, v := range d.identifierViolations(line, folded, known, dc) {
			v.Context, v.Line = context, lineNo
			add(v)
		}

		for _, m := range sentinelRe.FindAllStringSubmatch(line, -1) {
			add(models.HallucinationViolation{
				Type: models.ViolationInvalidDate, Term: m[1], Context: context, Line: lineNo, Severity: models.SeverityHigh,
			})
		}

		for _, m := range percentRe.FindAllStringSubmatch(line, -1) {
			p, ok := datatype.ParseNumber(m[1])
			if ok && (p.Value > 100 || p.Value < 0) {
				add(models.HallucinationViolation{
					Type: models.ViolationImpossibleValue, Term: strings.TrimSpace(m[0]), Context: context, Line: lineNo, Severity: models.SeverityMedium,
				})
			}
		}

		for _, m := range negativeCount.FindAllStringSubmatch(folded, -1) {
			add(models.HallucinationViolation{
				Type: models.ViolationImpossibleValue, Term: m[1] + " " + m[2], Context: context, Line: lineNo, Severity: models.SeverityHigh,
			})
		}

		if !absence[strings.TrimSpace(folded)] {
			for _, metric := range sortedMetricNames(dc.UnavailableMetrics) {
				if mentionsName(folded, metric) {
					add(models.HallucinationViolation{
						Type:     models.ViolationUnmetMetric,
						Term:     metric,
						Context:  context,
						Line:     lineNo,
						Severity: models.SeverityHigh,
					})
				}
			}
		}
	}

	report.TotalViolations = len(report.Violations)
	report.ShouldBlock = ShouldBlock(report.Violations)
	report.ConfidencePenalty = ConfidencePenalty(report.Violations)
	if report.TotalViolations > 0 {
		d.logger.Debug("hallucination scan",
			zap.Int("violations", report.TotalViolations),
			zap.Int("critical", len(report.CriticalViolations)),
			zap.Bool("block", report.ShouldBlock))
	}
	return report
}

// identifierViolations flags identifier-looking tokens that name nothing in the schema.
func (d *HallucinationDetector) identifierViolations(line, folded string, known map[string]bool, dc DetectionContext) []models.HallucinationViolation {
	dataContext := false
	for _, w := range wordRe.FindAllString(folded, -1) {
		if dataContextWords[w] {
			dataContext = true
			break
		}
	}
	var out []models.HallucinationViolation
	seen := map[string]bool{}
	for _, tok := range wordRe.FindAllString(line, -1) {
		if !looksLikeIdentifier(tok) || seen[tok] {
			continue
		}
		seen[tok] = true
		if known[strings.ToLower(tok)] || known[naming.Normalize(tok)] {
			continue
		}
		if _, unmet := dc.UnavailableMetrics[tok]; unmet {
			continue
		}
		if dataContext {
			out = append(out, models.HallucinationViolation{Type: models.ViolationUnknownColumn, Term: tok, Severity: models.SeverityHigh})
		} else {
			out = append(out, models.HallucinationViolation{Type: models.ViolationSuspiciousIdentifier, Term: tok, Severity: models.SeverityLow})
		}
	}
	return out
}

// ShouldBlock applies the block rule.
func ShouldBlock(violations []models.HallucinationViolation) bool {
	if len(violations) > MaxViolations {
		return true
	}
	for _, v := range violations {
		if v.Severity == models.SeverityCritical {
			return true
		}
	}
	return false
}

// ConfidencePenalty sums severity weights, capped at MaxConfidencePenalty.
func ConfidencePenalty(violations []models.HallucinationViolation) int {
	total := 0
	for _, v := range violations {
		total += severityWeight[v.Severity]
	}
	if total > MaxConfidencePenalty {
		return MaxConfidencePenalty
	}
	return total
}

// BlockedMessage renders the user-facing explanation of a blocked analysis.
func BlockedMessage(report *models.HallucinationReport) string {
	if len(report.CriticalViolations) > 0 {
		terms := make([]string, len(report.CriticalViolations))
		for i, v := range report.CriticalViolations {
			terms[i] = v.Term
		}
		return fmt.Sprintf("Análise bloqueada: o texto gerado contém afirmações não suportadas pelos dados (%s).", strings.Join(terms, ", "))
	}
	return fmt.Sprintf("Análise bloqueada: %d problemas de consistência foram encontrados no texto gerado.", report.TotalViolations)
}

func knownNames(dc DetectionContext) map[string]bool {
	known := map[string]bool{}
	put := func(s string) {
		if s == "" {
			return
		}
		known[strings.ToLower(s)] = true
		known[naming.Normalize(s)] = true
	}
	for _, c := range dc.Schema {
		put(c.Name)
		put(c.NormalizedName)
		put(c.CanonicalName)
	}
	for _, s := range dc.KnownIdentifiers {
		put(s)
	}
	return known
}

// looksLikeIdentifier matches snake_case and camelCase tokens.
func looksLikeIdentifier(tok string) bool {
	trimmed := strings.Trim(tok, "_")
	if trimmed == "" || onlyDigits(trimmed) {
		return false
	}
	if strings.Contains(trimmed, "_") {
		return true
	}
	prevLower := false
	for _, r := range tok {
		if unicode.IsUpper(r) && prevLower {
			return true
		}
		prevLower = unicode.IsLower(r)
	}
	return false
}

func onlyDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}

// containsTerm finds a folded term at word boundaries; '_' counts as a word character.
func containsTerm(folded, term string) bool {
	if term == "" {
		return false
	}
	for start := 0; ; {
		idx := strings.Index(folded[start:], term)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(term)
		if !isWordByteBefore(folded, idx) && !isWordByteAt(folded, end) {
			return true
		}
		start = idx + 1
	}
}

func isWordByteBefore(s string, i int) bool {
	if i == 0 {
		return false
	}
	r := []rune(s[:i])
	return isWordRune(r[len(r)-1])
}

func isWordByteAt(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	for _, r := range s[i:] {
		return isWordRune(r)
	}
	return false
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// mentionsName matches a metric by its raw or humanized name.
func mentionsName(folded, name string) bool {
	n := strings.ToLower(name)
	return containsTerm(folded, n) || containsTerm(folded, naming.Fold(Humanize(n)))
}

func sortedMetricNames(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
