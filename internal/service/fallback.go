package service

import (
	"fmt"
	"math"
	"regexp"
	"sort"

	"go.uber.org/zap"

	"playbook-engine/internal/datatype"
	"playbook-engine/internal/models"
	"playbook-engine/internal/naming"
)

const (
	topValuesLimit    = 5
	fallbackMinRows   = 30
	highNullRate      = 0.20
	lowCardinalityMax = 10
	midCardinalityMax = 100
)

var genericColumnName = regexp.MustCompile(`^(col|coluna|column|campo|field|unnamed|var)_?\d*$`)

// FallbackAnalyzer produces schema-grounded descriptive statistics when no playbook
// qualifies. It never states anything domain specific.
type FallbackAnalyzer struct {
	profiler *DataQualityProfiler
	logger   *zap.Logger
}

// NewFallbackAnalyzer creates the analyzer.
func NewFallbackAnalyzer(logger *zap.Logger) *FallbackAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackAnalyzer{profiler: NewDataQualityProfiler(), logger: logger}
}

// Analyze describes every column of an enriched schema over its rows.
func (f *FallbackAnalyzer) Analyze(schema models.Schema, rows []models.Row) *models.FallbackAnalysisResult {
	res := &models.FallbackAnalysisResult{
		RowCount:        len(rows),
		ColumnCount:     len(schema),
		NumericColumns:  []models.NumericStats{},
		TextColumns:     []models.TextStats{},
		DateColumns:     []models.DateStats{},
		Recommendations: []string{},
	}
	for _, c := range schema {
		switch c.InferredType {
		case models.TypeNumeric:
			res.NumericColumns = append(res.NumericColumns, numericStats(c.Name, rows))
		case models.TypeDate:
			res.DateColumns = append(res.DateColumns, dateStats(c, rows))
		default:
			res.TextColumns = append(res.TextColumns, textStats(c.Name, rows))
		}
	}
	res.Quality = f.profiler.ProfileAllColumns(schema, rows)
	res.Summary = fmt.Sprintf(
		"Análise exploratória de %d registros e %d colunas (%d numéricas, %d de texto, %d de data). Nenhum playbook atingiu a compatibilidade mínima; apenas estatísticas descritivas são apresentadas.",
		res.RowCount, res.ColumnCount, len(res.NumericColumns), len(res.TextColumns), len(res.DateColumns))
	res.Recommendations = recommendations(schema, res)

	f.logger.Info("fallback analysis",
		zap.Int("rows", res.RowCount), zap.Int("columns", res.ColumnCount))
	return res
}

func numericStats(name string, rows []models.Row) models.NumericStats {
	st := models.NumericStats{Column: name}
	unique := map[float64]bool{}
	var vals []float64
	for _, r := range rows {
		v, ok := r[name]
		if !ok || datatype.IsNull(v) {
			continue
		}
		x, ok := datatype.ToFloat(v)
		if !ok {
			continue
		}
		vals = append(vals, x)
		unique[x] = true
	}
	st.Count = len(vals)
	st.UniqueCount = len(unique)
	if len(vals) == 0 {
		return st
	}
	st.Min, st.Max = vals[0], vals[0]
	sum := 0.0
	for _, x := range vals {
		sum += x
		st.Min = math.Min(st.Min, x)
		st.Max = math.Max(st.Max, x)
	}
	st.Mean = sum / float64(len(vals))
	if len(vals) > 1 {
		ss := 0.0
		for _, x := range vals {
			ss += (x - st.Mean) * (x - st.Mean)
		}
		st.StdDev = round4(math.Sqrt(ss / float64(len(vals)-1)))
	}
	st.Mean = round4(st.Mean)
	return st
}

func textStats(name string, rows []models.Row) models.TextStats {
	counts := map[string]int{}
	for _, r := range rows {
		v, ok := r[name]
		if !ok || datatype.IsNull(v) {
			continue
		}
		counts[datatype.ToString(v)]++
	}
	top := make([]models.ValueCount, 0, len(counts))
	for v, n := range counts {
		top = append(top, models.ValueCount{Value: v, Count: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Value < top[j].Value
	})
	if len(top) > topValuesLimit {
		top = top[:topValuesLimit]
	}
	return models.TextStats{
		Column:      name,
		UniqueCount: len(counts),
		Cardinality: CardinalityHint(len(counts)),
		TopValues:   top,
	}
}

func dateStats(c models.Column, rows []models.Row) models.DateStats {
	st := models.DateStats{Column: c.Name}
	first := true
	var lo, hi = "", ""
	for _, r := range rows {
		v, ok := r[c.Name]
		if !ok || datatype.IsNull(v) {
			continue
		}
		t, ok := ParseDateValue(v, c.IsExcelSerial)
		if !ok {
			continue
		}
		d := t.Format("2006-01-02")
		st.Count++
		if first || d < lo {
			lo = d
		}
		if first || d > hi {
			hi = d
		}
		first = false
	}
	st.Min, st.Max = lo, hi
	return st
}

// CardinalityHint buckets a distinct-value count as low, medium or high.
func CardinalityHint(unique int) string {
	switch {
	case unique <= lowCardinalityMax:
		return "low"
	case unique <= midCardinalityMax:
		return "medium"
	default:
		return "high"
	}
}

func recommendations(schema models.Schema, res *models.FallbackAnalysisResult) []string {
	var out []string
	if len(res.DateColumns) == 0 {
		out = append(out, "Adicione uma coluna de data para habilitar análises ao longo do tempo.")
	}
	if len(res.NumericColumns) == 0 {
		out = append(out, "Adicione ao menos uma coluna numérica para habilitar métricas quantitativas.")
	}
	if res.RowCount < fallbackMinRows {
		out = append(out, fmt.Sprintf("Amplie a amostra: com %d registros as estatísticas descritivas são pouco estáveis.", res.RowCount))
	}
	for _, q := range res.Quality {
		if q.TotalRows > 0 && q.NullRate > highNullRate {
			out = append(out, fmt.Sprintf("A coluna %q tem %.0f%% de valores ausentes; considere completá-la.", q.Column, q.NullRate*100))
		}
	}
	var generic []string
	for _, c := range schema {
		if genericColumnName.MatchString(naming.Normalize(c.Name)) {
			generic = append(generic, c.Name)
		}
	}
	if len(generic) > 0 {
		out = append(out, fmt.Sprintf("Renomeie colunas com nomes genéricos (%s) para nomes descritivos, o que permite reconhecer o domínio dos dados.", joinQuoted(generic)))
	}
	return out
}

func joinQuoted(names []string) string {
	s := ""
	for i, n := range names {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%q", n)
	}
	return s
}
