package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"playbook-engine/internal/models"
)

func TestFallbackDescribesColumns(t *testing.T) {
	rows := []models.Row{
		{"col1": "a", "peso": "1,5", "dia": "2024-02-01"},
		{"col1": "b", "peso": "2,5", "dia": "2024-01-15"},
		{"col1": "a", "peso": "3,5", "dia": "2024-03-10"},
		{"col1": "", "peso": "", "dia": "2024-03-11"},
	}
	schema := enrich(t, rows)
	res := NewFallbackAnalyzer(zaptest.NewLogger(t)).Analyze(schema, rows)

	assert.Equal(t, 4, res.RowCount)
	assert.Equal(t, 3, res.ColumnCount)

	require.Len(t, res.NumericColumns, 1)
	num := res.NumericColumns[0]
	assert.Equal(t, "peso", num.Column)
	assert.Equal(t, 3, num.Count)
	assert.InDelta(t, 2.5, num.Mean, 1e-9)
	assert.InDelta(t, 1.5, num.Min, 1e-9)
	assert.InDelta(t, 3.5, num.Max, 1e-9)
	assert.InDelta(t, 1.0, num.StdDev, 1e-9)
	assert.Equal(t, 3, num.UniqueCount)

	require.Len(t, res.TextColumns, 1)
	txt := res.TextColumns[0]
	assert.Equal(t, 2, txt.UniqueCount)
	assert.Equal(t, "low", txt.Cardinality)
	assert.Equal(t, models.ValueCount{Value: "a", Count: 2}, txt.TopValues[0])

	require.Len(t, res.DateColumns, 1)
	assert.Equal(t, "2024-01-15", res.DateColumns[0].Min)
	assert.Equal(t, "2024-03-11", res.DateColumns[0].Max)

	require.Len(t, res.Quality, 3)
}

func TestFallbackRecommendations(t *testing.T) {
	rows := []models.Row{{"col1": "x"}, {"col1": ""}, {"col1": ""}}
	schema := enrich(t, rows)
	res := NewFallbackAnalyzer(zaptest.NewLogger(t)).Analyze(schema, rows)

	joined := strings.Join(res.Recommendations, "\n")
	assert.Contains(t, joined, "coluna de data")
	assert.Contains(t, joined, "coluna numérica")
	assert.Contains(t, joined, "Amplie a amostra")
	assert.Contains(t, joined, `"col1"`)
	assert.Contains(t, joined, "nomes genéricos")
}

func TestFallbackTextIsNotDomainSpecific(t *testing.T) {
	rows := salesRows(40)
	schema := enrich(t, rows)
	res := NewFallbackAnalyzer(zaptest.NewLogger(t)).Analyze(schema, rows)

	text := res.Summary + "\n" + strings.Join(res.Recommendations, "\n")
	report := NewHallucinationDetector(zaptest.NewLogger(t)).Check(text, DetectionContext{
		Schema:         schema,
		ForbiddenTerms: []string{"receita", "crescimento", "tendência", "lucro"},
	})
	assert.Zero(t, report.TotalViolations)
}

func TestCardinalityHint(t *testing.T) {
	assert.Equal(t, "low", CardinalityHint(10))
	assert.Equal(t, "medium", CardinalityHint(11))
	assert.Equal(t, "medium", CardinalityHint(100))
	assert.Equal(t, "high", CardinalityHint(101))
}

func TestProfileColumn(t *testing.T) {
	rows := []models.Row{{"id": "1"}, {"id": "2"}, {"id": "3"}, {"id": "4"}}
	q := NewDataQualityProfiler().ProfileColumn("id", rows)

	assert.Equal(t, 4, q.NonNullRows)
	assert.Zero(t, q.NullRate)
	assert.Equal(t, 1.0, q.UniquenessRatio)
	assert.True(t, q.IsPrimaryKey)
	assert.InDelta(t, 2.0, q.Entropy, 1e-9)

	rows = append(rows, models.Row{"id": nil})
	q = NewDataQualityProfiler().ProfileColumn("id", rows)
	assert.InDelta(t, 0.2, q.NullRate, 1e-9)
	assert.False(t, q.IsPrimaryKey)
}
