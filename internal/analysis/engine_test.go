package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"playbook-engine/internal/config"
	"playbook-engine/internal/models"
	"playbook-engine/internal/playbook"
)

type stubRewriter struct {
	text  string
	err   error
	calls int
	facts []string
}

func (s *stubRewriter) Rewrite(_ context.Context, _ string, facts []string) (string, error) {
	s.calls++
	s.facts = facts
	return s.text, s.err
}

func newEngine(t *testing.T, rw NarrativeRewriter) *Engine {
	t.Helper()
	e, err := NewEngine(Options{Rewriter: rw, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return e
}

func disabledByName(sections []models.DisabledSection, name string) (models.DisabledSection, bool) {
	for _, d := range sections {
		if d.Name == name {
			return d, true
		}
	}
	return models.DisabledSection{}, false
}

func TestAnalyzeSalesDataset(t *testing.T) {
	e := newEngine(t, nil)
	resp, err := e.Analyze(context.Background(), Request{
		Rows:     salesRows(50),
		Question: "Como estão as vendas por categoria?",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusOK, resp.Status)
	require.NotNil(t, resp.Playbook)
	assert.Equal(t, "vendas_desempenho", resp.Playbook.ID)
	assert.True(t, resp.Compatibility.Compatible)
	assert.NotEmpty(t, resp.Candidates)

	require.NotNil(t, resp.Plan)
	assert.True(t, resp.Plan.IsActive("temporal_trend"))
	assert.True(t, resp.Plan.IsActive("by_category"))
	rel, ok := disabledByName(resp.Plan.DisabledSections, "relationship")
	require.True(t, ok)
	assert.Equal(t, "segunda coluna numérica", rel.MissingRequirement)

	require.NotNil(t, resp.Result)
	assert.Contains(t, resp.Result.Sections, "temporal_trend")
	assert.Contains(t, resp.Result.Sections, "by_category")
	assert.NotContains(t, resp.Result.Sections, "relationship")
	assert.Equal(t, resp.AnalysisID, resp.Result.ExecutionMetadata.AnalysisID)

	require.NotNil(t, resp.Narrative)
	assert.Nil(t, resp.Blocked)
	assert.NotEmpty(t, resp.Narrative.KeyFindings)
	assert.Empty(t, resp.Narrative.ValidationErrors)
	found := false
	for _, l := range resp.Narrative.Limitations {
		if strings.Contains(l, "relationship") {
			found = true
		}
	}
	assert.True(t, found, "relationship limitation missing: %v", resp.Narrative.Limitations)

	require.NotNil(t, resp.Hallucination)
	assert.Zero(t, resp.Hallucination.TotalViolations, "%+v", resp.Hallucination.Violations)
	assert.Equal(t, resp.Plan.Confidence, resp.Confidence)
}

func TestAnalyzeFallsBackWithoutCompatiblePlaybook(t *testing.T) {
	rows := make([]models.Row, 40)
	for i := range rows {
		rows[i] = models.Row{"peso": float64(i), "cor": categories[i%3]}
	}
	resp, err := newEngine(t, nil).Analyze(context.Background(), Request{Rows: rows, Question: "o que há nestes dados?"})
	require.NoError(t, err)

	assert.Equal(t, models.StatusFallback, resp.Status)
	assert.Nil(t, resp.Playbook)
	assert.Nil(t, resp.Narrative)
	require.NotNil(t, resp.Fallback)
	assert.Equal(t, 40, resp.Fallback.RowCount)
	require.Len(t, resp.Fallback.NumericColumns, 1)
	assert.Equal(t, "peso", resp.Fallback.NumericColumns[0].Column)
}

func TestAnalyzeBlocksRewrittenSummaryWithForbiddenTerm(t *testing.T) {
	rw := &stubRewriter{text: "As vendas cresceram e a margem de lucro subiu."}
	resp, err := newEngine(t, rw).Analyze(context.Background(), Request{Rows: salesRows(50)})
	require.NoError(t, err)

	assert.Equal(t, 1, rw.calls)
	assert.NotEmpty(t, rw.facts)
	assert.Equal(t, models.StatusBlocked, resp.Status)
	assert.Nil(t, resp.Narrative)
	require.NotNil(t, resp.Blocked)
	require.NotEmpty(t, resp.Blocked.CriticalViolations)
	assert.Equal(t, "margem de lucro", resp.Blocked.CriticalViolations[0].Term)
	assert.Contains(t, resp.Blocked.Message, "margem de lucro")
	assert.Equal(t, resp.Plan.Confidence-20, resp.Confidence)
}

func TestAnalyzeKeepsSummaryWhenRewriteFails(t *testing.T) {
	rw := &stubRewriter{err: errors.New("connection refused")}
	resp, err := newEngine(t, rw).Analyze(context.Background(), Request{Rows: salesRows(50)})
	require.NoError(t, err)

	assert.Equal(t, models.StatusOK, resp.Status)
	assert.True(t, strings.HasPrefix(resp.Narrative.ExecutiveSummary, "Análise de vendas"))
}

func TestAnalyzeRestrictsToRequestedPlaybook(t *testing.T) {
	e := newEngine(t, nil)

	_, err := e.Analyze(context.Background(), Request{Rows: salesRows(50), PlaybookID: "nao_existe"})
	assert.True(t, errors.Is(err, playbook.ErrNotFound))

	resp, err := e.Analyze(context.Background(), Request{Rows: salesRows(50), PlaybookID: "estoque_giro"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFallback, resp.Status)
	for _, c := range resp.Candidates {
		assert.Equal(t, "estoque_giro", c.PlaybookID)
	}
}

func TestAnalyzeRejectsEmptyDataset(t *testing.T) {
	_, err := newEngine(t, nil).Analyze(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestCheckNarrativeWithPlaybook(t *testing.T) {
	e := newEngine(t, nil)
	schema, err := e.EnrichSchema(context.Background(), nil, salesRows(30))
	require.NoError(t, err)

	report, err := e.CheckNarrative(context.Background(), "O produto mais vendido foi a TV.", schema, 30, nil, "vendas_desempenho")
	require.NoError(t, err)
	assert.True(t, report.ShouldBlock)

	report, err = e.CheckNarrative(context.Background(), "A seção temporal_trend cobre seis meses.", schema, 30, nil, "vendas_desempenho")
	require.NoError(t, err)
	assert.Zero(t, report.TotalViolations)
}

func TestCheckNarrativeFlagsMetricsThePlanCannotBack(t *testing.T) {
	e := newEngine(t, nil)
	schema, err := e.EnrichSchema(context.Background(), []models.Column{{Name: "produto"}}, nil)
	require.NoError(t, err)

	report, err := e.CheckNarrative(context.Background(), "A média de preco_unitario foi 12 por produto.", schema, 0, nil, "vendas_desempenho")
	require.NoError(t, err)
	require.Equal(t, 1, report.TotalViolations, "%+v", report.Violations)
	assert.Equal(t, models.ViolationUnmetMetric, report.Violations[0].Type)
	assert.Equal(t, "preco_unitario", report.Violations[0].Term)

	_, err = e.CheckNarrative(context.Background(), "texto", schema, 0, nil, "nada")
	assert.ErrorIs(t, err, playbook.ErrNotFound)
}

func TestAnalyzeFlagsAliasOfDisabledSection(t *testing.T) {
	rw := &stubRewriter{text: "A média de quantidade_media foi 5 unidades por pedido."}
	resp, err := newEngine(t, rw).Analyze(context.Background(), Request{Rows: salesRows(50)})
	require.NoError(t, err)

	assert.False(t, resp.Plan.IsActive("relationship"))
	require.NotNil(t, resp.Hallucination)
	require.Equal(t, 1, resp.Hallucination.TotalViolations, "%+v", resp.Hallucination.Violations)
	v := resp.Hallucination.Violations[0]
	assert.Equal(t, models.ViolationUnknownColumn, v.Type)
	assert.Equal(t, "quantidade_media", v.Term)
	assert.Equal(t, resp.Plan.Confidence-10, resp.Confidence)
}

func TestValidateSchemaScoresEveryPlaybook(t *testing.T) {
	res, err := newEngine(t, nil).ValidateSchema(context.Background(), nil, salesRows(30))
	require.NoError(t, err)

	assert.Len(t, res.Schema, 3)
	require.Len(t, res.Compatibility, 3)
	assert.Equal(t, "vendas_desempenho", res.Compatibility[0].PlaybookID)
	assert.True(t, res.Compatibility[0].Compatible)
}

func TestOrderCandidatesBreaksTiesByQuestion(t *testing.T) {
	a := &playbook.Playbook{ID: "a", Domain: "estoque"}
	b := &playbook.Playbook{ID: "b", Domain: "vendas"}
	c := &playbook.Playbook{ID: "c", Domain: "clientes"}
	list := []*playbook.Playbook{a, b, c}

	orderCandidates(list, map[string]int{"a": 80, "b": 80, "c": 90}, "quero ver as vendas")
	assert.Equal(t, []string{"c", "b", "a"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.Enabled = true
	e, err := FromConfig(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NotNil(t, e.rewriter)

	cat, err := e.Registry().Catalog(context.Background())
	require.NoError(t, err)
	assert.Len(t, cat.All(), 3)

	cfg.LLM.Enabled = false
	e, err = FromConfig(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, e.rewriter)
}
