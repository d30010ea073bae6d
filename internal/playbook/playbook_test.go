package playbook

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"playbook-engine/internal/formula"
	"playbook-engine/internal/models"
)

func salesPlaybook() *Playbook {
	return &Playbook{
		ID:              "vendas_teste",
		Domain:          "vendas",
		Description:     "Vendas de teste",
		RequiredColumns: map[string]string{"valor": "numeric", "data": "date"},
		OptionalColumns: map[string]string{"categoria": "text"},
		MetricsMap: map[string]*Metric{
			"receita": {Formula: "ABS(valor)"},
			"faixa":   {Deps: []string{"receita"}, Formula: "CASE WHEN receita > 10 THEN 'alto' ELSE 'baixo' END", Type: "text"},
		},
		Sections: map[string][]string{
			"overview":    {"SUM(receita) AS total", "COUNT(*) AS linhas"},
			"by_category": {"SUM_BY(categoria, receita)"},
		},
	}
}

func TestValidatePreparesPlaybook(t *testing.T) {
	p := salesPlaybook()
	require.NoError(t, p.Validate())

	assert.Equal(t, []string{"receita", "faixa"}, p.MetricOrder())
	assert.Equal(t, []string{"valor"}, p.MetricsMap["receita"].Deps)
	assert.Equal(t, models.TypeText, p.MetricsMap["faixa"].ResultType())
	assert.Equal(t, models.TypeNumeric, p.MetricsMap["receita"].ResultType())
	require.Len(t, p.Queries("overview"), 2)
	assert.Equal(t, "total", p.Queries("overview")[0].Key())
	assert.Equal(t, "sum_by_categoria_receita", p.Queries("by_category")[0].Key())
	assert.Empty(t, p.Warnings())
	assert.Equal(t, []string{"by_category", "overview"}, p.SectionNames())
}

func TestValidateRejectsCircularMetrics(t *testing.T) {
	p := salesPlaybook()
	p.MetricsMap = map[string]*Metric{
		"A": {Deps: []string{"B"}, Formula: "B + 1"},
		"B": {Deps: []string{"A"}, Formula: "A * 2"},
	}
	err := p.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.ErrorIs(t, err, formula.ErrCircularDependency)
}

func TestValidateRejectsBadDefinitions(t *testing.T) {
	tests := map[string]func(p *Playbook){
		"missing id":          func(p *Playbook) { p.ID = "" },
		"unknown type":        func(p *Playbook) { p.RequiredColumns["valor"] = "money" },
		"unsafe formula":      func(p *Playbook) { p.MetricsMap["receita"].Formula = "exec('rm -rf /')" },
		"undeclared dep":      func(p *Playbook) { p.MetricsMap["faixa"].Formula = "valor + receita" },
		"bad query":           func(p *Playbook) { p.Sections["overview"] = []string{"SELECT * FROM vendas"} },
		"empty section":       func(p *Playbook) { p.Sections["vazia"] = nil },
		"negative guardrail":  func(p *Playbook) { p.Guardrails.MinRows = -1 },
		"required + optional": func(p *Playbook) { p.OptionalColumns["valor"] = "numeric" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			p := salesPlaybook()
			mutate(p)
			assert.ErrorIs(t, p.Validate(), ErrInvalid)
		})
	}
}

func TestValidateWarnsOnUnknownAggregation(t *testing.T) {
	p := salesPlaybook()
	p.Sections["extra"] = []string{"STDDEV(receita) AS desvio"}
	require.NoError(t, p.Validate())
	assert.Contains(t, p.Warnings(), "vendas_teste: section extra uses unknown aggregation STDDEV")
}

func TestParseQuery(t *testing.T) {
	q, err := ParseQuery("avg(receita) as ticket")
	require.NoError(t, err)
	assert.Equal(t, Query{Raw: "avg(receita) as ticket", Kind: QuerySimple, Func: "AVG", Arg: "receita", Alias: "ticket"}, q)

	q, err = ParseQuery("COUNT(*)")
	require.NoError(t, err)
	assert.Equal(t, "count", q.Key())
	assert.Empty(t, q.Columns())

	q, err = ParseQuery("COUNT_BY(status, *)")
	require.NoError(t, err)
	assert.Equal(t, QueryGrouped, q.Kind)
	assert.Equal(t, "count_by_status", q.Key())
	assert.Equal(t, []string{"status"}, q.Columns())

	q, err = ParseQuery("MEDIAN_BY(`Região`, valor) AS mediana_regiao")
	require.NoError(t, err)
	assert.Equal(t, "Região", q.Dimension)
	assert.Equal(t, "mediana_regiao", q.Key())

	_, err = ParseQuery("SUM(a, b)")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestTypeCompatible(t *testing.T) {
	assert.True(t, TypeCompatible("numeric", models.TypeNumeric))
	assert.True(t, TypeCompatible("categorical", models.TypeText))
	assert.True(t, TypeCompatible("text", models.TypeBoolean))
	assert.True(t, TypeCompatible("any", models.TypeDate))
	assert.False(t, TypeCompatible("numeric", models.TypeText))
	assert.False(t, TypeCompatible("date", models.TypeNumeric))
	assert.False(t, TypeCompatible("money", models.TypeNumeric))
}

func TestLoadCatalogEmbedded(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)

	ids := []string{}
	for _, p := range c.All() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"clientes_comportamento", "estoque_giro", "vendas_desempenho"}, ids)
	assert.Empty(t, c.Warnings())

	p, err := c.Get("vendas_desempenho")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"valor": "numeric", "data": "date"}, p.RequiredColumns)
	assert.Contains(t, p.Sections, "temporal_trend")
	assert.Contains(t, p.Sections, "relationship")

	_, err = c.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Len(t, c.ByDomain("Estoque"), 1)
	assert.Empty(t, c.ByDomain("rh"))

	found := c.Search("qual o ticket médio das vendas?")
	require.NotEmpty(t, found)
	assert.Equal(t, "vendas_desempenho", found[0].ID)
}

func TestLoadCatalogDirectoryOverrides(t *testing.T) {
	dir := t.TempDir()
	yamlDef := `
id: rh_folha
domain: rh
description: Folha de pagamento
required_columns:
  salario: numeric
metrics_map:
  salario_abs:
    formula: ABS(salario)
sections:
  overview:
    - AVG(salario_abs) AS salario_medio
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rh.yaml"), []byte(yamlDef), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	c, err := LoadCatalog(dir)
	require.NoError(t, err)
	p, err := c.Get("rh_folha")
	require.NoError(t, err)
	assert.Equal(t, []string{"salario"}, p.MetricsMap["salario_abs"].Deps)
	assert.Len(t, c.All(), 4)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"id": "x", "sections": {"s": ["NOPE"]}}`), 0o644))
	_, err = LoadCatalog(dir)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestFindCompatibleUsesDiscoveryThreshold(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)

	scores := map[string]int{"vendas_desempenho": 75, "estoque_giro": 59, "clientes_comportamento": 90}
	found := c.FindCompatible(scores, CandidateMinScore)
	require.Len(t, found, 2)
	assert.Equal(t, "clientes_comportamento", found[0].ID)
	assert.Equal(t, "vendas_desempenho", found[1].ID)

	assert.Less(t, CandidateMinScore, AcceptanceMinScore)
}

func TestRegistryCachesCatalog(t *testing.T) {
	loads := 0
	r := NewRegistryWithLoader(func(ctx context.Context) (*Catalog, error) {
		loads++
		return NewCatalog(salesPlaybook())
	}, 0, zaptest.NewLogger(t))

	ctx := context.Background()
	p, err := r.Get(ctx, "vendas_teste")
	require.NoError(t, err)
	assert.Equal(t, "vendas", p.Domain)

	_, err = r.Search(ctx, "vendas")
	require.NoError(t, err)
	assert.Equal(t, 1, loads)

	r.Invalidate()
	assert.True(t, r.IsStale())
	_, err = r.ByDomain(ctx, "vendas")
	require.NoError(t, err)
	assert.Equal(t, 2, loads)

	_, err = r.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, loads)
}
