package analysis

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"playbook-engine/internal/formula"
	"playbook-engine/internal/models"
	"playbook-engine/internal/playbook"
	"playbook-engine/internal/service"
)

var categories = []string{"eletronicos", "moda", "casa"}

// salesRows builds n rows of {valor, data, categoria}; valor is 10.5 + 20*i.
func salesRows(n int) []models.Row {
	rows := make([]models.Row, n)
	for i := 0; i < n; i++ {
		rows[i] = models.Row{
			"valor":     10.5 + float64(i)*20,
			"data":      fmt.Sprintf("2024-%02d-%02d", i%6+1, i%28+1),
			"categoria": categories[i%3],
		}
	}
	return rows
}

func catalogPlaybook(t *testing.T, id string) *playbook.Playbook {
	t.Helper()
	cat, err := playbook.LoadCatalog("")
	require.NoError(t, err)
	p, err := cat.Get(id)
	require.NoError(t, err)
	return p
}

// prepare enriches the rows, plans p over them and applies the derivations.
func prepare(t *testing.T, p *playbook.Playbook, rows []models.Row) ExecutionInput {
	t.Helper()
	logger := zaptest.NewLogger(t)
	schema := service.NewSchemaValidator(nil, logger).Enrich(nil, rows)
	plan, err := service.NewSemanticPlanner(nil, logger).Plan(p, schema, len(rows))
	require.NoError(t, err)
	derived, rowErrors, err := formula.NewDeriveEngine(logger).Apply(rows, plan.Derivations)
	require.NoError(t, err)
	return ExecutionInput{
		Playbook:         p,
		Plan:             plan,
		Schema:           schema,
		Rows:             derived,
		ActiveSections:   plan.ActiveSections,
		DerivationErrors: rowErrors,
	}
}
