package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"playbook-engine/internal/models"
	"playbook-engine/internal/playbook"
)

var categories = []string{"eletronicos", "moda", "casa"}

// salesRows builds n rows of {valor, data, categoria} spread over six months.
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

func salesPlaybook(t *testing.T) *playbook.Playbook {
	t.Helper()
	cat, err := playbook.LoadCatalog("")
	require.NoError(t, err)
	p, err := cat.Get("vendas_desempenho")
	require.NoError(t, err)
	return p
}

func enrich(t *testing.T, rows []models.Row) models.Schema {
	t.Helper()
	return NewSchemaValidator(nil, zaptest.NewLogger(t)).Enrich(nil, rows)
}

func stringValues(vals ...string) []string { return vals }
