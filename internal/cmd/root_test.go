package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playbook-engine/internal/models"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func salesCSV(t *testing.T) string {
	t.Helper()
	cats := []string{"eletronicos", "moda", "casa"}
	var b strings.Builder
	b.WriteString("valor,data,categoria\n")
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&b, "%.1f,2024-%02d-%02d,%s\n", 10.5+float64(i)*20, i%6+1, i%28+1, cats[i%3])
	}
	return writeFile(t, "vendas.csv", b.String())
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := NewRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"analyze", "schema", "check", "playbooks"} {
		assert.True(t, names[want], want)
	}
}

func TestAnalyzeJSON(t *testing.T) {
	out, err := execute(t, "analyze", "--csv", salesCSV(t), "--question", "vendas por categoria", "--json")
	require.NoError(t, err)

	var resp models.AnalysisResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, models.StatusOK, resp.Status)
	require.NotNil(t, resp.Playbook)
	assert.Equal(t, "vendas_desempenho", resp.Playbook.ID)
}

func TestAnalyzeText(t *testing.T) {
	out, err := execute(t, "analyze", "--csv", salesCSV(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Status: OK")
	assert.Contains(t, out, "Playbook: vendas_desempenho (vendas)")
	assert.Contains(t, out, "Summary")
	assert.Contains(t, out, "Limitations")
}

func TestAnalyzeFallbackText(t *testing.T) {
	var b strings.Builder
	b.WriteString("peso,cor\n")
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "%d,%s\n", i, []string{"azul", "verde", "roxo"}[i%3])
	}
	out, err := execute(t, "analyze", "--csv", writeFile(t, "dados.csv", b.String()))
	require.NoError(t, err)
	assert.Contains(t, out, "Status: FALLBACK")
	assert.Contains(t, out, "Exploratory analysis")
	assert.Contains(t, out, "peso: mean 19.50")
}

func TestAnalyzeErrors(t *testing.T) {
	_, err := execute(t, "analyze")
	assert.Error(t, err)

	_, err = execute(t, "analyze", "--csv", filepath.Join(t.TempDir(), "nada.csv"))
	assert.Error(t, err)

	_, err = execute(t, "analyze", "--csv", salesCSV(t), "--playbook", "nada")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nada")
}

func TestSchemaCommand(t *testing.T) {
	out, err := execute(t, "schema", "--csv", salesCSV(t))
	require.NoError(t, err)
	assert.Contains(t, out, "valor")
	assert.Contains(t, out, "numeric")
	assert.Contains(t, out, "vendas_desempenho")
}

func TestCheckCommand(t *testing.T) {
	out, err := execute(t, "check", "--text", "Receita total de 10.")
	require.NoError(t, err)
	assert.Contains(t, out, "No violations")

	out, err = execute(t, "check", "--text", "A margem de lucro subiu.", "--forbidden", "margem de lucro")
	assert.ErrorIs(t, err, ErrNarrativeBlocked)
	assert.Contains(t, out, "forbidden_term")

	text := writeFile(t, "texto.txt", "Ticket médio de 500.")
	_, err = execute(t, "check", "--file", text, "--csv", salesCSV(t), "--playbook", "vendas_desempenho")
	assert.NoError(t, err)

	_, err = execute(t, "check")
	assert.Error(t, err)
}

func TestPlaybooksList(t *testing.T) {
	out, err := execute(t, "playbooks", "list")
	require.NoError(t, err)
	for _, id := range []string{"vendas_desempenho", "estoque_giro", "clientes_comportamento"} {
		assert.Contains(t, out, id)
	}

	out, err = execute(t, "playbooks", "list", "--domain", "estoque")
	require.NoError(t, err)
	assert.Contains(t, out, "estoque_giro")
	assert.NotContains(t, out, "vendas_desempenho")

	out, err = execute(t, "playbooks", "list", "--query", "xyzzy")
	require.NoError(t, err)
	assert.Contains(t, out, "No playbooks found")
}

func TestPlaybooksShow(t *testing.T) {
	out, err := execute(t, "playbooks", "show", "estoque_giro")
	require.NoError(t, err)

	var p map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, "estoque", p["domain"])

	_, err = execute(t, "playbooks", "show", "nada")
	assert.Error(t, err)
}

const validPlaybook = `id: frota_uso
domain: frota
description: Uso da frota
required_columns:
  veiculo: text
  km: numeric
metrics_map:
  km_total:
    formula: km
sections:
  overview:
    - SUM(km) AS km_rodados
    - COUNT(*) AS viagens
`

func TestPlaybooksValidate(t *testing.T) {
	good := writeFile(t, "frota.yaml", validPlaybook)
	out, err := execute(t, "playbooks", "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "frota_uso")

	bad := writeFile(t, "quebrado.json", `{"id": "x", "metrics_map": {"a": {"formula": "b +"}}}`)
	out, err = execute(t, "playbooks", "validate", good, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Contains(t, out, "quebrado.json")
}
