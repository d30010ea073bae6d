package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"Quantidade (Unid.)":    "quantidade",
		"Preço Médio":           "preco_medio",
		"  Data  da   Venda ":   "data_da_venda",
		"valorTotal":            "valor_total",
		"Valor-Total [R$]":      "valor_total",
		"cliente_id":            "cliente_id",
		"CÓDIGO__PRODUTO":       "codigo_produto",
		"Receita Líquida (R$)%": "receita_liquida",
		"":                      "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	for _, in := range []string{"Quantidade (Unid.)", "PREÇO", "valorTotalBruto", "a--b__c", "Ação/Região", "x(y)z"} {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), in)
	}
}

func TestNormalizeIgnoresAccentsAndCase(t *testing.T) {
	assert.Equal(t, Normalize("preco"), Normalize("PREÇO"))
	assert.Equal(t, Normalize("Região"), Normalize("regiao"))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"valor", "total", "venda"}, Tokenize("valorTotal venda"))
	assert.Equal(t, []string{"id", "cliente"}, Tokenize("ID x Cliente"))
}

func TestLevenshteinRatio(t *testing.T) {
	assert.Equal(t, 1.0, LevenshteinRatio("", ""))
	assert.Equal(t, 1.0, LevenshteinRatio("Valor", "valor"))
	assert.InDelta(t, 0.8, LevenshteinRatio("valor", "valer"), 1e-9)
	assert.InDelta(t, 0.875, LevenshteinRatio("clientes", "cliente"), 1e-9)
	assert.Less(t, LevenshteinRatio("data", "produto"), 0.5)
}

func TestFold(t *testing.T) {
	assert.Equal(t, "tendencia de crescimento", Fold("Tendência de Crescimento"))
}
