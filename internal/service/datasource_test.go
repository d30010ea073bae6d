package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnString(t *testing.T) {
	cfg := DataSourceConfig{Host: "db", User: "u", Password: "p", DBName: "vendas"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=vendas sslmode=disable", cfg.ConnString())

	cfg.Port, cfg.SSLMode = 6543, "require"
	assert.Equal(t, "host=db port=6543 user=u password=p dbname=vendas sslmode=require", cfg.ConnString())

	cfg.DSN = "postgres://u@db/vendas"
	assert.Equal(t, "postgres://u@db/vendas", cfg.ConnString())
}

func TestDeclaredType(t *testing.T) {
	tests := map[string]string{
		"int4":        "numeric",
		"NUMERIC":     "numeric",
		"timestamptz": "date",
		"BOOL":        "boolean",
		"VARCHAR":     "text",
		"JSONB":       "",
	}
	for in, want := range tests {
		assert.Equal(t, want, DeclaredType(in), in)
	}
}

func TestPostgresDataSourceRequiresConnection(t *testing.T) {
	ds := NewPostgresDataSource(nil)
	assert.False(t, ds.Connected())
	assert.NoError(t, ds.Close())

	_, err := ds.ListTables(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")

	_, _, err = ds.PreviewData(context.Background(), "vendas", 10)
	assert.Error(t, err)
}
