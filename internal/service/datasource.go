package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"playbook-engine/internal/models"
)

// ErrUnknownTable is returned when a preview names a table that ListTables does not report.
var ErrUnknownTable = errors.New("unknown table")

// MaxPreviewRows bounds how many rows a table preview loads.
const MaxPreviewRows = 10000

// DataSourceConfig holds connection details
type DataSourceConfig struct {
	// DSN wins over the individual fields when set.
	DSN      string `json:"dsn,omitempty"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"` // "disable", "require"
}

// ConnString renders the lib/pq connection string.
func (c DataSourceConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.User, c.Password, c.DBName, sslMode)
}

// DataSource produces rows and a declared schema for the engine.
type DataSource interface {
	Connect(ctx context.Context, config DataSourceConfig) error
	Close() error
	ListTables(ctx context.Context) ([]string, error)
	PreviewData(ctx context.Context, tableName string, limit int) ([]models.Row, []models.Column, error)
}

// PostgresDataSource implements DataSource for PostgreSQL
type PostgresDataSource struct {
	db *sql.DB
}

// NewPostgresDataSource wraps an open database handle.
func NewPostgresDataSource(db *sql.DB) *PostgresDataSource {
	return &PostgresDataSource{db: db}
}

func (p *PostgresDataSource) Connect(ctx context.Context, config DataSourceConfig) error {
	db, err := sql.Open("postgres", config.ConnString())
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}
	p.db = db
	return nil
}

// Connected reports whether Connect succeeded.
func (p *PostgresDataSource) Connected() bool { return p.db != nil }

func (p *PostgresDataSource) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *PostgresDataSource) ListTables(ctx context.Context) ([]string, error) {
	if p.db == nil {
		return nil, fmt.Errorf("list tables: not connected")
	}
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public'
		ORDER BY table_name;
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, err
		}
		tables = append(tables, tableName)
	}
	return tables, rows.Err()
}

// PreviewData loads up to limit rows of a public table. The name must be one that
// ListTables reports and is quoted before use.
func (p *PostgresDataSource) PreviewData(ctx context.Context, tableName string, limit int) ([]models.Row, []models.Column, error) {
	tables, err := p.ListTables(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !contains(tables, tableName) {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownTable, tableName)
	}
	if limit <= 0 || limit > MaxPreviewRows {
		limit = MaxPreviewRows
	}

	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", pq.QuoteIdentifier(tableName), limit)
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("preview %s: %w", tableName, err)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, err
	}
	schema := make([]models.Column, len(colTypes))
	for i, ct := range colTypes {
		schema[i] = models.Column{Name: ct.Name(), Type: DeclaredType(ct.DatabaseTypeName())}
	}

	var result []models.Row
	for rows.Next() {
		values := make([]interface{}, len(colTypes))
		valuePtrs := make([]interface{}, len(colTypes))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, nil, err
		}

		row := make(models.Row, len(colTypes))
		for i, c := range schema {
			// drivers hand text and numeric back as []byte
			if b, ok := values[i].([]byte); ok {
				row[c.Name] = string(b)
			} else {
				row[c.Name] = values[i]
			}
		}
		result = append(result, row)
	}
	return result, schema, rows.Err()
}

// DeclaredType maps a Postgres type name to a declared column type.
func DeclaredType(dbType string) string {
	switch strings.ToUpper(dbType) {
	case "INT2", "INT4", "INT8", "NUMERIC", "FLOAT4", "FLOAT8", "MONEY":
		return "numeric"
	case "DATE", "TIMESTAMP", "TIMESTAMPTZ":
		return "date"
	case "BOOL":
		return "boolean"
	case "TEXT", "VARCHAR", "BPCHAR", "CHAR", "NAME", "UUID":
		return "text"
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
