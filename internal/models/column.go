package models

// Row is a single dataset record keyed by column name.
type Row = map[string]interface{}

// ColumnType is the inferred semantic type of a column.
type ColumnType string

const (
	TypeDate    ColumnType = "date"
	TypeNumeric ColumnType = "numeric"
	TypeText    ColumnType = "text"
	TypeBoolean ColumnType = "boolean"
)

// Decimal separators reported by numeric detection.
const (
	SeparatorComma  = "comma"
	SeparatorPeriod = "period"
)

// Column describes one dataset column. It is created by the ingestion layer,
// enriched once by the validator and treated as read-only afterwards.
type Column struct {
	Name           string     `json:"name"`
	Type           string     `json:"type,omitempty"`
	InferredType   ColumnType `json:"inferred_type,omitempty"`
	Confidence     int        `json:"confidence"`
	SampleValues   []string   `json:"sample_values,omitempty"`
	ParseErrorsPct float64    `json:"parse_errors_pct"`
	NormalizedName string     `json:"normalized_name,omitempty"`
	CanonicalName  string     `json:"canonical_name,omitempty"`

	IsExcelSerial    bool   `json:"is_excel_serial,omitempty"`
	DecimalSeparator string `json:"decimal_separator,omitempty"`
	HasNegatives     bool   `json:"has_negatives,omitempty"`
}

// TypeDetection is the outcome of running the detection cascade over a sample.
type TypeDetection struct {
	InferredType     ColumnType `json:"inferred_type"`
	Confidence       int        `json:"confidence"`
	ParseErrorsPct   float64    `json:"parse_errors_pct"`
	IsExcelSerial    bool       `json:"is_excel_serial"`
	DecimalSeparator string     `json:"decimal_separator,omitempty"`
	HasNegatives     bool       `json:"has_negatives"`
	SampleSize       int        `json:"sample_size"`
}

// Schema is an ordered column set with name lookups.
type Schema []Column

// Find returns the column whose name, normalized name or canonical name equals name.
func (s Schema) Find(name string) (Column, bool) {
	for _, c := range s {
		if c.Name == name {
			return c, true
		}
	}
	for _, c := range s {
		if name != "" && (c.NormalizedName == name || c.CanonicalName == name) {
			return c, true
		}
	}
	return Column{}, false
}

// Has reports whether a column with exactly this name exists.
func (s Schema) Has(name string) bool {
	for _, c := range s {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// OfType returns the columns with the given inferred type.
func (s Schema) OfType(t ColumnType) []Column {
	var out []Column
	for _, c := range s {
		if c.InferredType == t {
			out = append(out, c)
		}
	}
	return out
}

// Types maps column names to inferred types.
func (s Schema) Types() map[string]ColumnType {
	types := make(map[string]ColumnType, len(s))
	for _, c := range s {
		types[c.Name] = c.InferredType
	}
	return types
}
