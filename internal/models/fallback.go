package models

// NumericStats describes a numeric column in the exploratory fallback.
type NumericStats struct {
	Column      string  `json:"column"`
	Count       int     `json:"count"`
	Mean        float64 `json:"mean"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	StdDev      float64 `json:"stddev"`
	UniqueCount int     `json:"unique_count"`
}

// ValueCount is a value and how many rows carry it.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// TextStats describes a text or boolean column in the exploratory fallback.
type TextStats struct {
	Column      string       `json:"column"`
	UniqueCount int          `json:"unique_count"`
	Cardinality string       `json:"cardinality"`
	TopValues   []ValueCount `json:"top_values"`
}

// DateStats describes a date column in the exploratory fallback.
type DateStats struct {
	Column string `json:"column"`
	Count  int    `json:"count"`
	Min    string `json:"min"`
	Max    string `json:"max"`
}

// ColumnQuality is a per-column completeness/diversity profile.
type ColumnQuality struct {
	Column          string  `json:"column"`
	TotalRows       int     `json:"total_rows"`
	NonNullRows     int     `json:"non_null_rows"`
	NullRate        float64 `json:"null_rate"`
	DistinctCount   int     `json:"distinct_count"`
	UniquenessRatio float64 `json:"uniqueness_ratio"`
	Entropy         float64 `json:"entropy"`
	IsPrimaryKey    bool    `json:"is_primary_key"`
	QualityScore    float64 `json:"quality_score"`
}

// FallbackAnalysisResult is the schema-only descriptive analysis used when no playbook qualifies.
type FallbackAnalysisResult struct {
	RowCount        int             `json:"row_count"`
	ColumnCount     int             `json:"column_count"`
	Summary         string          `json:"summary"`
	NumericColumns  []NumericStats  `json:"numeric_columns"`
	TextColumns     []TextStats     `json:"text_columns"`
	DateColumns     []DateStats     `json:"date_columns"`
	Quality         []ColumnQuality `json:"quality"`
	Recommendations []string        `json:"recommendations"`
}
