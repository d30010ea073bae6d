package models

import "time"

// GroupResult is one bucket of a grouped aggregation.
type GroupResult struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
	Count int     `json:"count"`
}

// AggregationResult is the output of a FUNC_BY(dimension, metric) query.
type AggregationResult struct {
	Function  string        `json:"function"`
	Dimension string        `json:"dimension"`
	Metric    string        `json:"metric"`
	Groups    []GroupResult `json:"groups"`
	// Dropped counts groups removed by the top/bottom minimum group size.
	Dropped int `json:"dropped,omitempty"`
}

// SectionResult holds everything computed for one active section.
type SectionResult struct {
	Name         string                       `json:"name"`
	Metrics      map[string]float64           `json:"metrics"`
	Aggregations map[string]AggregationResult `json:"aggregations"`
	Rows         []Row                        `json:"rows,omitempty"`
	// Columns lists the dataset columns the section's queries read.
	Columns  []string `json:"columns"`
	Warnings []string `json:"warnings,omitempty"`
}

// ComputedMetric summarises one metric's per-row value array.
type ComputedMetric struct {
	Name    string        `json:"name"`
	Values  []interface{} `json:"-"`
	NonNull int           `json:"non_null"`
	Sum     float64       `json:"sum"`
	Mean    float64       `json:"mean"`
	Min     float64       `json:"min"`
	Max     float64       `json:"max"`
}

// RowError is a per-row formula failure; the cell is set to null and processing continues.
type RowError struct {
	Column   string `json:"column"`
	RowIndex int    `json:"row_index"`
	Error    string `json:"error"`
}

// ExecutionMetadata describes one playbook execution.
type ExecutionMetadata struct {
	AnalysisID       string     `json:"analysis_id"`
	PlaybookID       string     `json:"playbook_id"`
	RowCount         int        `json:"row_count"`
	DerivedColumns   []string   `json:"derived_columns"`
	DerivationErrors []RowError `json:"derivation_errors,omitempty"`
	SectionsExecuted []string   `json:"sections_executed"`
	StartedAt        time.Time  `json:"started_at"`
	DurationMS       int64      `json:"duration_ms"`
	Warnings         []string   `json:"warnings,omitempty"`
}

// StructuredResult is the executor's output.
type StructuredResult struct {
	Sections          map[string]SectionResult  `json:"sections"`
	ComputedMetrics   map[string]ComputedMetric `json:"computed_metrics"`
	ExecutionMetadata ExecutionMetadata         `json:"execution_metadata"`
}
