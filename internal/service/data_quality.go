package service

import (
	"math"

	"playbook-engine/internal/datatype"
	"playbook-engine/internal/models"
)

// DataQualityProfiler computes completeness and diversity metrics per column.
type DataQualityProfiler struct{}

// NewDataQualityProfiler creates a new profiler
func NewDataQualityProfiler() *DataQualityProfiler {
	return &DataQualityProfiler{}
}

// ProfileColumn analyzes quality metrics for a single column
func (dqp *DataQualityProfiler) ProfileColumn(name string, rows []models.Row) models.ColumnQuality {
	profile := models.ColumnQuality{
		Column:    name,
		TotalRows: len(rows),
	}

	uniqueValues := make(map[string]int)
	nonNullCount := 0
	for _, row := range rows {
		value, ok := row[name]
		if !ok || datatype.IsNull(value) {
			continue
		}
		nonNullCount++
		uniqueValues[datatype.ToString(value)]++
	}

	profile.NonNullRows = nonNullCount
	profile.DistinctCount = len(uniqueValues)
	if profile.TotalRows > 0 {
		profile.NullRate = round4(float64(profile.TotalRows-nonNullCount) / float64(profile.TotalRows))
	}
	if nonNullCount > 0 {
		profile.UniquenessRatio = round4(float64(profile.DistinctCount) / float64(nonNullCount))
	}
	profile.Entropy = round4(dqp.calculateEntropy(uniqueValues, nonNullCount))

	// Likely key: nearly all values distinct, nearly no nulls
	profile.IsPrimaryKey = nonNullCount > 1 && profile.UniquenessRatio > 0.95 && profile.NullRate < 0.05
	profile.QualityScore = round4(dqp.calculateQualityScore(profile))
	return profile
}

// ProfileAllColumns profiles every schema column, in schema order.
func (dqp *DataQualityProfiler) ProfileAllColumns(schema models.Schema, rows []models.Row) []models.ColumnQuality {
	profiles := make([]models.ColumnQuality, len(schema))
	for i, c := range schema {
		profiles[i] = dqp.ProfileColumn(c.Name, rows)
	}
	return profiles
}

// calculateEntropy computes Shannon entropy
func (dqp *DataQualityProfiler) calculateEntropy(valueCounts map[string]int, total int) float64 {
	if total == 0 {
		return 0
	}

	entropy := 0.0
	for _, count := range valueCounts {
		if count > 0 {
			p := float64(count) / float64(total)
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

// calculateQualityScore computes overall quality (0-1)
func (dqp *DataQualityProfiler) calculateQualityScore(profile models.ColumnQuality) float64 {
	score := 1.0 - profile.NullRate

	// moderate entropy (around 4 bits) scores best
	idealEntropy := 4.0
	entropyPenalty := math.Abs(profile.Entropy-idealEntropy) / 10.0
	score *= math.Max(0.5, 1.0-entropyPenalty)

	return math.Max(0, math.Min(1, score))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
