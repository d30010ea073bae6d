package analysis

import (
	"math"
	"sort"

	"playbook-engine/internal/datatype"
	"playbook-engine/internal/models"
	"playbook-engine/internal/service"
)

// monthLayout buckets date dimensions by calendar month.
const monthLayout = "2006-01"

// Aggregate applies an aggregation function to a value set. Empty input yields 0.
// The second result is false for an unknown function.
func Aggregate(fn string, values []float64) (float64, bool) {
	switch fn {
	case "COUNT":
		return float64(len(values)), true
	case "SUM":
		return sum(values), true
	case "AVG":
		if len(values) == 0 {
			return 0, true
		}
		return sum(values) / float64(len(values)), true
	case "MIN":
		if len(values) == 0 {
			return 0, true
		}
		m := values[0]
		for _, v := range values[1:] {
			m = math.Min(m, v)
		}
		return m, true
	case "MAX":
		if len(values) == 0 {
			return 0, true
		}
		m := values[0]
		for _, v := range values[1:] {
			m = math.Max(m, v)
		}
		return m, true
	case "MEDIAN":
		return median(values), true
	}
	return 0, false
}

func sum(values []float64) float64 {
	s := 0.0
	for _, v := range values {
		s += v
	}
	return s
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// numericValues collects the non-null numeric values of a column.
func numericValues(rows []models.Row, column string) []float64 {
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		v, ok := r[column]
		if !ok || datatype.IsNull(v) {
			continue
		}
		if f, ok := datatype.ToFloat(v); ok {
			out = append(out, f)
		}
	}
	return out
}

// countNonNull counts rows where column holds a value.
func countNonNull(rows []models.Row, column string) int {
	n := 0
	for _, r := range rows {
		if v, ok := r[column]; ok && !datatype.IsNull(v) {
			n++
		}
	}
	return n
}

type group struct {
	key  string
	rows []models.Row
}

// groupRows splits rows by the dimension's value, keeping first-seen order. Rows
// with a null dimension are skipped. Date dimensions are bucketed by month.
func groupRows(rows []models.Row, dim models.Column) []group {
	index := map[string]int{}
	var groups []group
	for _, r := range rows {
		v, ok := r[dim.Name]
		if !ok || datatype.IsNull(v) {
			continue
		}
		key, ok := dimensionKey(v, dim)
		if !ok {
			continue
		}
		i, seen := index[key]
		if !seen {
			i = len(groups)
			index[key] = i
			groups = append(groups, group{key: key})
		}
		groups[i].rows = append(groups[i].rows, r)
	}
	return groups
}

func dimensionKey(v interface{}, dim models.Column) (string, bool) {
	if dim.InferredType == models.TypeDate {
		t, ok := service.ParseDateValue(v, dim.IsExcelSerial)
		if !ok {
			return "", false
		}
		return t.Format(monthLayout), true
	}
	return datatype.ToString(v), true
}

// sortGroups orders groups by value descending, ties broken by key, so the first
// group is always the largest one.
func sortGroups(groups []models.GroupResult) {
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Value != groups[j].Value {
			return groups[i].Value > groups[j].Value
		}
		return groups[i].Key < groups[j].Key
	})
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
