package service

import (
	"math"
	"sort"
	"strings"
	"time"

	"playbook-engine/internal/datatype"
	"playbook-engine/internal/models"
)

// Acceptance ratios of the detection cascade.
const (
	excelSerialAcceptance = 0.90
	dateAcceptance        = 0.85
	numericMaxErrorRate   = 0.30
	booleanAcceptance     = 0.90
	minSampleSize         = 10

	// Integer columns whose median is below this are treated as numbers, not Excel dates.
	excelSerialMinMedian = 20000
)

// Dates that indicate a default or broken value rather than a real observation.
var sentinelDates = map[string]bool{
	"1970-01-01": true,
	"0001-01-01": true,
	"1900-01-01": true,
}

// TypeDetector infers the semantic type of a column from a sample of its values.
type TypeDetector struct{}

// NewTypeDetector creates a TypeDetector.
func NewTypeDetector() *TypeDetector {
	return &TypeDetector{}
}

// SampleSize is max(10, ceil(1% of n)), never more than n.
func SampleSize(n int) int {
	k := int(math.Ceil(float64(n) * 0.01))
	if k < minSampleSize {
		k = minSampleSize
	}
	if k > n {
		k = n
	}
	return k
}

// Sample picks SampleSize evenly spaced non-null values.
func Sample(values []string) []string {
	var nonNull []string
	for _, v := range values {
		if !datatype.IsNull(v) {
			nonNull = append(nonNull, strings.TrimSpace(v))
		}
	}
	k := SampleSize(len(nonNull))
	if k == len(nonNull) {
		return nonNull
	}
	out := make([]string, k)
	step := float64(len(nonNull)) / float64(k)
	for i := 0; i < k; i++ {
		out[i] = nonNull[int(float64(i)*step)]
	}
	return out
}

// Detect runs the cascade Excel serial -> date -> numeric -> boolean -> text.
func (td *TypeDetector) Detect(values []string, declared string) models.TypeDetection {
	sample := Sample(values)
	if len(sample) == 0 {
		return models.TypeDetection{InferredType: models.TypeText, Confidence: 0}
	}

	if !declaredNumeric(declared) {
		if det, ok := td.detectExcelSerial(sample); ok {
			return det
		}
	}
	det, ok, sentinel := td.detectDate(sample)
	if ok {
		return det
	}
	if !sentinel {
		if det, ok := td.detectNumeric(sample); ok {
			return det
		}
		if det, ok := td.detectBoolean(sample); ok {
			return det
		}
	}
	return td.text(sample, declared)
}

func (td *TypeDetector) detectExcelSerial(sample []string) (models.TypeDetection, bool) {
	var serials []int
	for _, v := range sample {
		if n, ok := datatype.ParseExcelSerial(v); ok {
			serials = append(serials, n)
		}
	}
	pct := ratio(len(serials), len(sample))
	if pct < excelSerialAcceptance || median(serials) < excelSerialMinMedian {
		return models.TypeDetection{}, false
	}
	return models.TypeDetection{
		InferredType:   models.TypeDate,
		Confidence:     percent(pct),
		ParseErrorsPct: round2((1 - pct) * 100),
		IsExcelSerial:  true,
		SampleSize:     len(sample),
	}, true
}

// detectDate reports (detection, accepted, sentinelSeen).
func (td *TypeDetector) detectDate(sample []string) (models.TypeDetection, bool, bool) {
	parsed := 0
	for _, v := range sample {
		t, ok := datatype.ParseDate(v)
		if !ok {
			continue
		}
		if sentinelDates[t.Format("2006-01-02")] {
			return models.TypeDetection{}, false, true
		}
		if t.Year() <= 1900 || t.Year() >= 2100 {
			continue
		}
		parsed++
	}
	pct := ratio(parsed, len(sample))
	if pct < dateAcceptance {
		return models.TypeDetection{}, false, false
	}
	return models.TypeDetection{
		InferredType:   models.TypeDate,
		Confidence:     percent(pct),
		ParseErrorsPct: round2((1 - pct) * 100),
		SampleSize:     len(sample),
	}, true, false
}

func (td *TypeDetector) detectNumeric(sample []string) (models.TypeDetection, bool) {
	parsed, comma, period := 0, 0, 0
	negatives := false
	for _, v := range sample {
		p, ok := datatype.ParseNumber(v)
		if !ok {
			continue
		}
		parsed++
		switch p.Separator {
		case models.SeparatorComma:
			comma++
		case models.SeparatorPeriod:
			period++
		}
		if p.Value < 0 {
			negatives = true
		}
	}
	errRate := 1 - ratio(parsed, len(sample))
	if errRate >= numericMaxErrorRate {
		return models.TypeDetection{}, false
	}
	sep := ""
	switch {
	case comma > period:
		sep = models.SeparatorComma
	case period > 0:
		sep = models.SeparatorPeriod
	}
	return models.TypeDetection{
		InferredType:     models.TypeNumeric,
		Confidence:       percent(1 - errRate),
		ParseErrorsPct:   round2(errRate * 100),
		DecimalSeparator: sep,
		HasNegatives:     negatives,
		SampleSize:       len(sample),
	}, true
}

func (td *TypeDetector) detectBoolean(sample []string) (models.TypeDetection, bool) {
	matched := 0
	for _, v := range sample {
		if _, ok := datatype.ParseBool(v); ok {
			matched++
		}
	}
	pct := ratio(matched, len(sample))
	if pct < booleanAcceptance {
		return models.TypeDetection{}, false
	}
	return models.TypeDetection{
		InferredType:   models.TypeBoolean,
		Confidence:     percent(pct),
		ParseErrorsPct: round2((1 - pct) * 100),
		SampleSize:     len(sample),
	}, true
}

func (td *TypeDetector) text(sample []string, declared string) models.TypeDetection {
	conf := 70
	switch strings.ToLower(strings.TrimSpace(declared)) {
	case "text", "string", "categorical", "varchar":
		conf = 100
	case "":
	default:
		conf = 50
	}
	return models.TypeDetection{InferredType: models.TypeText, Confidence: conf, SampleSize: len(sample)}
}

// ParseDateValue converts a cell of a date column to a time, handling Excel serials.
func ParseDateValue(v interface{}, excelSerial bool) (time.Time, bool) {
	if t, ok := v.(time.Time); ok {
		return t, true
	}
	s := datatype.ToString(v)
	if excelSerial {
		if n, ok := datatype.ParseExcelSerial(s); ok {
			return datatype.ExcelSerialToDate(n), true
		}
	}
	return datatype.ParseDate(s)
}

func declaredNumeric(declared string) bool {
	switch strings.ToLower(strings.TrimSpace(declared)) {
	case "numeric", "number", "float", "int", "integer", "decimal", "double", "bigint":
		return true
	}
	return false
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func percent(r float64) int {
	return int(math.Round(r * 100))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func median(vals []int) int {
	if len(vals) == 0 {
		return 0
	}
	s := append([]int(nil), vals...)
	sort.Ints(s)
	return s[len(s)/2]
}
