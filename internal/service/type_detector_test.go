package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"playbook-engine/internal/models"
)

func TestDetectExcelSerial(t *testing.T) {
	det := NewTypeDetector().Detect(stringValues("44197", "44198", "44199"), "")

	assert.Equal(t, models.TypeDate, det.InferredType)
	assert.True(t, det.IsExcelSerial)
	assert.GreaterOrEqual(t, det.Confidence, 90)
}

func TestDetectSmallIntegersAreNotExcelDates(t *testing.T) {
	det := NewTypeDetector().Detect(stringValues("1", "2", "3", "5", "8"), "")

	assert.Equal(t, models.TypeNumeric, det.InferredType)
	assert.False(t, det.IsExcelSerial)
}

func TestDetectDeclaredNumericSkipsExcel(t *testing.T) {
	det := NewTypeDetector().Detect(stringValues("44197", "44198", "44199"), "numeric")

	assert.Equal(t, models.TypeNumeric, det.InferredType)
	assert.False(t, det.IsExcelSerial)
}

func TestDetectCommaDecimals(t *testing.T) {
	det := NewTypeDetector().Detect(stringValues("1,5", "2,3", "10,0"), "")

	assert.Equal(t, models.TypeNumeric, det.InferredType)
	assert.Equal(t, models.SeparatorComma, det.DecimalSeparator)
	assert.Equal(t, 100, det.Confidence)
}

func TestDetectNegatives(t *testing.T) {
	det := NewTypeDetector().Detect(stringValues("-1.5", "2.25", "3.75"), "")

	assert.Equal(t, models.TypeNumeric, det.InferredType)
	assert.True(t, det.HasNegatives)
	assert.Equal(t, models.SeparatorPeriod, det.DecimalSeparator)
}

func TestDetectDates(t *testing.T) {
	det := NewTypeDetector().Detect(stringValues("2024-01-15", "15/02/2024", "2024-03-01"), "")

	assert.Equal(t, models.TypeDate, det.InferredType)
	assert.False(t, det.IsExcelSerial)
}

func TestDetectSentinelDateFallsToText(t *testing.T) {
	det := NewTypeDetector().Detect(stringValues("2024-01-15", "1970-01-01", "2024-03-01"), "")

	assert.Equal(t, models.TypeText, det.InferredType)
}

func TestDetectOutOfRangeYears(t *testing.T) {
	det := NewTypeDetector().Detect(stringValues("2150-01-01", "2160-02-01", "2170-03-01"), "")

	assert.NotEqual(t, models.TypeDate, det.InferredType)
}

func TestDetectBoolean(t *testing.T) {
	det := NewTypeDetector().Detect(stringValues("sim", "não", "sim", "yes", "false"), "")

	assert.Equal(t, models.TypeBoolean, det.InferredType)
}

func TestDetectTextConfidence(t *testing.T) {
	td := NewTypeDetector()
	values := stringValues("norte", "sul", "leste")

	assert.Equal(t, 70, td.Detect(values, "").Confidence)
	assert.Equal(t, 100, td.Detect(values, "text").Confidence)
	assert.Equal(t, 50, td.Detect(values, "numeric").Confidence)
	assert.Equal(t, 0, td.Detect(nil, "").Confidence)
}

func TestSampleSize(t *testing.T) {
	assert.Equal(t, 3, SampleSize(3))
	assert.Equal(t, 10, SampleSize(50))
	assert.Equal(t, 10, SampleSize(1000))
	assert.Equal(t, 25, SampleSize(2500))
}

func TestSampleSkipsNulls(t *testing.T) {
	got := Sample(stringValues("1", "", "null", "2", "N/A"))
	assert.Equal(t, []string{"1", "2"}, got)
}
