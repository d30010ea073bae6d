// Package datatype parses raw cell values (numbers with either decimal separator,
// dates, booleans) the same way for type detection, formula evaluation and aggregation.
package datatype

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayouts are tried in order when parsing a date value.
var DateLayouts = []string{
	"2006-01-02",          // ISO: 2024-01-15
	"02/01/2006",          // BR/EU: 15/01/2024
	"01/02/2006",          // US: 01/15/2024
	"2006/01/02",          // Alt ISO
	"02-01-2006",          // 15-01-2024
	"02.01.2006",          // 15.01.2024
	"02-Jan-2006",         // Text: 15-Jan-2024
	"January 2, 2006",     // Full text
	"Jan 2, 2006",         // Short text
	time.RFC3339,          // With time
	"2006-01-02T15:04:05", // ISO without zone
	"2006-01-02 15:04:05", // SQL datetime
	"02/01/2006 15:04:05", // BR datetime
	"02/01/2006 15:04",    // BR datetime without seconds
}

// ExcelEpoch is day zero of the Excel serial date system (with the 1900 leap-year bug folded in).
var ExcelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// Excel serial bounds accepted by detection.
const (
	ExcelSerialMin = 1
	ExcelSerialMax = 60000
)

var (
	currencyPattern = regexp.MustCompile(`(?i)(r\$|us\$|\$|€|£|¥|₹|%|\s)`)
	thousandsDot    = regexp.MustCompile(`^-?\d{1,3}(\.\d{3})+$`)
	thousandsComma  = regexp.MustCompile(`^-?\d{1,3}(,\d{3}){2,}$`)
	plainNumber     = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)
	trueTokens      = map[string]bool{"true": true, "sim": true, "yes": true, "verdadeiro": true, "s": true, "y": true, "1": true, "t": true, "v": true}
	falseTokens     = map[string]bool{"false": true, "nao": true, "não": true, "no": true, "falso": true, "n": true, "0": true, "f": true}
	nullTokens      = map[string]bool{"": true, "null": true, "none": true, "nan": true, "n/a": true, "na": true, "-": true, "nil": true, "undefined": true}
)

// NumberParse is the outcome of parsing a numeric string.
type NumberParse struct {
	Value float64
	// Separator is the decimal separator that was used, or "" when the value had none.
	Separator string
}

// ParseNumber parses numbers written with either comma or period decimals
// ("1,5", "1.234,56", "1,234.56", "R$ 10,00", "-3.2").
func ParseNumber(value string) (NumberParse, bool) {
	s := currencyPattern.ReplaceAllString(strings.TrimSpace(value), "")
	if s == "" {
		return NumberParse{}, false
	}
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = "-" + s[1:len(s)-1]
	}

	hasComma := strings.Contains(s, ",")
	hasDot := strings.Contains(s, ".")
	sep := ""

	switch {
	case hasComma && hasDot:
		// The right-most separator is the decimal one.
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
			sep = "comma"
		} else {
			s = strings.ReplaceAll(s, ",", "")
			sep = "period"
		}
	case hasComma:
		if thousandsComma.MatchString(s) {
			s = strings.ReplaceAll(s, ",", "")
		} else if strings.Count(s, ",") == 1 {
			s = strings.Replace(s, ",", ".", 1)
			sep = "comma"
		} else {
			return NumberParse{}, false
		}
	case hasDot:
		if thousandsDot.MatchString(s) && strings.Count(s, ".") > 1 {
			s = strings.ReplaceAll(s, ".", "")
		} else if strings.Count(s, ".") == 1 {
			sep = "period"
		} else {
			return NumberParse{}, false
		}
	}

	if !plainNumber.MatchString(s) {
		return NumberParse{}, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return NumberParse{}, false
	}
	return NumberParse{Value: f, Separator: sep}, true
}

// ParseDate tries every layout in DateLayouts and returns the first successful parse.
// Year range checks are left to the caller.
func ParseDate(value string) (time.Time, bool) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ExcelSerialToDate converts an Excel day serial to a UTC date.
func ExcelSerialToDate(serial int) time.Time {
	return ExcelEpoch.AddDate(0, 0, serial)
}

// ParseExcelSerial accepts integer serials in [ExcelSerialMin, ExcelSerialMax].
func ParseExcelSerial(value string) (int, bool) {
	s := strings.TrimSpace(value)
	if strings.HasSuffix(s, ".0") {
		s = strings.TrimSuffix(s, ".0")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	if n < ExcelSerialMin || n > ExcelSerialMax {
		return 0, false
	}
	return n, true
}

// ParseBool recognises PT/EN true/false tokens.
func ParseBool(value string) (bool, bool) {
	s := strings.ToLower(strings.TrimSpace(value))
	if trueTokens[s] {
		return true, true
	}
	if falseTokens[s] {
		return false, true
	}
	return false, false
}

// IsNull reports whether a raw cell should be treated as missing.
func IsNull(v interface{}) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return nullTokens[strings.ToLower(strings.TrimSpace(t))]
	case float64:
		return math.IsNaN(t)
	}
	return false
}

// ToString renders a raw cell value as text.
func ToString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format(time.RFC3339)
	case []byte:
		return string(t)
	}
	return fmt.Sprint(v)
}

// ToFloat converts a raw cell to a number when possible.
func ToFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		p, ok := ParseNumber(t)
		return p.Value, ok
	}
	return 0, false
}
