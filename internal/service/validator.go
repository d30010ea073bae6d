package service

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"playbook-engine/internal/datatype"
	"playbook-engine/internal/models"
	"playbook-engine/internal/naming"
	"playbook-engine/internal/playbook"
)

const maxSampleValues = 5

// SchemaValidator enriches raw columns with inferred types and canonical names and
// scores a schema against playbooks.
type SchemaValidator struct {
	detector *TypeDetector
	dict     *Dictionary
	logger   *zap.Logger
}

// NewSchemaValidator creates a validator. A nil dictionary uses the embedded one.
func NewSchemaValidator(dict *Dictionary, logger *zap.Logger) *SchemaValidator {
	if dict == nil {
		dict = DefaultDictionary()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaValidator{detector: NewTypeDetector(), dict: dict, logger: logger}
}

// Enrich returns a copy of the schema with type, confidence and names filled in.
// When the schema is empty the columns are taken from the rows.
func (v *SchemaValidator) Enrich(columns []models.Column, rows []models.Row) models.Schema {
	if len(columns) == 0 {
		columns = ColumnsFromRows(rows)
	}
	out := make(models.Schema, len(columns))
	for i, c := range columns {
		values := columnValues(c.Name, rows)
		if len(values) == 0 {
			values = c.SampleValues
		}
		det := v.detector.Detect(values, c.Type)

		c.InferredType = det.InferredType
		c.Confidence = det.Confidence
		c.ParseErrorsPct = det.ParseErrorsPct
		c.IsExcelSerial = det.IsExcelSerial
		c.DecimalSeparator = det.DecimalSeparator
		c.HasNegatives = det.HasNegatives
		c.NormalizedName = naming.Normalize(c.Name)
		c.CanonicalName = v.dict.Canonicalize(c.Name)
		if len(rows) > 0 || len(c.SampleValues) == 0 {
			c.SampleValues = distinctSample(values, maxSampleValues)
		}
		out[i] = c
	}
	return out
}

// ColumnsFromRows lists the keys of the rows, sorted.
func ColumnsFromRows(rows []models.Row) []models.Column {
	seen := map[string]bool{}
	var names []string
	for _, r := range rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	cols := make([]models.Column, len(names))
	for i, n := range names {
		cols[i] = models.Column{Name: n}
	}
	return cols
}

func columnValues(name string, rows []models.Row) []string {
	values := make([]string, 0, len(rows))
	for _, r := range rows {
		v, ok := r[name]
		if !ok || datatype.IsNull(v) {
			continue
		}
		values = append(values, datatype.ToString(v))
	}
	return values
}

func distinctSample(values []string, n int) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range values {
		if datatype.IsNull(v) || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
		if len(out) == n {
			break
		}
	}
	return out
}

// IsCompatible is the acceptance rule: score of at least playbook.AcceptanceMinScore
// and no missing required column.
func IsCompatible(score int, missingRequired []string) bool {
	return score >= playbook.AcceptanceMinScore && len(missingRequired) == 0
}

// Score computes the compatibility of an enriched schema with a playbook:
// round(50*matched/total + 50*typeCorrect/total).
func (v *SchemaValidator) Score(schema models.Schema, p *playbook.Playbook) models.CompatibilityResult {
	res := models.CompatibilityResult{
		PlaybookID:      p.ID,
		MissingRequired: []string{},
		MatchedColumns:  map[string]string{},
		TypeMismatches:  []models.TypeMismatch{},
		Warnings:        []string{},
	}
	required := p.RequiredNames()
	if len(required) == 0 {
		res.Score = 100
		res.Compatible = true
		return res
	}

	used := map[string]bool{}
	matched, typeCorrect := 0, 0
	for _, name := range required {
		want := p.RequiredColumns[name]
		candidates := v.nameCandidates(schema, name, p, used)
		if len(candidates) == 0 {
			res.MissingRequired = append(res.MissingRequired, name)
			continue
		}
		chosen := candidates[0]
		for _, c := range candidates {
			if playbook.TypeCompatible(want, c.InferredType) {
				chosen = c
				break
			}
		}
		used[chosen.Name] = true
		matched++
		res.MatchedColumns[name] = chosen.Name
		if playbook.TypeCompatible(want, chosen.InferredType) {
			typeCorrect++
			if chosen.Confidence < 60 {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("coluna %q detectada como %s com confiança baixa (%d%%)", chosen.Name, chosen.InferredType, chosen.Confidence))
			}
		} else {
			res.TypeMismatches = append(res.TypeMismatches, models.TypeMismatch{
				Column: name, Matched: chosen.Name, Expected: want, Actual: chosen.InferredType,
			})
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("coluna %q encontrada para %q, mas o tipo detectado é %s (esperado %s)", chosen.Name, name, chosen.InferredType, want))
		}
	}

	total := float64(len(required))
	res.Score = int(math.Round(50*float64(matched)/total + 50*float64(typeCorrect)/total))
	res.Compatible = IsCompatible(res.Score, res.MissingRequired)
	return res
}

// ScoreAll scores every playbook and returns the results with an id -> score map.
func (v *SchemaValidator) ScoreAll(schema models.Schema, playbooks []*playbook.Playbook) ([]models.CompatibilityResult, map[string]int) {
	results := make([]models.CompatibilityResult, 0, len(playbooks))
	scores := make(map[string]int, len(playbooks))
	for _, p := range playbooks {
		r := v.Score(schema, p)
		results = append(results, r)
		scores[p.ID] = r.Score
		if !r.Compatible {
			v.logger.Debug("playbook rejected",
				zap.String("playbook", p.ID), zap.Int("score", r.Score), zap.Strings("missing", r.MissingRequired))
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, scores
}

// nameCandidates returns unused columns whose name, normalized name, canonical name
// or a playbook synonym matches the logical column name.
func (v *SchemaValidator) nameCandidates(schema models.Schema, logical string, p *playbook.Playbook, used map[string]bool) []models.Column {
	norm := naming.Normalize(logical)
	canonical := v.dict.Canonicalize(logical)
	synonyms := map[string]bool{}
	for _, s := range p.Synonyms[logical] {
		synonyms[naming.Normalize(s)] = true
	}

	var out []models.Column
	for _, c := range schema {
		if used[c.Name] {
			continue
		}
		switch {
		case strings.EqualFold(strings.TrimSpace(c.Name), logical),
			c.NormalizedName == norm,
			c.CanonicalName == canonical,
			synonyms[c.NormalizedName]:
			out = append(out, c)
		}
	}
	return out
}
