package analysis

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"playbook-engine/internal/models"
	"playbook-engine/internal/playbook"
)

// ExecutionInput is everything the executor needs for one run. Rows must already
// carry the plan's derived columns.
type ExecutionInput struct {
	AnalysisID       string
	Playbook         *playbook.Playbook
	Plan             *models.SemanticPlan
	Schema           models.Schema
	Rows             []models.Row
	ActiveSections   []string
	DerivationErrors []models.RowError
}

// Executor computes metric arrays and runs the queries of every active section.
type Executor struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewExecutor creates an executor. A nil logger discards output.
func NewExecutor(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{logger: logger, now: time.Now}
}

// Execute runs the plan. Unknown aggregation functions and unresolvable names
// produce a warning and a 0 result rather than an error.
func (e *Executor) Execute(in ExecutionInput) *models.StructuredResult {
	started := e.now()
	id := in.AnalysisID
	if id == "" {
		id = uuid.NewString()
	}
	r := &resolver{plan: in.Plan, schema: in.Schema}

	res := &models.StructuredResult{
		Sections:        make(map[string]models.SectionResult, len(in.ActiveSections)),
		ComputedMetrics: map[string]models.ComputedMetric{},
		ExecutionMetadata: models.ExecutionMetadata{
			AnalysisID:       id,
			RowCount:         len(in.Rows),
			DerivedColumns:   []string{},
			DerivationErrors: in.DerivationErrors,
			SectionsExecuted: []string{},
			StartedAt:        started,
		},
	}
	if in.Playbook != nil {
		res.ExecutionMetadata.PlaybookID = in.Playbook.ID
	}

	for _, name := range e.metricNames(in) {
		res.ComputedMetrics[name] = computeMetric(name, in.Rows)
		res.ExecutionMetadata.DerivedColumns = append(res.ExecutionMetadata.DerivedColumns, name)
	}

	minGroup := 0
	if in.Playbook != nil {
		minGroup = in.Playbook.Guardrails.TopBottomMinGroupN
	}
	for _, section := range in.ActiveSections {
		var queries []playbook.Query
		if in.Playbook != nil {
			queries = in.Playbook.Queries(section)
		}
		sr := e.runSection(section, queries, in.Rows, r, minGroup)
		res.Sections[section] = sr
		res.ExecutionMetadata.SectionsExecuted = append(res.ExecutionMetadata.SectionsExecuted, section)
		res.ExecutionMetadata.Warnings = append(res.ExecutionMetadata.Warnings, sr.Warnings...)
	}

	res.ExecutionMetadata.DurationMS = e.now().Sub(started).Milliseconds()
	e.logger.Info("playbook executed",
		zap.String("analysis_id", id),
		zap.String("playbook", res.ExecutionMetadata.PlaybookID),
		zap.Int("rows", len(in.Rows)),
		zap.Strings("sections", res.ExecutionMetadata.SectionsExecuted))
	return res
}

// metricNames lists the derived metrics in dependency order.
func (e *Executor) metricNames(in ExecutionInput) []string {
	if in.Plan == nil {
		return nil
	}
	var names []string
	seen := map[string]bool{}
	if in.Playbook != nil {
		for _, name := range in.Playbook.MetricOrder() {
			if in.Plan.IsDerived(name) {
				names = append(names, name)
				seen[name] = true
			}
		}
	}
	for _, d := range in.Plan.Derivations {
		if !seen[d.Name] {
			names = append(names, d.Name)
		}
	}
	return names
}

func computeMetric(name string, rows []models.Row) models.ComputedMetric {
	m := models.ComputedMetric{Name: name, Values: make([]interface{}, len(rows))}
	for i, r := range rows {
		m.Values[i] = r[name]
	}
	vals := numericValues(rows, name)
	m.NonNull = countNonNull(rows, name)
	if len(vals) > 0 {
		m.Sum = round4(sum(vals))
		m.Mean = round4(sum(vals) / float64(len(vals)))
		m.Min, _ = Aggregate("MIN", vals)
		m.Max, _ = Aggregate("MAX", vals)
	}
	return m
}

func (e *Executor) runSection(section string, queries []playbook.Query, rows []models.Row, r *resolver, minGroup int) models.SectionResult {
	sr := models.SectionResult{
		Name:         section,
		Metrics:      map[string]float64{},
		Aggregations: map[string]models.AggregationResult{},
		Columns:      []string{},
	}
	used := map[string]bool{}
	ranking := playbook.IsRankingSection(section)

	for _, q := range queries {
		for _, name := range q.Columns() {
			for _, c := range r.sourceColumns(name) {
				used[c] = true
			}
		}
		if !q.Known() {
			sr.Warnings = append(sr.Warnings, fmt.Sprintf("função de agregação desconhecida %s em %s", q.Func, q.Raw))
			e.logger.Warn("unknown aggregation function",
				zap.String("section", section), zap.String("func", q.Func), zap.String("query", q.Raw))
			if q.Kind == playbook.QueryGrouped {
				sr.Aggregations[q.Key()] = models.AggregationResult{Function: q.Func, Dimension: q.Dimension, Metric: q.Metric, Groups: []models.GroupResult{}}
			} else {
				sr.Metrics[q.Key()] = 0
			}
			continue
		}
		switch q.Kind {
		case playbook.QueryGrouped:
			agg, warn := runGrouped(q, rows, r, ranking, minGroup)
			if warn != "" {
				sr.Warnings = append(sr.Warnings, warn)
			}
			sr.Aggregations[q.Key()] = agg
		default:
			v, warn := runSimple(q, rows, r)
			if warn != "" {
				sr.Warnings = append(sr.Warnings, warn)
			}
			sr.Metrics[q.Key()] = v
		}
	}
	for c := range used {
		sr.Columns = append(sr.Columns, c)
	}
	sort.Strings(sr.Columns)
	return sr
}

func runSimple(q playbook.Query, rows []models.Row, r *resolver) (float64, string) {
	if q.Arg == "*" {
		return float64(len(rows)), ""
	}
	col, ok := r.column(q.Arg)
	if !ok {
		return 0, fmt.Sprintf("%s: nome %q não resolvido", q.Raw, q.Arg)
	}
	if q.Func == "COUNT" {
		return float64(countNonNull(rows, col)), ""
	}
	v, _ := Aggregate(q.Func, numericValues(rows, col))
	return round4(v), ""
}

func runGrouped(q playbook.Query, rows []models.Row, r *resolver, ranking bool, minGroup int) (models.AggregationResult, string) {
	agg := models.AggregationResult{Function: q.Func, Dimension: q.Dimension, Metric: q.Metric, Groups: []models.GroupResult{}}
	dimCol, ok := r.column(q.Dimension)
	if !ok {
		return agg, fmt.Sprintf("%s: dimensão %q não resolvida", q.Raw, q.Dimension)
	}
	metricCol := ""
	if q.Metric != "*" {
		if metricCol, ok = r.column(q.Metric); !ok {
			return agg, fmt.Sprintf("%s: métrica %q não resolvida", q.Raw, q.Metric)
		}
	}
	dim := r.describe(dimCol)

	for _, g := range groupRows(rows, dim) {
		if ranking && minGroup > 0 && len(g.rows) < minGroup {
			agg.Dropped++
			continue
		}
		var v float64
		switch {
		case metricCol == "":
			v = float64(len(g.rows))
		case q.Func == "COUNT":
			v = float64(countNonNull(g.rows, metricCol))
		default:
			v, _ = Aggregate(q.Func, numericValues(g.rows, metricCol))
		}
		agg.Groups = append(agg.Groups, models.GroupResult{Key: g.key, Value: round4(v), Count: len(g.rows)})
	}
	sortGroups(agg.Groups)
	return agg, ""
}

// resolver turns the names used in section queries into row keys: a derived
// metric first, then a mapped logical column, then a raw dataset column.
type resolver struct {
	plan   *models.SemanticPlan
	schema models.Schema
}

func (r *resolver) column(name string) (string, bool) {
	if r.plan != nil {
		if r.plan.IsDerived(name) {
			return name, true
		}
		if actual, ok := r.plan.Resolve(name); ok {
			return actual, true
		}
	}
	if r.schema.Has(name) {
		return name, true
	}
	return "", false
}

// describe returns the schema column, or a synthetic one for derived metrics.
func (r *resolver) describe(name string) models.Column {
	if c, ok := r.schema.Find(name); ok && c.Name == name {
		return c
	}
	if r.plan != nil {
		for _, d := range r.plan.Derivations {
			if d.Name == name {
				return models.Column{Name: name, InferredType: d.Type}
			}
		}
	}
	return models.Column{Name: name, InferredType: models.TypeText}
}

// sourceColumns expands a query name into the dataset columns it is computed
// from, following derivation dependencies.
func (r *resolver) sourceColumns(name string) []string {
	col, ok := r.column(name)
	if !ok {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	var walk func(string)
	walk = func(n string) {
		if seen[n] {
			return
		}
		seen[n] = true
		if r.plan != nil {
			for _, d := range r.plan.Derivations {
				if d.Name == n {
					for _, dep := range d.Dependencies {
						walk(dep)
					}
					return
				}
			}
		}
		if r.schema.Has(n) {
			out = append(out, n)
		}
	}
	walk(col)
	return out
}
